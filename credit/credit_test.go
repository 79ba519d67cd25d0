package credit_test

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"charterbooks/reconciler/credit"
	"charterbooks/reconciler/ledger"
	"charterbooks/reconciler/ledger/model"
	"charterbooks/reconciler/money"
)

func newTestStore(t *testing.T) *ledger.Store {
	t.Helper()
	store, err := ledger.Open(context.Background(), filepath.Join(t.TempDir(), "ledger.db"))
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	return store
}

func newManager(t *testing.T) (*credit.Manager, *ledger.Store) {
	t.Helper()
	store := newTestStore(t)
	return credit.New(store, "tester", "run-1"), store
}

func mustParse(t *testing.T, s string) money.Money {
	t.Helper()
	m, err := money.Parse(s)
	if err != nil {
		t.Fatalf("parse %q: %v", s, err)
	}
	return m
}

func TestCreateCredit_Idempotent(t *testing.T) {
	ctx := context.Background()
	mgr, store := newManager(t)
	amount := mustParse(t, "350.00")

	id1, created, err := mgr.CreateCredit(ctx, "RES-0099-cancellation", amount, model.ReasonCancelledDeposit)
	if err != nil {
		t.Fatalf("first create failed: %v", err)
	}
	if !created {
		t.Error("expected first call to create the entry")
	}

	id2, created, err := mgr.CreateCredit(ctx, "RES-0099-cancellation", amount, model.ReasonCancelledDeposit)
	if err != nil {
		t.Fatalf("second create failed: %v", err)
	}
	if created || id1 != id2 {
		t.Errorf("expected the existing id %s without create, got %s created=%v", id1, id2, created)
	}

	entry, err := store.CreditEntryByID(ctx, id1)
	if err != nil {
		t.Fatalf("load entry: %v", err)
	}
	if entry.RemainingCents != 35000 {
		t.Errorf("expected 35000 remaining, got %d", entry.RemainingCents)
	}
}

func TestCreateCredit_RejectsNonPositiveAmount(t *testing.T) {
	ctx := context.Background()
	mgr, _ := newManager(t)

	if _, _, err := mgr.CreateCredit(ctx, "RES-0099", money.FromCents(0), model.ReasonOverpayment); !errors.Is(err, money.ErrInvalidAmount) {
		t.Errorf("expected ErrInvalidAmount for zero, got %v", err)
	}
	if _, _, err := mgr.CreateCredit(ctx, "RES-0099", money.FromCents(-500), model.ReasonOverpayment); !errors.Is(err, money.ErrInvalidAmount) {
		t.Errorf("expected ErrInvalidAmount for negative, got %v", err)
	}
}

func TestApplyCredit_DecrementsAndPaysReservation(t *testing.T) {
	ctx := context.Background()
	mgr, store := newManager(t)

	reservation := "RES-0100"
	if err := store.SaveReservation(ctx, &model.Reservation{ID: reservation, Status: model.ReservationActive}); err != nil {
		t.Fatalf("save reservation: %v", err)
	}
	charge := model.Charge{
		ReservationID: &reservation,
		AmountCents:   50000,
		Date:          time.Date(2025, time.March, 1, 0, 0, 0, 0, time.UTC),
	}
	if _, _, err := store.InsertChargeIfAbsent(ctx, &charge); err != nil {
		t.Fatalf("insert charge: %v", err)
	}

	entryID, _, err := mgr.CreateCredit(ctx, "RES-0099-cancellation", mustParse(t, "350.00"), model.ReasonCancelledDeposit)
	if err != nil {
		t.Fatalf("create credit: %v", err)
	}

	if err := mgr.ApplyCredit(ctx, entryID, reservation, mustParse(t, "200.00")); err != nil {
		t.Fatalf("apply failed: %v", err)
	}

	entry, err := store.CreditEntryByID(ctx, entryID)
	if err != nil {
		t.Fatalf("load entry: %v", err)
	}
	if entry.RemainingCents != 15000 {
		t.Errorf("expected 15000 remaining, got %d", entry.RemainingCents)
	}
	if entry.AppliedAt == nil {
		t.Error("expected AppliedAt to be stamped")
	}

	res, err := store.ReservationByID(ctx, reservation)
	if err != nil {
		t.Fatalf("load reservation: %v", err)
	}
	if res.PaidCents != 20000 || res.BalanceCents != 30000 {
		t.Errorf("reservation not recomputed: paid=%d balance=%d", res.PaidCents, res.BalanceCents)
	}
}

func TestApplyCredit_SameAmountTwiceIsTwoApplications(t *testing.T) {
	ctx := context.Background()
	mgr, store := newManager(t)

	reservation := "RES-0100"
	if err := store.SaveReservation(ctx, &model.Reservation{ID: reservation, Status: model.ReservationActive}); err != nil {
		t.Fatalf("save reservation: %v", err)
	}
	charge := model.Charge{
		ReservationID: &reservation,
		AmountCents:   50000,
		Date:          time.Date(2025, time.March, 1, 0, 0, 0, 0, time.UTC),
	}
	if _, _, err := store.InsertChargeIfAbsent(ctx, &charge); err != nil {
		t.Fatalf("insert charge: %v", err)
	}

	entryID, _, err := mgr.CreateCredit(ctx, "RES-0099-cancellation", mustParse(t, "200.00"), model.ReasonCancelledDeposit)
	if err != nil {
		t.Fatalf("create credit: %v", err)
	}

	if err := mgr.ApplyCredit(ctx, entryID, reservation, mustParse(t, "50.00")); err != nil {
		t.Fatalf("first apply failed: %v", err)
	}
	if err := mgr.ApplyCredit(ctx, entryID, reservation, mustParse(t, "50.00")); err != nil {
		t.Fatalf("second apply failed: %v", err)
	}

	// What the entry gave up must equal what the reservation received:
	// two separate applications, two payment rows.
	entry, err := store.CreditEntryByID(ctx, entryID)
	if err != nil {
		t.Fatalf("load entry: %v", err)
	}
	if entry.RemainingCents != 10000 {
		t.Errorf("expected 10000 remaining after two applications, got %d", entry.RemainingCents)
	}
	res, err := store.ReservationByID(ctx, reservation)
	if err != nil {
		t.Fatalf("load reservation: %v", err)
	}
	if res.PaidCents != 10000 {
		t.Errorf("entry gave up %d cents but reservation received %d", 20000-entry.RemainingCents, res.PaidCents)
	}
	if res.BalanceCents != 40000 {
		t.Errorf("expected 40000 balance, got %d", res.BalanceCents)
	}
}

func TestApplyCredit_InsufficientRemaining(t *testing.T) {
	ctx := context.Background()
	mgr, store := newManager(t)

	reservation := "RES-0100"
	if err := store.SaveReservation(ctx, &model.Reservation{ID: reservation, Status: model.ReservationActive}); err != nil {
		t.Fatalf("save reservation: %v", err)
	}
	entryID, _, err := mgr.CreateCredit(ctx, "RES-0099", mustParse(t, "100.00"), model.ReasonOverpayment)
	if err != nil {
		t.Fatalf("create credit: %v", err)
	}

	err = mgr.ApplyCredit(ctx, entryID, reservation, mustParse(t, "100.01"))
	if !errors.Is(err, credit.ErrInsufficientCredit) {
		t.Fatalf("expected ErrInsufficientCredit, got %v", err)
	}

	// The failed application rolled back everything: remaining intact,
	// no payment row written.
	entry, err := store.CreditEntryByID(ctx, entryID)
	if err != nil {
		t.Fatalf("load entry: %v", err)
	}
	if entry.RemainingCents != 10000 {
		t.Errorf("remaining changed on failure: %d", entry.RemainingCents)
	}
	res, err := store.ReservationByID(ctx, reservation)
	if err != nil {
		t.Fatalf("load reservation: %v", err)
	}
	if res.PaidCents != 0 {
		t.Errorf("failed apply still paid the reservation: %d", res.PaidCents)
	}
}

func TestApplyCredit_ExhaustsToZeroNeverNegative(t *testing.T) {
	ctx := context.Background()
	mgr, store := newManager(t)

	reservation := "RES-0100"
	if err := store.SaveReservation(ctx, &model.Reservation{ID: reservation, Status: model.ReservationActive}); err != nil {
		t.Fatalf("save reservation: %v", err)
	}
	entryID, _, err := mgr.CreateCredit(ctx, "RES-0099", mustParse(t, "100.00"), model.ReasonOverpayment)
	if err != nil {
		t.Fatalf("create credit: %v", err)
	}

	if err := mgr.ApplyCredit(ctx, entryID, reservation, mustParse(t, "100.00")); err != nil {
		t.Fatalf("apply failed: %v", err)
	}
	entry, err := store.CreditEntryByID(ctx, entryID)
	if err != nil {
		t.Fatalf("load entry: %v", err)
	}
	if entry.RemainingCents != 0 {
		t.Fatalf("expected exhausted entry, got %d remaining", entry.RemainingCents)
	}

	// Any further application fails outright.
	if err := mgr.ApplyCredit(ctx, entryID, reservation, mustParse(t, "0.01")); !errors.Is(err, credit.ErrInsufficientCredit) {
		t.Errorf("expected ErrInsufficientCredit on exhausted entry, got %v", err)
	}
}

func TestWriteOff_AdjustsRevenueNotHistory(t *testing.T) {
	ctx := context.Background()
	mgr, store := newManager(t)

	reservation := "RES-0101"
	if err := store.SaveReservation(ctx, &model.Reservation{ID: reservation, Status: model.ReservationCancelled}); err != nil {
		t.Fatalf("save reservation: %v", err)
	}
	charge := model.Charge{
		ReservationID: &reservation,
		AmountCents:   250000,
		Date:          time.Date(2025, time.March, 1, 0, 0, 0, 0, time.UTC),
	}
	if _, _, err := store.InsertChargeIfAbsent(ctx, &charge); err != nil {
		t.Fatalf("insert charge: %v", err)
	}
	payment := model.Payment{
		ReservationID: &reservation,
		AmountCents:   100000,
		Date:          time.Date(2025, time.March, 2, 0, 0, 0, 0, time.UTC),
	}
	if _, _, err := store.InsertPaymentIfAbsent(ctx, &payment); err != nil {
		t.Fatalf("insert payment: %v", err)
	}
	if err := store.RecomputeReservationBalance(ctx, reservation); err != nil {
		t.Fatalf("recompute: %v", err)
	}

	if err := mgr.WriteOff(ctx, reservation, time.Date(2025, time.June, 30, 0, 0, 0, 0, time.UTC)); err != nil {
		t.Fatalf("write-off failed: %v", err)
	}

	res, err := store.ReservationByID(ctx, reservation)
	if err != nil {
		t.Fatalf("load reservation: %v", err)
	}
	if res.TotalDueCents != 100000 || res.BalanceCents != 0 {
		t.Errorf("unexpected post-write-off state: due=%d balance=%d", res.TotalDueCents, res.BalanceCents)
	}
	if res.PaidCents != 100000 {
		t.Errorf("payment history changed: paid=%d", res.PaidCents)
	}

	// The original amount survives in the audit trail.
	trail, err := store.AuditTrail(ctx, "reservation", reservation)
	if err != nil {
		t.Fatalf("audit trail: %v", err)
	}
	if len(trail) != 1 || trail[0].Action != "write-off" {
		t.Fatalf("expected one write-off event, got %+v", trail)
	}
}

func TestWriteOff_NoOpWhenConsistent(t *testing.T) {
	ctx := context.Background()
	mgr, store := newManager(t)

	reservation := "RES-0102"
	if err := store.SaveReservation(ctx, &model.Reservation{
		ID:            reservation,
		Status:        model.ReservationActive,
		TotalDueCents: 50000,
		PaidCents:     50000,
		BalanceCents:  0,
	}); err != nil {
		t.Fatalf("save reservation: %v", err)
	}

	if err := mgr.WriteOff(ctx, reservation, time.Now().UTC()); err != nil {
		t.Fatalf("write-off failed: %v", err)
	}

	trail, err := store.AuditTrail(ctx, "reservation", reservation)
	if err != nil {
		t.Fatalf("audit trail: %v", err)
	}
	if len(trail) != 0 {
		t.Errorf("no-op write-off left audit events: %+v", trail)
	}
}
