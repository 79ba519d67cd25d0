package match_test

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"charterbooks/reconciler/ledger"
	"charterbooks/reconciler/ledger/model"
	"charterbooks/reconciler/match"
)

func newTestStore(t *testing.T) *ledger.Store {
	t.Helper()
	store, err := ledger.Open(context.Background(), filepath.Join(t.TempDir(), "ledger.db"))
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	return store
}

func day(d int) time.Time {
	return time.Date(2025, time.March, d, 0, 0, 0, 0, time.UTC)
}

func march() ledger.DateRange {
	return ledger.DateRange{From: day(1), To: day(31)}
}

func seedReservation(t *testing.T, store *ledger.Store, id string, dueCents int64) {
	t.Helper()
	ctx := context.Background()
	if err := store.SaveReservation(ctx, &model.Reservation{ID: id, Status: model.ReservationActive}); err != nil {
		t.Fatalf("save reservation: %v", err)
	}
	charge := model.Charge{ReservationID: &id, AmountCents: dueCents, Date: day(1), Description: "charter fee"}
	if _, _, err := store.InsertChargeIfAbsent(ctx, &charge); err != nil {
		t.Fatalf("insert charge: %v", err)
	}
}

func TestRun_AppliesExactMatch(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	seedReservation(t, store, "RES-0001", 250000)

	reservation := "RES-0001"
	payment := model.Payment{
		ReservationID: &reservation,
		AmountCents:   120050,
		Date:          day(3),
		Notes:         "Deposit for RES-0001",
	}
	payID, _, err := store.InsertPaymentIfAbsent(ctx, &payment)
	if err != nil {
		t.Fatalf("insert payment: %v", err)
	}
	txn := model.BankTransaction{
		AccountID:   "3581",
		Date:        day(3),
		CreditCents: 120050,
		Description: "DIRECT CREDIT RES-0001 CHARTER DEPOSIT",
	}
	txnID, _, err := store.InsertTransactionIfAbsent(ctx, &txn)
	if err != nil {
		t.Fatalf("insert txn: %v", err)
	}

	engine := match.New(store, match.DefaultConfig())
	result, err := engine.Run(ctx, march())
	if err != nil {
		t.Fatalf("run failed: %v", err)
	}

	// The charge has no debit-side candidate, so one proposal only.
	var proposal *match.Proposal
	for i := range result.Proposals {
		if result.Proposals[i].Kind == "payment" {
			proposal = &result.Proposals[i]
		}
	}
	if proposal == nil {
		t.Fatalf("expected a payment proposal, got %+v", result.Proposals)
	}
	if proposal.TransactionID != txnID || proposal.Tier != "high" {
		t.Errorf("unexpected proposal: %+v", proposal)
	}
	if result.Report.Applied != 1 {
		t.Errorf("expected 1 applied, got %d", result.Report.Applied)
	}

	linked, err := store.PaymentByID(ctx, payID)
	if err != nil {
		t.Fatalf("load payment: %v", err)
	}
	if linked.MatchStatus != model.StatusApplied || linked.MatchedTransactionID == nil || *linked.MatchedTransactionID != txnID {
		t.Errorf("payment not linked: %+v", linked)
	}

	res, err := store.ReservationByID(ctx, reservation)
	if err != nil {
		t.Fatalf("load reservation: %v", err)
	}
	if res.PaidCents != 120050 || res.BalanceCents != 129950 {
		t.Errorf("reservation not recomputed: paid=%d balance=%d", res.PaidCents, res.BalanceCents)
	}
}

func TestRun_DryRunWritesNothing(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	payment := model.Payment{AmountCents: 120050, Date: day(3), Notes: "deposit"}
	payID, _, err := store.InsertPaymentIfAbsent(ctx, &payment)
	if err != nil {
		t.Fatalf("insert payment: %v", err)
	}
	txn := model.BankTransaction{AccountID: "3581", Date: day(3), CreditCents: 120050}
	if _, _, err = store.InsertTransactionIfAbsent(ctx, &txn); err != nil {
		t.Fatalf("insert txn: %v", err)
	}

	cfg := match.DefaultConfig()
	cfg.DryRun = true
	result, err := match.New(store, cfg).Run(ctx, march())
	if err != nil {
		t.Fatalf("run failed: %v", err)
	}
	if len(result.Proposals) != 1 {
		t.Fatalf("expected 1 proposal, got %d", len(result.Proposals))
	}
	if result.Report.Applied != 0 {
		t.Errorf("dry run applied %d matches", result.Report.Applied)
	}

	after, err := store.PaymentByID(ctx, payID)
	if err != nil {
		t.Fatalf("load payment: %v", err)
	}
	if after.MatchStatus != model.StatusUnmatched || after.MatchedTransactionID != nil {
		t.Errorf("dry run mutated the payment: %+v", after)
	}
}

func TestRun_MediumTierFlaggedByDefault(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	// 30-cent delta (near, 30) plus two days apart (close, 20) lands at
	// exactly 50: medium tier, flagged but never auto-applied.
	payment := model.Payment{AmountCents: 120050, Date: day(3), Notes: "deposit"}
	payID, _, err := store.InsertPaymentIfAbsent(ctx, &payment)
	if err != nil {
		t.Fatalf("insert payment: %v", err)
	}
	txn := model.BankTransaction{AccountID: "3581", Date: day(5), CreditCents: 120080}
	if _, _, err = store.InsertTransactionIfAbsent(ctx, &txn); err != nil {
		t.Fatalf("insert txn: %v", err)
	}

	result, err := match.New(store, match.DefaultConfig()).Run(ctx, march())
	if err != nil {
		t.Fatalf("run failed: %v", err)
	}
	if len(result.Proposals) != 1 || result.Proposals[0].Tier != "medium" {
		t.Fatalf("expected one medium proposal, got %+v", result.Proposals)
	}
	if result.Report.Applied != 0 || result.Report.Flagged != 1 {
		t.Errorf("expected flag-only, got applied=%d flagged=%d", result.Report.Applied, result.Report.Flagged)
	}

	after, err := store.PaymentByID(ctx, payID)
	if err != nil {
		t.Fatalf("load payment: %v", err)
	}
	if after.MatchStatus != model.StatusCandidateFound {
		t.Errorf("expected CANDIDATE_FOUND, got %s", after.MatchStatus)
	}

	// Opting in applies it on the next run.
	cfg := match.DefaultConfig()
	cfg.ApplyMedium = true
	result, err = match.New(store, cfg).Run(ctx, march())
	if err != nil {
		t.Fatalf("second run failed: %v", err)
	}
	if result.Report.Applied != 1 {
		t.Errorf("expected medium proposal to apply, got %d", result.Report.Applied)
	}
}

func TestRun_DeterministicClaiming(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	// Two equal payments compete for one statement line: the earlier
	// record wins, the other stays unmatched. Every run agrees.
	p1 := model.Payment{AmountCents: 120050, Date: day(3), Notes: "first"}
	id1, _, err := store.InsertPaymentIfAbsent(ctx, &p1)
	if err != nil {
		t.Fatalf("insert p1: %v", err)
	}
	p2 := model.Payment{AmountCents: 120050, Date: day(3), Notes: "second"}
	if _, _, err = store.InsertPaymentIfAbsent(ctx, &p2); err != nil {
		t.Fatalf("insert p2: %v", err)
	}
	txn := model.BankTransaction{AccountID: "3581", Date: day(3), CreditCents: 120050}
	if _, _, err = store.InsertTransactionIfAbsent(ctx, &txn); err != nil {
		t.Fatalf("insert txn: %v", err)
	}

	cfg := match.DefaultConfig()
	cfg.DryRun = true
	for run := 0; run < 5; run++ {
		result, err := match.New(store, cfg).Run(ctx, march())
		if err != nil {
			t.Fatalf("run %d failed: %v", run, err)
		}
		if len(result.Proposals) != 1 {
			t.Fatalf("run %d: expected 1 proposal, got %d", run, len(result.Proposals))
		}
		if result.Proposals[0].RecordID != id1 {
			t.Errorf("run %d: expected payment %d to win, got %d", run, id1, result.Proposals[0].RecordID)
		}
		if result.Report.Unmatched != 1 {
			t.Errorf("run %d: expected 1 unmatched, got %d", run, result.Report.Unmatched)
		}
	}
}

func TestRun_LimitStagesRollout(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	for i := 0; i < 3; i++ {
		payment := model.Payment{AmountCents: int64(100000 + i*1000), Date: day(3 + i)}
		if _, _, err := store.InsertPaymentIfAbsent(ctx, &payment); err != nil {
			t.Fatalf("insert payment: %v", err)
		}
		txn := model.BankTransaction{AccountID: "3581", Date: day(3 + i), CreditCents: int64(100000 + i*1000)}
		if _, _, err := store.InsertTransactionIfAbsent(ctx, &txn); err != nil {
			t.Fatalf("insert txn: %v", err)
		}
	}

	cfg := match.DefaultConfig()
	cfg.Limit = 2
	result, err := match.New(store, cfg).Run(ctx, march())
	if err != nil {
		t.Fatalf("run failed: %v", err)
	}
	if result.Report.Applied != 2 {
		t.Errorf("expected 2 applied under limit, got %d", result.Report.Applied)
	}
	if result.Report.Flagged != 1 {
		t.Errorf("expected the third proposal flagged, got %d", result.Report.Flagged)
	}
}

func TestRun_Rerunnable(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	payment := model.Payment{AmountCents: 120050, Date: day(3)}
	if _, _, err := store.InsertPaymentIfAbsent(ctx, &payment); err != nil {
		t.Fatalf("insert payment: %v", err)
	}
	txn := model.BankTransaction{AccountID: "3581", Date: day(3), CreditCents: 120050}
	if _, _, err := store.InsertTransactionIfAbsent(ctx, &txn); err != nil {
		t.Fatalf("insert txn: %v", err)
	}

	engine := match.New(store, match.DefaultConfig())
	first, err := engine.Run(ctx, march())
	if err != nil {
		t.Fatalf("first run failed: %v", err)
	}
	if first.Report.Applied != 1 {
		t.Fatalf("expected 1 applied, got %d", first.Report.Applied)
	}

	second, err := engine.Run(ctx, march())
	if err != nil {
		t.Fatalf("second run failed: %v", err)
	}
	if second.Report.Applied != 0 || len(second.Proposals) != 0 {
		t.Errorf("second run should be a no-op: applied=%d proposals=%d",
			second.Report.Applied, len(second.Proposals))
	}
}
