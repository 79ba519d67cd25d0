// Package credit maintains the side-ledger of money that cannot be
// reconciled to a specific charge: retained deposits, overpayments,
// duplicate reversals and uncollectible write-offs. The manager
// enforces the bookkeeping mechanics; whether a reservation is
// *eligible* for a write-off is the caller's policy decision.
package credit

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"

	"charterbooks/reconciler/appcontext"
	"charterbooks/reconciler/ledger"
	"charterbooks/reconciler/ledger/model"
	"charterbooks/reconciler/money"
)

// ErrInsufficientCredit means an application asked for more than the
// entry has remaining.
var ErrInsufficientCredit = errors.New("insufficient credit remaining")

// InsufficientCreditError wraps ErrInsufficientCredit with amounts.
func InsufficientCreditError(requested, remaining money.Money) error {
	return fmt.Errorf("%w, requested %s of %s remaining", ErrInsufficientCredit, requested, remaining)
}

// Manager mutates the credit ledger through the store.
type Manager struct {
	store *ledger.Store
	actor string
	runID string
}

// New creates a Manager.
func New(store *ledger.Store, actor, runID string) *Manager {
	return &Manager{store: store, actor: actor, runID: runID}
}

// CreateCredit opens a credit ledger entry for unapplied money. It is
// idempotent on the (source, amount, reason) triple: a second call
// returns the existing entry id with created=false.
func (m *Manager) CreateCredit(ctx context.Context, source string, amount money.Money, reason string) (string, bool, error) {
	logger := appcontext.LoggerFromContext(ctx)

	if amount.Sign() <= 0 {
		return "", false, money.InvalidAmountError(amount.String())
	}

	entry := &model.CreditEntry{
		SourceRef:      source,
		AmountCents:    amount.Cents(),
		Reason:         reason,
		RemainingCents: amount.Cents(),
	}

	var id string
	var created bool
	err := m.store.WithTransaction(ctx, func(tx *ledger.Store) error {
		var err error
		id, created, err = tx.InsertCreditIfAbsent(ctx, entry)
		if err != nil {
			return err
		}
		if !created {
			return nil
		}
		return tx.AppendAudit(ctx, &model.AuditEvent{
			RunID:      m.runID,
			Actor:      m.actor,
			Action:     "create-credit",
			EntityKind: "credit",
			EntityID:   id,
			Note:       fmt.Sprintf("credit %s opened for %s (%s)", amount, source, reason),
		})
	})
	if err != nil {
		return "", false, err
	}

	logger.InfoContext(ctx, "Credit entry", "id", id, "created", created, "source", source, "amount", amount.String(), "reason", reason)
	return id, created, nil
}

// ApplyCredit applies part of a credit entry to a reservation: the
// entry's remaining amount decreases, the reservation's paid amount
// grows through a payment row so the aggregate stays recomputable.
// Fails with ErrInsufficientCredit when amount exceeds remaining;
// remaining never goes negative.
func (m *Manager) ApplyCredit(ctx context.Context, entryID, reservationID string, amount money.Money) error {
	logger := appcontext.LoggerFromContext(ctx)

	if amount.Sign() <= 0 {
		return money.InvalidAmountError(amount.String())
	}

	err := m.store.WithTransaction(ctx, func(tx *ledger.Store) error {
		entry, err := tx.CreditEntryByID(ctx, entryID)
		if err != nil {
			return err
		}
		remaining := money.FromCents(entry.RemainingCents)
		if amount.Cmp(remaining) > 0 {
			return InsufficientCreditError(amount, remaining)
		}

		now := time.Now().UTC()
		entry.RemainingCents = remaining.Sub(amount).Cents()
		entry.AppliedAt = &now
		if err := tx.SaveCreditEntry(ctx, entry); err != nil {
			return err
		}

		// The application lands as a payment row: payment history is
		// the source of truth the reservation recompute reads. Each
		// application carries its own id so that applying the same
		// amount twice produces two payment rows, not a silent no-op
		// against an already-decremented entry.
		applicationID := uuid.NewString()
		payment := &model.Payment{
			ReservationID: &reservationID,
			AmountCents:   amount.Cents(),
			Date:          now,
			Method:        "credit",
			Notes:         fmt.Sprintf("applied from credit %s", entryID),
			SourceSystem:  "credit-ledger",
			ExternalKey:   fmt.Sprintf("%s:%s", entryID, applicationID),
			MatchStatus:   model.StatusApplied,
		}
		if _, created, err := tx.InsertPaymentIfAbsent(ctx, payment); err != nil {
			return err
		} else if !created {
			return fmt.Errorf("credit application %s collided with an existing payment", applicationID)
		}

		if err := tx.RecomputeReservationBalance(ctx, reservationID); err != nil {
			return err
		}

		return tx.AppendAudit(ctx, &model.AuditEvent{
			RunID:      m.runID,
			Actor:      m.actor,
			Action:     "apply-credit",
			EntityKind: "credit",
			EntityID:   entryID,
			Note: fmt.Sprintf("applied %s to reservation %s, %s remaining",
				amount, reservationID, money.FromCents(entry.RemainingCents)),
			Metadata: datatypes.JSON(fmt.Sprintf(`{"reservation":%q,"cents":%d}`, reservationID, amount.Cents())),
		})
	})
	if err != nil {
		return err
	}

	logger.InfoContext(ctx, "Credit applied", "entry", entryID, "reservation", reservationID, "amount", amount.String())
	return nil
}

// WriteOff adjusts recognized revenue on a reservation down to what was
// actually collected: total due becomes the paid amount and the balance
// zero. Payment history is never touched; the original due amount is
// preserved in the audit note. Writing off an already-consistent
// reservation is a no-op that still succeeds.
func (m *Manager) WriteOff(ctx context.Context, reservationID string, asOf time.Time) error {
	logger := appcontext.LoggerFromContext(ctx)

	err := m.store.WithTransaction(ctx, func(tx *ledger.Store) error {
		r, err := tx.ReservationByID(ctx, reservationID)
		if err != nil {
			return err
		}

		if r.TotalDueCents == r.PaidCents && r.BalanceCents == 0 {
			// Already consistent, nothing to adjust.
			return nil
		}

		originalDue := money.FromCents(r.TotalDueCents)
		r.TotalDueCents = r.PaidCents
		r.BalanceCents = 0
		if err := tx.SaveReservation(ctx, r); err != nil {
			return err
		}

		return tx.AppendAudit(ctx, &model.AuditEvent{
			RunID:      m.runID,
			Actor:      m.actor,
			Action:     "write-off",
			EntityKind: "reservation",
			EntityID:   reservationID,
			Note: fmt.Sprintf("wrote off as of %s: original due %s, collected %s",
				asOf.Format("2006-01-02"), originalDue, money.FromCents(r.PaidCents)),
			Metadata: datatypes.JSON(fmt.Sprintf(`{"original_due_cents":%d}`, originalDue.Cents())),
		})
	})
	if err != nil {
		return err
	}

	logger.InfoContext(ctx, "Write-off processed", "reservation", reservationID)
	return nil
}
