package ledger

import (
	"context"
	"fmt"
	"time"

	"charterbooks/reconciler/ledger/model"
)

// Side selects which half of a bank-statement line a candidate query
// looks at.
type Side string

const (
	// CreditSide rows are money arriving in the account (payments in).
	CreditSide Side = "credit"
	// DebitSide rows are money leaving the account (charges out).
	DebitSide Side = "debit"
)

// DateRange is one inclusive scan chunk.
type DateRange struct {
	From time.Time
	To   time.Time
}

// DateChunks splits [from, to] into consecutive ranges of at most days
// days each, so a failed chunk only forces a re-run of what remains.
func DateChunks(from, to time.Time, days int) []DateRange {
	if days <= 0 || !from.Before(to) {
		return []DateRange{{From: from, To: to}}
	}

	var chunks []DateRange
	for start := from; !start.After(to); {
		end := start.AddDate(0, 0, days-1)
		if end.After(to) {
			end = to
		}
		chunks = append(chunks, DateRange{From: start, To: end})
		start = end.AddDate(0, 0, 1)
	}
	return chunks
}

// UnmatchedPayments returns payments still awaiting a bank-transaction
// link inside the date range, ordered by (date, id) for deterministic
// processing.
func (s *Store) UnmatchedPayments(ctx context.Context, rng DateRange) ([]model.Payment, error) {
	var payments []model.Payment
	err := s.db.WithContext(ctx).
		Where("match_status IN ?", []model.MatchStatus{model.StatusUnmatched, model.StatusCandidateFound}).
		Where("date >= ? AND date <= ?", rng.From, rng.To).
		Order("date, id").
		Find(&payments).Error
	if err != nil {
		return nil, fmt.Errorf("failed to scan unmatched payments: %w", err)
	}
	return payments, nil
}

// UnmatchedCharges returns charges still awaiting a bank-transaction
// link inside the date range, ordered by (date, id).
func (s *Store) UnmatchedCharges(ctx context.Context, rng DateRange) ([]model.Charge, error) {
	var charges []model.Charge
	err := s.db.WithContext(ctx).
		Where("match_status IN ?", []model.MatchStatus{model.StatusUnmatched, model.StatusCandidateFound}).
		Where("date >= ? AND date <= ?", rng.From, rng.To).
		Order("date, id").
		Find(&charges).Error
	if err != nil {
		return nil, fmt.Errorf("failed to scan unmatched charges: %w", err)
	}
	return charges, nil
}

// CandidateTransactions returns unlinked bank transactions on the given
// side whose amount lies within toleranceCents of amountCents and whose
// date lies within windowDays of center. Results are ordered by (date,
// id) so repeated runs see candidates identically.
func (s *Store) CandidateTransactions(
	ctx context.Context,
	side Side,
	amountCents int64,
	toleranceCents int64,
	center time.Time,
	windowDays int,
) ([]model.BankTransaction, error) {
	from := center.AddDate(0, 0, -windowDays)
	to := center.AddDate(0, 0, windowDays)

	q := s.db.WithContext(ctx).
		Where("matched_payment_id IS NULL AND matched_charge_id IS NULL").
		Where("date >= ? AND date <= ?", from, to)

	switch side {
	case CreditSide:
		q = q.Where("credit_cents BETWEEN ? AND ?", amountCents-toleranceCents, amountCents+toleranceCents)
	case DebitSide:
		q = q.Where("debit_cents BETWEEN ? AND ?", amountCents-toleranceCents, amountCents+toleranceCents)
	default:
		return nil, fmt.Errorf("unknown candidate side %q", side)
	}

	var candidates []model.BankTransaction
	if err := q.Order("date, id").Find(&candidates).Error; err != nil {
		return nil, fmt.Errorf("failed to query candidate transactions: %w", err)
	}
	return candidates, nil
}

// AccountTransactions returns every transaction of one account inside
// the range in (date, insertion-order) replay sequence.
func (s *Store) AccountTransactions(ctx context.Context, accountID string, rng DateRange) ([]model.BankTransaction, error) {
	var txns []model.BankTransaction
	err := s.db.WithContext(ctx).
		Where("account_id = ?", accountID).
		Where("date >= ? AND date <= ?", rng.From, rng.To).
		Order("date, id").
		Find(&txns).Error
	if err != nil {
		return nil, fmt.Errorf("failed to scan account transactions: %w", err)
	}
	return txns, nil
}

// AllAccountTransactions returns the full chronological history of one
// account. The balance reconstructor needs the whole sequence because a
// running balance has no safe mid-stream starting point.
func (s *Store) AllAccountTransactions(ctx context.Context, accountID string) ([]model.BankTransaction, error) {
	var txns []model.BankTransaction
	err := s.db.WithContext(ctx).
		Where("account_id = ?", accountID).
		Order("date, id").
		Find(&txns).Error
	if err != nil {
		return nil, fmt.Errorf("failed to scan account history: %w", err)
	}
	return txns, nil
}

// PaymentsInRange returns every payment dated inside the range,
// matched or not, ordered by (date, id). The deduplicator scans all of
// them: a duplicate import artifact may already be linked.
func (s *Store) PaymentsInRange(ctx context.Context, rng DateRange) ([]model.Payment, error) {
	var payments []model.Payment
	err := s.db.WithContext(ctx).
		Where("date >= ? AND date <= ?", rng.From, rng.To).
		Order("date, id").
		Find(&payments).Error
	if err != nil {
		return nil, fmt.Errorf("failed to scan payments: %w", err)
	}
	return payments, nil
}

// TransactionByID loads one bank transaction.
func (s *Store) TransactionByID(ctx context.Context, id int64) (*model.BankTransaction, error) {
	var t model.BankTransaction
	if err := s.db.WithContext(ctx).First(&t, id).Error; err != nil {
		return nil, NotFoundError("transaction", fmt.Sprintf("%d", id))
	}
	return &t, nil
}

// PaymentByID loads one payment.
func (s *Store) PaymentByID(ctx context.Context, id int64) (*model.Payment, error) {
	var p model.Payment
	if err := s.db.WithContext(ctx).First(&p, id).Error; err != nil {
		return nil, NotFoundError("payment", fmt.Sprintf("%d", id))
	}
	return &p, nil
}

// ChargeByID loads one charge.
func (s *Store) ChargeByID(ctx context.Context, id int64) (*model.Charge, error) {
	var c model.Charge
	if err := s.db.WithContext(ctx).First(&c, id).Error; err != nil {
		return nil, NotFoundError("charge", fmt.Sprintf("%d", id))
	}
	return &c, nil
}

// CreditEntryByID loads one credit ledger entry.
func (s *Store) CreditEntryByID(ctx context.Context, id string) (*model.CreditEntry, error) {
	var e model.CreditEntry
	if err := s.db.WithContext(ctx).Where("id = ?", id).First(&e).Error; err != nil {
		return nil, NotFoundError("credit entry", id)
	}
	return &e, nil
}

// StatusCount is one row of the match-status read model.
type StatusCount struct {
	MatchStatus model.MatchStatus
	Count       int64
}

// PaymentStatusCounts summarizes payment match states for reporting.
func (s *Store) PaymentStatusCounts(ctx context.Context) ([]StatusCount, error) {
	var counts []StatusCount
	err := s.db.WithContext(ctx).
		Model(&model.Payment{}).
		Select("match_status, COUNT(*) AS count").
		Group("match_status").
		Order("match_status").
		Find(&counts).Error
	if err != nil {
		return nil, fmt.Errorf("failed to count payment statuses: %w", err)
	}
	return counts, nil
}

// ReservationBalances returns the balance read model consumed by
// invoicing and reporting.
func (s *Store) ReservationBalances(ctx context.Context) ([]model.Reservation, error) {
	var reservations []model.Reservation
	if err := s.db.WithContext(ctx).Order("id").Find(&reservations).Error; err != nil {
		return nil, fmt.Errorf("failed to load reservation balances: %w", err)
	}
	return reservations, nil
}
