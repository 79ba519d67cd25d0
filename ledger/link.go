package ledger

import (
	"context"
	"fmt"

	"gorm.io/datatypes"

	"charterbooks/reconciler/ledger/model"
)

// LinkResult reports what a link call actually did.
type LinkResult int

const (
	// Linked means the link fields were written on both sides.
	Linked LinkResult = iota
	// AlreadyLinked means the pair was linked before the call; the
	// call was a no-op, not an error.
	AlreadyLinked
)

// LinkTransactionPayment writes the match link on both the bank
// transaction and the payment. Re-linking an already-linked pair is a
// no-op; linking to a record that is claimed by a different partner is
// an error: that is a double-apply, which the caller's serialized
// transaction should have made impossible.
func (s *Store) LinkTransactionPayment(
	ctx context.Context,
	txnID, paymentID int64,
	confidence int,
	details datatypes.JSON,
) (LinkResult, error) {
	txn, err := s.TransactionByID(ctx, txnID)
	if err != nil {
		return Linked, err
	}
	payment, err := s.PaymentByID(ctx, paymentID)
	if err != nil {
		return Linked, err
	}

	if txn.MatchedPaymentID != nil && *txn.MatchedPaymentID == paymentID &&
		payment.MatchedTransactionID != nil && *payment.MatchedTransactionID == txnID {
		return AlreadyLinked, nil
	}
	if txn.MatchedPaymentID != nil || txn.MatchedChargeID != nil {
		return Linked, fmt.Errorf("transaction %d is already linked elsewhere", txnID)
	}
	if payment.MatchedTransactionID != nil {
		return Linked, fmt.Errorf("payment %d is already linked elsewhere", paymentID)
	}

	err = s.db.WithContext(ctx).Model(txn).Updates(map[string]any{
		"matched_payment_id": paymentID,
		"match_status":       model.StatusApplied,
		"confidence":         confidence,
		"match_details":      details,
	}).Error
	if err != nil {
		return Linked, fmt.Errorf("failed to link transaction %d: %w", txnID, err)
	}

	err = s.db.WithContext(ctx).Model(payment).Updates(map[string]any{
		"matched_transaction_id": txnID,
		"match_status":           model.StatusApplied,
		"confidence":             confidence,
	}).Error
	if err != nil {
		return Linked, fmt.Errorf("failed to link payment %d: %w", paymentID, err)
	}

	return Linked, nil
}

// LinkTransactionCharge writes the match link on both the bank
// transaction and the charge, under the same idempotence contract as
// LinkTransactionPayment.
func (s *Store) LinkTransactionCharge(
	ctx context.Context,
	txnID, chargeID int64,
	confidence int,
	details datatypes.JSON,
) (LinkResult, error) {
	txn, err := s.TransactionByID(ctx, txnID)
	if err != nil {
		return Linked, err
	}
	charge, err := s.ChargeByID(ctx, chargeID)
	if err != nil {
		return Linked, err
	}

	if txn.MatchedChargeID != nil && *txn.MatchedChargeID == chargeID &&
		charge.MatchedTransactionID != nil && *charge.MatchedTransactionID == txnID {
		return AlreadyLinked, nil
	}
	if txn.MatchedPaymentID != nil || txn.MatchedChargeID != nil {
		return Linked, fmt.Errorf("transaction %d is already linked elsewhere", txnID)
	}
	if charge.MatchedTransactionID != nil {
		return Linked, fmt.Errorf("charge %d is already linked elsewhere", chargeID)
	}

	err = s.db.WithContext(ctx).Model(txn).Updates(map[string]any{
		"matched_charge_id": chargeID,
		"match_status":      model.StatusApplied,
		"confidence":        confidence,
		"match_details":     details,
	}).Error
	if err != nil {
		return Linked, fmt.Errorf("failed to link transaction %d: %w", txnID, err)
	}

	err = s.db.WithContext(ctx).Model(charge).Updates(map[string]any{
		"matched_transaction_id": txnID,
		"match_status":           model.StatusApplied,
		"confidence":             confidence,
	}).Error
	if err != nil {
		return Linked, fmt.Errorf("failed to link charge %d: %w", chargeID, err)
	}

	return Linked, nil
}

// MarkCandidate records a below-floor or over-limit proposal so manual
// review tooling can surface it. The link fields stay untouched.
func (s *Store) MarkCandidate(ctx context.Context, kind string, id int64, confidence int) error {
	var err error
	switch kind {
	case "payment":
		err = s.db.WithContext(ctx).Model(&model.Payment{}).Where("id = ?", id).
			Updates(map[string]any{"match_status": model.StatusCandidateFound, "confidence": confidence}).Error
	case "charge":
		err = s.db.WithContext(ctx).Model(&model.Charge{}).Where("id = ?", id).
			Updates(map[string]any{"match_status": model.StatusCandidateFound, "confidence": confidence}).Error
	case "transaction":
		err = s.db.WithContext(ctx).Model(&model.BankTransaction{}).Where("id = ?", id).
			Updates(map[string]any{"match_status": model.StatusCandidateFound, "confidence": confidence}).Error
	default:
		return fmt.Errorf("unknown record kind %q", kind)
	}
	if err != nil {
		return fmt.Errorf("failed to mark candidate %s %d: %w", kind, id, err)
	}
	return nil
}

// MarkRejected records a human rejection of a proposed match.
func (s *Store) MarkRejected(ctx context.Context, kind string, id int64) error {
	var err error
	switch kind {
	case "payment":
		err = s.db.WithContext(ctx).Model(&model.Payment{}).Where("id = ?", id).
			Update("match_status", model.StatusRejected).Error
	case "charge":
		err = s.db.WithContext(ctx).Model(&model.Charge{}).Where("id = ?", id).
			Update("match_status", model.StatusRejected).Error
	case "transaction":
		err = s.db.WithContext(ctx).Model(&model.BankTransaction{}).Where("id = ?", id).
			Update("match_status", model.StatusRejected).Error
	default:
		return fmt.Errorf("unknown record kind %q", kind)
	}
	if err != nil {
		return fmt.Errorf("failed to mark %s %d rejected: %w", kind, id, err)
	}
	return nil
}
