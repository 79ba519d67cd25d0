package ledger

import (
	"context"
	"fmt"

	"charterbooks/reconciler/ledger/model"
)

// ReservationByID loads one reservation.
func (s *Store) ReservationByID(ctx context.Context, id string) (*model.Reservation, error) {
	var r model.Reservation
	if err := s.db.WithContext(ctx).Where("id = ?", id).First(&r).Error; err != nil {
		return nil, NotFoundError("reservation", id)
	}
	return &r, nil
}

// SaveReservation upserts a reservation row.
func (s *Store) SaveReservation(ctx context.Context, r *model.Reservation) error {
	if err := s.db.WithContext(ctx).Save(r).Error; err != nil {
		return fmt.Errorf("failed to save reservation %s: %w", r.ID, err)
	}
	return nil
}

// RecomputeReservationBalance rebuilds the reservation aggregate from
// its linked rows: total due is the signed sum of charges, paid is the
// signed sum of payments, balance is their difference. Every apply and
// credit application calls this inside the same transaction so the
// invariant holds at commit.
func (s *Store) RecomputeReservationBalance(ctx context.Context, reservationID string) error {
	r, err := s.ReservationByID(ctx, reservationID)
	if err != nil {
		return err
	}

	var totalDue, paid int64
	err = s.db.WithContext(ctx).
		Model(&model.Charge{}).
		Where("reservation_id = ?", reservationID).
		Select("COALESCE(SUM(amount_cents), 0)").
		Scan(&totalDue).Error
	if err != nil {
		return fmt.Errorf("failed to sum charges for %s: %w", reservationID, err)
	}

	err = s.db.WithContext(ctx).
		Model(&model.Payment{}).
		Where("reservation_id = ?", reservationID).
		Select("COALESCE(SUM(amount_cents), 0)").
		Scan(&paid).Error
	if err != nil {
		return fmt.Errorf("failed to sum payments for %s: %w", reservationID, err)
	}

	r.TotalDueCents = totalDue
	r.PaidCents = paid
	r.BalanceCents = totalDue - paid
	return s.SaveReservation(ctx, r)
}
