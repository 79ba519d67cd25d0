package ledger

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"charterbooks/reconciler/appcontext"
	"charterbooks/reconciler/ledger/model"
)

// BackupHandle proves that a backup snapshot exists. Every guarded
// mutation demands a non-empty handle; passing the zero value trips
// ErrBackupRequired and aborts the surrounding transaction.
type BackupHandle string

// Snapshottable is any row the backup table can hold.
type Snapshottable interface {
	SnapshotID() string
	SnapshotTable() string
}

// BackupBeforeMutate writes a full-row JSON snapshot of every row into
// the backup table and returns the shared handle. It replaces the old
// "CREATE TABLE ... AS SELECT before every delete" convention with a
// contract the mutation helpers enforce.
func (s *Store) BackupBeforeMutate(ctx context.Context, runID string, rows []Snapshottable) (BackupHandle, error) {
	logger := appcontext.LoggerFromContext(ctx)

	handle := BackupHandle(uuid.NewString())
	for _, row := range rows {
		snapshot, err := json.Marshal(row)
		if err != nil {
			return "", fmt.Errorf("failed to snapshot row %s: %w", row.SnapshotID(), err)
		}

		backup := model.BackupRow{
			Handle:   string(handle),
			RunID:    runID,
			Table:    row.SnapshotTable(),
			RowID:    row.SnapshotID(),
			Snapshot: snapshot,
		}
		if err := s.db.WithContext(ctx).Create(&backup).Error; err != nil {
			return "", fmt.Errorf("failed to write backup row: %w", err)
		}
	}

	logger.DebugContext(ctx, "Backup snapshot written", "handle", string(handle), "rows", len(rows))
	return handle, nil
}

// BackupRowCount reports how many rows a handle protects.
func (s *Store) BackupRowCount(ctx context.Context, handle BackupHandle) (int64, error) {
	var count int64
	err := s.db.WithContext(ctx).
		Model(&model.BackupRow{}).
		Where("handle = ?", string(handle)).
		Count(&count).Error
	if err != nil {
		return 0, fmt.Errorf("failed to count backup rows: %w", err)
	}
	return count, nil
}

// DeleteTransactions removes bank transactions by id. The delete is
// verified: if any target row survives, the call fails so the caller's
// transaction rolls back.
func (s *Store) DeleteTransactions(ctx context.Context, handle BackupHandle, ids []int64) error {
	if handle == "" {
		return fmt.Errorf("%w, delete of bank_transactions", ErrBackupRequired)
	}
	if len(ids) == 0 {
		return nil
	}

	if err := s.db.WithContext(ctx).Delete(&model.BankTransaction{}, ids).Error; err != nil {
		return fmt.Errorf("failed to delete transactions: %w", err)
	}
	return s.verifyDeleted(ctx, &model.BankTransaction{}, ids)
}

// DeletePayments removes payments by id with the same verify contract.
func (s *Store) DeletePayments(ctx context.Context, handle BackupHandle, ids []int64) error {
	if handle == "" {
		return fmt.Errorf("%w, delete of payments", ErrBackupRequired)
	}
	if len(ids) == 0 {
		return nil
	}

	if err := s.db.WithContext(ctx).Delete(&model.Payment{}, ids).Error; err != nil {
		return fmt.Errorf("failed to delete payments: %w", err)
	}
	return s.verifyDeleted(ctx, &model.Payment{}, ids)
}

// DeleteCharges removes charges by id with the same verify contract.
func (s *Store) DeleteCharges(ctx context.Context, handle BackupHandle, ids []int64) error {
	if handle == "" {
		return fmt.Errorf("%w, delete of charges", ErrBackupRequired)
	}
	if len(ids) == 0 {
		return nil
	}

	if err := s.db.WithContext(ctx).Delete(&model.Charge{}, ids).Error; err != nil {
		return fmt.Errorf("failed to delete charges: %w", err)
	}
	return s.verifyDeleted(ctx, &model.Charge{}, ids)
}

// UpdateTransactionBalances overwrites stored running balances. Repair
// is destructive to the old values, so it is backup-guarded like the
// deletes.
func (s *Store) UpdateTransactionBalances(ctx context.Context, handle BackupHandle, balances map[int64]int64) error {
	if handle == "" {
		return fmt.Errorf("%w, balance repair of bank_transactions", ErrBackupRequired)
	}

	for id, cents := range balances {
		res := s.db.WithContext(ctx).
			Model(&model.BankTransaction{}).
			Where("id = ?", id).
			Update("balance_cents", cents)
		if res.Error != nil {
			return fmt.Errorf("failed to update balance for transaction %d: %w", id, res.Error)
		}
		if res.RowsAffected == 0 {
			return NotFoundError("transaction", fmt.Sprintf("%d", id))
		}
	}
	return nil
}

// verifyDeleted confirms the target count reached zero after a delete.
func (s *Store) verifyDeleted(ctx context.Context, entity any, ids []int64) error {
	var remaining int64
	if err := s.db.WithContext(ctx).Model(entity).Where("id IN ?", ids).Count(&remaining).Error; err != nil {
		return fmt.Errorf("failed to verify delete: %w", err)
	}
	if remaining != 0 {
		return fmt.Errorf("delete verification failed, %d target rows remain", remaining)
	}
	return nil
}
