// Package ledger is the transactional store for the bookkeeping
// entities. It wraps a relational database behind a small API:
// idempotent natural-key inserts, bounded scans of unmatched records,
// scoped transactions, and a mandatory backup-before-mutate contract
// for every destructive write.
package ledger

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"charterbooks/reconciler/appcontext"
	"charterbooks/reconciler/ledger/model"
)

var (
	// ErrBackupRequired means a bulk delete or update was attempted
	// without a prior BackupBeforeMutate snapshot. This is a
	// programming-contract violation and aborts the transaction.
	ErrBackupRequired = errors.New("mutation attempted without a backup snapshot")

	// ErrNotFound is returned when a requested row does not exist.
	ErrNotFound = errors.New("record not found")
)

// NotFoundError wraps ErrNotFound with the entity that was missed.
func NotFoundError(kind, id string) error {
	return fmt.Errorf("%w, %s %s", ErrNotFound, kind, id)
}

// Store provides transactional access to the ledger tables. A Store
// returned by WithTransaction is bound to the open transaction; the
// zero receiver pattern is not supported, always construct via Open.
type Store struct {
	db *gorm.DB
}

// Open connects to the ledger database at dsn and migrates the schema.
// The gorm logger is silenced: all operational logging goes through the
// slog instance carried in the context.
func Open(ctx context.Context, dsn string) (*Store, error) {
	logger := appcontext.LoggerFromContext(ctx)
	logger.DebugContext(ctx, "Opening ledger database", "dsn", dsn)

	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open ledger database: %w", err)
	}

	err = db.AutoMigrate(
		&model.BankTransaction{},
		&model.Payment{},
		&model.Charge{},
		&model.Reservation{},
		&model.CreditEntry{},
		&model.AuditEvent{},
		&model.BackupRow{},
	)
	if err != nil {
		return nil, fmt.Errorf("failed to migrate ledger schema: %w", err)
	}

	logger.InfoContext(ctx, "Ledger database ready", "dsn", dsn)
	return &Store{db: db}, nil
}

// WithTransaction runs fn inside one database transaction. The
// transaction commits when fn returns nil and rolls back on error or
// panic, so a mutation sequence either lands completely or not at all.
func (s *Store) WithTransaction(ctx context.Context, fn func(tx *Store) error) error {
	err := s.db.WithContext(ctx).Transaction(func(txdb *gorm.DB) error {
		return fn(&Store{db: txdb})
	})
	if err != nil {
		return fmt.Errorf("ledger transaction failed: %w", err)
	}
	return nil
}

// InsertTransactionIfAbsent inserts a bank transaction keyed on its
// natural key. Re-inserting the same row returns the existing id with
// created=false; a key collision is never an error.
func (s *Store) InsertTransactionIfAbsent(ctx context.Context, t *model.BankTransaction) (int64, bool, error) {
	if t.IdempotencyKey == "" {
		t.IdempotencyKey = t.NaturalKey()
	}

	created, err := s.insertIfAbsent(ctx, t, t.IdempotencyKey)
	if err != nil {
		return 0, false, err
	}
	if created {
		return t.ID, true, nil
	}

	var existing model.BankTransaction
	if err := s.db.WithContext(ctx).Where("idempotency_key = ?", t.IdempotencyKey).First(&existing).Error; err != nil {
		return 0, false, fmt.Errorf("failed to load existing transaction: %w", err)
	}
	return existing.ID, false, nil
}

// InsertPaymentIfAbsent inserts a payment under the same contract as
// InsertTransactionIfAbsent.
func (s *Store) InsertPaymentIfAbsent(ctx context.Context, p *model.Payment) (int64, bool, error) {
	if p.IdempotencyKey == "" {
		p.IdempotencyKey = p.NaturalKey()
	}

	created, err := s.insertIfAbsent(ctx, p, p.IdempotencyKey)
	if err != nil {
		return 0, false, err
	}
	if created {
		return p.ID, true, nil
	}

	var existing model.Payment
	if err := s.db.WithContext(ctx).Where("idempotency_key = ?", p.IdempotencyKey).First(&existing).Error; err != nil {
		return 0, false, fmt.Errorf("failed to load existing payment: %w", err)
	}
	return existing.ID, false, nil
}

// InsertChargeIfAbsent inserts a charge under the same contract as
// InsertTransactionIfAbsent.
func (s *Store) InsertChargeIfAbsent(ctx context.Context, c *model.Charge) (int64, bool, error) {
	if c.IdempotencyKey == "" {
		c.IdempotencyKey = c.NaturalKey()
	}

	created, err := s.insertIfAbsent(ctx, c, c.IdempotencyKey)
	if err != nil {
		return 0, false, err
	}
	if created {
		return c.ID, true, nil
	}

	var existing model.Charge
	if err := s.db.WithContext(ctx).Where("idempotency_key = ?", c.IdempotencyKey).First(&existing).Error; err != nil {
		return 0, false, fmt.Errorf("failed to load existing charge: %w", err)
	}
	return existing.ID, false, nil
}

// InsertCreditIfAbsent inserts a credit ledger entry keyed on its
// (source, amount, reason) triple.
func (s *Store) InsertCreditIfAbsent(ctx context.Context, e *model.CreditEntry) (string, bool, error) {
	res := s.db.WithContext(ctx).Where(
		"source_ref = ? AND amount_cents = ? AND reason = ?",
		e.SourceRef, e.AmountCents, e.Reason,
	).FirstOrCreate(e)
	if res.Error != nil {
		return "", false, fmt.Errorf("failed to insert credit entry: %w", res.Error)
	}
	return e.ID, res.RowsAffected > 0, nil
}

// insertIfAbsent performs a lookup-then-insert on the idempotency key.
// The unique index makes a concurrent duplicate insert fail cleanly;
// callers run inside serialized reconciliation runs so the lookup is
// not racy in practice.
func (s *Store) insertIfAbsent(ctx context.Context, entity any, key string) (bool, error) {
	var count int64
	kindQuery := s.db.WithContext(ctx).Model(entity).Where("idempotency_key = ?", key)
	if err := kindQuery.Count(&count).Error; err != nil {
		return false, fmt.Errorf("failed idempotency lookup: %w", err)
	}
	if count > 0 {
		return false, nil
	}

	if err := s.db.WithContext(ctx).Create(entity).Error; err != nil {
		return false, fmt.Errorf("failed to insert record: %w", err)
	}
	return true, nil
}

// AppendAudit writes one append-only audit event.
func (s *Store) AppendAudit(ctx context.Context, event *model.AuditEvent) error {
	if err := s.db.WithContext(ctx).Create(event).Error; err != nil {
		return fmt.Errorf("failed to append audit event: %w", err)
	}
	return nil
}

// AuditTrail returns the audit events for one entity, oldest first.
func (s *Store) AuditTrail(ctx context.Context, entityKind, entityID string) ([]model.AuditEvent, error) {
	var events []model.AuditEvent
	err := s.db.WithContext(ctx).
		Where("entity_kind = ? AND entity_id = ?", entityKind, entityID).
		Order("created_at, id").
		Find(&events).Error
	if err != nil {
		return nil, fmt.Errorf("failed to load audit trail: %w", err)
	}
	return events, nil
}

// SaveCreditEntry persists changes to an existing credit entry.
func (s *Store) SaveCreditEntry(ctx context.Context, e *model.CreditEntry) error {
	if err := s.db.WithContext(ctx).Save(e).Error; err != nil {
		return fmt.Errorf("failed to save credit entry %s: %w", e.ID, err)
	}
	return nil
}
