// Package model defines the persistent entities of the bookkeeping
// ledger: bank-statement lines, payments, charges, reservations, the
// credit side-ledger, and the audit/backup tables that guard every
// mutation.
package model

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// MatchStatus is the per-record state of the matching engine.
type MatchStatus string

const (
	StatusUnmatched      MatchStatus = "UNMATCHED"
	StatusCandidateFound MatchStatus = "CANDIDATE_FOUND"
	StatusApplied        MatchStatus = "APPLIED"
	StatusRejected       MatchStatus = "REJECTED"
)

// Credit ledger reason codes.
const (
	ReasonCancelledDeposit  = "cancelled-deposit"
	ReasonDuplicateReversal = "duplicate-reversal"
	ReasonOverpayment       = "overpayment"
	ReasonWriteOff          = "write-off"
)

// Reservation status values.
const (
	ReservationActive    = "active"
	ReservationCancelled = "cancelled"
)

// BankTransaction is one bank-statement line. Exactly one of
// DebitCents/CreditCents is nonzero per row (or both zero for a pure
// balance-carry row). BalanceCents is nullable: statements from some
// institutions omit it and the balance reconstructor fills it in.
// The integer primary key doubles as insertion order.
type BankTransaction struct {
	ID               int64       `gorm:"primaryKey;autoIncrement"`
	AccountID        string      `gorm:"not null;index:idx_txn_account_date,priority:1"`
	Date             time.Time   `gorm:"not null;index:idx_txn_account_date,priority:2"`
	DebitCents       int64       `gorm:"not null"`
	CreditCents      int64       `gorm:"not null"`
	Description      string
	BalanceCents     *int64
	MatchedPaymentID *int64      `gorm:"index"`
	MatchedChargeID  *int64      `gorm:"index"`
	MatchStatus      MatchStatus `gorm:"not null;default:UNMATCHED;index"`
	Confidence       int
	MatchDetails     datatypes.JSON
	SourceSystem     string
	ExternalKey      string
	IdempotencyKey   string      `gorm:"not null;uniqueIndex"`
	CreatedAt        time.Time
}

func (BankTransaction) TableName() string { return "bank_transactions" }

// BeforeCreate stamps the idempotency key when absent.
func (t *BankTransaction) BeforeCreate(tx *gorm.DB) error {
	if t.IdempotencyKey == "" {
		t.IdempotencyKey = t.NaturalKey()
	}
	return nil
}

// NaturalKey composes the idempotent-import key: source system plus
// external id when the source provides one, otherwise a content hash of
// the immutable fields.
func (t *BankTransaction) NaturalKey() string {
	if t.SourceSystem != "" && t.ExternalKey != "" {
		return fmt.Sprintf("%s:%s", t.SourceSystem, t.ExternalKey)
	}
	return contentHash(
		"txn",
		t.AccountID,
		t.Date.Format("2006-01-02"),
		fmt.Sprintf("%d", t.DebitCents),
		fmt.Sprintf("%d", t.CreditCents),
		t.Description,
	)
}

// SignedCents is the balance effect of the row: credits add, debits
// subtract.
func (t *BankTransaction) SignedCents() int64 {
	return t.CreditCents - t.DebitCents
}

// Payment is money received against a reservation. A nil ReservationID
// means the payment is orphaned and owned by no aggregate until the
// matching engine (or a human) links it. Negative amounts are refunds.
type Payment struct {
	ID                   int64       `gorm:"primaryKey;autoIncrement"`
	ReservationID        *string     `gorm:"index"`
	AmountCents          int64       `gorm:"not null"`
	Date                 time.Time   `gorm:"not null;index"`
	Method               string
	ExternalKey          string
	Notes                string
	MatchStatus          MatchStatus `gorm:"not null;default:UNMATCHED;index"`
	Confidence           int
	MatchedTransactionID *int64      `gorm:"index"`
	SourceSystem         string
	IdempotencyKey       string      `gorm:"not null;uniqueIndex"`
	CreatedAt            time.Time
}

func (Payment) TableName() string { return "payments" }

func (p *Payment) BeforeCreate(tx *gorm.DB) error {
	if p.IdempotencyKey == "" {
		p.IdempotencyKey = p.NaturalKey()
	}
	return nil
}

// NaturalKey follows the same convention as BankTransaction.
func (p *Payment) NaturalKey() string {
	if p.SourceSystem != "" && p.ExternalKey != "" {
		return fmt.Sprintf("%s:%s", p.SourceSystem, p.ExternalKey)
	}
	reservation := ""
	if p.ReservationID != nil {
		reservation = *p.ReservationID
	}
	return contentHash(
		"pay",
		reservation,
		p.Date.Format("2006-01-02"),
		fmt.Sprintf("%d", p.AmountCents),
		p.Method,
		p.Notes,
	)
}

// Charge is one billable or payable line: a reservation charge or a
// vendor expense, GST included in AmountCents with the tax component
// broken out.
type Charge struct {
	ID                   int64       `gorm:"primaryKey;autoIncrement"`
	ReservationID        *string     `gorm:"index"`
	AmountCents          int64       `gorm:"not null"`
	GSTCents             int64       `gorm:"not null"`
	Description          string
	GLCode               string      `gorm:"index"`
	Vendor               string
	Date                 time.Time   `gorm:"not null;index"`
	MatchStatus          MatchStatus `gorm:"not null;default:UNMATCHED;index"`
	Confidence           int
	MatchedTransactionID *int64      `gorm:"index"`
	SourceSystem         string
	ExternalKey          string
	IdempotencyKey       string      `gorm:"not null;uniqueIndex"`
	CreatedAt            time.Time
}

func (Charge) TableName() string { return "charges" }

func (c *Charge) BeforeCreate(tx *gorm.DB) error {
	if c.IdempotencyKey == "" {
		c.IdempotencyKey = c.NaturalKey()
	}
	return nil
}

func (c *Charge) NaturalKey() string {
	if c.SourceSystem != "" && c.ExternalKey != "" {
		return fmt.Sprintf("%s:%s", c.SourceSystem, c.ExternalKey)
	}
	reservation := ""
	if c.ReservationID != nil {
		reservation = *c.ReservationID
	}
	return contentHash(
		"chg",
		reservation,
		c.Date.Format("2006-01-02"),
		fmt.Sprintf("%d", c.AmountCents),
		c.Description,
		c.Vendor,
	)
}

// Reservation (charter) is the aggregate root that owns linked charges
// and payments. After any mutation BalanceCents must equal
// TotalDueCents - PaidCents. A cancelled reservation may legitimately
// keep PaidCents > 0 with TotalDueCents == 0: a retained non-refundable
// deposit, not a data error.
type Reservation struct {
	ID            string `gorm:"primaryKey"`
	ClientName    string
	Status        string `gorm:"not null;default:active"`
	TotalDueCents int64  `gorm:"not null"`
	PaidCents     int64  `gorm:"not null"`
	BalanceCents  int64  `gorm:"not null"`
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

func (Reservation) TableName() string { return "reservations" }

// CreditEntry is one row of the credit/write-off side ledger: money
// held against a source that is not yet (or never will be) applied to
// a specific reservation. RemainingCents only ever decreases and never
// goes negative. The (SourceRef, AmountCents, Reason) triple is unique,
// which makes creation idempotent.
type CreditEntry struct {
	ID             string `gorm:"type:uuid;primaryKey"`
	SourceRef      string `gorm:"not null;index:idx_credit_natural,unique,priority:1"`
	AmountCents    int64  `gorm:"not null;index:idx_credit_natural,unique,priority:2"`
	Reason         string `gorm:"not null;index:idx_credit_natural,unique,priority:3"`
	RemainingCents int64  `gorm:"not null"`
	CreatedAt      time.Time
	AppliedAt      *time.Time
}

func (CreditEntry) TableName() string { return "credit_entries" }

func (e *CreditEntry) BeforeCreate(tx *gorm.DB) error {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	return nil
}

// AuditEvent is one append-only audit-trail row. Every apply, repair,
// delete and write-off leaves one behind.
type AuditEvent struct {
	ID         string `gorm:"type:uuid;primaryKey"`
	RunID      string `gorm:"index"`
	Actor      string
	Action     string `gorm:"not null;index"`
	EntityKind string `gorm:"not null"`
	EntityID   string `gorm:"not null;index"`
	Note       string
	Metadata   datatypes.JSON
	CreatedAt  time.Time
}

func (AuditEvent) TableName() string { return "audit_events" }

func (e *AuditEvent) BeforeCreate(tx *gorm.DB) error {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	return nil
}

// BackupRow is a full-row JSON snapshot taken before a destructive
// mutation. Rows written in one BackupBeforeMutate call share a handle.
type BackupRow struct {
	ID        string         `gorm:"type:uuid;primaryKey"`
	Handle    string         `gorm:"not null;index"`
	RunID     string         `gorm:"index"`
	Table     string         `gorm:"column:table_name;not null"`
	RowID     string         `gorm:"not null"`
	Snapshot  datatypes.JSON `gorm:"not null"`
	CreatedAt time.Time
}

func (BackupRow) TableName() string { return "backup_rows" }

func (b *BackupRow) BeforeCreate(tx *gorm.DB) error {
	if b.ID == "" {
		b.ID = uuid.NewString()
	}
	return nil
}

// contentHash builds a stable hash key over immutable fields.
func contentHash(parts ...string) string {
	h := sha256.New()
	for _, p := range parts {
		h.Write([]byte(p))
		h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil))
}

// Snapshot identity for the backup table.

func (t *BankTransaction) SnapshotID() string    { return fmt.Sprintf("%d", t.ID) }
func (t *BankTransaction) SnapshotTable() string { return t.TableName() }

func (p *Payment) SnapshotID() string    { return fmt.Sprintf("%d", p.ID) }
func (p *Payment) SnapshotTable() string { return p.TableName() }

func (c *Charge) SnapshotID() string    { return fmt.Sprintf("%d", c.ID) }
func (c *Charge) SnapshotTable() string { return c.TableName() }
