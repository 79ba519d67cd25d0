// Package dedupe finds and resolves duplicate ingestion artifacts.
// Exact duplicates are deleted under backup; near-duplicates (same
// amount and date but a differing description or tax field) are only
// ever flagged, because they may be legitimate amendments and the
// deduplicator must never guess which version is authoritative.
package dedupe

import (
	"context"
	"fmt"
	"sort"

	"gorm.io/datatypes"

	"charterbooks/reconciler/appcontext"
	"charterbooks/reconciler/ledger"
	"charterbooks/reconciler/ledger/model"
	"charterbooks/reconciler/report"
	"charterbooks/reconciler/score"
)

// Group is one set of records sharing an identity signature.
type Group struct {
	Signature string
	// KeepID is the canonical record: the lowest id in the group.
	KeepID int64
	// DeleteIDs are confirmed exact duplicates.
	DeleteIDs []int64
	// ReviewIDs are near-duplicates needing a human decision.
	ReviewIDs []int64
}

// Result summarizes a deduplication pass.
type Result struct {
	Groups  []Group
	Orphans []int64
	Report  *report.Run
}

// Deduplicator scans payments and bank transactions for duplicates.
type Deduplicator struct {
	store *ledger.Store
	// DeleteOrphans additionally removes records whose required
	// foreign key is null and can never be corrected.
	DeleteOrphans bool
	// Apply deletes exact duplicates; when false the pass only reports.
	Apply bool
	Actor string
	RunID string
}

// New creates a Deduplicator.
func New(store *ledger.Store, apply, deleteOrphans bool, actor, runID string) *Deduplicator {
	return &Deduplicator{
		store:         store,
		Apply:         apply,
		DeleteOrphans: deleteOrphans,
		Actor:         actor,
		RunID:         runID,
	}
}

// RunPayments deduplicates payment rows inside the date range.
func (d *Deduplicator) RunPayments(ctx context.Context, rng ledger.DateRange) (*Result, error) {
	logger := appcontext.LoggerFromContext(ctx)
	result := &Result{Report: report.NewRun()}

	payments, err := d.store.PaymentsInRange(ctx, rng)
	if err != nil {
		return result, err
	}
	result.Report.Scanned = len(payments)

	groups := make(map[string][]*model.Payment)
	for i := range payments {
		p := &payments[i]
		reservation := ""
		if p.ReservationID == nil {
			if d.DeleteOrphans {
				result.Orphans = append(result.Orphans, p.ID)
			}
			reservation = "(orphan)"
		} else {
			reservation = *p.ReservationID
		}
		sig := fmt.Sprintf("%s|%s|%d|%s",
			reservation, p.Date.Format("2006-01-02"), p.AmountCents, score.Normalize(p.Notes))
		groups[sig] = append(groups[sig], p)
	}

	for _, sig := range sortedKeys(groups) {
		members := groups[sig]
		if len(members) < 2 {
			continue
		}
		sort.Slice(members, func(i, j int) bool { return members[i].ID < members[j].ID })

		group := Group{Signature: sig, KeepID: members[0].ID}
		keeper := members[0]
		for _, m := range members[1:] {
			if paymentsIdentical(keeper, m) {
				group.DeleteIDs = append(group.DeleteIDs, m.ID)
			} else {
				// Potential amendment: flag, never guess.
				group.ReviewIDs = append(group.ReviewIDs, m.ID)
				result.Report.Flagged++
			}
		}
		result.Groups = append(result.Groups, group)
	}

	if !d.Apply {
		logger.InfoContext(ctx, "Deduplication dry run", "groups", len(result.Groups), "orphans", len(result.Orphans))
		return result, nil
	}

	deleteIDs := collectDeletes(result)
	if len(deleteIDs) == 0 {
		return result, nil
	}

	byID := make(map[int64]*model.Payment, len(payments))
	for i := range payments {
		byID[payments[i].ID] = &payments[i]
	}
	var rows []ledger.Snapshottable
	for _, id := range deleteIDs {
		rows = append(rows, byID[id])
	}

	err = d.store.WithTransaction(ctx, func(tx *ledger.Store) error {
		handle, err := tx.BackupBeforeMutate(ctx, d.RunID, rows)
		if err != nil {
			return err
		}
		if err := tx.DeletePayments(ctx, handle, deleteIDs); err != nil {
			return err
		}
		return tx.AppendAudit(ctx, &model.AuditEvent{
			RunID:      d.RunID,
			Actor:      d.Actor,
			Action:     "dedupe-delete",
			EntityKind: "payment",
			EntityID:   fmt.Sprintf("%v", deleteIDs),
			Note:       fmt.Sprintf("deleted %d duplicate payments under backup %s", len(deleteIDs), handle),
			Metadata:   datatypes.JSON(fmt.Sprintf(`{"deleted":%d}`, len(deleteIDs))),
		})
	})
	if err != nil {
		return result, err
	}

	result.Report.Deleted = len(deleteIDs)
	logger.InfoContext(ctx, "Deduplication applied", "deleted", len(deleteIDs), "flagged", result.Report.Flagged)
	return result, nil
}

// RunTransactions deduplicates bank-statement rows for one account.
func (d *Deduplicator) RunTransactions(ctx context.Context, account string, rng ledger.DateRange) (*Result, error) {
	logger := appcontext.LoggerFromContext(ctx)
	result := &Result{Report: report.NewRun()}

	txns, err := d.store.AccountTransactions(ctx, account, rng)
	if err != nil {
		return result, err
	}
	result.Report.Scanned = len(txns)

	groups := make(map[string][]*model.BankTransaction)
	for i := range txns {
		t := &txns[i]
		sig := fmt.Sprintf("%s|%s|%d|%d|%s",
			t.AccountID, t.Date.Format("2006-01-02"), t.DebitCents, t.CreditCents, score.Normalize(t.Description))
		groups[sig] = append(groups[sig], t)
	}

	for _, sig := range sortedKeys(groups) {
		members := groups[sig]
		if len(members) < 2 {
			continue
		}
		sort.Slice(members, func(i, j int) bool { return members[i].ID < members[j].ID })

		group := Group{Signature: sig, KeepID: members[0].ID}
		keeper := members[0]
		for _, m := range members[1:] {
			if transactionsIdentical(keeper, m) {
				group.DeleteIDs = append(group.DeleteIDs, m.ID)
			} else {
				group.ReviewIDs = append(group.ReviewIDs, m.ID)
				result.Report.Flagged++
			}
		}
		result.Groups = append(result.Groups, group)
	}

	if !d.Apply {
		logger.InfoContext(ctx, "Deduplication dry run", "groups", len(result.Groups))
		return result, nil
	}

	deleteIDs := collectDeletes(result)
	if len(deleteIDs) == 0 {
		return result, nil
	}

	byID := make(map[int64]*model.BankTransaction, len(txns))
	for i := range txns {
		byID[txns[i].ID] = &txns[i]
	}
	var rows []ledger.Snapshottable
	for _, id := range deleteIDs {
		rows = append(rows, byID[id])
	}

	err = d.store.WithTransaction(ctx, func(tx *ledger.Store) error {
		handle, err := tx.BackupBeforeMutate(ctx, d.RunID, rows)
		if err != nil {
			return err
		}
		if err := tx.DeleteTransactions(ctx, handle, deleteIDs); err != nil {
			return err
		}
		return tx.AppendAudit(ctx, &model.AuditEvent{
			RunID:      d.RunID,
			Actor:      d.Actor,
			Action:     "dedupe-delete",
			EntityKind: "transaction",
			EntityID:   fmt.Sprintf("%v", deleteIDs),
			Note:       fmt.Sprintf("deleted %d duplicate transactions under backup %s", len(deleteIDs), handle),
			Metadata:   datatypes.JSON(fmt.Sprintf(`{"deleted":%d}`, len(deleteIDs))),
		})
	})
	if err != nil {
		return result, err
	}

	result.Report.Deleted = len(deleteIDs)
	logger.InfoContext(ctx, "Deduplication applied", "deleted", len(deleteIDs), "flagged", result.Report.Flagged)
	return result, nil
}

// paymentsIdentical compares every field outside the identity
// signature. Method or external-key differences make a near-duplicate,
// not an exact one.
func paymentsIdentical(a, b *model.Payment) bool {
	return a.AmountCents == b.AmountCents &&
		a.Date.Equal(b.Date) &&
		a.Method == b.Method &&
		a.Notes == b.Notes &&
		a.ExternalKey == b.ExternalKey &&
		equalPtr(a.ReservationID, b.ReservationID)
}

// transactionsIdentical compares the remaining unmapped attributes
// byte-for-byte.
func transactionsIdentical(a, b *model.BankTransaction) bool {
	return a.DebitCents == b.DebitCents &&
		a.CreditCents == b.CreditCents &&
		a.Date.Equal(b.Date) &&
		a.Description == b.Description &&
		a.ExternalKey == b.ExternalKey
}

func equalPtr(a, b *string) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

func collectDeletes(result *Result) []int64 {
	var ids []int64
	for _, g := range result.Groups {
		ids = append(ids, g.DeleteIDs...)
	}
	ids = append(ids, result.Orphans...)
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return dedupInt64(ids)
}

func dedupInt64(ids []int64) []int64 {
	out := ids[:0]
	var last int64 = -1
	for i, id := range ids {
		if i == 0 || id != last {
			out = append(out, id)
		}
		last = id
	}
	return out
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
