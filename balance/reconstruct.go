// Package balance replays an account's transactions chronologically
// from an authoritative opening balance and verifies or repairs the
// stored running-balance column.
package balance

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/datatypes"

	"charterbooks/reconciler/appcontext"
	"charterbooks/reconciler/ledger"
	"charterbooks/reconciler/ledger/model"
	"charterbooks/reconciler/money"
	"charterbooks/reconciler/report"
)

// ErrBalanceDiscrepancy means the statement-confirmed closing balance
// does not equal the final recomputed balance. That is a
// data-completeness error (missing or extra transactions), reported
// with the signed gap, and distinct from per-row rounding differences.
var ErrBalanceDiscrepancy = errors.New("closing balance discrepancy")

// ClosingGapError wraps ErrBalanceDiscrepancy with the signed gap.
func ClosingGapError(account string, gap money.Money) error {
	return fmt.Errorf("%w, account %s, stored-minus-recomputed gap %s", ErrBalanceDiscrepancy, account, gap)
}

// Mode selects verify (report only) or repair (overwrite under backup).
type Mode string

const (
	Verify Mode = "verify"
	Repair Mode = "repair"
)

// Discrepancy is one row whose stored balance disagrees with the
// replayed value by more than one minor unit.
type Discrepancy struct {
	TransactionID int64
	Date          string
	Stored        *money.Money // nil when the statement carried no balance
	Recomputed    money.Money
}

// Result summarizes one reconstruction pass.
type Result struct {
	Account       string
	Opening       money.Money
	Final         money.Money
	Rows          int
	Discrepancies []Discrepancy
	// ClosingGap is stored-closing minus recomputed-final, set only
	// when a closing balance was supplied and disagrees.
	ClosingGap *money.Money
	Report     *report.Run
}

// Reconstructor replays and checks running balances for one account at
// a time. Opening and closing balances are supplied by a human from a
// statement; they are ground truth, never inferred.
type Reconstructor struct {
	store *ledger.Store
	actor string
	runID string
}

// New creates a Reconstructor.
func New(store *ledger.Store, actor, runID string) *Reconstructor {
	return &Reconstructor{store: store, actor: actor, runID: runID}
}

// Run replays every transaction of the account in (date,
// insertion-order) sequence: balance[i] = balance[i-1] - debit + credit.
// In Verify mode discrepancies are reported; in Repair mode the
// affected rows are snapshotted and overwritten in one transaction.
// A non-nil closing balance that disagrees with the final recomputed
// value fails with ErrBalanceDiscrepancy after reporting.
func (r *Reconstructor) Run(
	ctx context.Context,
	account string,
	opening money.Money,
	closing *money.Money,
	mode Mode,
) (*Result, error) {
	logger := appcontext.LoggerFromContext(ctx)
	result := &Result{Account: account, Opening: opening, Report: report.NewRun()}

	txns, err := r.store.AllAccountTransactions(ctx, account)
	if err != nil {
		return result, err
	}
	result.Rows = len(txns)
	result.Report.Scanned = len(txns)

	recomputed := make(map[int64]int64, len(txns))
	running := opening
	for i := range txns {
		t := &txns[i]
		running = running.Sub(money.FromCents(t.DebitCents)).Add(money.FromCents(t.CreditCents))
		recomputed[t.ID] = running.Cents()

		if t.BalanceCents == nil {
			result.Discrepancies = append(result.Discrepancies, Discrepancy{
				TransactionID: t.ID,
				Date:          t.Date.Format("2006-01-02"),
				Recomputed:    running,
			})
			continue
		}
		stored := money.FromCents(*t.BalanceCents)
		if stored.Sub(running).Abs() > 1 {
			result.Discrepancies = append(result.Discrepancies, Discrepancy{
				TransactionID: t.ID,
				Date:          t.Date.Format("2006-01-02"),
				Stored:        &stored,
				Recomputed:    running,
			})
		}
	}
	result.Final = running

	logger.InfoContext(ctx, "Balance replay complete",
		"account", account,
		"rows", result.Rows,
		"final", result.Final.String(),
		"discrepancies", len(result.Discrepancies),
	)

	if mode == Repair && len(result.Discrepancies) > 0 {
		if err := r.repair(ctx, account, txns, recomputed, result); err != nil {
			return result, err
		}
	}

	if closing != nil && *closing != result.Final {
		gap := closing.Sub(result.Final)
		result.ClosingGap = &gap
		logger.ErrorContext(ctx, "Closing balance does not reconcile",
			"account", account,
			"statement_closing", closing.String(),
			"recomputed_final", result.Final.String(),
			"gap", gap.String(),
		)
		return result, ClosingGapError(account, gap)
	}

	return result, nil
}

// repair snapshots the disagreeing rows and overwrites their stored
// balances, all inside one transaction: backup, mutate, audit.
func (r *Reconstructor) repair(
	ctx context.Context,
	account string,
	txns []model.BankTransaction,
	recomputed map[int64]int64,
	result *Result,
) error {
	affected := make(map[int64]bool, len(result.Discrepancies))
	for _, d := range result.Discrepancies {
		affected[d.TransactionID] = true
	}

	var rows []ledger.Snapshottable
	balances := make(map[int64]int64, len(affected))
	for i := range txns {
		t := &txns[i]
		if affected[t.ID] {
			rows = append(rows, t)
			balances[t.ID] = recomputed[t.ID]
		}
	}

	err := r.store.WithTransaction(ctx, func(tx *ledger.Store) error {
		handle, err := tx.BackupBeforeMutate(ctx, r.runID, rows)
		if err != nil {
			return err
		}
		if err := tx.UpdateTransactionBalances(ctx, handle, balances); err != nil {
			return err
		}
		return tx.AppendAudit(ctx, &model.AuditEvent{
			RunID:      r.runID,
			Actor:      r.actor,
			Action:     "repair-balances",
			EntityKind: "account",
			EntityID:   account,
			Note: fmt.Sprintf("repaired running balance on %d of %d rows, backup %s",
				len(balances), len(txns), handle),
			Metadata: datatypes.JSON(fmt.Sprintf(`{"rows":%d}`, len(balances))),
		})
	})
	if err != nil {
		return err
	}

	result.Report.Repaired = len(balances)
	return nil
}
