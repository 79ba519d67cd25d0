// Package match links unmatched payments and charges to bank-statement
// lines. Candidate pairs are scored in parallel (the scorer is pure),
// then proposals are applied serially inside per-chunk transactions so
// a failure rolls back one chunk, never a half-applied link.
package match

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	"gorm.io/datatypes"

	"charterbooks/reconciler/appcontext"
	"charterbooks/reconciler/ledger"
	"charterbooks/reconciler/ledger/model"
	"charterbooks/reconciler/money"
	"charterbooks/reconciler/report"
	"charterbooks/reconciler/score"
)

// Config controls one matching run. Threshold values are empirical,
// not engineering truth; every one of them is overridable.
type Config struct {
	Weights score.Weights
	// DryRun proposes matches without writing anything.
	DryRun bool
	// ApplyMedium lets medium-tier proposals auto-apply. High tier
	// always auto-applies (subject to Limit); low tier never does.
	ApplyMedium bool
	// Limit bounds how many matches are applied in one run, for staged
	// rollout. Zero means no limit.
	Limit int
	// ChunkDays splits the scan range so a mid-run failure only costs
	// the remaining chunks.
	ChunkDays int
	// Workers bounds the scoring fan-out.
	Workers int
	// Actor is recorded on every audit event.
	Actor string
	// RunID ties audit rows of one run together.
	RunID string
}

// DefaultConfig returns the canonical thresholds.
func DefaultConfig() Config {
	return Config{
		Weights:   score.DefaultWeights(),
		ChunkDays: 31,
		Workers:   4,
		Actor:     "matching-engine",
	}
}

// Proposal is one best-candidate pairing surfaced by a run.
type Proposal struct {
	Kind          string // "payment" or "charge"
	RecordID      int64
	ReservationID *string
	TransactionID int64
	Confidence    int
	Tier          string
	AmountDelta   int64
	DateDelta     int
	Note          string
}

// Result is what a run hands back to reporting/export tooling.
type Result struct {
	Proposals []Proposal
	Report    *report.Run
}

// Engine drives the UNMATCHED -> CANDIDATE_FOUND -> {APPLIED|REJECTED}
// state machine over a date range.
type Engine struct {
	store *ledger.Store
	cfg   Config
}

// New creates a matching engine over the given store.
func New(store *ledger.Store, cfg Config) *Engine {
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.ChunkDays <= 0 {
		cfg.ChunkDays = 31
	}
	return &Engine{store: store, cfg: cfg}
}

// Run scans unmatched payments and charges in the range, scores
// candidates, and applies (or proposes, in dry-run) the winners.
// Per-record scoring problems are collected in the report; a failed
// chunk rolls back and the run continues with the next chunk. The
// report is returned even when an error is.
func (e *Engine) Run(ctx context.Context, rng ledger.DateRange) (*Result, error) {
	logger := appcontext.LoggerFromContext(ctx)
	result := &Result{Report: report.NewRun()}
	applied := 0

	for _, chunk := range ledger.DateChunks(rng.From, rng.To, e.cfg.ChunkDays) {
		logger.DebugContext(ctx, "Matching chunk", "from", chunk.From, "to", chunk.To)

		proposals, err := e.proposeChunk(ctx, chunk, result.Report)
		if err != nil {
			result.Report.AddFailure(chunkLabel(chunk), err.Error())
			continue
		}
		result.Proposals = append(result.Proposals, proposals...)

		if e.cfg.DryRun {
			for _, p := range proposals {
				if p.Tier == "low" {
					result.Report.Flagged++
				}
			}
			continue
		}

		n, flagged, err := e.applyChunk(ctx, proposals, applied)
		applied += n
		result.Report.Applied += n
		result.Report.Flagged += flagged
		if err != nil {
			logger.ErrorContext(ctx, "Chunk apply failed, rolled back", "from", chunk.From, "to", chunk.To, "error", err)
			result.Report.AddFailure(chunkLabel(chunk), err.Error())
			continue
		}
	}

	return result, nil
}

func chunkLabel(rng ledger.DateRange) string {
	return fmt.Sprintf("chunk %s..%s", rng.From.Format("2006-01-02"), rng.To.Format("2006-01-02"))
}

// proposeChunk gathers unmatched records in the chunk and computes the
// best candidate for each. Claiming is sequential in (date, id) order
// so two records never propose the same statement line.
func (e *Engine) proposeChunk(ctx context.Context, chunk ledger.DateRange, run *report.Run) ([]Proposal, error) {
	payments, err := e.store.UnmatchedPayments(ctx, chunk)
	if err != nil {
		return nil, err
	}
	charges, err := e.store.UnmatchedCharges(ctx, chunk)
	if err != nil {
		return nil, err
	}
	run.Scanned += len(payments) + len(charges)

	targets := make([]target, 0, len(payments)+len(charges))
	for i := range payments {
		targets = append(targets, paymentTarget(&payments[i]))
	}
	for i := range charges {
		targets = append(targets, chargeTarget(&charges[i]))
	}

	ranked, err := e.rankCandidates(ctx, targets)
	if err != nil {
		return nil, err
	}

	claimed := make(map[int64]bool)
	var proposals []Proposal
	for i, t := range targets {
		best, ok := firstUnclaimed(ranked[i], claimed)
		if !ok {
			// Normal terminal state: reported, never silently dropped.
			run.Unmatched++
			continue
		}
		claimed[best.Record.ID] = true
		run.Matched++

		proposals = append(proposals, Proposal{
			Kind:          t.kind,
			RecordID:      t.record.ID,
			ReservationID: t.reservationID,
			TransactionID: best.Record.ID,
			Confidence:    best.Confidence,
			Tier:          score.Tier(best.Confidence),
			AmountDelta:   best.AmountDelta,
			DateDelta:     best.DateDelta,
			Note: fmt.Sprintf(
				"matched %s %d to transaction %d: confidence %d (%s), amount delta %s, date delta %dd",
				t.kind, t.record.ID, best.Record.ID,
				best.Confidence, score.Tier(best.Confidence),
				money.FromCents(best.AmountDelta), best.DateDelta,
			),
		})
	}

	return proposals, nil
}

// target is one unmatched record viewed uniformly.
type target struct {
	kind          string
	record        score.Record
	side          ledger.Side
	reservationID *string
}

func paymentTarget(p *model.Payment) target {
	side := ledger.CreditSide
	amount := p.AmountCents
	if amount < 0 {
		// Refund: money leaving the account.
		side = ledger.DebitSide
		amount = -amount
	}
	return target{
		kind:          "payment",
		side:          side,
		reservationID: p.ReservationID,
		record: score.Record{
			ID:          p.ID,
			AmountCents: amount,
			Date:        p.Date,
			Text:        p.Notes,
		},
	}
}

func chargeTarget(c *model.Charge) target {
	side := ledger.DebitSide
	amount := c.AmountCents
	if amount < 0 {
		side = ledger.CreditSide
		amount = -amount
	}
	return target{
		kind:          "charge",
		side:          side,
		reservationID: c.ReservationID,
		record: score.Record{
			ID:          c.ID,
			AmountCents: amount,
			Date:        c.Date,
			Text:        c.Description,
		},
	}
}

// rankCandidates scores every target's candidate window concurrently
// and returns the candidates sorted best-first per target. Workers
// share nothing but the read-only inputs.
func (e *Engine) rankCandidates(ctx context.Context, targets []target) ([][]score.Candidate, error) {
	ranked := make([][]score.Candidate, len(targets))
	windows := make([][]model.BankTransaction, len(targets))

	// Candidate queries stay on the caller goroutine; only the pure
	// scoring fans out.
	for i, t := range targets {
		candidates, err := e.store.CandidateTransactions(
			ctx, t.side, t.record.AmountCents, e.cfg.Weights.AmountCapCents,
			t.record.Date, e.cfg.Weights.WindowDays,
		)
		if err != nil {
			return nil, err
		}
		windows[i] = candidates
	}

	var wg sync.WaitGroup
	jobs := make(chan int)

	for w := 0; w < e.cfg.Workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range jobs {
				ranked[i] = rankOne(targets[i], windows[i], e.cfg.Weights)
			}
		}()
	}
	for i := range targets {
		jobs <- i
	}
	close(jobs)
	wg.Wait()

	return ranked, nil
}

// rankOne scores one target against its candidate window.
func rankOne(t target, window []model.BankTransaction, w score.Weights) []score.Candidate {
	var ranked []score.Candidate
	for i := range window {
		txn := &window[i]
		amount := txn.CreditCents
		if t.side == ledger.DebitSide {
			amount = txn.DebitCents
		}
		candidate, ok := score.NewCandidate(t.record, score.Record{
			ID:          txn.ID,
			AmountCents: amount,
			Date:        txn.Date,
			Text:        txn.Description,
		}, w)
		if !ok {
			continue
		}
		ranked = append(ranked, candidate)
	}

	sort.Slice(ranked, func(i, j int) bool { return score.Less(ranked[i], ranked[j]) })
	return ranked
}

func firstUnclaimed(ranked []score.Candidate, claimed map[int64]bool) (score.Candidate, bool) {
	for _, c := range ranked {
		if !claimed[c.Record.ID] {
			return c, true
		}
	}
	return score.Candidate{}, false
}

// applyChunk writes one chunk's auto-applicable proposals inside a
// single transaction. Returns how many were applied; on error the
// whole chunk is rolled back and the count is zero.
func (e *Engine) applyChunk(ctx context.Context, proposals []Proposal, alreadyApplied int) (applied, flagged int, err error) {
	err = e.store.WithTransaction(ctx, func(tx *ledger.Store) error {
		for _, p := range proposals {
			autoApply := p.Tier == "high" || (p.Tier == "medium" && e.cfg.ApplyMedium)
			overLimit := e.cfg.Limit > 0 && alreadyApplied+applied >= e.cfg.Limit

			if !autoApply || overLimit {
				// Surfaced for manual review instead.
				if err := tx.MarkCandidate(ctx, p.Kind, p.RecordID, p.Confidence); err != nil {
					return err
				}
				flagged++
				continue
			}

			if err := e.applyOne(ctx, tx, p); err != nil {
				return err
			}
			applied++
		}
		return nil
	})
	if err != nil {
		return 0, 0, err
	}
	return applied, flagged, nil
}

// applyOne writes the link on both sides, recomputes the owning
// reservation, and appends the audit note, all on the caller's
// transaction. Re-applying an existing link is a no-op.
func (e *Engine) applyOne(ctx context.Context, tx *ledger.Store, p Proposal) error {
	details, err := json.Marshal(map[string]any{
		"confidence":   p.Confidence,
		"tier":         p.Tier,
		"amount_delta": p.AmountDelta,
		"date_delta":   p.DateDelta,
	})
	if err != nil {
		return fmt.Errorf("failed to encode match details: %w", err)
	}

	var linkResult ledger.LinkResult
	switch p.Kind {
	case "payment":
		linkResult, err = tx.LinkTransactionPayment(ctx, p.TransactionID, p.RecordID, p.Confidence, datatypes.JSON(details))
	case "charge":
		linkResult, err = tx.LinkTransactionCharge(ctx, p.TransactionID, p.RecordID, p.Confidence, datatypes.JSON(details))
	default:
		return fmt.Errorf("unknown proposal kind %q", p.Kind)
	}
	if err != nil {
		return err
	}
	if linkResult == ledger.AlreadyLinked {
		return nil
	}

	if p.ReservationID != nil {
		if err := tx.RecomputeReservationBalance(ctx, *p.ReservationID); err != nil {
			return err
		}
	}

	return tx.AppendAudit(ctx, &model.AuditEvent{
		RunID:      e.cfg.RunID,
		Actor:      e.cfg.Actor,
		Action:     "apply-match",
		EntityKind: p.Kind,
		EntityID:   fmt.Sprintf("%d", p.RecordID),
		Note:       p.Note,
		Metadata:   datatypes.JSON(details),
	})
}
