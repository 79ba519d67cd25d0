// Package score computes a deterministic match confidence between two
// financial records. The scorer is a pure function: no store access, no
// clock, no shared state, so candidate pairs can be scored from any
// number of goroutines.
package score

import (
	"time"
)

// Confidence tiers. High and medium proposals are auto-applicable; low
// is surfaced for manual review.
const (
	HighFloor   = 80
	MediumFloor = 50
)

// Tier buckets a confidence value.
func Tier(confidence int) string {
	switch {
	case confidence >= HighFloor:
		return "high"
	case confidence >= MediumFloor:
		return "medium"
	default:
		return "low"
	}
}

// Weights is the scoring table. The exact values were chosen
// empirically and disagree between historical cleanup passes, so they
// are configuration, not constants.
type Weights struct {
	// Amount closeness points, tightest band first.
	AmountExact int // |delta| < $0.01
	AmountNear  int // |delta| < AmountNearCents
	AmountFar   int // |delta| <= AmountCapCents
	// AmountNearCents bounds the near band; AmountCapCents disqualifies
	// pairs further apart than it.
	AmountNearCents int64
	AmountCapCents  int64

	// Date proximity points.
	DateSame     int // same day
	DateAdjacent int // within 1 day
	DateClose    int // within 3 days
	DateWindow   int // within WindowDays
	// WindowDays disqualifies pairs dated further apart than this.
	WindowDays int

	// TextMax scales the description-similarity ratio; applied only
	// when both records carry text.
	TextMax int
}

// DefaultWeights is the canonical scoring table.
func DefaultWeights() Weights {
	return Weights{
		AmountExact:     50,
		AmountNear:      30,
		AmountFar:       10,
		AmountNearCents: 50,
		AmountCapCents:  100,
		DateSame:        50,
		DateAdjacent:    30,
		DateClose:       20,
		DateWindow:      10,
		WindowDays:      7,
		TextMax:         20,
	}
}

// Record is the scorer's view of any financial row: statement line,
// payment or charge.
type Record struct {
	ID          int64
	AmountCents int64
	Date        time.Time
	Text        string
}

// Score returns the additive confidence for a candidate pair, or
// ok=false when the pair is disqualified outright (amount delta beyond
// the cap, or date outside the search window). Disqualification is a
// sentinel, not a low score: a $90 difference is not a bad match, it is
// no match.
func Score(a, b Record, w Weights) (confidence int, ok bool) {
	amountDelta := absInt64(a.AmountCents - b.AmountCents)
	switch {
	case amountDelta == 0:
		confidence += w.AmountExact
	case amountDelta < w.AmountNearCents:
		confidence += w.AmountNear
	case amountDelta <= w.AmountCapCents:
		confidence += w.AmountFar
	default:
		return 0, false
	}

	dateDelta := dayDelta(a.Date, b.Date)
	switch {
	case dateDelta == 0:
		confidence += w.DateSame
	case dateDelta <= 1:
		confidence += w.DateAdjacent
	case dateDelta <= 3:
		confidence += w.DateClose
	case dateDelta <= w.WindowDays:
		confidence += w.DateWindow
	default:
		return 0, false
	}

	if a.Text != "" && b.Text != "" {
		ratio := textRatio(Normalize(a.Text), Normalize(b.Text))
		confidence += int(ratio * float64(w.TextMax))
	}

	return confidence, true
}

// Candidate pairs a scored record with its deltas for tie-breaking.
type Candidate struct {
	Record      Record
	Confidence  int
	AmountDelta int64
	DateDelta   int
}

// NewCandidate scores target against candidate and fills the deltas.
func NewCandidate(target, candidate Record, w Weights) (Candidate, bool) {
	confidence, ok := Score(target, candidate, w)
	if !ok {
		return Candidate{}, false
	}
	return Candidate{
		Record:      candidate,
		Confidence:  confidence,
		AmountDelta: absInt64(target.AmountCents - candidate.AmountCents),
		DateDelta:   dayDelta(target.Date, candidate.Date),
	}, true
}

// Less orders candidates best-first: higher confidence, then smaller
// amount delta, then smaller date delta, then the earlier-created id.
// Total and deterministic, so repeated runs over unchanged data propose
// identical matches.
func Less(a, b Candidate) bool {
	if a.Confidence != b.Confidence {
		return a.Confidence > b.Confidence
	}
	if a.AmountDelta != b.AmountDelta {
		return a.AmountDelta < b.AmountDelta
	}
	if a.DateDelta != b.DateDelta {
		return a.DateDelta < b.DateDelta
	}
	return a.Record.ID < b.Record.ID
}

func absInt64(v int64) int64 {
	if v < 0 {
		return -v
	}
	return v
}

// dayDelta counts whole calendar days between two dates, ignoring the
// time-of-day component statements sometimes carry.
func dayDelta(a, b time.Time) int {
	ay, am, ad := a.Date()
	by, bm, bd := b.Date()
	da := time.Date(ay, am, ad, 0, 0, 0, 0, time.UTC)
	db := time.Date(by, bm, bd, 0, 0, 0, 0, time.UTC)

	delta := int(da.Sub(db).Hours() / 24)
	if delta < 0 {
		delta = -delta
	}
	return delta
}
