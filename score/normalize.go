package score

import (
	"regexp"
	"strings"
)

// Boilerplate tokens that bank statements and booking exports inject
// around the useful part of a description. Stripped before comparing.
// Tokens are matched after punctuation and digits are stripped, so
// "E-TRANSFER" arrives as the two tokens "E" and "TRANSFER".
var boilerplateTokens = map[string]struct{}{
	"PAYMENT":    {},
	"DEPOSIT":    {},
	"ETRANSFER":  {},
	"E":          {},
	"TRANSFER":   {},
	"INTERAC":    {},
	"VISA":       {},
	"MASTERCARD": {},
	"DEBIT":      {},
	"CREDIT":     {},
	"POS":        {},
	"PURCHASE":   {},
	"THANK":      {},
	"YOU":        {},
	"REF":        {},
	"INV":        {},
}

var nonAlpha = regexp.MustCompile(`[^A-Z ]+`)

// Normalize upper-cases a description, strips punctuation and numeric
// noise, and drops boilerplate tokens, leaving the words that actually
// identify a vendor or client.
func Normalize(text string) string {
	upper := strings.ToUpper(text)
	upper = nonAlpha.ReplaceAllString(upper, " ")

	fields := strings.Fields(upper)
	kept := fields[:0]
	for _, f := range fields {
		if _, noise := boilerplateTokens[f]; noise {
			continue
		}
		kept = append(kept, f)
	}
	return strings.Join(kept, " ")
}

// textRatio measures token overlap between two normalized descriptions
// as 2*|common| / (|a| + |b|), in [0, 1]. Token-based rather than
// edit-distance: statement descriptions reorder and truncate words, and
// shared vocabulary is the reliable signal.
func textRatio(a, b string) float64 {
	tokensA := strings.Fields(a)
	tokensB := strings.Fields(b)
	if len(tokensA) == 0 || len(tokensB) == 0 {
		return 0
	}

	counts := make(map[string]int, len(tokensA))
	for _, t := range tokensA {
		counts[t]++
	}

	common := 0
	for _, t := range tokensB {
		if counts[t] > 0 {
			counts[t]--
			common++
		}
	}

	return 2 * float64(common) / float64(len(tokensA)+len(tokensB))
}
