package expense

import (
	"fmt"
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/shopspring/decimal"
)

// ReasoningDelimiter closes the reasoning block some models emit before the answer
const ReasoningDelimiter = "</think>"

var reDecimal = regexp.MustCompile(`^\d+(\.\d+)?$`)

// StripReasoning drops everything up to and including the first
// ReasoningDelimiter, then trims surrounding whitespace. Answers without the
// delimiter are kept whole.
func StripReasoning(raw string) string {
	if i := strings.Index(raw, ReasoningDelimiter); i >= 0 {
		raw = raw[i+len(ReasoningDelimiter):]
	}
	return strings.TrimSpace(raw)
}

// NormalizeText cleans a category or merchant answer
func NormalizeText(raw string) string {
	return StripReasoning(raw)
}

// NormalizePrice parses a price answer into a non-negative decimal. A single
// leading currency symbol is allowed.
func NormalizePrice(raw string) (decimal.Decimal, error) {
	s := StripReasoning(raw)
	if r, size := utf8.DecodeRuneInString(s); size > 0 && unicode.Is(unicode.Sc, r) {
		s = strings.TrimSpace(s[size:])
	}

	if !reDecimal.MatchString(s) {
		return decimal.Zero, fmt.Errorf("%w: %q is not a non-negative decimal", ErrNormalization, raw)
	}
	amount, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, fmt.Errorf("%w: parsing %q: %v", ErrNormalization, s, err)
	}
	return amount, nil
}
