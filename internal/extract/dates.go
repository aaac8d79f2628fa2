package extract

import (
	"regexp"
	"strings"
	"unicode"
)

var yearPattern = regexp.MustCompile(`\b(19|20)\d{2}\b`)

var monthNames = []string{
	"january", "february", "march", "april", "may", "june",
	"july", "august", "september", "october", "november", "december",
	"jan", "feb", "mar", "apr", "jun", "jul", "aug", "sep", "oct", "nov", "dec",
}

// DateCompleteness scores how complete a candidate document-date
// string looks. Longer strings carrying a 4-digit year, month names,
// time separators or ISO markers score higher. Empty scores zero.
// The score induces a total preorder: the same pair compared in
// either order picks the same winner.
func DateCompleteness(s string) int {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0
	}

	score := 1

	lenScore := len(s) / 2
	if lenScore > 10 {
		lenScore = 10
	}
	score += lenScore

	if strings.ContainsFunc(s, unicode.IsDigit) {
		score += 2
	}
	if yearPattern.MatchString(s) {
		score += 5
	}

	lower := strings.ToLower(s)
	for _, m := range monthNames {
		if strings.Contains(lower, m) {
			score += 3
			break
		}
	}

	if strings.ContainsAny(s, "-/ ") {
		score += 2
	}
	if strings.Contains(s, ":") {
		score += 4
	}
	for _, marker := range []string{"T", "Z", "GMT", "UTC"} {
		if strings.Contains(s, marker) {
			score += 3
			break
		}
	}

	return score
}

// BestDate picks the highest-scoring non-empty candidate. Ties keep
// the earlier candidate, so the result is deterministic but decided
// by score, not by page order.
func BestDate(candidates []string) string {
	best := ""
	bestScore := 0
	for _, c := range candidates {
		if score := DateCompleteness(c); score > bestScore {
			best = strings.TrimSpace(c)
			bestScore = score
		}
	}
	return best
}
