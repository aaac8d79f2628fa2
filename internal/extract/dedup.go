package extract

import "github.com/vitalstream/backend/internal/models"

// Dedup drops indicators missing a name or value and collapses
// duplicates by (lower-cased name, raw value), keeping the first
// occurrence. Idempotent: running it on its own output is a no-op.
func Dedup(indicators []models.Indicator) []models.Indicator {
	seen := make(map[string]struct{}, len(indicators))
	out := make([]models.Indicator, 0, len(indicators))
	for _, in := range indicators {
		if !in.Valid() {
			continue
		}
		key := in.DedupKey()
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, in)
	}
	return out
}
