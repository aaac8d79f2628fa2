package extract

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDateCompletenessOrdering(t *testing.T) {
	// More complete date strings must outrank sparser ones.
	ordered := []string{
		"",
		"12",
		"2024",
		"Jan 2024",
		"15 January 2024",
		"2024-01-15T10:30:00Z",
	}
	for i := 1; i < len(ordered); i++ {
		a, b := ordered[i-1], ordered[i]
		assert.Less(t, DateCompleteness(a), DateCompleteness(b),
			"%q should score below %q", a, b)
	}
}

func TestDateCompletenessIsOrderIndependent(t *testing.T) {
	pairs := [][2]string{
		{"2024-01-15", "January 15"},
		{"03/04/2024", "2024"},
		{"Feb 1, 2023 10:00", "2023-02-01"},
	}
	for _, p := range pairs {
		forward := BestDate([]string{p[0], p[1]})
		backward := BestDate([]string{p[1], p[0]})
		if DateCompleteness(p[0]) != DateCompleteness(p[1]) {
			assert.Equal(t, forward, backward, "winner of %q vs %q depends on order", p[0], p[1])
		}
	}
}

func TestBestDate(t *testing.T) {
	tests := []struct {
		name       string
		candidates []string
		want       string
	}{
		{"empty input", nil, ""},
		{"all blank", []string{"", "  "}, ""},
		{"full timestamp wins", []string{"2024", "2024-01-15T10:30:00Z", "Jan 2024"}, "2024-01-15T10:30:00Z"},
		{"tie keeps earlier", []string{"2024-01-15", "2024-03-20"}, "2024-01-15"},
		{"whitespace trimmed", []string{"  2024-01-15  "}, "2024-01-15"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, BestDate(tt.candidates))
		})
	}
}
