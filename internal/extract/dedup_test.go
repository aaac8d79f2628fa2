package extract

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vitalstream/backend/internal/models"
)

func TestDedupFirstWins(t *testing.T) {
	in := []models.Indicator{
		{Name: "Glucose", Value: "95", Unit: "mg/dL"},
		{Name: "glucose", Value: "95", Unit: "mmol/L"},
		{Name: "Glucose", Value: "100"},
	}

	out := Dedup(in)
	require.Len(t, out, 2)
	// Case-insensitive duplicate collapses to the first occurrence.
	assert.Equal(t, "mg/dL", out[0].Unit)
	// A different value is a different indicator.
	assert.Equal(t, "100", out[1].Value)
}

func TestDedupDropsInvalid(t *testing.T) {
	in := []models.Indicator{
		{Name: "", Value: "95"},
		{Name: "Glucose", Value: ""},
		{Name: "Glucose", Value: "95"},
	}
	out := Dedup(in)
	require.Len(t, out, 1)
	assert.Equal(t, "Glucose", out[0].Name)
}

func TestDedupIsIdempotent(t *testing.T) {
	in := []models.Indicator{
		{Name: "Glucose", Value: "95"},
		{Name: "GLUCOSE", Value: "95"},
		{Name: "Hemoglobin", Value: "14.2"},
	}
	once := Dedup(in)
	twice := Dedup(once)
	assert.Equal(t, once, twice)
}
