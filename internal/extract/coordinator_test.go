package extract

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vitalstream/backend/internal/testutil"
)

func pageUnits(n int) []Unit {
	units := make([]Unit, n)
	for i := range units {
		units[i] = Unit{Ordinal: i + 1, Path: fmt.Sprintf("p%d", i+1), MimeType: "application/pdf"}
	}
	return units
}

func pageJSON(name, value, date string) string {
	return fmt.Sprintf(`{"indicators":[{"name":%q,"value":%q}],"report":{"date":%q}}`, name, value, date)
}

func TestExtractFailsWholeDocumentOnAnyPageFailure(t *testing.T) {
	engine := &testutil.MockEngine{
		Default: pageJSON("Glucose", "95", "2024-01-15"),
		Errs:    map[string]error{"p3": errors.New("model timeout")},
	}
	c := NewCoordinator(engine)

	indicators, _, err := c.Extract(context.Background(), pageUnits(5))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "1 of 5 page(s) failed")
	assert.Contains(t, err.Error(), "page 3")
	assert.Nil(t, indicators, "a partial document must yield no indicators")
}

func TestExtractRejectsEmptyUnitList(t *testing.T) {
	c := NewCoordinator(&testutil.MockEngine{})
	_, _, err := c.Extract(context.Background(), nil)
	assert.Error(t, err)
}

// gateEngine counts in-flight calls to observe the concurrency ceiling.
type gateEngine struct {
	inFlight atomic.Int32
	peak     atomic.Int32
}

func (e *gateEngine) Extract(ctx context.Context, filePath, prompt, mimeType string) (string, error) {
	n := e.inFlight.Add(1)
	for {
		p := e.peak.Load()
		if n <= p || e.peak.CompareAndSwap(p, n) {
			break
		}
	}
	time.Sleep(20 * time.Millisecond)
	e.inFlight.Add(-1)
	return `{"indicators":[],"report":{}}`, nil
}

func TestExtractBoundsConcurrency(t *testing.T) {
	engine := &gateEngine{}
	c := NewCoordinator(engine)

	_, _, err := c.Extract(context.Background(), pageUnits(12))
	require.NoError(t, err)
	assert.LessOrEqual(t, engine.peak.Load(), int32(MaxConcurrentPages))
}

func TestExtractMergesInPageOrder(t *testing.T) {
	engine := &testutil.MockEngine{
		Responses: map[string]string{
			"p1": pageJSON("Glucose", "95", "Jan 2024"),
			"p2": pageJSON("Hemoglobin", "14.2", "2024-01-15T10:30:00Z"),
			"p3": pageJSON("glucose", "95", ""),
		},
	}
	c := NewCoordinator(engine)

	indicators, meta, err := c.Extract(context.Background(), pageUnits(3))
	require.NoError(t, err)

	// Page-3 duplicate of the page-1 indicator collapses first-wins.
	require.Len(t, indicators, 2)
	assert.Equal(t, "Glucose", indicators[0].Name)
	assert.Equal(t, "Hemoglobin", indicators[1].Name)

	// The most complete date across pages wins regardless of page order.
	assert.Equal(t, "2024-01-15T10:30:00Z", meta.Date)
}

func TestExtractToleratesBlankPages(t *testing.T) {
	engine := &testutil.MockEngine{
		Responses: map[string]string{
			"p1": pageJSON("Glucose", "95", "2024-01-15"),
			"p2": "   ",
		},
	}
	c := NewCoordinator(engine)

	indicators, _, err := c.Extract(context.Background(), pageUnits(2))
	require.NoError(t, err)
	assert.Len(t, indicators, 1)
}

func TestExtractParsesFencedOutput(t *testing.T) {
	fenced := "Here is the extracted data:\n```json\n" +
		pageJSON("Glucose", "95", "2024-01-15") +
		"\n```\nLet me know if you need anything else."
	engine := &testutil.MockEngine{Responses: map[string]string{"p1": fenced}}
	c := NewCoordinator(engine)

	indicators, meta, err := c.Extract(context.Background(), pageUnits(1))
	require.NoError(t, err)
	require.Len(t, indicators, 1)
	assert.Equal(t, "Glucose", indicators[0].Name)
	assert.Equal(t, "2024-01-15", meta.Date)
}

func TestExtractFailsOnUnparseableOutput(t *testing.T) {
	engine := &testutil.MockEngine{Responses: map[string]string{"p1": "I could not read this document."}}
	c := NewCoordinator(engine)

	_, _, err := c.Extract(context.Background(), pageUnits(1))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "page 1")
}
