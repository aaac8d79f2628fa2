package extract

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/panjf2000/ants/v2"

	"github.com/vitalstream/backend/internal/fault"
	"github.com/vitalstream/backend/internal/models"
)

// MaxConcurrentPages caps simultaneous extraction engine calls per
// document. A hard admission-control limit, not a tunable: it bounds
// both external-API concurrency and local temp-file pressure.
const MaxConcurrentPages = 5

// DocumentMeta is the merged metadata of one extracted document.
type DocumentMeta struct {
	Date    string
	Lab     string
	Summary string
}

// UnitFailure records one failed extraction unit.
type UnitFailure struct {
	Ordinal int
	Err     error
}

// Coordinator runs page extractions in parallel and merges the
// results. A run has no partial or retry state: any unit failure
// fails the whole document and the caller must re-submit from
// scratch.
type Coordinator struct {
	engine Engine
}

// NewCoordinator creates a coordinator over the given engine.
func NewCoordinator(engine Engine) *Coordinator {
	return &Coordinator{engine: engine}
}

type unitOutcome struct {
	ordinal    int
	indicators []models.Indicator
	meta       ReportMeta
	err        error
}

// Extract runs one task per unit, at most MaxConcurrentPages in
// flight, and merges results in page order. If any unit fails the
// whole extraction fails with one aggregate error naming every failed
// page; indicator data silently missing from a medical document is
// worse than no data. On full success the merged indicators are
// deduplicated first-wins and the best document date is chosen across
// pages.
func (c *Coordinator) Extract(ctx context.Context, units []Unit) ([]models.Indicator, DocumentMeta, error) {
	if len(units) == 0 {
		return nil, DocumentMeta{}, fault.New(fault.Validation, "no extraction units")
	}

	pool, err := ants.NewPool(MaxConcurrentPages)
	if err != nil {
		return nil, DocumentMeta{}, fault.Wrap(fault.Fatal, err, "failed to create extraction pool")
	}
	defer pool.Release()

	outcomes := make([]unitOutcome, len(units))
	var wg sync.WaitGroup
	for i, u := range units {
		i, u := i, u
		wg.Add(1)
		submitErr := pool.Submit(func() {
			defer wg.Done()
			defer func() {
				if r := recover(); r != nil {
					outcomes[i] = unitOutcome{
						ordinal: u.Ordinal,
						err:     fault.New(fault.Extraction, "page %d extraction panicked: %v", u.Ordinal, r),
					}
				}
			}()
			outcomes[i] = c.extractUnit(ctx, u)
		})
		if submitErr != nil {
			wg.Done()
			outcomes[i] = unitOutcome{
				ordinal: u.Ordinal,
				err:     fault.Wrap(fault.Fatal, submitErr, "failed to submit page %d", u.Ordinal),
			}
		}
	}
	wg.Wait()

	var failures []UnitFailure
	for _, out := range outcomes {
		if out.err != nil {
			failures = append(failures, UnitFailure{Ordinal: out.ordinal, Err: out.err})
		}
	}
	if len(failures) > 0 {
		return nil, DocumentMeta{}, aggregateFailure(failures, len(units))
	}

	return c.merge(outcomes), metaFrom(outcomes), nil
}

// extractUnit invokes the engine on one unit. Errors and unparseable
// output become a failure record; a blank engine response is "no
// content on this page", not an error.
func (c *Coordinator) extractUnit(ctx context.Context, u Unit) unitOutcome {
	out := unitOutcome{ordinal: u.Ordinal}

	text, err := c.engine.Extract(ctx, u.Path, IndicatorPrompt, u.MimeType)
	if err != nil {
		out.err = fault.Wrap(fault.Extraction, err, "page %d", u.Ordinal)
		return out
	}
	if strings.TrimSpace(text) == "" {
		fmt.Printf("[Coordinator] Page %d returned no content\n", u.Ordinal)
		return out
	}

	res, err := parsePageResult(text)
	if err != nil {
		out.err = fault.Wrap(fault.Extraction, err, "page %d", u.Ordinal)
		return out
	}
	out.indicators = res.Indicators
	out.meta = res.Report
	return out
}

// merge concatenates per-page indicators in page order and
// deduplicates first-wins.
func (c *Coordinator) merge(outcomes []unitOutcome) []models.Indicator {
	sorted := make([]unitOutcome, len(outcomes))
	copy(sorted, outcomes)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].ordinal < sorted[j].ordinal })

	var all []models.Indicator
	for _, out := range sorted {
		all = append(all, out.indicators...)
	}
	return Dedup(all)
}

func metaFrom(outcomes []unitOutcome) DocumentMeta {
	sorted := make([]unitOutcome, len(outcomes))
	copy(sorted, outcomes)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].ordinal < sorted[j].ordinal })

	var dates []string
	meta := DocumentMeta{}
	var summaries []string
	for _, out := range sorted {
		dates = append(dates, out.meta.Date)
		if meta.Lab == "" {
			meta.Lab = out.meta.Lab
		}
		if s := strings.TrimSpace(out.meta.Summary); s != "" {
			summaries = append(summaries, s)
		}
	}
	meta.Date = BestDate(dates)
	meta.Summary = strings.Join(summaries, " ")
	return meta
}

// aggregateFailure folds per-unit failures into one error naming
// every failed page and its cause.
func aggregateFailure(failures []UnitFailure, total int) error {
	parts := make([]string, 0, len(failures))
	for _, f := range failures {
		parts = append(parts, fmt.Sprintf("page %d: %v", f.Ordinal, f.Err))
	}
	return fault.New(fault.Extraction, "%d of %d page(s) failed: %s",
		len(failures), total, strings.Join(parts, "; "))
}
