// Package loader streams large line-oriented genetic data dumps into
// the record store in bounded batches. Source files run from hundreds
// of megabytes to low gigabytes; the loader never holds more than one
// batch of parsed rows in memory.
package loader

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/vitalstream/backend/internal/fault"
	"github.com/vitalstream/backend/internal/models"
)

// DefaultBatchSize is the number of parsed rows flushed per bulk
// insert.
const DefaultBatchSize = 50000

// batchesPerYield is how many flushes happen between cooperative
// sleeps, so one huge file does not monopolize the scheduler while
// other sessions are emitting progress.
const batchesPerYield = 5

// BulkInserter flushes one batch of records as a single insert with
// conflict-ignore semantics, so retried loads do not duplicate rows.
type BulkInserter interface {
	InsertGeneticBatch(ctx context.Context, records []models.GeneticRecord) error
}

// ProgressFunc is invoked at every batch boundary with the lines
// consumed so far, rows actually saved, and the upfront line-count
// estimate (progress display only, never a correctness bound).
type ProgressFunc func(linesProcessed, rowsSaved, estimatedTotal int)

// Loader parses raw genetic dumps (23andMe-style tab-separated text)
// and bulk-inserts them.
type Loader struct {
	store     BulkInserter
	batchSize int
}

// New creates a loader. batchSize <= 0 selects DefaultBatchSize.
func New(store BulkInserter, batchSize int) *Loader {
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}
	return &Loader{store: store, batchSize: batchSize}
}

// Load streams the file at path into the store for ownerID. Returns
// the number of rows successfully saved, which may be less than rows
// parsed when some batch inserts failed: insert failures are logged
// and counted, and later batches still run. Malformed rows are
// skipped with a warning, never aborting the load. I/O failures on
// the file itself are returned as errors.
func (l *Loader) Load(ctx context.Context, ownerID, path string, prov models.Provenance, onProgress ProgressFunc) (int, error) {
	estimatedTotal, err := countLines(path)
	if err != nil {
		return 0, fault.Wrap(fault.Storage, err, "failed to scan %s", path)
	}
	fmt.Printf("[Loader] Loading %s: ~%d lines\n", path, estimatedTotal)

	f, err := os.Open(path)
	if err != nil {
		return 0, fault.Wrap(fault.Storage, err, "failed to open %s", path)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 64*1024), 4*1024*1024)

	var (
		headerSeen    bool
		lines         int
		saved         int
		failedBatches int
		flushes       int
		batch         = make([]models.GeneticRecord, 0, l.batchSize)
	)

	flush := func() {
		if len(batch) == 0 {
			return
		}
		if err := l.store.InsertGeneticBatch(ctx, batch); err != nil {
			failedBatches++
			fmt.Printf("[Loader] Batch insert failed (%d rows): %v\n", len(batch), err)
		} else {
			saved += len(batch)
		}
		batch = batch[:0]
		flushes++

		if onProgress != nil {
			onProgress(lines, saved, estimatedTotal)
		}
		if flushes%batchesPerYield == 0 {
			time.Sleep(100 * time.Millisecond)
		}
	}

	for scanner.Scan() {
		lines++
		line := scanner.Text()

		if !headerSeen {
			if isHeaderLine(line) {
				headerSeen = true
			}
			continue
		}

		trimmed := strings.TrimSpace(line)
		if trimmed == "" || strings.HasPrefix(trimmed, "#") {
			continue
		}

		rec, ok := parseRow(trimmed, ownerID, prov)
		if !ok {
			fmt.Printf("[Loader] Skipping malformed row at line %d\n", lines)
			continue
		}
		batch = append(batch, rec)

		if len(batch) >= l.batchSize {
			flush()
			if ctx.Err() != nil {
				return saved, ctx.Err()
			}
		}
	}
	if err := scanner.Err(); err != nil {
		return saved, fault.Wrap(fault.Storage, err, "read failed at line %d", lines)
	}

	flush()

	if failedBatches > 0 {
		fmt.Printf("[Loader] Done: %d rows saved, %d batch(es) failed\n", saved, failedBatches)
	} else {
		fmt.Printf("[Loader] Done: %d rows saved from %d lines\n", saved, lines)
	}
	return saved, nil
}

// isHeaderLine detects the column header that separates file metadata
// from data rows. Both the commented 23andMe form ("# rsid ...") and
// a bare header line are accepted.
func isHeaderLine(line string) bool {
	lower := strings.ToLower(line)
	return strings.Contains(lower, "rsid") &&
		strings.Contains(lower, "chromosome") &&
		strings.Contains(lower, "position")
}

// parseRow splits one data row into a record. Tab is the primary
// separator; rows from loosely formatted exports fall back to any
// whitespace. Rows with fewer than 4 fields or a non-integer position
// are rejected.
func parseRow(line, ownerID string, prov models.Provenance) (models.GeneticRecord, bool) {
	fields := strings.Split(line, "\t")
	if len(fields) < 4 {
		fields = strings.Fields(line)
	}
	if len(fields) < 4 {
		return models.GeneticRecord{}, false
	}

	position, err := strconv.ParseInt(strings.TrimSpace(fields[2]), 10, 64)
	if err != nil {
		return models.GeneticRecord{}, false
	}

	return models.GeneticRecord{
		OwnerID:     ownerID,
		RSID:        strings.TrimSpace(fields[0]),
		Chromosome:  strings.TrimSpace(fields[1]),
		Position:    position,
		Genotype:    strings.TrimSpace(fields[3]),
		SourceTable: prov.SourceTable,
		SourceID:    prov.SourceID,
	}, true
}

// countLines does one upfront sequential pass to estimate total lines
// for progress percentages.
func countLines(path string) (int, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer f.Close()

	buf := make([]byte, 256*1024)
	count := 0
	for {
		n, err := f.Read(buf)
		count += bytes.Count(buf[:n], []byte{'\n'})
		if err == io.EOF {
			return count, nil
		}
		if err != nil {
			return count, err
		}
	}
}
