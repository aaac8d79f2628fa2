package extract

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"

	"github.com/pdfcpu/pdfcpu/pkg/api"

	"github.com/vitalstream/backend/internal/fault"
)

// MinPagesForParallel is the page count above which a document is
// split into per-page units. At or below it the whole document goes
// to the engine as one unit; splitting that small costs more than it
// buys.
const MinPagesForParallel = 2

// Unit is one independently extractable piece of a document: a single
// page, or the whole document for small/flat files.
type Unit struct {
	Ordinal  int // 1-based page number, 1 for whole-document units
	Path     string
	MimeType string

	// tempDir is set when the unit lives in a splitter-owned
	// directory that Cleanup must remove.
	tempDir string
}

// Splitter splits paginated documents into per-page extraction units.
type Splitter struct {
	tempRoot string
}

// NewSplitter creates a splitter writing page files under tempRoot.
func NewSplitter(tempRoot string) *Splitter {
	return &Splitter{tempRoot: tempRoot}
}

// PageCount reports the number of pages without splitting.
func (s *Splitter) PageCount(filePath string) (int, error) {
	n, err := api.PageCountFile(filePath)
	if err != nil {
		return 0, fault.Wrap(fault.Validation, err, "failed to count pages of %s", filepath.Base(filePath))
	}
	return n, nil
}

var pageSuffix = regexp.MustCompile(`_(\d+)\.pdf$`)

// Split produces one single-page unit per page, each written to its
// own temporary file. Documents with at most MinPagesForParallel
// pages are returned as a single whole-document unit with no temp
// artifacts. Callers must invoke Cleanup on the returned units no
// matter how far processing gets.
func (s *Splitter) Split(filePath string) ([]Unit, error) {
	count, err := s.PageCount(filePath)
	if err != nil {
		return nil, err
	}

	if count <= MinPagesForParallel {
		return []Unit{{Ordinal: 1, Path: filePath, MimeType: "application/pdf"}}, nil
	}

	outDir, err := os.MkdirTemp(s.tempRoot, "pages_")
	if err != nil {
		return nil, fault.Wrap(fault.Fatal, err, "failed to create page temp dir")
	}

	if err := api.SplitFile(filePath, outDir, 1, nil); err != nil {
		os.RemoveAll(outDir)
		return nil, fault.Wrap(fault.Extraction, err, "failed to split %s", filepath.Base(filePath))
	}

	entries, err := os.ReadDir(outDir)
	if err != nil {
		os.RemoveAll(outDir)
		return nil, fault.Wrap(fault.Fatal, err, "failed to list page temp dir")
	}

	units := make([]Unit, 0, count)
	for _, entry := range entries {
		m := pageSuffix.FindStringSubmatch(entry.Name())
		if m == nil {
			continue
		}
		page, err := strconv.Atoi(m[1])
		if err != nil {
			continue
		}
		units = append(units, Unit{
			Ordinal:  page,
			Path:     filepath.Join(outDir, entry.Name()),
			MimeType: "application/pdf",
			tempDir:  outDir,
		})
	}
	sort.Slice(units, func(i, j int) bool { return units[i].Ordinal < units[j].Ordinal })

	if len(units) != count {
		fmt.Printf("[Splitter] Expected %d pages, split produced %d\n", count, len(units))
	}
	fmt.Printf("[Splitter] Split %s into %d page unit(s)\n", filepath.Base(filePath), len(units))
	return units, nil
}

// Cleanup removes all temporary artifacts behind the units. Safe to
// call on whole-document units (which own no temp files) and after
// partial failures.
func (s *Splitter) Cleanup(units []Unit) {
	removed := make(map[string]struct{})
	for _, u := range units {
		if u.tempDir == "" {
			continue
		}
		if _, done := removed[u.tempDir]; done {
			continue
		}
		if err := os.RemoveAll(u.tempDir); err != nil {
			fmt.Printf("[Splitter] Cleanup failed for %s: %v\n", u.tempDir, err)
		}
		removed[u.tempDir] = struct{}{}
	}
}
