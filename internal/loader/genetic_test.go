package loader

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vitalstream/backend/internal/models"
	"github.com/vitalstream/backend/internal/testutil"
)

var testProv = models.Provenance{SourceTable: "uploads", SourceID: "obj-1"}

func writeDump(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "genome.txt")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestLoadSkipsPreamble(t *testing.T) {
	dump := strings.Join([]string{
		"# This data file generated by export on 2024-01-15",
		"# Fields are tab-separated",
		"# rsid\tchromosome\tposition\tgenotype",
		"rs1\t1\t1001\tAA",
		"rs2\t1\t1002\tAG",
		"",
	}, "\n")

	store := testutil.NewMockResultStore()
	l := New(store, 0)

	saved, err := l.Load(context.Background(), "u1", writeDump(t, dump), testProv, nil)
	require.NoError(t, err)
	assert.Equal(t, 2, saved)
	require.Len(t, store.Records, 2)
	assert.Equal(t, "rs1", store.Records[0].RSID)
	assert.Equal(t, "1", store.Records[0].Chromosome)
	assert.Equal(t, int64(1001), store.Records[0].Position)
	assert.Equal(t, "AA", store.Records[0].Genotype)
	assert.Equal(t, "uploads", store.Records[0].SourceTable)
	assert.Equal(t, "obj-1", store.Records[0].SourceID)
}

func TestLoadSkipsMalformedRows(t *testing.T) {
	dump := strings.Join([]string{
		"rsid\tchromosome\tposition\tgenotype",
		"rs1\t1\t1001\tAA",
		"rs2\t1",
		"rs3\t1\tnot-a-number\tCC",
		"# trailing comment",
		"rs4 2 2002 CT",
		"",
	}, "\n")

	store := testutil.NewMockResultStore()
	l := New(store, 0)

	saved, err := l.Load(context.Background(), "u1", writeDump(t, dump), testProv, nil)
	require.NoError(t, err)
	// Whitespace-separated rows parse through the fallback split.
	assert.Equal(t, 2, saved)
	assert.Equal(t, "rs4", store.Records[1].RSID)
}

func TestLoadSurvivesFailedBatches(t *testing.T) {
	var b strings.Builder
	b.WriteString("rsid\tchromosome\tposition\tgenotype\n")
	for i := 1; i <= 100; i++ {
		fmt.Fprintf(&b, "rs%d\t1\t%d\tAA\n", i, 1000+i)
	}

	store := testutil.NewMockResultStore()
	store.BatchErrs = map[int]error{4: errors.New("connection reset")}
	l := New(store, 10)

	saved, err := l.Load(context.Background(), "u1", writeDump(t, b.String()), testProv, nil)
	require.NoError(t, err, "a failed batch never fails the load")
	assert.Equal(t, 90, saved)
	assert.Equal(t, 10, store.BatchCalls())
	assert.Len(t, store.Records, 90)
}

func TestLoadReportsProgressAtBatchBoundaries(t *testing.T) {
	var b strings.Builder
	b.WriteString("rsid\tchromosome\tposition\tgenotype\n")
	for i := 1; i <= 25; i++ {
		fmt.Fprintf(&b, "rs%d\t1\t%d\tAA\n", i, 1000+i)
	}

	store := testutil.NewMockResultStore()
	l := New(store, 10)

	var ticks int
	var lastSaved, lastTotal int
	saved, err := l.Load(context.Background(), "u1", writeDump(t, b.String()), testProv,
		func(lines, saved, total int) {
			ticks++
			lastSaved = saved
			lastTotal = total
		})
	require.NoError(t, err)
	assert.Equal(t, 25, saved)
	assert.Equal(t, 3, ticks)
	assert.Equal(t, 25, lastSaved)
	// Estimate counts every physical line, header included.
	assert.Equal(t, 26, lastTotal)
}

func TestLoadWithoutHeaderSavesNothing(t *testing.T) {
	dump := "rs1\t1\t1001\tAA\nrs2\t1\t1002\tAG\n"

	store := testutil.NewMockResultStore()
	l := New(store, 0)

	saved, err := l.Load(context.Background(), "u1", writeDump(t, dump), testProv, nil)
	require.NoError(t, err)
	assert.Equal(t, 0, saved)
}

func TestLoadMissingFile(t *testing.T) {
	store := testutil.NewMockResultStore()
	l := New(store, 0)
	_, err := l.Load(context.Background(), "u1", filepath.Join(t.TempDir(), "missing.txt"), testProv, nil)
	assert.Error(t, err)
}
