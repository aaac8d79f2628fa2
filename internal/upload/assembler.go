package upload

import (
	"fmt"
	"sort"

	"github.com/vitalstream/backend/internal/fault"
	"github.com/vitalstream/backend/internal/models"
)

// FileStatus is the outcome of delivering one chunk.
type FileStatus int

const (
	// StatusIncomplete means more chunks are still expected.
	StatusIncomplete FileStatus = iota
	// StatusComplete is returned exactly once, on the transition
	// edge when the last missing chunk arrives.
	StatusComplete
)

// Assembler reconstructs complete files from arbitrarily-sized,
// possibly out-of-order chunks. It is not safe for concurrent use on
// the same FileAssembly; the registry serializes access per session.
type Assembler struct{}

// AddChunk records one chunk. Duplicate indices are ignored rather
// than double-counted, so redelivery under client retries is safe.
// On the completing chunk the file is reassembled strictly by index
// order and the resolved byte length recorded.
func (Assembler) AddChunk(fa *models.FileAssembly, index, total int, data []byte) (FileStatus, error) {
	if fa.Failed {
		return StatusIncomplete, fault.New(fault.Transport, "file %s already failed: %s", fa.Filename, fa.FailReason)
	}
	if total <= 0 {
		return StatusIncomplete, fault.New(fault.Validation, "file %s: total chunks must be positive, got %d", fa.Filename, total)
	}
	if index < 0 || index >= total {
		return StatusIncomplete, fault.New(fault.Validation, "file %s: chunk index %d out of range [0,%d)", fa.Filename, index, total)
	}
	if fa.TotalChunks == 0 {
		fa.TotalChunks = total
	} else if fa.TotalChunks != total {
		return StatusIncomplete, fault.New(fault.Validation, "file %s: declared chunk count changed from %d to %d", fa.Filename, fa.TotalChunks, total)
	}
	if fa.Complete() {
		return StatusIncomplete, nil
	}

	if _, seen := fa.Chunks[index]; seen {
		return StatusIncomplete, nil
	}
	fa.Chunks[index] = data
	fa.Received = len(fa.Chunks)

	if fa.Received < fa.TotalChunks {
		return StatusIncomplete, nil
	}

	assemble(fa)
	return StatusComplete, nil
}

// MarkFailed records a file-scoped transport failure. The file drops
// out of the all-received check so one bad chunk cannot wedge the
// session.
func (Assembler) MarkFailed(fa *models.FileAssembly, reason string) {
	fa.Failed = true
	fa.FailReason = reason
	fa.Chunks = nil
	fmt.Printf("[Assembler] File %s marked failed: %s\n", fa.Filename, reason)
}

// assemble concatenates chunks by index order, not arrival order. The
// resolved length supersedes any client-declared size.
func assemble(fa *models.FileAssembly) {
	indices := make([]int, 0, len(fa.Chunks))
	for i := range fa.Chunks {
		indices = append(indices, i)
	}
	sort.Ints(indices)

	var size int
	for _, i := range indices {
		size += len(fa.Chunks[i])
	}
	buf := make([]byte, 0, size)
	for _, i := range indices {
		buf = append(buf, fa.Chunks[i]...)
	}

	fa.Data = buf
	fa.Size = int64(len(buf))
	fa.Chunks = nil // chunk map no longer needed once assembled
}
