package upload

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vitalstream/backend/internal/models"
)

func TestAddChunkOrderIndependentReassembly(t *testing.T) {
	var asm Assembler

	deliver := func(order []int) []byte {
		fa := models.NewFileAssembly("report.txt", "text/plain", 0)
		chunks := map[int][]byte{0: []byte("alpha-"), 1: []byte("beta-"), 2: []byte("gamma")}
		var last FileStatus
		for _, idx := range order {
			status, err := asm.AddChunk(fa, idx, 3, chunks[idx])
			require.NoError(t, err)
			last = status
		}
		require.Equal(t, StatusComplete, last)
		return fa.Data
	}

	inOrder := deliver([]int{0, 1, 2})
	outOfOrder := deliver([]int{2, 0, 1})
	assert.Equal(t, inOrder, outOfOrder)
	assert.Equal(t, []byte("alpha-beta-gamma"), outOfOrder)
}

func TestAddChunkDuplicateIsNotDoubleCounted(t *testing.T) {
	var asm Assembler
	fa := models.NewFileAssembly("report.txt", "text/plain", 0)

	status, err := asm.AddChunk(fa, 0, 3, []byte("aa"))
	require.NoError(t, err)
	assert.Equal(t, StatusIncomplete, status)
	assert.Equal(t, 1, fa.Received)

	// Redelivery of the same index is a no-op.
	status, err = asm.AddChunk(fa, 0, 3, []byte("aa"))
	require.NoError(t, err)
	assert.Equal(t, StatusIncomplete, status)
	assert.Equal(t, 1, fa.Received)

	_, err = asm.AddChunk(fa, 1, 3, []byte("bb"))
	require.NoError(t, err)
	status, err = asm.AddChunk(fa, 2, 3, []byte("cc"))
	require.NoError(t, err)
	assert.Equal(t, StatusComplete, status)
	assert.Equal(t, int64(6), fa.Size)
}

func TestAddChunkCompleteFiresExactlyOnce(t *testing.T) {
	var asm Assembler
	fa := models.NewFileAssembly("report.txt", "text/plain", 0)

	_, err := asm.AddChunk(fa, 0, 2, []byte("x"))
	require.NoError(t, err)
	status, err := asm.AddChunk(fa, 1, 2, []byte("y"))
	require.NoError(t, err)
	require.Equal(t, StatusComplete, status)

	// Further deliveries after completion never re-fire the edge.
	status, err = asm.AddChunk(fa, 1, 2, []byte("y"))
	require.NoError(t, err)
	assert.Equal(t, StatusIncomplete, status)
	assert.Equal(t, []byte("xy"), fa.Data)
}

func TestAddChunkValidation(t *testing.T) {
	tests := []struct {
		name  string
		index int
		total int
	}{
		{"negative index", -1, 3},
		{"index beyond total", 3, 3},
		{"zero total", 0, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var asm Assembler
			fa := models.NewFileAssembly("report.txt", "text/plain", 0)
			_, err := asm.AddChunk(fa, tt.index, tt.total, []byte("data"))
			assert.Error(t, err)
			assert.Equal(t, 0, fa.Received)
		})
	}
}

func TestMarkFailedExcludesFileFromAllReceived(t *testing.T) {
	var asm Assembler
	s := models.NewUploadSession("msg-1", "conn-1", "user-1", "user-1", "", []models.FileDecl{
		{Filename: "good.txt"},
		{Filename: "bad.txt"},
	})

	status, err := asm.AddChunk(s.Files["good.txt"], 0, 1, []byte("ok"))
	require.NoError(t, err)
	require.Equal(t, StatusComplete, status)

	assert.False(t, s.AllFilesReceived())

	asm.MarkFailed(s.Files["bad.txt"], "invalid base64 chunk data")
	assert.True(t, s.AllFilesReceived())

	// A failed file rejects further chunks.
	_, err = asm.AddChunk(s.Files["bad.txt"], 0, 1, []byte("late"))
	assert.Error(t, err)
}
