package upload

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vitalstream/backend/internal/models"
)

func manifest(names ...string) []models.FileDecl {
	decls := make([]models.FileDecl, len(names))
	for i, n := range names {
		decls[i] = models.FileDecl{Filename: n, ContentType: "text/plain"}
	}
	return decls
}

func TestCreateIsIdempotentForInFlightSessions(t *testing.T) {
	r := NewRegistry()

	first, created := r.Create("msg-1", "conn-1", "u1", "u1", "", manifest("a.txt"))
	require.True(t, created)

	// A client retry of upload_start must not reset the session.
	second, created := r.Create("msg-1", "conn-1", "u1", "u1", "", manifest("a.txt"))
	assert.False(t, created)
	assert.Same(t, first, second)
}

func TestCreateResetsTerminalSessions(t *testing.T) {
	r := NewRegistry()

	r.Create("msg-1", "conn-1", "u1", "u1", "", manifest("a.txt"))
	r.SetStatus("msg-1", models.UploadStatusCompleted)

	fresh, created := r.Create("msg-1", "conn-2", "u1", "u1", "", manifest("b.txt"))
	assert.True(t, created)
	assert.Equal(t, models.UploadStatusUploading, fresh.Status)
	assert.Contains(t, fresh.Files, "b.txt")
}

func TestUpdateProgressPreservesRecordedResults(t *testing.T) {
	r := NewRegistry()
	r.Create("msg-1", "conn-1", "u1", "u1", "", manifest("a.txt"))

	r.UpdateProgress("msg-1", models.ResultSnapshot{
		Status:   models.UploadStatusProcessing,
		Progress: 60,
		URLThumb: "/api/files/k1",
		URLFull:  "/api/files/k1",
		Files: []models.FileResult{
			{Filename: "a.txt", FileKey: "k1", Success: true},
		},
		SuccessfulFiles: 1,
		TotalFiles:      1,
	})

	// A bare progress tick must not erase the recorded file metadata.
	r.UpdateProgress("msg-1", models.ResultSnapshot{
		Status:   models.UploadStatusProcessing,
		Progress: 75,
		Message:  "Finalizing...",
	})

	snap, ok := r.Snapshot("msg-1")
	require.True(t, ok)
	assert.Equal(t, 75, snap.Progress)
	assert.Equal(t, "/api/files/k1", snap.URLThumb)
	require.Len(t, snap.Files, 1)
	assert.Equal(t, "k1", snap.Files[0].FileKey)
	assert.Equal(t, 1, snap.SuccessfulFiles)
	assert.Equal(t, 1, snap.TotalFiles)
}

func TestSetFileAbstractCopiesBeforeWriting(t *testing.T) {
	r := NewRegistry()
	r.Create("msg-1", "conn-1", "u1", "u1", "", manifest("a.txt"))
	r.UpdateProgress("msg-1", models.ResultSnapshot{
		Status:   models.UploadStatusCompleted,
		Progress: 100,
		Files: []models.FileResult{
			{Filename: "a.txt", FileKey: "k1", Success: true},
		},
		TotalFiles: 1,
	})

	before, ok := r.Snapshot("msg-1")
	require.True(t, ok)

	updated, ok := r.SetFileAbstract("msg-1", "a.txt", "Two-line summary.")
	require.True(t, ok)
	assert.Equal(t, "Two-line summary.", updated.Files[0].Abstract)

	// Snapshots handed out earlier never mutate under their readers.
	assert.Empty(t, before.Files[0].Abstract)

	after, ok := r.Snapshot("msg-1")
	require.True(t, ok)
	assert.Equal(t, "Two-line summary.", after.Files[0].Abstract)

	// Unknown files and sessions report failure instead of inventing state.
	_, ok = r.SetFileAbstract("msg-1", "ghost.txt", "x")
	assert.False(t, ok)
	_, ok = r.SetFileAbstract("ghost", "a.txt", "x")
	assert.False(t, ok)
}

func TestRemoveForConnSparesCompletedSessions(t *testing.T) {
	r := NewRegistry()

	r.Create("done", "conn-1", "u1", "u1", "", manifest("a.txt"))
	r.SetStatus("done", models.UploadStatusCompleted)

	r.Create("inflight", "conn-1", "u1", "u1", "", manifest("b.txt"))
	r.SetStatus("inflight", models.UploadStatusProcessing)

	r.Create("other", "conn-2", "u1", "u1", "", manifest("c.txt"))

	removed := r.RemoveForConn("conn-1")
	assert.Equal(t, 1, removed)

	_, ok := r.Get("done")
	assert.True(t, ok, "completed session must survive disconnect")
	_, ok = r.Get("inflight")
	assert.False(t, ok)
	_, ok = r.Get("other")
	assert.True(t, ok, "sessions of other connections are untouched")
}

func TestCleanupStale(t *testing.T) {
	r := NewRegistry()
	s, _ := r.Create("old", "conn-1", "u1", "u1", "", manifest("a.txt"))
	s.UpdatedAt = time.Now().Add(-time.Hour)
	r.Create("fresh", "conn-1", "u1", "u1", "", manifest("b.txt"))

	removed := r.CleanupStale(30 * time.Minute)
	assert.Equal(t, 1, removed)
	assert.Equal(t, 1, r.Count())
}

func TestAddChunkThroughRegistry(t *testing.T) {
	r := NewRegistry()
	r.Create("msg-1", "conn-1", "u1", "u1", "", manifest("a.txt"))

	status, fa, err := r.AddChunk("msg-1", "a.txt", 0, 2, []byte("he"))
	require.NoError(t, err)
	assert.Equal(t, StatusIncomplete, status)
	assert.Equal(t, 1, fa.Received)

	status, fa, err = r.AddChunk("msg-1", "a.txt", 1, 2, []byte("llo"))
	require.NoError(t, err)
	assert.Equal(t, StatusComplete, status)
	assert.Equal(t, []byte("hello"), fa.Data)
	assert.True(t, r.AllFilesReceived("msg-1"))

	// Chunks for unknown sessions are rejected.
	_, _, err = r.AddChunk("nope", "a.txt", 0, 1, []byte("x"))
	assert.Error(t, err)
}
