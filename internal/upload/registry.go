package upload

import (
	"fmt"
	"sync"
	"time"

	"github.com/vitalstream/backend/internal/fault"
	"github.com/vitalstream/backend/internal/models"
)

// Registry is the process-wide table of in-flight upload sessions,
// keyed by message id. It owns session lifecycle and is the only
// shared mutable structure in the pipeline; all mutation goes through
// its methods so the snapshot-merge invariant is enforced in one place.
//
// Constructed explicitly and injected into handlers; there is no
// package-level instance.
type Registry struct {
	mu        sync.RWMutex
	sessions  map[string]*models.UploadSession
	assembler Assembler
}

// NewRegistry creates an empty session registry.
func NewRegistry() *Registry {
	return &Registry{sessions: make(map[string]*models.UploadSession)}
}

// Create registers a new upload session. Idempotent under client
// retries: if a session with the same message id is still in flight
// (uploading or processing), the existing session is returned and
// created is false. A terminal prior session with the same id is
// replaced by a fresh one.
func (r *Registry) Create(messageID, connID, userID, ownerID, query string, manifest []models.FileDecl) (*models.UploadSession, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if existing, ok := r.sessions[messageID]; ok {
		if !existing.Status.Terminal() {
			fmt.Printf("[Registry] Duplicate upload_start for in-flight session %s, returning existing\n", short(messageID))
			return existing, false
		}
		fmt.Printf("[Registry] Reusing message id %s after terminal status %s, resetting\n", short(messageID), existing.Status)
	}

	s := models.NewUploadSession(messageID, connID, userID, ownerID, query, manifest)
	r.sessions[messageID] = s
	fmt.Printf("[Registry] Session %s created: %d files declared (active: %d)\n", short(messageID), len(manifest), len(r.sessions))
	return s, true
}

// Get returns the session for a message id.
func (r *Registry) Get(messageID string) (*models.UploadSession, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[messageID]
	return s, ok
}

// AddChunk delivers one decoded chunk to a session's file, creating
// the assembly slot on first sight of an undeclared filename. Returns
// the per-file status and the file's assembly state.
func (r *Registry) AddChunk(messageID, filename string, index, total int, data []byte) (FileStatus, *models.FileAssembly, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.sessions[messageID]
	if !ok {
		return StatusIncomplete, nil, fault.New(fault.Validation, "no session for message id %s", messageID)
	}
	fa, ok := s.Files[filename]
	if !ok {
		fa = models.NewFileAssembly(filename, "", 0)
		s.Files[filename] = fa
	}
	status, err := r.assembler.AddChunk(fa, index, total, data)
	s.UpdatedAt = time.Now()
	return status, fa, err
}

// SetFileData resolves a file's bytes directly, bypassing chunk
// assembly. Used for manifest entries fetched server-side by URL.
func (r *Registry) SetFileData(messageID, filename string, data []byte) {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.sessions[messageID]
	if !ok {
		return
	}
	fa, ok := s.Files[filename]
	if !ok {
		fa = models.NewFileAssembly(filename, "", 0)
		s.Files[filename] = fa
	}
	fa.Data = data
	fa.Size = int64(len(data))
	fa.Chunks = nil
	s.UpdatedAt = time.Now()
}

// MarkFileFailed records a file-scoped failure (e.g. chunk decode
// error) without corrupting the rest of the session.
func (r *Registry) MarkFileFailed(messageID, filename, reason string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.sessions[messageID]
	if !ok {
		return
	}
	fa, ok := s.Files[filename]
	if !ok {
		fa = models.NewFileAssembly(filename, "", 0)
		s.Files[filename] = fa
	}
	r.assembler.MarkFailed(fa, reason)
	s.UpdatedAt = time.Now()
}

// AllFilesReceived reports whether every non-failed file of the
// session is fully reassembled.
func (r *Registry) AllFilesReceived(messageID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[messageID]
	return ok && s.AllFilesReceived()
}

// SetStatus moves the session to a new status.
func (r *Registry) SetStatus(messageID string, status models.UploadStatus) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if s, ok := r.sessions[messageID]; ok {
		s.Status = status
		s.UpdatedAt = time.Now()
	}
}

// UpdateProgress merges a progress update into the session's last
// result snapshot. Previously recorded file metadata (urls, file
// entries, counts) survives bare progress ticks; see
// ResultSnapshot.Merge for the precedence rules.
func (r *Registry) UpdateProgress(messageID string, update models.ResultSnapshot) {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.sessions[messageID]
	if !ok {
		return
	}
	if s.LastResult == nil {
		s.LastResult = &models.ResultSnapshot{}
	}
	s.LastResult.Merge(update)
	if update.Status != "" {
		s.Status = update.Status
	}
	s.Progress = update.Progress
	s.UpdatedAt = time.Now()
}

// SetFileAbstract records a lazily generated abstract on one file of
// the session's last result. The file slice is copied before the
// write, so snapshots already handed out never mutate under their
// readers. Returns the updated snapshot for persistence.
func (r *Registry) SetFileAbstract(messageID, filename, abstract string) (models.ResultSnapshot, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.sessions[messageID]
	if !ok || s.LastResult == nil {
		return models.ResultSnapshot{}, false
	}

	files := append([]models.FileResult(nil), s.LastResult.Files...)
	found := false
	for i := range files {
		if files[i].Filename == filename {
			files[i].Abstract = abstract
			found = true
		}
	}
	if !found {
		return models.ResultSnapshot{}, false
	}
	s.LastResult.Files = files
	s.UpdatedAt = time.Now()
	return *s.LastResult, true
}

// Snapshot returns a copy of the session's last result snapshot.
func (r *Registry) Snapshot(messageID string) (models.ResultSnapshot, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[messageID]
	if !ok || s.LastResult == nil {
		return models.ResultSnapshot{}, false
	}
	return *s.LastResult, true
}

// Remove purges one session from the registry.
func (r *Registry) Remove(messageID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.sessions, messageID)
}

// RemoveForConn purges all non-completed sessions owned by a
// disconnecting connection. Completed sessions are left alone: their
// result is already persisted and a reconnecting client may still
// read it. In-flight work keeps running; only the in-memory entry is
// dropped, and nothing assumes it survives.
func (r *Registry) RemoveForConn(connID string) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	removed := 0
	for id, s := range r.sessions {
		if s.ConnID == connID && s.Status != models.UploadStatusCompleted {
			delete(r.sessions, id)
			removed++
		}
	}
	if removed > 0 {
		fmt.Printf("[Registry] Disconnect %s: removed %d session(s)\n", short(connID), removed)
	}
	return removed
}

// CleanupStale drops sessions not touched within maxAge. Run
// periodically from the server loop.
func (r *Registry) CleanupStale(maxAge time.Duration) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	cutoff := time.Now().Add(-maxAge)
	removed := 0
	for id, s := range r.sessions {
		if s.UpdatedAt.Before(cutoff) {
			delete(r.sessions, id)
			removed++
		}
	}
	if removed > 0 {
		fmt.Printf("[Registry] Cleaned up %d stale session(s)\n", removed)
	}
	return removed
}

// Count returns the number of registered sessions.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

func short(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
