package models

import "time"

// UploadStatus represents the status of an upload session.
type UploadStatus string

const (
	UploadStatusUploading      UploadStatus = "uploading"
	UploadStatusProcessing     UploadStatus = "processing"
	UploadStatusCompleted      UploadStatus = "completed"
	UploadStatusPartialSuccess UploadStatus = "partial_success"
	UploadStatusFailed         UploadStatus = "failed"
)

// Terminal reports whether the status is a final one.
func (s UploadStatus) Terminal() bool {
	switch s {
	case UploadStatusCompleted, UploadStatusPartialSuccess, UploadStatusFailed:
		return true
	}
	return false
}

// FileDecl is one entry of the manifest a client declares in
// upload_start, before any bytes arrive.
type FileDecl struct {
	Filename    string `json:"filename"`
	Size        int64  `json:"size"`
	ContentType string `json:"contentType"`
	SourceURL   string `json:"sourceUrl,omitempty"` // fetched server-side when set
}

// FileAssembly tracks chunk reassembly for one file within a session.
// Data is populated exactly once, when all chunks have arrived.
type FileAssembly struct {
	Filename    string
	ContentType string
	TotalChunks int
	Chunks      map[int][]byte
	Received    int
	Data        []byte
	Size        int64 // resolved byte length, supersedes the declared size
	Failed      bool
	FailReason  string
}

// NewFileAssembly creates an empty assembly state for one declared file.
func NewFileAssembly(filename, contentType string, totalChunks int) *FileAssembly {
	return &FileAssembly{
		Filename:    filename,
		ContentType: contentType,
		TotalChunks: totalChunks,
		Chunks:      make(map[int][]byte, totalChunks),
	}
}

// Complete reports whether the file has been fully reassembled.
func (fa *FileAssembly) Complete() bool { return fa.Data != nil }

// UploadSession represents one logical multi-file upload request,
// identified by the client's message id.
type UploadSession struct {
	MessageID string
	ConnID    string
	UserID    string
	OwnerID   string // target owner, may differ from UserID
	Query     string
	Manifest  []FileDecl
	Status    UploadStatus
	Progress  int
	Files     map[string]*FileAssembly
	CreatedAt time.Time
	UpdatedAt time.Time

	// LastResult is the last known result snapshot; progress-only
	// updates merge into it rather than replacing it.
	LastResult *ResultSnapshot
}

// NewUploadSession creates a session in uploading status with one
// assembly slot per manifest entry.
func NewUploadSession(messageID, connID, userID, ownerID, query string, manifest []FileDecl) *UploadSession {
	now := time.Now()
	s := &UploadSession{
		MessageID: messageID,
		ConnID:    connID,
		UserID:    userID,
		OwnerID:   ownerID,
		Query:     query,
		Manifest:  manifest,
		Status:    UploadStatusUploading,
		Files:     make(map[string]*FileAssembly, len(manifest)),
		CreatedAt: now,
		UpdatedAt: now,
	}
	for _, decl := range manifest {
		s.Files[decl.Filename] = NewFileAssembly(decl.Filename, decl.ContentType, 0)
	}
	return s
}

// AllFilesReceived reports whether every non-failed file in the
// manifest has been fully reassembled. Failed files are excluded so a
// single bad chunk cannot wedge the session forever.
func (s *UploadSession) AllFilesReceived() bool {
	if len(s.Files) == 0 {
		return false
	}
	any := false
	for _, fa := range s.Files {
		if fa.Failed {
			continue
		}
		if !fa.Complete() {
			return false
		}
		any = true
	}
	return any
}
