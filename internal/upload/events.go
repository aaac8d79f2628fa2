package upload

import "github.com/vitalstream/backend/internal/models"

// Channel event types. These shapes are the wire contract with the
// client; field names must stay stable.
const (
	EventFileError       = "file_error"
	EventFileProgress    = "file_progress"
	EventFileReceived    = "file_received"
	EventUploadProgress  = "upload_progress"
	EventUploadCompleted = "upload_completed"
	EventUploadError     = "upload_error"
)

// FileProgressEvent acknowledges one received chunk.
type FileProgressEvent struct {
	Type      string  `json:"type"`
	MessageID string  `json:"messageId"`
	Filename  string  `json:"filename"`
	Progress  float64 `json:"progress"`
	Status    string  `json:"status"`
}

// FileReceivedEvent reports one fully reassembled file.
type FileReceivedEvent struct {
	Type      string `json:"type"`
	MessageID string `json:"messageId"`
	Filename  string `json:"filename"`
	Status    string `json:"status"`
	Size      int64  `json:"size"`
}

// FileErrorEvent reports a file-scoped failure (e.g. a chunk that
// could not be decoded) without failing the session.
type FileErrorEvent struct {
	Type      string `json:"type"`
	MessageID string `json:"messageId"`
	Filename  string `json:"filename"`
	Error     string `json:"error"`
}

// ProgressEvent is a generic processing progress tick.
type ProgressEvent struct {
	Type      string `json:"type"`
	MessageID string `json:"messageId"`
	Status    string `json:"status"`
	Progress  int    `json:"progress"`
	Message   string `json:"message,omitempty"`
	Filename  string `json:"filename,omitempty"`
}

// CompletionEvent is the terminal message of an upload: either
// upload_completed or upload_error, always carrying the full result
// payload and per-file counts.
type CompletionEvent struct {
	Type            string                 `json:"type"`
	MessageID       string                 `json:"messageId"`
	Status          string                 `json:"status"`
	Progress        int                    `json:"progress"`
	Message         string                 `json:"message,omitempty"`
	Results         *models.ResultSnapshot `json:"results,omitempty"`
	SuccessfulFiles int                    `json:"successful_files"`
	FailedFiles     int                    `json:"failed_files"`
	TotalFiles      int                    `json:"total_files"`
}
