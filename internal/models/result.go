package models

// FileResult is the normalized per-file outcome of one ingestion run.
// Failed files keep their entry, with Error set, so the client always
// sees the full file set it submitted.
type FileResult struct {
	Filename string `json:"filename" msgpack:"filename"`
	Type     string `json:"type,omitempty" msgpack:"type"`
	URLThumb string `json:"url_thumb,omitempty" msgpack:"url_thumb"`
	URLFull  string `json:"url_full,omitempty" msgpack:"url_full"`
	Raw      string `json:"raw,omitempty" msgpack:"raw"`
	Abstract string `json:"file_abstract,omitempty" msgpack:"file_abstract"`
	FileSize int64  `json:"file_size" msgpack:"file_size"`
	FileKey  string `json:"file_key,omitempty" msgpack:"file_key"`
	Success  bool   `json:"success" msgpack:"success"`
	Error    string `json:"error,omitempty" msgpack:"error"`
}

// ResultSnapshot is the last-known result state of an upload session.
// It is both the payload of the terminal channel message and the shape
// persisted by the result store, keyed by message id.
type ResultSnapshot struct {
	Status          UploadStatus `json:"status" msgpack:"status"`
	Progress        int          `json:"progress" msgpack:"progress"`
	Message         string       `json:"message,omitempty" msgpack:"message"`
	Type            string       `json:"type,omitempty" msgpack:"type"`
	URLThumb        string       `json:"url_thumb,omitempty" msgpack:"url_thumb"`
	URLFull         string       `json:"url_full,omitempty" msgpack:"url_full"`
	Files           []FileResult `json:"files,omitempty" msgpack:"files"`
	OriginalNames   []string     `json:"original_filenames,omitempty" msgpack:"original_filenames"`
	FileSizes       []int64      `json:"file_sizes,omitempty" msgpack:"file_sizes"`
	SuccessfulFiles int          `json:"successful_files" msgpack:"successful_files"`
	FailedFiles     int          `json:"failed_files" msgpack:"failed_files"`
	TotalFiles      int          `json:"total_files" msgpack:"total_files"`
}

// Merge applies an update onto the snapshot, preserving previously
// discovered file metadata. Status, progress and message always move;
// files, urls, names, sizes and counts only move when the update
// actually carries them. A progress tick must never erase a recorded
// result.
func (r *ResultSnapshot) Merge(update ResultSnapshot) {
	if update.Status != "" {
		r.Status = update.Status
	}
	r.Progress = update.Progress
	if update.Message != "" {
		r.Message = update.Message
	}
	if update.Type != "" {
		r.Type = update.Type
	}
	if update.URLThumb != "" {
		r.URLThumb = update.URLThumb
	}
	if update.URLFull != "" {
		r.URLFull = update.URLFull
	}
	if len(update.Files) > 0 {
		r.Files = update.Files
	}
	if len(update.OriginalNames) > 0 {
		r.OriginalNames = update.OriginalNames
	}
	if len(update.FileSizes) > 0 {
		r.FileSizes = update.FileSizes
	}
	if update.TotalFiles > 0 {
		r.SuccessfulFiles = update.SuccessfulFiles
		r.FailedFiles = update.FailedFiles
		r.TotalFiles = update.TotalFiles
	}
}
