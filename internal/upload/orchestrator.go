package upload

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/vitalstream/backend/internal/extract"
	"github.com/vitalstream/backend/internal/fault"
	"github.com/vitalstream/backend/internal/loader"
	"github.com/vitalstream/backend/internal/models"
	"github.com/vitalstream/backend/internal/storage"
	"github.com/vitalstream/backend/internal/tasks"
)

// Progress allocation. Chunk transfer owns 0-30 of the overall bar;
// file processing divides the band above it. When a genetic loader is
// involved the per-file band stops at 50, leaving the rest of the bar
// to the loader's own long-running progress.
const (
	progressBase       = 30
	progressMax        = 90
	progressMaxGenetic = 50
	internalStart      = 30 // each file reports internal progress 30-100
)

// ProgressSink delivers events to the owning connection. Delivery is
// best-effort; a false return means the client is unreachable and the
// work continues regardless.
type ProgressSink interface {
	Send(connID string, event any) bool
}

// ResultSink persists upload outcomes and extracted indicators.
type ResultSink interface {
	SaveResult(ctx context.Context, messageID, userID string, snap models.ResultSnapshot) error
	InsertIndicators(ctx context.Context, ownerID string, indicators []models.Indicator, prov models.Provenance) error
}

// RecordLoader streams a genetic dump into the record store.
type RecordLoader interface {
	Load(ctx context.Context, ownerID, path string, prov models.Provenance, onProgress loader.ProgressFunc) (int, error)
}

// PageSplitter splits a paginated document into extraction units.
type PageSplitter interface {
	Split(path string) ([]extract.Unit, error)
	Cleanup(units []extract.Unit)
}

// Extractor runs bounded-parallel extraction over units and merges
// the results.
type Extractor interface {
	Extract(ctx context.Context, units []extract.Unit) ([]models.Indicator, extract.DocumentMeta, error)
}

// Orchestrator drives processing of a completed upload session: it
// routes each file to the right leaf pipeline, remaps per-file
// progress into the session's progress bar, persists the terminal
// result and broadcasts it.
type Orchestrator struct {
	registry   *Registry
	sink       ProgressSink
	objects    storage.ObjectStore
	results    ResultSink
	loader     RecordLoader
	splitter   PageSplitter
	extractor  Extractor
	engine     extract.Engine
	supervisor *tasks.Supervisor

	tempDir         string
	minTextChars    int
	downloadTimeout time.Duration
	maxArchiveBytes int64
}

// OrchestratorConfig collects the orchestrator's collaborators.
type OrchestratorConfig struct {
	Registry   *Registry
	Sink       ProgressSink
	Objects    storage.ObjectStore
	Results    ResultSink
	Loader     RecordLoader
	Splitter   PageSplitter
	Extractor  Extractor
	Engine     extract.Engine
	Supervisor *tasks.Supervisor

	TempDir         string
	MinTextChars    int
	DownloadTimeout time.Duration
	MaxArchiveBytes int64
}

// NewOrchestrator creates an orchestrator with defaults filled in.
func NewOrchestrator(cfg OrchestratorConfig) *Orchestrator {
	if cfg.TempDir == "" {
		cfg.TempDir = os.TempDir()
	}
	if cfg.MinTextChars <= 0 {
		cfg.MinTextChars = 50
	}
	if cfg.DownloadTimeout <= 0 {
		cfg.DownloadTimeout = 60 * time.Second
	}
	if cfg.MaxArchiveBytes <= 0 {
		cfg.MaxArchiveBytes = 2 << 30
	}
	return &Orchestrator{
		registry:        cfg.Registry,
		sink:            cfg.Sink,
		objects:         cfg.Objects,
		results:         cfg.Results,
		loader:          cfg.Loader,
		splitter:        cfg.Splitter,
		extractor:       cfg.Extractor,
		engine:          cfg.Engine,
		supervisor:      cfg.Supervisor,
		tempDir:         cfg.TempDir,
		minTextChars:    cfg.MinTextChars,
		downloadTimeout: cfg.DownloadTimeout,
		maxArchiveBytes: cfg.MaxArchiveBytes,
	}
}

// ProcessSession runs the full pipeline for a session whose files
// have all arrived. One file's failure never aborts the others; the
// batch only fails when zero files succeed. Never panics out: fatal
// errors become a failed result with the original message preserved.
func (o *Orchestrator) ProcessSession(ctx context.Context, messageID string) {
	s, ok := o.registry.Get(messageID)
	if !ok {
		fmt.Printf("[Orchestrator] No session for %s, skipping\n", short(messageID))
		return
	}

	defer func() {
		if r := recover(); r != nil {
			fmt.Printf("[Orchestrator] PANIC processing %s: %v\n", short(messageID), r)
			o.finishFailed(ctx, s, fmt.Sprintf("internal error: %v", r))
		}
	}()

	o.registry.SetStatus(messageID, models.UploadStatusProcessing)

	files := o.orderedFiles(s)
	if len(files) == 0 {
		o.finishFailed(ctx, s, "no files to process")
		return
	}

	o.resolveRemoteFiles(ctx, s)

	hasGenetic := false
	for _, fa := range files {
		if !fa.Failed && classifyFile(fa.Filename, fa.ContentType, fa.Data) == KindGenetic {
			hasGenetic = true
			break
		}
	}

	base, maxP, perFile := progressAllocation(len(files), hasGenetic)
	fmt.Printf("[Orchestrator] Session %s: %d file(s), windows %d-%d (%d each)\n",
		short(messageID), len(files), base, maxP, perFile)

	o.sendProgress(s, models.UploadStatusProcessing, base,
		fmt.Sprintf("Processing %d file(s)...", len(files)), "")

	results := make([]models.FileResult, 0, len(files))
	for i, fa := range files {
		winStart := base + i*perFile
		winEnd := base + (i+1)*perFile
		if winEnd > maxP {
			winEnd = maxP
		}
		results = append(results, o.processFile(ctx, s, fa, winStart, winEnd))
	}

	o.finish(ctx, s, results)
}

// orderedFiles returns the session's files in manifest order, with
// any undeclared stragglers appended by name.
func (o *Orchestrator) orderedFiles(s *models.UploadSession) []*models.FileAssembly {
	seen := make(map[string]bool, len(s.Files))
	files := make([]*models.FileAssembly, 0, len(s.Files))
	for _, decl := range s.Manifest {
		if fa, ok := s.Files[decl.Filename]; ok {
			files = append(files, fa)
			seen[decl.Filename] = true
		}
	}
	var extras []string
	for name := range s.Files {
		if !seen[name] {
			extras = append(extras, name)
		}
	}
	sort.Strings(extras)
	for _, name := range extras {
		files = append(files, s.Files[name])
	}
	return files
}

// resolveRemoteFiles downloads manifest entries declared by URL. A
// failed download marks the file failed and processing of the rest
// continues.
func (o *Orchestrator) resolveRemoteFiles(ctx context.Context, s *models.UploadSession) {
	for _, decl := range s.Manifest {
		if decl.SourceURL == "" {
			continue
		}
		fa := s.Files[decl.Filename]
		if fa == nil || fa.Complete() || fa.Failed {
			continue
		}
		data, err := fetchRemote(ctx, decl.SourceURL, o.downloadTimeout, o.maxArchiveBytes)
		if err != nil {
			o.registry.MarkFileFailed(s.MessageID, decl.Filename, err.Error())
			continue
		}
		o.registry.SetFileData(s.MessageID, decl.Filename, data)
	}
}

func progressAllocation(totalFiles int, hasGenetic bool) (base, maxP, perFile int) {
	base = progressBase
	maxP = progressMax
	if hasGenetic {
		maxP = progressMaxGenetic
	}
	if totalFiles <= 0 {
		return base, maxP, maxP - base
	}
	return base, maxP, (maxP - base) / totalFiles
}

// processFile runs one file through its leaf pipeline and returns a
// normalized result. Failures are captured in the result, never
// propagated.
func (o *Orchestrator) processFile(ctx context.Context, s *models.UploadSession, fa *models.FileAssembly, winStart, winEnd int) (res models.FileResult) {
	res = models.FileResult{Filename: fa.Filename, FileSize: fa.Size}

	defer func() {
		if r := recover(); r != nil {
			fmt.Printf("[Orchestrator] PANIC in file %s: %v\n", fa.Filename, r)
			res.Success = false
			res.Error = fmt.Sprintf("internal error: %v", r)
		}
	}()

	if fa.Failed {
		res.Error = fa.FailReason
		return res
	}
	if len(fa.Data) == 0 {
		res.Error = "empty file"
		return res
	}

	name, data, err := expandArchive(fa.Filename, fa.Data, o.maxArchiveBytes)
	if err != nil {
		res.Error = err.Error()
		return res
	}

	kind := classifyFile(name, fa.ContentType, data)
	if kind == KindUnsupported {
		res.Error = fmt.Sprintf("unsupported file type: %s", filepath.Ext(name))
		return res
	}
	res.Type = kind.String()

	obj, err := o.objects.Save(name, fa.ContentType, bytes.NewReader(data))
	if err != nil {
		res.Error = fmt.Sprintf("failed to store file: %v", err)
		return res
	}
	res.FileKey = obj.Key
	res.URLFull = o.objects.URLFor(obj.Key)
	res.URLThumb = res.URLFull
	if res.FileSize == 0 {
		res.FileSize = obj.Size
	}

	// Per-file progress: internal 30-100 remapped linearly into the
	// allocated window, clamped non-decreasing.
	lastSent := winStart
	emit := func(internal int, msg string) {
		mapped := remapProgress(internal, winStart, winEnd)
		if mapped < lastSent {
			mapped = lastSent
		}
		lastSent = mapped
		o.sendProgress(s, models.UploadStatusProcessing, mapped, msg, fa.Filename)
	}

	tmpPath, err := o.writeTemp(name, data)
	if err != nil {
		res.Error = fmt.Sprintf("failed to stage file: %v", err)
		return res
	}
	defer os.Remove(tmpPath)

	prov := models.Provenance{SourceTable: "uploads", SourceID: obj.Key}

	switch kind {
	case KindGenetic:
		err = o.processGenetic(ctx, s, tmpPath, prov, emit, &res)
	case KindDocument:
		err = o.processDocument(ctx, s, tmpPath, prov, emit, &res)
	default:
		err = o.processFlat(ctx, s, fa, tmpPath, name, kind, prov, emit, &res)
	}
	if err != nil {
		res.Success = false
		res.Error = err.Error()
		return res
	}

	emit(100, fmt.Sprintf("Finished %s", fa.Filename))
	res.Success = true
	return res
}

// processGenetic streams a genetic dump through the record loader.
// The loader reports (lines, saved, estimate); that is folded into
// internal 30-100 progress for the window remap.
func (o *Orchestrator) processGenetic(ctx context.Context, s *models.UploadSession, path string, prov models.Provenance, emit func(int, string), res *models.FileResult) error {
	saved, err := o.loader.Load(ctx, s.OwnerID, path, prov, func(lines, saved, total int) {
		internal := internalStart
		if total > 0 {
			internal = internalStart + (100-internalStart)*lines/total
		}
		emit(internal, fmt.Sprintf("Imported %d genetic markers...", saved))
	})
	if err != nil {
		return err
	}
	res.Abstract = fmt.Sprintf("Imported %d genetic markers", saved)
	return nil
}

// processDocument splits a paginated document and extracts pages in
// parallel. Extraction is all-or-nothing per document.
func (o *Orchestrator) processDocument(ctx context.Context, s *models.UploadSession, path string, prov models.Provenance, emit func(int, string), res *models.FileResult) error {
	emit(40, "Splitting document...")
	units, err := o.splitter.Split(path)
	if err != nil {
		return err
	}
	defer o.splitter.Cleanup(units)

	emit(50, fmt.Sprintf("Extracting %d page(s)...", len(units)))
	indicators, meta, err := o.extractor.Extract(ctx, units)
	if err != nil {
		return err
	}

	emit(85, "Saving indicators...")
	if err := o.results.InsertIndicators(ctx, s.OwnerID, indicators, prov); err != nil {
		return fault.Wrap(fault.Storage, err, "failed to save indicators")
	}

	res.Raw = meta.Summary
	res.Abstract = documentAbstract(len(indicators), meta)
	return nil
}

// processFlat extracts a single-unit file (image or flat text
// document). When the structured pass finds nothing and the plain
// transcription clears the minimum-length bar, the transcription is
// kept as the raw content.
func (o *Orchestrator) processFlat(ctx context.Context, s *models.UploadSession, fa *models.FileAssembly, path, name string, kind FileKind, prov models.Provenance, emit func(int, string), res *models.FileResult) error {
	emit(45, "Extracting...")
	unit := extract.Unit{Ordinal: 1, Path: path, MimeType: mimeForKind(kind, name, fa.ContentType)}

	indicators, meta, err := o.extractor.Extract(ctx, []extract.Unit{unit})
	if err != nil {
		return err
	}

	if len(indicators) > 0 {
		emit(85, "Saving indicators...")
		if err := o.results.InsertIndicators(ctx, s.OwnerID, indicators, prov); err != nil {
			return fault.Wrap(fault.Storage, err, "failed to save indicators")
		}
		res.Raw = meta.Summary
		res.Abstract = documentAbstract(len(indicators), meta)
		return nil
	}

	// No structured content; fall back to plain transcription.
	emit(70, "Transcribing...")
	text, err := o.engine.Extract(ctx, path, extract.PlainTextPrompt, unit.MimeType)
	if err != nil {
		return err
	}
	if len(strings.TrimSpace(text)) > o.minTextChars {
		res.Raw = text
	}
	return nil
}

func documentAbstract(indicatorCount int, meta extract.DocumentMeta) string {
	abstract := fmt.Sprintf("Extracted %d indicator(s)", indicatorCount)
	if meta.Date != "" {
		abstract += fmt.Sprintf(", dated %s", meta.Date)
	}
	if meta.Lab != "" {
		abstract += fmt.Sprintf(" (%s)", meta.Lab)
	}
	return abstract
}

// remapProgress maps internal 30-100 file progress into
// [winStart, winEnd].
func remapProgress(internal, winStart, winEnd int) int {
	if internal <= internalStart {
		return winStart
	}
	if internal >= 100 {
		return winEnd
	}
	ratio := float64(internal-internalStart) / float64(100-internalStart)
	return winStart + int(ratio*float64(winEnd-winStart))
}

// finish builds the batch summary, persists it and emits the terminal
// event.
func (o *Orchestrator) finish(ctx context.Context, s *models.UploadSession, results []models.FileResult) {
	successful := 0
	for _, r := range results {
		if r.Success {
			successful++
		}
	}
	failed := len(results) - successful

	var status models.UploadStatus
	var progress int
	var message string
	switch {
	case failed == 0:
		status = models.UploadStatusCompleted
		progress = 100
		message = fmt.Sprintf("All %d file(s) processed successfully", len(results))
	case successful > 0:
		status = models.UploadStatusPartialSuccess
		progress = 100
		message = fmt.Sprintf("%d of %d file(s) processed, %d failed", successful, len(results), failed)
	default:
		status = models.UploadStatusFailed
		progress = 0
		message = "All files failed to process"
	}

	snap := models.ResultSnapshot{
		Status:          status,
		Progress:        progress,
		Message:         message,
		Files:           results,
		SuccessfulFiles: successful,
		FailedFiles:     failed,
		TotalFiles:      len(results),
	}
	for _, r := range results {
		snap.OriginalNames = append(snap.OriginalNames, r.Filename)
		snap.FileSizes = append(snap.FileSizes, r.FileSize)
		if r.Success && snap.Type == "" {
			snap.Type = r.Type
			snap.URLThumb = r.URLThumb
			snap.URLFull = r.URLFull
		}
	}

	if status != models.UploadStatusFailed {
		// Smooth the jump to 100 so the client bar does not teleport.
		// Ticks go out before the terminal snapshot is recorded; a
		// session must never move backwards out of a terminal status.
		for _, p := range []int{92, 96} {
			o.sendProgress(s, models.UploadStatusProcessing, p, "Finalizing...", "")
			time.Sleep(150 * time.Millisecond)
		}
	}

	o.registry.UpdateProgress(s.MessageID, snap)

	// The persisted record is the system of record; the socket below
	// is best-effort.
	if err := o.results.SaveResult(ctx, s.MessageID, s.UserID, snap); err != nil {
		fmt.Printf("[Orchestrator] Failed to persist result for %s: %v\n", short(s.MessageID), err)
	}

	eventType := EventUploadCompleted
	if status == models.UploadStatusFailed {
		eventType = EventUploadError
	}
	o.sink.Send(s.ConnID, CompletionEvent{
		Type:            eventType,
		MessageID:       s.MessageID,
		Status:          string(status),
		Progress:        progress,
		Message:         message,
		Results:         &snap,
		SuccessfulFiles: successful,
		FailedFiles:     failed,
		TotalFiles:      len(results),
	})

	fmt.Printf("[Orchestrator] Session %s finished: %s (%d/%d ok)\n",
		short(s.MessageID), status, successful, len(results))

	o.scheduleAbstracts(s, snap)
}

// finishFailed short-circuits the session into a failed terminal
// state with the original error message preserved.
func (o *Orchestrator) finishFailed(ctx context.Context, s *models.UploadSession, message string) {
	snap := models.ResultSnapshot{
		Status:   models.UploadStatusFailed,
		Progress: 0,
		Message:  message,
	}
	o.registry.UpdateProgress(s.MessageID, snap)
	if err := o.results.SaveResult(ctx, s.MessageID, s.UserID, snap); err != nil {
		fmt.Printf("[Orchestrator] Failed to persist failure for %s: %v\n", short(s.MessageID), err)
	}
	o.sink.Send(s.ConnID, CompletionEvent{
		Type:      EventUploadError,
		MessageID: s.MessageID,
		Status:    string(models.UploadStatusFailed),
		Progress:  0,
		Message:   message,
		Results:   &snap,
	})
}

// scheduleAbstracts generates missing per-file abstracts off the
// critical path. A failure here is logged by the supervisor and never
// touches the upload outcome. The terminal snapshot is shared with the
// registry and with every reader it has served, so the abstract write
// goes through the registry's copy-on-write method; a session already
// purged on disconnect falls back to a private copy.
func (o *Orchestrator) scheduleAbstracts(s *models.UploadSession, snap models.ResultSnapshot) {
	if o.supervisor == nil || o.engine == nil {
		return
	}
	for _, fr := range snap.Files {
		if !fr.Success || fr.Abstract != "" || fr.FileKey == "" {
			continue
		}
		fr := fr
		messageID, userID := s.MessageID, s.UserID
		o.supervisor.Submit("abstract:"+fr.Filename, func(ctx context.Context) error {
			path, err := o.objects.Path(fr.FileKey)
			if err != nil {
				return err
			}
			text, err := o.engine.Extract(ctx, path, extract.PlainTextPrompt, mimeForKind(KindText, fr.Filename, ""))
			if err != nil {
				return err
			}
			if len(text) > 200 {
				text = text[:200]
			}

			updated, ok := o.registry.SetFileAbstract(messageID, fr.Filename, text)
			if !ok {
				updated = snap
				updated.Files = append([]models.FileResult(nil), snap.Files...)
				for i := range updated.Files {
					if updated.Files[i].Filename == fr.Filename {
						updated.Files[i].Abstract = text
					}
				}
			}
			return o.results.SaveResult(ctx, messageID, userID, updated)
		})
	}
}

// sendProgress records a progress tick in the registry and forwards
// it to the client. Send failure means the client is unreachable;
// processing continues.
func (o *Orchestrator) sendProgress(s *models.UploadSession, status models.UploadStatus, progress int, message, filename string) {
	o.registry.UpdateProgress(s.MessageID, models.ResultSnapshot{
		Status:   status,
		Progress: progress,
		Message:  message,
	})
	o.sink.Send(s.ConnID, ProgressEvent{
		Type:      EventUploadProgress,
		MessageID: s.MessageID,
		Status:    string(status),
		Progress:  progress,
		Message:   message,
		Filename:  filename,
	})
}

// writeTemp stages bytes into the orchestrator's temp dir, keeping
// the original extension so downstream tools can sniff the format.
func (o *Orchestrator) writeTemp(name string, data []byte) (string, error) {
	path := filepath.Join(o.tempDir, uuid.New().String()+filepath.Ext(name))
	if err := os.WriteFile(path, data, 0644); err != nil {
		return "", err
	}
	return path, nil
}
