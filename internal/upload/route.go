package upload

import (
	"bytes"
	"path/filepath"
	"strings"
)

// FileKind selects the leaf pipeline a file is routed to.
type FileKind int

const (
	// KindUnsupported rejects the file with a validation failure.
	KindUnsupported FileKind = iota
	// KindDocument routes through the page splitter and the
	// parallel extraction coordinator.
	KindDocument
	// KindImage routes through single-unit extraction.
	KindImage
	// KindGenetic routes through the streaming record loader.
	KindGenetic
	// KindText routes through single-unit extraction with the
	// plain-text fallback.
	KindText
)

func (k FileKind) String() string {
	switch k {
	case KindDocument:
		return "report"
	case KindImage:
		return "image"
	case KindGenetic:
		return "genetic"
	case KindText:
		return "document"
	default:
		return "unsupported"
	}
}

var imageExts = map[string]string{
	".png":  "image/png",
	".jpg":  "image/jpeg",
	".jpeg": "image/jpeg",
	".webp": "image/webp",
}

// classifyFile decides the pipeline for one reassembled file from its
// name, declared content type and leading bytes. Genetic dumps are
// plain text files whose header names rsid/chromosome columns, so the
// sniff looks at the first couple of kilobytes.
func classifyFile(filename, contentType string, data []byte) FileKind {
	ext := strings.ToLower(filepath.Ext(filename))

	if ext == ".pdf" || contentType == "application/pdf" || bytes.HasPrefix(data, []byte("%PDF")) {
		return KindDocument
	}
	if _, ok := imageExts[ext]; ok || strings.HasPrefix(contentType, "image/") {
		return KindImage
	}
	if ext == ".txt" || ext == ".csv" || strings.HasPrefix(contentType, "text/") {
		if looksGenetic(data) {
			return KindGenetic
		}
		return KindText
	}
	return KindUnsupported
}

// looksGenetic sniffs the head of a text file for a genetic-dump
// column header.
func looksGenetic(data []byte) bool {
	head := data
	if len(head) > 4096 {
		head = head[:4096]
	}
	lower := strings.ToLower(string(head))
	return strings.Contains(lower, "rsid") &&
		(strings.Contains(lower, "chromosome") || strings.Contains(lower, "position"))
}

// mimeForKind maps a classified file to the MIME type sent to the
// extraction engine.
func mimeForKind(kind FileKind, filename, declared string) string {
	switch kind {
	case KindDocument:
		return "application/pdf"
	case KindImage:
		if m, ok := imageExts[strings.ToLower(filepath.Ext(filename))]; ok {
			return m
		}
		if declared != "" {
			return declared
		}
		return "image/png"
	default:
		return "text/plain"
	}
}
