package upload

import (
	"archive/zip"
	"bytes"
	"compress/gzip"
	"io"
	"path/filepath"
	"strings"

	"github.com/vitalstream/backend/internal/fault"
)

// expandArchive unpacks a .zip or .gz upload into the single file it
// carries, enforcing a decompressed size cap (the security boundary
// for compressed uploads is a byte budget, not wall-clock). Non-archive
// inputs are returned unchanged.
func expandArchive(filename string, data []byte, maxBytes int64) (string, []byte, error) {
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".gz":
		return expandGzip(filename, data, maxBytes)
	case ".zip":
		return expandZip(filename, data, maxBytes)
	default:
		return filename, data, nil
	}
}

func expandGzip(filename string, data []byte, maxBytes int64) (string, []byte, error) {
	gr, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return "", nil, fault.Wrap(fault.Validation, err, "invalid gzip archive %s", filename)
	}
	defer gr.Close()

	out, err := readCapped(gr, maxBytes)
	if err != nil {
		return "", nil, fault.Wrap(fault.Validation, err, "failed to decompress %s", filename)
	}

	inner := strings.TrimSuffix(filename, filepath.Ext(filename))
	if gr.Name != "" {
		inner = gr.Name
	}
	return inner, out, nil
}

func expandZip(filename string, data []byte, maxBytes int64) (string, []byte, error) {
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", nil, fault.Wrap(fault.Validation, err, "invalid zip archive %s", filename)
	}

	// The upload contract is one data file per archive; resource
	// forks and directory entries are skipped.
	for _, f := range zr.File {
		if f.FileInfo().IsDir() || strings.HasPrefix(f.Name, "__MACOSX") || strings.HasPrefix(filepath.Base(f.Name), ".") {
			continue
		}
		rc, err := f.Open()
		if err != nil {
			return "", nil, fault.Wrap(fault.Validation, err, "failed to open %s inside %s", f.Name, filename)
		}
		out, err := readCapped(rc, maxBytes)
		rc.Close()
		if err != nil {
			return "", nil, fault.Wrap(fault.Validation, err, "failed to decompress %s", filename)
		}
		return filepath.Base(f.Name), out, nil
	}
	return "", nil, fault.New(fault.Validation, "archive %s contains no files", filename)
}

// readCapped reads at most maxBytes and fails when the stream exceeds
// the cap instead of truncating silently.
func readCapped(r io.Reader, maxBytes int64) ([]byte, error) {
	out, err := io.ReadAll(io.LimitReader(r, maxBytes+1))
	if err != nil {
		return nil, err
	}
	if int64(len(out)) > maxBytes {
		return nil, fault.New(fault.Validation, "decompressed size exceeds %d byte cap", maxBytes)
	}
	return out, nil
}
