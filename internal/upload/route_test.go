package upload

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClassifyFile(t *testing.T) {
	geneticHead := []byte("# This data file generated by an export\nrsid\tchromosome\tposition\tgenotype\n")

	tests := []struct {
		name        string
		filename    string
		contentType string
		data        []byte
		want        FileKind
	}{
		{"pdf by extension", "report.PDF", "", []byte("x"), KindDocument},
		{"pdf by content type", "report.bin", "application/pdf", []byte("x"), KindDocument},
		{"pdf by magic bytes", "report", "", []byte("%PDF-1.7"), KindDocument},
		{"png image", "scan.png", "", []byte("x"), KindImage},
		{"jpeg by content type", "scan", "image/jpeg", []byte("x"), KindImage},
		{"genetic dump", "genome.txt", "text/plain", geneticHead, KindGenetic},
		{"genetic by csv", "genome.csv", "", geneticHead, KindGenetic},
		{"plain text", "notes.txt", "text/plain", []byte("clinical notes"), KindText},
		{"text by content type", "notes", "text/markdown", []byte("notes"), KindText},
		{"binary blob", "tool.exe", "application/octet-stream", []byte{0x4d, 0x5a}, KindUnsupported},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, classifyFile(tt.filename, tt.contentType, tt.data))
		})
	}
}

func TestLooksGeneticSniffsHeadOnly(t *testing.T) {
	// Marker past the 4KB sniff window is not detected.
	data := make([]byte, 8192)
	for i := range data {
		data[i] = 'x'
	}
	copy(data[5000:], []byte("rsid chromosome position"))
	assert.False(t, looksGenetic(data))

	copy(data[:64], []byte("rsid\tchromosome\tposition\tgenotype\n"))
	assert.True(t, looksGenetic(data))
}

func TestMimeForKind(t *testing.T) {
	assert.Equal(t, "application/pdf", mimeForKind(KindDocument, "a.pdf", ""))
	assert.Equal(t, "image/webp", mimeForKind(KindImage, "scan.webp", ""))
	assert.Equal(t, "image/tiff", mimeForKind(KindImage, "scan", "image/tiff"))
	assert.Equal(t, "image/png", mimeForKind(KindImage, "scan", ""))
	assert.Equal(t, "text/plain", mimeForKind(KindText, "notes.txt", ""))
}
