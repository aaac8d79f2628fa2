package api

import (
	"encoding/base64"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vitalstream/backend/internal/channel"
	"github.com/vitalstream/backend/internal/extract"
	"github.com/vitalstream/backend/internal/loader"
	"github.com/vitalstream/backend/internal/models"
	"github.com/vitalstream/backend/internal/testutil"
	"github.com/vitalstream/backend/internal/upload"
)

const wsIndicatorJSON = `{"indicators":[{"name":"Glucose","value":"95","unit":"mg/dL","status":"normal"}],
 "report":{"date":"2024-01-15","lab":"Acme Labs","summary":"Routine panel."}}`

type wsFixture struct {
	store  *testutil.MockResultStore
	client *websocket.Conn
}

// newWSFixture wires a real hub, registry and orchestrator behind the
// socket handler and dials it.
func newWSFixture(t *testing.T) *wsFixture {
	t.Helper()

	hub := channel.NewHub()
	registry := upload.NewRegistry()
	store := testutil.NewMockResultStore()
	engine := &testutil.MockEngine{Default: wsIndicatorJSON}

	orch := upload.NewOrchestrator(upload.OrchestratorConfig{
		Registry:  registry,
		Sink:      hub,
		Objects:   testutil.NewMockObjectStore(),
		Results:   store,
		Loader:    loader.New(store, 0),
		Extractor: extract.NewCoordinator(engine),
		Engine:    engine,
		TempDir:   t.TempDir(),
	})

	e := echo.New()
	e.GET("/api/ws/uploads", NewWebSocketHandler(hub, registry, orch).HandleWebSocket)
	srv := httptest.NewServer(e)
	t.Cleanup(srv.Close)

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/ws/uploads?connectionId=conn-test"
	client, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { client.Close() })

	return &wsFixture{store: store, client: client}
}

func (f *wsFixture) send(t *testing.T, msgType string, payload any) {
	t.Helper()
	raw, err := json.Marshal(payload)
	require.NoError(t, err)
	require.NoError(t, f.client.WriteJSON(WSMessage{Type: msgType, Payload: raw, Timestamp: time.Now().UnixMilli()}))
}

// readUntil reads events until one of the wanted type arrives,
// returning it decoded into a generic map. Intermediate events are
// collected into seen.
func (f *wsFixture) readUntil(t *testing.T, wantType string, seen *[]map[string]any) map[string]any {
	t.Helper()
	deadline := time.Now().Add(10 * time.Second)
	for {
		require.True(t, time.Now().Before(deadline), "timed out waiting for %s", wantType)
		f.client.SetReadDeadline(time.Now().Add(10 * time.Second))
		_, raw, err := f.client.ReadMessage()
		require.NoError(t, err)

		var ev map[string]any
		require.NoError(t, json.Unmarshal(raw, &ev))
		if seen != nil {
			*seen = append(*seen, ev)
		}
		if ev["type"] == wantType {
			return ev
		}
		if wantType != upload.EventUploadError && ev["type"] == upload.EventUploadError {
			t.Fatalf("unexpected upload_error: %v", ev)
		}
	}
}

func chunked(data string, size int) []string {
	encoded := base64.StdEncoding
	var chunks []string
	for i := 0; i < len(data); i += size {
		end := i + size
		if end > len(data) {
			end = len(data)
		}
		chunks = append(chunks, encoded.EncodeToString([]byte(data[i:end])))
	}
	return chunks
}

func TestWebSocketUploadRoundtrip(t *testing.T) {
	f := newWSFixture(t)

	connected := f.readUntil(t, "connected", nil)
	assert.Equal(t, "conn-test", connected["connectionId"])

	f.send(t, MsgTypeUploadStart, UploadStartPayload{
		MessageID: "m1",
		UserID:    "u1",
		Files:     []models.FileDecl{{Filename: "panel.txt", Size: 33, ContentType: "text/plain"}},
	})
	ack := f.readUntil(t, MsgTypeUploadStart, nil)
	assert.Equal(t, "m1", ack["messageId"])
	assert.Equal(t, string(models.UploadStatusUploading), ack["status"])

	content := "Routine blood panel, first visit."
	chunks := chunked(content, 12)
	require.Len(t, chunks, 3)
	for i, chunk := range chunks {
		f.send(t, MsgTypeFileChunk, FileChunkPayload{
			MessageID:   "m1",
			Filename:    "panel.txt",
			ChunkIndex:  i,
			TotalChunks: len(chunks),
			Data:        chunk,
		})
	}

	var seen []map[string]any
	done := f.readUntil(t, upload.EventUploadCompleted, &seen)
	assert.Equal(t, string(models.UploadStatusCompleted), done["status"])
	assert.Equal(t, float64(1), done["successful_files"])
	assert.Equal(t, float64(0), done["failed_files"])

	// Chunk acks and the received edge came through on the way.
	var progressCount, receivedCount int
	for _, ev := range seen {
		switch ev["type"] {
		case upload.EventFileProgress:
			progressCount++
		case upload.EventFileReceived:
			receivedCount++
			assert.Equal(t, float64(len(content)), ev["size"])
		}
	}
	assert.Equal(t, 3, progressCount)
	assert.Equal(t, 1, receivedCount)

	// The persisted snapshot matches the terminal event.
	deadline := time.Now().Add(2 * time.Second)
	for {
		snap, ok := f.store.Results["m1"]
		if ok {
			assert.Equal(t, models.UploadStatusCompleted, snap.Status)
			assert.Len(t, f.store.Indicators, 1)
			break
		}
		require.True(t, time.Now().Before(deadline))
		time.Sleep(10 * time.Millisecond)
	}
}

func TestWebSocketInvalidChunkIsFileScoped(t *testing.T) {
	f := newWSFixture(t)
	f.readUntil(t, "connected", nil)

	f.send(t, MsgTypeUploadStart, UploadStartPayload{
		MessageID: "m1",
		UserID:    "u1",
		Files: []models.FileDecl{
			{Filename: "good.txt", ContentType: "text/plain"},
			{Filename: "bad.txt", ContentType: "text/plain"},
		},
	})
	f.readUntil(t, MsgTypeUploadStart, nil)

	f.send(t, MsgTypeFileChunk, FileChunkPayload{
		MessageID: "m1", Filename: "bad.txt", ChunkIndex: 0, TotalChunks: 1,
		Data: "%%% not base64 %%%",
	})
	ferr := f.readUntil(t, upload.EventFileError, nil)
	assert.Equal(t, "bad.txt", ferr["filename"])

	// The session keeps going: the good file completes the batch.
	f.send(t, MsgTypeFileChunk, FileChunkPayload{
		MessageID: "m1", Filename: "good.txt", ChunkIndex: 0, TotalChunks: 1,
		Data: base64.StdEncoding.EncodeToString([]byte("Lab results for the good file.")),
	})

	done := f.readUntil(t, upload.EventUploadCompleted, nil)
	assert.Equal(t, string(models.UploadStatusPartialSuccess), done["status"])
	assert.Equal(t, float64(1), done["successful_files"])
	assert.Equal(t, float64(1), done["failed_files"])
}

func TestWebSocketPing(t *testing.T) {
	f := newWSFixture(t)
	f.readUntil(t, "connected", nil)

	require.NoError(t, f.client.WriteJSON(WSMessage{Type: MsgTypePing}))
	pong := f.readUntil(t, MsgTypePong, nil)
	assert.NotNil(t, pong["timestamp"])
}

func TestWebSocketUnknownMessageType(t *testing.T) {
	f := newWSFixture(t)
	f.readUntil(t, "connected", nil)

	require.NoError(t, f.client.WriteJSON(WSMessage{Type: "bogus"}))
	ev := f.readUntil(t, upload.EventUploadError, nil)
	assert.Contains(t, ev["message"], "Unknown message type")
}
