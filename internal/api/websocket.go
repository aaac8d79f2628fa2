package api

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"

	"github.com/vitalstream/backend/internal/channel"
	"github.com/vitalstream/backend/internal/models"
	"github.com/vitalstream/backend/internal/upload"
)

// Client -> Server message types for the upload protocol
const (
	MsgTypeUploadStart = "upload_start"
	MsgTypeFileChunk   = "file_chunk"
	MsgTypePing        = "ping"
	MsgTypePong        = "pong"
)

// WSMessage is the envelope of every client message.
type WSMessage struct {
	Type      string          `json:"type"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	Timestamp int64           `json:"timestamp,omitempty"`
}

// UploadStartPayload declares a new upload: the message id and the
// file manifest.
type UploadStartPayload struct {
	MessageID   string            `json:"messageId"`
	UserID      string            `json:"userId"`
	QueryUserID string            `json:"queryUserId,omitempty"` // target owner when uploading on behalf of another account
	Query       string            `json:"query,omitempty"`
	Files       []models.FileDecl `json:"files"`
}

// FileChunkPayload carries one base64-encoded chunk of one file.
type FileChunkPayload struct {
	MessageID   string `json:"messageId"`
	Filename    string `json:"filename"`
	ChunkIndex  int    `json:"chunkIndex"`
	TotalChunks int    `json:"totalChunks"`
	Data        string `json:"data"` // base64
}

// UploadStartAck acknowledges upload_start.
type UploadStartAck struct {
	Type      string            `json:"type"`
	MessageID string            `json:"messageId"`
	SessionID string            `json:"sessionId"`
	Status    string            `json:"status"`
	Progress  int               `json:"progress"`
	Files     []models.FileDecl `json:"files"`
}

// WebSocketHandler owns the upload socket endpoint: it registers
// connections with the hub, feeds chunks into the session registry
// and kicks off the orchestrator once a session's files are complete.
type WebSocketHandler struct {
	hub          *channel.Hub
	registry     *upload.Registry
	orchestrator *upload.Orchestrator
	upgrader     websocket.Upgrader
}

// NewWebSocketHandler creates the upload socket handler.
func NewWebSocketHandler(hub *channel.Hub, registry *upload.Registry, orchestrator *upload.Orchestrator) *WebSocketHandler {
	return &WebSocketHandler{
		hub:          hub,
		registry:     registry,
		orchestrator: orchestrator,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
			ReadBufferSize:  64 * 1024,
			WriteBufferSize: 64 * 1024,
		},
	}
}

// HandleWebSocket upgrades the connection and runs the upload
// protocol until the client disconnects. On disconnect, sessions that
// have not completed are dropped from the registry; in-flight
// processing keeps running and still persists its result.
func (wsh *WebSocketHandler) HandleWebSocket(c echo.Context) error {
	ws, err := wsh.upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		return err
	}

	connID := c.QueryParam("connectionId")
	if connID == "" {
		connID = uuid.New().String()
	}
	wsh.hub.Register(connID, ws)
	fmt.Printf("[WebSocket] Client connected: %s\n", connID[:min(8, len(connID))])

	wsh.hub.Send(connID, map[string]any{
		"type":         "connected",
		"connectionId": connID,
		"timestamp":    time.Now().UnixMilli(),
	})

	for {
		var msg WSMessage
		if err := ws.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				fmt.Printf("[WebSocket] Connection error: %v\n", err)
			}
			break
		}

		switch msg.Type {
		case MsgTypePing:
			wsh.hub.Send(connID, map[string]any{"type": MsgTypePong, "timestamp": time.Now().UnixMilli()})
		case MsgTypeUploadStart:
			wsh.handleUploadStart(connID, msg)
		case MsgTypeFileChunk:
			wsh.handleFileChunk(connID, msg)
		default:
			wsh.sendError(connID, "", "Unknown message type: "+msg.Type)
		}
	}

	wsh.hub.Remove(connID)
	wsh.registry.RemoveForConn(connID)
	fmt.Printf("[WebSocket] Client disconnected: %s\n", connID[:min(8, len(connID))])
	return nil
}

// handleUploadStart registers the session. Idempotent under client
// retries: a duplicate start for an in-flight message id acks the
// existing session without resetting it.
func (wsh *WebSocketHandler) handleUploadStart(connID string, msg WSMessage) {
	var payload UploadStartPayload
	if err := json.Unmarshal(msg.Payload, &payload); err != nil {
		wsh.sendError(connID, "", "Invalid upload_start payload: "+err.Error())
		return
	}
	if payload.MessageID == "" {
		wsh.sendError(connID, "", "upload_start requires a messageId")
		return
	}
	if len(payload.Files) == 0 {
		wsh.sendError(connID, payload.MessageID, "upload_start requires a file manifest")
		return
	}

	ownerID := payload.QueryUserID
	if ownerID == "" {
		ownerID = payload.UserID
	}

	session, created := wsh.registry.Create(payload.MessageID, connID, payload.UserID, ownerID, payload.Query, payload.Files)

	wsh.hub.Send(connID, UploadStartAck{
		Type:      MsgTypeUploadStart,
		MessageID: payload.MessageID,
		SessionID: session.MessageID,
		Status:    string(models.UploadStatusUploading),
		Progress:  0,
		Files:     payload.Files,
	})

	if !created {
		return
	}

	// A manifest of purely URL-sourced files has no chunks coming;
	// start processing right away.
	allRemote := true
	for _, decl := range payload.Files {
		if decl.SourceURL == "" {
			allRemote = false
			break
		}
	}
	if allRemote {
		go wsh.orchestrator.ProcessSession(context.Background(), payload.MessageID)
	}
}

// handleFileChunk decodes and stores one chunk, acks it, and starts
// processing when the session's last file completes.
func (wsh *WebSocketHandler) handleFileChunk(connID string, msg WSMessage) {
	var payload FileChunkPayload
	if err := json.Unmarshal(msg.Payload, &payload); err != nil {
		wsh.sendError(connID, "", "Invalid file_chunk payload: "+err.Error())
		return
	}

	data, err := base64.StdEncoding.DecodeString(payload.Data)
	if err != nil {
		// Decode failure is file-scoped: the file is marked failed
		// and drops out of the all-received check, the session and
		// its other files are untouched.
		wsh.registry.MarkFileFailed(payload.MessageID, payload.Filename, "invalid base64 chunk data")
		wsh.hub.Send(connID, upload.FileErrorEvent{
			Type:      upload.EventFileError,
			MessageID: payload.MessageID,
			Filename:  payload.Filename,
			Error:     "invalid base64 chunk data",
		})
		// The failed file may have been the last one outstanding.
		if wsh.registry.AllFilesReceived(payload.MessageID) {
			go wsh.orchestrator.ProcessSession(context.Background(), payload.MessageID)
		}
		return
	}

	status, fa, err := wsh.registry.AddChunk(payload.MessageID, payload.Filename, payload.ChunkIndex, payload.TotalChunks, data)
	if err != nil {
		wsh.sendError(connID, payload.MessageID, err.Error())
		return
	}

	progress := float64(fa.Received) / float64(fa.TotalChunks) * 100
	wsh.hub.Send(connID, upload.FileProgressEvent{
		Type:      upload.EventFileProgress,
		MessageID: payload.MessageID,
		Filename:  payload.Filename,
		Progress:  progress,
		Status:    string(models.UploadStatusUploading),
	})

	if status == upload.StatusComplete {
		wsh.hub.Send(connID, upload.FileReceivedEvent{
			Type:      upload.EventFileReceived,
			MessageID: payload.MessageID,
			Filename:  payload.Filename,
			Status:    "received",
			Size:      fa.Size,
		})

		if wsh.registry.AllFilesReceived(payload.MessageID) {
			go wsh.orchestrator.ProcessSession(context.Background(), payload.MessageID)
		}
	}
}

func (wsh *WebSocketHandler) sendError(connID, messageID, message string) {
	wsh.hub.Send(connID, map[string]any{
		"type":      upload.EventUploadError,
		"messageId": messageID,
		"status":    string(models.UploadStatusFailed),
		"message":   message,
	})
}
