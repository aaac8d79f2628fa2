package api

import (
	"context"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/vitalstream/backend/internal/channel"
	"github.com/vitalstream/backend/internal/models"
	"github.com/vitalstream/backend/internal/storage"
	"github.com/vitalstream/backend/internal/upload"
)

// ResultReader is the slice of the result store the REST surface
// needs. Narrowed to an interface so handler tests can inject a mock.
type ResultReader interface {
	GetResult(ctx context.Context, messageID string) (models.ResultSnapshot, error)
	DeleteResult(ctx context.Context, messageID string) error
	DeleteBySource(ctx context.Context, prov models.Provenance) error
}

// Handler holds the REST endpoint dependencies.
type Handler struct {
	objects  storage.ObjectStore
	results  ResultReader
	registry *upload.Registry
	hub      *channel.Hub
}

// NewHandler creates the REST handler.
func NewHandler(objects storage.ObjectStore, results ResultReader, registry *upload.Registry, hub *channel.Hub) *Handler {
	return &Handler{objects: objects, results: results, registry: registry, hub: hub}
}

// HandleHealth reports service liveness and basic gauges.
func (h *Handler) HandleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]any{
		"status":      "ok",
		"connections": h.hub.Count(),
		"sessions":    h.registry.Count(),
		"time":        time.Now().UTC().Format(time.RFC3339),
	})
}

// HandleGetUploadResult returns the persisted result snapshot for a
// message id. This record is the system of record for upload
// outcomes; it survives disconnects and registry cleanup.
func (h *Handler) HandleGetUploadResult(c echo.Context) error {
	messageID := c.Param("messageId")

	snap, err := h.results.GetResult(c.Request().Context(), messageID)
	if err != nil {
		// Fall back to the in-memory registry for sessions still in
		// flight.
		if live, ok := h.registry.Snapshot(messageID); ok {
			return c.JSON(http.StatusOK, live)
		}
		return NewNotFoundError("upload result", messageID)
	}
	return c.JSON(http.StatusOK, snap)
}

// HandleGetUploadResultMsgpack serves the same snapshot
// msgpack-encoded for clients that prefer the compact form.
func (h *Handler) HandleGetUploadResultMsgpack(c echo.Context) error {
	messageID := c.Param("messageId")

	snap, err := h.results.GetResult(c.Request().Context(), messageID)
	if err != nil {
		return NewNotFoundError("upload result", messageID)
	}

	blob, err := msgpack.Marshal(&snap)
	if err != nil {
		return NewInternalError("failed to encode result", err)
	}
	return c.Blob(http.StatusOK, "application/x-msgpack", blob)
}

// HandleGetFile streams a stored original file by object key.
func (h *Handler) HandleGetFile(c echo.Context) error {
	key := c.Param("key")

	path, err := h.objects.Path(key)
	if err != nil {
		return NewNotFoundError("file", key)
	}
	return c.File(path)
}

// HandleDeleteUpload cascade-deletes an upload: the persisted
// snapshot, the stored original files, and every indicator and
// genetic record row those files produced.
func (h *Handler) HandleDeleteUpload(c echo.Context) error {
	messageID := c.Param("messageId")
	ctx := c.Request().Context()

	snap, err := h.results.GetResult(ctx, messageID)
	if err != nil {
		return NewNotFoundError("upload result", messageID)
	}

	for _, fr := range snap.Files {
		if fr.FileKey == "" {
			continue
		}
		if err := h.results.DeleteBySource(ctx, models.Provenance{SourceTable: "uploads", SourceID: fr.FileKey}); err != nil {
			return NewInternalError("failed to delete extracted rows", err)
		}
		if err := h.objects.Delete(fr.FileKey); err != nil {
			return NewInternalError("failed to delete stored file", err)
		}
	}

	if err := h.results.DeleteResult(ctx, messageID); err != nil {
		return NewInternalError("failed to delete upload result", err)
	}
	h.registry.Remove(messageID)

	return c.NoContent(http.StatusNoContent)
}
