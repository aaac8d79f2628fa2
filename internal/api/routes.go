package api

import "github.com/labstack/echo/v4"

// RegisterRoutes wires the API surface onto the echo instance.
func RegisterRoutes(e *echo.Echo, h *Handler, wsh *WebSocketHandler, allowDeletion bool) {
	apiGroup := e.Group("/api")

	apiGroup.GET("/health", h.HandleHealth)

	// Upload channel
	apiGroup.GET("/ws/uploads", wsh.HandleWebSocket)

	// Persisted upload results
	apiGroup.GET("/uploads/:messageId", h.HandleGetUploadResult)
	apiGroup.GET("/uploads/:messageId/msgpack", h.HandleGetUploadResultMsgpack)

	// Stored original files
	apiGroup.GET("/files/:key", h.HandleGetFile)

	if allowDeletion {
		apiGroup.DELETE("/uploads/:messageId", h.HandleDeleteUpload)
	}
}
