package handler

import (
	"net/http"

	"github.com/labstack/echo/v4"
)

type heartbeatRequest struct {
	ViewerID string `json:"viewer_id"`
	View     string `json:"view"`
}

// Heartbeat は POST /presence/heartbeat を処理します
func (h *Handler) Heartbeat(c echo.Context) error {
	var req heartbeatRequest
	if err := c.Bind(&req); err != nil {
		return badRequest(c, "invalid request body")
	}
	if err := h.presence.Heartbeat(req.ViewerID, req.View); err != nil {
		return h.respondError(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}

// GetViewers は GET /presence?view= を処理します
func (h *Handler) GetViewers(c echo.Context) error {
	view := c.QueryParam("view")
	if view == "" {
		return badRequest(c, "view is required")
	}
	return c.JSON(http.StatusOK, map[string]any{
		"view":    view,
		"viewers": h.presence.Viewers(view),
	})
}
