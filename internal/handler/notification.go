package handler

import (
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"
)

// ListNotifications は GET /notifications?user_id= を処理します
func (h *Handler) ListNotifications(c echo.Context) error {
	userID := c.QueryParam("user_id")
	if userID == "" {
		return badRequest(c, "user_id is required")
	}
	records, err := h.notifications.GetByUserID(c.Request().Context(), userID)
	if err != nil {
		return h.respondError(c, err)
	}
	return c.JSON(http.StatusOK, map[string]any{"notifications": records})
}

// MarkNotificationRead は PATCH /notifications/:id/read を処理します
func (h *Handler) MarkNotificationRead(c echo.Context) error {
	id, err := strconv.Atoi(c.Param("id"))
	if err != nil {
		return badRequest(c, "id must be a number")
	}
	if err := h.notifications.UpdateIsRead(c.Request().Context(), id, true); err != nil {
		return h.respondError(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}
