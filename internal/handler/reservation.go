package handler

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/uma-arai/sbcntr-scheduler/internal/model"
)

type createReservationRequest struct {
	Title       string     `json:"title"`
	Date        string     `json:"date"`
	StartTime   string     `json:"start_time"`
	EndTime     string     `json:"end_time"`
	SubjectID   string     `json:"subject_id"`
	OwnerID     string     `json:"owner_id"`
	AssigneeID  string     `json:"assignee_id"`
	Kind        model.Kind `json:"kind"`
	Location    string     `json:"location"`
	Description string     `json:"description"`
}

type rescheduleRequest struct {
	Date      string `json:"date"`
	StartTime string `json:"start_time"`
	EndTime   string `json:"end_time"`
}

type updateStatusRequest struct {
	Status model.ReservationStatus `json:"status"`
}

// GetAvailability は GET /availability?date=&assignee_id= を処理します
func (h *Handler) GetAvailability(c echo.Context) error {
	date, err := h.parseDate(c.QueryParam("date"))
	if err != nil {
		return h.respondError(c, err)
	}

	slots, err := h.scheduling.GetAvailability(c.Request().Context(), date, model.AssigneeScope(c.QueryParam("assignee_id")))
	if err != nil {
		return h.respondError(c, err)
	}
	return c.JSON(http.StatusOK, map[string]any{
		"date":  date.Format(model.DateLayout),
		"slots": slots,
	})
}

// CreateReservation は POST /reservations を処理します
func (h *Handler) CreateReservation(c echo.Context) error {
	var req createReservationRequest
	if err := c.Bind(&req); err != nil {
		return badRequest(c, "invalid request body")
	}

	date, err := h.parseDate(req.Date)
	if err != nil {
		return h.respondError(c, err)
	}

	r, err := h.scheduling.TryBook(c.Request().Context(), model.Candidate{
		Title:       req.Title,
		Date:        date,
		StartTime:   req.StartTime,
		EndTime:     req.EndTime,
		SubjectID:   req.SubjectID,
		OwnerID:     req.OwnerID,
		AssigneeID:  req.AssigneeID,
		Kind:        req.Kind,
		Location:    req.Location,
		Description: req.Description,
	})
	if err != nil {
		return h.respondError(c, err)
	}
	return c.JSON(http.StatusCreated, r)
}

// GetReservation は GET /reservations/:id を処理します
func (h *Handler) GetReservation(c echo.Context) error {
	r, err := h.scheduling.GetReservation(c.Request().Context(), c.Param("id"))
	if err != nil {
		return h.respondError(c, err)
	}
	return c.JSON(http.StatusOK, r)
}

// RescheduleReservation は PUT /reservations/:id/schedule を処理します
func (h *Handler) RescheduleReservation(c echo.Context) error {
	var req rescheduleRequest
	if err := c.Bind(&req); err != nil {
		return badRequest(c, "invalid request body")
	}

	date, err := h.parseDate(req.Date)
	if err != nil {
		return h.respondError(c, err)
	}

	r, err := h.scheduling.Reschedule(c.Request().Context(), c.Param("id"), date, req.StartTime, req.EndTime)
	if err != nil {
		return h.respondError(c, err)
	}
	return c.JSON(http.StatusOK, r)
}

// UpdateReservationStatus は PATCH /reservations/:id/status を処理します
func (h *Handler) UpdateReservationStatus(c echo.Context) error {
	var req updateStatusRequest
	if err := c.Bind(&req); err != nil {
		return badRequest(c, "invalid request body")
	}

	r, err := h.scheduling.UpdateStatus(c.Request().Context(), c.Param("id"), req.Status)
	if err != nil {
		return h.respondError(c, err)
	}
	return c.JSON(http.StatusOK, r)
}

// DeleteReservation は DELETE /reservations/:id を処理します
func (h *Handler) DeleteReservation(c echo.Context) error {
	if err := h.scheduling.Delete(c.Request().Context(), c.Param("id")); err != nil {
		return h.respondError(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}
