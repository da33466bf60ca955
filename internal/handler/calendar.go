package handler

import (
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/uma-arai/sbcntr-scheduler/internal/model"
	"github.com/uma-arai/sbcntr-scheduler/internal/schedule"
	"github.com/uma-arai/sbcntr-scheduler/internal/service/scheduling"
)

type calendarResponse struct {
	View  schedule.ViewKind `json:"view"`
	Cells []model.DayCell   `json:"cells"`
}

func viewOptions(c echo.Context) scheduling.ViewOptions {
	history, _ := strconv.ParseBool(c.QueryParam("history"))
	return scheduling.ViewOptions{IncludeHistory: history}
}

// GetMonthView は GET /calendar/month?year=&month= を処理します
func (h *Handler) GetMonthView(c echo.Context) error {
	year, err := strconv.Atoi(c.QueryParam("year"))
	if err != nil {
		return badRequest(c, "year must be a number")
	}
	month, err := strconv.Atoi(c.QueryParam("month"))
	if err != nil {
		return badRequest(c, "month must be a number")
	}

	cells, err := h.scheduling.GetMonthView(c.Request().Context(), year, time.Month(month),
		model.AssigneeScope(c.QueryParam("assignee_id")), viewOptions(c))
	if err != nil {
		return h.respondError(c, err)
	}
	return c.JSON(http.StatusOK, calendarResponse{View: schedule.ViewMonth, Cells: cells})
}

// GetWeekView は GET /calendar/week?date= を処理します
func (h *Handler) GetWeekView(c echo.Context) error {
	return h.getView(c, schedule.ViewWeek)
}

// GetDayView は GET /calendar/day?date= を処理します
func (h *Handler) GetDayView(c echo.Context) error {
	return h.getView(c, schedule.ViewDay)
}

func (h *Handler) getView(c echo.Context, kind schedule.ViewKind) error {
	date, err := h.parseDate(c.QueryParam("date"))
	if err != nil {
		return h.respondError(c, err)
	}

	view := schedule.DayView(date)
	if kind == schedule.ViewWeek {
		view = schedule.WeekView(date)
	}

	cells, err := h.scheduling.GetView(c.Request().Context(), view,
		model.AssigneeScope(c.QueryParam("assignee_id")), viewOptions(c))
	if err != nil {
		return h.respondError(c, err)
	}
	return c.JSON(http.StatusOK, calendarResponse{View: kind, Cells: cells})
}
