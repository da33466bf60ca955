package handler

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/uma-arai/sbcntr-scheduler/internal/model"
	"github.com/uma-arai/sbcntr-scheduler/internal/repository"
	"github.com/uma-arai/sbcntr-scheduler/internal/schedule"
	"github.com/uma-arai/sbcntr-scheduler/internal/service/scheduling"
	"go.uber.org/zap"
)

// SchedulingService はHTTPから利用する予約の操作です
type SchedulingService interface {
	Location() *time.Location
	GetAvailability(ctx context.Context, date time.Time, scope model.Scope) ([]model.SlotStatus, error)
	TryBook(ctx context.Context, candidate model.Candidate) (*model.Reservation, error)
	GetReservation(ctx context.Context, id string) (*model.Reservation, error)
	Reschedule(ctx context.Context, id string, date time.Time, start, end string) (*model.Reservation, error)
	UpdateStatus(ctx context.Context, id string, status model.ReservationStatus) (*model.Reservation, error)
	Delete(ctx context.Context, id string) error
	GetMonthView(ctx context.Context, year int, month time.Month, scope model.Scope, opts scheduling.ViewOptions) ([]model.DayCell, error)
	GetView(ctx context.Context, view schedule.ViewRange, scope model.Scope, opts scheduling.ViewOptions) ([]model.DayCell, error)
}

// PresenceService は閲覧者の在席情報です
type PresenceService interface {
	Heartbeat(viewer, view string) error
	Viewers(view string) []string
}

// Handler はHTTPリクエストをサービスに委譲します
type Handler struct {
	scheduling    SchedulingService
	presence      PresenceService
	notifications repository.NotificationRepository
	logger        *zap.Logger
}

func New(scheduling SchedulingService, presence PresenceService, notifications repository.NotificationRepository, logger *zap.Logger) *Handler {
	return &Handler{
		scheduling:    scheduling,
		presence:      presence,
		notifications: notifications,
		logger:        logger,
	}
}

// Setup はルーティングを登録します
func (h *Handler) Setup(e *echo.Echo) {
	e.GET("/availability", h.GetAvailability)

	reservations := e.Group("/reservations")
	reservations.POST("", h.CreateReservation)
	reservations.GET("/:id", h.GetReservation)
	reservations.PUT("/:id/schedule", h.RescheduleReservation)
	reservations.PATCH("/:id/status", h.UpdateReservationStatus)
	reservations.DELETE("/:id", h.DeleteReservation)

	calendar := e.Group("/calendar")
	calendar.GET("/month", h.GetMonthView)
	calendar.GET("/week", h.GetWeekView)
	calendar.GET("/day", h.GetDayView)

	e.POST("/presence/heartbeat", h.Heartbeat)
	e.GET("/presence", h.GetViewers)

	e.GET("/notifications", h.ListNotifications)
	e.PATCH("/notifications/:id/read", h.MarkNotificationRead)
}

type errorBody struct {
	Code          string `json:"code"`
	Message       string `json:"message"`
	Field         string `json:"field,omitempty"`
	ReservationID string `json:"reservation_id,omitempty"`
	OverlapStart  string `json:"overlap_start,omitempty"`
	OverlapEnd    string `json:"overlap_end,omitempty"`
	Retryable     bool   `json:"retryable,omitempty"`
}

type errorResponse struct {
	Error errorBody `json:"error"`
}

func badRequest(c echo.Context, message string) error {
	return c.JSON(http.StatusBadRequest, errorResponse{Error: errorBody{Code: "bad_request", Message: message}})
}

// respondError はドメインのエラーをHTTPステータスに変換します
func (h *Handler) respondError(c echo.Context, err error) error {
	var (
		validationErr *model.ValidationError
		conflictErr   *model.ConflictError
	)

	switch {
	case errors.As(err, &conflictErr):
		return c.JSON(http.StatusConflict, errorResponse{Error: errorBody{
			Code:          "conflict",
			Message:       err.Error(),
			ReservationID: conflictErr.ReservationID,
			OverlapStart:  conflictErr.OverlapStart,
			OverlapEnd:    conflictErr.OverlapEnd,
		}})
	case errors.As(err, &validationErr):
		return c.JSON(http.StatusUnprocessableEntity, errorResponse{Error: errorBody{
			Code:    "validation",
			Message: err.Error(),
			Field:   validationErr.Field,
		}})
	case errors.Is(err, model.ErrParse):
		return c.JSON(http.StatusUnprocessableEntity, errorResponse{Error: errorBody{Code: "parse", Message: err.Error()}})
	case errors.Is(err, model.ErrNotFound):
		return c.JSON(http.StatusNotFound, errorResponse{Error: errorBody{Code: "not_found", Message: err.Error()}})
	case errors.Is(err, model.ErrPersistenceTimeout):
		return c.JSON(http.StatusServiceUnavailable, errorResponse{Error: errorBody{
			Code:      "timeout",
			Message:   err.Error(),
			Retryable: true,
		}})
	}

	h.logger.Error("request failed",
		zap.String("method", c.Request().Method),
		zap.String("path", c.Path()),
		zap.Error(err),
	)
	return c.JSON(http.StatusInternalServerError, errorResponse{Error: errorBody{Code: "internal", Message: "internal server error"}})
}

func (h *Handler) parseDate(s string) (time.Time, error) {
	return schedule.ParseDate(s, h.scheduling.Location())
}
