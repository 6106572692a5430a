package http

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"clinicbook/backend/internal/domain"
	"clinicbook/backend/internal/service/scheduling"
	"clinicbook/backend/internal/store"
)

type schedulingService interface {
	ResolveAvailability(ctx context.Context, practitionerID string, date time.Time) (scheduling.Availability, error)
	ValidateBooking(ctx context.Context, in scheduling.ValidateInput) error
	CreateBooking(ctx context.Context, in scheduling.CreateInput) (domain.Booking, error)
	RescheduleBooking(ctx context.Context, id uuid.UUID, in scheduling.RescheduleInput) (domain.Booking, error)
	Transition(ctx context.Context, id uuid.UUID, status domain.BookingStatus) (domain.Booking, error)
	GetBooking(ctx context.Context, id uuid.UUID) (domain.Booking, error)
	ListDayBookings(ctx context.Context, practitionerID string, date time.Time) ([]domain.Booking, error)
}

type Server struct {
	svc schedulingService
	log *slog.Logger
}

func NewServer(svc schedulingService, log *slog.Logger) *Server {
	if log == nil {
		log = slog.Default()
	}
	return &Server{
		svc: svc,
		log: log.With(slog.String("component", "http.scheduling")),
	}
}

// Register mounts the scheduling routes on e. The HTTP layer is a thin
// translation shim over the core: it parses wire values, calls the
// service, and maps typed errors to status codes.
func (s *Server) Register(e *echo.Echo) {
	v1 := e.Group("/v1")
	v1.GET("/practitioners/:id/availability", s.resolveAvailability)
	v1.GET("/practitioners/:id/bookings", s.listDayBookings)
	v1.POST("/bookings", s.createBooking)
	v1.POST("/bookings/validate", s.validateBooking)
	v1.GET("/bookings/:id", s.getBooking)
	v1.PATCH("/bookings/:id", s.rescheduleBooking)
	v1.POST("/bookings/:id/status", s.transition)
}

const wireDateLayout = "2006-01-02"

type errorBody struct {
	Error string `json:"error"`
}

type availabilityResponse struct {
	Available    bool          `json:"available"`
	Reason       string        `json:"reason,omitempty"`
	WorkingHours *workingHours `json:"working_hours,omitempty"`
	FreeSlots    []string      `json:"free_slots"`
}

type workingHours struct {
	Start string `json:"start"`
	End   string `json:"end"`
}

type bookingResponse struct {
	ID             string `json:"id"`
	Code           string `json:"code"`
	PractitionerID string `json:"practitioner_id"`
	PatientRef     string `json:"patient_ref"`
	Date           string `json:"date"`
	StartTime      string `json:"start_time"`
	EndTime        string `json:"end_time"`
	Status         string `json:"status"`
	CreatedAt      string `json:"created_at"`
}

func toBookingResponse(b domain.Booking) bookingResponse {
	return bookingResponse{
		ID:             b.ID.String(),
		Code:           b.Code,
		PractitionerID: b.PractitionerID,
		PatientRef:     b.PatientRef,
		Date:           b.Date.UTC().Format(wireDateLayout),
		StartTime:      b.StartMinute.Clock(),
		EndTime:        b.EndMinute.Clock(),
		Status:         string(b.Status),
		CreatedAt:      b.CreatedAt.UTC().Format(time.RFC3339),
	}
}

func (s *Server) resolveAvailability(c echo.Context) error {
	log := s.log.With(slog.String("handler", "resolveAvailability"))

	practitionerID := c.Param("id")
	date, err := parseWireDate(c.QueryParam("date"))
	if err != nil {
		return c.JSON(http.StatusBadRequest, errorBody{Error: "date must be YYYY-MM-DD"})
	}

	av, err := s.svc.ResolveAvailability(c.Request().Context(), practitionerID, date)
	if err != nil {
		return s.writeError(c, log, err, slog.String("practitioner_id", practitionerID))
	}

	resp := availabilityResponse{
		Available: av.Available,
		Reason:    av.Reason,
		FreeSlots: make([]string, 0, len(av.FreeSlots)),
	}
	if av.Available {
		resp.WorkingHours = &workingHours{
			Start: av.WorkingHours.Start.Clock(),
			End:   av.WorkingHours.End.Clock(),
		}
		for _, slot := range av.FreeSlots {
			resp.FreeSlots = append(resp.FreeSlots, slot.Start.Clock())
		}
	}

	log.Debug(
		"availability resolved",
		slog.String("practitioner_id", practitionerID),
		slog.String("date", date.Format(wireDateLayout)),
		slog.Bool("available", av.Available),
		slog.Int("free_slots", len(resp.FreeSlots)),
	)
	return c.JSON(http.StatusOK, resp)
}

type bookingRequest struct {
	PractitionerID string `json:"practitioner_id"`
	PatientRef     string `json:"patient_ref"`
	Date           string `json:"date"`
	StartTime      string `json:"start_time"`
	EndTime        string `json:"end_time"`
}

func (s *Server) createBooking(c echo.Context) error {
	log := s.log.With(slog.String("handler", "createBooking"))

	var req bookingRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, errorBody{Error: "malformed request body"})
	}

	date, span, err := parseWireSchedule(req.Date, req.StartTime, req.EndTime)
	if err != nil {
		return c.JSON(http.StatusBadRequest, errorBody{Error: err.Error()})
	}

	b, err := s.svc.CreateBooking(c.Request().Context(), scheduling.CreateInput{
		PractitionerID: req.PractitionerID,
		PatientRef:     req.PatientRef,
		Date:           date,
		Span:           span,
	})
	if err != nil {
		return s.writeError(c, log, err, slog.String("practitioner_id", req.PractitionerID))
	}

	log.Info(
		"booking created",
		slog.String("booking_id", b.ID.String()),
		slog.String("code", b.Code),
		slog.String("practitioner_id", b.PractitionerID),
		slog.String("date", b.Date.Format(wireDateLayout)),
		slog.String("start_time", b.StartMinute.Clock()),
	)
	return c.JSON(http.StatusCreated, toBookingResponse(b))
}

type validateRequest struct {
	PractitionerID string `json:"practitioner_id"`
	Date           string `json:"date"`
	StartTime      string `json:"start_time"`
	EndTime        string `json:"end_time"`
	ExcludeID      string `json:"exclude_booking_id,omitempty"`
}

type validateResponse struct {
	Valid  bool   `json:"valid"`
	Reason string `json:"reason,omitempty"`
}

func (s *Server) validateBooking(c echo.Context) error {
	log := s.log.With(slog.String("handler", "validateBooking"))

	var req validateRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, errorBody{Error: "malformed request body"})
	}

	date, span, err := parseWireSchedule(req.Date, req.StartTime, req.EndTime)
	if err != nil {
		return c.JSON(http.StatusBadRequest, errorBody{Error: err.Error()})
	}

	var excludeID uuid.UUID
	if req.ExcludeID != "" {
		excludeID, err = uuid.Parse(req.ExcludeID)
		if err != nil {
			return c.JSON(http.StatusBadRequest, errorBody{Error: "exclude_booking_id must be a UUID"})
		}
	}

	err = s.svc.ValidateBooking(c.Request().Context(), scheduling.ValidateInput{
		PractitionerID: req.PractitionerID,
		Date:           date,
		Span:           span,
		ExcludeID:      excludeID,
	})
	switch {
	case err == nil:
		return c.JSON(http.StatusOK, validateResponse{Valid: true})
	case errors.Is(err, store.ErrConflict):
		return c.JSON(http.StatusOK, validateResponse{Valid: false, Reason: "requested time overlaps an existing appointment"})
	case scheduling.IsValidationFailure(err):
		return c.JSON(http.StatusOK, validateResponse{Valid: false, Reason: err.Error()})
	default:
		return s.writeError(c, log, err, slog.String("practitioner_id", req.PractitionerID))
	}
}

func (s *Server) getBooking(c echo.Context) error {
	log := s.log.With(slog.String("handler", "getBooking"))

	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return c.JSON(http.StatusBadRequest, errorBody{Error: "booking id must be a UUID"})
	}

	b, err := s.svc.GetBooking(c.Request().Context(), id)
	if err != nil {
		return s.writeError(c, log, err, slog.String("booking_id", id.String()))
	}
	return c.JSON(http.StatusOK, toBookingResponse(b))
}

func (s *Server) rescheduleBooking(c echo.Context) error {
	log := s.log.With(slog.String("handler", "rescheduleBooking"))

	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return c.JSON(http.StatusBadRequest, errorBody{Error: "booking id must be a UUID"})
	}

	var req bookingRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, errorBody{Error: "malformed request body"})
	}

	date, span, err := parseWireSchedule(req.Date, req.StartTime, req.EndTime)
	if err != nil {
		return c.JSON(http.StatusBadRequest, errorBody{Error: err.Error()})
	}

	b, err := s.svc.RescheduleBooking(c.Request().Context(), id, scheduling.RescheduleInput{
		PractitionerID: req.PractitionerID,
		Date:           date,
		Span:           span,
	})
	if err != nil {
		return s.writeError(c, log, err, slog.String("booking_id", id.String()))
	}

	log.Info(
		"booking rescheduled",
		slog.String("booking_id", b.ID.String()),
		slog.String("practitioner_id", b.PractitionerID),
		slog.String("date", b.Date.Format(wireDateLayout)),
		slog.String("start_time", b.StartMinute.Clock()),
	)
	return c.JSON(http.StatusOK, toBookingResponse(b))
}

type transitionRequest struct {
	Status string `json:"status"`
}

func (s *Server) transition(c echo.Context) error {
	log := s.log.With(slog.String("handler", "transition"))

	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return c.JSON(http.StatusBadRequest, errorBody{Error: "booking id must be a UUID"})
	}

	var req transitionRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, errorBody{Error: "malformed request body"})
	}

	b, err := s.svc.Transition(c.Request().Context(), id, domain.BookingStatus(req.Status))
	if err != nil {
		return s.writeError(c, log, err, slog.String("booking_id", id.String()))
	}

	log.Info(
		"booking status changed",
		slog.String("booking_id", b.ID.String()),
		slog.String("status", string(b.Status)),
	)
	return c.JSON(http.StatusOK, toBookingResponse(b))
}

func (s *Server) listDayBookings(c echo.Context) error {
	log := s.log.With(slog.String("handler", "listDayBookings"))

	practitionerID := c.Param("id")
	date, err := parseWireDate(c.QueryParam("date"))
	if err != nil {
		return c.JSON(http.StatusBadRequest, errorBody{Error: "date must be YYYY-MM-DD"})
	}

	rows, err := s.svc.ListDayBookings(c.Request().Context(), practitionerID, date)
	if err != nil {
		return s.writeError(c, log, err, slog.String("practitioner_id", practitionerID))
	}

	out := make([]bookingResponse, 0, len(rows))
	for _, b := range rows {
		out = append(out, toBookingResponse(b))
	}
	return c.JSON(http.StatusOK, out)
}

func (s *Server) writeError(c echo.Context, log *slog.Logger, err error, args ...any) error {
	switch {
	case errors.Is(err, store.ErrNotFound):
		return c.JSON(http.StatusNotFound, errorBody{Error: "not found"})
	case errors.Is(err, store.ErrConflict):
		log.Info("booking conflict", args...)
		return c.JSON(http.StatusConflict, errorBody{Error: "requested time overlaps an existing appointment"})
	case scheduling.IsValidationFailure(err):
		log.Warn("invalid request", append([]any{slog.Any("err", err)}, args...)...)
		return c.JSON(http.StatusBadRequest, errorBody{Error: err.Error()})
	default:
		log.Error("request failed", append([]any{slog.Any("err", err)}, args...)...)
		return c.JSON(http.StatusInternalServerError, errorBody{Error: "internal error"})
	}
}

func parseWireDate(s string) (time.Time, error) {
	return time.Parse(wireDateLayout, s)
}

func parseWireSchedule(dateStr, startStr, endStr string) (time.Time, domain.Interval, error) {
	date, err := parseWireDate(dateStr)
	if err != nil {
		return time.Time{}, domain.Interval{}, errors.New("date must be YYYY-MM-DD")
	}
	start, err := domain.ParseClock(startStr)
	if err != nil {
		return time.Time{}, domain.Interval{}, errors.New("start_time must be HH:MM")
	}
	end, err := domain.ParseClock(endStr)
	if err != nil {
		return time.Time{}, domain.Interval{}, errors.New("end_time must be HH:MM")
	}
	return date, domain.Interval{Start: start, End: end}, nil
}
