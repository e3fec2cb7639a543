package httpapi

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"viewto/backend/internal/domain"
	"viewto/backend/internal/service/viewings"
	"viewto/backend/internal/store"
)

type viewingsService interface {
	AvailableDates(ctx context.Context, listingID uuid.UUID, horizonDays int) ([]time.Time, error)
	SlotsForDate(ctx context.Context, listingID uuid.UUID, date time.Time) ([]domain.Slot, error)
	RequestBooking(ctx context.Context, in viewings.BookingInput) (domain.Appointment, error)
	SetAppointmentStatus(ctx context.Context, appointmentID uuid.UUID, newStatus domain.AppointmentStatus) (domain.Appointment, error)
	ReplaceAvailability(ctx context.Context, listingID uuid.UUID, date time.Time, spans []viewings.WindowSpan) ([]domain.AvailabilityWindow, error)
	ListingAppointments(ctx context.Context, listingID uuid.UUID) ([]domain.Appointment, error)
}

type ViewingsServer struct {
	svc      viewingsService
	validate *validator.Validate
	loc      *time.Location
	log      *slog.Logger
}

func NewViewingsServer(svc viewingsService, loc *time.Location, log *slog.Logger) *ViewingsServer {
	if loc == nil {
		loc = time.UTC
	}
	if log == nil {
		log = slog.Default()
	}
	return &ViewingsServer{
		svc:      svc,
		validate: validator.New(),
		loc:      loc,
		log:      log.With(slog.String("component", "httpapi.viewings")),
	}
}

func (s *ViewingsServer) Register(e *echo.Echo) {
	e.GET("/api/listings/:id/availability/dates", s.AvailableDates)
	e.GET("/api/listings/:id/availability/slots", s.SlotsForDate)
	e.PUT("/api/listings/:id/availability/:date", s.ReplaceAvailability)
	e.GET("/api/listings/:id/appointments", s.ListAppointments)
	e.POST("/api/appointments", s.RequestBooking)
	e.PATCH("/api/appointments/:id/status", s.SetAppointmentStatus)
}

type errorResponse struct {
	Error string `json:"error"`
}

type slotResponse struct {
	Start     time.Time `json:"start"`
	End       time.Time `json:"end"`
	Available bool      `json:"available"`
}

type appointmentResponse struct {
	ID           string    `json:"id"`
	ListingID    string    `json:"listing_id"`
	TenantUserID string    `json:"tenant_user_id"`
	StartTime    time.Time `json:"start_time"`
	EndTime      time.Time `json:"end_time"`
	Status       string    `json:"status"`
	CreatedAt    time.Time `json:"created_at"`
}

type windowResponse struct {
	ID        string `json:"id"`
	DayOfWeek int    `json:"day_of_week"`
	StartDate string `json:"start_date,omitempty"`
	StartTime string `json:"start_time"`
	EndTime   string `json:"end_time"`
}

func (s *ViewingsServer) AvailableDates(c echo.Context) error {
	log := s.log.With(slog.String("handler", "AvailableDates"))

	listingID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		log.Warn("invalid request", slog.String("reason", "bad_listing_id"))
		return c.JSON(http.StatusBadRequest, errorResponse{Error: "invalid listing id"})
	}

	horizonDays := 0
	if raw := c.QueryParam("horizon_days"); raw != "" {
		if err := echo.QueryParamsBinder(c).Int("horizon_days", &horizonDays).BindError(); err != nil {
			log.Warn("invalid request", slog.String("reason", "bad_horizon_days"))
			return c.JSON(http.StatusBadRequest, errorResponse{Error: "horizon_days must be an integer"})
		}
	}

	dates, err := s.svc.AvailableDates(c.Request().Context(), listingID, horizonDays)
	if err != nil {
		return s.writeError(c, log, err)
	}

	out := make([]string, 0, len(dates))
	for _, d := range dates {
		out = append(out, d.Format("2006-01-02"))
	}
	return c.JSON(http.StatusOK, echo.Map{"dates": out})
}

func (s *ViewingsServer) SlotsForDate(c echo.Context) error {
	log := s.log.With(slog.String("handler", "SlotsForDate"))

	listingID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		log.Warn("invalid request", slog.String("reason", "bad_listing_id"))
		return c.JSON(http.StatusBadRequest, errorResponse{Error: "invalid listing id"})
	}

	date, err := time.ParseInLocation("2006-01-02", c.QueryParam("date"), s.loc)
	if err != nil {
		log.Warn("invalid request", slog.String("reason", "bad_date"))
		return c.JSON(http.StatusBadRequest, errorResponse{Error: "date must be YYYY-MM-DD"})
	}

	slots, err := s.svc.SlotsForDate(c.Request().Context(), listingID, date)
	if err != nil {
		return s.writeError(c, log, err)
	}

	out := make([]slotResponse, 0, len(slots))
	for _, slot := range slots {
		out = append(out, slotResponse{Start: slot.Start, End: slot.End, Available: slot.Available})
	}
	return c.JSON(http.StatusOK, echo.Map{"slots": out})
}

type availabilitySpan struct {
	Start string `json:"start" validate:"required"`
	End   string `json:"end" validate:"required"`
}

type replaceAvailabilityRequest struct {
	Slots []availabilitySpan `json:"slots" validate:"dive"`
}

func (s *ViewingsServer) ReplaceAvailability(c echo.Context) error {
	log := s.log.With(slog.String("handler", "ReplaceAvailability"))

	listingID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		log.Warn("invalid request", slog.String("reason", "bad_listing_id"))
		return c.JSON(http.StatusBadRequest, errorResponse{Error: "invalid listing id"})
	}

	date, err := time.ParseInLocation("2006-01-02", c.Param("date"), s.loc)
	if err != nil {
		log.Warn("invalid request", slog.String("reason", "bad_date"))
		return c.JSON(http.StatusBadRequest, errorResponse{Error: "date must be YYYY-MM-DD"})
	}

	var req replaceAvailabilityRequest
	if err := c.Bind(&req); err != nil {
		log.Warn("invalid request", slog.String("reason", "malformed_body"))
		return c.JSON(http.StatusBadRequest, errorResponse{Error: "malformed request body"})
	}
	if err := s.validate.Struct(&req); err != nil {
		log.Warn("invalid request", slog.Any("err", err))
		return c.JSON(http.StatusBadRequest, errorResponse{Error: "each slot needs a start and end time"})
	}

	spans := make([]viewings.WindowSpan, 0, len(req.Slots))
	for _, slot := range req.Slots {
		spans = append(spans, viewings.WindowSpan{Start: slot.Start, End: slot.End})
	}

	windows, err := s.svc.ReplaceAvailability(c.Request().Context(), listingID, date, spans)
	if err != nil {
		return s.writeError(c, log, err)
	}

	log.Info("availability replaced",
		slog.String("listing_id", listingID.String()),
		slog.String("date", date.Format("2006-01-02")),
		slog.Int("windows", len(windows)),
	)

	out := make([]windowResponse, 0, len(windows))
	for _, w := range windows {
		out = append(out, toWindowResponse(w))
	}
	return c.JSON(http.StatusOK, echo.Map{"windows": out})
}

func (s *ViewingsServer) ListAppointments(c echo.Context) error {
	log := s.log.With(slog.String("handler", "ListAppointments"))

	listingID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		log.Warn("invalid request", slog.String("reason", "bad_listing_id"))
		return c.JSON(http.StatusBadRequest, errorResponse{Error: "invalid listing id"})
	}

	appts, err := s.svc.ListingAppointments(c.Request().Context(), listingID)
	if err != nil {
		return s.writeError(c, log, err)
	}

	out := make([]appointmentResponse, 0, len(appts))
	for _, a := range appts {
		out = append(out, toAppointmentResponse(a))
	}
	return c.JSON(http.StatusOK, echo.Map{"appointments": out})
}

type bookingRequest struct {
	ListingID    string    `json:"listing_id" validate:"required,uuid"`
	TenantUserID string    `json:"tenant_user_id" validate:"required"`
	SlotStart    time.Time `json:"slot_start" validate:"required"`
	SlotEnd      time.Time `json:"slot_end" validate:"required"`
}

func (s *ViewingsServer) RequestBooking(c echo.Context) error {
	log := s.log.With(slog.String("handler", "RequestBooking"))

	var req bookingRequest
	if err := c.Bind(&req); err != nil {
		log.Warn("invalid request", slog.String("reason", "malformed_body"))
		return c.JSON(http.StatusBadRequest, errorResponse{Error: "malformed request body"})
	}
	if err := s.validate.Struct(&req); err != nil {
		log.Warn("invalid request", slog.Any("err", err))
		return c.JSON(http.StatusBadRequest, errorResponse{Error: "listing_id, tenant_user_id, slot_start and slot_end are required"})
	}

	listingID, err := uuid.Parse(req.ListingID)
	if err != nil {
		log.Warn("invalid request", slog.String("reason", "bad_listing_id"))
		return c.JSON(http.StatusBadRequest, errorResponse{Error: "invalid listing id"})
	}

	appt, err := s.svc.RequestBooking(c.Request().Context(), viewings.BookingInput{
		ListingID:    listingID,
		TenantUserID: req.TenantUserID,
		SlotStart:    req.SlotStart,
		SlotEnd:      req.SlotEnd,
	})
	if err != nil {
		return s.writeError(c, log, err)
	}

	log.Info("viewing requested",
		slog.String("appointment_id", appt.ID.String()),
		slog.String("listing_id", appt.ListingID.String()),
		slog.Time("slot_start", appt.StartTime),
	)

	return c.JSON(http.StatusCreated, toAppointmentResponse(appt))
}

type statusRequest struct {
	Status string `json:"status" validate:"required,oneof=pending confirmed cancelled"`
}

func (s *ViewingsServer) SetAppointmentStatus(c echo.Context) error {
	log := s.log.With(slog.String("handler", "SetAppointmentStatus"))

	appointmentID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		log.Warn("invalid request", slog.String("reason", "bad_appointment_id"))
		return c.JSON(http.StatusBadRequest, errorResponse{Error: "invalid appointment id"})
	}

	var req statusRequest
	if err := c.Bind(&req); err != nil {
		log.Warn("invalid request", slog.String("reason", "malformed_body"))
		return c.JSON(http.StatusBadRequest, errorResponse{Error: "malformed request body"})
	}
	if err := s.validate.Struct(&req); err != nil {
		log.Warn("invalid request", slog.Any("err", err))
		return c.JSON(http.StatusBadRequest, errorResponse{Error: "status must be pending, confirmed or cancelled"})
	}

	appt, err := s.svc.SetAppointmentStatus(c.Request().Context(), appointmentID, domain.AppointmentStatus(req.Status))
	if err != nil {
		return s.writeError(c, log, err)
	}

	log.Info("appointment status updated",
		slog.String("appointment_id", appt.ID.String()),
		slog.String("status", string(appt.Status)),
	)

	return c.JSON(http.StatusOK, toAppointmentResponse(appt))
}

func (s *ViewingsServer) writeError(c echo.Context, log *slog.Logger, err error) error {
	var vErr *viewings.ValidationError
	if errors.As(err, &vErr) {
		log.Warn("invalid request", slog.Any("err", err))
		return c.JSON(http.StatusBadRequest, errorResponse{Error: vErr.Error()})
	}

	var tErr *viewings.InvalidTransitionError
	if errors.As(err, &tErr) {
		log.Info("invalid transition", slog.Any("err", err))
		return c.JSON(http.StatusConflict, errorResponse{Error: tErr.Error()})
	}

	if errors.Is(err, store.ErrNotFound) {
		return c.JSON(http.StatusNotFound, errorResponse{Error: "not found"})
	}
	if errors.Is(err, store.ErrConflict) {
		log.Info("booking conflict", slog.Any("err", err))
		return c.JSON(http.StatusConflict, errorResponse{Error: "That time was just taken. Pick a different slot."})
	}

	log.Error("request failed", slog.Any("err", err))
	return c.JSON(http.StatusInternalServerError, errorResponse{Error: "internal error"})
}

func toAppointmentResponse(a domain.Appointment) appointmentResponse {
	return appointmentResponse{
		ID:           a.ID.String(),
		ListingID:    a.ListingID.String(),
		TenantUserID: a.TenantUserID,
		StartTime:    a.StartTime,
		EndTime:      a.EndTime,
		Status:       string(a.Status),
		CreatedAt:    a.CreatedAt,
	}
}

func toWindowResponse(w domain.AvailabilityWindow) windowResponse {
	out := windowResponse{
		ID:        w.ID.String(),
		DayOfWeek: w.DayOfWeek,
		StartTime: w.StartTime,
		EndTime:   w.EndTime,
	}
	if w.StartDate != nil {
		out.StartDate = w.StartDate.Format("2006-01-02")
	}
	return out
}
