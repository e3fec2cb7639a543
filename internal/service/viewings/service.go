package viewings

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"viewto/backend/internal/domain"
	"viewto/backend/internal/notify"
	"viewto/backend/internal/store"
)

const (
	DefaultHorizonDays = 30
	maxHorizonDays     = 365
)

type ValidationError struct {
	msg string
}

func (e *ValidationError) Error() string {
	return e.msg
}

// NewValidationError wraps a message in the error type the transport layer
// maps to a client error.
func NewValidationError(msg string) *ValidationError {
	return &ValidationError{msg: msg}
}

func validationError(msg string) error {
	return NewValidationError(msg)
}

type InvalidTransitionError struct {
	From domain.AppointmentStatus
	To   domain.AppointmentStatus
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("appointment cannot move from %s to %s", e.From, e.To)
}

type Service struct {
	repo           store.ViewingRepository
	notifier       notify.Notifier
	loc            *time.Location
	defaultHorizon int
	log            *slog.Logger
	now            func() time.Time
}

func NewService(repo store.ViewingRepository, notifier notify.Notifier, loc *time.Location, defaultHorizonDays int, log *slog.Logger) *Service {
	if loc == nil {
		loc = time.UTC
	}
	if defaultHorizonDays <= 0 || defaultHorizonDays > maxHorizonDays {
		defaultHorizonDays = DefaultHorizonDays
	}
	if log == nil {
		log = slog.Default()
	}
	return &Service{
		repo:           repo,
		notifier:       notifier,
		loc:            loc,
		defaultHorizon: defaultHorizonDays,
		log:            log.With(slog.String("component", "service.viewings")),
		now:            time.Now,
	}
}

// AvailableDates lists the calendar dates within the horizon that have at
// least one availability window. An empty result means the listing simply
// has no availability; it is not an error.
func (s *Service) AvailableDates(ctx context.Context, listingID uuid.UUID, horizonDays int) ([]time.Time, error) {
	if listingID == uuid.Nil {
		return nil, validationError("listing_id is required")
	}
	if horizonDays < 0 {
		return nil, validationError("horizon_days must not be negative")
	}
	if horizonDays == 0 {
		horizonDays = s.defaultHorizon
	}
	if horizonDays > maxHorizonDays {
		return nil, validationError(fmt.Sprintf("horizon_days must be at most %d", maxHorizonDays))
	}

	if _, err := s.repo.GetListing(ctx, listingID); err != nil {
		return nil, err
	}

	windows, err := s.repo.ListWindows(ctx, listingID)
	if err != nil {
		return nil, err
	}

	return domain.AvailableDates(windows, s.now().In(s.loc), horizonDays), nil
}

// SlotsForDate computes the deduplicated, ordered slot set for one date.
// Every appointment of the listing is passed to the generator regardless of
// status, matching the system's historical behavior.
func (s *Service) SlotsForDate(ctx context.Context, listingID uuid.UUID, date time.Time) ([]domain.Slot, error) {
	if listingID == uuid.Nil {
		return nil, validationError("listing_id is required")
	}

	if _, err := s.repo.GetListing(ctx, listingID); err != nil {
		return nil, err
	}

	windows, err := s.repo.ListWindows(ctx, listingID)
	if err != nil {
		return nil, err
	}
	appointments, err := s.repo.ListAppointments(ctx, listingID)
	if err != nil {
		return nil, err
	}

	day := s.midnight(date)
	raw := make([]domain.Slot, 0, 16)
	for _, w := range domain.MatchingWindows(windows, day) {
		slots, err := domain.GenerateSlots(w, appointments, day)
		if err != nil {
			return nil, err
		}
		raw = append(raw, slots...)
	}

	return domain.MergeSlots(raw), nil
}

type BookingInput struct {
	ListingID    uuid.UUID
	TenantUserID string
	SlotStart    time.Time
	SlotEnd      time.Time
}

// RequestBooking records a tenant's viewing request as a pending
// appointment and notifies the listing owner. The requested interval must
// fall inside a window matching that date; the check is best-effort, the
// storage constraints bound what a stale read can do.
func (s *Service) RequestBooking(ctx context.Context, in BookingInput) (domain.Appointment, error) {
	if in.ListingID == uuid.Nil {
		return domain.Appointment{}, validationError("listing_id is required")
	}
	if strings.TrimSpace(in.TenantUserID) == "" {
		return domain.Appointment{}, validationError("tenant_user_id is required")
	}

	start := in.SlotStart
	end := in.SlotEnd
	if !end.After(start) {
		return domain.Appointment{}, validationError("slot_end must be after slot_start")
	}
	if end.Sub(start) > 24*time.Hour {
		return domain.Appointment{}, validationError("viewing duration too long")
	}

	listing, err := s.repo.GetListing(ctx, in.ListingID)
	if err != nil {
		return domain.Appointment{}, err
	}

	windows, err := s.repo.ListWindows(ctx, in.ListingID)
	if err != nil {
		return domain.Appointment{}, err
	}

	day := s.midnight(start.In(s.loc))
	if !intervalInsideSomeWindow(domain.MatchingWindows(windows, day), day, start, end) {
		return domain.Appointment{}, validationError("requested time is outside the listing's availability")
	}

	appt := domain.Appointment{
		ListingID:    in.ListingID,
		TenantUserID: in.TenantUserID,
		StartTime:    start.UTC(),
		EndTime:      end.UTC(),
		Status:       domain.AppointmentStatusPending,
	}

	created, err := s.repo.CreateAppointment(ctx, appt)
	if err != nil {
		return domain.Appointment{}, err
	}

	s.sendNotification(ctx, listing.ContactEmail, "New viewing request",
		fmt.Sprintf("A tenant has requested to view %s on %s. Log in to accept or decline.",
			listing.Address, s.formatTime(created.StartTime)))

	return created, nil
}

// SetAppointmentStatus applies one transition of the appointment state
// machine. Confirmation notifies both parties; cancellation notifies
// nobody, as the system has always behaved.
func (s *Service) SetAppointmentStatus(ctx context.Context, appointmentID uuid.UUID, newStatus domain.AppointmentStatus) (domain.Appointment, error) {
	if appointmentID == uuid.Nil {
		return domain.Appointment{}, validationError("appointment_id is required")
	}
	if !newStatus.Valid() {
		return domain.Appointment{}, validationError("unknown status")
	}

	appt, err := s.repo.GetAppointment(ctx, appointmentID)
	if err != nil {
		return domain.Appointment{}, err
	}

	if !domain.CanTransition(appt.Status, newStatus) {
		return domain.Appointment{}, &InvalidTransitionError{From: appt.Status, To: newStatus}
	}

	updated, err := s.repo.UpdateAppointmentStatus(ctx, appointmentID, appt.Status, newStatus)
	if err != nil {
		return domain.Appointment{}, err
	}

	if newStatus == domain.AppointmentStatusConfirmed {
		s.notifyConfirmed(ctx, updated)
	}

	return updated, nil
}

type WindowSpan struct {
	Start string
	End   string
}

// ReplaceAvailability swaps the window set for one (listing, date). The
// whole set is replaced, never patched: the landlord edits a date's
// availability as a unit.
func (s *Service) ReplaceAvailability(ctx context.Context, listingID uuid.UUID, date time.Time, spans []WindowSpan) ([]domain.AvailabilityWindow, error) {
	if listingID == uuid.Nil {
		return nil, validationError("listing_id is required")
	}

	if _, err := s.repo.GetListing(ctx, listingID); err != nil {
		return nil, err
	}

	day := s.midnight(date)
	windows := make([]domain.AvailabilityWindow, 0, len(spans))
	for _, span := range spans {
		d := day
		w := domain.AvailabilityWindow{
			ListingID: listingID,
			DayOfWeek: domain.LegacyDayOfWeek(day),
			StartDate: &d,
			EndDate:   &d,
			StartTime: normalizeWallClock(span.Start),
			EndTime:   normalizeWallClock(span.End),
		}
		if err := w.Validate(); err != nil {
			return nil, validationError(err.Error())
		}
		windows = append(windows, w)
	}

	return s.repo.ReplaceWindowsForDate(ctx, listingID, day, windows)
}

// ListingAppointments returns every appointment of a listing, oldest first.
func (s *Service) ListingAppointments(ctx context.Context, listingID uuid.UUID) ([]domain.Appointment, error) {
	if listingID == uuid.Nil {
		return nil, validationError("listing_id is required")
	}
	if _, err := s.repo.GetListing(ctx, listingID); err != nil {
		return nil, err
	}
	return s.repo.ListAppointments(ctx, listingID)
}

func (s *Service) notifyConfirmed(ctx context.Context, appt domain.Appointment) {
	when := s.formatTime(appt.StartTime)

	listing, err := s.repo.GetListing(ctx, appt.ListingID)
	if err != nil {
		s.log.Warn("confirmation notification skipped: listing lookup failed",
			slog.Any("err", err), slog.String("appointment_id", appt.ID.String()))
		return
	}

	if profile, err := s.repo.GetProfile(ctx, appt.TenantUserID); err != nil {
		s.log.Warn("tenant notification skipped: profile lookup failed",
			slog.Any("err", err), slog.String("tenant_user_id", appt.TenantUserID))
	} else {
		s.sendNotification(ctx, profile.Email, "Viewing confirmed",
			fmt.Sprintf("Your viewing request for %s on %s has been accepted. Please arrive five minutes early.",
				listing.Address, when))
	}

	s.sendNotification(ctx, listing.ContactEmail, "Viewing scheduled",
		fmt.Sprintf("You have confirmed a viewing of %s on %s.", listing.Address, when))
}

func (s *Service) sendNotification(ctx context.Context, recipient, subject, body string) {
	if err := s.notifier.Notify(ctx, recipient, subject, body); err != nil {
		s.log.Warn("notification failed",
			slog.Any("err", err),
			slog.String("to", recipient),
			slog.String("subject", subject),
		)
	}
}

func (s *Service) midnight(t time.Time) time.Time {
	t = t.In(s.loc)
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, s.loc)
}

func (s *Service) formatTime(t time.Time) string {
	return t.In(s.loc).Format("Monday, January 2, 2006 at 3:04 PM")
}

func intervalInsideSomeWindow(windows []domain.AvailabilityWindow, day, start, end time.Time) bool {
	for _, w := range windows {
		ws, err := domain.WallClockOn(day, w.StartTime)
		if err != nil {
			continue
		}
		we, err := domain.WallClockOn(day, w.EndTime)
		if err != nil {
			continue
		}
		if !start.Before(ws) && !end.After(we) {
			return true
		}
	}
	return false
}

func normalizeWallClock(s string) string {
	s = strings.TrimSpace(s)
	if strings.Count(s, ":") == 1 {
		return s + ":00"
	}
	return s
}
