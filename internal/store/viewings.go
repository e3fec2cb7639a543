package store

import (
	"context"
	"time"

	"github.com/google/uuid"

	"viewto/backend/internal/domain"
)

// ViewingRepository is everything the booking workflow needs from
// persistence: the listing directory, the tenant contact directory, the
// availability windows and the appointments of a listing.
type ViewingRepository interface {
	GetListing(ctx context.Context, id uuid.UUID) (domain.Listing, error)
	GetProfile(ctx context.Context, userID string) (domain.Profile, error)

	ListWindows(ctx context.Context, listingID uuid.UUID) ([]domain.AvailabilityWindow, error)

	// ReplaceWindowsForDate atomically swaps the window set for one
	// (listing, date): existing windows pinned to that date are deleted
	// and the given set inserted in a single transaction, so readers
	// never observe the date with zero windows mid-edit.
	ReplaceWindowsForDate(ctx context.Context, listingID uuid.UUID, date time.Time, windows []domain.AvailabilityWindow) ([]domain.AvailabilityWindow, error)

	// CreateAppointment inserts a pending appointment. A second
	// non-cancelled appointment with the same (listing, start_time) is
	// rejected with ErrConflict.
	CreateAppointment(ctx context.Context, appt domain.Appointment) (domain.Appointment, error)
	GetAppointment(ctx context.Context, id uuid.UUID) (domain.Appointment, error)
	ListAppointments(ctx context.Context, listingID uuid.UUID) ([]domain.Appointment, error)

	// UpdateAppointmentStatus transitions an appointment from the
	// expected status. It returns ErrConflict when the row moved past
	// `from` concurrently or when confirming would overlap another
	// confirmed appointment, and ErrNotFound when the appointment does
	// not exist.
	UpdateAppointmentStatus(ctx context.Context, id uuid.UUID, from, to domain.AppointmentStatus) (domain.Appointment, error)
}

// ViewingTx groups the statements that must share a per-listing
// transaction.
type ViewingTx interface {
	DeleteWindowsForDate(ctx context.Context, listingID uuid.UUID, date time.Time) error
	InsertWindows(ctx context.Context, windows []domain.AvailabilityWindow) ([]domain.AvailabilityWindow, error)
	GetAppointment(ctx context.Context, id uuid.UUID) (domain.Appointment, error)
	UpdateAppointmentStatus(ctx context.Context, id uuid.UUID, from, to domain.AppointmentStatus) (domain.Appointment, error)
}
