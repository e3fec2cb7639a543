package postgres

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/uptrace/bun"

	"viewto/backend/internal/domain"
	"viewto/backend/internal/store"
)

const (
	pgUniqueViolation    = "23505"
	pgExclusionViolation = "23P01"
)

type ViewingRepo struct {
	db *bun.DB
}

func NewViewingRepo(db *bun.DB) *ViewingRepo {
	return &ViewingRepo{db: db}
}

type viewingTx struct {
	tx bun.Tx
}

func (r *ViewingRepo) GetListing(ctx context.Context, id uuid.UUID) (domain.Listing, error) {
	var listing domain.Listing
	err := r.db.NewSelect().
		Model(&listing).
		Where("id = ?", id).
		Limit(1).
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Listing{}, store.ErrNotFound
		}
		return domain.Listing{}, err
	}
	return listing, nil
}

func (r *ViewingRepo) GetProfile(ctx context.Context, userID string) (domain.Profile, error) {
	var profile domain.Profile
	err := r.db.NewSelect().
		Model(&profile).
		Where("id = ?", userID).
		Limit(1).
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Profile{}, store.ErrNotFound
		}
		return domain.Profile{}, err
	}
	return profile, nil
}

func (r *ViewingRepo) ListWindows(ctx context.Context, listingID uuid.UUID) ([]domain.AvailabilityWindow, error) {
	var rows []domain.AvailabilityWindow
	err := r.db.NewSelect().
		Model(&rows).
		Where("listing_id = ?", listingID).
		OrderExpr("start_date ASC NULLS FIRST, day_of_week ASC, start_time ASC").
		Scan(ctx)
	if err != nil {
		return nil, err
	}
	return rows, nil
}

func (r *ViewingRepo) ReplaceWindowsForDate(ctx context.Context, listingID uuid.UUID, date time.Time, windows []domain.AvailabilityWindow) ([]domain.AvailabilityWindow, error) {
	var out []domain.AvailabilityWindow
	err := r.InListingTransaction(ctx, listingID, func(ctx context.Context, tx store.ViewingTx) error {
		if err := tx.DeleteWindowsForDate(ctx, listingID, date); err != nil {
			return err
		}
		inserted, err := tx.InsertWindows(ctx, windows)
		if err != nil {
			return err
		}
		out = inserted
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (r *ViewingRepo) CreateAppointment(ctx context.Context, appt domain.Appointment) (domain.Appointment, error) {
	m := domain.Appointment{
		ID:           appt.ID,
		ListingID:    appt.ListingID,
		TenantUserID: appt.TenantUserID,
		StartTime:    appt.StartTime,
		EndTime:      appt.EndTime,
		Status:       appt.Status,
		CreatedAt:    appt.CreatedAt,
		UpdatedAt:    appt.UpdatedAt,
	}

	_, err := r.db.NewInsert().Model(&m).Exec(ctx)
	if err != nil {
		if isSlotTakenError(err) {
			return domain.Appointment{}, store.ErrConflict
		}
		return domain.Appointment{}, err
	}
	return m, nil
}

func (r *ViewingRepo) GetAppointment(ctx context.Context, id uuid.UUID) (domain.Appointment, error) {
	var appt domain.Appointment
	err := r.db.NewSelect().
		Model(&appt).
		Where("id = ?", id).
		Limit(1).
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Appointment{}, store.ErrNotFound
		}
		return domain.Appointment{}, err
	}
	return appt, nil
}

func (r *ViewingRepo) ListAppointments(ctx context.Context, listingID uuid.UUID) ([]domain.Appointment, error) {
	var rows []domain.Appointment
	err := r.db.NewSelect().
		Model(&rows).
		Where("listing_id = ?", listingID).
		OrderExpr("start_time ASC").
		Scan(ctx)
	if err != nil {
		return nil, err
	}
	return rows, nil
}

func (r *ViewingRepo) UpdateAppointmentStatus(ctx context.Context, id uuid.UUID, from, to domain.AppointmentStatus) (domain.Appointment, error) {
	appt, err := r.GetAppointment(ctx, id)
	if err != nil {
		return domain.Appointment{}, err
	}

	var out domain.Appointment
	err = r.InListingTransaction(ctx, appt.ListingID, func(ctx context.Context, tx store.ViewingTx) error {
		updated, err := tx.UpdateAppointmentStatus(ctx, id, from, to)
		if err != nil {
			return err
		}
		out = updated
		return nil
	})
	if err != nil {
		return domain.Appointment{}, err
	}
	return out, nil
}

// InListingTransaction serializes writers touching one listing's calendar
// with a transaction-scoped advisory lock keyed by the listing id.
func (r *ViewingRepo) InListingTransaction(ctx context.Context, listingID uuid.UUID, fn func(ctx context.Context, tx store.ViewingTx) error) error {
	return r.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		if err := lockListingCalendar(ctx, tx, listingID); err != nil {
			return err
		}
		return fn(ctx, viewingTx{tx: tx})
	})
}

func lockListingCalendar(ctx context.Context, tx bun.Tx, listingID uuid.UUID) error {
	_, err := tx.NewRaw("SELECT pg_advisory_xact_lock(hashtext(?))", listingID.String()).Exec(ctx)
	return err
}

func (r viewingTx) DeleteWindowsForDate(ctx context.Context, listingID uuid.UUID, date time.Time) error {
	_, err := r.tx.NewDelete().
		Model((*domain.AvailabilityWindow)(nil)).
		Where("listing_id = ?", listingID).
		Where("start_date = ?", date.Format("2006-01-02")).
		Exec(ctx)
	return err
}

func (r viewingTx) InsertWindows(ctx context.Context, windows []domain.AvailabilityWindow) ([]domain.AvailabilityWindow, error) {
	if len(windows) == 0 {
		return nil, nil
	}

	rows := make([]domain.AvailabilityWindow, len(windows))
	copy(rows, windows)

	_, err := r.tx.NewInsert().Model(&rows).Exec(ctx)
	if err != nil {
		return nil, err
	}
	return rows, nil
}

func (r viewingTx) GetAppointment(ctx context.Context, id uuid.UUID) (domain.Appointment, error) {
	var appt domain.Appointment
	err := r.tx.NewSelect().
		Model(&appt).
		Where("id = ?", id).
		Limit(1).
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Appointment{}, store.ErrNotFound
		}
		return domain.Appointment{}, err
	}
	return appt, nil
}

func (r viewingTx) UpdateAppointmentStatus(ctx context.Context, id uuid.UUID, from, to domain.AppointmentStatus) (domain.Appointment, error) {
	res, err := r.tx.NewUpdate().
		Model((*domain.Appointment)(nil)).
		Set("status = ?", to).
		Set("updated_at = ?", time.Now().UTC()).
		Where("id = ?", id).
		Where("status = ?", from).
		Exec(ctx)
	if err != nil {
		if isConfirmOverlapError(err) {
			return domain.Appointment{}, store.ErrConflict
		}
		return domain.Appointment{}, err
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return domain.Appointment{}, err
	}
	if affected == 0 {
		// Either the row is gone or another caller moved it first.
		if _, getErr := r.GetAppointment(ctx, id); getErr != nil {
			return domain.Appointment{}, getErr
		}
		return domain.Appointment{}, store.ErrConflict
	}

	return r.GetAppointment(ctx, id)
}

func isSlotTakenError(err error) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return false
	}
	return pgErr.Code == pgUniqueViolation || pgErr.Code == pgExclusionViolation
}

func isConfirmOverlapError(err error) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return false
	}
	return pgErr.Code == pgExclusionViolation && pgErr.ConstraintName == "appointments_no_double_confirm"
}
