package postgres

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/uptrace/bun"

	"viewto/backend/internal/domain"
	"viewto/backend/internal/store"
)

// The repo methods run their own transactions, and the slot constraints
// surface as real postgres errors, so this test works on a committed schema
// on a single pooled connection rather than inside one wrapping transaction.
func TestPostgresIntegration_ViewingCalendar(t *testing.T) {
	databaseURL := strings.TrimSpace(os.Getenv("VIEWTO_TEST_DATABASE_URL"))
	if databaseURL == "" {
		t.Skip("VIEWTO_TEST_DATABASE_URL not set")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	db, err := Connect(ctx, databaseURL, Options{MaxOpenConns: 1})
	if err != nil {
		t.Fatalf("Connect error: %v", err)
	}
	t.Cleanup(func() {
		_ = Close(db)
	})

	schema := "viewto_test_" + randomHex(t, 8)
	if _, err := db.NewRaw("CREATE SCHEMA " + schema).Exec(ctx); err != nil {
		t.Fatalf("create schema: %v", err)
	}
	t.Cleanup(func() {
		cleanupCtx, cleanupCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cleanupCancel()
		_, _ = db.NewRaw("DROP SCHEMA IF EXISTS " + schema + " CASCADE").Exec(cleanupCtx)
	})

	// MaxOpenConns is 1, so the session search_path holds for every
	// statement the repo issues.
	if _, err := db.NewRaw("SET search_path TO " + schema + ", public").Exec(ctx); err != nil {
		t.Fatalf("set search_path: %v", err)
	}
	if err := applyMigrations(ctx, db); err != nil {
		t.Fatalf("apply migrations: %v", err)
	}

	repo := NewViewingRepo(db)

	listing := domain.Listing{
		ID:           uuid.MustParse("00000000-0000-0000-0000-000000000a01"),
		Address:      "12 King St W",
		Price:        2400,
		ContactEmail: "landlord@example.com",
		ListingType:  domain.ListingTypeRent,
	}
	if _, err := db.NewInsert().Model(&listing).Exec(ctx); err != nil {
		t.Fatalf("insert listing: %v", err)
	}

	profile := domain.Profile{ID: "tenant-1", Email: "tenant@example.com", FullName: "Test Tenant"}
	if _, err := db.NewInsert().Model(&profile).Exec(ctx); err != nil {
		t.Fatalf("insert profile: %v", err)
	}

	t.Run("lookups", func(t *testing.T) {
		got, err := repo.GetListing(ctx, listing.ID)
		if err != nil {
			t.Fatalf("GetListing error: %v", err)
		}
		if got.ContactEmail != listing.ContactEmail {
			t.Fatalf("contact_email = %q, want %q", got.ContactEmail, listing.ContactEmail)
		}

		if _, err := repo.GetListing(ctx, uuid.MustParse("00000000-0000-0000-0000-0000000000ff")); !errors.Is(err, store.ErrNotFound) {
			t.Fatalf("missing listing err = %v, want %v", err, store.ErrNotFound)
		}

		p, err := repo.GetProfile(ctx, "tenant-1")
		if err != nil {
			t.Fatalf("GetProfile error: %v", err)
		}
		if p.Email != "tenant@example.com" {
			t.Fatalf("profile email = %q", p.Email)
		}
		if _, err := repo.GetProfile(ctx, "nobody"); !errors.Is(err, store.ErrNotFound) {
			t.Fatalf("missing profile err = %v, want %v", err, store.ErrNotFound)
		}
	})

	date := time.Date(2026, 1, 7, 0, 0, 0, 0, time.UTC) // Wednesday

	t.Run("replace windows is a whole-date swap", func(t *testing.T) {
		recurring := domain.AvailabilityWindow{
			ListingID: listing.ID,
			DayOfWeek: 4,
			StartTime: "09:00:00",
			EndTime:   "17:00:00",
		}
		if _, err := db.NewInsert().Model(&recurring).Exec(ctx); err != nil {
			t.Fatalf("insert recurring window: %v", err)
		}

		d := date
		first, err := repo.ReplaceWindowsForDate(ctx, listing.ID, date, []domain.AvailabilityWindow{
			{ListingID: listing.ID, DayOfWeek: 4, StartDate: &d, EndDate: &d, StartTime: "10:00:00", EndTime: "12:00:00"},
			{ListingID: listing.ID, DayOfWeek: 4, StartDate: &d, EndDate: &d, StartTime: "14:00:00", EndTime: "16:00:00"},
		})
		if err != nil {
			t.Fatalf("ReplaceWindowsForDate error: %v", err)
		}
		if len(first) != 2 {
			t.Fatalf("len(first) = %d, want 2", len(first))
		}

		second, err := repo.ReplaceWindowsForDate(ctx, listing.ID, date, []domain.AvailabilityWindow{
			{ListingID: listing.ID, DayOfWeek: 4, StartDate: &d, EndDate: &d, StartTime: "13:00:00", EndTime: "15:00:00"},
		})
		if err != nil {
			t.Fatalf("second ReplaceWindowsForDate error: %v", err)
		}
		if len(second) != 1 {
			t.Fatalf("len(second) = %d, want 1", len(second))
		}

		all, err := repo.ListWindows(ctx, listing.ID)
		if err != nil {
			t.Fatalf("ListWindows error: %v", err)
		}
		// The recurring window survives the date-specific swap.
		var recurringKept bool
		var dateSpecific int
		for _, w := range all {
			if w.StartDate == nil {
				recurringKept = true
				continue
			}
			dateSpecific++
		}
		if !recurringKept {
			t.Fatalf("recurring window was deleted by a date-specific replace")
		}
		if dateSpecific != 1 {
			t.Fatalf("date-specific windows = %d, want 1", dateSpecific)
		}
	})

	slotStart := time.Date(2026, 1, 7, 10, 0, 0, 0, time.UTC)

	t.Run("same slot cannot be held twice", func(t *testing.T) {
		first, err := repo.CreateAppointment(ctx, domain.Appointment{
			ListingID:    listing.ID,
			TenantUserID: "tenant-1",
			StartTime:    slotStart,
			EndTime:      slotStart.Add(time.Hour),
			Status:       domain.AppointmentStatusPending,
		})
		if err != nil {
			t.Fatalf("CreateAppointment error: %v", err)
		}
		if first.ID == uuid.Nil {
			t.Fatalf("expected generated id")
		}

		_, err = repo.CreateAppointment(ctx, domain.Appointment{
			ListingID:    listing.ID,
			TenantUserID: "tenant-2",
			StartTime:    slotStart,
			EndTime:      slotStart.Add(time.Hour),
			Status:       domain.AppointmentStatusPending,
		})
		if !errors.Is(err, store.ErrConflict) {
			t.Fatalf("duplicate slot err = %v, want %v", err, store.ErrConflict)
		}
	})

	t.Run("cancelled hold frees the slot key", func(t *testing.T) {
		freeStart := time.Date(2026, 1, 7, 14, 0, 0, 0, time.UTC)
		first, err := repo.CreateAppointment(ctx, domain.Appointment{
			ListingID:    listing.ID,
			TenantUserID: "tenant-1",
			StartTime:    freeStart,
			EndTime:      freeStart.Add(time.Hour),
			Status:       domain.AppointmentStatusPending,
		})
		if err != nil {
			t.Fatalf("CreateAppointment error: %v", err)
		}

		if _, err := repo.UpdateAppointmentStatus(ctx, first.ID, domain.AppointmentStatusPending, domain.AppointmentStatusCancelled); err != nil {
			t.Fatalf("cancel error: %v", err)
		}

		if _, err := repo.CreateAppointment(ctx, domain.Appointment{
			ListingID:    listing.ID,
			TenantUserID: "tenant-2",
			StartTime:    freeStart,
			EndTime:      freeStart.Add(time.Hour),
			Status:       domain.AppointmentStatusPending,
		}); err != nil {
			t.Fatalf("rebooking a cancelled slot should succeed, got %v", err)
		}
	})

	t.Run("status update is compare-and-set", func(t *testing.T) {
		appts, err := repo.ListAppointments(ctx, listing.ID)
		if err != nil {
			t.Fatalf("ListAppointments error: %v", err)
		}
		var pending domain.Appointment
		for _, a := range appts {
			if a.Status == domain.AppointmentStatusPending && a.StartTime.Equal(slotStart) {
				pending = a
			}
		}
		if pending.ID == uuid.Nil {
			t.Fatalf("no pending appointment at %v", slotStart)
		}

		confirmed, err := repo.UpdateAppointmentStatus(ctx, pending.ID, domain.AppointmentStatusPending, domain.AppointmentStatusConfirmed)
		if err != nil {
			t.Fatalf("confirm error: %v", err)
		}
		if confirmed.Status != domain.AppointmentStatusConfirmed {
			t.Fatalf("status = %s, want confirmed", confirmed.Status)
		}

		// Stale precondition: the row moved on, so the guarded update
		// matches nothing.
		_, err = repo.UpdateAppointmentStatus(ctx, pending.ID, domain.AppointmentStatusPending, domain.AppointmentStatusCancelled)
		if !errors.Is(err, store.ErrConflict) {
			t.Fatalf("stale update err = %v, want %v", err, store.ErrConflict)
		}

		_, err = repo.UpdateAppointmentStatus(ctx,
			uuid.MustParse("00000000-0000-0000-0000-0000000000fe"),
			domain.AppointmentStatusPending, domain.AppointmentStatusConfirmed)
		if !errors.Is(err, store.ErrNotFound) {
			t.Fatalf("missing appointment err = %v, want %v", err, store.ErrNotFound)
		}
	})

	t.Run("overlapping confirm is rejected", func(t *testing.T) {
		// Different start_time, so the slot key admits it; the overlap
		// only bites on confirmation.
		overlapping, err := repo.CreateAppointment(ctx, domain.Appointment{
			ListingID:    listing.ID,
			TenantUserID: "tenant-2",
			StartTime:    slotStart.Add(30 * time.Minute),
			EndTime:      slotStart.Add(90 * time.Minute),
			Status:       domain.AppointmentStatusPending,
		})
		if err != nil {
			t.Fatalf("CreateAppointment error: %v", err)
		}

		_, err = repo.UpdateAppointmentStatus(ctx, overlapping.ID, domain.AppointmentStatusPending, domain.AppointmentStatusConfirmed)
		if !errors.Is(err, store.ErrConflict) {
			t.Fatalf("overlapping confirm err = %v, want %v", err, store.ErrConflict)
		}
	})
}

func randomHex(t *testing.T, bytesLen int) string {
	t.Helper()
	b := make([]byte, bytesLen)
	if _, err := rand.Read(b); err != nil {
		t.Fatalf("rand.Read error: %v", err)
	}
	return hex.EncodeToString(b)
}

type rawExecutor interface {
	NewRaw(query string, args ...any) *bun.RawQuery
}

func applyMigrations(ctx context.Context, exec rawExecutor) error {
	dir, err := migrationsDir()
	if err != nil {
		return err
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		return err
	}

	type mig struct {
		name string
		path string
	}
	migs := make([]mig, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if !strings.HasSuffix(e.Name(), ".sql") {
			continue
		}
		migs = append(migs, mig{name: e.Name(), path: filepath.Join(dir, e.Name())})
	}
	sort.Slice(migs, func(i, j int) bool { return migs[i].name < migs[j].name })

	for _, m := range migs {
		b, err := os.ReadFile(m.path)
		if err != nil {
			return err
		}
		upSQL, err := extractGooseUp(string(b))
		if err != nil {
			return err
		}
		for _, stmt := range splitSQLStatements(upSQL) {
			if normalized, ok := normalizeExtensionStatement(stmt); ok {
				stmt = normalized
			}
			if _, err := exec.NewRaw(stmt).Exec(ctx); err != nil {
				return err
			}
		}
	}

	return nil
}

func migrationsDir() (string, error) {
	_, file, _, ok := runtime.Caller(0)
	if !ok {
		return "", fmt.Errorf("runtime.Caller failed")
	}
	base := filepath.Dir(file)
	return filepath.Clean(filepath.Join(base, "..", "..", "..", "migrations")), nil
}

func extractGooseUp(sql string) (string, error) {
	upMarker := "-- +goose Up"
	downMarker := "-- +goose Down"

	upIdx := strings.Index(sql, upMarker)
	if upIdx < 0 {
		return "", fmt.Errorf("missing goose up marker")
	}
	afterUp := sql[upIdx+len(upMarker):]
	afterUp = strings.TrimLeft(afterUp, "\r\n")

	downIdx := strings.Index(afterUp, downMarker)
	if downIdx < 0 {
		return strings.TrimSpace(afterUp), nil
	}
	return strings.TrimSpace(afterUp[:downIdx]), nil
}

// The btree_gist extension cannot live in the throwaway schema; pinning it
// to public keeps the gist operator classes resolvable via search_path.
func normalizeExtensionStatement(stmt string) (string, bool) {
	s := strings.TrimSpace(stmt)
	upper := strings.ToUpper(s)
	if !strings.HasPrefix(upper, "CREATE EXTENSION") {
		return "", false
	}
	if !strings.Contains(upper, "BTREE_GIST") {
		return "", false
	}
	if strings.Contains(upper, " SCHEMA ") {
		return "", false
	}
	return s + " SCHEMA public", true
}

func splitSQLStatements(sql string) []string {
	parts := strings.Split(sql, ";")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		s := strings.TrimSpace(p)
		if s == "" {
			continue
		}
		out = append(out, s)
	}
	return out
}
