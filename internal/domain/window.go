package domain

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// AvailabilityWindow is a landlord-declared open interval for one listing.
// A window with StartDate set applies only to that calendar date; a window
// with StartDate unset recurs on every date whose weekday matches DayOfWeek.
type AvailabilityWindow struct {
	bun.BaseModel `bun:"table:availability_windows"`

	ID        uuid.UUID `bun:"id,pk,type:uuid"`
	ListingID uuid.UUID `bun:"listing_id,notnull,type:uuid"`
	// DayOfWeek is 1-7 with 1 = Sunday, the key the original data was
	// written with. LegacyDayOfWeek is the only place that encodes it.
	DayOfWeek int        `bun:"day_of_week,notnull"`
	StartDate *time.Time `bun:"start_date"`
	EndDate   *time.Time `bun:"end_date"`
	StartTime string     `bun:"start_time,notnull"`
	EndTime   string     `bun:"end_time,notnull"`
	CreatedAt time.Time  `bun:"created_at,notnull"`
	UpdatedAt time.Time  `bun:"updated_at,notnull"`
}

func (w *AvailabilityWindow) BeforeAppendModel(ctx context.Context, query bun.Query) error {
	now := time.Now().UTC()
	switch query.(type) {
	case *bun.InsertQuery:
		if w.ID == uuid.Nil {
			id, err := uuid.NewV7()
			if err != nil {
				return err
			}
			w.ID = id
		}
		if w.CreatedAt.IsZero() {
			w.CreatedAt = now
		}
		if w.UpdatedAt.IsZero() {
			w.UpdatedAt = now
		}
	case *bun.UpdateQuery:
		w.UpdatedAt = now
	}
	return nil
}

// LegacyDayOfWeek maps a date to the 1-7 Sunday-based key stored in
// AvailabilityWindow.DayOfWeek.
func LegacyDayOfWeek(t time.Time) int {
	return int(t.Weekday()) + 1
}

// ParseWallClock parses a "HH:MM" or "HH:MM:SS" time-of-day string.
func ParseWallClock(s string) (hour, minute, second int, err error) {
	parts := strings.Split(strings.TrimSpace(s), ":")
	if len(parts) != 2 && len(parts) != 3 {
		return 0, 0, 0, fmt.Errorf("invalid time of day %q", s)
	}

	nums := make([]int, len(parts))
	for i, p := range parts {
		n, convErr := strconv.Atoi(p)
		if convErr != nil {
			return 0, 0, 0, fmt.Errorf("invalid time of day %q", s)
		}
		nums[i] = n
	}

	hour, minute = nums[0], nums[1]
	if len(nums) == 3 {
		second = nums[2]
	}
	if hour < 0 || hour > 23 || minute < 0 || minute > 59 || second < 0 || second > 59 {
		return 0, 0, 0, fmt.Errorf("invalid time of day %q", s)
	}
	return hour, minute, second, nil
}

// WallClockOn places a time-of-day string on the given calendar date, in
// that date's location.
func WallClockOn(date time.Time, timeOfDay string) (time.Time, error) {
	h, m, s, err := ParseWallClock(timeOfDay)
	if err != nil {
		return time.Time{}, err
	}
	return time.Date(date.Year(), date.Month(), date.Day(), h, m, s, 0, date.Location()), nil
}

// Validate checks the wall-clock bounds of a window.
func (w AvailabilityWindow) Validate() error {
	sh, sm, ss, err := ParseWallClock(w.StartTime)
	if err != nil {
		return err
	}
	eh, em, es, err := ParseWallClock(w.EndTime)
	if err != nil {
		return err
	}
	start := sh*3600 + sm*60 + ss
	end := eh*3600 + em*60 + es
	if start >= end {
		return errors.New("start_time must be before end_time")
	}
	return nil
}

func sameDate(a, b time.Time) bool {
	return a.Year() == b.Year() && a.Month() == b.Month() && a.Day() == b.Day()
}

// MatchingWindows returns the windows that apply to one calendar date.
// Date-specific windows are authoritative: when any exist for the date,
// recurring windows for that weekday are ignored entirely.
func MatchingWindows(windows []AvailabilityWindow, date time.Time) []AvailabilityWindow {
	var dateSpecific []AvailabilityWindow
	var recurring []AvailabilityWindow

	weekday := LegacyDayOfWeek(date)
	for _, w := range windows {
		if w.StartDate != nil {
			if sameDate(*w.StartDate, date) {
				dateSpecific = append(dateSpecific, w)
			}
			continue
		}
		if w.DayOfWeek == weekday {
			recurring = append(recurring, w)
		}
	}

	if len(dateSpecific) > 0 {
		return dateSpecific
	}
	return recurring
}

// AvailableDates walks the horizon [today, today+horizonDays) and returns
// the dates with at least one matching window, at midnight in today's
// location. An empty result is the "no availability" state, not an error.
func AvailableDates(windows []AvailabilityWindow, today time.Time, horizonDays int) []time.Time {
	day := time.Date(today.Year(), today.Month(), today.Day(), 0, 0, 0, 0, today.Location())

	out := make([]time.Time, 0, horizonDays)
	for i := 0; i < horizonDays; i++ {
		d := day.AddDate(0, 0, i)
		if len(MatchingWindows(windows, d)) > 0 {
			out = append(out, d)
		}
	}
	return out
}
