package domain

import (
	"sort"
	"time"
)

// SlotDuration is the fixed length of every bookable viewing slot.
const SlotDuration = time.Hour

// Slot is a derived candidate viewing interval. It is never persisted.
type Slot struct {
	Start     time.Time
	End       time.Time
	Available bool
}

// GenerateSlots computes the bookable slots for one window on one calendar
// date. The window's wall-clock bounds are placed on targetDate in
// targetDate's location, then consecutive SlotDuration slots are emitted;
// a slot that would cross the window end is not emitted.
//
// A slot is unavailable when its start falls inside an appointment or an
// appointment starts inside the slot. Appointment status is not consulted:
// a cancelled appointment still blocks its slot, matching how the system
// has always behaved. Callers wanting cancelled holds released must filter
// the appointment list themselves.
func GenerateSlots(window AvailabilityWindow, appointments []Appointment, targetDate time.Time) ([]Slot, error) {
	windowStart, err := WallClockOn(targetDate, window.StartTime)
	if err != nil {
		return nil, err
	}
	windowEnd, err := WallClockOn(targetDate, window.EndTime)
	if err != nil {
		return nil, err
	}

	var slots []Slot
	for cur := windowStart; cur.Before(windowEnd); cur = cur.Add(SlotDuration) {
		end := cur.Add(SlotDuration)
		if end.After(windowEnd) {
			break
		}

		booked := false
		for _, a := range appointments {
			startsInside := !cur.Before(a.StartTime) && cur.Before(a.EndTime)
			overlapsStart := cur.Before(a.StartTime) && end.After(a.StartTime)
			if startsInside || overlapsStart {
				booked = true
				break
			}
		}

		slots = append(slots, Slot{Start: cur, End: end, Available: !booked})
	}

	return slots, nil
}

// MergeSlots combines the slot sequences of multiple windows for one date:
// the first slot wins for each distinct start instant, then the result is
// sorted ascending by start. The tenant never sees the same slot twice.
func MergeSlots(slots []Slot) []Slot {
	seen := make(map[int64]struct{}, len(slots))
	out := make([]Slot, 0, len(slots))
	for _, s := range slots {
		key := s.Start.UnixNano()
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, s)
	}

	sort.Slice(out, func(i, j int) bool {
		return out[i].Start.Before(out[j].Start)
	})
	return out
}
