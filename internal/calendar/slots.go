package calendar

import (
	"sort"
	"time"
)

// Slot is a bookable window in the configured business timezone.
type Slot struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// WorkWindow bounds the bookable hours of a weekday.
type WorkWindow struct {
	Location  *time.Location
	StartHour int
	EndHour   int
}

// AvailableSlots derives the open slots of duration d on the given date:
// weekdays only, inside the work window, aligned to 30-minute boundaries,
// and disjoint from every busy interval. Busy interval times are interpreted
// in the window's location.
func AvailableSlots(date time.Time, d time.Duration, busy []BusyInterval, win WorkWindow) []Slot {
	if d <= 0 {
		return nil
	}

	day := time.Date(date.Year(), date.Month(), date.Day(), 0, 0, 0, 0, win.Location)
	if wd := day.Weekday(); wd == time.Saturday || wd == time.Sunday {
		return nil
	}

	open := day.Add(time.Duration(win.StartHour) * time.Hour)
	close := day.Add(time.Duration(win.EndHour) * time.Hour)

	occupied := make([]BusyInterval, 0, len(busy))
	for _, b := range busy {
		occupied = append(occupied, BusyInterval{
			Start: b.Start.In(win.Location),
			End:   b.End.In(win.Location),
		})
	}
	sort.Slice(occupied, func(i, j int) bool { return occupied[i].Start.Before(occupied[j].Start) })

	slots := make([]Slot, 0)
	for start := open; !start.Add(d).After(close); start = start.Add(30 * time.Minute) {
		end := start.Add(d)
		if !overlapsAny(start, end, occupied) {
			slots = append(slots, Slot{Start: start, End: end})
		}
	}
	return slots
}

func overlapsAny(start, end time.Time, busy []BusyInterval) bool {
	for _, b := range busy {
		if start.Before(b.End) && b.Start.Before(end) {
			return true
		}
	}
	return false
}
