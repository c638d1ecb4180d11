package calendar

import (
	"testing"
	"time"
)

var bogota = mustLoad("America/Bogota")

func mustLoad(name string) *time.Location {
	loc, err := time.LoadLocation(name)
	if err != nil {
		panic(err)
	}
	return loc
}

func window() WorkWindow {
	return WorkWindow{Location: bogota, StartHour: 8, EndHour: 17}
}

func TestAvailableSlotsEmptyCalendar(t *testing.T) {
	// 2026-09-02 is a Wednesday.
	day := time.Date(2026, 9, 2, 0, 0, 0, 0, bogota)

	slots := AvailableSlots(day, time.Hour, nil, window())

	// 08:00 through 16:00 starts on the half hour: 17 one-hour slots.
	if len(slots) != 17 {
		t.Fatalf("expected 17 slots, got %d", len(slots))
	}
	if got := slots[0].Start.Hour(); got != 8 {
		t.Fatalf("expected first slot at 08:00, got %02d:%02d", got, slots[0].Start.Minute())
	}
	last := slots[len(slots)-1]
	if last.Start.Hour() != 16 || last.Start.Minute() != 0 {
		t.Fatalf("expected last slot at 16:00, got %02d:%02d", last.Start.Hour(), last.Start.Minute())
	}
	if !last.End.Equal(day.Add(17 * time.Hour)) {
		t.Fatalf("expected last slot to end at close, got %v", last.End)
	}
}

func TestAvailableSlotsExcludesWeekend(t *testing.T) {
	// 2026-09-05 is a Saturday.
	saturday := time.Date(2026, 9, 5, 0, 0, 0, 0, bogota)
	if slots := AvailableSlots(saturday, time.Hour, nil, window()); len(slots) != 0 {
		t.Fatalf("expected no slots on saturday, got %d", len(slots))
	}

	sunday := saturday.AddDate(0, 0, 1)
	if slots := AvailableSlots(sunday, time.Hour, nil, window()); len(slots) != 0 {
		t.Fatalf("expected no slots on sunday, got %d", len(slots))
	}
}

func TestAvailableSlotsSkipsBusyOverlap(t *testing.T) {
	day := time.Date(2026, 9, 2, 0, 0, 0, 0, bogota)
	busy := []BusyInterval{
		{Start: day.Add(10 * time.Hour), End: day.Add(11 * time.Hour)},
	}

	slots := AvailableSlots(day, time.Hour, busy, window())

	for _, s := range slots {
		if s.Start.Before(busy[0].End) && busy[0].Start.Before(s.End) {
			t.Fatalf("slot %v-%v overlaps busy interval", s.Start, s.End)
		}
	}
	// The 09:30, 10:00 and 10:30 starts are blocked by the 10:00-11:00 event.
	if len(slots) != 14 {
		t.Fatalf("expected 14 slots, got %d", len(slots))
	}
}

func TestAvailableSlotsBackToBackBoundary(t *testing.T) {
	day := time.Date(2026, 9, 2, 0, 0, 0, 0, bogota)
	busy := []BusyInterval{
		{Start: day.Add(9 * time.Hour), End: day.Add(10 * time.Hour)},
	}

	slots := AvailableSlots(day, time.Hour, busy, window())

	// A meeting ending exactly when another starts does not conflict.
	var foundEight, foundTen bool
	for _, s := range slots {
		if s.Start.Hour() == 8 && s.Start.Minute() == 0 {
			foundEight = true
		}
		if s.Start.Hour() == 10 && s.Start.Minute() == 0 {
			foundTen = true
		}
	}
	if !foundEight {
		t.Fatal("expected 08:00 slot touching the start of the busy interval")
	}
	if !foundTen {
		t.Fatal("expected 10:00 slot touching the end of the busy interval")
	}
}

func TestAvailableSlotsRespectsBusyTimezone(t *testing.T) {
	day := time.Date(2026, 9, 2, 0, 0, 0, 0, bogota)
	// 15:00 UTC is 10:00 in Bogota.
	busy := []BusyInterval{
		{
			Start: time.Date(2026, 9, 2, 15, 0, 0, 0, time.UTC),
			End:   time.Date(2026, 9, 2, 16, 0, 0, 0, time.UTC),
		},
	}

	slots := AvailableSlots(day, time.Hour, busy, window())
	for _, s := range slots {
		if s.Start.Hour() == 10 && s.Start.Minute() == 0 {
			t.Fatal("expected 10:00 local slot to be blocked by UTC busy interval")
		}
	}
}
