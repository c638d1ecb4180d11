package agent

import (
	"testing"
	"time"

	"github.com/TDXCORE/Agent-Test/internal/qualification"
)

func TestToolsForStageGating(t *testing.T) {
	cases := []struct {
		stage   qualification.Stage
		want    []string
		exclude []string
	}{
		{
			stage:   qualification.StageStart,
			want:    []string{ToolRecordConsent, ToolEndConversation},
			exclude: []string{ToolScheduleMeeting, ToolRecordBant},
		},
		{
			stage:   qualification.StageConsent,
			want:    []string{ToolRecordConsent},
			exclude: []string{ToolRecordPersonalData},
		},
		{
			stage:   qualification.StagePersonalData,
			want:    []string{ToolRecordPersonalData},
			exclude: []string{ToolRecordConsent, ToolScheduleMeeting},
		},
		{
			stage:   qualification.StageMeeting,
			want:    []string{ToolGetAvailableSlots, ToolScheduleMeeting, ToolRescheduleMeeting, ToolCancelMeeting},
			exclude: []string{ToolRecordConsent, ToolRecordBant},
		},
		{
			stage:   qualification.StageCompleted,
			want:    []string{ToolRescheduleMeeting, ToolFindMeetings, ToolCancelMeeting},
			exclude: []string{ToolScheduleMeeting, ToolEndConversation},
		},
	}

	for _, tc := range cases {
		got := ToolsForStage(tc.stage)
		set := make(map[string]bool, len(got))
		for _, name := range got {
			set[name] = true
		}
		for _, name := range tc.want {
			if !set[name] {
				t.Errorf("stage %s: expected tool %s", tc.stage, name)
			}
		}
		for _, name := range tc.exclude {
			if set[name] {
				t.Errorf("stage %s: tool %s must not be offered", tc.stage, name)
			}
		}
	}

	if got := ToolsForStage(qualification.StageAbandoned); got != nil {
		t.Fatalf("abandoned leads get no tools, got %v", got)
	}
}

func TestParseLocalTimeLayouts(t *testing.T) {
	loc, err := time.LoadLocation("America/Bogota")
	if err != nil {
		t.Fatalf("load location: %v", err)
	}

	for _, value := range []string{
		"2026-09-03 10:30",
		"2026-09-03T10:30",
	} {
		got, err := parseLocalTime(value, loc)
		if err != nil {
			t.Fatalf("parseLocalTime(%q): %v", value, err)
		}
		if got.Location() != loc {
			t.Fatalf("expected local time zone, got %v", got.Location())
		}
		if got.Hour() != 10 || got.Minute() != 30 {
			t.Fatalf("unexpected time parsed from %q: %v", value, got)
		}
	}

	if _, err := parseLocalTime("mañana a las 10", loc); err == nil {
		t.Fatal("expected free-form text to be rejected")
	}
}

func TestRecorderAccumulatesInOrder(t *testing.T) {
	rec := &recorder{}
	rec.add(ToolInvocation{Name: ToolRecordConsent, Consent: &ConsentInput{Granted: true}})
	rec.add(ToolInvocation{Name: ToolEndConversation, End: &EndInput{Reason: "user_declined"}})

	got := rec.snapshot()
	if len(got) != 2 {
		t.Fatalf("expected 2 invocations, got %d", len(got))
	}
	if got[0].Name != ToolRecordConsent || got[1].Name != ToolEndConversation {
		t.Fatalf("invocations out of order: %+v", got)
	}
}
