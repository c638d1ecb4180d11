package qualification

import "testing"

func TestNextFirstUserTurn(t *testing.T) {
	got := Next(Snapshot{Current: StageStart, HasUserTurn: true})
	if got != StageConsent {
		t.Fatalf("expected consent after first user turn, got %s", got)
	}
}

func TestNextConsentGranted(t *testing.T) {
	got := Next(Snapshot{Current: StageConsent, HasUserTurn: true, ConsentGranted: true})
	if got != StagePersonalData {
		t.Fatalf("expected personal_data after consent, got %s", got)
	}
}

func TestNextSingleRefusalStaysAtConsent(t *testing.T) {
	got := Next(Snapshot{Current: StageConsent, HasUserTurn: true, ConsentRefusals: 1})
	if got != StageConsent {
		t.Fatalf("expected consent to be re-prompted after one refusal, got %s", got)
	}
}

func TestNextTwoRefusalsAbandon(t *testing.T) {
	got := Next(Snapshot{Current: StageConsent, HasUserTurn: true, ConsentRefusals: 2})
	if got != StageAbandoned {
		t.Fatalf("expected abandoned after two refusals, got %s", got)
	}
}

func TestNextExplicitDeclineAbandons(t *testing.T) {
	got := Next(Snapshot{Current: StageBant, HasUserTurn: true, ConsentGranted: true, Declined: true})
	if got != StageAbandoned {
		t.Fatalf("expected abandoned on explicit decline, got %s", got)
	}
}

func TestNextPersonalDataNeedsNameAndContact(t *testing.T) {
	base := Snapshot{Current: StagePersonalData, HasUserTurn: true, ConsentGranted: true}

	if got := Next(base); got != StagePersonalData {
		t.Fatalf("expected to stay at personal_data without fields, got %s", got)
	}

	withName := base
	withName.FullName = "Ana Rodríguez"
	if got := Next(withName); got != StagePersonalData {
		t.Fatalf("expected to stay at personal_data without contact, got %s", got)
	}

	withName.Email = "ana@acme.io"
	if got := Next(withName); got != StageBant {
		t.Fatalf("expected bant once name and email are set, got %s", got)
	}

	withPhone := base
	withPhone.FullName = "Ana Rodríguez"
	withPhone.Phone = "+573001112233"
	if got := Next(withPhone); got != StageBant {
		t.Fatalf("expected phone to satisfy the contact requirement, got %s", got)
	}
}

func TestNextBantRequiresAllFourFields(t *testing.T) {
	s := Snapshot{
		Current: StageBant, HasUserTurn: true, ConsentGranted: true,
		FullName: "Ana Rodríguez", Email: "ana@acme.io",
		BantBudget: "20k", BantAuthority: "decision maker", BantNeed: "automation",
	}
	if got := Next(s); got != StageBant {
		t.Fatalf("expected to stay at bant with three of four fields, got %s", got)
	}

	s.BantTimeline = "Q3"
	if got := Next(s); got != StageRequirements {
		t.Fatalf("expected requirements once bant is complete, got %s", got)
	}
}

func TestNextRequirementsNeedAppTypeAndFeature(t *testing.T) {
	s := Snapshot{
		Current: StageRequirements, HasUserTurn: true, ConsentGranted: true,
		FullName: "Ana Rodríguez", Email: "ana@acme.io",
		BantBudget: "20k", BantAuthority: "decision maker", BantNeed: "automation", BantTimeline: "Q3",
		AppType: "web",
	}
	if got := Next(s); got != StageRequirements {
		t.Fatalf("expected to stay at requirements without features, got %s", got)
	}

	s.FeatureCount = 2
	if got := Next(s); got != StageMeeting {
		t.Fatalf("expected meeting once requirements are complete, got %s", got)
	}
}

func TestNextScheduledMeetingCompletes(t *testing.T) {
	s := Snapshot{
		Current: StageMeeting, HasUserTurn: true, ConsentGranted: true,
		FullName: "Ana Rodríguez", Email: "ana@acme.io",
		BantBudget: "20k", BantAuthority: "decision maker", BantNeed: "automation", BantTimeline: "Q3",
		AppType: "web", FeatureCount: 1,
		MeetingScheduled: true,
	}
	if got := Next(s); got != StageCompleted {
		t.Fatalf("expected completed once a meeting is scheduled, got %s", got)
	}
}

func TestNextNeverRegresses(t *testing.T) {
	// A lead at bant whose contact fields were later cleared stays at bant.
	s := Snapshot{Current: StageBant, HasUserTurn: true, ConsentGranted: true}
	if got := Next(s); got != StageBant {
		t.Fatalf("expected no regression from bant, got %s", got)
	}
}

func TestNextTerminalStagesAbsorb(t *testing.T) {
	completed := Snapshot{Current: StageCompleted, HasUserTurn: true, Declined: true}
	if got := Next(completed); got != StageCompleted {
		t.Fatalf("expected completed to stay terminal, got %s", got)
	}

	abandoned := Snapshot{Current: StageAbandoned, HasUserTurn: true, ConsentGranted: true,
		FullName: "Ana Rodríguez", Email: "ana@acme.io"}
	if got := Next(abandoned); got != StageAbandoned {
		t.Fatalf("expected abandoned to stay terminal, got %s", got)
	}
}
