// Package qualification holds the lead qualification state machine. Next is a
// pure function so the progression rules can be tested without a database.
package qualification

// Stage is a step in the qualification funnel.
type Stage string

const (
	StageStart        Stage = "start"
	StageConsent      Stage = "consent"
	StagePersonalData Stage = "personal_data"
	StageBant         Stage = "bant"
	StageRequirements Stage = "requirements"
	StageMeeting      Stage = "meeting"
	StageCompleted    Stage = "completed"
	StageAbandoned    Stage = "abandoned"
)

// Order lists the funnel stages in progression order, terminals last.
var Order = []Stage{
	StageStart, StageConsent, StagePersonalData, StageBant,
	StageRequirements, StageMeeting, StageCompleted, StageAbandoned,
}

// Snapshot is everything the state machine needs to decide the next stage.
type Snapshot struct {
	Current         Stage
	HasUserTurn     bool
	ConsentGranted  bool
	ConsentRefusals int

	FullName string
	Email    string
	Phone    string

	BantBudget    string
	BantAuthority string
	BantNeed      string
	BantTimeline  string

	AppType      string
	FeatureCount int

	MeetingScheduled bool
	Declined         bool
}

// Next computes the stage the lead should sit at given the snapshot. It only
// walks forward from Current, so missing data can never undo a stage already
// reached (including operator overrides), and terminal stages are absorbing.
func Next(s Snapshot) Stage {
	if s.Current == StageCompleted || s.Current == StageAbandoned {
		return s.Current
	}
	if s.Declined || s.ConsentRefusals >= 2 {
		return StageAbandoned
	}

	stage := s.Current
	if stage == "" {
		stage = StageStart
	}
	for {
		next := advance(stage, s)
		if next == stage {
			return stage
		}
		stage = next
	}
}

// advance applies the single transition out of a stage when its gate is met.
func advance(stage Stage, s Snapshot) Stage {
	switch stage {
	case StageStart:
		if s.HasUserTurn {
			return StageConsent
		}
	case StageConsent:
		if s.ConsentGranted {
			return StagePersonalData
		}
	case StagePersonalData:
		if personalDataComplete(s) {
			return StageBant
		}
	case StageBant:
		if bantComplete(s) {
			return StageRequirements
		}
	case StageRequirements:
		if requirementsComplete(s) {
			return StageMeeting
		}
	case StageMeeting:
		if s.MeetingScheduled {
			return StageCompleted
		}
	}
	return stage
}

func personalDataComplete(s Snapshot) bool {
	return s.FullName != "" && (s.Email != "" || s.Phone != "")
}

func bantComplete(s Snapshot) bool {
	return s.BantBudget != "" && s.BantAuthority != "" && s.BantNeed != "" && s.BantTimeline != ""
}

func requirementsComplete(s Snapshot) bool {
	return s.AppType != "" && s.FeatureCount > 0
}
