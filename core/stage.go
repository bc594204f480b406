package core

import "fmt"

// Stage identifies one named phase of pipeline processing. The five main
// stages execute in fixed order for every iteration; StageError runs only on
// the failure path.
type Stage int

const (
	// StageParse ingests and normalizes the inbound message.
	StageParse Stage = iota
	// StageThink hosts reasoning / prompt plugins.
	StageThink
	// StageDo hosts tool and action plugins.
	StageDo
	// StageReview hosts verification plugins.
	StageReview
	// StageDeliver is the only stage allowed to set the terminal response.
	StageDeliver
	// StageError runs once when a plugin fails or the iteration ceiling is hit.
	StageError
)

// MainStages is the fixed execution order of one iteration.
// StageError is intentionally excluded; the orchestrator dispatches it
// explicitly on the failure path.
var MainStages = []Stage{StageParse, StageThink, StageDo, StageReview, StageDeliver}

// String returns the canonical upper-case stage name.
func (s Stage) String() string {
	switch s {
	case StageParse:
		return "PARSE"
	case StageThink:
		return "THINK"
	case StageDo:
		return "DO"
	case StageReview:
		return "REVIEW"
	case StageDeliver:
		return "DELIVER"
	case StageError:
		return "ERROR"
	default:
		return fmt.Sprintf("STAGE(%d)", int(s))
	}
}

// Valid reports whether s is a member of the stage enum.
func (s Stage) Valid() bool {
	return s >= StageParse && s <= StageError
}

// ParseStage converts a canonical stage name into a Stage value.
func ParseStage(name string) (Stage, error) {
	switch name {
	case "PARSE":
		return StageParse, nil
	case "THINK":
		return StageThink, nil
	case "DO":
		return StageDo, nil
	case "REVIEW":
		return StageReview, nil
	case "DELIVER":
		return StageDeliver, nil
	case "ERROR":
		return StageError, nil
	default:
		return 0, fmt.Errorf("unknown stage %q", name)
	}
}
