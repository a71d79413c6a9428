package models

import "fmt"

// StepStatus is the lifecycle state of a single pipeline step.
type StepStatus string

const (
	StepStatusPending StepStatus = "pending"
	StepStatusActive  StepStatus = "active"
	StepStatusLocked  StepStatus = "locked"
	StepStatusDone    StepStatus = "done"
)

// Valid reports whether s is one of the known step statuses.
func (s StepStatus) Valid() bool {
	switch s {
	case StepStatusPending, StepStatusActive, StepStatusLocked, StepStatusDone:
		return true
	}
	return false
}

// ParseStepStatus converts user input into a StepStatus.
func ParseStepStatus(v string) (StepStatus, error) {
	s := StepStatus(v)
	if !s.Valid() {
		return "", fmt.Errorf("unknown step status %q", v)
	}
	return s, nil
}

// Pipeline is an ordered workflow of steps. Position is the ordinal of the
// pipeline among all pipelines of a workspace.
type Pipeline struct {
	ID       string `json:"id"`
	Title    string `json:"title"`
	Subtitle string `json:"subtitle,omitempty"`
	Color    string `json:"color,omitempty"`
	Icon     string `json:"icon,omitempty"`
	Steps    []Step `json:"steps"`
	Position int    `json:"position"`
}

// Step is a single stage within a pipeline.
type Step struct {
	ID          string     `json:"id"`
	Title       string     `json:"title"`
	Description string     `json:"description,omitempty"`
	Status      StepStatus `json:"status"`
	Position    int        `json:"position"`
}

// Clone returns a deep copy of the pipeline.
func (p Pipeline) Clone() Pipeline {
	out := p
	if p.Steps != nil {
		out.Steps = make([]Step, len(p.Steps))
		copy(out.Steps, p.Steps)
	}
	return out
}
