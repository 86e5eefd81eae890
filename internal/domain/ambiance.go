package domain

// Level identifies one node on the path from the plan root to the current
// node.
type Level struct {
	SetupID    string `json:"setupId" yaml:"setupId"`
	RuntimeID  string `json:"runtimeId" yaml:"runtimeId"`
	Identifier string `json:"identifier" yaml:"identifier"`
	StepType   string `json:"stepType" yaml:"stepType"`
	Group      string `json:"group,omitempty" yaml:"group,omitempty"`
}

// Ambiance is the execution context propagated with every call. The zero
// value is usable. It is passed by value; WithLevel returns an extended copy
// and never mutates the receiver.
type Ambiance struct {
	PlanExecutionID   string            `json:"planExecutionId"`
	Levels            []Level           `json:"levels"`
	SetupAbstractions map[string]string `json:"setupAbstractions,omitempty"`
}

func NewAmbiance(planExecutionID string, setupAbstractions map[string]string) Ambiance {
	abstractions := make(map[string]string, len(setupAbstractions))
	for k, v := range setupAbstractions {
		abstractions[k] = v
	}
	return Ambiance{
		PlanExecutionID:   planExecutionID,
		SetupAbstractions: abstractions,
	}
}

// WithLevel returns a copy of the ambiance with level appended as the
// innermost level.
func (a Ambiance) WithLevel(level Level) Ambiance {
	out := a.Clone()
	out.Levels = append(out.Levels, level)
	return out
}

// Clone deep-copies levels and setup abstractions.
func (a Ambiance) Clone() Ambiance {
	out := Ambiance{PlanExecutionID: a.PlanExecutionID}
	if len(a.Levels) > 0 {
		out.Levels = make([]Level, len(a.Levels), len(a.Levels)+1)
		copy(out.Levels, a.Levels)
	}
	if a.SetupAbstractions != nil {
		out.SetupAbstractions = make(map[string]string, len(a.SetupAbstractions))
		for k, v := range a.SetupAbstractions {
			out.SetupAbstractions[k] = v
		}
	}
	return out
}

// Parent returns a copy without the innermost level. Sibling nodes are
// started from the parent's ambiance.
func (a Ambiance) Parent() Ambiance {
	out := a.Clone()
	if len(out.Levels) > 0 {
		out.Levels = out.Levels[:len(out.Levels)-1]
	}
	return out
}

func (a Ambiance) CurrentLevel() (Level, bool) {
	if len(a.Levels) == 0 {
		return Level{}, false
	}
	return a.Levels[len(a.Levels)-1], true
}

// CurrentRuntimeID is the node execution id of the innermost level.
func (a Ambiance) CurrentRuntimeID() string {
	level, ok := a.CurrentLevel()
	if !ok {
		return ""
	}
	return level.RuntimeID
}

func (a Ambiance) CurrentSetupID() string {
	level, ok := a.CurrentLevel()
	if !ok {
		return ""
	}
	return level.SetupID
}

func (a Ambiance) SetupAbstraction(key string) string {
	if a.SetupAbstractions == nil {
		return ""
	}
	return a.SetupAbstractions[key]
}
