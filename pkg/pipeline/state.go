package pipeline

// Stage names the part of a pipeline that failed.
type Stage string

const (
	StageNone   Stage = ""
	StageDeps   Stage = "deps"
	StageAction Stage = "action"
)

// State is the position of a pipeline run in its lifecycle.
type State string

const (
	StateStart         State = "START"
	StatePreparing     State = "PREPARING"
	StatePrepareFailed State = "PREPARE_FAILED"
	StateActionRunning State = "ACTION_RUNNING"
	StateActionFailed  State = "ACTION_FAILED"
	StateDone          State = "DONE"
)

var transitions = map[State][]State{
	StateStart:         {StatePreparing, StateActionRunning},
	StatePreparing:     {StatePrepareFailed, StateActionRunning},
	StateActionRunning: {StateActionFailed, StateDone},
}

// Terminal reports whether no transition leaves s.
func (s State) Terminal() bool {
	return s == StatePrepareFailed || s == StateActionFailed || s == StateDone
}

func (s State) canMoveTo(next State) bool {
	for _, allowed := range transitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}
