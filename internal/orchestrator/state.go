package orchestrator

// State is a step of the run state machine:
//
//	init -> detecting -> [snapshotting] -> discovering -> executing -> done
//
// Any step may move to failed, which is terminal.
type State string

const (
	StateInit         State = "init"
	StateDetecting    State = "detecting"
	StateSnapshotting State = "snapshotting"
	StateDiscovering  State = "discovering"
	StateExecuting    State = "executing"
	StateDone         State = "done"
	StateFailed       State = "failed"
)

// Terminal reports whether no further transition is possible.
func (s State) Terminal() bool {
	return s == StateDone || s == StateFailed
}

var transitions = map[State][]State{
	StateInit:         {StateDetecting, StateFailed},
	StateDetecting:    {StateSnapshotting, StateDiscovering, StateFailed},
	StateSnapshotting: {StateDiscovering, StateFailed},
	StateDiscovering:  {StateExecuting, StateFailed},
	StateExecuting:    {StateDone, StateFailed},
}

// canTransition reports whether from -> to is a legal step.
func canTransition(from, to State) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}
