package model

// Stage is a run's position in the egg → yolk → albumen → graph → music lifecycle.
type Stage string

const (
	StageIdle    Stage = "idle"
	StageEgg     Stage = "egg"
	StageYolk    Stage = "yolk"
	StageAlbumen Stage = "albumen"
	StageGraph   Stage = "graph"
	StageMusic   Stage = "music"
	StageDone    Stage = "done"
	StageError   Stage = "error"
)

// workStages are the stages an explicit pipeline operation can move a run into
// once it has messages.
var workStages = map[Stage]struct{}{
	StageYolk:    {},
	StageAlbumen: {},
	StageGraph:   {},
	StageMusic:   {},
}

var allowedTransitions = map[Stage]map[Stage]struct{}{
	StageIdle: {
		StageEgg: {},
	},
	StageEgg: {
		StageYolk:    {},
		StageAlbumen: {},
		StageGraph:   {},
		StageMusic:   {},
	},
}

func init() {
	// Once facts may exist, any work stage can be re-entered and the run can be closed.
	for from := range workStages {
		next := map[Stage]struct{}{StageDone: {}}
		for to := range workStages {
			next[to] = struct{}{}
		}
		allowedTransitions[from] = next
	}
	fromError := map[Stage]struct{}{}
	for to := range workStages {
		fromError[to] = struct{}{}
	}
	allowedTransitions[StageError] = fromError
}

// Valid reports whether s is a known stage.
func (s Stage) Valid() bool {
	switch s {
	case StageIdle, StageEgg, StageYolk, StageAlbumen, StageGraph, StageMusic, StageDone, StageError:
		return true
	default:
		return false
	}
}

// Terminal reports whether no further operation may mutate a run in stage s.
func (s Stage) Terminal() bool {
	return s == StageDone
}

// CanTransition reports whether an operation may move a run from one stage to another.
// The error stage is reachable from every non-terminal stage.
func CanTransition(from, to Stage) bool {
	if from.Terminal() {
		return false
	}
	if to == StageError {
		return true
	}
	next, ok := allowedTransitions[from]
	if !ok {
		return false
	}
	_, ok = next[to]
	return ok
}
