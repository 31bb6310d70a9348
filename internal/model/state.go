package model

// ProcessingState is the position of a message in the pipeline.
type ProcessingState string

const (
	StateFetched     ProcessingState = "fetched"
	StateClassifying ProcessingState = "classifying"
	StateFiltered    ProcessingState = "filtered"
	StateRelevant    ProcessingState = "relevant"
	StateSummarizing ProcessingState = "summarizing"
	StateDrafting    ProcessingState = "drafting"
	StateStored      ProcessingState = "stored"
	StateErrored     ProcessingState = "errored"
)

// transitions lists the allowed forward moves. Errored is reachable from
// every non-terminal state and is handled in CanTransition.
var transitions = map[ProcessingState][]ProcessingState{
	StateFetched:     {StateClassifying},
	StateClassifying: {StateFiltered, StateRelevant},
	StateRelevant:    {StateSummarizing},
	StateSummarizing: {StateDrafting},
	StateDrafting:    {StateStored},
}

// Terminal reports whether s ends a message's pipeline for the run.
func (s ProcessingState) Terminal() bool {
	switch s {
	case StateFiltered, StateStored, StateErrored:
		return true
	}
	return false
}

// Done reports whether s is a successful terminal state that lets an
// unchanged message be skipped on later runs.
func (s ProcessingState) Done() bool {
	return s == StateFiltered || s == StateStored
}

// CanTransition reports whether a message may move from s to next.
func (s ProcessingState) CanTransition(next ProcessingState) bool {
	if s.Terminal() {
		return false
	}
	if next == StateErrored {
		return true
	}
	for _, allowed := range transitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}
