package model

import (
	"testing"

	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

func TestCanTransitionHappyPath(t *testing.T) {
	path := []ProcessingState{
		StateFetched, StateClassifying, StateRelevant,
		StateSummarizing, StateDrafting, StateStored,
	}
	for i := 0; i < len(path)-1; i++ {
		require.True(
			t, path[i].CanTransition(path[i+1]),
			"%s -> %s", path[i], path[i+1],
		)
	}

	require.True(t, StateClassifying.CanTransition(StateFiltered))
}

func TestCanTransitionRejectsSkips(t *testing.T) {
	require.False(t, StateFetched.CanTransition(StateStored))
	require.False(t, StateClassifying.CanTransition(StateDrafting))
	require.False(t, StateRelevant.CanTransition(StateStored))
	require.False(t, StateDrafting.CanTransition(StateClassifying))
}

var allStates = []ProcessingState{
	StateFetched, StateClassifying, StateFiltered, StateRelevant,
	StateSummarizing, StateDrafting, StateStored, StateErrored,
}

// TestTerminalStatesAreFinal checks that nothing leaves a terminal state
// and that errored is reachable from every other state.
func TestTerminalStatesAreFinal(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		from := rapid.SampledFrom(allStates).Draw(t, "from")
		to := rapid.SampledFrom(allStates).Draw(t, "to")

		if from.Terminal() {
			require.False(t, from.CanTransition(to))
			return
		}
		if to == StateErrored {
			require.True(t, from.CanTransition(to))
		}
	})
}

func TestContentHash(t *testing.T) {
	a := ContentHash("Re: Budget", "Can you approve by Friday?", "")
	b := ContentHash("Re: Budget", "Can you approve by Friday?", "")
	require.Equal(t, a, b)

	// Field boundaries are part of the hash.
	require.NotEqual(t, ContentHash("ab", "c", ""), ContentHash("a", "bc", ""))

	m := &Message{ContentHash: a}
	require.True(t, m.Unchanged(&Message{ContentHash: b}))
	require.False(t, m.Unchanged(&Message{ContentHash: "other"}))
	require.False(t, m.Unchanged(nil))
}
