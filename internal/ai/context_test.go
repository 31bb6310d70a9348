package ai

import (
	"fmt"
	"slices"
	"strings"
	"testing"
	"time"

	"github.com/nhle/inboxpilot/internal/model"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

var t0 = time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)

func threadMsg(id, thread string, at time.Time, body string) model.Message {
	return model.Message{
		ID:            id,
		ThreadID:      thread,
		SenderAddress: id + "@example.com",
		BodyPlain:     body,
		ReceivedAt:    at,
	}
}

func collect(w *ContextWindow) []Fragment {
	return slices.Collect(w.Fragments())
}

func TestBuildContextOrdersChronologically(t *testing.T) {
	m1 := threadMsg("m1", "t", t0, "first")
	m2 := threadMsg("m2", "t", t0.Add(time.Hour), "second")
	m3 := threadMsg("m3", "t", t0.Add(2*time.Hour), "third")

	// History arrives out of order and contains the target itself.
	w := BuildContext(&m3, []model.Message{m2, m3, m1}, DefaultBudget())

	frags := collect(w)
	require.Len(t, frags, 3)
	require.Equal(t, "m1", frags[0].MessageID)
	require.Equal(t, "m2", frags[1].MessageID)
	require.Equal(t, "m3", frags[2].MessageID)
	require.True(t, frags[2].Target)
	require.False(t, frags[0].Target)
}

func TestBuildContextExcludesOtherThreadsAndLaterMessages(t *testing.T) {
	target := threadMsg("m2", "t", t0.Add(time.Hour), "target")
	history := []model.Message{
		threadMsg("m1", "t", t0, "earlier"),
		threadMsg("x1", "other", t0, "other thread"),
		threadMsg("m3", "t", t0.Add(2*time.Hour), "later"),
		threadMsg("m1", "t", t0, "earlier"),
	}

	frags := collect(BuildContext(&target, history, DefaultBudget()))

	ids := make([]string, 0, len(frags))
	for _, f := range frags {
		ids = append(ids, f.MessageID)
	}
	require.Equal(t, []string{"m1", "m2"}, ids)
}

func TestBuildContextRespectsBudget(t *testing.T) {
	target := threadMsg("m4", "t", t0.Add(3*time.Hour), strings.Repeat("t", 50))
	history := []model.Message{
		threadMsg("m1", "t", t0, strings.Repeat("a", 40)),
		threadMsg("m2", "t", t0.Add(time.Hour), strings.Repeat("b", 40)),
		threadMsg("m3", "t", t0.Add(2*time.Hour), strings.Repeat("c", 40)),
	}

	w := BuildContext(&target, history, Budget{Chars: 150, FragmentChars: 400})

	frags := collect(w)
	require.Len(t, frags, 3)
	require.Equal(t, "m2", frags[0].MessageID)
	require.Equal(t, "m3", frags[1].MessageID)
	require.LessOrEqual(t, w.Size(), 150)
}

func TestBuildContextCapsFragments(t *testing.T) {
	target := threadMsg("m2", "t", t0.Add(time.Hour), "ok")
	history := []model.Message{
		threadMsg("m1", "t", t0, strings.Repeat("é", 30)),
	}

	frags := collect(BuildContext(&target, history,
		Budget{Chars: 100, FragmentChars: 10}))

	require.Len(t, frags, 2)
	require.True(t, frags[0].Truncated)
	require.Equal(t, strings.Repeat("é", 10), frags[0].Body)
}

func TestBuildContextTruncatesOversizedTarget(t *testing.T) {
	target := threadMsg("m2", "t", t0.Add(time.Hour), strings.Repeat("x", 500))
	history := []model.Message{threadMsg("m1", "t", t0, "earlier")}

	w := BuildContext(&target, history, Budget{Chars: 100, FragmentChars: 50})

	frags := collect(w)
	require.Len(t, frags, 1)
	require.True(t, frags[0].Target)
	require.True(t, frags[0].Truncated)
	require.Equal(t, 100, w.Size())
}

func TestContextWindowFragmentsRestartable(t *testing.T) {
	m1 := threadMsg("m1", "t", t0, "one")
	m2 := threadMsg("m2", "t", t0.Add(time.Minute), "two")
	w := BuildContext(&m2, []model.Message{m1}, DefaultBudget())

	require.Equal(t, collect(w), collect(w))

	// Early exit stops the sequence.
	n := 0
	for range w.Fragments() {
		n++
		break
	}
	require.Equal(t, 1, n)
}

func TestBuildContextProperties(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		n := rapid.IntRange(0, 12).Draw(t, "n")
		budget := Budget{
			Chars:         rapid.IntRange(1, 300).Draw(t, "chars"),
			FragmentChars: rapid.IntRange(1, 80).Draw(t, "fragment"),
		}

		history := make([]model.Message, 0, n)
		for i := range n {
			history = append(history, threadMsg(
				fmt.Sprintf("m%d", i),
				rapid.SampledFrom([]string{"t", "u"}).Draw(t, "thread"),
				t0.Add(time.Duration(rapid.IntRange(0, 100).Draw(t, "at"))*time.Minute),
				rapid.StringN(0, 120, -1).Draw(t, "body"),
			))
		}
		target := threadMsg("target", "t", t0.Add(50*time.Minute),
			rapid.StringN(0, 400, -1).Draw(t, "target"))

		w := BuildContext(&target, history, budget)
		frags := collect(w)

		require.NotEmpty(t, frags)
		last := frags[len(frags)-1]
		require.True(t, last.Target)
		require.Equal(t, "target", last.MessageID)
		require.LessOrEqual(t, w.Size(), budget.Chars)

		for i, f := range frags[:len(frags)-1] {
			require.False(t, f.Target)
			require.True(t, f.ReceivedAt.Before(target.ReceivedAt))
			require.LessOrEqual(t, runeLen(f.Body), budget.FragmentChars)
			if i > 0 {
				require.False(t, f.ReceivedAt.Before(frags[i-1].ReceivedAt))
			}
		}
	})
}

func TestSenderName(t *testing.T) {
	tests := []struct {
		name, display, addr, want string
	}{
		{"display name", "Alice Smith", "a@example.com", "Alice Smith"},
		{"dotted local part", "", "john.doe@example.com", "John Doe"},
		{"single word", "", "BOB@example.com", "Bob"},
		{"empty", "", "", "there"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			m := &model.Message{SenderName: tc.display, SenderAddress: tc.addr}
			require.Equal(t, tc.want, SenderName(m))
		})
	}
}
