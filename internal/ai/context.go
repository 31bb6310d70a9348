package ai

import (
	"iter"
	"slices"
	"time"

	"github.com/nhle/inboxpilot/internal/model"
)

const (
	// DefaultContextBudget is the character budget of a context window.
	DefaultContextBudget = 2000

	// DefaultFragmentChars caps each prior message in the window.
	DefaultFragmentChars = 400
)

// Budget bounds the size of a context window.
type Budget struct {
	// Chars is the total number of body characters in the window.
	Chars int

	// FragmentChars caps the body of each prior message.
	FragmentChars int
}

// DefaultBudget returns the default context budget.
func DefaultBudget() Budget {
	return Budget{
		Chars:         DefaultContextBudget,
		FragmentChars: DefaultFragmentChars,
	}
}

// Fragment is one message's contribution to a context window.
type Fragment struct {
	MessageID  string
	Sender     string
	ReceivedAt time.Time
	Body       string

	// Truncated reports whether Body was shortened to fit.
	Truncated bool

	// Target marks the message being replied to.
	Target bool
}

// ContextWindow is the bounded, chronologically ordered conversation
// history for one message. The target message is always the last
// fragment.
type ContextWindow struct {
	fragments []Fragment
}

// Fragments returns the fragments oldest first. The sequence can be
// ranged over any number of times.
func (w *ContextWindow) Fragments() iter.Seq[Fragment] {
	return func(yield func(Fragment) bool) {
		for _, f := range w.fragments {
			if !yield(f) {
				return
			}
		}
	}
}

// Len returns the number of fragments, including the target.
func (w *ContextWindow) Len() int {
	return len(w.fragments)
}

// Size returns the total body characters in the window.
func (w *ContextWindow) Size() int {
	n := 0
	for _, f := range w.fragments {
		n += runeLen(f.Body)
	}
	return n
}

// BuildContext assembles the context window for target from history.
// Only messages of the same thread received strictly before target are
// considered. They are taken from the most recent backwards until the
// budget is spent, then returned in chronological order followed by the
// target itself, whose body is truncated when it alone exceeds the
// budget.
func BuildContext(
	target *model.Message,
	history []model.Message,
	budget Budget,
) *ContextWindow {
	if budget.Chars <= 0 {
		budget.Chars = DefaultContextBudget
	}
	if budget.FragmentChars <= 0 {
		budget.FragmentChars = DefaultFragmentChars
	}

	targetBody, truncated := truncateRunes(target.BodyPlain, budget.Chars)
	targetFrag := Fragment{
		MessageID:  target.ID,
		Sender:     SenderName(target),
		ReceivedAt: target.ReceivedAt,
		Body:       targetBody,
		Truncated:  truncated,
		Target:     true,
	}
	remaining := budget.Chars - runeLen(targetBody)

	prior := make([]model.Message, 0, len(history))
	seen := make(map[string]bool, len(history))
	for _, m := range history {
		if m.ThreadID != target.ThreadID || m.ID == target.ID || seen[m.ID] {
			continue
		}
		if !m.ReceivedAt.Before(target.ReceivedAt) {
			continue
		}
		seen[m.ID] = true
		prior = append(prior, m)
	}
	slices.SortStableFunc(prior, func(a, b model.Message) int {
		return a.ReceivedAt.Compare(b.ReceivedAt)
	})

	// Walk newest to oldest and stop at the first message that does not
	// fit, so the window is always a contiguous tail of the thread.
	var picked []Fragment
	for i := len(prior) - 1; i >= 0; i-- {
		m := &prior[i]
		body, cut := truncateRunes(m.BodyPlain, budget.FragmentChars)
		cost := runeLen(body)
		if cost > remaining {
			break
		}
		remaining -= cost

		picked = append(picked, Fragment{
			MessageID:  m.ID,
			Sender:     SenderName(m),
			ReceivedAt: m.ReceivedAt,
			Body:       body,
			Truncated:  cut,
		})
	}
	slices.Reverse(picked)

	return &ContextWindow{fragments: append(picked, targetFrag)}
}
