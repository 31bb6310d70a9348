package commands

import (
	"testing"
	"time"

	"github.com/lightningnetwork/lnd/fn/v2"
	"github.com/stretchr/testify/require"

	"github.com/nhle/inboxpilot/internal/app"
	"github.com/nhle/inboxpilot/internal/model"
	"github.com/nhle/inboxpilot/internal/store"
)

func TestRootRegistersCommands(t *testing.T) {
	want := []string{
		"serve", "sync", "status", "list", "show", "regenerate",
		"refine", "reply", "stats", "cleanup", "credentials",
	}
	for _, name := range want {
		cmd, _, err := rootCmd.Find([]string{name})
		require.NoError(t, err, name)
		require.Equal(t, name, cmd.Name())
	}

	cmd, _, err := rootCmd.Find([]string{"credentials", "set"})
	require.NoError(t, err)
	require.Equal(t, "set", cmd.Name())
}

func TestClip(t *testing.T) {
	require.Equal(t, "short", clip("short", 10))
	require.Equal(t, "abcd…", clip("abcdefgh", 5))
	require.Equal(t, "日本…", clip("日本語です", 3))
}

func TestFormatStatus(t *testing.T) {
	out := formatStatus(&app.Status{
		Authenticated:      fn.Some(true),
		InferenceAvailable: fn.None[bool](),
		LastSync:           fn.None[time.Time](),
		Account:            "me@example.com",
	})

	require.Contains(t, out, "yes")
	require.Contains(t, out, "unknown")
	require.Contains(t, out, "never")
	require.Contains(t, out, "me@example.com")
}

func TestFormatMessage(t *testing.T) {
	summary := "• Approval requested"
	draft := "Hi Alice,\n\nApproved.\n\nBest regards"
	out := formatMessage(&model.Message{
		ID:            "m1",
		ThreadID:      "t1",
		SenderAddress: "alice@example.com",
		SenderName:    "Alice",
		Subject:       "Re: Budget",
		Relevance:     model.RelevanceRelevant,
		Priority:      model.PriorityHigh,
		State:         model.StateStored,
		Summary:       &summary,
		DraftReply:    &draft,
	})

	require.Contains(t, out, "Re: Budget")
	require.Contains(t, out, "Alice <alice@example.com>")
	require.Contains(t, out, "Approval requested")
	require.Contains(t, out, "Approved.")
}

func TestFormatStats(t *testing.T) {
	out := formatStats(&store.Stats{
		Total:      4,
		Relevant:   3,
		Replied:    1,
		ReplyRate:  33.3,
		ByPriority: map[model.Priority]int64{model.PriorityHigh: 2},
		TopSenders: []store.SenderCount{{Sender: "alice@example.com", Count: 3}},
	})

	require.Contains(t, out, "1 (33.3%)")
	require.Contains(t, out, "alice@example.com")
}
