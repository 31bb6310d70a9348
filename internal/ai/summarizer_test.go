package ai

import (
	"context"
	"strings"
	"testing"

	"github.com/nhle/inboxpilot/internal/inference"
	"github.com/nhle/inboxpilot/internal/model"
	"github.com/stretchr/testify/require"
)

func TestSummarizeNormalizesBullets(t *testing.T) {
	llm := &fakeLLM{reply: "Here is the summary:\n- Budget due Friday\n\n* Needs sign-off\n2. Reply requested\n• extra point"}
	s := NewSummarizer(llm, 3, nil)

	got, err := s.Summarize(context.Background(), &model.Message{
		ID:        "m1",
		Subject:   "Budget",
		BodyPlain: "The budget is due Friday.",
	})
	require.NoError(t, err)

	lines := strings.Split(got, "\n")
	require.Len(t, lines, 3)
	for _, l := range lines {
		require.True(t, strings.HasPrefix(l, "• "), l)
	}
	require.Equal(t, "• Budget due Friday", lines[1])
	require.Equal(t, summarizerSystemPrompt, llm.calls[0].opts.System)
}

func TestSummarizeCapsBulletLength(t *testing.T) {
	llm := &fakeLLM{reply: "- " + strings.Repeat("w", 500)}

	got, err := NewSummarizer(llm, 0, nil).Summarize(context.Background(),
		&model.Message{ID: "m1", BodyPlain: "body"})
	require.NoError(t, err)
	require.Equal(t, maxBulletChars+runeLen(bulletPrefix), runeLen(got))
}

func TestSummarizeEmptyBody(t *testing.T) {
	llm := &fakeLLM{reply: "- unused"}

	got, err := NewSummarizer(llm, 0, nil).Summarize(context.Background(),
		&model.Message{ID: "m1", BodyPlain: "  \n "})
	require.NoError(t, err)
	require.Equal(t, NoContentSummary, got)
	require.Empty(t, llm.calls)
}

func TestSummarizeErrors(t *testing.T) {
	m := &model.Message{ID: "m1", BodyPlain: "hello"}

	_, err := NewSummarizer(&fakeLLM{reply: " \n - \n"}, 0, nil).
		Summarize(context.Background(), m)
	require.ErrorIs(t, err, inference.ErrMalformedResponse)

	_, err = NewSummarizer(&fakeLLM{err: inference.ErrUnavailable}, 0, nil).
		Summarize(context.Background(), m)
	require.ErrorIs(t, err, inference.ErrUnavailable)
}
