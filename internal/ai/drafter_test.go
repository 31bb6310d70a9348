package ai

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/nhle/inboxpilot/internal/inference"
	"github.com/nhle/inboxpilot/internal/model"
	"github.com/stretchr/testify/require"
)

func relevantMsg() *model.Message {
	return &model.Message{
		ID:            "m2",
		ThreadID:      "t",
		SenderAddress: "jane.roe@example.com",
		Subject:       "Quarterly report",
		BodyPlain:     "Could you send the numbers by Thursday?",
		ReceivedAt:    t0.Add(time.Hour),
		Relevance:     model.RelevanceRelevant,
	}
}

func TestDraftGuards(t *testing.T) {
	d := NewDrafter(&fakeLLM{reply: "ok"}, "Sam", nil)

	replied := relevantMsg()
	replied.HasReply = true
	_, err := d.Draft(context.Background(), replied, nil)
	require.ErrorIs(t, err, model.ErrAlreadyReplied)

	filtered := relevantMsg()
	filtered.Relevance = model.RelevanceFiltered
	_, err = d.Draft(context.Background(), filtered, nil)
	require.ErrorIs(t, err, model.ErrNotRelevant)

	_, err = d.Refine(context.Background(), filtered, "draft", "")
	require.ErrorIs(t, err, model.ErrNotRelevant)
}

func TestDraftAddsGreetingAndClosing(t *testing.T) {
	llm := &fakeLLM{reply: "Subject: Re: Quarterly report\nI will send the numbers on Wednesday."}
	d := NewDrafter(llm, "Sam", nil)

	got, err := d.Draft(context.Background(), relevantMsg(), nil)
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(got, "Hi Jane Roe,\n\n"), got)
	require.True(t, strings.HasSuffix(got, "Best regards,\nSam"), got)
	require.NotContains(t, got, "Subject:")
}

func TestDraftKeepsExistingGreetingAndClosing(t *testing.T) {
	reply := "Hello Jane,\n\nSure, Thursday works.\n\nThanks,\nSam"
	d := NewDrafter(&fakeLLM{reply: reply}, "Sam", nil)

	got, err := d.Draft(context.Background(), relevantMsg(), nil)
	require.NoError(t, err)
	require.Equal(t, reply, got)
}

func TestDraftPromptIncludesContext(t *testing.T) {
	llm := &fakeLLM{reply: "Hi Jane, will do. Best"}
	d := NewDrafter(llm, "", nil)

	target := relevantMsg()
	target.BodyPlain = strings.Repeat("q", 1000)
	earlier := threadMsg("m1", "t", t0, "We agreed on Q3 targets.")
	earlier.SenderName = "Jane Roe"
	w := BuildContext(target, []model.Message{earlier}, DefaultBudget())

	_, err := d.Draft(context.Background(), target, w)
	require.NoError(t, err)

	prompt := llm.lastPrompt()
	require.Contains(t, prompt, "1. From Jane Roe: We agreed on Q3 targets.")
	require.Contains(t, prompt, strings.Repeat("q", draftBodyChars))
	require.NotContains(t, prompt, strings.Repeat("q", draftBodyChars+1))
	require.Equal(t, drafterSystemPrompt, llm.calls[0].opts.System)
}

func TestDraftErrors(t *testing.T) {
	_, err := NewDrafter(&fakeLLM{reply: "  "}, "", nil).
		Draft(context.Background(), relevantMsg(), nil)
	require.ErrorIs(t, err, inference.ErrMalformedResponse)

	_, err = NewDrafter(&fakeLLM{err: inference.ErrUnavailable}, "", nil).
		Regenerate(context.Background(), relevantMsg(), nil)
	require.ErrorIs(t, err, inference.ErrUnavailable)
}

func TestRefine(t *testing.T) {
	llm := &fakeLLM{reply: "Hi Jane,\n\nHappy to send them Thursday.\n\nBest regards"}
	d := NewDrafter(llm, "", nil)

	got, err := d.Refine(context.Background(), relevantMsg(), "ok thursday", "warmer")
	require.NoError(t, err)
	require.Contains(t, got, "Happy to send them Thursday.")
	require.Contains(t, llm.lastPrompt(), "ok thursday")
	require.Contains(t, llm.lastPrompt(), "warmer")

	_, err = d.Refine(context.Background(), relevantMsg(), " ", "")
	require.ErrorIs(t, err, model.ErrEmptyReply)
}
