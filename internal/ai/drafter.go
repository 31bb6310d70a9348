package ai

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/nhle/inboxpilot/internal/inference"
	"github.com/nhle/inboxpilot/internal/model"
)

const draftBodyChars = 800

var (
	greetings = []string{"hi", "hello", "dear", "thank you"}
	closings  = []string{"regards", "best", "thanks", "sincerely"}
)

// Drafter writes reply drafts for relevant messages.
type Drafter struct {
	llm       Completer
	signature string
	log       *slog.Logger
}

// NewDrafter creates a drafter backed by llm. signature is appended to
// drafts that lack a closing.
func NewDrafter(llm Completer, signature string, log *slog.Logger) *Drafter {
	if log == nil {
		log = slog.Default()
	}

	return &Drafter{
		llm:       llm,
		signature: strings.TrimSpace(signature),
		log:       log.With("component", "drafter"),
	}
}

// Draft writes a reply to m using the earlier conversation in window.
func (d *Drafter) Draft(
	ctx context.Context,
	m *model.Message,
	window *ContextWindow,
) (string, error) {
	if err := checkDraftable(m); err != nil {
		return "", err
	}

	body, _ := truncateRunes(m.BodyPlain, draftBodyChars)
	name := SenderName(m)

	out, err := d.llm.Complete(ctx,
		buildDraftPrompt(name, m.Subject, body, window),
		inference.Options{System: drafterSystemPrompt},
	)
	if err != nil {
		return "", fmt.Errorf("drafting reply to %s: %w", m.ID, err)
	}

	draft := d.polish(out, name)
	if draft == "" {
		return "", fmt.Errorf("drafting reply to %s: %w",
			m.ID, inference.ErrMalformedResponse)
	}

	return draft, nil
}

// Regenerate writes a fresh draft for m. It is Draft under another name
// so callers can log the intent.
func (d *Drafter) Regenerate(
	ctx context.Context,
	m *model.Message,
	window *ContextWindow,
) (string, error) {
	d.log.Debug("Regenerating draft", "id", m.ID)
	return d.Draft(ctx, m, window)
}

// Refine asks the model to improve an existing draft, optionally steered
// by instruction.
func (d *Drafter) Refine(
	ctx context.Context,
	m *model.Message,
	draft, instruction string,
) (string, error) {
	if err := checkDraftable(m); err != nil {
		return "", err
	}
	if strings.TrimSpace(draft) == "" {
		return "", model.ErrEmptyReply
	}

	out, err := d.llm.Complete(ctx, buildRefinePrompt(draft, instruction),
		inference.Options{System: refineSystemPrompt},
	)
	if err != nil {
		return "", fmt.Errorf("refining reply to %s: %w", m.ID, err)
	}

	refined := d.polish(out, SenderName(m))
	if refined == "" {
		return "", fmt.Errorf("refining reply to %s: %w",
			m.ID, inference.ErrMalformedResponse)
	}

	return refined, nil
}

func checkDraftable(m *model.Message) error {
	switch {
	case m.HasReply:
		return model.ErrAlreadyReplied
	case m.Relevance != model.RelevanceRelevant:
		return model.ErrNotRelevant
	}
	return nil
}

// polish strips subject lines and makes sure the draft opens with a
// greeting and ends with a closing.
func (d *Drafter) polish(out, name string) string {
	var lines []string
	for _, line := range strings.Split(strings.TrimSpace(out), "\n") {
		if strings.HasPrefix(
			strings.ToLower(strings.TrimSpace(line)), "subject:",
		) {
			continue
		}
		lines = append(lines, line)
	}

	reply := strings.TrimSpace(strings.Join(lines, "\n"))
	if reply == "" {
		return ""
	}

	lower := strings.ToLower(reply)
	head, _ := truncateRunes(lower, 50)
	if !containsAny(head, greetings) {
		reply = fmt.Sprintf("Hi %s,\n\n%s", name, reply)
	}

	tail := lower
	if n := runeLen(lower); n > 100 {
		tail = string([]rune(lower)[n-100:])
	}
	if !containsAny(tail, closings) {
		reply += "\n\nBest regards"
		if d.signature != "" {
			reply += ",\n" + d.signature
		}
	}

	return reply
}
