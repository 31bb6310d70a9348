package ai

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"strings"

	"github.com/nhle/inboxpilot/internal/inference"
	"github.com/nhle/inboxpilot/internal/model"
)

const (
	// NoContentSummary is stored for messages without a body.
	NoContentSummary = "• No content"

	// DefaultMaxBullets caps the summary length.
	DefaultMaxBullets = 3

	maxBulletChars = 200
	bulletPrefix   = "• "
)

var bulletMarker = regexp.MustCompile(`^(?:[-*•]|\d+[.)])\s*`)

// Summarizer condenses a message into a few bullet points.
type Summarizer struct {
	llm        Completer
	maxBullets int
	log        *slog.Logger
}

// NewSummarizer creates a summarizer backed by llm.
func NewSummarizer(llm Completer, maxBullets int, log *slog.Logger) *Summarizer {
	if maxBullets <= 0 {
		maxBullets = DefaultMaxBullets
	}
	if log == nil {
		log = slog.Default()
	}

	return &Summarizer{
		llm:        llm,
		maxBullets: maxBullets,
		log:        log.With("component", "summarizer"),
	}
}

// Summarize returns a bullet summary of m, one "• " line per point.
func (s *Summarizer) Summarize(
	ctx context.Context,
	m *model.Message,
) (string, error) {
	if strings.TrimSpace(m.BodyPlain) == "" {
		return NoContentSummary, nil
	}

	out, err := s.llm.Complete(ctx, buildSummaryPrompt(m.Subject, m.BodyPlain),
		inference.Options{
			System:    summarizerSystemPrompt,
			MaxTokens: 200,
		},
	)
	if err != nil {
		return "", fmt.Errorf("summarizing message %s: %w", m.ID, err)
	}

	summary := normalizeBullets(out, s.maxBullets)
	if summary == "" {
		return "", fmt.Errorf("summarizing message %s: %w",
			m.ID, inference.ErrMalformedResponse)
	}

	return summary, nil
}

func normalizeBullets(out string, maxBullets int) string {
	var bullets []string
	for _, line := range strings.Split(out, "\n") {
		line = strings.TrimSpace(bulletMarker.ReplaceAllString(
			strings.TrimSpace(line), "",
		))
		if line == "" {
			continue
		}

		line, _ = truncateRunes(line, maxBulletChars)
		bullets = append(bullets, bulletPrefix+line)
		if len(bullets) == maxBullets {
			break
		}
	}

	return strings.Join(bullets, "\n")
}
