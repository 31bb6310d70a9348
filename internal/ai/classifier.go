package ai

import (
	"context"
	"log/slog"
	"strings"

	"github.com/nhle/inboxpilot/internal/inference"
	"github.com/nhle/inboxpilot/internal/model"
)

// DefaultExcerptChars is how much of the body the classifier sees.
const DefaultExcerptChars = 500

// Verdict is the outcome of classifying one message.
type Verdict struct {
	Relevant  bool
	Rationale string

	// Fallback reports that the keyword heuristic decided instead of the
	// model.
	Fallback bool
}

// Relevance converts v to the stored relevance value.
func (v Verdict) Relevance() model.Relevance {
	if v.Relevant {
		return model.RelevanceRelevant
	}
	return model.RelevanceFiltered
}

// Classifier decides whether a message deserves attention.
type Classifier struct {
	llm          Completer
	excerptChars int
	log          *slog.Logger
}

// NewClassifier creates a classifier backed by llm.
func NewClassifier(
	llm Completer,
	excerptChars int,
	log *slog.Logger,
) *Classifier {
	if excerptChars <= 0 {
		excerptChars = DefaultExcerptChars
	}
	if log == nil {
		log = slog.Default()
	}

	return &Classifier{
		llm:          llm,
		excerptChars: excerptChars,
		log:          log.With("component", "classifier"),
	}
}

// Classify returns the relevance verdict for m. Model failures and
// unparseable answers fall back to HeuristicRelevance, so the only error
// is a cancelled context.
func (c *Classifier) Classify(
	ctx context.Context,
	m *model.Message,
) (Verdict, error) {
	excerpt, _ := truncateRunes(m.BodyPlain, c.excerptChars)

	out, err := c.llm.Complete(ctx, buildClassifierPrompt(m.Subject, excerpt),
		inference.Options{
			System:    classifierSystemPrompt,
			MaxTokens: 64,
		},
	)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return Verdict{}, ctxErr
		}
		c.log.Warn("Classification failed, using heuristic",
			"id", m.ID, "err", err)
		return HeuristicRelevance(m), nil
	}

	v, ok := parseVerdict(out)
	if !ok {
		c.log.Warn("Unparseable classification, using heuristic",
			"id", m.ID, "output", out)
		return HeuristicRelevance(m), nil
	}

	c.log.Debug("Classified message", "id", m.ID, "relevant", v.Relevant)

	return v, nil
}

// parseVerdict reads a model answer. The negative forms are checked first
// because they contain the positive token.
func parseVerdict(out string) (Verdict, bool) {
	var (
		v      Verdict
		found  bool
		reason string
	)

	for _, line := range strings.Split(out, "\n") {
		line = strings.TrimSpace(line)
		upper := strings.ToUpper(line)

		switch {
		case strings.HasPrefix(upper, "REASON:"):
			reason = strings.TrimSpace(line[len("REASON:"):])
			continue
		case found:
			continue
		}

		token := strings.TrimSpace(strings.TrimPrefix(upper, "VERDICT:"))
		switch {
		case strings.Contains(token, "NOT_RELEVANT"),
			strings.Contains(token, "NOT RELEVANT"),
			strings.Contains(token, "IRRELEVANT"):
			v.Relevant, found = false, true
		case strings.Contains(token, "RELEVANT"):
			v.Relevant, found = true, true
		}
	}

	if !found {
		return Verdict{}, false
	}

	v.Rationale = reason
	if v.Rationale == "" {
		v.Rationale = "model verdict"
	}
	return v, true
}
