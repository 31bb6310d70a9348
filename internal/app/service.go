package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/lightningnetwork/lnd/fn/v2"

	"github.com/nhle/inboxpilot/internal/ai"
	"github.com/nhle/inboxpilot/internal/inference"
	"github.com/nhle/inboxpilot/internal/model"
	"github.com/nhle/inboxpilot/internal/source"
	"github.com/nhle/inboxpilot/internal/store"
	"github.com/nhle/inboxpilot/internal/sync"
)

// ErrInferenceUnavailable is returned when an operation needs the model
// server and it is down or answered with garbage.
var ErrInferenceUnavailable = sync.ErrInferenceUnavailable

const (
	defaultListLimit     = 50
	defaultRetentionDays = 30
)

// Deps are the collaborators of a Service.
type Deps struct {
	Store   store.Store
	Syncer  sync.Runner
	Source  source.MailSource
	Sender  source.Sender
	Health  sync.HealthChecker
	Drafter *ai.Drafter
	Budget  ai.Budget

	// Now is the clock. Defaults to time.Now.
	Now func() time.Time
}

// Filter selects messages for ListMessages.
type Filter struct {
	Relevance fn.Option[model.Relevance]
	Replied   fn.Option[bool]
	Query     string
	Limit     int
	Offset    int
}

// MessageSummary is the list view of a stored message.
type MessageSummary struct {
	ID         string                `json:"id"`
	ThreadID   string                `json:"thread_id"`
	Sender     string                `json:"sender"`
	SenderName string                `json:"sender_display_name"`
	Subject    string                `json:"subject"`
	Summary    *string               `json:"summary"`
	ReceivedAt time.Time             `json:"received_at"`
	Relevance  model.Relevance       `json:"is_relevant"`
	Priority   model.Priority        `json:"priority"`
	HasDraft   bool                  `json:"has_draft"`
	HasReply   bool                  `json:"has_reply"`
	State      model.ProcessingState `json:"processing_state"`
}

func summarize(m *model.Message) MessageSummary {
	return MessageSummary{
		ID:         m.ID,
		ThreadID:   m.ThreadID,
		Sender:     m.SenderAddress,
		SenderName: ai.SenderName(m),
		Subject:    m.Subject,
		Summary:    m.Summary,
		ReceivedAt: m.ReceivedAt,
		Relevance:  m.Relevance,
		Priority:   m.Priority,
		HasDraft:   m.DraftReply != nil,
		HasReply:   m.HasReply,
		State:      m.State,
	}
}

// Service is the boundary of the core: every operation a presentation
// layer may call.
type Service struct {
	deps   Deps
	status statusTracker

	// sendLocks serializes sends per message so a reply is delivered at
	// most once.
	sendLocks store.KeyedMutex

	log *slog.Logger
}

// NewService creates a service.
func NewService(deps Deps, log *slog.Logger) *Service {
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if deps.Budget.Chars <= 0 {
		deps.Budget = ai.DefaultBudget()
	}
	if log == nil {
		log = slog.Default()
	}

	return &Service{
		deps: deps,
		log:  log.With("component", "app"),
	}
}

// GetStatus checks the mail source and the model server, records the
// outcome and returns it together with the time of the last sync.
func (s *Service) GetStatus(ctx context.Context) (*Status, error) {
	if s.deps.Source != nil {
		account, err := s.deps.Source.ValidateConnection(ctx)
		if err != nil {
			s.log.Warn("Mail source check failed", "err", err)
		}
		s.status.setAuth(err == nil, account)
	}
	if s.deps.Health != nil {
		s.status.setInference(s.deps.Health.IsAvailable(ctx))
	}

	st := s.status.snapshot()

	last, err := s.deps.Store.GetSyncState(ctx, store.KeyLastSync)
	if err != nil {
		return nil, fmt.Errorf("loading last sync time: %w", err)
	}
	last.WhenSome(func(v string) {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			s.log.Warn("Ignoring unparsable last sync time", "value", v)
			return
		}
		st.LastSync = fn.Some(t)
	})

	return &st, nil
}

// Sync runs the pipeline once and updates the health flags from its
// outcome.
func (s *Service) Sync(ctx context.Context) (*sync.Result, error) {
	res, err := s.deps.Syncer.Run(ctx)
	switch {
	case err == nil:
		s.status.setAuth(true, "")
		s.status.setInference(true)
	case errors.Is(err, ErrInferenceUnavailable):
		s.status.setInference(false)
	case source.IsAuthError(err):
		s.status.setAuth(false, "")
	}
	if err != nil {
		return nil, err
	}

	return res, nil
}

// ListMessages returns message summaries, newest first.
func (s *Service) ListMessages(
	ctx context.Context,
	f Filter,
) ([]MessageSummary, error) {
	limit := f.Limit
	if limit <= 0 {
		limit = defaultListLimit
	}

	msgs, err := s.deps.Store.ListMessages(ctx, store.MessageFilter{
		Relevance: f.Relevance,
		Replied:   f.Replied,
		State:     fn.None[model.ProcessingState](),
		Query:     strings.TrimSpace(f.Query),
		Limit:     limit,
		Offset:    max(f.Offset, 0),
	})
	if err != nil {
		return nil, fmt.Errorf("listing messages: %w", err)
	}

	out := make([]MessageSummary, 0, len(msgs))
	for i := range msgs {
		out = append(out, summarize(&msgs[i]))
	}
	return out, nil
}

// GetMessage returns the full record of id.
func (s *Service) GetMessage(ctx context.Context, id string) (*model.Message, error) {
	return s.deps.Store.GetMessage(ctx, id)
}

// RegenerateDraft writes a fresh draft for id from its thread and stores
// it. Replied and filtered messages are refused before the model server
// is contacted.
func (s *Service) RegenerateDraft(ctx context.Context, id string) (string, error) {
	m, err := s.draftable(ctx, id)
	if err != nil {
		return "", err
	}

	history, err := s.deps.Store.ThreadMessages(ctx, m.ThreadID)
	if err != nil {
		return "", fmt.Errorf("loading thread %s: %w", m.ThreadID, err)
	}
	window := ai.BuildContext(m, history, s.deps.Budget)

	draft, err := s.deps.Drafter.Regenerate(ctx, m, window)
	if err != nil {
		return "", inferenceError(err)
	}

	if err := s.deps.Store.UpdateDraft(ctx, id, draft); err != nil {
		return "", err
	}

	s.log.Info("Draft regenerated", "id", id, "context_fragments", window.Len())
	return draft, nil
}

// RefineDraft rewrites the stored draft of id, steered by instruction.
func (s *Service) RefineDraft(
	ctx context.Context,
	id, instruction string,
) (string, error) {
	m, err := s.draftable(ctx, id)
	if err != nil {
		return "", err
	}

	current := ""
	if m.DraftReply != nil {
		current = *m.DraftReply
	}

	draft, err := s.deps.Drafter.Refine(ctx, m, current, instruction)
	if err != nil {
		if errors.Is(err, model.ErrEmptyReply) {
			return "", err
		}
		return "", inferenceError(err)
	}

	if err := s.deps.Store.UpdateDraft(ctx, id, draft); err != nil {
		return "", err
	}

	return draft, nil
}

// draftable loads id and checks the draft guards, then the model server.
func (s *Service) draftable(ctx context.Context, id string) (*model.Message, error) {
	m, err := s.deps.Store.GetMessage(ctx, id)
	if err != nil {
		return nil, err
	}

	if m.HasReply {
		return nil, model.ErrAlreadyReplied
	}
	if m.Relevance != model.RelevanceRelevant {
		return nil, model.ErrNotRelevant
	}

	if s.deps.Health != nil {
		ok := s.deps.Health.IsAvailable(ctx)
		s.status.setInference(ok)
		if !ok {
			return nil, ErrInferenceUnavailable
		}
	}

	return m, nil
}

// SendReply delivers content as the answer to id and records the send.
// A failed delivery leaves the record untouched and returns the sender's
// error as is.
func (s *Service) SendReply(ctx context.Context, id, content string) error {
	if strings.TrimSpace(content) == "" {
		return model.ErrEmptyReply
	}

	unlock := s.sendLocks.Lock(id)
	defer unlock()

	m, err := s.deps.Store.GetMessage(ctx, id)
	if err != nil {
		return err
	}
	if m.HasReply {
		return model.ErrAlreadyReplied
	}

	err = s.deps.Sender.Send(ctx, source.Reply{
		MessageID: m.ID,
		ThreadID:  m.ThreadID,
		To:        m.SenderAddress,
		ToName:    m.SenderName,
		Subject:   m.Subject,
		Content:   content,
	})
	if err != nil {
		s.log.Error("Sending reply failed", "id", id, "err", err)
		return err
	}

	if err := s.deps.Store.MarkReplied(ctx, id); err != nil {
		return fmt.Errorf("reply to %s was sent but not recorded: %w", id, err)
	}

	s.log.Info("Reply sent", "id", id, "to", m.SenderAddress)
	return nil
}

// Stats summarizes the stored messages.
func (s *Service) Stats(ctx context.Context) (*store.Stats, error) {
	return s.deps.Store.Stats(ctx, s.deps.Now())
}

// Cleanup deletes messages received more than days ago. A non-positive
// days uses the default retention.
func (s *Service) Cleanup(ctx context.Context, days int) (int64, error) {
	if days <= 0 {
		days = defaultRetentionDays
	}

	cutoff := s.deps.Now().Add(-time.Duration(days) * 24 * time.Hour)
	n, err := s.deps.Store.DeleteOlderThan(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("cleaning up messages: %w", err)
	}

	s.log.Info("Old messages deleted", "count", n, "older_than_days", days)
	return n, nil
}

// inferenceError maps model server failures to ErrInferenceUnavailable.
func inferenceError(err error) error {
	var modelErr *inference.ModelError
	if errors.Is(err, inference.ErrUnavailable) ||
		errors.Is(err, inference.ErrMalformedResponse) ||
		errors.As(err, &modelErr) {

		return fmt.Errorf("%w: %w", ErrInferenceUnavailable, err)
	}
	return err
}
