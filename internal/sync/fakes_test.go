package sync

import (
	"context"
	"errors"
	"fmt"
	"strings"
	gosync "sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/nhle/inboxpilot/internal/ai"
	"github.com/nhle/inboxpilot/internal/inference"
	"github.com/nhle/inboxpilot/internal/model"
	"github.com/nhle/inboxpilot/internal/source"
	"github.com/nhle/inboxpilot/internal/store"
	"github.com/nhle/inboxpilot/tests/testutil"
)

// fakeSource serves pages of payloads. The same pages are served again on
// every run regardless of cursor.
type fakeSource struct {
	mu      gosync.Mutex
	pages   [][]source.RawMessage
	err     error
	cursors []source.Cursor
	calls   int
}

func (f *fakeSource) Type() source.SourceType { return source.SourceTypeIMAP }

func (f *fakeSource) ValidateConnection(context.Context) (string, error) {
	return "me@example.com", f.err
}

func (f *fakeSource) FetchSince(
	_ context.Context,
	cursor source.Cursor,
	_ int,
) (*source.Batch, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.cursors = append(f.cursors, cursor)
	if f.err != nil {
		return nil, f.err
	}

	page := f.calls % max(len(f.pages), 1)
	f.calls++
	if len(f.pages) == 0 {
		return &source.Batch{Next: "cursor-0"}, nil
	}

	return &source.Batch{
		Messages: f.pages[page],
		Next:     source.Cursor(fmt.Sprintf("cursor-%d", page+1)),
		HasMore:  page < len(f.pages)-1,
	}, nil
}

func (f *fakeSource) set(msgs ...source.RawMessage) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pages = [][]source.RawMessage{msgs}
	f.calls = 0
}

// cursorSource delivers its messages once, to a fetch from the empty
// cursor, the way IMAP and Gmail never return mail older than their cursor.
type cursorSource struct {
	fakeSource
	msgs []source.RawMessage
}

func (c *cursorSource) FetchSince(
	_ context.Context,
	cursor source.Cursor,
	_ int,
) (*source.Batch, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.cursors = append(c.cursors, cursor)
	if cursor != "" {
		return &source.Batch{Next: cursor}, nil
	}
	return &source.Batch{Messages: c.msgs, Next: "after-all"}, nil
}

// flakyStore fails the first upsert of failID.
type flakyStore struct {
	store.Store
	failID string
	failed atomic.Bool
}

func (f *flakyStore) UpsertMessage(ctx context.Context, m *model.Message) error {
	if m.ID == f.failID && f.failed.CompareAndSwap(false, true) {
		return errors.New("database is locked")
	}
	return f.Store.UpsertMessage(ctx, m)
}

// fakeLLM plays the model server. It answers by the role named in the
// system prompt and fails any prompt containing failToken.
type fakeLLM struct {
	down      atomic.Bool
	failToken atomic.Value
	classify  atomic.Int32
	summarize atomic.Int32
	draft     atomic.Int32
	classErr  atomic.Bool
}

func newFakeLLM() *fakeLLM {
	f := &fakeLLM{}
	f.failToken.Store("FAIL")
	return f
}

func (f *fakeLLM) IsAvailable(context.Context) bool {
	return !f.down.Load()
}

func (f *fakeLLM) Complete(
	_ context.Context,
	prompt string,
	opts inference.Options,
) (string, error) {
	switch {
	case strings.Contains(opts.System, "relevance classifier"):
		f.classify.Add(1)
		if f.classErr.Load() {
			return "", inference.ErrUnavailable
		}
		if strings.Contains(prompt, "SALE") {
			return "VERDICT: NOT_RELEVANT\nREASON: promotion", nil
		}
		return "VERDICT: RELEVANT\nREASON: direct request", nil

	case strings.Contains(opts.System, "summarizer"):
		f.summarize.Add(1)
		if tok := f.failToken.Load().(string); tok != "" && strings.Contains(prompt, tok) {
			return "", fmt.Errorf("%w: 3 attempts", inference.ErrUnavailable)
		}
		return "- Approval requested\n- Due Friday", nil

	default:
		f.draft.Add(1)
		return "Sounds good, approved.", nil
	}
}

func (f *fakeLLM) calls() int {
	return int(f.classify.Load() + f.summarize.Load() + f.draft.Load())
}

type harness struct {
	orch  *Orchestrator
	src   *fakeSource
	llm   *fakeLLM
	store interface {
		GetMessage(ctx context.Context, id string) (*model.Message, error)
	}
	deps Deps
	now  time.Time
}

func newHarness(t *testing.T, filter source.Filter) *harness {
	t.Helper()

	st := testutil.NewTestStore(t)
	llm := newFakeLLM()
	src := &fakeSource{}

	pool := NewPool(3, nil)
	t.Cleanup(pool.Close)

	h := &harness{src: src, llm: llm, store: st, now: testutil.Epoch.Add(time.Hour)}
	h.deps = Deps{
		Source:     src,
		Filter:     filter,
		Store:      st,
		Health:     llm,
		Classifier: ai.NewClassifier(llm, 0, nil),
		Summarizer: ai.NewSummarizer(llm, 0, nil),
		Drafter:    ai.NewDrafter(llm, "Sam", nil),
		Pool:       pool,
	}
	h.orch = New(Config{
		PageSize: 10,
		Now:      func() time.Time { return h.now },
	}, h.deps, nil)

	return h
}

func raw(id, thread, subject, body string, at time.Time) source.RawMessage {
	return source.RawMessage{
		ID:            id,
		ThreadID:      thread,
		SenderAddress: "boss@example.com",
		SenderName:    "The Boss",
		Subject:       subject,
		BodyPlain:     body,
		ReceivedAt:    at,
	}
}
