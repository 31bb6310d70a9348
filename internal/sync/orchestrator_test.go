package sync

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/nhle/inboxpilot/internal/model"
	"github.com/nhle/inboxpilot/internal/source"
	"github.com/nhle/inboxpilot/internal/store"
	"github.com/nhle/inboxpilot/tests/testutil"
)

func TestRunStoresRelevantMessage(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, source.Filter{})
	h.src.set(raw("m1", "t1", "Re: Budget", "Can you approve by Friday?",
		testutil.Epoch))

	res, err := h.orch.Run(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, res.Fetched)
	require.Equal(t, 1, res.Stored)
	require.NotEmpty(t, res.RunID)
	require.Contains(t, res.Message, "1 stored")

	m, err := h.store.GetMessage(ctx, "m1")
	require.NoError(t, err)
	require.Equal(t, model.RelevanceRelevant, m.Relevance)
	require.Equal(t, model.StateStored, m.State)
	require.NotNil(t, m.Summary)
	for _, line := range strings.Split(*m.Summary, "\n") {
		require.True(t, strings.HasPrefix(line, "• "), line)
	}
	require.NotNil(t, m.DraftReply)
	require.NotEmpty(t, *m.DraftReply)
	require.False(t, m.HasReply)
	require.Empty(t, m.LastError)
}

func TestRunIsIdempotent(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, source.Filter{})
	h.src.set(
		raw("m1", "t1", "Re: Budget", "Can you approve?", testutil.Epoch),
		raw("m2", "t2", "SALE now", "Everything half price", testutil.Epoch),
		raw("m3", "t1", "Re: Budget", "Also the Q3 plan", testutil.Epoch.Add(time.Minute)),
	)

	_, err := h.orch.Run(ctx)
	require.NoError(t, err)

	before := make(map[string]model.Message)
	for _, id := range []string{"m1", "m2", "m3"} {
		m, err := h.store.GetMessage(ctx, id)
		require.NoError(t, err)
		before[id] = *m
	}
	calls := h.llm.calls()

	h.now = h.now.Add(time.Hour)
	res, err := h.orch.Run(ctx)
	require.NoError(t, err)
	require.Equal(t, 3, res.Skipped)
	require.Zero(t, res.Stored+res.Filtered+res.Errored)
	require.Equal(t, calls, h.llm.calls())

	for id, prev := range before {
		m, err := h.store.GetMessage(ctx, id)
		require.NoError(t, err)
		require.Equal(t, h.now.UTC(), m.SyncedAt)

		m.SyncedAt = prev.SyncedAt
		require.Equal(t, prev, *m)
	}

	all, err := h.deps.Store.ListMessages(ctx, store.MessageFilter{})
	require.NoError(t, err)
	require.Len(t, all, 3)
}

func TestRunFilterStability(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, source.Filter{})
	h.src.set(raw("promo", "p", "SALE today", "Buy now", testutil.Epoch))

	res, err := h.orch.Run(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, res.Filtered)

	m, err := h.store.GetMessage(ctx, "promo")
	require.NoError(t, err)
	require.Equal(t, model.RelevanceFiltered, m.Relevance)
	require.Equal(t, model.PriorityLow, m.Priority)
	require.Nil(t, m.Summary)
	require.Nil(t, m.DraftReply)

	_, err = h.orch.Run(ctx)
	require.NoError(t, err)
	require.EqualValues(t, 1, h.llm.classify.Load())

	m, err = h.store.GetMessage(ctx, "promo")
	require.NoError(t, err)
	require.Equal(t, model.RelevanceFiltered, m.Relevance)
}

func TestRunFailureIsolation(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, source.Filter{})

	var msgs []source.RawMessage
	for i := 1; i <= 5; i++ {
		body := fmt.Sprintf("Please review item %d", i)
		if i == 3 {
			body = "FAIL on this one"
		}
		msgs = append(msgs, raw(fmt.Sprintf("msg-%d", i), fmt.Sprintf("t%d", i),
			"Review", body, testutil.Epoch.Add(time.Duration(i)*time.Minute)))
	}
	h.src.set(msgs...)

	res, err := h.orch.Run(ctx)
	require.NoError(t, err)
	require.Equal(t, 4, res.Stored)
	require.Equal(t, 1, res.Errored)

	failed, err := h.store.GetMessage(ctx, "msg-3")
	require.NoError(t, err)
	require.Equal(t, model.StateErrored, failed.State)
	require.Contains(t, failed.LastError, "unavailable")
	require.Nil(t, failed.Summary)
	require.Nil(t, failed.DraftReply)
	require.Equal(t, model.RelevanceRelevant, failed.Relevance)

	for _, id := range []string{"msg-1", "msg-2", "msg-4", "msg-5"} {
		m, err := h.store.GetMessage(ctx, id)
		require.NoError(t, err)
		require.Equal(t, model.StateStored, m.State, id)
	}

	// The next run retries only the errored message.
	h.llm.failToken.Store("")
	classified := h.llm.classify.Load()

	res, err = h.orch.Run(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, res.Stored)
	require.Equal(t, 4, res.Skipped)
	require.Equal(t, classified, h.llm.classify.Load())

	fixed, err := h.store.GetMessage(ctx, "msg-3")
	require.NoError(t, err)
	require.Equal(t, model.StateStored, fixed.State)
	require.Empty(t, fixed.LastError)
	require.NotNil(t, fixed.DraftReply)
}

func TestRunRetriesPendingMessageNotRefetched(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, source.Filter{})
	h.src.set(raw("m1", "t1", "Hello", "FAIL please", testutil.Epoch))

	res, err := h.orch.Run(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, res.Errored)

	h.llm.failToken.Store("")
	h.src.set()

	res, err = h.orch.Run(ctx)
	require.NoError(t, err)
	require.Zero(t, res.Fetched)
	require.Equal(t, 1, res.Stored)
}

func TestRunSourceUnavailable(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, source.Filter{})
	h.src.err = fmt.Errorf("%w: dial tcp: refused", source.ErrSourceUnavailable)

	_, err := h.orch.Run(ctx)
	require.ErrorIs(t, err, source.ErrSourceUnavailable)
	require.Zero(t, h.llm.calls())

	cursor, err := h.deps.Store.GetSyncState(ctx, store.KeyCursor)
	require.NoError(t, err)
	require.True(t, cursor.IsNone())
}

func TestRunAuthFailureAborts(t *testing.T) {
	h := newHarness(t, source.Filter{})
	h.src.err = &source.AuthError{
		SourceType: source.SourceTypeIMAP,
		Message:    "bad password",
	}

	_, err := h.orch.Run(context.Background())
	require.True(t, source.IsAuthError(err))
	require.ErrorIs(t, err, source.ErrSourceUnavailable)
}

func TestRunInferenceUnavailable(t *testing.T) {
	h := newHarness(t, source.Filter{})
	h.llm.down.Store(true)
	h.src.set(raw("m1", "t1", "Hi", "body", testutil.Epoch))

	_, err := h.orch.Run(context.Background())
	require.ErrorIs(t, err, ErrInferenceUnavailable)
	require.Empty(t, h.src.cursors)
}

func TestRunClassifierFallback(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, source.Filter{})
	h.llm.classErr.Store(true)
	h.src.set(raw("m1", "t1", "Meeting on Monday", "Does 10am work?", testutil.Epoch))

	res, err := h.orch.Run(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, res.Stored)

	m, err := h.store.GetMessage(ctx, "m1")
	require.NoError(t, err)
	require.Contains(t, m.Rationale, "heuristic")
}

func TestRunIgnoreRulesAndOwnMail(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, source.Filter{
		Self:                  "me@example.com",
		IgnoreSubjectKeywords: []string{"newsletter"},
	})

	own := raw("own", "t1", "Re: hi", "my reply", testutil.Epoch)
	own.SenderAddress = "Me@Example.com"
	h.src.set(
		own,
		raw("news", "t2", "Weekly Newsletter", "stuff", testutil.Epoch),
	)

	res, err := h.orch.Run(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, res.Filtered)
	require.Zero(t, h.llm.calls())

	_, err = h.store.GetMessage(ctx, "own")
	require.ErrorIs(t, err, model.ErrNotFound)

	news, err := h.store.GetMessage(ctx, "news")
	require.NoError(t, err)
	require.Equal(t, model.RelevanceFiltered, news.Relevance)
	require.Contains(t, news.Rationale, "newsletter")
}

func TestRunRejectsMalformedPayload(t *testing.T) {
	h := newHarness(t, source.Filter{})
	h.src.set(
		raw("", "t1", "no id", "body", testutil.Epoch),
		raw("m1", "t1", "Hi", "Please review", testutil.Epoch),
	)

	res, err := h.orch.Run(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, res.Rejected)
	require.Equal(t, 1, res.Stored)
}

func TestRunReprocessesChangedContentKeepingReply(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, source.Filter{})
	h.src.set(raw("m1", "t1", "Plan", "Please review the plan", testutil.Epoch))

	_, err := h.orch.Run(ctx)
	require.NoError(t, err)
	require.NoError(t, h.deps.Store.MarkReplied(ctx, "m1"))

	sent, err := h.store.GetMessage(ctx, "m1")
	require.NoError(t, err)
	drafts := h.llm.draft.Load()

	h.src.set(raw("m1", "t1", "Plan", "Please review the plan (edited)", testutil.Epoch))
	res, err := h.orch.Run(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, res.Stored)
	require.Equal(t, drafts, h.llm.draft.Load())

	m, err := h.store.GetMessage(ctx, "m1")
	require.NoError(t, err)
	require.True(t, m.HasReply)
	require.Equal(t, *sent.DraftReply, *m.DraftReply)
	require.NotEqual(t, sent.ContentHash, m.ContentHash)
}

func TestRunFetchesAllPagesAndPersistsCursor(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, source.Filter{})
	h.src.pages = [][]source.RawMessage{
		{raw("a", "t", "Hi", "Please review a", testutil.Epoch)},
		{raw("b", "t", "Hi", "Please review b", testutil.Epoch.Add(time.Minute))},
	}

	res, err := h.orch.Run(ctx)
	require.NoError(t, err)
	require.Equal(t, 2, res.Fetched)
	require.Equal(t, []source.Cursor{"", "cursor-1"}, h.src.cursors)

	cursor, err := h.deps.Store.GetSyncState(ctx, store.KeyCursor)
	require.NoError(t, err)
	require.Equal(t, "cursor-2", cursor.UnwrapOr(""))

	last, err := h.deps.Store.GetSyncState(ctx, store.KeyLastSync)
	require.NoError(t, err)
	require.Equal(t, h.now.UTC().Format(time.RFC3339), last.UnwrapOr(""))
}

func TestRunCancelledKeepsCursor(t *testing.T) {
	h := newHarness(t, source.Filter{})
	h.src.set(raw("m1", "t1", "Hi", "Please review", testutil.Epoch))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := h.orch.Run(ctx)
	require.ErrorIs(t, err, context.Canceled)

	cursor, err := h.deps.Store.GetSyncState(context.Background(), store.KeyCursor)
	require.NoError(t, err)
	require.True(t, cursor.IsNone())
}

func TestRunKeepsCursorWhenMessageNotPersisted(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, source.Filter{})

	src := &cursorSource{msgs: []source.RawMessage{
		raw("m1", "t1", "Hi", "Please review one", testutil.Epoch),
		raw("m2", "t2", "Hi", "Please review two", testutil.Epoch.Add(time.Minute)),
	}}
	deps := h.deps
	deps.Source = src
	deps.Store = &flakyStore{Store: h.deps.Store, failID: "m2"}
	orch := New(Config{Now: func() time.Time { return h.now }}, deps, nil)

	res, err := orch.Run(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, res.Stored)
	require.Equal(t, 1, res.Errored)

	_, err = h.store.GetMessage(ctx, "m2")
	require.ErrorIs(t, err, model.ErrNotFound)

	cursor, err := h.deps.Store.GetSyncState(ctx, store.KeyCursor)
	require.NoError(t, err)
	require.True(t, cursor.IsNone())

	res, err = orch.Run(ctx)
	require.NoError(t, err)
	require.Equal(t, 2, res.Fetched)
	require.Equal(t, 1, res.Stored)
	require.Equal(t, 1, res.Skipped)
	require.Zero(t, res.Errored)

	m, err := h.store.GetMessage(ctx, "m2")
	require.NoError(t, err)
	require.Equal(t, model.StateStored, m.State)

	cursor, err = h.deps.Store.GetSyncState(ctx, store.KeyCursor)
	require.NoError(t, err)
	require.Equal(t, "after-all", cursor.UnwrapOr(""))
	require.Equal(t, []source.Cursor{"", ""}, src.cursors)
}

func TestCandidatesKeepNewestDuplicate(t *testing.T) {
	h := newHarness(t, source.Filter{})

	newer := raw("m1", "t1", "Hi", "Second version", testutil.Epoch.Add(time.Hour))
	older := raw("m1", "t1", "Hi", "First version", testutil.Epoch)
	latest := raw("m1", "t1", "Hi", "Third version", testutil.Epoch.Add(time.Hour))

	got, rejected := h.orch.candidates(context.Background(),
		[]source.RawMessage{newer, older}, h.orch.log)
	require.Zero(t, rejected)
	require.Len(t, got, 1)
	require.Equal(t, "Second version", got[0].BodyPlain)

	got, _ = h.orch.candidates(context.Background(),
		[]source.RawMessage{older, newer, latest}, h.orch.log)
	require.Len(t, got, 1)
	require.Equal(t, "Third version", got[0].BodyPlain)
}

func TestRunsAreSerialized(t *testing.T) {
	h := newHarness(t, source.Filter{})
	h.src.set(raw("m1", "t1", "Hi", "Please review", testutil.Epoch))

	errs := make(chan error, 2)
	for range 2 {
		go func() {
			_, err := h.orch.Run(context.Background())
			errs <- err
		}()
	}
	require.NoError(t, <-errs)
	require.NoError(t, <-errs)

	require.EqualValues(t, 1, h.llm.classify.Load())
	require.EqualValues(t, 1, h.llm.draft.Load())
}

func TestAdvanceRejectsInvalidTransition(t *testing.T) {
	m := &model.Message{ID: "m1", State: model.StateFetched}
	require.Error(t, advance(m, model.StateStored))
	require.NoError(t, advance(m, model.StateClassifying))
	require.Equal(t, model.StateClassifying, m.State)
}
