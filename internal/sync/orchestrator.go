package sync

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	gosync "sync"
	"time"

	"github.com/google/uuid"

	"github.com/nhle/inboxpilot/internal/ai"
	"github.com/nhle/inboxpilot/internal/model"
	"github.com/nhle/inboxpilot/internal/source"
	"github.com/nhle/inboxpilot/internal/store"
)

// ErrInferenceUnavailable is returned when the model server fails its
// health check before a run.
var ErrInferenceUnavailable = errors.New("inference service unavailable")

const (
	defaultPageSize  = 20
	defaultMaxPerRun = 100
)

// HealthChecker reports whether the model server can take requests.
type HealthChecker interface {
	IsAvailable(ctx context.Context) bool
}

// Config tunes a sync run.
type Config struct {
	// PageSize is the number of messages requested per fetch.
	PageSize int

	// MaxPerRun stops fetching once this many messages were collected.
	MaxPerRun int

	Budget ai.Budget

	// Now is the clock. Defaults to time.Now.
	Now func() time.Time
}

// Deps are the collaborators of an Orchestrator.
type Deps struct {
	Source     source.MailSource
	Filter     source.Filter
	Store      store.Store
	Health     HealthChecker
	Classifier *ai.Classifier
	Summarizer *ai.Summarizer
	Drafter    *ai.Drafter
	Pool       *Pool
}

// Result reports the outcome of one sync run.
type Result struct {
	RunID      string    `json:"run_id"`
	Fetched    int       `json:"fetched"`
	Stored     int       `json:"stored"`
	Filtered   int       `json:"filtered"`
	Errored    int       `json:"errored"`
	Skipped    int       `json:"skipped"`
	Rejected   int       `json:"rejected"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
	Message    string    `json:"message"`
}

type outcome int

const (
	outcomeErrored outcome = iota
	outcomeStored
	outcomeFiltered
	outcomeSkipped
	outcomeInterrupted

	// outcomeUnsaved is a failure that left no record of the message in
	// the store. It counts as errored.
	outcomeUnsaved
)

// Orchestrator drives sync runs: fetch, classify, summarize, draft and
// store, one message per worker.
type Orchestrator struct {
	cfg  Config
	deps Deps

	// runMu serializes runs.
	runMu gosync.Mutex

	log *slog.Logger
}

// New creates an orchestrator.
func New(cfg Config, deps Deps, log *slog.Logger) *Orchestrator {
	if cfg.PageSize <= 0 {
		cfg.PageSize = defaultPageSize
	}
	if cfg.MaxPerRun <= 0 {
		cfg.MaxPerRun = defaultMaxPerRun
	}
	if cfg.Budget.Chars <= 0 {
		cfg.Budget = ai.DefaultBudget()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if log == nil {
		log = slog.Default()
	}

	return &Orchestrator{
		cfg:  cfg,
		deps: deps,
		log:  log.With("component", "sync"),
	}
}

// Run performs one sync run. Concurrent calls wait for each other. A
// failing message is recorded as errored and does not affect the others;
// an unreachable source or model aborts the run before any write.
func (o *Orchestrator) Run(ctx context.Context) (*Result, error) {
	o.runMu.Lock()
	defer o.runMu.Unlock()

	res := &Result{
		RunID:     uuid.NewString(),
		StartedAt: o.cfg.Now().UTC(),
	}
	log := o.log.With("run_id", res.RunID)

	if !o.deps.Health.IsAvailable(ctx) {
		return nil, ErrInferenceUnavailable
	}

	fetched, next, err := o.fetchAll(ctx, log)
	if err != nil {
		return nil, err
	}
	res.Fetched = len(fetched)

	candidates, rejected := o.candidates(ctx, fetched, log)
	res.Rejected = rejected

	pending, err := o.deps.Store.PendingMessages(ctx)
	if err != nil {
		return nil, fmt.Errorf("loading pending messages: %w", err)
	}
	seen := make(map[string]bool, len(candidates))
	for _, m := range candidates {
		seen[m.ID] = true
	}
	for _, m := range pending {
		if !seen[m.ID] {
			candidates = append(candidates, m)
		}
	}

	var (
		wg          gosync.WaitGroup
		mu          gosync.Mutex
		tally       = make(map[outcome]int)
		unscheduled int
	)
	for i := range candidates {
		m := candidates[i]

		wg.Add(1)
		err := o.deps.Pool.Submit(ctx, func() {
			defer wg.Done()

			result := outcomeUnsaved
			defer func() {
				mu.Lock()
				tally[result]++
				mu.Unlock()
			}()

			result = o.process(ctx, &m, log)
		})
		if err != nil {
			wg.Done()
			unscheduled = len(candidates) - i
			log.Warn("Stopped scheduling messages", "err", err,
				"remaining", unscheduled)
			break
		}
	}
	wg.Wait()

	res.Stored = tally[outcomeStored]
	res.Filtered = tally[outcomeFiltered]
	res.Errored = tally[outcomeErrored] + tally[outcomeUnsaved]
	res.Skipped = tally[outcomeSkipped]
	res.FinishedAt = o.cfg.Now().UTC()

	// An interrupted run keeps the old cursor so the next one resumes.
	if err := ctx.Err(); err != nil {
		return res, fmt.Errorf("sync run %s interrupted: %w", res.RunID, err)
	}

	// Messages missing from the store are only seen again if the source
	// delivers them again, so the cursor stays put.
	if lost := tally[outcomeUnsaved] + unscheduled; lost > 0 {
		log.Warn("Keeping cursor, messages not persisted", "count", lost)
	} else {
		err := o.deps.Store.SetSyncState(ctx, store.KeyCursor, string(next))
		if err != nil {
			return res, err
		}
	}
	err = o.deps.Store.SetSyncState(ctx, store.KeyLastSync,
		res.FinishedAt.Format(time.RFC3339))
	if err != nil {
		return res, err
	}

	res.Message = fmt.Sprintf(
		"Processed %d messages: %d stored, %d filtered, %d errored, %d skipped",
		res.Stored+res.Filtered+res.Errored, res.Stored, res.Filtered,
		res.Errored, res.Skipped,
	)
	log.Info("Sync run finished",
		"fetched", res.Fetched, "stored", res.Stored,
		"filtered", res.Filtered, "errored", res.Errored,
		"skipped", res.Skipped,
		"took", res.FinishedAt.Sub(res.StartedAt))

	return res, nil
}

// fetchAll reads every available page starting at the stored cursor. No
// message is processed until the source has delivered them all.
func (o *Orchestrator) fetchAll(
	ctx context.Context,
	log *slog.Logger,
) ([]source.RawMessage, source.Cursor, error) {
	stored, err := o.deps.Store.GetSyncState(ctx, store.KeyCursor)
	if err != nil {
		return nil, "", fmt.Errorf("loading cursor: %w", err)
	}
	cursor := source.Cursor(stored.UnwrapOr(""))

	var all []source.RawMessage
	for {
		batch, err := o.deps.Source.FetchSince(ctx, cursor, o.cfg.PageSize)
		if err != nil {
			return nil, "", fmt.Errorf("fetching from %s: %w",
				o.deps.Source.Type(), err)
		}

		all = append(all, batch.Messages...)
		cursor = batch.Next

		if !batch.HasMore || len(all) >= o.cfg.MaxPerRun {
			break
		}
	}

	log.Debug("Fetched messages", "count", len(all), "cursor", cursor)

	return all, cursor, nil
}

// candidates validates fetched payloads, drops duplicates and the
// account's own mail. It returns the number of rejected payloads.
func (o *Orchestrator) candidates(
	ctx context.Context,
	raw []source.RawMessage,
	log *slog.Logger,
) ([]model.Message, int) {
	now := o.cfg.Now()

	var (
		out      []model.Message
		index    = make(map[string]int, len(raw))
		rejected int
	)
	for _, r := range raw {
		m, err := r.Normalize(now)
		if err != nil {
			log.WarnContext(ctx, "Rejected payload", "err", err)
			rejected++
			continue
		}
		if o.deps.Filter.FromSelf(&m) {
			log.DebugContext(ctx, "Skipping own message", "id", m.ID)
			continue
		}

		// The newest copy of a duplicated id wins.
		if i, ok := index[m.ID]; ok {
			if !m.ReceivedAt.Before(out[i].ReceivedAt) {
				out[i] = m
			}
			continue
		}
		index[m.ID] = len(out)
		out = append(out, m)
	}

	return out, rejected
}
