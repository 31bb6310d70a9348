package commands

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/nhle/inboxpilot/internal/ai"
	"github.com/nhle/inboxpilot/internal/app"
	"github.com/nhle/inboxpilot/internal/build"
	"github.com/nhle/inboxpilot/internal/inference"
	"github.com/nhle/inboxpilot/internal/model"
	"github.com/nhle/inboxpilot/internal/source"
	"github.com/nhle/inboxpilot/internal/store"
	"github.com/nhle/inboxpilot/internal/sync"
)

// runtime holds the wired components of one CLI invocation.
type runtime struct {
	cfg   *model.AppConfig
	log   *slog.Logger
	store store.Store
	llm   *inference.Client
	pool  *sync.Pool
	orch  *sync.Orchestrator
	svc   *app.Service

	closers []io.Closer
}

// newRuntime loads the configuration and wires the service. The mail
// source is only opened when withSource is set, so that offline commands
// work without credentials.
func newRuntime(ctx context.Context, withSource bool) (*runtime, error) {
	cfg, err := model.LoadConfig(configPath)
	if err != nil {
		return nil, err
	}

	log, logCloser, err := build.NewLogger(cfg.Log, os.Stderr)
	if err != nil {
		return nil, err
	}
	slog.SetDefault(log)

	rt := &runtime{cfg: cfg, log: log, closers: []io.Closer{logCloser}}

	rt.store, err = store.Open(ctx, cfg.Store, log)
	if err != nil {
		rt.Close()
		return nil, err
	}
	rt.closers = append(rt.closers, rt.store)

	rt.llm = inference.New(inference.Config{
		BaseURL:       cfg.Inference.BaseURL,
		Model:         cfg.Inference.Model,
		Timeout:       cfg.Inference.Timeout,
		HealthTimeout: cfg.Inference.HealthTimeout,
		MaxRetries:    cfg.Inference.MaxRetries,
		MaxTokens:     cfg.Inference.MaxTokens,
		Temperature:   cfg.Inference.Temperature,
	}, log)

	budget := ai.Budget{
		Chars:         cfg.Pipeline.ContextBudget,
		FragmentChars: cfg.Pipeline.FragmentChars,
	}
	drafter := ai.NewDrafter(rt.llm, cfg.Pipeline.SignatureName, log)

	deps := app.Deps{
		Store:   rt.store,
		Health:  rt.llm,
		Drafter: drafter,
		Budget:  budget,
	}

	if withSource {
		mailbox, err := app.NewMailbox(ctx, cfg.Source, log)
		if err != nil {
			rt.Close()
			return nil, err
		}

		rt.pool = sync.NewPool(cfg.Pipeline.Workers, log)
		rt.orch = sync.New(sync.Config{
			PageSize:  cfg.Source.PageSize,
			MaxPerRun: cfg.Source.MaxPerRun,
			Budget:    budget,
		}, sync.Deps{
			Source:     mailbox,
			Filter:     source.NewFilter(cfg.Source),
			Store:      rt.store,
			Health:     rt.llm,
			Classifier: ai.NewClassifier(rt.llm, cfg.Pipeline.ExcerptChars, log),
			Summarizer: ai.NewSummarizer(rt.llm, cfg.Pipeline.MaxSummaryBullets, log),
			Drafter:    drafter,
			Pool:       rt.pool,
		}, log)

		deps.Syncer = rt.orch
		deps.Source = mailbox
		deps.Sender = mailbox
	}

	rt.svc = app.NewService(deps, log)
	return rt, nil
}

// Close releases the pool, the store and the log file, in that order.
func (r *runtime) Close() {
	if r.pool != nil {
		r.pool.Close()
	}

	for i := len(r.closers) - 1; i >= 0; i-- {
		if err := r.closers[i].Close(); err != nil {
			fmt.Fprintln(os.Stderr, "closing:", err)
		}
	}
}

// outputJSON prints v as indented JSON.
func outputJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// requireSource reports a friendly error for commands that need the
// service's mail collaborators.
func requireSource(err error) error {
	if source.IsAuthError(err) {
		return fmt.Errorf("mail login failed: %w", err)
	}
	if errors.Is(err, source.ErrSourceUnavailable) {
		return fmt.Errorf("mail server unreachable: %w", err)
	}
	return err
}
