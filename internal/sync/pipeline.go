package sync

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/nhle/inboxpilot/internal/ai"
	"github.com/nhle/inboxpilot/internal/model"
)

// advance moves m to next, rejecting moves the state machine forbids.
func advance(m *model.Message, next model.ProcessingState) error {
	if !m.State.CanTransition(next) {
		return fmt.Errorf("invalid transition of %s from %s to %s",
			m.ID, m.State, next)
	}
	m.State = next
	return nil
}

// process runs one message through the pipeline. Everything it learns is
// written with a single upsert at the end, plus a checkpoint once a
// relevant verdict is known.
func (o *Orchestrator) process(
	ctx context.Context,
	fetched *model.Message,
	log *slog.Logger,
) outcome {
	log = log.With("id", fetched.ID)
	now := o.cfg.Now().UTC()

	existing, err := o.deps.Store.GetMessage(ctx, fetched.ID)
	switch {
	case errors.Is(err, model.ErrNotFound):
		existing = nil
	case err != nil:
		log.ErrorContext(ctx, "Loading stored message failed", "err", err)
		return outcomeUnsaved
	}

	unchanged := existing != nil && existing.Unchanged(fetched)
	if unchanged && existing.State.Done() {
		if err := o.deps.Store.TouchSynced(ctx, fetched.ID, now); err != nil {
			log.ErrorContext(ctx, "Touching message failed", "err", err)
			return outcomeErrored
		}
		return outcomeSkipped
	}

	rec := *fetched
	rec.State = model.StateFetched
	rec.LastError = ""
	rec.SyncedAt = now
	rec.Summary = nil
	rec.DraftReply = nil
	if existing != nil {
		rec.HasReply = existing.HasReply
		if existing.HasReply {
			rec.DraftReply = existing.DraftReply
		}
	}

	if err := advance(&rec, model.StateClassifying); err != nil {
		return o.fail(ctx, &rec, err, log)
	}

	if rule, ok := o.deps.Filter.Ignored(&rec); ok {
		rec.Relevance = model.RelevanceFiltered
		rec.Rationale = rule
		return o.finishFiltered(ctx, &rec, log)
	}

	var verdict ai.Verdict
	if unchanged && existing.Relevance != model.RelevanceUnknown {
		verdict = ai.Verdict{
			Relevant:  existing.Relevance == model.RelevanceRelevant,
			Rationale: existing.Rationale,
		}
	} else {
		verdict, err = o.deps.Classifier.Classify(ctx, &rec)
		if err != nil {
			log.InfoContext(ctx, "Classification interrupted", "err", err)
			return outcomeInterrupted
		}
	}
	rec.Relevance = verdict.Relevance()
	rec.Rationale = verdict.Rationale

	if !verdict.Relevant {
		return o.finishFiltered(ctx, &rec, log)
	}

	rec.Priority = ai.Prioritize(&rec)
	if err := advance(&rec, model.StateRelevant); err != nil {
		return o.fail(ctx, &rec, err, log)
	}
	if err := o.deps.Store.UpsertMessage(ctx, &rec); err != nil {
		log.ErrorContext(ctx, "Checkpoint failed", "err", err)
		return outcomeUnsaved
	}

	if err := advance(&rec, model.StateSummarizing); err != nil {
		return o.fail(ctx, &rec, err, log)
	}
	if unchanged && existing.Summary != nil {
		rec.Summary = existing.Summary
	} else {
		summary, err := o.deps.Summarizer.Summarize(ctx, &rec)
		if err != nil {
			return o.fail(ctx, &rec, err, log)
		}
		rec.Summary = model.StringPtr(summary)
	}

	if err := advance(&rec, model.StateDrafting); err != nil {
		return o.fail(ctx, &rec, err, log)
	}
	switch {
	case rec.HasReply:
		// A reply went out already; its draft is kept as sent.
	case unchanged && existing.DraftReply != nil:
		rec.DraftReply = existing.DraftReply
	default:
		history, err := o.deps.Store.ThreadMessages(ctx, rec.ThreadID)
		if err != nil {
			return o.fail(ctx, &rec, err, log)
		}
		window := ai.BuildContext(&rec, history, o.cfg.Budget)

		draft, err := o.deps.Drafter.Draft(ctx, &rec, window)
		if err != nil {
			return o.fail(ctx, &rec, err, log)
		}
		rec.DraftReply = model.StringPtr(draft)
	}

	if err := advance(&rec, model.StateStored); err != nil {
		return o.fail(ctx, &rec, err, log)
	}
	if err := o.deps.Store.UpsertMessage(ctx, &rec); err != nil {
		log.ErrorContext(ctx, "Storing message failed", "err", err)
		return outcomeUnsaved
	}

	log.DebugContext(ctx, "Stored message", "priority", rec.Priority)

	return outcomeStored
}

func (o *Orchestrator) finishFiltered(
	ctx context.Context,
	rec *model.Message,
	log *slog.Logger,
) outcome {
	rec.Priority = ai.Prioritize(rec)
	rec.Summary = nil
	if err := advance(rec, model.StateFiltered); err != nil {
		return o.fail(ctx, rec, err, log)
	}
	if err := o.deps.Store.UpsertMessage(ctx, rec); err != nil {
		log.ErrorContext(ctx, "Storing filtered message failed", "err", err)
		return outcomeUnsaved
	}

	log.DebugContext(ctx, "Filtered message", "rationale", rec.Rationale)

	return outcomeFiltered
}

// fail records cause on rec and stores it as errored. A summary produced
// before the failure is kept; a draft is not. If the errored record cannot
// be written either, the message is reported unsaved.
func (o *Orchestrator) fail(
	ctx context.Context,
	rec *model.Message,
	cause error,
	log *slog.Logger,
) outcome {
	if ctx.Err() != nil {
		log.InfoContext(ctx, "Message interrupted", "err", cause)
		return outcomeInterrupted
	}

	log.WarnContext(ctx, "Message failed", "state", rec.State, "err", cause)

	if !rec.HasReply {
		rec.DraftReply = nil
	}
	rec.LastError = cause.Error()
	if !rec.State.CanTransition(model.StateErrored) {
		log.ErrorContext(ctx, "Failure after terminal state", "state", rec.State)
	}
	rec.State = model.StateErrored

	if err := o.deps.Store.UpsertMessage(ctx, rec); err != nil {
		log.ErrorContext(ctx, "Storing errored message failed", "err", err)
		return outcomeUnsaved
	}

	return outcomeErrored
}
