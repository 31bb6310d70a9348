package ai

import (
	"context"
	"sync"

	"github.com/nhle/inboxpilot/internal/inference"
)

// fakeLLM answers every prompt with reply and err, recording the calls.
type fakeLLM struct {
	mu    sync.Mutex
	reply string
	err   error
	calls []fakeCall
}

type fakeCall struct {
	prompt string
	opts   inference.Options
}

func (f *fakeLLM) Complete(
	_ context.Context,
	prompt string,
	opts inference.Options,
) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.calls = append(f.calls, fakeCall{prompt: prompt, opts: opts})
	return f.reply, f.err
}

func (f *fakeLLM) lastPrompt() string {
	f.mu.Lock()
	defer f.mu.Unlock()

	if len(f.calls) == 0 {
		return ""
	}
	return f.calls[len(f.calls)-1].prompt
}
