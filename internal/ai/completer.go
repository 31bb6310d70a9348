package ai

import (
	"context"

	"github.com/nhle/inboxpilot/internal/inference"
)

// Completer produces text for a prompt. *inference.Client satisfies it.
type Completer interface {
	Complete(
		ctx context.Context,
		prompt string,
		opts inference.Options,
	) (string, error)
}
