package app

import (
	"encoding/json"
	gosync "sync"
	"time"

	"github.com/lightningnetwork/lnd/fn/v2"
)

// Status reports the health of the mail source and the model server as
// last observed, and when the last sync run finished. Flags are None until
// they were checked at least once.
type Status struct {
	Authenticated      fn.Option[bool]
	InferenceAvailable fn.Option[bool]
	LastSync           fn.Option[time.Time]

	// Account is the authenticated mailbox, when known.
	Account string
}

type statusJSON struct {
	Authenticated      *bool      `json:"authenticated"`
	InferenceAvailable *bool      `json:"inference_available"`
	LastSync           *time.Time `json:"last_sync"`
	Account            string     `json:"account,omitempty"`
}

func optionPtr[T any](o fn.Option[T]) *T {
	var out *T
	o.WhenSome(func(v T) {
		out = &v
	})
	return out
}

// MarshalJSON renders unset flags as null.
func (s Status) MarshalJSON() ([]byte, error) {
	return json.Marshal(statusJSON{
		Authenticated:      optionPtr(s.Authenticated),
		InferenceAvailable: optionPtr(s.InferenceAvailable),
		LastSync:           optionPtr(s.LastSync),
		Account:            s.Account,
	})
}

// statusTracker is the process-wide record of the health flags. It is
// written only by status checks and sync runs.
type statusTracker struct {
	mu        gosync.RWMutex
	auth      fn.Option[bool]
	inference fn.Option[bool]
	account   string
}

func (t *statusTracker) setAuth(ok bool, account string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.auth = fn.Some(ok)
	if ok && account != "" {
		t.account = account
	}
}

func (t *statusTracker) setInference(ok bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.inference = fn.Some(ok)
}

func (t *statusTracker) snapshot() Status {
	t.mu.RLock()
	defer t.mu.RUnlock()

	return Status{
		Authenticated:      t.auth,
		InferenceAvailable: t.inference,
		LastSync:           fn.None[time.Time](),
		Account:            t.account,
	}
}
