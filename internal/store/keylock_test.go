package store

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestKeyedMutexSerializesSameKey(t *testing.T) {
	var (
		k       KeyedMutex
		active  atomic.Int32
		maxSeen atomic.Int32
		wg      sync.WaitGroup
	)

	for range 10 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock := k.Lock("id")
			defer unlock()

			n := active.Add(1)
			if n > maxSeen.Load() {
				maxSeen.Store(n)
			}
			time.Sleep(time.Millisecond)
			active.Add(-1)
		}()
	}
	wg.Wait()

	require.EqualValues(t, 1, maxSeen.Load())
	require.Empty(t, k.locks)
}

func TestKeyedMutexIndependentKeys(t *testing.T) {
	var k KeyedMutex

	unlockA := k.Lock("a")
	done := make(chan struct{})
	go func() {
		unlock := k.Lock("b")
		unlock()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("lock on b blocked behind a")
	}
	unlockA()
}

func TestUpsertQueryShape(t *testing.T) {
	q := sqliteDialect.upsertQuery()
	require.Contains(t, q, "ON CONFLICT (id) DO UPDATE SET")
	require.Contains(t, q, "has_reply = MAX(messages.has_reply, excluded.has_reply)")
	require.NotContains(t, q, "id = excluded.id")

	pg := postgresDialect.upsertQuery()
	require.Contains(t, pg, "$18")
	require.NotContains(t, pg, "?")
}
