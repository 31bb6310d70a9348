package inference

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) (*Client, *httptest.Server) {
	t.Helper()

	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	cfg := DefaultConfig()
	cfg.BaseURL = srv.URL
	cfg.RetryBaseDelay = time.Millisecond
	cfg.Timeout = 2 * time.Second

	return New(cfg, nil), srv
}

func TestCompleteSendsRequest(t *testing.T) {
	var got generateRequest
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/generate", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_, _ = w.Write([]byte(`{"model":"phi3:mini","response":"  hello  ","done":true}`))
	})

	text, err := c.Complete(context.Background(), "say hi", Options{
		System:    "be brief",
		MaxTokens: 64,
	})
	require.NoError(t, err)
	require.Equal(t, "hello", text)

	require.Equal(t, "phi3:mini", got.Model)
	require.Equal(t, "say hi", got.Prompt)
	require.Equal(t, "be brief", got.System)
	require.False(t, got.Stream)
	require.Equal(t, 64, got.Options.NumPredict)
	require.InDelta(t, 0.3, got.Options.Temperature, 1e-9)
	require.InDelta(t, 0.9, got.Options.TopP, 1e-9)
}

func TestCompleteRetriesTransientFailures(t *testing.T) {
	var calls atomic.Int32
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte("loading model"))
			return
		}
		_, _ = w.Write([]byte(`{"response":"ok","done":true}`))
	})

	text, err := c.Complete(context.Background(), "p", Options{})
	require.NoError(t, err)
	require.Equal(t, "ok", text)
	require.EqualValues(t, 3, calls.Load())
}

func TestCompleteGivesUpAfterRetries(t *testing.T) {
	var calls atomic.Int32
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	})

	_, err := c.Complete(context.Background(), "p", Options{})
	require.ErrorIs(t, err, ErrUnavailable)
	require.EqualValues(t, DefaultMaxRetries+1, calls.Load())
}

func TestCompleteDoesNotRetryModelError(t *testing.T) {
	var calls atomic.Int32
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"error":"model 'phi3:mini' not found"}`))
	})

	_, err := c.Complete(context.Background(), "p", Options{})

	var modelErr *ModelError
	require.ErrorAs(t, err, &modelErr)
	require.Equal(t, http.StatusNotFound, modelErr.StatusCode)
	require.Contains(t, modelErr.Message, "not found")
	require.EqualValues(t, 1, calls.Load())
}

func TestCompleteConnectionRefused(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	cfg := DefaultConfig()
	cfg.BaseURL = url
	cfg.RetryBaseDelay = time.Millisecond
	c := New(cfg, nil)

	_, err := c.Complete(context.Background(), "p", Options{})
	require.ErrorIs(t, err, ErrUnavailable)
}

func TestCompletePerAttemptTimeout(t *testing.T) {
	var calls atomic.Int32
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		select {
		case <-r.Context().Done():
		case <-time.After(time.Second):
		}
	})

	_, err := c.Complete(context.Background(), "p", Options{
		Timeout: 20 * time.Millisecond,
	})
	require.ErrorIs(t, err, ErrUnavailable)
	require.EqualValues(t, DefaultMaxRetries+1, calls.Load())
}

func TestCompleteMalformed(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"done":true}`))
	})

	_, err := c.Complete(context.Background(), "p", Options{})
	require.ErrorIs(t, err, ErrMalformedResponse)
}

func TestIsAvailable(t *testing.T) {
	tests := []struct {
		name   string
		model  string
		status int
		body   string
		want   bool
	}{
		{
			name:   "model installed",
			model:  "phi3:mini",
			status: http.StatusOK,
			body:   `{"models":[{"name":"llama3:latest"},{"name":"phi3:mini"}]}`,
			want:   true,
		},
		{
			name:   "untagged model matches latest",
			model:  "llama3",
			status: http.StatusOK,
			body:   `{"models":[{"name":"llama3:latest"}]}`,
			want:   true,
		},
		{
			name:   "model missing",
			model:  "phi3:mini",
			status: http.StatusOK,
			body:   `{"models":[{"name":"phi3:medium"}]}`,
			want:   false,
		},
		{
			name:   "server error",
			model:  "phi3:mini",
			status: http.StatusInternalServerError,
			body:   `oops`,
			want:   false,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(
				func(w http.ResponseWriter, r *http.Request) {
					require.Equal(t, "/api/tags", r.URL.Path)
					w.WriteHeader(tc.status)
					_, _ = w.Write([]byte(tc.body))
				},
			))
			defer srv.Close()

			cfg := DefaultConfig()
			cfg.BaseURL = srv.URL
			cfg.Model = tc.model

			require.Equal(t, tc.want, New(cfg, nil).IsAvailable(context.Background()))
		})
	}
}

func TestIsAvailableUnreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	cfg := DefaultConfig()
	cfg.BaseURL = url
	require.False(t, New(cfg, nil).IsAvailable(context.Background()))
}

func TestTruncateKeepsRunesWhole(t *testing.T) {
	require.Equal(t, "short", truncate("short", 10))
	require.Equal(t, "ab...", truncate("abcdef", 2))

	// "é" is two bytes; a cut after byte 2 would split it.
	require.Equal(t, "a...", truncate("aéb", 2))

	rapid.Check(t, func(t *rapid.T) {
		s := rapid.String().Draw(t, "s")
		n := rapid.IntRange(0, 64).Draw(t, "n")

		got := truncate(s, n)
		if !utf8.ValidString(got) {
			t.Fatalf("invalid UTF-8 in %q", got)
		}
		if len(s) > n {
			cut := strings.TrimSuffix(got, "...")
			if len(cut) > n || !strings.HasPrefix(s, cut) {
				t.Fatalf("truncate(%q, %d) = %q", s, n, got)
			}
		}
	})
}
