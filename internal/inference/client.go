package inference

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/rand/v2"
	"net/http"
	"strings"
	"time"
	"unicode/utf8"
)

const (
	// DefaultBaseURL is the address of a local Ollama server.
	DefaultBaseURL = "http://localhost:11434"

	// DefaultModel is the model used when none is configured.
	DefaultModel = "phi3:mini"

	// DefaultTimeout bounds a single generation attempt.
	DefaultTimeout = 30 * time.Second

	// DefaultHealthTimeout bounds a health check.
	DefaultHealthTimeout = 5 * time.Second

	// DefaultMaxRetries is the number of extra attempts after a transient
	// failure.
	DefaultMaxRetries = 2

	// DefaultMaxTokens caps generated output.
	DefaultMaxTokens = 512

	// DefaultTemperature keeps answers focused.
	DefaultTemperature = 0.3

	defaultTopP = 0.9

	// maxErrorBody bounds how much of an unstructured error body is kept.
	maxErrorBody = 512
)

var (
	// ErrUnavailable is returned when the server cannot be reached after
	// all retries.
	ErrUnavailable = errors.New("inference backend unavailable")

	// ErrMalformedResponse is returned when the server or the model
	// produce output that does not have the expected shape.
	ErrMalformedResponse = errors.New("malformed inference response")
)

// ModelError is a well-formed error reported by the server, such as an
// unknown model. It is never retried.
type ModelError struct {
	StatusCode int
	Message    string
}

func (e *ModelError) Error() string {
	return fmt.Sprintf("inference error (%d): %s", e.StatusCode, e.Message)
}

// Options tune one completion. Zero values fall back to the client's
// configuration.
type Options struct {
	Model       string
	System      string
	Timeout     time.Duration
	MaxTokens   int
	Temperature float64
}

// Config holds the client settings.
type Config struct {
	BaseURL       string
	Model         string
	Timeout       time.Duration
	HealthTimeout time.Duration
	MaxRetries    int
	MaxTokens     int
	Temperature   float64

	// RetryBaseDelay is the first backoff delay; it doubles per attempt.
	RetryBaseDelay time.Duration
}

// DefaultConfig returns a Config pointing at a local Ollama server.
func DefaultConfig() Config {
	return Config{
		BaseURL:        DefaultBaseURL,
		Model:          DefaultModel,
		Timeout:        DefaultTimeout,
		HealthTimeout:  DefaultHealthTimeout,
		MaxRetries:     DefaultMaxRetries,
		MaxTokens:      DefaultMaxTokens,
		Temperature:    DefaultTemperature,
		RetryBaseDelay: 500 * time.Millisecond,
	}
}

// generateRequest is the body of POST /api/generate.
type generateRequest struct {
	Model   string          `json:"model"`
	Prompt  string          `json:"prompt"`
	System  string          `json:"system,omitempty"`
	Stream  bool            `json:"stream"`
	Options generateOptions `json:"options"`
}

type generateOptions struct {
	Temperature float64 `json:"temperature"`
	TopP        float64 `json:"top_p"`
	NumPredict  int     `json:"num_predict,omitempty"`
}

// generateResponse is the non-streaming reply of POST /api/generate.
type generateResponse struct {
	Model    string  `json:"model"`
	Response *string `json:"response"`
	Done     bool    `json:"done"`
}

// errorResponse is the structured error body returned by the server.
type errorResponse struct {
	Error string `json:"error"`
}

// tagsResponse is the body of GET /api/tags.
type tagsResponse struct {
	Models []struct {
		Name  string `json:"name"`
		Model string `json:"model"`
	} `json:"models"`
}

// Client talks to an Ollama-compatible text completion server.
type Client struct {
	cfg    Config
	client *http.Client
	log    *slog.Logger
}

// New creates a client, filling unset fields of cfg with defaults.
func New(cfg Config, log *slog.Logger) *Client {
	def := DefaultConfig()
	if cfg.BaseURL == "" {
		cfg.BaseURL = def.BaseURL
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.Model == "" {
		cfg.Model = def.Model
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = def.Timeout
	}
	if cfg.HealthTimeout <= 0 {
		cfg.HealthTimeout = def.HealthTimeout
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = def.MaxTokens
	}
	if cfg.Temperature <= 0 {
		cfg.Temperature = def.Temperature
	}
	if cfg.RetryBaseDelay <= 0 {
		cfg.RetryBaseDelay = def.RetryBaseDelay
	}
	if log == nil {
		log = slog.Default()
	}

	return &Client{
		cfg:    cfg,
		client: &http.Client{},
		log:    log.With("component", "inference"),
	}
}

// Model returns the configured model name.
func (c *Client) Model() string {
	return c.cfg.Model
}

// Complete generates text for prompt. Each attempt runs under its own
// timeout; transient failures are retried with backoff up to the
// configured limit, while structured server errors fail immediately.
func (c *Client) Complete(
	ctx context.Context,
	prompt string,
	opts Options,
) (string, error) {
	reqBody := generateRequest{
		Model:  opts.Model,
		Prompt: prompt,
		System: opts.System,
		Stream: false,
		Options: generateOptions{
			Temperature: opts.Temperature,
			TopP:        defaultTopP,
			NumPredict:  opts.MaxTokens,
		},
	}
	if reqBody.Model == "" {
		reqBody.Model = c.cfg.Model
	}
	if reqBody.Options.Temperature <= 0 {
		reqBody.Options.Temperature = c.cfg.Temperature
	}
	if reqBody.Options.NumPredict <= 0 {
		reqBody.Options.NumPredict = c.cfg.MaxTokens
	}

	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = c.cfg.Timeout
	}

	bodyBytes, err := json.Marshal(reqBody)
	if err != nil {
		return "", fmt.Errorf("marshaling request: %w", err)
	}

	var lastErr error
	for attempt := 0; attempt <= c.cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			delay := retryDelay(c.cfg.RetryBaseDelay, attempt)
			c.log.DebugContext(ctx, "Retrying completion",
				"attempt", attempt, "delay", delay, "err", lastErr)

			select {
			case <-ctx.Done():
				return "", ctx.Err()
			case <-time.After(delay):
			}
		}

		text, err := c.generate(ctx, bodyBytes, timeout)
		if err == nil {
			return text, nil
		}
		if !isTransient(err) {
			return "", err
		}
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		lastErr = err
	}

	return "", fmt.Errorf("%w: %d attempts: %w",
		ErrUnavailable, c.cfg.MaxRetries+1, lastErr)
}

// transientError marks a failure worth retrying.
type transientError struct {
	err error
}

func (e *transientError) Error() string { return e.err.Error() }
func (e *transientError) Unwrap() error { return e.err }

func isTransient(err error) bool {
	var t *transientError
	return errors.As(err, &t)
}

// generate performs a single POST /api/generate attempt.
func (c *Client) generate(
	ctx context.Context,
	body []byte,
	timeout time.Duration,
) (string, error) {
	attemptCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(
		attemptCtx, http.MethodPost, c.cfg.BaseURL+"/api/generate",
		bytes.NewReader(body),
	)
	if err != nil {
		return "", fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		// Connection refused, resets and per-attempt timeouts.
		return "", &transientError{err: fmt.Errorf("sending request: %w", err)}
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", &transientError{err: fmt.Errorf("reading response: %w", err)}
	}

	if resp.StatusCode != http.StatusOK {
		var errResp errorResponse
		if json.Unmarshal(respBody, &errResp) == nil && errResp.Error != "" {
			return "", &ModelError{
				StatusCode: resp.StatusCode,
				Message:    errResp.Error,
			}
		}

		statusErr := fmt.Errorf("API error (status %d): %s",
			resp.StatusCode, truncate(string(respBody), maxErrorBody))
		switch resp.StatusCode {
		case http.StatusBadGateway, http.StatusServiceUnavailable,
			http.StatusGatewayTimeout, http.StatusTooManyRequests:

			return "", &transientError{err: statusErr}
		}
		return "", statusErr
	}

	var genResp generateResponse
	if err := json.Unmarshal(respBody, &genResp); err != nil {
		return "", fmt.Errorf("%w: decoding response: %v",
			ErrMalformedResponse, err)
	}
	if genResp.Response == nil {
		return "", fmt.Errorf("%w: missing response field", ErrMalformedResponse)
	}

	return strings.TrimSpace(*genResp.Response), nil
}

// IsAvailable reports whether the server is reachable and has the
// configured model installed.
func (c *Client) IsAvailable(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.HealthTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(
		ctx, http.MethodGet, c.cfg.BaseURL+"/api/tags", nil,
	)
	if err != nil {
		return false
	}

	resp, err := c.client.Do(req)
	if err != nil {
		c.log.DebugContext(ctx, "Inference health check failed", "err", err)
		return false
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return false
	}

	var tags tagsResponse
	if err := json.NewDecoder(resp.Body).Decode(&tags); err != nil {
		return false
	}

	for _, m := range tags.Models {
		if modelMatches(m.Name, c.cfg.Model) || modelMatches(m.Model, c.cfg.Model) {
			return true
		}
	}

	c.log.DebugContext(ctx, "Configured model not installed", "model", c.cfg.Model)
	return false
}

// modelMatches compares an installed model name with the configured one.
// "phi3" matches "phi3:latest", and "phi3:mini" matches only itself.
func modelMatches(installed, want string) bool {
	if installed == "" {
		return false
	}
	if installed == want {
		return true
	}
	if !strings.Contains(want, ":") {
		name, _, _ := strings.Cut(installed, ":")
		return name == want
	}
	return false
}

// retryDelay returns an exponential delay with up to 50% jitter.
func retryDelay(base time.Duration, attempt int) time.Duration {
	d := base << (attempt - 1)
	jitter := time.Duration(rand.Int64N(int64(d)/2 + 1))
	return d + jitter
}

// truncate cuts s to at most n bytes without splitting a rune.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n] + "..."
}
