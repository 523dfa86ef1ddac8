// Package llm provides the text generation and embedding capabilities used
// by the conversation pipeline, chat naming, blog generation, and ingestion.
//
// All external model calls share one policy: a per-call deadline, proactive
// rate limiting, and bounded exponential-backoff retry for transient
// failures. Callers never talk to the model provider directly.
package llm

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"text/template"
	"time"

	"github.com/firebase/genkit/go/ai"
	"github.com/firebase/genkit/go/genkit"
	"golang.org/x/time/rate"
)

// Sentinel errors for generation operations.
var (
	// ErrGenerationFailed indicates a non-retryable model failure.
	ErrGenerationFailed = errors.New("generation failed")

	// ErrRetryBudgetExceeded indicates a transient failure persisted past
	// the retry budget. The last provider error is wrapped alongside.
	ErrRetryBudgetExceeded = errors.New("retry budget exceeded")

	// ErrUnknownPrompt indicates the prompt template was never registered.
	ErrUnknownPrompt = errors.New("unknown prompt")

	// ErrDuplicatePrompt indicates a prompt name was registered twice.
	ErrDuplicatePrompt = errors.New("duplicate prompt")
)

// Generator is the text generation capability consumed by the pipeline and
// its collaborators: render the named prompt template with vars and return
// the model's text.
type Generator interface {
	Generate(ctx context.Context, promptName string, vars map[string]any) (string, error)
}

// Config contains all required parameters for the generation client.
type Config struct {
	Genkit    *genkit.Genkit
	ModelName string // Provider-qualified model name (e.g., "googleai/gemini-2.5-flash")
	Logger    *slog.Logger

	// Timeout bounds each generation call, retries included per attempt.
	// Zero means DefaultGenerateTimeout.
	Timeout time.Duration

	// Retry settings (zero-value uses defaults).
	Retry RetryConfig

	// RateLimiter throttles attempts proactively (nil = default limiter).
	RateLimiter *rate.Limiter
}

// DefaultGenerateTimeout bounds a single generation attempt.
const DefaultGenerateTimeout = 30 * time.Second

// Client executes registered prompt templates through Genkit.
//
// Client is safe for concurrent use by multiple goroutines once all prompts
// are registered; RegisterPrompt is expected to run during startup only.
type Client struct {
	g         *genkit.Genkit
	modelName string
	timeout   time.Duration
	retry     RetryConfig
	limiter   *rate.Limiter
	logger    *slog.Logger

	mu      sync.RWMutex
	prompts map[string]*template.Template
}

// NewClient creates a generation client.
func NewClient(cfg Config) (*Client, error) {
	if cfg.Genkit == nil {
		return nil, errors.New("genkit instance is required")
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultGenerateTimeout
	}

	retryCfg := cfg.Retry
	if retryCfg.MaxRetries == 0 {
		retryCfg = DefaultRetryConfig()
	}

	limiter := cfg.RateLimiter
	if limiter == nil {
		limiter = rate.NewLimiter(10, 30)
	}

	return &Client{
		g:         cfg.Genkit,
		modelName: cfg.ModelName,
		timeout:   timeout,
		retry:     retryCfg,
		limiter:   limiter,
		logger:    cfg.Logger,
		prompts:   make(map[string]*template.Template),
	}, nil
}

// RegisterPrompt parses and stores a prompt template under name.
// Templates use text/template syntax; missing variables are an error at
// execution time, not silently empty.
func (c *Client) RegisterPrompt(name, text string) error {
	tmpl, err := template.New(name).Option("missingkey=error").Parse(text)
	if err != nil {
		return fmt.Errorf("parsing prompt %q: %w", name, err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if _, exists := c.prompts[name]; exists {
		return fmt.Errorf("%w: %q", ErrDuplicatePrompt, name)
	}
	c.prompts[name] = tmpl
	return nil
}

// Generate renders the named prompt with vars and executes it, applying the
// shared deadline, rate limit, and retry policy.
func (c *Client) Generate(ctx context.Context, promptName string, vars map[string]any) (string, error) {
	c.mu.RLock()
	tmpl, ok := c.prompts[promptName]
	c.mu.RUnlock()
	if !ok {
		return "", fmt.Errorf("%w: %q", ErrUnknownPrompt, promptName)
	}

	var rendered bytes.Buffer
	if err := tmpl.Execute(&rendered, vars); err != nil {
		return "", fmt.Errorf("rendering prompt %q: %w", promptName, err)
	}

	opts := []ai.GenerateOption{ai.WithPrompt(rendered.String())}
	if c.modelName != "" {
		opts = append(opts, ai.WithModelName(c.modelName))
	}

	resp, err := withRetry(ctx, c.retry, c.limiter, c.logger, promptName,
		func(ctx context.Context) (*ai.ModelResponse, error) {
			callCtx, cancel := context.WithTimeout(ctx, c.timeout)
			defer cancel()
			return genkit.Generate(callCtx, c.g, opts...)
		})
	if err != nil {
		return "", err
	}

	return resp.Text(), nil
}
