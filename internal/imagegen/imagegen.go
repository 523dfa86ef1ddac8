// Package imagegen generates agent profile pictures through the Hugging
// Face inference API. Where the image bytes go is the caller's choice via
// the Sink; the default writes files to a local directory.
package imagegen

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/kotoba-ai/kotoba/internal/llm"
)

// Sentinel errors for image generation.
var (
	// ErrMissingAPIKey indicates no Hugging Face API key was configured.
	ErrMissingAPIKey = errors.New("missing Hugging Face API key")

	// ErrImageGeneration indicates a non-retryable inference failure.
	ErrImageGeneration = errors.New("image generation failed")
)

// DefaultBaseURL is the Hugging Face inference endpoint.
const DefaultBaseURL = "https://api-inference.huggingface.co/models"

// DefaultModel is the default text-to-image model.
const DefaultModel = "stabilityai/stable-diffusion-xl-base-1.0"

// DefaultTimeout bounds a single inference attempt. Image models are slow;
// this is deliberately longer than text generation timeouts.
const DefaultTimeout = 120 * time.Second

// Sink receives generated image bytes and returns a reference to where
// they were stored (a path, URL, or object key).
type Sink func(ctx context.Context, name string, r io.Reader) (string, error)

// FileSink returns a Sink that writes images into dir, creating it if
// needed.
func FileSink(dir string) Sink {
	return func(_ context.Context, name string, r io.Reader) (string, error) {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return "", fmt.Errorf("creating image directory: %w", err)
		}
		path := filepath.Join(dir, name)
		f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o640) // #nosec G304 -- name is generated, not user input
		if err != nil {
			return "", fmt.Errorf("creating image file: %w", err)
		}
		defer f.Close()
		if _, err := io.Copy(f, r); err != nil {
			return "", fmt.Errorf("writing image file: %w", err)
		}
		return path, nil
	}
}

// Config contains the parameters for an image client.
type Config struct {
	APIKey     string
	Model      string // empty = DefaultModel
	BaseURL    string // empty = DefaultBaseURL
	Sink       Sink
	HTTPClient *http.Client
	Timeout    time.Duration
	Retry      llm.RetryConfig
	Logger     *slog.Logger
}

// Client generates images. It shares the system's retry classification:
// transient statuses are retried with backoff, everything else fails fast.
type Client struct {
	apiKey  string
	model   string
	baseURL string
	sink    Sink
	http    *http.Client
	timeout time.Duration
	retry   llm.RetryConfig
	logger  *slog.Logger
}

// New creates an image client.
func New(cfg Config) (*Client, error) {
	if cfg.APIKey == "" {
		return nil, ErrMissingAPIKey
	}
	if cfg.Sink == nil {
		return nil, errors.New("sink is required")
	}
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{}
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.Retry.MaxRetries == 0 {
		cfg.Retry = llm.DefaultRetryConfig()
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Client{
		apiKey:  cfg.APIKey,
		model:   cfg.Model,
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		sink:    cfg.Sink,
		http:    cfg.HTTPClient,
		timeout: cfg.Timeout,
		retry:   cfg.Retry,
		logger:  cfg.Logger,
	}, nil
}

// Generate produces one image for the prompt and hands it to the sink,
// returning the sink's reference.
func (c *Client) Generate(ctx context.Context, prompt string) (string, error) {
	prompt = strings.TrimSpace(prompt)
	if prompt == "" {
		return "", fmt.Errorf("%w: empty prompt", ErrImageGeneration)
	}

	img, err := c.infer(ctx, prompt)
	if err != nil {
		return "", err
	}

	name := uuid.New().String() + ".png"
	ref, err := c.sink(ctx, name, bytes.NewReader(img))
	if err != nil {
		return "", fmt.Errorf("storing image: %w", err)
	}

	c.logger.Info("generated image", "model", c.model, "bytes", len(img), "ref", ref)
	return ref, nil
}

// infer calls the inference endpoint with bounded retry on transient
// statuses.
func (c *Client) infer(ctx context.Context, prompt string) ([]byte, error) {
	url := c.baseURL + "/" + c.model
	body := fmt.Sprintf(`{"inputs": %q}`, prompt)

	delay := c.retry.InitialInterval
	var lastErr error
	for attempt := 0; attempt <= c.retry.MaxRetries; attempt++ {
		img, retryable, err := c.post(ctx, url, body)
		if err == nil {
			return img, nil
		}
		lastErr = err
		if !retryable {
			return nil, fmt.Errorf("%w: %w", ErrImageGeneration, err)
		}
		if attempt == c.retry.MaxRetries {
			break
		}

		c.logger.Debug("retrying image generation", "attempt", attempt+1, "delay", delay, "error", err)
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("context canceled during retry: %w", ctx.Err())
		case <-time.After(delay):
			delay = min(delay*2, c.retry.MaxInterval)
		}
	}
	return nil, fmt.Errorf("%w: %w", llm.ErrRetryBudgetExceeded, lastErr)
}

// post performs one inference attempt. The second return reports whether
// the failure is worth retrying.
func (c *Client) post(ctx context.Context, url, body string) ([]byte, bool, error) {
	callCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(callCtx, http.MethodPost, url, strings.NewReader(body))
	if err != nil {
		return nil, false, fmt.Errorf("building request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		// Transport errors (resets, timeouts) are transient.
		return nil, true, fmt.Errorf("calling inference API: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		err := fmt.Errorf("inference API returned %d: %s", resp.StatusCode, strings.TrimSpace(string(detail)))
		return nil, llm.RetryableStatus(resp.StatusCode), err
	}

	img, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, true, fmt.Errorf("reading image bytes: %w", err)
	}
	if len(img) == 0 {
		return nil, false, errors.New("inference API returned an empty image")
	}
	return img, false, nil
}
