package llm

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/firebase/genkit/go/genkit"
	"github.com/kotoba-ai/kotoba/internal/log"
)

func newTestClient(t *testing.T) *Client {
	t.Helper()
	c, err := NewClient(Config{
		Genkit: &genkit.Genkit{},
		Logger: log.NewNop(),
	})
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	return c
}

func TestNewClient_RequiresGenkit(t *testing.T) {
	if _, err := NewClient(Config{}); err == nil {
		t.Fatal("expected error for nil genkit instance")
	}
}

func TestRegisterPrompt_Duplicate(t *testing.T) {
	c := newTestClient(t)

	if err := c.RegisterPrompt("greet", "Hello {{.Name}}"); err != nil {
		t.Fatalf("first register: %v", err)
	}
	err := c.RegisterPrompt("greet", "Hi {{.Name}}")
	if !errors.Is(err, ErrDuplicatePrompt) {
		t.Errorf("expected ErrDuplicatePrompt, got %v", err)
	}
}

func TestRegisterPrompt_ParseError(t *testing.T) {
	c := newTestClient(t)

	if err := c.RegisterPrompt("broken", "Hello {{.Name"); err == nil {
		t.Fatal("expected parse error for malformed template")
	}
}

func TestGenerate_UnknownPrompt(t *testing.T) {
	c := newTestClient(t)

	_, err := c.Generate(context.Background(), "nonexistent", nil)
	if !errors.Is(err, ErrUnknownPrompt) {
		t.Errorf("expected ErrUnknownPrompt, got %v", err)
	}
}

func TestGenerate_MissingVariable(t *testing.T) {
	c := newTestClient(t)

	if err := c.RegisterPrompt("greet", "Hello {{.Name}}"); err != nil {
		t.Fatalf("register: %v", err)
	}

	// Missing variables must fail before any model call is attempted.
	_, err := c.Generate(context.Background(), "greet", map[string]any{"Wrong": "x"})
	if err == nil {
		t.Fatal("expected error for missing template variable")
	}
	if !strings.Contains(err.Error(), "greet") {
		t.Errorf("error should name the prompt: %v", err)
	}
}
