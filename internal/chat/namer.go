package chat

import (
	"context"
	"log/slog"
	"strings"
	"unicode/utf8"

	"github.com/kotoba-ai/kotoba/internal/llm"
)

// maxChatNameRunes caps generated chat names.
const maxChatNameRunes = 80

// Namer generates a chat name from the first exchange of a conversation.
// Naming is best effort: a model failure falls back to the truncated user
// input instead of failing the turn.
type Namer struct {
	gen    llm.Generator
	logger *slog.Logger
}

// NewNamer creates a chat namer.
func NewNamer(gen llm.Generator, logger *slog.Logger) *Namer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Namer{gen: gen, logger: logger}
}

// Name produces a short title for a chat that opened with the given
// exchange. The result is a single line of at most 80 runes and is never
// empty for non-empty input.
func (n *Namer) Name(ctx context.Context, input, answer string) string {
	out, err := n.gen.Generate(ctx, PromptChatName, map[string]any{
		"Input":  input,
		"Answer": answer,
	})
	if err != nil {
		n.logger.Warn("chat name generation failed, using input", "error", err)
		return sanitizeName(input)
	}
	name := sanitizeName(out)
	if name == "" {
		return sanitizeName(input)
	}
	return name
}

// sanitizeName collapses the text to one trimmed line, strips surrounding
// quotes, and truncates to the rune cap.
func sanitizeName(s string) string {
	s = strings.ReplaceAll(s, "\n", " ")
	s = strings.Join(strings.Fields(s), " ")
	s = strings.Trim(s, `"'`)
	if utf8.RuneCountInString(s) > maxChatNameRunes {
		runes := []rune(s)
		s = string(runes[:maxChatNameRunes])
	}
	return s
}
