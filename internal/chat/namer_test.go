package chat

import (
	"context"
	"errors"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kotoba-ai/kotoba/internal/log"
)

func TestNamer_Name(t *testing.T) {
	gen := &mockGenerator{responses: map[string]string{
		PromptChatName: `"Shipping time question"`,
	}}
	n := NewNamer(gen, log.NewNop())

	name := n.Name(context.Background(), "How long does shipping take?", "3-5 days.")
	assert.Equal(t, "Shipping time question", name, "quotes must be stripped")

	call, ok := gen.callFor(PromptChatName)
	require.True(t, ok)
	assert.Equal(t, "How long does shipping take?", call.vars["Input"])
	assert.Equal(t, "3-5 days.", call.vars["Answer"])
}

func TestNamer_FallsBackToInputOnError(t *testing.T) {
	gen := &mockGenerator{errs: map[string]error{
		PromptChatName: errors.New("model unavailable"),
	}}
	n := NewNamer(gen, log.NewNop())

	name := n.Name(context.Background(), "Where is my order?", "It shipped.")
	assert.Equal(t, "Where is my order?", name)
}

func TestNamer_TruncatesLongNames(t *testing.T) {
	gen := &mockGenerator{responses: map[string]string{
		PromptChatName: strings.Repeat("word ", 50),
	}}
	n := NewNamer(gen, log.NewNop())

	name := n.Name(context.Background(), "input", "answer")
	assert.LessOrEqual(t, utf8.RuneCountInString(name), 80)
	assert.NotEmpty(t, name)
}

func TestNamer_CollapsesWhitespace(t *testing.T) {
	gen := &mockGenerator{responses: map[string]string{
		PromptChatName: "A  title\nacross   lines",
	}}
	n := NewNamer(gen, log.NewNop())

	assert.Equal(t, "A title across lines", n.Name(context.Background(), "i", "a"))
}

func TestNamer_EmptyModelOutputFallsBack(t *testing.T) {
	gen := &mockGenerator{responses: map[string]string{PromptChatName: "  \n "}}
	n := NewNamer(gen, log.NewNop())

	assert.Equal(t, "hello", n.Name(context.Background(), "hello", "hi"))
}
