package blog

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/kotoba-ai/kotoba/internal/log"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// mockGenerator returns canned text per prompt and tracks concurrency.
type mockGenerator struct {
	outline    string
	sectionErr error

	inFlight    atomic.Int32
	maxInFlight atomic.Int32
	calls       atomic.Int32
}

func (m *mockGenerator) Generate(_ context.Context, promptName string, vars map[string]any) (string, error) {
	if promptName == PromptOutline {
		return m.outline, nil
	}

	cur := m.inFlight.Add(1)
	defer m.inFlight.Add(-1)
	for {
		peak := m.maxInFlight.Load()
		if cur <= peak || m.maxInFlight.CompareAndSwap(peak, cur) {
			break
		}
	}
	m.calls.Add(1)
	time.Sleep(5 * time.Millisecond) // let workers overlap

	if m.sectionErr != nil {
		return "", m.sectionErr
	}
	return fmt.Sprintf("Content for %v.", vars["Subheading"]), nil
}

func TestGenerate_OrderPreserved(t *testing.T) {
	gen := &mockGenerator{outline: "Intro\nMiddle\nEnd"}
	g, err := NewGenerator(gen, 4, log.NewNop())
	require.NoError(t, err)

	post, err := g.Generate(context.Background(), "A Post About Things")
	require.NoError(t, err)

	require.Len(t, post.Sections, 3)
	assert.Equal(t, "Intro", post.Sections[0].Subheading)
	assert.Equal(t, "Middle", post.Sections[1].Subheading)
	assert.Equal(t, "End", post.Sections[2].Subheading)
	assert.Equal(t, "Content for Intro.", post.Sections[0].Content)
	assert.Equal(t, "Content for End.", post.Sections[2].Content)
}

func TestGenerate_BoundsConcurrency(t *testing.T) {
	var outline string
	for i := 0; i < 12; i++ {
		outline += fmt.Sprintf("Section %d\n", i+1)
	}
	gen := &mockGenerator{outline: outline}
	g, err := NewGenerator(gen, 2, log.NewNop())
	require.NoError(t, err)

	_, err = g.Generate(context.Background(), "Heading")
	require.NoError(t, err)

	assert.Equal(t, int32(12), gen.calls.Load())
	assert.LessOrEqual(t, gen.maxInFlight.Load(), int32(2),
		"section generation must respect the concurrency limit")
}

func TestGenerate_SectionFailureFailsPost(t *testing.T) {
	gen := &mockGenerator{outline: "One\nTwo", sectionErr: errors.New("model unavailable")}
	g, err := NewGenerator(gen, 4, log.NewNop())
	require.NoError(t, err)

	_, err = g.Generate(context.Background(), "Heading")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "generating section")
}

func TestGenerate_EmptyHeading(t *testing.T) {
	g, err := NewGenerator(&mockGenerator{}, 4, log.NewNop())
	require.NoError(t, err)

	_, err = g.Generate(context.Background(), "   ")
	assert.ErrorIs(t, err, ErrEmptyHeading)
}

func TestGenerate_EmptyOutline(t *testing.T) {
	g, err := NewGenerator(&mockGenerator{outline: "\n  \n"}, 4, log.NewNop())
	require.NoError(t, err)

	_, err = g.Generate(context.Background(), "Heading")
	assert.Error(t, err)
}

func TestParseOutline_StripsBulletsAndNumbering(t *testing.T) {
	outline := "1. First Section\n- Second Section\n* Third Section\n2) \"Fourth Section\"\n\n"
	subs := parseOutline(outline)
	assert.Equal(t, []string{"First Section", "Second Section", "Third Section", "Fourth Section"}, subs)
}

func TestPost_Markdown(t *testing.T) {
	post := &Post{
		Heading: "Title",
		Sections: []Section{
			{Subheading: "First", Content: "Alpha."},
			{Subheading: "Second", Content: "Beta."},
		},
	}
	want := "# Title\n\n## First\n\nAlpha.\n\n## Second\n\nBeta.\n"
	assert.Equal(t, want, post.Markdown())
}
