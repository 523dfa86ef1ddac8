// Package blog generates long-form posts: an outline of subheadings for a
// heading, then section content for each subheading, fanned out with a
// bounded worker group.
package blog

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/kotoba-ai/kotoba/internal/llm"
)

// Prompt template names registered by RegisterPrompts.
const (
	PromptOutline = "blog_outline"
	PromptSection = "blog_section"
)

// DefaultMaxConcurrency bounds concurrent section generation. Each section
// is one model call; unbounded fan-out trips provider rate limits.
const DefaultMaxConcurrency = 4

// ErrEmptyHeading indicates the post heading was empty or whitespace.
var ErrEmptyHeading = errors.New("empty heading")

const outlinePrompt = `Write an outline for a blog post titled "{{.Heading}}".
Return between four and six section subheadings, one per line.
Return only the subheadings, with no numbering and no extra text.`

const sectionPrompt = `Write the body of one section of a blog post titled "{{.Heading}}".
The section's subheading is "{{.Subheading}}".
Write two to four paragraphs of engaging, factual prose.
Return only the section text, without repeating the subheading.`

// Section is one generated part of a post.
type Section struct {
	Subheading string
	Content    string
}

// Post is a fully generated blog post. Sections appear in outline order
// regardless of generation order.
type Post struct {
	Heading  string
	Sections []Section
	Elapsed  time.Duration
}

// Generator produces blog posts. It is stateless and safe for concurrent
// use.
type Generator struct {
	gen            llm.Generator
	maxConcurrency int
	logger         *slog.Logger
}

// NewGenerator creates a blog generator. maxConcurrency <= 0 uses
// DefaultMaxConcurrency.
func NewGenerator(gen llm.Generator, maxConcurrency int, logger *slog.Logger) (*Generator, error) {
	if gen == nil {
		return nil, errors.New("generator is required")
	}
	if maxConcurrency <= 0 {
		maxConcurrency = DefaultMaxConcurrency
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Generator{gen: gen, maxConcurrency: maxConcurrency, logger: logger}, nil
}

// RegisterPrompts installs the blog templates on the client.
func RegisterPrompts(c *llm.Client) error {
	if err := c.RegisterPrompt(PromptOutline, outlinePrompt); err != nil {
		return err
	}
	return c.RegisterPrompt(PromptSection, sectionPrompt)
}

// Generate writes a full post for heading. Section generation runs
// concurrently but a single failed section fails the post; partial posts
// are never returned.
func (g *Generator) Generate(ctx context.Context, heading string) (*Post, error) {
	heading = strings.TrimSpace(heading)
	if heading == "" {
		return nil, ErrEmptyHeading
	}

	start := time.Now()

	outline, err := g.gen.Generate(ctx, PromptOutline, map[string]any{"Heading": heading})
	if err != nil {
		return nil, fmt.Errorf("generating outline: %w", err)
	}
	subheadings := parseOutline(outline)
	if len(subheadings) == 0 {
		return nil, fmt.Errorf("outline for %q produced no subheadings", heading)
	}

	sections := make([]Section, len(subheadings))
	eg, egCtx := errgroup.WithContext(ctx)
	eg.SetLimit(g.maxConcurrency)
	for i, sub := range subheadings {
		eg.Go(func() error {
			content, err := g.gen.Generate(egCtx, PromptSection, map[string]any{
				"Heading":    heading,
				"Subheading": sub,
			})
			if err != nil {
				return fmt.Errorf("generating section %q: %w", sub, err)
			}
			sections[i] = Section{Subheading: sub, Content: strings.TrimSpace(content)}
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return nil, err
	}

	post := &Post{Heading: heading, Sections: sections, Elapsed: time.Since(start)}
	g.logger.Info("generated blog post",
		"heading", heading,
		"sections", len(sections),
		"elapsed", post.Elapsed,
	)
	return post, nil
}

// Markdown renders the post as a Markdown document.
func (p *Post) Markdown() string {
	var b strings.Builder
	b.WriteString("# " + p.Heading + "\n")
	for _, s := range p.Sections {
		b.WriteString("\n## " + s.Subheading + "\n\n" + s.Content + "\n")
	}
	return b.String()
}

// parseOutline extracts subheadings from the model's outline: one per line,
// tolerating bullets and numbering.
func parseOutline(outline string) []string {
	var subheadings []string
	for _, line := range strings.Split(outline, "\n") {
		line = strings.TrimSpace(line)
		line = strings.TrimLeft(line, "-*0123456789. )")
		line = strings.TrimSpace(strings.Trim(line, `"`))
		if line != "" {
			subheadings = append(subheadings, line)
		}
	}
	return subheadings
}
