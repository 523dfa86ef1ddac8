// Package chat implements the staged response pipeline.
//
// Every turn flows through the same stages in order: translate the input to
// English, compact it, retrieve grounding material when the agent has a
// knowledge store, answer in persona, detect the language of the original
// input, and localize the answer back when it was not English. Each stage
// sees the typed output of the previous one; the first failure aborts the
// turn.
package chat

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/kotoba-ai/kotoba/internal/llm"
)

// ErrEmptyInput indicates the user message was empty or whitespace.
var ErrEmptyInput = errors.New("empty input")

// ContextRetriever supplies grounding material for a store and query.
// Satisfied by *knowledge.Retriever.
type ContextRetriever interface {
	Context(ctx context.Context, store, query string) (string, error)
}

// Request carries one user turn through the pipeline.
type Request struct {
	Input     string // raw user message, any language
	AgentName string // display name; introduced at most once, never translated
	Persona   string // agent persona, prepended to answer prompts
	History   string // formatted transcript of prior turns, may be empty

	// StoreName and HasKnowledge control the retrieval stage. When
	// HasKnowledge is false the agent answers from persona and history
	// alone and StoreName is ignored.
	StoreName    string
	HasKnowledge bool
}

// Result is the pipeline's output plus the intermediate values callers log
// or persist.
type Result struct {
	Answer    string // final answer, localized to the user's language
	English   string // answer before localization
	Question  string // compacted English form of the input
	Context   string // retrieved grounding material, empty without a store
	Language  string // detected language of the original input
	Elapsed   time.Duration
	StagesRun []string
}

// Pipeline runs the response stages. It is stateless and safe for
// concurrent use.
type Pipeline struct {
	gen       llm.Generator
	retriever ContextRetriever
	logger    *slog.Logger
}

// NewPipeline creates a pipeline. retriever may not be nil even for
// agents without stores; it is only invoked when a request carries
// HasKnowledge.
func NewPipeline(gen llm.Generator, retriever ContextRetriever, logger *slog.Logger) (*Pipeline, error) {
	if gen == nil {
		return nil, errors.New("generator is required")
	}
	if retriever == nil {
		return nil, errors.New("retriever is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Pipeline{gen: gen, retriever: retriever, logger: logger}, nil
}

// state is the typed context handed from stage to stage.
type state struct {
	req Request

	translated string
	question   string
	context    string
	english    string
	language   string
	answer     string

	stagesRun []string
}

// stage is one named step of the pipeline.
type stage struct {
	name string
	run  func(ctx context.Context, st *state) error
}

// Respond runs one turn through every stage and returns the final answer.
func (p *Pipeline) Respond(ctx context.Context, req Request) (*Result, error) {
	input := strings.TrimSpace(req.Input)
	if input == "" {
		return nil, ErrEmptyInput
	}
	req.Input = input

	st := &state{req: req}
	stages := []stage{
		{name: "translate", run: p.translate},
		{name: "compact", run: p.compact},
		{name: "retrieve", run: p.retrieve},
		{name: "answer", run: p.answer},
		{name: "detect_language", run: p.detectLanguage},
		{name: "localize", run: p.localize},
	}

	start := time.Now()
	for _, s := range stages {
		if err := s.run(ctx, st); err != nil {
			return nil, fmt.Errorf("stage %s: %w", s.name, err)
		}
		st.stagesRun = append(st.stagesRun, s.name)
	}

	elapsed := time.Since(start)
	p.logger.Debug("pipeline completed",
		"stages", st.stagesRun,
		"language", st.language,
		"grounded", req.HasKnowledge,
		"elapsed", elapsed,
	)

	return &Result{
		Answer:    st.answer,
		English:   st.english,
		Question:  st.question,
		Context:   st.context,
		Language:  st.language,
		Elapsed:   elapsed,
		StagesRun: st.stagesRun,
	}, nil
}

func (p *Pipeline) translate(ctx context.Context, st *state) error {
	out, err := p.gen.Generate(ctx, PromptTranslate, map[string]any{"Input": st.req.Input})
	if err != nil {
		return err
	}
	st.translated = strings.TrimSpace(out)
	if st.translated == "" {
		st.translated = st.req.Input
	}
	return nil
}

func (p *Pipeline) compact(ctx context.Context, st *state) error {
	out, err := p.gen.Generate(ctx, PromptCompact, map[string]any{"Input": st.translated})
	if err != nil {
		return err
	}
	st.question = strings.TrimSpace(out)
	if st.question == "" {
		st.question = st.translated
	}
	return nil
}

// retrieve fills st.context from the agent's store. Agents without a store
// skip retrieval entirely; a provisioned-but-empty store yields an empty
// context and the grounded prompt declines on its own. A store the registry
// promised but the database no longer has fails the turn, so the caller
// learns the agent is broken instead of getting an ungrounded answer.
func (p *Pipeline) retrieve(ctx context.Context, st *state) error {
	if !st.req.HasKnowledge {
		return nil
	}
	docs, err := p.retriever.Context(ctx, st.req.StoreName, st.question)
	if err != nil {
		return err
	}
	st.context = docs
	return nil
}

// answer responds to the full normalized question; the compacted form is
// only a retrieval key and never reaches the answer prompts.
func (p *Pipeline) answer(ctx context.Context, st *state) error {
	var out string
	var err error
	if st.req.HasKnowledge {
		out, err = p.gen.Generate(ctx, PromptAnswerGrounded, map[string]any{
			"AgentName": st.req.AgentName,
			"Persona":   st.req.Persona,
			"Context":   st.context,
			"History":   st.req.History,
			"Question":  st.translated,
		})
	} else {
		out, err = p.gen.Generate(ctx, PromptAnswerGeneral, map[string]any{
			"AgentName": st.req.AgentName,
			"Persona":   st.req.Persona,
			"History":   st.req.History,
			"Question":  st.translated,
		})
	}
	if err != nil {
		return err
	}
	st.english = strings.TrimSpace(out)
	return nil
}

// detectLanguage classifies the ORIGINAL input, not the translation, so the
// answer returns in the language the user actually wrote.
func (p *Pipeline) detectLanguage(ctx context.Context, st *state) error {
	out, err := p.gen.Generate(ctx, PromptDetectLanguage, map[string]any{"Input": st.req.Input})
	if err != nil {
		return err
	}
	st.language = strings.TrimSpace(out)
	return nil
}

func (p *Pipeline) localize(ctx context.Context, st *state) error {
	if isEnglish(st.language) {
		st.answer = st.english
		return nil
	}
	out, err := p.gen.Generate(ctx, PromptLocalize, map[string]any{
		"AgentName": st.req.AgentName,
		"Language":  st.language,
		"Answer":    st.english,
	})
	if err != nil {
		return err
	}
	st.answer = strings.TrimSpace(out)
	if st.answer == "" {
		st.answer = st.english
	}
	return nil
}

func isEnglish(language string) bool {
	l := strings.ToLower(strings.TrimSpace(language))
	return l == "" || l == "english" || strings.HasPrefix(l, "english ")
}
