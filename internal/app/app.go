// Package app wires the application together: configuration, database,
// model provider, stores, and the conversation pipeline.
//
// App is the container the CLI talks to. Setup builds it, Close releases
// it. The high-level operations (ChatWithAgent, Train, WriteBlog) live
// here because they span multiple components.
package app

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"github.com/firebase/genkit/go/genkit"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/kotoba-ai/kotoba/internal/agent"
	"github.com/kotoba-ai/kotoba/internal/blog"
	"github.com/kotoba-ai/kotoba/internal/chat"
	"github.com/kotoba-ai/kotoba/internal/config"
	"github.com/kotoba-ai/kotoba/internal/history"
	"github.com/kotoba-ai/kotoba/internal/imagegen"
	"github.com/kotoba-ai/kotoba/internal/ingest"
	"github.com/kotoba-ai/kotoba/internal/knowledge"
	"github.com/kotoba-ai/kotoba/internal/llm"
	"github.com/kotoba-ai/kotoba/internal/log"
)

// ErrImagesDisabled indicates no Hugging Face API key was configured, so
// image generation is unavailable.
var ErrImagesDisabled = errors.New("image generation disabled: no Hugging Face API key configured")

// AgentStore is the agent registry surface consumed by App and the CLI.
// Satisfied by *agent.Store. Interfaces are defined here, by the consumer.
type AgentStore interface {
	Create(ctx context.Context, p agent.CreateParams) (*agent.Agent, error)
	Get(ctx context.Context, ownerID string, id uuid.UUID) (*agent.Agent, error)
	GetByName(ctx context.Context, ownerID, name string) (*agent.Agent, error)
	List(ctx context.Context, ownerID string) ([]*agent.Agent, error)
	Update(ctx context.Context, ownerID string, id uuid.UUID, p agent.UpdateParams) (*agent.Agent, error)
	SetTrainingFiles(ctx context.Context, ownerID string, id uuid.UUID, files []string) error
	Rename(ctx context.Context, ownerID string, id uuid.UUID, newName string) (*agent.Agent, error)
	Delete(ctx context.Context, ownerID string, id uuid.UUID) error
}

// ChatStore is the conversation persistence surface consumed by App.
// Satisfied by *history.Store.
type ChatStore interface {
	GetChat(ctx context.Context, agentID, chatID uuid.UUID) (*history.Chat, error)
	ListChats(ctx context.Context, agentID uuid.UUID, userID string) ([]*history.Chat, error)
	LoadHistory(ctx context.Context, agentID, chatID uuid.UUID) ([]history.Turn, error)
	RecordTurn(ctx context.Context, p history.TurnParams) (uuid.UUID, error)
}

// Responder runs one conversational turn. Satisfied by *chat.Pipeline.
type Responder interface {
	Respond(ctx context.Context, req chat.Request) (*chat.Result, error)
}

// ChatNamer names a new chat from its first exchange. Satisfied by
// *chat.Namer.
type ChatNamer interface {
	Name(ctx context.Context, input, answer string) string
}

// StoreChecker reports whether an agent's knowledge store has been
// provisioned. Satisfied by *knowledge.Manager.
type StoreChecker interface {
	Exists(ctx context.Context, store string) (bool, error)
}

// FileIngestor loads training files into a knowledge store. Satisfied by
// *ingest.Ingestor.
type FileIngestor interface {
	IngestFiles(ctx context.Context, store string, paths []string) (*ingest.Result, error)
}

// App is the application container.
type App struct {
	Config *config.Config
	Logger log.Logger

	// Infrastructure
	Pool     *pgxpool.Pool
	Genkit   *genkit.Genkit
	LLM      *llm.Client
	Embedder *llm.Embedder

	// Domain components
	Knowledge *knowledge.Manager
	Retriever *knowledge.Retriever
	Agents    AgentStore
	Chats     ChatStore
	Pipeline  Responder
	Namer     ChatNamer
	Stores    StoreChecker
	Ingestor  FileIngestor
	Blog      *blog.Generator
	Images    *imagegen.Client // nil when no API key is configured
}

// Close releases application resources.
func (a *App) Close() error {
	if a.Pool != nil {
		a.Pool.Close()
		if a.Logger != nil {
			a.Logger.Debug("database pool closed")
		}
	}
	return nil
}

// ChatResult is the outcome of one conversational turn.
type ChatResult struct {
	ChatID   uuid.UUID
	Answer   string
	Language string
	Grounded bool
	Elapsed  time.Duration
}

// ChatWithAgent runs one turn with an agent. A nil chatID starts a new
// chat: the chat is named from the first exchange (exactly once), created
// together with the first turn in one transaction, and the new id is
// returned in the result. An existing chatID appends to that chat after
// verifying it belongs to the agent.
func (a *App) ChatWithAgent(ctx context.Context, ownerID string, agentID uuid.UUID, chatID *uuid.UUID, input string) (*ChatResult, error) {
	ag, err := a.Agents.Get(ctx, ownerID, agentID)
	if err != nil {
		return nil, fmt.Errorf("loading agent: %w", err)
	}

	var transcript string
	if chatID != nil {
		if _, err := a.Chats.GetChat(ctx, agentID, *chatID); err != nil {
			return nil, err
		}
		turns, err := a.Chats.LoadHistory(ctx, agentID, *chatID)
		if err != nil {
			return nil, fmt.Errorf("loading history: %w", err)
		}
		transcript = history.FormatTurns(turns)
	}

	hasKnowledge, err := a.Stores.Exists(ctx, ag.StoreName)
	if err != nil {
		return nil, fmt.Errorf("checking knowledge store: %w", err)
	}

	res, err := a.Pipeline.Respond(ctx, chat.Request{
		Input:        input,
		AgentName:    ag.Name,
		Persona:      ag.Persona,
		History:      transcript,
		StoreName:    ag.StoreName,
		HasKnowledge: hasKnowledge,
	})
	if err != nil {
		return nil, err
	}

	var name string
	if chatID == nil {
		name = a.Namer.Name(ctx, input, res.Answer)
	}
	id, err := a.Chats.RecordTurn(ctx, history.TurnParams{
		AgentID:  agentID,
		ChatID:   chatID,
		UserID:   ownerID,
		ChatName: name,
		Human:    input,
		AI:       res.Answer,
	})
	if err != nil {
		return nil, fmt.Errorf("recording turn: %w", err)
	}

	a.Logger.Info("chat turn completed",
		"agent", ag.Name,
		"chat", id,
		"grounded", res.Context != "",
		"language", res.Language,
		"elapsed", res.Elapsed,
	)

	return &ChatResult{
		ChatID:   id,
		Answer:   res.Answer,
		Language: res.Language,
		Grounded: res.Context != "",
		Elapsed:  res.Elapsed,
	}, nil
}

// Train ingests files into the agent's knowledge store, replacing its
// previous contents, and records the file names on the agent.
func (a *App) Train(ctx context.Context, ownerID string, agentID uuid.UUID, paths []string) (*ingest.Result, error) {
	ag, err := a.Agents.Get(ctx, ownerID, agentID)
	if err != nil {
		return nil, fmt.Errorf("loading agent: %w", err)
	}

	res, err := a.Ingestor.IngestFiles(ctx, ag.StoreName, paths)
	if err != nil {
		return nil, err
	}

	names := make([]string, len(paths))
	for i, p := range paths {
		names[i] = filepath.Base(p)
	}
	if err := a.Agents.SetTrainingFiles(ctx, ownerID, agentID, names); err != nil {
		return nil, err
	}

	a.Logger.Info("agent trained",
		"agent", ag.Name,
		"store", ag.StoreName,
		"files", res.Files,
		"chunks", res.Chunks,
	)
	return res, nil
}

// WriteBlog generates a full blog post for the heading.
func (a *App) WriteBlog(ctx context.Context, heading string) (*blog.Post, error) {
	return a.Blog.Generate(ctx, heading)
}

// GenerateAgentPicture generates a profile picture from the prompt and
// stores its reference on the agent.
func (a *App) GenerateAgentPicture(ctx context.Context, ownerID string, agentID uuid.UUID, prompt string) (string, error) {
	if a.Images == nil {
		return "", ErrImagesDisabled
	}

	ref, err := a.Images.Generate(ctx, prompt)
	if err != nil {
		return "", err
	}

	if _, err := a.Agents.Update(ctx, ownerID, agentID, agent.UpdateParams{PictureURL: &ref}); err != nil {
		return "", fmt.Errorf("saving picture reference: %w", err)
	}
	return ref, nil
}
