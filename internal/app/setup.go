package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/firebase/genkit/go/ai"
	"github.com/firebase/genkit/go/core/api"
	"github.com/firebase/genkit/go/genkit"
	"github.com/firebase/genkit/go/plugins/compat_oai/openai"
	"github.com/firebase/genkit/go/plugins/googlegenai"
	"github.com/firebase/genkit/go/plugins/ollama"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/kotoba-ai/kotoba/db"
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

// Setup creates and initializes the application. On failure everything
// already initialized is released before returning.
func Setup(ctx context.Context, cfg *config.Config, logger log.Logger) (_ *App, retErr error) {
	a := &App{Config: cfg, Logger: logger}

	defer func() {
		if retErr != nil {
			if err := a.Close(); err != nil {
				logger.Warn("cleanup during setup failure", "error", err)
			}
		}
	}()

	pool, err := providePool(ctx, cfg)
	if err != nil {
		return nil, err
	}
	a.Pool = pool

	g, err := provideGenkit(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	a.Genkit = g

	aiEmbedder := provideEmbedder(g, cfg)
	if aiEmbedder == nil {
		return nil, fmt.Errorf("embedder %q not found for provider %q", cfg.EmbedderModel, cfg.Provider)
	}

	embedder, err := llm.NewEmbedder(aiEmbedder, cfg.EmbedderDimension, cfg.EmbedTimeout, logger)
	if err != nil {
		return nil, fmt.Errorf("creating embedder: %w", err)
	}
	a.Embedder = embedder

	retry := llm.RetryConfig{
		MaxRetries:      cfg.MaxRetries,
		InitialInterval: cfg.RetryInitialInterval,
		MaxInterval:     cfg.RetryMaxInterval,
	}

	client, err := llm.NewClient(llm.Config{
		Genkit:    g,
		ModelName: qualifiedModel(cfg),
		Timeout:   cfg.GenerateTimeout,
		Retry:     retry,
		Logger:    logger,
	})
	if err != nil {
		return nil, fmt.Errorf("creating generation client: %w", err)
	}
	if err := chat.RegisterPrompts(client); err != nil {
		return nil, fmt.Errorf("registering chat prompts: %w", err)
	}
	if err := blog.RegisterPrompts(client); err != nil {
		return nil, fmt.Errorf("registering blog prompts: %w", err)
	}
	a.LLM = client

	km, err := knowledge.NewManager(knowledge.Config{
		DB:        pool,
		Dimension: cfg.EmbedderDimension,
		Timeout:   cfg.SearchTimeout,
		Logger:    logger,
	})
	if err != nil {
		return nil, fmt.Errorf("creating knowledge manager: %w", err)
	}
	a.Knowledge = km
	a.Stores = km

	retriever, err := knowledge.NewRetriever(embedder, km, cfg.RetrievalTopK, logger)
	if err != nil {
		return nil, fmt.Errorf("creating retriever: %w", err)
	}
	a.Retriever = retriever

	chats, err := history.NewStore(pool, logger)
	if err != nil {
		return nil, fmt.Errorf("creating chat store: %w", err)
	}
	a.Chats = chats

	agents, err := agent.NewStore(pool, km, logger)
	if err != nil {
		return nil, fmt.Errorf("creating agent store: %w", err)
	}
	a.Agents = agents

	ingestor, err := ingest.NewIngestor(embedder, km, cfg.ChunkSize, cfg.ChunkOverlap, logger)
	if err != nil {
		return nil, fmt.Errorf("creating ingestor: %w", err)
	}
	a.Ingestor = ingestor

	pipeline, err := chat.NewPipeline(client, retriever, logger)
	if err != nil {
		return nil, fmt.Errorf("creating pipeline: %w", err)
	}
	a.Pipeline = pipeline
	a.Namer = chat.NewNamer(client, logger)

	blogGen, err := blog.NewGenerator(client, cfg.BlogMaxConcurrency, logger)
	if err != nil {
		return nil, fmt.Errorf("creating blog generator: %w", err)
	}
	a.Blog = blogGen

	if cfg.HFAPIKey != "" {
		images, err := imagegen.New(imagegen.Config{
			APIKey: cfg.HFAPIKey,
			Model:  cfg.ImageModel,
			Sink:   imagegen.FileSink(cfg.ImageOutputDir),
			Retry:  retry,
			Logger: logger,
		})
		if err != nil {
			return nil, fmt.Errorf("creating image client: %w", err)
		}
		a.Images = images
	}

	return a, nil
}

// providePool runs migrations and opens the connection pool.
func providePool(ctx context.Context, cfg *config.Config) (*pgxpool.Pool, error) {
	if err := db.Migrate(cfg.PostgresURL()); err != nil {
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	poolCfg, err := pgxpool.ParseConfig(cfg.PostgresConnectionString())
	if err != nil {
		return nil, fmt.Errorf("parsing connection config: %w", err)
	}

	poolCfg.MaxConns = 10
	poolCfg.MinConns = 2
	poolCfg.MaxConnLifetime = 30 * time.Minute
	poolCfg.MaxConnIdleTime = 5 * time.Minute
	poolCfg.HealthCheckPeriod = 1 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("creating connection pool: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	return pool, nil
}

// provideGenkit initializes Genkit with the configured AI provider.
// Supports gemini (default), ollama, and openai providers.
func provideGenkit(ctx context.Context, cfg *config.Config, logger log.Logger) (*genkit.Genkit, error) {
	var g *genkit.Genkit

	switch cfg.Provider {
	case config.ProviderOllama:
		ollamaPlugin := &ollama.Ollama{ServerAddress: cfg.OllamaHost}
		g = genkit.Init(ctx, genkit.WithPlugins(ollamaPlugin))
		if g == nil {
			return nil, errors.New("initializing genkit with ollama provider")
		}
		// Ollama requires explicit model registration (no auto-discovery)
		ollamaPlugin.DefineModel(g, ollama.ModelDefinition{
			Name: cfg.ModelName,
			Type: "chat",
		}, nil)
		ollamaPlugin.DefineEmbedder(g, cfg.OllamaHost, cfg.EmbedderModel, nil)
		logger.Info("initialized genkit with ollama provider",
			"model", cfg.ModelName, "host", cfg.OllamaHost)

	case config.ProviderOpenAI:
		g = genkit.Init(ctx, genkit.WithPlugins(&openai.OpenAI{}))
		if g == nil {
			return nil, errors.New("initializing genkit with openai provider")
		}
		logger.Info("initialized genkit with openai provider", "model", cfg.ModelName)

	default: // gemini
		g = genkit.Init(ctx, genkit.WithPlugins(&googlegenai.GoogleAI{}))
		if g == nil {
			return nil, errors.New("initializing genkit with gemini provider")
		}
		logger.Info("initialized genkit with gemini provider", "model", cfg.ModelName)
	}

	return g, nil
}

// provideEmbedder looks up the embedder registered by the provider plugin.
// Each provider registers embedders differently:
//   - gemini: GoogleAIEmbedder(g, modelName)
//   - ollama: registered in provideGenkit, keyed by server address
//   - openai: auto-registered in Init(), looked up by model name
func provideEmbedder(g *genkit.Genkit, cfg *config.Config) ai.Embedder {
	switch cfg.Provider {
	case config.ProviderOllama:
		return ollama.Embedder(g, cfg.OllamaHost)
	case config.ProviderOpenAI:
		return genkit.LookupEmbedder(g, api.NewName("openai", cfg.EmbedderModel))
	default: // gemini
		return googlegenai.GoogleAIEmbedder(g, cfg.EmbedderModel)
	}
}

// qualifiedModel returns the provider-qualified model name Genkit resolves
// at generation time. Names that already carry a provider pass through.
func qualifiedModel(cfg *config.Config) string {
	if strings.Contains(cfg.ModelName, "/") {
		return cfg.ModelName
	}
	switch cfg.Provider {
	case config.ProviderOllama:
		return "ollama/" + cfg.ModelName
	case config.ProviderOpenAI:
		return "openai/" + cfg.ModelName
	default:
		return "googleai/" + cfg.ModelName
	}
}
