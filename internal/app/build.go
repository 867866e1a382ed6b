package app

import (
	"context"
	"fmt"
	"log"
	"os"
	"strings"

	"github.com/avandelay/parley/internal/chat"
	"github.com/avandelay/parley/internal/config"
	"github.com/avandelay/parley/internal/extensions"
	"github.com/avandelay/parley/internal/httpapi"
	"github.com/avandelay/parley/internal/llm"
	"github.com/avandelay/parley/internal/memory"
	"github.com/avandelay/parley/internal/observability"
	"github.com/avandelay/parley/internal/policy"
	"github.com/avandelay/parley/internal/prompt"
	"github.com/avandelay/parley/internal/rephrase"
	"github.com/avandelay/parley/internal/retrieval"
)

type BuildResult struct {
	Config       config.Config
	API          *httpapi.Server
	Orchestrator *chat.Orchestrator
	Extensions   *extensions.Host
	Metrics      *observability.Metrics

	// Cleanup should be called on shutdown to release external resources.
	Cleanup func() error
}

func Build(ctx context.Context, cfg config.Config) (*BuildResult, error) {
	metrics := observability.NewMetrics(cfg.MetricsNamespace)

	var store memory.Store
	if strings.TrimSpace(cfg.DatabaseURL) != "" {
		pg, err := memory.NewPostgresStore(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("memory store init failed: %w", err)
		}
		store = pg
	} else {
		store = memory.NewInMemoryStore()
	}

	generator, err := llm.NewGenerator(llm.Config{
		Provider:        cfg.LLMProvider,
		OpenAIAPIKey:    cfg.OpenAIAPIKey,
		OpenAIBaseURL:   cfg.OpenAIBaseURL,
		OpenAIModel:     cfg.OpenAIModel,
		AzureEndpoint:   cfg.AzureEndpoint,
		AzureAPIKey:     cfg.AzureAPIKey,
		AzureDeployment: cfg.AzureDeployment,
		OllamaURL:       cfg.OllamaURL,
		OllamaModel:     cfg.OllamaModel,
	})
	if err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("llm generator init failed: %w", err)
	}

	retriever, err := retrieval.NewRetriever(retrieval.Config{
		Provider:         cfg.RetrieverProvider,
		EmbeddingAPIKey:  cfg.EmbeddingAPIKey,
		EmbeddingBaseURL: cfg.EmbeddingBaseURL,
		EmbeddingModel:   cfg.EmbeddingModel,
	})
	if err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("retriever init failed: %w", err)
	}

	indexer, _ := retriever.(retrieval.Indexer)
	if indexer != nil && cfg.CorpusDir != "" {
		loader := retrieval.NewCorpusLoader(cfg.CorpusDir, indexer)
		n, err := loader.Load(ctx)
		if err != nil {
			_ = store.Close()
			return nil, fmt.Errorf("corpus load failed: %w", err)
		}
		log.Printf("corpus: indexed %d chunks from %s", n, cfg.CorpusDir)
	}

	prompts, err := loadPromptBuilder(cfg)
	if err != nil {
		_ = store.Close()
		return nil, err
	}

	channelPolicy := policy.NewChannelPolicy(cfg.BotID, cfg.AllowedChannelIDs)
	if cfg.AllowAllChannels {
		channelPolicy.AllowAllChannels()
	}

	orchestrator := chat.NewOrchestrator(
		channelPolicy,
		rephrase.New(generator),
		retriever,
		generator,
		store,
		prompts,
		metrics,
		chat.Options{
			TopK:         cfg.TopK,
			MemoryWindow: cfg.MemoryWindow,
			CallTimeout:  cfg.RemoteCallTimeout,
			Apology:      cfg.ApologyText,
		},
	)

	var host *extensions.Host
	if cfg.HotReload {
		host = extensions.NewHost(cfg.RescanInterval, metrics)
		registerReloadables(host, cfg, orchestrator, indexer)
	}

	api := httpapi.New(cfg, orchestrator, store, indexer, metrics)

	return &BuildResult{
		Config:       cfg,
		API:          api,
		Orchestrator: orchestrator,
		Extensions:   host,
		Metrics:      metrics,
		Cleanup:      store.Close,
	}, nil
}

func registerReloadables(host *extensions.Host, cfg config.Config, orchestrator *chat.Orchestrator, indexer retrieval.Indexer) {
	var templatePaths []string
	if cfg.SystemPromptFile != "" {
		templatePaths = append(templatePaths, cfg.SystemPromptFile)
	}
	if cfg.UserPromptFile != "" {
		templatePaths = append(templatePaths, cfg.UserPromptFile)
	}
	if len(templatePaths) > 0 {
		host.Register("prompt templates", templatePaths, func(context.Context) error {
			b, err := loadPromptBuilder(cfg)
			if err != nil {
				return err
			}
			orchestrator.SetPromptBuilder(b)
			return nil
		})
	}

	if indexer != nil && cfg.CorpusDir != "" {
		host.Register("corpus", []string{cfg.CorpusDir}, func(ctx context.Context) error {
			loader := retrieval.NewCorpusLoader(cfg.CorpusDir, indexer)
			n, err := loader.Load(ctx)
			if err != nil {
				return err
			}
			log.Printf("corpus: re-indexed %d chunks from %s", n, cfg.CorpusDir)
			return nil
		})
	}
}

func loadPromptBuilder(cfg config.Config) (*prompt.Builder, error) {
	systemTemplate, err := readTemplateFile(cfg.SystemPromptFile)
	if err != nil {
		return nil, err
	}
	userTemplate, err := readTemplateFile(cfg.UserPromptFile)
	if err != nil {
		return nil, err
	}

	b, err := prompt.NewBuilder(systemTemplate, userTemplate)
	if err != nil {
		return nil, fmt.Errorf("prompt templates: %w", err)
	}
	return b, nil
}

func readTemplateFile(path string) (string, error) {
	if strings.TrimSpace(path) == "" {
		return "", nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("read prompt template %q: %w", path, err)
	}
	return string(raw), nil
}
