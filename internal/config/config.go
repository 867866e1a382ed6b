package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config contains all runtime settings for the assistant service. It is
// constructed once at process start and read-only afterwards.
type Config struct {
	BindAddr         string
	MetricsNamespace string
	ShutdownTimeout  time.Duration
	AllowAnyOrigin   bool

	BotID             string
	AllowedChannelIDs []string
	AllowAllChannels  bool

	TopK              int
	MemoryWindow      int
	RemoteCallTimeout time.Duration
	ApologyText       string

	LLMProvider     string
	OpenAIAPIKey    string
	OpenAIBaseURL   string
	OpenAIModel     string
	AzureEndpoint   string
	AzureAPIKey     string
	AzureDeployment string
	OllamaURL       string
	OllamaModel     string

	RetrieverProvider string
	EmbeddingAPIKey   string
	EmbeddingBaseURL  string
	EmbeddingModel    string
	CorpusDir         string

	SystemPromptFile string
	UserPromptFile   string
	HotReload        bool
	RescanInterval   time.Duration

	DatabaseURL string
}

// Load reads environment variables and applies safe defaults.
func Load() (Config, error) {
	cfg := Config{
		BindAddr:          envOrDefault("APP_BIND_ADDR", ":8080"),
		MetricsNamespace:  envOrDefault("APP_METRICS_NAMESPACE", "parley"),
		BotID:             envOrDefault("BOT_ID", "parley"),
		AllowedChannelIDs: splitList(os.Getenv("ALLOWED_CHANNEL_IDS")),
		TopK:              3,
		MemoryWindow:      10,
		RemoteCallTimeout: 30 * time.Second,
		ApologyText:       strings.TrimSpace(os.Getenv("APOLOGY_TEXT")),
		LLMProvider:       envOrDefault("LLM_PROVIDER", "auto"),
		OpenAIAPIKey:      strings.TrimSpace(os.Getenv("OPENAI_API_KEY")),
		OpenAIBaseURL:     strings.TrimSpace(os.Getenv("OPENAI_BASE_URL")),
		OpenAIModel:       strings.TrimSpace(os.Getenv("OPENAI_MODEL")),
		AzureEndpoint:     strings.TrimSpace(os.Getenv("AZURE_OPENAI_ENDPOINT")),
		AzureAPIKey:       strings.TrimSpace(os.Getenv("AZURE_OPENAI_API_KEY")),
		AzureDeployment:   strings.TrimSpace(os.Getenv("AZURE_OPENAI_DEPLOYMENT")),
		OllamaURL:         strings.TrimSpace(os.Getenv("OLLAMA_URL")),
		OllamaModel:       strings.TrimSpace(os.Getenv("OLLAMA_MODEL")),
		RetrieverProvider: envOrDefault("RETRIEVER_PROVIDER", "bm25"),
		EmbeddingAPIKey:   strings.TrimSpace(os.Getenv("EMBEDDING_API_KEY")),
		EmbeddingBaseURL:  strings.TrimSpace(os.Getenv("EMBEDDING_BASE_URL")),
		EmbeddingModel:    strings.TrimSpace(os.Getenv("EMBEDDING_MODEL")),
		CorpusDir:         strings.TrimSpace(os.Getenv("CORPUS_DIR")),
		SystemPromptFile:  strings.TrimSpace(os.Getenv("SYSTEM_PROMPT_FILE")),
		UserPromptFile:    strings.TrimSpace(os.Getenv("USER_PROMPT_FILE")),
		HotReload:         true,
		RescanInterval:    60 * time.Second,
		ShutdownTimeout:   15 * time.Second,
		DatabaseURL:       strings.TrimSpace(os.Getenv("DATABASE_URL")),
	}

	var err error
	cfg.ShutdownTimeout, err = durationFromEnv("APP_SHUTDOWN_TIMEOUT", cfg.ShutdownTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.RemoteCallTimeout, err = durationFromEnv("REMOTE_CALL_TIMEOUT", cfg.RemoteCallTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.RescanInterval, err = durationFromEnv("RELOAD_RESCAN_INTERVAL", cfg.RescanInterval)
	if err != nil {
		return Config{}, err
	}
	cfg.TopK, err = intFromEnv("TOP_K", cfg.TopK)
	if err != nil {
		return Config{}, err
	}
	cfg.MemoryWindow, err = intFromEnv("MEMORY_WINDOW", cfg.MemoryWindow)
	if err != nil {
		return Config{}, err
	}
	cfg.AllowAnyOrigin, err = boolFromEnv("APP_ALLOW_ANY_ORIGIN", cfg.AllowAnyOrigin)
	if err != nil {
		return Config{}, err
	}
	cfg.AllowAllChannels, err = boolFromEnv("ALLOW_ALL_CHANNELS", cfg.AllowAllChannels)
	if err != nil {
		return Config{}, err
	}
	cfg.HotReload, err = boolFromEnv("HOT_RELOAD", cfg.HotReload)
	if err != nil {
		return Config{}, err
	}

	if cfg.TopK <= 0 {
		return Config{}, fmt.Errorf("TOP_K must be positive")
	}
	if cfg.MemoryWindow <= 0 {
		return Config{}, fmt.Errorf("MEMORY_WINDOW must be positive")
	}
	if cfg.RemoteCallTimeout < time.Second {
		return Config{}, fmt.Errorf("REMOTE_CALL_TIMEOUT must be at least 1s")
	}
	if cfg.RescanInterval < time.Second {
		return Config{}, fmt.Errorf("RELOAD_RESCAN_INTERVAL must be at least 1s")
	}
	if !cfg.AllowAllChannels && len(cfg.AllowedChannelIDs) == 0 {
		return Config{}, fmt.Errorf("ALLOWED_CHANNEL_IDS must be set unless ALLOW_ALL_CHANNELS is enabled")
	}

	return cfg, nil
}

func envOrDefault(key, fallback string) string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	return v
}

func splitList(raw string) []string {
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

func durationFromEnv(key string, fallback time.Duration) (time.Duration, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return d, nil
}

func intFromEnv(key string, fallback int) (int, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return n, nil
}

func boolFromEnv(key string, fallback bool) (bool, error) {
	v := strings.ToLower(strings.TrimSpace(os.Getenv(key)))
	if v == "" {
		return fallback, nil
	}
	switch v {
	case "1", "true", "t", "yes", "y", "on":
		return true, nil
	case "0", "false", "f", "no", "n", "off":
		return false, nil
	default:
		return false, fmt.Errorf("%s parse error: expected bool", key)
	}
}
