package provider

import (
	"context"
	"errors"
	"os"
	"time"

	"github.com/mohammad-safakhou/growloop/config"
	"github.com/mohammad-safakhou/growloop/internal/telemetry"
	"github.com/mohammad-safakhou/growloop/models"
	openai_provider "github.com/mohammad-safakhou/growloop/provider/openai"
)

// Client represents different LLM providers
type Client string

const (
	OpenAI    Client = "openai"
	Anthropic Client = "anthropic"
	Gemini    Client = "gemini"
)

// Provider is the interface that all LLM implementations must satisfy.
// Every method parses the model output against a strict schema and rejects
// anything that does not conform; callers never see raw completion text.
type Provider interface {
	ExtractPatterns(ctx context.Context, posts []models.ViralPost, niche models.AccountNiche) ([]models.ContentPattern, error)
	GenerateVariants(ctx context.Context, in models.GenerationRequest) ([]models.PostVariant, error)
	ScoreVariants(ctx context.Context, variants []models.PostVariant, niche models.AccountNiche) ([]float64, error)
	AnalyzePerformance(ctx context.Context, in models.AnalysisRequest) (models.PerformanceAnalysis, error)
	ProposeStrategy(ctx context.Context, in models.StrategyRequest) (models.ContentStrategy, error)
	CreateEmbedding(ctx context.Context, texts []string) ([][]float32, error)
}

// NewProvider creates a new LLM client based on the provided configuration
func NewProvider(client Client) (Provider, error) {
	switch client {
	case OpenAI:
		// Minimal env-based constructor; detailed routing handled elsewhere
		apiKey := os.Getenv("OPENAI_API_KEY")
		if apiKey == "" {
			return nil, errors.New("OPENAI_API_KEY not set")
		}
		return openai_provider.NewOpenAIClient(
			apiKey,
			"gpt-5",
			"text-embedding-3-large",
			0.7,
			4096,
			60*time.Second,
			nil,
		), nil
	case Anthropic:
		return nil, errors.New("anthropic client not implemented yet")
	case Gemini:
		return nil, errors.New("gemini client not implemented yet")
	default:
		return nil, errors.New("unsupported LLM provider")
	}
}

// NewProviderFromConfig builds the configured LLM client. The api key
// falls back to OPENAI_API_KEY so deployments can keep it out of files.
// tele may be nil; when set, every call's token usage and cost is recorded.
func NewProviderFromConfig(cfg config.LLMConfig, tele *telemetry.Telemetry) (Provider, error) {
	switch Client(cfg.Provider) {
	case OpenAI, "":
		apiKey := cfg.APIKey
		if apiKey == "" {
			apiKey = os.Getenv("OPENAI_API_KEY")
		}
		if apiKey == "" {
			return nil, errors.New("llm.api_key or OPENAI_API_KEY required")
		}
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = 60 * time.Second
		}
		return openai_provider.NewOpenAIClient(
			apiKey,
			cfg.CompletionModel,
			cfg.EmbeddingModel,
			cfg.Temperature,
			cfg.MaxTokens,
			timeout,
			tele,
		), nil
	case Anthropic:
		return nil, errors.New("anthropic client not implemented yet")
	case Gemini:
		return nil, errors.New("gemini client not implemented yet")
	default:
		return nil, errors.New("unsupported LLM provider")
	}
}
