package openai_provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/mohammad-safakhou/growloop/internal/telemetry"
	"github.com/mohammad-safakhou/growloop/models"
)

const (
	openaiAPIURL        = "https://api.openai.com/v1/chat/completions"
	openaiEmbeddingsURL = "https://api.openai.com/v1/embeddings"
)

// client implements the Provider interface using OpenAI's API
type client struct {
	apiKey          string
	completionModel string
	embeddingModel  string
	temperature     float64
	maxTokens       int
	httpClient      *http.Client
	tele            *telemetry.Telemetry

	apiURL        string
	embeddingsURL string
}

// Message represents a message in a conversation
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// request represents a request to the OpenAI API
type request struct {
	Model       string    `json:"model"`
	Messages    []Message `json:"messages"`
	Temperature float64   `json:"temperature"`
	MaxTokens   int       `json:"max_tokens,omitempty"`
}

// usage is the token accounting block OpenAI returns with every call
type usage struct {
	PromptTokens     int64 `json:"prompt_tokens"`
	CompletionTokens int64 `json:"completion_tokens"`
}

// response represents a response from the OpenAI API
type response struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Usage usage `json:"usage"`
}

// NewOpenAIClient creates a new OpenAI client. tele may be nil when the
// caller does not track spend.
func NewOpenAIClient(apiKey, completionModel string, embeddingModel string, temperature float64, maxTokens int, timeout time.Duration, tele *telemetry.Telemetry) *client {
	return &client{
		apiKey:          apiKey,
		completionModel: completionModel,
		embeddingModel:  embeddingModel,
		temperature:     temperature,
		maxTokens:       maxTokens,
		httpClient:      &http.Client{Timeout: timeout},
		tele:            tele,
		apiURL:          openaiAPIURL,
		embeddingsURL:   openaiEmbeddingsURL,
	}
}

// ExtractPatterns maps observed viral posts to a small set of named,
// reusable content patterns.
func (c *client) ExtractPatterns(ctx context.Context, posts []models.ViralPost, niche models.AccountNiche) ([]models.ContentPattern, error) {
	var samples []string
	for _, p := range posts {
		samples = append(samples, fmt.Sprintf(
			"Platform: %s\nEngagement: %d likes, %d replies, %d reposts\nContent: %s",
			p.Platform, p.Likes, p.Replies, p.Reposts, p.Content,
		))
	}

	systemPrompt := `You analyze viral social media posts and extract reusable content patterns.

A pattern is a named structural device (e.g. "contrarian_hot_take", "numbered_listicle") that explains WHY posts using it get engagement, independent of their topic.

RESPONSE FORMAT:
Respond ONLY with valid JSON:
{
  "patterns": [
    {
      "name": "snake_case_name",
      "description": "what the pattern is",
      "structure": "Hook -> Body -> CTA",
      "hook_type": "question | bold_claim | story | stat",
      "example_hooks": ["array", "of", "strings"],
      "best_for_pillars": ["array", "of", "strings"],
      "source_posts_count": 3
    }
  ]
}
Extract 3 to 5 patterns. Do not include any other text or explanation.`

	userPrompt := fmt.Sprintf(`ACCOUNT NICHE: %s (%s)
CONTENT PILLARS: %s

VIRAL POSTS:
%s`, niche.Niche, niche.SubNiche, pillarNames(niche), strings.Join(samples, "\n---\n"))

	raw, err := c.sendRequest(ctx, "extract", []Message{
		{Role: "system", Content: systemPrompt},
		{Role: "user", Content: userPrompt},
	})
	if err != nil {
		return nil, err
	}

	var parsed struct {
		Patterns []models.ContentPattern `json:"patterns"`
	}
	if err := decodeStrict(raw, &parsed); err != nil {
		return nil, fmt.Errorf("failed to parse patterns: %w", err)
	}
	for _, p := range parsed.Patterns {
		if p.Name == "" {
			return nil, fmt.Errorf("pattern missing name in response")
		}
	}
	return parsed.Patterns, nil
}

// GenerateVariants produces candidate posts, each citing one pattern and
// respecting the account voice and avoid-topics constraints.
func (c *client) GenerateVariants(ctx context.Context, in models.GenerationRequest) ([]models.PostVariant, error) {
	patternsJSON, err := json.Marshal(in.Patterns)
	if err != nil {
		return nil, err
	}

	systemPrompt := fmt.Sprintf(`You are a ghostwriter for a social media account.

VOICE: %s, persona: %s
STYLE NOTES: %s
AUDIENCE: %s
NEVER write about: %s
TONE NOTES FROM PAST LEARNING: %s

RESPONSE FORMAT:
Respond ONLY with valid JSON:
{
  "variants": [
    {
      "content": "the full post text",
      "pattern_used": "pattern name from the provided list",
      "pillar": "content pillar name",
      "hook_type": "question | bold_claim | story | stat",
      "reasoning": "one sentence on why this should perform"
    }
  ]
}
Generate exactly %d variants. Do not include any other text or explanation.`,
		in.Niche.Voice.Tone, in.Niche.Voice.Persona,
		strings.Join(in.Niche.Voice.StyleNotes, "; "),
		in.Niche.Audience.Primary,
		strings.Join(in.Niche.AvoidTopics, ", "),
		strings.Join(in.Strategy.ToneNotes, "; "),
		in.Count)

	userPrompt := fmt.Sprintf("PATTERNS TO USE:\n%s", patternsJSON)
	if in.Feedback != "" {
		userPrompt += fmt.Sprintf("\n\nOPERATOR FEEDBACK ON THE PREVIOUS BATCH (address it):\n%s", in.Feedback)
	}

	raw, err := c.sendRequest(ctx, "generate", []Message{
		{Role: "system", Content: systemPrompt},
		{Role: "user", Content: userPrompt},
	})
	if err != nil {
		return nil, err
	}

	var parsed struct {
		Variants []models.PostVariant `json:"variants"`
	}
	if err := decodeStrict(raw, &parsed); err != nil {
		return nil, fmt.Errorf("failed to parse variants: %w", err)
	}
	for _, v := range parsed.Variants {
		if v.Content == "" || v.PatternUsed == "" {
			return nil, fmt.Errorf("variant missing content or pattern in response")
		}
	}
	return parsed.Variants, nil
}

// ScoreVariants rates each variant's viral potential on a 0-10 scale.
// The returned slice is index-aligned with the input.
func (c *client) ScoreVariants(ctx context.Context, variants []models.PostVariant, niche models.AccountNiche) ([]float64, error) {
	var lines []string
	for i, v := range variants {
		lines = append(lines, fmt.Sprintf("[%d] (%s) %s", i, v.PatternUsed, v.Content))
	}

	systemPrompt := fmt.Sprintf(`You score draft social posts for viral potential in the "%s" niche.

Score each 0-10 for hook strength, shareability and audience fit.

RESPONSE FORMAT:
Respond ONLY with valid JSON:
{"scores": [7.5, 4.0]}
One score per input post, in input order. Do not include any other text.`, niche.Niche)

	raw, err := c.sendRequest(ctx, "score", []Message{
		{Role: "system", Content: systemPrompt},
		{Role: "user", Content: strings.Join(lines, "\n")},
	})
	if err != nil {
		return nil, err
	}

	var parsed struct {
		Scores []float64 `json:"scores"`
	}
	if err := decodeStrict(raw, &parsed); err != nil {
		return nil, fmt.Errorf("failed to parse scores: %w", err)
	}
	if len(parsed.Scores) != len(variants) {
		return nil, fmt.Errorf("expected %d scores, got %d", len(variants), len(parsed.Scores))
	}
	return parsed.Scores, nil
}

// AnalyzePerformance turns the collected metrics into structured insights.
func (c *client) AnalyzePerformance(ctx context.Context, in models.AnalysisRequest) (models.PerformanceAnalysis, error) {
	metricsJSON, err := json.Marshal(in.Metrics)
	if err != nil {
		return models.PerformanceAnalysis{}, err
	}
	perfJSON, err := json.Marshal(in.Performance)
	if err != nil {
		return models.PerformanceAnalysis{}, err
	}

	systemPrompt := `You analyze social media performance data for a growth-focused account.

RESPONSE FORMAT:
Respond ONLY with valid JSON:
{
  "top_performers": ["array", "of", "strings"],
  "underperformers": ["array", "of", "strings"],
  "pattern_insights": ["array", "of", "strings"],
  "timing_insights": ["array", "of", "strings"],
  "pillar_analysis": ["array", "of", "strings"],
  "audience_signals": ["array", "of", "strings"],
  "recommendations": ["array", "of", "strings"]
}
Be specific and evidence-based. Do not include any other text or explanation.`

	userPrompt := fmt.Sprintf(`NICHE: %s
RECENT METRICS:
%s

CUMULATIVE PATTERN PERFORMANCE:
%s`, in.Niche.Niche, metricsJSON, perfJSON)

	raw, err := c.sendRequest(ctx, "analyze", []Message{
		{Role: "system", Content: systemPrompt},
		{Role: "user", Content: userPrompt},
	})
	if err != nil {
		return models.PerformanceAnalysis{}, err
	}

	var analysis models.PerformanceAnalysis
	if err := decodeStrict(raw, &analysis); err != nil {
		return models.PerformanceAnalysis{}, fmt.Errorf("failed to parse analysis: %w", err)
	}
	return analysis, nil
}

// ProposeStrategy asks for a revised content strategy. Validation of the
// proposal (weight sums, pillar bounds) belongs to the caller.
func (c *client) ProposeStrategy(ctx context.Context, in models.StrategyRequest) (models.ContentStrategy, error) {
	currentJSON, err := json.Marshal(in.Current)
	if err != nil {
		return models.ContentStrategy{}, err
	}
	analysisJSON, err := json.Marshal(in.Analysis)
	if err != nil {
		return models.ContentStrategy{}, err
	}

	systemPrompt := `You adapt a content strategy based on performance analysis. Change only what the evidence supports.

RESPONSE FORMAT:
Respond ONLY with valid JSON matching the current strategy's shape:
{
  "preferred_patterns": ["array", "of", "strings"],
  "avoid_patterns": ["array", "of", "strings"],
  "optimal_posting_times": ["HH:MM"],
  "pillar_weights": {"pillar_name": 0.5},
  "tone_notes": ["array", "of", "strings"],
  "key_learnings": ["array", "of", "strings"],
  "ranking_weights": {"ai": 0.4, "history": 0.3, "novelty": 0.3}
}
ranking_weights must sum to 1.0. Do not include any other text or explanation.`

	userPrompt := fmt.Sprintf(`CURRENT STRATEGY:
%s

LATEST ANALYSIS:
%s`, currentJSON, analysisJSON)

	raw, err := c.sendRequest(ctx, "strategy", []Message{
		{Role: "system", Content: systemPrompt},
		{Role: "user", Content: userPrompt},
	})
	if err != nil {
		return models.ContentStrategy{}, err
	}

	var proposal models.ContentStrategy
	if err := decodeStrict(raw, &proposal); err != nil {
		return models.ContentStrategy{}, fmt.Errorf("failed to parse strategy: %w", err)
	}
	return proposal, nil
}

// CreateEmbedding generates an embedding for the given texts using OpenAI's API
func (c *client) CreateEmbedding(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	requestBody := map[string]interface{}{
		"model": c.embeddingModel,
		"input": texts,
	}

	jsonData, err := json.Marshal(requestBody)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", c.embeddingsURL, bytes.NewBuffer(jsonData))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("API returned status: %d", resp.StatusCode)
	}

	var openaiResp struct {
		Data []struct {
			Object    string    `json:"object"`
			Embedding []float32 `json:"embedding"`
			Index     int       `json:"index"`
		} `json:"data"`
		Usage usage `json:"usage"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&openaiResp); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}

	if c.tele != nil {
		c.tele.RecordLLMEvent(telemetry.LLMEvent{
			Model:        c.embeddingModel,
			Operation:    "embed",
			Duration:     time.Since(start),
			PromptTokens: openaiResp.Usage.PromptTokens,
		})
	}

	vecs := make([][]float32, len(openaiResp.Data))
	for i, d := range openaiResp.Data {
		vecs[i] = d.Embedding
	}
	return vecs, nil
}

// sendRequest sends a completion request to the OpenAI API. op names the
// pipeline operation for cost attribution.
func (c *client) sendRequest(ctx context.Context, op string, messages []Message) (string, error) {
	requestBody := request{
		Model:       c.completionModel,
		Messages:    messages,
		Temperature: c.temperature,
		MaxTokens:   c.maxTokens,
	}

	jsonData, err := json.Marshal(requestBody)
	if err != nil {
		return "", fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", c.apiURL, bytes.NewBuffer(jsonData))
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("API returned status: %d", resp.StatusCode)
	}

	var openaiResp response
	if err := json.NewDecoder(resp.Body).Decode(&openaiResp); err != nil {
		return "", fmt.Errorf("failed to parse response: %w", err)
	}

	if len(openaiResp.Choices) == 0 {
		return "", fmt.Errorf("no choices in response")
	}

	if c.tele != nil {
		c.tele.RecordLLMEvent(telemetry.LLMEvent{
			Model:            c.completionModel,
			Operation:        op,
			Duration:         time.Since(start),
			PromptTokens:     openaiResp.Usage.PromptTokens,
			CompletionTokens: openaiResp.Usage.CompletionTokens,
		})
	}

	return openaiResp.Choices[0].Message.Content, nil
}

// decodeStrict parses a completion as JSON after stripping markdown fences.
// Unknown or missing fields are left to the caller's validation; non-JSON
// output is rejected outright.
func decodeStrict(raw string, out interface{}) error {
	s := strings.TrimSpace(raw)
	if strings.HasPrefix(s, "```") {
		s = strings.TrimPrefix(s, "```json")
		s = strings.TrimPrefix(s, "```")
		s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	}
	return json.Unmarshal([]byte(strings.TrimSpace(s)), out)
}

func pillarNames(niche models.AccountNiche) string {
	names := make([]string, len(niche.ContentPillars))
	for i, p := range niche.ContentPillars {
		names[i] = p.Name
	}
	return strings.Join(names, ", ")
}
