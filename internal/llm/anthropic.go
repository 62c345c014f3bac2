package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/jmorrill/itemflow/internal/common"
	"github.com/jmorrill/itemflow/internal/model"
	"github.com/jmorrill/itemflow/internal/service"
)

const anthropicMessagesURL = "https://api.anthropic.com/v1/messages"

const systemPrompt = `You are a transaction categorizer for a family budget system.

Your job is to assign the correct category id to each transaction based on the description.

RULES:
1. Use ONLY category ids from the provided taxonomy
2. Be consistent: the same merchant always gets the same category
3. When uncertain, use your best judgment based on the description

OUTPUT FORMAT:
Respond with a JSON array of objects, one per transaction:
[
  {"row": 1, "category": "groceries", "confidence": 90},
  {"row": 2, "category": "restaurants", "confidence": 85}
]

- row: the row number from the input
- category: the category id (must be from the taxonomy)
- confidence: 0-100, your confidence in the categorization`

// anthropicClient implements Client against the Anthropic messages API.
type anthropicClient struct {
	httpClient  *http.Client
	limiter     *rateLimiter
	apiKey      string
	model       string
	temperature float64
	maxTokens   int
}

// newAnthropicClient creates a new Anthropic API client.
func newAnthropicClient(cfg Config) (Client, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("%w: anthropic API key is required", common.ErrMissingConfig)
	}

	model := cfg.Model
	if model == "" {
		model = "claude-3-5-haiku-20241022"
	}

	temperature := cfg.Temperature
	if temperature == 0 {
		temperature = 0.3
	}

	maxTokens := cfg.MaxTokens
	if maxTokens == 0 {
		maxTokens = 2000
	}

	return &anthropicClient{
		apiKey:      cfg.APIKey,
		model:       model,
		temperature: temperature,
		maxTokens:   maxTokens,
		limiter:     newRateLimiter(cfg.RequestsPerMinute),
		httpClient: &http.Client{
			Timeout: 60 * time.Second,
			Transport: &http.Transport{
				MaxIdleConns:        100,
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
			},
		},
	}, nil
}

// SuggestCategories sends one batch of rows and maps the numbered
// answers back onto row keys. Rows the response skips are simply absent
// from the result.
func (c *anthropicClient) SuggestCategories(ctx context.Context, requests []service.FallbackRequest, taxonomy []model.Category) ([]service.FallbackSuggestion, error) {
	if len(requests) == 0 {
		return nil, nil
	}

	if err := c.limiter.wait(ctx); err != nil {
		return nil, err
	}

	prompt := buildPrompt(requests, taxonomy)

	requestBody := map[string]any{
		"model":       c.model,
		"max_tokens":  c.maxTokens,
		"temperature": c.temperature,
		"system":      systemPrompt,
		"messages": []map[string]string{
			{
				"role":    "user",
				"content": prompt,
			},
		},
	}

	jsonBody, err := json.Marshal(requestBody)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, anthropicMessagesURL, strings.NewReader(string(jsonBody)))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-api-key", c.apiKey)
	req.Header.Set("anthropic-version", "2023-06-01")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", common.ErrFallbackUnavailable, err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return nil, common.ErrRateLimit
	case resp.StatusCode >= 500:
		return nil, fmt.Errorf("%w: anthropic API error (status %d)", common.ErrFallbackUnavailable, resp.StatusCode)
	case resp.StatusCode != http.StatusOK:
		return nil, fmt.Errorf("anthropic API error (status %d): %s", resp.StatusCode, string(body))
	}

	var response anthropicResponse
	if err := json.Unmarshal(body, &response); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}

	if len(response.Content) == 0 {
		return nil, fmt.Errorf("no content in response")
	}

	answers, err := parseBatchAnswers(response.Content[0].Text)
	if err != nil {
		return nil, err
	}

	suggestions := make([]service.FallbackSuggestion, 0, len(answers))
	for _, a := range answers {
		if a.Row < 1 || a.Row > len(requests) {
			continue
		}
		suggestions = append(suggestions, service.FallbackSuggestion{
			RowKey:     requests[a.Row-1].RowKey,
			CategoryID: a.Category,
			Confidence: a.Confidence,
		})
	}
	return suggestions, nil
}

// Close stops the rate limiter.
func (c *anthropicClient) Close() error {
	c.limiter.Close()
	return nil
}

// anthropicResponse represents the Anthropic API response structure.
type anthropicResponse struct {
	ID         string `json:"id"`
	Type       string `json:"type"`
	Role       string `json:"role"`
	Model      string `json:"model"`
	StopReason string `json:"stop_reason"`
	Content    []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
	Usage struct {
		InputTokens  int `json:"input_tokens"`
		OutputTokens int `json:"output_tokens"`
	} `json:"usage"`
}
