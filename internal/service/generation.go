package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/timmy/kbase/internal/prompts"
)

// GenerationService synthesizes an answer from retrieved context using an
// OpenAI-compatible chat completions endpoint.
type GenerationService struct {
	client   *resty.Client
	model    string
	endpoint string
	enabled  bool
}

// GenerationConfig holds configuration for answer generation.
type GenerationConfig struct {
	Enabled bool
	Model   string
	APIKey  string
	BaseURL string
}

// NewGenerationService creates a new generation service. A nil or disabled
// config returns a service that reports IsEnabled false.
func NewGenerationService(cfg *GenerationConfig) *GenerationService {
	if cfg == nil || !cfg.Enabled {
		return &GenerationService{enabled: false}
	}

	client := resty.New()
	client.SetHeader("Authorization", "Bearer "+cfg.APIKey)
	client.SetHeader("Content-Type", "application/json")
	client.SetTimeout(60 * time.Second)

	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = "https://api.openai.com/v1"
	}

	return &GenerationService{
		client:   client,
		model:    cfg.Model,
		endpoint: baseURL + "/chat/completions",
		enabled:  true,
	}
}

// IsEnabled returns whether answer generation is enabled
func (s *GenerationService) IsEnabled() bool {
	return s.enabled
}

// Generate produces an answer grounded in contextText.
func (s *GenerationService) Generate(ctx context.Context, query, contextText string) (string, error) {
	if !s.enabled {
		return "", nil
	}

	req := chatRequest{
		Model: s.model,
		Messages: []chatMessage{
			{
				Role:    "system",
				Content: prompts.AnswerGeneration,
			},
			{
				Role:    "user",
				Content: fmt.Sprintf("Context:\n%s\n\nQuestion: %s", contextText, query),
			},
		},
		MaxTokens:   800,
		Temperature: 0.2,
	}

	var resp chatResponse
	httpResp, err := s.client.R().
		SetContext(ctx).
		SetBody(req).
		SetResult(&resp).
		Post(s.endpoint)

	if err != nil {
		return "", fmt.Errorf("generation API call failed: %w", err)
	}

	if httpResp.StatusCode() < 200 || httpResp.StatusCode() >= 300 {
		if resp.Error != nil {
			return "", chatAPIError("generation.Generate", httpResp.StatusCode(),
				fmt.Errorf("generation API error: %s", resp.Error.Message))
		}
		return "", chatAPIError("generation.Generate", httpResp.StatusCode(),
			fmt.Errorf("generation API error: status %d", httpResp.StatusCode()))
	}

	if len(resp.Choices) == 0 {
		return "", nil
	}

	return strings.TrimSpace(resp.Choices[0].Message.Content), nil
}
