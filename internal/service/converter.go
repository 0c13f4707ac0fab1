package service

import (
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/go-resty/resty/v2"
	_ "golang.org/x/image/webp"

	"github.com/timmy/kbase/internal/domain"
	"github.com/timmy/kbase/internal/prompts"
)

// ConverterService turns raw source bytes into plain text. Plain UTF-8
// sources pass through untouched; images are described by a multimodal model.
type ConverterService struct {
	client   *resty.Client
	model    string
	endpoint string
}

// ConverterConfig holds configuration for the conversion collaborator.
type ConverterConfig struct {
	Model   string
	APIKey  string
	BaseURL string
}

// NewConverterService creates a new converter service
func NewConverterService(cfg *ConverterConfig) *ConverterService {
	client := resty.New()
	client.SetHeader("Authorization", "Bearer "+cfg.APIKey)
	client.SetHeader("Content-Type", "application/json")
	client.SetTimeout(60 * time.Second)

	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = "https://api.openai.com/v1"
	}

	return &ConverterService{
		client:   client,
		model:    cfg.Model,
		endpoint: baseURL + "/chat/completions",
	}
}

// SniffImage reports whether data is a decodable image and its format.
// webp decoding is registered alongside the stdlib formats.
func SniffImage(data []byte) (string, bool) {
	_, format, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return "", false
	}
	return format, true
}

// ExtractText converts source bytes to plain text. Valid UTF-8 content is
// used directly; binary formats other than images are rejected.
func (s *ConverterService) ExtractText(ctx context.Context, name string, data []byte) (string, error) {
	_ = ctx
	if utf8.Valid(data) {
		return string(data), nil
	}
	return "", fmt.Errorf("unsupported binary format for %s", name)
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	MaxTokens   int           `json:"max_tokens"`
	Temperature float32       `json:"temperature"`
}

type chatMessage struct {
	Role    string      `json:"role"`
	Content interface{} `json:"content"`
}

type chatContentPart struct {
	Type     string         `json:"type"`
	Text     string         `json:"text,omitempty"`
	ImageURL *chatImagePart `json:"image_url,omitempty"`
}

type chatImagePart struct {
	URL string `json:"url"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

// DescribeImage produces a textual description of an image source so it can
// be chunked and indexed like any other document.
func (s *ConverterService) DescribeImage(ctx context.Context, name string, data []byte, format string) (string, error) {
	dataURL := fmt.Sprintf("data:image/%s;base64,%s", format, base64.StdEncoding.EncodeToString(data))

	req := chatRequest{
		Model: s.model,
		Messages: []chatMessage{
			{
				Role:    "system",
				Content: prompts.ImageDescription,
			},
			{
				Role: "user",
				Content: []chatContentPart{
					{Type: "text", Text: "Describe this document image in detail:"},
					{Type: "image_url", ImageURL: &chatImagePart{URL: dataURL}},
				},
			},
		},
		MaxTokens:   1024,
		Temperature: 0.2,
	}

	var resp chatResponse
	httpResp, err := s.client.R().
		SetContext(ctx).
		SetBody(req).
		SetResult(&resp).
		Post(s.endpoint)

	if err != nil {
		return "", domain.NewTransientError("converter.DescribeImage",
			fmt.Errorf("failed to call conversion API for %s: %w", name, err))
	}

	if httpResp.StatusCode() < 200 || httpResp.StatusCode() >= 300 {
		if resp.Error != nil {
			return "", chatAPIError("converter.DescribeImage", httpResp.StatusCode(),
				fmt.Errorf("conversion API error: %s", resp.Error.Message))
		}
		return "", chatAPIError("converter.DescribeImage", httpResp.StatusCode(),
			fmt.Errorf("conversion API error: status %d", httpResp.StatusCode()))
	}

	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("conversion API returned no choices for %s", name)
	}

	return strings.TrimSpace(resp.Choices[0].Message.Content), nil
}

// chatAPIError classifies chat-completions failures: 429 and 5xx are
// retryable, everything else is permanent.
func chatAPIError(op string, status int, err error) error {
	if status == 429 || status >= 500 {
		return domain.NewTransientError(op, err)
	}
	return err
}
