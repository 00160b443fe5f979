package service

import (
	"context"
	"encoding/base64"
	"fmt"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/timmy/memeindex/internal/domain"
	"github.com/timmy/memeindex/internal/prompts"
)

// Describer produces a text description of an image.
type Describer interface {
	Describe(ctx context.Context, imageData []byte, format string) (string, error)
	Health(ctx context.Context) HealthStatus
	GetModel() string
}

// HealthStatus reports whether the description model can be reached.
type HealthStatus struct {
	Available bool   `json:"available"`
	Model     string `json:"model"`
	Error     string `json:"error,omitempty"`
}

// VLMService handles image description generation using Vision Language Models.
type VLMService struct {
	client   *resty.Client
	provider string
	model    string
}

// VLMConfig holds configuration for VLM service.
type VLMConfig struct {
	Provider string // "ollama" or "openai"
	Model    string
	APIKey   string
	BaseURL  string
	Timeout  time.Duration
}

// NewVLMService creates a new VLM service.
// Parameters:
//   - cfg: VLM configuration including provider, model, and API key.
//
// Returns:
//   - *VLMService: initialized VLM client wrapper.
//   - error: non-nil for an unknown provider.
func NewVLMService(cfg *VLMConfig) (*VLMService, error) {
	switch cfg.Provider {
	case "ollama", "openai":
	default:
		return nil, fmt.Errorf("%w: unknown vlm provider %q", domain.ErrValidation, cfg.Provider)
	}

	baseURL := cfg.BaseURL
	if baseURL == "" {
		if cfg.Provider == "ollama" {
			baseURL = "http://localhost:11434"
		} else {
			baseURL = "https://api.openai.com/v1"
		}
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 120 * time.Second
	}

	client := resty.New().
		SetBaseURL(strings.TrimSuffix(baseURL, "/")).
		SetTimeout(timeout).
		SetHeader("Content-Type", "application/json")
	if cfg.APIKey != "" {
		client.SetAuthToken(cfg.APIKey)
	}

	return &VLMService{
		client:   client,
		provider: cfg.Provider,
		model:    cfg.Model,
	}, nil
}

// GetModel returns the model name being used.
// Parameters: none.
// Returns:
//   - string: model identifier.
func (s *VLMService) GetModel() string {
	return s.model
}

// Describe generates a description for an image.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - imageData: raw image bytes.
//   - format: image format (jpeg, png, gif, webp, bmp).
//
// Returns:
//   - string: generated description text, trimmed and non-empty.
//   - error: wraps domain.ErrUpstreamUnavailable on transport or API failure.
func (s *VLMService) Describe(ctx context.Context, imageData []byte, format string) (string, error) {
	var text string
	var err error
	if s.provider == "ollama" {
		text, err = s.describeOllama(ctx, imageData)
	} else {
		text, err = s.describeOpenAI(ctx, imageData, format)
	}
	if err != nil {
		return "", err
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return "", fmt.Errorf("%w: %s returned an empty description", domain.ErrUpstreamUnavailable, s.model)
	}
	return text, nil
}

// Health checks that the model server answers. It never generates.
func (s *VLMService) Health(ctx context.Context) HealthStatus {
	path := "/models"
	if s.provider == "ollama" {
		path = "/api/tags"
	}
	status := HealthStatus{Model: s.model}
	resp, err := s.client.R().SetContext(ctx).Get(path)
	switch {
	case err != nil:
		status.Error = err.Error()
	case resp.IsError():
		status.Error = fmt.Sprintf("HTTP %d", resp.StatusCode())
	default:
		status.Available = true
	}
	return status
}

type ollamaGenerateRequest struct {
	Model  string   `json:"model"`
	Prompt string   `json:"prompt"`
	Images []string `json:"images"`
	Stream bool     `json:"stream"`
}

type ollamaGenerateResponse struct {
	Response string `json:"response"`
	Error    string `json:"error,omitempty"`
}

func (s *VLMService) describeOllama(ctx context.Context, imageData []byte) (string, error) {
	req := ollamaGenerateRequest{
		Model:  s.model,
		Prompt: prompts.Describe(),
		Images: []string{base64.StdEncoding.EncodeToString(imageData)},
		Stream: false,
	}

	var resp ollamaGenerateResponse
	httpResp, err := s.client.R().
		SetContext(ctx).
		SetBody(req).
		SetResult(&resp).
		SetError(&resp).
		Post("/api/generate")
	if err != nil {
		return "", fmt.Errorf("%w: failed to call ollama: %v", domain.ErrUpstreamUnavailable, err)
	}
	if httpResp.IsError() {
		return "", fmt.Errorf("%w: ollama returned HTTP %d: %s", domain.ErrUpstreamUnavailable, httpResp.StatusCode(), resp.Error)
	}
	return resp.Response, nil
}

// OpenAI-compatible Chat Completion API request/response structures
type openAIRequest struct {
	Model     string          `json:"model"`
	Messages  []openAIMessage `json:"messages"`
	MaxTokens int             `json:"max_tokens"`
}

type openAIMessage struct {
	Role    string      `json:"role"`
	Content interface{} `json:"content"` // string for system, []interface{} for user with images
}

type openAITextContent struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type openAIImageContent struct {
	Type     string         `json:"type"`
	ImageURL openAIImageURL `json:"image_url"`
}

type openAIImageURL struct {
	URL    string `json:"url"`
	Detail string `json:"detail,omitempty"`
}

type openAIResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error,omitempty"`
}

func (s *VLMService) describeOpenAI(ctx context.Context, imageData []byte, format string) (string, error) {
	dataURL := fmt.Sprintf("data:%s;base64,%s", getMIMEType(format), base64.StdEncoding.EncodeToString(imageData))

	req := openAIRequest{
		Model: s.model,
		Messages: []openAIMessage{
			{Role: "system", Content: prompts.VLMSystemPrompt},
			{
				Role: "user",
				Content: []interface{}{
					openAITextContent{Type: "text", Text: prompts.VLMUserPrompt},
					openAIImageContent{
						Type:     "image_url",
						ImageURL: openAIImageURL{URL: dataURL, Detail: "auto"},
					},
				},
			},
		},
		MaxTokens: 300,
	}

	var resp openAIResponse
	httpResp, err := s.client.R().
		SetContext(ctx).
		SetBody(req).
		SetResult(&resp).
		SetError(&resp).
		Post("/chat/completions")
	if err != nil {
		return "", fmt.Errorf("%w: failed to call VLM API: %v", domain.ErrUpstreamUnavailable, err)
	}

	if httpResp.IsError() {
		errorMsg := string(httpResp.Body())
		if resp.Error != nil {
			errorMsg = resp.Error.Message
		}
		return "", fmt.Errorf("%w: VLM API returned HTTP %d: %s", domain.ErrUpstreamUnavailable, httpResp.StatusCode(), errorMsg)
	}
	if resp.Error != nil {
		return "", fmt.Errorf("%w: VLM API error: %s", domain.ErrUpstreamUnavailable, resp.Error.Message)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("%w: no choices in VLM response", domain.ErrUpstreamUnavailable)
	}
	return resp.Choices[0].Message.Content, nil
}

func getMIMEType(format string) string {
	switch format {
	case "jpg", "jpeg":
		return "image/jpeg"
	case "png":
		return "image/png"
	case "gif":
		return "image/gif"
	case "webp":
		return "image/webp"
	case "bmp":
		return "image/bmp"
	default:
		return "image/jpeg"
	}
}
