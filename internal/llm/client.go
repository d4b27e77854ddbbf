// Package llm is the single seam to the text-generation service. Callers
// hand it a prompt.Request and get back a types.GeneratedQuery or a typed
// error; the provider wire formats never leave this package.
package llm

import (
	"bytes"
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/kyleking/sql-assist/internal/errors"
	"github.com/kyleking/sql-assist/internal/prompt"
	"github.com/kyleking/sql-assist/internal/types"
)

// Provider constants for the supported generation services
const (
	ProviderOpenAI    = "openai"
	ProviderAnthropic = "anthropic"
	ProviderOllama    = "ollama"
)

// Default endpoints per provider
const (
	DefaultOpenAIBaseURL    = "https://api.openai.com/v1"
	DefaultAnthropicBaseURL = "https://api.anthropic.com/v1"
	DefaultOllamaBaseURL    = "http://localhost:11434"
)

const maxTokens = 1000

// Generator turns a generation request into a structured query
type Generator interface {
	Generate(ctx context.Context, req prompt.Request) (*types.GeneratedQuery, error)
}

// Config describes one generation service
type Config struct {
	Provider    string
	Model       string
	APIKey      string
	BaseURL     string
	Timeout     time.Duration
	Temperature float64
}

// Client implements Generator for openai, anthropic and ollama
type Client struct {
	config     Config
	httpClient *http.Client
}

// NewClient validates config and creates a client
func NewClient(config Config) (*Client, error) {
	if config.Model == "" {
		return nil, errors.NewConfigError("model is required", "llm.model")
	}

	switch config.Provider {
	case ProviderOpenAI:
		if config.APIKey == "" {
			return nil, errors.NewConfigError("API key is required for OpenAI provider", "llm.api_key")
		}

		if config.BaseURL == "" {
			config.BaseURL = DefaultOpenAIBaseURL
		}
	case ProviderAnthropic:
		if config.APIKey == "" {
			return nil, errors.NewConfigError("API key is required for Anthropic provider", "llm.api_key")
		}

		if config.BaseURL == "" {
			config.BaseURL = DefaultAnthropicBaseURL
		}
	case ProviderOllama:
		if config.BaseURL == "" {
			config.BaseURL = DefaultOllamaBaseURL
		}
	default:
		return nil, errors.NewConfigError(fmt.Sprintf("unsupported provider: %s", config.Provider), "llm.provider")
	}

	config.BaseURL = strings.TrimRight(config.BaseURL, "/")

	if config.Timeout <= 0 {
		config.Timeout = 60 * time.Second
	}

	return &Client{config: config, httpClient: &http.Client{}}, nil
}

// Provider returns the configured provider name
func (c *Client) Provider() string {
	return c.config.Provider
}

// Model returns the configured model name
func (c *Client) Model() string {
	return c.config.Model
}

// Generate calls the service exactly once and parses its reply. A reply
// that is not the expected structured object yields a response_parse error;
// exceeding the configured timeout yields a timeout error.
func (c *Client) Generate(ctx context.Context, req prompt.Request) (*types.GeneratedQuery, error) {
	ctx, cancel := context.WithTimeout(ctx, c.config.Timeout)
	defer cancel()

	var (
		raw string
		err error
	)

	switch c.config.Provider {
	case ProviderOpenAI:
		raw, err = c.generateOpenAI(ctx, req)
	case ProviderAnthropic:
		raw, err = c.generateAnthropic(ctx, req)
	case ProviderOllama:
		raw, err = c.generateOllama(ctx, req)
	default:
		return nil, errors.Newf(errors.ErrTypeConfig, "unsupported provider: %s", c.config.Provider)
	}

	if err != nil {
		return nil, err
	}

	return ParseReply(raw)
}

// OpenAI API structures
type openAIRequest struct {
	Model          string                `json:"model"`
	Messages       []openAIMessage       `json:"messages"`
	Temperature    float64               `json:"temperature"`
	MaxTokens      int                   `json:"max_tokens,omitempty"`
	ResponseFormat *openAIResponseFormat `json:"response_format,omitempty"`
}

type openAIMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type openAIResponseFormat struct {
	Type string `json:"type"`
}

type openAIResponse struct {
	Choices []struct {
		Message openAIMessage `json:"message"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

func (c *Client) generateOpenAI(ctx context.Context, req prompt.Request) (string, error) {
	body := openAIRequest{
		Model: c.config.Model,
		Messages: []openAIMessage{
			{Role: "system", Content: req.RoleInstruction},
			{Role: "user", Content: req.UserPrompt()},
		},
		Temperature:    c.config.Temperature,
		MaxTokens:      maxTokens,
		ResponseFormat: &openAIResponseFormat{Type: "json_object"},
	}

	headers := map[string]string{"Authorization": "Bearer " + c.config.APIKey}

	data, err := c.post(ctx, "/chat/completions", body, headers)
	if err != nil {
		return "", err
	}

	var resp openAIResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return "", errors.Wrap(err, errors.ErrTypeResponseParse, "failed to decode OpenAI response")
	}

	if resp.Error != nil {
		return "", errors.Newf(errors.ErrTypeGeneration, "OpenAI API error: %s", resp.Error.Message)
	}

	if len(resp.Choices) == 0 {
		return "", errors.New(errors.ErrTypeResponseParse, "no choices in OpenAI response")
	}

	return resp.Choices[0].Message.Content, nil
}

// Anthropic API structures
type anthropicRequest struct {
	Model       string             `json:"model"`
	Messages    []anthropicMessage `json:"messages"`
	MaxTokens   int                `json:"max_tokens"`
	System      string             `json:"system,omitempty"`
	Temperature float64            `json:"temperature"`
}

type anthropicMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type anthropicResponse struct {
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

func (c *Client) generateAnthropic(ctx context.Context, req prompt.Request) (string, error) {
	body := anthropicRequest{
		Model:       c.config.Model,
		MaxTokens:   maxTokens,
		System:      req.RoleInstruction,
		Temperature: c.config.Temperature,
		Messages: []anthropicMessage{
			{Role: "user", Content: req.UserPrompt()},
		},
	}

	headers := map[string]string{
		"x-api-key":         c.config.APIKey,
		"anthropic-version": "2023-06-01",
	}

	data, err := c.post(ctx, "/messages", body, headers)
	if err != nil {
		return "", err
	}

	var resp anthropicResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return "", errors.Wrap(err, errors.ErrTypeResponseParse, "failed to decode Anthropic response")
	}

	if resp.Error != nil {
		return "", errors.Newf(errors.ErrTypeGeneration, "Anthropic API error: %s", resp.Error.Message)
	}

	for _, block := range resp.Content {
		if block.Type == "" || block.Type == "text" {
			return block.Text, nil
		}
	}

	return "", errors.New(errors.ErrTypeResponseParse, "no text content in Anthropic response")
}

// Ollama API structures
type ollamaRequest struct {
	Model   string         `json:"model"`
	System  string         `json:"system,omitempty"`
	Prompt  string         `json:"prompt"`
	Stream  bool           `json:"stream"`
	Format  string         `json:"format,omitempty"`
	Options map[string]any `json:"options,omitempty"`
}

type ollamaResponse struct {
	Response string `json:"response"`
	Done     bool   `json:"done"`
	Error    string `json:"error,omitempty"`
}

func (c *Client) generateOllama(ctx context.Context, req prompt.Request) (string, error) {
	body := ollamaRequest{
		Model:   c.config.Model,
		System:  req.RoleInstruction,
		Prompt:  req.UserPrompt(),
		Stream:  false,
		Format:  "json",
		Options: map[string]any{"temperature": c.config.Temperature},
	}

	data, err := c.post(ctx, "/api/generate", body, nil)
	if err != nil {
		return "", err
	}

	var resp ollamaResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return "", errors.Wrap(err, errors.ErrTypeResponseParse, "failed to decode Ollama response")
	}

	if resp.Error != "" {
		return "", errors.Newf(errors.ErrTypeGeneration, "Ollama API error: %s", resp.Error)
	}

	return resp.Response, nil
}

// post sends one JSON request and returns the body of a 200 reply
func (c *Client) post(ctx context.Context, endpoint string, reqBody any, headers map[string]string) ([]byte, error) {
	jsonBody, err := json.Marshal(reqBody)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrTypeInternal, "failed to marshal request")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.config.BaseURL+endpoint, bytes.NewReader(jsonBody))
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrTypeGeneration, "failed to create request")
	}

	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if stderrors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, errors.Wrapf(err, errors.ErrTypeTimeout, "%s did not respond within %s",
				c.config.Provider, c.config.Timeout).
				WithSuggestion("Retry, or raise llm.timeout")
		}

		return nil, errors.Wrapf(err, errors.ErrTypeGeneration, "request to %s failed", c.config.Provider)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		if stderrors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, errors.Wrapf(err, errors.ErrTypeTimeout, "%s did not respond within %s",
				c.config.Provider, c.config.Timeout)
		}

		return nil, errors.Wrap(err, errors.ErrTypeGeneration, "failed to read response")
	}

	if resp.StatusCode != http.StatusOK {
		return nil, errors.Newf(errors.ErrTypeGeneration, "API request failed with status %d: %s",
			resp.StatusCode, strings.TrimSpace(string(body)))
	}

	return body, nil
}
