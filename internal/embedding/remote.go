package embedding

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
)

const defaultEmbeddingBaseURL = "https://api.openai.com/v1"

// RemoteProvider calls an OpenAI-compatible /embeddings endpoint
type RemoteProvider struct {
	config     Config
	httpClient *http.Client
}

type embeddingRequest struct {
	Model      string `json:"model"`
	Input      string `json:"input"`
	Dimensions int    `json:"dimensions,omitempty"`
}

type embeddingResponse struct {
	Data []struct {
		Index     int       `json:"index"`
		Embedding []float32 `json:"embedding"`
	} `json:"data"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

// NewRemoteProvider creates a provider for the configured endpoint
func NewRemoteProvider(config Config) (*RemoteProvider, error) {
	if config.Model == "" {
		return nil, fmt.Errorf("model is required for remote embeddings")
	}

	if config.Dimensions <= 0 {
		return nil, fmt.Errorf("dimensions must be positive: %d", config.Dimensions)
	}

	if config.BaseURL == "" {
		config.BaseURL = defaultEmbeddingBaseURL
	}

	config.BaseURL = strings.TrimRight(config.BaseURL, "/")

	if config.Timeout <= 0 {
		config.Timeout = 30 * time.Second
	}

	return &RemoteProvider{config: config, httpClient: &http.Client{}}, nil
}

// GenerateEmbedding generates an embedding for the given text
func (p *RemoteProvider) GenerateEmbedding(ctx context.Context, text string) ([]float32, error) {
	ctx, cancel := context.WithTimeout(ctx, p.config.Timeout)
	defer cancel()

	body, err := json.Marshal(embeddingRequest{
		Model:      p.config.Model,
		Input:      text,
		Dimensions: p.config.Dimensions,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.config.BaseURL+"/embeddings", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	if p.config.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+p.config.APIKey)
	}

	resp, err := p.httpClient.Do(req)
	if err != nil {
		if stderrors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, errors.Wrapf(err, errors.ErrTypeTimeout, "embedding request exceeded %s", p.config.Timeout)
		}

		return nil, errors.Wrap(err, errors.ErrTypeEmbedding, "embedding request failed")
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrTypeEmbedding, "failed to read embedding response")
	}

	if resp.StatusCode != http.StatusOK {
		return nil, errors.Newf(errors.ErrTypeEmbedding, "embedding request failed with status %d: %s",
			resp.StatusCode, strings.TrimSpace(string(data)))
	}

	var parsed embeddingResponse
	if err := json.Unmarshal(data, &parsed); err != nil {
		return nil, errors.Wrap(err, errors.ErrTypeEmbedding, "failed to parse embedding response")
	}

	if parsed.Error != nil {
		return nil, errors.Newf(errors.ErrTypeEmbedding, "embedding API error: %s", parsed.Error.Message)
	}

	if len(parsed.Data) != 1 {
		return nil, errors.Newf(errors.ErrTypeEmbedding, "expected 1 embedding, got %d", len(parsed.Data))
	}

	vec := parsed.Data[0].Embedding
	if len(vec) != p.config.Dimensions {
		return nil, errors.Newf(errors.ErrTypeEmbedding, "dimension mismatch: expected %d, got %d",
			p.config.Dimensions, len(vec))
	}

	return Normalize(vec), nil
}

// GetDimensions returns the dimensionality of embeddings produced by this provider
func (p *RemoteProvider) GetDimensions() int {
	return p.config.Dimensions
}

// IsEnabled reports whether the endpoint can be called; only the public
// OpenAI endpoint requires a key
func (p *RemoteProvider) IsEnabled() bool {
	return p.config.APIKey != "" || p.config.BaseURL != defaultEmbeddingBaseURL
}

// GetName returns the provider name for identification
func (p *RemoteProvider) GetName() string {
	return fmt.Sprintf("remote:%s:%d", p.config.Model, p.config.Dimensions)
}
