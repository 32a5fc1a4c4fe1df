package embedding

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/sony/gobreaker"
)

// HTTPConfig holds the settings for an OpenAI-compatible embeddings endpoint.
type HTTPConfig struct {
	BaseURL    string
	APIKey     string
	Model      string
	Dimensions int
	Timeout    time.Duration
}

// HTTPProvider calls a hosted embeddings API. Calls run through a circuit
// breaker so a flapping embedding backend degrades the cold tier to misses
// instead of stalling every lookup on a dead connection.
type HTTPProvider struct {
	client  *http.Client
	breaker *gobreaker.CircuitBreaker
	baseURL string
	apiKey  string
	model   string
	dims    int
}

// NewHTTP creates the provider.
func NewHTTP(cfg HTTPConfig) *HTTPProvider {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 10 * time.Second
	}
	dims := cfg.Dimensions
	if dims == 0 {
		dims = 256
	}

	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:    "embeddings",
		Timeout: 30 * time.Second,
		ReadyToTrip: func(c gobreaker.Counts) bool {
			return c.ConsecutiveFailures >= 5
		},
	})

	return &HTTPProvider{
		client:  &http.Client{Timeout: timeout},
		breaker: cb,
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:  cfg.APIKey,
		model:   cfg.Model,
		dims:    dims,
	}
}

func (p *HTTPProvider) Name() string    { return "http" }
func (p *HTTPProvider) Dimensions() int { return p.dims }

type embedRequest struct {
	Input      []string `json:"input"`
	Model      string   `json:"model"`
	Dimensions int      `json:"dimensions,omitempty"`
}

type embedResponse struct {
	Data []struct {
		Embedding []float64 `json:"embedding"`
	} `json:"data"`
}

// EmbedQuery embeds a single string via POST /embeddings.
func (p *HTTPProvider) EmbedQuery(ctx context.Context, text string) ([]float64, error) {
	result, err := p.breaker.Execute(func() (interface{}, error) {
		return p.embed(ctx, text)
	})
	if err != nil {
		return nil, err
	}
	return result.([]float64), nil
}

func (p *HTTPProvider) embed(ctx context.Context, text string) ([]float64, error) {
	body, err := json.Marshal(embedRequest{
		Input:      []string{text},
		Model:      p.model,
		Dimensions: p.dims,
	})
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/embeddings", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+p.apiKey)

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("embedding request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 256))
		return nil, fmt.Errorf("embedding backend returned %d: %s", resp.StatusCode, snippet)
	}

	var parsed embedResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("decode embedding response: %w", err)
	}
	if len(parsed.Data) == 0 {
		return nil, fmt.Errorf("embedding backend returned no vectors")
	}
	return parsed.Data[0].Embedding, nil
}
