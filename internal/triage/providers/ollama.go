package providers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	dispatcherrors "github.com/sirenlab/dispatchd/internal/errors"
)

// OllamaClient implements Classifier against a local Ollama daemon.
type OllamaClient struct {
	model   string
	baseURL string
	client  *http.Client
}

// NewOllamaClient creates a new Ollama classifier client.
func NewOllamaClient(baseURL, model string, timeout time.Duration) *OllamaClient {
	if baseURL == "" {
		baseURL = "http://localhost:11434"
	}
	if model == "" {
		model = "gemma:4b"
	}
	if timeout <= 0 {
		timeout = 20 * time.Second
	}
	return &OllamaClient{
		model:   model,
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: timeout},
	}
}

// Name returns the provider name.
func (c *OllamaClient) Name() string {
	return "ollama"
}

type ollamaMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type ollamaRequest struct {
	Model    string          `json:"model"`
	Messages []ollamaMessage `json:"messages"`
	Format   string          `json:"format,omitempty"`
	Stream   bool            `json:"stream"`
	Options  ollamaOptions   `json:"options"`
}

type ollamaOptions struct {
	Temperature float64 `json:"temperature"`
}

type ollamaResponse struct {
	Message ollamaMessage `json:"message"`
	Done    bool          `json:"done"`
}

// Classify sends the description and parses the JSON classification.
func (c *OllamaClient) Classify(ctx context.Context, description string) (*Classification, error) {
	body, err := json.Marshal(ollamaRequest{
		Model: c.model,
		Messages: []ollamaMessage{
			{Role: "system", Content: SystemPrompt},
			{Role: "user", Content: description},
		},
		Format:  "json",
		Stream:  false,
		Options: ollamaOptions{Temperature: 0},
	})
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/chat", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, dispatcherrors.Provider("classify", c.Name(), err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		payload, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		err := fmt.Errorf("HTTP %d: %s", resp.StatusCode, strings.TrimSpace(string(payload)))
		return nil, dispatcherrors.New(dispatcherrors.KindProvider, "classify", err).
			WithProvider(c.Name()).WithStatusCode(resp.StatusCode)
	}

	var parsed ollamaResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, dispatcherrors.Provider("classify", c.Name(), err)
	}
	if parsed.Message.Content == "" {
		return nil, dispatcherrors.Provider("classify", c.Name(), fmt.Errorf("response has no content"))
	}

	cls, err := ParseClassification(parsed.Message.Content)
	if err != nil {
		return nil, dispatcherrors.Provider("classify", c.Name(), err)
	}
	return cls, nil
}
