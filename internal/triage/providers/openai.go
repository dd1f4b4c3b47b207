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

const defaultOpenAIBase = "https://api.openai.com/v1"

// OpenAIClient implements Classifier against the OpenAI chat completions API.
type OpenAIClient struct {
	apiKey  string
	model   string
	baseURL string
	client  *http.Client
}

// NewOpenAIClient creates a new OpenAI classifier client.
func NewOpenAIClient(apiKey, model, baseURL string, timeout time.Duration) *OpenAIClient {
	if baseURL == "" {
		baseURL = defaultOpenAIBase
	}
	if model == "" {
		model = "gpt-4o-mini"
	}
	if timeout <= 0 {
		timeout = 20 * time.Second
	}
	return &OpenAIClient{
		apiKey:  apiKey,
		model:   model,
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: timeout},
	}
}

// Name returns the provider name.
func (c *OpenAIClient) Name() string {
	return "openai"
}

type openaiMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type openaiRequest struct {
	Model          string          `json:"model"`
	Messages       []openaiMessage `json:"messages"`
	Temperature    float64         `json:"temperature"`
	MaxTokens      int             `json:"max_tokens,omitempty"`
	ResponseFormat *responseFormat `json:"response_format,omitempty"`
}

type responseFormat struct {
	Type string `json:"type"`
}

type openaiResponse struct {
	Choices []struct {
		Message openaiMessage `json:"message"`
	} `json:"choices"`
}

// Classify sends the description and parses the JSON classification.
func (c *OpenAIClient) Classify(ctx context.Context, description string) (*Classification, error) {
	body, err := json.Marshal(openaiRequest{
		Model: c.model,
		Messages: []openaiMessage{
			{Role: "system", Content: SystemPrompt},
			{Role: "user", Content: description},
		},
		Temperature:    0,
		MaxTokens:      400,
		ResponseFormat: &responseFormat{Type: "json_object"},
	})
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
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

	var parsed openaiResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, dispatcherrors.Provider("classify", c.Name(), err)
	}
	if len(parsed.Choices) == 0 || parsed.Choices[0].Message.Content == "" {
		return nil, dispatcherrors.Provider("classify", c.Name(), fmt.Errorf("response has no content"))
	}

	cls, err := ParseClassification(parsed.Choices[0].Message.Content)
	if err != nil {
		return nil, dispatcherrors.Provider("classify", c.Name(), err)
	}
	return cls, nil
}
