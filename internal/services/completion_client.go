package services

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

var ErrCompletionUnavailable = errors.New("completion service is not configured")

const (
	CompletionRoleSystem    = "system"
	CompletionRoleUser      = "user"
	CompletionRoleAssistant = "assistant"
)

type CompletionMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Completer produces one assistant reply. Implementations keep no state
// between calls; the full context is passed every time.
type Completer interface {
	Complete(ctx context.Context, systemPrompt string, history []CompletionMessage, newMessage string) (string, error)
}

// OpenAICompletionClient talks to any OpenAI-compatible chat completions
// endpoint.
type OpenAICompletionClient struct {
	baseURL    string
	apiKey     string
	model      string
	timeout    time.Duration
	httpClient *http.Client
}

func NewOpenAICompletionClient(baseURL, apiKey, model string, timeout time.Duration) *OpenAICompletionClient {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &OpenAICompletionClient{
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     apiKey,
		model:      model,
		timeout:    timeout,
		httpClient: http.DefaultClient,
	}
}

type chatCompletionRequest struct {
	Model       string              `json:"model"`
	Messages    []CompletionMessage `json:"messages"`
	Temperature float64             `json:"temperature"`
}

type chatCompletionResponse struct {
	Choices []struct {
		Message CompletionMessage `json:"message"`
	} `json:"choices"`
}

func (c *OpenAICompletionClient) Complete(
	ctx context.Context,
	systemPrompt string,
	history []CompletionMessage,
	newMessage string,
) (string, error) {
	if c.apiKey == "" {
		return "", ErrCompletionUnavailable
	}

	messages := make([]CompletionMessage, 0, len(history)+2)
	if strings.TrimSpace(systemPrompt) != "" {
		messages = append(messages, CompletionMessage{Role: CompletionRoleSystem, Content: systemPrompt})
	}
	messages = append(messages, history...)
	if strings.TrimSpace(newMessage) != "" {
		messages = append(messages, CompletionMessage{Role: CompletionRoleUser, Content: newMessage})
	}

	body, err := json.Marshal(chatCompletionRequest{Model: c.model, Messages: messages, Temperature: 0.4})
	if err != nil {
		return "", fmt.Errorf("marshal completion payload: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("build completion request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("request completion: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		responseBody, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return "", fmt.Errorf("request completion: status %d: %s", resp.StatusCode, strings.TrimSpace(string(responseBody)))
	}

	var response chatCompletionResponse
	if err := json.NewDecoder(resp.Body).Decode(&response); err != nil {
		return "", fmt.Errorf("decode completion response: %w", err)
	}
	if len(response.Choices) == 0 {
		return "", fmt.Errorf("completion response has no choices")
	}
	reply := strings.TrimSpace(response.Choices[0].Message.Content)
	if reply == "" {
		return "", fmt.Errorf("completion response is empty")
	}
	return reply, nil
}
