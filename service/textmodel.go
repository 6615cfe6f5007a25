package service

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/andyc1997/kyc-agent/backend/config"
)

// TextModelService is the client for the generative-text inference
// collaborator (OpenAI-compatible chat completions API).
type TextModelService struct {
	config     *config.TextModelConfig
	httpClient *http.Client
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
	Temperature float64       `json:"temperature,omitempty"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

func NewTextModelService(cfg *config.TextModelConfig) *TextModelService {
	return &TextModelService{
		config: cfg,
		httpClient: &http.Client{
			Timeout: 120 * time.Second,
		},
	}
}

// Complete sends one prompt and returns the model's text output.
func (s *TextModelService) Complete(ctx context.Context, prompt string) (string, error) {
	reqBody := chatRequest{
		Model:       s.config.Model,
		Messages:    []chatMessage{{Role: "user", Content: prompt}},
		MaxTokens:   s.config.MaxTokens,
		Temperature: s.config.Temperature,
	}

	jsonData, err := json.Marshal(reqBody)
	if err != nil {
		return "", fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", s.config.APIURL+"/chat/completions", bytes.NewBuffer(jsonData))
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Authorization", "Bearer "+s.config.APIKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("failed to read response: %w", err)
	}

	var result chatResponse
	if err := json.Unmarshal(body, &result); err != nil {
		return "", fmt.Errorf("failed to parse response: %w, body: %s", err, string(body))
	}

	if result.Error != nil {
		return "", fmt.Errorf("text model API error: %s", result.Error.Message)
	}
	if len(result.Choices) == 0 {
		return "", fmt.Errorf("text model returned no choices")
	}

	output := strings.TrimSpace(result.Choices[0].Message.Content)
	if output == "" {
		return "", fmt.Errorf("text model returned an empty response")
	}
	return output, nil
}

// codeFencePattern matches a single markdown code fence wrapping the
// whole output, the one decoration models reliably add.
var codeFencePattern = regexp.MustCompile("(?s)\\A```(?:json)?\\s*\\n?(.*?)\\n?```\\z")

// DecodeModelJSON decodes a structured model output into v. It strips a
// wrapping markdown code fence, nothing more: output that still isn't
// valid JSON is an error, never a candidate for substring extraction.
func DecodeModelJSON(output string, v any) error {
	trimmed := strings.TrimSpace(output)
	if m := codeFencePattern.FindStringSubmatch(trimmed); m != nil {
		trimmed = strings.TrimSpace(m[1])
	}
	if err := json.Unmarshal([]byte(trimmed), v); err != nil {
		return fmt.Errorf("model output is not valid JSON: %w", err)
	}
	return nil
}
