package insight

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/mintlabs/engagemint/internal/config"
)

// Generator produces a raw JSON completion for a prompt. Implementations
// must be safe for concurrent use.
type Generator interface {
	Generate(ctx context.Context, prompt string) (string, error)
}

type llmGenerator struct {
	apiKey     string
	baseURL    string
	model      string
	maxTokens  int
	timeout    time.Duration
	httpClient *http.Client
}

func NewGenerator(cfg *config.Config) Generator {
	g := &llmGenerator{
		apiKey:    cfg.Insight.Provider.APIKey,
		baseURL:   cfg.Insight.Provider.BaseURL,
		model:     cfg.Insight.Model,
		maxTokens: cfg.Insight.MaxTokens,
		timeout:   time.Duration(cfg.Insight.TimeoutSeconds) * time.Second,
	}
	if g.maxTokens <= 0 {
		g.maxTokens = config.DefaultMaxTokens
	}
	if g.timeout <= 0 {
		g.timeout = time.Duration(config.DefaultTimeoutSeconds) * time.Second
	}
	g.httpClient = &http.Client{Timeout: g.timeout}
	return g
}

func (g *llmGenerator) Generate(ctx context.Context, prompt string) (string, error) {
	if strings.TrimSpace(g.apiKey) == "" {
		return "", fmt.Errorf("missing insight api key")
	}
	baseURL := strings.TrimRight(strings.TrimSpace(g.baseURL), "/")
	if baseURL == "" {
		return "", fmt.Errorf("missing insight base url")
	}
	if g.model == "" {
		return "", fmt.Errorf("missing insight model")
	}

	body := map[string]any{
		"model": g.model,
		"messages": []map[string]string{{
			"role":    "user",
			"content": prompt,
		}},
		"max_tokens":  g.maxTokens,
		"temperature": 0.2,
		"response_format": map[string]string{
			"type": "json_object",
		},
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return "", fmt.Errorf("marshal request: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, baseURL+"/chat/completions", bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+g.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := g.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", fmt.Errorf("insight model http %d: %s", resp.StatusCode, strings.TrimSpace(string(respBody)))
	}

	var decoded struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
	}
	if err := json.Unmarshal(respBody, &decoded); err != nil {
		return "", fmt.Errorf("decode response: %w", err)
	}
	if len(decoded.Choices) == 0 {
		return "", fmt.Errorf("empty choices in response")
	}
	content := strings.TrimSpace(decoded.Choices[0].Message.Content)
	if content == "" {
		return "", fmt.Errorf("empty content in response")
	}
	return content, nil
}

// stripFences tolerates models that wrap JSON in a markdown code block
// despite the json_object response format.
func stripFences(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}
