// Package classifier asks a language model to classify inbound mail.
package classifier

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/goccy/go-json"

	"github.com/mixelka/mailtriage/pkg/models"
)

// Config for the Gemini client
type Config struct {
	BaseURL string // e.g. https://generativelanguage.googleapis.com
	APIKey  string
	Model   string
	Prompt  PromptOptions
	Timeout time.Duration
}

// Gemini classifies messages with the Gemini generateContent API
type Gemini struct {
	baseURL    string
	apiKey     string
	model      string
	prompt     PromptOptions
	httpClient *http.Client
	logger     *slog.Logger
}

type generateRequest struct {
	Contents         []content        `json:"contents"`
	GenerationConfig generationConfig `json:"generationConfig"`
}

type content struct {
	Role  string `json:"role,omitempty"`
	Parts []part `json:"parts"`
}

type part struct {
	Text string `json:"text"`
}

type generationConfig struct {
	ResponseMIMEType string  `json:"responseMimeType"`
	Temperature      float64 `json:"temperature"`
}

type generateResponse struct {
	Candidates []struct {
		Content      content `json:"content"`
		FinishReason string  `json:"finishReason"`
	} `json:"candidates"`
	PromptFeedback *struct {
		BlockReason string `json:"blockReason"`
	} `json:"promptFeedback"`
}

type apiError struct {
	Error struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
		Status  string `json:"status"`
	} `json:"error"`
}

// NewGemini creates a new Gemini classifier
func NewGemini(cfg Config, logger *slog.Logger) *Gemini {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	return &Gemini{
		baseURL: strings.TrimSuffix(cfg.BaseURL, "/"),
		apiKey:  cfg.APIKey,
		model:   cfg.Model,
		prompt:  cfg.Prompt,
		httpClient: &http.Client{
			Timeout: timeout,
		},
		logger: logger.With("component", "classifier"),
	}
}

// Classify never fails: any error is logged and the fallback result returned
func (g *Gemini) Classify(ctx context.Context, subject, from, body string) models.ClassificationResult {
	result, err := g.classify(ctx, subject, from, body)
	if err != nil {
		g.logger.Warn("classification failed, using fallback", "subject", subject, "error", err)
		return models.FallbackClassification()
	}

	g.logger.Debug("message classified",
		"category", result.Category,
		"action", result.Action,
		"confidence", result.Confidence,
	)
	return result
}

func (g *Gemini) classify(ctx context.Context, subject, from, body string) (models.ClassificationResult, error) {
	text, err := g.generate(ctx, buildPrompt(subject, from, body, g.prompt))
	if err != nil {
		return models.ClassificationResult{}, err
	}
	return parseResult(text)
}

// generate sends one prompt and returns the text of the first candidate
func (g *Gemini) generate(ctx context.Context, prompt string) (string, error) {
	req := generateRequest{
		Contents: []content{{Role: "user", Parts: []part{{Text: prompt}}}},
		GenerationConfig: generationConfig{
			ResponseMIMEType: "application/json",
			Temperature:      0.2,
		},
	}

	body, err := json.Marshal(req)
	if err != nil {
		return "", fmt.Errorf("failed to marshal request: %w", err)
	}

	url := fmt.Sprintf("%s/v1beta/models/%s:generateContent", g.baseURL, g.model)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}

	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-goog-api-key", g.apiKey)

	resp, err := g.httpClient.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		var apiErr apiError
		if json.Unmarshal(respBody, &apiErr) == nil && apiErr.Error.Message != "" {
			return "", fmt.Errorf("API error: %s (status %d)", apiErr.Error.Message, resp.StatusCode)
		}
		return "", fmt.Errorf("API error: %s (status %d)", string(respBody), resp.StatusCode)
	}

	var genResp generateResponse
	if err := json.Unmarshal(respBody, &genResp); err != nil {
		return "", fmt.Errorf("failed to parse response: %w", err)
	}

	if genResp.PromptFeedback != nil && genResp.PromptFeedback.BlockReason != "" {
		return "", fmt.Errorf("prompt blocked: %s", genResp.PromptFeedback.BlockReason)
	}
	if len(genResp.Candidates) == 0 {
		return "", fmt.Errorf("empty response from API")
	}

	var text strings.Builder
	for _, p := range genResp.Candidates[0].Content.Parts {
		text.WriteString(p.Text)
	}
	if text.Len() == 0 {
		return "", fmt.Errorf("candidate has no text (finish reason %s)", genResp.Candidates[0].FinishReason)
	}

	return text.String(), nil
}
