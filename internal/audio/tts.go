package audio

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"
)

// TTSClient wraps the OpenAI speech API used to synthesize drop audio from a
// text script. The capability is opaque here: script in, audio bytes out.
type TTSClient struct {
	apiKey     string
	model      string
	baseURL    string
	httpClient *http.Client
	logger     *zap.Logger
}

// TTSConfig holds the TTS client configuration.
type TTSConfig struct {
	APIKey  string // OpenAI API key (required)
	Model   string // Model to use (default: gpt-4o-mini-tts)
	BaseURL string // API base URL (default: https://api.openai.com/v1)
	Timeout time.Duration
}

// NewTTSClient creates a new speech synthesis client.
func NewTTSClient(cfg TTSConfig, logger *zap.Logger) (*TTSClient, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("OPENAI_API_KEY is required for speech synthesis")
	}
	if cfg.Model == "" {
		cfg.Model = "gpt-4o-mini-tts"
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.openai.com/v1"
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}

	return &TTSClient{
		apiKey:  cfg.APIKey,
		model:   cfg.Model,
		baseURL: cfg.BaseURL,
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
		},
		logger: logger,
	}, nil
}

// SpeechRequest is the payload for the speech endpoint.
type SpeechRequest struct {
	Model          string  `json:"model"`
	Input          string  `json:"input"`
	Voice          string  `json:"voice"`
	Speed          float64 `json:"speed,omitempty"`
	Instructions   string  `json:"instructions,omitempty"`
	ResponseFormat string  `json:"response_format,omitempty"`
}

type speechErrorResponse struct {
	Error *struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error,omitempty"`
}

// Speech synthesizes audio for the given request and returns raw MP3 bytes.
func (c *TTSClient) Speech(ctx context.Context, req SpeechRequest) ([]byte, error) {
	if req.Model == "" {
		req.Model = c.model
	}
	if req.ResponseFormat == "" {
		req.ResponseFormat = "mp3"
	}

	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/audio/speech", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("API request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		var apiErr speechErrorResponse
		if err := json.Unmarshal(respBody, &apiErr); err == nil && apiErr.Error != nil {
			return nil, fmt.Errorf("speech API error: %s (%s)", apiErr.Error.Message, apiErr.Error.Type)
		}
		return nil, fmt.Errorf("speech API returned status %d", resp.StatusCode)
	}

	if len(respBody) == 0 {
		return nil, fmt.Errorf("speech API returned empty audio")
	}

	c.logger.Debug("speech synthesized",
		zap.String("voice", req.Voice),
		zap.Int("bytes", len(respBody)),
	)

	return respBody, nil
}
