package tts

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/bytedance/sonic"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

// ElevenLabsConfig configures the ElevenLabs streaming backend.
type ElevenLabsConfig struct {
	APIKey       string
	BaseURL      string
	VoiceID      string
	ModelID      string
	OutputFormat string
	Stability    float64
	Similarity   float64
}

// ElevenLabsClient synthesizes speech with the ElevenLabs streaming endpoint.
type ElevenLabsClient struct {
	cfg        ElevenLabsConfig
	httpClient *http.Client
	logger     *zap.Logger
}

func NewElevenLabsClient(cfg ElevenLabsConfig, httpClient *http.Client, logger *zap.Logger) (*ElevenLabsClient, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("ElevenLabs API key is required")
	}
	if cfg.VoiceID == "" {
		return nil, errors.New("ElevenLabs voice id is required")
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.elevenlabs.io"
	}
	if cfg.ModelID == "" {
		cfg.ModelID = "eleven_multilingual_v2"
	}
	if cfg.OutputFormat == "" {
		cfg.OutputFormat = "pcm_16000"
	}
	if cfg.Stability == 0 {
		cfg.Stability = 0.75
	}
	if cfg.Similarity == 0 {
		cfg.Similarity = 0.7
	}
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ElevenLabsClient{
		cfg:        cfg,
		httpClient: httpClient,
		logger:     logger.With(zap.String("component", "tts"), zap.String("provider", "elevenlabs")),
	}, nil
}

type elevenLabsRequest struct {
	Text          string             `json:"text"`
	ModelID       string             `json:"model_id"`
	VoiceSettings map[string]float64 `json:"voice_settings"`
}

// Synthesize streams raw audio for text. The caller owns and must close the
// returned body.
func (c *ElevenLabsClient) Synthesize(ctx context.Context, text string) (io.ReadCloser, error) {
	base, err := url.Parse(fmt.Sprintf("%s/v1/text-to-speech/%s/stream",
		strings.TrimRight(c.cfg.BaseURL, "/"), url.PathEscape(c.cfg.VoiceID)))
	if err != nil {
		return nil, errors.Wrap(err, "parse url")
	}
	q := base.Query()
	q.Set("output_format", c.cfg.OutputFormat)
	base.RawQuery = q.Encode()

	body, err := sonic.Marshal(elevenLabsRequest{
		Text:    text,
		ModelID: c.cfg.ModelID,
		VoiceSettings: map[string]float64{
			"stability":        c.cfg.Stability,
			"similarity_boost": c.cfg.Similarity,
		},
	})
	if err != nil {
		return nil, errors.Wrap(err, "marshal payload")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, base.String(), bytes.NewReader(body))
	if err != nil {
		return nil, errors.Wrap(err, "build request")
	}
	req.Header.Set("xi-api-key", c.cfg.APIKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, errors.Wrap(err, "http request")
	}
	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		resp.Body.Close()
		return nil, errors.Errorf("bad status: %s: %s", resp.Status, strings.TrimSpace(string(msg)))
	}
	c.logger.Debug("speech stream opened", zap.Int("chars", len(text)))
	return resp.Body, nil
}
