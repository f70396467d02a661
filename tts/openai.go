// Package tts turns reply text into a raw audio byte stream.
package tts

import (
	"context"
	"io"
	"strings"

	"github.com/pkg/errors"
	"github.com/sashabaranov/go-openai"
	"go.uber.org/zap"
)

// OpenAIConfig configures the OpenAI speech backend.
type OpenAIConfig struct {
	APIKey  string
	BaseURL string
	Model   string
	Voice   string
	Format  string
	Speed   float64
}

// OpenAIClient synthesizes speech with the OpenAI audio API.
type OpenAIClient struct {
	client *openai.Client
	cfg    OpenAIConfig
	logger *zap.Logger
}

// NewOpenAIClient defaults to tts-1, alloy and raw pcm output.
func NewOpenAIClient(cfg OpenAIConfig, logger *zap.Logger) (*OpenAIClient, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("OpenAI API key is required")
	}
	if cfg.Model == "" {
		cfg.Model = string(openai.TTSModel1)
	}
	if cfg.Voice == "" {
		cfg.Voice = string(openai.VoiceAlloy)
	}
	if cfg.Format == "" {
		cfg.Format = string(openai.SpeechResponseFormatPcm)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	}
	return &OpenAIClient{
		client: openai.NewClientWithConfig(clientCfg),
		cfg:    cfg,
		logger: logger.With(zap.String("component", "tts"), zap.String("provider", "openai")),
	}, nil
}

// Synthesize starts a speech request and returns the streaming body. The
// caller owns and must close it.
func (c *OpenAIClient) Synthesize(ctx context.Context, text string) (io.ReadCloser, error) {
	resp, err := c.client.CreateSpeech(ctx, openai.CreateSpeechRequest{
		Model:          openai.SpeechModel(c.cfg.Model),
		Input:          text,
		Voice:          openai.SpeechVoice(c.cfg.Voice),
		ResponseFormat: openai.SpeechResponseFormat(c.cfg.Format),
		Speed:          c.cfg.Speed,
	})
	if err != nil {
		return nil, errors.Wrap(err, "create speech")
	}
	c.logger.Debug("speech stream opened", zap.Int("chars", len(text)))
	return resp.ReadCloser, nil
}
