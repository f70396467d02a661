package app

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/mrsingh-rishi/pixa/config"
	"github.com/mrsingh-rishi/pixa/stt"
	"github.com/mrsingh-rishi/pixa/tts"
)

func validConfig() *config.Config {
	cfg := config.Default()
	cfg.MQTT.Broker = "broker.local"
	cfg.Deepgram.APIKey = "dg"
	cfg.LLM.APIKey = "groq"
	cfg.TTS.OpenAI.APIKey = "oa"
	return cfg
}

func TestNewRejectsInvalidConfig(t *testing.T) {
	_, err := New(config.Default(), "dev", zap.NewNop())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "MQTT_BROKER")
}

func TestNewBuildsComponents(t *testing.T) {
	a, err := New(validConfig(), "dev", zap.NewNop())
	require.NoError(t, err)
	assert.Equal(t, 4, a.pool.Size())
	assert.Equal(t, "pixa/input/#", a.topics.Filter())
	assert.NotNil(t, a.metrics.Registry())
	assert.False(t, a.mqtt.Connected())
}

func TestNewSynthesizerByProvider(t *testing.T) {
	cfg := validConfig().TTS
	s, err := newSynthesizer(cfg, zap.NewNop())
	require.NoError(t, err)
	assert.IsType(t, &tts.OpenAIClient{}, s)

	cfg.Provider = config.ProviderElevenLabs
	cfg.ElevenLabs.APIKey = "el"
	cfg.ElevenLabs.VoiceID = "voice"
	s, err = newSynthesizer(cfg, zap.NewNop())
	require.NoError(t, err)
	assert.IsType(t, &tts.ElevenLabsClient{}, s)

	cfg.Provider = "festival"
	_, err = newSynthesizer(cfg, zap.NewNop())
	assert.Error(t, err)
}

func TestRecognizerFactoryUsesDeepgramConfig(t *testing.T) {
	a, err := New(validConfig(), "dev", zap.NewNop())
	require.NoError(t, err)
	conn := a.recognizerFactory(zap.NewNop())("default", stt.Handlers{})
	assert.IsType(t, &stt.DeepgramClient{}, conn)
}
