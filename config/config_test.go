package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, name, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestDefaults(t *testing.T) {
	cfg := Default()
	assert.Equal(t, "pixa/input/", cfg.MQTT.InputPrefix)
	assert.Equal(t, "pixa/output/", cfg.MQTT.OutputPrefix)
	assert.Equal(t, 1, cfg.MQTT.SubscribeQoS)
	assert.Equal(t, "nova-2", cfg.Deepgram.Model)
	assert.Equal(t, 16000, cfg.Deepgram.SampleRate)
	assert.Equal(t, "mixtral-8x7b-32768", cfg.LLM.Model)
	assert.Equal(t, ProviderOpenAI, cfg.TTS.Provider)
	assert.Equal(t, "pcm", cfg.TTS.OpenAI.Format)
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("MQTT_BROKER", "broker.example.com")
	t.Setenv("MQTT_PORT", "8884")
	t.Setenv("MQTT_USERNAME", "pixa")
	t.Setenv("MQTT_PASSWORD", "secret")
	t.Setenv("DEEPGRAM_API_KEY", "dg")
	t.Setenv("GROQ_API_KEY", "groq")
	t.Setenv("OPENAI_API_KEY", "oa")
	t.Setenv("PIXA_GENERATE_TIMEOUT", "5s")
	t.Setenv("PIXA_SESSION_FROM_TOPIC", "true")
	t.Setenv("PIXA_RECOGNIZER_RETRY", "750ms")

	cfg, err := NewLoader().Load()
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, "broker.example.com", cfg.MQTT.Broker)
	assert.Equal(t, 8884, cfg.MQTT.Port)
	assert.Equal(t, "pixa", cfg.MQTT.Username)
	assert.Equal(t, "dg", cfg.Deepgram.APIKey)
	assert.Equal(t, "groq", cfg.LLM.APIKey)
	assert.Equal(t, "oa", cfg.TTS.OpenAI.APIKey)
	assert.Equal(t, 5*time.Second, cfg.Pipeline.GenerateTimeout)
	assert.Equal(t, 750*time.Millisecond, cfg.Pipeline.RecognizerRetry)
	assert.True(t, cfg.MQTT.SessionFromTopic)
}

func TestEnvOverridesFile(t *testing.T) {
	path := writeFile(t, "pixa.yaml", `
mqtt:
  broker: file-broker
  port: 1883
  tls: false
llm:
  model: llama3-70b-8192
pipeline:
  workers: 8
  generate_timeout: 12s
log:
  level: debug
`)
	t.Setenv("MQTT_BROKER", "env-broker")

	cfg, err := NewLoader().WithConfigPath(path).Load()
	require.NoError(t, err)

	assert.Equal(t, "env-broker", cfg.MQTT.Broker)
	assert.Equal(t, 1883, cfg.MQTT.Port)
	assert.False(t, cfg.MQTT.TLS)
	assert.Equal(t, "llama3-70b-8192", cfg.LLM.Model)
	assert.Equal(t, 8, cfg.Pipeline.Workers)
	assert.Equal(t, 12*time.Second, cfg.Pipeline.GenerateTimeout)
	assert.Equal(t, "debug", cfg.Log.Level)
	// untouched keys keep their defaults
	assert.Equal(t, "nova-2", cfg.Deepgram.Model)
}

func TestEnvFile(t *testing.T) {
	path := writeFile(t, ".env", "DEEPGRAM_API_KEY=from-dotenv\nGROQ_API_KEY=from-dotenv\n")
	t.Setenv("GROQ_API_KEY", "from-env")
	// godotenv sets variables process wide; register them for cleanup.
	t.Setenv("DEEPGRAM_API_KEY", "")
	require.NoError(t, os.Unsetenv("DEEPGRAM_API_KEY"))

	cfg, err := NewLoader().WithEnvFile(path).Load()
	require.NoError(t, err)
	assert.Equal(t, "from-dotenv", cfg.Deepgram.APIKey)
	assert.Equal(t, "from-env", cfg.LLM.APIKey)
}

func TestMissingEnvFileIsIgnored(t *testing.T) {
	_, err := NewLoader().WithEnvFile(filepath.Join(t.TempDir(), "absent.env")).Load()
	assert.NoError(t, err)
}

func TestInvalidValues(t *testing.T) {
	t.Setenv("MQTT_PORT", "not-a-port")
	_, err := NewLoader().Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "MQTT_PORT")

	_, err = NewLoader().WithConfigPath(writeFile(t, "bad.yaml", "mqtt: [")).Load()
	assert.Error(t, err)

	_, err = NewLoader().WithConfigPath(filepath.Join(t.TempDir(), "absent.yaml")).Load()
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	cfg := Default()
	err := cfg.Validate()
	require.Error(t, err)
	for _, want := range []string{"MQTT_BROKER", "DEEPGRAM_API_KEY", "GROQ_API_KEY", "OPENAI_API_KEY"} {
		assert.Contains(t, err.Error(), want)
	}

	cfg.MQTT.Broker = "b"
	cfg.Deepgram.APIKey = "d"
	cfg.LLM.APIKey = "g"
	cfg.TTS.Provider = ProviderElevenLabs
	cfg.TTS.ElevenLabs.APIKey = "e"
	err = cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ELEVENLABS_VOICE_ID")

	cfg.TTS.ElevenLabs.VoiceID = "v"
	assert.NoError(t, cfg.Validate())

	cfg.TTS.Provider = "espeak"
	assert.Error(t, cfg.Validate())
}
