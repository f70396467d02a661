package config

import (
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// Loader builds a Config. Precedence: defaults, YAML file, environment.
//
//	cfg, err := config.NewLoader().
//	    WithConfigPath("pixa.yaml").
//	    WithEnvFile(".env").
//	    Load()
type Loader struct {
	configPath string
	envFiles   []string
}

func NewLoader() *Loader {
	return &Loader{}
}

func (l *Loader) WithConfigPath(path string) *Loader {
	l.configPath = path
	return l
}

// WithEnvFile adds a .env file. Missing files are ignored.
func (l *Loader) WithEnvFile(path string) *Loader {
	if path != "" {
		l.envFiles = append(l.envFiles, path)
	}
	return l
}

func (l *Loader) Load() (*Config, error) {
	cfg := Default()

	if l.configPath != "" {
		if err := loadFile(l.configPath, cfg); err != nil {
			return nil, err
		}
	}
	for _, f := range l.envFiles {
		// godotenv.Load never overrides variables already set.
		if err := godotenv.Load(f); err != nil && !os.IsNotExist(errors.Cause(err)) {
			return nil, errors.Wrapf(err, "load env file %s", f)
		}
	}
	if err := applyEnv(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func loadFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return errors.Wrapf(err, "read config file %s", path)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return errors.Wrapf(err, "parse config file %s", path)
	}
	return nil
}

type binding struct {
	key string
	set func(string) error
}

func str(dst *string) func(string) error {
	return func(v string) error {
		*dst = v
		return nil
	}
}

func integer(dst *int) func(string) error {
	return func(v string) error {
		n, err := strconv.Atoi(v)
		if err != nil {
			return err
		}
		*dst = n
		return nil
	}
}

func boolean(dst *bool) func(string) error {
	return func(v string) error {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return err
		}
		*dst = b
		return nil
	}
}

func duration(dst *time.Duration) func(string) error {
	return func(v string) error {
		d, err := time.ParseDuration(v)
		if err != nil {
			return err
		}
		*dst = d
		return nil
	}
}

func float(dst *float64) func(string) error {
	return func(v string) error {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return err
		}
		*dst = f
		return nil
	}
}

func float32v(dst *float32) func(string) error {
	return func(v string) error {
		f, err := strconv.ParseFloat(v, 32)
		if err != nil {
			return err
		}
		*dst = float32(f)
		return nil
	}
}

func bindings(cfg *Config) []binding {
	return []binding{
		{"MQTT_BROKER", str(&cfg.MQTT.Broker)},
		{"MQTT_PORT", integer(&cfg.MQTT.Port)},
		{"MQTT_USERNAME", str(&cfg.MQTT.Username)},
		{"MQTT_PASSWORD", str(&cfg.MQTT.Password)},
		{"MQTT_CLIENT_ID", str(&cfg.MQTT.ClientID)},
		{"MQTT_TLS", boolean(&cfg.MQTT.TLS)},
		{"MQTT_SUBSCRIBE_QOS", integer(&cfg.MQTT.SubscribeQoS)},
		{"MQTT_PUBLISH_QOS", integer(&cfg.MQTT.PublishQoS)},
		{"PIXA_INPUT_PREFIX", str(&cfg.MQTT.InputPrefix)},
		{"PIXA_OUTPUT_PREFIX", str(&cfg.MQTT.OutputPrefix)},
		{"PIXA_SESSION_FROM_TOPIC", boolean(&cfg.MQTT.SessionFromTopic)},

		{"DEEPGRAM_API_KEY", str(&cfg.Deepgram.APIKey)},
		{"DEEPGRAM_URL", str(&cfg.Deepgram.BaseURL)},
		{"DEEPGRAM_MODEL", str(&cfg.Deepgram.Model)},
		{"DEEPGRAM_LANGUAGE", str(&cfg.Deepgram.Language)},
		{"DEEPGRAM_SAMPLE_RATE", integer(&cfg.Deepgram.SampleRate)},

		{"GROQ_API_KEY", str(&cfg.LLM.APIKey)},
		{"GROQ_BASE_URL", str(&cfg.LLM.BaseURL)},
		{"GROQ_MODEL", str(&cfg.LLM.Model)},
		{"PIXA_SYSTEM_PROMPT", str(&cfg.LLM.SystemPrompt)},
		{"PIXA_LLM_TEMPERATURE", float32v(&cfg.LLM.Temperature)},

		{"PIXA_TTS_PROVIDER", str(&cfg.TTS.Provider)},
		{"OPENAI_API_KEY", str(&cfg.TTS.OpenAI.APIKey)},
		{"OPENAI_BASE_URL", str(&cfg.TTS.OpenAI.BaseURL)},
		{"OPENAI_TTS_MODEL", str(&cfg.TTS.OpenAI.Model)},
		{"OPENAI_TTS_VOICE", str(&cfg.TTS.OpenAI.Voice)},
		{"OPENAI_TTS_SPEED", float(&cfg.TTS.OpenAI.Speed)},
		{"ELEVENLABS_API_KEY", str(&cfg.TTS.ElevenLabs.APIKey)},
		{"ELEVENLABS_VOICE_ID", str(&cfg.TTS.ElevenLabs.VoiceID)},
		{"ELEVENLABS_MODEL_ID", str(&cfg.TTS.ElevenLabs.ModelID)},

		{"PIXA_WORKERS", integer(&cfg.Pipeline.Workers)},
		{"PIXA_TASK_QUEUE", integer(&cfg.Pipeline.TaskQueue)},
		{"PIXA_FRAME_QUEUE", integer(&cfg.Pipeline.FrameQueue)},
		{"PIXA_GENERATE_TIMEOUT", duration(&cfg.Pipeline.GenerateTimeout)},
		{"PIXA_SYNTHESIZE_TIMEOUT", duration(&cfg.Pipeline.SynthesizeTimeout)},
		{"PIXA_PUBLISH_TIMEOUT", duration(&cfg.Pipeline.PublishTimeout)},
		{"PIXA_RECOGNIZER_RETRY", duration(&cfg.Pipeline.RecognizerRetry)},
		{"PIXA_SESSION_IDLE_TIMEOUT", duration(&cfg.Pipeline.SessionIdleTimeout)},

		{"PIXA_HTTP_ADDR", str(&cfg.Server.HTTPAddr)},
		{"PIXA_LOG_LEVEL", str(&cfg.Log.Level)},
		{"PIXA_LOG_FORMAT", str(&cfg.Log.Format)},
	}
}

func applyEnv(cfg *Config) error {
	for _, b := range bindings(cfg) {
		v, ok := os.LookupEnv(b.key)
		if !ok || v == "" {
			continue
		}
		if err := b.set(v); err != nil {
			return errors.Wrapf(err, "invalid %s", b.key)
		}
	}
	return nil
}
