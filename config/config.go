// Package config loads pixa settings from defaults, an optional YAML file,
// a .env file and the process environment, in that order of precedence.
package config

import (
	"strings"
	"time"

	"github.com/pkg/errors"
)

type Config struct {
	MQTT     MQTTConfig     `yaml:"mqtt"`
	Deepgram DeepgramConfig `yaml:"deepgram"`
	LLM      LLMConfig      `yaml:"llm"`
	TTS      TTSConfig      `yaml:"tts"`
	Pipeline PipelineConfig `yaml:"pipeline"`
	Server   ServerConfig   `yaml:"server"`
	Log      LogConfig      `yaml:"log"`
}

type MQTTConfig struct {
	Broker             string `yaml:"broker"`
	Port               int    `yaml:"port"`
	Username           string `yaml:"username"`
	Password           string `yaml:"password"`
	ClientID           string `yaml:"client_id"`
	TLS                bool   `yaml:"tls"`
	InsecureSkipVerify bool   `yaml:"insecure_skip_verify"`
	SubscribeQoS       int    `yaml:"subscribe_qos"`
	PublishQoS         int    `yaml:"publish_qos"`
	InputPrefix        string `yaml:"input_prefix"`
	OutputPrefix       string `yaml:"output_prefix"`
	// SessionFromTopic keys sessions by the first topic segment after the
	// input prefix instead of using one implicit session.
	SessionFromTopic bool `yaml:"session_from_topic"`
}

type DeepgramConfig struct {
	APIKey         string        `yaml:"api_key"`
	BaseURL        string        `yaml:"base_url"`
	Model          string        `yaml:"model"`
	Language       string        `yaml:"language"`
	Encoding       string        `yaml:"encoding"`
	SampleRate     int           `yaml:"sample_rate"`
	Channels       int           `yaml:"channels"`
	SmartFormat    bool          `yaml:"smart_format"`
	InterimResults bool          `yaml:"interim_results"`
	KeepAlive      time.Duration `yaml:"keep_alive"`
}

type LLMConfig struct {
	APIKey       string  `yaml:"api_key"`
	BaseURL      string  `yaml:"base_url"`
	Model        string  `yaml:"model"`
	SystemPrompt string  `yaml:"system_prompt"`
	MaxTokens    int     `yaml:"max_tokens"`
	Temperature  float32 `yaml:"temperature"`
}

// TTS providers.
const (
	ProviderOpenAI     = "openai"
	ProviderElevenLabs = "elevenlabs"
)

type TTSConfig struct {
	Provider   string           `yaml:"provider"`
	OpenAI     OpenAITTSConfig  `yaml:"openai"`
	ElevenLabs ElevenLabsConfig `yaml:"elevenlabs"`
}

type OpenAITTSConfig struct {
	APIKey  string  `yaml:"api_key"`
	BaseURL string  `yaml:"base_url"`
	Model   string  `yaml:"model"`
	Voice   string  `yaml:"voice"`
	Format  string  `yaml:"format"`
	Speed   float64 `yaml:"speed"`
}

type ElevenLabsConfig struct {
	APIKey       string `yaml:"api_key"`
	BaseURL      string `yaml:"base_url"`
	VoiceID      string `yaml:"voice_id"`
	ModelID      string `yaml:"model_id"`
	OutputFormat string `yaml:"output_format"`
}

type PipelineConfig struct {
	Workers             int           `yaml:"workers"`
	TaskQueue           int           `yaml:"task_queue"`
	FrameQueue          int           `yaml:"frame_queue"`
	FrameEnqueueTimeout time.Duration `yaml:"frame_enqueue_timeout"`
	GenerateTimeout     time.Duration `yaml:"generate_timeout"`
	SynthesizeTimeout   time.Duration `yaml:"synthesize_timeout"`
	PublishTimeout      time.Duration `yaml:"publish_timeout"`
	RecognizerRetry     time.Duration `yaml:"recognizer_retry"`
	SessionIdleTimeout  time.Duration `yaml:"session_idle_timeout"`
	ReapInterval        time.Duration `yaml:"reap_interval"`
}

type ServerConfig struct {
	// HTTPAddr is the status server address. Empty disables the server.
	HTTPAddr        string        `yaml:"http_addr"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		MQTT: MQTTConfig{
			Port:         8883,
			TLS:          true,
			SubscribeQoS: 1,
			InputPrefix:  "pixa/input/",
			OutputPrefix: "pixa/output/",
		},
		Deepgram: DeepgramConfig{
			BaseURL:     "wss://api.deepgram.com",
			Model:       "nova-2",
			Language:    "en-US",
			Encoding:    "linear16",
			SampleRate:  16000,
			Channels:    1,
			SmartFormat: true,
			KeepAlive:   8 * time.Second,
		},
		LLM: LLMConfig{
			BaseURL: "https://api.groq.com/openai/v1",
			Model:   "mixtral-8x7b-32768",
		},
		TTS: TTSConfig{
			Provider: ProviderOpenAI,
			OpenAI: OpenAITTSConfig{
				Model:  "tts-1",
				Voice:  "alloy",
				Format: "pcm",
				Speed:  1.0,
			},
			ElevenLabs: ElevenLabsConfig{
				BaseURL:      "https://api.elevenlabs.io",
				ModelID:      "eleven_multilingual_v2",
				OutputFormat: "pcm_16000",
			},
		},
		Pipeline: PipelineConfig{
			Workers:             4,
			TaskQueue:           64,
			FrameQueue:          256,
			FrameEnqueueTimeout: 2 * time.Second,
			GenerateTimeout:     30 * time.Second,
			SynthesizeTimeout:   60 * time.Second,
			PublishTimeout:      10 * time.Second,
			RecognizerRetry:     5 * time.Second,
			SessionIdleTimeout:  10 * time.Minute,
			ReapInterval:        time.Minute,
		},
		Server: ServerConfig{
			HTTPAddr:        ":8080",
			ShutdownTimeout: 10 * time.Second,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// Validate reports every missing or out-of-range setting at once.
func (c *Config) Validate() error {
	var problems []string
	if c.MQTT.Broker == "" {
		problems = append(problems, "MQTT_BROKER must be set")
	}
	if c.MQTT.Port <= 0 || c.MQTT.Port > 65535 {
		problems = append(problems, "MQTT_PORT must be a valid port")
	}
	if c.MQTT.SubscribeQoS < 0 || c.MQTT.SubscribeQoS > 2 || c.MQTT.PublishQoS < 0 || c.MQTT.PublishQoS > 2 {
		problems = append(problems, "mqtt qos must be 0, 1 or 2")
	}
	if c.Deepgram.APIKey == "" {
		problems = append(problems, "DEEPGRAM_API_KEY must be set")
	}
	if c.LLM.APIKey == "" {
		problems = append(problems, "GROQ_API_KEY must be set")
	}
	switch c.TTS.Provider {
	case ProviderOpenAI:
		if c.TTS.OpenAI.APIKey == "" {
			problems = append(problems, "OPENAI_API_KEY must be set")
		}
	case ProviderElevenLabs:
		if c.TTS.ElevenLabs.APIKey == "" {
			problems = append(problems, "ELEVENLABS_API_KEY must be set")
		}
		if c.TTS.ElevenLabs.VoiceID == "" {
			problems = append(problems, "ELEVENLABS_VOICE_ID must be set")
		}
	default:
		problems = append(problems, "unknown tts provider "+c.TTS.Provider)
	}
	if c.Pipeline.Workers <= 0 {
		problems = append(problems, "pipeline workers must be positive")
	}
	if len(problems) > 0 {
		return errors.Errorf("invalid configuration: %s", strings.Join(problems, "; "))
	}
	return nil
}
