// Package app wires configuration into a running pixa service.
package app

import (
	"context"
	"net/http"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/mrsingh-rishi/pixa/call"
	"github.com/mrsingh-rishi/pixa/config"
	"github.com/mrsingh-rishi/pixa/llm"
	"github.com/mrsingh-rishi/pixa/metrics"
	"github.com/mrsingh-rishi/pixa/model"
	"github.com/mrsingh-rishi/pixa/server"
	"github.com/mrsingh-rishi/pixa/stt"
	"github.com/mrsingh-rishi/pixa/transport"
	"github.com/mrsingh-rishi/pixa/tts"
	"github.com/mrsingh-rishi/pixa/worker"
	"github.com/mrsingh-rishi/pixa/workers"
)

// App owns every long-lived component of the service.
type App struct {
	cfg     *config.Config
	version string
	logger  *zap.Logger

	metrics     *metrics.Collector
	pool        *worker.Pool
	mqtt        *transport.Client
	topics      transport.Topics
	hub         *server.Hub
	generator   *workers.GenerationWorker
	synthesizer *workers.SynthesisWorker
}

// New validates cfg and builds the stage clients. Nothing connects yet.
func New(cfg *config.Config, version string, logger *zap.Logger) (*App, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	completer, err := llm.NewOpenAIClient(llm.Config{
		APIKey:             cfg.LLM.APIKey,
		BaseURL:            cfg.LLM.BaseURL,
		Model:              cfg.LLM.Model,
		SystemInstructions: cfg.LLM.SystemPrompt,
		MaxTokens:          cfg.LLM.MaxTokens,
		Temperature:        cfg.LLM.Temperature,
	}, logger)
	if err != nil {
		return nil, errors.Wrap(err, "create llm client")
	}
	generator, err := workers.NewGenerationWorker(completer, logger)
	if err != nil {
		return nil, err
	}

	synth, err := newSynthesizer(cfg.TTS, logger)
	if err != nil {
		return nil, err
	}
	synthesizer, err := workers.NewSynthesisWorker(synth, model.ChunkSize, logger)
	if err != nil {
		return nil, err
	}

	mqttClient, err := transport.NewClient(transport.Config{
		Broker:             cfg.MQTT.Broker,
		Port:               cfg.MQTT.Port,
		Username:           cfg.MQTT.Username,
		Password:           cfg.MQTT.Password,
		ClientID:           cfg.MQTT.ClientID,
		TLS:                cfg.MQTT.TLS,
		InsecureSkipVerify: cfg.MQTT.InsecureSkipVerify,
		SubscribeQoS:       byte(cfg.MQTT.SubscribeQoS),
		PublishQoS:         byte(cfg.MQTT.PublishQoS),
	}, logger)
	if err != nil {
		return nil, errors.Wrap(err, "create mqtt client")
	}

	return &App{
		cfg:     cfg,
		version: version,
		logger:  logger,
		metrics: metrics.NewCollector("pixa"),
		pool:    worker.NewPool(cfg.Pipeline.Workers, cfg.Pipeline.TaskQueue, logger),
		mqtt:    mqttClient,
		topics: transport.Topics{
			Input:            cfg.MQTT.InputPrefix,
			Output:           cfg.MQTT.OutputPrefix,
			SessionFromTopic: cfg.MQTT.SessionFromTopic,
		},
		hub:         server.NewHub(64, logger),
		generator:   generator,
		synthesizer: synthesizer,
	}, nil
}

func newSynthesizer(cfg config.TTSConfig, logger *zap.Logger) (workers.Synthesizer, error) {
	switch cfg.Provider {
	case config.ProviderOpenAI:
		c, err := tts.NewOpenAIClient(tts.OpenAIConfig{
			APIKey:  cfg.OpenAI.APIKey,
			BaseURL: cfg.OpenAI.BaseURL,
			Model:   cfg.OpenAI.Model,
			Voice:   cfg.OpenAI.Voice,
			Format:  cfg.OpenAI.Format,
			Speed:   cfg.OpenAI.Speed,
		}, logger)
		return c, errors.Wrap(err, "create openai tts client")
	case config.ProviderElevenLabs:
		c, err := tts.NewElevenLabsClient(tts.ElevenLabsConfig{
			APIKey:       cfg.ElevenLabs.APIKey,
			BaseURL:      cfg.ElevenLabs.BaseURL,
			VoiceID:      cfg.ElevenLabs.VoiceID,
			ModelID:      cfg.ElevenLabs.ModelID,
			OutputFormat: cfg.ElevenLabs.OutputFormat,
		}, &http.Client{}, logger)
		return c, errors.Wrap(err, "create elevenlabs tts client")
	default:
		return nil, errors.Errorf("unknown tts provider %q", cfg.Provider)
	}
}

func (a *App) recognizerFactory(logger *zap.Logger) call.RecognizerFactory {
	dg := a.cfg.Deepgram
	base := stt.DefaultConfig()
	return func(sessionID string, handlers stt.Handlers) call.RecognizerConn {
		return stt.NewDeepgramClient(stt.Config{
			APIKey:         dg.APIKey,
			BaseURL:        dg.BaseURL,
			Model:          dg.Model,
			Language:       dg.Language,
			Encoding:       dg.Encoding,
			SampleRate:     dg.SampleRate,
			Channels:       dg.Channels,
			SmartFormat:    dg.SmartFormat,
			InterimResults: dg.InterimResults,
			KeepAlive:      dg.KeepAlive,
			DialTimeout:    base.DialTimeout,
			WriteTimeout:   base.WriteTimeout,
		}, handlers, logger.With(zap.String("session", sessionID)))
	}
}

// Run connects to the broker, serves until ctx is done and then shuts
// everything down. Only the initial broker connection is fatal.
func (a *App) Run(ctx context.Context) error {
	a.pool.Start()
	defer a.pool.Stop()

	manager, err := call.NewManager(ctx, a.topics.Route, call.Deps{
		NewRecognizer: a.recognizerFactory(a.logger),
		Generator:     a.generator,
		Synthesizer:   a.synthesizer,
		Transport:     a.mqtt,
		Pool:          a.pool,
		Observer:      a.hub,
		Metrics:       a.metrics,
		Logger:        a.logger,
	}, call.Options{
		Timeouts: call.Timeouts{
			Generate:   a.cfg.Pipeline.GenerateTimeout,
			Synthesize: a.cfg.Pipeline.SynthesizeTimeout,
		},
		PublishTimeout:  a.cfg.Pipeline.PublishTimeout,
		RecognizerRetry: a.cfg.Pipeline.RecognizerRetry,
		Transcription: workers.TranscriptionOptions{
			QueueSize:      a.cfg.Pipeline.FrameQueue,
			EnqueueTimeout: a.cfg.Pipeline.FrameEnqueueTimeout,
		},
	})
	if err != nil {
		return err
	}
	defer func() {
		if err := manager.Close(); err != nil {
			a.logger.Warn("closing sessions", zap.Error(err))
		}
	}()

	if err := a.mqtt.Subscribe(a.topics.Filter(), manager.HandleMessage); err != nil {
		return err
	}
	if err := a.mqtt.Connect(ctx); err != nil {
		return err
	}
	defer a.mqtt.Close()

	g, gctx := errgroup.WithContext(ctx)

	if a.cfg.Server.HTTPAddr != "" {
		srv, err := server.New(server.Options{
			Addr:            a.cfg.Server.HTTPAddr,
			ShutdownTimeout: a.cfg.Server.ShutdownTimeout,
			Sessions:        manager,
			Registry:        a.metrics.Registry(),
			Hub:             a.hub,
			Ready:           a.mqtt.Connected,
			Version:         a.version,
		}, a.logger)
		if err != nil {
			return err
		}
		g.Go(func() error { return srv.Run(gctx) })
	}

	g.Go(func() error {
		a.reap(gctx, manager)
		return nil
	})

	a.logger.Info("pixa started",
		zap.String("version", a.version),
		zap.String("input", a.topics.Filter()),
		zap.Int("workers", a.pool.Size()),
	)
	err = g.Wait()
	a.logger.Info("pixa stopping")
	return err
}

func (a *App) reap(ctx context.Context, manager *call.Manager) {
	interval := a.cfg.Pipeline.ReapInterval
	maxIdle := a.cfg.Pipeline.SessionIdleTimeout
	if interval <= 0 || maxIdle <= 0 {
		<-ctx.Done()
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			if n := manager.ReapIdle(now, maxIdle); n > 0 {
				a.logger.Debug("idle sessions closed", zap.Int("count", n))
			}
		}
	}
}
