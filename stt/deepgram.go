// Package stt streams audio to Deepgram's live transcription API.
package stt

import (
	"context"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/bytedance/sonic"
	gws "github.com/gorilla/websocket"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/mrsingh-rishi/pixa/types"
)

// Config holds the live transcription options.
type Config struct {
	APIKey         string
	BaseURL        string
	Model          string
	Language       string
	Encoding       string
	SampleRate     int
	Channels       int
	SmartFormat    bool
	InterimResults bool
	KeepAlive      time.Duration
	DialTimeout    time.Duration
	WriteTimeout   time.Duration
}

// DefaultConfig returns the options the service has always used with Deepgram.
func DefaultConfig() Config {
	return Config{
		BaseURL:      "wss://api.deepgram.com",
		Model:        "nova-2",
		Language:     "en-US",
		Encoding:     "linear16",
		SampleRate:   16000,
		Channels:     1,
		SmartFormat:  true,
		KeepAlive:    8 * time.Second,
		DialTimeout:  10 * time.Second,
		WriteTimeout: 5 * time.Second,
	}
}

// Handlers receive recognizer events. Nil handlers are skipped.
type Handlers struct {
	OnTranscript func(types.TranscriptEvent)
	OnError      func(error)
	OnMetadata   func(types.Metadata)
}

// DeepgramClient is one live transcription connection.
type DeepgramClient struct {
	cfg      Config
	handlers Handlers
	logger   *zap.Logger
	dialer   *gws.Dialer

	ctx    context.Context
	mu     sync.Mutex
	conn   *gws.Conn
	closed bool
}

type transcriptionMessage struct {
	Type        string `json:"type"`
	IsFinal     bool   `json:"is_final"`
	SpeechFinal bool   `json:"speech_final"`
	Channel     struct {
		Alternatives []struct {
			Transcript string  `json:"transcript"`
			Confidence float64 `json:"confidence"`
		} `json:"alternatives"`
	} `json:"channel"`
}

type metadataMessage struct {
	Type      string  `json:"type"`
	RequestID string  `json:"request_id"`
	Duration  float64 `json:"duration"`
	Channels  int     `json:"channels"`
	ModelInfo map[string]struct {
		Name string `json:"name"`
	} `json:"model_info"`
}

type controlMessage struct {
	Type string `json:"type"`
}

// NewDeepgramClient prepares a client. Start dials the connection.
func NewDeepgramClient(cfg Config, handlers Handlers, logger *zap.Logger) *DeepgramClient {
	def := DefaultConfig()
	if cfg.BaseURL == "" {
		cfg.BaseURL = def.BaseURL
	}
	if cfg.Encoding == "" {
		cfg.Encoding = def.Encoding
	}
	if cfg.SampleRate == 0 {
		cfg.SampleRate = def.SampleRate
	}
	if cfg.Channels == 0 {
		cfg.Channels = def.Channels
	}
	if cfg.DialTimeout == 0 {
		cfg.DialTimeout = def.DialTimeout
	}
	if cfg.WriteTimeout == 0 {
		cfg.WriteTimeout = def.WriteTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &DeepgramClient{
		cfg:      cfg,
		handlers: handlers,
		logger:   logger.With(zap.String("component", "deepgram")),
		dialer:   gws.DefaultDialer,
		ctx:      context.Background(),
	}
}

// Start dials Deepgram and begins reading results. ctx bounds the lifetime
// of later reconnects as well.
func (dg *DeepgramClient) Start(ctx context.Context) error {
	if dg.cfg.APIKey == "" {
		return errors.New("deepgram API key is required")
	}
	dg.mu.Lock()
	defer dg.mu.Unlock()
	dg.ctx = ctx
	return dg.connectLocked()
}

func (dg *DeepgramClient) connectLocked() error {
	endpoint, err := dg.buildURL()
	if err != nil {
		return errors.Wrap(err, "build deepgram url")
	}
	ctx, cancel := context.WithTimeout(dg.ctx, dg.cfg.DialTimeout)
	defer cancel()

	header := http.Header{"Authorization": {"Token " + dg.cfg.APIKey}}
	conn, _, err := dg.dialer.DialContext(ctx, endpoint, header)
	if err != nil {
		return errors.Wrap(err, "dial deepgram")
	}
	dg.conn = conn
	done := make(chan struct{})
	go dg.listen(conn, done)
	if dg.cfg.KeepAlive > 0 {
		go dg.keepAlive(conn, done)
	}
	dg.logger.Info("connected to deepgram", zap.String("model", dg.cfg.Model))
	return nil
}

func (dg *DeepgramClient) buildURL() (string, error) {
	base, err := url.Parse(dg.cfg.BaseURL + "/v1/listen")
	if err != nil {
		return "", err
	}
	q := base.Query()
	if dg.cfg.Model != "" {
		q.Set("model", dg.cfg.Model)
	}
	if dg.cfg.Language != "" {
		q.Set("language", dg.cfg.Language)
	}
	q.Set("encoding", dg.cfg.Encoding)
	q.Set("sample_rate", strconv.Itoa(dg.cfg.SampleRate))
	q.Set("channels", strconv.Itoa(dg.cfg.Channels))
	q.Set("smart_format", strconv.FormatBool(dg.cfg.SmartFormat))
	q.Set("interim_results", strconv.FormatBool(dg.cfg.InterimResults))
	base.RawQuery = q.Encode()
	return base.String(), nil
}

// Send forwards one audio frame. A dropped connection is redialed once.
func (dg *DeepgramClient) Send(frame []byte) error {
	dg.mu.Lock()
	defer dg.mu.Unlock()
	if dg.closed {
		return errors.New("deepgram client is closed")
	}
	if dg.conn == nil {
		if err := dg.connectLocked(); err != nil {
			return err
		}
	}
	_ = dg.conn.SetWriteDeadline(time.Now().Add(dg.cfg.WriteTimeout))
	if err := dg.conn.WriteMessage(gws.BinaryMessage, frame); err != nil {
		_ = dg.conn.Close()
		dg.conn = nil
		return errors.Wrap(err, "deepgram write")
	}
	return nil
}

// listen reads results until the connection fails or is closed.
func (dg *DeepgramClient) listen(conn *gws.Conn, done chan struct{}) {
	defer close(done)
	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			dg.mu.Lock()
			if dg.conn == conn {
				dg.conn = nil
			}
			closed := dg.closed
			dg.mu.Unlock()
			_ = conn.Close()

			if closed || gws.IsCloseError(err, gws.CloseNormalClosure) {
				dg.logger.Debug("deepgram connection closed")
				return
			}
			dg.logger.Warn("deepgram read failed", zap.Error(err))
			if dg.handlers.OnError != nil {
				dg.handlers.OnError(errors.Wrap(err, "deepgram read"))
			}
			return
		}
		dg.handleMessage(message)
	}
}

func (dg *DeepgramClient) handleMessage(message []byte) {
	var base controlMessage
	if err := sonic.Unmarshal(message, &base); err != nil {
		dg.logger.Warn("unparseable deepgram message", zap.Error(err))
		return
	}

	switch base.Type {
	case "Results":
		var result transcriptionMessage
		if err := sonic.Unmarshal(message, &result); err != nil {
			dg.logger.Warn("unparseable deepgram results", zap.Error(err))
			return
		}
		if len(result.Channel.Alternatives) == 0 {
			return
		}
		alt := result.Channel.Alternatives[0]
		if dg.handlers.OnTranscript != nil {
			dg.handlers.OnTranscript(types.TranscriptEvent{
				Transcript:  alt.Transcript,
				Confidence:  alt.Confidence,
				Final:       result.IsFinal,
				SpeechFinal: result.SpeechFinal,
			})
		}

	case "Metadata":
		var meta metadataMessage
		if err := sonic.Unmarshal(message, &meta); err != nil {
			dg.logger.Warn("unparseable deepgram metadata", zap.Error(err))
			return
		}
		info := types.Metadata{
			RequestID: meta.RequestID,
			Duration:  meta.Duration,
			Channels:  meta.Channels,
		}
		for _, m := range meta.ModelInfo {
			info.ModelName = m.Name
			break
		}
		if dg.handlers.OnMetadata != nil {
			dg.handlers.OnMetadata(info)
		}

	case "SpeechStarted", "UtteranceEnd":
		dg.logger.Debug("deepgram event", zap.String("type", base.Type))

	default:
		dg.logger.Debug("unknown deepgram message", zap.String("type", base.Type))
	}
}

// keepAlive keeps an idle connection open between utterances.
func (dg *DeepgramClient) keepAlive(conn *gws.Conn, done <-chan struct{}) {
	ticker := time.NewTicker(dg.cfg.KeepAlive)
	defer ticker.Stop()
	msg, _ := sonic.Marshal(controlMessage{Type: "KeepAlive"})
	for {
		select {
		case <-done:
			return
		case <-dg.ctx.Done():
			return
		case <-ticker.C:
			dg.mu.Lock()
			if dg.conn == conn {
				_ = conn.SetWriteDeadline(time.Now().Add(dg.cfg.WriteTimeout))
				if err := conn.WriteMessage(gws.TextMessage, msg); err != nil {
					dg.logger.Debug("keepalive failed", zap.Error(err))
				}
			}
			dg.mu.Unlock()
		}
	}
}

// Close ends the stream and closes the connection.
func (dg *DeepgramClient) Close() error {
	dg.mu.Lock()
	defer dg.mu.Unlock()
	if dg.closed {
		return nil
	}
	dg.closed = true
	if dg.conn == nil {
		return nil
	}
	conn := dg.conn
	dg.conn = nil

	msg, _ := sonic.Marshal(controlMessage{Type: "CloseStream"})
	_ = conn.SetWriteDeadline(time.Now().Add(dg.cfg.WriteTimeout))
	_ = conn.WriteMessage(gws.TextMessage, msg)
	_ = conn.WriteMessage(gws.CloseMessage, gws.FormatCloseMessage(gws.CloseNormalClosure, "closing connection"))
	return conn.Close()
}
