package transport

import (
	"context"
	"crypto/tls"
	"fmt"
	"strings"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/mrsingh-rishi/pixa/model"
)

// Config holds the broker connection settings.
type Config struct {
	Broker             string
	Port               int
	Username           string
	Password           string
	ClientID           string
	TLS                bool
	InsecureSkipVerify bool
	SubscribeQoS       byte
	PublishQoS         byte
	KeepAlive          time.Duration
	ConnectTimeout     time.Duration
	MaxReconnect       time.Duration
}

// Handler receives one inbound message.
type Handler func(topic string, payload []byte)

type subscription struct {
	qos     byte
	handler Handler
}

// Client is an MQTT connection that resubscribes after every reconnect.
type Client struct {
	cfg    Config
	client mqtt.Client
	logger *zap.Logger

	mu   sync.Mutex
	subs map[string]subscription
}

// clientFactory is swapped in tests.
var clientFactory = mqtt.NewClient

// BrokerURL renders the broker address. Hosts already carrying a scheme are
// used as they are.
func (c Config) BrokerURL() string {
	if strings.Contains(c.Broker, "://") {
		return c.Broker
	}
	scheme := "tcp"
	if c.TLS {
		scheme = "ssl"
	}
	port := c.Port
	if port == 0 {
		port = 1883
		if c.TLS {
			port = 8883
		}
	}
	return fmt.Sprintf("%s://%s:%d", scheme, c.Broker, port)
}

// NewClient configures a client with auto-reconnect. Nothing is dialed
// until Connect.
func NewClient(cfg Config, logger *zap.Logger) (*Client, error) {
	if cfg.Broker == "" {
		return nil, errors.New("mqtt broker is required")
	}
	if cfg.SubscribeQoS > 2 || cfg.PublishQoS > 2 {
		return nil, errors.Errorf("invalid qos (subscribe %d, publish %d)", cfg.SubscribeQoS, cfg.PublishQoS)
	}
	if cfg.ClientID == "" {
		cfg.ClientID = "pixa-" + uuid.NewString()
	}
	if cfg.KeepAlive <= 0 {
		cfg.KeepAlive = 60 * time.Second
	}
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = 30 * time.Second
	}
	if cfg.MaxReconnect <= 0 {
		cfg.MaxReconnect = 30 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	c := &Client{
		cfg:    cfg,
		logger: logger.With(zap.String("component", "mqtt")),
		subs:   make(map[string]subscription),
	}

	opts := mqtt.NewClientOptions().
		AddBroker(cfg.BrokerURL()).
		SetClientID(cfg.ClientID).
		SetUsername(cfg.Username).
		SetPassword(cfg.Password).
		SetKeepAlive(cfg.KeepAlive).
		SetConnectTimeout(cfg.ConnectTimeout).
		SetAutoReconnect(true).
		SetMaxReconnectInterval(cfg.MaxReconnect).
		SetCleanSession(true).
		SetOrderMatters(true).
		SetOnConnectHandler(c.onConnect).
		SetConnectionLostHandler(c.onConnectionLost).
		SetReconnectingHandler(func(mqtt.Client, *mqtt.ClientOptions) {
			c.logger.Info("reconnecting to broker")
		})
	if cfg.TLS {
		opts.SetTLSConfig(&tls.Config{
			MinVersion:         tls.VersionTLS12,
			InsecureSkipVerify: cfg.InsecureSkipVerify, //nolint:gosec
		})
	}
	c.client = clientFactory(opts)
	return c, nil
}

// Connect performs the initial connection. Failure here is fatal to the
// caller; later drops are retried inside the client.
func (c *Client) Connect(ctx context.Context) error {
	c.logger.Info("connecting to broker", zap.String("broker", c.cfg.BrokerURL()), zap.String("client_id", c.cfg.ClientID))
	if err := wait(ctx, c.client.Connect()); err != nil {
		return model.TransportError(errors.Wrap(err, "connect to broker"))
	}
	return nil
}

// Subscribe registers handler for filter. The subscription is renewed on
// every reconnect.
func (c *Client) Subscribe(filter string, handler Handler) error {
	if handler == nil {
		return errors.New("nil handler")
	}
	c.mu.Lock()
	c.subs[filter] = subscription{qos: c.cfg.SubscribeQoS, handler: handler}
	c.mu.Unlock()

	if !c.client.IsConnectionOpen() {
		return nil
	}
	return c.subscribe(filter, subscription{qos: c.cfg.SubscribeQoS, handler: handler})
}

func (c *Client) subscribe(filter string, sub subscription) error {
	token := c.client.Subscribe(filter, sub.qos, func(_ mqtt.Client, msg mqtt.Message) {
		sub.handler(msg.Topic(), msg.Payload())
	})
	if !token.WaitTimeout(c.cfg.ConnectTimeout) {
		return model.TransportError(errors.Errorf("subscribe %s timed out", filter))
	}
	if err := token.Error(); err != nil {
		return model.TransportError(errors.Wrapf(err, "subscribe %s", filter))
	}
	granted := ""
	if st, ok := token.(*mqtt.SubscribeToken); ok {
		granted = fmt.Sprint(st.Result())
	}
	c.logger.Info("subscribed", zap.String("filter", filter), zap.Uint8("qos", sub.qos), zap.String("granted", granted))
	return nil
}

func (c *Client) onConnect(mqtt.Client) {
	c.logger.Info("mqtt client connected")
	c.mu.Lock()
	subs := make(map[string]subscription, len(c.subs))
	for k, v := range c.subs {
		subs[k] = v
	}
	c.mu.Unlock()

	// Called on the client's own goroutine; waiting for SUBACK here would
	// stall the router, so resubscribe in the background.
	go func() {
		for filter, sub := range subs {
			if err := c.subscribe(filter, sub); err != nil {
				c.logger.Error("resubscribe failed", zap.String("filter", filter), zap.Error(err))
			}
		}
	}()
}

func (c *Client) onConnectionLost(_ mqtt.Client, err error) {
	c.logger.Warn("connection to broker lost", zap.Error(err))
}

// Publish sends payload on topic and waits for the client to accept it.
func (c *Client) Publish(ctx context.Context, topic string, payload []byte) error {
	if err := wait(ctx, c.client.Publish(topic, c.cfg.PublishQoS, false, payload)); err != nil {
		return model.TransportError(errors.Wrapf(err, "publish %s", topic))
	}
	return nil
}

// Connected reports whether the broker connection is currently up.
func (c *Client) Connected() bool {
	return c.client.IsConnectionOpen()
}

// Close disconnects, giving in-flight work a short grace period.
func (c *Client) Close() error {
	c.client.Disconnect(250)
	c.logger.Info("disconnected from broker")
	return nil
}

func wait(ctx context.Context, token mqtt.Token) error {
	select {
	case <-token.Done():
		return token.Error()
	case <-ctx.Done():
		return ctx.Err()
	}
}
