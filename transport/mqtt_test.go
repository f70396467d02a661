package transport

import (
	"context"
	"sync"
	"testing"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/mrsingh-rishi/pixa/model"
)

type doneToken struct {
	err  error
	done chan struct{}
}

func completed(err error) *doneToken {
	t := &doneToken{err: err, done: make(chan struct{})}
	close(t.done)
	return t
}

func pending() *doneToken {
	return &doneToken{done: make(chan struct{})}
}

func (t *doneToken) Wait() bool {
	<-t.done
	return true
}

func (t *doneToken) WaitTimeout(d time.Duration) bool {
	select {
	case <-t.done:
		return true
	case <-time.After(d):
		return false
	}
}

func (t *doneToken) Done() <-chan struct{} { return t.done }
func (t *doneToken) Error() error          { return t.err }

type fakeMessage struct {
	topic   string
	payload []byte
}

func (m fakeMessage) Duplicate() bool   { return false }
func (m fakeMessage) Qos() byte         { return 1 }
func (m fakeMessage) Retained() bool    { return false }
func (m fakeMessage) Topic() string     { return m.topic }
func (m fakeMessage) MessageID() uint16 { return 1 }
func (m fakeMessage) Payload() []byte   { return m.payload }
func (m fakeMessage) Ack()              {}

type fakeClient struct {
	opts *mqtt.ClientOptions

	mu           sync.Mutex
	connected    bool
	connectErr   error
	publishToken mqtt.Token
	published    map[string][]byte
	subscribed   map[string]byte
	handlers     map[string]mqtt.MessageHandler
	subscribes   int
	disconnected bool
}

func (f *fakeClient) IsConnected() bool { return f.IsConnectionOpen() }
func (f *fakeClient) IsConnectionOpen() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connected
}

func (f *fakeClient) Connect() mqtt.Token {
	if f.connectErr != nil {
		return completed(f.connectErr)
	}
	f.mu.Lock()
	f.connected = true
	f.mu.Unlock()
	if f.opts.OnConnect != nil {
		f.opts.OnConnect(f)
	}
	return completed(nil)
}

func (f *fakeClient) Disconnect(uint) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.connected = false
	f.disconnected = true
}

func (f *fakeClient) Publish(topic string, _ byte, _ bool, payload interface{}) mqtt.Token {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.publishToken != nil {
		return f.publishToken
	}
	f.published[topic] = payload.([]byte)
	return completed(nil)
}

func (f *fakeClient) Subscribe(topic string, qos byte, cb mqtt.MessageHandler) mqtt.Token {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.subscribes++
	f.subscribed[topic] = qos
	f.handlers[topic] = cb
	return completed(nil)
}

func (f *fakeClient) SubscribeMultiple(map[string]byte, mqtt.MessageHandler) mqtt.Token {
	return completed(nil)
}
func (f *fakeClient) Unsubscribe(...string) mqtt.Token        { return completed(nil) }
func (f *fakeClient) AddRoute(string, mqtt.MessageHandler)    {}
func (f *fakeClient) OptionsReader() mqtt.ClientOptionsReader { return mqtt.ClientOptionsReader{} }

func (f *fakeClient) subscribeCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.subscribes
}

func withFakeClient(t *testing.T) *fakeClient {
	t.Helper()
	fake := &fakeClient{
		published:  make(map[string][]byte),
		subscribed: make(map[string]byte),
		handlers:   make(map[string]mqtt.MessageHandler),
	}
	prev := clientFactory
	clientFactory = func(o *mqtt.ClientOptions) mqtt.Client {
		fake.opts = o
		return fake
	}
	t.Cleanup(func() { clientFactory = prev })
	return fake
}

func TestBrokerURL(t *testing.T) {
	assert.Equal(t, "ssl://broker.local:8883", Config{Broker: "broker.local", TLS: true}.BrokerURL())
	assert.Equal(t, "tcp://broker.local:1883", Config{Broker: "broker.local"}.BrokerURL())
	assert.Equal(t, "ssl://broker.local:8884", Config{Broker: "broker.local", Port: 8884, TLS: true}.BrokerURL())
	assert.Equal(t, "ws://b:80/mqtt", Config{Broker: "ws://b:80/mqtt", TLS: true}.BrokerURL())
}

func TestNewClientValidates(t *testing.T) {
	withFakeClient(t)
	_, err := NewClient(Config{}, zap.NewNop())
	assert.Error(t, err)

	_, err = NewClient(Config{Broker: "b", SubscribeQoS: 3}, zap.NewNop())
	assert.Error(t, err)
}

func TestClientOptions(t *testing.T) {
	fake := withFakeClient(t)
	_, err := NewClient(Config{Broker: "broker.local", Port: 8883, TLS: true, Username: "u", Password: "p"}, zap.NewNop())
	require.NoError(t, err)

	require.Len(t, fake.opts.Servers, 1)
	assert.Equal(t, "ssl://broker.local:8883", fake.opts.Servers[0].String())
	assert.Equal(t, "u", fake.opts.Username)
	assert.NotNil(t, fake.opts.TLSConfig)
	assert.True(t, fake.opts.AutoReconnect)
	assert.True(t, fake.opts.Order)
	assert.Contains(t, fake.opts.ClientID, "pixa-")
}

func TestSubscriptionsRenewedOnConnect(t *testing.T) {
	fake := withFakeClient(t)
	c, err := NewClient(Config{Broker: "b", SubscribeQoS: 1}, zap.NewNop())
	require.NoError(t, err)

	var mu sync.Mutex
	var got []string
	require.NoError(t, c.Subscribe("pixa/input/#", func(topic string, payload []byte) {
		mu.Lock()
		defer mu.Unlock()
		got = append(got, topic+"="+string(payload))
	}))
	assert.Equal(t, 0, fake.subscribeCount(), "not connected yet")

	require.NoError(t, c.Connect(context.Background()))
	assert.Eventually(t, func() bool { return fake.subscribeCount() == 1 }, time.Second, 5*time.Millisecond)

	fake.mu.Lock()
	qos := fake.subscribed["pixa/input/#"]
	handler := fake.handlers["pixa/input/#"]
	fake.mu.Unlock()
	assert.Equal(t, byte(1), qos)

	handler(fake, fakeMessage{topic: "pixa/input/mic", payload: []byte("pcm")})
	mu.Lock()
	assert.Equal(t, []string{"pixa/input/mic=pcm"}, got)
	mu.Unlock()

	// a reconnect renews the subscription
	fake.opts.OnConnect(fake)
	assert.Eventually(t, func() bool { return fake.subscribeCount() == 2 }, time.Second, 5*time.Millisecond)
}

func TestConnectFailureIsTransportError(t *testing.T) {
	fake := withFakeClient(t)
	fake.connectErr = errors.New("not authorized")
	c, err := NewClient(Config{Broker: "b"}, zap.NewNop())
	require.NoError(t, err)

	err = c.Connect(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, model.ErrTransport)
}

func TestPublish(t *testing.T) {
	fake := withFakeClient(t)
	c, err := NewClient(Config{Broker: "b"}, zap.NewNop())
	require.NoError(t, err)

	require.NoError(t, c.Publish(context.Background(), "pixa/output/0", []byte("abc")))
	assert.Equal(t, []byte("abc"), fake.published["pixa/output/0"])
}

func TestPublishHonoursContext(t *testing.T) {
	fake := withFakeClient(t)
	fake.publishToken = pending()
	c, err := NewClient(Config{Broker: "b"}, zap.NewNop())
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err = c.Publish(ctx, "pixa/output/0", []byte("abc"))
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.ErrorIs(t, err, model.ErrTransport)
}

func TestClose(t *testing.T) {
	fake := withFakeClient(t)
	c, err := NewClient(Config{Broker: "b"}, zap.NewNop())
	require.NoError(t, err)
	require.NoError(t, c.Connect(context.Background()))
	assert.True(t, c.Connected())
	require.NoError(t, c.Close())
	assert.True(t, fake.disconnected)
	assert.False(t, c.Connected())
}
