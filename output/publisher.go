package output

import (
	"context"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/mrsingh-rishi/pixa/model"
)

// Transport publishes a payload on a topic.
type Transport interface {
	Publish(ctx context.Context, topic string, payload []byte) error
}

// ChunkPublisher sends outbound chunks to <prefix><index>.
type ChunkPublisher struct {
	transport Transport
	prefix    string
	timeout   time.Duration
	logger    *zap.Logger
}

// NewChunkPublisher publishes chunks to prefix followed by the chunk index.
// A missing trailing slash is added and a zero timeout means 10s.
func NewChunkPublisher(transport Transport, prefix string, timeout time.Duration, logger *zap.Logger) (*ChunkPublisher, error) {
	if transport == nil {
		return nil, errors.New("transport is required")
	}
	if prefix == "" {
		return nil, errors.New("topic prefix is required")
	}
	if !strings.HasSuffix(prefix, "/") {
		prefix += "/"
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ChunkPublisher{
		transport: transport,
		prefix:    prefix,
		timeout:   timeout,
		logger:    logger.With(zap.String("component", "output"), zap.String("prefix", prefix)),
	}, nil
}

// Topic returns the topic a chunk with the given index is published on.
func (o *ChunkPublisher) Topic(index int) string {
	return o.prefix + strconv.Itoa(index)
}

// Publish sends one chunk. Failures are TransportErrors.
func (o *ChunkPublisher) Publish(ctx context.Context, chunk model.OutboundChunk) error {
	ctx, cancel := context.WithTimeout(ctx, o.timeout)
	defer cancel()

	topic := o.Topic(chunk.Index)
	if err := o.transport.Publish(ctx, topic, chunk.Payload); err != nil {
		return model.TransportError(errors.Wrapf(err, "publish %s", topic))
	}
	if chunk.IsSentinel() {
		o.logger.Debug("audio chunks sent", zap.String("topic", topic))
	}
	return nil
}
