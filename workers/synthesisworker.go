package workers

import (
	"context"
	"io"
	"sync"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/mrsingh-rishi/pixa/model"
)

// SynthesisWorker turns replies into ordered outbound chunk streams.
type SynthesisWorker struct {
	synthesizer Synthesizer
	chunkSize   int
	logger      *zap.Logger
}

// NewSynthesisWorker splits synthesized audio into chunkSize pieces,
// model.ChunkSize when chunkSize is not positive.
func NewSynthesisWorker(synthesizer Synthesizer, chunkSize int, logger *zap.Logger) (*SynthesisWorker, error) {
	if synthesizer == nil {
		return nil, errors.New("synthesizer is required")
	}
	if chunkSize <= 0 {
		chunkSize = model.ChunkSize
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SynthesisWorker{
		synthesizer: synthesizer,
		chunkSize:   chunkSize,
		logger:      logger.With(zap.String("component", "synthesis")),
	}, nil
}

// Synthesize opens the speech stream for reply. ctx must stay alive until the
// returned stream has been drained.
func (sw *SynthesisWorker) Synthesize(ctx context.Context, reply model.Reply) (*ChunkStream, error) {
	body, err := sw.synthesizer.Synthesize(ctx, string(reply))
	if err != nil {
		return nil, model.SynthesisError(err)
	}
	if body == nil {
		return nil, model.SynthesisError(errors.New("synthesizer returned no stream"))
	}
	return newChunkStream(body, sw.chunkSize), nil
}

// ChunkStream slices a synthesizer byte stream into fixed-size indexed chunks
// and terminates it with a sentinel chunk. It can be consumed once.
type ChunkStream struct {
	body      io.ReadCloser
	buf       []byte
	next      int
	done      bool
	err       error
	closeOnce sync.Once
}

func newChunkStream(body io.ReadCloser, size int) *ChunkStream {
	return &ChunkStream{body: body, buf: make([]byte, size)}
}

// Next returns the next chunk. It returns false once the sentinel has been
// returned, or when the stream failed before producing any chunk.
func (s *ChunkStream) Next() (model.OutboundChunk, bool) {
	if s.done {
		return model.OutboundChunk{}, false
	}

	n, err := io.ReadFull(s.body, s.buf)
	switch {
	case err == nil, errors.Is(err, io.ErrUnexpectedEOF):
		payload := make([]byte, n)
		copy(payload, s.buf[:n])
		chunk := model.OutboundChunk{Index: s.next, Payload: payload}
		s.next++
		return chunk, true
	case errors.Is(err, io.EOF):
		return s.finish(nil)
	default:
		return s.finish(model.SynthesisError(err))
	}
}

// finish ends the stream. A failed stream only gets a sentinel when chunks
// were already handed out.
func (s *ChunkStream) finish(err error) (model.OutboundChunk, bool) {
	s.done = true
	s.err = err
	_ = s.Close()
	if err != nil && s.next == 0 {
		return model.OutboundChunk{}, false
	}
	chunk := model.SentinelChunk(s.next)
	s.next++
	return chunk, true
}

// Err returns the SynthesisError that ended the stream, if any.
func (s *ChunkStream) Err() error {
	return s.err
}

// Produced returns how many chunks, sentinel included, have been returned.
func (s *ChunkStream) Produced() int {
	return s.next
}

// Close releases the underlying stream. It is safe to call more than once.
func (s *ChunkStream) Close() error {
	var err error
	s.closeOnce.Do(func() {
		s.done = true
		err = s.body.Close()
	})
	return err
}
