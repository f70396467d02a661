package workers

import (
	"context"
	"sync"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/mrsingh-rishi/pixa/metrics"
	"github.com/mrsingh-rishi/pixa/model"
	"github.com/mrsingh-rishi/pixa/types"
	"github.com/mrsingh-rishi/pixa/utterance"
)

var (
	// ErrFrameDropped is returned by Submit when the frame queue stayed full.
	ErrFrameDropped = errors.New("frame queue full, frame dropped")
	// ErrWorkerStopped is returned by Submit after Stop.
	ErrWorkerStopped = errors.New("transcription worker stopped")
	// ErrRecognizerUnavailable is returned by a Recognizer that is waiting
	// out a retry delay after a failed connect.
	ErrRecognizerUnavailable = errors.New("recognizer unavailable")
)

// TranscriptionOptions tune the frame queue in front of the recognizer.
type TranscriptionOptions struct {
	QueueSize      int
	EnqueueTimeout time.Duration
}

// TranscriptionWorker feeds inbound frames to the recognizer in submission
// order and turns recognizer results into utterances.
type TranscriptionWorker struct {
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	recognizer Recognizer
	assembler  *utterance.Assembler
	dispatcher Dispatcher
	frames     chan model.AudioFrame
	timeout    time.Duration

	metrics *metrics.Collector
	logger  *zap.Logger
}

// NewTranscriptionWorker builds a worker that forwards frames to recognizer
// and dispatches assembled utterances. Call Start before Submit.
func NewTranscriptionWorker(
	recognizer Recognizer,
	assembler *utterance.Assembler,
	dispatcher Dispatcher,
	opts TranscriptionOptions,
	collector *metrics.Collector,
	logger *zap.Logger,
) (*TranscriptionWorker, error) {
	if recognizer == nil {
		return nil, errors.New("recognizer is required")
	}
	if assembler == nil {
		return nil, errors.New("assembler is required")
	}
	if dispatcher == nil {
		return nil, errors.New("dispatcher is required")
	}
	if opts.QueueSize <= 0 {
		opts.QueueSize = 256
	}
	if opts.EnqueueTimeout <= 0 {
		opts.EnqueueTimeout = 2 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &TranscriptionWorker{
		ctx:        ctx,
		cancel:     cancel,
		recognizer: recognizer,
		assembler:  assembler,
		dispatcher: dispatcher,
		frames:     make(chan model.AudioFrame, opts.QueueSize),
		timeout:    opts.EnqueueTimeout,
		metrics:    collector,
		logger:     logger.With(zap.String("component", "transcription")),
	}, nil
}

// Start launches the sender loop.
func (tw *TranscriptionWorker) Start() {
	tw.wg.Add(1)
	go tw.process()
}

// Submit queues a frame for the recognizer. It returns once the frame is
// queued; a queue that stays full for longer than the enqueue timeout drops
// the frame.
func (tw *TranscriptionWorker) Submit(ctx context.Context, frame model.AudioFrame) error {
	tw.metrics.FrameReceived(frame.IsEndOfSpeech())

	select {
	case <-tw.ctx.Done():
		return ErrWorkerStopped
	case tw.frames <- frame:
		return nil
	default:
	}

	timer := time.NewTimer(tw.timeout)
	defer timer.Stop()
	select {
	case tw.frames <- frame:
		return nil
	case <-tw.ctx.Done():
		return ErrWorkerStopped
	case <-ctx.Done():
		return errors.Wrap(ctx.Err(), "submit frame")
	case <-timer.C:
		tw.metrics.FrameDropped()
		tw.logger.Warn("dropping frame", zap.Int("bytes", len(frame)), zap.Bool("marker", frame.IsEndOfSpeech()))
		return ErrFrameDropped
	}
}

// process forwards queued frames one at a time, so the recognizer sees them
// in submission order.
func (tw *TranscriptionWorker) process() {
	defer tw.wg.Done()
	for {
		select {
		case <-tw.ctx.Done():
			return
		case frame := <-tw.frames:
			err := tw.forward(frame)
			switch {
			case err == nil:
			case errors.Is(err, ErrRecognizerUnavailable):
				tw.logger.Debug("recognizer unavailable, frame discarded", zap.Error(err))
			default:
				tw.logger.Error("forwarding frame failed", zap.Error(err))
			}
		}
	}
}

func (tw *TranscriptionWorker) forward(frame model.AudioFrame) error {
	if frame.IsEndOfSpeech() {
		tw.logger.Debug("end signal detected")
		tw.endOfSpeech(frame)
		return nil
	}

	tw.dispatcher.OpenTurn()
	if err := tw.recognizer.Send(frame); err != nil {
		if !errors.Is(err, ErrRecognizerUnavailable) {
			tw.metrics.RecognizerError()
		}
		if tw.assembler.Pending() {
			tw.endOfSpeech(model.AudioFrame(model.Sentinel))
		}
		return model.RecognizerError(err)
	}
	return nil
}

func (tw *TranscriptionWorker) endOfSpeech(frame model.AudioFrame) {
	text, ok := tw.assembler.Signal(frame)
	if !ok {
		tw.dispatcher.AbandonTurn()
		return
	}
	tw.logger.Info("full sentence", zap.String("utterance", text))
	tw.metrics.UtteranceDispatched()
	tw.dispatcher.Dispatch(text)
}

// HandleTranscript appends final, non-empty recognizer results.
func (tw *TranscriptionWorker) HandleTranscript(ev types.TranscriptEvent) {
	if ev.Transcript == "" {
		return
	}
	if !ev.Final {
		tw.logger.Debug("partial transcription", zap.String("text", ev.Transcript), zap.Float64("confidence", ev.Confidence))
		return
	}
	tw.logger.Info("new sentence", zap.String("text", ev.Transcript), zap.Float64("confidence", ev.Confidence))
	tw.assembler.Append(model.TranscriptFragment(ev.Transcript))
}

// HandleError reacts to a failed recognizer stream by flushing whatever was
// accumulated so the turn is not lost.
func (tw *TranscriptionWorker) HandleError(err error) {
	tw.metrics.RecognizerError()
	tw.logger.Error("recognizer error", zap.Error(model.RecognizerError(err)))
	if text, ok := tw.assembler.Flush(); ok {
		tw.logger.Info("flushing partial sentence", zap.String("utterance", text))
		tw.metrics.UtteranceDispatched()
		tw.dispatcher.Dispatch(text)
	}
}

// HandleMetadata logs recognizer session metadata.
func (tw *TranscriptionWorker) HandleMetadata(meta types.Metadata) {
	tw.logger.Info("recognizer metadata",
		zap.String("request_id", meta.RequestID),
		zap.String("model", meta.ModelName),
		zap.Float64("duration", meta.Duration),
	)
}

// Stop terminates the sender loop. Frames still queued are discarded.
func (tw *TranscriptionWorker) Stop() {
	tw.cancel()
	tw.wg.Wait()
}
