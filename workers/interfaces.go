package workers

//go:generate mockgen -source=interfaces.go -destination=mocks/mock_interfaces.go -package=mocks

import (
	"context"
	"io"
)

// Recognizer is the send side of a streaming speech recognizer connection.
type Recognizer interface {
	Send(frame []byte) error
}

// Completer answers a single prompt with no retained conversation.
type Completer interface {
	Complete(ctx context.Context, prompt string) (string, error)
}

// Synthesizer turns text into a finite raw audio byte stream.
type Synthesizer interface {
	Synthesize(ctx context.Context, text string) (io.ReadCloser, error)
}

// Dispatcher receives turn lifecycle signals from the transcription worker.
type Dispatcher interface {
	// OpenTurn marks that audio for a turn is arriving.
	OpenTurn()
	// Dispatch hands a completed utterance to the pipeline.
	Dispatch(utterance string)
	// AbandonTurn closes an open turn that produced no utterance.
	AbandonTurn()
}
