package model

import "errors"

// Error kinds, one per pipeline stage. Match them with errors.Is.
var (
	ErrTransport  = errors.New("transport error")
	ErrRecognizer = errors.New("recognizer error")
	ErrGeneration = errors.New("generation error")
	ErrSynthesis  = errors.New("synthesis error")
)

// StageError ties a failure to the stage that produced it.
type StageError struct {
	Kind error
	Err  error
}

func (e *StageError) Error() string {
	if e.Err == nil {
		return e.Kind.Error()
	}
	return e.Kind.Error() + ": " + e.Err.Error()
}

func (e *StageError) Unwrap() []error {
	return []error{e.Kind, e.Err}
}

func TransportError(err error) error  { return &StageError{Kind: ErrTransport, Err: err} }
func RecognizerError(err error) error { return &StageError{Kind: ErrRecognizer, Err: err} }
func GenerationError(err error) error { return &StageError{Kind: ErrGeneration, Err: err} }
func SynthesisError(err error) error  { return &StageError{Kind: ErrSynthesis, Err: err} }
