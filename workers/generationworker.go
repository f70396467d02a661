package workers

import (
	"context"
	"strings"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/mrsingh-rishi/pixa/model"
)

// GenerationWorker asks the language model for a reply to one utterance.
type GenerationWorker struct {
	completer Completer
	logger    *zap.Logger
}

// NewGenerationWorker wraps completer for single-prompt generation.
func NewGenerationWorker(completer Completer, logger *zap.Logger) (*GenerationWorker, error) {
	if completer == nil {
		return nil, errors.New("completer is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &GenerationWorker{
		completer: completer,
		logger:    logger.With(zap.String("component", "generation")),
	}, nil
}

// Generate returns the model's reply. Every failure, including an empty
// reply, is a GenerationError.
func (gw *GenerationWorker) Generate(ctx context.Context, utterance string) (model.Reply, error) {
	reply, err := gw.completer.Complete(ctx, utterance)
	if err != nil {
		return "", model.GenerationError(err)
	}
	if strings.TrimSpace(reply) == "" {
		return "", model.GenerationError(errors.New("empty reply"))
	}
	return model.Reply(reply), nil
}
