// Package pipeline holds the error taxonomy and stage machinery shared by
// the ingestion and query pipelines.
//
// A mandatory stage that fails aborts its pipeline with the stage name
// attached; optional stages degrade instead and report a warning through
// their pipeline's result. Classification uses errors.Is against the
// sentinels below.
package pipeline

import (
	"context"
	"errors"
	"fmt"

	"github.com/quarrylabs/quarry/internal/trace"
)

// Error classes. Wrap causes with %w so errors.Is sees both the class and
// the underlying error.
var (
	// ErrValidation marks rejected input: bad parameters, unknown policies,
	// unknown profiles.
	ErrValidation = errors.New("validation error")

	// ErrNotFound marks a missing referenced entity.
	ErrNotFound = errors.New("not found")

	// ErrProvider marks an external capability failure (embedder, generator,
	// reranker).
	ErrProvider = errors.New("provider error")

	// ErrStorage marks a failed or inconsistent store interaction.
	ErrStorage = errors.New("storage error")
)

// StageError carries the failing stage's name alongside the cause.
type StageError struct {
	Stage string
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("stage %s: %v", e.Stage, e.Err)
}

func (e *StageError) Unwrap() error { return e.Err }

// Run executes one mandatory stage with start/end/error events. The returned
// error, if any, is a StageError wrapping fn's error.
func Run(ctx context.Context, emitter trace.Emitter, stage string, fn func(context.Context) error) error {
	emitter.Emit(ctx, trace.EventStageStart, map[string]any{"stage": stage})
	if err := fn(ctx); err != nil {
		emitter.Emit(ctx, trace.EventStageError, map[string]any{
			"stage": stage,
			"error": err.Error(),
		})
		return &StageError{Stage: stage, Err: err}
	}
	emitter.Emit(ctx, trace.EventStageEnd, map[string]any{"stage": stage})
	return nil
}
