// Package trace defines the stage-event surface emitted by the ingestion and
// query pipelines.
//
// The pipelines report structured, named events (stage boundaries, retrieval
// candidate previews, degradation warnings). Persistence and aggregation of
// these events is out of scope here; an Emitter only receives them. Emitters
// are passed explicitly to pipeline stages, never stored in globals, so each
// stage stays a pure function of its input and context.
package trace

import (
	"context"
	"log/slog"
)

// Event names emitted by the pipelines. Callers match on these, so they are
// part of the public contract.
const (
	EventStageStart = "stage.start"
	EventStageEnd   = "stage.end"
	EventStageError = "stage.error"

	EventDedupDecision = "ingest.dedup_decision"
	EventEmbedCache    = "embed.cache"

	EventCandidates       = "retrieval.candidates"
	EventFused            = "retrieval.fused"
	EventRerankUsed       = "rerank.used"
	EventRerankSkipped    = "rerank.skipped"
	EventRerankFallback   = "warn.rerank_fallback"
	EventContextBuilt     = "context.built"
	EventGenerateUsed     = "generate.used"
	EventGenerateSkipped  = "generate.skipped"
	EventGenerateFallback = "warn.generate_fallback"
)

// Emitter receives named pipeline events with structured attributes.
// Implementations must be safe for concurrent use and must never fail the
// caller: event delivery is best-effort by contract.
type Emitter interface {
	Emit(ctx context.Context, name string, attrs map[string]any)
}

// LogEmitter writes events to a slog.Logger at debug level.
type LogEmitter struct {
	logger *slog.Logger
}

// NewLogEmitter returns an Emitter backed by the given logger.
// A nil logger falls back to slog.Default().
func NewLogEmitter(logger *slog.Logger) *LogEmitter {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogEmitter{logger: logger}
}

// Emit logs the event name plus its attributes as slog fields.
func (e *LogEmitter) Emit(ctx context.Context, name string, attrs map[string]any) {
	args := make([]any, 0, len(attrs)*2)
	for k, v := range attrs {
		args = append(args, k, v)
	}
	e.logger.DebugContext(ctx, name, args...)
}

// NopEmitter discards all events. Useful as a default and in tests that do
// not assert on event flow.
type NopEmitter struct{}

// Emit does nothing.
func (NopEmitter) Emit(context.Context, string, map[string]any) {}

// Recorder captures events in order for test assertions.
// Not safe for concurrent use; pipelines under test run sequentially.
type Recorder struct {
	Events []RecordedEvent
}

// RecordedEvent is one captured Emit call.
type RecordedEvent struct {
	Name  string
	Attrs map[string]any
}

// Emit appends the event to the recorder.
func (r *Recorder) Emit(_ context.Context, name string, attrs map[string]any) {
	r.Events = append(r.Events, RecordedEvent{Name: name, Attrs: attrs})
}

// Names returns the captured event names in emission order.
func (r *Recorder) Names() []string {
	out := make([]string, len(r.Events))
	for i, e := range r.Events {
		out[i] = e.Name
	}
	return out
}

// Has reports whether an event with the given name was captured.
func (r *Recorder) Has(name string) bool {
	for _, e := range r.Events {
		if e.Name == name {
			return true
		}
	}
	return false
}
