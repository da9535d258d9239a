package progress

import "context"

// Sink receives milestones in the order the Hub accepted them. Consume may be
// called many times before Close; both must respect ctx.
type Sink interface {
	Consume(ctx context.Context, batch []Event) error
	Close(ctx context.Context) error
}

// SinkFunc adapts a function into a Sink with a no-op Close.
type SinkFunc func(ctx context.Context, batch []Event) error

// Consume calls f.
func (f SinkFunc) Consume(ctx context.Context, batch []Event) error { return f(ctx, batch) }

// Close implements Sink.
func (SinkFunc) Close(context.Context) error { return nil }

// Emitter is what the API and workers see when they report a stage.
type Emitter interface {
	Emit(evt Event)
}

// NopEmitter discards every milestone.
type NopEmitter struct{}

// Emit implements Emitter.
func (NopEmitter) Emit(Event) {}
