package trace

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Builder starts spans on a named tracer.
type Builder struct {
	tracer trace.Tracer
}

// Tracer returns a Builder for the named tracer of the global provider.
func Tracer(name string) *Builder {
	return &Builder{tracer: otel.Tracer(name)}
}

// SpanScope pairs a span with the context that carries it.
type SpanScope struct {
	Ctx  context.Context
	Span trace.Span
}

// Start opens a span. Chain WithAttrs/Fail and always call End.
func (b *Builder) Start(ctx context.Context, spanName string, opts ...trace.SpanStartOption) *SpanScope {
	nctx, sp := b.tracer.Start(ctx, spanName, opts...)
	return &SpanScope{Ctx: nctx, Span: sp}
}

func (s *SpanScope) live() bool { return s != nil && s.Span != nil }

// WithAttrs sets attributes on the span.
func (s *SpanScope) WithAttrs(attrs ...attribute.KeyValue) *SpanScope {
	if s.live() {
		s.Span.SetAttributes(attrs...)
	}
	return s
}

// Fail records err and marks the span failed. A nil err is ignored.
func (s *SpanScope) Fail(err error) *SpanScope {
	if s.live() && err != nil {
		s.Span.RecordError(err)
		s.Span.SetStatus(codes.Error, err.Error())
	}
	return s
}

// End ends the span.
func (s *SpanScope) End() {
	if s.live() {
		s.Span.End()
	}
}

// Event adds a named event to whatever span ctx carries. It does nothing
// when ctx has no recording span.
func Event(ctx context.Context, name string, attrs ...attribute.KeyValue) {
	sp := trace.SpanFromContext(ctx)
	if !sp.IsRecording() {
		return
	}
	sp.AddEvent(name, trace.WithAttributes(attrs...))
}
