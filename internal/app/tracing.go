package service

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

func (s *Service) startSpan(ctx context.Context, op string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return s.tracer.Start(ctx, op, trace.WithAttributes(attrs...))
}

// endSpan records err on span and ends it. Expected outcomes such as a
// missing player are not marked as span errors.
func endSpan(span trace.Span, err error) {
	if err != nil {
		switch kindOf(err) {
		case ErrNotFound, ErrInvalidArgument:
			span.SetAttributes(attribute.String("outcome", outcome(err)))
		default:
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
	}
	span.End()
}
