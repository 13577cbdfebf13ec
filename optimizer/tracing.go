package optimizer

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/teilomillet/extractopt/optimizer"

var (
	attrIteration = attribute.Key("extractopt.iteration")
	attrTarget    = attribute.Key("extractopt.target")
	attrModel     = attribute.Key("extractopt.model")
	attrDocuments = attribute.Key("extractopt.documents")
	attrAverage   = attribute.Key("extractopt.average")
	attrFailures  = attribute.Key("extractopt.failures")
)

func startSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, name, trace.WithAttributes(attrs...))
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}
