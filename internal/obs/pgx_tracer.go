package obs

import (
	"context"
	"strings"

	"github.com/jackc/pgx/v5"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

type pgxSpanKey struct{}

// PGXTracer implements pgx.QueryTracer so every statement issued through the
// pool shows up as a child span of the request trace.
type PGXTracer struct{}

func (PGXTracer) TraceQueryStart(ctx context.Context, _ *pgx.Conn, data pgx.TraceQueryStartData) context.Context {
	ctx, span := otel.Tracer("billing-gateway/pgx").Start(ctx, spanNameForSQL(data.SQL))
	span.SetAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.statement", clipSQL(data.SQL)),
	)
	return context.WithValue(ctx, pgxSpanKey{}, span)
}

func (PGXTracer) TraceQueryEnd(ctx context.Context, _ *pgx.Conn, data pgx.TraceQueryEndData) {
	span, ok := ctx.Value(pgxSpanKey{}).(trace.Span)
	if !ok {
		return
	}
	if data.Err != nil {
		span.RecordError(data.Err)
		span.SetStatus(codes.Error, data.Err.Error())
	}
	span.End()
}

// spanNameForSQL names the span after the leading SQL verb so traces group by
// operation instead of collapsing into one generic query span.
func spanNameForSQL(sql string) string {
	fields := strings.Fields(sql)
	if len(fields) == 0 {
		return "pgx.query"
	}
	return "pgx." + strings.ToLower(fields[0])
}

func clipSQL(sql string) string {
	trimmed := strings.TrimSpace(sql)
	const max = 256
	if len(trimmed) > max {
		return trimmed[:max] + "..."
	}
	return trimmed
}
