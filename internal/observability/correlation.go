package observability

import (
	"context"
	"strings"

	"github.com/google/uuid"
)

type correlationKey struct{}

// WithCorrelation attaches a correlation identifier to the context, minting a
// new one when the supplied value is blank.
func WithCorrelation(ctx context.Context, id string) context.Context {
	trimmed := strings.TrimSpace(id)
	if trimmed == "" {
		trimmed = uuid.NewString()
	}
	return context.WithValue(ctx, correlationKey{}, trimmed)
}

// CorrelationID returns the identifier carried by the context, empty when unset.
func CorrelationID(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if id, ok := ctx.Value(correlationKey{}).(string); ok {
		return id
	}
	return ""
}

// Correlation builds a logging field from the context's correlation identifier.
func Correlation(ctx context.Context) Field {
	return Field{Key: "correlation_id", Value: CorrelationID(ctx)}
}
