// Package telemetry provides semantic conventions for Centra observability.
package telemetry

import (
	"go.opentelemetry.io/otel/attribute"
)

// Semantic convention attribute keys for Centra-specific telemetry.
// Following OpenTelemetry naming conventions: namespace.attribute_name
const (
	// Aggregation attributes
	AttrSource  = attribute.Key("source")
	AttrSection = attribute.Key("section")
	AttrResult  = attribute.Key("result")
	AttrStage   = attribute.Key("stage")

	// Breaker attributes
	AttrBreaker = attribute.Key("breaker")
	AttrState   = attribute.Key("state")

	// Cache attributes
	AttrCacheBackend = attribute.Key("cache.backend")

	// Environment attribute
	AttrEnvironment = attribute.Key("environment")

	// Error attributes
	AttrErrorType = attribute.Key("error.type")
	AttrReason    = attribute.Key("reason")
)

// Result values
const (
	ResultHit       = "hit"
	ResultAssembled = "assembled"
	ResultOmitted   = "omitted"
	ResultError     = "error"
	ResultSuccess   = "success"
	ResultDropped   = "dropped"
)

// Cost stage values
const (
	StageRaw     = "raw"
	StageReduced = "reduced"
)

// SourceAttributes returns common attributes for source fetch metrics.
func SourceAttributes(environment, source, result string) []attribute.KeyValue {
	return []attribute.KeyValue{
		AttrEnvironment.String(environment),
		AttrSource.String(source),
		AttrResult.String(result),
	}
}

// BreakerAttributes returns attributes for breaker transition metrics.
func BreakerAttributes(environment, breaker, state string) []attribute.KeyValue {
	return []attribute.KeyValue{
		AttrEnvironment.String(environment),
		AttrBreaker.String(breaker),
		AttrState.String(state),
	}
}

// ErrorAttributes returns attributes for error metrics.
func ErrorAttributes(environment, errorType, reason string) []attribute.KeyValue {
	return []attribute.KeyValue{
		AttrEnvironment.String(environment),
		AttrErrorType.String(errorType),
		AttrReason.String(reason),
	}
}
