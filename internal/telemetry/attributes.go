// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package telemetry

import (
	"go.opentelemetry.io/otel/attribute"
)

// Attribute keys shared by all spans.
const (
	CameraIDKey = "camera.id"

	EventTypeKey = "event.type"
	EventIDKey   = "event.id"

	WebhookStatusCodeKey = "webhook.status_code"
	WebhookResultKey     = "webhook.result"

	RecordingStrategyKey = "recording.strategy"
	RecordingPathKey     = "recording.path"

	ErrorKey     = "error"
	ErrorTypeKey = "error.type"
)

// EventAttributes describes an outbound camera event.
func EventAttributes(cameraID, eventType, eventID string) []attribute.KeyValue {
	attrs := make([]attribute.KeyValue, 0, 3)
	if cameraID != "" {
		attrs = append(attrs, attribute.String(CameraIDKey, cameraID))
	}
	attrs = append(attrs, attribute.String(EventTypeKey, eventType))
	if eventID != "" {
		attrs = append(attrs, attribute.String(EventIDKey, eventID))
	}
	return attrs
}

// WebhookAttributes records the delivery outcome.
func WebhookAttributes(statusCode int, result string) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.Int(WebhookStatusCodeKey, statusCode),
		attribute.String(WebhookResultKey, result),
	}
}

// RecordingAttributes describes a recording session.
func RecordingAttributes(strategy, path string) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.String(RecordingStrategyKey, strategy),
		attribute.String(RecordingPathKey, path),
	}
}

// ErrorAttributes marks a span as failed.
func ErrorAttributes(errorType string) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.Bool(ErrorKey, true),
		attribute.String(ErrorTypeKey, errorType),
	}
}
