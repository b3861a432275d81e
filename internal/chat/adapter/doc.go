// Package adapter implements the chat core's ports: DynamoDB message
// storage, Redis and in-process realtime feeds, rate-limit stores and
// AWS-backed configuration loaders.
package adapter

import "go.opentelemetry.io/otel"

var tracer = otel.Tracer("chat/adapter")
