// Package port contains the chat service's entry points: the room REST
// API, the room WebSocket and the advisory router that carries notices
// from the chat core back to connected users.
package port

import (
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

var tracer = otel.Tracer("chat/port")

var (
	wsConnectionsActive metric.Int64UpDownCounter
	wsSlowConsumerTotal metric.Int64Counter
)

func init() {
	m := otel.Meter("chat/port")

	wsConnectionsActive, _ = m.Int64UpDownCounter("chat_ws_connections_active",
		metric.WithDescription("Open room WebSocket connections"))
	wsSlowConsumerTotal, _ = m.Int64Counter("chat_ws_slow_consumer_total",
		metric.WithDescription("Connections closed because their outbound queue filled"))
}
