package port

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/aelexs/musicroom/internal/chat/app"
	"github.com/aelexs/musicroom/internal/domain"
	"github.com/aelexs/musicroom/internal/errmap"
	"github.com/aelexs/musicroom/internal/observability"
	"github.com/aelexs/musicroom/pkg/protocol"
)

// maxFrameBytes bounds a client frame.
const maxFrameBytes = 16 << 10

var errServerShutdown = errors.New("server shutting down")

// connection is one room WebSocket. The reader goroutine handles client
// frames; a single writer goroutine owns every data write.
type connection struct {
	id     domain.ConnectionID
	ws     *websocket.Conn
	roomID domain.RoomID
	userID domain.UserID
	logger *slog.Logger

	ctx    context.Context
	cancel context.CancelCauseFunc

	outbound chan []byte

	// Live entries are held back until the snapshot is queued.
	mu      sync.Mutex
	started bool
	pending []domain.Entry
}

// handleRoomWS joins the room for the lifetime of the socket.
func (h *Handler) handleRoomWS(w http.ResponseWriter, r *http.Request) {
	roomID, userID, ok := h.roomAndUser(w, r)
	if !ok {
		return
	}
	ws, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// The upgrader has already replied.
		h.logger.DebugContext(r.Context(), "websocket upgrade failed", slog.Any("error", err))
		return
	}

	// The socket outlives the request context once hijacked.
	ctx, cancel := context.WithCancelCause(WithRoom(context.WithoutCancel(r.Context()), roomID))
	c := &connection{
		id:       domain.GenerateConnectionID(),
		ws:       ws,
		roomID:   roomID,
		userID:   userID,
		ctx:      ctx,
		cancel:   cancel,
		outbound: make(chan []byte, domain.OutboundBufferSize),
	}
	c.logger = observability.WithTraceID(ctx, h.logger).With(
		slog.String("room_id", roomID.String()),
		slog.String("user_id", userID.String()),
		slog.String("connection_id", c.id.String()),
	)

	if !h.track(c) {
		c.writeClose(errmap.CloseServerShutdown)
		_ = ws.Close()
		cancel(errServerShutdown)
		return
	}
	defer h.untrack(c)

	h.serve(c)
}

func (h *Handler) serve(c *connection) {
	defer c.ws.Close()

	ctx, span := tracer.Start(c.ctx, "chat.ws.session")
	defer span.End()
	span.SetAttributes(
		attribute.String("chat.room_id", c.roomID.String()),
		attribute.String("chat.connection_id", c.id.String()),
	)

	session, err := h.rooms.Acquire(ctx, c.roomID, c.userID)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "join failed")
		c.logger.WarnContext(ctx, "room join failed", slog.Any("error", err))
		c.writeClose(errmap.ToWebSocketClose(err))
		c.cancel(err)
		return
	}
	defer h.release(ctx, c.roomID)

	wsConnectionsActive.Add(ctx, 1)
	defer wsConnectionsActive.Add(context.WithoutCancel(ctx), -1)

	cancelAdvisories := h.advisories.Register(c.userID, c.roomID, c.pushAdvisory)
	defer cancelAdvisories()

	c.enqueue(protocol.FrameTypeConnectionAck, protocol.ConnectionAck{
		ConnectionID:        c.id.String(),
		RoomID:              c.roomID.String(),
		UserID:              c.userID.String(),
		HeartbeatIntervalMs: int(domain.PingInterval.Milliseconds()),
	})
	snapshot, cancelWatch := session.Watch(c.pushEntry)
	defer cancelWatch()
	c.start(snapshot)

	c.logger.InfoContext(ctx, "websocket connected", slog.Int("snapshot_len", len(snapshot)))

	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		c.writePump()
	}()

	c.readPump(session)
	c.cancel(nil)
	<-writerDone

	if cause := context.Cause(c.ctx); !isNormalClose(cause) {
		c.logger.InfoContext(ctx, "websocket closed", slog.Any("reason", cause))
	} else {
		c.logger.DebugContext(ctx, "websocket closed")
	}
}

func (c *connection) stop(cause error) {
	c.cancel(cause)
}

// enqueue queues a frame without blocking. A full queue means the client
// is not reading, and the connection is dropped.
func (c *connection) enqueue(t protocol.FrameType, payload any) {
	data, err := protocol.Encode(t, payload)
	if err != nil {
		c.logger.Error("encode frame failed", slog.String("frame_type", string(t)), slog.Any("error", err))
		return
	}
	select {
	case c.outbound <- data:
	default:
		if c.ctx.Err() == nil {
			wsSlowConsumerTotal.Add(c.ctx, 1)
			c.logger.Warn("outbound queue full, closing connection")
		}
		c.stop(domain.ErrSlowConsumer)
	}
}

func (c *connection) start(snapshot []domain.Entry) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.enqueue(protocol.FrameTypeSnapshot, protocol.Snapshot{
		RoomID:  c.roomID.String(),
		Entries: toWireEntries(snapshot),
	})
	for _, e := range c.pending {
		c.enqueueEntry(e)
	}
	c.pending = nil
	c.started = true
}

// pushEntry is the room listener. It runs on the inserting goroutine.
func (c *connection) pushEntry(e domain.Entry) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.started {
		c.pending = append(c.pending, e)
		return
	}
	c.enqueueEntry(e)
}

func (c *connection) enqueueEntry(e domain.Entry) {
	t := protocol.FrameTypeMessage
	if e.Type() == domain.EntryTypeSystem {
		t = protocol.FrameTypeSystem
	}
	c.enqueue(t, toWireEntry(e))
}

func (c *connection) pushAdvisory(a domain.Advisory) {
	c.enqueue(protocol.FrameTypeAdvisory, protocol.Advisory{
		Severity: string(a.Severity),
		Code:     a.Code,
		Message:  a.Message,
	})
}

func (c *connection) sendError(code, message string) {
	c.enqueue(protocol.FrameTypeError, protocol.Error{Code: code, Message: message})
}

// readPump handles client frames until the socket fails or the
// connection is stopped. Sends are processed one at a time.
func (c *connection) readPump(session *app.RoomSession) {
	c.ws.SetReadLimit(maxFrameBytes)
	_ = c.ws.SetReadDeadline(time.Now().Add(domain.PongTimeout))
	c.ws.SetPongHandler(func(string) error {
		return c.ws.SetReadDeadline(time.Now().Add(domain.PongTimeout))
	})

	for {
		msgType, data, err := c.ws.ReadMessage()
		if err != nil {
			if c.ctx.Err() == nil && websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				c.logger.Debug("websocket read failed", slog.Any("error", err))
			}
			return
		}
		_ = c.ws.SetReadDeadline(time.Now().Add(domain.PongTimeout))

		if msgType != websocket.TextMessage {
			c.sendError("invalid_frame", "frames must be text")
			continue
		}
		frame, err := protocol.Decode(data)
		if err != nil {
			c.sendError("invalid_frame", "frame is not valid JSON")
			continue
		}

		switch frame.Type {
		case protocol.FrameTypeSendMessage:
			var req protocol.SendMessage
			if err := frame.ParsePayload(&req); err != nil {
				c.sendError("invalid_payload", "send_message payload is malformed")
				continue
			}
			res := session.Send(c.ctx, c.userID, req.Content)
			c.enqueue(protocol.FrameTypeSendResult, sendResultPayload(req.RequestID, res))
		case protocol.FrameTypePing:
			var p protocol.Ping
			_ = frame.ParsePayload(&p)
			c.enqueue(protocol.FrameTypePong, protocol.Pong{Timestamp: p.Timestamp})
		default:
			c.sendError("unknown_frame_type", "unsupported frame type "+string(frame.Type))
		}

		if c.ctx.Err() != nil {
			return
		}
	}
}

// writePump owns data writes. When the connection stops it says why and
// closes the socket, which also ends a blocked reader.
func (c *connection) writePump() {
	defer c.ws.Close()

	ticker := time.NewTicker(domain.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.ctx.Done():
			cause := context.Cause(c.ctx)
			if isNormalClose(cause) {
				c.writeClose(errmap.ToWebSocketClose(nil))
				return
			}
			wc := closeFor(cause)
			if data, err := protocol.Encode(protocol.FrameTypeConnectionClosing, protocol.ConnectionClosing{
				Reason: wc.Reason,
				Code:   wc.Code,
			}); err == nil {
				_ = c.ws.SetWriteDeadline(time.Now().Add(domain.WriteTimeout))
				_ = c.ws.WriteMessage(websocket.TextMessage, data)
			}
			c.writeClose(wc)
			return
		case data := <-c.outbound:
			_ = c.ws.SetWriteDeadline(time.Now().Add(domain.WriteTimeout))
			if err := c.ws.WriteMessage(websocket.TextMessage, data); err != nil {
				c.stop(err)
				return
			}
		case <-ticker.C:
			if err := c.ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(domain.WriteTimeout)); err != nil {
				c.stop(err)
				return
			}
		}
	}
}

func (c *connection) writeClose(wc errmap.WebSocketClose) {
	msg := websocket.FormatCloseMessage(wc.Code, wc.Reason)
	_ = c.ws.WriteControl(websocket.CloseMessage, msg, time.Now().Add(domain.WriteTimeout))
}

func isNormalClose(cause error) bool {
	return cause == nil || errors.Is(cause, context.Canceled)
}

func closeFor(cause error) errmap.WebSocketClose {
	if errors.Is(cause, errServerShutdown) {
		return errmap.CloseServerShutdown
	}
	return errmap.ToWebSocketClose(cause)
}

func sendResultPayload(requestID string, res app.SendResult) protocol.SendResult {
	out := protocol.SendResult{
		RequestID: requestID,
		State:     string(res.State),
	}
	if res.OK() {
		entry := toWireEntry(res.Message)
		out.Entry = &entry
		return out
	}
	httpErr := errmap.ToHTTPError(res.Err)
	out.Code = httpErr.Code
	out.Message = httpErr.Message
	return out
}
