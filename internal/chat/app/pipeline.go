package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/aelexs/musicroom/internal/domain"
	"github.com/aelexs/musicroom/internal/observability"
	"github.com/aelexs/musicroom/internal/retry"
)

// MsgSendFailed is the advisory shown when a message could not be stored.
const MsgSendFailed = "failed to send message"

// ErrSendFailed is reported when persistence gave up.
var ErrSendFailed = domain.ErrSendFailed

// SendState is the stage a send reached.
type SendState string

const (
	StateIdle         SendState = "idle"
	StateRateLimiting SendState = "rate_limiting"
	StateValidating   SendState = "validating"
	StatePersisting   SendState = "persisting"
	StateDelivered    SendState = "delivered"
	StateRejected     SendState = "rejected"
	StateFailed       SendState = "failed"
)

// SendResult is the outcome of Pipeline.Send. Err is set for Rejected
// and Failed; Message is set for Delivered.
type SendResult struct {
	State   SendState
	Err     error
	Message domain.ChatMessage
}

// OK reports whether the message was delivered.
func (r SendResult) OK() bool {
	return r.State == StateDelivered
}

// PipelineConfig holds the dependencies for Pipeline.
type PipelineConfig struct {
	Store    MessageStore
	Limiter  *RateLimiter
	Filter   *Filter
	Retrier  *retry.Retrier
	Notifier Notifier
	Clock    domain.Clock
	Logger   *slog.Logger
}

// Pipeline runs a chat send through rate limiting, validation,
// sanitization and persistence. Every rejected or failed send produces
// exactly one advisory for the sender.
type Pipeline struct {
	store    MessageStore
	limiter  *RateLimiter
	filter   *Filter
	retrier  *retry.Retrier
	notifier Notifier
	clock    domain.Clock
	logger   *slog.Logger
}

// NewPipeline creates a Pipeline with the given dependencies.
func NewPipeline(cfg PipelineConfig) *Pipeline {
	return &Pipeline{
		store:    cfg.Store,
		limiter:  cfg.Limiter,
		filter:   cfg.Filter,
		retrier:  cfg.Retrier,
		notifier: cfg.Notifier,
		clock:    cfg.Clock,
		logger:   cfg.Logger,
	}
}

// Limiter exposes the rate limiter so room sessions can reset room
// bookkeeping on leave.
func (p *Pipeline) Limiter() *RateLimiter {
	return p.limiter
}

// Send submits raw as userID's message in roomID.
func (p *Pipeline) Send(ctx context.Context, roomID domain.RoomID, userID domain.UserID, raw string) SendResult {
	start := time.Now()
	res := p.send(ctx, roomID, userID, raw)
	sendDurationSeconds.Record(ctx, time.Since(start).Seconds(),
		metric.WithAttributes(attribute.String("state", string(res.State))))
	return res
}

func (p *Pipeline) send(ctx context.Context, roomID domain.RoomID, userID domain.UserID, raw string) SendResult {
	ctx, span := tracer.Start(ctx, "chat.send")
	defer span.End()
	span.SetAttributes(
		attribute.String("room.id", roomID.String()),
		attribute.String("user.id", userID.String()),
	)

	logger := observability.WithTraceID(ctx, p.logger).With("room_id", roomID.String(), "user_id", userID.String())

	// 1. Rate limiting, before any content work.
	key := p.limiter.Key(roomID, userID)
	if !p.limiter.begin(key) {
		return p.reject(ctx, span, logger, userID, domain.ErrSendingTooFast)
	}
	defer p.limiter.end(key)

	verdict, err := p.limiter.Check(ctx, key, p.clock.Now())
	if err != nil {
		return p.fail(ctx, span, logger, userID, err)
	}
	if verdictErr := verdict.Err(); verdictErr != nil {
		return p.reject(ctx, span, logger, userID, verdictErr)
	}

	// 2. Validation.
	content, err := Validate(raw)
	if err != nil {
		return p.reject(ctx, span, logger, userID, err)
	}

	// 3. Sanitization.
	content = p.filter.Apply(content)

	// 4. Persistence. The message is built once so every attempt writes
	// the same row.
	msg := domain.ChatMessage{
		ID:        domain.GenerateMessageID(),
		RoomID:    roomID,
		UserID:    userID,
		Content:   content,
		CreatedAt: p.clock.Now().UTC(),
	}
	attempts := 0
	ok := retry.Mutate(ctx, p.retrier, "insert_message", func(ctx context.Context) error {
		attempts++
		err := p.store.InsertMessage(ctx, msg)
		if attempts > 1 && errors.Is(err, domain.ErrAlreadyExists) {
			// An earlier attempt committed before its response was lost.
			logger.InfoContext(ctx, "replayed insert already stored", "message_id", msg.ID.String())
			return nil
		}
		return err
	})
	if !ok {
		return p.fail(ctx, span, logger, userID, ErrSendFailed)
	}

	if err := p.limiter.Record(ctx, key, p.clock.Now()); err != nil {
		// Still delivered: the message is already stored.
		logger.WarnContext(ctx, "failed to record accepted send", "error", err)
	}

	messagesSentTotal.Add(ctx, 1)
	logger.DebugContext(ctx, "chat.message_sent", "message_id", msg.ID.String())
	return SendResult{State: StateDelivered, Message: msg}
}

func (p *Pipeline) reject(ctx context.Context, span trace.Span, logger *slog.Logger, userID domain.UserID, err error) SendResult {
	reason := rejectReason(err)
	messagesRejectedTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", reason)))
	span.SetStatus(codes.Error, reason)
	logger.InfoContext(ctx, "chat.send_rejected", "reason", reason)

	p.notify(ctx, domain.Advisory{
		UserID:   userID,
		Severity: domain.SeverityWarning,
		Code:     reason,
		Message:  err.Error(),
	})
	return SendResult{State: StateRejected, Err: err}
}

func (p *Pipeline) fail(ctx context.Context, span trace.Span, logger *slog.Logger, userID domain.UserID, err error) SendResult {
	messagesRejectedTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", "failed")))
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	logger.ErrorContext(ctx, "chat.send_failed", "error", err)

	p.notify(ctx, domain.Advisory{
		UserID:   userID,
		Severity: domain.SeverityError,
		Code:     "send_failed",
		Message:  MsgSendFailed,
	})
	if !errors.Is(err, ErrSendFailed) {
		err = fmt.Errorf("%w: %w", ErrSendFailed, err)
	}
	return SendResult{State: StateFailed, Err: err}
}

func (p *Pipeline) notify(ctx context.Context, a domain.Advisory) {
	if p.notifier != nil {
		p.notifier.Notify(ctx, a)
	}
}

func rejectReason(err error) string {
	switch {
	case errors.Is(err, domain.ErrTooManyMessages):
		return "too_many"
	case errors.Is(err, domain.ErrSendingTooFast):
		return "too_fast"
	case errors.Is(err, domain.ErrEmptyMessage):
		return "empty"
	case errors.Is(err, domain.ErrMessageTooLong):
		return "too_long"
	default:
		return "invalid"
	}
}
