package retry

import (
	"context"
	"errors"

	"github.com/aelexs/musicroom/internal/domain"
)

// Advisory texts shown while a read is struggling.
const (
	MsgQueryRetrying  = "connection issue, retrying..."
	MsgQueryExhausted = "failed to load data, please try again"
)

// Query runs a read under the query policy. It never returns an error:
// any final failure is logged and reported as (zero, false). An info
// advisory goes out on the first retry only and an error advisory once
// all attempts are spent. Permanent failures are silent.
func Query[T any](ctx context.Context, r *Retrier, name string, op func(context.Context) (T, error), opts ...Option) (T, bool) {
	cfg := r.query.with(opts)
	audience := cfg.Audience
	hook := cfg.OnRetry
	cfg.OnRetry = func(attempt int, err error) {
		if attempt == 1 {
			r.notify(ctx, domain.Advisory{
				UserID:   audience,
				Severity: domain.SeverityInfo,
				Code:     "retrying",
				Message:  MsgQueryRetrying,
			})
		}
		if hook != nil {
			hook(attempt, err)
		}
	}

	v, err := run(ctx, r, name, op, cfg)
	if err != nil {
		var zero T
		r.logger.ErrorContext(ctx, "query failed", "op", name, "error", err)
		if errors.Is(err, ErrRetriesExhausted) {
			r.notify(ctx, domain.Advisory{
				UserID:   audience,
				Severity: domain.SeverityError,
				Code:     "query_failed",
				Message:  MsgQueryExhausted,
			})
		}
		return zero, false
	}
	return v, true
}

// Mutate runs a write under the mutation policy and reports whether it
// eventually succeeded. It emits no advisories; the caller owns the
// single user-facing notice for its action.
func Mutate(ctx context.Context, r *Retrier, name string, op func(context.Context) error, opts ...Option) bool {
	cfg := r.mutation.with(opts)
	_, err := run(ctx, r, name, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, op(ctx)
	}, cfg)
	if err != nil {
		r.logger.ErrorContext(ctx, "mutation failed", "op", name, "error", err)
		return false
	}
	return true
}
