package adapter

import (
	"context"
	"log/slog"

	"github.com/aelexs/musicroom/internal/domain"
)

// LogNotifier writes advisories to the log. It is the notifier used when
// no client transport is attached, such as in batch tools.
type LogNotifier struct {
	logger *slog.Logger
}

// NewLogNotifier creates a LogNotifier.
func NewLogNotifier(logger *slog.Logger) *LogNotifier {
	return &LogNotifier{logger: logger}
}

// Notify logs a at a level matching its severity.
func (n *LogNotifier) Notify(ctx context.Context, a domain.Advisory) {
	level := slog.LevelInfo
	switch a.Severity {
	case domain.SeverityWarning:
		level = slog.LevelWarn
	case domain.SeverityError:
		level = slog.LevelError
	}
	n.logger.Log(ctx, level, "advisory",
		slog.String("user_id", a.UserID.String()),
		slog.String("code", a.Code),
		slog.String("message", a.Message),
	)
}
