package evlog

import (
	"context"
	"log/slog"
)

// SlogAdapter projects Events onto a *slog.Logger, for console output
// during development and on host builds. It never blocks on file I/O,
// unlike FileLogger.
type SlogAdapter struct {
	logger *slog.Logger
}

// NewSlogAdapter wraps logger. A nil logger falls back to slog.Default().
func NewSlogAdapter(logger *slog.Logger) *SlogAdapter {
	if logger == nil {
		logger = slog.Default()
	}
	return &SlogAdapter{logger: logger}
}

func (a *SlogAdapter) Log(e Event) {
	attrs := make([]slog.Attr, 0, 4+len(e.Fields))
	attrs = append(attrs,
		slog.String("layer", e.Layer.String()),
		slog.String("dir", e.Direction.String()),
		slog.String("category", string(e.Category)),
	)
	if e.Connector >= 0 {
		attrs = append(attrs, slog.Int("connector", e.Connector))
	}
	for k, v := range e.Fields {
		attrs = append(attrs, slog.Any(k, v))
	}
	a.logger.LogAttrs(context.Background(), slog.LevelInfo, e.Message, attrs...)
}

var _ Logger = (*SlogAdapter)(nil)
