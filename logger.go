package hnsw

import (
	"log/slog"
	"time"
)

// logger wraps slog.Logger with graph-specific events and consistent
// field names.
type logger struct {
	*slog.Logger
}

func newLogger(l *slog.Logger) *logger {
	if l == nil {
		l = slog.New(slog.DiscardHandler)
	}
	return &logger{Logger: l.With("component", "hnsw")}
}

func (l *logger) logBootstrap(p *Point) {
	l.Debug("entry point installed",
		"key", p.key,
		"layer", p.Layer(),
	)
}

func (l *logger) logPromotion(p, prev *Point) {
	prevLayer := -1
	if prev != nil {
		prevLayer = prev.Layer()
	}
	l.Debug("entry point promoted",
		"key", p.key,
		"layer", p.Layer(),
		"previous_layer", prevLayer,
	)
}

func (l *logger) logRound(round, size, requests int, took time.Duration) {
	l.Debug("batch round applied",
		"round", round,
		"size", size,
		"reverse_requests", requests,
		"took", took,
	)
}

func (l *logger) logBatchInsert(count, failed int, took time.Duration) {
	if failed > 0 {
		l.Warn("batch insert completed with failures",
			"total", count,
			"failed", failed,
			"success", count-failed,
			"took", took,
		)
		return
	}
	l.Debug("batch insert completed",
		"count", count,
		"took", took,
	)
}
