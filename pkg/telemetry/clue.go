package telemetry

import (
	"context"

	"goa.design/clue/log"
)

// ClueLogger wraps goa.design/clue/log.
type ClueLogger struct{}

func NewClueLogger() Logger { return ClueLogger{} }

func (ClueLogger) Debug(ctx context.Context, msg string, fields ...KV) {
	log.Debug(ctx, msg, toFielders(fields)...)
}

func (ClueLogger) Info(ctx context.Context, msg string, fields ...KV) {
	log.Info(ctx, msg, toFielders(fields)...)
}

func (ClueLogger) Warn(ctx context.Context, msg string, fields ...KV) {
	log.Error(ctx, nil, append(toFielders(fields), log.KV{K: "level", V: "warn"}, log.KV{K: "msg", V: msg})...)
}

func (ClueLogger) Error(ctx context.Context, msg string, fields ...KV) {
	log.Error(ctx, nil, append(toFielders(fields), log.KV{K: "msg", V: msg})...)
}

func toFielders(fields []KV) []log.Fielder {
	out := make([]log.Fielder, 0, len(fields))
	for _, f := range fields {
		out = append(out, log.KV{K: f.K, V: f.V})
	}
	return out
}
