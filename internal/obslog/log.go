// Package obslog is the process-wide structured logger, adapted from
// libs/observability/log.go's LogEvent pattern: a plain *log.Logger
// writing JSON lines to stdout, carrying a run id pulled from context.
package obslog

import (
	"context"
	"encoding/json"
	"log"
	"os"
	"time"
)

var logger = log.New(os.Stdout, "", 0)

type contextKey string

const runIDKey contextKey = "obslog_run_id"

// WithRunID attaches a run id to ctx so every Event call below it is
// correlated in the log stream.
func WithRunID(ctx context.Context, runID string) context.Context {
	return context.WithValue(ctx, runIDKey, runID)
}

// RunIDFromContext returns the run id attached by WithRunID, if any.
func RunIDFromContext(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(runIDKey).(string)
	return id, ok
}

var redactedKeys = map[string]bool{
	"token":    true,
	"secret":   true,
	"password": true,
	"feedToken": true,
}

// Fields is a structured log payload.
type Fields map[string]any

// Event writes one JSON log line: {"event": name, "ts": ..., "run_id": ..., ...fields}.
func Event(ctx context.Context, name string, fields Fields) {
	out := make(map[string]any, len(fields)+3)
	out["event"] = name
	out["ts"] = time.Now().UTC().Format(time.RFC3339Nano)
	if runID, ok := RunIDFromContext(ctx); ok {
		out["run_id"] = runID
	}
	for k, v := range fields {
		if redactedKeys[k] {
			out[k] = "[REDACTED]"
			continue
		}
		out[k] = v
	}

	line, err := json.Marshal(out)
	if err != nil {
		logger.Printf(`{"event":"log_marshal_error","error":%q}`, err.Error())
		return
	}
	logger.Println(string(line))
}

// Error logs name with an err field, a convenience over Event.
func Error(ctx context.Context, name string, err error, fields Fields) {
	if fields == nil {
		fields = Fields{}
	}
	fields["error"] = err.Error()
	Event(ctx, name, fields)
}
