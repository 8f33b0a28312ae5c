// Package sysutil holds process-level helpers used by the server binary:
// the global logger and a few environment parsing utilities.
package sysutil

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel/trace"
)

// LogOptions configures SetupLogger.
type LogOptions struct {
	// Level is a zerolog level name; "warning" is accepted for warn and
	// anything unknown means info.
	Level string
	// Pretty switches to console output for local development.
	Pretty bool
	// Service and Version are stamped on every line when set.
	Service string
	Version string
}

// SetupLogger installs the global logger and returns it for injection into
// components. Lines carry UTC RFC3339 timestamps and, for events logged with
// a context holding a sampled span, the trace and span ids.
func SetupLogger(opts LogOptions) zerolog.Logger {
	return setupLogger(os.Stdout, opts)
}

func setupLogger(w io.Writer, opts LogOptions) zerolog.Logger {
	zerolog.SetGlobalLevel(ParseLevel(opts.Level))
	zerolog.TimeFieldFormat = time.RFC3339
	zerolog.TimestampFunc = func() time.Time { return time.Now().UTC() }
	if opts.Pretty {
		w = zerolog.ConsoleWriter{Out: w, TimeFormat: time.RFC3339}
	}

	ctx := zerolog.New(w).Hook(TraceHook{}).With().Timestamp()
	if opts.Service != "" {
		ctx = ctx.Str("service", opts.Service)
	}
	if opts.Version != "" {
		ctx = ctx.Str("version", opts.Version)
	}
	lg := ctx.Logger()
	log.Logger = lg
	return lg
}

// ParseLevel maps a configured level name to a zerolog level.
func ParseLevel(s string) zerolog.Level {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "warning" {
		s = "warn"
	}
	lvl, err := zerolog.ParseLevel(s)
	if err != nil || lvl == zerolog.NoLevel {
		return zerolog.InfoLevel
	}
	return lvl
}

// TraceHook adds trace_id and span_id to events whose context (set with
// Event.Ctx or Context.Ctx) carries a valid span.
type TraceHook struct{}

func (TraceHook) Run(e *zerolog.Event, _ zerolog.Level, _ string) {
	ctx := e.GetCtx()
	if ctx == nil {
		return
	}
	sc := trace.SpanContextFromContext(ctx)
	if !sc.IsValid() {
		return
	}
	e.Str("trace_id", sc.TraceID().String()).Str("span_id", sc.SpanID().String())
}

// IsTruthy reports whether an environment value means true: 1, true, yes,
// y or on, in any case.
func IsTruthy(v string) bool {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "1", "true", "yes", "y", "on":
		return true
	}
	return false
}

// FirstNonEmpty returns the first value that is not blank, unmodified.
func FirstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
