// Package obslog adapts github.com/rs/zerolog to the orchestrator.Logger
// interface the teacher defines in pkg/orchestrator/types.go, so the
// engine's structured logging is wired to a real library instead of the
// teacher's bare NoOpLogger default.
package obslog

import (
	"os"

	"github.com/rs/zerolog"
)

// ZerologAdapter implements orchestrator.Logger (Debug/Info/Warn/Error,
// each taking a message and alternating key/value pairs) over a zerolog.Logger.
type ZerologAdapter struct {
	log zerolog.Logger
}

// New builds a console-pretty zerolog logger at the given level
// ("debug", "info", "warn", "error").
func New(level string) *ZerologAdapter {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	l, err := zerolog.ParseLevel(level)
	if err != nil {
		l = zerolog.InfoLevel
	}
	logger := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).
		Level(l).
		With().
		Timestamp().
		Logger()
	return &ZerologAdapter{log: logger}
}

func fields(e *zerolog.Event, args []interface{}) *zerolog.Event {
	for i := 0; i+1 < len(args); i += 2 {
		key, ok := args[i].(string)
		if !ok {
			continue
		}
		e = e.Interface(key, args[i+1])
	}
	return e
}

func (z *ZerologAdapter) Debug(msg string, args ...interface{}) {
	fields(z.log.Debug(), args).Msg(msg)
}

func (z *ZerologAdapter) Info(msg string, args ...interface{}) {
	fields(z.log.Info(), args).Msg(msg)
}

func (z *ZerologAdapter) Warn(msg string, args ...interface{}) {
	fields(z.log.Warn(), args).Msg(msg)
}

func (z *ZerologAdapter) Error(msg string, args ...interface{}) {
	fields(z.log.Error(), args).Msg(msg)
}
