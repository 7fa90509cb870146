package simshare

import (
	"fmt"
	"io"
	"os"

	"github.com/rs/zerolog"
)

// zerologSink emits one JSON object per record, carrying the logger prefix in
// the "component" field
type zerologSink struct {
	logger zerolog.Logger
}

// NewZerologSink creates a LogSink that writes JSON lines to w
func NewZerologSink(w io.Writer) LogSink {
	return &zerologSink{
		logger: zerolog.New(w).With().Timestamp().Str("app", "simrelay").Logger(),
	}
}

func (s *zerologSink) Output(logLevel LogLevel, prefix string, msg string) {
	ev := s.logger.WithLevel(zerologLevel(logLevel))
	if prefix != "" {
		ev = ev.Str("component", prefix)
	}
	ev.Msg(msg)
}

func zerologLevel(logLevel LogLevel) zerolog.Level {
	switch logLevel {
	case LogLevelPanic:
		return zerolog.PanicLevel
	case LogLevelFatal:
		return zerolog.FatalLevel
	case LogLevelError:
		return zerolog.ErrorLevel
	case LogLevelWarning:
		return zerolog.WarnLevel
	case LogLevelInfo:
		return zerolog.InfoLevel
	case LogLevelDebug:
		return zerolog.DebugLevel
	case LogLevelTrace:
		return zerolog.TraceLevel
	}
	return zerolog.NoLevel
}

// Log formats accepted by NewLoggerForFormat
const (
	LogFormatText = "text"
	LogFormatJSON = "json"
)

// NewLoggerForFormat creates a root Logger writing to os.Stderr in the given format
func NewLoggerForFormat(prefix string, format string, logLevel LogLevel) (Logger, error) {
	switch format {
	case "", LogFormatText:
		return NewLoggerWithSink(prefix, NewTextSink(os.Stderr), logLevel), nil
	case LogFormatJSON:
		return NewLoggerWithSink(prefix, NewZerologSink(os.Stderr), logLevel), nil
	}
	return nil, fmt.Errorf("Unknown log format: \"%s\"", format)
}
