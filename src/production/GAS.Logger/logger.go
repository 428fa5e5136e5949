package logger

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	config "gitlab.com/maplesense1/gas.telemetry_server/src/production/GAS.Config"
)

const serviceName = "gas-telemetry"

// Logger is the service-wide zerolog logger. Component loggers are derived
// from it with WithComponent.
type Logger struct {
	*zerolog.Logger
}

// NewLogger builds the root logger from the logging section of the config.
// Unknown levels fall back to info.
func NewLogger(cfg *config.LoggingConfig) *Logger {
	level, err := zerolog.ParseLevel(strings.ToLower(cfg.Level))
	if err != nil || level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}

	ctx := zerolog.New(writer(cfg)).Level(level).With().
		Timestamp().
		Str("service", serviceName)
	if cfg.EnableCaller {
		ctx = ctx.Caller()
	}

	zl := ctx.Logger()
	return &Logger{&zl}
}

func writer(cfg *config.LoggingConfig) io.Writer {
	var out io.Writer = os.Stdout
	if cfg.Output == "stderr" {
		out = os.Stderr
	}
	if cfg.Format == "json" {
		return out
	}
	return zerolog.ConsoleWriter{Out: out, TimeFormat: time.RFC3339}
}

// New writes JSON lines to w at debug level.
func New(w io.Writer) *Logger {
	zl := zerolog.New(w).Level(zerolog.DebugLevel).With().Timestamp().Logger()
	return &Logger{&zl}
}

// Nop returns a logger that discards everything.
func Nop() *Logger {
	zl := zerolog.Nop()
	return &Logger{&zl}
}

func (l *Logger) with(key, value string) *Logger {
	zl := l.Logger.With().Str(key, value).Logger()
	return &Logger{&zl}
}

// WithComponent tags every entry with the emitting component.
func (l *Logger) WithComponent(component string) *Logger {
	return l.with("component", component)
}

// WithRequestID tags every entry with the HTTP request id.
func (l *Logger) WithRequestID(requestID string) *Logger {
	return l.with("request_id", requestID)
}

func (l *Logger) Info(msg string) {
	l.Logger.Info().Msg(msg)
}

func (l *Logger) Error(msg string) {
	l.Logger.Error().Msg(msg)
}

// ErrorWithError logs msg at error level with err attached.
func (l *Logger) ErrorWithError(err error, msg string) {
	l.Logger.Error().Err(err).Msg(msg)
}

// Printf and Println report at error level. They let the Kafka and MQTT
// clients log through the service logger.
func (l *Logger) Printf(format string, args ...interface{}) {
	l.Logger.Error().Msgf(format, args...)
}

func (l *Logger) Println(args ...interface{}) {
	l.Logger.Error().Msg(strings.TrimSuffix(fmt.Sprintln(args...), "\n"))
}
