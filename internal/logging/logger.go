// Package logging provides structured logging for the compliance harness
package logging

import (
	"context"
	"io"
	"os"
	"sync"

	"github.com/rs/zerolog"
)

// Logger wraps zerolog.Logger with group/test/queue structured fields
type Logger struct {
	zlog  zerolog.Logger
	group string
	test  string
}

var (
	defaultLogger *Logger
	mu            sync.RWMutex
)

// LogLevel represents the available log levels
type LogLevel int

const (
	LevelDebug LogLevel = LogLevel(zerolog.DebugLevel)
	LevelInfo  LogLevel = LogLevel(zerolog.InfoLevel)
	LevelWarn  LogLevel = LogLevel(zerolog.WarnLevel)
	LevelError LogLevel = LogLevel(zerolog.ErrorLevel)
)

// ParseLevel maps a level name to a LogLevel, falling back to LevelInfo
func ParseLevel(name string) LogLevel {
	lvl, err := zerolog.ParseLevel(name)
	if err != nil || lvl == zerolog.NoLevel {
		return LevelInfo
	}
	return LogLevel(lvl)
}

// Config holds logging configuration
type Config struct {
	Level   LogLevel
	Format  string // "json" or "text"
	Output  io.Writer
	Sync    bool // If true, writes are synchronous (useful for testing)
	NoColor bool // If true, disables ANSI color codes (useful for testing)
}

// DefaultConfig returns a sensible default configuration
func DefaultConfig() *Config {
	return &Config{
		Level:  LevelInfo,
		Format: "text",
		Output: os.Stderr,
	}
}

// asyncWriter wraps an io.Writer with a buffered channel
type asyncWriter struct {
	out    io.Writer
	ch     chan []byte
	done   chan struct{}
	closed bool
	mu     sync.Mutex
}

func newAsyncWriter(w io.Writer, bufferSize int) *asyncWriter {
	aw := &asyncWriter{
		out:  w,
		ch:   make(chan []byte, bufferSize),
		done: make(chan struct{}),
	}
	go aw.run()
	return aw
}

func (aw *asyncWriter) run() {
	defer close(aw.done)
	for msg := range aw.ch {
		aw.out.Write(msg)
	}
}

func (aw *asyncWriter) Write(p []byte) (n int, err error) {
	aw.mu.Lock()
	defer aw.mu.Unlock()
	if aw.closed {
		return 0, io.ErrClosedPipe
	}

	msg := make([]byte, len(p))
	copy(msg, p)

	// Drop rather than block when the buffer is full
	select {
	case aw.ch <- msg:
	default:
	}
	return len(p), nil
}

func (aw *asyncWriter) Close() error {
	aw.mu.Lock()
	if !aw.closed {
		aw.closed = true
		close(aw.ch)
	}
	aw.mu.Unlock()
	<-aw.done
	return nil
}

// NewLogger creates a new structured logger
func NewLogger(config *Config) *Logger {
	if config == nil {
		config = DefaultConfig()
	}

	var output io.Writer = config.Output
	if output == nil {
		output = os.Stderr
	}
	if !config.Sync {
		output = newAsyncWriter(output, 1000)
	}

	var zlog zerolog.Logger
	switch config.Format {
	case "json":
		zlog = zerolog.New(output).With().Timestamp().Logger()
	default:
		consoleWriter := zerolog.ConsoleWriter{Out: output, NoColor: config.NoColor}
		zlog = zerolog.New(consoleWriter).With().Timestamp().Logger()
	}

	zlog = zlog.Level(zerolog.Level(config.Level))

	return &Logger{
		zlog: zlog,
	}
}

// Nop returns a logger that discards everything
func Nop() *Logger {
	return &Logger{zlog: zerolog.Nop()}
}

// Default returns the default logger, creating it if necessary
func Default() *Logger {
	mu.RLock()
	if defaultLogger != nil {
		defer mu.RUnlock()
		return defaultLogger
	}
	mu.RUnlock()

	mu.Lock()
	defer mu.Unlock()
	if defaultLogger == nil {
		defaultLogger = NewLogger(nil)
	}
	return defaultLogger
}

// SetDefault sets the default logger
func SetDefault(logger *Logger) {
	mu.Lock()
	defer mu.Unlock()
	defaultLogger = logger
}

// Zerolog exposes the underlying zerolog.Logger for adapters
func (l *Logger) Zerolog() zerolog.Logger {
	return l.zlog
}

// Group returns the group name attached by WithGroup, if any
func (l *Logger) Group() string { return l.group }

// Test returns the test name attached by WithTest, if any
func (l *Logger) Test() string { return l.test }

// WithGroup returns a logger with test group context
func (l *Logger) WithGroup(name string) *Logger {
	return &Logger{
		zlog:  l.zlog.With().Str("group", name).Logger(),
		group: name,
		test:  l.test,
	}
}

// WithTest returns a logger with test case context
func (l *Logger) WithTest(name string) *Logger {
	return &Logger{
		zlog:  l.zlog.With().Str("test", name).Logger(),
		group: l.group,
		test:  name,
	}
}

// WithQueue returns a logger with queue context
func (l *Logger) WithQueue(kind string, qid uint16) *Logger {
	return &Logger{
		zlog:  l.zlog.With().Str("queue", kind).Uint16("qid", qid).Logger(),
		group: l.group,
		test:  l.test,
	}
}

// WithError returns a logger with error context
func (l *Logger) WithError(err error) *Logger {
	return &Logger{
		zlog:  l.zlog.With().Err(err).Logger(),
		group: l.group,
		test:  l.test,
	}
}

func withFields(event *zerolog.Event, args []any) *zerolog.Event {
	for i := 0; i+1 < len(args); i += 2 {
		key, ok := args[i].(string)
		if !ok {
			continue
		}
		event = event.Interface(key, args[i+1])
	}
	return event
}

// Standard logging methods
func (l *Logger) Debug(msg string, args ...any) {
	withFields(l.zlog.Debug(), args).Msg(msg)
}

func (l *Logger) Info(msg string, args ...any) {
	withFields(l.zlog.Info(), args).Msg(msg)
}

func (l *Logger) Warn(msg string, args ...any) {
	withFields(l.zlog.Warn(), args).Msg(msg)
}

func (l *Logger) Error(msg string, args ...any) {
	withFields(l.zlog.Error(), args).Msg(msg)
}

// Context-aware logging. The event carries ctx for hooks, and a canceled
// or expired ctx is recorded as ctx_err.
func withContext(event *zerolog.Event, ctx context.Context) *zerolog.Event {
	if ctx == nil {
		return event
	}
	event = event.Ctx(ctx)
	if err := ctx.Err(); err != nil {
		event = event.Str("ctx_err", err.Error())
	}
	return event
}

func (l *Logger) DebugContext(ctx context.Context, msg string, args ...any) {
	withFields(withContext(l.zlog.Debug(), ctx), args).Msg(msg)
}

func (l *Logger) InfoContext(ctx context.Context, msg string, args ...any) {
	withFields(withContext(l.zlog.Info(), ctx), args).Msg(msg)
}

func (l *Logger) WarnContext(ctx context.Context, msg string, args ...any) {
	withFields(withContext(l.zlog.Warn(), ctx), args).Msg(msg)
}

func (l *Logger) ErrorContext(ctx context.Context, msg string, args ...any) {
	withFields(withContext(l.zlog.Error(), ctx), args).Msg(msg)
}

// Printf-style logging, satisfies the queue and badger logger interfaces
func (l *Logger) Debugf(format string, args ...any) {
	l.zlog.Debug().Msgf(format, args...)
}

func (l *Logger) Infof(format string, args ...any) {
	l.zlog.Info().Msgf(format, args...)
}

func (l *Logger) Warningf(format string, args ...any) {
	l.zlog.Warn().Msgf(format, args...)
}

func (l *Logger) Warnf(format string, args ...any) {
	l.zlog.Warn().Msgf(format, args...)
}

func (l *Logger) Errorf(format string, args ...any) {
	l.zlog.Error().Msgf(format, args...)
}

func (l *Logger) Printf(format string, args ...any) {
	l.zlog.Info().Msgf(format, args...)
}

// Domain helpers used by the queue engine

// CommandSubmitted records one entry appended to an SQ
func (l *Logger) CommandSubmitted(name string, opcode uint8, cid uint16, tail uint32) {
	l.zlog.Debug().
		Str("cmd", name).
		Uint8("opcode", opcode).
		Uint16("cid", cid).
		Uint32("tail", tail).
		Msg("command submitted")
}

// CompletionReaped records one CE consumed from a CQ
func (l *Logger) CompletionReaped(cid, sqid, sqhd, status uint16, head uint32) {
	l.zlog.Debug().
		Uint16("cid", cid).
		Uint16("sqid", sqid).
		Uint16("sqhd", sqhd).
		Uint16("status", status).
		Uint32("head", head).
		Msg("completion reaped")
}

// ValidationFailed records a CE that did not match expectations
func (l *Logger) ValidationFailed(what string, expected, actual any) {
	l.zlog.Error().
		Str("field", what).
		Interface("expected", expected).
		Interface("actual", actual).
		Msg("completion validation failed")
}

// Convenience functions for global logger
func Debug(msg string, args ...any) {
	Default().Debug(msg, args...)
}

func Info(msg string, args ...any) {
	Default().Info(msg, args...)
}

func Warn(msg string, args ...any) {
	Default().Warn(msg, args...)
}

func Error(msg string, args ...any) {
	Default().Error(msg, args...)
}
