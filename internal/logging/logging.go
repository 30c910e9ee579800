// Package logging 将zerolog适配为pion的LoggerFactory, 供命令行程序使用.
package logging

import (
	"io"
	"os"
	"time"

	"github.com/pion/logging"
	"github.com/rs/zerolog"
)

// Factory 基于zerolog的logging.LoggerFactory实现
type Factory struct {
	logger zerolog.Logger
}

var _ logging.LoggerFactory = (*Factory)(nil)

// NewFactory 创建输出到w的Factory, level为zerolog级别名(trace/debug/info/warn/error).
func NewFactory(w io.Writer, app, level string) (*Factory, error) {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil {
		return nil, err
	}
	if lvl == zerolog.NoLevel {
		lvl = zerolog.InfoLevel
	}
	output := zerolog.ConsoleWriter{
		Out:        w,
		TimeFormat: time.RFC3339,
		NoColor:    w != os.Stdout && w != os.Stderr,
	}
	logger := zerolog.New(output).Level(lvl).With().Timestamp().Str("app", app).Logger()
	return &Factory{logger: logger}, nil
}

// NewConsoleFactory 创建输出到标准错误的Factory.
func NewConsoleFactory(app, level string) (*Factory, error) {
	return NewFactory(os.Stderr, app, level)
}

// Logger 返回底层zerolog.Logger.
func (f *Factory) Logger() zerolog.Logger {
	return f.logger
}

func (f *Factory) NewLogger(scope string) logging.LeveledLogger {
	return &leveledLogger{log: f.logger.With().Str("scope", scope).Logger()}
}

type leveledLogger struct {
	log zerolog.Logger
}

func (l *leveledLogger) Trace(msg string) { l.log.Trace().Msg(msg) }

func (l *leveledLogger) Tracef(format string, args ...interface{}) {
	l.log.Trace().Msgf(format, args...)
}

func (l *leveledLogger) Debug(msg string) { l.log.Debug().Msg(msg) }

func (l *leveledLogger) Debugf(format string, args ...interface{}) {
	l.log.Debug().Msgf(format, args...)
}

func (l *leveledLogger) Info(msg string) { l.log.Info().Msg(msg) }

func (l *leveledLogger) Infof(format string, args ...interface{}) {
	l.log.Info().Msgf(format, args...)
}

func (l *leveledLogger) Warn(msg string) { l.log.Warn().Msg(msg) }

func (l *leveledLogger) Warnf(format string, args ...interface{}) {
	l.log.Warn().Msgf(format, args...)
}

func (l *leveledLogger) Error(msg string) { l.log.Error().Msg(msg) }

func (l *leveledLogger) Errorf(format string, args ...interface{}) {
	l.log.Error().Msgf(format, args...)
}
