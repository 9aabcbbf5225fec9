package rtc

import (
	"github.com/pion/logging"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// LoggerFactory routes pion's internal logging into zerolog.
type LoggerFactory struct {
	base zerolog.Logger
}

func NewLoggerFactory() *LoggerFactory {
	return &LoggerFactory{base: log.Logger}
}

// NewLoggerFactoryFrom uses l instead of the global logger.
func NewLoggerFactoryFrom(l zerolog.Logger) *LoggerFactory {
	return &LoggerFactory{base: l}
}

func (f *LoggerFactory) NewLogger(scope string) logging.LeveledLogger {
	return &pionLogger{l: f.base.With().Str("module", "pion").Str("scope", scope).Logger()}
}

type pionLogger struct {
	l zerolog.Logger
}

// pion trace output maps onto zerolog trace.
func (p *pionLogger) Trace(msg string)                  { p.l.Trace().Msg(msg) }
func (p *pionLogger) Tracef(format string, args ...any) { p.l.Trace().Msgf(format, args...) }
func (p *pionLogger) Debug(msg string)                  { p.l.Debug().Msg(msg) }
func (p *pionLogger) Debugf(format string, args ...any) { p.l.Debug().Msgf(format, args...) }
func (p *pionLogger) Info(msg string)                   { p.l.Info().Msg(msg) }
func (p *pionLogger) Infof(format string, args ...any)  { p.l.Info().Msgf(format, args...) }
func (p *pionLogger) Warn(msg string)                   { p.l.Warn().Msg(msg) }
func (p *pionLogger) Warnf(format string, args ...any)  { p.l.Warn().Msgf(format, args...) }
func (p *pionLogger) Error(msg string)                  { p.l.Error().Msg(msg) }
func (p *pionLogger) Errorf(format string, args ...any) { p.l.Error().Msgf(format, args...) }
