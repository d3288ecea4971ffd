package peer

import (
	"github.com/pion/logging"
	"github.com/rs/zerolog"
)

// pionLog routes pion's internal logging into zerolog.
type pionLog struct {
	log zerolog.Logger
}

func newPionLoggerFactory(log zerolog.Logger) pionLog {
	return pionLog{log: log.With().Str("component", "pion").Logger()}
}

func (p pionLog) NewLogger(scope string) logging.LeveledLogger {
	return pionLog{log: p.log.With().Str("mod", scope).Logger()}
}

func (p pionLog) Trace(msg string)                  { p.log.Trace().Msg(msg) }
func (p pionLog) Tracef(format string, args ...any) { p.log.Trace().Msgf(format, args...) }
func (p pionLog) Debug(msg string)                  { p.log.Debug().Msg(msg) }
func (p pionLog) Debugf(format string, args ...any) { p.log.Debug().Msgf(format, args...) }
func (p pionLog) Info(msg string)                   { p.log.Info().Msg(msg) }
func (p pionLog) Infof(format string, args ...any)  { p.log.Info().Msgf(format, args...) }
func (p pionLog) Warn(msg string)                   { p.log.Warn().Msg(msg) }
func (p pionLog) Warnf(format string, args ...any)  { p.log.Warn().Msgf(format, args...) }
func (p pionLog) Error(msg string)                  { p.log.Error().Msg(msg) }
func (p pionLog) Errorf(format string, args ...any) { p.log.Error().Msgf(format, args...) }
