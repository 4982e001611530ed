package logx

import (
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

type cronLogger struct {
	logger zerolog.Logger
}

// Cron adapts the global logger to cron.Logger. Info lines are logged at debug level.
func Cron(component string) cron.Logger {
	return cronLogger{logger: log.Logger.With().Str("component", component).Logger()}
}

func (c cronLogger) Info(msg string, keysAndValues ...any) {
	c.logger.Debug().Fields(keysAndValues).Msg(msg)
}

func (c cronLogger) Error(err error, msg string, keysAndValues ...any) {
	c.logger.Error().Err(err).Fields(keysAndValues).Msg(msg)
}
