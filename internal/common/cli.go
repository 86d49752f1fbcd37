package common

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/KI7MT/ki7mt-solar-germany/internal/logging"
)

// SignalContext returns a context cancelled on SIGINT or SIGTERM.
func SignalContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		select {
		case <-sigChan:
			logging.Warn().Msg("shutdown requested")
			cancel()
		case <-ctx.Done():
		}
		signal.Stop(sigChan)
	}()

	return ctx, cancel
}

// LoggingConfig returns the logger settings of c, with level overriding the
// configured level when non-empty.
func (c *Config) LoggingConfig(level string) logging.Config {
	lc := logging.DefaultConfig()
	lc.Level = c.Log.Level
	lc.Format = c.Log.Format
	if level != "" {
		lc.Level = level
	}
	return lc
}
