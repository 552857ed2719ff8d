package telemetry

import (
	"log"

	"go.uber.org/zap"

	"mirage/server/logging"
)

// Logger exposes the logging capabilities required by server components.
type Logger interface {
	Printf(format string, args ...any)
}

// LoggerFunc adapts functions into the Logger interface.
type LoggerFunc func(format string, args ...any)

// Printf implements Logger for LoggerFunc.
func (f LoggerFunc) Printf(format string, args ...any) {
	if f == nil {
		return
	}
	f(format, args...)
}

// WrapLogger adapts a standard library logger to the Logger interface.
func WrapLogger(logger *log.Logger) Logger {
	return &loggerAdapter{logger: logger}
}

type loggerAdapter struct {
	logger *log.Logger
}

func (l *loggerAdapter) Printf(format string, args ...any) {
	if l == nil || l.logger == nil {
		return
	}
	l.logger.Printf(format, args...)
}

// StandardLogger exposes the wrapped logger for components that need one.
func (l *loggerAdapter) StandardLogger() *log.Logger {
	if l == nil {
		return nil
	}
	return l.logger
}

// WrapZap adapts a zap logger to the Logger interface. Messages are logged at
// info level through the sugared logger.
func WrapZap(logger *zap.Logger) Logger {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &zapAdapter{logger: logger, sugar: logger.Sugar()}
}

type zapAdapter struct {
	logger *zap.Logger
	sugar  *zap.SugaredLogger
}

func (z *zapAdapter) Printf(format string, args ...any) {
	if z == nil || z.sugar == nil {
		return
	}
	z.sugar.Infof(format, args...)
}

// StandardLogger returns a *log.Logger that writes through zap.
func (z *zapAdapter) StandardLogger() *log.Logger {
	if z == nil || z.logger == nil {
		return nil
	}
	return zap.NewStdLog(z.logger)
}

// Zap exposes the underlying zap logger.
func (z *zapAdapter) Zap() *zap.Logger {
	if z == nil {
		return nil
	}
	return z.logger
}

// Metrics exposes the telemetry methods required by server components.
type Metrics interface {
	Add(key string, delta uint64)
	Store(key string, value uint64)
}

// WrapMetrics adapts the logging router metrics into the Metrics interface.
func WrapMetrics(metrics *logging.Metrics) Metrics {
	return &metricsAdapter{metrics: metrics}
}

type metricsAdapter struct {
	metrics *logging.Metrics
}

func (m *metricsAdapter) Add(key string, delta uint64) {
	if m == nil || m.metrics == nil {
		return
	}
	m.metrics.Add(key, delta)
}

func (m *metricsAdapter) Store(key string, value uint64) {
	if m == nil || m.metrics == nil {
		return
	}
	m.metrics.Store(key, value)
}

// NopMetrics discards every update.
type NopMetrics struct{}

func (NopMetrics) Add(string, uint64)   {}
func (NopMetrics) Store(string, uint64) {}
