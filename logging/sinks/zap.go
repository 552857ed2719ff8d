package sinks

import (
	"context"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"mirage/server/logging"
)

// Zap forwards routed events into a zap logger with typed fields.
type Zap struct {
	logger *zap.Logger
}

func NewZap(logger *zap.Logger) *Zap {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Zap{logger: logger}
}

func (s *Zap) Write(event logging.Event) error {
	fields := []zap.Field{
		zap.Uint64("tick", event.Tick),
		zap.String("actor", formatEntity(event.Actor)),
	}
	if event.Category != "" {
		fields = append(fields, zap.String("category", event.Category))
	}
	if len(event.Targets) > 0 {
		targets := make([]string, 0, len(event.Targets))
		for _, target := range event.Targets {
			targets = append(targets, formatEntity(target))
		}
		fields = append(fields, zap.Strings("targets", targets))
	}
	if event.Payload != nil {
		fields = append(fields, zap.Any("payload", event.Payload))
	}
	for k, v := range event.Extra {
		fields = append(fields, zap.Any(k, v))
	}
	if ce := s.logger.Check(zapLevel(event.Severity), string(event.Type)); ce != nil {
		ce.Write(fields...)
	}
	return nil
}

func (s *Zap) Close(context.Context) error {
	// Sync on stdout/stderr returns EINVAL on some platforms; ignore it.
	_ = s.logger.Sync()
	return nil
}

func zapLevel(sev logging.Severity) zapcore.Level {
	switch sev {
	case logging.SeverityDebug:
		return zapcore.DebugLevel
	case logging.SeverityWarn:
		return zapcore.WarnLevel
	case logging.SeverityError:
		return zapcore.ErrorLevel
	default:
		return zapcore.InfoLevel
	}
}
