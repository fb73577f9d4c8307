package mapi

import (
	"go.uber.org/zap"
)

// Logger is the pluggable logging sink a Connection writes server Info
// lines to (through Warn); nothing in this package calls Print. It mirrors the
// teacher's Config.Logger plug-point: callers can substitute their own
// implementation without touching protocol code.
type Logger interface {
	Print(v ...any)
	Warn(component string, fields map[string]any, msg string)
}

// zapLogger is the default Logger, backed by a zap.SugaredLogger so
// structured fields (host, database, seqnr) attach cheaply to every line.
type zapLogger struct {
	sugar *zap.SugaredLogger
}

// newDefaultLogger builds the default Logger used when a Config does not
// supply one.
func newDefaultLogger() Logger {
	l, err := zap.NewProduction()
	if err != nil {
		// zap.NewProduction only fails on a broken encoder config; fall
		// back to a no-op core rather than panic during dial.
		l = zap.NewNop()
	}
	return &zapLogger{sugar: l.Sugar()}
}

func (z *zapLogger) Print(v ...any) {
	z.sugar.Error(v...)
}

func (z *zapLogger) Warn(component string, fields map[string]any, msg string) {
	args := make([]any, 0, 2+2*len(fields))
	args = append(args, "component", component)
	for k, v := range fields {
		args = append(args, k, v)
	}
	z.sugar.Warnw(msg, args...)
}
