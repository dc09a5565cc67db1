// Package zaplog adapts a zap logger to the mailout.Logger interface.
package zaplog

import (
	"go.uber.org/zap"
)

// Logger forwards mailout logging to a zap.SugaredLogger.
type Logger struct {
	sugar *zap.SugaredLogger
}

// New wraps a zap logger. Key/value args map to zap's sugared fields.
func New(logger *zap.Logger) *Logger {
	return &Logger{sugar: logger.Sugar()}
}

// Debug implements mailout.Logger.
func (l *Logger) Debug(msg string, args ...any) {
	l.sugar.Debugw(msg, args...)
}

// Info implements mailout.Logger.
func (l *Logger) Info(msg string, args ...any) {
	l.sugar.Infow(msg, args...)
}

// Warn implements mailout.Logger.
func (l *Logger) Warn(msg string, args ...any) {
	l.sugar.Warnw(msg, args...)
}

// Error implements mailout.Logger.
func (l *Logger) Error(msg string, args ...any) {
	l.sugar.Errorw(msg, args...)
}
