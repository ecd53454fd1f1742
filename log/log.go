// Package log centralizes the zap.Logger default used across the module:
// every component accepts an optional *zap.Logger and falls back to a nop
// logger so the library never forces logging configuration on its caller.
package log

import "go.uber.org/zap"

// Nop returns the silent logger used when a caller does not supply one.
func Nop() *zap.Logger { return zap.NewNop() }

// OrNop returns l, or a nop logger when l is nil.
func OrNop(l *zap.Logger) *zap.Logger {
	if l == nil {
		return Nop()
	}
	return l
}
