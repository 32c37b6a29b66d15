package logging

import (
	"go.uber.org/zap/zapcore"
)

// TraceLevel sits below Debug for per-record noise: individual log lines,
// offset arithmetic, FTS match expressions. Filtered out everywhere but
// deep debugging sessions.
const TraceLevel = zapcore.Level(-2)

// LevelFromString parses a level name, accepting "trace" in addition to
// the standard zap names.
func LevelFromString(level string) (zapcore.Level, error) {
	if level == "trace" {
		return TraceLevel, nil
	}
	var l zapcore.Level
	if err := l.UnmarshalText([]byte(level)); err != nil {
		return zapcore.InfoLevel, err
	}
	return l, nil
}
