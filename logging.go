package zffi

import (
	"sync"

	"go.uber.org/zap"
)

var (
	defaultLogger     *zap.Logger
	defaultLoggerOnce sync.Once
)

// Logger returns the package fallback logger. It is a no-op logger
// unless a State was given one with WithLogger.
func Logger() *zap.Logger {
	defaultLoggerOnce.Do(func() {
		if defaultLogger == nil {
			defaultLogger = zap.NewNop()
		}
	})
	return defaultLogger
}

func (st *State) log() *zap.Logger {
	if st == nil || st.logger == nil {
		return Logger()
	}
	return st.logger
}

func (st *State) debugf(format string, args ...any) {
	if l := st.log(); l.Core().Enabled(zap.DebugLevel) {
		l.Sugar().Debugf(format, args...)
	}
}
