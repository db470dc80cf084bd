package armada

import "go.uber.org/zap"

// logger is silent unless the host application opts in via SetLogger.
var logger = zap.NewNop()

// SetLogger installs a logger for optimizer and executor diagnostics.
// Passing nil restores the no-op logger.
func SetLogger(l *zap.Logger) {
	if l == nil {
		l = zap.NewNop()
	}
	logger = l
}
