// Package notify emits user notifications. The log-backed implementation
// stands in for the account service's alerting pipeline.
package notify

import (
	"context"

	"go.uber.org/zap"
)

// LogNotifier writes notifications to the structured log, where the alerting
// pipeline picks them up.
type LogNotifier struct {
	logger *zap.Logger
}

// NewLogNotifier creates the log-backed notifier.
func NewLogNotifier(logger *zap.Logger) *LogNotifier {
	return &LogNotifier{logger: logger}
}

func (n *LogNotifier) Notify(_ context.Context, userID uint, kind, message string) error {
	n.logger.Warn("user notification",
		zap.Uint("user_id", userID),
		zap.String("kind", kind),
		zap.String("message", message))
	return nil
}
