package notify

import (
	"context"

	goVerify "github.com/MrEthical07/goVerify"
	"go.uber.org/zap"
)

// LogNotifier logs codes instead of sending them. Development only: codes
// appear in plain text.
type LogNotifier struct {
	logger *zap.Logger
}

func NewLogNotifier(logger *zap.Logger) *LogNotifier {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogNotifier{logger: logger.Named("notify")}
}

func (l *LogNotifier) Notify(_ context.Context, n goVerify.Notification) error {
	l.logger.Info("verification code",
		zap.String("recipient", n.Recipient),
		zap.String("purpose", string(n.Purpose)),
		zap.String("code", n.Code),
		zap.String("link", n.Link),
		zap.Time("expires_at", n.ExpiresAt),
	)
	return nil
}
