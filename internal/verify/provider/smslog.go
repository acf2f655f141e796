package provider

import (
	"context"
	"log/slog"
)

// LogSender is an SMSSender that only logs. Used by the housekeeping daemon
// and local development where no delivery gateway is configured.
type LogSender struct {
	Logger *slog.Logger
}

func (s *LogSender) Send(ctx context.Context, toE164, message string) (bool, error) {
	logger := s.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger.Info("sms delivery (log only)", "to", toE164, "message", message)
	return true, nil
}
