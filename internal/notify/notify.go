// Package notify is the offline-notification collaborator boundary. Delivery
// is fire-and-forget: failures are logged and never block message fan-out.
package notify

import (
	"context"
	"log/slog"
)

type Notifier interface {
	Notify(ctx context.Context, userID, preview string) error
}

// LogNotifier records the notification instead of delivering it. It stands
// in for an email/push integration.
type LogNotifier struct {
	logger *slog.Logger
}

func NewLogNotifier(logger *slog.Logger) *LogNotifier {
	return &LogNotifier{logger: logger.With(slog.String("component", "offline_notifier"))}
}

var _ Notifier = (*LogNotifier)(nil)

func (n *LogNotifier) Notify(ctx context.Context, userID, preview string) error {
	n.logger.Info("Offline participant notified",
		slog.String("userID", userID),
		slog.String("preview", preview),
	)
	return nil
}
