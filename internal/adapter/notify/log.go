package notify

import (
	"context"
	"log/slog"

	"github.com/neomorfeo/tenantclock/internal/domain"
)

var _ domain.Notifier = (*LogNotifier)(nil)

// LogNotifier writes notifications to the log. Used when no webhook is configured.
type LogNotifier struct {
	logger *slog.Logger
}

func NewLogNotifier(logger *slog.Logger) *LogNotifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogNotifier{logger: logger}
}

func (n *LogNotifier) Send(ctx context.Context, kind domain.NotificationKind, tenant domain.Tenant) error {
	n.logger.InfoContext(ctx, "notification",
		"kind", kind,
		"tenant_id", tenant.ID,
		"owner_id", tenant.OwnerID,
		"owner_email", tenant.OwnerEmail,
		"phase_index", tenant.PhaseIndex,
	)
	return nil
}
