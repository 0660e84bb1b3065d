package registry

import (
	"context"

	"github.com/langsettings/composer/pkg/logger"
)

// LogDialog renders conflict summaries to the log. Hosts with a real UI
// substitute their own Dialog; this one never blocks and never fails.
type LogDialog struct{}

func NewLogDialog() *LogDialog {
	return &LogDialog{}
}

func (d *LogDialog) NotifyConflicts(ctx context.Context, summary string) error {
	logger.FromContext(ctx).Warn("conflicting settings detected", "summary", summary)
	return nil
}
