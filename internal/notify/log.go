package notify

import (
	"context"

	"github.com/jwalitptl/pilltrack-api/internal/reminder"
	"github.com/jwalitptl/pilltrack-api/pkg/logger"
)

// LogChannel records reminder deliveries in the application log. Always
// enabled; the push transport to the device is out of scope here.
type LogChannel struct {
	logger *logger.Logger
}

func NewLogChannel(log *logger.Logger) *LogChannel {
	if log == nil {
		log = logger.Default()
	}
	return &LogChannel{logger: log}
}

func (c *LogChannel) Name() string {
	return "log"
}

func (c *LogChannel) Deliver(ctx context.Context, payload reminder.Payload) error {
	c.logger.Info("reminder due",
		"pill", payload.PillName,
		"pill_id", payload.PillID.String(),
		"installation_id", payload.InstallationID.String(),
		"scheduled_at", payload.ScheduledAt.String())
	return nil
}
