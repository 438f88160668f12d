package notify

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jwalitptl/pilltrack-api/internal/reminder"
	"github.com/jwalitptl/pilltrack-api/pkg/logger"
	"github.com/jwalitptl/pilltrack-api/pkg/messaging"
	"github.com/jwalitptl/pilltrack-api/pkg/metrics"
)

// Channel delivers one reminder to the user.
type Channel interface {
	Deliver(ctx context.Context, payload reminder.Payload) error
	Name() string
}

// Dispatcher consumes the reminder channel from the broker and fans each
// payload out to every configured delivery channel. Delivery failures are
// per-channel and non-fatal.
type Dispatcher struct {
	broker  messaging.Broker
	channel string
	targets []Channel
	logger  *logger.Logger
	metrics *metrics.Metrics
}

func NewDispatcher(broker messaging.Broker, channel string, log *logger.Logger, m *metrics.Metrics, targets ...Channel) *Dispatcher {
	if channel == "" {
		channel = "reminders"
	}
	if log == nil {
		log = logger.Default()
	}
	if m == nil {
		m = metrics.New("pilltrack")
	}
	return &Dispatcher{
		broker:  broker,
		channel: channel,
		targets: targets,
		logger:  log,
		metrics: m,
	}
}

// Run blocks consuming reminders until ctx is cancelled.
func (d *Dispatcher) Run(ctx context.Context) error {
	msgs, err := d.broker.Subscribe(ctx, d.channel)
	if err != nil {
		return fmt.Errorf("failed to subscribe to %q: %w", d.channel, err)
	}

	d.logger.Info("reminder dispatcher started", "channel", d.channel)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case raw, ok := <-msgs:
			if !ok {
				return nil
			}
			d.handle(ctx, raw)
		}
	}
}

func (d *Dispatcher) handle(ctx context.Context, raw []byte) {
	var payload reminder.Payload
	if err := json.Unmarshal(raw, &payload); err != nil {
		d.logger.Warn(err, "dropping malformed reminder payload")
		return
	}

	for _, target := range d.targets {
		if err := target.Deliver(ctx, payload); err != nil {
			d.metrics.ReminderFailures.Inc()
			d.logger.Warn(err, "reminder delivery failed",
				"channel", target.Name(),
				"pill_id", payload.PillID.String())
		}
	}
}
