package reminder

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"

	"github.com/jwalitptl/pilltrack-api/internal/model"
	"github.com/jwalitptl/pilltrack-api/pkg/logger"
	"github.com/jwalitptl/pilltrack-api/pkg/messaging"
	"github.com/jwalitptl/pilltrack-api/pkg/metrics"
)

// DefaultLead is how many minutes before the scheduled intake time the
// reminder fires.
const DefaultLead = 10 * time.Minute

// Payload is what gets published to the reminder channel when a cron entry
// fires. Downstream consumers (cmd/worker) turn it into a delivery.
type Payload struct {
	PillID         uuid.UUID       `json:"pill_id"`
	InstallationID uuid.UUID       `json:"installation_id"`
	PillName       string          `json:"pill_name"`
	ScheduledAt    model.TimeOfDay `json:"scheduled_at"`
	FiredAt        time.Time       `json:"fired_at"`
}

type Config struct {
	Location *time.Location
	Lead     time.Duration
	Channel  string
}

// CronScheduler registers one recurring daily cron entry per pill and
// publishes a reminder payload when it fires. Handles are opaque strings
// owned by the caller; cancelling an unknown handle is an error.
type CronScheduler struct {
	cron    *cron.Cron
	broker  messaging.Broker
	channel string
	lead    time.Duration
	loc     *time.Location
	logger  *logger.Logger
	metrics *metrics.Metrics

	mu      sync.Mutex
	entries map[string]cron.EntryID
}

func NewCronScheduler(broker messaging.Broker, cfg Config, log *logger.Logger, m *metrics.Metrics) *CronScheduler {
	if cfg.Location == nil {
		cfg.Location = time.Local
	}
	if cfg.Lead <= 0 {
		cfg.Lead = DefaultLead
	}
	if cfg.Channel == "" {
		cfg.Channel = "reminders"
	}
	if log == nil {
		log = logger.Default()
	}
	if m == nil {
		m = metrics.New("pilltrack")
	}
	return &CronScheduler{
		cron:    cron.New(cron.WithLocation(cfg.Location)),
		broker:  broker,
		channel: cfg.Channel,
		lead:    cfg.Lead,
		loc:     cfg.Location,
		logger:  log,
		metrics: m,
		entries: make(map[string]cron.EntryID),
	}
}

// Start begins the scheduler loop.
func (s *CronScheduler) Start() {
	s.cron.Start()
}

// Stop halts the scheduler and waits for running jobs to finish.
func (s *CronScheduler) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
}

// CronSpec builds the daily cron expression for a scheduled intake time,
// shifted earlier by the configured lead.
func (s *CronScheduler) CronSpec(at model.TimeOfDay) string {
	fireAt := at.MinutesBefore(int(s.lead.Minutes()))
	return fmt.Sprintf("%d %d * * *", fireAt.Minute, fireAt.Hour)
}

func (s *CronScheduler) scheduleDaily(installationID uuid.UUID, p *model.Pill) (string, error) {
	payload := Payload{
		PillID:         p.ID,
		InstallationID: installationID,
		PillName:       p.Name,
		ScheduledAt:    p.ScheduledAt,
	}

	entryID, err := s.cron.AddFunc(s.CronSpec(p.ScheduledAt), func() {
		s.fire(payload)
	})
	if err != nil {
		return "", fmt.Errorf("failed to add cron entry: %w", err)
	}

	handle := uuid.New().String()
	s.mu.Lock()
	s.entries[handle] = entryID
	s.mu.Unlock()
	return handle, nil
}

func (s *CronScheduler) cancel(handle string) error {
	s.mu.Lock()
	entryID, ok := s.entries[handle]
	if ok {
		delete(s.entries, handle)
	}
	s.mu.Unlock()

	if !ok {
		return fmt.Errorf("unknown reminder handle %q", handle)
	}
	s.cron.Remove(entryID)
	return nil
}

func (s *CronScheduler) fire(payload Payload) {
	payload.FiredAt = time.Now().In(s.loc)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := s.broker.Publish(ctx, s.channel, payload); err != nil {
		s.metrics.ReminderFailures.Inc()
		s.logger.Warn(err, "failed to publish reminder",
			"pill_id", payload.PillID.String(),
			"installation_id", payload.InstallationID.String())
		return
	}
	s.metrics.ReminderDispatches.Inc()
}

// Entries returns the number of live cron entries.
func (s *CronScheduler) Entries() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// For binds the scheduler to one installation so pill stores can schedule
// without knowing whose list they hold.
func (s *CronScheduler) For(installationID uuid.UUID) *BoundScheduler {
	return &BoundScheduler{scheduler: s, installationID: installationID}
}

// BoundScheduler satisfies the pill store's ReminderScheduler contract.
type BoundScheduler struct {
	scheduler      *CronScheduler
	installationID uuid.UUID
}

func (b *BoundScheduler) ScheduleDaily(p *model.Pill) (string, error) {
	return b.scheduler.scheduleDaily(b.installationID, p)
}

func (b *BoundScheduler) Cancel(handle string) error {
	return b.scheduler.cancel(handle)
}
