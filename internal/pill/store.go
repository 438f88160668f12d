package pill

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/jwalitptl/pilltrack-api/internal/model"
	"github.com/jwalitptl/pilltrack-api/pkg/errors"
	"github.com/jwalitptl/pilltrack-api/pkg/logger"
	"github.com/jwalitptl/pilltrack-api/pkg/metrics"
)

// Snapshotter is the durable local storage for the whole pill list.
type Snapshotter interface {
	Load(ctx context.Context) ([]*model.Pill, error)
	Save(ctx context.Context, pills []*model.Pill) error
}

// HistorySink mirrors intake events to the remote history log.
type HistorySink interface {
	Insert(ctx context.Context, entry *model.HistoryEntry) error
	DeleteForDay(ctx context.Context, pillID uuid.UUID, day time.Time) error
}

// ReminderScheduler schedules the daily reminder for a pill and returns an
// opaque handle used for cancellation.
type ReminderScheduler interface {
	ScheduleDaily(pill *model.Pill) (string, error)
	Cancel(handle string) error
}

// Store owns one installation's pill list and its daily taken/untaken
// lifecycle. All mutations are serialized behind a single mutex; the
// in-memory list is the source of truth for the session and every side
// effect (snapshot save, history mirror, reminder scheduling) is applied
// afterwards, independently and best-effort.
type Store struct {
	mu    sync.Mutex
	pills []*model.Pill
	byID  map[uuid.UUID]*model.Pill

	snapshots Snapshotter
	history   HistorySink
	scheduler ReminderScheduler

	loc     *time.Location
	nowFunc func() time.Time
	logger  *logger.Logger
	metrics *metrics.Metrics
}

type Option func(*Store)

// WithClock overrides the store clock. Tests use this to cross day
// boundaries deterministically.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.nowFunc = now }
}

func WithLocation(loc *time.Location) Option {
	return func(s *Store) { s.loc = loc }
}

func NewStore(snapshots Snapshotter, history HistorySink, scheduler ReminderScheduler, log *logger.Logger, m *metrics.Metrics, opts ...Option) *Store {
	s := &Store{
		byID:      make(map[uuid.UUID]*model.Pill),
		snapshots: snapshots,
		history:   history,
		scheduler: scheduler,
		loc:       time.Local,
		nowFunc:   time.Now,
		logger:    log,
		metrics:   m,
	}
	if s.logger == nil {
		s.logger = logger.Default()
	}
	if s.metrics == nil {
		s.metrics = metrics.New("pilltrack")
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Load replaces the in-memory list with the durable snapshot, re-registers
// reminders (cron entries do not survive a restart) and runs a rollover
// pass so stale taken flags from a previous day are cleared immediately.
func (s *Store) Load(ctx context.Context) error {
	if s.snapshots == nil {
		s.RolloverIfNeeded(ctx, s.nowFunc())
		return nil
	}

	pills, err := s.snapshots.Load(ctx)
	if err != nil {
		return errors.PersistenceFailure(err)
	}

	s.mu.Lock()
	s.pills = pills
	s.byID = make(map[uuid.UUID]*model.Pill, len(pills))
	for _, p := range s.pills {
		s.byID[p.ID] = p
		s.reschedule(p)
	}
	s.mu.Unlock()

	s.RolloverIfNeeded(ctx, s.nowFunc())
	return nil
}

// Seed installs an externally recovered pill list (e.g. hydrated from the
// remote mirror when the local snapshot is gone) and persists it.
func (s *Store) Seed(ctx context.Context, pills []*model.Pill) {
	s.mu.Lock()
	s.pills = pills
	s.byID = make(map[uuid.UUID]*model.Pill, len(pills))
	for _, p := range s.pills {
		s.byID[p.ID] = p
		s.reschedule(p)
	}
	s.saveSnapshot(ctx)
	s.mu.Unlock()
}

func (s *Store) reschedule(p *model.Pill) {
	if s.scheduler == nil {
		return
	}
	handle, err := s.scheduler.ScheduleDaily(p)
	if err != nil {
		s.metrics.ReminderFailures.Inc()
		s.logger.Warn(errors.ReminderSchedulingFailure(err), "failed to schedule reminder", "pill_id", p.ID.String())
		return
	}
	p.ReminderHandle = handle
}

// Add creates a pill with taken=false and requests its daily reminder.
// The name must be non-empty after trimming.
func (s *Store) Add(ctx context.Context, name string, at model.TimeOfDay) (*model.Pill, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, errors.BadRequest("pill name must not be empty", nil)
	}
	if !at.Valid() {
		return nil, errors.BadRequest("invalid scheduled time", nil)
	}

	now := s.nowFunc()
	p := &model.Pill{
		ID:          uuid.New(),
		Name:        name,
		ScheduledAt: at,
		Taken:       false,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.reschedule(p)
	s.pills = append(s.pills, p)
	s.byID[p.ID] = p
	s.saveSnapshot(ctx)

	return p.Clone(), nil
}

// MarkTaken transitions a pill to TakenToday. Calling it on a pill already
// taken today is a no-op: no second history entry, LastTakenAt unchanged.
// A taken flag left over from a previous day (midnight crossed before the
// next rollover pass) does not count as taken today.
func (s *Store) MarkTaken(ctx context.Context, id uuid.UUID) (*model.Pill, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.byID[id]
	if !ok {
		return nil, errors.NotFound("pill", nil)
	}

	now := s.nowFunc()
	if p.Taken && p.LastTakenAt != nil && sameLocalDay(*p.LastTakenAt, now, s.loc) {
		return p.Clone(), nil
	}

	p.Taken = true
	p.LastTakenAt = &now
	p.UpdatedAt = now
	s.metrics.IntakesMarked.Inc()

	s.saveSnapshot(ctx)

	if s.history != nil {
		entry := &model.HistoryEntry{
			PillID:   p.ID,
			PillName: p.Name,
			TakenAt:  now,
		}
		if err := s.history.Insert(ctx, entry); err != nil {
			s.metrics.RemoteSyncFailures.Inc()
			s.logger.Warn(errors.RemoteSyncFailure(err), "failed to mirror intake", "pill_id", p.ID.String())
		}
	}

	return p.Clone(), nil
}

// MarkUntaken transitions a pill back to NotTakenToday, clears LastTakenAt
// and retracts today's history entry so history views stay consistent with
// the live toggle. Entries from prior days are never touched. Calling it on
// an untaken pill is a no-op.
func (s *Store) MarkUntaken(ctx context.Context, id uuid.UUID) (*model.Pill, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.byID[id]
	if !ok {
		return nil, errors.NotFound("pill", nil)
	}
	if !p.Taken {
		return p.Clone(), nil
	}

	now := s.nowFunc()
	if p.LastTakenAt == nil || !sameLocalDay(*p.LastTakenAt, now, s.loc) {
		// Stale flag from a previous day: this is a rollover, not a
		// retraction. Keep LastTakenAt and yesterday's history.
		p.Taken = false
		p.UpdatedAt = now
		s.metrics.RolloverResets.Inc()
		s.saveSnapshot(ctx)
		return p.Clone(), nil
	}

	p.Taken = false
	p.LastTakenAt = nil
	p.UpdatedAt = now
	s.metrics.IntakesRetracted.Inc()

	s.saveSnapshot(ctx)

	if s.history != nil {
		if err := s.history.DeleteForDay(ctx, p.ID, now.In(s.loc)); err != nil {
			s.metrics.RemoteSyncFailures.Inc()
			s.logger.Warn(errors.RemoteSyncFailure(err), "failed to retract intake", "pill_id", p.ID.String())
		}
	}

	return p.Clone(), nil
}

// Delete cancels the pill's reminder (best-effort) and removes it from the
// list. History entries keyed by the pill id are retained.
func (s *Store) Delete(ctx context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.byID[id]
	if !ok {
		return errors.NotFound("pill", nil)
	}

	if s.scheduler != nil && p.ReminderHandle != "" {
		if err := s.scheduler.Cancel(p.ReminderHandle); err != nil {
			s.metrics.ReminderFailures.Inc()
			s.logger.Warn(errors.ReminderSchedulingFailure(err), "failed to cancel reminder", "pill_id", p.ID.String())
		}
	}

	delete(s.byID, id)
	for i, candidate := range s.pills {
		if candidate.ID == id {
			s.pills = append(s.pills[:i], s.pills[i+1:]...)
			break
		}
	}
	s.saveSnapshot(ctx)
	return nil
}

// SetRemoteID records the server-assigned id after a successful mirror
// create. The local id never changes; in-flight callers holding it stay
// valid.
func (s *Store) SetRemoteID(ctx context.Context, id, remoteID uuid.UUID) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.byID[id]
	if !ok {
		return
	}
	p.RemoteID = &remoteID
	s.saveSnapshot(ctx)
}

// List returns a snapshot of all pills in insertion order.
func (s *Store) List(ctx context.Context) []*model.Pill {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]*model.Pill, 0, len(s.pills))
	for _, p := range s.pills {
		out = append(out, p.Clone())
	}
	return out
}

// Get returns a snapshot of one pill.
func (s *Store) Get(ctx context.Context, id uuid.UUID) (*model.Pill, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.byID[id]
	if !ok {
		return nil, errors.NotFound("pill", nil)
	}
	return p.Clone(), nil
}

// Len returns the number of tracked pills.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pills)
}

// RolloverIfNeeded resets taken flags for pills whose last intake falls on
// an earlier local calendar day than now. The comparison is by (year,
// month, day) in the store's location, never by elapsed time: a pill taken
// at 23:58 resets at 00:02 the next day. LastTakenAt and history are
// preserved; taken is only today's cursor. Safe to call arbitrarily often.
func (s *Store) RolloverIfNeeded(ctx context.Context, now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()

	changed := false
	for _, p := range s.pills {
		if !p.Taken {
			continue
		}
		if p.LastTakenAt == nil || !sameLocalDay(*p.LastTakenAt, now, s.loc) {
			p.Taken = false
			p.UpdatedAt = now
			changed = true
			s.metrics.RolloverResets.Inc()
		}
	}

	if changed {
		s.saveSnapshot(ctx)
	}
}

// StartRolloverLoop runs periodic rollover passes until ctx is cancelled,
// catching the midnight boundary during long sessions.
func (s *Store) StartRolloverLoop(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.RolloverIfNeeded(ctx, s.nowFunc())
		}
	}
}

// saveSnapshot persists the current list. Callers must hold s.mu. A failed
// write is recoverable: the in-memory list stays authoritative and the next
// mutation retries the save.
func (s *Store) saveSnapshot(ctx context.Context) {
	if s.snapshots == nil {
		return
	}
	if err := s.snapshots.Save(ctx, s.pills); err != nil {
		s.metrics.SnapshotFailures.Inc()
		s.logger.Warn(errors.PersistenceFailure(err), "failed to save pill snapshot")
	}
}

func sameLocalDay(a, b time.Time, loc *time.Location) bool {
	ay, am, ad := a.In(loc).Date()
	by, bm, bd := b.In(loc).Date()
	return ay == by && am == bm && ad == bd
}

// DayBounds returns the local-midnight bounds [start, end) of the day
// containing t in loc.
func DayBounds(t time.Time, loc *time.Location) (time.Time, time.Time) {
	local := t.In(loc)
	start := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, loc)
	return start, start.AddDate(0, 0, 1)
}
