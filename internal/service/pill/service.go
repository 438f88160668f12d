package pill

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/jwalitptl/pilltrack-api/internal/localstore"
	"github.com/jwalitptl/pilltrack-api/internal/model"
	pillstore "github.com/jwalitptl/pilltrack-api/internal/pill"
	"github.com/jwalitptl/pilltrack-api/internal/reminder"
	"github.com/jwalitptl/pilltrack-api/internal/repository"
	"github.com/jwalitptl/pilltrack-api/pkg/errors"
	"github.com/jwalitptl/pilltrack-api/pkg/logger"
	"github.com/jwalitptl/pilltrack-api/pkg/metrics"
)

// TrackerService is the operation surface the handlers consume.
type TrackerService interface {
	AddPill(ctx context.Context, installationID uuid.UUID, req *model.CreatePillRequest) (*model.Pill, error)
	ListPills(ctx context.Context, installationID uuid.UUID) ([]*model.Pill, error)
	MarkTaken(ctx context.Context, installationID, pillID uuid.UUID) (*model.Pill, error)
	MarkUntaken(ctx context.Context, installationID, pillID uuid.UUID) (*model.Pill, error)
	DeletePill(ctx context.Context, installationID, pillID uuid.UUID) error
}

// Invalidator lets the tracker drop cached history views after a mutation.
type Invalidator interface {
	Invalidate(installationID uuid.UUID)
}

type Service struct {
	local      *localstore.Store
	pillRepo   repository.PillRepository
	histRepo   repository.HistoryRepository
	outboxRepo repository.OutboxRepository
	scheduler  *reminder.CronScheduler
	cacheInval Invalidator
	loc        *time.Location
	logger     *logger.Logger
	metrics    *metrics.Metrics

	mu      sync.Mutex
	stores  map[uuid.UUID]*pillstore.Store
	loading map[uuid.UUID]*sync.Mutex
}

func NewService(
	local *localstore.Store,
	pillRepo repository.PillRepository,
	histRepo repository.HistoryRepository,
	outboxRepo repository.OutboxRepository,
	scheduler *reminder.CronScheduler,
	loc *time.Location,
	log *logger.Logger,
	m *metrics.Metrics,
) *Service {
	if loc == nil {
		loc = time.Local
	}
	if log == nil {
		log = logger.Default()
	}
	if m == nil {
		m = metrics.New("pilltrack")
	}
	return &Service{
		local:      local,
		pillRepo:   pillRepo,
		histRepo:   histRepo,
		outboxRepo: outboxRepo,
		scheduler:  scheduler,
		loc:        loc,
		logger:     log,
		metrics:    m,
		stores:     make(map[uuid.UUID]*pillstore.Store),
		loading:    make(map[uuid.UUID]*sync.Mutex),
	}
}

// SetInvalidator wires the history cache after construction; the tracker
// and history services reference each other only through this hook.
func (s *Service) SetInvalidator(inv Invalidator) {
	s.cacheInval = inv
}

// storeFor returns the per-installation store, loading it on first use.
// When the local snapshot is empty the remote mirror is consulted so a
// reinstalled client gets its list back. Loading is serialized per
// installation: building a store registers cron entries for every pill,
// so two concurrent first requests must not each construct one.
func (s *Service) storeFor(ctx context.Context, installationID uuid.UUID) (*pillstore.Store, error) {
	s.mu.Lock()
	if st, ok := s.stores[installationID]; ok {
		s.mu.Unlock()
		return st, nil
	}
	latch, ok := s.loading[installationID]
	if !ok {
		latch = &sync.Mutex{}
		s.loading[installationID] = latch
	}
	s.mu.Unlock()

	latch.Lock()
	defer latch.Unlock()

	s.mu.Lock()
	if st, ok := s.stores[installationID]; ok {
		s.mu.Unlock()
		return st, nil
	}
	s.mu.Unlock()

	var snaps pillstore.Snapshotter
	if s.local != nil {
		snaps = s.local.For(installationID)
	}
	var sched pillstore.ReminderScheduler
	if s.scheduler != nil {
		sched = s.scheduler.For(installationID)
	}
	st := pillstore.NewStore(
		snaps,
		newHistorySink(s.histRepo, installationID, s.loc),
		sched,
		s.logger.WithFields(map[string]interface{}{"installation_id": installationID.String()}),
		s.metrics,
		pillstore.WithLocation(s.loc),
	)

	if err := st.Load(ctx); err != nil {
		return nil, err
	}

	if st.Len() == 0 && s.pillRepo != nil {
		remote, err := s.pillRepo.List(ctx, installationID)
		if err != nil {
			s.logger.Warn(err, "failed to hydrate pills from mirror", "installation_id", installationID.String())
		} else if len(remote) > 0 {
			st.Seed(ctx, remote)
			st.RolloverIfNeeded(ctx, time.Now())
		}
	}

	s.mu.Lock()
	s.stores[installationID] = st
	delete(s.loading, installationID)
	s.mu.Unlock()

	s.metrics.PillsTracked.Add(float64(st.Len()))
	return st, nil
}

func (s *Service) AddPill(ctx context.Context, installationID uuid.UUID, req *model.CreatePillRequest) (*model.Pill, error) {
	at, err := model.ParseTimeOfDay(req.ScheduledAt)
	if err != nil {
		return nil, errors.BadRequest("invalid scheduled time", err)
	}

	st, err := s.storeFor(ctx, installationID)
	if err != nil {
		return nil, err
	}

	p, err := st.Add(ctx, req.Name, at)
	if err != nil {
		return nil, err
	}
	s.metrics.PillsTracked.Inc()

	// Mirror best-effort; on success the server-assigned id is recorded
	// alongside the stable local id.
	if s.pillRepo != nil {
		remoteID, err := s.pillRepo.Create(ctx, installationID, p)
		if err != nil {
			s.metrics.RemoteSyncFailures.Inc()
			s.logger.Warn(errors.RemoteSyncFailure(err), "failed to mirror pill create", "pill_id", p.ID.String())
		} else {
			st.SetRemoteID(ctx, p.ID, remoteID)
			p.RemoteID = &remoteID
		}
	}

	s.enqueueEvent(ctx, model.EventPillCreate, installationID, p)
	return p, nil
}

func (s *Service) ListPills(ctx context.Context, installationID uuid.UUID) ([]*model.Pill, error) {
	st, err := s.storeFor(ctx, installationID)
	if err != nil {
		return nil, err
	}
	return st.List(ctx), nil
}

func (s *Service) MarkTaken(ctx context.Context, installationID, pillID uuid.UUID) (*model.Pill, error) {
	st, err := s.storeFor(ctx, installationID)
	if err != nil {
		return nil, err
	}

	p, err := st.MarkTaken(ctx, pillID)
	if err != nil {
		return nil, err
	}

	s.mirrorIntake(ctx, installationID, p)
	s.invalidate(installationID)
	s.enqueueEvent(ctx, model.EventPillTaken, installationID, p)
	return p, nil
}

func (s *Service) MarkUntaken(ctx context.Context, installationID, pillID uuid.UUID) (*model.Pill, error) {
	st, err := s.storeFor(ctx, installationID)
	if err != nil {
		return nil, err
	}

	p, err := st.MarkUntaken(ctx, pillID)
	if err != nil {
		return nil, err
	}

	s.mirrorIntake(ctx, installationID, p)
	s.invalidate(installationID)
	s.enqueueEvent(ctx, model.EventPillUntaken, installationID, p)
	return p, nil
}

// mirrorIntake pushes the taken flag to the remote mirror best-effort so a
// rehydrated client keeps its mid-day state.
func (s *Service) mirrorIntake(ctx context.Context, installationID uuid.UUID, p *model.Pill) {
	if s.pillRepo == nil {
		return
	}
	if err := s.pillRepo.UpdateIntake(ctx, installationID, p.ID, p.Taken, p.LastTakenAt); err != nil {
		s.metrics.RemoteSyncFailures.Inc()
		s.logger.Warn(errors.RemoteSyncFailure(err), "failed to mirror intake state", "pill_id", p.ID.String())
	}
}

func (s *Service) DeletePill(ctx context.Context, installationID, pillID uuid.UUID) error {
	st, err := s.storeFor(ctx, installationID)
	if err != nil {
		return err
	}

	if err := st.Delete(ctx, pillID); err != nil {
		return err
	}
	s.metrics.PillsTracked.Dec()

	// History entries for the pill are retained: the name snapshot keeps
	// them meaningful after the parent record is gone.
	if s.pillRepo != nil {
		if err := s.pillRepo.Delete(ctx, installationID, pillID); err != nil {
			s.metrics.RemoteSyncFailures.Inc()
			s.logger.Warn(errors.RemoteSyncFailure(err), "failed to mirror pill delete", "pill_id", pillID.String())
		}
	}

	s.enqueueEvent(ctx, model.EventPillDelete, installationID, map[string]string{"pill_id": pillID.String()})
	return nil
}

// RolloverAll runs a rollover pass on every loaded store.
func (s *Service) RolloverAll(ctx context.Context, now time.Time) {
	s.mu.Lock()
	stores := make([]*pillstore.Store, 0, len(s.stores))
	for _, st := range s.stores {
		stores = append(stores, st)
	}
	s.mu.Unlock()

	for _, st := range stores {
		st.RolloverIfNeeded(ctx, now)
	}
}

// StartRolloverLoop ticks rollover passes until ctx is cancelled. A coarse
// interval is enough; the pass is idempotent.
func (s *Service) StartRolloverLoop(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.RolloverAll(ctx, time.Now())
		}
	}
}

func (s *Service) invalidate(installationID uuid.UUID) {
	if s.cacheInval != nil {
		s.cacheInval.Invalidate(installationID)
	}
}

func (s *Service) enqueueEvent(ctx context.Context, eventType string, installationID uuid.UUID, payload interface{}) {
	if s.outboxRepo == nil {
		return
	}

	body, err := json.Marshal(map[string]interface{}{
		"installation_id": installationID,
		"data":            payload,
	})
	if err != nil {
		s.logger.Warn(err, "failed to marshal outbox payload", "event_type", eventType)
		return
	}

	if err := s.outboxRepo.Create(ctx, &model.OutboxEvent{
		EventType: eventType,
		Payload:   body,
	}); err != nil {
		s.logger.Warn(fmt.Errorf("failed to enqueue outbox event: %w", err), "outbox enqueue failed", "event_type", eventType)
	}
}
