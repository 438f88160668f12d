package pill

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jwalitptl/pilltrack-api/internal/model"
	"github.com/jwalitptl/pilltrack-api/pkg/errors"
)

type intakeUpdate struct {
	localID     uuid.UUID
	taken       bool
	lastTakenAt *time.Time
}

type fakePillRepo struct {
	mu        sync.Mutex
	remote    []*model.Pill
	remoteID  uuid.UUID
	listCalls int
	listDelay time.Duration
	created   []*model.Pill
	deleted   []uuid.UUID
	intakes   []intakeUpdate
}

func (f *fakePillRepo) Create(ctx context.Context, installationID uuid.UUID, pill *model.Pill) (uuid.UUID, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.created = append(f.created, pill)
	if f.remoteID == uuid.Nil {
		f.remoteID = uuid.New()
	}
	return f.remoteID, nil
}

func (f *fakePillRepo) UpdateIntake(ctx context.Context, installationID, localID uuid.UUID, taken bool, lastTakenAt *time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.intakes = append(f.intakes, intakeUpdate{localID: localID, taken: taken, lastTakenAt: lastTakenAt})
	return nil
}

func (f *fakePillRepo) Delete(ctx context.Context, installationID, localID uuid.UUID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleted = append(f.deleted, localID)
	return nil
}

func (f *fakePillRepo) List(ctx context.Context, installationID uuid.UUID) ([]*model.Pill, error) {
	f.mu.Lock()
	f.listCalls++
	delay := f.listDelay
	f.mu.Unlock()
	if delay > 0 {
		time.Sleep(delay)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.remote, nil
}

type fakeHistRepo struct {
	mu      sync.Mutex
	entries []*model.HistoryEntry
}

func (f *fakeHistRepo) Insert(ctx context.Context, entry *model.HistoryEntry) (uuid.UUID, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.entries = append(f.entries, entry)
	return uuid.New(), nil
}

func (f *fakeHistRepo) DeleteForRange(ctx context.Context, pillID uuid.UUID, from, to time.Time) error {
	return nil
}

func (f *fakeHistRepo) List(ctx context.Context, installationID uuid.UUID, from, to time.Time) ([]*model.HistoryEntry, error) {
	return nil, nil
}

type fakeOutbox struct {
	mu     sync.Mutex
	events []string
}

func (f *fakeOutbox) Create(ctx context.Context, event *model.OutboxEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, event.EventType)
	return nil
}

func (f *fakeOutbox) GetPendingEventsWithLock(ctx context.Context, limit int) ([]*model.OutboxEvent, error) {
	return nil, nil
}

func (f *fakeOutbox) UpdateStatus(ctx context.Context, id uuid.UUID, status model.OutboxStatus, errorMessage *string, retryAt *time.Time) error {
	return nil
}

func (f *fakeOutbox) DeleteProcessedBefore(ctx context.Context, before time.Time) (int64, error) {
	return 0, nil
}

type fakeInvalidator struct {
	mu    sync.Mutex
	calls []uuid.UUID
}

func (f *fakeInvalidator) Invalidate(installationID uuid.UUID) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, installationID)
}

type serviceFixture struct {
	svc     *Service
	repo    *fakePillRepo
	hist    *fakeHistRepo
	outbox  *fakeOutbox
	inval   *fakeInvalidator
	install uuid.UUID
}

func newServiceFixture(t *testing.T) *serviceFixture {
	t.Helper()
	f := &serviceFixture{
		repo:    &fakePillRepo{},
		hist:    &fakeHistRepo{},
		outbox:  &fakeOutbox{},
		inval:   &fakeInvalidator{},
		install: uuid.New(),
	}
	f.svc = NewService(nil, f.repo, f.hist, f.outbox, nil, time.UTC, nil, nil)
	f.svc.SetInvalidator(f.inval)
	return f
}

func TestAddPillRemapsRemoteID(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()

	p, err := f.svc.AddPill(ctx, f.install, &model.CreatePillRequest{Name: "Vitamin D", ScheduledAt: "08:00"})
	require.NoError(t, err)

	require.NotNil(t, p.RemoteID, "server-assigned id recorded after mirror create")
	assert.Equal(t, f.repo.remoteID, *p.RemoteID)
	assert.NotEqual(t, p.ID, *p.RemoteID, "local id stays stable")
	require.Len(t, f.repo.created, 1)

	pills, err := f.svc.ListPills(ctx, f.install)
	require.NoError(t, err)
	require.Len(t, pills, 1)
	require.NotNil(t, pills[0].RemoteID)
	assert.Equal(t, f.repo.remoteID, *pills[0].RemoteID)

	assert.Equal(t, []string{model.EventPillCreate}, f.outbox.events)
}

func TestAddPillInvalidTime(t *testing.T) {
	f := newServiceFixture(t)

	_, err := f.svc.AddPill(context.Background(), f.install, &model.CreatePillRequest{Name: "Vitamin D", ScheduledAt: "25:99"})
	require.Error(t, err)

	var appErr *errors.AppError
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, errors.ErrBadRequest, appErr.Code)
}

func TestHydratesFromMirror(t *testing.T) {
	f := newServiceFixture(t)
	f.repo.remote = []*model.Pill{
		{ID: uuid.New(), Name: "Vitamin D", ScheduledAt: model.TimeOfDay{Hour: 8}},
		{ID: uuid.New(), Name: "Aspirin", ScheduledAt: model.TimeOfDay{Hour: 21}},
	}
	ctx := context.Background()

	pills, err := f.svc.ListPills(ctx, f.install)
	require.NoError(t, err)
	assert.Len(t, pills, 2)
	assert.Equal(t, 1, f.repo.listCalls)

	// Store is cached; the mirror is not consulted again.
	_, err = f.svc.ListPills(ctx, f.install)
	require.NoError(t, err)
	assert.Equal(t, 1, f.repo.listCalls)
}

func TestHydrationClearsStaleFlags(t *testing.T) {
	f := newServiceFixture(t)
	yesterday := time.Now().AddDate(0, 0, -1)
	f.repo.remote = []*model.Pill{
		{ID: uuid.New(), Name: "Vitamin D", ScheduledAt: model.TimeOfDay{Hour: 8}, Taken: true, LastTakenAt: &yesterday},
	}

	pills, err := f.svc.ListPills(context.Background(), f.install)
	require.NoError(t, err)
	require.Len(t, pills, 1)
	assert.False(t, pills[0].Taken, "yesterday's mirrored flag cleared on hydration")
	require.NotNil(t, pills[0].LastTakenAt)
	assert.Equal(t, yesterday.Unix(), pills[0].LastTakenAt.Unix())
}

func TestMarkTakenMirrorsAndInvalidates(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()

	p, err := f.svc.AddPill(ctx, f.install, &model.CreatePillRequest{Name: "Vitamin D", ScheduledAt: "08:00"})
	require.NoError(t, err)

	got, err := f.svc.MarkTaken(ctx, f.install, p.ID)
	require.NoError(t, err)
	assert.True(t, got.Taken)

	require.Len(t, f.repo.intakes, 1)
	assert.Equal(t, p.ID, f.repo.intakes[0].localID)
	assert.True(t, f.repo.intakes[0].taken)
	assert.NotNil(t, f.repo.intakes[0].lastTakenAt)

	require.Len(t, f.inval.calls, 1)
	assert.Equal(t, f.install, f.inval.calls[0])
	assert.Equal(t, []string{model.EventPillCreate, model.EventPillTaken}, f.outbox.events)
	assert.Len(t, f.hist.entries, 1)
}

func TestMarkUntakenMirrorsAndInvalidates(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()

	p, err := f.svc.AddPill(ctx, f.install, &model.CreatePillRequest{Name: "Vitamin D", ScheduledAt: "08:00"})
	require.NoError(t, err)
	_, err = f.svc.MarkTaken(ctx, f.install, p.ID)
	require.NoError(t, err)

	got, err := f.svc.MarkUntaken(ctx, f.install, p.ID)
	require.NoError(t, err)
	assert.False(t, got.Taken)

	require.Len(t, f.repo.intakes, 2)
	assert.False(t, f.repo.intakes[1].taken)
	assert.Nil(t, f.repo.intakes[1].lastTakenAt)
	assert.Len(t, f.inval.calls, 2)
	assert.Equal(t, []string{model.EventPillCreate, model.EventPillTaken, model.EventPillUntaken}, f.outbox.events)
}

func TestDeletePillMirrors(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()

	p, err := f.svc.AddPill(ctx, f.install, &model.CreatePillRequest{Name: "Vitamin D", ScheduledAt: "08:00"})
	require.NoError(t, err)

	require.NoError(t, f.svc.DeletePill(ctx, f.install, p.ID))
	require.Len(t, f.repo.deleted, 1)
	assert.Equal(t, p.ID, f.repo.deleted[0])
	assert.Equal(t, []string{model.EventPillCreate, model.EventPillDelete}, f.outbox.events)

	_, err = f.svc.MarkTaken(ctx, f.install, p.ID)
	assert.True(t, errors.IsNotFound(err))
}

func TestConcurrentFirstUseLoadsOnce(t *testing.T) {
	f := newServiceFixture(t)
	f.repo.remote = []*model.Pill{
		{ID: uuid.New(), Name: "Vitamin D", ScheduledAt: model.TimeOfDay{Hour: 8}},
	}
	f.repo.listDelay = 20 * time.Millisecond
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			pills, err := f.svc.ListPills(ctx, f.install)
			assert.NoError(t, err)
			assert.Len(t, pills, 1)
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, f.repo.listCalls, "concurrent first requests share one load")
}
