package worker

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jwalitptl/pilltrack-api/internal/model"
)

type fakeOutboxRepo struct {
	pending  []*model.OutboxEvent
	statuses map[uuid.UUID]model.OutboxStatus
}

func newFakeOutboxRepo() *fakeOutboxRepo {
	return &fakeOutboxRepo{statuses: make(map[uuid.UUID]model.OutboxStatus)}
}

func (f *fakeOutboxRepo) Create(ctx context.Context, event *model.OutboxEvent) error {
	event.ID = uuid.New()
	f.pending = append(f.pending, event)
	return nil
}

func (f *fakeOutboxRepo) GetPendingEventsWithLock(ctx context.Context, limit int) ([]*model.OutboxEvent, error) {
	if len(f.pending) > limit {
		return f.pending[:limit], nil
	}
	return f.pending, nil
}

func (f *fakeOutboxRepo) UpdateStatus(ctx context.Context, id uuid.UUID, status model.OutboxStatus, errorMessage *string, retryAt *time.Time) error {
	f.statuses[id] = status
	return nil
}

func (f *fakeOutboxRepo) DeleteProcessedBefore(ctx context.Context, before time.Time) (int64, error) {
	return 0, nil
}

type flakyBroker struct {
	failures int
	calls    int
}

func (b *flakyBroker) Publish(ctx context.Context, channel string, message interface{}) error {
	b.calls++
	if b.calls <= b.failures {
		return fmt.Errorf("broker down")
	}
	return nil
}

func (b *flakyBroker) Subscribe(ctx context.Context, channel string) (<-chan []byte, error) {
	return nil, nil
}

func (b *flakyBroker) Close() error { return nil }

func newTestProcessor(repo *fakeOutboxRepo, broker *flakyBroker) *OutboxProcessor {
	return NewOutboxProcessor(repo, broker, OutboxProcessorConfig{
		BatchSize:     10,
		PollInterval:  time.Second,
		RetryAttempts: 3,
		RetryDelay:    time.Millisecond,
	}, nil, nil)
}

func TestProcessEventsPublishes(t *testing.T) {
	repo := newFakeOutboxRepo()
	broker := &flakyBroker{}
	p := newTestProcessor(repo, broker)

	event := &model.OutboxEvent{EventType: model.EventPillTaken, Payload: []byte(`{}`)}
	require.NoError(t, repo.Create(context.Background(), event))

	require.NoError(t, p.processEvents(context.Background()))

	assert.Equal(t, 1, broker.calls)
	assert.Equal(t, model.OutboxStatusProcessed, repo.statuses[event.ID])
}

func TestProcessEventRetriesTransientFailure(t *testing.T) {
	repo := newFakeOutboxRepo()
	broker := &flakyBroker{failures: 2}
	p := newTestProcessor(repo, broker)

	event := &model.OutboxEvent{EventType: model.EventPillTaken, Payload: []byte(`{}`)}
	require.NoError(t, repo.Create(context.Background(), event))

	require.NoError(t, p.processEvents(context.Background()))

	assert.Equal(t, 3, broker.calls, "two failures then success")
	assert.Equal(t, model.OutboxStatusProcessed, repo.statuses[event.ID])
}

func TestProcessEventSchedulesRetry(t *testing.T) {
	repo := newFakeOutboxRepo()
	broker := &flakyBroker{failures: 100}
	p := newTestProcessor(repo, broker)

	event := &model.OutboxEvent{EventType: model.EventPillTaken, Payload: []byte(`{}`)}
	require.NoError(t, repo.Create(context.Background(), event))

	require.NoError(t, p.processEvents(context.Background()))

	assert.Equal(t, model.OutboxStatusRetry, repo.statuses[event.ID])
}

func TestProcessEventMarksFailedAfterExhaustion(t *testing.T) {
	repo := newFakeOutboxRepo()
	broker := &flakyBroker{failures: 100}
	p := newTestProcessor(repo, broker)

	event := &model.OutboxEvent{EventType: model.EventPillTaken, Payload: []byte(`{}`), RetryCount: 2}
	require.NoError(t, repo.Create(context.Background(), event))

	require.NoError(t, p.processEvents(context.Background()))

	assert.Equal(t, model.OutboxStatusFailed, repo.statuses[event.ID])
}
