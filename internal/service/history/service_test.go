package history

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jwalitptl/pilltrack-api/internal/model"
)

type fakeHistoryRepo struct {
	entries []*model.HistoryEntry
	calls   int
}

func (f *fakeHistoryRepo) Insert(ctx context.Context, entry *model.HistoryEntry) (uuid.UUID, error) {
	f.entries = append(f.entries, entry)
	return uuid.New(), nil
}

func (f *fakeHistoryRepo) DeleteForRange(ctx context.Context, pillID uuid.UUID, from, to time.Time) error {
	return nil
}

func (f *fakeHistoryRepo) List(ctx context.Context, installationID uuid.UUID, from, to time.Time) ([]*model.HistoryEntry, error) {
	f.calls++
	out := make([]*model.HistoryEntry, 0)
	for _, e := range f.entries {
		if e.InstallationID == installationID && !e.TakenAt.Before(from) && e.TakenAt.Before(to) {
			out = append(out, e)
		}
	}
	return out, nil
}

func TestListCachesResults(t *testing.T) {
	repo := &fakeHistoryRepo{}
	svc := NewService(repo, time.Minute, nil)
	ctx := context.Background()

	installationID := uuid.New()
	now := time.Now()
	repo.entries = []*model.HistoryEntry{
		{ID: uuid.New(), InstallationID: installationID, PillName: "Vitamin D", TakenAt: now},
	}

	from, to := now.Add(-time.Hour), now.Add(time.Hour)

	first, err := svc.List(ctx, installationID, from, to)
	require.NoError(t, err)
	require.Len(t, first, 1)
	assert.Equal(t, 1, repo.calls)

	second, err := svc.List(ctx, installationID, from, to)
	require.NoError(t, err)
	require.Len(t, second, 1)
	assert.Equal(t, 1, repo.calls, "second read served from cache")
}

func TestInvalidateDropsInstallation(t *testing.T) {
	repo := &fakeHistoryRepo{}
	svc := NewService(repo, time.Minute, nil)
	ctx := context.Background()

	installationID := uuid.New()
	other := uuid.New()
	now := time.Now()
	from, to := now.Add(-time.Hour), now.Add(time.Hour)

	_, err := svc.List(ctx, installationID, from, to)
	require.NoError(t, err)
	_, err = svc.List(ctx, other, from, to)
	require.NoError(t, err)
	require.Equal(t, 2, repo.calls)

	svc.Invalidate(installationID)

	_, err = svc.List(ctx, installationID, from, to)
	require.NoError(t, err)
	assert.Equal(t, 3, repo.calls, "invalidated installation refetches")

	_, err = svc.List(ctx, other, from, to)
	require.NoError(t, err)
	assert.Equal(t, 3, repo.calls, "other installation's cache untouched")
}

func TestListScopesByInstallation(t *testing.T) {
	repo := &fakeHistoryRepo{}
	svc := NewService(repo, time.Minute, nil)
	ctx := context.Background()

	mine := uuid.New()
	theirs := uuid.New()
	now := time.Now()
	repo.entries = []*model.HistoryEntry{
		{ID: uuid.New(), InstallationID: mine, PillName: "Vitamin D", TakenAt: now},
		{ID: uuid.New(), InstallationID: theirs, PillName: "Aspirin", TakenAt: now},
	}

	got, err := svc.List(ctx, mine, now.Add(-time.Hour), now.Add(time.Hour))
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "Vitamin D", got[0].PillName)
}
