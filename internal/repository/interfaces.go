package repository

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/jwalitptl/pilltrack-api/internal/model"
)

// PillRepository mirrors pill records to the remote store. Create returns
// the server-assigned id, which may differ from the stable local id.
type PillRepository interface {
	Create(ctx context.Context, installationID uuid.UUID, pill *model.Pill) (uuid.UUID, error)
	UpdateIntake(ctx context.Context, installationID, localID uuid.UUID, taken bool, lastTakenAt *time.Time) error
	Delete(ctx context.Context, installationID, localID uuid.UUID) error
	List(ctx context.Context, installationID uuid.UUID) ([]*model.Pill, error)
}

// HistoryRepository is the append-only intake log.
type HistoryRepository interface {
	Insert(ctx context.Context, entry *model.HistoryEntry) (uuid.UUID, error)
	DeleteForRange(ctx context.Context, pillID uuid.UUID, from, to time.Time) error
	List(ctx context.Context, installationID uuid.UUID, from, to time.Time) ([]*model.HistoryEntry, error)
}

type OutboxRepository interface {
	Create(ctx context.Context, event *model.OutboxEvent) error
	GetPendingEventsWithLock(ctx context.Context, limit int) ([]*model.OutboxEvent, error)
	UpdateStatus(ctx context.Context, id uuid.UUID, status model.OutboxStatus, errorMessage *string, retryAt *time.Time) error
	DeleteProcessedBefore(ctx context.Context, before time.Time) (int64, error)
}
