package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/jwalitptl/pilltrack-api/internal/model"
	"github.com/jwalitptl/pilltrack-api/internal/repository"
)

type historyRepository struct {
	db *sqlx.DB
}

func NewHistoryRepository(db *sqlx.DB) repository.HistoryRepository {
	return &historyRepository{db: db}
}

func (r *historyRepository) Insert(ctx context.Context, entry *model.HistoryEntry) (uuid.UUID, error) {
	query := `
		INSERT INTO pill_history (id, pill_id, installation_id, pill_name, taken_at, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id
	`
	if entry.ID == uuid.Nil {
		entry.ID = uuid.New()
	}
	entry.CreatedAt = time.Now()

	var id uuid.UUID
	err := r.db.QueryRowxContext(ctx, query,
		entry.ID,
		entry.PillID,
		entry.InstallationID,
		entry.PillName,
		entry.TakenAt,
		entry.CreatedAt,
	).Scan(&id)
	if err != nil {
		return uuid.Nil, fmt.Errorf("failed to insert history entry: %w", err)
	}
	return id, nil
}

// DeleteForRange removes intake entries for a pill within [from, to).
// Used to retract a same-day entry when the user unchecks a pill.
func (r *historyRepository) DeleteForRange(ctx context.Context, pillID uuid.UUID, from, to time.Time) error {
	query := `DELETE FROM pill_history WHERE pill_id = $1 AND taken_at >= $2 AND taken_at < $3`
	_, err := r.db.ExecContext(ctx, query, pillID, from, to)
	if err != nil {
		return fmt.Errorf("failed to delete history entries: %w", err)
	}
	return nil
}

func (r *historyRepository) List(ctx context.Context, installationID uuid.UUID, from, to time.Time) ([]*model.HistoryEntry, error) {
	query := `
		SELECT id, pill_id, installation_id, pill_name, taken_at, created_at
		FROM pill_history
		WHERE installation_id = $1 AND taken_at >= $2 AND taken_at < $3
		ORDER BY taken_at DESC
	`
	var entries []*model.HistoryEntry
	if err := r.db.SelectContext(ctx, &entries, query, installationID, from, to); err != nil {
		return nil, fmt.Errorf("failed to list history entries: %w", err)
	}
	return entries, nil
}
