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

type pillRepository struct {
	db *sqlx.DB
}

func NewPillRepository(db *sqlx.DB) repository.PillRepository {
	return &pillRepository{db: db}
}

// Create inserts the mirror row and returns the server-assigned id. The
// local id is kept in a separate column so reinstalled clients can rehydrate.
func (r *pillRepository) Create(ctx context.Context, installationID uuid.UUID, pill *model.Pill) (uuid.UUID, error) {
	query := `
		INSERT INTO pills (local_id, installation_id, name, scheduled_at, taken, last_taken_at, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING id
	`
	now := time.Now()

	var remoteID uuid.UUID
	err := r.db.QueryRowxContext(ctx, query,
		pill.ID,
		installationID,
		pill.Name,
		pill.ScheduledAt,
		pill.Taken,
		pill.LastTakenAt,
		now,
		now,
	).Scan(&remoteID)
	if err != nil {
		return uuid.Nil, fmt.Errorf("failed to create pill: %w", err)
	}
	return remoteID, nil
}

// UpdateIntake mirrors the taken flag and last intake timestamp so a
// rehydrated client keeps its mid-day state.
func (r *pillRepository) UpdateIntake(ctx context.Context, installationID, localID uuid.UUID, taken bool, lastTakenAt *time.Time) error {
	query := `
		UPDATE pills
		SET taken = $1, last_taken_at = $2, updated_at = NOW()
		WHERE installation_id = $3 AND local_id = $4
	`
	_, err := r.db.ExecContext(ctx, query, taken, lastTakenAt, installationID, localID)
	if err != nil {
		return fmt.Errorf("failed to update pill intake: %w", err)
	}
	return nil
}

func (r *pillRepository) Delete(ctx context.Context, installationID, localID uuid.UUID) error {
	query := `DELETE FROM pills WHERE installation_id = $1 AND local_id = $2`
	_, err := r.db.ExecContext(ctx, query, installationID, localID)
	if err != nil {
		return fmt.Errorf("failed to delete pill: %w", err)
	}
	return nil
}

func (r *pillRepository) List(ctx context.Context, installationID uuid.UUID) ([]*model.Pill, error) {
	query := `
		SELECT local_id, id AS remote_id, name, scheduled_at, taken, last_taken_at, created_at, updated_at
		FROM pills
		WHERE installation_id = $1
		ORDER BY created_at
	`
	rows, err := r.db.QueryxContext(ctx, query, installationID)
	if err != nil {
		return nil, fmt.Errorf("failed to list pills: %w", err)
	}
	defer rows.Close()

	var pills []*model.Pill
	for rows.Next() {
		var p model.Pill
		var remoteID uuid.UUID
		if err := rows.Scan(&p.ID, &remoteID, &p.Name, &p.ScheduledAt, &p.Taken, &p.LastTakenAt, &p.CreatedAt, &p.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan pill: %w", err)
		}
		p.RemoteID = &remoteID
		pills = append(pills, &p)
	}
	return pills, rows.Err()
}
