package pill

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/jwalitptl/pilltrack-api/internal/model"
	pillstore "github.com/jwalitptl/pilltrack-api/internal/pill"
	"github.com/jwalitptl/pilltrack-api/internal/repository"
	"github.com/jwalitptl/pilltrack-api/pkg/circuitbreaker"
)

// historySink adapts the history repository to the store's HistorySink
// contract, binding the installation id and guarding the remote store with
// a circuit breaker so a flapping database degrades to dropped mirror
// writes instead of blocked mutations.
type historySink struct {
	repo           repository.HistoryRepository
	cb             *circuitbreaker.CircuitBreaker
	installationID uuid.UUID
	loc            *time.Location
}

func newHistorySink(repo repository.HistoryRepository, installationID uuid.UUID, loc *time.Location) pillstore.HistorySink {
	if repo == nil {
		return nil
	}
	return &historySink{
		repo: repo,
		cb: circuitbreaker.NewCircuitBreaker(circuitbreaker.Settings{
			Name:        "history-mirror",
			MaxFailures: 5,
			Timeout:     30 * time.Second,
		}),
		installationID: installationID,
		loc:            loc,
	}
}

func (h *historySink) Insert(ctx context.Context, entry *model.HistoryEntry) error {
	entry.InstallationID = h.installationID
	return h.cb.Execute(func() error {
		_, err := h.repo.Insert(ctx, entry)
		return err
	})
}

func (h *historySink) DeleteForDay(ctx context.Context, pillID uuid.UUID, day time.Time) error {
	from, to := pillstore.DayBounds(day, h.loc)
	return h.cb.Execute(func() error {
		return h.repo.DeleteForRange(ctx, pillID, from, to)
	})
}
