package history

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	gocache "github.com/patrickmn/go-cache"

	"github.com/jwalitptl/pilltrack-api/internal/model"
	"github.com/jwalitptl/pilltrack-api/internal/repository"
	"github.com/jwalitptl/pilltrack-api/pkg/logger"
)

const (
	defaultTTL      = 30 * time.Second
	cleanupInterval = 5 * time.Minute
)

// HistoryService serves read-only intake history views.
type HistoryService interface {
	List(ctx context.Context, installationID uuid.UUID, from, to time.Time) ([]*model.HistoryEntry, error)
	Invalidate(installationID uuid.UUID)
}

type Service struct {
	repo   repository.HistoryRepository
	cache  *gocache.Cache
	logger *logger.Logger
}

func NewService(repo repository.HistoryRepository, ttl time.Duration, log *logger.Logger) *Service {
	if ttl <= 0 {
		ttl = defaultTTL
	}
	if log == nil {
		log = logger.Default()
	}
	return &Service{
		repo:   repo,
		cache:  gocache.New(ttl, cleanupInterval),
		logger: log,
	}
}

// List returns intake entries in [from, to), newest first. Results are
// cached per installation and range for a short TTL; mutations invalidate
// the installation's entries eagerly.
func (s *Service) List(ctx context.Context, installationID uuid.UUID, from, to time.Time) ([]*model.HistoryEntry, error) {
	key := cacheKey(installationID, from, to)
	if cached, ok := s.cache.Get(key); ok {
		return cached.([]*model.HistoryEntry), nil
	}

	entries, err := s.repo.List(ctx, installationID, from, to)
	if err != nil {
		return nil, fmt.Errorf("failed to list history: %w", err)
	}

	s.cache.SetDefault(key, entries)
	return entries, nil
}

// Invalidate drops every cached range for the installation.
func (s *Service) Invalidate(installationID uuid.UUID) {
	prefix := installationID.String() + "|"
	for key := range s.cache.Items() {
		if len(key) >= len(prefix) && key[:len(prefix)] == prefix {
			s.cache.Delete(key)
		}
	}
}

func cacheKey(installationID uuid.UUID, from, to time.Time) string {
	return fmt.Sprintf("%s|%d|%d", installationID, from.Unix(), to.Unix())
}
