package localstore

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/jwalitptl/pilltrack-api/internal/model"
)

const (
	pillsKeyPrefix   = "pills:"
	installationsKey = "installations"
)

// Store is the durable local storage for pill snapshots. The whole list is
// kept under a single well-known key per installation, JSON-encoded, and is
// always written as a unit.
type Store struct {
	client *redis.Client
}

func New(url string) (*Store, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}

	client := redis.NewClient(opts)
	if err := client.Ping(context.Background()).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return &Store{client: client}, nil
}

func NewWithClient(client *redis.Client) *Store {
	return &Store{client: client}
}

func (s *Store) Close() error {
	return s.client.Close()
}

// RegisterInstallation records a new installation id. Registering an id
// that already exists is a no-op, so clients can safely re-register.
func (s *Store) RegisterInstallation(ctx context.Context, id uuid.UUID) error {
	if err := s.client.SAdd(ctx, installationsKey, id.String()).Err(); err != nil {
		return fmt.Errorf("failed to register installation: %w", err)
	}
	return nil
}

func (s *Store) InstallationExists(ctx context.Context, id uuid.UUID) (bool, error) {
	ok, err := s.client.SIsMember(ctx, installationsKey, id.String()).Result()
	if err != nil {
		return false, fmt.Errorf("failed to check installation: %w", err)
	}
	return ok, nil
}

// For binds the store to one installation's snapshot key.
func (s *Store) For(installationID uuid.UUID) *PillSnapshots {
	return &PillSnapshots{
		client: s.client,
		key:    pillsKeyPrefix + installationID.String(),
	}
}

// PillSnapshots loads and saves one installation's pill list.
type PillSnapshots struct {
	client *redis.Client
	key    string
}

func (p *PillSnapshots) Load(ctx context.Context) ([]*model.Pill, error) {
	raw, err := p.client.Get(ctx, p.key).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load pill snapshot: %w", err)
	}

	var pills []*model.Pill
	if err := json.Unmarshal(raw, &pills); err != nil {
		return nil, fmt.Errorf("failed to decode pill snapshot: %w", err)
	}
	return pills, nil
}

func (p *PillSnapshots) Save(ctx context.Context, pills []*model.Pill) error {
	raw, err := json.Marshal(pills)
	if err != nil {
		return fmt.Errorf("failed to encode pill snapshot: %w", err)
	}
	if err := p.client.Set(ctx, p.key, raw, 0).Err(); err != nil {
		return fmt.Errorf("failed to save pill snapshot: %w", err)
	}
	return nil
}

func (s *Store) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}
