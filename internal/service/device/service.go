package device

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/jwalitptl/pilltrack-api/internal/localstore"
	"github.com/jwalitptl/pilltrack-api/pkg/auth"
	"github.com/jwalitptl/pilltrack-api/pkg/errors"
	"github.com/jwalitptl/pilltrack-api/pkg/logger"
)

// DeviceService issues installation identities and their device tokens.
type DeviceService interface {
	Register(ctx context.Context, existingID *uuid.UUID) (uuid.UUID, string, error)
}

type Service struct {
	local  *localstore.Store
	tokens auth.DeviceTokenService
	logger *logger.Logger
}

func NewService(local *localstore.Store, tokens auth.DeviceTokenService, log *logger.Logger) *Service {
	if log == nil {
		log = logger.Default()
	}
	return &Service{local: local, tokens: tokens, logger: log}
}

// Register creates a fresh installation id, or re-issues a token for an
// existing one so a reinstalled client keeps its pills and history. The id
// is generated once and cached server-side; all data is scoped by it.
func (s *Service) Register(ctx context.Context, existingID *uuid.UUID) (uuid.UUID, string, error) {
	installationID := uuid.New()
	if existingID != nil && *existingID != uuid.Nil {
		known, err := s.local.InstallationExists(ctx, *existingID)
		if err != nil {
			return uuid.Nil, "", errors.Internal(fmt.Errorf("failed to look up installation: %w", err))
		}
		if !known {
			return uuid.Nil, "", errors.NotFound("installation", nil)
		}
		installationID = *existingID
	}

	if err := s.local.RegisterInstallation(ctx, installationID); err != nil {
		return uuid.Nil, "", errors.Internal(err)
	}

	token, err := s.tokens.Generate(installationID)
	if err != nil {
		return uuid.Nil, "", errors.Internal(fmt.Errorf("failed to issue device token: %w", err))
	}

	s.logger.Info("installation registered", "installation_id", installationID.String())
	return installationID, token, nil
}
