// Package guild resolves the deployment's guild-scoped view of itself. The server currently hosts exactly one
// guild, backed by the server-wide configuration row, but gateway code is written against this package's Repository
// interface rather than against internal/server directly so that a future multi-guild backing store only needs a new
// implementation, not new callers.
package guild

import (
	"context"

	"github.com/google/uuid"

	"github.com/hearthline-chat/hearthline-server/internal/models"
	"github.com/hearthline-chat/hearthline-server/internal/server"
)

// Repository resolves guild identity and membership for gateway routing and onboarding.
type Repository interface {
	// Get returns the single guild this deployment hosts.
	Get(ctx context.Context) (*models.Guild, error)

	// IDs returns the guild ID set a member belongs to. Every active member belongs to exactly this deployment's one
	// guild; a user with no membership row gets an empty set.
	IDs(ctx context.Context) ([]uuid.UUID, error)
}

type serverBackedRepository struct {
	servers server.Repository
}

// NewServerBackedRepository builds a Repository that treats the singleton server configuration as the deployment's
// one guild.
func NewServerBackedRepository(servers server.Repository) Repository {
	return &serverBackedRepository{servers: servers}
}

func (r *serverBackedRepository) Get(ctx context.Context) (*models.Guild, error) {
	cfg, err := r.servers.Get(ctx)
	if err != nil {
		return nil, err
	}
	g := cfg.ToGuildModel()
	return &g, nil
}

func (r *serverBackedRepository) IDs(ctx context.Context) ([]uuid.UUID, error) {
	cfg, err := r.servers.Get(ctx)
	if err != nil {
		return nil, err
	}
	return []uuid.UUID{cfg.ID}, nil
}
