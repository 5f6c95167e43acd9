package gateway

import (
	"context"

	"github.com/google/uuid"

	"github.com/hearthline-chat/hearthline-server/internal/models"
)

// Authenticator validates the bearer token sent in an IDENTIFY payload and resolves it to a user ID. The Dispatcher
// and pipeline depend on this interface rather than the concrete JWT package so they can be constructed and tested
// without a real signing key.
type Authenticator interface {
	ValidateAccessToken(token string) (uuid.UUID, error)
}

// Directory resolves the state needed to admit a session and answer the Event Router's membership questions. It is
// the Dispatcher/pipeline's sole view of persistence: a back-reference to an application object is deliberately not
// accepted, so the collaborators can be swapped independently in tests.
type Directory interface {
	// GuildIDsForUser returns every guild the user currently belongs to. Called once when a session is admitted so
	// the UserHandle's guild set can be seeded for ToGuild/ToMutualGuilds routing.
	GuildIDsForUser(ctx context.Context, userID uuid.UUID) ([]uuid.UUID, error)

	// Onboarding assembles the full READY payload for a newly connected user, including every guild they belong to
	// ready to be replayed back as individual GUILD_CREATE events.
	Onboarding(ctx context.Context, userID uuid.UUID) (models.ReadyData, error)

	// Presence returns the user's last known presence status, defaulting to offline on any lookup failure so a
	// transient store error never blocks a connection from completing its handshake.
	Presence(ctx context.Context, userID uuid.UUID) string

	// UserExists reports whether a user record backs the given ID. Called synchronously during the handshake, right
	// after the token itself validates, so a validly-signed token for a deleted or never-created user is rejected
	// before the session is ever registered rather than surfacing later as an onboarding failure.
	UserExists(ctx context.Context, userID uuid.UUID) (bool, error)
}
