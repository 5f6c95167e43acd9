package gateway

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/hearthline-chat/hearthline-server/internal/channel"
	"github.com/hearthline-chat/hearthline-server/internal/guild"
	"github.com/hearthline-chat/hearthline-server/internal/member"
	"github.com/hearthline-chat/hearthline-server/internal/models"
	"github.com/hearthline-chat/hearthline-server/internal/presence"
	"github.com/hearthline-chat/hearthline-server/internal/role"
	"github.com/hearthline-chat/hearthline-server/internal/user"
)

// repoDirectory is the production Directory implementation. It is constructed once at startup from the same
// repositories the REST API already depends on, and accepted by the Dispatcher/Pipeline as plain interfaces so
// neither needs a back-reference to an application object.
type repoDirectory struct {
	users    user.Repository
	guilds   guild.Repository
	channels channel.Repository
	roles    role.Repository
	members  member.Repository
	presence *presence.Store
}

// NewDirectory builds the Directory the gateway uses to answer membership and onboarding questions.
func NewDirectory(
	users user.Repository,
	guilds guild.Repository,
	channels channel.Repository,
	roles role.Repository,
	members member.Repository,
	presenceStore *presence.Store,
) Directory {
	return &repoDirectory{
		users:    users,
		guilds:   guilds,
		channels: channels,
		roles:    roles,
		members:  members,
		presence: presenceStore,
	}
}

func (d *repoDirectory) GuildIDsForUser(ctx context.Context, userID uuid.UUID) ([]uuid.UUID, error) {
	status, err := d.members.GetStatus(ctx, userID)
	if err != nil {
		if err == member.ErrNotFound {
			return nil, nil
		}
		return nil, fmt.Errorf("get member status: %w", err)
	}
	if status != models.MemberStatusActive {
		return nil, nil
	}
	return d.guilds.IDs(ctx)
}

func (d *repoDirectory) Onboarding(ctx context.Context, userID uuid.UUID) (models.ReadyData, error) {
	u, err := d.users.GetByID(ctx, userID)
	if err != nil {
		return models.ReadyData{}, fmt.Errorf("get user: %w", err)
	}

	g, err := d.guilds.Get(ctx)
	if err != nil {
		return models.ReadyData{}, fmt.Errorf("get guild: %w", err)
	}

	chs, err := d.channels.List(ctx)
	if err != nil {
		return models.ReadyData{}, fmt.Errorf("list channels: %w", err)
	}

	rs, err := d.roles.List(ctx)
	if err != nil {
		return models.ReadyData{}, fmt.Errorf("list roles: %w", err)
	}

	ms, err := d.members.List(ctx, nil, 1000)
	if err != nil {
		return models.ReadyData{}, fmt.Errorf("list members: %w", err)
	}

	channelModels := make([]models.Channel, len(chs))
	for i := range chs {
		channelModels[i] = chs[i].ToModel()
	}
	roleModels := make([]models.Role, len(rs))
	for i := range rs {
		roleModels[i] = rs[i].ToModel()
	}
	memberModels := make([]models.Member, len(ms))
	for i := range ms {
		memberModels[i] = ms[i].ToModel()
	}

	return models.ReadyData{
		User: u.ToModel(),
		Guilds: []models.GuildCreateData{
			{
				Guild:    *g,
				Channels: channelModels,
				Roles:    roleModels,
				Members:  memberModels,
			},
		},
		// Read-state tracking has no backing store in this deployment yet; the field is carried for wire
		// compatibility with clients that already expect it.
		ReadStates: nil,
	}, nil
}

func (d *repoDirectory) UserExists(ctx context.Context, userID uuid.UUID) (bool, error) {
	_, err := d.users.GetByID(ctx, userID)
	if err != nil {
		if err == user.ErrNotFound {
			return false, nil
		}
		return false, fmt.Errorf("get user: %w", err)
	}
	return true, nil
}

func (d *repoDirectory) Presence(ctx context.Context, userID uuid.UUID) string {
	if d.presence == nil {
		return presence.StatusOffline
	}
	status, err := d.presence.Get(ctx, userID)
	if err != nil {
		return presence.StatusOffline
	}
	return status
}
