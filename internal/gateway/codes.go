package gateway

import (
	"fmt"

	"github.com/google/uuid"
)

// ConnectionId uniquely names one live connection: the user it belongs to plus a per-socket session identifier.
type ConnectionId struct {
	UserID    uuid.UUID
	SessionID uuid.UUID
}

func (c ConnectionId) String() string {
	return fmt.Sprintf("%s-%s", c.UserID, c.SessionID)
}

// CloseCode is a close code drawn from the standard 1000-series WebSocket enumeration, reused here as the
// application's vocabulary for why a session was closed.
type CloseCode uint16

const (
	CloseNormal           CloseCode = 1000
	CloseGoingAway        CloseCode = 1001
	CloseProtocolError    CloseCode = 1002
	CloseUnsupported      CloseCode = 1003
	CloseInvalidPayload   CloseCode = 1007
	ClosePolicyViolation  CloseCode = 1008
	CloseTooLarge         CloseCode = 1009
	CloseServerError      CloseCode = 1011
	CloseServiceRestart   CloseCode = 1012
	CloseTryAgainLater    CloseCode = 1013
	CloseBadGateway       CloseCode = 1014
)

// SendMode selects the addressing policy the Event Router applies to pick recipients for a dispatched event.
//
// ToGuild and ToMutualGuilds both resolve to a set of guild IDs: membership is tested by intersecting a candidate
// user's guild set against this set. For ToMutualGuilds the caller resolves the originating user's own guild set
// (from their live UserHandle, or from the Directory if they just disconnected) and passes it in directly; a
// connected originator is naturally included in the result because their own guild set trivially intersects itself,
// so no special-casing of "self" is needed in the router.
type SendMode struct {
	kind     sendModeKind
	userID   uuid.UUID
	guildIDs []uuid.UUID
}

type sendModeKind int

const (
	sendModeToUser sendModeKind = iota
	sendModeToGuild
	sendModeToMutualGuilds
)

// ToUser addresses every live session belonging to a single user.
func ToUser(userID uuid.UUID) SendMode {
	return SendMode{kind: sendModeToUser, userID: userID}
}

// ToGuild addresses every live session of every user currently marked as a member of the guild.
func ToGuild(guildID uuid.UUID) SendMode {
	return SendMode{kind: sendModeToGuild, guildIDs: []uuid.UUID{guildID}}
}

// ToMutualGuilds addresses every live session of every user who shares at least one guild with userID's guild set.
// guildIDs is that set, resolved by the caller before this SendMode is constructed.
func ToMutualGuilds(userID uuid.UUID, guildIDs []uuid.UUID) SendMode {
	return SendMode{kind: sendModeToMutualGuilds, userID: userID, guildIDs: guildIDs}
}

func (m SendMode) String() string {
	switch m.kind {
	case sendModeToUser:
		return fmt.Sprintf("ToUser(%s)", m.userID)
	case sendModeToGuild:
		return fmt.Sprintf("ToGuild(%s)", m.guildIDs[0])
	case sendModeToMutualGuilds:
		return fmt.Sprintf("ToMutualGuilds(%s)", m.userID)
	default:
		return "SendMode(?)"
	}
}
