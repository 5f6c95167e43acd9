package gateway

import (
	"testing"

	"github.com/google/uuid"

	"github.com/hearthline-chat/hearthline-server/internal/events"
)

func TestUserHandle_IntersectsAny(t *testing.T) {
	t.Parallel()

	guildA := uuid.New()
	guildB := uuid.New()
	guildC := uuid.New()

	u := newUserHandle(uuid.New(), []uuid.UUID{guildA, guildB})

	if !u.intersectsAny([]uuid.UUID{guildB, guildC}) {
		t.Error("expected intersection on guildB")
	}
	if u.intersectsAny([]uuid.UUID{guildC}) {
		t.Error("expected no intersection")
	}
}

func TestUserHandle_AddRemoveGuild(t *testing.T) {
	t.Parallel()

	guildID := uuid.New()
	u := newUserHandle(uuid.New(), nil)

	if u.isMemberOf(guildID) {
		t.Fatal("should not be a member before AddGuild")
	}
	u.addGuild(guildID)
	if !u.isMemberOf(guildID) {
		t.Fatal("should be a member after AddGuild")
	}
	u.removeGuild(guildID)
	if u.isMemberOf(guildID) {
		t.Fatal("should not be a member after RemoveGuild")
	}
}

func TestUserHandle_SessionLifecycle(t *testing.T) {
	t.Parallel()

	conn := ConnectionId{UserID: uuid.New(), SessionID: uuid.New()}
	u := newUserHandle(conn.UserID, nil)

	if !u.isEmpty() {
		t.Fatal("expected fresh UserHandle to be empty")
	}

	h := newSessionHandle(conn)
	u.addSession(h)
	if u.isEmpty() {
		t.Fatal("expected UserHandle to be non-empty after addSession")
	}

	got, ok := u.session(conn.SessionID)
	if !ok || got != h {
		t.Fatal("expected session() to return the added handle")
	}

	u.removeSession(conn.SessionID)
	if !u.isEmpty() {
		t.Fatal("expected UserHandle to be empty after removeSession")
	}
}

func TestSessionHandle_SendNeverBlocks(t *testing.T) {
	t.Parallel()

	h := newSessionHandle(ConnectionId{UserID: uuid.New(), SessionID: uuid.New()})
	env, _ := events.NewEnvelope(events.MessageCreate, nil)

	for i := 0; i < cap(h.outbound)+10; i++ {
		h.Send(env)
	}
	// The loop above must return promptly: Send drops events rather than blocking once the buffer saturates.
}

func TestSessionHandle_CloseOnlyLatches(t *testing.T) {
	t.Parallel()

	h := newSessionHandle(ConnectionId{UserID: uuid.New(), SessionID: uuid.New()})
	h.Close(ClosePolicyViolation, "first")
	h.Close(CloseNormal, "second")

	req := <-h.closeCh
	if req.code != ClosePolicyViolation {
		t.Errorf("code = %v, want first Close's code %v", req.code, ClosePolicyViolation)
	}
}
