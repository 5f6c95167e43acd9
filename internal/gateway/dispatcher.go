package gateway

import (
	"context"
	"encoding/json"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/hearthline-chat/hearthline-server/internal/events"
	"github.com/hearthline-chat/hearthline-server/internal/models"
)

// registry is the Dispatcher's private state. It is only ever touched from within Run's goroutine, which is what
// lets every other method on Dispatcher be called concurrently from any number of connection pipelines without a
// lock: callers never manipulate the registry directly, they post a function that the single Run goroutine applies.
type registry struct {
	users map[uuid.UUID]*UserHandle
}

func newRegistry() *registry {
	return &registry{users: make(map[uuid.UUID]*UserHandle)}
}

// Dispatcher is the single actor that owns the connection registry. Every membership change and every outbound event
// is serialized through its instruction channel, so there is never a data race on "who is connected" and never a
// lost-update between two goroutines racing to register or remove a session.
type Dispatcher struct {
	ch      chan func(*registry)
	started atomic.Bool
	log     zerolog.Logger
}

// NewDispatcher constructs a Dispatcher. It does not start running until Run is called; callers should start Run in
// its own goroutine before accepting any WebSocket upgrades.
func NewDispatcher(log zerolog.Logger) *Dispatcher {
	return &Dispatcher{
		ch:  make(chan func(*registry), 1024),
		log: log.With().Str("component", "gateway_dispatcher").Logger(),
	}
}

// IsStarted reports whether Run is currently looping. The connection pipeline checks this before admitting a new
// session and closes with ServiceRestart if the Dispatcher is not accepting work, matching the readiness gate the
// Connection Pipeline is required to honor.
func (d *Dispatcher) IsStarted() bool {
	return d.started.Load()
}

// Run is the actor loop. It blocks until ctx is cancelled, at which point every live session is closed with
// GoingAway and the registry is cleared.
func (d *Dispatcher) Run(ctx context.Context) error {
	reg := newRegistry()
	d.started.Store(true)
	defer d.started.Store(false)

	d.log.Info().Msg("dispatcher started")

	for {
		select {
		case <-ctx.Done():
			d.shutdown(reg)
			return ctx.Err()
		case fn := <-d.ch:
			fn(reg)
		}
	}
}

func (d *Dispatcher) post(fn func(*registry)) {
	d.ch <- fn
}

// postSync posts fn and blocks until it has run, returning whatever fn wrote into the closure's captured result.
func postSync[T any](d *Dispatcher, fn func(*registry) T) T {
	reply := make(chan T, 1)
	d.post(func(r *registry) { reply <- fn(r) })
	return <-reply
}

func (d *Dispatcher) shutdown(reg *registry) {
	for _, u := range reg.users {
		for _, s := range u.allSessions() {
			s.Close(CloseGoingAway, "server shutting down")
			s.shutdown()
		}
		u.shutdown()
	}
	reg.users = make(map[uuid.UUID]*UserHandle)
}

// NewSession registers a brand-new session for userID, seeding its guild membership from guildIDs (resolved by the
// caller before this is invoked, since the Dispatcher loop must never block on I/O). The first session for a
// not-yet-connected user also spawns that user's inbound consumer task (see spawnUserConsumer). It returns the
// SessionHandle the connection pipeline uses to send and receive for the lifetime of the socket.
func (d *Dispatcher) NewSession(conn ConnectionId, guildIDs []uuid.UUID) *SessionHandle {
	handle := newSessionHandle(conn)
	d.post(func(r *registry) {
		u, ok := r.users[conn.UserID]
		if !ok {
			u = newUserHandle(conn.UserID, guildIDs)
			r.users[conn.UserID] = u
			d.spawnUserConsumer(u)
		}
		u.addSession(handle)
	})
	return handle
}

// spawnUserConsumer starts the per-user inbound consumer task described in spec: it drains userID's fan-in for as
// long as it stays open and routes recognized messages to handleUserInbound. It exits once the UserHandle's fan-in
// is closed, which happens when the user's last session disconnects or the Dispatcher itself shuts down.
func (d *Dispatcher) spawnUserConsumer(u *UserHandle) {
	recv, _ := u.subscribeFanin()
	go func() {
		for msg := range recv {
			d.handleUserInbound(u, msg)
		}
	}()
}

// handleUserInbound is the small inbound handler the per-user consumer dispatches to. Heartbeats are handled by
// each session's own heartbeat loop (which subscribes to the session's inbound broadcast directly), so the only
// message this handler acts on is StartTyping.
func (d *Dispatcher) handleUserInbound(u *UserHandle, msg inboundMessage) {
	if msg.env.Event != events.StartTyping {
		return
	}
	var data models.TypingStartData
	if err := json.Unmarshal(msg.env.Data, &data); err != nil {
		return
	}
	// Typing indicators are ephemeral: fan out immediately to every guild the sender shares with no persistence and
	// no replay guarantee. u.guildIDSet() is read live rather than captured at connection time, so a guild the user
	// joined after connecting is included.
	startEnv, err := events.NewEnvelope(events.TypingStart, data)
	if err != nil {
		return
	}
	d.Dispatch(startEnv, ToMutualGuilds(msg.conn.UserID, u.guildIDSet()))
}

// RemoveSession deregisters a session. It reports whether the user has no remaining sessions after removal, which
// the pipeline uses to decide whether to broadcast a PRESENCE_UPDATE to offline.
func (d *Dispatcher) RemoveSession(conn ConnectionId) bool {
	return postSync(d, func(r *registry) bool {
		u, ok := r.users[conn.UserID]
		if !ok {
			return true
		}
		u.removeSession(conn.SessionID)
		empty := u.isEmpty()
		if empty {
			delete(r.users, conn.UserID)
			u.shutdown()
		}
		return empty
	})
}

// sessionSubscription is postSync's return shape for SubscribeToSession: a generic function can only return one
// value, so the channel/cancel/found triple is bundled here.
type sessionSubscription struct {
	recv   <-chan events.InboundEnvelope
	cancel func()
	ok     bool
}

// SubscribeToSession returns a fresh subscription to the given session's inbound broadcast, or ok=false if the
// session no longer exists. The heartbeat loop is this method's primary caller.
func (d *Dispatcher) SubscribeToSession(conn ConnectionId) (recv <-chan events.InboundEnvelope, cancel func(), ok bool) {
	sub := postSync(d, func(r *registry) sessionSubscription {
		u, ok := r.users[conn.UserID]
		if !ok {
			return sessionSubscription{}
		}
		s, ok := u.session(conn.SessionID)
		if !ok {
			return sessionSubscription{}
		}
		recv, cancel := s.subscribeInbound()
		return sessionSubscription{recv: recv, cancel: cancel, ok: true}
	})
	return sub.recv, sub.cancel, sub.ok
}

// userSubscription is postSync's return shape for SubscribeToUser.
type userSubscription struct {
	recv   <-chan inboundMessage
	cancel func()
	ok     bool
}

// SubscribeToUser returns a fresh subscription to userID's fan-in broadcast, or ok=false if they have no live
// session.
func (d *Dispatcher) SubscribeToUser(userID uuid.UUID) (recv <-chan inboundMessage, cancel func(), ok bool) {
	sub := postSync(d, func(r *registry) userSubscription {
		u, ok := r.users[userID]
		if !ok {
			return userSubscription{}
		}
		recv, cancel := u.subscribeFanin()
		return userSubscription{recv: recv, cancel: cancel, ok: true}
	})
	return sub.recv, sub.cancel, sub.ok
}

// GuildIDsForConnectedUser returns the live guild set for userID if they currently have at least one session, for use
// by callers building a ToMutualGuilds SendMode around a user who may already be connected.
func (d *Dispatcher) GuildIDsForConnectedUser(userID uuid.UUID) ([]uuid.UUID, bool) {
	return postSync(d, func(r *registry) ([]uuid.UUID, bool) {
		u, ok := r.users[userID]
		if !ok {
			return nil, false
		}
		return u.guildIDSet(), true
	})
}

// Dispatch routes env to every session selected by mode. It never blocks waiting for a slow client: individual
// SessionHandle.Send calls are themselves non-blocking.
func (d *Dispatcher) Dispatch(env events.Envelope, mode SendMode) {
	d.post(func(r *registry) {
		switch mode.kind {
		case sendModeToUser:
			if u, ok := r.users[mode.userID]; ok {
				for _, s := range u.allSessions() {
					s.Send(env)
				}
			}
		case sendModeToGuild:
			for _, u := range r.users {
				if u.intersectsAny(mode.guildIDs) {
					for _, s := range u.allSessions() {
						s.Send(env)
					}
				}
			}
		case sendModeToMutualGuilds:
			for _, u := range r.users {
				if u.intersectsAny(mode.guildIDs) {
					for _, s := range u.allSessions() {
						s.Send(env)
					}
				}
			}
		}
	})
}

// SendTo sends env to every live session of a single user. It is the direct-addressed counterpart of Dispatch with
// SendMode ToUser, kept distinct because the connection pipeline uses it for session-establishment events (HELLO,
// READY) that must never fan out by guild membership.
func (d *Dispatcher) SendTo(userID uuid.UUID, env events.Envelope) {
	d.post(func(r *registry) {
		if u, ok := r.users[userID]; ok {
			for _, s := range u.allSessions() {
				s.Send(env)
			}
		}
	})
}

// SendToSession sends env to exactly one session, if it still exists.
func (d *Dispatcher) SendToSession(conn ConnectionId, env events.Envelope) {
	d.post(func(r *registry) {
		u, ok := r.users[conn.UserID]
		if !ok {
			return
		}
		if s, ok := u.session(conn.SessionID); ok {
			s.Send(env)
		}
	})
}

// CloseSession requests that a single session close with the given code and reason.
func (d *Dispatcher) CloseSession(conn ConnectionId, code CloseCode, reason string) {
	d.post(func(r *registry) {
		u, ok := r.users[conn.UserID]
		if !ok {
			return
		}
		if s, ok := u.session(conn.SessionID); ok {
			s.Close(code, reason)
		}
	})
}

// CloseUser requests that every session belonging to userID close with the given code and reason.
func (d *Dispatcher) CloseUser(userID uuid.UUID, code CloseCode, reason string) {
	d.post(func(r *registry) {
		if u, ok := r.users[userID]; ok {
			for _, s := range u.allSessions() {
				s.Close(code, reason)
			}
		}
	})
}

// CloseAll requests that every live session close with GoingAway, and blocks until the instruction has been applied
// to the registry.
func (d *Dispatcher) CloseAll() {
	postSync(d, func(r *registry) struct{} {
		d.shutdown(r)
		return struct{}{}
	})
}

// AddMember records that userID has joined guildID, so subsequent ToGuild/ToMutualGuilds dispatches reach them if
// they are connected. A no-op if the user has no live session.
func (d *Dispatcher) AddMember(userID, guildID uuid.UUID) {
	d.post(func(r *registry) {
		if u, ok := r.users[userID]; ok {
			u.addGuild(guildID)
		}
	})
}

// RemoveMember records that userID has left guildID.
func (d *Dispatcher) RemoveMember(userID, guildID uuid.UUID) {
	d.post(func(r *registry) {
		if u, ok := r.users[userID]; ok {
			u.removeGuild(guildID)
		}
	})
}

// QueryConnectedStatus reports whether userID currently has at least one live session.
func (d *Dispatcher) QueryConnectedStatus(userID uuid.UUID) bool {
	return postSync(d, func(r *registry) bool {
		_, ok := r.users[userID]
		return ok
	})
}

// QueryMultiConnectedStatus reports, for each userID in the input, whether they currently have at least one live
// session.
func (d *Dispatcher) QueryMultiConnectedStatus(userIDs []uuid.UUID) map[uuid.UUID]bool {
	return postSync(d, func(r *registry) map[uuid.UUID]bool {
		out := make(map[uuid.UUID]bool, len(userIDs))
		for _, id := range userIDs {
			_, ok := r.users[id]
			out[id] = ok
		}
		return out
	})
}
