package gateway

import (
	"sync"

	"github.com/google/uuid"

	"github.com/hearthline-chat/hearthline-server/internal/events"
)

// inboundMessage pairs a decoded client frame with the connection it arrived on, so a single broadcast channel can
// carry traffic for every session belonging to a user.
type inboundMessage struct {
	conn ConnectionId
	env  events.InboundEnvelope
}

const (
	// sessionInboundBuffer is the per-subscriber buffer depth for a session's inbound broadcast. A lagging
	// subscriber drops the oldest-pending message rather than stalling the receive loop that publishes to it.
	sessionInboundBuffer = 8
	// userFaninBuffer is the per-subscriber buffer depth for a user's fan-in broadcast, sized larger than the
	// session buffer since it aggregates traffic from every session the user has open at once.
	userFaninBuffer = 100
)

// broadcaster is a minimal multi-subscriber fan-out used for the session-inbound and user-fan-in broadcasts: every
// live subscriber receives every published message, a lagging subscriber only drops messages for itself rather than
// blocking the publisher or any other subscriber, and close is idempotent so both a session's own teardown path and
// the Dispatcher's bulk shutdown path can call it without coordinating.
type broadcaster[T any] struct {
	mu      sync.Mutex
	subs    map[int]chan T
	next    int
	bufSize int
	closed  bool
}

func newBroadcaster[T any](bufSize int) *broadcaster[T] {
	return &broadcaster[T]{subs: make(map[int]chan T), bufSize: bufSize}
}

// subscribe registers a new subscriber, returning its receive channel and a cancel func that unregisters it. Once
// the broadcaster is closed, subscribe returns an already-closed channel and a no-op cancel.
func (b *broadcaster[T]) subscribe() (<-chan T, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		ch := make(chan T)
		close(ch)
		return ch, func() {}
	}

	id := b.next
	b.next++
	ch := make(chan T, b.bufSize)
	b.subs[id] = ch
	return ch, func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if sub, ok := b.subs[id]; ok {
			delete(b.subs, id)
			close(sub)
		}
	}
}

// publish fans msg out to every current subscriber without blocking: a subscriber whose buffer is already full is
// lagging, and its oldest pending message is dropped to make room for msg.
func (b *broadcaster[T]) publish(msg T) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, ch := range b.subs {
		select {
		case ch <- msg:
		default:
			select {
			case <-ch:
			default:
			}
			select {
			case ch <- msg:
			default:
			}
		}
	}
}

// close unregisters and closes every current subscriber channel. Safe to call more than once.
func (b *broadcaster[T]) close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for id, ch := range b.subs {
		delete(b.subs, id)
		close(ch)
	}
}

// SessionHandle is everything the Dispatcher and the connection pipeline share about one live WebSocket session. The
// outbound channel is buffered, not unbounded: producers (the Dispatcher, the pipeline's own onboarding stage) never
// block on send, and an event sent while the buffer is full is dropped for this session.
type SessionHandle struct {
	Conn ConnectionId

	outbound chan events.Envelope
	closeCh  chan closeRequest

	// inbound is this session's local broadcast: the receive loop publishes every parsed client frame here, and the
	// forwarder task (started by bindForwarder once the session joins a UserHandle) subscribes to it to relay
	// traffic onward to the user's fan-in. The heartbeat loop also subscribes to it directly.
	inbound *broadcaster[events.InboundEnvelope]
}

type closeRequest struct {
	code   CloseCode
	reason string
}

// newSessionHandle allocates the channels backing a session. The outbound channel holds at most 4096 pending events;
// producers never block on it, and Send drops an event when it is full.
func newSessionHandle(conn ConnectionId) *SessionHandle {
	return &SessionHandle{
		Conn:     conn,
		outbound: make(chan events.Envelope, 4096),
		closeCh:  make(chan closeRequest, 1),
		inbound:  newBroadcaster[events.InboundEnvelope](sessionInboundBuffer),
	}
}

// publishInbound broadcasts a frame the receive loop parsed off the wire to every subscriber of this session's
// inbound stream (the forwarder, the heartbeat loop, and any other caller that used subscribeInbound directly).
func (s *SessionHandle) publishInbound(env events.InboundEnvelope) {
	s.inbound.publish(env)
}

// subscribeInbound returns a fresh receiver for this session's inbound broadcast. Backs both the heartbeat loop's
// direct subscription and Dispatcher.SubscribeToSession.
func (s *SessionHandle) subscribeInbound() (<-chan events.InboundEnvelope, func()) {
	return s.inbound.subscribe()
}

// bindForwarder starts the forwarder task described in spec: it subscribes to this session's inbound broadcast,
// tags every message with the session's ConnectionId, and republishes it onto the user's fan-in. Called exactly
// once, when the session is added to its UserHandle.
func (s *SessionHandle) bindForwarder(fanin *broadcaster[inboundMessage]) {
	recv, _ := s.inbound.subscribe()
	go func() {
		for env := range recv {
			fanin.publish(inboundMessage{conn: s.Conn, env: env})
		}
	}()
}

// shutdown closes the session's inbound broadcast, which stops the forwarder task (its subscription channel closes,
// ending its range loop). Called when the session is removed from its UserHandle.
func (s *SessionHandle) shutdown() {
	s.inbound.close()
}

// Send enqueues an outbound event. It never blocks: if the buffer is momentarily saturated the event is dropped
// rather than stalling the caller, since the caller is very often the single-threaded Dispatcher loop.
func (s *SessionHandle) Send(env events.Envelope) {
	select {
	case s.outbound <- env:
	default:
	}
}

// Close requests that the pipeline's send loop terminate the session with the given close code and reason. Only the
// first call has effect.
func (s *SessionHandle) Close(code CloseCode, reason string) {
	select {
	case s.closeCh <- closeRequest{code: code, reason: reason}:
	default:
	}
}

// UserHandle tracks every session currently open for one user along with the set of guilds that user belongs to. The
// guild set is read by the Event Router to decide whether a ToGuild/ToMutualGuilds dispatch should reach this user.
type UserHandle struct {
	UserID uuid.UUID

	mu       sync.RWMutex
	guildIDs map[uuid.UUID]struct{}
	sessions map[uuid.UUID]*SessionHandle

	// fanin is the single broadcast every session's forwarder republishes onto, tagged with the originating
	// ConnectionId. The per-user inbound consumer the Dispatcher spawns on NewSession drains it.
	fanin *broadcaster[inboundMessage]
}

func newUserHandle(userID uuid.UUID, guildIDs []uuid.UUID) *UserHandle {
	set := make(map[uuid.UUID]struct{}, len(guildIDs))
	for _, g := range guildIDs {
		set[g] = struct{}{}
	}
	return &UserHandle{
		UserID:   userID,
		guildIDs: set,
		sessions: make(map[uuid.UUID]*SessionHandle),
		fanin:    newBroadcaster[inboundMessage](userFaninBuffer),
	}
}

// addSession binds the incoming session: wires its forwarder to this user's fan-in, then stores it.
func (u *UserHandle) addSession(h *SessionHandle) {
	u.mu.Lock()
	defer u.mu.Unlock()
	h.bindForwarder(u.fanin)
	u.sessions[h.Conn.SessionID] = h
}

// removeSession unbinds a session, shutting down its forwarder task so it doesn't leak.
func (u *UserHandle) removeSession(sessionID uuid.UUID) {
	u.mu.Lock()
	defer u.mu.Unlock()
	if h, ok := u.sessions[sessionID]; ok {
		h.shutdown()
		delete(u.sessions, sessionID)
	}
}

// subscribeFanin returns a fresh receiver for this user's fan-in broadcast. Backs both the Dispatcher's per-user
// inbound consumer task and Dispatcher.SubscribeToUser.
func (u *UserHandle) subscribeFanin() (<-chan inboundMessage, func()) {
	return u.fanin.subscribe()
}

// shutdown closes the user's fan-in broadcast, stopping the per-user inbound consumer task. Called once the user
// has no sessions left, or when the Dispatcher itself is shutting down.
func (u *UserHandle) shutdown() {
	u.fanin.close()
}

func (u *UserHandle) session(sessionID uuid.UUID) (*SessionHandle, bool) {
	u.mu.RLock()
	defer u.mu.RUnlock()
	h, ok := u.sessions[sessionID]
	return h, ok
}

func (u *UserHandle) isEmpty() bool {
	u.mu.RLock()
	defer u.mu.RUnlock()
	return len(u.sessions) == 0
}

func (u *UserHandle) allSessions() []*SessionHandle {
	u.mu.RLock()
	defer u.mu.RUnlock()
	out := make([]*SessionHandle, 0, len(u.sessions))
	for _, h := range u.sessions {
		out = append(out, h)
	}
	return out
}

func (u *UserHandle) isMemberOf(guildID uuid.UUID) bool {
	u.mu.RLock()
	defer u.mu.RUnlock()
	_, ok := u.guildIDs[guildID]
	return ok
}

func (u *UserHandle) sharesGuildWith(other *UserHandle) bool {
	u.mu.RLock()
	defer u.mu.RUnlock()
	other.mu.RLock()
	defer other.mu.RUnlock()
	for g := range u.guildIDs {
		if _, ok := other.guildIDs[g]; ok {
			return true
		}
	}
	return false
}

// intersectsAny reports whether this user belongs to any guild in the given set.
func (u *UserHandle) intersectsAny(guildIDs []uuid.UUID) bool {
	u.mu.RLock()
	defer u.mu.RUnlock()
	for _, g := range guildIDs {
		if _, ok := u.guildIDs[g]; ok {
			return true
		}
	}
	return false
}

func (u *UserHandle) guildIDSet() []uuid.UUID {
	u.mu.RLock()
	defer u.mu.RUnlock()
	out := make([]uuid.UUID, 0, len(u.guildIDs))
	for g := range u.guildIDs {
		out = append(out, g)
	}
	return out
}

func (u *UserHandle) addGuild(guildID uuid.UUID) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.guildIDs[guildID] = struct{}{}
}

func (u *UserHandle) removeGuild(guildID uuid.UUID) {
	u.mu.Lock()
	defer u.mu.Unlock()
	delete(u.guildIDs, guildID)
}
