package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/fasthttp/websocket"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/hearthline-chat/hearthline-server/internal/events"
	"github.com/hearthline-chat/hearthline-server/internal/models"
)

// wsConn is the subset of *websocket.Conn (github.com/fasthttp/websocket) the pipeline needs. Depending on this
// narrow interface instead of the concrete type lets the pipeline's state machine be exercised with an in-memory fake
// in tests.
type wsConn interface {
	ReadMessage() (messageType int, p []byte, err error)
	WriteMessage(messageType int, data []byte) error
	WriteControl(messageType int, data []byte, deadline time.Time) error
	SetReadDeadline(t time.Time) error
	SetReadLimit(limit int64)
	Close() error
}

const (
	textMessage  = 1
	closeMessage = 8

	maxMessageSize = 8192
	writeWait      = 10 * time.Second

	// defaultIdentifyTimeout and defaultHeartbeatGrace match the values used in production; tests construct a
	// Pipeline directly with smaller values so heartbeat/timeout scenarios don't have to wait on wall-clock seconds.
	defaultIdentifyTimeout = 5 * time.Second
	defaultHeartbeatGrace  = 5 * time.Second
)

// Pipeline drives a single WebSocket connection from HELLO through to close. One Pipeline instance is constructed per
// upgraded socket; the four named stages below correspond directly to the connection lifecycle: handshake,
// onboarding, then the three long-running loops (send, receive, heartbeat) raced against each other until one exits.
type Pipeline struct {
	dispatcher        *Dispatcher
	auth              Authenticator
	dir               Directory
	log               zerolog.Logger
	heartbeatInterval time.Duration
	identifyTimeout   time.Duration
	heartbeatGrace    time.Duration
}

// NewPipeline constructs a Pipeline. heartbeatInterval is the value advertised in HELLO and used to size the
// heartbeat timeout window (interval + a fixed grace period).
func NewPipeline(dispatcher *Dispatcher, auth Authenticator, dir Directory, heartbeatInterval time.Duration, log zerolog.Logger) *Pipeline {
	return &Pipeline{
		dispatcher:        dispatcher,
		auth:              auth,
		dir:               dir,
		heartbeatInterval: heartbeatInterval,
		identifyTimeout:   defaultIdentifyTimeout,
		heartbeatGrace:    defaultHeartbeatGrace,
		log:               log.With().Str("component", "gateway_pipeline").Logger(),
	}
}

// SetTimeouts overrides the default identify timeout and heartbeat grace period. Call before any connections are
// handled; NewPipeline's defaults are production-appropriate, so this exists mainly so main() can apply operator
// configuration and tests can shrink both to milliseconds.
func (p *Pipeline) SetTimeouts(identifyTimeout, heartbeatGrace time.Duration) {
	p.identifyTimeout = identifyTimeout
	p.heartbeatGrace = heartbeatGrace
}

// HandleConnection runs the full lifecycle of one upgraded WebSocket connection. It returns once the connection has
// fully closed; the caller (the HTTP handler invoking this from a websocket.New callback) need not do anything
// further with conn.
func (p *Pipeline) HandleConnection(ctx context.Context, conn wsConn) {
	defer func() { _ = conn.Close() }()

	if !p.dispatcher.IsStarted() {
		p.sendClose(conn, CloseServiceRestart, "gateway is restarting")
		return
	}

	userID, err := p.handshake(ctx, conn)
	if err != nil {
		p.log.Debug().Err(err).Msg("handshake failed")
		return
	}

	conn.SetReadLimit(maxMessageSize)

	guildIDs, err := p.dir.GuildIDsForUser(ctx, userID)
	if err != nil {
		p.log.Error().Err(err).Stringer("user_id", userID).Msg("failed to resolve guild membership")
		p.sendClose(conn, CloseServerError, "internal error")
		return
	}

	connID := ConnectionId{UserID: userID, SessionID: uuid.New()}
	session := p.dispatcher.NewSession(connID, guildIDs)

	onboardCtx, cancelOnboard := context.WithCancel(ctx)
	go p.sendOnboardingPayloads(onboardCtx, connID, guildIDs)

	done := make(chan struct{})
	var sendErr error

	go func() {
		sendErr = p.sendEvents(conn, session)
		close(done)
	}()
	go p.receiveEvents(conn, connID, session, done)
	go p.handleHeartbeating(connID, done)

	<-done
	cancelOnboard()

	isShuttingDown := errors.Is(sendErr, errGoingAway)
	noSessionsLeft := p.dispatcher.RemoveSession(connID)

	if !isShuttingDown {
		if noSessionsLeft {
			if status := p.dir.Presence(ctx, userID); status != "offline" {
				p.dispatcher.Dispatch(p.presenceEnvelope(userID, "offline"), ToMutualGuilds(userID, guildIDs))
			}
		} else if remainingGuilds, stillConnected := p.dispatcher.GuildIDsForConnectedUser(userID); stillConnected {
			status := p.dir.Presence(ctx, userID)
			p.dispatcher.Dispatch(p.presenceEnvelope(userID, status), ToMutualGuilds(userID, remainingGuilds))
		}
	}
}

var errGoingAway = errors.New("going away")

// handshake runs the HELLO -> IDENTIFY exchange. It returns the authenticated user's ID, or an error after having
// already written an appropriate close frame.
func (p *Pipeline) handshake(ctx context.Context, conn wsConn) (uuid.UUID, error) {
	hello, err := events.NewEnvelope(events.Hello, models.HelloData{HeartbeatInterval: int(p.heartbeatInterval / time.Millisecond)})
	if err != nil {
		return uuid.Nil, fmt.Errorf("build hello: %w", err)
	}
	if err := p.write(conn, hello); err != nil {
		return uuid.Nil, fmt.Errorf("write hello: %w", err)
	}

	_ = conn.SetReadDeadline(time.Now().Add(p.identifyTimeout))
	msgType, raw, err := conn.ReadMessage()
	if err != nil {
		p.sendClose(conn, ClosePolicyViolation, "timed out waiting for IDENTIFY")
		return uuid.Nil, fmt.Errorf("read identify: %w", err)
	}
	if msgType != textMessage {
		p.sendClose(conn, CloseUnsupported, "expected text frame")
		return uuid.Nil, errors.New("non-text handshake frame")
	}

	var env events.InboundEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		p.sendClose(conn, CloseInvalidPayload, "malformed identify frame")
		return uuid.Nil, fmt.Errorf("decode identify envelope: %w", err)
	}
	if env.Event != events.Identify {
		p.sendClose(conn, ClosePolicyViolation, "expected IDENTIFY")
		return uuid.Nil, errors.New("first frame was not IDENTIFY")
	}

	var identify models.IdentifyData
	if err := json.Unmarshal(env.Data, &identify); err != nil {
		p.sendClose(conn, CloseInvalidPayload, "malformed identify payload")
		return uuid.Nil, fmt.Errorf("decode identify payload: %w", err)
	}

	userID, err := p.auth.ValidateAccessToken(identify.Token)
	if err != nil {
		p.sendClose(conn, ClosePolicyViolation, "invalid token")
		return uuid.Nil, fmt.Errorf("validate token: %w", err)
	}

	exists, err := p.dir.UserExists(ctx, userID)
	if err != nil {
		p.log.Error().Err(err).Stringer("user_id", userID).Msg("failed to resolve user for token")
		p.sendClose(conn, CloseServerError, "internal error")
		return uuid.Nil, fmt.Errorf("resolve user: %w", err)
	}
	if !exists {
		p.sendClose(conn, CloseServerError, "No user belongs to token")
		return uuid.Nil, errors.New("no user belongs to token")
	}

	return userID, nil
}

// sendOnboardingPayloads sends READY followed by one GUILD_CREATE per guild, then broadcasts the user's presence to
// everyone who shares a guild with them unless they are already offline. It runs in its own goroutine, cancelled as
// soon as the connection's main select loop exits so a connection that dies mid-onboarding cannot emit events after
// teardown has started.
func (p *Pipeline) sendOnboardingPayloads(ctx context.Context, conn ConnectionId, guildIDs []uuid.UUID) {
	ready, err := p.dir.Onboarding(ctx, conn.UserID)
	if err != nil {
		p.log.Error().Err(err).Stringer("user_id", conn.UserID).Msg("failed to assemble onboarding payload")
		p.dispatcher.CloseSession(conn, CloseServerError, "internal error")
		return
	}

	readyEnv, err := events.NewEnvelope(events.Ready, ready)
	if err != nil {
		p.log.Error().Err(err).Msg("failed to encode READY")
		return
	}
	p.dispatcher.SendToSession(conn, readyEnv)

	for _, g := range ready.Guilds {
		if ctx.Err() != nil {
			return
		}
		env, err := events.NewEnvelope(events.GuildCreate, g)
		if err != nil {
			p.log.Warn().Err(err).Msg("failed to encode GUILD_CREATE")
			continue
		}
		p.dispatcher.SendToSession(conn, env)
	}

	if ctx.Err() != nil {
		return
	}

	status := p.dir.Presence(ctx, conn.UserID)
	if status == "offline" {
		return
	}
	p.dispatcher.Dispatch(p.presenceEnvelope(conn.UserID, status), ToMutualGuilds(conn.UserID, guildIDs))
}

func (p *Pipeline) presenceEnvelope(userID uuid.UUID, status string) events.Envelope {
	env, err := events.NewEnvelope(events.PresenceUpdate, models.PresenceUpdateData{UserID: userID.String(), Status: status})
	if err != nil {
		return events.Envelope{Event: events.PresenceUpdate}
	}
	return env
}

// sendEvents drains the session's outbound channel and writes each event to the socket, until either the connection
// requests a close or the channel delivers a write error. It returns errGoingAway if the close was a clean
// server-initiated GoingAway, which the caller uses to decide whether to suppress the offline-presence broadcast.
func (p *Pipeline) sendEvents(conn wsConn, session *SessionHandle) error {
	for {
		select {
		case env := <-session.outbound:
			if err := p.write(conn, env); err != nil {
				return err
			}
		case req := <-session.closeCh:
			p.sendClose(conn, req.code, req.reason)
			if req.code == CloseGoingAway {
				return errGoingAway
			}
			return nil
		}
	}
}

// receiveEvents reads frames off the socket and publishes each recognized inbound message onto the session's local
// broadcast, per spec: the session's forwarder task (wired when the session joined its UserHandle) tags it with the
// ConnectionId and republishes it onto the user's fan-in, where the Dispatcher's per-user inbound consumer picks it
// up; this session's own heartbeat loop subscribes to the session broadcast directly. It exits when the peer closes
// the connection, sends a non-text frame, or sends an undecodable payload; in every case it posts a CloseSession, so
// sendEvents returns and closes done and the sibling heartbeat loop unwinds too.
func (p *Pipeline) receiveEvents(conn wsConn, connID ConnectionId, session *SessionHandle, done chan struct{}) {
	for {
		select {
		case <-done:
			return
		default:
		}

		msgType, raw, err := conn.ReadMessage()
		if err != nil {
			if errors.Is(err, websocket.ErrReadLimit) {
				p.dispatcher.CloseSession(connID, CloseTooLarge, "frame exceeds maximum message size")
			} else {
				p.dispatcher.CloseSession(connID, CloseNormal, "read error")
			}
			return
		}
		if msgType == closeMessage {
			p.dispatcher.CloseSession(connID, CloseNormal, "client closed")
			return
		}
		if msgType != textMessage {
			p.dispatcher.CloseSession(connID, CloseUnsupported, "binary frames are not supported")
			return
		}

		var env events.InboundEnvelope
		if err := json.Unmarshal(raw, &env); err != nil {
			p.dispatcher.CloseSession(connID, CloseInvalidPayload, "malformed frame")
			return
		}

		session.publishInbound(env)
	}
}

// handleHeartbeating enforces the heartbeat contract: the client must send a HEARTBEAT at least once every
// heartbeatInterval+grace, or the session is closed with PolicyViolation. It subscribes directly to the session's
// inbound broadcast (via Dispatcher.SubscribeToSession) rather than the user's fan-in, so a lagging sibling session
// of the same user can never delay this one's heartbeat liveness check. It deliberately does not tear down the
// sibling send/receive loops itself; it relies on the resulting CloseSession instruction to propagate through
// sendEvents, which is what actually terminates the socket.
func (p *Pipeline) handleHeartbeating(connID ConnectionId, done chan struct{}) {
	recv, cancel, ok := p.dispatcher.SubscribeToSession(connID)
	if !ok {
		return
	}
	defer cancel()

	timeout := p.heartbeatInterval + p.heartbeatGrace
	for {
		timer := time.NewTimer(timeout)
		timedOut := false
	waitForHeartbeat:
		for {
			select {
			case <-done:
				timer.Stop()
				return
			case msg, chanOK := <-recv:
				if !chanOK {
					timer.Stop()
					return
				}
				if msg.Event == events.Heartbeat {
					break waitForHeartbeat
				}
				// Any other message is routed elsewhere (the per-user inbound consumer); this loop only cares
				// about liveness and keeps waiting without resetting the deadline.
			case <-timer.C:
				timedOut = true
				break waitForHeartbeat
			}
		}
		if timedOut {
			p.dispatcher.CloseSession(connID, ClosePolicyViolation, "No HEARTBEAT received within timeframe")
			continue
		}
		timer.Stop()
		ack, err := events.NewEnvelope(events.HeartbeatAck, nil)
		if err == nil {
			p.dispatcher.SendToSession(connID, ack)
		}
	}
}

func (p *Pipeline) write(conn wsConn, env events.Envelope) error {
	raw, err := env.Encode()
	if err != nil {
		return err
	}
	return conn.WriteMessage(textMessage, raw)
}

func (p *Pipeline) sendClose(conn wsConn, code CloseCode, reason string) {
	msg := formatCloseMessage(int(code), reason)
	_ = conn.WriteControl(closeMessage, msg, time.Now().Add(writeWait))
}

// formatCloseMessage mirrors gorilla/fasthttp websocket's FormatCloseMessage: a big-endian close code followed by the
// UTF-8 reason text, truncated to fit the protocol's 125-byte control frame limit.
func formatCloseMessage(code int, text string) []byte {
	buf := make([]byte, 2+len(text))
	buf[0] = byte(code >> 8)
	buf[1] = byte(code)
	copy(buf[2:], text)
	if len(buf) > 125 {
		buf = buf[:125]
	}
	return buf
}
