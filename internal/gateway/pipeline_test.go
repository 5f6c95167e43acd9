package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/hearthline-chat/hearthline-server/internal/events"
	"github.com/hearthline-chat/hearthline-server/internal/models"
)

// fakeFrame is one queued inbound frame (or error) for fakeConn.ReadMessage to return.
type fakeFrame struct {
	messageType int
	data        []byte
	err         error
}

// fakeConn is an in-memory stand-in for *websocket.Conn, giving tests control over what the "client" sends and
// visibility into what the pipeline writes back.
type fakeConn struct {
	inbound chan fakeFrame

	mu      sync.Mutex
	written [][]byte
	closes  []closeRequest
	closed  bool
}

func newFakeConn() *fakeConn {
	return &fakeConn{inbound: make(chan fakeFrame, 16)}
}

func (c *fakeConn) pushText(v any) {
	raw, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	c.inbound <- fakeFrame{messageType: textMessage, data: raw}
}

func (c *fakeConn) ReadMessage() (int, []byte, error) {
	f, ok := <-c.inbound
	if !ok {
		return 0, nil, io.EOF
	}
	if f.err != nil {
		return 0, nil, f.err
	}
	return f.messageType, f.data, nil
}

func (c *fakeConn) WriteMessage(_ int, data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	cp := append([]byte(nil), data...)
	c.written = append(c.written, cp)
	return nil
}

func (c *fakeConn) WriteControl(_ int, data []byte, _ time.Time) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	code := int(data[0])<<8 | int(data[1])
	c.closes = append(c.closes, closeRequest{code: CloseCode(code), reason: string(data[2:])})
	return nil
}

func (c *fakeConn) SetReadDeadline(time.Time) error { return nil }
func (c *fakeConn) SetReadLimit(int64)              {}
func (c *fakeConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.inbound)
	}
	return nil
}

func (c *fakeConn) events(t *testing.T) []events.Envelope {
	t.Helper()
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]events.Envelope, 0, len(c.written))
	for _, raw := range c.written {
		var env events.Envelope
		if err := json.Unmarshal(raw, &env); err != nil {
			t.Fatalf("decode written frame: %v", err)
		}
		out = append(out, env)
	}
	return out
}

func (c *fakeConn) waitForEvent(t *testing.T, name events.DispatchEvent, timeout time.Duration) events.Envelope {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		for _, env := range c.events(t) {
			if env.Event == name {
				return env
			}
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", name)
	return events.Envelope{}
}

type fakeAuthenticator struct {
	userID uuid.UUID
	err    error
}

func (a *fakeAuthenticator) ValidateAccessToken(token string) (uuid.UUID, error) {
	if a.err != nil {
		return uuid.Nil, a.err
	}
	if token != "valid-token" {
		return uuid.Nil, fmt.Errorf("bad token")
	}
	return a.userID, nil
}

type fakeDirectory struct {
	guildIDs []uuid.UUID
	ready    models.ReadyData
	status   string

	// userMissing makes UserExists report false, simulating a validly-signed token for a user record that no
	// longer exists. Zero value keeps every existing test's "the user exists" assumption intact.
	userMissing bool
	existsErr   error
}

func (d *fakeDirectory) GuildIDsForUser(context.Context, uuid.UUID) ([]uuid.UUID, error) {
	return d.guildIDs, nil
}

func (d *fakeDirectory) Onboarding(context.Context, uuid.UUID) (models.ReadyData, error) {
	return d.ready, nil
}

func (d *fakeDirectory) Presence(context.Context, uuid.UUID) string {
	if d.status == "" {
		return "online"
	}
	return d.status
}

func (d *fakeDirectory) UserExists(context.Context, uuid.UUID) (bool, error) {
	if d.existsErr != nil {
		return false, d.existsErr
	}
	return !d.userMissing, nil
}

func newTestPipeline(t *testing.T, dispatcher *Dispatcher, auth Authenticator, dir Directory) *Pipeline {
	t.Helper()
	p := NewPipeline(dispatcher, auth, dir, 30*time.Millisecond, zerolog.Nop())
	p.identifyTimeout = 200 * time.Millisecond
	p.heartbeatGrace = 30 * time.Millisecond
	return p
}

func TestPipeline_HandshakeAndOnboarding(t *testing.T) {
	t.Parallel()
	d, cancel := newTestDispatcher(t)
	defer cancel()

	userID := uuid.New()
	guildID := uuid.New()
	auth := &fakeAuthenticator{userID: userID}
	dir := &fakeDirectory{
		guildIDs: []uuid.UUID{guildID},
		ready: models.ReadyData{
			User: models.User{ID: userID.String()},
			Guilds: []models.GuildCreateData{
				{Guild: models.Guild{ID: guildID.String(), Name: "Test Guild"}},
			},
		},
	}
	p := newTestPipeline(t, d, auth, dir)

	conn := newFakeConn()
	conn.pushText(events.InboundEnvelope{Event: events.Identify, Data: marshalJSON(t, models.IdentifyData{Token: "valid-token"})})

	done := make(chan struct{})
	go func() {
		p.HandleConnection(context.Background(), conn)
		close(done)
	}()

	conn.waitForEvent(t, events.Hello, time.Second)
	conn.waitForEvent(t, events.Ready, time.Second)
	conn.waitForEvent(t, events.GuildCreate, time.Second)

	d.CloseUser(userID, CloseNormal, "test done")
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("pipeline did not exit after CloseUser")
	}
}

func TestPipeline_Handshake_InvalidToken(t *testing.T) {
	t.Parallel()
	d, cancel := newTestDispatcher(t)
	defer cancel()

	auth := &fakeAuthenticator{}
	dir := &fakeDirectory{}
	p := newTestPipeline(t, d, auth, dir)

	conn := newFakeConn()
	conn.pushText(events.InboundEnvelope{Event: events.Identify, Data: marshalJSON(t, models.IdentifyData{Token: "wrong"})})

	done := make(chan struct{})
	go func() {
		p.HandleConnection(context.Background(), conn)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("pipeline did not exit after failed handshake")
	}

	conn.mu.Lock()
	closes := append([]closeRequest(nil), conn.closes...)
	conn.mu.Unlock()
	if len(closes) == 0 || closes[0].code != ClosePolicyViolation {
		t.Fatalf("closes = %+v, want first close with code %v", closes, ClosePolicyViolation)
	}
}

func TestPipeline_Heartbeat_TimeoutClosesSession(t *testing.T) {
	t.Parallel()
	d, cancel := newTestDispatcher(t)
	defer cancel()

	userID := uuid.New()
	auth := &fakeAuthenticator{userID: userID}
	dir := &fakeDirectory{ready: models.ReadyData{User: models.User{ID: userID.String()}}}
	p := newTestPipeline(t, d, auth, dir)

	conn := newFakeConn()
	conn.pushText(events.InboundEnvelope{Event: events.Identify, Data: marshalJSON(t, models.IdentifyData{Token: "valid-token"})})

	done := make(chan struct{})
	go func() {
		p.HandleConnection(context.Background(), conn)
		close(done)
	}()

	conn.waitForEvent(t, events.Ready, time.Second)

	// Never send a HEARTBEAT: the heartbeat loop should close the session on its own once interval+grace elapses.
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("expected heartbeat timeout to terminate the connection")
	}

	conn.mu.Lock()
	closes := append([]closeRequest(nil), conn.closes...)
	conn.mu.Unlock()
	found := false
	for _, c := range closes {
		if c.code == ClosePolicyViolation {
			found = true
		}
	}
	if !found {
		t.Fatalf("closes = %+v, want a PolicyViolation close from the heartbeat timeout", closes)
	}
}

func marshalJSON(t *testing.T, v any) []byte {
	t.Helper()
	raw, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	return raw
}
