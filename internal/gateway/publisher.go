package gateway

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/hearthline-chat/hearthline-server/internal/events"
)

const eventsChannel = "hearthline.gateway.events"

// sendModeWire is the JSON-safe encoding of a SendMode, since the unexported kind/fields on SendMode itself aren't
// serializable. It travels over Valkey pub/sub so a REST handler running in any process can trigger a dispatch on
// whichever process's Dispatcher is subscribed.
type sendModeWire struct {
	Kind     string      `json:"kind"`
	UserID   *uuid.UUID  `json:"user_id,omitempty"`
	GuildIDs []uuid.UUID `json:"guild_ids,omitempty"`
}

func encodeSendMode(mode SendMode) sendModeWire {
	w := sendModeWire{GuildIDs: mode.guildIDs}
	switch mode.kind {
	case sendModeToUser:
		w.Kind = "to_user"
		w.UserID = &mode.userID
	case sendModeToGuild:
		w.Kind = "to_guild"
	case sendModeToMutualGuilds:
		w.Kind = "to_mutual_guilds"
		w.UserID = &mode.userID
	}
	return w
}

func (w sendModeWire) decode() SendMode {
	switch w.Kind {
	case "to_user":
		if w.UserID != nil {
			return ToUser(*w.UserID)
		}
	case "to_guild":
		if len(w.GuildIDs) > 0 {
			return ToGuild(w.GuildIDs[0])
		}
	case "to_mutual_guilds":
		if w.UserID != nil {
			return ToMutualGuilds(*w.UserID, w.GuildIDs)
		}
	}
	return SendMode{}
}

// envelope is the JSON structure published to the gateway events channel.
type envelope struct {
	Event    events.DispatchEvent `json:"event"`
	Data     json.RawMessage      `json:"data"`
	SendMode sendModeWire         `json:"send_mode"`
}

// Publisher serialises dispatch events and publishes them to a Valkey pub/sub channel, decoupling REST handlers
// (which may be running in any replica of the process) from the Dispatcher actor that owns the live connection
// registry in this specific process.
type Publisher struct {
	rdb *redis.Client
	log zerolog.Logger
}

// NewPublisher creates a new gateway event publisher.
func NewPublisher(rdb *redis.Client, logger zerolog.Logger) *Publisher {
	return &Publisher{rdb: rdb, log: logger}
}

// Publish serialises the event and its addressing mode as JSON and publishes it to the gateway events channel.
func (p *Publisher) Publish(ctx context.Context, eventType events.DispatchEvent, data any, mode SendMode) error {
	raw, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("marshal gateway event data: %w", err)
	}
	payload, err := json.Marshal(envelope{Event: eventType, Data: raw, SendMode: encodeSendMode(mode)})
	if err != nil {
		return fmt.Errorf("marshal gateway envelope: %w", err)
	}
	if err := p.rdb.Publish(ctx, eventsChannel, payload).Err(); err != nil {
		return fmt.Errorf("publish gateway event: %w", err)
	}
	return nil
}

// Subscriber relays events published by Publisher into a Dispatcher's Dispatch calls. It runs as a long-lived
// background task, one per process that hosts a Dispatcher.
type Subscriber struct {
	rdb        *redis.Client
	dispatcher *Dispatcher
	log        zerolog.Logger
}

// NewSubscriber builds a Subscriber that feeds dispatcher from the gateway events channel.
func NewSubscriber(rdb *redis.Client, dispatcher *Dispatcher, logger zerolog.Logger) *Subscriber {
	return &Subscriber{rdb: rdb, dispatcher: dispatcher, log: logger.With().Str("component", "gateway_subscriber").Logger()}
}

// Run subscribes to the gateway events channel and feeds every message to the Dispatcher until ctx is cancelled or
// the subscription fails.
func (s *Subscriber) Run(ctx context.Context) error {
	sub := s.rdb.Subscribe(ctx, eventsChannel)
	defer func() { _ = sub.Close() }()

	s.log.Info().Msg("subscribed to gateway event channel")

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			s.handleMessage(msg.Payload)
		}
	}
}

func (s *Subscriber) handleMessage(payload string) {
	var env envelope
	if err := json.Unmarshal([]byte(payload), &env); err != nil {
		s.log.Warn().Err(err).Msg("invalid gateway event envelope")
		return
	}
	wire, err := events.NewEnvelope(env.Event, env.Data)
	if err != nil {
		s.log.Warn().Err(err).Msg("failed to rebuild envelope")
		return
	}
	s.dispatcher.Dispatch(wire, env.SendMode.decode())
}
