package hub

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/hashicorp/go-hclog"
	"github.com/redis/go-redis/v9"
)

const channelPrefix = "dxpchat:"

type envelope struct {
	Origin string `json:"origin"`
	Group  string `json:"group"`
	Event  *Event `json:"event"`
}

// RedisRelay extends a local Hub across processes. Broadcasts are delivered
// locally right away and published to Redis; events published by other
// instances are fed into the local Hub by Run.
type RedisRelay struct {
	local    *Hub
	client   *redis.Client
	instance string
	log      hclog.Logger
}

func NewRedisRelay(local *Hub, client *redis.Client, logger hclog.Logger) *RedisRelay {
	return &RedisRelay{
		local:    local,
		client:   client,
		instance: uuid.NewString(),
		log:      logger,
	}
}

func (r *RedisRelay) Join(g Group, s Subscriber) {
	r.local.Join(g, s)
}

func (r *RedisRelay) Leave(g Group, s Subscriber) {
	r.local.Leave(g, s)
}

func (r *RedisRelay) Broadcast(ctx context.Context, g Group, ev *Event, skip Subscriber) int {
	delivered := r.local.Broadcast(ctx, g, ev, skip)

	payload, err := encodeEnvelope(r.instance, g, ev)
	if err != nil {
		r.log.Error("encode relay envelope", "group", g, "error", err)
		return delivered
	}

	if err := r.client.Publish(ctx, channelPrefix+g.String(), payload).Err(); err != nil {
		r.log.Warn("publish to relay failed", "group", g, "error", err)
	}

	return delivered
}

// Run relays events from other instances until ctx is done.
func (r *RedisRelay) Run(ctx context.Context) error {
	ps := r.client.PSubscribe(ctx, channelPrefix+"*")
	defer ps.Close()

	if _, err := ps.Receive(ctx); err != nil {
		return fmt.Errorf("subscribe relay: %w", err)
	}
	r.log.Info("relay subscribed", "instance", r.instance)

	ch := ps.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			r.handle(ctx, msg.Payload)
		}
	}
}

func (r *RedisRelay) handle(ctx context.Context, payload string) {
	env, err := decodeEnvelope(payload)
	if err != nil {
		r.log.Warn("dropping malformed relay message", "error", err)
		return
	}

	// our own broadcasts were already delivered locally
	if env.Origin == r.instance {
		return
	}

	g, err := ParseGroup(env.Group)
	if err != nil {
		r.log.Warn("dropping relay message", "error", err)
		return
	}

	r.local.Broadcast(ctx, g, env.Event, nil)
}

func encodeEnvelope(origin string, g Group, ev *Event) (string, error) {
	b, err := json.Marshal(envelope{Origin: origin, Group: g.String(), Event: ev})
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func decodeEnvelope(payload string) (envelope, error) {
	var env envelope
	if err := json.NewDecoder(strings.NewReader(payload)).Decode(&env); err != nil {
		return envelope{}, err
	}
	if env.Event == nil {
		return envelope{}, fmt.Errorf("envelope without event")
	}
	return env, nil
}
