package realtime

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"
)

// RedisTransport delivers events published on redis pub/sub. Each room maps
// to the channel "<kind>:<id>".
type RedisTransport struct {
	Client  *redis.Client
	Log     *log.Logger
	Metrics *Metrics

	// RetryDelay is the pause after a failed receive before the connection
	// is dialled again.
	RetryDelay time.Duration

	rooms roomSet

	mu     sync.Mutex
	pubsub *redis.PubSub
}

func NewRedisTransport(client *redis.Client) *RedisTransport {
	return &RedisTransport{
		Client:     client,
		Log:        log.StandardLogger(),
		RetryDelay: time.Second,
	}
}

// Run subscribes to the joined rooms and delivers events until ctx is
// cancelled. h.Connected is called once the server confirms the
// subscriptions, and again after every reconnection, since events published
// while the connection was down are lost.
func (t *RedisTransport) Run(ctx context.Context, h Handler) error {
	reconnect := false
	for {
		t.mu.Lock()
		ps := t.Client.Subscribe(ctx, channels(t.rooms.list())...)
		t.pubsub = ps
		t.mu.Unlock()

		err := t.receive(ctx, ps, h, &reconnect)

		t.mu.Lock()
		if t.pubsub == ps {
			t.pubsub = nil
		}
		t.mu.Unlock()
		_ = ps.Close()

		if ctx.Err() != nil {
			return nil
		}
		t.Log.WithError(err).Error("pubsub closed, resubscribing")
		if !t.sleep(ctx) {
			return nil
		}
	}
}

// receive reads from ps until it is closed. go-redis drops a broken
// connection and resubscribes on the next Receive; the confirmation that
// follows is reported as a reconnection.
func (t *RedisTransport) receive(ctx context.Context, ps *redis.PubSub, h Handler, reconnect *bool) error {
	stop := context.AfterFunc(ctx, func() { _ = ps.Close() })
	defer stop()

	pending := true
	for {
		msg, err := ps.Receive(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, redis.ErrClosed) {
				return err
			}
			t.Log.WithError(err).Warn("pubsub receive failed")
			pending = true
			if !t.sleep(ctx) {
				return ctx.Err()
			}
			continue
		}
		switch m := msg.(type) {
		case *redis.Subscription:
			if pending && m.Kind == "subscribe" {
				pending = false
				t.Log.WithFields(log.Fields{"channel": m.Channel, "reconnect": *reconnect}).Info("pubsub subscribed")
				t.Metrics.connected("redis", *reconnect)
				h.Connected(ctx, *reconnect)
				*reconnect = true
			}
		case *redis.Message:
			ev, err := decodeEvent([]byte(m.Payload))
			if err != nil {
				t.Log.WithError(err).WithField("channel", m.Channel).Warn("malformed pubsub message")
				continue
			}
			h.HandleEvent(ev)
		}
	}
}

func (t *RedisTransport) sleep(ctx context.Context) bool {
	select {
	case <-ctx.Done():
		return false
	case <-time.After(t.RetryDelay):
		return true
	}
}

// Join subscribes to the room's channel.
func (t *RedisTransport) Join(ctx context.Context, room Room) error {
	if !t.rooms.add(room) {
		return nil
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.pubsub == nil {
		return nil
	}
	return ignoreClosed(t.pubsub.Subscribe(ctx, room.Channel()))
}

// Leave unsubscribes from the room's channel.
func (t *RedisTransport) Leave(ctx context.Context, room Room) error {
	if !t.rooms.remove(room) {
		return nil
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.pubsub == nil {
		return nil
	}
	return ignoreClosed(t.pubsub.Unsubscribe(ctx, room.Channel()))
}

// ignoreClosed drops errors of a pub/sub that Run is about to replace; the
// replacement subscribes to the current room set.
func ignoreClosed(err error) error {
	if errors.Is(err, redis.ErrClosed) {
		return nil
	}
	return err
}

func channels(rooms []Room) []string {
	out := make([]string, len(rooms))
	for i, r := range rooms {
		out[i] = r.Channel()
	}
	return out
}
