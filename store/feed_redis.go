package store

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/redis/go-redis/v9"
)

const feedChannelPrefix = "zombiequiz:changes:"

// RedisFeed carries change events over redis Pub/Sub so the host process
// and any other observer see the same per-record ordering redis delivers.
// A dropped connection triggers automatic resubscription; events published
// while disconnected are lost, which degrades observers to stale state
// until the next event arrives (never a crash).
type RedisFeed struct {
	client *redis.Client
}

func NewRedisFeed(client *redis.Client) *RedisFeed {
	return &RedisFeed{client: client}
}

func feedChannel(sessionID uint) string {
	return fmt.Sprintf("%s%d", feedChannelPrefix, sessionID)
}

func (f *RedisFeed) Publish(ctx context.Context, ev ChangeEvent) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("failed to marshal change event: %w", err)
	}
	return f.client.Publish(ctx, feedChannel(ev.SessionID), data).Err()
}

type redisSub struct {
	cancel context.CancelFunc
	ch     chan ChangeEvent
}

func (s *redisSub) Events() <-chan ChangeEvent { return s.ch }
func (s *redisSub) Close()                     { s.cancel() }

func (f *RedisFeed) Subscribe(ctx context.Context, filter Filter) (Subscription, error) {
	subCtx, cancel := context.WithCancel(ctx)
	out := &redisSub{
		cancel: cancel,
		ch:     make(chan ChangeEvent, 256),
	}

	channel := feedChannelPrefix + "*"
	if filter.SessionID != 0 {
		channel = feedChannel(filter.SessionID)
	}

	go func() {
		defer close(out.ch)
		for {
			if err := f.pump(subCtx, channel, filter, out.ch); err != nil {
				if subCtx.Err() != nil {
					return
				}
				log.Printf("Change feed disconnected (%v), resubscribing", err)
				select {
				case <-subCtx.Done():
					return
				case <-time.After(time.Second):
				}
				continue
			}
			return
		}
	}()
	return out, nil
}

// pump relays messages from one pubsub connection until it fails or the
// subscription context ends.
func (f *RedisFeed) pump(ctx context.Context, channel string, filter Filter, out chan<- ChangeEvent) error {
	var pubsub *redis.PubSub
	if channel == feedChannelPrefix+"*" {
		pubsub = f.client.PSubscribe(ctx, channel)
	} else {
		pubsub = f.client.Subscribe(ctx, channel)
	}
	defer pubsub.Close()

	if _, err := pubsub.Receive(ctx); err != nil {
		return err
	}

	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return fmt.Errorf("pubsub channel closed")
			}
			var ev ChangeEvent
			if err := json.Unmarshal([]byte(msg.Payload), &ev); err != nil {
				log.Printf("Failed to unmarshal change event: %v", err)
				continue
			}
			if !filter.Matches(ev) {
				continue
			}
			select {
			case out <- ev:
			case <-ctx.Done():
				return nil
			}
		}
	}
}

var _ ChangeFeed = (*RedisFeed)(nil)
