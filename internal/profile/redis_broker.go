package profile

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"tapit-auth/internal/logger"

	"github.com/redis/go-redis/v9"
)

const subscribeTimeout = 2 * time.Second

// RedisBroker publishes field events on one channel per identity,
// "profile:<identity id>", so every server instance sees every write.
// Local subscribers of the same identity share one Redis subscription;
// events are decoded once and fanned out in process.
type RedisBroker struct {
	client *redis.Client
	prefix string

	mu    sync.Mutex
	next  int
	chans map[string]*channelSub
}

// channelSub is the shared subscription to one identity channel. ready
// is closed once Redis confirmed it or err is set.
type channelSub struct {
	ps    *redis.PubSub
	ready chan struct{}
	err   error
	done  chan struct{}
	subs  map[int]fieldSub
}

type fieldSub struct {
	field string
	sub   *subscription
}

func NewRedisBroker(client *redis.Client) *RedisBroker {
	return &RedisBroker{
		client: client,
		prefix: "profile:",
		chans:  make(map[string]*channelSub),
	}
}

func (b *RedisBroker) channel(identityID string) string {
	return b.prefix + identityID
}

func (b *RedisBroker) Publish(ctx context.Context, ev FieldEvent) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("profile: marshal field event: %w", err)
	}
	return b.client.Publish(ctx, b.channel(ev.IdentityID), payload).Err()
}

// Subscribe waits for Redis to confirm the channel subscription before
// returning.
func (b *RedisBroker) Subscribe(identityID, field string, fn func(FieldEvent)) (func(), error) {
	ch := b.channel(identityID)
	s := &subscription{fn: fn}

	b.mu.Lock()
	cs, ok := b.chans[ch]
	if !ok {
		cs = &channelSub{
			ready: make(chan struct{}),
			done:  make(chan struct{}),
			subs:  make(map[int]fieldSub),
		}
		b.chans[ch] = cs
		go b.run(ch, cs)
	}
	b.next++
	n := b.next
	cs.subs[n] = fieldSub{field: field, sub: s}
	b.mu.Unlock()

	<-cs.ready
	if cs.err != nil {
		b.remove(ch, cs, n)
		return nil, fmt.Errorf("profile: subscribe %s: %w", identityID, cs.err)
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			s.close()
			b.remove(ch, cs, n)
		})
	}, nil
}

// Subscriptions is the number of identity channels with a live Redis
// subscription on this instance.
func (b *RedisBroker) Subscriptions() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.chans)
}

func (b *RedisBroker) remove(ch string, cs *channelSub, n int) {
	b.mu.Lock()
	delete(cs.subs, n)
	last := len(cs.subs) == 0 && b.chans[ch] == cs
	if last {
		delete(b.chans, ch)
	}
	b.mu.Unlock()

	if last {
		_ = cs.ps.Close()
		<-cs.done
	}
}

func (b *RedisBroker) run(ch string, cs *channelSub) {
	defer close(cs.done)

	ctx, cancel := context.WithTimeout(context.Background(), subscribeTimeout)
	ps := b.client.Subscribe(ctx, ch)
	_, err := ps.Receive(ctx)
	cancel()
	if err != nil {
		_ = ps.Close()
		b.mu.Lock()
		if b.chans[ch] == cs {
			delete(b.chans, ch)
		}
		b.mu.Unlock()
		cs.err = err
		close(cs.ready)
		return
	}
	cs.ps = ps
	close(cs.ready)

	for msg := range ps.Channel() {
		var ev FieldEvent
		if err := json.Unmarshal([]byte(msg.Payload), &ev); err != nil {
			logger.Warn("field event decode failed", map[string]any{
				"channel": msg.Channel,
				"error":   err,
			})
			continue
		}
		b.dispatch(cs, ev)
	}
}

func (b *RedisBroker) dispatch(cs *channelSub, ev FieldEvent) {
	b.mu.Lock()
	targets := make([]*subscription, 0, len(cs.subs))
	for _, fs := range cs.subs {
		if fs.field == ev.Field {
			targets = append(targets, fs.sub)
		}
	}
	b.mu.Unlock()

	for _, s := range targets {
		s.deliver(ev)
	}
}
