package pubsub

import (
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/xenking/goredis/log"
)

// reconnectDelay is the fixed backoff between reconnect attempts. The
// subscribe path favors a small constant delay over exponential backoff
// because a dropped pub/sub connection loses live traffic every second it
// stays down.
const reconnectDelay = 500 * time.Millisecond

// subscription records one SUBSCRIBE/PSUBSCRIBE call so ReconnectingSubscriber
// can replay it against a freshly dialed connection.
type subscription struct {
	pattern bool
	names   []string
}

// ReconnectingSubscriber wraps a Subscriber, transparently rebuilding the
// whole connection and replaying every Subscribe/PSubscribe call made so
// far whenever the underlying connection drops.
type ReconnectingSubscriber struct {
	cfg    Config
	logger *zap.Logger

	mu     sync.Mutex
	active *Subscriber
	subs   []subscription
	closed bool
}

// Connect dials the initial Subscriber and arms the reconnect watch.
func Connect(cfg Config) (*ReconnectingSubscriber, error) {
	r := &ReconnectingSubscriber{cfg: cfg, logger: log.OrNop(cfg.Logger)}
	s, err := Dial(cfg)
	if err != nil {
		return nil, err
	}
	r.active = s
	s.OnUnavailable(r.onDrop)
	return r, nil
}

func (r *ReconnectingSubscriber) onDrop(err error) {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	subs := append([]subscription(nil), r.subs...)
	r.mu.Unlock()

	go r.reconnectLoop(subs)
}

func (r *ReconnectingSubscriber) reconnectLoop(subs []subscription) {
	for {
		r.mu.Lock()
		closed := r.closed
		r.mu.Unlock()
		if closed {
			return
		}

		s, err := Dial(r.cfg)
		if err != nil {
			r.logger.Warn("pubsub reconnect failed", zap.Error(err))
			time.Sleep(reconnectDelay)
			continue
		}
		if !replay(s, subs) {
			s.Close()
			time.Sleep(reconnectDelay)
			continue
		}

		r.mu.Lock()
		r.active = s
		r.mu.Unlock()
		s.OnUnavailable(r.onDrop)
		return
	}
}

func replay(s *Subscriber, subs []subscription) bool {
	for _, sub := range subs {
		var err error
		if sub.pattern {
			err = s.PSubscribe(sub.names...)
		} else {
			err = s.Subscribe(sub.names...)
		}
		if err != nil {
			return false
		}
	}
	return true
}

// Subscribe blocks until the active connection has acknowledged every
// channel, and remembers the subscription so a future reconnect replays it.
func (r *ReconnectingSubscriber) Subscribe(channels ...string) error {
	return r.do(subscription{names: channels}, func(s *Subscriber) error { return s.Subscribe(channels...) })
}

// PSubscribe is Subscribe's pattern-matching counterpart.
func (r *ReconnectingSubscriber) PSubscribe(patterns ...string) error {
	return r.do(subscription{pattern: true, names: patterns}, func(s *Subscriber) error { return s.PSubscribe(patterns...) })
}

func (r *ReconnectingSubscriber) do(sub subscription, call func(*Subscriber) error) error {
	r.mu.Lock()
	s := r.active
	r.mu.Unlock()

	if err := call(s); err != nil {
		return err
	}
	r.mu.Lock()
	r.subs = append(r.subs, sub)
	r.mu.Unlock()
	return nil
}

// Close permanently shuts down the active connection and stops reconnecting.
func (r *ReconnectingSubscriber) Close() error {
	r.mu.Lock()
	r.closed = true
	s := r.active
	r.mu.Unlock()
	return s.Close()
}
