// Package clientlist implements §4.E: an ordered list of direct clients
// over a fixed host array, with a background rescue task that repairs
// slots whose connection dropped. Grounded on kevwan-radix.v2/pool/pool.go's
// channel-of-connections-plus-periodic-refill pattern, generalized from a
// single host to N independently indexed hosts.
package clientlist

import (
	"math/rand"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/xenking/goredis/client"
)

const rescueInterval = 500 * time.Millisecond

// Dialer builds a DirectClient for one host. Callers supply this so the
// list stays agnostic of client.Config specifics (password, TLS, codec...).
type Dialer func(host string) (*client.DirectClient, error)

// List holds one DirectClient slot per configured host; a slot is nil when
// that host is currently unreachable. List length always equals the
// configured host count.
type List struct {
	dial  Dialer
	hosts []string
	logger *zap.Logger

	mu      sync.RWMutex
	clients []*client.DirectClient

	rescueMu      sync.Mutex
	rescueRunning bool
}

// New builds a List over hosts, dialing each once. A host that fails to
// dial starts out nil and is picked up by the rescue task.
func New(hosts []string, dial Dialer, logger *zap.Logger) *List {
	if logger == nil {
		logger = zap.NewNop()
	}
	l := &List{
		dial:    dial,
		hosts:   append([]string(nil), hosts...),
		logger:  logger,
		clients: make([]*client.DirectClient, len(hosts)),
	}
	for i, h := range hosts {
		c, err := dial(h)
		if err != nil {
			l.logger.Warn("initial dial failed", zap.String("host", h), zap.Error(err))
			continue
		}
		l.clients[i] = c
		l.watchSlot(i, c)
	}
	l.maybeStartRescue()
	return l
}

// Len returns the configured host count.
func (l *List) Len() int { return len(l.hosts) }

// Host returns the configured address for slot i.
func (l *List) Host(i int) string { return l.hosts[i] }

// Get returns the live client at index i, or nil if that slot is down.
func (l *List) Get(i int) *client.DirectClient {
	l.mu.RLock()
	defer l.mu.RUnlock()
	c := l.clients[i]
	if c == nil || !c.Available() {
		return nil
	}
	return c
}

// GetAvailable returns a random live client, excluding the given indices.
// It returns nil if every slot is down or excluded.
func (l *List) GetAvailable(exclude ...int) *client.DirectClient {
	excluded := make(map[int]bool, len(exclude))
	for _, i := range exclude {
		excluded[i] = true
	}

	l.mu.RLock()
	candidates := make([]*client.DirectClient, 0, len(l.clients))
	for i, c := range l.clients {
		if excluded[i] || c == nil || !c.Available() {
			continue
		}
		candidates = append(candidates, c)
	}
	l.mu.RUnlock()

	if len(candidates) == 0 {
		return nil
	}
	return candidates[rand.Intn(len(candidates))]
}

// Close shuts down every live client.
func (l *List) Close() {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, c := range l.clients {
		if c != nil {
			c.Close()
		}
	}
}

func (l *List) watchSlot(i int, c *client.DirectClient) {
	c.OnUnavailable(func(error) {
		l.mu.Lock()
		if l.clients[i] == c {
			l.clients[i] = nil
		}
		l.mu.Unlock()
		l.maybeStartRescue()
	})
}

// maybeStartRescue starts the background reconnect loop if it is not
// already running. Idempotent and self-exiting: any number of concurrent
// callers (New, and the unavailable callback of each client) start at most
// one task, and the task exits once every slot is filled.
func (l *List) maybeStartRescue() {
	l.rescueMu.Lock()
	if l.rescueRunning {
		l.rescueMu.Unlock()
		return
	}
	if !l.hasDeadSlot() {
		l.rescueMu.Unlock()
		return
	}
	l.rescueRunning = true
	l.rescueMu.Unlock()

	go l.rescueLoop()
}

func (l *List) hasDeadSlot() bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	for _, c := range l.clients {
		if c == nil {
			return true
		}
	}
	return false
}

func (l *List) rescueLoop() {
	defer func() {
		l.rescueMu.Lock()
		l.rescueRunning = false
		l.rescueMu.Unlock()
	}()

	ticker := time.NewTicker(rescueInterval)
	defer ticker.Stop()
	for range ticker.C {
		if !l.tryReconnectDeadSlots() {
			return
		}
	}
}

// tryReconnectDeadSlots attempts one reconnect pass, returning whether any
// slot is still dead (so the caller keeps ticking).
func (l *List) tryReconnectDeadSlots() bool {
	l.mu.RLock()
	dead := make([]int, 0)
	for i, c := range l.clients {
		if c == nil {
			dead = append(dead, i)
		}
	}
	l.mu.RUnlock()

	if len(dead) == 0 {
		return false
	}

	for _, i := range dead {
		c, err := l.dial(l.hosts[i])
		if err != nil {
			l.logger.Debug("rescue reconnect failed", zap.String("host", l.hosts[i]), zap.Error(err))
			continue
		}
		l.mu.Lock()
		l.clients[i] = c
		l.mu.Unlock()
		l.watchSlot(i, c)
	}
	return l.hasDeadSlot()
}
