package router

import (
	"math/rand"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/xenking/goredis/clientlist"
)

// reloadMinDelay and reloadMinDelay+reloadJitter bound the jittered wait before the first
// reload attempt after a MOVED signals real topology change, so a burst of
// MOVED replies during a single resharding event triggers one reload, not
// a storm of them.
const (
	reloadMinDelay = 2 * time.Second
	reloadJitter   = 3 * time.Second
	reloadRetry    = 1 * time.Second
	closeGrace     = 3 * time.Second
)

// Manager owns the currently active Router, swapping it for a freshly
// bootstrapped one when MOVED activity suggests the topology moved on, and
// closing the superseded Router only after a grace period so in-flight
// requests that captured a reference to it can still finish. Per §9 Design
// Notes, ASK redirects never update the override map or trigger a reload —
// only MOVED does.
type Manager struct {
	seeds         []string
	dial          clientlist.Dialer
	logger        *zap.Logger
	closeTimeout  time.Duration

	current  atomic.Pointer[Router]
	reloading int32
}

// NewManager bootstraps the initial Router and returns a Manager over it.
func NewManager(seeds []string, dial clientlist.Dialer, logger *zap.Logger, closeTimeout time.Duration) (*Manager, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	r, err := Build(seeds, dial, logger)
	if err != nil {
		return nil, err
	}
	m := &Manager{seeds: seeds, dial: dial, logger: logger, closeTimeout: closeTimeout}
	m.current.Store(r)
	return m, nil
}

// Current returns the active Router.
func (m *Manager) Current() *Router { return m.current.Load() }

// NotifyMoved records the redirect on the active router and kicks off a
// background reload if one is not already in flight.
func (m *Manager) NotifyMoved(slot int, host string) {
	m.Current().RegisterMoved(slot, host)
	m.triggerReload()
}

func (m *Manager) triggerReload() {
	if !atomic.CompareAndSwapInt32(&m.reloading, 0, 1) {
		return
	}
	go m.reloadLoop()
}

func (m *Manager) reloadLoop() {
	defer atomic.StoreInt32(&m.reloading, 0)

	time.Sleep(reloadMinDelay + time.Duration(rand.Int63n(int64(reloadJitter))))
	for {
		r, err := Build(m.seeds, m.dial, m.logger)
		if err != nil {
			m.logger.Warn("cluster reload failed, retrying", zap.Error(err))
			time.Sleep(reloadRetry)
			continue
		}
		old := m.current.Swap(r)
		grace := closeGrace + m.closeTimeout
		time.AfterFunc(grace, old.Close)
		return
	}
}

// Close tears down the active router immediately, without a grace period.
func (m *Manager) Close() { m.Current().Close() }
