// Package chanconn implements the socket channel of §4.B: one TCP
// connection multiplexing many concurrent request/response pairs behind a
// single writer goroutine and a single reader goroutine, with heartbeat,
// timeout, and unavailability notification.
//
// The teacher (xenking-redis) hands a "virtual read lock" between waiting
// goroutines instead of running a persistent reader loop. The specification's
// design notes ask for the more conventional shape instead — one writer
// task, one reader task, a bounded outbound queue and a FIFO of response
// slots the reader fulfills in order — so that is what this package builds,
// keeping the teacher's naming and error vocabulary (ServerError,
// normalizeAddr-style address handling) where it still fits.
package chanconn

import (
	"bufio"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/xenking/goredis/errs"
	"github.com/xenking/goredis/resp"
)

// Status is the channel's lifecycle state.
type Status int32

const (
	StatusUninitialized Status = iota
	StatusNormal
	StatusClosed
)

const (
	defaultOutboxSize = 128
	pingTimeout       = 5 * time.Second
)

// Config configures a Channel.
type Config struct {
	Addr string

	// DialTimeout bounds the initial TCP handshake. Zero defaults to one
	// second, matching the teacher's NewClient default.
	DialTimeout time.Duration

	// OutboxSize bounds the number of commands that may be in flight
	// (written but not yet responded to) at once. Zero defaults to 128.
	OutboxSize int

	// PingPeriod, when positive, enables the heartbeat: if no byte has
	// been received for longer than PingPeriod, the channel sends PING
	// and expects PONG within a 5s internal budget.
	PingPeriod time.Duration

	// Dial overrides the network dialer, e.g. for TLS or tests
	// (resptest uses this to hand the client end of a net.Pipe).
	Dial func(addr string, timeout time.Duration) (net.Conn, error)

	Logger *zap.Logger
}

// Channel is a duplex, pipelined connection to one Redis node.
type Channel struct {
	addr   string
	dial   func(addr string, timeout time.Duration) (net.Conn, error)
	dialTO time.Duration
	logger *zap.Logger

	pingPeriod time.Duration
	lastRecv   int64 // unix nanos, atomic

	status int32 // atomic Status

	conn    net.Conn
	outbox  chan *resp.Command
	pending chan *resp.Command
	stopCh  chan struct{}
	wg      sync.WaitGroup

	closeOnce sync.Once
	closeErr  error

	cbMu      sync.Mutex
	callbacks []func(error)
}

// New builds an unconnected Channel. Call Init to dial and start the
// reader/writer loops.
func New(cfg Config) *Channel {
	outboxSize := cfg.OutboxSize
	if outboxSize <= 0 {
		outboxSize = defaultOutboxSize
	}
	dialTO := cfg.DialTimeout
	if dialTO <= 0 {
		dialTO = time.Second
	}
	dial := cfg.Dial
	if dial == nil {
		dial = func(addr string, timeout time.Duration) (net.Conn, error) {
			return net.DialTimeout("tcp", addr, timeout)
		}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Channel{
		addr:       cfg.Addr,
		dial:       dial,
		dialTO:     dialTO,
		logger:     logger,
		pingPeriod: cfg.PingPeriod,
		outbox:     make(chan *resp.Command, outboxSize),
		pending:    make(chan *resp.Command, outboxSize),
		stopCh:     make(chan struct{}),
	}
}

// Addr returns the normalized address this channel connects to.
func (c *Channel) Addr() string { return c.addr }

// Status reports the current lifecycle state.
func (c *Channel) Status() Status { return Status(atomic.LoadInt32(&c.status)) }

// Init dials the connection and starts the writer and reader loops.
func (c *Channel) Init() error {
	conn, err := c.dial(c.addr, c.dialTO)
	if err != nil {
		return errs.UnexpectedError(err)
	}
	c.conn = conn
	atomic.StoreInt64(&c.lastRecv, time.Now().UnixNano())
	atomic.StoreInt32(&c.status, int32(StatusNormal))

	c.wg.Add(2)
	go c.writeLoop()
	go c.readLoop()
	if c.pingPeriod > 0 {
		c.wg.Add(1)
		go c.heartbeatLoop()
	}
	return nil
}

// OnUnavailable registers cb to run exactly once when the channel
// transitions to closed, whether from an I/O failure, a heartbeat miss, or
// an explicit Close.
func (c *Channel) OnUnavailable(cb func(error)) {
	c.cbMu.Lock()
	defer c.cbMu.Unlock()
	c.callbacks = append(c.callbacks, cb)
}

// Send enqueues cmd and blocks until its response arrives, the timeout
// elapses, or the channel closes.
func (c *Channel) Send(cmd *resp.Command, timeout time.Duration) (resp.Value, error) {
	if Status(atomic.LoadInt32(&c.status)) != StatusNormal {
		return resp.Value{}, errs.NewIllegalState("channel not connected")
	}

	select {
	case c.outbox <- cmd:
	case <-c.stopCh:
		return resp.Value{}, errs.NewIllegalState("channel closed")
	default:
		return resp.Value{}, errs.NewIllegalState("write queue full")
	}

	return c.await(cmd, timeout)
}

// AsyncHandle is a one-shot future for a command submitted via AsyncSend.
type AsyncHandle struct {
	ch  *Channel
	cmd *resp.Command
}

// AsyncSend enqueues cmd and returns immediately with a handle to await the
// result later.
func (c *Channel) AsyncSend(cmd *resp.Command) (*AsyncHandle, error) {
	if Status(atomic.LoadInt32(&c.status)) != StatusNormal {
		return nil, errs.NewIllegalState("channel not connected")
	}
	select {
	case c.outbox <- cmd:
	case <-c.stopCh:
		return nil, errs.NewIllegalState("channel closed")
	default:
		return nil, errs.NewIllegalState("write queue full")
	}
	return &AsyncHandle{ch: c, cmd: cmd}, nil
}

// Get blocks once for the handle's result.
func (h *AsyncHandle) Get(timeout time.Duration) (resp.Value, error) {
	return h.ch.await(h.cmd, timeout)
}

func (c *Channel) await(cmd *resp.Command, timeout time.Duration) (resp.Value, error) {
	if timeout <= 0 {
		res := <-cmd.Done()
		return res.Value, res.Err
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case res := <-cmd.Done():
		return res.Value, res.Err
	case <-timer.C:
		// The command stays in the pending queue; when its response
		// eventually arrives the reader fulfills an already-closed
		// slot, which is a harmless no-op (resp.Command.Fulfill).
		return resp.Value{}, errs.NewTimeout(cmd.Name)
	}
}

// Close tears the channel down idempotently, failing every pending command
// with IllegalState.
func (c *Channel) Close() error {
	c.closeWith(errs.NewIllegalState("closed by caller"))
	return nil
}

func (c *Channel) closeWith(reason error) {
	c.closeOnce.Do(func() {
		atomic.StoreInt32(&c.status, int32(StatusClosed))
		c.closeErr = reason
		close(c.stopCh)
		if c.conn != nil {
			c.conn.Close()
		}
		c.wg.Wait()

		c.drain(c.outbox, reason)
		c.drain(c.pending, reason)

		c.cbMu.Lock()
		cbs := c.callbacks
		c.cbMu.Unlock()
		for _, cb := range cbs {
			cb(reason)
		}
	})
}

func (c *Channel) drain(q chan *resp.Command, reason error) {
	for {
		select {
		case cmd := <-q:
			cmd.Fulfill(resp.Value{}, errs.NewIllegalState(reason.Error()))
		default:
			return
		}
	}
}

func (c *Channel) writeLoop() {
	defer c.wg.Done()
	w := bufio.NewWriterSize(c.conn, 4096)
	for {
		select {
		case cmd := <-c.outbox:
			if _, err := w.Write(cmd.Wire()); err != nil {
				cmd.Fulfill(resp.Value{}, errs.UnexpectedError(err))
				go c.closeWith(errs.UnexpectedError(err))
				return
			}
			// Push onto the pending FIFO before flushing: the reader
			// cannot observe a reply before the bytes are on the wire,
			// and only this goroutine ever writes, so request order and
			// pending order match by construction. When pending is full of
			// commands still awaiting replies, wait for the reader to free
			// a slot rather than drop a command already buffered for write.
			select {
			case c.pending <- cmd:
			case <-c.stopCh:
				cmd.Fulfill(resp.Value{}, errs.NewIllegalState("channel closed"))
				return
			}
			if err := w.Flush(); err != nil {
				go c.closeWith(errs.UnexpectedError(err))
				return
			}
		case <-c.stopCh:
			return
		}
	}
}

func (c *Channel) readLoop() {
	defer c.wg.Done()
	r := bufio.NewReader(c.conn)
	for {
		v, err := resp.Decode(r)
		if err != nil {
			go c.closeWith(errs.UnexpectedError(err))
			return
		}
		atomic.StoreInt64(&c.lastRecv, time.Now().UnixNano())

		select {
		case cmd := <-c.pending:
			cmd.Fulfill(v, nil)
		case <-c.stopCh:
			return
		}
	}
}

func (c *Channel) heartbeatLoop() {
	defer c.wg.Done()
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-c.stopCh:
			return
		case <-ticker.C:
			last := time.Unix(0, atomic.LoadInt64(&c.lastRecv))
			if time.Since(last) <= c.pingPeriod {
				continue
			}
			ping := resp.NewCommand([]byte("PING"))
			_, err := c.Send(ping, pingTimeout)
			if err != nil {
				c.logger.Warn("redis heartbeat missed", zap.String("addr", c.addr), zap.Error(err))
				go c.closeWith(errs.NewIllegalState("no response for ping"))
				return
			}
		}
	}
}
