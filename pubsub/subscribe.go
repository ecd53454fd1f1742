// Package pubsub implements the Subscribe Client of §4.L and the Publish
// Client of §4.M. The subscribe side owns a dedicated connection outside
// the pipelined request/response model of internal/chanconn, because
// pub/sub frames (message, pmessage) arrive unsolicited and interleaved
// with subscribe/unsubscribe acknowledgements rather than one-reply-per-
// command. Grounded on the teacher's bufio framing and read-loop shape
// (xenking-redis/redis.go), generalized to push dispatch.
package pubsub

import (
	"bufio"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/xenking/goredis/errs"
	"github.com/xenking/goredis/log"
	"github.com/xenking/goredis/resp"
)

// Message is one pushed pub/sub frame. Pattern is set only when the
// subscription that produced it was a PSUBSCRIBE.
type Message struct {
	Channel string
	Pattern string
	Payload []byte
}

// Handler receives pushed messages. It runs on the Subscriber's single
// dispatch goroutine — it must not block or call back into the Subscriber.
type Handler func(Message)

// Config configures a Subscriber.
type Config struct {
	Addr        string
	DialTimeout time.Duration
	Dial        func(addr string, timeout time.Duration) (net.Conn, error)
	PingPeriod  time.Duration // default 30s
	Logger      *zap.Logger
	OnMessage   Handler
}

const (
	ackTimeout  = 5 * time.Second
	pingTimeout = 5 * time.Second
)

type ackWait struct {
	remaining int
	done      chan error
}

// Subscriber is a dedicated pub/sub connection: SUBSCRIBE/PSUBSCRIBE block
// the caller until the server acknowledges every requested channel (or
// ackTimeout elapses), while a single dispatch goroutine demultiplexes
// acks, message/pmessage pushes and heartbeat pongs off the same stream.
type Subscriber struct {
	cfg    Config
	logger *zap.Logger
	conn   net.Conn
	w      *bufio.Writer

	writeMu sync.Mutex

	ackMu    sync.Mutex
	ackQueue []*ackWait

	lastRecv atomic.Int64

	pingMu   sync.Mutex
	pingWait chan struct{} // non-nil while heartbeatLoop awaits a pong

	closeCh   chan struct{}
	closeOnce sync.Once
	closeErr  error
	wg        sync.WaitGroup

	cbMu      sync.Mutex
	callbacks []func(error)
}

// Dial connects and starts the dispatch and heartbeat goroutines. The
// caller must Subscribe/PSubscribe afterward; Dial does not resubscribe
// anything (that is ReconnectingSubscriber's job).
func Dial(cfg Config) (*Subscriber, error) {
	logger := log.OrNop(cfg.Logger)
	dial := cfg.Dial
	if dial == nil {
		dial = func(addr string, timeout time.Duration) (net.Conn, error) {
			return net.DialTimeout("tcp", addr, timeout)
		}
	}
	conn, err := dial(cfg.Addr, dialTimeoutOrDefault(cfg.DialTimeout))
	if err != nil {
		return nil, err
	}
	s := &Subscriber{
		cfg:     cfg,
		logger:  logger,
		conn:    conn,
		w:       bufio.NewWriter(conn),
		closeCh: make(chan struct{}),
	}
	s.lastRecv.Store(time.Now().UnixNano())

	s.wg.Add(2)
	go s.readLoop()
	go s.heartbeatLoop()
	return s, nil
}

func dialTimeoutOrDefault(d time.Duration) time.Duration {
	if d <= 0 {
		return time.Second
	}
	return d
}

func (s *Subscriber) pingPeriod() time.Duration {
	if s.cfg.PingPeriod <= 0 {
		return 30 * time.Second
	}
	return s.cfg.PingPeriod
}

// Subscribe blocks until the server has acknowledged every channel.
func (s *Subscriber) Subscribe(channels ...string) error { return s.subscribeLike("SUBSCRIBE", channels) }

// PSubscribe blocks until the server has acknowledged every pattern.
func (s *Subscriber) PSubscribe(patterns ...string) error {
	return s.subscribeLike("PSUBSCRIBE", patterns)
}

// Unsubscribe blocks until the server has acknowledged every channel.
func (s *Subscriber) Unsubscribe(channels ...string) error {
	return s.subscribeLike("UNSUBSCRIBE", channels)
}

// PUnsubscribe blocks until the server has acknowledged every pattern.
func (s *Subscriber) PUnsubscribe(patterns ...string) error {
	return s.subscribeLike("PUNSUBSCRIBE", patterns)
}

func (s *Subscriber) subscribeLike(kind string, names []string) error {
	if len(names) == 0 {
		return errs.NewIllegalArgument(kind, "at least one channel/pattern is required")
	}

	args := make([][]byte, 0, len(names)+1)
	args = append(args, []byte(kind))
	for _, n := range names {
		args = append(args, []byte(n))
	}

	done := make(chan error, 1)
	s.ackMu.Lock()
	s.ackQueue = append(s.ackQueue, &ackWait{remaining: len(names), done: done})
	s.ackMu.Unlock()

	if err := s.write(resp.EncodeCommand(args...)); err != nil {
		return err
	}

	select {
	case err := <-done:
		return err
	case <-time.After(ackTimeout):
		return errs.NewTimeout(kind)
	case <-s.closeCh:
		return errs.NewIllegalState("subscriber closed")
	}
}

func (s *Subscriber) write(b []byte) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if _, err := s.w.Write(b); err != nil {
		s.closeWith(err)
		return err
	}
	if err := s.w.Flush(); err != nil {
		s.closeWith(err)
		return err
	}
	return nil
}

func (s *Subscriber) readLoop() {
	defer s.wg.Done()
	r := bufio.NewReader(s.conn)
	for {
		v, err := resp.Decode(r)
		if err != nil {
			s.closeWith(err)
			return
		}
		s.lastRecv.Store(time.Now().UnixNano())
		s.dispatch(v)
	}
}

func (s *Subscriber) dispatch(v resp.Value) {
	if v.Kind != resp.Array || len(v.Elems) < 2 {
		return
	}
	switch v.Elems[0].Str() {
	case "subscribe", "psubscribe", "unsubscribe", "punsubscribe":
		s.ackOne()
	case "message":
		if s.cfg.OnMessage != nil && len(v.Elems) >= 3 {
			s.cfg.OnMessage(Message{Channel: v.Elems[1].Str(), Payload: v.Elems[2].Bytes})
		}
	case "pmessage":
		if s.cfg.OnMessage != nil && len(v.Elems) >= 4 {
			s.cfg.OnMessage(Message{Pattern: v.Elems[1].Str(), Channel: v.Elems[2].Str(), Payload: v.Elems[3].Bytes})
		}
	case "pong":
		s.pingMu.Lock()
		if s.pingWait != nil {
			select {
			case s.pingWait <- struct{}{}:
			default:
			}
			s.pingWait = nil
		}
		s.pingMu.Unlock()
	}
}

func (s *Subscriber) ackOne() {
	s.ackMu.Lock()
	defer s.ackMu.Unlock()
	if len(s.ackQueue) == 0 {
		return
	}
	w := s.ackQueue[0]
	w.remaining--
	if w.remaining <= 0 {
		s.ackQueue = s.ackQueue[1:]
		select {
		case w.done <- nil:
		default:
		}
	}
}

// heartbeatLoop sends a PING once the connection has been idle past
// pingPeriod and requires a pong within pingTimeout, mirroring
// internal/chanconn/channel.go's heartbeatLoop — a missed pong means the
// connection is dead and must be torn down so ReconnectingSubscriber can
// rebuild it, not silently retried forever.
func (s *Subscriber) heartbeatLoop() {
	defer s.wg.Done()
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-s.closeCh:
			return
		case now := <-ticker.C:
			stale := now.UnixNano() - s.lastRecv.Load()
			if time.Duration(stale) <= s.pingPeriod() {
				continue
			}

			wait := make(chan struct{}, 1)
			s.pingMu.Lock()
			s.pingWait = wait
			s.pingMu.Unlock()

			if err := s.write(resp.EncodeCommand([]byte("PING"))); err != nil {
				return
			}

			select {
			case <-wait:
			case <-time.After(pingTimeout):
				s.closeWith(errs.NewTimeout("PING"))
				return
			case <-s.closeCh:
				return
			}
		}
	}
}

// OnUnavailable registers cb to run exactly once when the subscriber's
// connection fails or Close is called.
func (s *Subscriber) OnUnavailable(cb func(error)) {
	s.cbMu.Lock()
	defer s.cbMu.Unlock()
	s.callbacks = append(s.callbacks, cb)
}

// Close tears the connection down, failing every pending ack wait.
func (s *Subscriber) Close() error {
	s.closeWith(errs.NewIllegalState("subscriber closed"))
	return s.closeErr
}

// closeWith never blocks its caller — readLoop and heartbeatLoop both call
// it from inside the very goroutines wg tracks, so the wg.Wait() below
// that drains them runs on its own goroutine instead of the caller's.
func (s *Subscriber) closeWith(reason error) {
	s.closeOnce.Do(func() {
		s.closeErr = reason
		close(s.closeCh)
		s.conn.Close()

		go func() {
			s.wg.Wait()

			s.ackMu.Lock()
			for _, w := range s.ackQueue {
				select {
				case w.done <- reason:
				default:
				}
			}
			s.ackQueue = nil
			s.ackMu.Unlock()

			s.cbMu.Lock()
			cbs := s.callbacks
			s.cbMu.Unlock()
			for _, cb := range cbs {
				cb(reason)
			}
		}()
	})
}
