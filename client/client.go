// Package client implements the Direct Client of §4.D: the command
// surface bound to a single chanconn.Channel, plus the AUTH/SELECT
// handshake and value codec selection.
package client

import (
	"crypto/tls"
	"net"
	"time"

	"go.uber.org/zap"

	"github.com/xenking/goredis/codec"
	"github.com/xenking/goredis/errs"
	"github.com/xenking/goredis/exec"
	"github.com/xenking/goredis/internal/chanconn"
	"github.com/xenking/goredis/metrics"
	"github.com/xenking/goredis/resp"
)

// Config configures a DirectClient. Zero values pick the same defaults the
// teacher's NewClient applies (one second connect timeout, etc.).
type Config struct {
	Addr string

	DialTimeout    time.Duration
	CommandTimeout time.Duration
	PingPeriod     time.Duration
	OutboxSize     int

	// Password/DB apply AUTH/SELECT immediately after connect, before any
	// user command is admitted. Both are optional (§1: permitted, not
	// required).
	Password string
	DB       int64

	// TLS, when set, dials with tls.DialWithDialer instead of a plain
	// net.Dial. TLS is permitted but never required by the core.
	TLS *tls.Config

	// Dial overrides the dialer entirely, taking precedence over TLS.
	// Production callers leave this nil; tests use it to route through an
	// in-process resptest.Server.
	Dial func(addr string, timeout time.Duration) (net.Conn, error)

	// CompressionThreshold configures the object codec; RawCodec, if
	// true, selects the interoperable raw string codec instead.
	CompressionThreshold int
	RawCodec              bool

	SlowThreshold time.Duration
	Metrics       *metrics.Registry
	Logger        *zap.Logger
}

// DirectClient binds the command surface to one channel.
type DirectClient struct {
	cfg     Config
	channel *chanconn.Channel
	wrapper *exec.Wrapper
	codec   codec.Codec
	logger  *zap.Logger
}

// New dials addr and performs the optional AUTH/SELECT handshake.
func New(cfg Config) (*DirectClient, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	dial := cfg.Dial
	if dial == nil {
		dial = dialFunc(cfg.TLS)
	}
	ch := chanconn.New(chanconn.Config{
		Addr:        cfg.Addr,
		DialTimeout: cfg.DialTimeout,
		OutboxSize:  cfg.OutboxSize,
		PingPeriod:  cfg.PingPeriod,
		Dial:        dial,
		Logger:      logger,
	})
	if err := ch.Init(); err != nil {
		return nil, err
	}

	c := &DirectClient{
		cfg:     cfg,
		channel: ch,
		wrapper: exec.New(cfg.Addr, cfg.Metrics, logger, cfg.SlowThreshold),
		codec:   selectCodec(cfg),
		logger:  logger,
	}

	if err := c.handshake(); err != nil {
		ch.Close()
		return nil, err
	}
	return c, nil
}

func selectCodec(cfg Config) codec.Codec {
	if cfg.RawCodec {
		return codec.RawString{}
	}
	return codec.NewObject(cfg.CompressionThreshold)
}

func dialFunc(tlsCfg *tls.Config) func(addr string, timeout time.Duration) (net.Conn, error) {
	if tlsCfg == nil {
		return nil // chanconn.New installs the plain net.DialTimeout default
	}
	return func(addr string, timeout time.Duration) (net.Conn, error) {
		dialer := &net.Dialer{Timeout: timeout}
		return tls.DialWithDialer(dialer, "tcp", addr, tlsCfg)
	}
}

func (c *DirectClient) handshake() error {
	if c.cfg.Password != "" {
		cmd := resp.NewCommand([]byte("AUTH"), []byte(c.cfg.Password))
		v, err := c.channel.Send(cmd, c.timeout())
		if err != nil {
			return err
		}
		if v.Kind == resp.Error {
			return errs.NewServerError(v.Str())
		}
	}
	if c.cfg.DB != 0 {
		cmd := resp.NewCommand([]byte("SELECT"), []byte(resp.FormatFloat(float64(c.cfg.DB))))
		v, err := c.channel.Send(cmd, c.timeout())
		if err != nil {
			return err
		}
		if v.Kind == resp.Error {
			return errs.NewServerError(v.Str())
		}
	}
	return nil
}

func (c *DirectClient) timeout() time.Duration {
	if c.cfg.CommandTimeout <= 0 {
		return 3 * time.Second
	}
	return c.cfg.CommandTimeout
}

// Send satisfies exec.Sender, letting DirectClient double as the transport
// the command-execution wrapper dispatches through.
func (c *DirectClient) Send(cmd *resp.Command, timeout time.Duration) (resp.Value, error) {
	return c.channel.Send(cmd, timeout)
}

// Available reports whether the underlying channel is connected.
func (c *DirectClient) Available() bool {
	return c.channel.Status() == chanconn.StatusNormal
}

// Addr returns the host this client talks to.
func (c *DirectClient) Addr() string { return c.cfg.Addr }

// Close tears down the underlying channel.
func (c *DirectClient) Close() error { return c.channel.Close() }

// OnUnavailable registers a sink invoked once when the channel closes.
func (c *DirectClient) OnUnavailable(cb func(error)) { c.channel.OnUnavailable(cb) }
