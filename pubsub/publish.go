package pubsub

import (
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/xenking/goredis/client"
	"github.com/xenking/goredis/errs"
	"github.com/xenking/goredis/log"
	"github.com/xenking/goredis/resp"
)

// Publisher is a thin, auto-reconnecting wrapper issuing one PUBLISH per
// call (§4.M). It carries no subscription state, so reconnecting is just
// redialing — unlike the subscribe side there is nothing to replay.
type Publisher struct {
	build   func() (*client.DirectClient, error)
	timeout time.Duration
	logger  *zap.Logger

	mu sync.Mutex
	c  *client.DirectClient
}

// NewPublisher dials once via build and returns a ready Publisher. build is
// retained so Publish can redial transparently after the connection drops.
func NewPublisher(build func() (*client.DirectClient, error), timeout time.Duration, logger *zap.Logger) (*Publisher, error) {
	c, err := build()
	if err != nil {
		return nil, err
	}
	return &Publisher{build: build, timeout: timeout, logger: log.OrNop(logger), c: c}, nil
}

// Publish sends one PUBLISH, returning the number of subscribers that
// received it. A connection-level failure triggers exactly one redial and
// retry before giving up.
func (p *Publisher) Publish(channel string, payload []byte) (int64, error) {
	p.mu.Lock()
	c := p.c
	p.mu.Unlock()

	n, err := p.publishOnce(c, channel, payload)
	if err == nil || !reconnectable(err) {
		return n, err
	}

	nc, derr := p.build()
	if derr != nil {
		return 0, err
	}
	p.mu.Lock()
	p.c = nc
	p.mu.Unlock()
	p.logger.Info("pubsub publisher reconnected")
	return p.publishOnce(nc, channel, payload)
}

func (p *Publisher) publishOnce(c *client.DirectClient, channel string, payload []byte) (int64, error) {
	cmd := resp.NewCommand([]byte("PUBLISH"), []byte(channel), payload)
	v, err := c.Send(cmd, p.timeout)
	if err != nil {
		return 0, err
	}
	if v.Kind == resp.Error {
		return 0, errs.NewServerError(v.Str())
	}
	n, err := v.Int()
	if err == nil && n == 0 {
		p.logger.Warn("pubsub publish reached no subscribers", zap.String("channel", channel))
	}
	return n, err
}

func reconnectable(err error) bool {
	_, ok := err.(*errs.IllegalState)
	return ok
}

// Close tears down the current connection.
func (p *Publisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.c.Close()
}
