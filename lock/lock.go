// Package lock implements §4.N: a single-instance distributed lock backed
// by SET NX PX plus a compare-and-delete release script, and Redlock, the
// N-server quorum variant. Grounded on the teacher's command-building
// style (xenking-redis/redis.go) and on the canonical Redlock algorithm's
// validity-window arithmetic.
package lock

import (
	"math/rand"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/xenking/goredis/client"
	"github.com/xenking/goredis/errs"
	"github.com/xenking/goredis/metrics"
	"github.com/xenking/goredis/resp"
)

// releaseScript only deletes the key when it still holds this holder's
// token, so a lock past its TTL and reacquired by someone else is never
// torn down by a late Release call.
const releaseScript = `if redis.call("get", KEYS[1]) == ARGV[1] then return redis.call("del", KEYS[1]) else return 0 end`

// retryMinDelay/retryJitter bound the randomized backoff AcquireWithWait
// uses between attempts, spreading out contending waiters.
const (
	retryMinDelay = 50 * time.Millisecond
	retryJitter   = 100 * time.Millisecond
)

// Lock is one acquired single-instance lock.
type Lock struct {
	client     *client.DirectClient
	key        string
	token      string
	timeout    time.Duration
	reg        *metrics.Registry
	acquiredAt time.Time
}

// Acquire attempts the lock exactly once via SET key token NX PX ttl,
// returning ok=false (no error) when another holder already owns key. reg
// may be nil when the caller does not want Monitor Hook observations.
func Acquire(c *client.DirectClient, key string, ttl, timeout time.Duration, reg *metrics.Registry) (*Lock, bool, error) {
	if key == "" {
		return nil, false, errs.NewIllegalArgument("Acquire", "key must not be empty")
	}
	token := uuid.NewString()
	cmd := resp.NewCommand([]byte("SET"), []byte(key), []byte(token),
		[]byte("NX"), []byte("PX"), []byte(strconv.FormatInt(ttl.Milliseconds(), 10)))
	v, err := c.Send(cmd, timeout)
	if err != nil {
		recordOutcome(reg, "error")
		return nil, false, err
	}
	if v.Kind == resp.Error {
		recordOutcome(reg, "error")
		return nil, false, errs.NewServerError(v.Str())
	}
	if v.IsNil() {
		recordOutcome(reg, "fail")
		return nil, false, nil
	}
	recordOutcome(reg, "success")
	return &Lock{client: c, key: key, token: token, timeout: timeout, reg: reg, acquiredAt: time.Now()}, true, nil
}

// AcquireWithWait retries Acquire with randomized backoff until it
// succeeds or maxWait elapses.
func AcquireWithWait(c *client.DirectClient, key string, ttl, timeout, maxWait time.Duration, reg *metrics.Registry) (*Lock, error) {
	deadline := time.Now().Add(maxWait)
	for {
		l, ok, err := Acquire(c, key, ttl, timeout, reg)
		if err != nil {
			return nil, err
		}
		if ok {
			return l, nil
		}
		if time.Now().After(deadline) {
			return nil, errs.NewTimeout("Acquire")
		}
		time.Sleep(retryMinDelay + time.Duration(rand.Int63n(int64(retryJitter))))
	}
}

// Release runs the compare-and-delete script, reporting whether this
// holder actually removed the key (false if it had already expired or
// been taken over by another holder).
func (l *Lock) Release() (bool, error) {
	cmd := resp.NewCommand([]byte("EVAL"), []byte(releaseScript), []byte("1"), []byte(l.key), []byte(l.token))
	v, err := l.client.Send(cmd, l.timeout)
	if err != nil {
		recordOutcome(l.reg, "unlock-error")
		return false, err
	}
	if v.Kind == resp.Error {
		recordOutcome(l.reg, "unlock-error")
		return false, errs.NewServerError(v.Str())
	}
	n, err := v.Int()
	if err != nil {
		recordOutcome(l.reg, "unlock-error")
		return false, err
	}
	recordOutcome(l.reg, "unlock-success")
	if l.reg != nil {
		l.reg.RecordHoldingTime(time.Since(l.acquiredAt))
	}
	return n == 1, nil
}
