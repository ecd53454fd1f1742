package lock

import (
	"math/rand"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/go-multierror"

	"github.com/xenking/goredis/client"
	"github.com/xenking/goredis/errs"
	"github.com/xenking/goredis/metrics"
	"github.com/xenking/goredis/resp"
)

// MinServers is the smallest server count the Redlock algorithm's quorum
// math is meaningful for (§8 property 8 exercises N=5).
const MinServers = 3

// driftFactor is the clock-drift allowance the canonical Redlock algorithm
// subtracts from the validity window: 1% of the TTL plus 2ms, covering
// the gap between each server's idea of "now".
func driftFactor(ttl time.Duration) time.Duration {
	return time.Duration(float64(ttl)*0.01) + 2*time.Millisecond
}

// Redlock is a lock held across a quorum of independent servers.
type Redlock struct {
	clients    []*client.DirectClient
	key        string
	token      string
	timeout    time.Duration
	reg        *metrics.Registry
	acquiredAt time.Time
}

// AcquireRedlock attempts the lock against every server in clients,
// succeeding only if a majority accept it within a validity window wider
// than the time spent acquiring — otherwise it releases whatever partial
// quorum it won and fails.
func AcquireRedlock(clients []*client.DirectClient, key string, ttl, timeout time.Duration, reg *metrics.Registry) (*Redlock, error) {
	if len(clients) < MinServers {
		return nil, errs.NewIllegalArgument("AcquireRedlock", "at least 3 servers are required")
	}
	if key == "" {
		return nil, errs.NewIllegalArgument("AcquireRedlock", "key must not be empty")
	}

	token := uuid.NewString()
	quorum := len(clients)/2 + 1

	start := time.Now()
	var won []*client.DirectClient
	causes := &multierror.Error{}
	for _, c := range clients {
		cmd := resp.NewCommand([]byte("SET"), []byte(key), []byte(token),
			[]byte("NX"), []byte("PX"), []byte(strconv.FormatInt(ttl.Milliseconds(), 10)))
		v, err := c.Send(cmd, timeout)
		if err != nil {
			causes = multierror.Append(causes, err)
			continue
		}
		if v.Kind == resp.Error {
			causes = multierror.Append(causes, errs.NewServerError(v.Str()))
			continue
		}
		if v.IsNil() {
			continue // another holder already owns this server's copy
		}
		won = append(won, c)
	}
	elapsed := time.Since(start)
	validity := ttl - elapsed - driftFactor(ttl)

	if len(won) < quorum || validity <= 0 {
		releaseFrom(won, key, token, timeout)
		recordOutcome(reg, "fail")
		// Only raise the aggregate error when the failures themselves
		// preclude quorum; NX rejections without errors just mean the
		// key is already held elsewhere, which is a plain failed-to-
		// acquire outcome, not a server-error outcome.
		if len(clients)-causes.Len() < quorum {
			return nil, errs.NewDistributedLockError(causes.Errors...)
		}
		return nil, errs.NewIllegalState("redlock: quorum not reached")
	}

	recordOutcome(reg, "success")
	return &Redlock{clients: clients, key: key, token: token, timeout: timeout, reg: reg, acquiredAt: time.Now()}, nil
}

// AcquireRedlockWithWait retries AcquireRedlock with randomized backoff
// until it succeeds or maxWait elapses.
func AcquireRedlockWithWait(clients []*client.DirectClient, key string, ttl, timeout, maxWait time.Duration, reg *metrics.Registry) (*Redlock, error) {
	deadline := time.Now().Add(maxWait)
	for {
		rl, err := AcquireRedlock(clients, key, ttl, timeout, reg)
		if err == nil {
			return rl, nil
		}
		if time.Now().After(deadline) {
			return nil, err
		}
		time.Sleep(retryMinDelay + time.Duration(rand.Int63n(int64(retryJitter))))
	}
}

// Token returns the random value used to claim this lock, unique per
// acquisition so Release never removes a different holder's lock.
func (r *Redlock) Token() string { return r.token }

// Release runs the compare-and-delete script against every server
// (including ones that did not grant the original quorum). Failures on
// fewer than a quorum of servers are ignored; when at least a quorum of
// servers fail, their errors are aggregated into a DistributedLockError.
func (r *Redlock) Release() error {
	quorum := len(r.clients)/2 + 1
	causes := &multierror.Error{}
	for _, c := range r.clients {
		cmd := resp.NewCommand([]byte("EVAL"), []byte(releaseScript), []byte("1"), []byte(r.key), []byte(r.token))
		if _, err := c.Send(cmd, r.timeout); err != nil {
			causes = multierror.Append(causes, err)
		}
	}
	if causes.Len() >= quorum {
		recordOutcome(r.reg, "unlock-error")
		return errs.NewDistributedLockError(causes.Errors...)
	}
	recordOutcome(r.reg, "unlock-success")
	if r.reg != nil {
		r.reg.RecordHoldingTime(time.Since(r.acquiredAt))
	}
	return nil
}

func releaseFrom(clients []*client.DirectClient, key, token string, timeout time.Duration) {
	for _, c := range clients {
		cmd := resp.NewCommand([]byte("EVAL"), []byte(releaseScript), []byte("1"), []byte(key), []byte(token))
		c.Send(cmd, timeout) //nolint:errcheck // best-effort cleanup of a lock we are abandoning
	}
}

func recordOutcome(reg *metrics.Registry, outcome string) {
	if reg != nil {
		reg.RecordLockOutcome(outcome)
	}
}
