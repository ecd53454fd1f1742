// Package metrics implements the per-host, per-cluster and per-lock
// counters the specification's Monitor Hooks component (§4.O) calls for.
// Every counter is mirrored into a prometheus vector (grounded on
// packetd-packetd's controller/metrics.go use of promauto) so a caller can
// wire a standard /metrics exporter on top; the library itself never stands
// up that HTTP endpoint. Independently, Registry.Sample exposes the
// delta-since-last-sample view the specification describes, for callers
// that prefer push-style observation over scraping.
package metrics

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// ErrorKind names one of the classified error kinds a command execution can
// raise, used as the label/map key for per-kind error counters.
type ErrorKind string

const (
	KindIllegalArgument ErrorKind = "illegal_argument"
	KindIllegalState    ErrorKind = "illegal_state"
	KindTimeout         ErrorKind = "timeout"
	KindRedisServer     ErrorKind = "redis_server_error"
	KindKeyNotFound     ErrorKind = "key_not_found"
	KindUnexpected      ErrorKind = "unexpected_error"
	KindSlowExecution   ErrorKind = "slow_execution"
)

var (
	execCount = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "goredis",
		Name:      "host_execution_total",
		Help:      "Command executions per host.",
	}, []string{"host"})

	latencyTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "goredis",
		Name:      "host_latency_nanoseconds_total",
		Help:      "Cumulative command latency per host.",
	}, []string{"host"})

	latencyMax = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "goredis",
		Name:      "host_latency_max_nanoseconds",
		Help:      "Maximum observed command latency per host.",
	}, []string{"host"})

	errorCount = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "goredis",
		Name:      "host_errors_total",
		Help:      "Command errors per host and kind.",
	}, []string{"host", "kind"})

	clusterUnavailable = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "goredis",
		Name:      "cluster_unavailable_client_total",
		Help:      "Cluster requests that hit an unavailable target client.",
	}, []string{"cluster"})

	clusterMultiGetErr = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "goredis",
		Name:      "cluster_multi_get_error_total",
		Help:      "Multi-key fan-out group failures.",
	}, []string{"cluster"})

	lockOutcome = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "goredis",
		Name:      "lock_outcome_total",
		Help:      "Lock acquire/release outcomes.",
	}, []string{"lock", "outcome"})

	lockHoldTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "goredis",
		Name:      "lock_holding_nanoseconds_total",
		Help:      "Cumulative lock holding time.",
	}, []string{"lock"})

	lockHoldMax = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "goredis",
		Name:      "lock_holding_max_nanoseconds",
		Help:      "Maximum observed lock holding time.",
	}, []string{"lock"})

	registerOnce sync.Once
)

// MustRegister registers every vector against reg. Call once per process;
// the library does not self-register against prometheus.DefaultRegisterer
// so embedding applications keep control of their registry.
func MustRegister(reg prometheus.Registerer) {
	registerOnce.Do(func() {
		reg.MustRegister(execCount, latencyTotal, latencyMax, errorCount,
			clusterUnavailable, clusterMultiGetErr,
			lockOutcome, lockHoldTotal, lockHoldMax)
	})
}

// hostCounters is the atomic state backing one host's delta snapshot.
type hostCounters struct {
	execCount    uint64
	totalLatency uint64 // nanoseconds
	maxLatency   uint64 // nanoseconds
	peakTPS      uint64
	windowStart  int64 // unix nanos, for peak-TPS bucketing
	windowCount  uint64
	errors       sync.Map // ErrorKind -> *uint64
}

// HostSnapshot is the delta-since-last-sample view of one host's counters.
type HostSnapshot struct {
	Host         string
	Executions   uint64
	TotalLatency time.Duration
	MaxLatency   time.Duration
	PeakTPS      uint64
	Errors       map[ErrorKind]uint64
}

// Registry aggregates counters for every host a client talks to, plus
// cluster- and lock-level counters, per §4.O.
type Registry struct {
	clusterName string
	lockName    string

	mu    sync.Mutex
	hosts map[string]*hostCounters

	clusterUnavail     uint64
	clusterMultiGetErr uint64

	lockSuccess      uint64
	lockFail         uint64
	lockError        uint64
	lockUnlockOK     uint64
	lockUnlockErr    uint64
	lockHoldTotal    uint64
	lockHoldMax      uint64
}

// NewRegistry builds a Registry. clusterName/lockName label the prometheus
// vectors for cluster- and lock-level series; pass "" for components that
// don't apply.
func NewRegistry(clusterName, lockName string) *Registry {
	return &Registry{
		clusterName: clusterName,
		lockName:    lockName,
		hosts:       make(map[string]*hostCounters),
	}
}

func (r *Registry) host(h string) *hostCounters {
	r.mu.Lock()
	defer r.mu.Unlock()
	hc, ok := r.hosts[h]
	if !ok {
		hc = &hostCounters{windowStart: time.Now().UnixNano()}
		r.hosts[h] = hc
	}
	return hc
}

// RecordExecution records one command's latency against host and mirrors it
// into the prometheus vectors.
func (r *Registry) RecordExecution(host string, elapsed time.Duration) {
	hc := r.host(host)
	atomic.AddUint64(&hc.execCount, 1)
	atomic.AddUint64(&hc.totalLatency, uint64(elapsed))
	for {
		cur := atomic.LoadUint64(&hc.maxLatency)
		if uint64(elapsed) <= cur || atomic.CompareAndSwapUint64(&hc.maxLatency, cur, uint64(elapsed)) {
			break
		}
	}
	r.bumpPeakTPS(hc)

	execCount.WithLabelValues(host).Inc()
	latencyTotal.WithLabelValues(host).Add(float64(elapsed))
	latencyMax.WithLabelValues(host).Set(float64(atomic.LoadUint64(&hc.maxLatency)))
}

func (r *Registry) bumpPeakTPS(hc *hostCounters) {
	now := time.Now().UnixNano()
	start := atomic.LoadInt64(&hc.windowStart)
	if now-start >= int64(time.Second) {
		count := atomic.SwapUint64(&hc.windowCount, 0)
		atomic.StoreInt64(&hc.windowStart, now)
		for {
			cur := atomic.LoadUint64(&hc.peakTPS)
			if count <= cur || atomic.CompareAndSwapUint64(&hc.peakTPS, cur, count) {
				break
			}
		}
	}
	atomic.AddUint64(&hc.windowCount, 1)
}

// RecordError increments the per-host, per-kind error counter.
func (r *Registry) RecordError(host string, kind ErrorKind) {
	hc := r.host(host)
	v, _ := hc.errors.LoadOrStore(kind, new(uint64))
	atomic.AddUint64(v.(*uint64), 1)
	errorCount.WithLabelValues(host, string(kind)).Inc()
}

// RecordUnavailableClient counts a cluster request that hit a down target.
func (r *Registry) RecordUnavailableClient() {
	atomic.AddUint64(&r.clusterUnavail, 1)
	clusterUnavailable.WithLabelValues(r.clusterName).Inc()
}

// RecordMultiGetError counts a fan-out group failure.
func (r *Registry) RecordMultiGetError() {
	atomic.AddUint64(&r.clusterMultiGetErr, 1)
	clusterMultiGetErr.WithLabelValues(r.clusterName).Inc()
}

// RecordLockOutcome counts one of: success, fail, error, unlock-success,
// unlock-error.
func (r *Registry) RecordLockOutcome(outcome string) {
	switch outcome {
	case "success":
		atomic.AddUint64(&r.lockSuccess, 1)
	case "fail":
		atomic.AddUint64(&r.lockFail, 1)
	case "error":
		atomic.AddUint64(&r.lockError, 1)
	case "unlock-success":
		atomic.AddUint64(&r.lockUnlockOK, 1)
	case "unlock-error":
		atomic.AddUint64(&r.lockUnlockErr, 1)
	}
	lockOutcome.WithLabelValues(r.lockName, outcome).Inc()
}

// RecordHoldingTime records how long a lock was held.
func (r *Registry) RecordHoldingTime(d time.Duration) {
	atomic.AddUint64(&r.lockHoldTotal, uint64(d))
	for {
		cur := atomic.LoadUint64(&r.lockHoldMax)
		if uint64(d) <= cur || atomic.CompareAndSwapUint64(&r.lockHoldMax, cur, uint64(d)) {
			break
		}
	}
	lockHoldTotal.WithLabelValues(r.lockName).Add(float64(d))
	lockHoldMax.WithLabelValues(r.lockName).Set(float64(atomic.LoadUint64(&r.lockHoldMax)))
}

// Sample returns the delta-since-last-call snapshot for every host touched
// since construction or the previous Sample call.
func (r *Registry) Sample() []HostSnapshot {
	r.mu.Lock()
	hosts := make([]*hostCounters, 0, len(r.hosts))
	names := make([]string, 0, len(r.hosts))
	for h, hc := range r.hosts {
		hosts = append(hosts, hc)
		names = append(names, h)
	}
	r.mu.Unlock()

	out := make([]HostSnapshot, 0, len(hosts))
	for i, hc := range hosts {
		snap := HostSnapshot{
			Host:         names[i],
			Executions:   atomic.SwapUint64(&hc.execCount, 0),
			TotalLatency: time.Duration(atomic.SwapUint64(&hc.totalLatency, 0)),
			MaxLatency:   time.Duration(atomic.SwapUint64(&hc.maxLatency, 0)),
			PeakTPS:      atomic.SwapUint64(&hc.peakTPS, 0),
			Errors:       make(map[ErrorKind]uint64),
		}
		hc.errors.Range(func(k, v interface{}) bool {
			n := atomic.SwapUint64(v.(*uint64), 0)
			if n > 0 {
				snap.Errors[k.(ErrorKind)] = n
			}
			return true
		})
		out = append(out, snap)
	}
	return out
}
