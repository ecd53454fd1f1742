// Package exec implements the command execution wrapper every command in
// the client surface flows through: parameter validation, timing, RESP
// error classification, and slow-execution observation (§4.C).
package exec

import (
	"time"

	"go.uber.org/zap"

	"github.com/xenking/goredis/errs"
	"github.com/xenking/goredis/metrics"
	"github.com/xenking/goredis/resp"
)

// Sender is the minimal capability a wrapper needs from its transport: send
// one command and wait for its result. DirectClient's channel and the
// cluster client's per-slot client both satisfy this.
type Sender interface {
	Send(cmd *resp.Command, timeout time.Duration) (resp.Value, error)
}

// Wrapper binds validation/timing/classification to one host's counters.
type Wrapper struct {
	Host          string
	Metrics       *metrics.Registry
	Logger        *zap.Logger
	SlowThreshold time.Duration
}

// New builds a Wrapper. A zero SlowThreshold disables slow-execution
// observation.
func New(host string, reg *metrics.Registry, logger *zap.Logger, slowThreshold time.Duration) *Wrapper {
	return &Wrapper{Host: host, Metrics: reg, Logger: log(logger), SlowThreshold: slowThreshold}
}

func log(l *zap.Logger) *zap.Logger {
	if l == nil {
		return zap.NewNop()
	}
	return l
}

// Execute runs one command end to end:
//  1. validate (IllegalArgument on failure, not retried)
//  2. build the command and send it via sender
//  3. classify a RESP Error reply as RedisServerError
//  4. parse the reply into T (parse may return errs.KeyNotFound for a
//     semantic "not found" read)
//  5. once the command has been sent, whatever the outcome: record the
//     per-host counter and, past SlowThreshold, a SlowExecution observation
//     (a validation failure returns before step 2 and is only classified)
func Execute[T any](
	w *Wrapper,
	sender Sender,
	method string,
	timeout time.Duration,
	validate func() error,
	build func() *resp.Command,
	parse func(resp.Value) (T, error),
) (T, error) {
	var zero T

	if validate != nil {
		if err := validate(); err != nil {
			w.classify(method, err)
			return zero, err
		}
	}

	start := time.Now()
	cmd := build()
	v, err := sender.Send(cmd, timeout)
	elapsed := time.Since(start)
	w.recordLatency(elapsed)
	w.maybeSlow(method, elapsed)

	if err != nil {
		w.classify(method, err)
		return zero, err
	}
	if v.Kind == resp.Error {
		serr := errs.NewServerError(v.Str())
		w.classify(method, serr)
		return zero, serr
	}

	result, perr := parse(v)
	if perr != nil {
		w.classify(method, perr)
		return zero, perr
	}

	return result, nil
}

func (w *Wrapper) recordLatency(elapsed time.Duration) {
	if w.Metrics != nil {
		w.Metrics.RecordExecution(w.Host, elapsed)
	}
}

func (w *Wrapper) maybeSlow(method string, elapsed time.Duration) {
	if w.SlowThreshold > 0 && elapsed > w.SlowThreshold {
		if w.Metrics != nil {
			w.Metrics.RecordError(w.Host, metrics.KindSlowExecution)
		}
		w.Logger.Warn("slow redis command",
			zap.String("method", method), zap.Duration("elapsed", elapsed), zap.String("host", w.Host))
	}
}

func (w *Wrapper) classify(method string, err error) {
	kind := classifyKind(err)
	if w.Metrics != nil {
		w.Metrics.RecordError(w.Host, kind)
	}
	w.Logger.Debug("redis command error",
		zap.String("method", method), zap.String("kind", string(kind)), zap.Error(err))
}

func classifyKind(err error) metrics.ErrorKind {
	switch err.(type) {
	case *errs.IllegalArgument:
		return metrics.KindIllegalArgument
	case *errs.IllegalState:
		return metrics.KindIllegalState
	case *errs.Timeout:
		return metrics.KindTimeout
	case *errs.ServerError:
		return metrics.KindRedisServer
	case *errs.KeyNotFound:
		return metrics.KindKeyNotFound
	default:
		return metrics.KindUnexpected
	}
}
