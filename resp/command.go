package resp

// Command is an encoded request: a frozen RESP Array of BulkStrings built
// once at construction. It carries a one-shot response slot that receives
// exactly one Value or one error, never both. A timeout is reported by the
// waiting sender, not through the slot.
type Command struct {
	Name string // first argument, for logging/classification
	wire []byte
	done chan Result
}

// Result is what a Command's response slot is fulfilled with.
type Result struct {
	Value Value
	Err   error // non-nil on I/O failure or illegal-state
}

// NewCommand freezes args into wire form. args[0] is conventionally the
// command name (e.g. "GET").
func NewCommand(args ...[]byte) *Command {
	name := ""
	if len(args) > 0 {
		name = string(args[0])
	}
	return &Command{
		Name: name,
		wire: EncodeCommand(args...),
		done: make(chan Result, 1),
	}
}

// Wire returns the frozen, ready-to-write byte form.
func (c *Command) Wire() []byte { return c.wire }

// Fulfill completes the response slot exactly once. Subsequent calls are
// no-ops: the channel is buffered by one, so a late arrival after a timeout
// never blocks the reader loop.
func (c *Command) Fulfill(v Value, err error) {
	select {
	case c.done <- Result{Value: v, Err: err}:
	default:
	}
}

// Done exposes the response slot for a one-shot receive.
func (c *Command) Done() <-chan Result { return c.done }
