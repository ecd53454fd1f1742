// Package resp implements encode/decode for the Redis serialization
// protocol (RESP v2): simple strings, errors, integers, bulk strings and
// arrays, all framed with CRLF.
package resp

import "fmt"

// Kind tags which of the five RESP cases a Value holds.
type Kind uint8

const (
	SimpleString Kind = iota
	Error
	Integer
	BulkString
	Array
)

func (k Kind) String() string {
	switch k {
	case SimpleString:
		return "SimpleString"
	case Error:
		return "Error"
	case Integer:
		return "Integer"
	case BulkString:
		return "BulkString"
	case Array:
		return "Array"
	default:
		return fmt.Sprintf("Kind(%d)", k)
	}
}

// Value is a tagged RESP reply. Null is meaningful only for BulkString and
// Array (the $-1 and *-1 wire forms) and is distinct from an empty payload.
//
// Bytes holds the raw payload for SimpleString, Error, Integer (decimal
// ASCII, no sign normalization beyond what the server sent) and BulkString.
// Elems holds the ordered children of an Array; it is nil when Null is set
// and may otherwise be empty ([]Value{}) for the *0 wire form.
type Value struct {
	Kind  Kind
	Bytes []byte
	Null  bool
	Elems []Value
}

// NewSimpleString builds a +OK-style reply.
func NewSimpleString(s string) Value { return Value{Kind: SimpleString, Bytes: []byte(s)} }

// NewError builds a -ERR-style reply.
func NewError(s string) Value { return Value{Kind: Error, Bytes: []byte(s)} }

// NewInteger builds a :123-style reply.
func NewInteger(n int64) Value { return Value{Kind: Integer, Bytes: formatInt(n)} }

// NewBulkString builds a $-framed reply. A nil b produces the null bulk
// string ($-1); a non-nil, possibly empty, b produces a real payload.
func NewBulkString(b []byte) Value {
	if b == nil {
		return Value{Kind: BulkString, Null: true}
	}
	return Value{Kind: BulkString, Bytes: b}
}

// NewArray builds a *-framed reply. A nil elems produces the null array
// (*-1); a non-nil, possibly empty, slice produces a real array.
func NewArray(elems []Value) Value {
	if elems == nil {
		return Value{Kind: Array, Null: true}
	}
	return Value{Kind: Array, Elems: elems}
}

// IsNil reports whether v is the null bulk string or the null array.
func (v Value) IsNil() bool {
	return (v.Kind == BulkString || v.Kind == Array) && v.Null
}

// Str renders the raw payload as a string view (UTF-8 at the API boundary).
func (v Value) Str() string { return string(v.Bytes) }

// Int parses an Integer or BulkString payload as a base-10 int64.
func (v Value) Int() (int64, error) {
	if v.Kind != Integer && v.Kind != BulkString {
		return 0, fmt.Errorf("resp: cannot read %s as integer", v.Kind)
	}
	return parseInt(v.Bytes)
}

func formatInt(n int64) []byte {
	if n == 0 {
		return []byte("0")
	}
	neg := n < 0
	u := uint64(n)
	if neg {
		u = uint64(-n)
	}
	var buf [20]byte
	i := len(buf)
	for u > 0 {
		i--
		buf[i] = byte('0' + u%10)
		u /= 10
	}
	if neg {
		i--
		buf[i] = '-'
	}
	return buf[i:]
}

// parseInt assumes a valid decimal string; the empty string returns zero.
// Grounded on the teacher's ParseInt (xenking-redis/redis.go).
func parseInt(b []byte) (int64, error) {
	if len(b) == 0 {
		return 0, nil
	}
	neg := false
	i := 0
	if b[0] == '-' {
		neg = true
		i = 1
	} else if b[0] == '+' {
		i = 1
	}
	if i >= len(b) {
		return 0, fmt.Errorf("resp: invalid integer %q", b)
	}
	var u uint64
	for ; i < len(b); i++ {
		c := b[i]
		if c < '0' || c > '9' {
			return 0, fmt.Errorf("resp: invalid integer %q", b)
		}
		u = u*10 + uint64(c-'0')
	}
	n := int64(u)
	if neg {
		n = -n
	}
	return n, nil
}
