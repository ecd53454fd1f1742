package resp

import (
	"bytes"
	"math"
	"strconv"
)

// Encode renders v in wire form. It is the inverse of Decode and is used
// both by tests (round-trip property) and by resptest's scripted server.
func Encode(v Value) []byte {
	var buf bytes.Buffer
	encodeInto(&buf, v)
	return buf.Bytes()
}

func encodeInto(buf *bytes.Buffer, v Value) {
	switch v.Kind {
	case SimpleString:
		buf.WriteByte('+')
		buf.Write(v.Bytes)
		buf.WriteString("\r\n")
	case Error:
		buf.WriteByte('-')
		buf.Write(v.Bytes)
		buf.WriteString("\r\n")
	case Integer:
		buf.WriteByte(':')
		buf.Write(v.Bytes)
		buf.WriteString("\r\n")
	case BulkString:
		if v.Null {
			buf.WriteString("$-1\r\n")
			return
		}
		buf.WriteByte('$')
		buf.WriteString(strconv.Itoa(len(v.Bytes)))
		buf.WriteString("\r\n")
		buf.Write(v.Bytes)
		buf.WriteString("\r\n")
	case Array:
		if v.Null {
			buf.WriteString("*-1\r\n")
			return
		}
		buf.WriteByte('*')
		buf.WriteString(strconv.Itoa(len(v.Elems)))
		buf.WriteString("\r\n")
		for _, e := range v.Elems {
			encodeInto(buf, e)
		}
	}
}

// EncodeCommand renders args as a RESP Array of BulkStrings, the only
// outbound frame shape the wire protocol permits (inline commands are not
// supported).
func EncodeCommand(args ...[]byte) []byte {
	elems := make([]Value, len(args))
	for i, a := range args {
		elems[i] = NewBulkString(a)
	}
	return Encode(NewArray(elems))
}

// FormatFloat renders a sorted-set score using the decimal-point form RESP
// expects, with the inf/-inf sentinels for positive/negative infinity.
func FormatFloat(f float64) string {
	switch {
	case math.IsInf(f, 1):
		return "inf"
	case math.IsInf(f, -1):
		return "-inf"
	default:
		return strconv.FormatFloat(f, 'f', -1, 64)
	}
}

// ParseFloat is the inverse of FormatFloat, accepting the inf/-inf
// sentinels Redis uses for sorted-set scores.
func ParseFloat(s string) (float64, error) {
	switch s {
	case "inf", "+inf":
		return math.Inf(1), nil
	case "-inf":
		return math.Inf(-1), nil
	default:
		return strconv.ParseFloat(s, 64)
	}
}
