package resp

import (
	"bufio"
	"errors"
	"fmt"
	"io"
)

// ErrProtocol signals a byte sequence that is not valid RESP.
var ErrProtocol = errors.New("resp: protocol violation")

// Decode reads exactly one Value from r. It returns io.EOF when the stream
// ends cleanly before any frame starts; an
// incomplete frame propagates as a wrapped io.ErrUnexpectedEOF rather than a
// partial Value, so callers never observe a torn read.
//
// Streaming: a BulkString reads exactly its declared length then consumes
// the trailing CRLF without buffering the whole array first. An Array reads
// each element recursively to arbitrary depth; an incomplete inner frame
// propagates the same end-of-stream/error upward instead of yielding a
// partial Array.
func Decode(r *bufio.Reader) (Value, error) {
	line, err := readLine(r)
	if err != nil {
		return Value{}, err
	}
	if len(line) == 0 {
		return Value{}, fmt.Errorf("%w: empty line", ErrProtocol)
	}

	tag, payload := line[0], line[1:]
	switch tag {
	case '+':
		return Value{Kind: SimpleString, Bytes: payload}, nil
	case '-':
		return Value{Kind: Error, Bytes: payload}, nil
	case ':':
		return Value{Kind: Integer, Bytes: payload}, nil
	case '$':
		return decodeBulkString(r, payload)
	case '*':
		return decodeArray(r, payload)
	default:
		return Value{}, fmt.Errorf("%w: unexpected leading byte %q", ErrProtocol, tag)
	}
}

// readLine returns a frame header without its trailing CRLF.
func readLine(r *bufio.Reader) ([]byte, error) {
	line, err := r.ReadSlice('\n')
	if err != nil {
		if err == bufio.ErrBufferFull {
			// header longer than the internal buffer: fall back to an
			// allocating read so long simple-string/error lines still work.
			var full []byte
			full = append(full, line...)
			for err == bufio.ErrBufferFull {
				line, err = r.ReadSlice('\n')
				full = append(full, line...)
			}
			if err != nil {
				return nil, fmt.Errorf("%w: %v", io.ErrUnexpectedEOF, err)
			}
			line = full
		} else {
			if len(line) > 0 {
				// a header line cut short is a torn read, not a clean end
				return nil, fmt.Errorf("%w: %v", io.ErrUnexpectedEOF, err)
			}
			return nil, wrapReadErr(err)
		}
	}
	n := len(line)
	if n < 2 || line[n-2] != '\r' {
		return nil, fmt.Errorf("%w: missing CRLF", ErrProtocol)
	}
	out := make([]byte, n-2)
	copy(out, line[:n-2])
	return out, nil
}

func wrapReadErr(err error) error {
	if errors.Is(err, io.EOF) {
		return io.EOF
	}
	return fmt.Errorf("%w: %v", io.ErrUnexpectedEOF, err)
}

func decodeBulkString(r *bufio.Reader, lenBytes []byte) (Value, error) {
	n, err := parseInt(lenBytes)
	if err != nil {
		return Value{}, fmt.Errorf("%w: bad bulk length: %v", ErrProtocol, err)
	}
	if n < 0 {
		return NewBulkString(nil), nil
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(r, buf); err != nil {
		return Value{}, fmt.Errorf("%w: %v", io.ErrUnexpectedEOF, err)
	}
	var crlf [2]byte
	if _, err := io.ReadFull(r, crlf[:]); err != nil {
		return Value{}, fmt.Errorf("%w: %v", io.ErrUnexpectedEOF, err)
	}
	if crlf[0] != '\r' || crlf[1] != '\n' {
		return Value{}, fmt.Errorf("%w: bulk string missing CRLF", ErrProtocol)
	}
	return Value{Kind: BulkString, Bytes: buf}, nil
}

func decodeArray(r *bufio.Reader, lenBytes []byte) (Value, error) {
	n, err := parseInt(lenBytes)
	if err != nil {
		return Value{}, fmt.Errorf("%w: bad array length: %v", ErrProtocol, err)
	}
	if n < 0 {
		return NewArray(nil), nil
	}
	elems := make([]Value, n)
	for i := int64(0); i < n; i++ {
		v, err := Decode(r)
		if err != nil {
			if errors.Is(err, io.EOF) {
				// an inner frame cut short mid-array is not a clean
				// end-of-stream; surface it as a torn read.
				return Value{}, io.ErrUnexpectedEOF
			}
			return Value{}, err
		}
		elems[i] = v
	}
	return Value{Kind: Array, Elems: elems}, nil
}
