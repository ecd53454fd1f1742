// Package codec implements the two value codecs of §4.D: a raw UTF-8 string
// codec with no framing (the only one guaranteed interoperable with other
// Redis clients), and an object codec that tags values with a one-byte
// type and transparently compresses payloads above a threshold.
//
// The compressed block layout is implementation-private: a leading type
// tag byte, a flags byte indicating compression, then either the raw
// payload or a snappy-compressed block (grounded on packetd-packetd's
// exporter/sinker/metrics/sinker.go, the pack's only user of
// github.com/golang/snappy). Interop with other clients is only
// guaranteed for the raw string codec — see §4.D and §9.
package codec

import (
	"fmt"
	"math"

	"github.com/golang/snappy"
)

// Codec converts between Go values and the byte payload stored in Redis.
type Codec interface {
	Encode(v interface{}) ([]byte, error)
	Decode(b []byte, out interface{}) error
}

// RawString is the byte ⇄ UTF-8 string codec with no framing.
type RawString struct{}

func (RawString) Encode(v interface{}) ([]byte, error) {
	switch t := v.(type) {
	case []byte:
		return t, nil
	case string:
		return []byte(t), nil
	default:
		return nil, fmt.Errorf("codec: raw string codec cannot encode %T", v)
	}
}

func (RawString) Decode(b []byte, out interface{}) error {
	switch p := out.(type) {
	case *[]byte:
		*p = b
	case *string:
		*p = string(b)
	default:
		return fmt.Errorf("codec: raw string codec cannot decode into %T", out)
	}
	return nil
}

// typeTag identifies the Go value kind an Object payload carries.
type typeTag byte

const (
	tagBool typeTag = iota
	tagByte
	tagShort
	tagInt
	tagLong
	tagFloat
	tagDouble
	tagString
	tagSerializedObject
)

const (
	flagCompressed byte = 1 << 0
)

// Object is the tagged, optionally-compressed codec. CompressionThreshold
// is the payload size (before compression) above which Encode compresses;
// the typical default is 64 KiB per §4.D.
type Object struct {
	CompressionThreshold int
}

// NewObject builds an Object codec with the default 64 KiB threshold when
// threshold is zero.
func NewObject(threshold int) Object {
	if threshold <= 0 {
		threshold = 64 << 10
	}
	return Object{CompressionThreshold: threshold}
}

func (o Object) Encode(v interface{}) ([]byte, error) {
	tag, raw, err := tagAndBytes(v)
	if err != nil {
		return nil, err
	}

	flags := byte(0)
	payload := raw
	if len(raw) > o.CompressionThreshold {
		payload = snappy.Encode(nil, raw)
		flags |= flagCompressed
	}

	out := make([]byte, 0, len(payload)+2)
	out = append(out, byte(tag), flags)
	out = append(out, payload...)
	return out, nil
}

func (o Object) Decode(b []byte, out interface{}) error {
	if len(b) < 2 {
		return fmt.Errorf("codec: object payload too short")
	}
	tag := typeTag(b[0])
	flags := b[1]
	payload := b[2:]

	if flags&flagCompressed != 0 {
		decoded, err := snappy.Decode(nil, payload)
		if err != nil {
			return fmt.Errorf("codec: snappy decode: %w", err)
		}
		payload = decoded
	}

	return decodeTagged(tag, payload, out)
}

func tagAndBytes(v interface{}) (typeTag, []byte, error) {
	switch t := v.(type) {
	case bool:
		if t {
			return tagBool, []byte{1}, nil
		}
		return tagBool, []byte{0}, nil
	case byte:
		return tagByte, []byte{t}, nil
	case int16:
		return tagShort, beUint(uint64(uint16(t)), 2), nil
	case int32:
		return tagInt, beUint(uint64(uint32(t)), 4), nil
	case int64:
		return tagLong, beUint(uint64(t), 8), nil
	case int:
		return tagLong, beUint(uint64(int64(t)), 8), nil
	case float32:
		return tagFloat, beUint(uint64(math.Float32bits(t)), 4), nil
	case float64:
		return tagDouble, beUint(math.Float64bits(t), 8), nil
	case string:
		return tagString, []byte(t), nil
	case []byte:
		return tagSerializedObject, t, nil
	default:
		return 0, nil, fmt.Errorf("codec: object codec cannot encode %T", v)
	}
}

func decodeTagged(tag typeTag, payload []byte, out interface{}) error {
	switch tag {
	case tagBool:
		p, ok := out.(*bool)
		if !ok || len(payload) < 1 {
			return fmt.Errorf("codec: cannot decode bool into %T", out)
		}
		*p = payload[0] != 0
	case tagByte:
		p, ok := out.(*byte)
		if !ok || len(payload) < 1 {
			return fmt.Errorf("codec: cannot decode byte into %T", out)
		}
		*p = payload[0]
	case tagShort:
		p, ok := out.(*int16)
		if !ok || len(payload) < 2 {
			return fmt.Errorf("codec: cannot decode short into %T", out)
		}
		*p = int16(beGet(payload, 2))
	case tagInt:
		p, ok := out.(*int32)
		if !ok || len(payload) < 4 {
			return fmt.Errorf("codec: cannot decode int into %T", out)
		}
		*p = int32(beGet(payload, 4))
	case tagLong:
		switch p := out.(type) {
		case *int64:
			*p = int64(beGet(payload, 8))
		case *int:
			*p = int(int64(beGet(payload, 8)))
		default:
			return fmt.Errorf("codec: cannot decode long into %T", out)
		}
	case tagFloat:
		p, ok := out.(*float32)
		if !ok || len(payload) < 4 {
			return fmt.Errorf("codec: cannot decode float into %T", out)
		}
		*p = math.Float32frombits(uint32(beGet(payload, 4)))
	case tagDouble:
		p, ok := out.(*float64)
		if !ok || len(payload) < 8 {
			return fmt.Errorf("codec: cannot decode double into %T", out)
		}
		*p = math.Float64frombits(beGet(payload, 8))
	case tagString:
		switch p := out.(type) {
		case *string:
			*p = string(payload)
		case *[]byte:
			*p = payload
		default:
			return fmt.Errorf("codec: cannot decode string into %T", out)
		}
	case tagSerializedObject:
		p, ok := out.(*[]byte)
		if !ok {
			return fmt.Errorf("codec: cannot decode serialized object into %T", out)
		}
		*p = payload
	default:
		return fmt.Errorf("codec: unknown type tag %d", tag)
	}
	return nil
}

func beUint(v uint64, n int) []byte {
	b := make([]byte, n)
	for i := 0; i < n; i++ {
		b[n-1-i] = byte(v >> (8 * i))
	}
	return b
}

func beGet(b []byte, n int) uint64 {
	var v uint64
	for i := 0; i < n; i++ {
		v = v<<8 | uint64(b[i])
	}
	return v
}
