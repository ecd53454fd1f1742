// Package resptest provides a minimal scripted RESP server for exercising
// chanconn.Channel, the cluster router and the pub/sub clients without a
// real Redis process. Grounded on the teacher's bufio.Reader framing and on
// other_examples/8391317f (myRedis resp-parser.go)'s streaming-decode test
// style.
package resptest

import (
	"bufio"
	"net"
	"sync"
	"time"

	"github.com/xenking/goredis/resp"
)

// Handler answers one decoded command with a reply Value. Returning a
// Value with Kind==0 and no explicit set is treated as "no reply" (useful
// for pub/sub where the server pushes unsolicited messages instead).
type Handler func(args []resp.Value) resp.Value

// Server is an in-process RESP endpoint. Conn (and the dialer DialFunc
// returns) hands out client-side net.Conn values backed by net.Pipe; each
// connection gets a goroutine serving it with Server's Handler.
type Server struct {
	mu      sync.Mutex
	handler Handler
	conns   []net.Conn
}

// NewServer builds a Server that answers every command with handler.
func NewServer(handler Handler) *Server {
	return &Server{handler: handler}
}

// SetHandler swaps the active handler, e.g. mid-test to switch from normal
// replies to a MOVED redirect.
func (s *Server) SetHandler(h Handler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handler = h
}

// Conn returns a client/server connected pipe pair, with the server side
// already being served in a background goroutine.
func (s *Server) Conn() net.Conn {
	client, server := net.Pipe()
	go s.serve(server)
	return client
}

// DialFunc matches chanconn.Config.Dial's shape, handing out a fresh
// in-process pipe connection for every dial regardless of addr/timeout.
func (s *Server) DialFunc() func(addr string, timeout time.Duration) (net.Conn, error) {
	return func(string, time.Duration) (net.Conn, error) {
		return s.Conn(), nil
	}
}

func (s *Server) serve(conn net.Conn) {
	defer conn.Close()
	r := bufio.NewReader(conn)
	for {
		v, err := resp.Decode(r)
		if err != nil {
			return
		}
		if v.Kind != resp.Array {
			continue
		}
		s.mu.Lock()
		h := s.handler
		s.mu.Unlock()
		if h == nil {
			continue
		}
		reply := h(v.Elems)
		if reply.Kind == 0 && reply.Bytes == nil && !reply.Null && reply.Elems == nil {
			continue
		}
		if _, err := conn.Write(resp.Encode(reply)); err != nil {
			return
		}
	}
}

// Push writes an unsolicited reply (e.g. a pub/sub message) on conn.
func Push(conn net.Conn, v resp.Value) error {
	_, err := conn.Write(resp.Encode(v))
	return err
}

// Args renders a decoded command's elements as strings, for handler
// dispatch on command name.
func Args(elems []resp.Value) []string {
	out := make([]string, len(elems))
	for i, e := range elems {
		out[i] = e.Str()
	}
	return out
}

// OK is the canonical +OK reply.
func OK() resp.Value { return resp.NewSimpleString("OK") }

// Bulk builds a non-nil bulk string reply.
func Bulk(s string) resp.Value { return resp.NewBulkString([]byte(s)) }

// Nil builds the null bulk string reply.
func Nil() resp.Value { return resp.NewBulkString(nil) }

// Int builds an integer reply.
func Int(n int64) resp.Value { return resp.NewInteger(n) }

// Err builds an error reply.
func Err(msg string) resp.Value { return resp.NewError(msg) }
