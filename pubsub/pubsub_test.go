package pubsub_test

import (
	"bufio"
	"net"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/xenking/goredis/pubsub"
	"github.com/xenking/goredis/resp"
	"github.com/xenking/goredis/resptest"
)

// serveAcks answers every SUBSCRIBE-family command with one ack frame per
// channel/pattern and PING with a pong frame, mimicking a Redis connection
// in subscribe mode. It runs until the connection closes.
func serveAcks(server net.Conn) {
	r := bufio.NewReader(server)
	for {
		v, err := resp.Decode(r)
		if err != nil {
			return
		}
		if v.Kind != resp.Array || len(v.Elems) == 0 {
			continue
		}
		cmd := strings.ToUpper(v.Elems[0].Str())
		switch cmd {
		case "SUBSCRIBE", "PSUBSCRIBE", "UNSUBSCRIBE", "PUNSUBSCRIBE":
			ack := strings.ToLower(cmd)
			for _, name := range v.Elems[1:] {
				reply := resp.NewArray([]resp.Value{
					resp.NewBulkString([]byte(ack)),
					resp.NewBulkString([]byte(name.Str())),
					resp.NewInteger(1),
				})
				if err := resptest.Push(server, reply); err != nil {
					return
				}
			}
		case "PING":
			reply := resp.NewArray([]resp.Value{resp.NewBulkString([]byte("pong")), resp.NewBulkString(nil)})
			if err := resptest.Push(server, reply); err != nil {
				return
			}
		}
	}
}

// serveAcksNoPong behaves like serveAcks but silently drops PING, so a
// Subscriber waiting on a pong never gets one — simulating a connection
// that looks alive (TCP still up) but has stopped actually responding.
func serveAcksNoPong(server net.Conn) {
	r := bufio.NewReader(server)
	for {
		v, err := resp.Decode(r)
		if err != nil {
			return
		}
		if v.Kind != resp.Array || len(v.Elems) == 0 {
			continue
		}
		cmd := strings.ToUpper(v.Elems[0].Str())
		switch cmd {
		case "SUBSCRIBE", "PSUBSCRIBE", "UNSUBSCRIBE", "PUNSUBSCRIBE":
			ack := strings.ToLower(cmd)
			for _, name := range v.Elems[1:] {
				reply := resp.NewArray([]resp.Value{
					resp.NewBulkString([]byte(ack)),
					resp.NewBulkString([]byte(name.Str())),
					resp.NewInteger(1),
				})
				if err := resptest.Push(server, reply); err != nil {
					return
				}
			}
		case "PING":
			// drop it: the server looks connected but never answers.
		}
	}
}

func newPipeDialer() (func(string, time.Duration) (net.Conn, error), chan net.Conn) {
	serverConns := make(chan net.Conn, 8)
	dial := func(string, time.Duration) (net.Conn, error) {
		client, server := net.Pipe()
		go serveAcks(server)
		serverConns <- server
		return client, nil
	}
	return dial, serverConns
}

type collector struct {
	mu   sync.Mutex
	msgs []pubsub.Message
}

func (c *collector) handle(m pubsub.Message) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.msgs = append(c.msgs, m)
}

func (c *collector) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.msgs)
}

func TestSubscribeAcksAndDispatchesMessages(t *testing.T) {
	dial, conns := newPipeDialer()
	col := &collector{}
	s, err := pubsub.Dial(pubsub.Config{Addr: "x", Dial: dial, OnMessage: col.handle})
	if err != nil {
		t.Fatal(err)
	}
	defer s.Close()

	if err := s.Subscribe("news", "sports"); err != nil {
		t.Fatal(err)
	}

	server := <-conns
	msg := resp.NewArray([]resp.Value{
		resp.NewBulkString([]byte("message")),
		resp.NewBulkString([]byte("news")),
		resp.NewBulkString([]byte("hello")),
	})
	if err := resptest.Push(server, msg); err != nil {
		t.Fatal(err)
	}

	deadline := time.Now().Add(time.Second)
	for col.count() == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if col.count() != 1 {
		t.Fatalf("got %d messages, want 1", col.count())
	}
	col.mu.Lock()
	got := col.msgs[0]
	col.mu.Unlock()
	if got.Channel != "news" || string(got.Payload) != "hello" {
		t.Errorf("got %+v", got)
	}
}

func TestPSubscribeDispatchesPmessage(t *testing.T) {
	dial, conns := newPipeDialer()
	col := &collector{}
	s, err := pubsub.Dial(pubsub.Config{Addr: "x", Dial: dial, OnMessage: col.handle})
	if err != nil {
		t.Fatal(err)
	}
	defer s.Close()

	if err := s.PSubscribe("news.*"); err != nil {
		t.Fatal(err)
	}

	server := <-conns
	msg := resp.NewArray([]resp.Value{
		resp.NewBulkString([]byte("pmessage")),
		resp.NewBulkString([]byte("news.*")),
		resp.NewBulkString([]byte("news.sports")),
		resp.NewBulkString([]byte("goal")),
	})
	if err := resptest.Push(server, msg); err != nil {
		t.Fatal(err)
	}

	deadline := time.Now().Add(time.Second)
	for col.count() == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if col.count() != 1 {
		t.Fatalf("got %d messages, want 1", col.count())
	}
	col.mu.Lock()
	got := col.msgs[0]
	col.mu.Unlock()
	if got.Pattern != "news.*" || got.Channel != "news.sports" || string(got.Payload) != "goal" {
		t.Errorf("got %+v", got)
	}
}

// TestHeartbeatClosesConnectionOnMissedPong exercises §4.L's "await PONG
// within 5s, else close the connection": a server that stops answering
// PING must trip the Subscriber's OnUnavailable callback, not get pinged
// forever with the dead connection never reclaimed.
func TestHeartbeatClosesConnectionOnMissedPong(t *testing.T) {
	serverConns := make(chan net.Conn, 1)
	dial := func(string, time.Duration) (net.Conn, error) {
		client, server := net.Pipe()
		go serveAcksNoPong(server)
		serverConns <- server
		return client, nil
	}

	s, err := pubsub.Dial(pubsub.Config{Addr: "x", Dial: dial, PingPeriod: 50 * time.Millisecond})
	if err != nil {
		t.Fatal(err)
	}
	defer s.Close()

	unavailable := make(chan error, 1)
	s.OnUnavailable(func(reason error) { unavailable <- reason })

	if err := s.Subscribe("news"); err != nil {
		t.Fatal(err)
	}
	<-serverConns

	select {
	case reason := <-unavailable:
		if reason == nil {
			t.Error("expected a non-nil close reason for the missed pong")
		}
	case <-time.After(7 * time.Second):
		t.Fatal("heartbeat did not close the connection after a missed pong within 7s")
	}

	if err := s.Subscribe("sports"); err == nil {
		t.Error("expected Subscribe to fail once the connection has been torn down")
	}
}

func TestReconnectingSubscriberReplaysSubscriptions(t *testing.T) {
	dial, conns := newPipeDialer()
	col := &collector{}
	r, err := pubsub.Connect(pubsub.Config{Addr: "x", Dial: dial, OnMessage: col.handle})
	if err != nil {
		t.Fatal(err)
	}
	defer r.Close()

	if err := r.Subscribe("alerts"); err != nil {
		t.Fatal(err)
	}
	first := <-conns
	first.Close() // simulate the connection dropping

	select {
	case second := <-conns:
		msg := resp.NewArray([]resp.Value{
			resp.NewBulkString([]byte("message")),
			resp.NewBulkString([]byte("alerts")),
			resp.NewBulkString([]byte("fire")),
		})
		if err := resptest.Push(second, msg); err != nil {
			t.Fatal(err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("reconnect did not redial within 2s")
	}

	deadline := time.Now().Add(2 * time.Second)
	for col.count() == 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if col.count() != 1 {
		t.Fatalf("got %d messages after reconnect, want 1", col.count())
	}
}
