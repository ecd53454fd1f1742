package client_test

import (
	"fmt"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	dclient "github.com/xenking/goredis/client"
	"github.com/xenking/goredis/clientlist"
	clusterclient "github.com/xenking/goredis/cluster/client"
	"github.com/xenking/goredis/resp"
	"github.com/xenking/goredis/resptest"
)

// fakeBackend is a single shared keyspace behind every scripted node, so
// the test exercises routing and redirect handling without needing each
// node to actually own disjoint data.
type fakeBackend struct {
	mu   sync.Mutex
	data map[string][]byte
}

func newFakeBackend() *fakeBackend { return &fakeBackend{data: make(map[string][]byte)} }

func (b *fakeBackend) handle(args []resp.Value) resp.Value {
	cmd := strings.ToUpper(args[0].Str())
	switch cmd {
	case "GET":
		b.mu.Lock()
		defer b.mu.Unlock()
		v, ok := b.data[args[1].Str()]
		if !ok {
			return resptest.Nil()
		}
		return resptest.Bulk(string(v))
	case "SET":
		b.mu.Lock()
		b.data[args[1].Str()] = args[2].Bytes
		b.mu.Unlock()
		return resptest.OK()
	case "DEL":
		b.mu.Lock()
		_, ok := b.data[args[1].Str()]
		delete(b.data, args[1].Str())
		b.mu.Unlock()
		if ok {
			return resptest.Int(1)
		}
		return resptest.Int(0)
	case "INCR":
		b.mu.Lock()
		defer b.mu.Unlock()
		n, _ := strconv.ParseInt(string(b.data[args[1].Str()]), 10, 64)
		n++
		b.data[args[1].Str()] = []byte(strconv.FormatInt(n, 10))
		return resptest.Int(n)
	default:
		return resptest.Err("ERR unknown command")
	}
}

func hostEntry(host string, port int64) resp.Value {
	return resp.NewArray([]resp.Value{resp.NewBulkString([]byte(host)), resp.NewInteger(port)})
}

func slotEntry(start, end int64, master string) resp.Value {
	return resp.NewArray([]resp.Value{resp.NewInteger(start), resp.NewInteger(end), hostEntry(master, 6379)})
}

// singleNodeTopology assigns the entire slot space to one master, which is
// enough to exercise routing/GET/SET/MGet without redirects.
func singleNodeTopology(master string) resp.Value {
	return resp.NewArray([]resp.Value{slotEntry(0, 16383, master)})
}

func backendDialer(backend *fakeBackend) clientlist.Dialer {
	return func(host string) (*dclient.DirectClient, error) {
		srv := resptest.NewServer(backend.handle)
		return dclient.New(dclient.Config{Addr: host, Dial: srv.DialFunc(), CommandTimeout: time.Second})
	}
}

// clusterDialer wires CLUSTER SLOTS to topology and everything else to
// backend, the shape every router/cluster-client test in this package
// needs.
func clusterDialer(topology resp.Value, backend *fakeBackend) clientlist.Dialer {
	return func(host string) (*dclient.DirectClient, error) {
		handler := func(args []resp.Value) resp.Value {
			if strings.ToUpper(args[0].Str()) == "CLUSTER" {
				return topology
			}
			return backend.handle(args)
		}
		srv := resptest.NewServer(handler)
		return dclient.New(dclient.Config{Addr: host, Dial: srv.DialFunc(), CommandTimeout: time.Second})
	}
}

func newTestClient(t *testing.T, topology resp.Value, backend *fakeBackend) *clusterclient.Client {
	t.Helper()
	c, err := clusterclient.New(clusterclient.Config{
		Seeds:          []string{"m0:6379"},
		Dial:           clusterDialer(topology, backend),
		CommandTimeout: time.Second,
	})
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(c.Close)
	return c
}

func TestSetGetDelRoundTrip(t *testing.T) {
	backend := newFakeBackend()
	c := newTestClient(t, singleNodeTopology("m0:6379"), backend)

	if ok, err := c.Set("foo", []byte("bar"), 0); err != nil || !ok {
		t.Fatalf("Set: ok=%v err=%v", ok, err)
	}
	v, err := c.Get("foo")
	if err != nil {
		t.Fatal(err)
	}
	if string(v) != "bar" {
		t.Errorf("Get = %q, want bar", v)
	}

	n, err := c.Del("foo")
	if err != nil || n != 1 {
		t.Fatalf("Del: n=%d err=%v", n, err)
	}
	if _, err := c.Get("foo"); !isKeyNotFound(err) {
		t.Errorf("expected KeyNotFound after Del, got %v", err)
	}
}

func TestIncr(t *testing.T) {
	backend := newFakeBackend()
	c := newTestClient(t, singleNodeTopology("m0:6379"), backend)

	for i := int64(1); i <= 3; i++ {
		n, err := c.Incr("counter")
		if err != nil || n != i {
			t.Fatalf("Incr #%d: n=%d err=%v", i, n, err)
		}
	}
}

func TestMGetGathersAllKeysDespitePartialFailure(t *testing.T) {
	backend := newFakeBackend()
	c := newTestClient(t, singleNodeTopology("m0:6379"), backend)

	for i := 0; i < 10; i++ {
		key := fmt.Sprintf("key-%d", i)
		if i%2 == 0 {
			if _, err := c.Set(key, []byte(key), 0); err != nil {
				t.Fatal(err)
			}
		}
	}

	keys := make([]string, 10)
	for i := range keys {
		keys[i] = fmt.Sprintf("key-%d", i)
	}
	results := c.MGet(keys...)
	if len(results) != 10 {
		t.Fatalf("got %d results, want 10", len(results))
	}
	for i, r := range results {
		if r.Key != keys[i] {
			t.Errorf("result %d: key %q, want %q", i, r.Key, keys[i])
		}
		if i%2 == 0 {
			if r.Err != nil || string(r.Value) != keys[i] {
				t.Errorf("result %d: value=%q err=%v", i, r.Value, r.Err)
			}
		} else if !isKeyNotFound(r.Err) {
			t.Errorf("result %d: expected KeyNotFound, got %v", i, r.Err)
		}
	}
}

func isKeyNotFound(err error) bool {
	return err != nil && strings.Contains(err.Error(), "key not found")
}
