package lock_test

import (
	"net"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/xenking/goredis/client"
	"github.com/xenking/goredis/errs"
	"github.com/xenking/goredis/lock"
	"github.com/xenking/goredis/resp"
	"github.com/xenking/goredis/resptest"
)

// fakeKeyspace backs a resptest.Server with just enough SET/EVAL/GET/DEL
// semantics to exercise NX-acquire and compare-and-delete release.
type fakeKeyspace struct {
	mu   sync.Mutex
	data map[string]string
}

func newFakeKeyspace() *fakeKeyspace { return &fakeKeyspace{data: make(map[string]string)} }

func (k *fakeKeyspace) handle(args []resp.Value) resp.Value {
	cmd := strings.ToUpper(args[0].Str())
	switch cmd {
	case "SET": // SET key token NX PX millis
		key, token := args[1].Str(), args[2].Str()
		k.mu.Lock()
		defer k.mu.Unlock()
		if _, exists := k.data[key]; exists {
			return resptest.Nil()
		}
		k.data[key] = token
		return resptest.OK()
	case "EVAL": // compare-and-delete release script
		key, token := args[3].Str(), args[4].Str()
		k.mu.Lock()
		defer k.mu.Unlock()
		if k.data[key] != token {
			return resptest.Int(0)
		}
		delete(k.data, key)
		return resptest.Int(1)
	default:
		return resptest.Err("ERR unknown command")
	}
}

func newDirectClient(t *testing.T, handler func([]resp.Value) resp.Value) *client.DirectClient {
	t.Helper()
	srv := resptest.NewServer(handler)
	c, err := client.New(client.Config{Addr: "x", Dial: srv.DialFunc(), CommandTimeout: time.Second})
	if err != nil {
		t.Fatal(err)
	}
	return c
}

// newDeadClient builds a DirectClient whose connection is already severed
// on the server side, simulating a killed Redis process: the initial dial
// succeeds (Init never handshakes without a password) but every command
// subsequently fails with a connection error, never a scripted NX rejection.
func newDeadClient(t *testing.T) *client.DirectClient {
	t.Helper()
	clientConn, serverConn := net.Pipe()
	serverConn.Close()
	dial := func(string, time.Duration) (net.Conn, error) { return clientConn, nil }
	c, err := client.New(client.Config{Addr: "x", Dial: dial, CommandTimeout: time.Second})
	if err != nil {
		t.Fatal(err)
	}
	return c
}

func TestAcquireAndReleaseRoundTrip(t *testing.T) {
	ks := newFakeKeyspace()
	c := newDirectClient(t, ks.handle)
	defer c.Close()

	l, ok, err := lock.Acquire(c, "job:1", time.Second, time.Second, nil)
	if err != nil || !ok {
		t.Fatalf("Acquire: ok=%v err=%v", ok, err)
	}

	released, err := l.Release()
	if err != nil || !released {
		t.Fatalf("Release: released=%v err=%v", released, err)
	}
}

func TestAcquireFailsWhenAlreadyHeld(t *testing.T) {
	ks := newFakeKeyspace()
	c := newDirectClient(t, ks.handle)
	defer c.Close()

	_, ok1, err := lock.Acquire(c, "job:1", time.Second, time.Second, nil)
	if err != nil || !ok1 {
		t.Fatalf("first Acquire: ok=%v err=%v", ok1, err)
	}
	_, ok2, err := lock.Acquire(c, "job:1", time.Second, time.Second, nil)
	if err != nil {
		t.Fatal(err)
	}
	if ok2 {
		t.Error("second Acquire should have failed: key already held")
	}
}

func TestReleaseDoesNotRemoveAnotherHoldersLock(t *testing.T) {
	ks := newFakeKeyspace()
	c := newDirectClient(t, ks.handle)
	defer c.Close()

	l1, ok, err := lock.Acquire(c, "job:1", time.Second, time.Second, nil)
	if err != nil || !ok {
		t.Fatalf("Acquire: ok=%v err=%v", ok, err)
	}
	// Simulate l1 expiring and another holder taking the key over.
	ks.mu.Lock()
	ks.data["job:1"] = "someone-else-token"
	ks.mu.Unlock()

	released, err := l1.Release()
	if err != nil {
		t.Fatal(err)
	}
	if released {
		t.Error("Release reported success but token no longer matches the current holder")
	}
	ks.mu.Lock()
	owner := ks.data["job:1"]
	ks.mu.Unlock()
	if owner != "someone-else-token" {
		t.Error("Release deleted another holder's lock")
	}
}

func TestRedlockAcquiresOnMajority(t *testing.T) {
	clients := make([]*client.DirectClient, 5)
	for i := range clients {
		clients[i] = newDirectClient(t, newFakeKeyspace().handle)
	}
	defer func() {
		for _, c := range clients {
			c.Close()
		}
	}()

	rl, err := lock.AcquireRedlock(clients, "resource", time.Second, time.Second, nil)
	if err != nil {
		t.Fatal(err)
	}
	if err := rl.Release(); err != nil {
		t.Fatal(err)
	}
}

func TestRedlockFailsWhenMajorityAlreadyHeld(t *testing.T) {
	clients := make([]*client.DirectClient, 5)
	keyspaces := make([]*fakeKeyspace, 5)
	for i := range clients {
		keyspaces[i] = newFakeKeyspace()
		clients[i] = newDirectClient(t, keyspaces[i].handle)
	}
	defer func() {
		for _, c := range clients {
			c.Close()
		}
	}()

	// Pre-occupy 3 of 5 servers (a majority), leaving no quorum available.
	for i := 0; i < 3; i++ {
		keyspaces[i].data["resource"] = "already-held"
	}

	_, err := lock.AcquireRedlock(clients, "resource", time.Second, time.Second, nil)
	if err == nil {
		t.Fatal("expected AcquireRedlock to fail without a quorum")
	}
}

// TestRedlockSucceedsWhenMinorityServersAreDown exercises property 8's
// "killing 2 of 5 servers still lets a fresh acquisition succeed": the
// remaining 3 live servers still meet quorum, so the errors from the 2
// dead ones must not turn into a DistributedLockError.
func TestRedlockSucceedsWhenMinorityServersAreDown(t *testing.T) {
	clients := make([]*client.DirectClient, 5)
	clients[0] = newDeadClient(t)
	clients[1] = newDeadClient(t)
	for i := 2; i < 5; i++ {
		clients[i] = newDirectClient(t, newFakeKeyspace().handle)
	}
	defer func() {
		for _, c := range clients {
			c.Close()
		}
	}()

	rl, err := lock.AcquireRedlock(clients, "resource", time.Second, time.Second, nil)
	if err != nil {
		t.Fatalf("expected quorum over the 3 live servers to succeed, got: %v", err)
	}
	if err := rl.Release(); err != nil {
		t.Fatal(err)
	}
}

// TestRedlockFailsWhenMajorityServersAreDown exercises property 8's
// "killing 3 of 5 always fails": only 2 live servers remain, short of the
// quorum of 3, and the connection failures themselves preclude quorum
// (5-3 errors = 2 < 3), so this must surface as a DistributedLockError.
func TestRedlockFailsWhenMajorityServersAreDown(t *testing.T) {
	clients := make([]*client.DirectClient, 5)
	clients[0] = newDeadClient(t)
	clients[1] = newDeadClient(t)
	clients[2] = newDeadClient(t)
	for i := 3; i < 5; i++ {
		clients[i] = newDirectClient(t, newFakeKeyspace().handle)
	}
	defer func() {
		for _, c := range clients {
			c.Close()
		}
	}()

	_, err := lock.AcquireRedlock(clients, "resource", time.Second, time.Second, nil)
	if err == nil {
		t.Fatal("expected AcquireRedlock to fail without a quorum")
	}
	if _, ok := err.(*errs.DistributedLockError); !ok {
		t.Errorf("expected a *errs.DistributedLockError since connection failures preclude quorum, got %T: %v", err, err)
	}
}

func TestRedlockTokensDifferAcrossAcquisitions(t *testing.T) {
	clients := make([]*client.DirectClient, 3)
	for i := range clients {
		clients[i] = newDirectClient(t, newFakeKeyspace().handle)
	}
	defer func() {
		for _, c := range clients {
			c.Close()
		}
	}()

	rl1, err := lock.AcquireRedlock(clients, "resource", time.Second, time.Second, nil)
	if err != nil {
		t.Fatal(err)
	}
	if err := rl1.Release(); err != nil {
		t.Fatal(err)
	}
	rl2, err := lock.AcquireRedlock(clients, "resource", time.Second, time.Second, nil)
	if err != nil {
		t.Fatal(err)
	}
	if rl1.Token() == rl2.Token() {
		t.Error("expected distinct tokens across separate acquisitions")
	}
}
