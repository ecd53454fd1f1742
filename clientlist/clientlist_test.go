package clientlist_test

import (
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/xenking/goredis/client"
	"github.com/xenking/goredis/clientlist"
	"github.com/xenking/goredis/resp"
	"github.com/xenking/goredis/resptest"
)

func dialer(t *testing.T, up *int32) clientlist.Dialer {
	return func(host string) (*client.DirectClient, error) {
		if atomic.LoadInt32(up) == 0 {
			return nil, errors.New("host down")
		}
		srv := resptest.NewServer(func(args []resp.Value) resp.Value { return resptest.OK() })
		return client.New(client.Config{Addr: host, CommandTimeout: time.Second, Dial: srv.DialFunc()})
	}
}

func TestGetAvailableExcludesDeadAndExcluded(t *testing.T) {
	up := int32(1)
	l := clientlist.New([]string{"h0", "h1", "h2"}, dialer(t, &up), nil)
	defer l.Close()

	c := l.GetAvailable(0)
	if c == nil {
		t.Fatal("expected an available client")
	}
	if c.Addr() == "h0" {
		t.Errorf("GetAvailable returned excluded index")
	}
}

func TestRescueIdempotentAndSelfExiting(t *testing.T) {
	up := int32(0)
	l := clientlist.New([]string{"h0"}, dialer(t, &up), nil)
	defer l.Close()

	if c := l.Get(0); c != nil {
		t.Fatal("expected slot 0 to start dead")
	}

	// Many concurrent observers of the dead slot must not start more than
	// one rescue loop; we can't observe goroutine count directly, but we
	// can verify the slot heals once the host comes back, without any
	// additional external rescue trigger.
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			l.Get(0)
		}()
	}
	wg.Wait()

	atomic.StoreInt32(&up, 1)

	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if l.Get(0) != nil {
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatal("slot never recovered")
}
