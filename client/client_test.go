package client_test

import (
	"errors"
	"testing"
	"time"

	"github.com/xenking/goredis/client"
	"github.com/xenking/goredis/errs"
	"github.com/xenking/goredis/resp"
	"github.com/xenking/goredis/resptest"
)

func newDirectClientOverPipe(t *testing.T, srv *resptest.Server) *client.DirectClient {
	t.Helper()
	c, err := client.New(client.Config{
		Addr:           "pipe",
		CommandTimeout: time.Second,
		Dial:           srv.DialFunc(),
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { c.Close() })
	return c
}

func TestDirectClientAgainstScriptedServer(t *testing.T) {
	store := map[string][]byte{}
	srv := resptest.NewServer(func(args []resp.Value) resp.Value {
		cmd := resptest.Args(args)
		switch cmd[0] {
		case "SET":
			store[cmd[1]] = args[2].Bytes
			return resptest.OK()
		case "GET":
			v, ok := store[cmd[1]]
			if !ok {
				return resptest.Nil()
			}
			return resptest.Bulk(string(v))
		case "DEL":
			n := 0
			for _, k := range cmd[1:] {
				if _, ok := store[k]; ok {
					delete(store, k)
					n++
				}
			}
			return resptest.Int(int64(n))
		default:
			return resptest.OK()
		}
	})

	c := newDirectClientOverPipe(t, srv)

	if _, err := c.Set("k", []byte("v"), 0); err != nil {
		t.Fatal(err)
	}
	v, err := c.Get("k")
	if err != nil {
		t.Fatal(err)
	}
	if string(v) != "v" {
		t.Errorf("got %q, want v", v)
	}

	n, err := c.Del("k")
	if err != nil || n != 1 {
		t.Errorf("Del: n=%d err=%v", n, err)
	}

	_, err = c.Get("k")
	var nf *errs.KeyNotFound
	if !errors.As(err, &nf) {
		t.Errorf("expected KeyNotFound, got %v", err)
	}
}

func TestGetRejectsEmptyKey(t *testing.T) {
	srv := resptest.NewServer(func(args []resp.Value) resp.Value { return resptest.OK() })
	c := newDirectClientOverPipe(t, srv)

	_, err := c.Get("")
	var ia *errs.IllegalArgument
	if !errors.As(err, &ia) {
		t.Errorf("expected IllegalArgument, got %v", err)
	}
}

func TestIncrDecrAndHash(t *testing.T) {
	counter := int64(0)
	hash := map[string]string{}
	srv := resptest.NewServer(func(args []resp.Value) resp.Value {
		cmd := resptest.Args(args)
		switch cmd[0] {
		case "INCR":
			counter++
			return resptest.Int(counter)
		case "HSET":
			_, existed := hash[cmd[2]]
			hash[cmd[2]] = cmd[3]
			if existed {
				return resptest.Int(0)
			}
			return resptest.Int(1)
		case "HGETALL":
			elems := make([]resp.Value, 0, len(hash)*2)
			for k, v := range hash {
				elems = append(elems, resptest.Bulk(k), resptest.Bulk(v))
			}
			return resp.NewArray(elems)
		default:
			return resptest.OK()
		}
	})
	c := newDirectClientOverPipe(t, srv)

	n, err := c.Incr("ctr")
	if err != nil || n != 1 {
		t.Errorf("Incr: n=%d err=%v", n, err)
	}

	if _, err := c.HSet("h", "f", []byte("v")); err != nil {
		t.Fatal(err)
	}
	m, err := c.HGetAll("h")
	if err != nil || m["f"] != "v" {
		t.Errorf("HGetAll: m=%v err=%v", m, err)
	}
}
