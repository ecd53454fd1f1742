package replica_test

import (
	"testing"
	"time"

	"github.com/xenking/goredis/client"
	"github.com/xenking/goredis/clientlist"
	"github.com/xenking/goredis/replica"
	"github.com/xenking/goredis/resp"
	"github.com/xenking/goredis/resptest"
)

func dialAlways(hostLabel string) clientlist.Dialer {
	return func(host string) (*client.DirectClient, error) {
		srv := resptest.NewServer(func(args []resp.Value) resp.Value {
			return resptest.Bulk(host)
		})
		return client.New(client.Config{Addr: host, CommandTimeout: time.Second, Dial: srv.DialFunc()})
	}
}

func TestWritesGoToMaster(t *testing.T) {
	l := clientlist.New([]string{"master", "slave1", "slave2"}, dialAlways(""), nil)
	defer l.Close()
	c := replica.New(l)

	m, err := c.Route(false)
	if err != nil {
		t.Fatal(err)
	}
	if m.Addr() != "master" {
		t.Errorf("got %q, want master", m.Addr())
	}
}

func TestReadsRoundRobinAcrossSlaves(t *testing.T) {
	l := clientlist.New([]string{"master", "slave1", "slave2"}, dialAlways(""), nil)
	defer l.Close()
	c := replica.New(l)

	seen := map[string]bool{}
	for i := 0; i < 10; i++ {
		s, err := c.Route(true)
		if err != nil {
			t.Fatal(err)
		}
		seen[s.Addr()] = true
	}
	if !seen["slave1"] || !seen["slave2"] {
		t.Errorf("expected round robin across both slaves, saw %v", seen)
	}
	if seen["master"] {
		t.Errorf("reads should not hit master while slaves are up")
	}
}

func TestNoSlavesFallsBackToMaster(t *testing.T) {
	l := clientlist.New([]string{"master"}, dialAlways(""), nil)
	defer l.Close()
	c := replica.New(l)

	s, err := c.Route(true)
	if err != nil {
		t.Fatal(err)
	}
	if s.Addr() != "master" {
		t.Errorf("got %q, want master", s.Addr())
	}
}
