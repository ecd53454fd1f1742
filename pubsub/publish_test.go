package pubsub_test

import (
	"strings"
	"testing"
	"time"

	"github.com/xenking/goredis/client"
	"github.com/xenking/goredis/pubsub"
	"github.com/xenking/goredis/resp"
	"github.com/xenking/goredis/resptest"
)

func TestPublishReturnsSubscriberCount(t *testing.T) {
	srv := resptest.NewServer(func(args []resp.Value) resp.Value {
		if strings.ToUpper(args[0].Str()) != "PUBLISH" {
			return resptest.Err("ERR unexpected command")
		}
		return resptest.Int(3)
	})
	build := func() (*client.DirectClient, error) {
		return client.New(client.Config{Addr: "x", Dial: srv.DialFunc(), CommandTimeout: time.Second})
	}

	p, err := pubsub.NewPublisher(build, time.Second, nil)
	if err != nil {
		t.Fatal(err)
	}
	defer p.Close()

	n, err := p.Publish("news", []byte("hello"))
	if err != nil {
		t.Fatal(err)
	}
	if n != 3 {
		t.Errorf("Publish returned %d, want 3", n)
	}
}

func TestPublishReconnectsAfterConnectionDrops(t *testing.T) {
	srv := resptest.NewServer(func(args []resp.Value) resp.Value { return resptest.Int(1) })
	build := func() (*client.DirectClient, error) {
		return client.New(client.Config{Addr: "x", Dial: srv.DialFunc(), CommandTimeout: time.Second})
	}

	p, err := pubsub.NewPublisher(build, time.Second, nil)
	if err != nil {
		t.Fatal(err)
	}
	defer p.Close()

	if err := p.Close(); err != nil {
		t.Fatal(err)
	}
	// Close tore down the connection directly (not via Publish), so the
	// next Publish call must observe the failure and transparently redial.
	if _, err := p.Publish("news", []byte("hi")); err != nil {
		t.Fatalf("expected transparent reconnect, got error: %v", err)
	}
}
