// Package replica implements §4.G: a master/slave client that splits reads
// and writes across an underlying clientlist.List, where index 0 is the
// master and 1..N are slaves. Grounded on yiippee-go-redis-note's
// go-redis-v5-derived cluster.go round-robin slave selection and its
// ReadOnly/fallback-to-master behavior.
package replica

import (
	"sync/atomic"

	"github.com/xenking/goredis/client"
	"github.com/xenking/goredis/clientlist"
	"github.com/xenking/goredis/errs"
)

// Client splits read-only traffic across slaves by round robin, falling
// back to the master when the chosen slave is unavailable. Writes always
// go to the master.
type Client struct {
	list *clientlist.List
	rr   uint64
}

// New wraps list, whose index 0 must be the master and 1..N the slaves.
func New(list *clientlist.List) *Client { return &Client{list: list} }

// Master returns the master client, failing if it is unavailable.
func (c *Client) Master() (*client.DirectClient, error) {
	m := c.list.Get(0)
	if m == nil {
		return nil, errs.NewIllegalState("master unavailable")
	}
	return m, nil
}

// Slave picks the next slave by round robin, falling back to the master
// when that slave is down or there are no slaves configured.
func (c *Client) Slave() (*client.DirectClient, error) {
	n := c.list.Len() - 1
	if n <= 0 {
		return c.Master()
	}
	idx := 1 + int(atomic.AddUint64(&c.rr, 1)%uint64(n))
	if s := c.list.Get(idx); s != nil {
		return s, nil
	}
	return c.Master()
}

// Route returns the master or a slave depending on readOnly, the
// command-level metadata flag §4.G describes.
func (c *Client) Route(readOnly bool) (*client.DirectClient, error) {
	if readOnly {
		return c.Slave()
	}
	return c.Master()
}

// Close tears down every underlying connection.
func (c *Client) Close() { c.list.Close() }
