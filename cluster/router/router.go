// Package router implements §4.I: the Cluster Node Router. It bootstraps
// cluster topology from CLUSTER SLOTS, resolves a slot to the client that
// currently owns it (honoring MOVED overrides and round-robin slave reads),
// and lazily dials non-member hosts named by a redirect. Grounded on
// moby's vendored gopkg.in/redis.v3/cluster.go for the slotsMx/reloading
// single-flight shape and yiippee-go-redis-note/redis/cluster.go for
// round-robin slave selection.
package router

import (
	"fmt"
	"sort"
	"sync"

	"go.uber.org/zap"

	"github.com/xenking/goredis/client"
	"github.com/xenking/goredis/clientlist"
	"github.com/xenking/goredis/errs"
	"github.com/xenking/goredis/resp"
)

// Router is one immutable topology snapshot plus the mutable MOVED-override
// map layered on top of it. A fresh Router supersedes a stale one; it is
// never mutated in place beyond overrides and the lazily grown temp-client
// set for non-member redirect targets.
type Router struct {
	nodes  []*Node // sorted by StartSlot, covering [0, slot.Count)
	dial   clientlist.Dialer
	logger *zap.Logger

	members *clientlist.List // one slot per distinct member host
	hostIdx map[string]int   // host -> index into members

	overridesMu sync.RWMutex
	overrides   map[int]string // slot -> host, set by MOVED

	tempMu    sync.Mutex
	temp      map[string]*client.DirectClient // non-member hosts dialed on demand
}

// Build bootstraps a Router by issuing CLUSTER SLOTS against seeds in
// order, using the first one that answers successfully.
func Build(seeds []string, dial clientlist.Dialer, logger *zap.Logger) (*Router, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	var lastErr error
	for _, seed := range seeds {
		r, err := bootstrapFrom(seed, dial, logger)
		if err != nil {
			lastErr = err
			logger.Warn("cluster bootstrap: seed failed", zap.String("seed", seed), zap.Error(err))
			continue
		}
		return r, nil
	}
	return nil, fmt.Errorf("cluster: bootstrap failed against all %d seeds: %w", len(seeds), lastErr)
}

func bootstrapFrom(seed string, dial clientlist.Dialer, logger *zap.Logger) (*Router, error) {
	c, err := dial(seed)
	if err != nil {
		return nil, err
	}
	defer c.Close()

	v, err := c.Send(resp.NewCommand([]byte("CLUSTER"), []byte("SLOTS")), 0)
	if err != nil {
		return nil, err
	}
	nodes, err := parseClusterSlots(v)
	if err != nil {
		return nil, err
	}
	return build(nodes, dial, logger)
}

func build(nodes []*Node, dial clientlist.Dialer, logger *zap.Logger) (*Router, error) {
	sort.Slice(nodes, func(i, j int) bool { return nodes[i].StartSlot < nodes[j].StartSlot })
	if err := verifyCoverage(nodes); err != nil {
		return nil, err
	}

	hosts := make([]string, 0, len(nodes)*2)
	hostIdx := make(map[string]int)
	addHost := func(h string) {
		if _, ok := hostIdx[h]; ok || h == "" {
			return
		}
		hostIdx[h] = len(hosts)
		hosts = append(hosts, h)
	}
	for _, n := range nodes {
		addHost(n.MasterHost)
		for _, s := range n.SlaveHosts {
			addHost(s)
		}
	}

	members := clientlist.New(hosts, clientlist.Dialer(dial), logger)
	return &Router{
		nodes:     nodes,
		dial:      dial,
		logger:    logger,
		members:   members,
		hostIdx:   hostIdx,
		overrides: make(map[int]string),
		temp:      make(map[string]*client.DirectClient),
	}, nil
}

// verifyCoverage requires the sorted node list to tile [0, slot.Count)
// exactly, with no gaps and no overlap.
func verifyCoverage(nodes []*Node) error {
	if len(nodes) == 0 {
		return fmt.Errorf("cluster: CLUSTER SLOTS returned no nodes")
	}
	if nodes[0].StartSlot != 0 {
		return fmt.Errorf("cluster: slot coverage starts at %d, want 0", nodes[0].StartSlot)
	}
	for i := 1; i < len(nodes); i++ {
		if nodes[i].StartSlot != nodes[i-1].EndSlot+1 {
			return fmt.Errorf("cluster: gap or overlap between slots %d and %d",
				nodes[i-1].EndSlot, nodes[i].StartSlot)
		}
	}
	const lastSlot = 16384 - 1
	if nodes[len(nodes)-1].EndSlot != lastSlot {
		return fmt.Errorf("cluster: slot coverage ends at %d, want %d", nodes[len(nodes)-1].EndSlot, lastSlot)
	}
	return nil
}

// parseClusterSlots decodes a CLUSTER SLOTS reply: an array of
// [startSlot, endSlot, [masterHost, masterPort, ...], [slaveHost, slavePort, ...]*].
func parseClusterSlots(v resp.Value) ([]*Node, error) {
	if v.Kind == resp.Error {
		return nil, errs.NewServerError(v.Str())
	}
	if v.Kind != resp.Array {
		return nil, fmt.Errorf("cluster: CLUSTER SLOTS: unexpected reply kind %s", v.Kind)
	}

	nodes := make([]*Node, 0, len(v.Elems))
	for _, entry := range v.Elems {
		if entry.Kind != resp.Array || len(entry.Elems) < 3 {
			return nil, fmt.Errorf("cluster: CLUSTER SLOTS: malformed slot entry")
		}
		start, err := entry.Elems[0].Int()
		if err != nil {
			return nil, err
		}
		end, err := entry.Elems[1].Int()
		if err != nil {
			return nil, err
		}
		master, err := hostPort(entry.Elems[2])
		if err != nil {
			return nil, err
		}
		n := &Node{StartSlot: int(start), EndSlot: int(end), MasterHost: master}
		for _, s := range entry.Elems[3:] {
			host, err := hostPort(s)
			if err != nil {
				return nil, err
			}
			n.SlaveHosts = append(n.SlaveHosts, host)
		}
		nodes = append(nodes, n)
	}
	return nodes, nil
}

func hostPort(v resp.Value) (string, error) {
	if v.Kind != resp.Array || len(v.Elems) < 2 {
		return "", fmt.Errorf("cluster: CLUSTER SLOTS: malformed host/port pair")
	}
	portN, err := v.Elems[1].Int()
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%s:%d", v.Elems[0].Str(), portN), nil
}

// nodeForSlot locates the node covering slot via binary search over the
// sorted, gap-free list.
func (r *Router) nodeForSlot(slot int) *Node {
	i := sort.Search(len(r.nodes), func(i int) bool { return r.nodes[i].EndSlot >= slot })
	if i < len(r.nodes) && r.nodes[i].Covers(slot) {
		return r.nodes[i]
	}
	return nil
}

// ClientForSlot resolves slot to a client, honoring any MOVED override and,
// when allowSlave is set, preferring a round-robin slave before falling
// back to the master.
func (r *Router) ClientForSlot(slot int, allowSlave bool) (*client.DirectClient, error) {
	if host, ok := r.override(slot); ok {
		return r.ClientForHost(host)
	}
	node := r.nodeForSlot(slot)
	if node == nil {
		return nil, errs.NewIllegalState(fmt.Sprintf("no cluster node covers slot %d", slot))
	}
	if allowSlave {
		for attempt := 0; attempt < len(node.SlaveHosts); attempt++ {
			host := node.nextSlave()
			if c, err := r.ClientForHost(host); err == nil && c.Available() {
				return c, nil
			}
		}
	}
	return r.ClientForHost(node.MasterHost)
}

// ClientForHost returns the client for host, dialing it lazily (and caching
// it) when host is not a recognized cluster member — the case for an ASK
// redirect target outside the current slot map.
func (r *Router) ClientForHost(host string) (*client.DirectClient, error) {
	if idx, ok := r.hostIdx[host]; ok {
		if c := r.members.Get(idx); c != nil {
			return c, nil
		}
		return nil, errs.NewIllegalState("cluster member " + host + " unavailable")
	}
	return r.tempClient(host)
}

func (r *Router) tempClient(host string) (*client.DirectClient, error) {
	r.tempMu.Lock()
	if c, ok := r.temp[host]; ok {
		r.tempMu.Unlock()
		if c.Available() {
			return c, nil
		}
	} else {
		r.tempMu.Unlock()
	}

	c, err := r.dial(host)
	if err != nil {
		return nil, err
	}

	r.tempMu.Lock()
	if existing, ok := r.temp[host]; ok && existing.Available() {
		r.tempMu.Unlock()
		c.Close() // lost the race; keep the winner
		return existing, nil
	}
	r.temp[host] = c
	r.tempMu.Unlock()
	return c, nil
}

// RegisterMoved records host as the owner of slot until the router is
// rebuilt from fresh topology.
func (r *Router) RegisterMoved(slot int, host string) {
	r.overridesMu.Lock()
	r.overrides[slot] = host
	r.overridesMu.Unlock()
}

func (r *Router) override(slot int) (string, bool) {
	r.overridesMu.RLock()
	defer r.overridesMu.RUnlock()
	host, ok := r.overrides[slot]
	return host, ok
}

// Close tears down every member and temporary client this Router dialed.
func (r *Router) Close() {
	r.members.Close()
	r.tempMu.Lock()
	for _, c := range r.temp {
		c.Close()
	}
	r.tempMu.Unlock()
}
