package client

import (
	"fmt"
	"strconv"
	"time"

	"github.com/xenking/goredis/errs"
	"github.com/xenking/goredis/exec"
	"github.com/xenking/goredis/resp"
)

// The methods below are thin command wrappers: validate arguments, build
// the RESP command, and parse the reply via the execution wrapper (§4.C).
// Per §1 these carry no core engineering weight — the core is the channel,
// the codec and the routing layers above them — so they are exercised by a
// handful of smoke tests rather than exhaustively.

func nonEmpty(method, name, v string) func() error {
	return func() error {
		if v == "" {
			return errs.NewIllegalArgument(method, name+" must not be empty")
		}
		return nil
	}
}

func positive(method, name string, v int) func() error {
	return func() error {
		if v <= 0 {
			return errs.NewIllegalArgument(method, name+" must be positive")
		}
		return nil
	}
}

func parseOK(v resp.Value) (bool, error) {
	return v.Kind == resp.SimpleString && v.Str() == "OK", nil
}

func parseBulkOrNil(key string) func(resp.Value) ([]byte, error) {
	return func(v resp.Value) ([]byte, error) {
		if v.IsNil() {
			return nil, errs.NewKeyNotFound(key)
		}
		return v.Bytes, nil
	}
}

func parseInt(v resp.Value) (int64, error) { return v.Int() }

func parseBool(v resp.Value) (bool, error) {
	n, err := v.Int()
	return n == 1, err
}

func parseStringArray(v resp.Value) ([]string, error) {
	if v.IsNil() {
		return nil, nil
	}
	out := make([]string, len(v.Elems))
	for i, e := range v.Elems {
		out[i] = e.Str()
	}
	return out, nil
}

func parseStringMap(v resp.Value) (map[string]string, error) {
	if v.IsNil() {
		return map[string]string{}, nil
	}
	out := make(map[string]string, len(v.Elems)/2)
	for i := 0; i+1 < len(v.Elems); i += 2 {
		out[v.Elems[i].Str()] = v.Elems[i+1].Str()
	}
	return out, nil
}

func parseFloat(v resp.Value) (float64, error) {
	if v.IsNil() {
		return 0, nil
	}
	return resp.ParseFloat(v.Str())
}

// Get returns the value for key, or errs.KeyNotFound when absent.
func (c *DirectClient) Get(key string) ([]byte, error) {
	return exec.Execute(c.wrapper, c, "GET", c.timeout(),
		nonEmpty("GET", "key", key),
		func() *resp.Command { return resp.NewCommand([]byte("GET"), []byte(key)) },
		parseBulkOrNil(key))
}

// Set stores value at key, optionally with a TTL.
func (c *DirectClient) Set(key string, value []byte, ttl time.Duration) (bool, error) {
	return exec.Execute(c.wrapper, c, "SET", c.timeout(),
		nonEmpty("SET", "key", key),
		func() *resp.Command {
			args := [][]byte{[]byte("SET"), []byte(key), value}
			if ttl > 0 {
				args = append(args, []byte("PX"), []byte(strconv.FormatInt(ttl.Milliseconds(), 10)))
			}
			return resp.NewCommand(args...)
		},
		parseOK)
}

// Del removes the named keys, returning the number removed.
func (c *DirectClient) Del(keys ...string) (int64, error) {
	return exec.Execute(c.wrapper, c, "DEL", c.timeout(),
		positive("DEL", "keys", len(keys)),
		func() *resp.Command { return resp.NewCommand(prepend("DEL", keys)...) },
		parseInt)
}

// Exists reports how many of the given keys exist.
func (c *DirectClient) Exists(keys ...string) (int64, error) {
	return exec.Execute(c.wrapper, c, "EXISTS", c.timeout(),
		positive("EXISTS", "keys", len(keys)),
		func() *resp.Command { return resp.NewCommand(prepend("EXISTS", keys)...) },
		parseInt)
}

// Expire sets a key's TTL, returning whether the key existed.
func (c *DirectClient) Expire(key string, ttl time.Duration) (bool, error) {
	return exec.Execute(c.wrapper, c, "EXPIRE", c.timeout(),
		nonEmpty("EXPIRE", "key", key),
		func() *resp.Command {
			secs := strconv.FormatInt(int64(ttl.Seconds()), 10)
			return resp.NewCommand([]byte("EXPIRE"), []byte(key), []byte(secs))
		},
		parseBool)
}

// TTL returns the remaining time to live, or -1/-2 per Redis semantics.
func (c *DirectClient) TTL(key string) (int64, error) {
	return exec.Execute(c.wrapper, c, "TTL", c.timeout(),
		nonEmpty("TTL", "key", key),
		func() *resp.Command { return resp.NewCommand([]byte("TTL"), []byte(key)) },
		parseInt)
}

// Incr atomically increments a counter key by one.
func (c *DirectClient) Incr(key string) (int64, error) {
	return exec.Execute(c.wrapper, c, "INCR", c.timeout(),
		nonEmpty("INCR", "key", key),
		func() *resp.Command { return resp.NewCommand([]byte("INCR"), []byte(key)) },
		parseInt)
}

// IncrBy atomically increments a counter key by delta.
func (c *DirectClient) IncrBy(key string, delta int64) (int64, error) {
	return exec.Execute(c.wrapper, c, "INCRBY", c.timeout(),
		nonEmpty("INCRBY", "key", key),
		func() *resp.Command {
			return resp.NewCommand([]byte("INCRBY"), []byte(key), []byte(strconv.FormatInt(delta, 10)))
		},
		parseInt)
}

// Decr atomically decrements a counter key by one.
func (c *DirectClient) Decr(key string) (int64, error) {
	return exec.Execute(c.wrapper, c, "DECR", c.timeout(),
		nonEmpty("DECR", "key", key),
		func() *resp.Command { return resp.NewCommand([]byte("DECR"), []byte(key)) },
		parseInt)
}

// DecrBy atomically decrements a counter key by delta.
func (c *DirectClient) DecrBy(key string, delta int64) (int64, error) {
	return exec.Execute(c.wrapper, c, "DECRBY", c.timeout(),
		nonEmpty("DECRBY", "key", key),
		func() *resp.Command {
			return resp.NewCommand([]byte("DECRBY"), []byte(key), []byte(strconv.FormatInt(delta, 10)))
		},
		parseInt)
}

// HSet sets a hash field.
func (c *DirectClient) HSet(key, field string, value []byte) (bool, error) {
	return exec.Execute(c.wrapper, c, "HSET", c.timeout(),
		nonEmpty("HSET", "key", key),
		func() *resp.Command {
			return resp.NewCommand([]byte("HSET"), []byte(key), []byte(field), value)
		},
		parseBool)
}

// HGet returns a hash field's value.
func (c *DirectClient) HGet(key, field string) ([]byte, error) {
	return exec.Execute(c.wrapper, c, "HGET", c.timeout(),
		nonEmpty("HGET", "key", key),
		func() *resp.Command { return resp.NewCommand([]byte("HGET"), []byte(key), []byte(field)) },
		parseBulkOrNil(key))
}

// HGetAll returns every field/value pair in a hash.
func (c *DirectClient) HGetAll(key string) (map[string]string, error) {
	return exec.Execute(c.wrapper, c, "HGETALL", c.timeout(),
		nonEmpty("HGETALL", "key", key),
		func() *resp.Command { return resp.NewCommand([]byte("HGETALL"), []byte(key)) },
		parseStringMap)
}

// HDel removes hash fields, returning the number removed.
func (c *DirectClient) HDel(key string, fields ...string) (int64, error) {
	return exec.Execute(c.wrapper, c, "HDEL", c.timeout(),
		nonEmpty("HDEL", "key", key),
		func() *resp.Command { return resp.NewCommand(prepend2("HDEL", key, fields)...) },
		parseInt)
}

// LPush prepends values onto a list.
func (c *DirectClient) LPush(key string, values ...[]byte) (int64, error) {
	return exec.Execute(c.wrapper, c, "LPUSH", c.timeout(),
		nonEmpty("LPUSH", "key", key),
		func() *resp.Command { return resp.NewCommand(prependBytes("LPUSH", key, values)...) },
		parseInt)
}

// RPush appends values onto a list.
func (c *DirectClient) RPush(key string, values ...[]byte) (int64, error) {
	return exec.Execute(c.wrapper, c, "RPUSH", c.timeout(),
		nonEmpty("RPUSH", "key", key),
		func() *resp.Command { return resp.NewCommand(prependBytes("RPUSH", key, values)...) },
		parseInt)
}

// LRange returns a list slice [start, stop] inclusive.
func (c *DirectClient) LRange(key string, start, stop int64) ([]string, error) {
	return exec.Execute(c.wrapper, c, "LRANGE", c.timeout(),
		nonEmpty("LRANGE", "key", key),
		func() *resp.Command {
			return resp.NewCommand([]byte("LRANGE"), []byte(key),
				[]byte(strconv.FormatInt(start, 10)), []byte(strconv.FormatInt(stop, 10)))
		},
		parseStringArray)
}

// LPop removes and returns the list's head element.
func (c *DirectClient) LPop(key string) ([]byte, error) {
	return exec.Execute(c.wrapper, c, "LPOP", c.timeout(),
		nonEmpty("LPOP", "key", key),
		func() *resp.Command { return resp.NewCommand([]byte("LPOP"), []byte(key)) },
		parseBulkOrNil(key))
}

// RPop removes and returns the list's tail element.
func (c *DirectClient) RPop(key string) ([]byte, error) {
	return exec.Execute(c.wrapper, c, "RPOP", c.timeout(),
		nonEmpty("RPOP", "key", key),
		func() *resp.Command { return resp.NewCommand([]byte("RPOP"), []byte(key)) },
		parseBulkOrNil(key))
}

// SAdd adds members to a set, returning the number newly added.
func (c *DirectClient) SAdd(key string, members ...string) (int64, error) {
	return exec.Execute(c.wrapper, c, "SADD", c.timeout(),
		nonEmpty("SADD", "key", key),
		func() *resp.Command { return resp.NewCommand(prepend2("SADD", key, members)...) },
		parseInt)
}

// SRem removes members from a set, returning the number removed.
func (c *DirectClient) SRem(key string, members ...string) (int64, error) {
	return exec.Execute(c.wrapper, c, "SREM", c.timeout(),
		nonEmpty("SREM", "key", key),
		func() *resp.Command { return resp.NewCommand(prepend2("SREM", key, members)...) },
		parseInt)
}

// SMembers returns every member of a set.
func (c *DirectClient) SMembers(key string) ([]string, error) {
	return exec.Execute(c.wrapper, c, "SMEMBERS", c.timeout(),
		nonEmpty("SMEMBERS", "key", key),
		func() *resp.Command { return resp.NewCommand([]byte("SMEMBERS"), []byte(key)) },
		parseStringArray)
}

// SIsMember reports whether member belongs to the set at key.
func (c *DirectClient) SIsMember(key, member string) (bool, error) {
	return exec.Execute(c.wrapper, c, "SISMEMBER", c.timeout(),
		nonEmpty("SISMEMBER", "key", key),
		func() *resp.Command { return resp.NewCommand([]byte("SISMEMBER"), []byte(key), []byte(member)) },
		parseBool)
}

// ZAddMode selects ZADD's optional NX/XX existence condition.
type ZAddMode int

const (
	ZAddDefault ZAddMode = iota
	ZAddNX
	ZAddXX
)

// ZAdd adds one scored member to a sorted set.
//
// Resolves the Open Question in spec.md §9: the entry appended to the
// outbound command is keyed by member, not by the outer key — the original
// implementation's map-keyed-by-key path was a bug. The external method
// shape is unchanged.
func (c *DirectClient) ZAdd(key string, score float64, member string, mode ZAddMode) (bool, error) {
	return exec.Execute(c.wrapper, c, "ZADD", c.timeout(),
		nonEmpty("ZADD", "key", key),
		func() *resp.Command {
			args := [][]byte{[]byte("ZADD"), []byte(key)}
			switch mode {
			case ZAddNX:
				args = append(args, []byte("NX"))
			case ZAddXX:
				args = append(args, []byte("XX"))
			}
			args = append(args, []byte(resp.FormatFloat(score)), []byte(member))
			return resp.NewCommand(args...)
		},
		parseBool)
}

// ZScore returns a sorted-set member's score.
func (c *DirectClient) ZScore(key, member string) (float64, error) {
	return exec.Execute(c.wrapper, c, "ZSCORE", c.timeout(),
		nonEmpty("ZSCORE", "key", key),
		func() *resp.Command { return resp.NewCommand([]byte("ZSCORE"), []byte(key), []byte(member)) },
		parseFloat)
}

// ZRange returns members [start, stop] by rank.
func (c *DirectClient) ZRange(key string, start, stop int64) ([]string, error) {
	return exec.Execute(c.wrapper, c, "ZRANGE", c.timeout(),
		nonEmpty("ZRANGE", "key", key),
		func() *resp.Command {
			return resp.NewCommand([]byte("ZRANGE"), []byte(key),
				[]byte(strconv.FormatInt(start, 10)), []byte(strconv.FormatInt(stop, 10)))
		},
		parseStringArray)
}

// ZRangeByScore returns members with score in [min, max].
func (c *DirectClient) ZRangeByScore(key string, min, max float64) ([]string, error) {
	return exec.Execute(c.wrapper, c, "ZRANGEBYSCORE", c.timeout(),
		nonEmpty("ZRANGEBYSCORE", "key", key),
		func() *resp.Command {
			return resp.NewCommand([]byte("ZRANGEBYSCORE"), []byte(key),
				[]byte(resp.FormatFloat(min)), []byte(resp.FormatFloat(max)))
		},
		parseStringArray)
}

// ZRem removes members from a sorted set.
func (c *DirectClient) ZRem(key string, members ...string) (int64, error) {
	return exec.Execute(c.wrapper, c, "ZREM", c.timeout(),
		nonEmpty("ZREM", "key", key),
		func() *resp.Command { return resp.NewCommand(prepend2("ZREM", key, members)...) },
		parseInt)
}

// GeoAdd adds one geospatial member.
func (c *DirectClient) GeoAdd(key string, lon, lat float64, member string) (int64, error) {
	return exec.Execute(c.wrapper, c, "GEOADD", c.timeout(),
		nonEmpty("GEOADD", "key", key),
		func() *resp.Command {
			return resp.NewCommand([]byte("GEOADD"), []byte(key),
				[]byte(resp.FormatFloat(lon)), []byte(resp.FormatFloat(lat)), []byte(member))
		},
		parseInt)
}

// GeoPos returns a geospatial member's longitude/latitude.
func (c *DirectClient) GeoPos(key, member string) (lon, lat float64, err error) {
	type pos struct{ lon, lat float64 }
	p, err := exec.Execute(c.wrapper, c, "GEOPOS", c.timeout(),
		nonEmpty("GEOPOS", "key", key),
		func() *resp.Command { return resp.NewCommand([]byte("GEOPOS"), []byte(key), []byte(member)) },
		func(v resp.Value) (pos, error) {
			if len(v.Elems) != 1 || v.Elems[0].IsNil() {
				return pos{}, errs.NewKeyNotFound(member)
			}
			coords := v.Elems[0]
			lon, err := resp.ParseFloat(coords.Elems[0].Str())
			if err != nil {
				return pos{}, err
			}
			lat, err := resp.ParseFloat(coords.Elems[1].Str())
			return pos{lon, lat}, err
		})
	return p.lon, p.lat, err
}

// GeoDist returns the distance in meters between two members.
func (c *DirectClient) GeoDist(key, member1, member2 string) (float64, error) {
	return exec.Execute(c.wrapper, c, "GEODIST", c.timeout(),
		nonEmpty("GEODIST", "key", key),
		func() *resp.Command {
			return resp.NewCommand([]byte("GEODIST"), []byte(key), []byte(member1), []byte(member2), []byte("m"))
		},
		parseFloat)
}

// GeoSearch finds members within radiusMeters of (lon, lat).
func (c *DirectClient) GeoSearch(key string, lon, lat, radiusMeters float64) ([]string, error) {
	return exec.Execute(c.wrapper, c, "GEOSEARCH", c.timeout(),
		nonEmpty("GEOSEARCH", "key", key),
		func() *resp.Command {
			return resp.NewCommand([]byte("GEOSEARCH"), []byte(key),
				[]byte("FROMLONLAT"), []byte(resp.FormatFloat(lon)), []byte(resp.FormatFloat(lat)),
				[]byte("BYRADIUS"), []byte(resp.FormatFloat(radiusMeters)), []byte("m"))
		},
		parseStringArray)
}

// ScanResult is one page of a SCAN cursor iteration.
type ScanResult struct {
	Cursor uint64
	Keys   []string
}

// Scan iterates the keyspace without KEYS' O(N) blocking. Grounded in
// overlord's proto/redis command set listing SCAN alongside GET/DEL.
func (c *DirectClient) Scan(cursor uint64, match string, count int) (ScanResult, error) {
	return exec.Execute(c.wrapper, c, "SCAN", c.timeout(), nil,
		func() *resp.Command {
			args := [][]byte{[]byte("SCAN"), []byte(strconv.FormatUint(cursor, 10))}
			if match != "" {
				args = append(args, []byte("MATCH"), []byte(match))
			}
			if count > 0 {
				args = append(args, []byte("COUNT"), []byte(strconv.Itoa(count)))
			}
			return resp.NewCommand(args...)
		},
		func(v resp.Value) (ScanResult, error) {
			if len(v.Elems) != 2 {
				return ScanResult{}, errs.UnexpectedError(fmt.Errorf("SCAN: malformed reply"))
			}
			next, err := v.Elems[0].Int()
			if err != nil {
				return ScanResult{}, err
			}
			keys, err := parseStringArray(v.Elems[1])
			return ScanResult{Cursor: uint64(next), Keys: keys}, err
		})
}

// Ping checks liveness outside the heartbeat loop.
func (c *DirectClient) Ping() (bool, error) {
	return exec.Execute(c.wrapper, c, "PING", c.timeout(), nil,
		func() *resp.Command { return resp.NewCommand([]byte("PING")) },
		func(v resp.Value) (bool, error) { return v.Str() == "PONG", nil })
}

func prepend(cmd string, rest []string) [][]byte {
	out := make([][]byte, 0, len(rest)+1)
	out = append(out, []byte(cmd))
	for _, r := range rest {
		out = append(out, []byte(r))
	}
	return out
}

func prepend2(cmd, key string, rest []string) [][]byte {
	out := make([][]byte, 0, len(rest)+2)
	out = append(out, []byte(cmd), []byte(key))
	for _, r := range rest {
		out = append(out, []byte(r))
	}
	return out
}

func prependBytes(cmd, key string, rest [][]byte) [][]byte {
	out := make([][]byte, 0, len(rest)+2)
	out = append(out, []byte(cmd), []byte(key))
	out = append(out, rest...)
	return out
}

