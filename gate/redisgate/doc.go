// Package redisgate implements gate.Gate on a single Redis key so that several
// mock server processes can share one single-flight gate.
//
// Design Notes
//   - Ownership: SET key token NX PX ttl; the token is a fresh UUID per grant
//   - Renewal: while held, the lease is extended every ttl/3 if the token still matches
//   - Release: compare-and-delete in Lua, so a holder whose lease expired never frees someone else's grant
//   - Waiting: polling at a fixed interval; grant order between processes is not FIFO
//
// Trade-offs
//
//	Pros: works across processes, survives a crashed holder (lease expiry)
//	Cons: polling latency, no fairness between waiters
//
// Example:
//
//	g, err := redisgate.Dial(ctx, redisgate.Config{RedisAddr: "localhost:6379"})
//	if err != nil {
//	    return err
//	}
//	defer g.Close()
//
// Use memorygate when a single process serves all traffic.
package redisgate
