package objc

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/wippyai/hle-runtime/errors"
)

// PoolToken identifies a pushed autorelease pool. It is opaque to the guest.
type PoolToken uint32

type pool struct {
	token   PoolToken
	objects []ID
}

// PushPool pushes a new autorelease pool and returns its token.
func (rt *Runtime) PushPool() PoolToken {
	rt.nextToken++
	p := &pool{token: PoolToken(rt.nextToken)}
	rt.pools = append(rt.pools, p)
	return p.token
}

// PopPool drains the top pool and pops it. Pools pop in strict LIFO
// order: a token that is not on top faults with pool_order.
func (rt *Runtime) PopPool(token PoolToken) {
	if len(rt.pools) == 0 || rt.pools[len(rt.pools)-1].token != token {
		errors.Throw(errors.New(errors.PhaseObjC, errors.KindPoolOrder).
			Value(token).
			Detail("pop of pool %d, top is %s", token, rt.topPoolName()).
			Build())
	}

	top := rt.pools[len(rt.pools)-1]
	// Releases may autorelease more objects into this pool.
	for len(top.objects) > 0 {
		batch := top.objects
		top.objects = nil
		for _, id := range batch {
			rt.Release(id)
		}
	}

	if len(rt.pools) == 0 || rt.pools[len(rt.pools)-1] != top {
		errors.Throw(errors.New(errors.PhaseObjC, errors.KindPoolOrder).
			Value(token).
			Detail("pool %d was left unbalanced by objects it released", token).
			Build())
	}
	rt.pools = rt.pools[:len(rt.pools)-1]
}

// WithPool runs fn inside a fresh autorelease pool and drains it afterwards.
// The pool is drained even if fn faults, so a recovered fault leaves the
// pool stack balanced.
func (rt *Runtime) WithPool(fn func()) {
	token := rt.PushPool()
	defer rt.PopPool(token)
	fn()
}

// PoolDepth returns the number of pushed pools.
func (rt *Runtime) PoolDepth() int {
	return len(rt.pools)
}

// Autorelease registers id with the top pool and returns id. Without a
// pool the object leaks, as on the guest platform, and a warning is logged.
func (rt *Runtime) Autorelease(id ID) ID {
	if id == Nil {
		return Nil
	}
	e := rt.live(id, "autorelease")
	if e == nil {
		return id
	}
	if e.phase == phaseDeallocating {
		errors.Throw(errors.Reentrancy(uint32(id), "autorelease of an object during its own deallocation"))
	}
	if len(rt.pools) == 0 {
		rt.log.Warn("autorelease with no pool in place; object leaks",
			zap.Stringer("object", id),
			zap.String("class", e.class.Name))
		return id
	}
	top := rt.pools[len(rt.pools)-1]
	top.objects = append(top.objects, id)
	return id
}

func (rt *Runtime) topPoolName() string {
	if len(rt.pools) == 0 {
		return "none"
	}
	return fmt.Sprintf("%d", rt.pools[len(rt.pools)-1].token)
}
