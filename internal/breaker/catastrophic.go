package breaker

import "sync/atomic"

// MaxBackends bounds the catastrophic-hint flag array. It is a compile-time
// size, per spec §9 ("Global mutable state... model as a fixed-size array of
// atomic booleans indexed by backend id"); IDAllocator panics if exhausted,
// which is treated as a configuration error (a deployment with more than
// this many backends needs a larger build, not a silent fallback).
const MaxBackends = 4096

// IDAllocator hands out small dense backend ids on registration, owned by
// the upstream manager for the lifetime of one config snapshot.
type IDAllocator struct {
	next atomic.Uint32
}

func (a *IDAllocator) Next() uint32 {
	id := a.next.Add(1) - 1
	if id >= MaxBackends {
		panic("breaker: backend id allocator exhausted MaxBackends")
	}
	return id
}

// CatastrophicFlags is the process-wide array other workers consult to
// short-circuit a backend without needing their own sliding window to fill
// (spec §4.7 "Catastrophic hint").
type CatastrophicFlags struct {
	flags [MaxBackends]atomic.Bool
}

func NewCatastrophicFlags() *CatastrophicFlags {
	return &CatastrophicFlags{}
}

func (f *CatastrophicFlags) Set(id uint32, v bool) {
	if id >= MaxBackends {
		return
	}
	f.flags[id].Store(v)
}

func (f *CatastrophicFlags) Get(id uint32) bool {
	if id >= MaxBackends {
		return false
	}
	return f.flags[id].Load()
}
