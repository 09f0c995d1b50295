package imagecache

import (
	"sync"

	"github.com/cespare/xxhash/v2"
)

// operationGroup is the value stored per (target, slot): either a
// single operation or a sequence, to accommodate multi-frame
// animations where one "set" spawns N parallel downloads bound under
// one slot.
type operationGroup struct {
	single Operation
	many   []Operation
}

func (g operationGroup) cancel() {
	if g.single != nil {
		g.single.Cancel()
	}
	for _, op := range g.many {
		if op != nil {
			op.Cancel()
		}
	}
}

// registryShardCount controls how many independent mutexes the
// registry spreads targets across, reducing contention when many
// views bind/cancel operations concurrently. Modeled on the
// shard-by-hash lock striping a block cache uses; here xxhash of the
// target's address picks the shard.
const registryShardCount = 16

type registryShard struct {
	mu      sync.Mutex
	entries map[any]map[string]operationGroup
}

// OperationRegistry is the per-target operation registry: a map from
// (target, slot-name) to an operation or sequence of operations, with
// replace-and-cancel semantics.
type OperationRegistry struct {
	shards [registryShardCount]*registryShard
}

// NewOperationRegistry returns an empty registry.
func NewOperationRegistry() *OperationRegistry {
	r := &OperationRegistry{}
	for i := range r.shards {
		r.shards[i] = &registryShard{entries: make(map[any]map[string]operationGroup)}
	}
	return r
}

func (r *OperationRegistry) shardFor(target any) *registryShard {
	h := xxhash.Sum64String(ptrString(target))
	return r.shards[h%uint64(registryShardCount)]
}

// Bind cancels any existing operation at (target, slot) and installs
// op as the new single occupant.
func (r *OperationRegistry) Bind(target any, op Operation, slot string) {
	r.bind(target, slot, operationGroup{single: op})
}

// BindSequence is Bind for the multi-operation case (one slot backed
// by N parallel operations, e.g. animated-frame downloads).
func (r *OperationRegistry) BindSequence(target any, ops []Operation, slot string) {
	r.bind(target, slot, operationGroup{many: ops})
}

func (r *OperationRegistry) bind(target any, slot string, group operationGroup) {
	r.cancel(target, slot)

	shard := r.shardFor(target)
	shard.mu.Lock()
	defer shard.mu.Unlock()

	slots := shard.entries[target]
	if slots == nil {
		slots = make(map[string]operationGroup)
		shard.entries[target] = slots
	}
	slots[slot] = group
}

// Cancel looks up (target, slot), cancels whatever is stored there
// (single or sequence), and removes the mapping.
func (r *OperationRegistry) Cancel(target any, slot string) {
	r.cancel(target, slot)
}

func (r *OperationRegistry) cancel(target any, slot string) {
	shard := r.shardFor(target)
	shard.mu.Lock()
	slots, ok := shard.entries[target]
	var group operationGroup
	if ok {
		group, ok = slots[slot]
		if ok {
			delete(slots, slot)
			if len(slots) == 0 {
				delete(shard.entries, target)
			}
		}
	}
	shard.mu.Unlock()

	if ok {
		group.cancel()
	}
}

// Remove removes the mapping at (target, slot) without cancelling it,
// used when the caller has already claimed ownership of the
// operation's lifecycle.
func (r *OperationRegistry) Remove(target any, slot string) {
	shard := r.shardFor(target)
	shard.mu.Lock()
	defer shard.mu.Unlock()

	slots, ok := shard.entries[target]
	if !ok {
		return
	}
	delete(slots, slot)
	if len(slots) == 0 {
		delete(shard.entries, target)
	}
}
