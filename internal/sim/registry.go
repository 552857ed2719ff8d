package sim

import (
	"sort"
	"sync/atomic"

	"github.com/sasha-s/go-deadlock"

	"mirage/server/internal/actor"
	"mirage/server/internal/ai"
	"mirage/server/internal/world"
)

// entry is the registry's record of one actor. The region is owned by the
// registry lock; everything reachable through actor is owned by the actor
// guard.
type entry struct {
	actor   *actor.Actor
	ai      *ai.Session
	region  world.RegionKey
	removed atomic.Bool
}

// Registry is the engine-scoped actor table. It may be used from any shard.
type Registry struct {
	mu        deadlock.RWMutex
	byID      map[string]*entry
	byNetwork map[int64]*entry
	byRegion  map[world.RegionKey]map[string]*entry
	nextID    atomic.Int64
}

func NewRegistry() *Registry {
	return &Registry{
		byID:      make(map[string]*entry),
		byNetwork: make(map[int64]*entry),
		byRegion:  make(map[world.RegionKey]map[string]*entry),
	}
}

// NextNetworkID returns a fresh network id. Ids start at 1.
func (r *Registry) NextNetworkID() int64 {
	return r.nextID.Add(1)
}

func (r *Registry) add(e *entry) bool {
	key := e.actor.Key()
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.byID[key]; exists {
		return false
	}
	if _, exists := r.byNetwork[e.actor.NetworkID]; exists {
		return false
	}
	r.byID[key] = e
	r.byNetwork[e.actor.NetworkID] = e
	r.indexLocked(key, e)
	return true
}

func (r *Registry) remove(id string) (*entry, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.byID[id]
	if !ok {
		return nil, false
	}
	delete(r.byID, id)
	delete(r.byNetwork, e.actor.NetworkID)
	r.unindexLocked(id, e)
	return e, true
}

func (r *Registry) get(id string) (*entry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.byID[id]
	return e, ok
}

func (r *Registry) byNetworkID(networkID int64) (*entry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.byNetwork[networkID]
	return e, ok
}

func (r *Registry) regionOf(e *entry) world.RegionKey {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return e.region
}

// relocate moves e to region if it is still registered.
func (r *Registry) relocate(e *entry, region world.RegionKey) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if e.region == region {
		return
	}
	key := e.actor.Key()
	if _, ok := r.byID[key]; !ok {
		return
	}
	r.unindexLocked(key, e)
	e.region = region
	r.indexLocked(key, e)
}

// partition groups every registered entry by its current region.
func (r *Registry) partition() map[world.RegionKey][]*entry {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[world.RegionKey][]*entry, len(r.byRegion))
	for region, members := range r.byRegion {
		list := make([]*entry, 0, len(members))
		for _, e := range members {
			list = append(list, e)
		}
		sort.Slice(list, func(i, j int) bool { return list[i].actor.NetworkID < list[j].actor.NetworkID })
		out[region] = list
	}
	return out
}

// inRegion returns the entries currently indexed under region.
func (r *Registry) inRegion(region world.RegionKey) []*entry {
	r.mu.RLock()
	defer r.mu.RUnlock()
	members := r.byRegion[region]
	list := make([]*entry, 0, len(members))
	for _, e := range members {
		list = append(list, e)
	}
	return list
}

// regionsWithin lists the regions of worldName between lo and hi inclusive.
// A span larger than the occupied set is answered from the index instead of
// being enumerated.
func (r *Registry) regionsWithin(worldName string, lo, hi world.RegionKey) []world.RegionKey {
	span := (int64(hi.X) - int64(lo.X) + 1) * (int64(hi.Z) - int64(lo.Z) + 1)
	r.mu.RLock()
	if span > int64(len(r.byRegion)) {
		defer r.mu.RUnlock()
		var out []world.RegionKey
		for region := range r.byRegion {
			if region.World == worldName && region.X >= lo.X && region.X <= hi.X && region.Z >= lo.Z && region.Z <= hi.Z {
				out = append(out, region)
			}
		}
		return out
	}
	r.mu.RUnlock()

	out := make([]world.RegionKey, 0, span)
	for x := lo.X; x <= hi.X; x++ {
		for z := lo.Z; z <= hi.Z; z++ {
			out = append(out, world.RegionKey{World: worldName, X: x, Z: z})
		}
	}
	return out
}

func (r *Registry) all() []*entry {
	r.mu.RLock()
	defer r.mu.RUnlock()
	list := make([]*entry, 0, len(r.byID))
	for _, e := range r.byID {
		list = append(list, e)
	}
	sort.Slice(list, func(i, j int) bool { return list[i].actor.NetworkID < list[j].actor.NetworkID })
	return list
}

// Len returns the number of registered actors.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byID)
}

// Regions returns the number of occupied regions.
func (r *Registry) Regions() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byRegion)
}

func (r *Registry) indexLocked(key string, e *entry) {
	members, ok := r.byRegion[e.region]
	if !ok {
		members = make(map[string]*entry)
		r.byRegion[e.region] = members
	}
	members[key] = e
}

func (r *Registry) unindexLocked(key string, e *entry) {
	members, ok := r.byRegion[e.region]
	if !ok {
		return
	}
	delete(members, key)
	if len(members) == 0 {
		delete(r.byRegion, e.region)
	}
}
