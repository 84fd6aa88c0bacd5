// SPDX-License-Identifier: MPL-2.0

package rendezvous

import (
	"slices"
	"time"
)

type (
	// Registry holds the declared dependencies and liveness of every known
	// entity. It is not synchronized; the Engine guards it.
	Registry struct {
		entities map[EntityID]*entity
	}

	entity struct {
		deps     idSet
		address  string
		pinned   bool
		lastSeen time.Time
	}

	// EntityInfo is a read-only view of one registry entry.
	EntityInfo struct {
		ID           EntityID   `json:"id"`
		Dependencies []EntityID `json:"dependencies"`
		Address      string     `json:"address,omitempty"`
		Pinned       bool       `json:"pinned"`
		LastSeen     time.Time  `json:"last_seen,omitzero"`
	}
)

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{entities: make(map[EntityID]*entity)}
}

// Register merges deps into the dependency set of id, creating the entry
// if needed. Dependencies are only ever added; a self-reference is dropped.
func (r *Registry) Register(id EntityID, deps []EntityID) {
	e := r.get(id)
	for _, d := range deps {
		if d != id {
			e.deps.add(d)
		}
	}
}

// Seed registers every entry of m and pins it so it is never pruned.
func (r *Registry) Seed(m map[EntityID][]EntityID) {
	for _, id := range sortedKeys(m) {
		r.Register(id, m[id])
		r.entities[id].pinned = true
	}
}

// DependenciesOf returns the known dependency set of id; empty when unknown.
func (r *Registry) DependenciesOf(id EntityID) []EntityID {
	e, ok := r.entities[id]
	if !ok {
		return nil
	}
	return e.deps.sorted()
}

// Known reports whether id has a registry entry.
func (r *Registry) Known(id EntityID) bool {
	_, ok := r.entities[id]
	return ok
}

// Len returns the number of entries.
func (r *Registry) Len() int { return len(r.entities) }

// Touch records the latest remote address and activity time of id.
func (r *Registry) Touch(id EntityID, address string, now time.Time) {
	e := r.get(id)
	if address != "" {
		e.address = address
	}
	e.lastSeen = now
}

// Forget removes id unless it is pinned or busy reports outstanding barrier
// membership. It returns whether the entry was removed.
func (r *Registry) Forget(id EntityID, busy func(EntityID) bool) bool {
	e, ok := r.entities[id]
	if !ok || e.pinned || (busy != nil && busy(id)) {
		return false
	}
	delete(r.entities, id)
	return true
}

// Prune removes every unpinned entry idle for at least idle that busy does
// not report as a barrier member. It returns the removed IDs, sorted.
func (r *Registry) Prune(now time.Time, idle time.Duration, busy func(EntityID) bool) []EntityID {
	var pruned []EntityID
	for id, e := range r.entities {
		if e.pinned || now.Sub(e.lastSeen) < idle {
			continue
		}
		if busy != nil && busy(id) {
			continue
		}
		delete(r.entities, id)
		pruned = append(pruned, id)
	}
	slices.Sort(pruned)
	return pruned
}

// Snapshot returns every entry sorted by ID.
func (r *Registry) Snapshot() []EntityInfo {
	out := make([]EntityInfo, 0, len(r.entities))
	for _, id := range sortedKeys(r.entities) {
		e := r.entities[id]
		out = append(out, EntityInfo{
			ID:           id,
			Dependencies: e.deps.sorted(),
			Address:      e.address,
			Pinned:       e.pinned,
			LastSeen:     e.lastSeen,
		})
	}
	return out
}

// closure returns the union of each member of base and its dependencies.
func (r *Registry) closure(base idSet) idSet {
	out := make(idSet, len(base))
	for id := range base {
		out.add(id)
		if e, ok := r.entities[id]; ok {
			out.union(e.deps)
		}
	}
	return out
}

func (r *Registry) get(id EntityID) *entity {
	e, ok := r.entities[id]
	if !ok {
		e = &entity{deps: make(idSet)}
		r.entities[id] = e
	}
	return e
}
