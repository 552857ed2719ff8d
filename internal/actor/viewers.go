package actor

import "sort"

// ViewerSet tracks the observers currently holding client-side spawn state
// for an actor, together with the connection session that received the
// spawn. It is owned by the actor's shard and is not safe for concurrent
// use.
type ViewerSet struct {
	ids map[string]uint64
}

// Add reports whether id was newly added.
func (v *ViewerSet) Add(id string) bool {
	if id == "" {
		return false
	}
	if _, ok := v.ids[id]; ok {
		return false
	}
	v.Bind(id, 0)
	return true
}

// Bind records that session of viewer id holds the spawn, replacing any
// earlier session.
func (v *ViewerSet) Bind(id string, session uint64) {
	if id == "" {
		return
	}
	if v.ids == nil {
		v.ids = make(map[string]uint64)
	}
	v.ids[id] = session
}

// Current reports whether id is a viewer whose spawn was sent to session.
func (v *ViewerSet) Current(id string, session uint64) bool {
	bound, ok := v.ids[id]
	return ok && bound == session
}

// Remove reports whether id was present.
func (v *ViewerSet) Remove(id string) bool {
	if _, ok := v.ids[id]; !ok {
		return false
	}
	delete(v.ids, id)
	return true
}

func (v *ViewerSet) Has(id string) bool {
	_, ok := v.ids[id]
	return ok
}

func (v *ViewerSet) Len() int {
	return len(v.ids)
}

// List returns the viewer ids in sorted order.
func (v *ViewerSet) List() []string {
	if len(v.ids) == 0 {
		return nil
	}
	out := make([]string, 0, len(v.ids))
	for id := range v.ids {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// Clear drops every viewer and returns the ids that were present.
func (v *ViewerSet) Clear() []string {
	out := v.List()
	v.ids = nil
	return out
}
