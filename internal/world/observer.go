package world

import (
	"sort"

	"github.com/go-gl/mathgl/mgl64"
	"github.com/sasha-s/go-deadlock"
)

type GameMode uint8

const (
	Survival GameMode = iota
	Adventure
	Creative
	Spectator
)

func (m GameMode) String() string {
	switch m {
	case Survival:
		return "survival"
	case Adventure:
		return "adventure"
	case Creative:
		return "creative"
	case Spectator:
		return "spectator"
	default:
		return "unknown"
	}
}

// ParseGameMode maps a textual mode onto a GameMode, defaulting to survival.
func ParseGameMode(value string) GameMode {
	switch value {
	case "adventure":
		return Adventure
	case "creative":
		return Creative
	case "spectator":
		return Spectator
	default:
		return Survival
	}
}

// Targetable reports whether creatures may pick a player in this mode.
func (m GameMode) Targetable() bool {
	return m == Survival || m == Adventure
}

// Observer is a point-in-time view of a connected player.
type Observer struct {
	ID       string
	World    string
	Position mgl64.Vec3
	Alive    bool
	Mode     GameMode
	// Session identifies the connection currently attached for ID. A new
	// session means the client holds no spawn state yet.
	Session uint64
}

// CanBeTargeted reports whether the observer is a valid hostile target.
func (o Observer) CanBeTargeted() bool {
	return o.Alive && o.Mode.Targetable()
}

// ObserverLookup resolves observers by id. A target held by the AI is
// re-resolved through it on every use.
type ObserverLookup interface {
	Lookup(id string) (Observer, bool)
}

// Directory is the concurrent table of connected observers.
type Directory struct {
	mu        deadlock.RWMutex
	observers map[string]Observer
}

func NewDirectory() *Directory {
	return &Directory{observers: make(map[string]Observer)}
}

// Upsert stores or replaces the observer keyed by its id.
func (d *Directory) Upsert(observer Observer) {
	if d == nil || observer.ID == "" {
		return
	}
	d.mu.Lock()
	d.observers[observer.ID] = observer
	d.mu.Unlock()
}

// Update applies fn to the stored observer. It reports false when the id is
// unknown.
func (d *Directory) Update(id string, fn func(*Observer)) bool {
	if d == nil || fn == nil {
		return false
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	observer, ok := d.observers[id]
	if !ok {
		return false
	}
	fn(&observer)
	observer.ID = id
	d.observers[id] = observer
	return true
}

func (d *Directory) Remove(id string) {
	if d == nil {
		return
	}
	d.mu.Lock()
	delete(d.observers, id)
	d.mu.Unlock()
}

func (d *Directory) Lookup(id string) (Observer, bool) {
	if d == nil {
		return Observer{}, false
	}
	d.mu.RLock()
	defer d.mu.RUnlock()
	observer, ok := d.observers[id]
	return observer, ok
}

func (d *Directory) Len() int {
	if d == nil {
		return 0
	}
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.observers)
}

// Snapshot copies every observer grouped by world, each group sorted by id.
func (d *Directory) Snapshot() map[string][]Observer {
	if d == nil {
		return nil
	}
	d.mu.RLock()
	out := make(map[string][]Observer)
	for _, observer := range d.observers {
		out[observer.World] = append(out[observer.World], observer)
	}
	d.mu.RUnlock()
	for _, group := range out {
		sort.Slice(group, func(i, j int) bool { return group[i].ID < group[j].ID })
	}
	return out
}

// PlayerDamager applies creature melee damage to a player. The world owns
// player health; the simulation only requests the hit.
type PlayerDamager interface {
	DamagePlayer(observerID string, amount float64, attackerID string)
}

type PlayerDamagerFunc func(observerID string, amount float64, attackerID string)

func (f PlayerDamagerFunc) DamagePlayer(observerID string, amount float64, attackerID string) {
	if f == nil {
		return
	}
	f(observerID, amount, attackerID)
}
