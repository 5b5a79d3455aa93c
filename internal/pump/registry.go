package pump

import (
	"errors"
	"fmt"
	"sync"
)

// ErrNotFound is returned when a pump id is not part of the registry.
var ErrNotFound = errors.New("pump not found")

// Pump is a relay-driven water pump provisioned at startup.
type Pump struct {
	ID       int
	Actuator string
	IsOn     bool
}

// Registry owns the closed set of pumps and their on/off state.
// A single lock covers the whole registry; the set is small and fixed.
type Registry struct {
	mu    sync.RWMutex
	pumps []Pump
	index map[int]int
}

// New builds a registry from provisioned pumps. Every pump starts OFF regardless
// of what the caller passes in.
func New(pumps []Pump) (*Registry, error) {
	if len(pumps) == 0 {
		return nil, errors.New("registry needs at least one pump")
	}
	r := &Registry{
		pumps: make([]Pump, 0, len(pumps)),
		index: make(map[int]int, len(pumps)),
	}
	for _, p := range pumps {
		if p.ID <= 0 {
			return nil, fmt.Errorf("pump id must be positive, got %d", p.ID)
		}
		if p.Actuator == "" {
			return nil, fmt.Errorf("pump %d: actuator is required", p.ID)
		}
		if _, dup := r.index[p.ID]; dup {
			return nil, fmt.Errorf("duplicate pump id %d", p.ID)
		}
		p.IsOn = false
		r.index[p.ID] = len(r.pumps)
		r.pumps = append(r.pumps, p)
	}
	return r, nil
}

// List returns a copy of all pumps in provisioning order.
func (r *Registry) List() []Pump {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Pump, len(r.pumps))
	copy(out, r.pumps)
	return out
}

// Find returns a copy of the pump with the given id.
func (r *Registry) Find(id int) (Pump, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	i, ok := r.index[id]
	if !ok {
		return Pump{}, false
	}
	return r.pumps[i], true
}

// Len returns the number of provisioned pumps.
func (r *Registry) Len() int {
	return len(r.pumps)
}

// SetState sets the on/off state of a pump without touching hardware.
func (r *Registry) SetState(id int, on bool) error {
	return r.Apply(id, func(p *Pump) error {
		p.IsOn = on
		return nil
	})
}

// Apply runs fn against the stored pump while holding the registry lock, so a
// check-then-actuate sequence cannot interleave with another writer. If fn
// returns an error, changes made to the pump are discarded.
func (r *Registry) Apply(id int, fn func(p *Pump) error) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	i, ok := r.index[id]
	if !ok {
		return fmt.Errorf("pump %d: %w", id, ErrNotFound)
	}
	p := r.pumps[i]
	if err := fn(&p); err != nil {
		return err
	}
	// identity is fixed at provisioning
	p.ID = r.pumps[i].ID
	p.Actuator = r.pumps[i].Actuator
	r.pumps[i] = p
	return nil
}
