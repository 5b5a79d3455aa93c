package controller

import (
	"sync"
	"time"

	"github.com/Old-Lx/AquaManagement/internal/pump"
	"github.com/Old-Lx/AquaManagement/internal/sensor"
)

// State is everything the controller owns: the pump registry plus the readings
// of the most recent cycle. It is passed explicitly; there are no package-level
// singletons.
type State struct {
	Registry *pump.Registry

	mu        sync.RWMutex
	tank      sensor.TankState
	readings  map[int]sensor.PumpReading
	lastCycle time.Time
	cycles    uint64
}

func NewState(registry *pump.Registry) *State {
	return &State{
		Registry: registry,
		readings: make(map[int]sensor.PumpReading),
	}
}

// PumpStatus is the externally visible view of one pump.
type PumpStatus struct {
	ID          int                 `json:"id"`
	Actuator    string              `json:"actuator"`
	IsOn        bool                `json:"is_on"`
	LastReading *sensor.PumpReading `json:"last_reading,omitempty"`
}

// Snapshot is a consistent copy of the state for readers outside the loop.
type Snapshot struct {
	Pumps     []PumpStatus      `json:"pumps"`
	Tank      *sensor.TankState `json:"tank,omitempty"`
	LastCycle *time.Time        `json:"last_cycle,omitempty"`
	Cycles    uint64            `json:"cycles"`
}

func (s *State) Snapshot() Snapshot {
	pumps := s.Registry.List()

	s.mu.RLock()
	defer s.mu.RUnlock()

	snap := Snapshot{
		Pumps:  make([]PumpStatus, 0, len(pumps)),
		Cycles: s.cycles,
	}
	if s.cycles > 0 {
		tank := s.tank
		last := s.lastCycle
		snap.Tank = &tank
		snap.LastCycle = &last
	}
	for _, p := range pumps {
		snap.Pumps = append(snap.Pumps, s.status(p))
	}
	return snap
}

// Pump returns the status of one pump.
func (s *State) Pump(id int) (PumpStatus, bool) {
	p, ok := s.Registry.Find(id)
	if !ok {
		return PumpStatus{}, false
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.status(p), true
}

// caller holds s.mu
func (s *State) status(p pump.Pump) PumpStatus {
	st := PumpStatus{ID: p.ID, Actuator: p.Actuator, IsOn: p.IsOn}
	if r, ok := s.readings[p.ID]; ok {
		r = copyReading(r)
		st.LastReading = &r
	}
	return st
}

func (s *State) record(now time.Time, tank sensor.TankState, readings map[int]sensor.PumpReading) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tank = tank
	s.readings = readings
	s.lastCycle = now
	s.cycles++
}

func copyReading(r sensor.PumpReading) sensor.PumpReading {
	if r.TemperatureC != nil {
		v := *r.TemperatureC
		r.TemperatureC = &v
	}
	if r.FlowRate != nil {
		v := *r.FlowRate
		r.FlowRate = &v
	}
	return r
}
