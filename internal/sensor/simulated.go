package sensor

import (
	"math/rand/v2"
	"sync"
	"time"

	"github.com/Old-Lx/AquaManagement/internal/pump"
)

const (
	simLevelRise = 0.1
	simLevelFall = 0.05

	simInflowMin  = 140.0
	simInflowSpan = 30.0

	simAmpsMin  = 10.0
	simAmpsSpan = 5.0

	simTempMin  = 55.0
	simTempSpan = 25.0

	// AmbientTemperature is reported for an idle pump.
	AmbientTemperature = 25.0
)

// SimulatedOptions configures the synthetic tank.
type SimulatedOptions struct {
	// DutyPeriod is the length of each inflow on/off phase. Defaults to 30s.
	DutyPeriod    time.Duration
	InitialLevel  float64
	FlowThreshold float64
	Now           func() time.Time
	Rand          *rand.Rand
}

// Simulated synthesizes plausible readings when no sensors are attached.
type Simulated struct {
	mu        sync.Mutex
	period    time.Duration
	threshold float64
	now       func() time.Time
	rnd       *rand.Rand
	start     time.Time
	level     float64
}

func NewSimulated(opts SimulatedOptions) *Simulated {
	if opts.DutyPeriod <= 0 {
		opts.DutyPeriod = 30 * time.Second
	}
	if opts.FlowThreshold <= 0 {
		opts.FlowThreshold = DefaultFlowThreshold
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Rand == nil {
		opts.Rand = rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
	}
	return &Simulated{
		period:    opts.DutyPeriod,
		threshold: opts.FlowThreshold,
		now:       opts.Now,
		rnd:       opts.Rand,
		start:     opts.Now(),
		level:     clampPercent(opts.InitialLevel),
	}
}

// InflowActive reports whether the synthetic duty cycle is in its inflow phase.
func (s *Simulated) InflowActive() bool {
	elapsed := s.now().Sub(s.start)
	if elapsed < 0 {
		elapsed = 0
	}
	return (elapsed/s.period)%2 == 0
}

func (s *Simulated) SampleTank() TankState {
	s.mu.Lock()
	defer s.mu.Unlock()

	var inflow float64
	if s.InflowActive() {
		inflow = simInflowMin + s.rnd.Float64()*simInflowSpan
		s.level = clampPercent(s.level + simLevelRise)
	} else {
		s.level = clampPercent(s.level - simLevelFall)
	}
	return tankState(s.level, inflow, s.threshold)
}

func (s *Simulated) SamplePump(p pump.Pump) PumpReading {
	if !p.IsOn {
		return PumpReading{Amps: 0, TemperatureC: ptr(AmbientTemperature)}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return PumpReading{
		Amps:         simAmpsMin + s.rnd.Float64()*simAmpsSpan,
		TemperatureC: ptr(simTempMin + s.rnd.Float64()*simTempSpan),
	}
}
