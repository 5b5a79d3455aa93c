package hardware

import (
	"errors"
	"fmt"
	"sync"
	"time"
)

// ErrNoSignal is returned when a channel, pin or probe has nothing to read.
var ErrNoSignal = errors.New("no signal")

// Bus is the board-level I/O the controller needs. All calls are synchronous and
// bounded by hardware latency.
type Bus interface {
	ReadAnalog(channel int) (int, error)
	ReadDigital(pin string) (bool, error)
	WriteDigital(pin string, level bool) error
	// ReadPulseCount returns the pulses seen on pin since the previous call and
	// resets the counter.
	ReadPulseCount(pin string) uint64
	ReadTemperature(probe uint16) (float64, error)
	// EchoDuration fires a trigger pulse and measures the echo pulse width.
	EchoDuration(trig, echo string) (time.Duration, error)
}

// Memory is a Bus without physical I/O. Outputs are remembered and inputs are
// whatever was last injected with the Set* methods. It backs the controller when
// no board is attached and doubles as a test fixture.
type Memory struct {
	mu      sync.Mutex
	analog  map[int]int
	digital map[string]bool
	temps   map[uint16]float64
	echoes  map[string]time.Duration
	pulses  map[string]*PulseCounter
	faults  map[string]error
	writes  []Write
}

// Write records one WriteDigital call.
type Write struct {
	Pin   string
	Level bool
}

func NewMemory() *Memory {
	return &Memory{
		analog:  make(map[int]int),
		digital: make(map[string]bool),
		temps:   make(map[uint16]float64),
		echoes:  make(map[string]time.Duration),
		pulses:  make(map[string]*PulseCounter),
		faults:  make(map[string]error),
	}
}

func (m *Memory) SetAnalog(channel, raw int) {
	m.mu.Lock()
	m.analog[channel] = raw
	m.mu.Unlock()
}

func (m *Memory) SetDigital(pin string, level bool) {
	m.mu.Lock()
	m.digital[pin] = level
	m.mu.Unlock()
}

func (m *Memory) SetTemperature(probe uint16, celsius float64) {
	m.mu.Lock()
	m.temps[probe] = celsius
	m.mu.Unlock()
}

func (m *Memory) SetEcho(echo string, d time.Duration) {
	m.mu.Lock()
	m.echoes[echo] = d
	m.mu.Unlock()
}

// FailWrites makes every later WriteDigital on pin return err. A nil err clears
// the fault.
func (m *Memory) FailWrites(pin string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err == nil {
		delete(m.faults, pin)
		return
	}
	m.faults[pin] = err
}

// Pulse adds n pulses to the counter of pin, as an edge interrupt would.
func (m *Memory) Pulse(pin string, n uint64) {
	m.mu.Lock()
	c, ok := m.pulses[pin]
	if !ok {
		c = &PulseCounter{}
		m.pulses[pin] = c
	}
	m.mu.Unlock()
	for range n {
		c.Inc()
	}
}

// Writes returns every WriteDigital call in order.
func (m *Memory) Writes() []Write {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Write, len(m.writes))
	copy(out, m.writes)
	return out
}

func (m *Memory) ReadAnalog(channel int) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.analog[channel]
	if !ok {
		return 0, fmt.Errorf("analog channel %d: %w", channel, ErrNoSignal)
	}
	return v, nil
}

func (m *Memory) ReadDigital(pin string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.digital[pin]
	if !ok {
		return false, fmt.Errorf("pin %s: %w", pin, ErrNoSignal)
	}
	return v, nil
}

func (m *Memory) WriteDigital(pin string, level bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.faults[pin]; err != nil {
		return fmt.Errorf("write %s: %w", pin, err)
	}
	m.digital[pin] = level
	m.writes = append(m.writes, Write{Pin: pin, Level: level})
	return nil
}

func (m *Memory) ReadPulseCount(pin string) uint64 {
	m.mu.Lock()
	c, ok := m.pulses[pin]
	m.mu.Unlock()
	if !ok {
		return 0
	}
	return c.Take()
}

func (m *Memory) ReadTemperature(probe uint16) (float64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.temps[probe]
	if !ok {
		return 0, fmt.Errorf("probe 0x%02X: %w", probe, ErrNoSignal)
	}
	return v, nil
}

func (m *Memory) EchoDuration(trig, echo string) (time.Duration, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.echoes[echo]
	if !ok {
		return 0, fmt.Errorf("echo %s: %w", echo, ErrNoSignal)
	}
	return d, nil
}
