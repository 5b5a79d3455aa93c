package sensor

import (
	"log/slog"
	"time"

	"github.com/Old-Lx/AquaManagement/internal/hardware"
	"github.com/Old-Lx/AquaManagement/internal/pump"
)

// Level sensing modes.
const (
	LevelFloat      = "float"
	LevelUltrasonic = "ultrasonic"
)

const (
	// cm per microsecond of echo, halved for the round trip
	soundCMPerMicro   = 0.034
	maxEchoDistanceCM = 400.0
)

// TankWiring describes the shared tank transducers.
type TankWiring struct {
	LevelSensor     string
	HighLevelPin    string
	LowLevelPin     string
	TrigPin         string
	EchoPin         string
	HeightCM        float64
	EmptyDistanceCM float64

	FlowPin       string
	FlowFactor    float64
	FlowThreshold float64
}

// PumpWiring describes the transducers attached to one pump.
type PumpWiring struct {
	CurrentChannel int
	HasCurrent     bool
	// CurrentScale corrects a shared current transformer for a single pump.
	CurrentScale float64
	TempProbe    uint16
	FlowPin      string
}

// RealOptions configures the hardware-backed source.
type RealOptions struct {
	Tank         TankWiring
	Pumps        map[int]PumpWiring
	MaxAmps      float64
	ADCFullScale float64
	Logger       *slog.Logger
}

// Real reads physical transducers through a hardware.Bus. A failed read yields
// the sentinel for that signal and is logged at debug level.
type Real struct {
	bus    hardware.Bus
	opts   RealOptions
	logger *slog.Logger
}

func NewReal(bus hardware.Bus, opts RealOptions) *Real {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Tank.LevelSensor == "" {
		opts.Tank.LevelSensor = LevelFloat
	}
	if opts.Tank.FlowThreshold <= 0 {
		opts.Tank.FlowThreshold = DefaultFlowThreshold
	}
	return &Real{bus: bus, opts: opts, logger: opts.Logger}
}

func (r *Real) SampleTank() TankState {
	var level float64
	switch r.opts.Tank.LevelSensor {
	case LevelUltrasonic:
		level = r.ultrasonicLevel()
	default:
		level = r.floatLevel()
	}
	inflow := r.flowRate(r.opts.Tank.FlowPin)
	return tankState(level, inflow, r.opts.Tank.FlowThreshold)
}

func (r *Real) SamplePump(p pump.Pump) PumpReading {
	w, ok := r.opts.Pumps[p.ID]
	if !ok {
		return PumpReading{Amps: SentinelAmps}
	}

	reading := PumpReading{}
	switch {
	case !p.IsOn:
		reading.Amps = 0
	case !w.HasCurrent:
		reading.Amps = SentinelAmps
	default:
		reading.Amps = r.amps(w)
	}

	if w.TempProbe != 0 {
		t, err := r.bus.ReadTemperature(w.TempProbe)
		if err != nil {
			r.logger.Debug("sensor fault", "signal", "temperature", "pump_id", p.ID, "error", err)
			t = SentinelTemperature
		}
		reading.TemperatureC = &t
	}
	if w.FlowPin != "" {
		reading.FlowRate = ptr(r.flowRate(w.FlowPin))
	}
	return reading
}

func (r *Real) amps(w PumpWiring) float64 {
	raw, err := r.bus.ReadAnalog(w.CurrentChannel)
	if err != nil {
		r.logger.Debug("sensor fault", "signal", "current", "channel", w.CurrentChannel, "error", err)
		return SentinelAmps
	}
	scale := w.CurrentScale
	if scale <= 0 {
		scale = 1
	}
	return ConvertCurrent(raw, r.opts.MaxAmps, r.opts.ADCFullScale) * scale
}

func (r *Real) floatLevel() float64 {
	high, err := r.bus.ReadDigital(r.opts.Tank.HighLevelPin)
	if err != nil {
		r.logger.Debug("sensor fault", "signal", "level_high", "error", err)
		return SentinelLevel
	}
	low, err := r.bus.ReadDigital(r.opts.Tank.LowLevelPin)
	if err != nil {
		r.logger.Debug("sensor fault", "signal", "level_low", "error", err)
		return SentinelLevel
	}
	return FloatSwitchLevel(high, low)
}

func (r *Real) ultrasonicLevel() float64 {
	d, err := r.bus.EchoDuration(r.opts.Tank.TrigPin, r.opts.Tank.EchoPin)
	if err != nil {
		r.logger.Debug("sensor fault", "signal", "level_ultrasonic", "error", err)
		return SentinelLevel
	}
	return UltrasonicLevel(d, r.opts.Tank.HeightCM, r.opts.Tank.EmptyDistanceCM)
}

func (r *Real) flowRate(pin string) float64 {
	if pin == "" {
		return SentinelFlow
	}
	return float64(r.bus.ReadPulseCount(pin)) * r.opts.Tank.FlowFactor
}

// ConvertCurrent maps a raw ADC sample linearly onto [0, maxAmps]. Samples
// above fullScale read as maxAmps.
func ConvertCurrent(raw int, maxAmps, fullScale float64) float64 {
	if fullScale <= 0 || raw <= 0 {
		return 0
	}
	return min(float64(raw), fullScale) * maxAmps / fullScale
}

// FloatSwitchLevel maps two pulled-up float switches to a coarse level. A switch
// reads LOW (false) when it is submerged.
func FloatSwitchLevel(high, low bool) float64 {
	switch {
	case !high:
		return 100.0
	case !low:
		return 50.0
	default:
		return 0.0
	}
}

// UltrasonicLevel converts an echo pulse width to a fill percentage. Implausible
// distances read as an empty tank.
func UltrasonicLevel(echo time.Duration, heightCM, emptyDistanceCM float64) float64 {
	if heightCM <= 0 {
		return SentinelLevel
	}
	distance := float64(echo.Microseconds()) * soundCMPerMicro / 2
	if distance <= 0 || distance > maxEchoDistanceCM {
		distance = emptyDistanceCM
	}
	return clampPercent((emptyDistanceCM - distance) / heightCM * 100.0)
}
