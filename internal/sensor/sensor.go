package sensor

import (
	"github.com/Old-Lx/AquaManagement/internal/pump"
)

// Sentinel values mark a reading that could not be taken. They are outside the
// physical range of their signal and must be treated as unknown.
const (
	SentinelTemperature = -127.0
	SentinelAmps        = -1.0
	SentinelLevel       = -1.0
	SentinelFlow        = -1.0
)

// DefaultFlowThreshold is the inflow (L/min) above which flow counts as detected.
const DefaultFlowThreshold = 0.5

// TankState is the shared tank snapshot taken once per cycle.
type TankState struct {
	WaterLevelPercent float64 `json:"water_level_percent"`
	InflowRate        float64 `json:"inflow_rate"`
	FlowDetected      bool    `json:"flow_detected"`
}

// PumpReading is taken fresh for one pump each cycle.
type PumpReading struct {
	Amps         float64  `json:"amps"`
	TemperatureC *float64 `json:"temperature_c,omitempty"`
	FlowRate     *float64 `json:"flow_rate,omitempty"`
}

// Source produces readings, either from hardware or synthesized.
type Source interface {
	SampleTank() TankState
	SamplePump(p pump.Pump) PumpReading
}

func clampPercent(v float64) float64 {
	return min(100.0, max(0.0, v))
}

func tankState(level, inflow, threshold float64) TankState {
	if level != SentinelLevel {
		level = clampPercent(level)
	}
	if inflow != SentinelFlow {
		inflow = max(0.0, inflow)
	}
	return TankState{
		WaterLevelPercent: level,
		InflowRate:        inflow,
		FlowDetected:      inflow > threshold,
	}
}

func ptr(v float64) *float64 {
	return &v
}
