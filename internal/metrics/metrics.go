package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/Old-Lx/AquaManagement/internal/sensor"
)

const namespace = "aquamanagement"

// Metrics holds the controller's Prometheus collectors. It satisfies both the
// controller and the command dispatcher recorder interfaces.
type Metrics struct {
	cycles        prometheus.Counter
	cycleDuration prometheus.Histogram
	published     prometheus.Counter
	skipped       prometheus.Counter
	commands      *prometheus.CounterVec
	pumpOn        *prometheus.GaugeVec
	pumpAmps      *prometheus.GaugeVec
	pumpTemp      *prometheus.GaugeVec
	waterLevel    prometheus.Gauge
	inflowRate    prometheus.Gauge
	flowDetected  prometheus.Gauge
	mqttConnected prometheus.Gauge
}

// New creates the collectors and registers them on reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		cycles: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "telemetry_cycles_total",
			Help:      "Telemetry cycles completed.",
		}),
		cycleDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "telemetry_cycle_duration_seconds",
			Help:      "Time spent sampling, assembling and publishing one cycle.",
			Buckets:   prometheus.ExponentialBuckets(0.0005, 2, 14),
		}),
		published: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "telemetry_published_total",
			Help:      "Telemetry messages handed to the transport.",
		}),
		skipped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "telemetry_skipped_total",
			Help:      "Telemetry messages not published because of transport failures.",
		}),
		commands: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "commands_total",
			Help:      "Control frames handled, by outcome.",
		}, []string{"result"}),
		pumpOn: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "pump_on",
			Help:      "1 when the pump relay is energized.",
		}, []string{"pump_id"}),
		pumpAmps: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "pump_current_amps",
			Help:      "Last motor current reading.",
		}, []string{"pump_id"}),
		pumpTemp: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "pump_temperature_celsius",
			Help:      "Last motor temperature reading.",
		}, []string{"pump_id"}),
		waterLevel: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "tank_water_level_percent",
			Help:      "Last tank level reading.",
		}),
		inflowRate: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "tank_inflow_rate",
			Help:      "Last tank inflow reading in L/min.",
		}),
		flowDetected: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "tank_flow_detected",
			Help:      "1 when inflow is above the detection threshold.",
		}),
		mqttConnected: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "mqtt_connected",
			Help:      "1 while the broker connection is up.",
		}),
	}

	reg.MustRegister(
		m.cycles, m.cycleDuration, m.published, m.skipped, m.commands,
		m.pumpOn, m.pumpAmps, m.pumpTemp,
		m.waterLevel, m.inflowRate, m.flowDetected, m.mqttConnected,
	)
	return m
}

func (m *Metrics) CycleCompleted(elapsed time.Duration, published, skipped int) {
	m.cycles.Inc()
	m.cycleDuration.Observe(elapsed.Seconds())
	m.published.Add(float64(published))
	m.skipped.Add(float64(skipped))
}

// TankSampled records tank readings. Sentinel values are not exported.
func (m *Metrics) TankSampled(tank sensor.TankState) {
	if tank.WaterLevelPercent != sensor.SentinelLevel {
		m.waterLevel.Set(tank.WaterLevelPercent)
	}
	if tank.InflowRate != sensor.SentinelFlow {
		m.inflowRate.Set(tank.InflowRate)
	}
	m.flowDetected.Set(boolFloat(tank.FlowDetected))
}

func (m *Metrics) PumpSampled(id int, r sensor.PumpReading) {
	label := strconv.Itoa(id)
	if r.Amps != sensor.SentinelAmps {
		m.pumpAmps.WithLabelValues(label).Set(r.Amps)
	}
	if r.TemperatureC != nil && *r.TemperatureC != sensor.SentinelTemperature {
		m.pumpTemp.WithLabelValues(label).Set(*r.TemperatureC)
	}
}

func (m *Metrics) CommandHandled(reason string) {
	m.commands.WithLabelValues(reason).Inc()
}

func (m *Metrics) PumpState(id int, on bool) {
	m.pumpOn.WithLabelValues(strconv.Itoa(id)).Set(boolFloat(on))
}

func (m *Metrics) SetConnected(connected bool) {
	m.mqttConnected.Set(boolFloat(connected))
}

func boolFloat(v bool) float64 {
	if v {
		return 1
	}
	return 0
}
