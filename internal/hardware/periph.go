package hardware

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"periph.io/x/conn/v3/analog"
	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpioreg"
	"periph.io/x/conn/v3/i2c"
	"periph.io/x/conn/v3/i2c/i2creg"
	"periph.io/x/conn/v3/physic"
	"periph.io/x/devices/v3/ads1x15"
	"periph.io/x/devices/v3/bmxx80"
	"periph.io/x/host/v3"
)

const (
	flowEdgeTimeout = 100 * time.Millisecond
	echoTimeout     = 30 * time.Millisecond
)

// PeriphOptions lists every pin and device the controller touches so they can be
// configured once at startup.
type PeriphOptions struct {
	Relays     []string
	Inputs     []string
	Triggers   []string
	Echoes     []string
	FlowPins   []string
	ADCAddress uint16
	ADCChannel []int
	// I2C addresses of BME280 probes used as pump temperature sensors.
	TempProbes []uint16
}

// Periph is a Bus backed by periph.io on a Linux board (GPIO + I2C).
type Periph struct {
	logger *slog.Logger

	bus    i2c.BusCloser
	adc    *ads1x15.Dev
	adcPin map[int]analog.PinADC
	probes map[uint16]*bmxx80.Dev
	pins   map[string]gpio.PinIO
	relays []string

	counters map[string]*PulseCounter
	stopCh   chan struct{}
	wg       sync.WaitGroup
}

// OpenPeriph initializes the host drivers, configures relays as outputs driven
// LOW, opens the I2C devices and starts one edge watcher per flow pin.
func OpenPeriph(opts PeriphOptions, logger *slog.Logger) (*Periph, error) {
	if _, err := host.Init(); err != nil {
		return nil, fmt.Errorf("host init: %w", err)
	}

	p := &Periph{
		logger:   logger,
		adcPin:   make(map[int]analog.PinADC),
		probes:   make(map[uint16]*bmxx80.Dev),
		pins:     make(map[string]gpio.PinIO),
		counters: make(map[string]*PulseCounter),
		stopCh:   make(chan struct{}),
	}

	for _, name := range opts.Relays {
		pin, err := p.pin(name)
		if err != nil {
			return nil, p.closeAfter(err)
		}
		if err := pin.Out(gpio.Low); err != nil {
			return nil, p.closeAfter(fmt.Errorf("relay %s out: %w", name, err))
		}
		p.relays = append(p.relays, name)
	}
	for _, name := range opts.Triggers {
		pin, err := p.pin(name)
		if err != nil {
			return nil, p.closeAfter(err)
		}
		if err := pin.Out(gpio.Low); err != nil {
			return nil, p.closeAfter(fmt.Errorf("trigger %s out: %w", name, err))
		}
	}
	for _, name := range opts.Inputs {
		pin, err := p.pin(name)
		if err != nil {
			return nil, p.closeAfter(err)
		}
		if err := pin.In(gpio.PullUp, gpio.NoEdge); err != nil {
			return nil, p.closeAfter(fmt.Errorf("input %s in: %w", name, err))
		}
	}
	for _, name := range opts.Echoes {
		pin, err := p.pin(name)
		if err != nil {
			return nil, p.closeAfter(err)
		}
		if err := pin.In(gpio.PullDown, gpio.BothEdges); err != nil {
			return nil, p.closeAfter(fmt.Errorf("echo %s in: %w", name, err))
		}
	}

	if opts.ADCAddress != 0 || len(opts.TempProbes) > 0 {
		bus, err := i2creg.Open("") // default bus, usually /dev/i2c-1
		if err != nil {
			return nil, p.closeAfter(fmt.Errorf("i2c open: %w", err))
		}
		p.bus = bus
	}

	if opts.ADCAddress != 0 {
		adc, err := ads1x15.NewADS1115(p.bus, &ads1x15.Opts{I2cAddress: opts.ADCAddress})
		if err != nil {
			return nil, p.closeAfter(fmt.Errorf("ads1115 at 0x%02X: %w", opts.ADCAddress, err))
		}
		p.adc = adc
		for _, ch := range opts.ADCChannel {
			c, err := adcChannel(ch)
			if err != nil {
				return nil, p.closeAfter(err)
			}
			pin, err := adc.PinForChannel(c, 5*physic.Volt, 8*physic.Hertz, ads1x15.SaveEnergy)
			if err != nil {
				return nil, p.closeAfter(fmt.Errorf("ads1115 channel %d: %w", ch, err))
			}
			p.adcPin[ch] = pin
		}
	}

	for _, addr := range opts.TempProbes {
		dev, err := bmxx80.NewI2C(p.bus, addr, &bmxx80.DefaultOpts)
		if err != nil {
			return nil, p.closeAfter(fmt.Errorf("bme280 at 0x%02X: %w", addr, err))
		}
		p.probes[addr] = dev
	}

	for _, name := range opts.FlowPins {
		pin, err := p.pin(name)
		if err != nil {
			return nil, p.closeAfter(err)
		}
		if err := pin.In(gpio.PullUp, gpio.RisingEdge); err != nil {
			return nil, p.closeAfter(fmt.Errorf("flow %s in: %w", name, err))
		}
		counter := &PulseCounter{}
		p.counters[name] = counter
		p.wg.Add(1)
		go p.watchEdges(pin, counter)
	}

	logger.Info("periph hardware ready",
		"relays", len(opts.Relays),
		"flow_pins", len(opts.FlowPins),
		"adc_channels", len(p.adcPin),
		"temp_probes", len(p.probes),
	)
	return p, nil
}

func (p *Periph) pin(name string) (gpio.PinIO, error) {
	if pin, ok := p.pins[name]; ok {
		return pin, nil
	}
	pin := gpioreg.ByName(name)
	if pin == nil {
		return nil, fmt.Errorf("gpio %q not found", name)
	}
	p.pins[name] = pin
	return pin, nil
}

func (p *Periph) watchEdges(pin gpio.PinIO, counter *PulseCounter) {
	defer p.wg.Done()
	for {
		select {
		case <-p.stopCh:
			return
		default:
		}
		if pin.WaitForEdge(flowEdgeTimeout) {
			counter.Inc()
		}
	}
}

func (p *Periph) ReadAnalog(channel int) (int, error) {
	pin, ok := p.adcPin[channel]
	if !ok {
		return 0, fmt.Errorf("analog channel %d: %w", channel, ErrNoSignal)
	}
	s, err := pin.Read()
	if err != nil {
		return 0, fmt.Errorf("analog channel %d: %w", channel, err)
	}
	return int(s.Raw), nil
}

func (p *Periph) ReadDigital(name string) (bool, error) {
	pin, ok := p.pins[name]
	if !ok {
		return false, fmt.Errorf("pin %s: %w", name, ErrNoSignal)
	}
	return pin.Read() == gpio.High, nil
}

func (p *Periph) WriteDigital(name string, level bool) error {
	pin, ok := p.pins[name]
	if !ok {
		return fmt.Errorf("pin %s not configured", name)
	}
	if err := pin.Out(gpio.Level(level)); err != nil {
		return fmt.Errorf("pin %s out: %w", name, err)
	}
	return nil
}

func (p *Periph) ReadPulseCount(name string) uint64 {
	c, ok := p.counters[name]
	if !ok {
		return 0
	}
	return c.Take()
}

func (p *Periph) ReadTemperature(probe uint16) (float64, error) {
	dev, ok := p.probes[probe]
	if !ok {
		return 0, fmt.Errorf("probe 0x%02X: %w", probe, ErrNoSignal)
	}
	var env physic.Env
	if err := dev.Sense(&env); err != nil {
		return 0, fmt.Errorf("probe 0x%02X sense: %w", probe, err)
	}
	return env.Temperature.Celsius(), nil
}

func (p *Periph) EchoDuration(trig, echo string) (time.Duration, error) {
	t, ok := p.pins[trig]
	if !ok {
		return 0, fmt.Errorf("trigger %s: %w", trig, ErrNoSignal)
	}
	e, ok := p.pins[echo]
	if !ok {
		return 0, fmt.Errorf("echo %s: %w", echo, ErrNoSignal)
	}

	if err := t.Out(gpio.Low); err != nil {
		return 0, err
	}
	time.Sleep(2 * time.Microsecond)
	if err := t.Out(gpio.High); err != nil {
		return 0, err
	}
	time.Sleep(10 * time.Microsecond)
	if err := t.Out(gpio.Low); err != nil {
		return 0, err
	}

	if !e.WaitForEdge(echoTimeout) {
		return 0, fmt.Errorf("echo %s: no rising edge", echo)
	}
	start := time.Now()
	if !e.WaitForEdge(echoTimeout) {
		return 0, fmt.Errorf("echo %s: no falling edge", echo)
	}
	return time.Since(start), nil
}

// Close stops the edge watchers, drives relays LOW and releases the I2C bus.
// Idempotent.
func (p *Periph) Close() error {
	select {
	case <-p.stopCh:
		return nil
	default:
		close(p.stopCh)
	}
	p.wg.Wait()

	for _, name := range p.relays {
		if err := p.pins[name].Out(gpio.Low); err != nil {
			p.logger.Warn("relay release", "pin", name, "error", err)
		}
	}
	for ch, pin := range p.adcPin {
		if err := pin.Halt(); err != nil {
			p.logger.Warn("adc halt", "channel", ch, "error", err)
		}
	}
	for addr, dev := range p.probes {
		if err := dev.Halt(); err != nil {
			p.logger.Warn("bme280 halt", "address", fmt.Sprintf("0x%02X", addr), "error", err)
		}
	}
	if p.bus != nil {
		return p.bus.Close()
	}
	return nil
}

func (p *Periph) closeAfter(err error) error {
	if closeErr := p.Close(); closeErr != nil {
		p.logger.Warn("periph cleanup", "error", closeErr)
	}
	return err
}

func adcChannel(ch int) (ads1x15.Channel, error) {
	switch ch {
	case 0:
		return ads1x15.Channel0, nil
	case 1:
		return ads1x15.Channel1, nil
	case 2:
		return ads1x15.Channel2, nil
	case 3:
		return ads1x15.Channel3, nil
	default:
		return 0, fmt.Errorf("ads1115 has channels 0-3, got %d", ch)
	}
}
