package controller

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/Old-Lx/AquaManagement/internal/command"
	"github.com/Old-Lx/AquaManagement/internal/sensor"
	"github.com/Old-Lx/AquaManagement/internal/telemetry"
)

// ErrTransportUnavailable is reported for a cycle whose telemetry was not
// published because the transport was disconnected. The next cycle tries again.
var ErrTransportUnavailable = errors.New("transport unavailable")

// ErrStopped is returned by Submit once the loop has exited.
var ErrStopped = errors.New("controller stopped")

const frameBuffer = 32

// Publisher hands encoded telemetry to the transport.
type Publisher interface {
	Publish(topic string, payload []byte) error
	IsConnected() bool
}

// Recorder observes cycles.
type Recorder interface {
	CycleCompleted(elapsed time.Duration, published, skipped int)
	TankSampled(tank sensor.TankState)
	PumpSampled(id int, r sensor.PumpReading)
}

type Options struct {
	Namespace string
	Interval  time.Duration
	Now       func() time.Time
	Logger    *slog.Logger
}

type frame struct {
	topic   string
	payload []byte
	reply   chan reply
}

type reply struct {
	res command.Result
	err error
}

// Controller serializes telemetry cycles and inbound command frames through one
// loop, so the dispatcher and the assembler never run at the same time.
type Controller struct {
	state      *State
	source     sensor.Source
	dispatcher *command.Dispatcher
	publisher  Publisher
	recorder   Recorder

	namespace string
	interval  time.Duration
	now       func() time.Time
	logger    *slog.Logger

	frames chan frame
	done   chan struct{}
}

func New(state *State, source sensor.Source, dispatcher *command.Dispatcher, publisher Publisher, opts Options) *Controller {
	if opts.Interval <= 0 {
		opts.Interval = 5 * time.Second
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Controller{
		state:      state,
		source:     source,
		dispatcher: dispatcher,
		publisher:  publisher,
		namespace:  opts.Namespace,
		interval:   opts.Interval,
		now:        opts.Now,
		logger:     opts.Logger,
		frames:     make(chan frame, frameBuffer),
		done:       make(chan struct{}),
	}
}

// SetRecorder attaches a cycle observer. Call before Run.
func (c *Controller) SetRecorder(r Recorder) {
	c.recorder = r
}

func (c *Controller) State() *State {
	return c.state
}

// Run services frames and fires cycles until ctx is cancelled. The timer is
// re-armed after each cycle completes; drift is not compensated.
func (c *Controller) Run(ctx context.Context) error {
	defer close(c.done)

	c.logger.Info("controller started",
		"interval", c.interval,
		"namespace", c.namespace,
		"pumps", c.state.Registry.Len(),
	)

	timer := time.NewTimer(c.interval)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			c.logger.Info("controller stopped")
			return nil
		case f := <-c.frames:
			res, err := c.dispatcher.Handle(f.topic, f.payload)
			if f.reply != nil {
				f.reply <- reply{res: res, err: err}
			}
		case <-timer.C:
			if _, err := c.Tick(c.now()); err != nil {
				c.logger.Warn("telemetry cycle incomplete", "error", err)
			}
			timer.Reset(c.interval)
		}
	}
}

// Enqueue queues a frame for the loop without waiting for the outcome. It is
// meant for transport callbacks and never blocks: frames arriving while the
// queue is full or after the loop exits are dropped.
func (c *Controller) Enqueue(topic string, payload []byte) {
	select {
	case <-c.done:
		c.logger.Debug("frame dropped, controller stopped", "topic", topic)
		return
	default:
	}

	select {
	case c.frames <- frame{topic: topic, payload: payload}:
	default:
		c.logger.Warn("frame dropped, queue full", "topic", topic, "queued", len(c.frames))
	}
}

// Submit queues a frame and waits for the dispatcher's verdict.
func (c *Controller) Submit(ctx context.Context, topic string, payload []byte) (command.Result, error) {
	f := frame{topic: topic, payload: payload, reply: make(chan reply, 1)}
	select {
	case c.frames <- f:
	case <-c.done:
		return command.Result{}, ErrStopped
	case <-ctx.Done():
		return command.Result{}, ctx.Err()
	}
	select {
	case r := <-f.reply:
		return r.res, r.err
	case <-c.done:
		return command.Result{}, ErrStopped
	case <-ctx.Done():
		return command.Result{}, ctx.Err()
	}
}

// Tick runs one telemetry cycle: the tank is sampled once, then each pump in
// registry order is sampled, assembled and published. Messages are returned
// even when publishing was skipped.
func (c *Controller) Tick(now time.Time) ([]telemetry.Message, error) {
	start := time.Now()

	tank := c.source.SampleTank()
	pumps := c.state.Registry.List()
	connected := c.publisher.IsConnected()
	if c.recorder != nil {
		c.recorder.TankSampled(tank)
	}

	msgs := make([]telemetry.Message, 0, len(pumps))
	readings := make(map[int]sensor.PumpReading, len(pumps))
	var (
		published, skipped int
		errs               []error
	)

	for _, p := range pumps {
		r := c.source.SamplePump(p)
		readings[p.ID] = r
		if c.recorder != nil {
			c.recorder.PumpSampled(p.ID, r)
		}

		msg := telemetry.Build(p, r, tank, now)
		msgs = append(msgs, msg)

		c.logger.Debug("telemetry",
			"pump_id", msg.PumpID,
			"current_amps", msg.CurrentAmps,
			"street_flow_status", msg.StreetFlowStatus,
			"current_inflow_rate", msg.CurrentInflowRate,
			"water_level_percent", msg.WaterLevelPercent,
		)

		if !connected {
			skipped++
			continue
		}

		data, err := telemetry.Encode(msg)
		if err != nil {
			skipped++
			errs = append(errs, fmt.Errorf("pump %d: %w", p.ID, err))
			continue
		}
		topic := telemetry.Topic(c.namespace, p.ID)
		if err := c.publisher.Publish(topic, data); err != nil {
			skipped++
			errs = append(errs, fmt.Errorf("publish %s: %w", topic, err))
			continue
		}
		published++
	}

	c.state.record(now, tank, readings)
	if c.recorder != nil {
		c.recorder.CycleCompleted(time.Since(start), published, skipped)
	}

	if !connected {
		c.logger.Warn("transport disconnected, telemetry not published", "pumps", len(pumps))
		return msgs, ErrTransportUnavailable
	}
	return msgs, errors.Join(errs...)
}
