package command

import (
	"encoding/json"
	"errors"
	"log/slog"

	"github.com/google/uuid"

	"github.com/Old-Lx/AquaManagement/internal/pump"
)

const maxLoggedPayload = 256

// Relay drives a pump's actuator pin.
type Relay interface {
	WriteDigital(pin string, level bool) error
}

// Recorder observes dispatch outcomes. The reason is "ok" for applied commands,
// otherwise the label returned by Reason.
type Recorder interface {
	CommandHandled(reason string)
	PumpState(id int, on bool)
}

// Result describes an applied command.
type Result struct {
	FrameID string
	PumpID  int
	Command Command
	// WasOn is the state before the command; equal to IsOn for a redundant command.
	WasOn bool
	IsOn  bool
}

// Dispatcher validates inbound control frames and applies them to the registry.
type Dispatcher struct {
	registry *pump.Registry
	relay    Relay
	logger   *slog.Logger
	recorder Recorder
}

func NewDispatcher(registry *pump.Registry, relay Relay, logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{
		registry: registry,
		relay:    relay,
		logger:   logger,
	}
}

// SetRecorder attaches an outcome observer. Call before the first Handle.
func (d *Dispatcher) SetRecorder(r Recorder) {
	d.recorder = r
}

// Handle runs one frame through decode, address, resolve, validate and match,
// then actuates the relay. Any error leaves the registry unchanged.
func (d *Dispatcher) Handle(topic string, payload []byte) (Result, error) {
	frameID := uuid.NewString()
	res, err := d.handle(topic, payload)
	res.FrameID = frameID

	if d.recorder != nil {
		d.recorder.CommandHandled(Reason(err))
	}

	if err != nil {
		var cerr *Error
		attrs := []any{"frame_id", frameID, "topic", topic, "reason", Reason(err), "error", err}
		if errors.As(err, &cerr) {
			if cerr.PumpID != 0 {
				attrs = append(attrs, "pump_id", cerr.PumpID)
			}
			if cerr.Raw != "" {
				attrs = append(attrs, "raw", cerr.Raw)
			}
		}
		if errors.Is(err, ErrActuation) {
			d.logger.Error("command rejected", attrs...)
		} else {
			d.logger.Warn("command rejected", attrs...)
		}
		return res, err
	}

	if d.recorder != nil {
		d.recorder.PumpState(res.PumpID, res.IsOn)
	}
	d.logger.Info("command applied",
		"frame_id", frameID,
		"pump_id", res.PumpID,
		"command", res.Command.Kind.String(),
		"was_on", res.WasOn,
		"is_on", res.IsOn,
	)
	return res, nil
}

func (d *Dispatcher) handle(topic string, payload []byte) (Result, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(payload, &fields); err != nil || fields == nil {
		return Result{}, &Error{Err: ErrMalformedPayload, Topic: topic, Raw: truncate(payload), Cause: err}
	}

	id, err := ParseAddress(topic)
	if err != nil {
		return Result{}, &Error{Err: ErrInvalidAddress, Topic: topic}
	}

	if _, ok := d.registry.Find(id); !ok {
		return Result{}, &Error{Err: ErrUnknownPump, Topic: topic, PumpID: id}
	}

	raw, ok := fields["command"]
	if !ok {
		return Result{}, &Error{Err: ErrMissingCommand, Topic: topic, PumpID: id}
	}
	var value any
	if err := json.Unmarshal(raw, &value); err != nil {
		return Result{}, &Error{Err: ErrMissingCommand, Topic: topic, PumpID: id, Raw: string(raw)}
	}
	token, ok := value.(string)
	if !ok {
		return Result{}, &Error{Err: ErrMissingCommand, Topic: topic, PumpID: id, Raw: string(raw)}
	}

	cmd := Parse(token)
	if cmd.Kind == Unknown {
		return Result{}, &Error{Err: ErrUnrecognizedCommand, Topic: topic, PumpID: id, Raw: token}
	}

	res := Result{PumpID: id, Command: cmd}
	err = d.registry.Apply(id, func(p *pump.Pump) error {
		res.WasOn = p.IsOn
		if err := d.relay.WriteDigital(p.Actuator, cmd.Level()); err != nil {
			return &Error{Err: ErrActuation, Topic: topic, PumpID: id, Raw: token, Cause: err}
		}
		p.IsOn = cmd.Level()
		res.IsOn = p.IsOn
		return nil
	})
	if errors.Is(err, pump.ErrNotFound) {
		return Result{}, &Error{Err: ErrUnknownPump, Topic: topic, PumpID: id, Cause: err}
	}
	if err != nil {
		return Result{}, err
	}
	return res, nil
}

func truncate(payload []byte) string {
	if len(payload) > maxLoggedPayload {
		return string(payload[:maxLoggedPayload]) + "..."
	}
	return string(payload)
}
