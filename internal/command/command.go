package command

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// Failure variants reported for inbound frames. Every one of them discards the
// frame and leaves pump state untouched.
var (
	ErrMalformedPayload    = errors.New("malformed payload")
	ErrInvalidAddress      = errors.New("invalid address")
	ErrUnknownPump         = errors.New("unknown pump")
	ErrMissingCommand      = errors.New("missing command")
	ErrUnrecognizedCommand = errors.New("unrecognized command")
	ErrActuation           = errors.New("relay actuation failed")
)

// Kind is the decoded command variant.
type Kind int

const (
	Unknown Kind = iota
	Start
	Stop
)

func (k Kind) String() string {
	switch k {
	case Start:
		return "START"
	case Stop:
		return "STOP"
	default:
		return "UNKNOWN"
	}
}

// Command is a decoded control instruction. Raw keeps the token as received.
type Command struct {
	Kind Kind
	Raw  string
}

// Parse matches raw exactly; matching is case-sensitive.
func Parse(raw string) Command {
	switch raw {
	case "START":
		return Command{Kind: Start, Raw: raw}
	case "STOP":
		return Command{Kind: Stop, Raw: raw}
	default:
		return Command{Kind: Unknown, Raw: raw}
	}
}

// Level is the relay level the command drives. Only valid for Start and Stop.
func (c Command) Level() bool {
	return c.Kind == Start
}

// Error describes a rejected frame with enough context to diagnose it.
type Error struct {
	Err    error
	Topic  string
	PumpID int
	Raw    string
	Cause  error
}

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString(e.Err.Error())
	fmt.Fprintf(&b, " (topic=%q", e.Topic)
	if e.PumpID != 0 {
		fmt.Fprintf(&b, " pump_id=%d", e.PumpID)
	}
	if e.Raw != "" {
		fmt.Fprintf(&b, " raw=%q", e.Raw)
	}
	b.WriteString(")")
	if e.Cause != nil {
		b.WriteString(": ")
		b.WriteString(e.Cause.Error())
	}
	return b.String()
}

func (e *Error) Unwrap() []error {
	if e.Cause == nil {
		return []error{e.Err}
	}
	return []error{e.Err, e.Cause}
}

// Reason is a short stable label for the failure, suitable for metrics.
func Reason(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrMalformedPayload):
		return "malformed_payload"
	case errors.Is(err, ErrInvalidAddress):
		return "invalid_address"
	case errors.Is(err, ErrUnknownPump):
		return "unknown_pump"
	case errors.Is(err, ErrMissingCommand):
		return "missing_command"
	case errors.Is(err, ErrUnrecognizedCommand):
		return "unrecognized_command"
	case errors.Is(err, ErrActuation):
		return "actuation"
	default:
		return "internal"
	}
}

// Topic is the per-pump control address.
func Topic(namespace string, pumpID int) string {
	return fmt.Sprintf("%s/pumps/%d/control", namespace, pumpID)
}

// Subscription is the wildcard covering every pump's control address.
func Subscription(namespace string) string {
	return namespace + "/pumps/+/control"
}

// ParseAddress extracts the pump id from a topic of the form .../pumps/<id>/control.
func ParseAddress(topic string) (int, error) {
	parts := strings.Split(topic, "/")
	n := len(parts)
	if n < 3 || parts[n-1] != "control" || parts[n-3] != "pumps" {
		return 0, ErrInvalidAddress
	}
	id, err := strconv.Atoi(parts[n-2])
	if err != nil || id <= 0 {
		return 0, ErrInvalidAddress
	}
	return id, nil
}
