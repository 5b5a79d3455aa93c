package httpapi

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/Old-Lx/AquaManagement/internal/command"
	"github.com/Old-Lx/AquaManagement/internal/controller"
)

const maxControlBody = 4 << 10

// Controller is the part of the control loop the API needs.
type Controller interface {
	Submit(ctx context.Context, topic string, payload []byte) (command.Result, error)
	State() *controller.State
}

// Link reports broker connectivity. It is nil when MQTT is disabled.
type Link interface {
	IsConnected() bool
}

type pumpAPI struct {
	namespace string
	ctrl      Controller
	link      Link
	logger    *slog.Logger
}

type controlResponse struct {
	FrameID string `json:"frame_id"`
	PumpID  int    `json:"pump_id"`
	Command string `json:"command"`
	WasOn   bool   `json:"was_on"`
	IsOn    bool   `json:"is_on"`
}

func (a *pumpAPI) handleHealthz(w http.ResponseWriter, r *http.Request) {
	mqttState := "disabled"
	if a.link != nil {
		mqttState = "disconnected"
		if a.link.IsConnected() {
			mqttState = "connected"
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"status": "ok",
		"mqtt":   mqttState,
	})
}

func (a *pumpAPI) handleListPumps(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, a.ctrl.State().Snapshot())
}

func (a *pumpAPI) handleGetPump(w http.ResponseWriter, r *http.Request) {
	id, ok := pumpID(w, r)
	if !ok {
		return
	}
	status, found := a.ctrl.State().Pump(id)
	if !found {
		writeError(w, http.StatusNotFound, "unknown_pump", "pump "+strconv.Itoa(id)+" is not provisioned")
		return
	}
	writeJSON(w, http.StatusOK, status)
}

// handleControl feeds the request body through the same pipeline as an MQTT
// control frame addressed to the pump.
func (a *pumpAPI) handleControl(w http.ResponseWriter, r *http.Request) {
	id, ok := pumpID(w, r)
	if !ok {
		return
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxControlBody))
	if err != nil {
		writeError(w, http.StatusRequestEntityTooLarge, "malformed_payload", "request body too large")
		return
	}

	res, err := a.ctrl.Submit(r.Context(), command.Topic(a.namespace, id), body)
	if err != nil {
		status, reason := controlStatus(err)
		if status >= http.StatusInternalServerError {
			a.logger.Error("local control failed", "pump_id", id, "error", err)
		}
		writeError(w, status, reason, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, controlResponse{
		FrameID: res.FrameID,
		PumpID:  res.PumpID,
		Command: res.Command.Kind.String(),
		WasOn:   res.WasOn,
		IsOn:    res.IsOn,
	})
}

func controlStatus(err error) (int, string) {
	switch {
	case errors.Is(err, command.ErrUnknownPump):
		return http.StatusNotFound, command.Reason(err)
	case errors.Is(err, command.ErrMalformedPayload),
		errors.Is(err, command.ErrInvalidAddress),
		errors.Is(err, command.ErrMissingCommand),
		errors.Is(err, command.ErrUnrecognizedCommand):
		return http.StatusBadRequest, command.Reason(err)
	case errors.Is(err, command.ErrActuation):
		return http.StatusBadGateway, command.Reason(err)
	case errors.Is(err, controller.ErrStopped),
		errors.Is(err, context.Canceled),
		errors.Is(err, context.DeadlineExceeded):
		return http.StatusServiceUnavailable, "unavailable"
	default:
		return http.StatusInternalServerError, "internal"
	}
}

func pumpID(w http.ResponseWriter, r *http.Request) (int, bool) {
	raw := r.PathValue("id")
	id, err := strconv.Atoi(raw)
	if err != nil || id <= 0 {
		writeError(w, http.StatusBadRequest, "invalid_address", "pump id must be a positive integer, got "+strconv.Quote(raw))
		return 0, false
	}
	return id, true
}
