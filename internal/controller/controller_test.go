package controller

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"math/rand/v2"
	"sync"
	"testing"
	"time"

	"github.com/Old-Lx/AquaManagement/internal/command"
	"github.com/Old-Lx/AquaManagement/internal/hardware"
	"github.com/Old-Lx/AquaManagement/internal/pump"
	"github.com/Old-Lx/AquaManagement/internal/sensor"
	"github.com/Old-Lx/AquaManagement/internal/telemetry"
)

type published struct {
	topic   string
	payload []byte
}

type fakePublisher struct {
	mu        sync.Mutex
	connected bool
	fail      error
	msgs      []published
}

func (p *fakePublisher) Publish(topic string, payload []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.fail != nil {
		return p.fail
	}
	p.msgs = append(p.msgs, published{topic: topic, payload: payload})
	return nil
}

func (p *fakePublisher) IsConnected() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.connected
}

func (p *fakePublisher) sent() []published {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]published, len(p.msgs))
	copy(out, p.msgs)
	return out
}

type cycleRecorder struct {
	mu        sync.Mutex
	cycles    int
	published int
	skipped   int
	pumps     map[int]sensor.PumpReading
}

func (r *cycleRecorder) CycleCompleted(_ time.Duration, published, skipped int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cycles++
	r.published += published
	r.skipped += skipped
}

func (r *cycleRecorder) TankSampled(sensor.TankState) {}

func (r *cycleRecorder) PumpSampled(id int, reading sensor.PumpReading) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.pumps == nil {
		r.pumps = make(map[int]sensor.PumpReading)
	}
	r.pumps[id] = reading
}

type harness struct {
	ctrl *Controller
	pub  *fakePublisher
	bus  *hardware.Memory
	rec  *cycleRecorder
	now  time.Time
}

func newHarness(t *testing.T, interval time.Duration) *harness {
	t.Helper()
	reg, err := pump.New([]pump.Pump{
		{ID: 1, Actuator: "GPIO27"},
		{ID: 2, Actuator: "GPIO26"},
	})
	if err != nil {
		t.Fatalf("pump.New: %v", err)
	}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	now := time.Date(2026, 2, 8, 18, 0, 0, 0, time.UTC)

	h := &harness{
		pub: &fakePublisher{connected: true},
		bus: hardware.NewMemory(),
		rec: &cycleRecorder{},
		now: now,
	}
	src := sensor.NewSimulated(sensor.SimulatedOptions{
		InitialLevel: 70,
		Now:          func() time.Time { return now },
		Rand:         rand.New(rand.NewPCG(7, 7)),
	})
	d := command.NewDispatcher(reg, h.bus, logger)
	h.ctrl = New(NewState(reg), src, d, h.pub, Options{
		Namespace: "caracas",
		Interval:  interval,
		Now:       func() time.Time { return now },
		Logger:    logger,
	})
	h.ctrl.SetRecorder(h.rec)
	return h
}

func (h *harness) run(t *testing.T) context.CancelFunc {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- h.ctrl.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		select {
		case err := <-errCh:
			if err != nil {
				t.Errorf("Run: %v", err)
			}
		case <-time.After(2 * time.Second):
			t.Error("Run did not return after cancel")
		}
	})
	return cancel
}

func decode(t *testing.T, data []byte) telemetry.Message {
	t.Helper()
	var m telemetry.Message
	if err := json.Unmarshal(data, &m); err != nil {
		t.Fatalf("unmarshal telemetry: %v", err)
	}
	return m
}

func TestTick_TwoPumpScenario(t *testing.T) {
	h := newHarness(t, time.Hour)
	h.run(t)

	msgs, err := h.ctrl.Tick(h.now)
	if err != nil {
		t.Fatalf("Tick: %v", err)
	}
	if len(msgs) != 2 {
		t.Fatalf("messages = %d, want 2", len(msgs))
	}
	for _, m := range msgs {
		if m.StreetFlowStatus != telemetry.StatusStopped || m.CurrentAmps != 0 {
			t.Errorf("pump %d = %s/%v, want STOPPED/0", m.PumpID, m.StreetFlowStatus, m.CurrentAmps)
		}
	}

	if _, err := h.ctrl.Submit(context.Background(), "caracas/pumps/1/control", []byte(`{"command":"START"}`)); err != nil {
		t.Fatalf("Submit START: %v", err)
	}

	msgs, err = h.ctrl.Tick(h.now.Add(5 * time.Second))
	if err != nil {
		t.Fatalf("Tick: %v", err)
	}
	if msgs[0].PumpID != 1 || msgs[0].CurrentAmps <= 0 || msgs[0].StreetFlowStatus != telemetry.StatusFlowing {
		t.Errorf("pump 1 = %+v, want FLOWING with amps > 0", msgs[0])
	}
	if msgs[1].PumpID != 2 || msgs[1].CurrentAmps != 0 || msgs[1].StreetFlowStatus != telemetry.StatusStopped {
		t.Errorf("pump 2 = %+v, want unchanged STOPPED", msgs[1])
	}

	sent := h.pub.sent()
	if len(sent) != 4 {
		t.Fatalf("published = %d, want 4", len(sent))
	}
	wantTopics := []string{
		"caracas/pumps/1/telemetry", "caracas/pumps/2/telemetry",
		"caracas/pumps/1/telemetry", "caracas/pumps/2/telemetry",
	}
	for i, p := range sent {
		if p.topic != wantTopics[i] {
			t.Errorf("publish %d topic = %q, want %q", i, p.topic, wantTopics[i])
		}
	}
	if m := decode(t, sent[2].payload); m.StreetFlowStatus != telemetry.StatusFlowing {
		t.Errorf("wire status for pump 1 = %s, want FLOWING", m.StreetFlowStatus)
	}
	if writes := h.bus.Writes(); len(writes) != 1 || writes[0] != (hardware.Write{Pin: "GPIO27", Level: true}) {
		t.Errorf("relay writes = %v", writes)
	}
}

func TestTick_SharedTankPerCycle(t *testing.T) {
	h := newHarness(t, time.Hour)

	msgs, err := h.ctrl.Tick(h.now)
	if err != nil {
		t.Fatalf("Tick: %v", err)
	}
	if msgs[0].WaterLevelPercent != msgs[1].WaterLevelPercent || msgs[0].CurrentInflowRate != msgs[1].CurrentInflowRate {
		t.Errorf("tank fields differ across pumps in one cycle: %+v vs %+v", msgs[0], msgs[1])
	}
	if msgs[0].Timestamp != h.now.Unix() {
		t.Errorf("timestamp = %d, want %d", msgs[0].Timestamp, h.now.Unix())
	}
}

func TestTick_SkipsPublishWhenDisconnected(t *testing.T) {
	h := newHarness(t, time.Hour)
	h.pub.connected = false

	msgs, err := h.ctrl.Tick(h.now)
	if !errors.Is(err, ErrTransportUnavailable) {
		t.Fatalf("Tick error = %v, want ErrTransportUnavailable", err)
	}
	if len(msgs) != 2 {
		t.Errorf("messages = %d, want 2 even when disconnected", len(msgs))
	}
	if n := len(h.pub.sent()); n != 0 {
		t.Errorf("published = %d, want 0", n)
	}
	if h.rec.skipped != 2 || h.rec.published != 0 {
		t.Errorf("recorder = %d published / %d skipped, want 0/2", h.rec.published, h.rec.skipped)
	}

	// a later cycle publishes once the link is back
	h.pub.mu.Lock()
	h.pub.connected = true
	h.pub.mu.Unlock()
	if _, err := h.ctrl.Tick(h.now.Add(5 * time.Second)); err != nil {
		t.Fatalf("Tick after reconnect: %v", err)
	}
	if n := len(h.pub.sent()); n != 2 {
		t.Errorf("published after reconnect = %d, want 2", n)
	}
}

func TestTick_PublishErrorsAreCollected(t *testing.T) {
	h := newHarness(t, time.Hour)
	boom := errors.New("broker rejected")
	h.pub.fail = boom

	_, err := h.ctrl.Tick(h.now)
	if !errors.Is(err, boom) {
		t.Fatalf("Tick error = %v, want wrapped publish error", err)
	}
	if h.rec.skipped != 2 {
		t.Errorf("skipped = %d, want 2", h.rec.skipped)
	}
}

func TestRun_FiresCycles(t *testing.T) {
	h := newHarness(t, 5*time.Millisecond)
	h.run(t)

	deadline := time.After(2 * time.Second)
	for len(h.pub.sent()) < 4 {
		select {
		case <-deadline:
			t.Fatalf("published = %d after 2s, want >= 4", len(h.pub.sent()))
		case <-time.After(5 * time.Millisecond):
		}
	}

	snap := h.ctrl.State().Snapshot()
	if snap.Cycles < 2 || snap.Tank == nil || snap.LastCycle == nil {
		t.Errorf("snapshot = %+v, want at least two recorded cycles", snap)
	}
}

func TestSubmit_ReportsDispatchErrors(t *testing.T) {
	h := newHarness(t, time.Hour)
	h.run(t)

	_, err := h.ctrl.Submit(context.Background(), "caracas/pumps/99/control", []byte(`{"command":"START"}`))
	if !errors.Is(err, command.ErrUnknownPump) {
		t.Fatalf("Submit error = %v, want ErrUnknownPump", err)
	}
	if n := len(h.bus.Writes()); n != 0 {
		t.Errorf("actuations = %d, want 0", n)
	}
}

func TestSubmit_AfterStop(t *testing.T) {
	h := newHarness(t, time.Hour)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		_ = h.ctrl.Run(ctx)
		close(done)
	}()
	cancel()
	<-done

	_, err := h.ctrl.Submit(context.Background(), "caracas/pumps/1/control", []byte(`{"command":"START"}`))
	if !errors.Is(err, ErrStopped) {
		t.Fatalf("Submit error = %v, want ErrStopped", err)
	}
}

func TestEnqueue_AppliesAsync(t *testing.T) {
	h := newHarness(t, time.Hour)
	h.run(t)

	h.ctrl.Enqueue("caracas/pumps/2/control", []byte(`{"command":"START"}`))

	deadline := time.After(2 * time.Second)
	for {
		if st, _ := h.ctrl.State().Pump(2); st.IsOn {
			break
		}
		select {
		case <-deadline:
			t.Fatal("pump 2 not ON after Enqueue")
		case <-time.After(5 * time.Millisecond):
		}
	}
}

func TestEnqueue_DropsWhenQueueFull(t *testing.T) {
	h := newHarness(t, time.Hour)

	returned := make(chan struct{})
	go func() {
		for range frameBuffer {
			h.ctrl.Enqueue("caracas/pumps/2/control", []byte(`{"command":"START"}`))
		}
		h.ctrl.Enqueue("caracas/pumps/2/control", []byte(`{"command":"STOP"}`))
		close(returned)
	}()

	select {
	case <-returned:
	case <-time.After(2 * time.Second):
		t.Fatal("Enqueue blocked on a full queue")
	}

	h.run(t)

	deadline := time.After(2 * time.Second)
	for len(h.bus.Writes()) < frameBuffer {
		select {
		case <-deadline:
			t.Fatalf("relay writes = %d, want %d", len(h.bus.Writes()), frameBuffer)
		case <-time.After(5 * time.Millisecond):
		}
	}
	time.Sleep(20 * time.Millisecond)

	if n := len(h.bus.Writes()); n != frameBuffer {
		t.Fatalf("relay writes = %d, want %d (overflow frame applied)", n, frameBuffer)
	}
	if st, _ := h.ctrl.State().Pump(2); !st.IsOn {
		t.Fatal("pump 2 OFF, want the dropped STOP to have no effect")
	}
}

func TestState_Snapshot(t *testing.T) {
	h := newHarness(t, time.Hour)

	snap := h.ctrl.State().Snapshot()
	if snap.Cycles != 0 || snap.Tank != nil || len(snap.Pumps) != 2 {
		t.Fatalf("initial snapshot = %+v", snap)
	}
	for _, p := range snap.Pumps {
		if p.IsOn || p.LastReading != nil {
			t.Errorf("initial pump status = %+v, want OFF without reading", p)
		}
	}

	if _, err := h.ctrl.Tick(h.now); err != nil {
		t.Fatalf("Tick: %v", err)
	}
	st, ok := h.ctrl.State().Pump(1)
	if !ok || st.LastReading == nil || st.LastReading.TemperatureC == nil {
		t.Fatalf("pump 1 status = %+v, want last reading", st)
	}
	if *st.LastReading.TemperatureC != sensor.AmbientTemperature {
		t.Errorf("idle temperature = %v, want ambient", *st.LastReading.TemperatureC)
	}
	if _, ok := h.ctrl.State().Pump(99); ok {
		t.Error("Pump(99) found")
	}
}
