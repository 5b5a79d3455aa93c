package pump

import (
	"errors"
	"testing"
)

func twoPumps() []Pump {
	return []Pump{
		{ID: 1, Actuator: "GPIO27"},
		{ID: 2, Actuator: "GPIO26"},
	}
}

func TestNew_AllPumpsStartOff(t *testing.T) {
	in := twoPumps()
	in[0].IsOn = true

	r, err := New(in)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	for _, p := range r.List() {
		if p.IsOn {
			t.Errorf("pump %d IsOn = true after init, want false", p.ID)
		}
	}
}

func TestNew_Invalid(t *testing.T) {
	tests := []struct {
		name  string
		pumps []Pump
	}{
		{name: "empty", pumps: nil},
		{name: "zero id", pumps: []Pump{{ID: 0, Actuator: "GPIO1"}}},
		{name: "negative id", pumps: []Pump{{ID: -3, Actuator: "GPIO1"}}},
		{name: "missing actuator", pumps: []Pump{{ID: 1}}},
		{name: "duplicate id", pumps: []Pump{{ID: 1, Actuator: "GPIO1"}, {ID: 1, Actuator: "GPIO2"}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := New(tt.pumps); err == nil {
				t.Fatalf("New(%v) error = nil, want non-nil", tt.pumps)
			}
		})
	}
}

func TestList_OrderIsStableAndCopied(t *testing.T) {
	r, err := New([]Pump{{ID: 7, Actuator: "a"}, {ID: 3, Actuator: "b"}, {ID: 5, Actuator: "c"}})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	got := r.List()
	want := []int{7, 3, 5}
	for i, p := range got {
		if p.ID != want[i] {
			t.Fatalf("List()[%d].ID = %d, want %d", i, p.ID, want[i])
		}
	}

	got[0].IsOn = true
	if p, _ := r.Find(7); p.IsOn {
		t.Fatal("mutating List() result leaked into registry")
	}
}

func TestFind(t *testing.T) {
	r, err := New(twoPumps())
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	p, ok := r.Find(2)
	if !ok || p.Actuator != "GPIO26" {
		t.Errorf("Find(2) = %+v, %v; want GPIO26, true", p, ok)
	}
	if _, ok := r.Find(99); ok {
		t.Error("Find(99) ok = true, want false")
	}
}

func TestSetState(t *testing.T) {
	r, err := New(twoPumps())
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	if err := r.SetState(1, true); err != nil {
		t.Fatalf("SetState(1, true): %v", err)
	}
	if p, _ := r.Find(1); !p.IsOn {
		t.Error("pump 1 IsOn = false, want true")
	}
	if p, _ := r.Find(2); p.IsOn {
		t.Error("pump 2 IsOn = true, want false")
	}

	err = r.SetState(42, true)
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("SetState(42) error = %v, want ErrNotFound", err)
	}
}

func TestApply_ErrorDiscardsChanges(t *testing.T) {
	r, err := New(twoPumps())
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	boom := errors.New("relay stuck")
	err = r.Apply(1, func(p *Pump) error {
		p.IsOn = true
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("Apply error = %v, want %v", err, boom)
	}
	if p, _ := r.Find(1); p.IsOn {
		t.Error("pump 1 IsOn = true after failed Apply, want false")
	}
}

func TestApply_IdentityIsImmutable(t *testing.T) {
	r, err := New(twoPumps())
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	_ = r.Apply(1, func(p *Pump) error {
		p.ID = 9
		p.Actuator = "GPIO0"
		return nil
	})
	p, ok := r.Find(1)
	if !ok || p.Actuator != "GPIO27" {
		t.Errorf("Find(1) = %+v, %v; identity should not change", p, ok)
	}
}
