package mode

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/2franix/hwsupervisor/internal/lkdbus"
	"github.com/2franix/hwsupervisor/internal/testkit"
)

type fakeSensorView struct {
	name string

	mu       sync.Mutex
	started  []string
	stopped  int
	disabled int
	mode     string
}

func (f *fakeSensorView) Name() string { return f.name }

func (f *fakeSensorView) StartActivationTimer(_ context.Context, mode string, isRequired func() bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.started = append(f.started, mode)
}

func (f *fakeSensorView) StopActivationTimer() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stopped++
}

func (f *fakeSensorView) SetMode(mode string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.mode = mode
}

func (f *fakeSensorView) Disable(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.disabled++
	return nil
}

func (f *fakeSensorView) snapshot() (started []string, stopped, disabled int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string{}, f.started...), f.stopped, f.disabled
}

type recordingModeSink struct {
	mu     sync.Mutex
	events []Event
	names  []string
}

func (r *recordingModeSink) FireModeEvent(_ context.Context, name string, ev Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
	r.names = append(r.names, name)
}

func TestModeSwitchDrivesWatchedSensorsOnly(t *testing.T) {
	bus := testkit.NewFakeBus()
	sink := &recordingModeSink{}

	watched := &fakeSensorView{name: "S"}
	other := &fakeSensorView{name: "Other"}

	defs := []Def{
		{Name: "Away", Code: 1, SensorNames: map[string]bool{"S": true}},
		{Name: "Presence", Code: 2, SensorNames: map[string]bool{}},
	}

	c, err := New(context.Background(), "mode.object", defs,
		map[string]SensorView{"S": watched, "Other": other}, bus, sink, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	_ = c

	bus.Write("mode.object", lkdbus.FloatValue(1))
	time.Sleep(20 * time.Millisecond)

	started, _, _ := watched.snapshot()
	if len(started) != 1 || started[0] != "Away" {
		t.Fatalf("expected S to get an activation timer for Away, got %v", started)
	}
	_, _, disabledOther := other.snapshot()
	if disabledOther == 0 {
		t.Fatal("expected Other to be disabled since not required by Away")
	}

	if c.CurrentMode() != "Away" {
		t.Fatalf("expected current mode Away, got %q", c.CurrentMode())
	}
}

func TestModeSwitchFiresEnteredAndLeft(t *testing.T) {
	bus := testkit.NewFakeBus()
	sink := &recordingModeSink{}

	s := &fakeSensorView{name: "S"}
	defs := []Def{
		{Name: "Away", Code: 1, SensorNames: map[string]bool{"S": true}},
		{Name: "Presence", Code: 2, SensorNames: map[string]bool{"S": true}},
	}

	if _, err := New(context.Background(), "mode.object", defs,
		map[string]SensorView{"S": s}, bus, sink, nil); err != nil {
		t.Fatalf("New: %v", err)
	}

	bus.Write("mode.object", lkdbus.FloatValue(1))
	time.Sleep(10 * time.Millisecond)
	bus.Write("mode.object", lkdbus.FloatValue(2))
	time.Sleep(10 * time.Millisecond)

	sink.mu.Lock()
	defer sink.mu.Unlock()
	if len(sink.events) != 3 {
		t.Fatalf("expected ENTERED(Away), LEFT(Away), ENTERED(Presence); got %v / %v", sink.events, sink.names)
	}
	if sink.events[0] != EventEntered || sink.names[0] != "Away" {
		t.Fatalf("first event should be ENTERED Away, got %v %v", sink.events[0], sink.names[0])
	}
	if sink.events[1] != EventLeft || sink.names[1] != "Away" {
		t.Fatalf("second event should be LEFT Away, got %v %v", sink.events[1], sink.names[1])
	}
	if sink.events[2] != EventEntered || sink.names[2] != "Presence" {
		t.Fatalf("third event should be ENTERED Presence, got %v %v", sink.events[2], sink.names[2])
	}
}
