package alert

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/2franix/hwsupervisor/internal/testkit"
)

type fakeSensor struct {
	name        string
	prealert    time.Duration
	alertDur    time.Duration
	hasPersist  bool
	persistSets []bool
	mu          sync.Mutex
}

func (f *fakeSensor) Name() string                            { return f.name }
func (f *fakeSensor) PrealertDuration(string) time.Duration    { return f.prealert }
func (f *fakeSensor) AlertDuration(string) time.Duration       { return f.alertDur }
func (f *fakeSensor) HasPersistenceObject() bool               { return f.hasPersist }
func (f *fakeSensor) SetPersistence(_ context.Context, v bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.persistSets = append(f.persistSets, v)
	return nil
}

type recordingSink struct {
	mu     sync.Mutex
	events []Event
}

func (r *recordingSink) FireAlertEvent(_ context.Context, _ string, _ Status, ev Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

func (r *recordingSink) types() []EventType {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]EventType, len(r.events))
	for i, e := range r.events {
		out[i] = e.Type
	}
	return out
}

func eq(t *testing.T, got, want []EventType) {
	t.Helper()
	if len(got) != len(want) {
		t.Fatalf("event sequence mismatch: got %v, want %v", got, want)
	}
	for i := range got {
		if got[i] != want[i] {
			t.Fatalf("event sequence mismatch at %d: got %v, want %v", i, got, want)
		}
	}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition never became true")
}

func TestPrealertToActiveToPauseToStop(t *testing.T) {
	bus := testkit.NewFakeBus()
	sink := &recordingSink{}
	a, err := New(context.Background(), Config{Name: "A", PersistenceObjectID: "A.persistence"}, bus, sink, nil, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	k := &fakeSensor{name: "K", prealert: 20 * time.Millisecond, alertDur: 30 * time.Millisecond, hasPersist: true}
	a.RegisterSensor(k)
	if err := a.AddSensorFacade(context.Background(), "Away", k); err != nil {
		t.Fatalf("AddSensorFacade: %v", err)
	}
	if a.Status() != StatusInitializing {
		t.Fatalf("expected INITIALIZING, got %v", a.Status())
	}

	waitFor(t, func() bool { return a.Status() == StatusActive })
	waitFor(t, func() bool { return a.Status() == StatusPaused })

	eq(t, sink.types(), []EventType{
		EventPrealertStarted,
		EventSensorJoined, EventAlertActivated,
		EventSensorLeft, EventAlertDeactivated, EventAlertPaused,
	})

	bus.WriteBool("A.persistence", false)
	waitFor(t, func() bool { return a.Status() == StatusStopped })

	eq(t, sink.types(), []EventType{
		EventPrealertStarted,
		EventSensorJoined, EventAlertActivated,
		EventSensorLeft, EventAlertDeactivated, EventAlertPaused,
		EventAlertReset, EventAlertStopped,
	})

	k.mu.Lock()
	last := k.persistSets[len(k.persistSets)-1]
	k.mu.Unlock()
	if last != false {
		t.Fatalf("expected sensor persistence cleared on STOPPED entry from PAUSED, last SetPersistence call was %v", last)
	}
}

func TestNoPersistenceGoesStraightToStopped(t *testing.T) {
	bus := testkit.NewFakeBus()
	sink := &recordingSink{}
	a, err := New(context.Background(), Config{Name: "B"}, bus, sink, nil, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	s := &fakeSensor{name: "T", prealert: 0, alertDur: 15 * time.Millisecond}
	if err := a.AddSensorFacade(context.Background(), "Away", s); err != nil {
		t.Fatalf("AddSensorFacade: %v", err)
	}

	waitFor(t, func() bool { return a.Status() == StatusStopped })

	got := sink.types()
	for _, ev := range got {
		if ev == EventAlertPaused {
			t.Fatal("PAUSED should never be observed without a persistence object")
		}
	}
}

func TestRetriggerExtendsAlertTimer(t *testing.T) {
	bus := testkit.NewFakeBus()
	sink := &recordingSink{}
	a, err := New(context.Background(), Config{Name: "C"}, bus, sink, nil, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	s := &fakeSensor{name: "K", prealert: 0, alertDur: 60 * time.Millisecond}
	if err := a.AddSensorFacade(context.Background(), "Away", s); err != nil {
		t.Fatalf("AddSensorFacade: %v", err)
	}
	waitFor(t, func() bool { return a.Status() == StatusActive })

	time.Sleep(30 * time.Millisecond)
	if err := a.AddSensorFacade(context.Background(), "Away", s); err != nil {
		t.Fatalf("AddSensorFacade (retrigger): %v", err)
	}

	time.Sleep(50 * time.Millisecond)
	if a.Status() != StatusActive {
		t.Fatalf("expected alert still ACTIVE after extension, got %v", a.Status())
	}

	members := a.SensorsInAlert()
	if len(members) != 1 || members[0] != "K" {
		t.Fatalf("expected membership unchanged, got %v", members)
	}
}

func TestInhibitionBlocksNewJoins(t *testing.T) {
	bus := testkit.NewFakeBus()
	sink := &recordingSink{}
	a, err := New(context.Background(), Config{Name: "D", InhibitionObjectID: "D.inhibition"}, bus, sink, nil, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	bus.WriteBool("D.inhibition", true)

	s := &fakeSensor{name: "S", prealert: 0, alertDur: 10 * time.Millisecond}
	if err := a.AddSensorFacade(context.Background(), "Away", s); err != nil {
		t.Fatalf("AddSensorFacade: %v", err)
	}

	time.Sleep(50 * time.Millisecond)
	if a.Status() != StatusStopped {
		t.Fatalf("inhibited join should leave alert STOPPED, got %v", a.Status())
	}
	if len(sink.types()) != 0 {
		t.Fatalf("inhibited join should emit nothing, got %v", sink.types())
	}

	bus.WriteBool("D.inhibition", false)
	if err := a.AddSensorFacade(context.Background(), "Away", s); err != nil {
		t.Fatalf("AddSensorFacade after clearing inhibition: %v", err)
	}
	waitFor(t, func() bool { return a.Status() == StatusActive })
}

func TestShuntPrealertWithFasterSensor(t *testing.T) {
	bus := testkit.NewFakeBus()
	sink := &recordingSink{}
	a, err := New(context.Background(), Config{Name: "E"}, bus, sink, nil, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	d := &fakeSensor{name: "D", prealert: 200 * time.Millisecond, alertDur: time.Second}
	w := &fakeSensor{name: "W", prealert: 30 * time.Millisecond, alertDur: time.Second}

	if err := a.AddSensorFacade(context.Background(), "Away", d); err != nil {
		t.Fatalf("add D: %v", err)
	}
	time.Sleep(20 * time.Millisecond)
	if err := a.AddSensorFacade(context.Background(), "Away", w); err != nil {
		t.Fatalf("add W: %v", err)
	}

	waitFor(t, func() bool { return a.Status() == StatusActive })
	members := a.SensorsInAlert()
	if len(members) != 2 {
		t.Fatalf("expected both D and W drained into alert, got %v", members)
	}
	if len(a.SensorsInPrealert()) != 0 {
		t.Fatalf("prealert set should be empty once drained")
	}
}
