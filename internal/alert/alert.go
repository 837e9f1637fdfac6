// Package alert implements the per-alert state machine described in
// the data model and §4.3: two disjoint sensor membership sets, a
// status lattice over {STOPPED, INITIALIZING, ACTIVE, PAUSED}, and the
// event emission table driving every visible side effect.
package alert

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/2franix/hwsupervisor/internal/lkdbus"
	"github.com/2franix/hwsupervisor/internal/timer"
)

// Status is the alert's externally observable state.
type Status int

const (
	StatusStopped Status = iota
	StatusInitializing
	StatusActive
	StatusPaused
)

func (s Status) String() string {
	switch s {
	case StatusStopped:
		return "STOPPED"
	case StatusInitializing:
		return "INITIALIZING"
	case StatusActive:
		return "ACTIVE"
	case StatusPaused:
		return "PAUSED"
	default:
		return "UNKNOWN"
	}
}

// EventType names one of the user-visible transitions of §4.3's
// emitted-events table.
type EventType string

const (
	EventPrealertStarted  EventType = "PREALERT_STARTED"
	EventSensorJoined     EventType = "SENSOR_JOINED"
	EventSensorLeft       EventType = "SENSOR_LEFT"
	EventAlertActivated   EventType = "ALERT_ACTIVATED"
	EventAlertDeactivated EventType = "ALERT_DEACTIVATED"
	EventAlertPaused      EventType = "ALERT_PAUSED"
	EventAlertResumed     EventType = "ALERT_RESUMED"
	EventAlertReset       EventType = "ALERT_RESET"
	EventAlertStopped     EventType = "ALERT_STOPPED"
	EventAlertAborted     EventType = "ALERT_ABORTED"
)

// Event is one emitted occurrence. Sensor is set for SENSOR_JOINED and
// SENSOR_LEFT, empty otherwise.
type Event struct {
	Type   EventType
	Sensor string
}

// Sink receives events fired by an alert. Implemented by the event
// manager; kept narrow here so this package never imports it.
type Sink interface {
	FireAlertEvent(ctx context.Context, alertName string, status Status, ev Event)
}

// SensorFacade is the slice of Sensor behavior the alert state machine
// needs. Satisfied structurally by *sensor.Sensor without this package
// importing internal/sensor.
type SensorFacade interface {
	Name() string
	PrealertDuration(mode string) time.Duration
	AlertDuration(mode string) time.Duration
	HasPersistenceObject() bool
	SetPersistence(ctx context.Context, value bool) error
}

// SuspendChecker lets the engine batch status recomputation across a
// multi-sensor operation (e.g. a mode switch) so that intermediate
// statuses never become observable. While suspended, membership
// mutations still happen immediately but status transitions and event
// emission are deferred until the engine calls FlushStatus.
type SuspendChecker interface {
	IsSuspended() bool
	MarkDirty(alertName string)
}

type noopSuspendChecker struct{}

func (noopSuspendChecker) IsSuspended() bool    { return false }
func (noopSuspendChecker) MarkDirty(string)     {}

// Config is an alert's static configuration.
type Config struct {
	Name               string
	PersistenceObjectID string // empty means no persistence object, PAUSED never occurs
	InhibitionObjectID  string // empty means never inhibited
}

// Alert is the runtime state machine for one alert group.
type Alert struct {
	cfg    Config
	bus    lkdbus.Client
	sink   Sink
	susp   SuspendChecker
	logger *slog.Logger

	persistenceHandle lkdbus.ObjectHandle
	inhibitionHandle  lkdbus.ObjectHandle

	mu               sync.Mutex
	status           Status
	sensorsInPrealert map[string]SensorFacade
	sensorsInAlert    map[string]SensorFacade
	prealertTimers    map[string]*timer.Timer
	alertTimers       map[string]*timer.Timer
	persistenceValue  bool
	inhibited         bool

	// roster holds every sensor statically configured against this
	// alert, regardless of current membership. Unlike
	// sensorsInPrealert/sensorsInAlert it is never cleared on a STOPPED
	// transition, so it is the source of truth for "every sensor
	// belonging to this alert" needed to clear sensor persistence
	// objects on STOPPED entry (§4.3), even for sensors that are not
	// currently, or never were, live members.
	roster map[string]SensorFacade
}

// New constructs an Alert, acquiring its optional persistence and
// inhibition bus objects.
func New(ctx context.Context, cfg Config, bus lkdbus.Client, sink Sink, susp SuspendChecker, logger *slog.Logger) (*Alert, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if susp == nil {
		susp = noopSuspendChecker{}
	}
	a := &Alert{
		cfg:               cfg,
		bus:               bus,
		sink:              sink,
		susp:              susp,
		logger:            logger.With("alert", cfg.Name),
		sensorsInPrealert: make(map[string]SensorFacade),
		sensorsInAlert:    make(map[string]SensorFacade),
		prealertTimers:    make(map[string]*timer.Timer),
		alertTimers:       make(map[string]*timer.Timer),
		roster:            make(map[string]SensorFacade),
	}

	if cfg.PersistenceObjectID != "" {
		h, err := bus.GetObject(ctx, cfg.PersistenceObjectID)
		if err != nil {
			return nil, fmt.Errorf("alert %q: acquire persistence object: %w", cfg.Name, err)
		}
		a.persistenceHandle = h
		if v, err := h.Value(ctx); err == nil {
			if b, ok := v.AsBool(); ok {
				a.persistenceValue = b
			}
		}
		h.Subscribe(func(_ string, v lkdbus.Value) {
			if b, ok := v.AsBool(); ok {
				a.OnPersistenceObjectChanged(context.Background(), b)
			}
		})
	}

	if cfg.InhibitionObjectID != "" {
		h, err := bus.GetObject(ctx, cfg.InhibitionObjectID)
		if err != nil {
			return nil, fmt.Errorf("alert %q: acquire inhibition object: %w", cfg.Name, err)
		}
		a.inhibitionHandle = h
		if v, err := h.Value(ctx); err == nil {
			if b, ok := v.AsBool(); ok {
				a.inhibited = b
			}
		}
		h.Subscribe(func(_ string, v lkdbus.Value) {
			if b, ok := v.AsBool(); ok {
				a.OnInhibitionObjectChanged(b)
			}
		})
	}

	return a, nil
}

// Name returns the alert's configured name.
func (a *Alert) Name() string { return a.cfg.Name }

// Status returns the alert's current status.
func (a *Alert) Status() Status {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.status
}

// SensorsInPrealert returns a snapshot of current prealert membership.
func (a *Alert) SensorsInPrealert() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return keysOf(a.sensorsInPrealert)
}

// SensorsInAlert returns a snapshot of current alert membership.
func (a *Alert) SensorsInAlert() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return keysOf(a.sensorsInAlert)
}

func keysOf(m map[string]SensorFacade) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	return out
}

// OnInhibitionObjectChanged records the inhibition flag. Per §4.3,
// currently joined sensors are unaffected; only future joins are
// blocked or unblocked.
func (a *Alert) OnInhibitionObjectChanged(inhibited bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.inhibited = inhibited
}

// OnPersistenceObjectChanged records the persistence flag and, per the
// transition table, drops a PAUSED alert straight to STOPPED when the
// operator clears persistence externally.
func (a *Alert) OnPersistenceObjectChanged(ctx context.Context, value bool) {
	a.mu.Lock()
	a.persistenceValue = value
	if value || a.status != StatusPaused {
		a.mu.Unlock()
		return
	}
	a.status = StatusStopped
	sensors := a.rosterSensorsLocked()
	a.clearAllMembershipLocked()
	a.mu.Unlock()

	a.clearSensorPersistence(ctx, sensors)
	a.emit(ctx, []Event{{Type: EventAlertReset}, {Type: EventAlertStopped}})
}

// RegisterSensor adds s to this alert's static roster. Called once by
// the engine at construction time for every sensor configured against
// this alert, independent of whether or when that sensor ever joins.
func (a *Alert) RegisterSensor(s SensorFacade) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.roster[s.Name()] = s
}

func (a *Alert) rosterSensorsLocked() []SensorFacade {
	out := make([]SensorFacade, 0, len(a.roster))
	for _, s := range a.roster {
		out = append(out, s)
	}
	return out
}

// AddSensorFacade implements the sensor-joins input of the transition
// table. sensor.AlertView only carries a sensor's name, since the
// sensor package must not import this one; the engine, which owns both
// collections, adapts between the two by pairing each alert with the
// SensorFacade of every sensor that may join it (see internal/engine).
func (a *Alert) AddSensorFacade(ctx context.Context, mode string, s SensorFacade) error {
	a.mu.Lock()

	if a.inhibited {
		a.logger.Info("sensor join rejected, alert inhibited", "sensor", s.Name())
		a.mu.Unlock()
		return nil
	}

	if _, already := a.sensorsInAlert[s.Name()]; already {
		t := a.alertTimers[s.Name()]
		a.mu.Unlock()
		if t != nil {
			t.Extend()
		}
		return nil
	}

	var events []Event

	switch a.status {
	case StatusActive, StatusPaused:
		a.removeFromPrealertLocked(s.Name())
		a.sensorsInAlert[s.Name()] = s
		a.startAlertTimerLocked(ctx, mode, s)

		wasPaused := a.status == StatusPaused
		a.status = StatusActive
		if wasPaused {
			events = append(events, Event{Type: EventAlertResumed})
		}
		events = append(events, Event{Type: EventSensorJoined, Sensor: s.Name()})
		if wasPaused {
			events = append(events, Event{Type: EventAlertActivated})
		}

	default: // StatusStopped, StatusInitializing
		if _, already := a.sensorsInPrealert[s.Name()]; already {
			a.mu.Unlock()
			return nil
		}
		a.sensorsInPrealert[s.Name()] = s
		a.startPrealertTimerLocked(ctx, mode, s)

		if a.status == StatusStopped {
			a.status = StatusInitializing
			events = append(events, Event{Type: EventPrealertStarted})
		}
	}

	suspended := a.shouldDeferLocked()
	persistSensors := a.entryIntoActivePersistenceLocked(events)
	a.mu.Unlock()

	if suspended {
		return nil
	}
	a.setAlertPersistenceIfEntering(ctx, events)
	a.persistSensorsOnEntry(ctx, persistSensors)
	a.emit(ctx, events)
	return nil
}

// entryIntoActivePersistenceLocked returns the sensors that should have
// their persistence object set because this call transitioned the
// alert into ACTIVE. Must be called with a.mu held.
func (a *Alert) entryIntoActivePersistenceLocked(events []Event) []SensorFacade {
	entered := false
	for _, e := range events {
		if e.Type == EventAlertActivated {
			entered = true
		}
	}
	if !entered {
		return nil
	}
	out := make([]SensorFacade, 0, len(a.sensorsInAlert))
	for _, s := range a.sensorsInAlert {
		if s.HasPersistenceObject() {
			out = append(out, s)
		}
	}
	return out
}

func (a *Alert) setAlertPersistenceIfEntering(ctx context.Context, events []Event) {
	for _, e := range events {
		if e.Type == EventAlertActivated && a.persistenceHandle != nil {
			if err := a.persistenceHandle.SetValue(ctx, lkdbus.BoolValue(true)); err != nil {
				a.logger.Error("set alert persistence failed", "error", err)
			}
			a.mu.Lock()
			a.persistenceValue = true
			a.mu.Unlock()
			return
		}
	}
}

func (a *Alert) persistSensorsOnEntry(ctx context.Context, sensors []SensorFacade) {
	for _, s := range sensors {
		if err := s.SetPersistence(ctx, true); err != nil {
			a.logger.Error("set sensor persistence failed", "sensor", s.Name(), "error", err)
		}
	}
}

// RemoveSensorFacade withdraws sensorName from whichever membership set
// it occupies, triggered by its timer expiring or by disablement.
func (a *Alert) RemoveSensorFacade(ctx context.Context, sensorName string) error {
	a.mu.Lock()

	removedFromPrealert := a.removeFromPrealertLocked(sensorName)
	removedFromAlert := a.removeFromAlertLocked(sensorName)
	if !removedFromPrealert && !removedFromAlert {
		a.mu.Unlock()
		return nil
	}

	var events []Event
	var clearPersistence bool

	switch a.status {
	case StatusInitializing:
		if len(a.sensorsInPrealert) == 0 && len(a.sensorsInAlert) == 0 {
			a.status = StatusStopped
			events = append(events, Event{Type: EventAlertAborted}, Event{Type: EventAlertStopped})
		}
	case StatusActive:
		if removedFromAlert {
			events = append(events, Event{Type: EventSensorLeft, Sensor: sensorName})
		}
		if len(a.sensorsInAlert) == 0 {
			events = append(events, Event{Type: EventAlertDeactivated})
			if a.cfg.PersistenceObjectID != "" && a.persistenceValue {
				a.status = StatusPaused
				events = append(events, Event{Type: EventAlertPaused})
			} else {
				a.status = StatusStopped
				events = append(events, Event{Type: EventAlertReset}, Event{Type: EventAlertStopped})
				clearPersistence = true
			}
		}
	}

	var clearedSensors []SensorFacade
	if clearPersistence {
		clearedSensors = a.rosterSensorsLocked()
	}
	suspended := a.shouldDeferLocked()
	a.mu.Unlock()

	if suspended {
		return nil
	}
	if clearPersistence {
		a.clearAlertPersistence(ctx)
		a.clearSensorPersistence(ctx, clearedSensors)
	}
	a.emit(ctx, events)
	return nil
}

// RemoveSensor is RemoveSensorFacade under the name-only signature of
// sensor.AlertView; the engine's AlertView adapter forwards a sensor's
// RemoveSensor calls here.
func (a *Alert) RemoveSensor(ctx context.Context, sensorName string) error {
	return a.RemoveSensorFacade(ctx, sensorName)
}

// Stop unconditionally drains the alert to STOPPED, as if every member
// sensor's timer had expired at once.
func (a *Alert) Stop(ctx context.Context) {
	a.mu.Lock()
	if a.status == StatusStopped {
		a.mu.Unlock()
		return
	}

	var events []Event
	switch a.status {
	case StatusInitializing:
		events = append(events, Event{Type: EventAlertAborted}, Event{Type: EventAlertStopped})
	case StatusActive:
		for name := range a.sensorsInAlert {
			events = append(events, Event{Type: EventSensorLeft, Sensor: name})
		}
		events = append(events, Event{Type: EventAlertDeactivated}, Event{Type: EventAlertReset}, Event{Type: EventAlertStopped})
	case StatusPaused:
		events = append(events, Event{Type: EventAlertReset}, Event{Type: EventAlertStopped})
	}

	sensors := a.rosterSensorsLocked()
	a.clearAllMembershipLocked()
	a.status = StatusStopped
	a.mu.Unlock()

	a.clearAlertPersistence(ctx)
	a.clearSensorPersistence(ctx, sensors)
	a.emit(ctx, events)
}

// FlushStatus is invoked by the engine when a batched-update suspension
// scope ends for an alert marked dirty. Since this implementation
// applies status transitions synchronously at mutation time and only
// defers event emission, flushing simply means: nothing further to
// compute, the status is already current. Reserved as the documented
// integration point the engine's suspension scope calls unconditionally
// for every dirty alert.
func (a *Alert) FlushStatus(ctx context.Context) {}

func (a *Alert) shouldDeferLocked() bool {
	if a.susp.IsSuspended() {
		a.susp.MarkDirty(a.cfg.Name)
		return true
	}
	return false
}

func (a *Alert) removeFromPrealertLocked(name string) bool {
	if _, ok := a.sensorsInPrealert[name]; !ok {
		return false
	}
	delete(a.sensorsInPrealert, name)
	if t, ok := a.prealertTimers[name]; ok {
		t.Stop()
		delete(a.prealertTimers, name)
	}
	return true
}

func (a *Alert) removeFromAlertLocked(name string) bool {
	if _, ok := a.sensorsInAlert[name]; !ok {
		return false
	}
	delete(a.sensorsInAlert, name)
	if t, ok := a.alertTimers[name]; ok {
		t.Stop()
		delete(a.alertTimers, name)
	}
	return true
}

func (a *Alert) clearAllMembershipLocked() {
	for name, t := range a.prealertTimers {
		t.Stop()
		delete(a.prealertTimers, name)
	}
	for name, t := range a.alertTimers {
		t.Stop()
		delete(a.alertTimers, name)
	}
	a.sensorsInPrealert = make(map[string]SensorFacade)
	a.sensorsInAlert = make(map[string]SensorFacade)
}

func (a *Alert) startPrealertTimerLocked(ctx context.Context, mode string, s SensorFacade) {
	t := timer.New(a.cfg.Name+":"+s.Name()+":prealert", s.PrealertDuration(mode),
		timer.WithOnTimeoutReached(func(*timer.Timer) {
			if err := a.notifySensorPrealertExpired(ctx, mode, s); err != nil {
				a.logger.Error("prealert expiry handling failed", "sensor", s.Name(), "error", err)
			}
		}),
	)
	a.prealertTimers[s.Name()] = t
	t.Start()
}

func (a *Alert) startAlertTimerLocked(ctx context.Context, mode string, s SensorFacade) {
	t := timer.New(a.cfg.Name+":"+s.Name()+":alert", s.AlertDuration(mode),
		timer.WithOnTimeoutReached(func(*timer.Timer) {
			if err := a.RemoveSensorFacade(ctx, s.Name()); err != nil {
				a.logger.Error("alert timer expiry handling failed", "sensor", s.Name(), "error", err)
			}
		}),
	)
	a.alertTimers[s.Name()] = t
	t.Start()
}

// notifySensorPrealertExpired moves a sensor from prealert straight
// into alert membership, short-circuiting any sensors still in
// prealert alongside it (§4.3, "prealert is short-circuited as soon as
// at least one sensor has reached alert").
func (a *Alert) notifySensorPrealertExpired(ctx context.Context, mode string, s SensorFacade) error {
	a.mu.Lock()

	if _, ok := a.sensorsInPrealert[s.Name()]; !ok {
		a.mu.Unlock()
		return nil
	}
	delete(a.sensorsInPrealert, s.Name())
	delete(a.prealertTimers, s.Name())

	var events []Event
	events = append(events, Event{Type: EventSensorJoined, Sensor: s.Name()})
	a.sensorsInAlert[s.Name()] = s
	a.startAlertTimerLocked(ctx, mode, s)

	// Drain remaining prealert members into alert immediately.
	for name, other := range a.sensorsInPrealert {
		delete(a.sensorsInPrealert, name)
		if t, ok := a.prealertTimers[name]; ok {
			t.Stop()
			delete(a.prealertTimers, name)
		}
		a.sensorsInAlert[name] = other
		a.startAlertTimerLocked(ctx, mode, other)
		events = append(events, Event{Type: EventSensorJoined, Sensor: name})
	}

	wasInitializing := a.status == StatusInitializing
	if wasInitializing {
		a.status = StatusActive
		events = append(events, Event{Type: EventAlertActivated})
	}

	persistSensors := a.entryIntoActivePersistenceLocked(events)
	suspended := a.shouldDeferLocked()
	a.mu.Unlock()

	if suspended {
		return nil
	}
	a.setAlertPersistenceIfEntering(ctx, events)
	a.persistSensorsOnEntry(ctx, persistSensors)
	a.emit(ctx, events)
	return nil
}

func (a *Alert) clearAlertPersistence(ctx context.Context) {
	if a.persistenceHandle == nil {
		return
	}
	if err := a.persistenceHandle.SetValue(ctx, lkdbus.BoolValue(false)); err != nil {
		a.logger.Error("clear alert persistence failed", "error", err)
		return
	}
	a.mu.Lock()
	a.persistenceValue = false
	a.mu.Unlock()
}

func (a *Alert) clearSensorPersistence(ctx context.Context, sensors []SensorFacade) {
	for _, s := range sensors {
		if err := s.SetPersistence(ctx, false); err != nil {
			a.logger.Error("clear sensor persistence failed", "sensor", s.Name(), "error", err)
		}
	}
}

// emit fires events without holding the alert lock, per §5's "records
// pending events, releases the lock, then fires them".
func (a *Alert) emit(ctx context.Context, events []Event) {
	if a.sink == nil {
		return
	}
	status := a.Status()
	for _, e := range events {
		a.sink.FireAlertEvent(ctx, a.cfg.Name, status, e)
	}
}
