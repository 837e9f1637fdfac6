// Package engine wires together every alert, sensor, and the mode
// controller into one running supervisor, per §2 component 10 and §5.
// It owns the cross-package adapters the sensor/alert/mode packages
// need to stay import-cycle free, the activation-criterion lookup, and
// the engine-wide suspension scope that batches status recomputation
// across a mode switch.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/2franix/hwsupervisor/internal/alert"
	"github.com/2franix/hwsupervisor/internal/contexthandler"
	"github.com/2franix/hwsupervisor/internal/criterion"
	"github.com/2franix/hwsupervisor/internal/lkdbus"
	"github.com/2franix/hwsupervisor/internal/mode"
	"github.com/2franix/hwsupervisor/internal/sensor"
)

// AlertConfig resolves one configured alert group.
type AlertConfig struct {
	Name                string
	PersistenceObjectID string
	InhibitionObjectID  string
}

// SensorConfig resolves one configured sensor, including the name of
// the single alert it may join.
type SensorConfig struct {
	Name      string
	AlertName string

	Kind  sensor.Kind
	Bool  sensor.BoolSpec
	Float sensor.FloatSpec

	EnabledObjectID     string
	WatchedObjectID     string
	PersistenceObjectID string

	ActivationDelay  sensor.MDV
	PrealertDuration sensor.MDV
	AlertDuration    sensor.MDV

	Criterion criterion.Criterion
}

// ModeDef resolves one configured mode.
type ModeDef struct {
	Name        string
	Code        int64
	SensorNames map[string]bool
}

// Config is the fully resolved tree the engine is built from: the
// services block has already produced a connected lkdbus.Client by the
// time Config reaches New.
type Config struct {
	ModeObjectID string
	Modes        []ModeDef
	Alerts       []AlertConfig
	Sensors      []SensorConfig
}

// EventSink is the narrow slice of eventmgr.Manager the engine needs:
// alert.Sink and mode.Sink together.
type EventSink interface {
	alert.Sink
	mode.Sink
}

// Engine owns every alert and sensor runtime plus the mode controller,
// and supplies the cross-cutting services they depend on:
// criterion.TriggerLookup (sensor trigger lookup by name),
// alert.SuspendChecker (batched status recomputation during a mode
// switch), and the sensor.AlertView adapters that let a sensor without
// the alert package's types still call into its one target alert.
type Engine struct {
	bus    lkdbus.Client
	sink   EventSink
	logger *slog.Logger

	alerts  map[string]*alert.Alert
	sensors map[string]*sensor.Sensor
	mode    *mode.Controller

	mu           sync.Mutex
	suspendDepth int
	dirty        map[string]bool
}

// New constructs every alert, every sensor, and the mode controller
// from cfg, wiring the adapters described above. Alerts are built
// first (sensors need to reference an already-existing alert by name),
// then sensors, then the mode controller last, since its constructor
// applies the bus object's current value synchronously and therefore
// needs every sensor to already exist.
func New(ctx context.Context, cfg Config, bus lkdbus.Client, sink EventSink, logger *slog.Logger) (*Engine, error) {
	if logger == nil {
		logger = slog.Default()
	}
	e := &Engine{
		bus:     bus,
		sink:    sink,
		logger:  logger,
		alerts:  make(map[string]*alert.Alert),
		sensors: make(map[string]*sensor.Sensor),
		dirty:   make(map[string]bool),
	}

	for _, ac := range cfg.Alerts {
		a, err := alert.New(ctx, alert.Config{
			Name:                ac.Name,
			PersistenceObjectID: ac.PersistenceObjectID,
			InhibitionObjectID:  ac.InhibitionObjectID,
		}, bus, sink, e, logger)
		if err != nil {
			return nil, fmt.Errorf("engine: construct alert %q: %w", ac.Name, err)
		}
		e.alerts[ac.Name] = a
	}

	sensorViews := make(map[string]mode.SensorView, len(cfg.Sensors))
	for _, sc := range cfg.Sensors {
		target, ok := e.alerts[sc.AlertName]
		if !ok {
			return nil, fmt.Errorf("engine: sensor %q references unknown alert %q", sc.Name, sc.AlertName)
		}
		view := &alertViewAdapter{alert: target}

		s, err := sensor.New(ctx, sensor.Config{
			Name:                sc.Name,
			Kind:                sc.Kind,
			Bool:                sc.Bool,
			Float:               sc.Float,
			EnabledObjectID:     sc.EnabledObjectID,
			WatchedObjectID:     sc.WatchedObjectID,
			PersistenceObjectID: sc.PersistenceObjectID,
			ActivationDelay:     sc.ActivationDelay,
			PrealertDuration:    sc.PrealertDuration,
			AlertDuration:       sc.AlertDuration,
			Criterion:           sc.Criterion,
		}, bus, view, e, logger)
		if err != nil {
			return nil, fmt.Errorf("engine: construct sensor %q: %w", sc.Name, err)
		}
		view.facade = s
		target.RegisterSensor(s)
		e.sensors[sc.Name] = s
		sensorViews[sc.Name] = s
	}

	defs := make([]mode.Def, 0, len(cfg.Modes))
	for _, md := range cfg.Modes {
		defs = append(defs, mode.Def{Name: md.Name, Code: md.Code, SensorNames: md.SensorNames})
	}

	m, err := mode.New(ctx, cfg.ModeObjectID, defs, sensorViews, bus, sink, logger,
		mode.WithSuspendHooks(e.beginSuspend, e.endSuspend))
	if err != nil {
		return nil, fmt.Errorf("engine: construct mode controller: %w", err)
	}
	e.mode = m

	return e, nil
}

// alertViewAdapter implements sensor.AlertView, bridging the name-only
// signature sensor.Sensor calls into alert.Alert's need for a full
// SensorFacade. facade is set once, immediately after the owning
// sensor finishes construction; no callback can reach AddSensor before
// then since bus subscriptions only fire on a future value change.
type alertViewAdapter struct {
	alert  *alert.Alert
	facade alert.SensorFacade
}

func (v *alertViewAdapter) AddSensor(ctx context.Context, mode string, sensorName string) error {
	if v.facade == nil {
		return fmt.Errorf("engine: alert view for %q used before construction completed", sensorName)
	}
	return v.alert.AddSensorFacade(ctx, mode, v.facade)
}

func (v *alertViewAdapter) RemoveSensor(ctx context.Context, sensorName string) error {
	return v.alert.RemoveSensor(ctx, sensorName)
}

// IsTriggered implements criterion.TriggerLookup over the engine's own
// sensor registry.
func (e *Engine) IsTriggered(sensorName string) (bool, error) {
	e.mu.Lock()
	s, ok := e.sensors[sensorName]
	e.mu.Unlock()
	if !ok {
		return false, fmt.Errorf("engine: criterion references unknown sensor %q", sensorName)
	}
	return s.IsTriggered(), nil
}

// IsSuspended implements alert.SuspendChecker.
func (e *Engine) IsSuspended() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.suspendDepth > 0
}

// MarkDirty implements alert.SuspendChecker.
func (e *Engine) MarkDirty(alertName string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.dirty[alertName] = true
}

// beginSuspend enters the batched-update scope. Nestable: the mode
// controller only ever nests one level deep today, but the counter
// keeps this safe if a future caller brackets a wider operation.
func (e *Engine) beginSuspend() {
	e.mu.Lock()
	e.suspendDepth++
	e.mu.Unlock()
}

// endSuspend leaves the batched-update scope and, once the outermost
// caller exits, flushes every alert marked dirty during the scope.
func (e *Engine) endSuspend() {
	e.mu.Lock()
	e.suspendDepth--
	var toFlush []*alert.Alert
	if e.suspendDepth == 0 && len(e.dirty) > 0 {
		for name := range e.dirty {
			if a, ok := e.alerts[name]; ok {
				toFlush = append(toFlush, a)
			}
		}
		e.dirty = make(map[string]bool)
	}
	e.mu.Unlock()

	for _, a := range toFlush {
		a.FlushStatus(context.Background())
	}
}

// CurrentMode implements eventmgr.StatusProvider.
func (e *Engine) CurrentMode() string {
	if e.mode == nil {
		return ""
	}
	return e.mode.CurrentMode()
}

// EnabledSensorNames implements eventmgr.StatusProvider.
func (e *Engine) EnabledSensorNames() []string {
	if e.mode == nil {
		return nil
	}
	return e.mode.EnabledSensors(nil)
}

// AlertSensorStatus implements eventmgr.StatusProvider. Sensors
// currently in prealert or in alert for alertName are reported; the
// "in pause" class is always empty, since the alert state machine does
// not retain per-sensor membership across an ACTIVE -> PAUSED
// transition (§3's data model tracks only the two active sets).
func (e *Engine) AlertSensorStatus(alertName string) []contexthandler.SensorStatusEntry {
	a, ok := e.alerts[alertName]
	if !ok {
		return nil
	}
	var out []contexthandler.SensorStatusEntry
	for _, name := range a.SensorsInPrealert() {
		out = append(out, contexthandler.SensorStatusEntry{Name: name, Class: contexthandler.SensorInPrealert})
	}
	for _, name := range a.SensorsInAlert() {
		out = append(out, contexthandler.SensorStatusEntry{Name: name, Class: contexthandler.SensorInAlert})
	}
	return out
}

// Alert returns the named alert's runtime, for the dashboard and
// metrics collector.
func (e *Engine) Alert(name string) (*alert.Alert, bool) {
	a, ok := e.alerts[name]
	return a, ok
}

// AlertNames returns every configured alert's name.
func (e *Engine) AlertNames() []string {
	out := make([]string, 0, len(e.alerts))
	for name := range e.alerts {
		out = append(out, name)
	}
	return out
}

// Sensor returns the named sensor's runtime, for the dashboard and
// metrics collector.
func (e *Engine) Sensor(name string) (*sensor.Sensor, bool) {
	s, ok := e.sensors[name]
	return s, ok
}

// SensorNames returns every configured sensor's name.
func (e *Engine) SensorNames() []string {
	out := make([]string, 0, len(e.sensors))
	for name := range e.sensors {
		out = append(out, name)
	}
	return out
}

// Close stops every alert, draining active membership as if every
// sensor's timer had expired at once, then releases the bus client.
func (e *Engine) Close(ctx context.Context) error {
	for _, a := range e.alerts {
		a.Stop(ctx)
	}
	return e.bus.Close(ctx)
}
