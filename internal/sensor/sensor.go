// Package sensor implements the trigger computation, enablement
// pipeline, and activation timer described for the sensor runtime: a
// named logical input bound to an LKD watched object, gated by a
// criterion before it is allowed to join its alert.
package sensor

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/2franix/hwsupervisor/internal/criterion"
	"github.com/2franix/hwsupervisor/internal/lkdbus"
	"github.com/2franix/hwsupervisor/internal/timer"
)

// Kind distinguishes the two trigger-computation strategies a sensor
// can use; both share every other field.
type Kind int

const (
	KindBoolean Kind = iota
	KindFloat
)

// BoolSpec configures a boolean sensor: which polarity of the watched
// object counts as triggered.
type BoolSpec struct {
	TriggerValue bool
}

// FloatSpec configures a float-with-bounds sensor. Lower and Upper are
// optional; at least one must be set for the sensor to ever trigger.
type FloatSpec struct {
	HasLower   bool
	Lower      float64
	HasUpper   bool
	Upper      float64
	Hysteresis float64
}

// AlertView is the narrow slice of Alert behavior a Sensor needs. It is
// implemented by an adapter in internal/engine that forwards to
// *alert.Alert, so this package never imports internal/alert, keeping
// the sensor/alert reference cycle out of the Go import graph.
type AlertView interface {
	// AddSensor admits sensorName into the alert group, sized by mode
	// for its prealert/alert timer durations.
	AddSensor(ctx context.Context, mode string, sensorName string) error
	// RemoveSensor withdraws sensorName from the alert group membership,
	// called on disablement rather than on trigger release.
	RemoveSensor(ctx context.Context, sensorName string) error
}

// Config describes a sensor's static configuration, resolved from the
// configuration document at engine construction time.
type Config struct {
	Name  string
	Kind  Kind
	Bool  BoolSpec
	Float FloatSpec

	EnabledObjectID     string
	WatchedObjectID     string
	PersistenceObjectID string // empty means no persistence object

	ActivationDelay  MDV
	PrealertDuration MDV
	AlertDuration    MDV

	// Criterion gates the activation timer. Nil means unconditional.
	Criterion criterion.Criterion
}

// Sensor is the runtime counterpart of Config: live bus-object handles,
// derived trigger/enablement state, and an optional in-flight
// activation timer.
type Sensor struct {
	cfg    Config
	bus    lkdbus.Client
	alert  AlertView
	lookup criterion.TriggerLookup
	logger *slog.Logger

	enabledHandle     lkdbus.ObjectHandle
	watchedHandle     lkdbus.ObjectHandle
	persistenceHandle lkdbus.ObjectHandle // nil if Config.PersistenceObjectID == ""

	mu              sync.Mutex
	isTriggered     bool
	haveTrigger     bool
	isEnabled       bool
	currentMode     string
	activationTimer *timer.Timer
}

// New constructs a Sensor and subscribes to its enabled/watched bus
// objects. lookup resolves the trigger state of sensors referenced by
// this sensor's activation criterion (typically the owning engine's
// sensor registry); it may be nil if Config.Criterion is nil.
func New(ctx context.Context, cfg Config, bus lkdbus.Client, alert AlertView, lookup criterion.TriggerLookup, logger *slog.Logger) (*Sensor, error) {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Sensor{
		cfg:    cfg,
		bus:    bus,
		alert:  alert,
		lookup: lookup,
		logger: logger.With("sensor", cfg.Name),
	}

	enabledHandle, err := bus.GetObject(ctx, cfg.EnabledObjectID)
	if err != nil {
		return nil, fmt.Errorf("sensor %q: acquire enabled object %q: %w", cfg.Name, cfg.EnabledObjectID, err)
	}
	watchedHandle, err := bus.GetObject(ctx, cfg.WatchedObjectID)
	if err != nil {
		return nil, fmt.Errorf("sensor %q: acquire watched object %q: %w", cfg.Name, cfg.WatchedObjectID, err)
	}
	s.enabledHandle = enabledHandle
	s.watchedHandle = watchedHandle

	if cfg.PersistenceObjectID != "" {
		persistenceHandle, err := bus.GetObject(ctx, cfg.PersistenceObjectID)
		if err != nil {
			return nil, fmt.Errorf("sensor %q: acquire persistence object %q: %w", cfg.Name, cfg.PersistenceObjectID, err)
		}
		s.persistenceHandle = persistenceHandle
	}

	if v, err := enabledHandle.Value(ctx); err == nil {
		if b, ok := v.AsBool(); ok {
			s.isEnabled = b
		}
	}
	if v, err := watchedHandle.Value(ctx); err == nil {
		s.applyWatchedValue(v)
	}

	enabledHandle.Subscribe(s.onEnabledChanged)
	watchedHandle.Subscribe(s.onWatchedChanged)

	return s, nil
}

// Name returns the sensor's configured name.
func (s *Sensor) Name() string { return s.cfg.Name }

// IsTriggered reports the sensor's last-computed trigger state. Used
// both directly and, wrapped by the owning registry, to satisfy
// criterion.TriggerLookup for sensors referencing this one.
func (s *Sensor) IsTriggered() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.isTriggered
}

// IsEnabled mirrors the last observed value of the enabled object.
func (s *Sensor) IsEnabled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.isEnabled
}

// PrealertDuration implements the alert package's SensorFacade.
func (s *Sensor) PrealertDuration(mode string) time.Duration {
	return s.cfg.PrealertDuration.For(mode)
}

// AlertDuration implements the alert package's SensorFacade.
func (s *Sensor) AlertDuration(mode string) time.Duration {
	return s.cfg.AlertDuration.For(mode)
}

// HasPersistenceObject reports whether this sensor has a configured
// sticky-membership bus object.
func (s *Sensor) HasPersistenceObject() bool { return s.persistenceHandle != nil }

// SetPersistence writes the sensor's persistence object, if configured;
// a no-op otherwise.
func (s *Sensor) SetPersistence(ctx context.Context, value bool) error {
	if s.persistenceHandle == nil {
		return nil
	}
	if err := s.persistenceHandle.SetValue(ctx, lkdbus.BoolValue(value)); err != nil {
		return fmt.Errorf("sensor %q: set persistence: %w", s.cfg.Name, err)
	}
	return nil
}

// SetMode records the current operating mode so that trigger edges
// arriving between mode switches size their alert join with the right
// MDV lookup key. Called by the mode controller on every switch,
// regardless of whether this sensor is watched by the new mode.
func (s *Sensor) SetMode(mode string) {
	s.mu.Lock()
	s.currentMode = mode
	s.mu.Unlock()
}

func (s *Sensor) mode() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.currentMode
}

// Disable withdraws the sensor from its alert and stops any in-flight
// activation timer synchronously, before writing enabled=false to the
// bus. Against a real asynchronous transport the bus write only takes
// effect once its echo comes back on onEnabledChanged; waiting for that
// echo to do the withdrawal would leave the sensor a live alert member
// for an unbounded (and, if the publish is lost, permanent) window
// after the mode controller considers it disabled. Called by the mode
// controller for every sensor no longer required by a newly entered
// mode.
func (s *Sensor) Disable(ctx context.Context) error {
	s.mu.Lock()
	s.isEnabled = false
	s.mu.Unlock()

	s.StopActivationTimer()
	if err := s.alert.RemoveSensor(ctx, s.cfg.Name); err != nil {
		s.logger.Error("remove sensor from alert on disable failed", "error", err)
	}

	if err := s.enabledHandle.SetValue(ctx, lkdbus.BoolValue(false)); err != nil {
		return fmt.Errorf("sensor %q: write enabled=false: %w", s.cfg.Name, err)
	}
	return nil
}

// onWatchedChanged recomputes the trigger state and, on a false→true
// edge while enabled, asks the alert to admit this sensor.
func (s *Sensor) onWatchedChanged(_ string, v lkdbus.Value) {
	rose := s.applyWatchedValue(v)
	if !rose {
		return
	}
	if !s.IsEnabled() {
		return
	}
	mode := s.mode()
	if err := s.alert.AddSensor(context.Background(), mode, s.cfg.Name); err != nil {
		s.logger.Error("add sensor to alert failed", "error", err)
	}
}

// applyWatchedValue updates isTriggered per §4.2 and reports whether
// this call produced a false→true (rising) edge.
func (s *Sensor) applyWatchedValue(v lkdbus.Value) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	prev := s.isTriggered
	switch s.cfg.Kind {
	case KindBoolean:
		b, ok := v.AsBool()
		if !ok {
			return false
		}
		s.isTriggered = (b == s.cfg.Bool.TriggerValue)
	case KindFloat:
		f, ok := v.AsFloat()
		if !ok {
			return false
		}
		s.isTriggered = s.nextFloatTriggerLocked(f)
	}
	s.haveTrigger = true
	return !prev && s.isTriggered
}

// nextFloatTriggerLocked implements the Schmitt-trigger semantics of
// §4.2: entry at the raw bound, release strictly inside
// (lower+h, upper-h). Must be called with s.mu held.
func (s *Sensor) nextFloatTriggerLocked(v float64) bool {
	spec := s.cfg.Float
	if !s.isTriggered {
		if spec.HasLower && v <= spec.Lower {
			return true
		}
		if spec.HasUpper && v >= spec.Upper {
			return true
		}
		return false
	}
	releaseLower := !spec.HasLower || v > spec.Lower+spec.Hysteresis
	releaseUpper := !spec.HasUpper || v < spec.Upper-spec.Hysteresis
	return !(releaseLower && releaseUpper)
}

// onEnabledChanged mirrors the authoritative enabled object and runs
// the enablement side effects of §4.2: clearing persistence on enable,
// stopping the activation timer and leaving the alert on disable. For
// a disable this process itself initiated, Disable has already done
// the withdrawal synchronously and set isEnabled false, so was is
// already false by the time this echo arrives and the disable branch
// below is a no-op; it only does real work when enabled=false reaches
// the bus some other way (an external writer bypassing Disable).
func (s *Sensor) onEnabledChanged(_ string, v lkdbus.Value) {
	enabled, ok := v.AsBool()
	if !ok {
		return
	}

	s.mu.Lock()
	was := s.isEnabled
	s.isEnabled = enabled
	s.mu.Unlock()

	if enabled && !was {
		if err := s.SetPersistence(context.Background(), false); err != nil {
			s.logger.Error("clear persistence on enable failed", "error", err)
		}
	} else if !enabled && was {
		s.StopActivationTimer()
		if err := s.alert.RemoveSensor(context.Background(), s.cfg.Name); err != nil {
			s.logger.Error("remove sensor from alert on disable failed", "error", err)
		}
	}
}

// StartActivationTimer begins (replacing any existing) activation
// delay for this sensor, gated by its configured criterion. isRequired
// is re-consulted at timeout to guard against the mode having changed
// meanwhile (§5, "races explicitly handled").
func (s *Sensor) StartActivationTimer(ctx context.Context, mode string, isRequired func() bool) {
	s.StopActivationTimer()
	s.SetMode(mode)

	crit := s.cfg.Criterion
	duration := s.cfg.ActivationDelay.For(mode)

	gatePaused := false
	t := timer.New(s.cfg.Name+":activation", duration,
		timer.WithOnIterate(func(tm *timer.Timer) {
			if crit == nil {
				return
			}
			ok, err := crit.Evaluate(s.lookup)
			if err != nil {
				s.logger.Error("activation criterion evaluation failed", "error", err)
				return
			}
			if !ok {
				if !gatePaused {
					gatePaused = true
					tm.Pause()
				}
				return
			}
			if gatePaused {
				gatePaused = false
				tm.Reset()
			}
		}),
		timer.WithOnTimeoutReached(func(*timer.Timer) {
			if isRequired != nil && !isRequired() {
				return
			}
			if err := s.enabledHandle.SetValue(ctx, lkdbus.BoolValue(true)); err != nil {
				s.logger.Error("write enabled=true failed", "error", err)
			}
		}),
	)

	s.mu.Lock()
	s.activationTimer = t
	s.mu.Unlock()
	t.Start()
}

// StopActivationTimer cancels any in-flight activation timer. Idempotent.
func (s *Sensor) StopActivationTimer() {
	s.mu.Lock()
	t := s.activationTimer
	s.activationTimer = nil
	s.mu.Unlock()
	if t != nil {
		t.Stop()
	}
}
