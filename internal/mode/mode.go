// Package mode implements the mode controller described in §4.4: it
// watches the mode-value bus object and, on every change, suspends
// alert status updates while it re-points sensor activation timers at
// the sensors required by the new mode.
package mode

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/2franix/hwsupervisor/internal/lkdbus"
)

// Event names one of the two mode-level occurrences bound in
// configuration.
type Event string

const (
	EventEntered Event = "ENTERED"
	EventLeft    Event = "LEFT"
)

// Sink receives mode events. Implemented by the event manager.
type Sink interface {
	FireModeEvent(ctx context.Context, modeName string, ev Event)
}

// SensorView is the slice of sensor.Sensor behavior the mode controller
// needs, satisfied structurally so this package never imports
// internal/sensor.
type SensorView interface {
	Name() string
	StartActivationTimer(ctx context.Context, mode string, isRequired func() bool)
	StopActivationTimer()
	SetMode(mode string)
	Disable(ctx context.Context) error
}

// Def describes one configured mode: its integer code (written to the
// mode object), the sensors it watches, and its own entered/left
// bindings (resolved and fired by the engine's event manager, this
// package only signals which event fired for which mode).
type Def struct {
	Name        string
	Code        int64
	SensorNames map[string]bool
}

// Controller owns the mode-object subscription and every sensor it
// drives. The engine is responsible for bracketing each switch with its
// alert-updates-suspended scope; Controller calls the two hooks
// (BeginSuspend/EndSuspend) around its own work, exactly like the
// original pseudocode in §4.4.
type Controller struct {
	modeHandle lkdbus.ObjectHandle
	defs       map[int64]Def
	sensors    map[string]SensorView
	sink       Sink
	logger     *slog.Logger

	beginSuspend func()
	endSuspend   func()

	mu          sync.Mutex
	currentMode string
}

// Option configures a Controller at construction.
type Option func(*Controller)

// WithSuspendHooks wires the engine's batched-update suspension scope
// around each mode switch.
func WithSuspendHooks(begin, end func()) Option {
	return func(c *Controller) {
		c.beginSuspend = begin
		c.endSuspend = end
	}
}

// New constructs a Controller, subscribing to the mode object. sensors
// must contain every sensor the engine knows about, keyed by name.
func New(ctx context.Context, modeObjectID string, defs []Def, sensors map[string]SensorView, bus lkdbus.Client, sink Sink, logger *slog.Logger, opts ...Option) (*Controller, error) {
	if logger == nil {
		logger = slog.Default()
	}
	byCode := make(map[int64]Def, len(defs))
	for _, d := range defs {
		byCode[d.Code] = d
	}

	c := &Controller{
		defs:    byCode,
		sensors: sensors,
		sink:    sink,
		logger:  logger,
	}
	for _, opt := range opts {
		opt(c)
	}

	handle, err := bus.GetObject(ctx, modeObjectID)
	if err != nil {
		return nil, fmt.Errorf("mode: acquire mode object %q: %w", modeObjectID, err)
	}
	c.modeHandle = handle

	if v, err := handle.Value(ctx); err == nil {
		if code, ok := v.AsFloat(); ok {
			c.applySwitch(ctx, int64(code))
		}
	}
	handle.Subscribe(func(_ string, v lkdbus.Value) {
		if code, ok := v.AsFloat(); ok {
			c.applySwitch(context.Background(), int64(code))
		}
	})

	return c, nil
}

// CurrentMode returns the name of the currently active mode, or empty
// before the first observed value.
func (c *Controller) CurrentMode() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.currentMode
}

// EnabledSensors returns, sorted, the names of sensors whose enabled
// object is currently true. This directly backs the
// mode.enabled-sensors context handler.
func (c *Controller) EnabledSensors(includingPending func(name string) bool) []string {
	var out []string
	for name, s := range c.sensors {
		if isEnabled, ok := s.(interface{ IsEnabled() bool }); ok && isEnabled.IsEnabled() {
			out = append(out, name)
			continue
		}
		if includingPending != nil && includingPending(name) {
			out = append(out, name)
		}
	}
	sort.Strings(out)
	return out
}

func (c *Controller) applySwitch(ctx context.Context, code int64) {
	def, ok := c.defs[code]
	if !ok {
		c.logger.Error("mode: unknown mode code observed", "code", code)
		return
	}

	c.mu.Lock()
	previous := c.currentMode
	c.mu.Unlock()

	if previous == def.Name {
		return
	}

	if c.beginSuspend != nil {
		c.beginSuspend()
	}

	if previous != "" {
		c.fireEvent(ctx, previous, EventLeft)
	}

	c.mu.Lock()
	c.currentMode = def.Name
	c.mu.Unlock()

	for name, s := range c.sensors {
		s.SetMode(def.Name)
		if def.SensorNames[name] {
			sensorName := name
			s.StartActivationTimer(ctx, def.Name, func() bool {
				return c.isRequired(sensorName)
			})
		} else {
			s.StopActivationTimer()
			if err := s.Disable(ctx); err != nil {
				c.logger.Error("mode: disable sensor failed", "sensor", name, "error", err)
			}
		}
	}

	c.fireEvent(ctx, def.Name, EventEntered)

	if c.endSuspend != nil {
		c.endSuspend()
	}
}

func (c *Controller) isRequired(sensorName string) bool {
	c.mu.Lock()
	mode := c.currentMode
	c.mu.Unlock()
	for _, d := range c.defs {
		if d.Name == mode {
			return d.SensorNames[sensorName]
		}
	}
	return false
}

func (c *Controller) fireEvent(ctx context.Context, modeName string, ev Event) {
	if c.sink == nil {
		return
	}
	c.sink.FireModeEvent(ctx, modeName, ev)
}
