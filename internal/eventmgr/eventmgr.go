// Package eventmgr binds alert and mode events to configured actions
// and fires them, per §4.5. A Manager holds, per entity, the (event,
// actions) list built by concatenating the entity's own bindings with
// repository-wide bindings; it implements alert.Sink and mode.Sink so
// the alert and mode packages can fire into it without importing it.
package eventmgr

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/2franix/hwsupervisor/internal/actionexec"
	"github.com/2franix/hwsupervisor/internal/alert"
	"github.com/2franix/hwsupervisor/internal/contexthandler"
	"github.com/2franix/hwsupervisor/internal/events"
	"github.com/2franix/hwsupervisor/internal/mode"
)

// StatusProvider supplies the live state the context handlers read at
// fire time. Satisfied by the engine, which owns every alert, sensor,
// and the mode controller. The engine cannot be passed to New because
// constructing the engine requires a Manager first (to satisfy
// alert.Sink and mode.Sink), so this is wired in afterwards with
// SetStatusProvider.
type StatusProvider interface {
	AlertSensorStatus(alertName string) []contexthandler.SensorStatusEntry
	EnabledSensorNames() []string
	CurrentMode() string
}

// Manager fires configured actions when alert/mode events occur. Every
// fired event is also published, non-blocking and best effort, on the
// operational bus for the dashboard and future metrics consumers.
type Manager struct {
	executor *actionexec.Executor
	bus      *events.Bus
	logger   *slog.Logger

	mu                sync.RWMutex
	provider          StatusProvider
	alertBindings     map[string]map[alert.EventType][]actionexec.Action
	repoAlertBindings map[alert.EventType][]actionexec.Action
	modeBindings      map[string]map[mode.Event][]actionexec.Action
	repoModeBindings  map[mode.Event][]actionexec.Action
}

// New constructs a Manager. bus may be nil, in which case operational
// events are simply not published (events.Bus is nil-safe).
func New(executor *actionexec.Executor, bus *events.Bus, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		executor:          executor,
		bus:               bus,
		logger:            logger,
		alertBindings:     make(map[string]map[alert.EventType][]actionexec.Action),
		repoAlertBindings: make(map[alert.EventType][]actionexec.Action),
		modeBindings:      make(map[string]map[mode.Event][]actionexec.Action),
		repoModeBindings:  make(map[mode.Event][]actionexec.Action),
	}
}

// SetStatusProvider wires the engine in once constructed.
func (m *Manager) SetStatusProvider(p StatusProvider) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.provider = p
}

// BindAlertEvent registers actions to fire when alertName's alert emits evt.
func (m *Manager) BindAlertEvent(alertName string, evt alert.EventType, actions ...actionexec.Action) {
	m.mu.Lock()
	defer m.mu.Unlock()
	bindings, ok := m.alertBindings[alertName]
	if !ok {
		bindings = make(map[alert.EventType][]actionexec.Action)
		m.alertBindings[alertName] = bindings
	}
	bindings[evt] = append(bindings[evt], actions...)
}

// BindRepoAlertEvent registers actions that fire for evt on every alert.
func (m *Manager) BindRepoAlertEvent(evt alert.EventType, actions ...actionexec.Action) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.repoAlertBindings[evt] = append(m.repoAlertBindings[evt], actions...)
}

// BindModeEvent registers actions to fire when modeName's controller emits evt.
func (m *Manager) BindModeEvent(modeName string, evt mode.Event, actions ...actionexec.Action) {
	m.mu.Lock()
	defer m.mu.Unlock()
	bindings, ok := m.modeBindings[modeName]
	if !ok {
		bindings = make(map[mode.Event][]actionexec.Action)
		m.modeBindings[modeName] = bindings
	}
	bindings[evt] = append(bindings[evt], actions...)
}

// BindRepoModeEvent registers actions that fire for evt on every mode.
func (m *Manager) BindRepoModeEvent(evt mode.Event, actions ...actionexec.Action) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.repoModeBindings[evt] = append(m.repoModeBindings[evt], actions...)
}

// FireAlertEvent implements alert.Sink.
func (m *Manager) FireAlertEvent(ctx context.Context, alertName string, status alert.Status, ev alert.Event) {
	m.bus.Publish(events.Event{
		Timestamp: time.Now(),
		Source:    events.SourceAlert,
		Kind:      alertEventKind(ev.Type),
		Data:      map[string]any{"alert": alertName, "sensor": ev.Sensor, "status": status.String()},
	})

	m.mu.RLock()
	actions := append(append([]actionexec.Action{}, m.alertBindings[alertName][ev.Type]...), m.repoAlertBindings[ev.Type]...)
	provider := m.provider
	m.mu.RUnlock()

	if len(actions) == 0 {
		return
	}

	hctx := contexthandler.Context{AlertName: alertName}
	if provider != nil {
		hctx.SensorStatus = provider.AlertSensorStatus(alertName)
		hctx.ModeName = provider.CurrentMode()
		hctx.EnabledSensorNames = provider.EnabledSensorNames()
	}

	for _, action := range actions {
		actx := hctx
		actx.SensorStatusOptions = action.StatusOptions
		if err := m.executor.Execute(ctx, action, actx); err != nil {
			m.logger.Error("action execution failed", "alert", alertName, "event", ev.Type, "error", err)
			m.bus.Publish(events.Event{
				Timestamp: time.Now(),
				Source:    events.SourceEngine,
				Kind:      events.KindActionFailed,
				Data:      map[string]any{"entity": alertName, "action_kind": string(action.Kind), "error": err.Error()},
			})
		}
	}
}

// FireModeEvent implements mode.Sink.
func (m *Manager) FireModeEvent(ctx context.Context, modeName string, ev mode.Event) {
	m.bus.Publish(events.Event{
		Timestamp: time.Now(),
		Source:    events.SourceMode,
		Kind:      modeEventKind(ev),
		Data:      map[string]any{"mode": modeName},
	})

	m.mu.RLock()
	actions := append(append([]actionexec.Action{}, m.modeBindings[modeName][ev]...), m.repoModeBindings[ev]...)
	provider := m.provider
	m.mu.RUnlock()

	if len(actions) == 0 {
		return
	}

	hctx := contexthandler.Context{ModeName: modeName}
	if provider != nil {
		hctx.EnabledSensorNames = provider.EnabledSensorNames()
	}

	for _, action := range actions {
		actx := hctx
		actx.SensorStatusOptions = action.StatusOptions
		if err := m.executor.Execute(ctx, action, actx); err != nil {
			m.logger.Error("action execution failed", "mode", modeName, "event", ev, "error", err)
			m.bus.Publish(events.Event{
				Timestamp: time.Now(),
				Source:    events.SourceEngine,
				Kind:      events.KindActionFailed,
				Data:      map[string]any{"entity": modeName, "action_kind": string(action.Kind), "error": err.Error()},
			})
		}
	}
}

func alertEventKind(et alert.EventType) string {
	switch et {
	case alert.EventPrealertStarted:
		return events.KindPrealertStarted
	case alert.EventSensorJoined:
		return events.KindSensorJoined
	case alert.EventSensorLeft:
		return events.KindSensorLeft
	case alert.EventAlertActivated:
		return events.KindAlertActivated
	case alert.EventAlertDeactivated:
		return events.KindAlertDeactivated
	case alert.EventAlertPaused:
		return events.KindAlertPaused
	case alert.EventAlertResumed:
		return events.KindAlertResumed
	case alert.EventAlertReset:
		return events.KindAlertReset
	case alert.EventAlertStopped:
		return events.KindAlertStopped
	case alert.EventAlertAborted:
		return events.KindAlertAborted
	default:
		return string(et)
	}
}

func modeEventKind(ev mode.Event) string {
	switch ev {
	case mode.EventEntered:
		return events.KindModeEntered
	case mode.EventLeft:
		return events.KindModeLeft
	default:
		return string(ev)
	}
}
