// Package config decodes the resolved configuration document described
// in the configuration section: services block, modes, alerts, and
// sensors, plus the event-binding actions wired into each. Per that
// section's scope boundary, this package assumes every `{placeholder}`
// in the document has already been expanded by an external loader; it
// only decodes, defaults, and structurally validates.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/2franix/hwsupervisor/internal/actionexec"
	"github.com/2franix/hwsupervisor/internal/alert"
	"github.com/2franix/hwsupervisor/internal/contexthandler"
	"github.com/2franix/hwsupervisor/internal/criterion"
	"github.com/2franix/hwsupervisor/internal/engine"
	"github.com/2franix/hwsupervisor/internal/eventmgr"
	"github.com/2franix/hwsupervisor/internal/lkdbus"
	"github.com/2franix/hwsupervisor/internal/mode"
	"github.com/2franix/hwsupervisor/internal/sensor"
)

// searchPathsFunc is DefaultSearchPaths, indirected so tests can
// replace it without touching real search locations on the machine
// running the test.
var searchPathsFunc = DefaultSearchPaths

// DefaultSearchPaths returns the config file search order. An explicit
// path (from -config flag) is checked first by FindConfig; otherwise
// these are tried in order: ./config.yaml, ~/.config/hwsupervisor/config.yaml,
// /config/config.yaml, /etc/hwsupervisor/config.yaml.
func DefaultSearchPaths() []string {
	paths := []string{"config.yaml"}

	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, ".config", "hwsupervisor", "config.yaml"))
	}

	paths = append(paths, "/config/config.yaml") // container convention
	paths = append(paths, "/etc/hwsupervisor/config.yaml")
	return paths
}

// FindConfig locates a config file. If explicit is non-empty, it must
// exist. Otherwise it searches DefaultSearchPaths and returns the
// first that exists.
func FindConfig(explicit string) (string, error) {
	if explicit != "" {
		if _, err := os.Stat(explicit); err != nil {
			return "", fmt.Errorf("config file not found: %s", explicit)
		}
		return explicit, nil
	}

	paths := searchPathsFunc()
	for _, p := range paths {
		if _, err := os.Stat(p); err == nil {
			return p, nil
		}
	}

	return "", fmt.Errorf("no config file found (searched: %v)", paths)
}

// Document is the root of the decoded configuration tree.
type Document struct {
	Services ServicesConfig `yaml:"services"`
	Mail     MailConfig     `yaml:"mail"`
	Web      WebConfig      `yaml:"web"`
	Metrics  MetricsConfig  `yaml:"metrics"`
	LogLevel string         `yaml:"log_level"`

	ModeObjectID string            `yaml:"mode_object"`
	Modes        []ModeDoc         `yaml:"modes"`
	Alerts       []AlertDoc        `yaml:"alerts"`
	Sensors      []SensorDoc       `yaml:"sensors"`
	AlertEvents  []EventBindingDoc `yaml:"alert_events"` // repository-wide
	ModeEvents   []EventBindingDoc `yaml:"mode_events"`  // repository-wide
}

// ServicesConfig names the LKD bus connection, mapped onto the MQTT
// demonstration transport.
type ServicesConfig struct {
	Broker   string `yaml:"broker"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	ClientID string `yaml:"client_id"`
}

// MailConfig selects and configures the send-email backend.
type MailConfig struct {
	// Backend is "smtp" (direct net/smtp delivery) or "lkd" (delegate
	// to the bus backend's own action document). Empty means no
	// mailer is configured; send-email actions then fail at fire time.
	Backend string        `yaml:"backend"`
	SMTP    SMTPConfigDoc `yaml:"smtp"`
}

// SMTPConfigDoc mirrors actionexec.SMTPConfig with yaml tags; kept
// separate so the domain type stays free of a document-format concern.
type SMTPConfigDoc struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	From     string `yaml:"from"`
	StartTLS bool   `yaml:"start_tls"`
}

// WebConfig configures the read-only dashboard.
type WebConfig struct {
	Enabled bool   `yaml:"enabled"`
	Address string `yaml:"address"`
	Port    int    `yaml:"port"`
}

// MetricsConfig configures the Prometheus exposition endpoint.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Address string `yaml:"address"`
	Port    int    `yaml:"port"`
}

// ModeDoc resolves one configured mode.
type ModeDoc struct {
	Name    string            `yaml:"name"`
	Value   int64             `yaml:"value"`
	Sensors []string          `yaml:"sensors"`
	On      []EventBindingDoc `yaml:"on"`
}

// AlertDoc resolves one configured alert group.
type AlertDoc struct {
	Name              string            `yaml:"name"`
	PersistenceObject string            `yaml:"persistence_object"`
	InhibitionObject  string            `yaml:"inhibition_object"`
	On                []EventBindingDoc `yaml:"on"`
}

// SensorDoc resolves one configured sensor.
type SensorDoc struct {
	Name  string `yaml:"name"`
	Alert string `yaml:"alert"`

	// Kind is "bool" (default) or "float".
	Kind string `yaml:"kind"`

	TriggerValue bool    `yaml:"trigger_value"`
	HasLower     bool    `yaml:"-"`
	Lower        float64 `yaml:"-"`
	HasUpper     bool    `yaml:"-"`
	Upper        float64 `yaml:"-"`
	Hysteresis   float64 `yaml:"hysteresis"`

	EnabledObject     string `yaml:"enabled_object"`
	WatchedObject     string `yaml:"watched_object"`
	PersistenceObject string `yaml:"persistence_object"`

	ActivationDelay  MDVDoc `yaml:"activation_delay"`
	PrealertDuration MDVDoc `yaml:"prealert_duration"`
	AlertDuration    MDVDoc `yaml:"alert_duration"`

	Criterion *CriterionDoc `yaml:"criterion"`
}

// UnmarshalYAML implements yaml.Unmarshaler, tracking whether lower and
// upper were present so a float sensor can tell "unset" from "zero".
func (s *SensorDoc) UnmarshalYAML(value *yaml.Node) error {
	type plain SensorDoc
	var raw struct {
		plain `yaml:",inline"`
		Lower *float64 `yaml:"lower"`
		Upper *float64 `yaml:"upper"`
	}
	if err := value.Decode(&raw); err != nil {
		return err
	}
	*s = SensorDoc(raw.plain)
	if raw.Lower != nil {
		s.HasLower, s.Lower = true, *raw.Lower
	}
	if raw.Upper != nil {
		s.HasUpper, s.Upper = true, *raw.Upper
	}
	return nil
}

// MDVDoc decodes a mode-dependent value either from a bare scalar
// (used as the default for every mode) or from a mapping with an
// explicit default and per-mode overrides.
type MDVDoc struct {
	Default float64
	PerMode map[string]float64
}

// UnmarshalYAML implements yaml.Unmarshaler.
func (m *MDVDoc) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind == yaml.ScalarNode {
		return value.Decode(&m.Default)
	}
	var raw struct {
		Default float64            `yaml:"default"`
		PerMode map[string]float64 `yaml:"per_mode"`
	}
	if err := value.Decode(&raw); err != nil {
		return err
	}
	m.Default = raw.Default
	m.PerMode = raw.PerMode
	return nil
}

func (m MDVDoc) build() sensor.MDV {
	return sensor.MDV{PerMode: m.PerMode, Default: m.Default}
}

// EventBindingDoc binds a named event to the actions that fire when it occurs.
type EventBindingDoc struct {
	Event   string      `yaml:"event"`
	Actions []ActionDoc `yaml:"actions"`
}

// ActionDoc resolves one configured action descriptor.
type ActionDoc struct {
	Kind string `yaml:"kind"`

	Email EmailActionDoc `yaml:"email"`
	SMS   SMSActionDoc   `yaml:"sms"`
	Shell ShellActionDoc `yaml:"shell"`

	// Generic carries an arbitrary action document for Kind == "generic".
	Generic GenericActionDoc `yaml:"generic"`

	SensorStatus SensorStatusOptionsDoc `yaml:"sensor_status"`
}

// EmailActionDoc configures a send-email action.
type EmailActionDoc struct {
	To      []string `yaml:"to"`
	Subject string   `yaml:"subject"`
	Body    string   `yaml:"body"`
}

// SMSActionDoc configures a send-sms action.
type SMSActionDoc struct {
	To    string `yaml:"to"`
	Value string `yaml:"value"`
}

// ShellActionDoc configures a shell-cmd action.
type ShellActionDoc struct {
	Command string `yaml:"command"`
}

// GenericActionDoc configures a generic pass-through action.
type GenericActionDoc struct {
	Type   string            `yaml:"type"`
	Fields map[string]string `yaml:"fields"`
}

// SensorStatusOptionsDoc configures the alert.sensors-status placeholder.
type SensorStatusOptionsDoc struct {
	IncludePrealert bool `yaml:"include_prealert"`
	IncludeAlert    bool `yaml:"include_alert"`
	IncludePause    bool `yaml:"include_pause"`
	Bulleted        bool `yaml:"bulleted"`
}

// CriterionDoc decodes one node of an activation-criterion tree: either
// a sensor leaf, or an and/or combinator over child nodes.
type CriterionDoc struct {
	Sensor string
	Want   *bool
	And    []CriterionDoc
	Or     []CriterionDoc
}

// UnmarshalYAML implements yaml.Unmarshaler.
func (c *CriterionDoc) UnmarshalYAML(value *yaml.Node) error {
	var raw struct {
		Sensor string         `yaml:"sensor"`
		Want   *bool          `yaml:"want"`
		And    []CriterionDoc `yaml:"and"`
		Or     []CriterionDoc `yaml:"or"`
	}
	if err := value.Decode(&raw); err != nil {
		return err
	}
	c.Sensor, c.Want, c.And, c.Or = raw.Sensor, raw.Want, raw.And, raw.Or
	return nil
}

// build converts a decoded criterion tree into the runtime evaluator. A
// leaf's Want defaults to true when omitted; a node with neither a
// sensor nor children defaults to Always(true), the ungated case.
func (c CriterionDoc) build() (criterion.Criterion, error) {
	switch {
	case c.Sensor != "":
		want := true
		if c.Want != nil {
			want = *c.Want
		}
		return criterion.NewLeaf(c.Sensor, want), nil
	case len(c.And) > 0:
		children := make([]criterion.Criterion, 0, len(c.And))
		for _, ch := range c.And {
			built, err := ch.build()
			if err != nil {
				return nil, err
			}
			children = append(children, built)
		}
		return criterion.And{Children: children}, nil
	case len(c.Or) > 0:
		children := make([]criterion.Criterion, 0, len(c.Or))
		for _, ch := range c.Or {
			built, err := ch.build()
			if err != nil {
				return nil, err
			}
			children = append(children, built)
		}
		return criterion.Or{Children: children}, nil
	default:
		return criterion.Always(true), nil
	}
}

// Load reads a configuration document from a YAML file, applies
// defaults, and validates the result. After Load returns successfully
// every field the resolvers below need is present and consistent.
func Load(path string) (*Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	doc := &Document{}
	if err := yaml.Unmarshal(data, doc); err != nil {
		return nil, err
	}

	doc.applyDefaults()

	if err := doc.Validate(); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}

	return doc, nil
}

// applyDefaults fills in zero-value fields with sensible defaults.
func (d *Document) applyDefaults() {
	if d.ModeObjectID == "" {
		d.ModeObjectID = "mode.object"
	}
	if d.Web.Port == 0 {
		d.Web.Port = 8080
	}
	if d.Metrics.Port == 0 {
		d.Metrics.Port = 9090
	}
	for i := range d.Sensors {
		if d.Sensors[i].Kind == "" {
			d.Sensors[i].Kind = "bool"
		}
	}
}

// Validate checks that the document is internally consistent: every
// sensor references a declared alert, every mode's sensor list
// references a declared sensor, no duplicate names, and every event
// name resolves to a known alert.EventType or mode.Event.
func (d *Document) Validate() error {
	if d.LogLevel != "" {
		if _, err := ParseLogLevel(d.LogLevel); err != nil {
			return err
		}
	}

	alertNames := make(map[string]bool, len(d.Alerts))
	for _, a := range d.Alerts {
		if a.Name == "" {
			return fmt.Errorf("config: alert with empty name")
		}
		if alertNames[a.Name] {
			return fmt.Errorf("config: duplicate alert name %q", a.Name)
		}
		alertNames[a.Name] = true
	}

	sensorNames := make(map[string]bool, len(d.Sensors))
	for _, s := range d.Sensors {
		if s.Name == "" {
			return fmt.Errorf("config: sensor with empty name")
		}
		if sensorNames[s.Name] {
			return fmt.Errorf("config: duplicate sensor name %q", s.Name)
		}
		sensorNames[s.Name] = true
		if !alertNames[s.Alert] {
			return fmt.Errorf("config: sensor %q references unknown alert %q", s.Name, s.Alert)
		}
		switch s.Kind {
		case "bool", "float":
		default:
			return fmt.Errorf("config: sensor %q has unknown kind %q", s.Name, s.Kind)
		}
	}

	modeNames := make(map[string]bool, len(d.Modes))
	for _, m := range d.Modes {
		if m.Name == "" {
			return fmt.Errorf("config: mode with empty name")
		}
		if modeNames[m.Name] {
			return fmt.Errorf("config: duplicate mode name %q", m.Name)
		}
		modeNames[m.Name] = true
		for _, sn := range m.Sensors {
			if !sensorNames[sn] {
				return fmt.Errorf("config: mode %q references unknown sensor %q", m.Name, sn)
			}
		}
		for _, b := range m.On {
			if _, err := parseModeEvent(b.Event); err != nil {
				return err
			}
		}
	}

	for _, a := range d.Alerts {
		for _, b := range a.On {
			if _, err := parseAlertEvent(b.Event); err != nil {
				return err
			}
		}
	}
	for _, b := range d.AlertEvents {
		if _, err := parseAlertEvent(b.Event); err != nil {
			return err
		}
	}
	for _, b := range d.ModeEvents {
		if _, err := parseModeEvent(b.Event); err != nil {
			return err
		}
	}

	return nil
}

func parseAlertEvent(name string) (alert.EventType, error) {
	switch alert.EventType(name) {
	case alert.EventPrealertStarted, alert.EventSensorJoined, alert.EventSensorLeft,
		alert.EventAlertActivated, alert.EventAlertDeactivated, alert.EventAlertPaused,
		alert.EventAlertResumed, alert.EventAlertReset, alert.EventAlertStopped, alert.EventAlertAborted:
		return alert.EventType(name), nil
	default:
		return "", fmt.Errorf("config: unknown alert event %q", name)
	}
}

func parseModeEvent(name string) (mode.Event, error) {
	switch mode.Event(name) {
	case mode.EventEntered, mode.EventLeft:
		return mode.Event(name), nil
	default:
		return "", fmt.Errorf("config: unknown mode event %q", name)
	}
}

// BuildMQTTConfig resolves the services block into the concrete MQTT
// transport configuration.
func (d *Document) BuildMQTTConfig() lkdbus.MQTTConfig {
	return lkdbus.MQTTConfig{
		Broker:   d.Services.Broker,
		Username: d.Services.Username,
		Password: d.Services.Password,
		ClientID: d.Services.ClientID,
	}
}

// BuildMailer resolves the mail block into a ready actionexec.Mailer,
// or nil if no backend is configured.
func (d *Document) BuildMailer(bus lkdbus.Client) actionexec.Mailer {
	switch d.Mail.Backend {
	case "smtp":
		s := d.Mail.SMTP
		return actionexec.NewSMTPMailer(actionexec.SMTPConfig{
			Host:     s.Host,
			Port:     s.Port,
			Username: s.Username,
			Password: s.Password,
			From:     s.From,
			StartTLS: s.StartTLS,
		})
	case "lkd":
		return actionexec.NewLKDMailer(bus)
	default:
		return nil
	}
}

// BuildEngineConfig resolves the modes/alerts/sensors blocks into the
// engine's construction tree.
func (d *Document) BuildEngineConfig() (engine.Config, error) {
	cfg := engine.Config{
		ModeObjectID: d.ModeObjectID,
		Alerts:       make([]engine.AlertConfig, 0, len(d.Alerts)),
		Sensors:      make([]engine.SensorConfig, 0, len(d.Sensors)),
		Modes:        make([]engine.ModeDef, 0, len(d.Modes)),
	}

	for _, a := range d.Alerts {
		cfg.Alerts = append(cfg.Alerts, engine.AlertConfig{
			Name:                a.Name,
			PersistenceObjectID: a.PersistenceObject,
			InhibitionObjectID:  a.InhibitionObject,
		})
	}

	for _, s := range d.Sensors {
		sc := engine.SensorConfig{
			Name:                s.Name,
			AlertName:           s.Alert,
			EnabledObjectID:     s.EnabledObject,
			WatchedObjectID:     s.WatchedObject,
			PersistenceObjectID: s.PersistenceObject,
			ActivationDelay:     s.ActivationDelay.build(),
			PrealertDuration:    s.PrealertDuration.build(),
			AlertDuration:       s.AlertDuration.build(),
		}

		switch s.Kind {
		case "float":
			sc.Kind = sensor.KindFloat
			sc.Float = sensor.FloatSpec{
				HasLower: s.HasLower, Lower: s.Lower,
				HasUpper: s.HasUpper, Upper: s.Upper,
				Hysteresis: s.Hysteresis,
			}
		default:
			sc.Kind = sensor.KindBoolean
			sc.Bool = sensor.BoolSpec{TriggerValue: s.TriggerValue}
		}

		if s.Criterion != nil {
			crit, err := s.Criterion.build()
			if err != nil {
				return engine.Config{}, fmt.Errorf("config: sensor %q: %w", s.Name, err)
			}
			sc.Criterion = crit
		}

		cfg.Sensors = append(cfg.Sensors, sc)
	}

	for _, m := range d.Modes {
		names := make(map[string]bool, len(m.Sensors))
		for _, sn := range m.Sensors {
			names[sn] = true
		}
		cfg.Modes = append(cfg.Modes, engine.ModeDef{Name: m.Name, Code: m.Value, SensorNames: names})
	}

	return cfg, nil
}

// ApplyBindings registers every configured event binding, entity-level
// and repository-wide, onto mgr.
func (d *Document) ApplyBindings(mgr *eventmgr.Manager) error {
	for _, a := range d.Alerts {
		for _, b := range a.On {
			evt, err := parseAlertEvent(b.Event)
			if err != nil {
				return err
			}
			actions, err := buildActions(b.Actions)
			if err != nil {
				return err
			}
			mgr.BindAlertEvent(a.Name, evt, actions...)
		}
	}
	for _, b := range d.AlertEvents {
		evt, err := parseAlertEvent(b.Event)
		if err != nil {
			return err
		}
		actions, err := buildActions(b.Actions)
		if err != nil {
			return err
		}
		mgr.BindRepoAlertEvent(evt, actions...)
	}
	for _, m := range d.Modes {
		for _, b := range m.On {
			evt, err := parseModeEvent(b.Event)
			if err != nil {
				return err
			}
			actions, err := buildActions(b.Actions)
			if err != nil {
				return err
			}
			mgr.BindModeEvent(m.Name, evt, actions...)
		}
	}
	for _, b := range d.ModeEvents {
		evt, err := parseModeEvent(b.Event)
		if err != nil {
			return err
		}
		actions, err := buildActions(b.Actions)
		if err != nil {
			return err
		}
		mgr.BindRepoModeEvent(evt, actions...)
	}
	return nil
}

func buildActions(docs []ActionDoc) ([]actionexec.Action, error) {
	out := make([]actionexec.Action, 0, len(docs))
	for _, d := range docs {
		a := actionexec.Action{
			StatusOptions: contexthandler.SensorStatusOptions{
				IncludePrealert: d.SensorStatus.IncludePrealert,
				IncludeAlert:    d.SensorStatus.IncludeAlert,
				IncludePause:    d.SensorStatus.IncludePause,
				Bulleted:        d.SensorStatus.Bulleted,
			},
		}
		switch actionexec.Kind(d.Kind) {
		case actionexec.KindSendEmail:
			a.Kind = actionexec.KindSendEmail
			a.Email = actionexec.EmailOptions{To: d.Email.To, Subject: d.Email.Subject, Body: d.Email.Body}
		case actionexec.KindSendSMS:
			a.Kind = actionexec.KindSendSMS
			a.SMS = actionexec.SMSOptions{To: d.SMS.To, Value: d.SMS.Value}
		case actionexec.KindShellCmd:
			a.Kind = actionexec.KindShellCmd
			a.Shell = actionexec.ShellOptions{Command: d.Shell.Command}
		case actionexec.KindGeneric:
			a.Kind = actionexec.KindGeneric
			a.Generic = lkdbus.ActionDocument{Type: d.Generic.Type, Fields: d.Generic.Fields}
		default:
			return nil, fmt.Errorf("config: unknown action kind %q", d.Kind)
		}
		out = append(out, a)
	}
	return out, nil
}
