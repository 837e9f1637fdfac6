package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/2franix/hwsupervisor/internal/alert"
	"github.com/2franix/hwsupervisor/internal/mode"
)

func TestFindConfig_Explicit(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "test.yaml")
	os.WriteFile(path, []byte("mode_object: mode.object\n"), 0600)

	got, err := FindConfig(path)
	if err != nil {
		t.Fatalf("FindConfig(%q) error: %v", path, err)
	}
	if got != path {
		t.Errorf("FindConfig(%q) = %q, want %q", path, got, path)
	}
}

func TestFindConfig_ExplicitMissing(t *testing.T) {
	_, err := FindConfig("/nonexistent/config.yaml")
	if err == nil {
		t.Fatal("FindConfig with missing explicit path should error")
	}
}

func TestFindConfig_SearchPath(t *testing.T) {
	dir := t.TempDir()
	orig := searchPathsFunc
	searchPathsFunc = func() []string {
		return []string{filepath.Join(dir, "config.yaml")}
	}
	defer func() { searchPathsFunc = orig }()

	_, err := FindConfig("")
	if err == nil {
		t.Fatal("FindConfig(\"\") with no config files should error")
	}
}

func TestFindConfig_CWD(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	os.WriteFile(path, []byte("mode_object: mode.object\n"), 0600)

	orig, _ := os.Getwd()
	os.Chdir(dir)
	defer os.Chdir(orig)

	got, err := FindConfig("")
	if err != nil {
		t.Fatalf("FindConfig(\"\") error: %v", err)
	}
	if got != "config.yaml" {
		t.Errorf("FindConfig(\"\") = %q, want %q", got, "config.yaml")
	}
}

const sampleDoc = `
services:
  broker: tcp://lkd.local:1883
mode_object: mode.object
modes:
  - name: Away
    value: 1
    sensors: [K]
    on:
      - event: ENTERED
        actions:
          - kind: shell-cmd
            shell:
              command: "arm {mode.enabled-sensors}"
alerts:
  - name: Perimeter
    persistence_object: Perimeter.persistence
    on:
      - event: ALERT_ACTIVATED
        actions:
          - kind: send-email
            email:
              to: ["owner@example.com"]
              subject: "{alert.name} triggered"
              body: "{alert.sensors-status}"
sensors:
  - name: K
    alert: Perimeter
    trigger_value: true
    enabled_object: K.enabled
    watched_object: K.watched
    activation_delay: 5
    prealert_duration:
      default: 10
      per_mode:
        Away: 0
    alert_duration: 30
`

func writeDoc(t *testing.T, contents string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte(contents), 0600); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	return path
}

func TestLoad_DecodesFullDocument(t *testing.T) {
	path := writeDoc(t, sampleDoc)
	doc, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if doc.Services.Broker != "tcp://lkd.local:1883" {
		t.Errorf("services.broker = %q", doc.Services.Broker)
	}
	if len(doc.Modes) != 1 || doc.Modes[0].Name != "Away" {
		t.Fatalf("modes = %+v", doc.Modes)
	}
	if len(doc.Alerts) != 1 || doc.Alerts[0].Name != "Perimeter" {
		t.Fatalf("alerts = %+v", doc.Alerts)
	}
	if len(doc.Sensors) != 1 || doc.Sensors[0].Kind != "bool" {
		t.Fatalf("sensors = %+v", doc.Sensors)
	}
	if v, ok := doc.Sensors[0].PrealertDuration.PerMode["Away"]; !ok || v != 0 {
		t.Errorf("prealert per-mode override not decoded: %+v", doc.Sensors[0].PrealertDuration)
	}
}

func TestLoad_UnknownAlertReferenceFails(t *testing.T) {
	path := writeDoc(t, `
mode_object: mode.object
sensors:
  - name: K
    alert: Ghost
    enabled_object: e
    watched_object: w
`)
	if _, err := Load(path); err == nil {
		t.Fatal("expected error for sensor referencing unknown alert")
	}
}

func TestLoad_UnknownModeSensorReferenceFails(t *testing.T) {
	path := writeDoc(t, `
mode_object: mode.object
alerts:
  - name: Perimeter
modes:
  - name: Away
    value: 1
    sensors: [Ghost]
`)
	if _, err := Load(path); err == nil {
		t.Fatal("expected error for mode referencing unknown sensor")
	}
}

func TestLoad_UnknownEventNameFails(t *testing.T) {
	path := writeDoc(t, `
mode_object: mode.object
alerts:
  - name: Perimeter
    on:
      - event: BOGUS_EVENT
        actions:
          - kind: shell-cmd
            shell: { command: x }
`)
	if _, err := Load(path); err == nil {
		t.Fatal("expected error for unknown alert event name")
	}
}

func TestLoad_DuplicateAlertNameFails(t *testing.T) {
	path := writeDoc(t, `
mode_object: mode.object
alerts:
  - name: Perimeter
  - name: Perimeter
`)
	if _, err := Load(path); err == nil {
		t.Fatal("expected error for duplicate alert name")
	}
}

func TestLoad_InvalidLogLevelFails(t *testing.T) {
	path := writeDoc(t, "mode_object: mode.object\nlog_level: bogus\n")
	if _, err := Load(path); err == nil {
		t.Fatal("expected error for invalid log_level")
	}
}

func TestApplyDefaults_ModeObjectAndPorts(t *testing.T) {
	path := writeDoc(t, "alerts:\n  - name: Perimeter\n")
	doc, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if doc.ModeObjectID != "mode.object" {
		t.Errorf("mode_object default = %q", doc.ModeObjectID)
	}
	if doc.Web.Port != 8080 {
		t.Errorf("web.port default = %d", doc.Web.Port)
	}
	if doc.Metrics.Port != 9090 {
		t.Errorf("metrics.port default = %d", doc.Metrics.Port)
	}
}

func TestBuildEngineConfig_FloatSensorBounds(t *testing.T) {
	path := writeDoc(t, `
mode_object: mode.object
alerts:
  - name: Perimeter
sensors:
  - name: Temp
    alert: Perimeter
    kind: float
    lower: 5
    upper: 30
    hysteresis: 0.5
    enabled_object: t.enabled
    watched_object: t.watched
`)
	doc, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	cfg, err := doc.BuildEngineConfig()
	if err != nil {
		t.Fatalf("BuildEngineConfig: %v", err)
	}
	if len(cfg.Sensors) != 1 {
		t.Fatalf("sensors = %+v", cfg.Sensors)
	}
	fs := cfg.Sensors[0].Float
	if !fs.HasLower || fs.Lower != 5 || !fs.HasUpper || fs.Upper != 30 || fs.Hysteresis != 0.5 {
		t.Errorf("float spec = %+v", fs)
	}
}

func TestBuildEngineConfig_CriterionTree(t *testing.T) {
	path := writeDoc(t, `
mode_object: mode.object
alerts:
  - name: Perimeter
sensors:
  - name: Motion
    alert: Perimeter
    enabled_object: m.enabled
    watched_object: m.watched
    criterion:
      and:
        - sensor: Dusk
          want: true
        - or:
            - sensor: Armed
              want: true
`)
	doc, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	cfg, err := doc.BuildEngineConfig()
	if err != nil {
		t.Fatalf("BuildEngineConfig: %v", err)
	}
	if cfg.Sensors[0].Criterion == nil {
		t.Fatal("expected criterion to be built")
	}
}

func TestLoad_DecodesEntityEventBindings(t *testing.T) {
	path := writeDoc(t, sampleDoc)
	doc, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(doc.Alerts[0].On) != 1 {
		t.Fatalf("expected one alert binding, got %+v", doc.Alerts[0].On)
	}
	evt, err := parseAlertEvent(doc.Alerts[0].On[0].Event)
	if err != nil || evt != alert.EventAlertActivated {
		t.Fatalf("parseAlertEvent = %v, %v", evt, err)
	}
	mevt, err := parseModeEvent(doc.Modes[0].On[0].Event)
	if err != nil || mevt != mode.EventEntered {
		t.Fatalf("parseModeEvent = %v, %v", mevt, err)
	}
}

func TestParseLogLevel(t *testing.T) {
	tests := []struct {
		in      string
		wantErr bool
	}{
		{"", false},
		{"info", false},
		{"TRACE", false},
		{"debug", false},
		{"warn", false},
		{"error", false},
		{"bogus", true},
	}
	for _, tt := range tests {
		_, err := ParseLogLevel(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseLogLevel(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
		}
	}
}

func TestLoad_MailBackendSMTP(t *testing.T) {
	path := writeDoc(t, `
mode_object: mode.object
alerts:
  - name: Perimeter
mail:
  backend: smtp
  smtp:
    host: smtp.example.com
    port: 587
    from: alarm@example.com
    start_tls: true
`)
	doc, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if doc.Mail.Backend != "smtp" || doc.Mail.SMTP.Host != "smtp.example.com" {
		t.Errorf("mail = %+v", doc.Mail)
	}
	if m := doc.BuildMailer(nil); m == nil {
		t.Fatal("expected a non-nil mailer for smtp backend")
	}
}

func TestLoad_NoMailBackendYieldsNilMailer(t *testing.T) {
	path := writeDoc(t, "mode_object: mode.object\nalerts:\n  - name: Perimeter\n")
	doc, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if m := doc.BuildMailer(nil); m != nil {
		t.Errorf("expected nil mailer, got %T", m)
	}
}

func TestValidate_ErrorMentionsOffendingName(t *testing.T) {
	path := writeDoc(t, `
mode_object: mode.object
sensors:
  - name: Orphan
    alert: Ghost
    enabled_object: e
    watched_object: w
`)
	_, err := Load(path)
	if err == nil {
		t.Fatal("expected error")
	}
	if !strings.Contains(err.Error(), "Orphan") || !strings.Contains(err.Error(), "Ghost") {
		t.Errorf("error should name both sensor and alert, got: %v", err)
	}
}
