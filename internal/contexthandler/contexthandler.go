// Package contexthandler expands `{name}` placeholders embedded in
// event action templates (subject/body/command text) against the
// structured context of the event that fired: which alert, which mode,
// which sensors. The placeholder scanner is modeled on the teacher's
// ha-inject directive scanner, adapted from an HTML-comment directive
// to a bare `{token}` substitution.
package contexthandler

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
)

// placeholderRe matches {handler.name} tokens.
var placeholderRe = regexp.MustCompile(`\{([a-zA-Z][a-zA-Z0-9_.-]*)\}`)

// SensorStatusClass identifies which membership bucket a sensor
// belongs to, for the alert.sensors-status handler's per-class
// inclusion options.
type SensorStatusClass int

const (
	SensorInPrealert SensorStatusClass = iota
	SensorInAlert
	SensorInPause
)

// SensorStatusEntry is one line of the alert.sensors-status listing.
type SensorStatusEntry struct {
	Name  string
	Class SensorStatusClass
}

// SensorStatusOptions configures the alert.sensors-status handler, set
// per action in configuration.
type SensorStatusOptions struct {
	IncludePrealert bool
	IncludeAlert    bool
	IncludePause    bool
	Bulleted        bool
}

// Context carries everything a handler needs to resolve its
// placeholder for one firing event.
type Context struct {
	AlertName            string
	SensorStatus         []SensorStatusEntry
	SensorStatusOptions  SensorStatusOptions
	ModeName             string
	EnabledSensorNames   []string
}

// HandlerFunc resolves one placeholder name against a Context.
type HandlerFunc func(ctx Context) (string, error)

// Registry maps placeholder names to resolver functions. The default
// registry wires the four handlers named in the event/action design:
// alert.name, alert.sensors-status, mode.current, mode.enabled-sensors.
type Registry struct {
	handlers map[string]HandlerFunc
}

// NewDefaultRegistry builds the registry with the standard handlers.
func NewDefaultRegistry() *Registry {
	r := &Registry{handlers: make(map[string]HandlerFunc)}
	r.Register("alert.name", handleAlertName)
	r.Register("alert.sensors-status", handleAlertSensorsStatus)
	r.Register("mode.current", handleModeCurrent)
	r.Register("mode.enabled-sensors", handleModeEnabledSensors)
	return r
}

// Register adds or overrides a handler.
func (r *Registry) Register(name string, fn HandlerFunc) {
	r.handlers[name] = fn
}

// Expand substitutes every {name} placeholder in template using this
// registry against ctx. An unknown handler name is a configuration
// error; per the error taxonomy, the caller is expected to skip the
// whole action rather than emit a partially expanded string.
func (r *Registry) Expand(template string, ctx Context) (string, error) {
	var firstErr error
	result := placeholderRe.ReplaceAllStringFunc(template, func(token string) string {
		if firstErr != nil {
			return token
		}
		name := token[1 : len(token)-1]
		handler, ok := r.handlers[name]
		if !ok {
			firstErr = fmt.Errorf("contexthandler: unknown handler %q", name)
			return token
		}
		resolved, err := handler(ctx)
		if err != nil {
			firstErr = fmt.Errorf("contexthandler: handler %q: %w", name, err)
			return token
		}
		return resolved
	})
	if firstErr != nil {
		return "", firstErr
	}
	return result, nil
}

func handleAlertName(ctx Context) (string, error) {
	return ctx.AlertName, nil
}

func handleModeCurrent(ctx Context) (string, error) {
	return ctx.ModeName, nil
}

func handleModeEnabledSensors(ctx Context) (string, error) {
	names := append([]string{}, ctx.EnabledSensorNames...)
	sort.Strings(names)
	return strings.Join(names, ", "), nil
}

func handleAlertSensorsStatus(ctx Context) (string, error) {
	opts := ctx.SensorStatusOptions
	var lines []string
	for _, e := range ctx.SensorStatus {
		switch e.Class {
		case SensorInPrealert:
			if !opts.IncludePrealert {
				continue
			}
		case SensorInAlert:
			if !opts.IncludeAlert {
				continue
			}
		case SensorInPause:
			if !opts.IncludePause {
				continue
			}
		}
		lines = append(lines, fmt.Sprintf("%s (%s)", e.Name, classLabel(e.Class)))
	}

	if opts.Bulleted {
		var sb strings.Builder
		for _, l := range lines {
			sb.WriteString("- ")
			sb.WriteString(l)
			sb.WriteString("\n")
		}
		return strings.TrimRight(sb.String(), "\n"), nil
	}
	return strings.Join(lines, ", "), nil
}

func classLabel(c SensorStatusClass) string {
	switch c {
	case SensorInPrealert:
		return "prealert"
	case SensorInAlert:
		return "alert"
	case SensorInPause:
		return "paused"
	default:
		return "unknown"
	}
}
