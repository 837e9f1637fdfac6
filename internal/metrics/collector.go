package metrics

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/2franix/hwsupervisor/internal/alert"
	"github.com/2franix/hwsupervisor/internal/sensor"
)

// Engine is the narrow slice of engine.Engine the collector reads at
// scrape time, mirroring the interface internal/web defines at its own
// point of use so neither package needs to import internal/engine.
type Engine interface {
	CurrentMode() string
	AlertNames() []string
	Alert(name string) (*alert.Alert, bool)
	SensorNames() []string
	Sensor(name string) (*sensor.Sensor, bool)
}

var (
	alertStatusDesc = prometheus.NewDesc(
		"hwsupervisor_alert_status",
		"1 for an alert's current status, labeled by alert name and status value.",
		[]string{"alert", "status"}, nil,
	)
	sensorEnabledDesc = prometheus.NewDesc(
		"hwsupervisor_sensor_enabled",
		"1 if the sensor is currently enabled in the active mode.",
		[]string{"sensor"}, nil,
	)
	sensorTriggeredDesc = prometheus.NewDesc(
		"hwsupervisor_sensor_triggered",
		"1 if the sensor is currently triggered.",
		[]string{"sensor"}, nil,
	)
	modeActiveDesc = prometheus.NewDesc(
		"hwsupervisor_mode_active",
		"1 for the currently active mode.",
		[]string{"mode"}, nil,
	)
)

// Collector implements prometheus.Collector by reading engine state
// fresh on every scrape, rather than mirroring it into gauges that a
// missed update could let drift out of sync.
type Collector struct {
	engine Engine
}

// NewCollector builds a Collector over eng. eng must not be nil.
func NewCollector(eng Engine) *Collector {
	return &Collector{engine: eng}
}

func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- alertStatusDesc
	ch <- sensorEnabledDesc
	ch <- sensorTriggeredDesc
	ch <- modeActiveDesc
}

func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	for _, name := range c.engine.AlertNames() {
		a, ok := c.engine.Alert(name)
		if !ok {
			continue
		}
		ch <- prometheus.MustNewConstMetric(alertStatusDesc, prometheus.GaugeValue, 1, name, a.Status().String())
	}

	for _, name := range c.engine.SensorNames() {
		s, ok := c.engine.Sensor(name)
		if !ok {
			continue
		}
		ch <- prometheus.MustNewConstMetric(sensorEnabledDesc, prometheus.GaugeValue, boolToFloat(s.IsEnabled()), name)
		ch <- prometheus.MustNewConstMetric(sensorTriggeredDesc, prometheus.GaugeValue, boolToFloat(s.IsTriggered()), name)
	}

	if mode := c.engine.CurrentMode(); mode != "" {
		ch <- prometheus.MustNewConstMetric(modeActiveDesc, prometheus.GaugeValue, 1, mode)
	}
}

func boolToFloat(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
