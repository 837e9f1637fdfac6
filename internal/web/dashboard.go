package web

import (
	"net/http"
	"strings"

	"github.com/2franix/hwsupervisor/internal/buildinfo"
)

// AlertRow is one line of the dashboard's alert table.
type AlertRow struct {
	Name           string
	Status         string
	SensorsPrealert []string
	SensorsAlert    []string
}

// SensorRow is one line of the dashboard's sensor table.
type SensorRow struct {
	Name      string
	Enabled   bool
	Triggered bool
}

// DashboardData is the template context for the overview page.
type DashboardData struct {
	ActiveNav string
	Mode      string
	Uptime    string
	Version   string
	Alerts    []AlertRow
	Sensors   []SensorRow
}

// handleDashboard renders the overview page at "/". Only exact "/"
// requests match; everything else falls through to alert detail or 404.
func (s *Server) handleDashboard(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}

	data := DashboardData{
		ActiveNav: "overview",
		Mode:      s.engine.CurrentMode(),
		Uptime:    buildinfo.Uptime().String(),
		Version:   buildinfo.Version,
	}

	for _, name := range s.engine.AlertNames() {
		a, ok := s.engine.Alert(name)
		if !ok {
			continue
		}
		data.Alerts = append(data.Alerts, AlertRow{
			Name:            a.Name(),
			Status:          a.Status().String(),
			SensorsPrealert: a.SensorsInPrealert(),
			SensorsAlert:    a.SensorsInAlert(),
		})
	}

	for _, name := range s.engine.SensorNames() {
		sn, ok := s.engine.Sensor(name)
		if !ok {
			continue
		}
		data.Sensors = append(data.Sensors, SensorRow{
			Name:      sn.Name(),
			Enabled:   sn.IsEnabled(),
			Triggered: sn.IsTriggered(),
		})
	}

	s.render(w, r, "dashboard.html", data)
}

// AlertDetailData is the template context for one alert's detail page.
type AlertDetailData struct {
	ActiveNav string
	Alert     AlertRow
}

// handleAlertDetail renders "/alerts/{name}".
func (s *Server) handleAlertDetail(w http.ResponseWriter, r *http.Request) {
	name := strings.TrimPrefix(r.URL.Path, "/alerts/")
	if name == "" {
		http.NotFound(w, r)
		return
	}
	a, ok := s.engine.Alert(name)
	if !ok {
		http.NotFound(w, r)
		return
	}

	data := AlertDetailData{
		ActiveNav: "overview",
		Alert: AlertRow{
			Name:            a.Name(),
			Status:          a.Status().String(),
			SensorsPrealert: a.SensorsInPrealert(),
			SensorsAlert:    a.SensorsInAlert(),
		},
	}
	s.render(w, r, "alert_detail.html", data)
}
