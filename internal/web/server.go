// Package web provides the read-only operational dashboard: current
// mode, each alert's status and sensor membership, and a live tail of
// the operational event bus. It never exposes a write or control
// action; LKD remains the sole control plane.
package web

import (
	"html/template"
	"log/slog"
	"net/http"

	"github.com/2franix/hwsupervisor/internal/alert"
	"github.com/2franix/hwsupervisor/internal/events"
	"github.com/2franix/hwsupervisor/internal/sensor"
	"github.com/gorilla/websocket"
)

// Engine is the narrow slice of engine.Engine the dashboard reads.
// Defined here, at point of use, so this package never imports
// internal/engine and the two stay free to evolve independently.
type Engine interface {
	CurrentMode() string
	AlertNames() []string
	Alert(name string) (*alert.Alert, bool)
	SensorNames() []string
	Sensor(name string) (*sensor.Sensor, bool)
}

// Server renders the dashboard and streams the operational event feed.
type Server struct {
	mux       *http.ServeMux
	engine    Engine
	bus       *events.Bus
	logger    *slog.Logger
	templates map[string]*template.Template
	upgrader  websocket.Upgrader
}

// NewServer builds a Server and registers its routes. bus may be nil,
// in which case the live feed endpoint responds 503 instead of
// upgrading (events.Bus's nil-safe Publish has no matching guarantee
// for Subscribe, which needs a real instance to register against).
func NewServer(eng Engine, bus *events.Bus, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		mux:       http.NewServeMux(),
		engine:    eng,
		bus:       bus,
		logger:    logger,
		templates: loadTemplates(),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// Dashboard is read-only LAN tooling; no cross-origin
			// credential exposure to guard against.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
	s.mux.HandleFunc("/", s.handleDashboard)
	s.mux.HandleFunc("/alerts/", s.handleAlertDetail)
	s.mux.HandleFunc("/feed", s.handleFeed)
	s.mux.HandleFunc("/healthz", s.handleHealthz)
	return s
}

// Handler returns the dashboard's http.Handler for mounting into a
// larger mux or serving directly.
func (s *Server) Handler() http.Handler { return s.mux }

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ok"))
}
