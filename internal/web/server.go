// Package web provides the HTTP API and status page for the burner controller.
package web

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"

	"github.com/sweeney/burner-controller/internal/calibration"
	"github.com/sweeney/burner-controller/internal/history"
	"github.com/sweeney/burner-controller/internal/probe"
	"github.com/sweeney/burner-controller/internal/status"
)

// Core is what the server needs from the engine.
type Core interface {
	LatestReading() (probe.Reading, bool)
	History(maxPoints int) []history.Point
	Window(name string) ([]history.Point, bool)
	Status() status.Snapshot
	SetTargetTemperature(c float64) error
	ToggleRunning() bool
}

// LogSource returns recent log lines, oldest first.
type LogSource func() []string

const maxRequestBytes = 1 << 10

var errTargetFields = errors.New("exactly one of temp or temp_f is required")

// Server serves the status page, the JSON API and the live websocket.
type Server struct {
	httpServer *http.Server
	core       Core
	logs       LogSource
	period     time.Duration
	upgrader   websocket.Upgrader

	done      chan struct{}
	closeOnce sync.Once
}

// New creates a Server. period is how often websocket clients get a frame.
func New(addr string, core Core, logs LogSource, period time.Duration) *Server {
	if logs == nil {
		logs = func() []string { return nil }
	}
	if period <= 0 {
		period = time.Second
	}
	s := &Server{
		core:   core,
		logs:   logs,
		period: period,
		done:   make(chan struct{}),
	}

	r := mux.NewRouter()
	r.HandleFunc("/", s.handleIndex).Methods(http.MethodGet)
	r.HandleFunc("/index.html", s.handleIndex).Methods(http.MethodGet)
	r.HandleFunc("/index.json", s.handleJSON).Methods(http.MethodGet)
	r.HandleFunc("/status", s.handleStatus).Methods(http.MethodGet)
	r.HandleFunc("/temperatures", s.handleTemperatures).Methods(http.MethodGet)
	r.HandleFunc("/temperature_history", s.handleHistory).Methods(http.MethodGet)
	r.HandleFunc("/temperature_history/{window}", s.handleWindow).Methods(http.MethodGet)
	r.HandleFunc("/logs", s.handleLogs).Methods(http.MethodGet)
	r.HandleFunc("/ws", s.handleWS).Methods(http.MethodGet)
	r.HandleFunc("/set_target_temp", s.handleSetTarget).Methods(http.MethodPost)
	r.HandleFunc("/toggle_run_state", s.handleToggle).Methods(http.MethodPost)

	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s
}

// ListenAndServe starts listening. It blocks until the server is shut down.
func (s *Server) ListenAndServe() error {
	return s.httpServer.ListenAndServe()
}

// Serve accepts connections on the given listener. Useful for tests.
func (s *Server) Serve(ln net.Listener) error {
	return s.httpServer.Serve(ln)
}

// Shutdown closes websocket streams and gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.closeOnce.Do(func() { close(s.done) })
	return s.httpServer.Shutdown(ctx)
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	w.Write(data)
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	snap := s.core.Status()
	reading, ok := s.core.LatestReading()
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	renderHTML(w, snap, reading, ok)
}

func (s *Server) handleJSON(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.Write(status.FormatJSON(s.core.Status()))
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, status.Inner(s.core.Status()))
}

func (s *Server) handleTemperatures(w http.ResponseWriter, r *http.Request) {
	reading, ok := s.core.LatestReading()
	if !ok {
		writeJSON(w, http.StatusOK, struct{}{})
		return
	}
	writeJSON(w, http.StatusOK, readingJSON(reading))
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	maxPoints := 0
	if v := r.URL.Query().Get("max_points"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeJSON(w, http.StatusBadRequest, ResultJSON{Error: "max_points must be a non-negative integer"})
			return
		}
		maxPoints = n
	}
	writeJSON(w, http.StatusOK, historyJSON("", s.core.History(maxPoints)))
}

func (s *Server) handleWindow(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["window"]
	points, ok := s.core.Window(name)
	if !ok {
		writeJSON(w, http.StatusNotFound, ResultJSON{Error: fmt.Sprintf("unknown window %q", name)})
		return
	}
	writeJSON(w, http.StatusOK, historyJSON(name, points))
}

func (s *Server) handleLogs(w http.ResponseWriter, r *http.Request) {
	lines := s.logs()
	if lines == nil {
		lines = []string{}
	}
	writeJSON(w, http.StatusOK, LogsJSON{Lines: lines})
}

// targetCelsius validates the request and returns the target in Celsius.
func targetCelsius(req SetTargetRequest) (float64, error) {
	switch {
	case req.Temp != nil && req.TempF == nil:
		return *req.Temp, nil
	case req.TempF != nil && req.Temp == nil:
		if math.IsNaN(*req.TempF) || math.IsInf(*req.TempF, 0) {
			return 0, status.ErrInvalidTarget
		}
		return calibration.FahrenheitToCelsius(*req.TempF), nil
	}
	return 0, errTargetFields
}

func (s *Server) handleSetTarget(w http.ResponseWriter, r *http.Request) {
	var req SetTargetRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, ResultJSON{Error: fmt.Sprintf("invalid request body: %v", err)})
		return
	}

	c, err := targetCelsius(req)
	if err == nil {
		err = s.core.SetTargetTemperature(c)
	}
	if err != nil {
		writeJSON(w, http.StatusBadRequest, ResultJSON{Error: err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, ResultJSON{Success: true, TargetC: &c})
}

func (s *Server) handleToggle(w http.ResponseWriter, r *http.Request) {
	running := s.core.ToggleRunning()
	writeJSON(w, http.StatusOK, ResultJSON{Success: true, Running: &running})
}

func (s *Server) liveFrame() LiveJSON {
	frame := LiveJSON{Status: status.Inner(s.core.Status())}
	if reading, ok := s.core.LatestReading(); ok {
		rj := readingJSON(reading)
		frame.Reading = &rj
	}
	return frame
}

// handleWS streams a status frame once per period until the client goes
// away or the server shuts down.
func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Warn("web: websocket upgrade failed", "err", err)
		return
	}
	defer conn.Close()

	// Drain client frames so close and ping control messages are handled.
	gone := make(chan struct{})
	go func() {
		defer close(gone)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(s.period)
	defer ticker.Stop()

	for {
		conn.SetWriteDeadline(time.Now().Add(s.period))
		if err := conn.WriteJSON(s.liveFrame()); err != nil {
			return
		}
		select {
		case <-ticker.C:
		case <-gone:
			return
		case <-s.done:
			conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutting down"),
				time.Now().Add(time.Second))
			return
		}
	}
}
