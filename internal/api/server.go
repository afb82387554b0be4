package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"

	"github.com/bryanchriswhite/ScanStreamer/internal/config"
	"github.com/bryanchriswhite/ScanStreamer/internal/display"
	"github.com/bryanchriswhite/ScanStreamer/internal/logger"
	"github.com/bryanchriswhite/ScanStreamer/internal/output"
	"github.com/bryanchriswhite/ScanStreamer/internal/scanner"
	"github.com/bryanchriswhite/ScanStreamer/internal/vision"
)

// Version is reported by the health endpoint
const Version = "0.1.0"

// maxResultWait bounds how long GET /api/result may block
const maxResultWait = time.Minute

// Scanner is the session the API controls
type Scanner interface {
	Start() error
	Stop()
	Zoom(scale float64) (int, error)
	Tap(x, y int) (vision.Detection, bool, error)
	Result(ctx context.Context) (vision.Detection, error)
	CurrentResult() (vision.Detection, bool)
	Detections() []vision.Detection
	Subscribe() (<-chan scanner.Event, func())
	Status() scanner.Status
}

// Server represents the HTTP API server
type Server struct {
	router     *mux.Router
	scanner    Scanner
	configMgr  *config.Manager
	stream     *output.MJPEGOutput
	displayMgr *display.Manager
	upgrader   websocket.Upgrader
	httpServer *http.Server
}

// NewServer creates a new API server. stream and displayMgr may be nil.
func NewServer(sc Scanner, configMgr *config.Manager, stream *output.MJPEGOutput, displayMgr *display.Manager) *Server {
	s := &Server{
		router:     mux.NewRouter(),
		scanner:    sc,
		configMgr:  configMgr,
		stream:     stream,
		displayMgr: displayMgr,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
	}

	s.setupRoutes()
	return s
}

// setupRoutes configures the API routes
func (s *Server) setupRoutes() {
	api := s.router.PathPrefix("/api").Subrouter()

	// Camera lifecycle
	api.HandleFunc("/status", s.handleStatus).Methods("GET")
	api.HandleFunc("/camera/start", s.handleStart).Methods("POST")
	api.HandleFunc("/camera/stop", s.handleStop).Methods("POST")
	api.HandleFunc("/camera/zoom", s.handleZoom).Methods("POST")

	// Detections and selection
	api.HandleFunc("/detections", s.handleDetections).Methods("GET")
	api.HandleFunc("/detections/stream", s.handleDetectionStream)
	api.HandleFunc("/tap", s.handleTap).Methods("POST")
	api.HandleFunc("/result", s.handleResult).Methods("GET")

	// Configuration
	api.HandleFunc("/config", s.handleGetConfig).Methods("GET")
	api.HandleFunc("/config", s.handleUpdateConfig).Methods("PUT")

	api.HandleFunc("/display/status", s.handleDisplayStatus).Methods("GET")
	api.HandleFunc("/health", s.handleHealth).Methods("GET")

	if s.stream != nil {
		s.router.HandleFunc("/stream", s.stream.GetHTTPHandler()).Methods("GET")
		s.router.HandleFunc("/snapshot", s.stream.GetSnapshotHandler()).Methods("GET")
		s.router.HandleFunc("/stats", s.stream.GetStatsHandler()).Methods("GET")
		s.router.HandleFunc("/", s.stream.GetViewerHandler()).Methods("GET")
	} else {
		s.router.HandleFunc("/", s.handleIndex).Methods("GET")
	}
}

// Handler returns the router wrapped with CORS headers
func (s *Server) Handler() http.Handler {
	return s.enableCORS(s.router)
}

// Start serves HTTP on port until Shutdown is called
func (s *Server) Start(port int) error {
	addr := fmt.Sprintf(":%d", port)
	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	logger.WithComponent("api").Info().
		Str("addr", addr).
		Msgf("Starting server on http://localhost%s", addr)

	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops the server, waiting for requests up to the context deadline
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}

// enableCORS adds CORS headers
func (s *Server) enableCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

// statusFor maps a scanner error to an HTTP status
func statusFor(err error) int {
	switch {
	case errors.Is(err, scanner.ErrNotStarted):
		return http.StatusConflict
	case errors.Is(err, scanner.ErrReleased):
		return http.StatusGone
	default:
		return http.StatusInternalServerError
	}
}

// HTTP Handlers

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.scanner.Status())
}

func (s *Server) handleStart(w http.ResponseWriter, r *http.Request) {
	if err := s.scanner.Start(); err != nil {
		logger.WithComponent("api").Warn().Err(err).Msg("Camera start failed")
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, s.scanner.Status())
}

func (s *Server) handleStop(w http.ResponseWriter, r *http.Request) {
	s.scanner.Stop()
	writeJSON(w, http.StatusOK, map[string]string{"status": "stopped"})
}

func (s *Server) handleZoom(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Scale float64 `json:"scale"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if req.Scale <= 0 {
		writeError(w, http.StatusBadRequest, fmt.Errorf("scale must be positive, got %v", req.Scale))
		return
	}

	level, err := s.scanner.Zoom(req.Scale)
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"zoom": level})
}

func (s *Server) handleDetections(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.scanner.Detections())
}

func (s *Server) handleTap(w http.ResponseWriter, r *http.Request) {
	var req struct {
		X *int `json:"x"`
		Y *int `json:"y"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if req.X == nil || req.Y == nil {
		writeError(w, http.StatusBadRequest, errors.New("x and y are required"))
		return
	}

	d, ok, err := s.scanner.Tap(*req.X, *req.Y)
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}

	resp := struct {
		Selected  bool              `json:"selected"`
		Detection *vision.Detection `json:"detection,omitempty"`
	}{Selected: ok}
	if ok {
		resp.Detection = &d
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleResult returns the selected barcode. With ?wait=<duration> it
// blocks until one is selected or the wait expires.
func (s *Server) handleResult(w http.ResponseWriter, r *http.Request) {
	if d, ok := s.scanner.CurrentResult(); ok {
		writeJSON(w, http.StatusOK, d)
		return
	}

	waitParam := r.URL.Query().Get("wait")
	if waitParam == "" {
		writeError(w, http.StatusNotFound, errors.New("no barcode selected"))
		return
	}
	wait, err := time.ParseDuration(waitParam)
	if err != nil || wait <= 0 {
		writeError(w, http.StatusBadRequest, fmt.Errorf("invalid wait %q", waitParam))
		return
	}
	if wait > maxResultWait {
		wait = maxResultWait
	}

	ctx, cancel := context.WithTimeout(r.Context(), wait)
	defer cancel()
	d, err := s.scanner.Result(ctx)
	if err != nil {
		writeError(w, http.StatusNotFound, errors.New("no barcode selected"))
		return
	}
	writeJSON(w, http.StatusOK, d)
}

// handleDetectionStream pushes scanner events to a websocket client
func (s *Server) handleDetectionStream(w http.ResponseWriter, r *http.Request) {
	log := logger.WithComponent("api")

	// subscribe first so no event is missed between handshake and stream
	events, cancel := s.scanner.Subscribe()
	defer cancel()

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warn().Err(err).Msg("WebSocket upgrade error")
		return
	}
	defer conn.Close()

	clientID := uuid.New().String()
	log.Info().Str("client", clientID).Str("remote", r.RemoteAddr).Msg("Event stream client connected")
	defer log.Info().Str("client", clientID).Msg("Event stream client disconnected")

	// the client never sends; reading detects the close
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	if d, ok := s.scanner.CurrentResult(); ok {
		ev := scanner.Event{Type: scanner.EventSelected, TrackingID: d.TrackingID, Detection: &d, Time: time.Now()}
		if err := conn.WriteJSON(ev); err != nil {
			return
		}
	}

	for {
		select {
		case <-closed:
			return
		case ev, ok := <-events:
			if !ok {
				conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, "session released"))
				return
			}
			if err := conn.WriteJSON(ev); err != nil {
				log.Debug().Err(err).Str("client", clientID).Msg("WebSocket write error")
				return
			}
		}
	}
}

func (s *Server) handleGetConfig(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.configMgr.Get())
}

// handleUpdateConfig persists a new configuration. Camera settings take
// effect on the next serve.
func (s *Server) handleUpdateConfig(w http.ResponseWriter, r *http.Request) {
	var cfg config.Config
	if err := json.NewDecoder(r.Body).Decode(&cfg); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	if err := s.configMgr.Update(&cfg); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "success"})
}

func (s *Server) handleDisplayStatus(w http.ResponseWriter, r *http.Request) {
	status := map[string]interface{}{
		"enabled":   false,
		"running":   false,
		"window_id": 0,
	}

	if s.displayMgr != nil {
		status["enabled"] = true
		status["running"] = s.displayMgr.IsRunning()
		status["window_id"] = s.displayMgr.GetWindowID()
	}
	writeJSON(w, http.StatusOK, status)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status":  "healthy",
		"version": Version,
	})
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Write([]byte(indexHTML))
}

const indexHTML = `<!DOCTYPE html>
<html lang="en">
<head>
    <meta charset="UTF-8">
    <title>ScanStreamer</title>
    <style>
        body { font-family: system-ui, sans-serif; max-width: 800px; margin: 50px auto; padding: 20px; }
        code { background: #f5f5f5; padding: 2px 6px; border-radius: 3px; }
    </style>
</head>
<body>
    <h1>ScanStreamer</h1>
    <p>The preview stream is disabled. The scanner is controlled through the API:</p>
    <ul>
        <li><a href="/api/health">/api/health</a></li>
        <li><a href="/api/status">/api/status</a></li>
        <li><a href="/api/detections">/api/detections</a></li>
        <li><a href="/api/result">/api/result</a></li>
        <li><a href="/api/config">/api/config</a></li>
    </ul>
    <p>Start the camera with <code>curl -X POST localhost:8080/api/camera/start</code>.</p>
</body>
</html>`
