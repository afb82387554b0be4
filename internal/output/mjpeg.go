package output

import (
	"bytes"
	"fmt"
	"image"
	"image/jpeg"
	"net/http"
	"sync"
	"time"

	"github.com/bryanchriswhite/ScanStreamer/internal/logger"
)

// MJPEGOutput streams preview frames as Motion JPEG over HTTP so the
// scanner can be watched and operated from a browser tab
type MJPEGOutput struct {
	quality int
	running bool
	mu      sync.RWMutex

	// Negotiated preview, set on Bind
	geometry Geometry
	bound    bool

	// Latest encoded frame
	frameMu    sync.RWMutex
	lastJPEG   []byte
	lastUpdate time.Time

	// Connected clients
	clientsMu sync.RWMutex
	clients   map[chan []byte]struct{}

	// Stats
	frameCount uint64
	startTime  time.Time
}

// NewMJPEGOutput creates a new MJPEG stream output
func NewMJPEGOutput(quality int) *MJPEGOutput {
	if quality < 1 || quality > 100 {
		quality = 80
	}
	return &MJPEGOutput{
		quality: quality,
		clients: make(map[chan []byte]struct{}),
	}
}

// Start initializes the MJPEG output.
// The HTTP handlers are mounted separately by the API server.
func (m *MJPEGOutput) Start() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.running {
		return fmt.Errorf("MJPEG output already running")
	}

	m.running = true
	m.startTime = time.Now()
	m.frameCount = 0

	logger.WithComponent("mjpeg").Info().Int("quality", m.quality).Msg("Output started")
	return nil
}

// Stop cleanly shuts down the output and disconnects every client
func (m *MJPEGOutput) Stop() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.running {
		return nil
	}
	m.running = false

	m.clientsMu.Lock()
	for ch := range m.clients {
		close(ch)
	}
	m.clients = make(map[chan []byte]struct{})
	m.clientsMu.Unlock()

	logger.WithComponent("mjpeg").Info().Uint64("frames", m.frameCount).Msg("Output stopped")
	return nil
}

// Bind implements PreviewSurface. The stream adopts the negotiated preview.
func (m *MJPEGOutput) Bind(geometry Geometry) error {
	if geometry.Width <= 0 || geometry.Height <= 0 {
		return fmt.Errorf("invalid preview size %dx%d", geometry.Width, geometry.Height)
	}
	if !m.IsRunning() {
		return fmt.Errorf("MJPEG output not running")
	}

	m.mu.Lock()
	m.geometry = geometry
	m.bound = true
	m.mu.Unlock()

	w, h := geometry.Upright()
	logger.WithComponent("mjpeg").Info().
		Int("width", w).
		Int("height", h).
		Float64("fps", geometry.FPS).
		Msg("Preview bound")
	return nil
}

// WriteFrame encodes a frame and sends it to all connected clients.
// Slow clients skip frames rather than delay the others.
func (m *MJPEGOutput) WriteFrame(frame *image.RGBA) error {
	if !m.IsRunning() {
		return fmt.Errorf("MJPEG output not running")
	}

	buf := new(bytes.Buffer)
	if err := jpeg.Encode(buf, frame, &jpeg.Options{Quality: m.quality}); err != nil {
		return fmt.Errorf("failed to encode JPEG: %w", err)
	}
	jpegData := buf.Bytes()

	m.frameMu.Lock()
	m.lastJPEG = jpegData
	m.lastUpdate = time.Now()
	m.frameMu.Unlock()

	m.mu.Lock()
	m.frameCount++
	m.mu.Unlock()

	m.clientsMu.RLock()
	for ch := range m.clients {
		select {
		case ch <- jpegData:
		default:
		}
	}
	m.clientsMu.RUnlock()

	return nil
}

// Name returns the output type name
func (m *MJPEGOutput) Name() string {
	return "MJPEG HTTP Stream"
}

// IsRunning returns true if the output is active
func (m *MJPEGOutput) IsRunning() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.running
}

// ClientCount returns the number of connected stream clients
func (m *MJPEGOutput) ClientCount() int {
	m.clientsMu.RLock()
	defer m.clientsMu.RUnlock()
	return len(m.clients)
}

// GetHTTPHandler returns an http.Handler for the MJPEG stream
func (m *MJPEGOutput) GetHTTPHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !m.IsRunning() {
			http.Error(w, "stream not running", http.StatusServiceUnavailable)
			return
		}

		w.Header().Set("Content-Type", "multipart/x-mixed-replace; boundary=frame")
		w.Header().Set("Cache-Control", "no-cache, no-store, must-revalidate")
		w.Header().Set("Pragma", "no-cache")
		w.Header().Set("Expires", "0")
		w.Header().Set("Connection", "close")

		frameChan := make(chan []byte, 2)

		m.clientsMu.Lock()
		m.clients[frameChan] = struct{}{}
		clientCount := len(m.clients)
		m.clientsMu.Unlock()

		log := logger.WithComponent("mjpeg")
		log.Info().Int("clients", clientCount).Str("remote", r.RemoteAddr).Msg("Client connected")

		defer func() {
			m.clientsMu.Lock()
			delete(m.clients, frameChan)
			clientCount := len(m.clients)
			m.clientsMu.Unlock()
			log.Info().Int("clients", clientCount).Msg("Client disconnected")
		}()

		for {
			var jpegData []byte
			select {
			case <-r.Context().Done():
				return
			case data, ok := <-frameChan:
				if !ok {
					return
				}
				jpegData = data
			}

			if _, err := fmt.Fprintf(w, "--frame\r\nContent-Type: image/jpeg\r\nContent-Length: %d\r\n\r\n", len(jpegData)); err != nil {
				return
			}
			if _, err := w.Write(jpegData); err != nil {
				return
			}
			if _, err := fmt.Fprintf(w, "\r\n"); err != nil {
				return
			}
			if f, ok := w.(http.Flusher); ok {
				f.Flush()
			}
		}
	}
}

// GetSnapshotHandler serves the most recent frame as a single JPEG
func (m *MJPEGOutput) GetSnapshotHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		m.frameMu.RLock()
		data := m.lastJPEG
		m.frameMu.RUnlock()

		if data == nil {
			http.Error(w, "no frame available", http.StatusServiceUnavailable)
			return
		}
		w.Header().Set("Content-Type", "image/jpeg")
		w.Header().Set("Cache-Control", "no-cache")
		w.Write(data)
	}
}

// GetViewerHandler returns the scanner page: the live stream, click to
// select a code, zoom buttons and the selected result
func (m *MJPEGOutput) GetViewerHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.Write([]byte(viewerHTML))
	}
}

const viewerHTML = `<!DOCTYPE html>
<html lang="en">
<head>
    <meta charset="UTF-8">
    <meta name="viewport" content="width=device-width, initial-scale=1.0">
    <title>ScanStreamer</title>
    <style>
        * { margin: 0; padding: 0; box-sizing: border-box; }
        body {
            background: #000;
            overflow: hidden;
            display: flex;
            justify-content: center;
            align-items: center;
            min-height: 100vh;
            font-family: system-ui, -apple-system, sans-serif;
        }
        img {
            width: 100vw;
            height: 100vh;
            object-fit: contain;
            display: block;
            cursor: crosshair;
        }
        .controls {
            position: fixed;
            bottom: 16px;
            left: 16px;
            display: flex;
            gap: 8px;
            z-index: 1000;
        }
        .btn {
            padding: 8px 14px;
            background: rgba(40, 40, 40, 0.9);
            color: #ccc;
            border: none;
            border-radius: 20px;
            font-size: 13px;
            cursor: pointer;
        }
        .btn:hover { background: rgba(60, 60, 60, 0.95); color: #fff; }
        .result {
            position: fixed;
            top: 16px;
            left: 50%;
            transform: translateX(-50%);
            padding: 10px 16px;
            background: rgba(0, 120, 0, 0.9);
            color: #fff;
            border-radius: 8px;
            display: none;
            max-width: 90vw;
            word-break: break-all;
        }
    </style>
</head>
<body>
    <img id="stream" src="/stream" alt="ScanStreamer preview">
    <div class="result" id="result"></div>
    <div class="controls">
        <button class="btn" onclick="post('/api/camera/start')">Start</button>
        <button class="btn" onclick="post('/api/camera/stop')">Stop</button>
        <button class="btn" onclick="zoom(2)">Zoom +</button>
        <button class="btn" onclick="zoom(0.5)">Zoom -</button>
        <a class="btn" href="/stats">Stats</a>
    </div>
    <script>
        const img = document.getElementById('stream');
        const result = document.getElementById('result');

        function post(url, body) {
            return fetch(url, {
                method: 'POST',
                headers: { 'Content-Type': 'application/json' },
                body: body ? JSON.stringify(body) : undefined
            }).then(r => r.json());
        }

        function zoom(scale) {
            post('/api/camera/zoom', { scale: scale }).catch(console.error);
        }

        function show(detection) {
            result.textContent = detection.raw_value;
            result.style.display = 'block';
        }

        // map a click on the letterboxed image to frame pixels
        img.addEventListener('click', e => {
            const rect = img.getBoundingClientRect();
            const scale = Math.min(rect.width / img.naturalWidth, rect.height / img.naturalHeight);
            const offX = (rect.width - img.naturalWidth * scale) / 2;
            const offY = (rect.height - img.naturalHeight * scale) / 2;
            const x = Math.round((e.clientX - rect.left - offX) / scale);
            const y = Math.round((e.clientY - rect.top - offY) / scale);
            post('/api/tap', { x: x, y: y })
                .then(data => { if (data.selected) show(data.detection); })
                .catch(console.error);
        });

        const ws = new WebSocket((location.protocol === 'https:' ? 'wss://' : 'ws://') + location.host + '/api/detections/stream');
        ws.onmessage = msg => {
            const ev = JSON.parse(msg.data);
            if (ev.type === 'selected') show(ev.detection);
        };
    </script>
</body>
</html>`

// GetStatsHandler returns an HTTP handler that shows stream statistics
func (m *MJPEGOutput) GetStatsHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		m.mu.RLock()
		running := m.running
		frameCount := m.frameCount
		startTime := m.startTime
		geometry := m.geometry
		bound := m.bound
		m.mu.RUnlock()

		m.frameMu.RLock()
		lastUpdate := m.lastUpdate
		m.frameMu.RUnlock()

		var fps float64
		if running && !startTime.IsZero() {
			if elapsed := time.Since(startTime).Seconds(); elapsed > 0 {
				fps = float64(frameCount) / elapsed
			}
		}

		status, statusClass := "Stopped", "status-stopped"
		if running {
			status, statusClass = "Running", "status-running"
		}
		resolution := "not bound"
		if bound {
			pw, ph := geometry.Upright()
			resolution = fmt.Sprintf("%dx%d @ %.1f FPS (%s camera)", pw, ph, geometry.FPS, geometry.Facing)
		}
		updated := "Never"
		if !lastUpdate.IsZero() {
			updated = time.Since(lastUpdate).Round(time.Millisecond).String() + " ago"
		}
		uptime := "N/A"
		if !startTime.IsZero() {
			uptime = time.Since(startTime).Round(time.Second).String()
		}

		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		fmt.Fprintf(w, `<!DOCTYPE html>
<html>
<head>
    <title>ScanStreamer - Stream Stats</title>
    <style>
        body { font-family: monospace; padding: 20px; background: #1e1e1e; color: #d4d4d4; }
        .stat { margin: 10px 0; }
        .label { color: #569cd6; }
        .value { color: #4ec9b0; }
        .status-running { color: #4ec9b0; }
        .status-stopped { color: #ce9178; }
    </style>
</head>
<body>
    <h1>ScanStreamer Stream Stats</h1>
    <div class="stat"><span class="label">Status:</span> <span class="value %s">%s</span></div>
    <div class="stat"><span class="label">Preview:</span> <span class="value">%s</span></div>
    <div class="stat"><span class="label">Actual FPS:</span> <span class="value">%.2f</span></div>
    <div class="stat"><span class="label">Total Frames:</span> <span class="value">%d</span></div>
    <div class="stat"><span class="label">Connected Clients:</span> <span class="value">%d</span></div>
    <div class="stat"><span class="label">Last Update:</span> <span class="value">%s</span></div>
    <div class="stat"><span class="label">Uptime:</span> <span class="value">%s</span></div>
    <p><a href="/" style="color: #569cd6;">Scanner</a></p>
</body>
</html>`,
			statusClass, status, resolution, fps, frameCount, m.ClientCount(), updated, uptime)
	}
}
