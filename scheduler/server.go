package scheduler

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// WebServer provides the C10 control surface's HTTP endpoints: health,
// readiness, detailed status, a metrics scrape target, and a websocket feed
// that pushes every emitted tick status to connected dashboards.
type WebServer struct {
	scheduler *Scheduler
	server    *http.Server
	port      int
	startTime time.Time
	upgrader  websocket.Upgrader
	clients   sync.Map
	broadcast chan []byte
	statusCh  <-chan []TaskStatus
	done      chan struct{}
}

// HealthResponse is the /api/health response shape.
type HealthResponse struct {
	Status    string          `json:"status"`
	Timestamp string          `json:"timestamp"`
	Version   string          `json:"version,omitempty"`
	Scheduler SchedulerHealth `json:"scheduler"`
	System    SystemHealth    `json:"system"`
}

// SchedulerHealth reports the scheduler's own state.
type SchedulerHealth struct {
	IsRunning       bool `json:"is_running"`
	Paused          bool `json:"paused"`
	TasksRegistered int  `json:"tasks_registered"`
	WindowRecords   int  `json:"window_records"`
}

// SystemHealth reports process-level health.
type SystemHealth struct {
	Uptime string `json:"uptime"`
}

// NewWebServer builds a WebServer bound to scheduler, or nil if port <= 0
// (health server disabled).
func NewWebServer(scheduler *Scheduler, port int) *WebServer {
	if port <= 0 {
		return nil
	}

	mux := http.NewServeMux()
	hs := &WebServer{
		scheduler: scheduler,
		port:      port,
		startTime: time.Now(),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		broadcast: make(chan []byte, 256),
		statusCh:  scheduler.Subscribe(),
		done:      make(chan struct{}),
		server: &http.Server{
			Addr:         fmt.Sprintf(":%d", port),
			Handler:      mux,
			ReadTimeout:  10 * time.Second,
			WriteTimeout: 10 * time.Second,
			IdleTimeout:  60 * time.Second,
		},
	}

	mux.HandleFunc("/api/health", hs.healthHandler)
	mux.HandleFunc("/api/ready", hs.readinessHandler)
	mux.HandleFunc("/api/status", hs.statusHandler)
	mux.HandleFunc("/api/ws", hs.wsHandler)
	mux.Handle("/metrics", promhttp.Handler())

	fs := http.FileServer(http.Dir("./web/dist"))
	mux.Handle("/", fs)

	return hs
}

// Start starts the web server and its background goroutines.
func (hs *WebServer) Start() error {
	if hs == nil {
		return nil
	}

	go hs.handleBroadcasts()
	go hs.forwardStatus()

	go func() {
		if err := hs.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			fmt.Printf("web server error: %v\n", err)
		}
	}()

	return nil
}

// Stop gracefully stops the web server.
func (hs *WebServer) Stop(ctx context.Context) error {
	if hs == nil {
		return nil
	}

	close(hs.done)

	hs.clients.Range(func(key, value any) bool {
		if conn, ok := key.(*websocket.Conn); ok {
			conn.Close()
		}
		return true
	})

	return hs.server.Shutdown(ctx)
}

func (hs *WebServer) healthHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	health := hs.buildHealth()
	if !health.Scheduler.IsRunning {
		w.WriteHeader(http.StatusServiceUnavailable)
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(health); err != nil {
		http.Error(w, "Failed to encode response", http.StatusInternalServerError)
	}
}

func (hs *WebServer) readinessHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	running := hs.scheduler.IsRunning()
	ready := map[string]any{
		"ready":     running,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	}

	w.Header().Set("Content-Type", "application/json")
	if !running {
		w.WriteHeader(http.StatusServiceUnavailable)
	}
	if err := json.NewEncoder(w).Encode(ready); err != nil {
		http.Error(w, "Failed to encode response", http.StatusInternalServerError)
	}
}

func (hs *WebServer) statusHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	response := hs.buildStatusData()
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(response); err != nil {
		http.Error(w, "Failed to encode response", http.StatusInternalServerError)
	}
}

func (hs *WebServer) wsHandler(w http.ResponseWriter, r *http.Request) {
	conn, err := hs.upgrader.Upgrade(w, r, nil)
	if err != nil {
		fmt.Printf("websocket upgrade error: %v\n", err)
		return
	}

	hs.clients.Store(conn, true)
	if err := conn.WriteJSON(hs.buildStatusData()); err != nil {
		fmt.Printf("failed to send initial status: %v\n", err)
	}

	defer func() {
		hs.clients.Delete(conn)
		conn.Close()
	}()

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				fmt.Printf("websocket error: %v\n", err)
			}
			break
		}
	}
}

func (hs *WebServer) handleBroadcasts() {
	for {
		select {
		case message := <-hs.broadcast:
			hs.clients.Range(func(key, value any) bool {
				conn, ok := key.(*websocket.Conn)
				if !ok {
					return true
				}
				if err := conn.WriteMessage(websocket.TextMessage, message); err != nil {
					fmt.Printf("websocket write error: %v\n", err)
					conn.Close()
					hs.clients.Delete(conn)
				}
				return true
			})
		case <-hs.done:
			return
		}
	}
}

// forwardStatus relays every status batch the scheduler emits (spec.md
// §4.6 step 8) to connected websocket clients, rather than polling on a
// ticker: the tick itself is the event.
func (hs *WebServer) forwardStatus() {
	for {
		select {
		case statuses := <-hs.statusCh:
			message, err := json.Marshal(map[string]any{
				"type":    "status_update",
				"tasks":   statuses,
				"health":  hs.buildHealth(),
				"created": time.Now().UTC().Format(time.RFC3339),
			})
			if err != nil {
				fmt.Printf("failed to marshal status update: %v\n", err)
				continue
			}
			select {
			case hs.broadcast <- message:
			default:
			}
		case <-hs.done:
			return
		}
	}
}

func (hs *WebServer) buildHealth() HealthResponse {
	health := HealthResponse{
		Status:    "healthy",
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Version:   "1.0.0",
		Scheduler: SchedulerHealth{
			IsRunning:       hs.scheduler.IsRunning(),
			Paused:          hs.scheduler.IsPaused(),
			TasksRegistered: len(hs.scheduler.Tasks()),
			WindowRecords:   len(hs.scheduler.Snapshot()),
		},
		System: SystemHealth{Uptime: formatUptime(time.Since(hs.startTime))},
	}
	if !health.Scheduler.IsRunning {
		health.Status = "unhealthy"
	}
	return health
}

func (hs *WebServer) buildStatusData() map[string]any {
	return map[string]any{
		"health":    hs.buildHealth(),
		"tasks":     hs.scheduler.Tasks(),
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	}
}

func formatUptime(d time.Duration) string {
	d = d.Round(time.Second)
	h := d / time.Hour
	d -= h * time.Hour
	m := d / time.Minute
	d -= m * time.Minute
	s := d / time.Second

	if h > 0 {
		return fmt.Sprintf("%dh%dm%ds", h, m, s)
	}
	if m > 0 {
		return fmt.Sprintf("%dm%ds", m, s)
	}
	return fmt.Sprintf("%ds", s)
}
