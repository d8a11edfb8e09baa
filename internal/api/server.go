package api

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"
)

// RoomDirectory is the read-only view of the room table the API needs.
// Implemented by the room manager; kept as an interface so handlers can be
// tested against a stub.
type RoomDirectory interface {
	RoomExists(code string) bool
	Stats() (rooms, students int)
}

// HealthChecker reports storage health. Implemented by the history store.
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// Server is the non-realtime query surface: service info, health, and
// room existence checks. All endpoints are side-effect-free reads.
type Server struct {
	rooms   RoomDirectory
	history HealthChecker // nil when the event log is disabled
	router  *http.ServeMux
}

// NewServer wires the query endpoints.
func NewServer(rooms RoomDirectory, history HealthChecker) *Server {
	s := &Server{
		rooms:   rooms,
		history: history,
		router:  http.NewServeMux(),
	}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.router.Handle("/", s.corsMiddleware(s.jsonMiddleware(http.HandlerFunc(s.handleRoot))))
	s.router.Handle("/health", s.corsMiddleware(s.jsonMiddleware(http.HandlerFunc(s.handleHealth))))
	s.router.Handle("/room/", s.corsMiddleware(s.jsonMiddleware(http.HandlerFunc(s.handleRoomExists))))
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

type rootResponse struct {
	Message     string    `json:"message"`
	Status      string    `json:"status"`
	ActiveRooms int       `json:"active_rooms"`
	Timestamp   time.Time `json:"timestamp"`
}

type healthResponse struct {
	Status        string    `json:"status"`
	Rooms         int       `json:"rooms"`
	TotalStudents int       `json:"total_students"`
	History       string    `json:"history"`
	Timestamp     time.Time `json:"timestamp"`
}

type roomExistsResponse struct {
	Exists    bool      `json:"exists"`
	RoomID    string    `json:"room_id"`
	Timestamp time.Time `json:"timestamp"`
}

type errorResponse struct {
	Error   string `json:"error"`
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		s.sendError(w, "Not found", http.StatusNotFound)
		return
	}
	if r.Method != http.MethodGet {
		s.sendError(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	rooms, _ := s.rooms.Stats()
	writeJSON(w, http.StatusOK, rootResponse{
		Message:     "Live classroom feedback service",
		Status:      "running",
		ActiveRooms: rooms,
		Timestamp:   time.Now(),
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.sendError(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	status := "healthy"
	historyStatus := "disabled"
	if s.history != nil {
		historyStatus = "healthy"
		if err := s.history.HealthCheck(ctx); err != nil {
			status = "unhealthy"
			historyStatus = "error: " + err.Error()
		}
	}

	rooms, students := s.rooms.Stats()
	code := http.StatusOK
	if status == "unhealthy" {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, healthResponse{
		Status:        status,
		Rooms:         rooms,
		TotalStudents: students,
		History:       historyStatus,
		Timestamp:     time.Now(),
	})
}

// handleRoomExists serves GET /room/{code}/exists.
func (s *Server) handleRoomExists(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.sendError(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	parts := strings.Split(strings.Trim(strings.TrimPrefix(r.URL.Path, "/room/"), "/"), "/")
	if len(parts) != 2 || parts[0] == "" || parts[1] != "exists" {
		s.sendError(w, "Expected /room/{room_code}/exists", http.StatusBadRequest)
		return
	}
	code := parts[0]
	writeJSON(w, http.StatusOK, roomExistsResponse{
		Exists:    s.rooms.RoomExists(code),
		RoomID:    code,
		Timestamp: time.Now(),
	})
}

func (s *Server) sendError(w http.ResponseWriter, message string, code int) {
	writeJSON(w, code, errorResponse{
		Error:   http.StatusText(code),
		Code:    code,
		Message: message,
	})
}

func writeJSON(w http.ResponseWriter, code int, v interface{}) {
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		w.Header().Set("Access-Control-Max-Age", "86400")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) jsonMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		next.ServeHTTP(w, r)
	})
}
