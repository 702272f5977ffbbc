package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/wricardo/mcp-training/chatroom/chat/message"
	"github.com/wricardo/mcp-training/chatroom/chat/registry"
	"github.com/wricardo/mcp-training/chatroom/chat/room"
	"github.com/wricardo/mcp-training/chatroom/logging"
)

// DefaultHistoryLimit is used when /api/history has no limit parameter.
const DefaultHistoryLimit = 50

// Room is the part of the chat room exposed over REST.
type Room interface {
	Status() room.Status
	Participants() []registry.Participant
	Announce(ctx context.Context, body string) (int, error)
	History(ctx context.Context, limit int) ([]message.ChatMessage, error)
	HistorySize() int
}

var _ Room = (*room.Room)(nil)

// Handlers are the non-REST endpoints mounted next to the API. Nil handlers
// are not routed.
type Handlers struct {
	WebSocket http.Handler
	Echo      http.Handler
	Metrics   http.Handler
	MCP       http.Handler
}

// Server represents the REST API server
type Server struct {
	room     Room
	handlers Handlers
	router   *mux.Router
	logger   *zap.Logger
}

// NewServer creates a new API server
func NewServer(rm Room, handlers Handlers, logger *zap.Logger) *Server {
	s := &Server{
		room:     rm,
		handlers: handlers,
		router:   mux.NewRouter(),
		logger:   logging.OrNop(logger),
	}

	s.setupRoutes()
	return s
}

// setupRoutes configures all API routes
func (s *Server) setupRoutes() {
	s.router.MethodNotAllowedHandler = http.HandlerFunc(methodNotAllowed)

	api := s.router.PathPrefix("/api").Subrouter()
	api.MethodNotAllowedHandler = http.HandlerFunc(methodNotAllowed)
	api.Use(s.logRequests)

	api.HandleFunc("/status", s.handleStatus).Methods("GET")
	api.HandleFunc("/participants", s.handleParticipants).Methods("GET")
	api.HandleFunc("/broadcast", s.handleBroadcast).Methods("POST")
	api.HandleFunc("/history", s.handleHistory).Methods("GET")
	api.HandleFunc("/health", s.handleHealth).Methods("GET")

	if s.handlers.WebSocket != nil {
		s.router.Handle("/ws", s.handlers.WebSocket)
	}
	if s.handlers.Echo != nil {
		s.router.Handle("/ws/echo", s.handlers.Echo)
	}
	if s.handlers.Metrics != nil {
		s.router.Handle("/metrics", s.handlers.Metrics).Methods("GET")
	}
	if s.handlers.MCP != nil {
		s.router.Handle("/mcp", s.handlers.MCP).Methods("POST")
	}
}

// ServeHTTP implements http.Handler
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		s.logger.Debug("api request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Duration("duration", time.Since(start)))
	})
}

// Response helpers
func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}

func methodNotAllowed(w http.ResponseWriter, r *http.Request) {
	respondError(w, http.StatusMethodNotAllowed, "Method not allowed")
}

// StatusResponse is returned by GET /api/status.
type StatusResponse struct {
	ActiveUsers       int       `json:"active_users"`
	Users             []string  `json:"users"`
	WebSocketEndpoint string    `json:"websocket_endpoint"`
	Features          []string  `json:"features"`
	StartedAt         time.Time `json:"started_at"`
}

var features = []string{
	"real-time broadcast",
	"join and leave notices",
	"nicknames via /nick",
	"help via /help",
	"dead peer pruning",
	"message history",
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	status := s.room.Status()

	respondJSON(w, http.StatusOK, StatusResponse{
		ActiveUsers:       status.ActiveUsers,
		Users:             status.Users,
		WebSocketEndpoint: "/ws",
		Features:          features,
		StartedAt:         status.StartedAt,
	})
}

func (s *Server) handleParticipants(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, s.room.Participants())
}

func (s *Server) handleBroadcast(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Message string `json:"message"`
	}

	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	delivered, err := s.room.Announce(r.Context(), req.Message)
	if err != nil {
		if errors.Is(err, room.ErrEmptyAnnouncement) {
			respondError(w, http.StatusBadRequest, "Message is required")
			return
		}
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	s.logger.Info("announcement sent", zap.Int("delivered", delivered))
	respondJSON(w, http.StatusOK, map[string]int{"delivered": delivered})
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	limit := DefaultHistoryLimit
	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		l, err := strconv.Atoi(limitStr)
		if err != nil || l <= 0 {
			respondError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = l
	}
	if size := s.room.HistorySize(); size > 0 && limit > size {
		limit = size
	}

	messages, err := s.room.History(r.Context(), limit)
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"count":    len(messages),
		"messages": messages,
	})
}

// Health check
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{
		"status": "healthy",
	})
}
