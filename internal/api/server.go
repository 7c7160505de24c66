package api

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/samber/lo"
	"go.uber.org/zap"

	"github.com/EdenLuski/back/pkg/types"
)

// RoomLister is the read-only slice of the store the API needs.
type RoomLister interface {
	List(ctx context.Context) ([]*types.Room, error)
}

// ConnectionStats reports gateway counters for the health endpoint.
type ConnectionStats interface {
	Stats() map[string]int
}

// Server exposes the read-only HTTP surface: the code block listing and a
// health check. No mutation happens over HTTP; all writes go through the
// WebSocket gateway.
type Server struct {
	rooms  RoomLister
	stats  ConnectionStats
	logger *zap.Logger
	router *mux.Router
}

// codeBlockResponse is the listing wire shape, kept explicit so store
// document changes cannot silently leak into the public API.
type codeBlockResponse struct {
	ID           string   `json:"id"`
	Name         string   `json:"name"`
	Code         string   `json:"code"`
	Solution     string   `json:"solution"`
	Participants []string `json:"participants"`
	Mentor       string   `json:"mentor"`
}

// NewServer creates the API server and wires its routes.
func NewServer(rooms RoomLister, stats ConnectionStats, logger *zap.Logger) *Server {
	s := &Server{
		rooms:  rooms,
		stats:  stats,
		logger: logger,
		router: mux.NewRouter(),
	}

	s.router.Use(s.corsMiddleware, s.jsonMiddleware)
	s.router.HandleFunc("/api/codeblocks", s.listCodeBlocks).Methods(http.MethodGet, http.MethodOptions)
	s.router.HandleFunc("/health", s.healthCheck).Methods(http.MethodGet, http.MethodOptions)

	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) listCodeBlocks(w http.ResponseWriter, r *http.Request) {
	rooms, err := s.rooms.List(r.Context())
	if err != nil {
		s.logger.Error("failed to list code blocks", zap.Error(err))
		s.sendError(w, "failed to list code blocks", http.StatusInternalServerError)
		return
	}

	response := lo.Map(rooms, func(room *types.Room, _ int) codeBlockResponse {
		return codeBlockResponse{
			ID:           room.ID,
			Name:         room.Name,
			Code:         room.Code,
			Solution:     room.Solution,
			Participants: append([]string{}, room.Participants...),
			Mentor:       room.MentorID,
		}
	})

	s.sendJSON(w, http.StatusOK, response)
}

func (s *Server) healthCheck(w http.ResponseWriter, r *http.Request) {
	s.sendJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"gateway": s.stats.Stats(),
	})
}

func (s *Server) sendJSON(w http.ResponseWriter, status int, v any) {
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("failed to encode response", zap.Error(err))
	}
}

func (s *Server) sendError(w http.ResponseWriter, msg string, status int) {
	s.sendJSON(w, status, map[string]string{"error": msg})
}

func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")

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
