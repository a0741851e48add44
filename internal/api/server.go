// Package api exposes the HTTP control surface: run triggering and
// status, plus read access to the crawled team, player and
// visualization data.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/performa-app/courtside/internal/crawler"
	"github.com/performa-app/courtside/internal/metrics"
)

// Server wires the HTTP handlers to the runner and the slot store.
type Server struct {
	router  chi.Router
	runner  *crawler.Runner
	store   crawler.Store
	version string
	log     *slog.Logger
}

// NewServer constructs the server with its middleware and routes.
func NewServer(runner *crawler.Runner, store crawler.Store, version string, log *slog.Logger) *Server {
	s := &Server{
		runner:  runner,
		store:   store,
		version: version,
		log:     log.With("component", "api"),
	}

	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoverMiddleware)

	r.Get("/", s.root)
	r.Get("/healthz", s.healthz)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	r.Post("/scrape", s.triggerScrape)
	r.Get("/status", s.status)
	r.Get("/teams", s.listTeams)
	r.Get("/teams/{team_id}", s.getTeam)
	r.Get("/players", s.listPlayers)
	r.Get("/players/{player_id}", s.getPlayer)
	r.Get("/visualization", s.visualization)

	s.router = r
	return s
}

// Handler returns the router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) root(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"message": "Courtside NBA Stats API",
		"version": s.version,
	})
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// triggerScrape launches a crawl in the background. The run outlives
// the request, so its context drops the request's cancellation.
func (s *Server) triggerScrape(w http.ResponseWriter, r *http.Request) {
	runID, err := s.runner.Start(context.WithoutCancel(r.Context()))
	if err != nil {
		if errors.Is(err, crawler.ErrRunActive) {
			writeError(w, http.StatusConflict, err.Error())
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]string{
		"message": "Scraper started",
		"run_id":  runID,
	})
}

func (s *Server) status(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.runner.Status())
}

func (s *Server) listTeams(w http.ResponseWriter, _ *http.Request) {
	payload, err := s.store.GetSlot("teams")
	if err != nil {
		if errors.Is(err, crawler.ErrSlotNotFound) {
			writeJSON(w, http.StatusOK, map[string]any{"teams": []any{}})
			return
		}
		s.log.Error("failed to load teams slot", "error", err)
		writeError(w, http.StatusInternalServerError, "Error loading teams")
		return
	}
	writeRaw(w, http.StatusOK, payload)
}

func (s *Server) getTeam(w http.ResponseWriter, r *http.Request) {
	teamID := chi.URLParam(r, "team_id")

	// The derived slots share the table with team records; their ids
	// never name a team.
	switch teamID {
	case "teams", "players", "visualization":
		writeError(w, http.StatusNotFound, fmt.Sprintf("Team with id %s not found", teamID))
		return
	}

	payload, err := s.store.GetSlot(teamID)
	if err != nil {
		if errors.Is(err, crawler.ErrSlotNotFound) {
			writeError(w, http.StatusNotFound, fmt.Sprintf("Team with id %s not found", teamID))
			return
		}
		s.log.Error("failed to load team slot", "team_id", teamID, "error", err)
		writeError(w, http.StatusInternalServerError, "Error loading team")
		return
	}
	writeRaw(w, http.StatusOK, payload)
}

func (s *Server) listPlayers(w http.ResponseWriter, _ *http.Request) {
	payload, err := s.store.GetSlot("players")
	if err != nil {
		if errors.Is(err, crawler.ErrSlotNotFound) {
			writeJSON(w, http.StatusOK, map[string]any{"players": []any{}})
			return
		}
		s.log.Error("failed to load players slot", "error", err)
		writeError(w, http.StatusInternalServerError, "Error loading players")
		return
	}
	writeRaw(w, http.StatusOK, payload)
}

// getPlayer resolves a player through the cross-team index, then
// returns the enriched record from their team's slot.
func (s *Server) getPlayer(w http.ResponseWriter, r *http.Request) {
	playerID := chi.URLParam(r, "player_id")

	payload, err := s.store.GetSlot("players")
	if err != nil {
		if errors.Is(err, crawler.ErrSlotNotFound) {
			writeError(w, http.StatusNotFound, "No player data available")
			return
		}
		s.log.Error("failed to load players slot", "error", err)
		writeError(w, http.StatusInternalServerError, "Error loading player")
		return
	}

	var index crawler.PlayerIndex
	if err := json.Unmarshal(payload, &index); err != nil {
		s.log.Error("players slot is not a valid index", "error", err)
		writeError(w, http.StatusInternalServerError, "Error loading player")
		return
	}

	var entry *crawler.PlayerIndexEntry
	for i := range index.Players {
		if index.Players[i].ID == playerID {
			entry = &index.Players[i]
			break
		}
	}
	if entry == nil {
		writeError(w, http.StatusNotFound, fmt.Sprintf("Player with id %s not found", playerID))
		return
	}

	teamPayload, err := s.store.GetSlot(entry.TeamID)
	if err != nil {
		if errors.Is(err, crawler.ErrSlotNotFound) {
			writeError(w, http.StatusNotFound, fmt.Sprintf("Team data for %s not found", entry.Team))
			return
		}
		s.log.Error("failed to load team slot", "team_id", entry.TeamID, "error", err)
		writeError(w, http.StatusInternalServerError, "Error loading player")
		return
	}

	var rec crawler.TeamRecord
	if err := json.Unmarshal(teamPayload, &rec); err != nil {
		s.log.Error("team slot is not a valid record", "team_id", entry.TeamID, "error", err)
		writeError(w, http.StatusInternalServerError, "Error loading player")
		return
	}
	for _, p := range rec.Players {
		if p.ID == playerID {
			writeJSON(w, http.StatusOK, p)
			return
		}
	}

	writeError(w, http.StatusNotFound, fmt.Sprintf("Player data for %s not found in team record", playerID))
}

func (s *Server) visualization(w http.ResponseWriter, _ *http.Request) {
	payload, err := s.store.GetSlot("visualization")
	if err != nil {
		if errors.Is(err, crawler.ErrSlotNotFound) {
			writeJSON(w, http.StatusOK, map[string]string{"message": "No visualization data available"})
			return
		}
		s.log.Error("failed to load visualization slot", "error", err)
		writeError(w, http.StatusInternalServerError, "Error loading visualization data")
		return
	}
	writeRaw(w, http.StatusOK, payload)
}

type requestIDKey struct{}

func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID := uuid.NewString()
		ctx := context.WithValue(r.Context(), requestIDKey{}, reqID)
		w.Header().Set("X-Request-ID", reqID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := &responseWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(ww, r)

		elapsed := time.Since(start)
		route := chi.RouteContext(r.Context()).RoutePattern()
		if route == "" {
			route = r.URL.Path
		}
		metrics.ObserveHTTPRequest(route, ww.status, elapsed.Seconds())
		s.log.Info("request completed",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.status,
			"duration_ms", elapsed.Milliseconds(),
		)
	})
}

func (s *Server) recoverMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				s.log.Error("panic recovered", "panic", rec, "path", r.URL.Path)
				writeError(w, http.StatusInternalServerError, "internal server error")
			}
		}()
		next.ServeHTTP(w, r)
	})
}

// responseWriter captures the status code for logging and metrics.
type responseWriter struct {
	http.ResponseWriter
	status int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		slog.Default().Error("failed to write JSON response", "error", err)
	}
}

// writeRaw serves slot payloads as stored, without a decode round trip.
func writeRaw(w http.ResponseWriter, status int, payload []byte) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if _, err := w.Write(payload); err != nil {
		slog.Default().Error("failed to write response", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
