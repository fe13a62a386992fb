// Package server exposes the league over HTTP: pick submission, leaderboard
// reads, manual refresh and a live leaderboard feed.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rs/zerolog"

	"stockleague/internal/league"
	"stockleague/internal/quote"
	"stockleague/internal/roster"
)

// Config holds server dependencies.
type Config struct {
	Log    zerolog.Logger
	League *league.Service
	Source league.PriceSource
	Store  roster.Store
	Port   string
}

// Server is the HTTP front for the league.
type Server struct {
	router *chi.Mux
	server *http.Server
	log    zerolog.Logger
	league *league.Service
	source league.PriceSource
	store  roster.Store
}

// New creates the server and mounts all routes.
func New(cfg Config) *Server {
	s := &Server{
		router: chi.NewRouter(),
		log:    cfg.Log.With().Str("component", "server").Logger(),
		league: cfg.League,
		source: cfg.Source,
		store:  cfg.Store,
	}

	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(middleware.Recoverer)
	s.router.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type"},
	}))

	s.router.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	s.router.Route("/api", func(r chi.Router) {
		r.Group(func(r chi.Router) {
			r.Use(middleware.Timeout(30 * time.Second))
			r.Get("/quote", s.handleGetQuote)
			r.Get("/leaderboard", s.handleLeaderboard)
			r.Post("/participants", s.handleSubmitPick)
			r.Delete("/participants/{id}", s.handleDeletePick)
			r.Post("/refresh", s.handleRefresh)
		})
		// the feed outlives the request timeout; it closes with the client
		r.Get("/leaderboard/ws", s.handleLeaderboardWS)
	})

	s.server = &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           s.router,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	return s
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler { return s.router }

// Start blocks serving HTTP until Shutdown.
func (s *Server) Start() error {
	s.log.Info().Str("addr", s.server.Addr).Msg("server listening")
	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error { return s.server.Shutdown(ctx) }

func (s *Server) handleGetQuote(w http.ResponseWriter, r *http.Request) {
	exchange, err := quote.ParseExchange(r.URL.Query().Get("exchange"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	q, err := s.source.FetchPrice(r.Context(), r.URL.Query().Get("symbol"), exchange)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, q)
}

func (s *Server) handleLeaderboard(w http.ResponseWriter, r *http.Request) {
	board, err := s.league.Leaderboard(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, board)
}

type submitBody struct {
	Name     string `json:"name"`
	Symbol   string `json:"symbol"`
	Exchange string `json:"exchange"`
}

func (s *Server) handleSubmitPick(w http.ResponseWriter, r *http.Request) {
	var b submitBody
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&b); err != nil {
		http.Error(w, "invalid JSON body", http.StatusBadRequest)
		return
	}
	exchange, err := quote.ParseExchange(b.Exchange)
	if err != nil {
		s.writeError(w, err)
		return
	}
	p, err := s.league.SubmitPick(r.Context(), b.Name, b.Symbol, exchange)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, p)
}

func (s *Server) handleDeletePick(w http.ResponseWriter, r *http.Request) {
	if err := s.store.Delete(r.Context(), chi.URLParam(r, "id")); err != nil {
		s.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	report, err := s.league.RefreshAll(r.Context())
	if err != nil && !errors.Is(err, league.ErrNoQuotes) {
		s.writeError(w, err)
		return
	}
	status := http.StatusOK
	if errors.Is(err, league.ErrNoQuotes) {
		// no ranking signal at all; the counts still tell the story
		status = http.StatusBadGateway
	}
	s.writeJSON(w, status, report)
}

type errorBody struct {
	Error string `json:"error"`
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	var qerr *quote.QuoteUnavailableError
	switch {
	case errors.Is(err, quote.ErrInvalidSymbol), errors.Is(err, quote.ErrInvalidExchange):
		status = http.StatusBadRequest
	case errors.As(err, &qerr):
		status = http.StatusBadGateway
	case errors.Is(err, roster.ErrNotFound):
		status = http.StatusNotFound
	}
	if status == http.StatusInternalServerError {
		s.log.Error().Err(err).Msg("request failed")
	}
	s.writeJSON(w, status, errorBody{Error: err.Error()})
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		s.log.Error().Err(err).Msg("encode response")
	}
}
