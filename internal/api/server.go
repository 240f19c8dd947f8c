// Package api exposes the engine over HTTP.
package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/investipet/engine/internal/account"
	"github.com/investipet/engine/internal/auth"
	"github.com/investipet/engine/internal/learning"
	"github.com/investipet/engine/internal/metrics"
	"github.com/investipet/engine/internal/model"
	"github.com/investipet/engine/internal/notify"
	"github.com/investipet/engine/internal/portfolio"
	"github.com/investipet/engine/internal/store"
	"github.com/investipet/engine/internal/trade"
)

// Quoter prices one asset or a batch.
type Quoter interface {
	Quote(ctx context.Context, asset model.Asset) (model.Quote, error)
	Quotes(ctx context.Context, assets []model.Asset) ([]model.Quote, error)
}

// Deps are the services the HTTP layer dispatches to.
type Deps struct {
	Store       store.Store
	Accounts    *account.Service
	Trades      *trade.Service
	Lessons     *learning.Service
	Portfolio   *portfolio.Valuator
	Quotes      Quoter
	Hub         *notify.Hub
	JWT         *auth.JWTService
	CORSOrigins []string
	Logger      *slog.Logger
}

type Server struct {
	Deps
}

func NewServer(d Deps) *Server {
	if d.Logger == nil {
		d.Logger = slog.Default()
	}
	if len(d.CORSOrigins) == 0 {
		d.CORSOrigins = []string{"*"}
	}
	return &Server{Deps: d}
}

// Routes builds the router.
func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(metrics.Middleware)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: s.CORSOrigins,
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type", "Idempotency-Key"},
		MaxAge:         300,
	}))

	r.Get("/health", s.health)
	r.Get("/ready", s.ready)
	r.Handle("/metrics", metrics.Handler())

	r.Route("/v1", func(r chi.Router) {
		r.Use(auth.Middleware(s.JWT))

		// Event stream. Browsers pass the token as a query parameter.
		r.Get("/ws", s.serveWS)

		r.Group(func(r chi.Router) {
			r.Use(middleware.Timeout(30 * time.Second))

			r.Post("/players", s.provision)
			r.Get("/me", s.me)
			r.Get("/pet", s.pet)
			r.Get("/pet/family", s.family)

			r.Post("/rewards/daily-login", s.dailyLogin)
			r.Get("/rewards/balance", s.rewardBalance)
			r.Get("/rewards/history", s.rewardHistory)

			r.Get("/market/assets", s.listAssets)
			r.Get("/market/quotes", s.listQuotes)

			r.Post("/trades/buy", s.buy)
			r.Post("/trades/sell", s.sell)
			r.Get("/trades", s.tradeHistory)
			r.Get("/portfolio", s.portfolio)

			r.Get("/lessons", s.listLessons)
			r.Get("/lessons/{lessonID}", s.getLesson)
			r.Post("/lessons/{lessonID}/check-answer", s.checkAnswer)
			r.Post("/lessons/{lessonID}/submit", s.submitLesson)
		})
	})

	return r
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "service": "investipet-engine"})
}

func (s *Server) ready(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	if err := s.Store.Ping(ctx); err != nil {
		s.Logger.Warn("readiness check failed", "err", err)
		writeError(w, "store unavailable", http.StatusServiceUnavailable)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

func (s *Server) serveWS(w http.ResponseWriter, r *http.Request) {
	s.Hub.Serve(w, r, auth.UserIDFromCtx(r.Context()))
}
