package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"

	"github.com/investipet/engine/internal/auth"
	"github.com/investipet/engine/internal/learning"
	"github.com/investipet/engine/internal/model"
)

const maxTradeHistory = 100

var validate = validator.New()

type provisionRequest struct {
	PetName string `json:"pet_name" validate:"max=32"`
}

type tradeRequest struct {
	Symbol   string          `json:"symbol" validate:"required,max=16"`
	Quantity decimal.Decimal `json:"quantity"`
}

type checkAnswerRequest struct {
	QuestionID string `json:"question_id" validate:"required"`
	Answer     string `json:"answer" validate:"required"`
}

type submitRequest struct {
	Answers        map[string]string `json:"answers"`
	IdempotencyKey string            `json:"idempotency_key" validate:"max=128"`
}

// --- Account ---

func (s *Server) provision(w http.ResponseWriter, r *http.Request) {
	var req provisionRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	p, err := s.Accounts.Provision(r.Context(), auth.UserIDFromCtx(r.Context()), req.PetName)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, p)
}

func (s *Server) me(w http.ResponseWriter, r *http.Request) {
	p, err := s.Accounts.Profile(r.Context(), auth.UserIDFromCtx(r.Context()))
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (s *Server) pet(w http.ResponseWriter, r *http.Request) {
	p, err := s.Accounts.Pet(r.Context(), auth.UserIDFromCtx(r.Context()))
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (s *Server) family(w http.ResponseWriter, r *http.Request) {
	f, err := s.Accounts.Family(r.Context(), auth.UserIDFromCtx(r.Context()))
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, f)
}

// --- Rewards ---

func (s *Server) dailyLogin(w http.ResponseWriter, r *http.Request) {
	res, err := s.Accounts.ClaimDailyLogin(r.Context(), auth.UserIDFromCtx(r.Context()))
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) rewardBalance(w http.ResponseWriter, r *http.Request) {
	b, err := s.Accounts.RewardBalance(r.Context(), auth.UserIDFromCtx(r.Context()))
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, b)
}

func (s *Server) rewardHistory(w http.ResponseWriter, r *http.Request) {
	events, err := s.Accounts.RewardHistory(r.Context(), auth.UserIDFromCtx(r.Context()))
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	if events == nil {
		events = []model.RewardEvent{}
	}
	writeJSON(w, http.StatusOK, events)
}

// --- Market ---

func (s *Server) listAssets(w http.ResponseWriter, r *http.Request) {
	assets, err := s.Store.ListAssets(r.Context(), true)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	if assets == nil {
		assets = []model.Asset{}
	}
	writeJSON(w, http.StatusOK, assets)
}

// listQuotes prices ?symbols=AAPL,BTC, or every active asset when omitted.
func (s *Server) listQuotes(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var assets []model.Asset
	if raw := r.URL.Query().Get("symbols"); raw != "" {
		for _, sym := range strings.Split(raw, ",") {
			sym = strings.ToUpper(strings.TrimSpace(sym))
			if sym == "" {
				continue
			}
			a, err := s.Store.GetAsset(ctx, sym)
			if err != nil {
				s.writeDomainError(w, err)
				return
			}
			assets = append(assets, *a)
		}
	} else {
		var err error
		if assets, err = s.Store.ListAssets(ctx, true); err != nil {
			s.writeDomainError(w, err)
			return
		}
	}

	quotes, err := s.Quotes.Quotes(ctx, assets)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, quotes)
}

// --- Trading ---

func (s *Server) buy(w http.ResponseWriter, r *http.Request) {
	s.trade(w, r, model.SideBuy)
}

func (s *Server) sell(w http.ResponseWriter, r *http.Request) {
	s.trade(w, r, model.SideSell)
}

func (s *Server) trade(w http.ResponseWriter, r *http.Request, side string) {
	var req tradeRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	userID := auth.UserIDFromCtx(r.Context())
	exec := s.Trades.Buy
	if side == model.SideSell {
		exec = s.Trades.Sell
	}
	res, err := exec(r.Context(), userID, req.Symbol, req.Quantity)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) tradeHistory(w http.ResponseWriter, r *http.Request) {
	limit := queryInt(r, "limit", maxTradeHistory)
	if limit <= 0 || limit > maxTradeHistory {
		limit = maxTradeHistory
	}
	trades, err := s.Trades.History(r.Context(), auth.UserIDFromCtx(r.Context()), limit)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	if trades == nil {
		trades = []model.Trade{}
	}
	writeJSON(w, http.StatusOK, trades)
}

func (s *Server) portfolio(w http.ResponseWriter, r *http.Request) {
	snap, err := s.Portfolio.Snapshot(r.Context(), auth.UserIDFromCtx(r.Context()))
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

// --- Lessons ---

func (s *Server) listLessons(w http.ResponseWriter, r *http.Request) {
	page, err := s.Lessons.List(r.Context(), auth.UserIDFromCtx(r.Context()),
		queryInt(r, "page", 1), queryInt(r, "page_size", learning.DefaultPageSize))
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, page)
}

func (s *Server) getLesson(w http.ResponseWriter, r *http.Request) {
	lessonID, ok := lessonParam(w, r)
	if !ok {
		return
	}
	v, err := s.Lessons.Get(r.Context(), auth.UserIDFromCtx(r.Context()), lessonID)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, v)
}

func (s *Server) checkAnswer(w http.ResponseWriter, r *http.Request) {
	lessonID, ok := lessonParam(w, r)
	if !ok {
		return
	}
	var req checkAnswerRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	res, err := s.Lessons.CheckAnswer(r.Context(), auth.UserIDFromCtx(r.Context()), lessonID, req.QuestionID, req.Answer)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) submitLesson(w http.ResponseWriter, r *http.Request) {
	lessonID, ok := lessonParam(w, r)
	if !ok {
		return
	}
	var req submitRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	key := req.IdempotencyKey
	if key == "" {
		key = r.Header.Get("Idempotency-Key")
	}
	res, err := s.Lessons.Submit(r.Context(), auth.UserIDFromCtx(r.Context()), lessonID, req.Answers, key)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// --- Helpers ---

func lessonParam(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "lessonID"), 10, 64)
	if err != nil || id <= 0 {
		writeError(w, "lesson not found", http.StatusNotFound)
		return 0, false
	}
	return id, true
}

func queryInt(r *http.Request, key string, fallback int) int {
	v := r.URL.Query().Get(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

// decodeJSON decodes and validates the body into v, writing a 400 on
// failure. An empty body decodes as the zero value.
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return false
	}
	if err := validate.Struct(v); err != nil {
		writeError(w, err.Error(), http.StatusBadRequest)
		return false
	}
	return true
}

// writeDomainError maps service errors onto HTTP statuses.
func (s *Server) writeDomainError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, model.ErrNotFound):
		writeError(w, err.Error(), http.StatusNotFound)
	case errors.Is(err, model.ErrInsufficientFunds),
		errors.Is(err, model.ErrInsufficientQuantity),
		errors.Is(err, model.ErrInvalidQuantity),
		errors.Is(err, learning.ErrMissingIdempotencyKey):
		writeError(w, err.Error(), http.StatusBadRequest)
	case errors.Is(err, model.ErrAlreadyExists):
		writeError(w, err.Error(), http.StatusConflict)
	case errors.Is(err, model.ErrQuoteUnavailable):
		w.Header().Set("Retry-After", "5")
		writeError(w, err.Error(), http.StatusServiceUnavailable)
	default:
		s.Logger.Error("request failed", "err", err)
		writeError(w, "internal error", http.StatusInternalServerError)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, message string, status int) {
	writeJSON(w, status, map[string]string{"error": message})
}
