// Package api serves the pipeline's HTTP surface: the webhook intake
// and the read-side REST endpoints.
package api

import (
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http"
	"strconv"
	"strings"

	"alert-pipelinev1/internal/engine"
	"alert-pipelinev1/internal/ingest"
	"alert-pipelinev1/internal/model"
	"alert-pipelinev1/internal/store/sqlite"
)

// maxPayloadBytes caps the webhook body size.
const maxPayloadBytes = 64 * 1024

// Server holds the handlers' dependencies.
type Server struct {
	Store  *sqlite.Store
	Gate   *ingest.Gate
	Engine *engine.Engine
	WSHub  http.HandlerFunc // nil = no websocket endpoint
}

// NewRouter builds the HTTP mux.
func (s *Server) NewRouter() *http.ServeMux {
	mux := http.NewServeMux()

	mux.HandleFunc("/webhook", s.handleWebhook)
	mux.HandleFunc("/webhook/", s.handleWebhook)

	mux.HandleFunc("/api/orders", s.handleOrders)
	mux.HandleFunc("/api/orders/", s.handleOrderAction)
	mux.HandleFunc("/api/positions", s.handlePositions)
	mux.HandleFunc("/api/portfolio", s.handlePortfolio)
	mux.HandleFunc("/api/alerts", s.handleAlerts)
	mux.HandleFunc("/api/reset", s.handleReset)

	mux.HandleFunc("/api/health", func(w http.ResponseWriter, r *http.Request) {
		setCORS(w)
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	if s.WSHub != nil {
		mux.HandleFunc("/ws", s.WSHub)
	}
	return mux
}

// handleWebhook accepts one signal. The routing token comes from the
// path (/webhook/{token}), the X-Webhook-Token header, or is absent for
// broadcast delivery. Form-encoded bodies are converted to JSON so both
// alert template styles work.
func (s *Server) handleWebhook(w http.ResponseWriter, r *http.Request) {
	setCORS(w)
	if r.Method == http.MethodOptions {
		w.WriteHeader(http.StatusOK)
		return
	}
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "POST only")
		return
	}

	token := strings.TrimPrefix(r.URL.Path, "/webhook")
	token = strings.Trim(token, "/")
	if token == "" {
		token = r.Header.Get("X-Webhook-Token")
	}

	raw, err := readPayload(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	ack, err := s.Gate.Ingest(r.Context(), raw, token, clientIP(r))
	switch {
	case errors.Is(err, ingest.ErrRateLimited):
		writeError(w, http.StatusTooManyRequests, err.Error())
	case errors.Is(err, ingest.ErrUnknownToken):
		writeError(w, http.StatusUnauthorized, err.Error())
	case errors.Is(err, ingest.ErrNoDestinations):
		writeError(w, http.StatusBadRequest, err.Error())
	case err != nil:
		log.Printf("[api] webhook ingest: %v", err)
		writeError(w, http.StatusInternalServerError, "ingestion failed")
	default:
		writeJSON(w, http.StatusOK, ack)
	}
}

func (s *Server) handleOrders(w http.ResponseWriter, r *http.Request) {
	setCORS(w)
	orders, err := s.Store.RecentOrders(queryInt(r, "limit", 100))
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, orders)
}

// handleOrderAction serves /api/orders/{id} and /api/orders/{id}/cancel.
func (s *Server) handleOrderAction(w http.ResponseWriter, r *http.Request) {
	setCORS(w)
	rest := strings.TrimPrefix(r.URL.Path, "/api/orders/")
	parts := strings.Split(strings.Trim(rest, "/"), "/")
	id, err := strconv.ParseInt(parts[0], 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid order id")
		return
	}

	if len(parts) == 2 && parts[1] == "cancel" {
		if r.Method != http.MethodPost {
			writeError(w, http.StatusMethodNotAllowed, "POST only")
			return
		}
		ok, err := s.Engine.Cancel(r.Context(), id)
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"order_id": id, "cancelled": ok})
		return
	}

	o, err := s.Store.Order(id)
	if err != nil {
		writeError(w, http.StatusNotFound, "order not found")
		return
	}
	writeJSON(w, http.StatusOK, o)
}

func (s *Server) handlePositions(w http.ResponseWriter, r *http.Request) {
	setCORS(w)
	accountID := int64(queryInt(r, "account", 1))
	positions, err := s.Store.Positions(accountID, queryMode(r))
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if positions == nil {
		positions = []model.Position{}
	}
	writeJSON(w, http.StatusOK, positions)
}

// handlePortfolio triggers an on-demand valuation so the returned P&L
// reflects current quotes.
func (s *Server) handlePortfolio(w http.ResponseWriter, r *http.Request) {
	setCORS(w)
	accountID := int64(queryInt(r, "account", 1))
	portfolio, positions, err := s.Engine.Valuate(r.Context(), accountID, queryMode(r))
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"portfolio": portfolio,
		"positions": positions,
	})
}

func (s *Server) handleAlerts(w http.ResponseWriter, r *http.Request) {
	setCORS(w)
	alerts, err := s.Store.RecentAlerts(queryInt(r, "limit", 100))
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if alerts == nil {
		alerts = []model.Alert{}
	}
	writeJSON(w, http.StatusOK, alerts)
}

// handleReset wipes paper-mode trading state. Alerts are kept.
func (s *Server) handleReset(w http.ResponseWriter, r *http.Request) {
	setCORS(w)
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "POST only")
		return
	}
	if err := s.Store.ResetPaper(); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	log.Printf("[api] paper state reset")
	writeJSON(w, http.StatusOK, map[string]string{"status": "reset"})
}

// readPayload returns the body as JSON, converting form-encoded bodies.
func readPayload(r *http.Request) ([]byte, error) {
	ct := r.Header.Get("Content-Type")
	if strings.HasPrefix(ct, "application/x-www-form-urlencoded") {
		if err := r.ParseForm(); err != nil {
			return nil, errors.New("malformed form body")
		}
		fields := make(map[string]string, len(r.PostForm))
		for k := range r.PostForm {
			fields[k] = r.PostForm.Get(k)
		}
		return json.Marshal(fields)
	}

	raw, err := io.ReadAll(io.LimitReader(r.Body, maxPayloadBytes))
	if err != nil {
		return nil, errors.New("unreadable body")
	}
	if len(raw) == 0 {
		return nil, errors.New("empty body")
	}
	return raw, nil
}

func clientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		return strings.TrimSpace(strings.Split(fwd, ",")[0])
	}
	host := r.RemoteAddr
	if i := strings.LastIndexByte(host, ':'); i > 0 {
		host = host[:i]
	}
	return host
}

func queryInt(r *http.Request, key string, def int) int {
	v, err := strconv.Atoi(r.URL.Query().Get(key))
	if err != nil || v <= 0 {
		return def
	}
	return v
}

func queryMode(r *http.Request) string {
	if strings.EqualFold(r.URL.Query().Get("mode"), model.ModeLive) {
		return model.ModeLive
	}
	return model.ModePaper
}

func setCORS(w http.ResponseWriter) {
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
	w.Header().Set("Access-Control-Allow-Headers", "Content-Type, X-Webhook-Token")
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}
