package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/atvirokodosprendimai/keybox/internal/core/domain"
	"github.com/atvirokodosprendimai/keybox/internal/core/usecase"
	"github.com/go-chi/chi/v5"
)

const (
	timeFormat         = "2006-01-02T15:04:05.999999999Z07:00"
	maxWebhookBodySize = 1 << 20
)

// DeliveryHandler reconciles one verified, decoded webhook delivery.
type DeliveryHandler interface {
	Handle(ctx context.Context, d domain.Delivery) (domain.Outcome, error)
}

type Handler struct {
	verifier      *usecase.SignatureVerifier
	decoder       *usecase.PayloadDecoder
	deliveries    DeliveryHandler
	ledgerService *usecase.LedgerService
	authService   *usecase.AuthService
	logger        *slog.Logger
}

func NewHandler(verifier *usecase.SignatureVerifier, decoder *usecase.PayloadDecoder, deliveries DeliveryHandler, ledgerService *usecase.LedgerService, authService *usecase.AuthService, logger *slog.Logger) *Handler {
	return &Handler{
		verifier:      verifier,
		decoder:       decoder,
		deliveries:    deliveries,
		ledgerService: ledgerService,
		authService:   authService,
		logger:        logger,
	}
}

func (h *Handler) Router() http.Handler {
	r := chi.NewRouter()
	r.Get("/healthz", h.healthz)
	r.Post("/webhooks/aux", h.webhook)
	r.Post("/ax11-webhook", h.webhook)

	r.Group(func(pr chi.Router) {
		pr.Use(h.requireAPIKey)
		pr.Get("/v1/keys", h.listKeys)
		pr.Get("/v1/ongoing", h.listOngoing)
		pr.Get("/v1/log", h.listLog)
	})

	return r
}

type webhookResponse struct {
	Ignored   bool   `json:"ignored"`
	Reason    string `json:"reason"`
	KeyNumber int    `json:"key_number,omitempty"`
	Action    string `json:"action,omitempty"`
	LogID     string `json:"log_id,omitempty"`
}

type keyResponse struct {
	KeyNumber    int     `json:"key_number"`
	Status       string  `json:"status"`
	AssignedUser *string `json:"assigned_user"`
	UpdatedAt    string  `json:"updated_at"`
}

type ongoingResponse struct {
	KeyNumber int     `json:"key_number"`
	UserID    *string `json:"user_id"`
	UserName  string  `json:"user_name"`
	UserPhoto *string `json:"user_photo"`
	TimeTaken string  `json:"time_taken"`
}

type logEntryResponse struct {
	ID          string  `json:"id"`
	KeyNumber   int     `json:"key_number"`
	UserName    string  `json:"user_name"`
	UserID      *string `json:"user_id"`
	Action      string  `json:"action"`
	Timestamp   string  `json:"timestamp"`
	SnapshotURL *string `json:"snapshot_url"`
}

func (h *Handler) webhook(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxWebhookBodySize))
	if err != nil {
		writeError(w, http.StatusBadRequest, "unable to read body")
		return
	}

	if err := h.verifier.Verify(body, r.Header.Get(usecase.SignatureHeader)); err != nil {
		h.logger.Warn("webhook signature rejected", "remote_addr", r.RemoteAddr, "error", err)
		handleDomainError(w, err)
		return
	}

	delivery, err := h.decoder.Decode(body)
	if err != nil {
		handleDomainError(w, err)
		return
	}

	outcome, err := h.deliveries.Handle(r.Context(), delivery)
	if err != nil {
		if !errors.Is(err, domain.ErrMalformedDelivery) {
			h.logger.Error("reconcile delivery", "delivery_id", delivery.WebhookID, "error", err)
		}
		handleDomainError(w, err)
		return
	}

	resp := webhookResponse{
		Ignored:   outcome.Ignored,
		Reason:    string(outcome.Reason),
		KeyNumber: outcome.KeyNumber,
		Action:    string(outcome.Action),
	}
	if outcome.Entry != nil {
		resp.LogID = outcome.Entry.ID
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) listKeys(w http.ResponseWriter, r *http.Request) {
	keys, err := h.ledgerService.Keys(r.Context())
	if err != nil {
		handleDomainError(w, err)
		return
	}

	out := make([]keyResponse, 0, len(keys))
	for _, key := range keys {
		out = append(out, keyResponse{
			KeyNumber:    key.KeyNumber,
			Status:       string(key.Status),
			AssignedUser: key.AssignedUser,
			UpdatedAt:    key.UpdatedAt.UTC().Format(timeFormat),
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": out})
}

func (h *Handler) listOngoing(w http.ResponseWriter, r *http.Request) {
	entries, err := h.ledgerService.Ongoing(r.Context())
	if err != nil {
		handleDomainError(w, err)
		return
	}

	out := make([]ongoingResponse, 0, len(entries))
	for _, entry := range entries {
		out = append(out, ongoingResponse{
			KeyNumber: entry.KeyNumber,
			UserID:    entry.UserID,
			UserName:  entry.UserName,
			UserPhoto: entry.UserPhoto,
			TimeTaken: entry.TimeTaken.UTC().Format(timeFormat),
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": out})
}

func (h *Handler) listLog(w http.ResponseWriter, r *http.Request) {
	limit, ok := parseLimit(w, r)
	if !ok {
		return
	}

	filter := domain.LogFilter{Limit: limit}
	if raw := r.URL.Query().Get("key"); raw != "" {
		keyNumber, err := strconv.Atoi(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "key must be integer")
			return
		}
		filter.KeyNumber = keyNumber
	}
	if raw := r.URL.Query().Get("before"); raw != "" {
		before, err := time.Parse(time.RFC3339Nano, raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "before must be an RFC 3339 timestamp")
			return
		}
		filter.Before = before
	}

	entries, err := h.ledgerService.Log(r.Context(), filter)
	if err != nil {
		handleDomainError(w, err)
		return
	}

	out := make([]logEntryResponse, 0, len(entries))
	for _, entry := range entries {
		out = append(out, toLogEntryResponse(entry))
	}

	writeJSON(w, http.StatusOK, map[string]any{"items": out})
}

func (h *Handler) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

func (h *Handler) requireAPIKey(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := strings.TrimSpace(r.Header.Get("X-API-Key"))
		if token == "" {
			auth := strings.TrimSpace(r.Header.Get("Authorization"))
			if strings.HasPrefix(strings.ToLower(auth), "bearer ") {
				token = strings.TrimSpace(auth[7:])
			}
		}

		if _, err := h.authService.Authenticate(r.Context(), token); err != nil {
			if errors.Is(err, domain.ErrUnauthorized) {
				writeError(w, http.StatusUnauthorized, "unauthorized")
				return
			}
			h.logger.Error("authenticate api key", "error", err)
			writeError(w, http.StatusInternalServerError, "internal server error")
			return
		}

		next.ServeHTTP(w, r)
	})
}

func toLogEntryResponse(entry domain.LogEntry) logEntryResponse {
	return logEntryResponse{
		ID:          entry.ID,
		KeyNumber:   entry.KeyNumber,
		UserName:    entry.UserName,
		UserID:      entry.UserID,
		Action:      string(entry.Action),
		Timestamp:   entry.Timestamp.UTC().Format(timeFormat),
		SnapshotURL: entry.SnapshotURL,
	}
}

func parseLimit(w http.ResponseWriter, r *http.Request) (int, bool) {
	limit := 100
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "limit must be integer")
			return 0, false
		}
		limit = parsed
	}
	return limit, true
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	data, err := json.Marshal(body)
	if err != nil {
		slog.Error("encode json response", "error", err)
		http.Error(w, "internal server error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if _, err := w.Write(append(data, '\n')); err != nil {
		slog.Error("write response", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]any{"error": message})
}

func handleDomainError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, domain.ErrUnauthorized):
		writeError(w, http.StatusUnauthorized, "unauthorized")
	case errors.Is(err, domain.ErrMalformedDelivery), errors.Is(err, domain.ErrInvalidFilter):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, domain.ErrNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	default:
		writeError(w, http.StatusInternalServerError, "internal server error")
	}
}
