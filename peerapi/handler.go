package peerapi

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/qupskd/qupskd/exchange"
	"github.com/qupskd/qupskd/qkd"
)

// Handler serves the peer protocol endpoint, dispatching messages to the
// exchange manager by relationship identifier.
type Handler struct {
	manager *exchange.Manager
	log     *slog.Logger
}

// NewHandler creates a peer protocol handler backed by manager.
func NewHandler(manager *exchange.Manager, log *slog.Logger) *Handler {
	return &Handler{manager: manager, log: log}
}

// RegisterRoutes mounts the peer protocol routes on r.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Post("/api/v1/peer/{relationship}/new", h.HandleNew)
	r.Post("/api/v1/peer/{relationship}/rotate", h.HandleRotate)
	r.Post("/api/v1/peer/{relationship}/confirm", h.HandleConfirm)
}

// HandleNew processes a REQUEST_NEW message: the relationship restarts
// from its initial chain state and a fresh key is minted for it.
//
// URL format: POST /api/v1/peer/{relationship}/new
func (h *Handler) HandleNew(w http.ResponseWriter, r *http.Request) {
	h.handleRequest(w, r, exchange.RequestNew)
}

// HandleRotate processes a REQUEST_ROTATE message advancing an established
// chain by one generation.
//
// URL format: POST /api/v1/peer/{relationship}/rotate
func (h *Handler) HandleRotate(w http.ResponseWriter, r *http.Request) {
	h.handleRequest(w, r, exchange.RequestRotate)
}

func (h *Handler) handleRequest(w http.ResponseWriter, r *http.Request, kind exchange.RequestKind) {
	relationship := r.PathValue("relationship")

	keyID, err := h.manager.HandleRequest(r.Context(), relationship, kind)
	if err != nil {
		h.writeError(w, relationship, err)
		return
	}

	h.writeJSON(w, RequestResponse{Status: "ok", KeyID: keyID})
}

// HandleConfirm processes a CONFIRM message finalizing the pending round.
//
// URL format: POST /api/v1/peer/{relationship}/confirm
func (h *Handler) HandleConfirm(w http.ResponseWriter, r *http.Request) {
	relationship := r.PathValue("relationship")

	var req ConfirmRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "could not parse confirmation body", http.StatusBadRequest)
		return
	}

	if err := h.manager.HandleConfirm(r.Context(), relationship, req.Generation); err != nil {
		h.writeError(w, relationship, err)
		return
	}

	h.writeJSON(w, ConfirmResponse{Status: "ok"})
}

// writeError maps the exchange error taxonomy onto HTTP status codes. The
// initiator's client relies on 409 marking protocol violations.
func (h *Handler) writeError(w http.ResponseWriter, relationship string, err error) {
	switch {
	case errors.Is(err, exchange.ErrUnknownRelationship):
		http.Error(w, err.Error(), http.StatusNotFound)
	case errors.Is(err, exchange.ErrProtocolViolation):
		h.log.Warn("Rejected peer message", "relationship", relationship, "err", err)
		http.Error(w, err.Error(), http.StatusConflict)
	case errors.Is(err, qkd.ErrExhausted):
		h.log.Warn("Key source exhausted", "relationship", relationship)
		http.Error(w, err.Error(), http.StatusServiceUnavailable)
	default:
		h.log.Error("Peer message failed", "relationship", relationship, "err", err)
		http.Error(w, err.Error(), http.StatusBadGateway)
	}
}

func (h *Handler) writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.log.Error("Failed to write response", "err", err)
	}
}
