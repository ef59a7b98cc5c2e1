package qkd

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
)

// Handler exposes a Store over HTTP as a fake ETSI GS QKD 014 key delivery
// endpoint. It serves both development setups without QKD hardware and the
// package tests.
type Handler struct {
	store *Store
	log   *slog.Logger
}

// NewHandler creates a fake key delivery API handler backed by store.
func NewHandler(store *Store, log *slog.Logger) *Handler {
	return &Handler{store: store, log: log}
}

// RegisterRoutes mounts the ETSI key delivery routes on r.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/api/v1/keys/{sae_id}/enc_keys", h.HandleEncKeys)
	r.Get("/api/v1/keys/{sae_id}/dec_keys", h.HandleDecKeys)
}

// HandleEncKeys mints a fresh key for the requesting application.
//
// URL format: GET /api/v1/keys/{sae_id}/enc_keys?number=1
func (h *Handler) HandleEncKeys(w http.ResponseWriter, r *http.Request) {
	if n := r.URL.Query().Get("number"); n != "" && n != "1" {
		http.Error(w, "only number=1 is supported", http.StatusBadRequest)
		return
	}

	material, err := h.store.Mint()
	if errors.Is(err, ErrExhausted) {
		h.log.Warn("Key store exhausted", "sae", r.PathValue("sae_id"))
		http.Error(w, "no key material available", http.StatusServiceUnavailable)
		return
	}
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	h.log.Debug("Minted key", "keyID", material.ID)
	h.writeContainer(w, material)
}

// HandleDecKeys redeems a previously minted key by its identifier,
// consuming it.
//
// URL format: GET /api/v1/keys/{sae_id}/dec_keys?key_ID={id}
func (h *Handler) HandleDecKeys(w http.ResponseWriter, r *http.Request) {
	keyID := r.URL.Query().Get("key_ID")
	if keyID == "" {
		http.Error(w, "key_ID parameter is required", http.StatusBadRequest)
		return
	}

	material, err := h.store.Redeem(keyID)
	if errors.Is(err, ErrNotFound) {
		http.Error(w, "key not found", http.StatusNotFound)
		return
	}
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	h.log.Debug("Redeemed key", "keyID", material.ID)
	h.writeContainer(w, material)
}

func (h *Handler) writeContainer(w http.ResponseWriter, material Material) {
	container := etsiKeyContainer{
		Keys: []etsiKey{{
			KeyID: material.ID,
			Key:   base64.StdEncoding.EncodeToString(material.Secret),
		}},
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if err := json.NewEncoder(w).Encode(container); err != nil {
		h.log.Error("Failed to write key container", "err", err)
	}
}
