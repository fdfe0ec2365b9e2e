package api

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"secretly.share/config"
	"secretly.share/internal/idgen"
	"secretly.share/internal/lifecycle"
	"secretly.share/internal/retrieval"
	"secretly.share/internal/store"
	"secretly.share/web"
)

// maxCreateBody bounds the JSON body of a create request: both base64
// fields at their limits plus room for the envelope.
var maxCreateBody = int64(base64.StdEncoding.EncodedLen(lifecycle.MaxCiphertextLen) +
	base64.StdEncoding.EncodedLen(lifecycle.IVLen) + 1024)

type Handler struct {
	store    store.Store
	protocol *retrieval.Protocol
	config   *config.Config
	log      *zap.Logger
}

func NewHandler(s store.Store, cfg *config.Config, log *zap.Logger) *Handler {
	if log == nil {
		log = zap.NewNop()
	}
	return &Handler{
		store:    s,
		protocol: retrieval.New(s, log),
		config:   cfg,
		log:      log,
	}
}

type CreateRequest struct {
	Ciphertext string `json:"ciphertext"`
	IV         string `json:"iv"`
}

type CreateResponse struct {
	ID string `json:"id"`
}

type SecretResponse struct {
	Ciphertext string `json:"ciphertext"`
	IV         string `json:"iv"`
}

type ErrorResponse struct {
	Error string `json:"error"`
}

func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	if err := h.store.Ping(ctx); err != nil {
		h.log.Warn("health check failed", zap.Error(err))
		h.error(w, http.StatusServiceUnavailable, "store not available")
		return
	}
	h.json(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *Handler) CreateSecret(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxCreateBody)

	var req CreateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			h.error(w, http.StatusUnprocessableEntity, "ciphertext exceeds maximum size")
			return
		}
		h.error(w, http.StatusBadRequest, "invalid request body")
		return
	}

	ciphertext, err := decodeField(req.Ciphertext, lifecycle.MaxCiphertextLen)
	if err != nil {
		h.error(w, http.StatusUnprocessableEntity, "ciphertext: "+err.Error())
		return
	}
	iv, err := decodeField(req.IV, lifecycle.IVLen)
	if err != nil {
		h.error(w, http.StatusUnprocessableEntity, "iv: "+err.Error())
		return
	}

	id, err := h.protocol.Create(r.Context(), ciphertext, iv)
	if err != nil {
		if errors.Is(err, lifecycle.ErrValidation) {
			h.error(w, http.StatusUnprocessableEntity, err.Error())
			return
		}
		h.error(w, http.StatusInternalServerError, "could not create secret")
		return
	}

	h.json(w, http.StatusCreated, CreateResponse{ID: id})
}

func (h *Handler) RetrieveSecret(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	// Malformed ids cannot exist; answer without touching the store.
	if !idgen.Valid(id) {
		h.error(w, http.StatusNotFound, "secret not found")
		return
	}

	out := h.protocol.Retrieve(r.Context(), id)
	switch out.State {
	case retrieval.Delivered:
		h.json(w, http.StatusOK, SecretResponse{
			Ciphertext: base64.StdEncoding.EncodeToString(out.Payload.Ciphertext),
			IV:         base64.StdEncoding.EncodeToString(out.Payload.IV),
		})
	case retrieval.NotFound:
		h.error(w, http.StatusNotFound, "secret not found")
	default:
		h.error(w, http.StatusInternalServerError, "failed to retrieve secret")
	}
}

func (h *Handler) Index(w http.ResponseWriter, r *http.Request) {
	h.serveFile(w, "index.html")
}

func (h *Handler) RevealPage(w http.ResponseWriter, r *http.Request) {
	h.serveFile(w, "reveal.html")
}

func (h *Handler) serveFile(w http.ResponseWriter, filename string) {
	content, err := web.GetFile(filename)
	if err != nil {
		h.log.Error("embedded file missing", zap.String("file", filename), zap.Error(err))
		http.Error(w, "file not found", http.StatusNotFound)
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Write(content)
}

func (h *Handler) json(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func (h *Handler) error(w http.ResponseWriter, status int, message string) {
	h.json(w, status, ErrorResponse{Error: message})
}

// decodeField strictly decodes standard padded base64, rejecting input
// whose decoded form would exceed maxLen before allocating it. An empty
// string decodes to zero bytes; length rules are left to lifecycle.
func decodeField(encoded string, maxLen int) ([]byte, error) {
	if len(encoded) > base64.StdEncoding.EncodedLen(maxLen) {
		return nil, errors.New("exceeds maximum size")
	}
	b, err := base64.StdEncoding.Strict().DecodeString(encoded)
	if err != nil {
		return nil, errors.New("invalid base64 format")
	}
	return b, nil
}
