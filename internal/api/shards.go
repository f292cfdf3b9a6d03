package api

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/ashureev/oracle-shell/internal/archive"
	"github.com/ashureev/oracle-shell/internal/domain"
	"github.com/ashureev/oracle-shell/internal/identity"
	"github.com/go-chi/chi/v5"
)

// ShardArchive is the archive surface exposed over HTTP.
type ShardArchive interface {
	ListShards(ctx context.Context) ([]*domain.TruthShard, error)
	FindShardByID(ctx context.Context, id string) (*domain.TruthShard, error)
	UpsertShard(ctx context.Context, shard *domain.TruthShard) (*domain.TruthShard, error)
	MintShard(ctx context.Context, prompt, response string, mode domain.Mode, owner string) (*domain.TruthShard, error)
	RemixShard(ctx context.Context, originID, prompt, response string, mode domain.Mode, owner string) (*domain.TruthShard, error)
}

// ShardHandler handles Truth Shard endpoints.
type ShardHandler struct {
	archive ShardArchive
}

// NewShardHandler creates a shard handler.
func NewShardHandler(a ShardArchive) *ShardHandler {
	return &ShardHandler{archive: a}
}

// RegisterRoutes registers shard routes.
func (h *ShardHandler) RegisterRoutes(r chi.Router) {
	r.Route("/api/shards", func(r chi.Router) {
		r.Get("/", h.List)
		r.Post("/", h.Upsert)
		r.Post("/mint", h.Mint)
		r.Get("/schema", h.Schema)
		r.Get("/{id}", h.Get)
		r.Post("/{id}/remix", h.Remix)
	})
}

// List returns shards newest first, optionally filtered by mode or to
// shards that have been remixed.
func (h *ShardHandler) List(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	var mode domain.Mode
	if raw := q.Get("mode"); raw != "" && raw != "all" {
		m, err := domain.ParseMode(raw)
		if err != nil {
			writeError(w, r, err)
			return
		}
		mode = m
	}
	remixesOnly := false
	if raw := q.Get("remixes_only"); raw != "" {
		b, err := strconv.ParseBool(raw)
		if err != nil {
			writeError(w, r, &domain.ValidationError{Field: "remixes_only", Reason: "must be a boolean"})
			return
		}
		remixesOnly = b
	}

	shards, err := h.archive.ListShards(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}

	out := make([]*domain.TruthShard, 0, len(shards))
	for _, s := range shards {
		if mode != "" && s.Mode != mode {
			continue
		}
		if remixesOnly && len(s.Remixes) == 0 {
			continue
		}
		out = append(out, s)
	}
	JSON(w, http.StatusOK, out)
}

// Get returns one shard.
func (h *ShardHandler) Get(w http.ResponseWriter, r *http.Request) {
	shard, err := h.archive.FindShardByID(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	JSON(w, http.StatusOK, shard)
}

// Upsert replaces or inserts a complete shard record.
func (h *ShardHandler) Upsert(w http.ResponseWriter, r *http.Request) {
	var shard domain.TruthShard
	if err := decodeBody(w, r, &shard); err != nil {
		writeError(w, r, err)
		return
	}
	if shard.Owner == "" {
		shard.Owner = identity.OwnerFromContext(r.Context())
	}

	stored, err := h.archive.UpsertShard(r.Context(), &shard)
	if err != nil {
		writeError(w, r, err)
		return
	}
	JSON(w, http.StatusOK, stored)
}

type mintRequest struct {
	Prompt   string `json:"prompt"`
	Response string `json:"response"`
	Mode     string `json:"mode"`
	Owner    string `json:"owner,omitempty"`
}

func (m *mintRequest) owner(r *http.Request) string {
	if m.Owner != "" {
		return m.Owner
	}
	return identity.OwnerFromContext(r.Context())
}

// Mint archives a new exchange.
func (h *ShardHandler) Mint(w http.ResponseWriter, r *http.Request) {
	var req mintRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	mode, err := domain.ParseMode(req.Mode)
	if err != nil {
		writeError(w, r, err)
		return
	}

	shard, err := h.archive.MintShard(r.Context(), req.Prompt, req.Response, mode, req.owner(r))
	if err != nil {
		writeError(w, r, err)
		return
	}
	JSON(w, http.StatusCreated, shard)
}

// Remix mints a shard derived from the one in the path. Response and mode
// default to a quotation of the origin and the origin's mode.
func (h *ShardHandler) Remix(w http.ResponseWriter, r *http.Request) {
	var req mintRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	if strings.TrimSpace(req.Prompt) == "" {
		writeError(w, r, &domain.ValidationError{Field: "prompt", Reason: "must not be empty"})
		return
	}

	origin, err := h.archive.FindShardByID(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, err)
		return
	}

	mode := origin.Mode
	if req.Mode != "" {
		if mode, err = domain.ParseMode(req.Mode); err != nil {
			writeError(w, r, err)
			return
		}
	}
	response := req.Response
	if response == "" {
		response = RemixResponse(origin.Response, req.Prompt)
	}

	shard, err := h.archive.RemixShard(r.Context(), origin.ID, req.Prompt, response, mode, req.owner(r))
	if err != nil {
		writeError(w, r, err)
		return
	}
	JSON(w, http.StatusCreated, shard)
}

// Schema returns the JSON Schema of a shard record.
func (h *ShardHandler) Schema(w http.ResponseWriter, r *http.Request) {
	schema, err := archive.Schema()
	if err != nil {
		writeError(w, r, err)
		return
	}
	w.Header().Set("Content-Type", "application/schema+json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(schema)
}

// RemixResponse is the response recorded for a remix without one of its own.
func RemixResponse(originResponse, prompt string) string {
	return fmt.Sprintf(`Remix of "%s" with prompt: %s`, originResponse, prompt)
}
