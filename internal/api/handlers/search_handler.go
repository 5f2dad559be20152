package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/olumide-dev/brainpipe/internal/core"
)

const defaultSearchLimit = 5

// SearchHandler serves similarity search over a subject's indexed chunks: the
// query is embedded with the same provider the pipeline indexes with, then
// matched against the subject's collection.
type SearchHandler struct {
	embedder core.EmbeddingProvider
	index    core.VectorIndex
}

func NewSearchHandler(embedder core.EmbeddingProvider, index core.VectorIndex) *SearchHandler {
	return &SearchHandler{embedder: embedder, index: index}
}

func (h *SearchHandler) Search(w http.ResponseWriter, r *http.Request) {
	subjectID := chi.URLParam(r, "subjectID")
	if subjectID == "" {
		http.Error(w, "subjectID is required", http.StatusBadRequest)
		return
	}

	var body struct {
		Query string `json:"query"`
		Limit int    `json:"limit"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.Query == "" {
		http.Error(w, "query is required", http.StatusBadRequest)
		return
	}
	if body.Limit <= 0 {
		body.Limit = defaultSearchLimit
	}

	vecs, err := h.embedder.EmbedTexts(r.Context(), []string{body.Query})
	if err != nil || len(vecs) != 1 {
		http.Error(w, "failed to embed query", http.StatusBadGateway)
		return
	}

	results, err := h.index.Search(r.Context(), subjectID, vecs[0], body.Limit)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, results)
}
