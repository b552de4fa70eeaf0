package handlers

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/quorumlabs/lexvault/internal/core"
	"github.com/quorumlabs/lexvault/internal/models"
)

const (
	SearchTypeSemantic = "semantic"
	SearchTypeKeyword  = "keyword"
	SearchTypeHybrid   = "hybrid"

	defaultSearchLimit = 10
	maxSearchLimit     = 50

	// rrfK dampens rank differences in reciprocal rank fusion; 60 is the
	// value from the original RRF paper and works well unmodified.
	rrfK = 60
)

type SearchHandler struct {
	dbclient core.DbClient
	embedder core.EmbeddingProvider
}

func NewSearchHandler(db core.DbClient, emb core.EmbeddingProvider) *SearchHandler {
	return &SearchHandler{dbclient: db, embedder: emb}
}

type SearchResponse struct {
	Results []models.Chunk `json:"results"`
	Total   int            `json:"total"`
	Type    string         `json:"type"`
}

// Search runs a semantic, keyword or hybrid chunk search scoped to the
// caller's org and records the query for analytics.
func (h *SearchHandler) Search(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	userID, orgID, ok := callerIdentity(r)
	if !ok {
		http.Error(w, "caller identity not found in context", http.StatusUnauthorized)
		return
	}

	query := strings.TrimSpace(r.URL.Query().Get("query"))
	if query == "" {
		writeJSON(w, http.StatusOK, SearchResponse{Results: []models.Chunk{}, Total: 0})
		return
	}

	searchType := r.URL.Query().Get("type")
	switch searchType {
	case SearchTypeSemantic, SearchTypeKeyword, SearchTypeHybrid:
	case "":
		searchType = SearchTypeSemantic
	default:
		http.Error(w, fmt.Sprintf("unknown search type %q", searchType), http.StatusBadRequest)
		return
	}

	limit := defaultSearchLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			http.Error(w, "invalid limit", http.StatusBadRequest)
			return
		}
		limit = min(n, maxSearchLimit)
	}

	var (
		chunks []models.Chunk
		err    error
	)
	switch searchType {
	case SearchTypeSemantic:
		chunks, err = h.semantic(ctx, orgID, query, limit)
	case SearchTypeKeyword:
		chunks, err = h.dbclient.SearchChunksLexical(ctx, orgID, query, limit)
	case SearchTypeHybrid:
		chunks, err = h.hybrid(ctx, orgID, query, limit)
	}
	if err != nil {
		http.Error(w, fmt.Sprintf("search failed: %v", err), http.StatusInternalServerError)
		return
	}

	if err := h.dbclient.RecordSearch(ctx, &models.SearchLog{
		ID:           uuid.NewString(),
		OrgID:        orgID,
		UserID:       userID,
		Query:        query,
		ResultsCount: len(chunks),
		SearchType:   searchType,
		CreatedAt:    time.Now(),
	}); err != nil {
		// Analytics must never fail the search itself.
		slog.Warn("record search", "err", err)
	}

	if chunks == nil {
		chunks = []models.Chunk{}
	}
	writeJSON(w, http.StatusOK, SearchResponse{Results: chunks, Total: len(chunks), Type: searchType})
}

func (h *SearchHandler) semantic(ctx context.Context, orgID, query string, limit int) ([]models.Chunk, error) {
	vec, err := h.embedder.EmbedText(ctx, query, core.EmbedModeQuery)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}
	return h.dbclient.SearchChunksByEmbedding(ctx, orgID, vec, limit)
}

// hybrid fuses the vector and lexical rankings with reciprocal rank fusion:
// each chunk scores the sum of 1/(k+rank) over the lists it appears in, so
// chunks ranked well by both retrievers rise to the top.
func (h *SearchHandler) hybrid(ctx context.Context, orgID, query string, limit int) ([]models.Chunk, error) {
	semantic, err := h.semantic(ctx, orgID, query, limit)
	if err != nil {
		return nil, err
	}
	lexical, err := h.dbclient.SearchChunksLexical(ctx, orgID, query, limit)
	if err != nil {
		return nil, err
	}

	scores := make(map[string]float64)
	byID := make(map[string]models.Chunk)
	for rank, ch := range semantic {
		scores[ch.ID] += 1.0 / float64(rrfK+rank+1)
		byID[ch.ID] = ch
	}
	for rank, ch := range lexical {
		scores[ch.ID] += 1.0 / float64(rrfK+rank+1)
		byID[ch.ID] = ch
	}

	merged := make([]models.Chunk, 0, len(byID))
	for id := range byID {
		merged = append(merged, byID[id])
	}
	sort.Slice(merged, func(i, j int) bool {
		si, sj := scores[merged[i].ID], scores[merged[j].ID]
		if si != sj {
			return si > sj
		}
		return merged[i].ID < merged[j].ID
	})
	if len(merged) > limit {
		merged = merged[:limit]
	}
	return merged, nil
}
