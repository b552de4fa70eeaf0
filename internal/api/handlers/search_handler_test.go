package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quorumlabs/lexvault/internal/core"
	"github.com/quorumlabs/lexvault/internal/models"
)

// searchFakeDB stubs only the operations the search handler touches.
type searchFakeDB struct {
	core.DbClient

	semantic []models.Chunk
	lexical  []models.Chunk
	searches []models.SearchLog
}

func (f *searchFakeDB) SearchChunksByEmbedding(ctx context.Context, orgID string, queryVec []float32, limit int) ([]models.Chunk, error) {
	return f.semantic, nil
}

func (f *searchFakeDB) SearchChunksLexical(ctx context.Context, orgID string, query string, limit int) ([]models.Chunk, error) {
	return f.lexical, nil
}

func (f *searchFakeDB) RecordSearch(ctx context.Context, log *models.SearchLog) error {
	f.searches = append(f.searches, *log)
	return nil
}

type searchFakeEmbedder struct{}

func (searchFakeEmbedder) EmbedText(ctx context.Context, text string, mode core.EmbedMode) ([]float32, error) {
	return []float32{1, 2, 3}, nil
}

func (searchFakeEmbedder) Dim() int { return 3 }

func searchRequest(t *testing.T, target string) *http.Request {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, target, nil)
	ctx := context.WithValue(req.Context(), "user_id", "user-1")
	ctx = context.WithValue(ctx, "org_id", "org-1")
	return req.WithContext(ctx)
}

func decodeSearchResponse(t *testing.T, rec *httptest.ResponseRecorder) SearchResponse {
	t.Helper()
	var resp SearchResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	return resp
}

func TestSearchSemantic(t *testing.T) {
	db := &searchFakeDB{
		semantic: []models.Chunk{{ID: "c1", Content: "vector hit"}},
	}
	h := NewSearchHandler(db, searchFakeEmbedder{})

	rec := httptest.NewRecorder()
	h.Search(rec, searchRequest(t, "/api/search?query=budget"))

	require.Equal(t, http.StatusOK, rec.Code)
	resp := decodeSearchResponse(t, rec)
	assert.Equal(t, SearchTypeSemantic, resp.Type)
	require.Len(t, resp.Results, 1)
	assert.Equal(t, "c1", resp.Results[0].ID)

	require.Len(t, db.searches, 1)
	assert.Equal(t, "budget", db.searches[0].Query)
	assert.Equal(t, 1, db.searches[0].ResultsCount)
	assert.Equal(t, SearchTypeSemantic, db.searches[0].SearchType)
	assert.Equal(t, "org-1", db.searches[0].OrgID)
}

func TestSearchHybridFusesRankings(t *testing.T) {
	// c2 appears in both rankings and must outrank the chunks that appear
	// in only one, even when those hold the top single-list positions.
	db := &searchFakeDB{
		semantic: []models.Chunk{{ID: "c1"}, {ID: "c2"}},
		lexical:  []models.Chunk{{ID: "c3"}, {ID: "c2"}},
	}
	h := NewSearchHandler(db, searchFakeEmbedder{})

	rec := httptest.NewRecorder()
	h.Search(rec, searchRequest(t, "/api/search?query=budget&type=hybrid"))

	require.Equal(t, http.StatusOK, rec.Code)
	resp := decodeSearchResponse(t, rec)
	require.Len(t, resp.Results, 3)
	assert.Equal(t, "c2", resp.Results[0].ID)
}

func TestSearchKeyword(t *testing.T) {
	db := &searchFakeDB{
		lexical: []models.Chunk{{ID: "k1"}, {ID: "k2"}},
	}
	h := NewSearchHandler(db, searchFakeEmbedder{})

	rec := httptest.NewRecorder()
	h.Search(rec, searchRequest(t, "/api/search?query=quorum&type=keyword"))

	require.Equal(t, http.StatusOK, rec.Code)
	resp := decodeSearchResponse(t, rec)
	assert.Equal(t, SearchTypeKeyword, resp.Type)
	assert.Len(t, resp.Results, 2)
}

func TestSearchEmptyQuery(t *testing.T) {
	db := &searchFakeDB{}
	h := NewSearchHandler(db, searchFakeEmbedder{})

	rec := httptest.NewRecorder()
	h.Search(rec, searchRequest(t, "/api/search?query="))

	require.Equal(t, http.StatusOK, rec.Code)
	resp := decodeSearchResponse(t, rec)
	assert.Empty(t, resp.Results)
	assert.Zero(t, resp.Total)
	assert.Empty(t, db.searches, "empty queries are not logged")
}

func TestSearchRejectsUnknownType(t *testing.T) {
	h := NewSearchHandler(&searchFakeDB{}, searchFakeEmbedder{})

	rec := httptest.NewRecorder()
	h.Search(rec, searchRequest(t, "/api/search?query=x&type=fuzzy"))

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestSearchRequiresIdentity(t *testing.T) {
	h := NewSearchHandler(&searchFakeDB{}, searchFakeEmbedder{})

	rec := httptest.NewRecorder()
	h.Search(rec, httptest.NewRequest(http.MethodGet, "/api/search?query=x", nil))

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestExtractFolderID(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"https://drive.google.com/drive/folders/abc123", "abc123"},
		{"https://drive.google.com/drive/folders/abc123/", "abc123"},
		{"https://drive.google.com/drive/folders/abc123?usp=sharing", "abc123"},
		{"", ""},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, extractFolderID(tt.in), tt.in)
	}
}

func TestBaseContentType(t *testing.T) {
	assert.Equal(t, "text/html", baseContentType("text/html; charset=utf-8"))
	assert.Equal(t, "application/json", baseContentType("Application/JSON"))
	assert.Equal(t, "application/octet-stream", baseContentType(""))
}
