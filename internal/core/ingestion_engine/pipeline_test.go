package ingestion_engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quorumlabs/lexvault/internal/core"
	"github.com/quorumlabs/lexvault/internal/models"
)

// fakeDB is an in-memory DbClient for pipeline tests. It enforces the same
// status guard as the real client so illegal transitions fail loudly.
type fakeDB struct {
	mu         sync.Mutex
	processing map[string]*models.Processing
	documents  map[string]*models.Document
	chunks     map[string][]models.Chunk
	searches   []models.SearchLog

	statusTrail []models.Status

	failCreateDocument bool
	failInsertChunks   bool
}

func newFakeDB() *fakeDB {
	return &fakeDB{
		processing: make(map[string]*models.Processing),
		documents:  make(map[string]*models.Document),
		chunks:     make(map[string][]models.Chunk),
	}
}

func (f *fakeDB) CreateProcessing(ctx context.Context, p *models.Processing) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := *p
	f.processing[p.ID] = &cp
	f.statusTrail = append(f.statusTrail, p.Status)
	return nil
}

func (f *fakeDB) GetProcessingByID(ctx context.Context, id string) (*models.Processing, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.processing[id]
	if !ok {
		return nil, nil
	}
	cp := *p
	return &cp, nil
}

func (f *fakeDB) UpdateProcessingStage(ctx context.Context, p *models.Processing, status models.Status) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	stored, ok := f.processing[p.ID]
	if !ok {
		return fmt.Errorf("processing record not found: %s", p.ID)
	}
	if stored.Status != p.Status {
		return fmt.Errorf("processing record %s not in status %s", p.ID, p.Status)
	}
	cp := *p
	cp.Status = status
	f.processing[p.ID] = &cp
	f.statusTrail = append(f.statusTrail, status)
	return nil
}

func (f *fakeDB) MarkProcessingFailed(ctx context.Context, id string, retries int, meta models.Metadata) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	stored, ok := f.processing[id]
	if !ok {
		return fmt.Errorf("processing record not found: %s", id)
	}
	stored.Status = models.StatusFailed
	stored.Retries = retries
	stored.Metadata = meta
	f.statusTrail = append(f.statusTrail, models.StatusFailed)
	return nil
}

func (f *fakeDB) DeleteProcessing(ctx context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.processing, id)
	return nil
}

func (f *fakeDB) CreateDocument(ctx context.Context, doc *models.Document) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failCreateDocument {
		return errors.New("simulated insert failure")
	}
	cp := *doc
	f.documents[doc.ID] = &cp
	return nil
}

func (f *fakeDB) GetDocumentByID(ctx context.Context, id string) (*models.Document, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	d, ok := f.documents[id]
	if !ok {
		return nil, nil
	}
	cp := *d
	return &cp, nil
}

func (f *fakeDB) ListDocumentsByOrg(ctx context.Context, orgID string) ([]models.Document, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []models.Document
	for _, d := range f.documents {
		if d.OrgID == orgID {
			out = append(out, *d)
		}
	}
	return out, nil
}

func (f *fakeDB) FindDocumentByFileHash(ctx context.Context, fileHash string) (*models.Document, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, d := range f.documents {
		if d.FileHash == fileHash {
			cp := *d
			return &cp, nil
		}
	}
	return nil, nil
}

func (f *fakeDB) FindDocumentByContentHash(ctx context.Context, contentHash string) (*models.Document, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if contentHash == "" {
		return nil, nil
	}
	for _, d := range f.documents {
		if d.ContentHash == contentHash {
			cp := *d
			return &cp, nil
		}
	}
	return nil, nil
}

func (f *fakeDB) InsertChunks(ctx context.Context, chunks []models.Chunk) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failInsertChunks {
		return errors.New("simulated chunk insert failure")
	}
	for _, ch := range chunks {
		f.chunks[ch.DocumentID] = append(f.chunks[ch.DocumentID], ch)
	}
	return nil
}

func (f *fakeDB) GetChunksByDocument(ctx context.Context, documentID string) ([]models.Chunk, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]models.Chunk(nil), f.chunks[documentID]...), nil
}

func (f *fakeDB) SearchChunksByEmbedding(ctx context.Context, orgID string, queryVec []float32, limit int) ([]models.Chunk, error) {
	return nil, nil
}

func (f *fakeDB) SearchChunksLexical(ctx context.Context, orgID string, query string, limit int) ([]models.Chunk, error) {
	return nil, nil
}

func (f *fakeDB) RecordSearch(ctx context.Context, log *models.SearchLog) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.searches = append(f.searches, *log)
	return nil
}

func (f *fakeDB) Close() error { return nil }

var _ core.DbClient = (*fakeDB)(nil)

// stubEmbedder returns a fixed-size vector derived from the text length.
type stubEmbedder struct {
	mu    sync.Mutex
	calls int
	fail  bool
}

func (s *stubEmbedder) EmbedText(ctx context.Context, text string, mode core.EmbedMode) ([]float32, error) {
	s.mu.Lock()
	s.calls++
	s.mu.Unlock()
	if s.fail {
		return nil, errors.New("simulated embed failure")
	}
	return []float32{float32(len(text)), 1, 2}, nil
}

func (s *stubEmbedder) Dim() int { return 3 }

type stubExtractor struct {
	fail bool
}

func (s *stubExtractor) ExtractInsights(ctx context.Context, text string) (*core.DocumentInsights, error) {
	if s.fail {
		return nil, errors.New("simulated extraction failure")
	}
	return &core.DocumentInsights{
		Summary:     "a short summary",
		DocType:     "resolution",
		Title:       "Extracted Title",
		LongTitle:   "The Fully Formal Extracted Title",
		LastUpdated: "2024-02-01",
		KeyEntities: []string{"Board of Directors"},
		Subjects:    []string{"budget"},
		Confidence:  0.92,
	}, nil
}

type stubDrive struct {
	files      []*core.DriveFile
	exports    map[string][]byte
	exportErr  error
	mapErr     error
	exportType string
}

func (s *stubDrive) MapFolder(ctx context.Context, folderID string) ([]*core.DriveFile, error) {
	if s.mapErr != nil {
		return nil, s.mapErr
	}
	return s.files, nil
}

func (s *stubDrive) ExportFile(ctx context.Context, f *core.DriveFile) ([]byte, string, error) {
	if s.exportErr != nil {
		return nil, "", s.exportErr
	}
	ct := s.exportType
	if ct == "" {
		ct = "application/json"
	}
	return s.exports[f.ID], ct, nil
}

func newTestPipeline(t *testing.T, db *fakeDB, drive core.DriveClient, emb core.EmbeddingProvider, ext core.MetadataExtractor) *Pipeline {
	t.Helper()
	if emb == nil {
		emb = &stubEmbedder{}
	}
	if ext == nil {
		ext = &stubExtractor{}
	}
	cfg := &IngestConfig{
		ChunkSize:     200,
		ChunkOverlap:  40,
		MaxConcurrent: 2,
		MaxBatchSize:  10,
		EmbedWorkers:  4,
		StageTimeout:  5 * time.Second,
	}
	p, err := NewPipeline(db, nil, drive, emb, ext, "", cfg)
	require.NoError(t, err)
	t.Cleanup(p.Release)
	return p
}

func jsonInput(filename, text string) *IngestInput {
	return &IngestInput{
		Filename:    filename,
		ContentType: "application/json",
		Data:        []byte(fmt.Sprintf(`{"title": "Doc", "text": %q}`, text)),
		OrgID:       "org-1",
		UserID:      "user-1",
	}
}

func TestIngestCompletesAndPromotes(t *testing.T) {
	ctx := context.Background()
	db := newFakeDB()
	p := newTestPipeline(t, db, nil, nil, nil)

	out := p.Ingest(ctx, jsonInput("resolution.json", "RESOLVED that the budget is adopted. The treasurer shall publish it."))

	require.Equal(t, OutcomeCompleted, out.Status)
	require.NotEmpty(t, out.DocumentID)
	assert.Equal(t, out.ProcessingID, out.DocumentID, "document id must reuse the staging id")
	assert.Greater(t, out.ChunkCount, 0)

	doc, err := db.GetDocumentByID(ctx, out.DocumentID)
	require.NoError(t, err)
	require.NotNil(t, doc)
	assert.Equal(t, "Extracted Title", doc.Title)
	assert.Equal(t, "resolution", doc.DocType)
	assert.Equal(t, "a short summary", doc.Summary)
	assert.NotEmpty(t, doc.SummaryEmbedding)
	assert.NotEmpty(t, doc.FileHash)
	assert.NotEmpty(t, doc.ContentHash)
	assert.Equal(t, "The Fully Formal Extracted Title", doc.Metadata["longTitle"])

	// Staging row is gone after completion.
	proc, err := db.GetProcessingByID(ctx, out.ProcessingID)
	require.NoError(t, err)
	assert.Nil(t, proc)

	chunks, err := db.GetChunksByDocument(ctx, out.DocumentID)
	require.NoError(t, err)
	require.Len(t, chunks, out.ChunkCount)
	for i, ch := range chunks {
		assert.Equal(t, i, ch.ChunkIndex)
		assert.Equal(t, "org-1", ch.OrgID)
		assert.NotEmpty(t, ch.Embedding)
		assert.Equal(t, ch.EndChar-ch.StartChar, len(ch.Content))
	}
}

func TestIngestStatusNeverRegresses(t *testing.T) {
	db := newFakeDB()
	p := newTestPipeline(t, db, nil, nil, nil)

	out := p.Ingest(context.Background(), jsonInput("doc.json", "body text for the walk"))

	require.Equal(t, OutcomeCompleted, out.Status)
	require.Equal(t, []models.Status{
		models.StatusUploaded,
		models.StatusConverted,
		models.StatusEmbedded,
		models.StatusIndexed,
		models.StatusCompleted,
	}, db.statusTrail)
	for i := 1; i < len(db.statusTrail); i++ {
		assert.True(t, models.CanAdvance(db.statusTrail[i-1], db.statusTrail[i]))
	}
}

func TestIngestDuplicateByFileHash(t *testing.T) {
	ctx := context.Background()
	db := newFakeDB()
	p := newTestPipeline(t, db, nil, nil, nil)

	in := jsonInput("doc.json", "identical bytes")
	db.documents["existing"] = &models.Document{ID: "existing", FileHash: FileFingerprint(in.Data)}

	out := p.Ingest(ctx, in)

	assert.Equal(t, OutcomeDuplicate, out.Status)
	assert.Equal(t, DuplicateReasonFileHash, out.Reason)
	assert.Equal(t, "existing", out.DocumentID)
	assert.Empty(t, db.processing, "no staging record for duplicates")
}

func TestIngestDuplicateByContentHash(t *testing.T) {
	ctx := context.Background()
	db := newFakeDB()
	p := newTestPipeline(t, db, nil, nil, nil)

	// Same logical text arriving as different bytes (different title field),
	// so only the content fingerprint can catch it.
	text := "the same normalized body"
	db.documents["existing"] = &models.Document{
		ID:          "existing",
		FileHash:    "some-other-file-hash",
		ContentHash: ContentFingerprint(text),
	}

	out := p.Ingest(ctx, jsonInput("renamed.json", text))

	assert.Equal(t, OutcomeDuplicate, out.Status)
	assert.Equal(t, DuplicateReasonContentHash, out.Reason)
	assert.Equal(t, "existing", out.DocumentID)
	assert.Empty(t, db.processing)
}

func TestIngestUnsupportedType(t *testing.T) {
	db := newFakeDB()
	p := newTestPipeline(t, db, nil, nil, nil)

	out := p.Ingest(context.Background(), &IngestInput{
		Filename:    "archive.zip",
		ContentType: "application/zip",
		Data:        []byte("binary"),
		OrgID:       "org-1",
		UserID:      "user-1",
	})

	assert.Equal(t, OutcomeFailed, out.Status)
	assert.Contains(t, out.Error, "unsupported file type")
	assert.Empty(t, db.processing, "validation failures leave no staging record")
}

func TestIngestModelFailureKeepsFailedRecord(t *testing.T) {
	ctx := context.Background()
	db := newFakeDB()
	p := newTestPipeline(t, db, nil, nil, &stubExtractor{fail: true})

	out := p.Ingest(ctx, jsonInput("doc.json", "text that reaches extraction"))

	require.Equal(t, OutcomeFailed, out.Status)
	require.NotEmpty(t, out.ProcessingID)
	assert.Empty(t, out.DocumentID)

	proc, err := db.GetProcessingByID(ctx, out.ProcessingID)
	require.NoError(t, err)
	require.NotNil(t, proc, "failed staging record must be kept for retry")
	assert.Equal(t, models.StatusFailed, proc.Status)
	assert.Equal(t, 1, proc.Retries)

	history, ok := proc.Metadata["errors"].([]models.StageError)
	require.True(t, ok)
	require.Len(t, history, 1)
	assert.Equal(t, core.KindModel, history[0].Kind)
	assert.Equal(t, models.StatusConverted, history[0].Stage)
	assert.Contains(t, history[0].Message, "simulated extraction failure")

	assert.Empty(t, db.documents)
}

func TestIngestEmbedFailure(t *testing.T) {
	db := newFakeDB()
	p := newTestPipeline(t, db, nil, &stubEmbedder{fail: true}, nil)

	out := p.Ingest(context.Background(), jsonInput("doc.json", "text"))

	require.Equal(t, OutcomeFailed, out.Status)
	proc, _ := db.GetProcessingByID(context.Background(), out.ProcessingID)
	require.NotNil(t, proc)
	assert.Equal(t, models.StatusFailed, proc.Status)
}

func TestIngestPersistenceFailureAtPromotion(t *testing.T) {
	db := newFakeDB()
	db.failCreateDocument = true
	p := newTestPipeline(t, db, nil, nil, nil)

	out := p.Ingest(context.Background(), jsonInput("doc.json", "text that reaches promotion"))

	require.Equal(t, OutcomeFailed, out.Status)
	assert.Contains(t, out.Error, "persistence")

	proc, _ := db.GetProcessingByID(context.Background(), out.ProcessingID)
	require.NotNil(t, proc)
	assert.Equal(t, models.StatusFailed, proc.Status)
	assert.Equal(t, 1, proc.Retries)
}

func TestIngestChunkEmbeddingOrderPreserved(t *testing.T) {
	ctx := context.Background()
	db := newFakeDB()
	p := newTestPipeline(t, db, nil, nil, nil)

	// Long enough to force several chunks through the worker pool.
	var text string
	for i := 0; i < 30; i++ {
		text += fmt.Sprintf("Clause %d of this agreement binds every signatory without exception. ", i+1)
	}

	out := p.Ingest(ctx, jsonInput("agreement.json", text))

	require.Equal(t, OutcomeCompleted, out.Status)
	require.Greater(t, out.ChunkCount, 2)

	chunks, err := db.GetChunksByDocument(ctx, out.DocumentID)
	require.NoError(t, err)
	prevEnd := 0
	for i, ch := range chunks {
		assert.Equal(t, i, ch.ChunkIndex)
		if i > 0 {
			assert.LessOrEqual(t, ch.StartChar, prevEnd, "no positional gaps between chunks")
			assert.Greater(t, ch.EndChar, prevEnd, "chunk offsets must advance")
		}
		prevEnd = ch.EndChar
	}
}

func TestIngestMissingIdentity(t *testing.T) {
	db := newFakeDB()
	p := newTestPipeline(t, db, nil, nil, nil)

	out := p.Ingest(context.Background(), &IngestInput{Filename: "x.json", Data: []byte("{}")})

	assert.Equal(t, OutcomeFailed, out.Status)
	assert.Contains(t, out.Error, "owner")
}
