package ingestion_engine

import (
	"context"
	"fmt"
	"log/slog"
	"path"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/panjf2000/ants/v2"

	"github.com/quorumlabs/lexvault/internal/core"
	"github.com/quorumlabs/lexvault/internal/models"
)

// Outcome statuses surfaced to callers. Duplicate is a success, not a
// failure.
const (
	OutcomeCompleted = "completed"
	OutcomeDuplicate = "duplicate"
	OutcomeFailed    = "failed"
)

// maxErrorHistory bounds the error records kept on a staging row.
const maxErrorHistory = 10

// IngestInput is one raw document handed to the pipeline.
type IngestInput struct {
	Filename    string
	ContentType string
	Data        []byte
	SourceURL   string
	OrgID       string
	UserID      string

	// Drive-sourced inputs carry their identity tuple so the file
	// fingerprint is stable across re-syncs.
	FileHash          string
	DriveFileID       string
	DriveModifiedTime *time.Time
}

// IngestOutcome is the single result of one ingestion attempt.
type IngestOutcome struct {
	File         string `json:"file,omitempty"`
	Status       string `json:"status"`
	DocumentID   string `json:"document_id,omitempty"`
	ProcessingID string `json:"processing_id,omitempty"`
	ChunkCount   int    `json:"chunk_count,omitempty"`
	Reason       string `json:"reason,omitempty"`
	Error        string `json:"error,omitempty"`
}

// Pipeline is the processing state machine. One instance is shared by all
// requests; each Ingest call runs one document end to end with no shared
// mutable state beyond the store.
type Pipeline struct {
	db         core.DbClient
	obj        core.ObjectClient
	drive      core.DriveClient
	embedder   core.EmbeddingProvider
	extractor  core.MetadataExtractor
	normalizer *Normalizer
	chunker    *Chunker
	cfg        *IngestConfig
	bucket     string
	pool       *ants.Pool
	logger     *slog.Logger
}

// NewPipeline wires the pipeline. obj and drive may be nil when archival or
// drive sync is not configured; everything else is required.
func NewPipeline(
	db core.DbClient,
	obj core.ObjectClient,
	drive core.DriveClient,
	emb core.EmbeddingProvider,
	extractor core.MetadataExtractor,
	bucket string,
	cfg *IngestConfig,
) (*Pipeline, error) {
	if db == nil {
		return nil, fmt.Errorf("db client required")
	}
	if emb == nil {
		return nil, fmt.Errorf("embedding provider required")
	}
	if extractor == nil {
		return nil, fmt.Errorf("metadata extractor required")
	}
	if cfg == nil {
		cfg = DefaultIngestConfig()
	}
	cfg = cfg.normalized()

	pool, err := ants.NewPool(cfg.EmbedWorkers)
	if err != nil {
		return nil, fmt.Errorf("embed worker pool: %w", err)
	}

	return &Pipeline{
		db:         db,
		obj:        obj,
		drive:      drive,
		embedder:   emb,
		extractor:  extractor,
		normalizer: NewNormalizer(),
		chunker:    NewChunker(cfg.ChunkSize, cfg.ChunkOverlap),
		cfg:        cfg,
		bucket:     bucket,
		pool:       pool,
		logger:     slog.Default(),
	}, nil
}

// Supported reports whether the pipeline can normalize the given file.
func (p *Pipeline) Supported(filename, contentType string) bool {
	return p.normalizer.Supported(filename, contentType)
}

// Release frees the embedding worker pool.
func (p *Pipeline) Release() {
	if p.pool != nil {
		p.pool.Release()
	}
}

// Ingest runs one document through the full state machine:
//
//	normalize → dedup → staging row → extract+embed summary → promote
//	document → chunk → embed chunks → insert chunks → completed
//
// Every error is converted into a failed outcome; duplicates short-circuit
// before any staging record exists.
func (p *Pipeline) Ingest(ctx context.Context, in *IngestInput) *IngestOutcome {
	now := time.Now()

	if in.OrgID == "" || in.UserID == "" {
		return &IngestOutcome{File: in.Filename, Status: OutcomeFailed, Error: "missing owner org or user id"}
	}

	// File-level fingerprint first: no expensive work for known bytes.
	fileHash := in.FileHash
	if fileHash == "" {
		fileHash = FileFingerprint(in.Data)
	}
	verdict, err := p.checkDuplicates(ctx, fileHash, "")
	if err != nil {
		return &IngestOutcome{File: in.Filename, Status: OutcomeFailed, Error: err.Error()}
	}
	if verdict.IsDuplicate {
		return &IngestOutcome{File: in.Filename, Status: OutcomeDuplicate, DocumentID: verdict.DocumentID, Reason: verdict.Reason}
	}

	norm, err := p.normalizer.Normalize(in.Filename, in.ContentType, in.Data, now)
	if err != nil {
		// No staging record exists yet; validation and conversion failures
		// surface directly.
		return &IngestOutcome{File: in.Filename, Status: OutcomeFailed, Error: err.Error()}
	}

	// Content-level fingerprint catches the same logical content arriving
	// via a different source path.
	contentHash := ContentFingerprint(norm.Text)
	verdict, err = p.checkDuplicates(ctx, fileHash, contentHash)
	if err != nil {
		return &IngestOutcome{File: in.Filename, Status: OutcomeFailed, Error: err.Error()}
	}
	if verdict.IsDuplicate {
		return &IngestOutcome{File: in.Filename, Status: OutcomeDuplicate, DocumentID: verdict.DocumentID, Reason: verdict.Reason}
	}

	proc := &models.Processing{
		ID:               uuid.NewString(),
		OrgID:            in.OrgID,
		UserID:           in.UserID,
		Status:           models.StatusUploaded,
		Title:            norm.Title,
		SourceURL:        firstNonEmpty(in.SourceURL, norm.SourceURL),
		FilePath:         norm.FilePath,
		DocType:          norm.DocType,
		EffectiveDate:    norm.EffectiveDate,
		LastUpdated:      norm.LastUpdated,
		Content:          norm.Text,
		DocumentMetadata: norm.Metadata,
		Metadata: models.Metadata{
			"originalFilename": in.Filename,
			"fileSize":         len(in.Data),
			"mimeType":         in.ContentType,
			"uploadedAt":       now.UTC().Format(time.RFC3339),
		},
		FileHash:          fileHash,
		ContentHash:       contentHash,
		DriveFileID:       in.DriveFileID,
		DriveModifiedTime: in.DriveModifiedTime,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	if err := p.db.CreateProcessing(ctx, proc); err != nil {
		return &IngestOutcome{File: in.Filename, Status: OutcomeFailed, Error: fmt.Sprintf("create staging record: %v", err)}
	}

	p.archive(ctx, proc, in, norm)

	// uploaded → converted: canonical text is in place.
	if err := p.advance(ctx, proc, models.StatusConverted); err != nil {
		return p.fail(ctx, in, proc, core.NewPersistenceError(string(models.StatusUploaded), err))
	}

	// converted → embedded: model-derived metadata plus summary embedding.
	insights, err := p.extractInsights(ctx, norm.Text)
	if err != nil {
		return p.fail(ctx, in, proc, core.NewModelError(string(models.StatusConverted), err))
	}
	p.applyInsights(proc, insights, now)

	sumVec, err := p.embedText(ctx, proc.Summary, core.EmbedModeDocument)
	if err != nil {
		return p.fail(ctx, in, proc, core.NewModelError(string(models.StatusConverted), err))
	}
	proc.SummaryEmbedding = sumVec

	if err := p.advance(ctx, proc, models.StatusEmbedded); err != nil {
		return p.fail(ctx, in, proc, core.NewPersistenceError(string(models.StatusConverted), err))
	}

	// embedded → indexed: promote the staging fields into a Document row,
	// reusing the staging id for 1:1 lineage.
	doc := promote(proc, now)
	if err := p.db.CreateDocument(ctx, doc); err != nil {
		return p.fail(ctx, in, proc, core.NewPersistenceError(string(models.StatusEmbedded), err))
	}
	if err := p.advance(ctx, proc, models.StatusIndexed); err != nil {
		return p.fail(ctx, in, proc, core.NewPersistenceError(string(models.StatusEmbedded), err))
	}

	// indexed → completed: chunk, embed every chunk, insert in one batch.
	segs := p.chunker.Chunk(norm.Text)
	rows, err := p.embedSegments(ctx, proc, doc.ID, segs)
	if err != nil {
		return p.fail(ctx, in, proc, core.NewModelError(string(models.StatusIndexed), err))
	}
	if err := p.db.InsertChunks(ctx, rows); err != nil {
		return p.fail(ctx, in, proc, core.NewPersistenceError(string(models.StatusIndexed), err))
	}
	if err := p.advance(ctx, proc, models.StatusCompleted); err != nil {
		return p.fail(ctx, in, proc, core.NewPersistenceError(string(models.StatusIndexed), err))
	}

	// The document and chunks own the data now; the staging row has served
	// its purpose. Deletion is best-effort.
	if err := p.db.DeleteProcessing(ctx, proc.ID); err != nil {
		p.logger.Warn("delete staging record", "processing_id", proc.ID, "err", err)
	}

	return &IngestOutcome{
		File:         in.Filename,
		Status:       OutcomeCompleted,
		DocumentID:   doc.ID,
		ProcessingID: proc.ID,
		ChunkCount:   len(rows),
	}
}

// advance performs one forward transition as a single persistence operation.
func (p *Pipeline) advance(ctx context.Context, proc *models.Processing, to models.Status) error {
	if !models.CanAdvance(proc.Status, to) {
		return fmt.Errorf("illegal transition %s → %s", proc.Status, to)
	}
	if err := p.db.UpdateProcessingStage(ctx, proc, to); err != nil {
		return err
	}
	proc.Status = to
	return nil
}

// fail records the stage failure on the staging record (retries+1, bounded
// error history) and surfaces one failed outcome. A secondary failure while
// recording is logged separately and never masks the original error.
func (p *Pipeline) fail(ctx context.Context, in *IngestInput, proc *models.Processing, sf *core.StageFailure) *IngestOutcome {
	rec := models.StageError{
		Kind:    sf.Kind,
		Stage:   models.Status(sf.Stage),
		Message: sf.Err.Error(),
		At:      time.Now().UTC(),
	}

	history, _ := proc.Metadata["errors"].([]models.StageError)
	history = append(history, rec)
	if len(history) > maxErrorHistory {
		history = history[len(history)-maxErrorHistory:]
	}
	if proc.Metadata == nil {
		proc.Metadata = models.Metadata{}
	}
	proc.Metadata["errors"] = history
	proc.Retries++
	proc.Status = models.StatusFailed

	if rerr := p.db.MarkProcessingFailed(ctx, proc.ID, proc.Retries, proc.Metadata); rerr != nil {
		p.logger.Error("record stage failure", "processing_id", proc.ID, "err", rerr, "original", sf)
	}

	return &IngestOutcome{
		File:         in.Filename,
		Status:       OutcomeFailed,
		ProcessingID: proc.ID,
		Error:        sf.Error(),
	}
}

// applyInsights merges the model's structured metadata onto the staging
// record. The summary gets its own column; everything else lands in the
// document metadata map.
func (p *Pipeline) applyInsights(proc *models.Processing, ins *core.DocumentInsights, now time.Time) {
	if ins.Title != "" {
		proc.Title = ins.Title
	}
	if ins.DocType != "" {
		proc.DocType = ins.DocType
	}
	proc.Summary = ins.Summary
	proc.LastUpdated = ins.LastUpdatedTime(now)

	if proc.DocumentMetadata == nil {
		proc.DocumentMetadata = models.Metadata{}
	}
	proc.DocumentMetadata["longTitle"] = ins.LongTitle
	proc.DocumentMetadata["keyEntities"] = ins.KeyEntities
	proc.DocumentMetadata["subjects"] = ins.Subjects
	proc.DocumentMetadata["confidence"] = ins.Confidence
}

// promote builds the finalized Document from a fully embedded staging
// record. The document id is the staging id.
func promote(proc *models.Processing, now time.Time) *models.Document {
	return &models.Document{
		ID:                proc.ID,
		OrgID:             proc.OrgID,
		UserID:            proc.UserID,
		Title:             proc.Title,
		SourceURL:         proc.SourceURL,
		FilePath:          proc.FilePath,
		DocType:           proc.DocType,
		EffectiveDate:     proc.EffectiveDate,
		LastUpdated:       proc.LastUpdated,
		Metadata:          proc.DocumentMetadata,
		Summary:           proc.Summary,
		SummaryEmbedding:  proc.SummaryEmbedding,
		FileHash:          proc.FileHash,
		ContentHash:       proc.ContentHash,
		DriveFileID:       proc.DriveFileID,
		DriveModifiedTime: proc.DriveModifiedTime,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
}

// embedSegments fans per-chunk embedding calls out over the worker pool and
// joins them order-preserved by index. Any single failure fails the whole
// stage; no partial chunk set is ever returned.
func (p *Pipeline) embedSegments(ctx context.Context, proc *models.Processing, docID string, segs []Segment) ([]models.Chunk, error) {
	rows := make([]models.Chunk, len(segs))

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		firstErr error
	)
	for i := range segs {
		seg := segs[i]
		idx := i
		wg.Add(1)
		submitErr := p.pool.Submit(func() {
			defer wg.Done()
			vec, err := p.embedText(ctx, seg.Content, core.EmbedModeDocument)
			if err != nil {
				mu.Lock()
				if firstErr == nil {
					firstErr = fmt.Errorf("embed chunk %d: %w", seg.Index, err)
				}
				mu.Unlock()
				return
			}
			rows[idx] = models.Chunk{
				ID:           uuid.NewString(),
				DocumentID:   docID,
				OrgID:        proc.OrgID,
				UserID:       proc.UserID,
				Content:      seg.Content,
				Metadata:     proc.DocumentMetadata,
				Embedding:    vec,
				ChunkIndex:   seg.Index,
				ChunkSize:    p.cfg.ChunkSize,
				ChunkOverlap: p.cfg.ChunkOverlap,
				StartChar:    seg.StartChar,
				EndChar:      seg.EndChar,
			}
		})
		if submitErr != nil {
			wg.Done()
			mu.Lock()
			if firstErr == nil {
				firstErr = fmt.Errorf("submit embed job: %w", submitErr)
			}
			mu.Unlock()
		}
	}
	wg.Wait()

	if firstErr != nil {
		return nil, firstErr
	}
	return rows, nil
}

// archive durably retains the original artifact and derived markdown in
// object storage. Best-effort: the text pipeline never blocks on it.
func (p *Pipeline) archive(ctx context.Context, proc *models.Processing, in *IngestInput, norm *NormalizedDoc) {
	if p.obj == nil || p.bucket == "" {
		return
	}

	base := path.Join("orgs", proc.OrgID, "documents", proc.ID)
	name := strings.ReplaceAll(path.Base(in.Filename), " ", "_")
	if name == "" || name == "." {
		name = "original"
	}

	if url, err := p.obj.UploadFile(ctx, p.bucket, path.Join(base, name), in.Data, in.ContentType); err != nil {
		p.logger.Warn("archive original", "processing_id", proc.ID, "err", err)
	} else if proc.SourceURL == "" {
		proc.SourceURL = url
	}

	if _, err := p.obj.UploadFile(ctx, p.bucket, path.Join(base, "normalized.md"), []byte(norm.Text), "text/markdown"); err != nil {
		p.logger.Warn("archive normalized text", "processing_id", proc.ID, "err", err)
	}
}

// Stage-scoped wrappers apply the per-stage timeout around external calls so
// a hung collaborator ends as a stage failure instead of a stuck pipeline.

func (p *Pipeline) checkDuplicates(ctx context.Context, fileHash, contentHash string) (DuplicateVerdict, error) {
	stageCtx, cancel := context.WithTimeout(ctx, p.cfg.StageTimeout)
	defer cancel()
	return CheckDuplicates(stageCtx, p.db, fileHash, contentHash)
}

func (p *Pipeline) extractInsights(ctx context.Context, text string) (*core.DocumentInsights, error) {
	stageCtx, cancel := context.WithTimeout(ctx, p.cfg.StageTimeout)
	defer cancel()
	return p.extractor.ExtractInsights(stageCtx, text)
}

func (p *Pipeline) embedText(ctx context.Context, text string, mode core.EmbedMode) ([]float32, error) {
	stageCtx, cancel := context.WithTimeout(ctx, p.cfg.StageTimeout)
	defer cancel()
	return p.embedder.EmbedText(stageCtx, text, mode)
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
