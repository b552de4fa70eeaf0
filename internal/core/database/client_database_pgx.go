package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/pgvector/pgvector-go"

	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/quorumlabs/lexvault/internal/config"
	"github.com/quorumlabs/lexvault/internal/core"
	"github.com/quorumlabs/lexvault/internal/models"
)

type DatabaseClient struct {
	db *sql.DB
}

func NewDatabaseClient(ctx context.Context, cfg *config.Config) (core.DbClient, error) {
	if cfg == nil {
		return nil, fmt.Errorf("database client configuration is nil")
	}
	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is empty")
	}

	db, err := sql.Open("pgx", cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}

	// Sensible pool settings for an API service; adjust as needed.
	db.SetMaxOpenConns(20)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(30 * time.Minute)
	db.SetConnMaxIdleTime(10 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping db: %w", err)
	}

	if err := EnsureBootstrapped(ctx, db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("bootstrap: %w", err)
	}

	return &DatabaseClient{db: db}, nil
}

func (c *DatabaseClient) Close() error {
	if c.db != nil {
		return c.db.Close()
	}
	return nil
}

// jsonb helpers: Metadata maps ride to Postgres as marshalled json bytes.

func toJSONB(m models.Metadata) ([]byte, error) {
	if m == nil {
		m = models.Metadata{}
	}
	return json.Marshal(m)
}

func fromJSONB(raw []byte) (models.Metadata, error) {
	if len(raw) == 0 {
		return models.Metadata{}, nil
	}
	var m models.Metadata
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, err
	}
	return m, nil
}

func nullStr(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

// Implementing the db interface for processing records

func (c *DatabaseClient) CreateProcessing(ctx context.Context, p *models.Processing) error {
	if p == nil {
		return errors.New("nil processing record")
	}
	docMeta, err := toJSONB(p.DocumentMetadata)
	if err != nil {
		return fmt.Errorf("marshal document metadata: %w", err)
	}
	procMeta, err := toJSONB(p.Metadata)
	if err != nil {
		return fmt.Errorf("marshal processing metadata: %w", err)
	}

	const q = `
		INSERT INTO processing
			(id, org_id, user_id, status, retries,
			 title, source_url, file_path, doc_type, effective_date, last_updated,
			 content, document_metadata, summary, summary_embedding, metadata,
			 file_hash, content_hash, drive_file_id, drive_modified_time,
			 created_at, updated_at)
		VALUES
			($1, $2, $3, $4, $5,
			 $6, $7, $8, $9, $10, $11,
			 $12, $13, $14, $15, $16,
			 $17, $18, $19, $20,
			 COALESCE($21, now()), COALESCE($22, now()))
	`
	_, err = c.db.ExecContext(ctx, q,
		p.ID, p.OrgID, p.UserID, string(p.Status), p.Retries,
		p.Title, p.SourceURL, p.FilePath, p.DocType, p.EffectiveDate, p.LastUpdated,
		p.Content, docMeta, p.Summary, embeddingValue(p.SummaryEmbedding), procMeta,
		p.FileHash, nullStr(p.ContentHash), nullStr(p.DriveFileID), nullTime(p.DriveModifiedTime),
		p.CreatedAt, p.UpdatedAt)
	return err
}

func (c *DatabaseClient) GetProcessingByID(ctx context.Context, id string) (*models.Processing, error) {
	const q = `
		SELECT id, org_id, user_id, status, retries,
		       title, source_url, file_path, doc_type, effective_date, last_updated,
		       content, document_metadata, summary, summary_embedding, metadata,
		       file_hash, content_hash, drive_file_id, drive_modified_time,
		       created_at, updated_at
		FROM processing WHERE id = $1
	`
	var (
		p        models.Processing
		status   string
		title    sql.NullString
		srcURL   sql.NullString
		filePath sql.NullString
		docType  sql.NullString
		effDate  sql.NullTime
		lastUpd  sql.NullTime
		content  sql.NullString
		docMeta  []byte
		summary  sql.NullString
		sumEmb   *pgvector.Vector
		procMeta []byte
		cHash    sql.NullString
		driveID  sql.NullString
		driveMod sql.NullTime
	)
	err := c.db.QueryRowContext(ctx, q, id).Scan(
		&p.ID, &p.OrgID, &p.UserID, &status, &p.Retries,
		&title, &srcURL, &filePath, &docType, &effDate, &lastUpd,
		&content, &docMeta, &summary, &sumEmb, &procMeta,
		&p.FileHash, &cHash, &driveID, &driveMod,
		&p.CreatedAt, &p.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	p.Status = models.Status(status)
	p.Title = title.String
	p.SourceURL = srcURL.String
	p.FilePath = filePath.String
	p.DocType = docType.String
	p.EffectiveDate = effDate.Time
	p.LastUpdated = lastUpd.Time
	p.Content = content.String
	p.Summary = summary.String
	p.ContentHash = cHash.String
	p.DriveFileID = driveID.String
	if driveMod.Valid {
		t := driveMod.Time
		p.DriveModifiedTime = &t
	}
	if sumEmb != nil {
		p.SummaryEmbedding = sumEmb.Slice()
	}
	if p.DocumentMetadata, err = fromJSONB(docMeta); err != nil {
		return nil, fmt.Errorf("unmarshal document metadata: %w", err)
	}
	if p.Metadata, err = fromJSONB(procMeta); err != nil {
		return nil, fmt.Errorf("unmarshal processing metadata: %w", err)
	}
	return &p, nil
}

// UpdateProcessingStage persists the fields accumulated so far and moves the
// record to the given status in one statement. The status guard in SQL keeps
// a concurrent writer from ever moving a record backwards.
func (c *DatabaseClient) UpdateProcessingStage(ctx context.Context, p *models.Processing, status models.Status) error {
	if p == nil {
		return errors.New("nil processing record")
	}
	docMeta, err := toJSONB(p.DocumentMetadata)
	if err != nil {
		return fmt.Errorf("marshal document metadata: %w", err)
	}

	const q = `
		UPDATE processing
		SET status = $2, title = $3, source_url = $4, file_path = $5,
		    doc_type = $6, effective_date = $7, last_updated = $8,
		    document_metadata = $9, summary = $10, summary_embedding = $11,
		    updated_at = now()
		WHERE id = $1 AND status = $12
	`
	res, err := c.db.ExecContext(ctx, q,
		p.ID, string(status), p.Title, p.SourceURL, p.FilePath,
		p.DocType, p.EffectiveDate, p.LastUpdated,
		docMeta, p.Summary, embeddingValue(p.SummaryEmbedding),
		string(p.Status))
	if err != nil {
		return err
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return fmt.Errorf("processing record %s not in status %s", p.ID, p.Status)
	}
	return nil
}

func (c *DatabaseClient) MarkProcessingFailed(ctx context.Context, id string, retries int, meta models.Metadata) error {
	procMeta, err := toJSONB(meta)
	if err != nil {
		return fmt.Errorf("marshal processing metadata: %w", err)
	}
	const q = `
		UPDATE processing
		SET status = 'failed', retries = $2, metadata = $3, updated_at = now()
		WHERE id = $1
	`
	res, err := c.db.ExecContext(ctx, q, id, retries, procMeta)
	if err != nil {
		return err
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return fmt.Errorf("processing record not found: %s", id)
	}
	return nil
}

func (c *DatabaseClient) DeleteProcessing(ctx context.Context, id string) error {
	_, err := c.db.ExecContext(ctx, `DELETE FROM processing WHERE id = $1`, id)
	return err
}

// Implementing the db interface for documents

func (c *DatabaseClient) CreateDocument(ctx context.Context, doc *models.Document) error {
	if doc == nil {
		return errors.New("nil document")
	}
	meta, err := toJSONB(doc.Metadata)
	if err != nil {
		return fmt.Errorf("marshal metadata: %w", err)
	}

	const q = `
		INSERT INTO documents
			(id, org_id, user_id, title, source_url, file_path, doc_type,
			 effective_date, last_updated, metadata, summary, summary_embedding,
			 file_hash, content_hash, drive_file_id, drive_modified_time,
			 created_at, updated_at)
		VALUES
			($1, $2, $3, $4, $5, $6, $7,
			 $8, $9, $10, $11, $12,
			 $13, $14, $15, $16,
			 COALESCE($17, now()), COALESCE($18, now()))
	`
	_, err = c.db.ExecContext(ctx, q,
		doc.ID, doc.OrgID, doc.UserID, doc.Title, doc.SourceURL, doc.FilePath, doc.DocType,
		doc.EffectiveDate, doc.LastUpdated, meta, doc.Summary, pgvector.NewVector(doc.SummaryEmbedding),
		doc.FileHash, nullStr(doc.ContentHash), nullStr(doc.DriveFileID), nullTime(doc.DriveModifiedTime),
		doc.CreatedAt, doc.UpdatedAt)
	return err
}

const documentColumns = `
	id, org_id, user_id, title, source_url, file_path, doc_type,
	effective_date, last_updated, metadata, summary,
	file_hash, content_hash, drive_file_id, drive_modified_time,
	created_at, updated_at
`

func scanDocument(row interface{ Scan(...any) error }) (*models.Document, error) {
	var (
		d        models.Document
		meta     []byte
		cHash    sql.NullString
		driveID  sql.NullString
		driveMod sql.NullTime
	)
	err := row.Scan(
		&d.ID, &d.OrgID, &d.UserID, &d.Title, &d.SourceURL, &d.FilePath, &d.DocType,
		&d.EffectiveDate, &d.LastUpdated, &meta, &d.Summary,
		&d.FileHash, &cHash, &driveID, &driveMod,
		&d.CreatedAt, &d.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	d.ContentHash = cHash.String
	d.DriveFileID = driveID.String
	if driveMod.Valid {
		t := driveMod.Time
		d.DriveModifiedTime = &t
	}
	if d.Metadata, err = fromJSONB(meta); err != nil {
		return nil, fmt.Errorf("unmarshal metadata: %w", err)
	}
	return &d, nil
}

func (c *DatabaseClient) GetDocumentByID(ctx context.Context, id string) (*models.Document, error) {
	q := `SELECT ` + documentColumns + ` FROM documents WHERE id = $1`
	doc, err := scanDocument(c.db.QueryRowContext(ctx, q, id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return doc, err
}

func (c *DatabaseClient) ListDocumentsByOrg(ctx context.Context, orgID string) ([]models.Document, error) {
	q := `SELECT ` + documentColumns + ` FROM documents WHERE org_id = $1 ORDER BY created_at DESC`
	rows, err := c.db.QueryContext(ctx, q, orgID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.Document
	for rows.Next() {
		d, err := scanDocument(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *d)
	}
	return out, rows.Err()
}

func (c *DatabaseClient) FindDocumentByFileHash(ctx context.Context, fileHash string) (*models.Document, error) {
	q := `SELECT ` + documentColumns + ` FROM documents WHERE file_hash = $1 LIMIT 1`
	doc, err := scanDocument(c.db.QueryRowContext(ctx, q, fileHash))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return doc, err
}

func (c *DatabaseClient) FindDocumentByContentHash(ctx context.Context, contentHash string) (*models.Document, error) {
	q := `SELECT ` + documentColumns + ` FROM documents WHERE content_hash = $1 LIMIT 1`
	doc, err := scanDocument(c.db.QueryRowContext(ctx, q, contentHash))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return doc, err
}

// Implementing the db interface for chunks

// InsertChunks inserts a document's chunks in a single transaction. The
// search_vector column is generated by Postgres from content and never
// written here.
func (c *DatabaseClient) InsertChunks(ctx context.Context, chunks []models.Chunk) error {
	if len(chunks) == 0 {
		return nil
	}
	tx, err := c.db.BeginTx(ctx, &sql.TxOptions{})
	if err != nil {
		return err
	}

	const q = `
		INSERT INTO chunks
			(id, document_id, org_id, user_id, content, metadata, embedding,
			 chunk_index, chunk_size, chunk_overlap, start_char, end_char, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, COALESCE($13, now()))
	`
	stmt, err := tx.PrepareContext(ctx, q)
	if err != nil {
		_ = tx.Rollback()
		return err
	}
	defer stmt.Close()

	for i := range chunks {
		ch := &chunks[i]
		meta, err := toJSONB(ch.Metadata)
		if err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("marshal chunk metadata: %w", err)
		}
		vec := pgvector.NewVector(ch.Embedding)

		if _, err := stmt.ExecContext(ctx,
			ch.ID, ch.DocumentID, ch.OrgID, ch.UserID, ch.Content, meta, vec,
			ch.ChunkIndex, ch.ChunkSize, ch.ChunkOverlap, ch.StartChar, ch.EndChar, ch.CreatedAt,
		); err != nil {
			_ = tx.Rollback()
			return err
		}
	}
	return tx.Commit()
}

const chunkColumns = `
	id, document_id, org_id, user_id, content, metadata, embedding,
	chunk_index, chunk_size, chunk_overlap, start_char, end_char, created_at
`

func scanChunk(row interface{ Scan(...any) error }) (*models.Chunk, error) {
	var (
		ch   models.Chunk
		meta []byte
		emb  pgvector.Vector
	)
	err := row.Scan(
		&ch.ID, &ch.DocumentID, &ch.OrgID, &ch.UserID, &ch.Content, &meta, &emb,
		&ch.ChunkIndex, &ch.ChunkSize, &ch.ChunkOverlap, &ch.StartChar, &ch.EndChar, &ch.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	ch.Embedding = emb.Slice()
	if ch.Metadata, err = fromJSONB(meta); err != nil {
		return nil, fmt.Errorf("unmarshal chunk metadata: %w", err)
	}
	return &ch, nil
}

func (c *DatabaseClient) GetChunksByDocument(ctx context.Context, documentID string) ([]models.Chunk, error) {
	q := `SELECT ` + chunkColumns + ` FROM chunks WHERE document_id = $1 ORDER BY chunk_index ASC`
	rows, err := c.db.QueryContext(ctx, q, documentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.Chunk
	for rows.Next() {
		ch, err := scanChunk(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *ch)
	}
	return out, rows.Err()
}

// SearchChunksByEmbedding finds top-k cosine-similar chunks within an org.
func (c *DatabaseClient) SearchChunksByEmbedding(ctx context.Context, orgID string, queryVec []float32, limit int) ([]models.Chunk, error) {
	q := `
		SELECT ` + chunkColumns + `
		FROM chunks
		WHERE org_id = $1
		ORDER BY embedding <=> $2
		LIMIT $3
	`
	vec := pgvector.NewVector(queryVec)
	rows, err := c.db.QueryContext(ctx, q, orgID, vec, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.Chunk
	for rows.Next() {
		ch, err := scanChunk(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *ch)
	}
	return out, rows.Err()
}

// SearchChunksLexical finds top-k keyword matches ranked by ts_rank over the
// generated search_vector column.
func (c *DatabaseClient) SearchChunksLexical(ctx context.Context, orgID string, query string, limit int) ([]models.Chunk, error) {
	q := `
		SELECT ` + chunkColumns + `
		FROM chunks
		WHERE org_id = $1 AND search_vector @@ plainto_tsquery('english', $2)
		ORDER BY ts_rank(search_vector, plainto_tsquery('english', $2)) DESC
		LIMIT $3
	`
	rows, err := c.db.QueryContext(ctx, q, orgID, query, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.Chunk
	for rows.Next() {
		ch, err := scanChunk(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *ch)
	}
	return out, rows.Err()
}

func (c *DatabaseClient) RecordSearch(ctx context.Context, log *models.SearchLog) error {
	if log == nil {
		return errors.New("nil search log")
	}
	const q = `
		INSERT INTO searches (id, org_id, user_id, query, results_count, search_type, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, COALESCE($7, now()))
	`
	_, err := c.db.ExecContext(ctx, q,
		log.ID, log.OrgID, log.UserID, log.Query, log.ResultsCount, nullStr(log.SearchType), log.CreatedAt)
	return err
}

// embeddingValue maps an optional embedding to its pgvector value, keeping
// NULL for records that have not reached the embedding stage.
func embeddingValue(vec []float32) any {
	if vec == nil {
		return nil
	}
	return pgvector.NewVector(vec)
}
