package models

import (
	"time"
)

// Status is the processing state of an in-flight ingestion attempt.
// Forward order is fixed; a record never moves backwards.
type Status string

const (
	StatusUploaded  Status = "uploaded"
	StatusConverted Status = "converted"
	StatusEmbedded  Status = "embedded"
	StatusIndexed   Status = "indexed"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// statusRank orders the forward states. Failed sits outside the chain.
var statusRank = map[Status]int{
	StatusUploaded:  0,
	StatusConverted: 1,
	StatusEmbedded:  2,
	StatusIndexed:   3,
	StatusCompleted: 4,
}

// CanAdvance reports whether moving from one status to the next is a legal
// forward transition (exactly one step) or a divert to failed.
func CanAdvance(from, to Status) bool {
	if to == StatusFailed {
		_, ok := statusRank[from]
		return ok
	}
	fr, ok1 := statusRank[from]
	tr, ok2 := statusRank[to]
	return ok1 && ok2 && tr == fr+1
}

// Metadata is the open document metadata map. Producers validate their own
// required keys at the boundary; consumers must not assume more than string
// keys with JSON values.
type Metadata map[string]any

// StageError is one entry in a processing record's bounded error history.
type StageError struct {
	Kind    string    `json:"kind"`
	Stage   Status    `json:"stage"`
	Message string    `json:"message"`
	At      time.Time `json:"at"`
}

// Processing is the staging record for one ingestion attempt. Fields are
// accumulated as stages complete and promoted into a Document at the end.
type Processing struct {
	ID      string `db:"id" json:"id"`
	OrgID   string `db:"org_id" json:"org_id"`
	UserID  string `db:"user_id" json:"user_id"`
	Status  Status `db:"status" json:"status"`
	Retries int    `db:"retries" json:"retries"`

	Title            string    `db:"title" json:"title"`
	SourceURL        string    `db:"source_url" json:"source_url"`
	FilePath         string    `db:"file_path" json:"file_path"`
	DocType          string    `db:"doc_type" json:"doc_type"`
	EffectiveDate    time.Time `db:"effective_date" json:"effective_date"`
	LastUpdated      time.Time `db:"last_updated" json:"last_updated"`
	Content          string    `db:"content" json:"-"`
	DocumentMetadata Metadata  `db:"document_metadata" json:"document_metadata"`
	Summary          string    `db:"summary" json:"summary"`
	SummaryEmbedding []float32 `db:"summary_embedding" json:"-"`

	// Processing-specific metadata, separate from the document's own.
	// Holds upload provenance and the bounded error history.
	Metadata Metadata `db:"metadata" json:"metadata"`

	// Versioning / dedup fields. FileHash is set before the record exists;
	// ContentHash once normalization completes.
	FileHash          string     `db:"file_hash" json:"file_hash"`
	ContentHash       string     `db:"content_hash" json:"content_hash"`
	DriveFileID       string     `db:"drive_file_id" json:"drive_file_id"`
	DriveModifiedTime *time.Time `db:"drive_modified_time" json:"drive_modified_time"`

	CreatedAt time.Time `db:"created_at" json:"created_at"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}

// Document is the finalized, searchable unit. Created exactly once by
// promotion from a Processing record; its ID is the processing ID so the
// lineage stays 1:1.
type Document struct {
	ID               string    `db:"id" json:"id"`
	OrgID            string    `db:"org_id" json:"org_id"`
	UserID           string    `db:"user_id" json:"user_id"`
	Title            string    `db:"title" json:"title"`
	SourceURL        string    `db:"source_url" json:"source_url"`
	FilePath         string    `db:"file_path" json:"file_path"`
	DocType          string    `db:"doc_type" json:"doc_type"`
	EffectiveDate    time.Time `db:"effective_date" json:"effective_date"`
	LastUpdated      time.Time `db:"last_updated" json:"last_updated"`
	Metadata         Metadata  `db:"metadata" json:"metadata"`
	Summary          string    `db:"summary" json:"summary"`
	SummaryEmbedding []float32 `db:"summary_embedding" json:"-"`

	FileHash          string     `db:"file_hash" json:"file_hash"`
	ContentHash       string     `db:"content_hash" json:"content_hash"`
	DriveFileID       string     `db:"drive_file_id" json:"drive_file_id"`
	DriveModifiedTime *time.Time `db:"drive_modified_time" json:"drive_modified_time"`

	CreatedAt time.Time `db:"created_at" json:"created_at"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}

// Chunk is one position-tracked slice of a document's normalized text.
// ChunkIndex is contiguous from 0 per document and EndChar-StartChar equals
// len(Content). The search_vector column is generated by the database from
// Content and never written by the application.
type Chunk struct {
	ID           string    `db:"id" json:"id"`
	DocumentID   string    `db:"document_id" json:"document_id"`
	OrgID        string    `db:"org_id" json:"org_id"`
	UserID       string    `db:"user_id" json:"user_id"`
	Content      string    `db:"content" json:"content"`
	Metadata     Metadata  `db:"metadata" json:"metadata"`
	Embedding    []float32 `db:"embedding" json:"-"`
	ChunkIndex   int       `db:"chunk_index" json:"chunk_index"`
	ChunkSize    int       `db:"chunk_size" json:"chunk_size"`
	ChunkOverlap int       `db:"chunk_overlap" json:"chunk_overlap"`
	StartChar    int       `db:"start_char" json:"start_char"`
	EndChar      int       `db:"end_char" json:"end_char"`
	CreatedAt    time.Time `db:"created_at" json:"created_at"`
}

// SearchLog records one executed search for usage analytics.
type SearchLog struct {
	ID           string    `db:"id" json:"id"`
	OrgID        string    `db:"org_id" json:"org_id"`
	UserID       string    `db:"user_id" json:"user_id"`
	Query        string    `db:"query" json:"query"`
	ResultsCount int       `db:"results_count" json:"results_count"`
	SearchType   string    `db:"search_type" json:"search_type"` // semantic | keyword | hybrid
	CreatedAt    time.Time `db:"created_at" json:"created_at"`
}
