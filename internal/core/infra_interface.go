package core

import (
	"context"
	"time"

	"github.com/quorumlabs/lexvault/internal/models"
)

// DbClient defines all persistence operations the pipeline and API need.
// It abstracts Postgres/pgvector so higher layers never depend on a specific DB.
type DbClient interface {
	CreateProcessing(ctx context.Context, p *models.Processing) error
	GetProcessingByID(ctx context.Context, id string) (*models.Processing, error)
	UpdateProcessingStage(ctx context.Context, p *models.Processing, status models.Status) error
	MarkProcessingFailed(ctx context.Context, id string, retries int, meta models.Metadata) error
	DeleteProcessing(ctx context.Context, id string) error

	CreateDocument(ctx context.Context, doc *models.Document) error
	GetDocumentByID(ctx context.Context, id string) (*models.Document, error)
	ListDocumentsByOrg(ctx context.Context, orgID string) ([]models.Document, error)
	FindDocumentByFileHash(ctx context.Context, fileHash string) (*models.Document, error)
	FindDocumentByContentHash(ctx context.Context, contentHash string) (*models.Document, error)

	InsertChunks(ctx context.Context, chunks []models.Chunk) error
	GetChunksByDocument(ctx context.Context, documentID string) ([]models.Chunk, error)

	SearchChunksByEmbedding(ctx context.Context, orgID string, queryVec []float32, limit int) ([]models.Chunk, error)
	SearchChunksLexical(ctx context.Context, orgID string, query string, limit int) ([]models.Chunk, error)

	RecordSearch(ctx context.Context, log *models.SearchLog) error

	Close() error
}

// ObjectClient defines interactions with S3 or any object storage.
// It stays abstract so AWS can be swapped for MinIO, GCS, etc.
type ObjectClient interface {
	UploadFile(ctx context.Context, bucket, key string, data []byte, contentType string) (url string, err error)
	DeleteFile(ctx context.Context, bucket, key string) error
	GetFile(ctx context.Context, bucket, key string) ([]byte, error)
}

// DriveFile is one exportable item discovered inside a Drive folder tree.
type DriveFile struct {
	ID           string
	Name         string
	MimeType     string
	ModifiedTime time.Time
	FolderPath   string
}

// DriveClient lists and exports files from a cloud drive folder.
type DriveClient interface {
	// MapFolder walks the folder recursively and returns every non-folder
	// item with its path inside the tree.
	MapFolder(ctx context.Context, folderID string) ([]*DriveFile, error)

	// ExportFile downloads the item as an office document suitable for the
	// normalizer's binary path, returning the bytes and their content type.
	ExportFile(ctx context.Context, f *DriveFile) ([]byte, string, error)
}
