package ingestion_engine

import "context"

type Ingestor interface {
	Ingest(ctx context.Context, in *IngestInput) *IngestOutcome
	IngestBatch(ctx context.Context, inputs []*IngestInput) (*BatchResult, error)
	IngestDriveFolder(ctx context.Context, folderID, orgID, userID string) (*BatchResult, error)
	Supported(filename, contentType string) bool
	Release()
}
