package ingestion_engine

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/quorumlabs/lexvault/internal/core"
)

// BatchResult aggregates the per-item outcomes of one batch ingestion.
// Duplicates count as skipped; they are not failures.
type BatchResult struct {
	Total     int              `json:"total"`
	Succeeded int              `json:"succeeded"`
	Skipped   int              `json:"skipped"`
	Failed    int              `json:"failed"`
	Results   []*IngestOutcome `json:"results"`
}

// IngestBatch runs the inputs in sequential waves of at most MaxConcurrent
// items each. Every item produces an outcome; unsupported or broken files
// are reported, never silently dropped.
func (p *Pipeline) IngestBatch(ctx context.Context, inputs []*IngestInput) (*BatchResult, error) {
	if len(inputs) == 0 {
		return nil, core.NewValidationError(core.ErrEmptyInput)
	}
	if len(inputs) > p.cfg.MaxBatchSize {
		return nil, core.NewValidationError(
			fmt.Errorf("%w: %d files exceeds limit of %d", core.ErrBatchTooLarge, len(inputs), p.cfg.MaxBatchSize))
	}

	results := make([]*IngestOutcome, len(inputs))
	for start := 0; start < len(inputs); start += p.cfg.MaxConcurrent {
		end := min(start+p.cfg.MaxConcurrent, len(inputs))

		var g errgroup.Group
		for i := start; i < end; i++ {
			g.Go(func() error {
				results[i] = p.Ingest(ctx, inputs[i])
				return nil
			})
		}
		// Per-item failures live in the outcomes, never in the group error.
		_ = g.Wait()
	}

	return tally(results), nil
}

// IngestDriveFolder maps a Drive folder recursively, skips files whose
// identity tuple has already been ingested, exports the rest and runs them
// through the same waved pipeline as a direct upload batch.
func (p *Pipeline) IngestDriveFolder(ctx context.Context, folderID, orgID, userID string) (*BatchResult, error) {
	if p.drive == nil {
		return nil, fmt.Errorf("drive client not configured")
	}

	files, err := p.drive.MapFolder(ctx, folderID)
	if err != nil {
		return nil, fmt.Errorf("map drive folder %s: %w", folderID, err)
	}
	if len(files) == 0 {
		return &BatchResult{}, nil
	}

	results := make([]*IngestOutcome, len(files))
	for start := 0; start < len(files); start += p.cfg.MaxConcurrent {
		end := min(start+p.cfg.MaxConcurrent, len(files))

		var g errgroup.Group
		for i := start; i < end; i++ {
			g.Go(func() error {
				results[i] = p.ingestDriveFile(ctx, files[i], orgID, userID)
				return nil
			})
		}
		_ = g.Wait()
	}

	return tally(results), nil
}

func (p *Pipeline) ingestDriveFile(ctx context.Context, f *core.DriveFile, orgID, userID string) *IngestOutcome {
	// The identity tuple (file id, modified time) is the drive file's
	// fingerprint: an unchanged file is skipped before any export traffic.
	fileHash := DriveFingerprint(f.ID, f.ModifiedTime)
	verdict, err := p.checkDuplicates(ctx, fileHash, "")
	if err != nil {
		return &IngestOutcome{File: f.Name, Status: OutcomeFailed, Error: err.Error()}
	}
	if verdict.IsDuplicate {
		return &IngestOutcome{File: f.Name, Status: OutcomeDuplicate, DocumentID: verdict.DocumentID, Reason: verdict.Reason}
	}

	data, contentType, err := p.drive.ExportFile(ctx, f)
	if err != nil {
		return &IngestOutcome{File: f.Name, Status: OutcomeFailed, Error: fmt.Sprintf("export drive file: %v", err)}
	}

	modified := f.ModifiedTime
	return p.Ingest(ctx, &IngestInput{
		Filename:          f.Name,
		ContentType:       contentType,
		Data:              data,
		SourceURL:         f.FolderPath,
		OrgID:             orgID,
		UserID:            userID,
		FileHash:          fileHash,
		DriveFileID:       f.ID,
		DriveModifiedTime: &modified,
	})
}

func tally(results []*IngestOutcome) *BatchResult {
	res := &BatchResult{Total: len(results), Results: results}
	for _, o := range results {
		switch o.Status {
		case OutcomeCompleted:
			res.Succeeded++
		case OutcomeDuplicate:
			res.Skipped++
		default:
			res.Failed++
		}
	}
	return res
}
