package ingestion_engine

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/quorumlabs/lexvault/internal/core"
)

// Duplicate reasons reported to callers when a fingerprint check
// short-circuits the pipeline.
const (
	DuplicateReasonFileHash    = "file_hash"
	DuplicateReasonContentHash = "content_hash"
)

// FileFingerprint hashes the raw input bytes. Pure function of its input:
// no ownership, no time, so identical content from different users collides
// on purpose (dedup is content-addressed, not owner-scoped).
func FileFingerprint(raw []byte) string {
	sum := sha256.Sum256(raw)
	return hex.EncodeToString(sum[:])
}

// DriveFingerprint hashes the stable identity tuple of a drive item, so a
// re-synced file with an unchanged modification time is recognized without
// exporting its bytes.
func DriveFingerprint(fileID string, modifiedTime time.Time) string {
	sum := sha256.Sum256([]byte(fmt.Sprintf("%s:%s", fileID, modifiedTime.UTC().Format(time.RFC3339))))
	return hex.EncodeToString(sum[:])
}

// ContentFingerprint hashes normalized text, catching the same logical
// content arriving via a different byte-level path (re-upload, renamed file,
// re-synced drive item).
func ContentFingerprint(text string) string {
	sum := sha256.Sum256([]byte(text))
	return hex.EncodeToString(sum[:])
}

// DuplicateVerdict is the result of a dedup check. Not an error: a duplicate
// is a successful short-circuit outcome.
type DuplicateVerdict struct {
	IsDuplicate bool
	Reason      string
	DocumentID  string
}

// CheckDuplicates consults the document index by file fingerprint first and,
// when a content fingerprint is available, by content fingerprint second.
// The read is lock-free; two concurrent identical uploads can both pass and
// both complete, which is an accepted race in this design.
func CheckDuplicates(ctx context.Context, db core.DbClient, fileHash, contentHash string) (DuplicateVerdict, error) {
	byFile, err := db.FindDocumentByFileHash(ctx, fileHash)
	if err != nil {
		return DuplicateVerdict{}, fmt.Errorf("file hash lookup: %w", err)
	}
	if byFile != nil {
		return DuplicateVerdict{IsDuplicate: true, Reason: DuplicateReasonFileHash, DocumentID: byFile.ID}, nil
	}

	if contentHash != "" {
		byContent, err := db.FindDocumentByContentHash(ctx, contentHash)
		if err != nil {
			return DuplicateVerdict{}, fmt.Errorf("content hash lookup: %w", err)
		}
		if byContent != nil {
			return DuplicateVerdict{IsDuplicate: true, Reason: DuplicateReasonContentHash, DocumentID: byContent.ID}, nil
		}
	}

	return DuplicateVerdict{}, nil
}
