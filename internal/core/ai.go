package core

import (
	"context"
	"time"
)

// EmbedMode selects the retrieval task the embedding is optimized for.
// Indexing and querying must use their matching mode or retrieval quality
// degrades.
type EmbedMode string

const (
	EmbedModeDocument EmbedMode = "document"
	EmbedModeQuery    EmbedMode = "query"
)

// EmbeddingProvider produces fixed-dimension vectors for indexing and search.
type EmbeddingProvider interface {
	// EmbedText embeds a single text in the given mode.
	EmbedText(ctx context.Context, text string, mode EmbedMode) ([]float32, error)

	// Dim reports the provider's vector dimension (768 for this system).
	Dim() int
}

// DocumentInsights is the structured metadata derived from a document's full
// text by the generative model. Summary is stored in its own column and must
// not be duplicated into the metadata map.
type DocumentInsights struct {
	Summary     string   `json:"summary"`
	DocType     string   `json:"docType"`
	Title       string   `json:"title"`
	LongTitle   string   `json:"longTitle"`
	LastUpdated string   `json:"lastUpdated"`
	KeyEntities []string `json:"keyEntities"`
	Subjects    []string `json:"subjects"`
	Confidence  float64  `json:"confidence"`
}

// LastUpdatedTime parses the model's best-guess date. Parse failures fall
// back to now; a bad date from the model must never fail the pipeline.
func (d *DocumentInsights) LastUpdatedTime(now time.Time) time.Time {
	for _, layout := range []string{time.RFC3339, "2006-01-02", "January 2, 2006", "Jan 2, 2006", "2006/01/02"} {
		if t, err := time.Parse(layout, d.LastUpdated); err == nil {
			return t
		}
	}
	return now
}

// MetadataExtractor derives DocumentInsights from full normalized text via a
// single schema-constrained generative call. Failures are not retried here;
// they propagate to the orchestrator as a stage failure.
type MetadataExtractor interface {
	ExtractInsights(ctx context.Context, text string) (*DocumentInsights, error)
}
