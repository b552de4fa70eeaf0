package ingestion_engine

import "time"

// Chunking defaults tuned for structured/legal prose; recorded on every
// chunk row so a reprocess with different knobs is distinguishable.
const (
	DefaultChunkSize     = 1000
	DefaultChunkOverlap  = 100
	DefaultContextBuffer = 50

	DefaultMaxConcurrent = 5
	DefaultMaxBatchSize  = 50
	DefaultEmbedWorkers  = 8
	DefaultStageTimeout  = 2 * time.Minute
)

// IngestConfig tunes one pipeline instance.
//
// ChunkSize/ChunkOverlap: character budgets for the splitter.
// ContextBuffer: historical search-window slack, kept for audit parity with
//   the recorded chunk config even though offsets are now threaded exactly.
// EmbedWorkers: bound on concurrent per-chunk embedding calls.
// MaxConcurrent: batch ingestion wave width.
// MaxBatchSize: hard cap on items per batch request.
// StageTimeout: per-stage deadline around each external call.
type IngestConfig struct {
	ChunkSize     int
	ChunkOverlap  int
	ContextBuffer int
	EmbedWorkers  int
	MaxConcurrent int
	MaxBatchSize  int
	StageTimeout  time.Duration
}

func DefaultIngestConfig() *IngestConfig {
	return &IngestConfig{
		ChunkSize:     DefaultChunkSize,
		ChunkOverlap:  DefaultChunkOverlap,
		ContextBuffer: DefaultContextBuffer,
		EmbedWorkers:  DefaultEmbedWorkers,
		MaxConcurrent: DefaultMaxConcurrent,
		MaxBatchSize:  DefaultMaxBatchSize,
		StageTimeout:  DefaultStageTimeout,
	}
}

// normalized applies defaults for zero values so a partially filled config
// from the environment still runs.
func (c *IngestConfig) normalized() *IngestConfig {
	out := *c
	if out.ChunkSize <= 0 {
		out.ChunkSize = DefaultChunkSize
	}
	if out.ChunkOverlap <= 0 {
		out.ChunkOverlap = DefaultChunkOverlap
	}
	if out.ContextBuffer <= 0 {
		out.ContextBuffer = DefaultContextBuffer
	}
	if out.EmbedWorkers <= 0 {
		out.EmbedWorkers = DefaultEmbedWorkers
	}
	if out.MaxConcurrent <= 0 {
		out.MaxConcurrent = DefaultMaxConcurrent
	}
	if out.MaxBatchSize <= 0 {
		out.MaxBatchSize = DefaultMaxBatchSize
	}
	if out.StageTimeout <= 0 {
		out.StageTimeout = DefaultStageTimeout
	}
	return &out
}
