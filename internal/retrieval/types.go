package retrieval

import "time"

// #region config
// Config holds limits for tenant-scoped retrieval and ingestion.
type Config struct {
	TopK                int     // default result count when the caller passes k <= 0
	SimilarityThreshold float64 // hits scoring below this are dropped; 0 disables
	MaxEvidenceLen      int     // max runes per returned document; 0 disables
	ChunkSize           int     // max runes per ingested chunk
	ChunkOverlap        int     // runes shared by consecutive chunks
	DecayOverfetch      int     // candidate multiplier when re-ranking by decay
}

// DefaultConfig returns the policy-document defaults.
func DefaultConfig() Config {
	return Config{
		TopK:           5,
		MaxEvidenceLen: 4000,
		ChunkSize:      800,
		ChunkOverlap:   150,
		DecayOverfetch: 3,
	}
}

// #endregion config

// #region metadata-keys
// Metadata keys written by Ingest and read by decay re-ranking.
const (
	MetaSource     = "source"
	MetaChunkIndex = "chunk_index"
	MetaRecordedAt = "recorded_at"
	MetaSeverity   = "severity"
	MetaStoreID    = "store_id"
	MetaIncident   = "incident_type"

	SourceDocument = "document"
	SourcePolicy   = "policy"
	SourceLearning = "incident_learning"
)

// #endregion metadata-keys

// #region result
// Result is the answer to one Query.
type Result struct {
	Context   string           `json:"context"`
	Sources   []map[string]any `json:"sources"`
	Documents []string         `json:"documents"`
}

// Empty reports whether the query found nothing.
func (r Result) Empty() bool {
	return len(r.Documents) == 0
}

// #endregion result

// #region evidence-record
// EvidenceRecord is one retrieved chunk before assembly into a Result.
type EvidenceRecord struct {
	ID       string
	Text     string
	Score    float64
	Metadata map[string]any
}

// #endregion evidence-record

// #region query-options
type queryOptions struct {
	decayAt time.Time
	decay   bool
}

// QueryOption adjusts a single Query.
type QueryOption func(*queryOptions)

// WithDecay re-ranks hits by similarity times memory weight at now. Hits
// without recorded_at and severity metadata keep their raw similarity.
func WithDecay(now time.Time) QueryOption {
	return func(o *queryOptions) {
		o.decay = true
		o.decayAt = now
	}
}

// #endregion query-options
