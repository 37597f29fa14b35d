// Package retrieval answers tenant-scoped similarity queries over ingested
// store policies and past incident learnings.
package retrieval

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/danielpatrickdp/incident-pipeline/go-controller/internal/memory"
	"github.com/danielpatrickdp/incident-pipeline/go-controller/internal/vectorindex"
)

// #region engine
// Embedder turns text into a vector.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Engine chunks, embeds and indexes documents per tenant, and retrieves them.
type Engine struct {
	index    vectorindex.Index
	embedder Embedder
	config   Config
	logger   *zap.Logger
}

// NewEngine creates an Engine over the given index and embedder.
func NewEngine(index vectorindex.Index, embedder Embedder, config Config, logger *zap.Logger) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{index: index, embedder: embedder, config: config, logger: logger.Named("retrieval")}
}

// #endregion engine

// #region query
// Query returns the k documents of tenant most similar to text. An empty
// tenant or a tenant with no documents yields an empty Result and no error.
func (e *Engine) Query(ctx context.Context, tenant, text string, k int, opts ...QueryOption) (Result, error) {
	var o queryOptions
	for _, opt := range opts {
		opt(&o)
	}
	if k <= 0 {
		k = e.config.TopK
	}
	if tenant == "" {
		return Result{}, nil
	}

	vec, err := e.embedder.Embed(ctx, text)
	if err != nil {
		return Result{}, fmt.Errorf("embed query: %w", err)
	}

	fetch := k
	if o.decay && e.config.DecayOverfetch > 1 {
		fetch = k * e.config.DecayOverfetch
	}
	hits, err := e.index.Search(ctx, tenant, vec, fetch)
	if err != nil {
		return Result{}, fmt.Errorf("search %s: %w", tenant, err)
	}

	records := make([]EvidenceRecord, 0, len(hits))
	for _, h := range hits {
		if e.config.SimilarityThreshold > 0 && h.Score < e.config.SimilarityThreshold {
			continue
		}
		records = append(records, EvidenceRecord{ID: h.ID, Text: h.Document, Score: h.Score, Metadata: h.Metadata})
	}
	if o.decay {
		rerankByDecay(records, o.decayAt)
	}
	records = e.consistencyCheck(records)
	if len(records) > k {
		records = records[:k]
	}

	e.logger.Debug("query completed",
		zap.String("store_id", tenant),
		zap.Int("candidates", len(hits)),
		zap.Int("documents", len(records)),
		zap.Bool("decay", o.decay),
	)
	return assemble(records), nil
}

func assemble(records []EvidenceRecord) Result {
	res := Result{
		Sources:   make([]map[string]any, 0, len(records)),
		Documents: make([]string, 0, len(records)),
	}
	for _, r := range records {
		res.Documents = append(res.Documents, r.Text)
		meta := r.Metadata
		if meta == nil {
			meta = map[string]any{}
		}
		res.Sources = append(res.Sources, meta)
	}
	res.Context = strings.Join(res.Documents, "\n")
	return res
}

// #endregion query

// #region decay
func rerankByDecay(records []EvidenceRecord, now time.Time) {
	for i := range records {
		recordedAt, okAt := asInt64(records[i].Metadata[MetaRecordedAt])
		severity, okSev := asInt64(records[i].Metadata[MetaSeverity])
		if okAt && okSev {
			records[i].Score *= memory.ScoreUnix(recordedAt, int(severity), now)
		}
	}
	sort.SliceStable(records, func(i, j int) bool {
		return records[i].Score > records[j].Score
	})
}

func asInt64(v any) (int64, bool) {
	switch n := v.(type) {
	case int:
		return int64(n), true
	case int64:
		return n, true
	case float64:
		return int64(n), true
	}
	return 0, false
}

// #endregion decay

// #region consistency-check
// consistencyCheck drops empty, overlong and duplicate evidence, keeping the
// first occurrence.
func (e *Engine) consistencyCheck(records []EvidenceRecord) []EvidenceRecord {
	seenID := make(map[string]bool)
	seenText := make(map[string]bool)
	var valid []EvidenceRecord
	for _, rec := range records {
		text := strings.TrimSpace(rec.Text)
		if text == "" {
			continue
		}
		if e.config.MaxEvidenceLen > 0 && utf8.RuneCountInString(rec.Text) > e.config.MaxEvidenceLen {
			continue
		}
		if seenID[rec.ID] || seenText[text] {
			continue
		}
		seenID[rec.ID] = true
		seenText[text] = true
		valid = append(valid, rec)
	}
	return valid
}

// #endregion consistency-check

// #region ingest
// Ingest chunks text, embeds every chunk, and stores the chunks under tenant
// with metadata plus chunk_index and a source tag (default "document"). Nil
// metadata values are dropped. Nothing is stored if any chunk fails to embed
// or to index. Failures are logged and reported as false.
func (e *Engine) Ingest(ctx context.Context, tenant, text string, metadata map[string]any) bool {
	log := e.logger.With(zap.String("store_id", tenant))
	if tenant == "" {
		log.Warn("ingest rejected: empty tenant")
		return false
	}
	chunks := SplitText(text, e.config.ChunkSize, e.config.ChunkOverlap)
	if len(chunks) == 0 {
		log.Warn("ingest rejected: empty document")
		return false
	}

	vectors := make([][]float32, len(chunks))
	for i, c := range chunks {
		vec, err := e.embedder.Embed(ctx, c)
		if err != nil {
			log.Error("ingest embed failed", zap.Int("chunk", i), zap.Error(err))
			return false
		}
		vectors[i] = vec
	}

	now := time.Now().UTC()
	entries := make([]vectorindex.Entry, len(chunks))
	for i, c := range chunks {
		meta := make(map[string]any, len(metadata)+2)
		for k, v := range metadata {
			if v != nil {
				meta[k] = v
			}
		}
		if _, ok := meta[MetaSource]; !ok {
			meta[MetaSource] = SourceDocument
		}
		meta[MetaChunkIndex] = i
		entries[i] = vectorindex.Entry{
			ID:        uuid.NewString(),
			TenantID:  tenant,
			Embedding: vectors[i],
			Document:  c,
			Metadata:  meta,
			CreatedAt: now,
		}
	}
	if err := e.index.AddBatch(ctx, entries); err != nil {
		log.Error("ingest add failed", zap.Int("chunks", len(chunks)), zap.Error(err))
		return false
	}
	log.Info("document ingested", zap.Int("chunks", len(chunks)))
	return true
}

// #endregion ingest

// #region delete
// DeleteTenantData removes every document of tenant.
func (e *Engine) DeleteTenantData(ctx context.Context, tenant string) bool {
	n, err := e.index.DeleteTenant(ctx, tenant)
	if err != nil {
		e.logger.Error("delete tenant failed", zap.String("store_id", tenant), zap.Error(err))
		return false
	}
	e.logger.Info("tenant data deleted", zap.String("store_id", tenant), zap.Int("documents", n))
	return true
}

// #endregion delete
