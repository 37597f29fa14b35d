package vectorindex

import (
	"context"
	"slices"
	"sync"
	"time"
)

// MemoryIndex is an in-process Index. Each tenant has its own partition with
// its own lock, so tenants never contend with each other.
type MemoryIndex struct {
	mu         sync.RWMutex
	partitions map[string]*partition
}

type partition struct {
	mu      sync.RWMutex
	entries []Entry
}

// NewMemoryIndex returns an empty in-memory index.
func NewMemoryIndex() *MemoryIndex {
	return &MemoryIndex{partitions: map[string]*partition{}}
}

func (m *MemoryIndex) partition(tenantID string, create bool) *partition {
	m.mu.RLock()
	p, ok := m.partitions[tenantID]
	m.mu.RUnlock()
	if ok || !create {
		return p
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if p, ok = m.partitions[tenantID]; !ok {
		p = &partition{}
		m.partitions[tenantID] = p
	}
	return p
}

func (m *MemoryIndex) Add(ctx context.Context, e Entry) error {
	return m.AddBatch(ctx, []Entry{e})
}

// AddBatch validates every entry before storing any. Entries of one tenant
// are appended under a single partition lock.
func (m *MemoryIndex) AddBatch(ctx context.Context, entries []Entry) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := validateBatch(entries); err != nil {
		return err
	}
	now := time.Now().UTC()
	byTenant := map[string][]Entry{}
	var order []string
	for _, e := range entries {
		if e.CreatedAt.IsZero() {
			e.CreatedAt = now
		}
		e.Embedding = slices.Clone(e.Embedding)
		e.Metadata = cloneMetadata(e.Metadata)
		if _, ok := byTenant[e.TenantID]; !ok {
			order = append(order, e.TenantID)
		}
		byTenant[e.TenantID] = append(byTenant[e.TenantID], e)
	}
	for _, tenant := range order {
		p := m.partition(tenant, true)
		p.mu.Lock()
		p.entries = append(p.entries, byTenant[tenant]...)
		p.mu.Unlock()
	}
	return nil
}

func (m *MemoryIndex) Search(ctx context.Context, tenantID string, query []float32, k int) ([]Hit, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if tenantID == "" || len(query) == 0 {
		return nil, nil
	}
	p := m.partition(tenantID, false)
	if p == nil {
		return nil, nil
	}
	p.mu.RLock()
	hits := make([]Hit, 0, len(p.entries))
	for _, e := range p.entries {
		if len(e.Embedding) != len(query) {
			continue
		}
		hits = append(hits, Hit{
			ID:       e.ID,
			Document: e.Document,
			Metadata: cloneMetadata(e.Metadata),
			Score:    cosineSimilarity(query, e.Embedding),
		})
	}
	p.mu.RUnlock()
	return rankAndLimit(hits, k), nil
}

func (m *MemoryIndex) DeleteTenant(ctx context.Context, tenantID string) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	m.mu.Lock()
	p, ok := m.partitions[tenantID]
	delete(m.partitions, tenantID)
	m.mu.Unlock()
	if !ok {
		return 0, nil
	}
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.entries), nil
}

// Count returns the number of entries stored for a tenant.
func (m *MemoryIndex) Count(tenantID string) int {
	p := m.partition(tenantID, false)
	if p == nil {
		return 0
	}
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.entries)
}
