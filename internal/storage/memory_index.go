package storage

import (
	"context"
	"fmt"
	"math"
	"sort"
	"sync"

	"ai-ats-go/internal/types"
)

type memoryPoint struct {
	vector   []float64
	payload  map[string]interface{}
	document string
	seq      int64
}

// MemoryIndex 进程内的余弦相似度索引，用于测试和单机部署
type MemoryIndex struct {
	mu        sync.RWMutex
	name      string
	dimension int
	points    map[string]memoryPoint
	seq       int64
}

// NewMemoryIndex 创建内存索引
func NewMemoryIndex(name string, dimension int) *MemoryIndex {
	return &MemoryIndex{
		name:      name,
		dimension: dimension,
		points:    make(map[string]memoryPoint),
	}
}

// Name 索引名称
func (m *MemoryIndex) Name() string {
	return m.name
}

// Upsert 写入或覆盖一个点
func (m *MemoryIndex) Upsert(ctx context.Context, id string, vector []float64, payload map[string]interface{}, document string) error {
	if m.dimension > 0 && len(vector) != m.dimension {
		return fmt.Errorf("向量维度 %d 与索引维度 %d 不一致", len(vector), m.dimension)
	}
	copied := make(map[string]interface{}, len(payload))
	for k, v := range payload {
		copied[k] = v
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	seq := m.seq
	if existing, ok := m.points[id]; ok {
		seq = existing.seq
	} else {
		m.seq++
	}
	m.points[id] = memoryPoint{
		vector:   append([]float64(nil), vector...),
		payload:  copied,
		document: document,
		seq:      seq,
	}
	return nil
}

// Search 按余弦相似度降序返回最多 limit 个点，相同分数按写入顺序
func (m *MemoryIndex) Search(ctx context.Context, vector []float64, limit, minExp int) ([]types.IndexHit, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	type scored struct {
		hit types.IndexHit
		seq int64
	}
	candidates := make([]scored, 0, len(m.points))
	for id, p := range m.points {
		hit := m.hit(id, p)
		if minExp > 0 && hit.Metadata().YearsExp < minExp {
			continue
		}
		hit.Score = cosine(vector, p.vector)
		candidates = append(candidates, scored{hit: hit, seq: p.seq})
	}
	m.mu.RUnlock()

	sort.SliceStable(candidates, func(i, j int) bool {
		if candidates[i].hit.Score != candidates[j].hit.Score {
			return candidates[i].hit.Score > candidates[j].hit.Score
		}
		return candidates[i].seq < candidates[j].seq
	})
	if limit > 0 && len(candidates) > limit {
		candidates = candidates[:limit]
	}
	hits := make([]types.IndexHit, len(candidates))
	for i, c := range candidates {
		hits[i] = c.hit
		hits[i].Document = ""
	}
	return hits, nil
}

// Get 读取单个点
func (m *MemoryIndex) Get(ctx context.Context, id string) (types.IndexHit, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.points[id]
	if !ok {
		return types.IndexHit{}, false, nil
	}
	return m.hit(id, p), true, nil
}

// List 按写入顺序返回最多 limit 个点，limit <= 0 表示全部
func (m *MemoryIndex) List(ctx context.Context, limit int) ([]types.IndexHit, error) {
	m.mu.RLock()
	ids := make([]string, 0, len(m.points))
	for id := range m.points {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return m.points[ids[i]].seq < m.points[ids[j]].seq })
	if limit > 0 && len(ids) > limit {
		ids = ids[:limit]
	}
	hits := make([]types.IndexHit, 0, len(ids))
	for _, id := range ids {
		hits = append(hits, m.hit(id, m.points[id]))
	}
	m.mu.RUnlock()
	return hits, nil
}

// Delete 删除一个点
func (m *MemoryIndex) Delete(ctx context.Context, id string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.points[id]; !ok {
		return false, nil
	}
	delete(m.points, id)
	return true, nil
}

// Count 点数量
func (m *MemoryIndex) Count(ctx context.Context) (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return int64(len(m.points)), nil
}

func (m *MemoryIndex) hit(id string, p memoryPoint) types.IndexHit {
	payload := make(map[string]interface{}, len(p.payload))
	for k, v := range p.payload {
		payload[k] = v
	}
	return types.IndexHit{ID: id, Payload: payload, Document: p.document}
}

// cosine 余弦相似度，负值截断为 0
func cosine(a, b []float64) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += a[i] * b[i]
		na += a[i] * a[i]
		nb += b[i] * b[i]
	}
	if na == 0 || nb == 0 {
		return 0
	}
	sim := dot / (math.Sqrt(na) * math.Sqrt(nb))
	return math.Max(0, math.Min(1, sim))
}
