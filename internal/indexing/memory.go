package indexing

import (
	"context"
	"sort"
	"strings"
	"sync"

	"github.com/google/uuid"
)

// MemoryBackend 内存索引后端
// 用于开发和测试环境
type MemoryBackend struct {
	mu        sync.RWMutex               // 读写锁，确保并发安全
	documents map[string]*StoredDocument // 文档ID到文档的映射
	maxSize   int                        // 接受的最大内容字节数
	closed    bool
}

// NewMemoryBackend 创建内存后端
func NewMemoryBackend(cfg Config) (Backend, error) {
	return newMemoryBackend(cfg.MaxDocumentSize), nil
}

func newMemoryBackend(maxSize int) *MemoryBackend {
	return &MemoryBackend{
		documents: make(map[string]*StoredDocument),
		maxSize:   maxSize,
	}
}

// Index 索引文档
func (m *MemoryBackend) Index(ctx context.Context, doc Document) (IndexResponse, error) {
	if doc == nil {
		return IndexResponse{}, ErrNilDocument
	}
	if err := ctx.Err(); err != nil {
		return IndexResponse{}, err
	}

	if m.maxSize > 0 && len(doc.Body()) > m.maxSize {
		return IndexResponse{Valid: false, Diagnostic: oversizeDiagnostic(len(doc.Body()), m.maxSize)}, nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return IndexResponse{}, ErrBackendClosed
	}

	id := uuid.New().String()
	m.documents[id] = newStoredDocument(id, doc)

	return IndexResponse{ID: id, Valid: true}, nil
}

// Get 获取文档
func (m *MemoryBackend) Get(ctx context.Context, id string) (*StoredDocument, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	doc, ok := m.documents[id]
	if !ok {
		return nil, ErrDocumentNotFound
	}
	// 返回副本，避免外部修改影响存储
	copied := *doc
	copied.Metadata = cloneMetadata(doc.Metadata)
	return &copied, nil
}

// Delete 删除文档
func (m *MemoryBackend) Delete(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.documents[id]; !ok {
		return ErrDocumentNotFound
	}
	delete(m.documents, id)
	return nil
}

// Search 按关键词出现次数检索文档，不区分大小写
// 次数相同时文件名命中优先，其余按ID排序
func (m *MemoryBackend) Search(ctx context.Context, query string, limit int) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = defaultSearchLimit
	}
	terms := strings.Fields(strings.ToLower(query))
	if len(terms) == 0 {
		return nil, nil
	}

	type hit struct {
		id       string
		score    int
		nameHits int
	}

	m.mu.RLock()
	hits := make([]hit, 0)
	for id, doc := range m.documents {
		content := strings.ToLower(doc.Content)
		name := strings.ToLower(doc.FileName)
		h := hit{id: id}
		for _, term := range terms {
			h.score += strings.Count(content, term)
			h.nameHits += strings.Count(name, term)
		}
		if h.score+h.nameHits > 0 {
			hits = append(hits, h)
		}
	}
	m.mu.RUnlock()

	sort.Slice(hits, func(i, j int) bool {
		a, b := hits[i], hits[j]
		if a.score+a.nameHits != b.score+b.nameHits {
			return a.score+a.nameHits > b.score+b.nameHits
		}
		if a.nameHits != b.nameHits {
			return a.nameHits > b.nameHits
		}
		return a.id < b.id
	})

	if len(hits) > limit {
		hits = hits[:limit]
	}
	ids := make([]string, len(hits))
	for i, h := range hits {
		ids[i] = h.id
	}
	return ids, nil
}

// Count 返回文档数量
func (m *MemoryBackend) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.documents)
}

// IDs 返回按字典序排列的文档ID
func (m *MemoryBackend) IDs() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	ids := make([]string, 0, len(m.documents))
	for id := range m.documents {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Name 后端名称
func (m *MemoryBackend) Name() string {
	return BackendMemory
}

// Close 关闭后端
func (m *MemoryBackend) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

var (
	_ Searcher = (*MemoryBackend)(nil)
	_ Searcher = (*PostgresBackend)(nil)
)

func init() {
	RegisterBackend(BackendMemory, NewMemoryBackend)
}
