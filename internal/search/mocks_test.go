package search

import (
	"context"
	"time"

	"github.com/codesearch-core/codesearch/internal/store"
)

// MockBM25Index implements store.BM25Index with overridable function fields,
// for tests that need to control search results directly rather than
// exercising a real bleve/sqlite-backed index.
type MockBM25Index struct {
	SearchFn func(ctx context.Context, query string, limit int) ([]*store.BM25Result, error)
	StatsFn  func() *store.IndexStats
}

func (m *MockBM25Index) Index(ctx context.Context, docs []*store.Document) error { return nil }

func (m *MockBM25Index) Search(ctx context.Context, query string, limit int) ([]*store.BM25Result, error) {
	if m.SearchFn != nil {
		return m.SearchFn(ctx, query, limit)
	}
	return nil, nil
}

func (m *MockBM25Index) Delete(ctx context.Context, docIDs []string) error { return nil }
func (m *MockBM25Index) AllIDs() ([]string, error)                        { return nil, nil }

func (m *MockBM25Index) Stats() *store.IndexStats {
	if m.StatsFn != nil {
		return m.StatsFn()
	}
	return &store.IndexStats{}
}

func (m *MockBM25Index) Save(path string) error { return nil }
func (m *MockBM25Index) Load(path string) error { return nil }
func (m *MockBM25Index) Close() error           { return nil }

// MockVectorStore implements store.VectorStore with overridable function
// fields.
type MockVectorStore struct {
	SearchFn func(ctx context.Context, query []float32, k int) ([]*store.VectorResult, error)
	CountFn  func() int
}

func (m *MockVectorStore) Add(ctx context.Context, ids []string, vectors [][]float32) error {
	return nil
}

func (m *MockVectorStore) Search(ctx context.Context, query []float32, k int) ([]*store.VectorResult, error) {
	if m.SearchFn != nil {
		return m.SearchFn(ctx, query, k)
	}
	return nil, nil
}

func (m *MockVectorStore) Delete(ctx context.Context, ids []string) error { return nil }
func (m *MockVectorStore) AllIDs() []string                              { return nil }
func (m *MockVectorStore) Contains(id string) bool                       { return false }

func (m *MockVectorStore) Count() int {
	if m.CountFn != nil {
		return m.CountFn()
	}
	return 0
}

func (m *MockVectorStore) Save(path string) error { return nil }
func (m *MockVectorStore) Load(path string) error { return nil }
func (m *MockVectorStore) Close() error           { return nil }

// MockEmbedder implements embed.Embedder with overridable function fields.
type MockEmbedder struct {
	EmbedFn      func(ctx context.Context, text string) ([]float32, error)
	DimensionsFn func() int
}

func (m *MockEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if m.EmbedFn != nil {
		return m.EmbedFn(ctx, text)
	}
	return make([]float32, 768), nil
}

func (m *MockEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		v, err := m.Embed(ctx, t)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

func (m *MockEmbedder) Dimensions() int {
	if m.DimensionsFn != nil {
		return m.DimensionsFn()
	}
	return 768
}

func (m *MockEmbedder) ModelName() string                 { return "mock-embedder" }
func (m *MockEmbedder) Available(ctx context.Context) bool { return true }

// MockMetadataStore implements store.MetadataStore backed by in-memory maps,
// for tests that exercise chunk/file lookups without a real SQLite database.
type MockMetadataStore struct {
	chunks  map[string]*store.Chunk
	files   map[string]*store.File
	byFile  map[string][]*store.Chunk
}

func NewMockMetadataStore() *MockMetadataStore {
	return &MockMetadataStore{
		chunks: make(map[string]*store.Chunk),
		files:  make(map[string]*store.File),
		byFile: make(map[string][]*store.Chunk),
	}
}

func (m *MockMetadataStore) SaveProject(ctx context.Context, project *store.Project) error {
	return nil
}
func (m *MockMetadataStore) GetProject(ctx context.Context, id string) (*store.Project, error) {
	return nil, nil
}
func (m *MockMetadataStore) UpdateProjectStats(ctx context.Context, id string, fileCount, chunkCount int) error {
	return nil
}
func (m *MockMetadataStore) RefreshProjectStats(ctx context.Context, id string) error { return nil }

func (m *MockMetadataStore) SaveFiles(ctx context.Context, files []*store.File) error {
	for _, f := range files {
		m.files[f.ID] = f
	}
	return nil
}

func (m *MockMetadataStore) GetFileByPath(ctx context.Context, projectID, path string) (*store.File, error) {
	for _, f := range m.files {
		if f.ProjectID == projectID && f.Path == path {
			return f, nil
		}
	}
	return nil, nil
}

func (m *MockMetadataStore) GetChangedFiles(ctx context.Context, projectID string, since time.Time) ([]*store.File, error) {
	return nil, nil
}

func (m *MockMetadataStore) ListFiles(ctx context.Context, projectID string, cursor string, limit int) ([]*store.File, string, error) {
	var files []*store.File
	for _, f := range m.files {
		if projectID == "" || f.ProjectID == projectID {
			files = append(files, f)
		}
	}
	if limit > 0 && limit < len(files) {
		files = files[:limit]
	}
	return files, "", nil
}

func (m *MockMetadataStore) GetFilePathsByProject(ctx context.Context, projectID string) ([]string, error) {
	return nil, nil
}
func (m *MockMetadataStore) GetFilesForReconciliation(ctx context.Context, projectID string) (map[string]*store.File, error) {
	return nil, nil
}
func (m *MockMetadataStore) ListFilePathsUnder(ctx context.Context, projectID, dirPrefix string) ([]string, error) {
	return nil, nil
}
func (m *MockMetadataStore) DeleteFile(ctx context.Context, fileID string) error { return nil }
func (m *MockMetadataStore) DeleteFilesByProject(ctx context.Context, projectID string) error {
	return nil
}

func (m *MockMetadataStore) SaveChunks(ctx context.Context, chunks []*store.Chunk) error {
	for _, c := range chunks {
		m.chunks[c.ID] = c
		m.byFile[c.FileID] = append(m.byFile[c.FileID], c)
	}
	return nil
}

func (m *MockMetadataStore) GetChunk(ctx context.Context, id string) (*store.Chunk, error) {
	return m.chunks[id], nil
}

func (m *MockMetadataStore) GetChunks(ctx context.Context, ids []string) ([]*store.Chunk, error) {
	out := make([]*store.Chunk, 0, len(ids))
	for _, id := range ids {
		if c, ok := m.chunks[id]; ok {
			out = append(out, c)
		}
	}
	return out, nil
}

func (m *MockMetadataStore) GetChunksByFile(ctx context.Context, fileID string) ([]*store.Chunk, error) {
	return m.byFile[fileID], nil
}

func (m *MockMetadataStore) DeleteChunks(ctx context.Context, ids []string) error { return nil }
func (m *MockMetadataStore) DeleteChunksByFile(ctx context.Context, fileID string) error {
	return nil
}

func (m *MockMetadataStore) SearchSymbols(ctx context.Context, name string, limit int) ([]*store.Symbol, error) {
	return nil, nil
}

func (m *MockMetadataStore) GetState(ctx context.Context, key string) (string, error) {
	return "", nil
}
func (m *MockMetadataStore) SetState(ctx context.Context, key, value string) error { return nil }

func (m *MockMetadataStore) SaveChunkEmbeddings(ctx context.Context, chunkIDs []string, embeddings [][]float32, model string) error {
	return nil
}
func (m *MockMetadataStore) GetAllEmbeddings(ctx context.Context) (map[string][]float32, error) {
	return nil, nil
}
func (m *MockMetadataStore) GetEmbeddingStats(ctx context.Context) (int, int, error) {
	return 0, 0, nil
}

func (m *MockMetadataStore) SaveIndexCheckpoint(ctx context.Context, stage string, total, embeddedCount int, embedderModel string) error {
	return nil
}
func (m *MockMetadataStore) LoadIndexCheckpoint(ctx context.Context) (*store.IndexCheckpoint, error) {
	return nil, nil
}
func (m *MockMetadataStore) ClearIndexCheckpoint(ctx context.Context) error { return nil }

func (m *MockMetadataStore) Close() error { return nil }
