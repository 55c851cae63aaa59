package cmd

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/codesearch-core/codesearch/internal/chunk"
	"github.com/codesearch-core/codesearch/internal/config"
	"github.com/codesearch-core/codesearch/internal/embed"
	"github.com/codesearch-core/codesearch/internal/ingest"
	"github.com/codesearch-core/codesearch/internal/project"
	"github.com/codesearch-core/codesearch/internal/store"
)

// openStores opens (creating on first run) the metadata, BM25, and vector
// stores for root under root/.codesearch, plus the embedding provider
// selected by cfg.Embeddings.Provider. An empty provider defaults to the
// static hash embedder (SPEC_FULL.md §6.2) rather than the teacher's
// Ollama auto-detection, since this CLI has no background model service
// to assume is running. Setting the provider to "ollama" or "mlx" engages
// those HTTP-backed embedders instead. The returned closer releases all
// of them.
func openStores(ctx context.Context, root string, cfg *config.Config) (*storeBundle, error) {
	dataDir := filepath.Join(root, ".codesearch")
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}

	metadataPath := filepath.Join(dataDir, "metadata.db")
	metadata, err := store.NewSQLiteStore(metadataPath)
	if err != nil {
		return nil, fmt.Errorf("open metadata store: %w", err)
	}

	bm25BasePath := filepath.Join(dataDir, "bm25")
	bm25Config := store.DefaultBM25Config()
	bm25, err := store.NewBM25IndexWithBackend(bm25BasePath, bm25Config, cfg.Search.BM25Backend)
	if err != nil {
		_ = metadata.Close()
		return nil, fmt.Errorf("open bm25 index: %w", err)
	}

	providerStr := cfg.Embeddings.Provider
	if providerStr == "" {
		providerStr = string(embed.ProviderStatic)
	}
	embedder, err := embed.NewEmbedder(ctx, embed.ParseProvider(providerStr), cfg.Embeddings.Model)
	if err != nil {
		_ = bm25.Close()
		_ = metadata.Close()
		return nil, fmt.Errorf("create embedder (provider %q): %w", providerStr, err)
	}

	vectorConfig := store.DefaultVectorStoreConfig(embedder.Dimensions())
	vector, err := store.NewHNSWStore(vectorConfig)
	if err != nil {
		_ = bm25.Close()
		_ = metadata.Close()
		return nil, fmt.Errorf("create vector store: %w", err)
	}

	vectorPath := filepath.Join(dataDir, "vectors.hnsw")
	if _, err := os.Stat(vectorPath); err == nil {
		if loadErr := vector.Load(vectorPath); loadErr != nil {
			_ = vector.Close()
			_ = bm25.Close()
			_ = metadata.Close()
			return nil, fmt.Errorf("load vector store: %w", loadErr)
		}
	}

	projectID, err := project.ID(root)
	if err != nil {
		_ = vector.Close()
		_ = bm25.Close()
		_ = metadata.Close()
		return nil, fmt.Errorf("derive project id: %w", err)
	}

	return &storeBundle{
		dataDir:    dataDir,
		vectorPath: vectorPath,
		projectID:  projectID,
		metadata:   metadata,
		bm25:       bm25,
		vector:     vector,
		embedder:   embedder,
	}, nil
}

// storeBundle groups the stores and providers one codesearch invocation
// needs, along with the paths used to persist them between runs.
type storeBundle struct {
	dataDir    string
	vectorPath string
	projectID  string

	metadata store.MetadataStore
	bm25     store.BM25Index
	vector   *store.HNSWStore
	embedder embed.Embedder
}

// Save persists the vector index to disk. The metadata and BM25 stores
// persist directly through their own writes and need no explicit save.
func (b *storeBundle) Save() error {
	return b.vector.Save(b.vectorPath)
}

// Close releases every store and provider in the bundle.
func (b *storeBundle) Close() {
	_ = b.vector.Close()
	_ = b.bm25.Close()
	_ = b.embedder.Close()
	_ = b.metadata.Close()
}

// ingestDependencies adapts the bundle into internal/ingest.Dependencies.
func (b *storeBundle) ingestDependencies() ingest.Dependencies {
	return ingest.Dependencies{
		ProjectID:       b.projectID,
		Metadata:        b.metadata,
		Vector:          b.vector,
		BM25:            b.bm25,
		Embedder:        b.embedder,
		CodeChunker:     chunk.NewCodeChunker(),
		MarkdownChunker: chunk.NewMarkdownChunker(),
	}
}

// runIngest runs one full ingestion pass over root and persists the updated
// vector index.
func runIngest(ctx context.Context, root string, b *storeBundle) (*ingest.Result, error) {
	ingester, err := ingest.New(b.ingestDependencies())
	if err != nil {
		return nil, fmt.Errorf("create ingester: %w", err)
	}

	result, err := ingester.Run(ctx, ingest.Config{RootDir: root}.WithDefaults())
	if err != nil {
		return nil, fmt.Errorf("ingest: %w", err)
	}

	if err := b.Save(); err != nil {
		return nil, fmt.Errorf("save vector index: %w", err)
	}

	return result, nil
}
