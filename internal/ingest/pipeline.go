package ingest

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/codesearch-core/codesearch/internal/chunk"
	amerrors "github.com/codesearch-core/codesearch/internal/errors"
	"github.com/codesearch-core/codesearch/internal/scanner"
	"github.com/codesearch-core/codesearch/internal/store"
)

// Ingester runs the S1-S7 ingestion pipeline against a fixed set of
// dependencies. A single Ingester may be reused across multiple Run calls,
// e.g. a full run at startup followed by per-file runs from the watcher.
type Ingester struct {
	deps Dependencies
}

// New creates an Ingester over the given dependencies.
func New(deps Dependencies) (*Ingester, error) {
	if deps.Metadata == nil {
		return nil, fmt.Errorf("ingest: metadata store is required")
	}
	if deps.Vector == nil {
		return nil, fmt.Errorf("ingest: vector store is required")
	}
	if deps.BM25 == nil {
		return nil, fmt.Errorf("ingest: BM25 index is required")
	}
	if deps.Embedder == nil {
		return nil, fmt.Errorf("ingest: embedder is required")
	}
	if deps.CodeChunker == nil {
		deps.CodeChunker = chunk.NewCodeChunker()
	}
	if deps.MarkdownChunker == nil {
		deps.MarkdownChunker = chunk.NewMarkdownChunker()
	}
	return &Ingester{deps: deps}, nil
}

// Run executes the full S1-S7 pipeline over cfg.RootDir. Re-running on an
// unchanged project produces zero new chunks and makes no writes (S2);
// re-running after a single file edit rewrites only that file's chunks (S7).
func (g *Ingester) Run(ctx context.Context, cfg Config) (*Result, error) {
	cfg = cfg.WithDefaults()
	start := time.Now()
	errs := newStageErrors()

	// S1: Walk
	candidates, err := g.walk(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("walk failed: %w", err)
	}

	// S2: Mtime diff
	stale, err := g.filterStale(ctx, cfg, candidates)
	if err != nil {
		return nil, fmt.Errorf("mtime diff failed: %w", err)
	}
	if len(stale) == 0 {
		return &Result{Duration: time.Since(start), Errors: errs}, nil
	}

	// S3: Read (bounded concurrency)
	reads := g.readAll(ctx, cfg, stale, errs)
	if len(reads) == 0 {
		return &Result{FilesProcessed: 0, Duration: time.Since(start), Errors: errs}, nil
	}

	// S4: Chunk
	chunked := g.chunkAll(ctx, cfg, reads, errs)

	// S5: Embed + S6: Assemble
	allChunks, allEmbeddings := g.embedAll(ctx, cfg, chunked, errs)
	if len(allChunks) != len(allEmbeddings) {
		return nil, fmt.Errorf("assemble failed: %d chunks but %d embeddings", len(allChunks), len(allEmbeddings))
	}

	// S7: Delete-then-insert (bounded concurrency)
	if err := g.writeAll(ctx, cfg, reads, chunked, allChunks, allEmbeddings, errs); err != nil {
		return nil, fmt.Errorf("write failed: %w", err)
	}

	return &Result{
		FilesProcessed: len(reads),
		ChunksCreated:  len(allChunks),
		Duration:       time.Since(start),
		Errors:         errs,
	}, nil
}

// walk enumerates candidate files (S1), respecting .gitignore, global git
// ignores, the configured deny patterns, and the allowed extensions.
func (g *Ingester) walk(ctx context.Context, cfg Config) ([]fileTask, error) {
	s, err := scanner.New()
	if err != nil {
		return nil, fmt.Errorf("create scanner: %w", err)
	}

	results, err := s.Scan(ctx, &scanner.ScanOptions{
		RootDir:          cfg.RootDir,
		ExcludePatterns:  cfg.IgnorePatterns,
		RespectGitignore: true,
		Workers:          runtime.NumCPU(),
	})
	if err != nil {
		return nil, fmt.Errorf("start scan: %w", err)
	}

	allowed := extensionSet(cfg.Extensions)

	var tasks []fileTask
	for r := range results {
		if r.Error != nil {
			slog.Warn("ingest_scan_error", slog.String("error", r.Error.Error()))
			continue
		}
		if len(allowed) > 0 && !allowed[filepath.Ext(r.File.Path)] {
			continue
		}
		tasks = append(tasks, fileTask{
			path:        r.File.Path,
			absPath:     r.File.AbsPath,
			modTime:     r.File.ModTime,
			size:        r.File.Size,
			language:    r.File.Language,
			contentType: string(r.File.ContentType),
		})
	}
	return tasks, nil
}

func extensionSet(exts []string) map[string]bool {
	if len(exts) == 0 {
		return nil
	}
	set := make(map[string]bool, len(exts))
	for _, e := range exts {
		set[e] = true
	}
	return set
}

// filterStale keeps files whose current mtime exceeds the stored mtime,
// plus files never seen before (S2).
func (g *Ingester) filterStale(ctx context.Context, cfg Config, candidates []fileTask) ([]fileTask, error) {
	if cfg.Full {
		return candidates, nil
	}

	stale := make([]fileTask, 0, len(candidates))
	for _, f := range candidates {
		existing, err := g.deps.Metadata.GetFileByPath(ctx, g.deps.ProjectID, f.path)
		if err != nil {
			// Not found (or lookup failure): treat as never seen.
			stale = append(stale, f)
			continue
		}
		if f.modTime.After(existing.ModTime) {
			stale = append(stale, f)
		}
	}
	return stale, nil
}

// readAll reads file contents concurrently, bounded by MaxConcurrentFiles
// (S3). Per-file read errors are recorded and the file dropped.
func (g *Ingester) readAll(ctx context.Context, cfg Config, tasks []fileTask, errs *StageErrors) []readTask {
	results := make([]*readTask, len(tasks))

	sem := make(chan struct{}, cfg.MaxConcurrentFiles)
	grp, gctx := errgroup.WithContext(ctx)
	var mu sync.Mutex

	for i, t := range tasks {
		i, t := i, t
		grp.Go(func() error {
			select {
			case sem <- struct{}{}:
			case <-gctx.Done():
				return nil
			}
			defer func() { <-sem }()

			content, err := os.ReadFile(t.absPath)
			if err != nil {
				mu.Lock()
				errs.Read[t.path] = err
				mu.Unlock()
				return nil
			}
			results[i] = &readTask{fileTask: t, content: content}
			return nil
		})
	}
	_ = grp.Wait() // reads never return an error; failures are per-file

	out := make([]readTask, 0, len(tasks))
	for _, r := range results {
		if r != nil {
			out = append(out, *r)
		}
	}
	return out
}

// chunkAll extracts each file's header and runs the appropriate chunker
// (S4). Per-file errors are captured and do not abort the batch.
func (g *Ingester) chunkAll(ctx context.Context, cfg Config, reads []readTask, errs *StageErrors) []chunkedFile {
	out := make([]chunkedFile, 0, len(reads))
	for _, r := range reads {
		chunks, err := g.chunkFile(ctx, cfg, r)
		if err != nil {
			errs.Chunk[r.path] = err
			continue
		}
		if len(chunks) > 0 {
			out = append(out, chunkedFile{path: r.path, chunks: chunks})
		}
	}
	return out
}

func (g *Ingester) chunkFile(ctx context.Context, cfg Config, r readTask) (result []*chunk.Chunk, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("panic chunking %s: %v", r.path, rec)
		}
	}()

	input := &chunk.FileInput{
		Path:     r.path,
		Content:  r.content,
		Language: r.language,
	}

	chunker := g.deps.CodeChunker
	if r.contentType == string(chunk.ContentTypeMarkdown) {
		chunker = g.deps.MarkdownChunker
	}

	chunks, _, err := chunker.Chunk(ctx, input)
	if err != nil {
		return nil, err
	}
	return chunks, nil
}

// embedAll collects all chunk contents and calls the embedding provider in
// batches of EmbeddingBatchSize (S5). A batch failure is recorded and its
// chunks get zero vectors of the provider's dimension, so ingestion
// continues (S6 assembles chunks 1:1 with embeddings).
func (g *Ingester) embedAll(ctx context.Context, cfg Config, files []chunkedFile, errs *StageErrors) ([]*chunk.Chunk, [][]float32) {
	var allChunks []*chunk.Chunk
	for _, f := range files {
		allChunks = append(allChunks, f.chunks...)
	}
	if len(allChunks) == 0 {
		return nil, nil
	}

	embeddings := make([][]float32, len(allChunks))
	dim := g.deps.Embedder.Dimensions()

	for start := 0; start < len(allChunks); start += cfg.EmbeddingBatchSize {
		end := start + cfg.EmbeddingBatchSize
		if end > len(allChunks) {
			end = len(allChunks)
		}
		batch := allChunks[start:end]

		texts := make([]string, len(batch))
		for i, c := range batch {
			texts[i] = c.Content
		}

		batchEmbeddings, err := g.deps.Embedder.EmbedBatch(ctx, texts)
		if err != nil {
			wrapped := amerrors.Wrap(amerrors.ErrCodeEmbeddingFailed, err)
			for i, c := range batch {
				errs.Embed[c.FilePath] = wrapped
				embeddings[start+i] = make([]float32, dim)
			}
			continue
		}
		for i := range batch {
			embeddings[start+i] = batchEmbeddings[i]
		}
	}

	return allChunks, embeddings
}

// writeAll deletes each touched file's existing chunks from both stores
// and inserts the new ones, batched at EmbeddingBatchSize*10 chunks per
// commit with a bounded semaphore over concurrent write batches (S7).
func (g *Ingester) writeAll(
	ctx context.Context,
	cfg Config,
	reads []readTask,
	files []chunkedFile,
	allChunks []*chunk.Chunk,
	allEmbeddings [][]float32,
	errs *StageErrors,
) error {
	now := time.Now()

	for _, f := range files {
		if err := g.removeFile(ctx, f.path); err != nil {
			errs.Write[f.path] = err
		}
	}

	if err := g.saveFileRecords(ctx, reads, now); err != nil {
		return fmt.Errorf("save file records: %w", err)
	}

	writeBatchSize := cfg.EmbeddingBatchSize * 10
	sem := make(chan struct{}, cfg.MaxConcurrentFiles)
	grp, gctx := errgroup.WithContext(ctx)
	var mu sync.Mutex

	for start := 0; start < len(allChunks); start += writeBatchSize {
		end := start + writeBatchSize
		if end > len(allChunks) {
			end = len(allChunks)
		}
		batchChunks := allChunks[start:end]
		batchEmbeddings := allEmbeddings[start:end]

		grp.Go(func() error {
			select {
			case sem <- struct{}{}:
			case <-gctx.Done():
				return gctx.Err()
			}
			defer func() { <-sem }()

			if err := g.writeBatch(gctx, batchChunks, batchEmbeddings, now); err != nil {
				mu.Lock()
				for _, c := range batchChunks {
					errs.Write[c.FilePath] = err
				}
				mu.Unlock()
			}
			return nil
		})
	}

	return grp.Wait()
}

// removeFile deletes all existing chunks for path from both the vector
// store and the BM25 index (the "delete" half of delete-then-insert).
func (g *Ingester) removeFile(ctx context.Context, path string) error {
	file, err := g.deps.Metadata.GetFileByPath(ctx, g.deps.ProjectID, path)
	if err != nil {
		return nil // never indexed before; nothing to remove
	}
	chunks, err := g.deps.Metadata.GetChunksByFile(ctx, file.ID)
	if err != nil {
		return fmt.Errorf("list existing chunks for %s: %w", path, err)
	}
	if len(chunks) == 0 {
		return nil
	}

	ids := make([]string, len(chunks))
	for i, c := range chunks {
		ids[i] = c.ID
	}
	if err := g.deps.Vector.Delete(ctx, ids); err != nil {
		return fmt.Errorf("delete vectors for %s: %w", path, err)
	}
	if err := g.deps.BM25.Delete(ctx, ids); err != nil {
		return fmt.Errorf("delete bm25 docs for %s: %w", path, err)
	}
	return g.deps.Metadata.DeleteChunksByFile(ctx, file.ID)
}

// saveFileRecords upserts a File row per successfully-read file so the next
// run's S2 mtime diff sees the new mtime and content hash.
func (g *Ingester) saveFileRecords(ctx context.Context, reads []readTask, now time.Time) error {
	if len(reads) == 0 {
		return nil
	}
	files := make([]*store.File, len(reads))
	for i, r := range reads {
		hash := sha256.Sum256(r.content)
		files[i] = &store.File{
			ID:          FileID(g.deps.ProjectID, r.path),
			ProjectID:   g.deps.ProjectID,
			Path:        r.path,
			Size:        r.size,
			ModTime:     r.modTime,
			ContentHash: hex.EncodeToString(hash[:]),
			Language:    r.language,
			ContentType: r.contentType,
			IndexedAt:   now,
		}
	}
	return g.deps.Metadata.SaveFiles(ctx, files)
}

// writeBatch inserts one batch of chunks and embeddings into the vector
// store, the BM25 index, and the metadata store.
func (g *Ingester) writeBatch(ctx context.Context, chunks []*chunk.Chunk, embeddings [][]float32, now time.Time) error {
	ids := make([]string, len(chunks))
	docs := make([]*store.Document, len(chunks))
	storeChunks := make([]*store.Chunk, len(chunks))

	fileIDs := make(map[string]string, len(chunks))

	for i, c := range chunks {
		id := ChunkID(c.FilePath, c.Content)
		ids[i] = id

		fileID, ok := fileIDs[c.FilePath]
		if !ok {
			fileID = FileID(g.deps.ProjectID, c.FilePath)
			fileIDs[c.FilePath] = fileID
		}

		docs[i] = &store.Document{ID: id, Content: c.Content}
		storeChunks[i] = toStoreChunk(id, fileID, c, now)
	}

	if err := g.deps.Vector.Add(ctx, ids, embeddings); err != nil {
		return fmt.Errorf("vector add: %w", err)
	}
	if err := g.deps.BM25.Index(ctx, docs); err != nil {
		return fmt.Errorf("bm25 index: %w", err)
	}
	if err := g.deps.Metadata.SaveChunks(ctx, storeChunks); err != nil {
		return fmt.Errorf("save chunks: %w", err)
	}
	return nil
}

func toStoreChunk(id, fileID string, c *chunk.Chunk, now time.Time) *store.Chunk {
	meta := map[string]string{
		"file_header": c.FileHeader,
	}
	if c.SemanticKind != "" {
		meta["semantic_kind"] = string(c.SemanticKind)
	}
	if c.Parent != "" {
		meta["parent"] = c.Parent
	}
	if c.Visibility != "" {
		meta["visibility"] = c.Visibility
	}

	var symbols []*store.Symbol
	if c.Name != "" {
		symbols = []*store.Symbol{{
			Name:       c.Name,
			Type:       store.SymbolType(c.SemanticKind),
			StartLine:  c.StartLine,
			EndLine:    c.EndLine,
			Signature:  c.Signature,
			DocComment: c.DocComment,
		}}
	}

	return &store.Chunk{
		ID:          id,
		FileID:      fileID,
		FilePath:    c.FilePath,
		Content:     c.Content,
		ContentType: store.ContentType(c.ContentType),
		Language:    c.Language,
		StartLine:   c.StartLine,
		EndLine:     c.EndLine,
		Symbols:     symbols,
		Metadata:    meta,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

// ChunkID derives a content-addressable chunk ID, stable across line
// shifts in the same file and distinct across files or content changes.
func ChunkID(filePath, content string) string {
	contentHash := sha256.Sum256([]byte(content))
	contentHashStr := hex.EncodeToString(contentHash[:])[:16]
	input := fmt.Sprintf("%s:%s", filePath, contentHashStr)
	hash := sha256.Sum256([]byte(input))
	return hex.EncodeToString(hash[:])[:16]
}

// FileID derives a stable file record ID from a project ID and relative
// path.
func FileID(projectID, path string) string {
	hash := sha256.Sum256([]byte(projectID + ":" + path))
	return hex.EncodeToString(hash[:])[:16]
}

