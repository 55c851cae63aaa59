// Package ingest implements the parallel file ingestion pipeline: walk,
// mtime diff, read, chunk, embed, assemble, and delete-then-insert into the
// vector and BM25 indices.
package ingest

import (
	"time"

	"github.com/codesearch-core/codesearch/internal/chunk"
	"github.com/codesearch-core/codesearch/internal/embed"
	"github.com/codesearch-core/codesearch/internal/store"
)

// DefaultHeaderLines is how many leading lines of a file are captured as
// its file_header, per the chunking contract.
const DefaultHeaderLines = chunk.DefaultHeaderLines

// DefaultMaxConcurrentFiles bounds in-flight reads (S3) and write batches
// (S7) when the config doesn't specify one.
const DefaultMaxConcurrentFiles = 8

// DefaultEmbeddingBatchSize is the number of chunk contents sent to the
// embedding provider per call.
const DefaultEmbeddingBatchSize = 32

// Config controls one ingestion run.
type Config struct {
	// RootDir is the project root to walk.
	RootDir string

	// Extensions restricts S1 to these file extensions (e.g. ".go", ".py").
	// Empty means no extension filtering beyond the chunkers' own support.
	Extensions []string

	// IgnorePatterns are additional gitignore-syntax deny patterns beyond
	// .gitignore itself.
	IgnorePatterns []string

	// MaxConcurrentFiles bounds the number of in-flight file reads (S3) and
	// write batches (S7). Defaults to DefaultMaxConcurrentFiles.
	MaxConcurrentFiles int

	// EmbeddingBatchSize is chunks per embedding provider call (S5). Writes
	// (S7) are batched at EmbeddingBatchSize*10 chunks per commit. Defaults
	// to DefaultEmbeddingBatchSize.
	EmbeddingBatchSize int

	// HeaderLines is how many leading lines become a chunk's file_header.
	// Defaults to DefaultHeaderLines.
	HeaderLines int

	// Full forces every discovered file to be reprocessed, skipping the S2
	// mtime diff against previously indexed files.
	Full bool
}

// WithDefaults returns cfg with zero-valued fields replaced by defaults.
func (c Config) WithDefaults() Config {
	if c.MaxConcurrentFiles <= 0 {
		c.MaxConcurrentFiles = DefaultMaxConcurrentFiles
	}
	if c.EmbeddingBatchSize <= 0 {
		c.EmbeddingBatchSize = DefaultEmbeddingBatchSize
	}
	if c.HeaderLines <= 0 {
		c.HeaderLines = DefaultHeaderLines
	}
	return c
}

// Dependencies are the stores and providers the pipeline writes through.
type Dependencies struct {
	// ProjectID scopes file/chunk records; see package project for how
	// it's derived from the project root.
	ProjectID string

	Metadata        store.MetadataStore
	Vector          store.VectorStore
	BM25            store.BM25Index
	Embedder        embed.Embedder
	CodeChunker     chunk.Chunker
	MarkdownChunker chunk.Chunker
}

// StageErrors partitions per-file failures by the pipeline stage that
// produced them.
type StageErrors struct {
	Read  map[string]error
	Chunk map[string]error
	Embed map[string]error
	Write map[string]error
}

func newStageErrors() *StageErrors {
	return &StageErrors{
		Read:  make(map[string]error),
		Chunk: make(map[string]error),
		Embed: make(map[string]error),
		Write: make(map[string]error),
	}
}

// Result is the structured outcome of a Run.
type Result struct {
	FilesProcessed int
	ChunksCreated  int
	Duration       time.Duration
	Errors         *StageErrors
}

// fileTask is a file that survived S1/S2 and is awaiting S3 read.
type fileTask struct {
	path        string // relative to RootDir
	absPath     string
	modTime     time.Time
	size        int64
	language    string
	contentType string // code, markdown, text, config (per scanner.ContentType)
}

// readTask is a file with its content loaded, awaiting S4 chunking.
type readTask struct {
	fileTask
	content []byte
}

// chunkedFile is one file's chunks, awaiting S5 embedding.
type chunkedFile struct {
	path   string
	chunks []*chunk.Chunk
}
