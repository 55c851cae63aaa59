package search

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/codesearch-core/codesearch/internal/project"
	"github.com/codesearch-core/codesearch/internal/store"
	"github.com/codesearch-core/codesearch/internal/symbols"
)

// SymbolMatch pairs a symbol reference with its fuzzy-match distance (0 for
// exact/prefix matches).
type SymbolMatch struct {
	Ref      *symbols.Ref
	Distance int
}

// ListSymbolsOptions filters ListSymbols per SPEC_FULL.md §6.3.
type ListSymbolsOptions struct {
	FilePath       string
	KindFilter     string
	VisibilityFilter string
}

// FindReferencesOptions filters FindReferences per SPEC_FULL.md §6.3.
type FindReferencesOptions struct {
	FilePath string // excluded from results if set: the symbol's definition file
	Limit    int
}

// WithSymbolIndex attaches a pre-built symbol index backing FindSymbol,
// ListSymbols, and ListByKind/ListByFile lookups. Without one, those
// operations return an empty result rather than failing, since symbol
// search is an addition on top of the core chunk/vector/BM25 stores.
func WithSymbolIndex(idx *symbols.Index) EngineOption {
	return func(e *Engine) {
		e.symbols = idx
	}
}

// WithProjectRoot sets the canonical project root GetFile enforces path
// safety against (P7).
func WithProjectRoot(root string) EngineOption {
	return func(e *Engine) {
		e.projectRoot = root
	}
}

// SetSymbolIndex replaces the engine's symbol index, e.g. after an
// incremental reingest has updated it in place.
func (e *Engine) SetSymbolIndex(idx *symbols.Index) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.symbols = idx
}

// FindSymbol resolves name to every matching symbol: exact matches first,
// falling back to a fuzzy search (max edit distance
// symbols.DefaultMaxFuzzyDistance) when there is no exact match.
func (e *Engine) FindSymbol(ctx context.Context, name string) ([]SymbolMatch, error) {
	if e.symbols == nil {
		return nil, nil
	}

	if exact := e.symbols.FindExact(name); len(exact) > 0 {
		matches := make([]SymbolMatch, len(exact))
		for i, ref := range exact {
			matches[i] = SymbolMatch{Ref: ref, Distance: 0}
		}
		return matches, nil
	}

	fuzzy := e.symbols.FindFuzzy(name, symbols.DefaultMaxFuzzyDistance)
	matches := make([]SymbolMatch, len(fuzzy))
	for i, m := range fuzzy {
		matches[i] = SymbolMatch{Ref: m.Ref, Distance: m.Distance}
	}
	return matches, nil
}

// ListSymbols lists symbols, optionally filtered by file path, kind, and
// visibility.
func (e *Engine) ListSymbols(ctx context.Context, opts ListSymbolsOptions) ([]*symbols.Ref, error) {
	if e.symbols == nil {
		return nil, nil
	}

	var refs []*symbols.Ref
	switch {
	case opts.FilePath != "":
		refs = e.symbols.ListByFile(opts.FilePath)
	case opts.KindFilter != "":
		refs = e.symbols.ListByKind(opts.KindFilter)
	default:
		refs = e.symbols.All()
	}

	out := refs[:0:0]
	for _, r := range refs {
		if opts.FilePath != "" && r.Path != opts.FilePath {
			continue
		}
		if opts.KindFilter != "" && r.Kind != opts.KindFilter {
			continue
		}
		if opts.VisibilityFilter != "" && r.Visibility != opts.VisibilityFilter {
			continue
		}
		out = append(out, r)
	}
	return out, nil
}

// FindReferences searches for textual occurrences of symbolName via BM25,
// excluding opts.FilePath (the symbol's definition file) if given.
func (e *Engine) FindReferences(ctx context.Context, symbolName string, opts FindReferencesOptions) ([]*SearchResult, error) {
	limit := opts.Limit
	if limit <= 0 {
		limit = e.config.DefaultLimit
	}

	// Over-fetch to compensate for the definition-file exclusion filter.
	bm25Results, err := e.bm25.Search(ctx, symbolName, limit*3+len(opts.FilePath))
	if err != nil {
		return nil, fmt.Errorf("find references: %w", err)
	}

	fused := make([]*fusedResult, 0, len(bm25Results))
	for i, r := range bm25Results {
		fused = append(fused, &fusedResult{
			chunkID:      r.DocID,
			rrfScore:     r.Score,
			bm25Score:    r.Score,
			bm25Rank:     i + 1,
			matchedTerms: r.MatchedTerms,
		})
	}

	results, err := e.enrichResults(ctx, fused)
	if err != nil {
		return nil, err
	}

	if opts.FilePath == "" {
		if len(results) > limit {
			results = results[:limit]
		}
		return results, nil
	}

	filtered := make([]*SearchResult, 0, len(results))
	for _, r := range results {
		if r.Chunk.FilePath == opts.FilePath {
			continue
		}
		filtered = append(filtered, r)
		if len(filtered) == limit {
			break
		}
	}
	return filtered, nil
}

// ListFiles lists indexed file paths, optionally filtered by a glob-style
// pattern matched against the relative path (path.Match semantics via
// filepath-compatible globs).
func (e *Engine) ListFiles(ctx context.Context, projectID, pattern string) ([]*store.File, error) {
	var out []*store.File
	cursor := ""
	for {
		files, next, err := e.metadata.ListFiles(ctx, projectID, cursor, 500)
		if err != nil {
			return nil, fmt.Errorf("list files: %w", err)
		}
		for _, f := range files {
			if pattern == "" || matchGlob(pattern, f.Path) {
				out = append(out, f)
			}
		}
		if next == "" {
			break
		}
		cursor = next
	}
	return out, nil
}

// GetFile reads path relative to the engine's project root, rejecting any
// path that escapes it after canonicalization (P7).
func (e *Engine) GetFile(ctx context.Context, path string) ([]byte, error) {
	if e.projectRoot == "" {
		return nil, fmt.Errorf("get file: engine has no project root configured")
	}

	abs, err := project.SafePath(e.projectRoot, path)
	if err != nil {
		return nil, err
	}

	content, err := os.ReadFile(abs)
	if err != nil {
		return nil, fmt.Errorf("get file: %w", err)
	}
	return content, nil
}

// matchGlob reports whether a "*"-only glob pattern matches name. Only "*"
// is supported, matching the distilled spec's "pattern?" parameter, which
// names no richer glob dialect.
func matchGlob(pattern, name string) bool {
	if !strings.Contains(pattern, "*") {
		return pattern == name
	}
	parts := strings.Split(pattern, "*")
	idx := 0
	for i, part := range parts {
		if part == "" {
			continue
		}
		pos := strings.Index(name[idx:], part)
		if pos == -1 {
			return false
		}
		if i == 0 && pos != 0 {
			return false
		}
		idx += pos + len(part)
	}
	if last := parts[len(parts)-1]; last != "" && !strings.HasSuffix(name, last) {
		return false
	}
	return true
}
