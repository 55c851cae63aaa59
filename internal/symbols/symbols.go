// Package symbols implements the in-memory Symbol Index: three maps over
// every named chunk (by exact name, by kind, by file path) supporting
// exact, prefix, and fuzzy lookups, built once at process startup from the
// metadata store's chunks. Grounded on the teacher's general
// map-of-slices idiom (as used for the id/key maps in store/hnsw.go); no
// library in the pack implements exact/prefix/Levenshtein lookup over a
// source-derived symbol table, so this component is a from-scratch,
// stdlib map-backed implementation.
package symbols

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/codesearch-core/codesearch/internal/store"
)

// DefaultMaxFuzzyDistance is find_fuzzy's default max edit distance.
const DefaultMaxFuzzyDistance = 3

// listFilesPageSize bounds how many files are fetched per ListFiles call
// while building the index.
const listFilesPageSize = 500

// Ref is one symbol definition: a chunk id, its name, kind, file location,
// and the optional signature/parent/visibility metadata carried on the
// chunk it came from.
type Ref struct {
	ChunkID    string
	Name       string
	Kind       string
	Path       string
	StartLine  int
	EndLine    int
	Signature  string
	Parent     string
	Visibility string
}

// FuzzyMatch pairs a Ref with its edit distance from the query.
type FuzzyMatch struct {
	Ref      *Ref
	Distance int
}

// Index is the symbol table: three maps over the same set of Refs, keyed
// by exact name, kind, and file path respectively. Only chunks whose name
// is present are indexed.
type Index struct {
	byName map[string][]*Ref // exact name -> refs
	byKind map[string][]*Ref
	byFile map[string][]*Ref
	all    []*Ref
}

// New returns an empty Index. Use Build to populate one from a project's
// metadata store, or Add to populate one incrementally (e.g. from the
// ingestion pipeline).
func New() *Index {
	return &Index{
		byName: make(map[string][]*Ref),
		byKind: make(map[string][]*Ref),
		byFile: make(map[string][]*Ref),
	}
}

// Build constructs an Index from every chunk currently persisted for
// projectID, paginating through the metadata store's file list.
func Build(ctx context.Context, metadata store.MetadataStore, projectID string) (*Index, error) {
	idx := New()

	cursor := ""
	for {
		files, next, err := metadata.ListFiles(ctx, projectID, cursor, listFilesPageSize)
		if err != nil {
			return nil, fmt.Errorf("list files: %w", err)
		}
		for _, f := range files {
			chunks, err := metadata.GetChunksByFile(ctx, f.ID)
			if err != nil {
				return nil, fmt.Errorf("list chunks for %s: %w", f.Path, err)
			}
			for _, c := range chunks {
				idx.addChunk(c)
			}
		}
		if next == "" {
			break
		}
		cursor = next
	}

	return idx, nil
}

// Add indexes the named symbols carried by a single chunk. Called directly
// by components (e.g. the ingestion pipeline) that already hold the chunk
// in memory and want to keep the index current without a rebuild.
func (idx *Index) Add(c *store.Chunk) {
	idx.addChunk(c)
}

func (idx *Index) addChunk(c *store.Chunk) {
	for _, sym := range c.Symbols {
		if sym.Name == "" {
			continue
		}
		ref := &Ref{
			ChunkID:    c.ID,
			Name:       sym.Name,
			Kind:       string(sym.Type),
			Path:       c.FilePath,
			StartLine:  sym.StartLine,
			EndLine:    sym.EndLine,
			Signature:  sym.Signature,
			Parent:     c.Metadata["parent"],
			Visibility: c.Metadata["visibility"],
		}
		if kind := c.Metadata["semantic_kind"]; kind != "" {
			ref.Kind = kind
		}

		idx.all = append(idx.all, ref)
		idx.byName[ref.Name] = append(idx.byName[ref.Name], ref)
		idx.byKind[ref.Kind] = append(idx.byKind[ref.Kind], ref)
		idx.byFile[ref.Path] = append(idx.byFile[ref.Path], ref)
	}
}

// FindExact returns every symbol with the given name.
func (idx *Index) FindExact(name string) []*Ref {
	return append([]*Ref(nil), idx.byName[name]...)
}

// FindPrefix returns every symbol whose name has the given prefix,
// case-insensitively.
func (idx *Index) FindPrefix(prefix string) []*Ref {
	prefix = strings.ToLower(prefix)
	var out []*Ref
	for name, refs := range idx.byName {
		if strings.HasPrefix(strings.ToLower(name), prefix) {
			out = append(out, refs...)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// FindFuzzy returns symbols whose case-folded name is within maxDistance
// Levenshtein edits of query, ordered by ascending distance. maxDistance
// defaults to DefaultMaxFuzzyDistance when <= 0.
func (idx *Index) FindFuzzy(query string, maxDistance int) []FuzzyMatch {
	if maxDistance <= 0 {
		maxDistance = DefaultMaxFuzzyDistance
	}
	query = strings.ToLower(query)

	var out []FuzzyMatch
	for name, refs := range idx.byName {
		d := levenshtein(query, strings.ToLower(name))
		if d > maxDistance {
			continue
		}
		for _, ref := range refs {
			out = append(out, FuzzyMatch{Ref: ref, Distance: d})
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Distance != out[j].Distance {
			return out[i].Distance < out[j].Distance
		}
		return out[i].Ref.Name < out[j].Ref.Name
	})
	return out
}

// ListByFile returns every symbol defined in path.
func (idx *Index) ListByFile(path string) []*Ref {
	return append([]*Ref(nil), idx.byFile[path]...)
}

// ListByKind returns every symbol of the given kind.
func (idx *Index) ListByKind(kind string) []*Ref {
	return append([]*Ref(nil), idx.byKind[kind]...)
}

// All returns every indexed symbol.
func (idx *Index) All() []*Ref {
	return append([]*Ref(nil), idx.all...)
}

// FuzzyScore maps an edit distance to a relevance score in (0, 1]: 1/(1+d).
func FuzzyScore(distance int) float64 {
	return 1.0 / float64(1+distance)
}

// levenshtein computes the edit distance between a and b. d(x,x)=0 and
// d(x,y)=d(y,x) (L4).
func levenshtein(a, b string) int {
	ra, rb := []rune(a), []rune(b)
	if len(ra) == 0 {
		return len(rb)
	}
	if len(rb) == 0 {
		return len(ra)
	}

	prev := make([]int, len(rb)+1)
	curr := make([]int, len(rb)+1)
	for j := range prev {
		prev[j] = j
	}

	for i := 1; i <= len(ra); i++ {
		curr[0] = i
		for j := 1; j <= len(rb); j++ {
			cost := 1
			if ra[i-1] == rb[j-1] {
				cost = 0
			}
			del := prev[j] + 1
			ins := curr[j-1] + 1
			sub := prev[j-1] + cost
			curr[j] = min3(del, ins, sub)
		}
		prev, curr = curr, prev
	}
	return prev[len(rb)]
}

func min3(a, b, c int) int {
	m := a
	if b < m {
		m = b
	}
	if c < m {
		m = c
	}
	return m
}
