package chunk

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"time"
	"unicode"
)

// CodeChunkerOptions configures the code chunker behavior.
type CodeChunkerOptions struct {
	MinChunkTokens int // units below this are buffered and merged (default: DefaultMinChunkTokens)
	MaxChunkTokens int // units above this are line-split (default: DefaultMaxChunkTokens)
	OverlapTokens  int // overlap between chunks when line-splitting (default: DefaultOverlapTokens)
	HeaderLines    int // lines of file_header carried on every chunk (default: DefaultHeaderLines)
}

// CodeChunker implements AST-aware code chunking using tree-sitter, falling
// back to line-based chunking for unsupported languages or parse failures.
type CodeChunker struct {
	parser    *Parser
	extractor *SymbolExtractor
	registry  *LanguageRegistry
	options   CodeChunkerOptions
}

var _ Chunker = (*CodeChunker)(nil)

// NewCodeChunker creates a new code chunker with default options.
func NewCodeChunker() *CodeChunker {
	return NewCodeChunkerWithOptions(CodeChunkerOptions{})
}

// NewCodeChunkerWithOptions creates a new code chunker with custom options.
func NewCodeChunkerWithOptions(opts CodeChunkerOptions) *CodeChunker {
	if opts.MinChunkTokens == 0 {
		opts.MinChunkTokens = DefaultMinChunkTokens
	}
	if opts.MaxChunkTokens == 0 {
		opts.MaxChunkTokens = DefaultMaxChunkTokens
	}
	if opts.OverlapTokens == 0 {
		opts.OverlapTokens = DefaultOverlapTokens
	}
	if opts.HeaderLines == 0 {
		opts.HeaderLines = DefaultHeaderLines
	}

	registry := DefaultRegistry()
	return &CodeChunker{
		parser:    NewParserWithRegistry(registry),
		extractor: NewSymbolExtractorWithRegistry(registry),
		registry:  registry,
		options:   opts,
	}
}

// Close releases chunker resources.
func (c *CodeChunker) Close() {
	if c.parser != nil {
		c.parser.Close()
	}
}

// SupportedExtensions returns file extensions this chunker handles.
func (c *CodeChunker) SupportedExtensions() []string {
	return c.registry.SupportedExtensions()
}

// Chunk splits a file into semantic chunks, merging small declarations and
// line-splitting oversized ones per the token-budget algorithm.
func (c *CodeChunker) Chunk(ctx context.Context, file *FileInput) ([]*Chunk, Stats, error) {
	if len(file.Content) == 0 {
		return []*Chunk{}, Stats{}, nil
	}

	header := fileHeader(file.Content, c.options.HeaderLines)
	contentType := contentTypeFor(file.Path, file.Language)

	if _, supported := c.registry.GetByName(file.Language); !supported {
		chunks, stats := c.chunkByLines(file, header, contentType)
		return chunks, stats, nil
	}

	tree, err := c.parser.Parse(ctx, file.Content, file.Language)
	if err != nil || tree == nil {
		chunks, stats := c.chunkByLines(file, header, contentType)
		return chunks, stats, nil
	}

	units := c.extractor.Extract(tree, file.Content)
	if len(units) == 0 {
		chunks, stats := c.chunkByLines(file, header, contentType)
		return chunks, stats, nil
	}

	chunks, stats := c.mergeUnits(units, file, header, contentType)
	stats.UnitsExtracted = len(units)
	return chunks, stats, nil
}

// mergeUnits implements the merge-buffer algorithm: units below MinChunkTokens
// accumulate in a pending buffer until the buffer reaches the threshold and
// flushes as one chunk; units above MaxChunkTokens are flushed (along with any
// pending buffer) and line-split; everything else becomes its own chunk.
func (c *CodeChunker) mergeUnits(units []*SemanticUnit, file *FileInput, header string, contentType ContentType) ([]*Chunk, Stats) {
	var chunks []*Chunk
	var stats Stats
	now := time.Now()

	var pending []*SemanticUnit
	pendingTokens := 0

	flushPending := func() {
		if len(pending) == 0 {
			return
		}
		chunks = append(chunks, c.chunkFromUnits(pending, file, header, contentType, now))
		if len(pending) > 1 {
			stats.UnitsMerged += len(pending)
		}
		pending = nil
		pendingTokens = 0
	}

	for _, u := range units {
		tokens := estimateTokens(u.Content)

		switch {
		case tokens > c.options.MaxChunkTokens:
			flushPending()
			split := c.splitOversizedUnit(u, file, header, contentType, now)
			chunks = append(chunks, split...)
			stats.LineFallbackChunks += len(split)

		case tokens < c.options.MinChunkTokens:
			pending = append(pending, u)
			pendingTokens += tokens
			if pendingTokens >= c.options.MinChunkTokens {
				flushPending()
			}

		default:
			flushPending()
			chunks = append(chunks, c.chunkFromUnits([]*SemanticUnit{u}, file, header, contentType, now))
		}
	}
	flushPending()

	stats.Method = "ast"
	if stats.LineFallbackChunks > 0 {
		stats.Method = "mixed"
	}
	if chunks == nil {
		chunks = []*Chunk{}
	}
	return chunks, stats
}

// chunkFromUnits builds a single Chunk from one or more adjacent semantic
// units (a merged small-unit buffer, or a single unit flushed on its own).
func (c *CodeChunker) chunkFromUnits(units []*SemanticUnit, file *FileInput, header string, contentType ContentType, now time.Time) *Chunk {
	first := units[0]
	last := units[len(units)-1]

	contents := make([]string, 0, len(units))
	for _, u := range units {
		contents = append(contents, u.Content)
	}
	content := strings.Join(contents, "\n\n")

	kind := first.Kind
	name := first.Name
	for _, u := range units[1:] {
		if u.Kind != kind {
			kind = ""
		}
	}
	if len(units) > 1 {
		names := make([]string, 0, len(units))
		for _, u := range units {
			if u.Name != "" {
				names = append(names, u.Name)
			}
		}
		name = strings.Join(names, ", ")
	}

	return &Chunk{
		Content:      content,
		FilePath:     file.Path,
		ContentType:  contentType,
		Language:     file.Language,
		StartLine:    first.StartLine,
		EndLine:      last.EndLine,
		SemanticKind: kind,
		Name:         name,
		Signature:    first.Signature,
		Parent:       first.Parent,
		Visibility:   visibilityOf(file.Language, first.Name),
		DocComment:   first.DocComment,
		FileHeader:   header,
		CreatedAt:    now,
	}
}

// splitOversizedUnit line-splits a unit larger than MaxChunkTokens. Only the
// first resulting sub-chunk carries the unit's name/kind/signature/parent.
func (c *CodeChunker) splitOversizedUnit(u *SemanticUnit, file *FileInput, header string, contentType ContentType, now time.Time) []*Chunk {
	ranges := splitLinesAtBoundaries(u.Content, c.options.MaxChunkTokens, c.options.OverlapTokens)

	chunks := make([]*Chunk, 0, len(ranges))
	for i, r := range ranges {
		chunk := &Chunk{
			Content:     r.content,
			FilePath:    file.Path,
			ContentType: contentType,
			Language:    file.Language,
			StartLine:   u.StartLine + r.startLine,
			EndLine:     u.StartLine + r.endLine,
			FileHeader:  header,
			CreatedAt:   now,
		}
		if i == 0 {
			chunk.SemanticKind = u.Kind
			chunk.Name = u.Name
			chunk.Signature = u.Signature
			chunk.Parent = u.Parent
			chunk.Visibility = visibilityOf(file.Language, u.Name)
			chunk.DocComment = u.DocComment
		}
		chunks = append(chunks, chunk)
	}
	return chunks
}

// lineRange is a 0-indexed (relative) line span with its joined content.
type lineRange struct {
	startLine int
	endLine   int
	content   string
}

// splitLinesAtBoundaries splits content into chunks near targetTokens lines,
// preferring to break on blank lines, closing braces, or lines that precede a
// new declaration, within 20% of the target chunk size.
func splitLinesAtBoundaries(content string, maxTokens, overlapTokens int) []lineRange {
	lines := strings.Split(content, "\n")
	if len(lines) == 0 {
		return nil
	}

	targetLines := (maxTokens * TokensPerChar) / 80
	if targetLines < 10 {
		targetLines = 10
	}
	window := targetLines / 5 // 20%
	if window < 1 {
		window = 1
	}
	overlapLines := (overlapTokens * TokensPerChar) / 80
	if overlapLines < 1 {
		overlapLines = 1
	}

	var ranges []lineRange
	i := 0
	for i < len(lines) {
		end := i + targetLines
		if end >= len(lines) {
			ranges = append(ranges, lineRange{startLine: i, endLine: len(lines) - 1, content: strings.Join(lines[i:], "\n")})
			break
		}

		boundary := end
		for offset := 0; offset <= window; offset++ {
			if end+offset < len(lines) && isGoodBoundary(lines[end+offset]) {
				boundary = end + offset
				break
			}
			if end-offset >= i+1 && isGoodBoundary(lines[end-offset]) {
				boundary = end - offset
				break
			}
		}

		ranges = append(ranges, lineRange{startLine: i, endLine: boundary - 1, content: strings.Join(lines[i:boundary], "\n")})

		next := boundary - overlapLines
		if next <= i {
			next = boundary
		}
		i = next
	}
	return ranges
}

// isGoodBoundary reports whether a line is a reasonable place to end a chunk:
// blank, a lone closing brace, or the start of a new declaration.
func isGoodBoundary(line string) bool {
	trimmed := strings.TrimSpace(line)
	if trimmed == "" || trimmed == "}" || trimmed == "};" || trimmed == ")" {
		return true
	}
	for _, kw := range declarationKeywords {
		if strings.HasPrefix(trimmed, kw) {
			return true
		}
	}
	return false
}

var declarationKeywords = []string{
	"func ", "def ", "fn ", "class ", "struct ", "impl ", "interface ",
	"type ", "const ", "var ", "static ", "public ", "private ", "protected ",
	"export ", "module.exports", "pub fn ", "pub struct ", "pub enum ",
	"@", "#[",
}

// visibilityOf makes a best-effort guess at exported/public vs private for
// languages whose convention is name-based (Go's capitalization rule).
func visibilityOf(language, name string) string {
	if name == "" {
		return ""
	}
	switch language {
	case "go":
		r := []rune(name)[0]
		if unicode.IsUpper(r) {
			return "public"
		}
		return "private"
	case "python":
		if strings.HasPrefix(name, "_") {
			return "private"
		}
		return "public"
	default:
		return ""
	}
}

// fileHeader returns the first n lines of source, joined with newlines.
func fileHeader(content []byte, n int) string {
	lines := strings.Split(string(content), "\n")
	if len(lines) > n {
		lines = lines[:n]
	}
	return strings.Join(lines, "\n")
}

func contentTypeFor(path, language string) ContentType {
	lower := strings.ToLower(path)
	if strings.HasSuffix(lower, ".md") || strings.HasSuffix(lower, ".markdown") {
		return ContentTypeMarkdown
	}
	if language != "" {
		return ContentTypeCode
	}
	return ContentTypeText
}

// chunkByLines is the fallback chunker for unsupported languages, parse
// failures, and files with no extractable semantic units.
func (c *CodeChunker) chunkByLines(file *FileInput, header string, contentType ContentType) ([]*Chunk, Stats) {
	content := string(file.Content)
	if strings.TrimSpace(content) == "" {
		return []*Chunk{}, Stats{}
	}

	ranges := splitLinesAtBoundaries(content, c.options.MaxChunkTokens, c.options.OverlapTokens)
	now := time.Now()

	chunks := make([]*Chunk, 0, len(ranges))
	for _, r := range ranges {
		chunks = append(chunks, &Chunk{
			Content:     r.content,
			FilePath:    file.Path,
			ContentType: contentType,
			Language:    file.Language,
			StartLine:   r.startLine + 1,
			EndLine:     r.endLine + 1,
			FileHeader:  header,
			CreatedAt:   now,
		})
	}

	return chunks, Stats{Method: "line", LineFallbackChunks: len(chunks)}
}

// generateChunkID generates a content-addressable chunk ID from file path and
// content. Same content in the same file yields the same ID across line
// shifts; different content or a different file path yields a different ID.
func generateChunkID(filePath string, content string) string {
	contentHash := sha256.Sum256([]byte(content))
	contentHashStr := hex.EncodeToString(contentHash[:])[:16]

	input := fmt.Sprintf("%s:%s", filePath, contentHashStr)
	hash := sha256.Sum256([]byte(input))
	return hex.EncodeToString(hash[:])[:16]
}
