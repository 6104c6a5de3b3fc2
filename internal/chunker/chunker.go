package chunker

import (
	"crypto/sha256"
	"encoding/hex"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/dshills/devctx/pkg/types"
)

const (
	// TokensPerChar is the heuristic for estimating tokens (chars/4)
	TokensPerChar = 4

	// chunkIDLength is the number of hex characters kept from the id digest
	chunkIDLength = 32
)

// Strategy selects how a document is split. It is a closed set; the
// splitter switches on it rather than dispatching through an interface.
type Strategy int

const (
	// StrategyGeneric is the byte-window splitter with whitespace snapping
	StrategyGeneric Strategy = iota
	// StrategySemanticMarkdown splits at top-level markdown blocks
	StrategySemanticMarkdown
)

// String returns the strategy name used in logs
func (s Strategy) String() string {
	switch s {
	case StrategySemanticMarkdown:
		return "semantic-markdown"
	default:
		return "generic"
	}
}

// Span is one chunk of a document addressed by byte offsets
type Span struct {
	Text  string
	Start int
	End   int
}

// Params holds the chunk sizes for code and documentation
type Params struct {
	ChunkSize       int
	ChunkOverlap    int
	DocChunkSize    int
	DocChunkOverlap int
}

// Chunker turns file contents into chunk records
type Chunker struct {
	registry *Registry
	params   Params
}

// New creates a new Chunker instance. A nil registry uses DefaultRegistry.
func New(registry *Registry, params Params) *Chunker {
	if registry == nil {
		registry = DefaultRegistry()
	}
	return &Chunker{registry: registry, params: params}
}

// Registry returns the registry used for language detection
func (c *Chunker) Registry() *Registry {
	return c.registry
}

// ChunkFile splits one file into chunk records. relPath must already be
// workspace-relative and slash separated.
func (c *Chunker) ChunkFile(relPath, content string, createdAt time.Time) []*types.ChunkRecord {
	language, profile := c.registry.Detect(relPath)

	size, overlap := c.params.ChunkSize, c.params.ChunkOverlap
	if profile.Kind == types.KindDocumentation {
		size, overlap = c.params.DocChunkSize, c.params.DocChunkOverlap
	}

	spans := Split(content, profile.Strategy, size, overlap)
	records := make([]*types.ChunkRecord, 0, len(spans))
	for _, span := range spans {
		rec := &types.ChunkRecord{
			ID:           ChunkID(relPath, span.Start),
			SourceFile:   relPath,
			OffsetStart:  span.Start,
			OffsetEnd:    span.End,
			Text:         span.Text,
			DocumentKind: profile.Kind,
			Language:     language,
			CreatedAt:    createdAt,
		}
		rec.ComputeContentHash()
		records = append(records, rec)
	}

	return records
}

// Split divides content into ordered spans that cover it end to end.
// Consecutive generic windows share chunkOverlap bytes.
func Split(content string, strategy Strategy, chunkSize, chunkOverlap int) []Span {
	if len(content) == 0 {
		return nil
	}
	if chunkSize <= 0 {
		chunkSize = len(content)
	}
	if chunkOverlap < 0 {
		chunkOverlap = 0
	}
	if chunkOverlap >= chunkSize {
		chunkOverlap = chunkSize - 1
	}

	if len(content) <= chunkSize {
		return []Span{{Text: content, Start: 0, End: len(content)}}
	}

	switch strategy {
	case StrategySemanticMarkdown:
		return splitMarkdown(content, chunkSize, chunkOverlap)
	default:
		return slidingWindow(content, 0, len(content), chunkSize, chunkOverlap)
	}
}

// slidingWindow splits content[lo:hi] into windows of at most size bytes
func slidingWindow(content string, lo, hi, size, overlap int) []Span {
	if hi <= lo {
		return nil
	}

	var spans []Span
	start := lo
	for {
		if hi-start <= size {
			spans = append(spans, Span{Text: content[start:hi], Start: start, End: hi})
			return spans
		}

		// The snapped end must leave the next window strictly ahead of this one
		minEnd := start + max(size/2, overlap+1)
		end := snapEnd(content, minEnd, start+size)
		end = alignRune(content, end, minEnd, hi)

		spans = append(spans, Span{Text: content[start:end], Start: start, End: end})

		next := end - overlap
		for next < end && !utf8.RuneStart(content[next]) {
			next++
		}
		start = next
	}
}

// snapEnd moves end back to just after the last newline in [minEnd, end),
// falling back to the last space or tab
func snapEnd(content string, minEnd, end int) int {
	if minEnd >= end {
		return end
	}
	window := content[minEnd:end]
	if i := strings.LastIndexByte(window, '\n'); i >= 0 {
		return minEnd + i + 1
	}
	if i := strings.LastIndexAny(window, " \t"); i >= 0 {
		return minEnd + i + 1
	}
	return end
}

// alignRune keeps end on a rune boundary
func alignRune(content string, end, minEnd, hi int) int {
	aligned := end
	for aligned > minEnd && !utf8.RuneStart(content[aligned]) {
		aligned--
	}
	if utf8.RuneStart(content[aligned]) {
		return aligned
	}
	// A single rune wider than the search range; take it whole
	aligned = end
	for aligned < hi && !utf8.RuneStart(content[aligned]) {
		aligned++
	}
	return aligned
}

// ChunkID derives the stable chunk identifier from its file and start offset
func ChunkID(sourceFile string, offsetStart int) string {
	sum := sha256.Sum256([]byte(sourceFile + "#" + strconv.Itoa(offsetStart)))
	return hex.EncodeToString(sum[:])[:chunkIDLength]
}

// ComputeChunkHash computes the SHA-256 hash for a chunk's content
func ComputeChunkHash(content string) [32]byte {
	return sha256.Sum256([]byte(content))
}

// EstimateTokenCount estimates the number of tokens in a string
func EstimateTokenCount(text string) int {
	return len(text) / TokensPerChar
}
