package chunker

import (
	"fmt"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/dshills/devctx/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// assertCoverage checks that spans cover content end to end in order
func assertCoverage(t *testing.T, content string, spans []Span, size int) {
	t.Helper()
	require.NotEmpty(t, spans)
	assert.Equal(t, 0, spans[0].Start)
	assert.Equal(t, len(content), spans[len(spans)-1].End)

	for i, s := range spans {
		assert.Equal(t, content[s.Start:s.End], s.Text, "span %d text mismatch", i)
		assert.LessOrEqual(t, len(s.Text), size, "span %d exceeds size", i)
		assert.True(t, utf8.ValidString(s.Text), "span %d splits a rune", i)
		if i > 0 {
			prev := spans[i-1]
			assert.Greater(t, s.Start, prev.Start, "span %d does not advance", i)
			assert.LessOrEqual(t, s.Start, prev.End, "gap before span %d", i)
		}
	}
}

func TestSplit_Empty(t *testing.T) {
	assert.Empty(t, Split("", StrategyGeneric, 100, 10))
	assert.Empty(t, Split("", StrategySemanticMarkdown, 100, 0))
}

func TestSplit_FitsInOneChunk(t *testing.T) {
	content := "package main\n\nfunc main() {}\n"
	spans := Split(content, StrategyGeneric, len(content), 5)

	require.Len(t, spans, 1)
	assert.Equal(t, Span{Text: content, Start: 0, End: len(content)}, spans[0])
}

func TestSplit_GenericCoverageAndOverlap(t *testing.T) {
	var b strings.Builder
	for i := 0; i < 200; i++ {
		fmt.Fprintf(&b, "line %03d of the file\n", i)
	}
	content := b.String()

	const size, overlap = 120, 20
	spans := Split(content, StrategyGeneric, size, overlap)
	assertCoverage(t, content, spans, size)

	for i := 1; i < len(spans); i++ {
		assert.Equal(t, spans[i-1].End-overlap, spans[i].Start, "span %d overlap", i)
	}
}

func TestSplit_SnapsToNewline(t *testing.T) {
	content := strings.Repeat("abcdefg\n", 50)
	spans := Split(content, StrategyGeneric, 60, 0)

	for _, s := range spans[:len(spans)-1] {
		assert.Equal(t, byte('\n'), content[s.End-1])
	}
}

func TestSplit_SnapsToSpaceWithoutNewline(t *testing.T) {
	content := strings.Repeat("word ", 100)
	spans := Split(content, StrategyGeneric, 42, 0)

	assertCoverage(t, content, spans, 42)
	for _, s := range spans[:len(spans)-1] {
		assert.Equal(t, byte(' '), content[s.End-1])
	}
}

func TestSplit_NoWhitespaceStillAdvances(t *testing.T) {
	content := strings.Repeat("x", 1000)
	spans := Split(content, StrategyGeneric, 100, 99)

	assertCoverage(t, content, spans, 100)
}

func TestSplit_NeverSplitsRunes(t *testing.T) {
	content := strings.Repeat("é", 100) + strings.Repeat("日本語", 20)
	spans := Split(content, StrategyGeneric, 15, 3)

	assertCoverage(t, content, spans, 15)
}

func TestSplit_Deterministic(t *testing.T) {
	content := strings.Repeat("The quick brown fox jumps over the lazy dog.\n", 40)

	first := Split(content, StrategyGeneric, 200, 30)
	second := Split(content, StrategyGeneric, 200, 30)
	assert.Equal(t, first, second)
}

func TestSplit_OverlapClamped(t *testing.T) {
	content := strings.Repeat("a b ", 50)
	spans := Split(content, StrategyGeneric, 10, 50)

	assertCoverage(t, content, spans, 10)
}

func TestSplit_MarkdownHeadingsStartChunks(t *testing.T) {
	content := "# Title\n\nPara one.\n\n## Sub\n\nPara two.\n\n```go\nfunc x() {}\n```\n"
	spans := Split(content, StrategySemanticMarkdown, 30, 0)

	assertCoverage(t, content, spans, 30)
	require.Len(t, spans, 3)
	assert.True(t, strings.HasPrefix(spans[0].Text, "# Title"))
	assert.True(t, strings.HasPrefix(spans[1].Text, "## Sub"))
	assert.True(t, strings.HasPrefix(spans[2].Text, "```go"))

	// Packed sections do not overlap
	for i := 1; i < len(spans); i++ {
		assert.Equal(t, spans[i-1].End, spans[i].Start)
	}
}

func TestSplit_MarkdownPacksParagraphs(t *testing.T) {
	content := "# Guide\n\n" + strings.Repeat("Short paragraph.\n\n", 10)
	spans := Split(content, StrategySemanticMarkdown, 80, 0)

	assertCoverage(t, content, spans, 80)
	assert.Less(t, len(spans), 10)
}

func TestSplit_MarkdownOversizedSectionFallsBack(t *testing.T) {
	para := strings.Repeat("lorem ipsum dolor sit amet ", 20)
	content := "# Intro\n\n" + para + "\n"
	spans := Split(content, StrategySemanticMarkdown, 64, 8)

	assertCoverage(t, content, spans, 64)
	assert.Greater(t, len(spans), 2)
}

func TestChunkID(t *testing.T) {
	id := ChunkID("internal/auth/login.go", 0)

	assert.Len(t, id, 32)
	assert.Equal(t, id, ChunkID("internal/auth/login.go", 0))
	assert.NotEqual(t, id, ChunkID("internal/auth/login.go", 1))
	assert.NotEqual(t, id, ChunkID("internal/auth/logout.go", 0))
}

func TestComputeChunkHash(t *testing.T) {
	assert.Equal(t, ComputeChunkHash("abc"), ComputeChunkHash("abc"))
	assert.NotEqual(t, ComputeChunkHash("abc"), ComputeChunkHash("abd"))
}

func TestEstimateTokenCount(t *testing.T) {
	assert.Equal(t, 0, EstimateTokenCount(""))
	assert.Equal(t, 25, EstimateTokenCount(strings.Repeat("x", 100)))
}

func TestChunkFile_UsesDocParams(t *testing.T) {
	c := New(nil, Params{ChunkSize: 50, ChunkOverlap: 10, DocChunkSize: 1000, DocChunkOverlap: 0})
	content := strings.Repeat("some words here\n", 20)
	now := time.Now()

	code := c.ChunkFile("pkg/a.go", content, now)
	docs := c.ChunkFile("docs/a.md", content, now)

	assert.Greater(t, len(code), 1)
	require.Len(t, docs, 1)
	assert.Equal(t, types.KindDocumentation, docs[0].DocumentKind)
	assert.Equal(t, "markdown", docs[0].Language)

	for _, rec := range append(code, docs...) {
		require.NoError(t, rec.Validate())
		assert.Equal(t, ChunkID(rec.SourceFile, rec.OffsetStart), rec.ID)
		assert.Equal(t, now, rec.CreatedAt)
	}
	assert.Equal(t, "go", code[0].Language)
	assert.Equal(t, types.KindCode, code[0].DocumentKind)
}
