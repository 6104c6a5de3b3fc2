package chunker

import (
	"sort"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/text"
)

// section is a run of top-level markdown blocks between two boundaries
type section struct {
	start   int
	end     int
	heading bool
}

// splitMarkdown packs top-level blocks into chunks of at most size bytes.
// Headings always open a new chunk; oversized sections fall back to the
// sliding window.
func splitMarkdown(content string, size, overlap int) []Span {
	sections := markdownSections(content)

	var spans []Span
	curStart, curEnd := -1, -1
	flush := func() {
		if curStart >= 0 {
			spans = append(spans, Span{Text: content[curStart:curEnd], Start: curStart, End: curEnd})
		}
		curStart, curEnd = -1, -1
	}

	for _, s := range sections {
		if s.end-s.start > size {
			flush()
			spans = append(spans, slidingWindow(content, s.start, s.end, size, overlap)...)
			continue
		}
		if curStart >= 0 && (s.heading || s.end-curStart > size) {
			flush()
		}
		if curStart < 0 {
			curStart = s.start
		}
		curEnd = s.end
	}
	flush()

	return spans
}

// markdownSections parses content and returns contiguous sections covering it
func markdownSections(content string) []section {
	src := []byte(content)
	doc := goldmark.New().Parser().Parse(text.NewReader(src))

	headings := make(map[int]bool)
	var bounds []int
	for n := doc.FirstChild(); n != nil; n = n.NextSibling() {
		start := blockStart(n)
		if start < 0 {
			continue
		}
		start = lineStart(content, start)
		if _, ok := n.(*ast.FencedCodeBlock); ok {
			start = fenceStart(n.(*ast.FencedCodeBlock), content, start)
		}
		bounds = append(bounds, start)
		if n.Kind() == ast.KindHeading {
			headings[start] = true
		}
	}

	bounds = append(bounds, 0)
	sort.Ints(bounds)

	sections := make([]section, 0, len(bounds))
	for i, b := range bounds {
		if i > 0 && b == bounds[i-1] {
			continue
		}
		if len(sections) > 0 {
			sections[len(sections)-1].end = b
		}
		sections = append(sections, section{start: b, heading: headings[b]})
	}
	sections[len(sections)-1].end = len(content)

	// Drop empty sections produced by duplicate or trailing boundaries
	out := sections[:0]
	for _, s := range sections {
		if s.end > s.start {
			out = append(out, s)
		}
	}
	return out
}

// blockStart returns the first source offset of a block node, or -1.
// Inline nodes have no line segments and are never inspected.
func blockStart(n ast.Node) int {
	if n.Type() == ast.TypeBlock {
		if lines := n.Lines(); lines != nil && lines.Len() > 0 {
			return lines.At(0).Start
		}
	}
	first := -1
	for c := n.FirstChild(); c != nil; c = c.NextSibling() {
		if c.Type() != ast.TypeBlock {
			continue
		}
		if s := blockStart(c); s >= 0 && (first < 0 || s < first) {
			first = s
		}
	}
	return first
}

// fenceStart moves a fenced code block boundary back onto its opening fence
func fenceStart(n *ast.FencedCodeBlock, content string, start int) int {
	if n.Info != nil {
		return lineStart(content, n.Info.Segment.Start)
	}
	if n.Lines().Len() > 0 && start > 0 {
		return lineStart(content, start-1)
	}
	return start
}

// lineStart returns the offset of the line containing pos
func lineStart(content string, pos int) int {
	if pos > len(content) {
		pos = len(content)
	}
	for pos > 0 && content[pos-1] != '\n' {
		pos--
	}
	return pos
}
