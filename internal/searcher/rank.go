package searcher

import (
	"sort"
	"strings"
	"unicode"

	"github.com/dshills/devctx/internal/embedder"
	"github.com/dshills/devctx/pkg/types"
)

const (
	// HybridWeight scales the lexical score in hybrid mode
	HybridWeight = 0.15

	// MaxChunksPerFile caps results per source file when reranking
	MaxChunksPerFile = 2

	// duplicatePenalty scales the score of deferred near-duplicates
	duplicatePenalty = 0.9
)

// Lexical signal weights, summing to 1
const (
	weightOverlap    = 0.45
	weightPath       = 0.2
	weightIdentifier = 0.2
	weightHint       = 0.15
)

var stopWords = map[string]bool{
	"the": true, "and": true, "for": true, "with": true, "how": true, "what": true,
	"where": true, "when": true, "does": true, "is": true, "are": true, "to": true,
	"of": true, "in": true, "on": true, "a": true, "an": true, "do": true, "it": true,
	"this": true, "that": true, "from": true, "by": true, "be": true, "or": true,
}

// candidate is one chunk under consideration for a query
type candidate struct {
	rec        *types.ChunkRecord
	similarity float64
	lexical    float64
	score      float64

	fromVector  bool
	fromKeyword bool
	hinted      bool

	overlap    bool
	pathMatch  bool
	identifier bool
	deferred   bool
}

// queryTerms holds the lexical view of a raw query
type queryTerms struct {
	terms       []string // Lowercase, deduplicated, without stop words
	identifiers []string // Raw tokens that look like code identifiers
}

func newQueryTerms(query string) *queryTerms {
	q := &queryTerms{}
	seen := make(map[string]bool)
	for _, t := range embedder.Tokenize(query) {
		if stopWords[t] || seen[t] {
			continue
		}
		seen[t] = true
		q.terms = append(q.terms, t)
	}

	for _, w := range strings.FieldsFunc(query, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '_'
	}) {
		if isIdentifier(w) {
			q.identifiers = append(q.identifiers, w)
		}
	}
	return q
}

// isIdentifier accepts snake_case and mixed-case words such as parseConfig
// or HTTPServer, but not capitalized prose like "Authentication"
func isIdentifier(w string) bool {
	if len(w) < 3 {
		return false
	}
	if strings.Contains(strings.Trim(w, "_"), "_") {
		return true
	}
	var lower, innerUpper bool
	for i, r := range w {
		switch {
		case unicode.IsLower(r):
			lower = true
		case unicode.IsUpper(r) && i > 0:
			innerUpper = true
		}
	}
	return lower && innerUpper
}

// scoreLexical fills the lexical signals of c
func (q *queryTerms) scoreLexical(c *candidate) {
	var overlap, path, ident, hint float64

	if len(q.terms) > 0 {
		words := make(map[string]bool)
		for _, t := range embedder.Tokenize(c.rec.Text) {
			words[t] = true
		}
		lowerPath := strings.ToLower(c.rec.SourceFile)

		var inText, inPath, pathTerms int
		for _, t := range q.terms {
			if words[t] {
				inText++
			}
			if len(t) >= 3 {
				pathTerms++
				if strings.Contains(lowerPath, t) {
					inPath++
				}
			}
		}
		overlap = float64(inText) / float64(len(q.terms))
		if pathTerms > 0 {
			path = float64(inPath) / float64(pathTerms)
		}
	}

	for _, id := range q.identifiers {
		if strings.Contains(c.rec.Text, id) {
			ident = 1
			break
		}
	}
	if c.hinted {
		hint = 1
	}

	c.overlap = overlap > 0
	c.pathMatch = path > 0
	c.identifier = ident > 0
	c.lexical = min(1, weightOverlap*overlap+weightPath*path+weightIdentifier*ident+weightHint*hint)
}

// combine folds the lexical score into the similarity. The result never
// drops below the similarity and never exceeds 1.
func combine(similarity, lexical, weight float64) float64 {
	return similarity + weight*lexical*(1-similarity)
}

// clamp01 bounds x to [0,1]
func clamp01(x float64) float64 {
	switch {
	case x < 0:
		return 0
	case x > 1:
		return 1
	default:
		return x
	}
}

// less orders by score, then shorter path, then offset, then path, then id
func less(a, b *candidate) bool {
	if a.score != b.score {
		return a.score > b.score
	}
	if len(a.rec.SourceFile) != len(b.rec.SourceFile) {
		return len(a.rec.SourceFile) < len(b.rec.SourceFile)
	}
	if a.rec.OffsetStart != b.rec.OffsetStart {
		return a.rec.OffsetStart < b.rec.OffsetStart
	}
	if a.rec.SourceFile != b.rec.SourceFile {
		return a.rec.SourceFile < b.rec.SourceFile
	}
	return a.rec.ID < b.rec.ID
}

func sortCandidates(cands []*candidate) {
	sort.SliceStable(cands, func(i, j int) bool { return less(cands[i], cands[j]) })
}

// medianSimilarity returns the median similarity of cands
func medianSimilarity(cands []*candidate) float64 {
	if len(cands) == 0 {
		return 0
	}
	sims := make([]float64, len(cands))
	for i, c := range cands {
		sims[i] = c.similarity
	}
	sort.Float64s(sims)
	mid := len(sims) / 2
	if len(sims)%2 == 0 {
		return (sims[mid-1] + sims[mid]) / 2
	}
	return sims[mid]
}

// rerank selects up to k of the sorted candidates, keeping at most
// MaxChunksPerFile per file and skipping chunks within window bytes of an
// already selected chunk of the same file. Deferred candidates fill any
// remaining slots with a penalized score between floor and the lowest
// selected score; the result is ordered by less, so ties keep the usual
// tie-break.
func rerank(sorted []*candidate, k int, floor float64, window func(types.DocumentKind) int) []*candidate {
	selected := make([]*candidate, 0, k)
	var deferred []*candidate
	perFile := make(map[string][]*candidate)

	for _, c := range sorted {
		if len(selected) == k {
			break
		}
		prior := perFile[c.rec.SourceFile]
		if len(prior) >= MaxChunksPerFile || nearDuplicate(c, prior, window(c.rec.DocumentKind)) {
			deferred = append(deferred, c)
			continue
		}
		selected = append(selected, c)
		perFile[c.rec.SourceFile] = append(prior, c)
	}

	if len(selected) == k || len(deferred) == 0 {
		return selected
	}

	ceiling := selected[len(selected)-1].score
	for _, c := range deferred {
		if len(selected) == k {
			break
		}
		c.deferred = true
		c.score = max(floor, min(c.score*duplicatePenalty, ceiling))
		selected = append(selected, c)
	}
	sortCandidates(selected)
	return selected
}

// nearDuplicate reports whether c overlaps or sits within window bytes of
// any chunk in prior
func nearDuplicate(c *candidate, prior []*candidate, window int) bool {
	for _, p := range prior {
		gap := max(c.rec.OffsetStart, p.rec.OffsetStart) - min(c.rec.OffsetEnd, p.rec.OffsetEnd)
		if gap <= window {
			return true
		}
	}
	return false
}

// factors lists the signals that contributed to c, in a fixed order
func (c *candidate) factors(median float64, hybrid bool) []string {
	out := make([]string, 0, 4)
	if c.similarity >= median {
		out = append(out, types.FactorVectorAboveMedian)
	} else {
		out = append(out, types.FactorVectorBelowMedian)
	}
	if hybrid {
		if c.overlap {
			out = append(out, types.FactorKeywordOverlap)
		}
		if c.pathMatch {
			out = append(out, types.FactorPathMatch)
		}
		if c.identifier {
			out = append(out, types.FactorExactIdentifier)
		}
	}
	if c.hinted {
		out = append(out, types.FactorFileHint)
	}
	if c.fromKeyword && !c.fromVector {
		out = append(out, types.FactorKeywordSearch)
	}
	if c.deferred {
		out = append(out, types.FactorNearDuplicate)
	}
	return out
}
