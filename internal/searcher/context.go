package searcher

import (
	"strings"

	"github.com/dshills/devctx/pkg/types"
)

// fileView reassembles a file's indexed text from its ordered chunks so
// results can be anchored to line numbers and widened with neighbours
type fileView struct {
	records []*types.ChunkRecord // Sorted by OffsetStart
	index   map[string]int       // chunk id -> position in records
	text    string               // Prefix of the file covered without gaps
}

func newFileView(records []*types.ChunkRecord) *fileView {
	v := &fileView{
		records: records,
		index:   make(map[string]int, len(records)),
	}

	var b strings.Builder
	covered := 0
	for i, r := range records {
		v.index[r.ID] = i
		if r.OffsetStart > covered {
			break
		}
		if r.OffsetEnd <= covered {
			continue
		}
		b.WriteString(r.Text[covered-r.OffsetStart:])
		covered = r.OffsetEnd
	}
	v.text = b.String()
	return v
}

// lines returns the 1-based line span of rec, or zeros when the file text
// before rec is not available
func (v *fileView) lines(rec *types.ChunkRecord) (int, int) {
	if rec.OffsetStart > len(v.text) {
		return 0, 0
	}
	start := 1 + strings.Count(v.text[:rec.OffsetStart], "\n")
	end := start + strings.Count(strings.TrimSuffix(rec.Text, "\n"), "\n")
	return start, end
}

// neighbourhood returns the text spanning window chunks either side of rec
func (v *fileView) neighbourhood(rec *types.ChunkRecord, window int) string {
	i, ok := v.index[rec.ID]
	if !ok || window <= 0 {
		return ""
	}
	lo := max(0, i-window)
	hi := min(len(v.records)-1, i+window)

	start, end := v.records[lo].OffsetStart, v.records[hi].OffsetEnd
	if end <= len(v.text) {
		return v.text[start:end]
	}

	parts := make([]string, 0, hi-lo+1)
	for _, r := range v.records[lo : hi+1] {
		parts = append(parts, r.Text)
	}
	return strings.Join(parts, "\n")
}
