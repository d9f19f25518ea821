package instrument

import (
	"sort"
	"strings"
	"unicode/utf8"
)

// lineIndex maps byte offsets to 1-based line and column numbers. Columns
// count runes, which is what editors display.
type lineIndex struct {
	src    string
	starts []int
}

func newLineIndex(src string) lineIndex {
	starts := []int{0}
	for i := 0; i < len(src); i++ {
		if src[i] == '\n' {
			starts = append(starts, i+1)
		}
	}
	return lineIndex{src: src, starts: starts}
}

// position returns the 1-based line and column of offset.
func (li lineIndex) position(offset int) (line, col int) {
	if offset < 0 {
		offset = 0
	}
	if offset > len(li.src) {
		offset = len(li.src)
	}
	i := sort.Search(len(li.starts), func(i int) bool { return li.starts[i] > offset }) - 1
	return i + 1, utf8.RuneCountInString(li.src[li.starts[i]:offset]) + 1
}

// edit is one splice against the original source. start == end means a pure
// insertion.
type edit struct {
	start, end int
	rank       int
	seq        int
	text       string
}

// closeBase keeps every closing insertion ahead of every opening insertion
// that lands on the same offset.
const closeBase = -1 << 20

// replaceRank puts a replacement after every insertion that opens a construct
// at the same offset.
const replaceRank = 1 << 20

// openRank orders insertions that begin a construct: outer first.
func openRank(depth int) int { return depth }

// closeRank orders insertions that end a construct: inner first.
func closeRank(depth int) int { return closeBase - depth }

type editList struct {
	edits []edit
}

func (l *editList) insert(pos, rank int, text string) {
	l.edits = append(l.edits, edit{start: pos, end: pos, rank: rank, seq: len(l.edits), text: text})
}

func (l *editList) replace(start, end int, text string) {
	l.edits = append(l.edits, edit{start: start, end: end, rank: replaceRank, seq: len(l.edits), text: text})
}

func (l *editList) apply(src string) string {
	if len(l.edits) == 0 {
		return src
	}
	edits := make([]edit, len(l.edits))
	copy(edits, l.edits)
	sort.SliceStable(edits, func(i, j int) bool {
		a, b := edits[i], edits[j]
		if a.start != b.start {
			return a.start < b.start
		}
		if a.rank != b.rank {
			return a.rank < b.rank
		}
		return a.seq < b.seq
	})

	var b strings.Builder
	b.Grow(len(src) + len(edits)*24)
	pos := 0
	for _, e := range edits {
		if e.start < pos {
			// swallowed by an earlier replacement
			continue
		}
		b.WriteString(src[pos:e.start])
		b.WriteString(e.text)
		pos = e.end
	}
	b.WriteString(src[pos:])
	return b.String()
}

// parenBalance scans s, skipping string, template and comment text, and
// returns the number of '(' left open and the number of ')' with no match.
func parenBalance(s string) (open, unmatched int) {
	for i := 0; i < len(s); i++ {
		switch c := s[i]; c {
		case '\'', '"', '`':
			i = skipQuoted(s, i)
		case '/':
			if i+1 < len(s) && s[i+1] == '/' {
				for i < len(s) && s[i] != '\n' {
					i++
				}
			} else if i+1 < len(s) && s[i+1] == '*' {
				if end := strings.Index(s[i+2:], "*/"); end >= 0 {
					i += end + 3
				} else {
					i = len(s)
				}
			}
		case '(':
			open++
		case ')':
			if open > 0 {
				open--
			} else {
				unmatched++
			}
		}
	}
	return open, unmatched
}

// skipQuoted returns the index of the closing quote matching s[i].
func skipQuoted(s string, i int) int {
	q := s[i]
	for j := i + 1; j < len(s); j++ {
		switch s[j] {
		case '\\':
			j++
		case q:
			return j
		}
	}
	return len(s)
}

func isSpace(c byte) bool {
	return c == ' ' || c == '\t' || c == '\n' || c == '\r'
}
