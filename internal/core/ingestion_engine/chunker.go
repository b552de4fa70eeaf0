package ingestion_engine

import (
	"strings"
	"unicode/utf8"
)

// legalSeparators is the split cascade, tried from most structurally
// significant to least. Markdown headers and legal section markers first,
// then paragraph/line breaks, then sentence breaks, then plain whitespace
// as last resort. Breaking at legally meaningful boundaries keeps chunks
// self-contained, which retrieval precision benefits from.
var legalSeparators = []string{
	"# ",
	"## ",
	"### ",
	"SECTION ",
	"Article ",
	"Clause ",
	"WHEREAS ",
	"ENACTED ",
	"RESOLVED ",
	"a) ",
	"b) ",
	"1) ",
	"2) ",
	"3) ",
	"4) ",
	"5) ",
	"6) ",
	"7) ",
	"8) ",
	"9) ",
	"\n\n",
	"\n",
	". ",
	" ",
}

// prefixSeparators mark the START of a structural unit; the separator stays
// attached to the fragment it opens. Everything else ("\n\n", ". ", " ") ends
// a fragment and stays attached to its tail, so fragments always tile the
// input text exactly.
var prefixSeparators = map[string]bool{
	"# ": true, "## ": true, "### ": true,
	"SECTION ": true, "Article ": true, "Clause ": true,
	"WHEREAS ": true, "ENACTED ": true, "RESOLVED ": true,
	"a) ": true, "b) ": true,
	"1) ": true, "2) ": true, "3) ": true, "4) ": true,
	"5) ": true, "6) ": true, "7) ": true, "8) ": true, "9) ": true,
}

// Segment is one produced chunk with its zero-based ordinal and byte offsets
// into the original text. Content == text[StartChar:EndChar] always.
type Segment struct {
	Index     int
	Content   string
	StartChar int
	EndChar   int
}

// Chunker splits normalized text into overlapping, position-tracked segments.
// Offsets are threaded through the recursion rather than recovered by
// re-searching the text, so repeated passages cannot misplace a chunk.
type Chunker struct {
	size       int
	overlap    int
	separators []string
}

func NewChunker(size, overlap int) *Chunker {
	if size <= 0 {
		size = DefaultChunkSize
	}
	if overlap < 0 || overlap >= size {
		overlap = DefaultChunkOverlap
	}
	return &Chunker{size: size, overlap: overlap, separators: legalSeparators}
}

// Chunk produces the ordered segment sequence for text. Empty input yields
// no segments; input within one chunk size yields exactly one segment
// spanning the whole text.
func (c *Chunker) Chunk(text string) []Segment {
	if text == "" {
		return nil
	}
	if len(text) <= c.size {
		return []Segment{{Index: 0, Content: text, StartChar: 0, EndChar: len(text)}}
	}
	frags := c.fragment(text, 0, c.separators)
	return c.assemble(text, frags)
}

// fragment is one tile of the input: text[start : start+len(body)] == body.
type fragment struct {
	start int
	body  string
}

func (f fragment) end() int { return f.start + len(f.body) }

// fragment recursively splits text against the cascade until every fragment
// fits within the chunk size. base is the absolute offset of text within the
// original document. When the cascade is exhausted the text is cut hard at
// the size boundary.
func (c *Chunker) fragment(text string, base int, seps []string) []fragment {
	if len(text) <= c.size {
		return []fragment{{start: base, body: text}}
	}
	if len(seps) == 0 {
		var out []fragment
		i := 0
		for i < len(text) {
			end := i + c.size
			if end >= len(text) {
				end = len(text)
			} else {
				// Never bisect a multi-byte rune at the cut point.
				for end > i+1 && !utf8.RuneStart(text[end]) {
					end--
				}
			}
			out = append(out, fragment{start: base + i, body: text[i:end]})
			i = end
		}
		return out
	}

	sep := seps[0]
	var parts []string
	if prefixSeparators[sep] {
		parts = splitBefore(text, sep)
	} else {
		parts = splitAfter(text, sep)
	}
	if len(parts) == 1 {
		return c.fragment(text, base, seps[1:])
	}

	var out []fragment
	off := 0
	for _, p := range parts {
		out = append(out, c.fragment(p, base+off, seps[1:])...)
		off += len(p)
	}
	return out
}

// assemble greedily merges adjacent fragments up to the chunk size, then
// starts the next chunk early enough to reuse up to overlap bytes of the
// previous chunk's tail. The start cursor only ever advances, so overlap can
// never re-emit a whole chunk.
func (c *Chunker) assemble(text string, frags []fragment) []Segment {
	var segs []Segment
	i := 0
	for i < len(frags) {
		chunkStart := frags[i].start
		j := i + 1
		for j < len(frags) && frags[j].end()-chunkStart <= c.size {
			j++
		}
		chunkEnd := frags[j-1].end()

		segs = append(segs, Segment{
			Index:     len(segs),
			Content:   text[chunkStart:chunkEnd],
			StartChar: chunkStart,
			EndChar:   chunkEnd,
		})

		if j >= len(frags) {
			break
		}

		// Walk back from the merge boundary while the tail distance stays
		// within the overlap budget, but never back to (or past) the
		// previous chunk's first fragment.
		k := j
		for k-1 > i && chunkEnd-frags[k-1].start <= c.overlap {
			k--
		}
		i = k
	}
	return segs
}

// splitBefore splits text at every occurrence of sep except one at offset 0,
// leaving the separator attached to the fragment it opens.
func splitBefore(text, sep string) []string {
	var parts []string
	prev := 0
	i := 1
	for i < len(text) {
		j := strings.Index(text[i:], sep)
		if j < 0 {
			break
		}
		at := i + j
		parts = append(parts, text[prev:at])
		prev = at
		i = at + 1
	}
	return append(parts, text[prev:])
}

// splitAfter splits text after every occurrence of sep, leaving the
// separator attached to the fragment it closes. A trailing separator does
// not produce an empty tail fragment.
func splitAfter(text, sep string) []string {
	var parts []string
	prev := 0
	for {
		j := strings.Index(text[prev:], sep)
		if j < 0 {
			break
		}
		end := prev + j + len(sep)
		if end >= len(text) {
			break
		}
		parts = append(parts, text[prev:end])
		prev = end
	}
	return append(parts, text[prev:])
}
