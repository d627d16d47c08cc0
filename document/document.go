// Package document defines the engine's input shape: a parsed document as a
// sequence of text chunks. Parsing PDFs into this shape is out of scope;
// this package only models the result.
package document

import "strings"

// Chunk is a contiguous segment of document text with locating metadata.
// Chunks refer to their parent document by index (ChunkIndex), not by
// pointer, so evidence and other references stay acyclic.
type Chunk struct {
	Text       string
	Section    string
	PageNumber int
	ChunkIndex int
}

// Document is immutable for the duration of one extraction; the controller
// owns it for that span.
type Document struct {
	Filename string
	Chunks   []Chunk
}

// FullText concatenates every chunk's text in chunk order.
func (d *Document) FullText() string {
	var b strings.Builder
	for i, c := range d.Chunks {
		if i > 0 {
			b.WriteByte('\n')
		}
		b.WriteString(c.Text)
	}
	return b.String()
}

// ChunkAt returns the chunk at the given index and whether it exists,
// honoring the "reference by index" rule: out-of-range lookups never panic.
func (d *Document) ChunkAt(index int) (Chunk, bool) {
	if index < 0 || index >= len(d.Chunks) {
		return Chunk{}, false
	}
	return d.Chunks[index], true
}
