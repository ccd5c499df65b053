package ingest

import "strings"

// Defaults for the recursive splitter, in characters.
const (
	DefaultChunkSize    = 1200
	DefaultChunkOverlap = 150
)

// separators, tried in order: paragraph, line, sentence, word.
var separators = []string{"\n\n", "\n", ". ", " "}

// Chunker splits text into overlapping chunks sized for embedding.
type Chunker struct {
	size    int
	overlap int
}

// NewChunker creates a chunker with the default size and overlap.
func NewChunker() *Chunker {
	return &Chunker{size: DefaultChunkSize, overlap: DefaultChunkOverlap}
}

// NewChunkerWithSize creates a chunker with explicit limits.
func NewChunkerWithSize(size, overlap int) *Chunker {
	if size <= 0 {
		size = DefaultChunkSize
	}
	if overlap < 0 || overlap >= size {
		overlap = size / 8
	}
	return &Chunker{size: size, overlap: overlap}
}

// Chunk splits text recursively on the coarsest separator that fits,
// then merges pieces back up to the size limit with overlap between
// neighboring chunks.
func (c *Chunker) Chunk(text string) []string {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}
	if len(text) <= c.size {
		return []string{text}
	}

	pieces := c.split(text, 0)
	return c.merge(pieces)
}

func (c *Chunker) split(text string, sepIdx int) []string {
	if len(text) <= c.size {
		return []string{text}
	}
	if sepIdx >= len(separators) {
		// No separator fits: hard cut.
		var out []string
		for len(text) > c.size {
			out = append(out, text[:c.size])
			text = text[c.size:]
		}
		if text != "" {
			out = append(out, text)
		}
		return out
	}

	sep := separators[sepIdx]
	parts := strings.Split(text, sep)
	if len(parts) == 1 {
		return c.split(text, sepIdx+1)
	}

	var out []string
	for i, p := range parts {
		if i < len(parts)-1 {
			p += sep
		}
		if len(p) > c.size {
			out = append(out, c.split(p, sepIdx+1)...)
		} else if p != "" {
			out = append(out, p)
		}
	}
	return out
}

// merge greedily packs pieces into chunks of at most size characters,
// seeding each new chunk with the tail of the previous one.
func (c *Chunker) merge(pieces []string) []string {
	var chunks []string
	var cur strings.Builder

	flush := func() {
		chunk := strings.TrimSpace(cur.String())
		if chunk != "" {
			chunks = append(chunks, chunk)
		}
		cur.Reset()
		if c.overlap > 0 && chunk != "" {
			tail := chunk
			if len(tail) > c.overlap {
				tail = tail[len(tail)-c.overlap:]
				// Start the overlap on a word boundary.
				if i := strings.IndexByte(tail, ' '); i >= 0 {
					tail = tail[i+1:]
				}
			}
			cur.WriteString(tail)
			cur.WriteString(" ")
		}
	}

	for _, p := range pieces {
		if cur.Len()+len(p) > c.size && cur.Len() > 0 {
			flush()
		}
		cur.WriteString(p)
	}
	if strings.TrimSpace(cur.String()) != "" {
		chunk := strings.TrimSpace(cur.String())
		// Drop a trailing chunk that is pure overlap of the previous one.
		if len(chunks) == 0 || !strings.HasSuffix(chunks[len(chunks)-1], chunk) {
			chunks = append(chunks, chunk)
		}
	}
	return chunks
}
