// Package splitter cuts document text into overlapping chunks, preferring
// paragraph, line, sentence and word boundaries over hard cuts.
package splitter

import (
	"github.com/hyperjump/kotae/internal/config"
	"github.com/hyperjump/kotae/internal/fileid"
	"github.com/hyperjump/kotae/internal/models"
)

// DefaultSeparators are tried in order; the first one found in the search
// window decides where a chunk ends.
var DefaultSeparators = []string{"\n\n", "\n", ". ", "! ", "? ", "; ", ", ", " "}

// Span is a chunk of text and its rune offset in the source.
type Span struct {
	Offset int
	Text   string
}

// Splitter splits text into chunks of at most chunkSize runes. Consecutive
// chunks share exactly chunkOverlap runes.
type Splitter struct {
	chunkSize    int
	chunkOverlap int
	separators   [][]rune
}

// Option configures a Splitter.
type Option func(*Splitter)

// WithSeparators replaces the boundary separators, highest priority first.
func WithSeparators(seps ...string) Option {
	return func(s *Splitter) {
		s.separators = toRunes(seps)
	}
}

// New creates a splitter. It returns a ConfigurationError unless
// 0 <= chunkOverlap < chunkSize.
func New(chunkSize, chunkOverlap int, opts ...Option) (*Splitter, error) {
	if err := config.ValidateChunking(chunkSize, chunkOverlap); err != nil {
		return nil, err
	}
	s := &Splitter{
		chunkSize:    chunkSize,
		chunkOverlap: chunkOverlap,
		separators:   toRunes(DefaultSeparators),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// ChunkSize returns the maximum chunk length in runes.
func (s *Splitter) ChunkSize() int { return s.chunkSize }

// ChunkOverlap returns the overlap between consecutive chunks in runes.
func (s *Splitter) ChunkOverlap() int { return s.chunkOverlap }

// Split normalizes the document content and returns its chunks with
// deterministic IDs. Source, page and metadata are copied onto every chunk.
func (s *Splitter) Split(doc *models.Document) []*models.DocumentChunk {
	spans := s.SplitText(Normalize(doc.Content))
	if len(spans) == 0 {
		return nil
	}
	chunks := make([]*models.DocumentChunk, len(spans))
	for i, sp := range spans {
		chunks[i] = &models.DocumentChunk{
			ID:         fileid.ChunkID(doc.ID, i),
			DocumentID: doc.ID,
			Source:     doc.Source,
			Page:       doc.Page,
			ChunkIndex: i,
			Offset:     sp.Offset,
			Content:    sp.Text,
			Metadata:   doc.Metadata,
		}
	}
	return chunks
}

// SplitText splits text as is. The chunk after a cut at end starts at
// end-chunkOverlap, so every chunk begins with the last chunkOverlap runes of
// its predecessor. Cuts land in (start+max(overlap, size/2), start+size].
func (s *Splitter) SplitText(text string) []Span {
	runes := []rune(text)
	n := len(runes)
	if n == 0 || isBlank(runes) {
		return nil
	}

	var spans []Span
	start := 0
	for {
		if n-start <= s.chunkSize {
			spans = append(spans, Span{Offset: start, Text: string(runes[start:n])})
			return spans
		}
		limit := start + s.chunkSize
		minEnd := start + max(s.chunkOverlap+1, s.chunkSize/2)
		if minEnd > limit {
			minEnd = limit
		}
		end := s.boundary(runes, start, minEnd, limit)
		spans = append(spans, Span{Offset: start, Text: string(runes[start:end])})
		start = end - s.chunkOverlap
	}
}

// boundary returns the largest cut position in [minEnd, limit] that follows
// the highest-priority separator present, or limit when none is found.
func (s *Splitter) boundary(runes []rune, start, minEnd, limit int) int {
	for _, sep := range s.separators {
		for p := limit; p >= minEnd; p-- {
			if p-len(sep) < start {
				break
			}
			if hasSuffixAt(runes, p, sep) {
				return p
			}
		}
	}
	return limit
}

func hasSuffixAt(runes []rune, p int, sep []rune) bool {
	off := p - len(sep)
	for i, r := range sep {
		if runes[off+i] != r {
			return false
		}
	}
	return true
}

func toRunes(seps []string) [][]rune {
	out := make([][]rune, 0, len(seps))
	for _, s := range seps {
		if s != "" {
			out = append(out, []rune(s))
		}
	}
	return out
}

func isBlank(runes []rune) bool {
	for _, r := range runes {
		if r != ' ' && r != '\n' && r != '\t' && r != '\r' {
			return false
		}
	}
	return true
}
