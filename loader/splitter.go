package loader

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"unicode"

	"ragqa/types"
)

const (
	DefaultChunkSize    = 1000
	DefaultChunkOverlap = 100
)

var ErrInvalidChunking = errors.New("chunk_size must be > 0 and 0 <= chunk_overlap < chunk_size")

// defaultSeparators go from paragraph to line to word, and finally to single
// characters.
var defaultSeparators = []string{"\n\n", "\n", " ", ""}

// Splitter cuts text into chunks of at most size runes, preferring the
// coarsest separator that occurs in the text. Consecutive chunks share up to
// overlap runes.
type Splitter struct {
	size       int
	overlap    int
	separators []string
	logger     *slog.Logger
}

func NewSplitter(size, overlap int) (*Splitter, error) {
	if size <= 0 || overlap < 0 || overlap >= size {
		return nil, fmt.Errorf("%w (got size=%d overlap=%d)", ErrInvalidChunking, size, overlap)
	}
	return &Splitter{
		size:       size,
		overlap:    overlap,
		separators: defaultSeparators,
		logger:     slog.Default(),
	}, nil
}

// SplitDocuments chunks every document independently. Chunk ids are
// "{document}_chunk_{i}" with i counted per document.
func SplitDocuments(docs []types.Document, size, overlap int) ([]types.Chunk, error) {
	s, err := NewSplitter(size, overlap)
	if err != nil {
		return nil, err
	}
	return s.SplitDocuments(docs), nil
}

func (s *Splitter) SplitDocuments(docs []types.Document) []types.Chunk {
	var chunks []types.Chunk
	for _, doc := range docs {
		for i, text := range s.SplitText(doc.Content) {
			chunks = append(chunks, types.Chunk{
				ID:       fmt.Sprintf("%s_chunk_%d", doc.Name, i),
				Text:     text,
				Metadata: types.ChunkMetadata{Source: doc.Name},
			})
		}
	}
	return chunks
}

func (s *Splitter) SplitText(text string) []string {
	return s.split(strings.ToValidUTF8(text, "\uFFFD"), s.separators)
}

func (s *Splitter) split(text string, separators []string) []string {
	separator := separators[len(separators)-1]
	var next []string
	for i, sep := range separators {
		if sep == "" {
			separator = sep
			break
		}
		if strings.Contains(text, sep) {
			separator = sep
			next = separators[i+1:]
			break
		}
	}

	var final, good []string
	for _, piece := range splitKeepSeparator(text, separator) {
		if runeLen(piece) < s.size {
			good = append(good, piece)
			continue
		}
		if len(good) > 0 {
			final = append(final, s.merge(good)...)
			good = nil
		}
		if len(next) == 0 {
			final = append(final, piece)
		} else {
			final = append(final, s.split(piece, next)...)
		}
	}
	if len(good) > 0 {
		final = append(final, s.merge(good)...)
	}
	return final
}

// merge packs small pieces into chunks, carrying the tail of each emitted
// chunk over into the next one.
func (s *Splitter) merge(pieces []string) []string {
	var (
		out     []string
		current []string
		total   int
	)
	for _, p := range pieces {
		n := runeLen(p)
		if total+n > s.size {
			if total > s.size {
				s.logger.Warn("[SPLIT] created a chunk larger than chunk size", "size", total, "limit", s.size)
			}
			if len(current) > 0 {
				if doc := joinTrimmed(current); doc != "" {
					out = append(out, doc)
				}
				for total > s.overlap || (total+n > s.size && total > 0) {
					total -= runeLen(current[0])
					current = current[1:]
				}
			}
		}
		current = append(current, p)
		total += n
	}
	if doc := joinTrimmed(current); doc != "" {
		out = append(out, doc)
	}
	return out
}

// splitKeepSeparator splits text on sep and glues each separator onto the
// start of the piece that follows it. Empty pieces are dropped.
func splitKeepSeparator(text, sep string) []string {
	if sep == "" {
		out := make([]string, 0, len(text))
		for _, r := range text {
			out = append(out, string(r))
		}
		return out
	}
	parts := strings.Split(text, sep)
	out := make([]string, 0, len(parts))
	for i, p := range parts {
		if i > 0 {
			p = sep + p
		}
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

func joinTrimmed(parts []string) string {
	return strings.TrimFunc(strings.Join(parts, ""), unicode.IsSpace)
}

func runeLen(s string) int {
	return len([]rune(s))
}
