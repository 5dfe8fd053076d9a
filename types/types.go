package types

import "errors"

var (
	ErrIndexNotInitialized = errors.New("vector index not initialized")
	ErrIndexNotReady       = errors.New("vector index not ready")
	ErrEmptyQuestion       = errors.New("question cannot be empty")
	ErrInvalidPath         = errors.New("invalid documents path")
)

// Metadata keys stored alongside every vector.
const (
	MetaSource    = "source"
	MetaTextChunk = "text_chunk"
)

// Index status values reported by the stores.
const (
	StatusReady        = "Ready"
	StatusNotFound     = "Not Found"
	StatusInitializing = "Initializing"
)

// Document is one loaded source file.
type Document struct {
	Name    string // file name, unique inside one load
	Content string
}

type ChunkMetadata struct {
	Source string `json:"source"`
}

// Chunk is a contiguous slice of a Document. ID is "{document}_chunk_{i}".
type Chunk struct {
	ID       string
	Text     string
	Metadata ChunkMetadata
}

type RecordMetadata struct {
	Source    string `json:"source"`
	TextChunk string `json:"text_chunk"`
}

// VectorRecord is the unit written to the vector store.
type VectorRecord struct {
	ID       string
	Values   []float32
	Metadata RecordMetadata
}

// Match is a single similarity query hit. Metadata may miss keys when the
// record was written by another producer.
type Match struct {
	ID       string
	Score    float64
	Metadata map[string]any
}

// Text returns the stored chunk text, if any.
func (m Match) Text() (string, bool) {
	v, ok := m.Metadata[MetaTextChunk].(string)
	if !ok || v == "" {
		return "", false
	}
	return v, true
}

// Source returns the originating document name or "N/A".
func (m Match) Source() string {
	if v, ok := m.Metadata[MetaSource].(string); ok && v != "" {
		return v
	}
	return "N/A"
}

// Filter is an equality predicate over record metadata. Nil means no filter.
type Filter map[string]string

type IndexInfo struct {
	Name      string
	Dimension int
	Metric    string
	Status    string
}

type IndexStats struct {
	VectorCount int64
	Dimension   int
}
