package compression

import (
	"io"

	"github.com/golang/snappy"
)

const snappyExtension = ".snappy"

// SnappyCompressor implements Compressor using the Snappy framing format
type SnappyCompressor struct{}

// NewSnappyCompressor creates a new Snappy compressor
func NewSnappyCompressor() *SnappyCompressor {
	return &SnappyCompressor{}
}

// NewWriter returns a buffered Snappy stream writer
func (s *SnappyCompressor) NewWriter(w io.Writer) io.WriteCloser {
	return snappy.NewBufferedWriter(w)
}

// NewReader returns a Snappy stream reader
func (s *SnappyCompressor) NewReader(r io.Reader) io.Reader {
	return snappy.NewReader(r)
}

// Extension returns the Snappy file suffix
func (s *SnappyCompressor) Extension() string {
	return snappyExtension
}

// Algorithm returns Snappy
func (s *SnappyCompressor) Algorithm() Algorithm {
	return Snappy
}
