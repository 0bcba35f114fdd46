// Package compression provides the stream codecs used when historic archive
// files are offloaded.
package compression

import (
	"fmt"
	"io"
	"os"
	"strings"
)

// Algorithm defines compression types
type Algorithm uint8

const (
	None   Algorithm = 0
	Snappy Algorithm = 1
)

func (a Algorithm) String() string {
	switch a {
	case None:
		return "none"
	case Snappy:
		return "snappy"
	}
	return fmt.Sprintf("Algorithm(%d)", uint8(a))
}

// ParseAlgorithm resolves a configured algorithm name
func ParseAlgorithm(name string) (Algorithm, error) {
	switch strings.ToLower(name) {
	case "", "none":
		return None, nil
	case "snappy":
		return Snappy, nil
	}
	return None, fmt.Errorf("unsupported compression algorithm: %q", name)
}

// Compressor wraps streams with a compression algorithm
type Compressor interface {
	// NewWriter returns a writer compressing into w; Close flushes it
	NewWriter(w io.Writer) io.WriteCloser

	// NewReader returns a reader decompressing r
	NewReader(r io.Reader) io.Reader

	// Extension is appended to the names of compressed files
	Extension() string

	// Algorithm returns the compression algorithm type
	Algorithm() Algorithm
}

// GetCompressor returns a compressor for the given algorithm
func GetCompressor(algo Algorithm) (Compressor, error) {
	switch algo {
	case None:
		return &NoneCompressor{}, nil
	case Snappy:
		return NewSnappyCompressor(), nil
	default:
		return nil, fmt.Errorf("unsupported compression algorithm: %d", algo)
	}
}

// ForFile picks the compressor matching a file name's extension
func ForFile(name string) Compressor {
	if strings.HasSuffix(name, snappyExtension) {
		return NewSnappyCompressor()
	}
	return &NoneCompressor{}
}

// NoneCompressor is a no-op compressor
type NoneCompressor struct{}

func (n *NoneCompressor) NewWriter(w io.Writer) io.WriteCloser {
	return nopWriteCloser{w}
}

func (n *NoneCompressor) NewReader(r io.Reader) io.Reader {
	return r
}

func (n *NoneCompressor) Extension() string {
	return ""
}

func (n *NoneCompressor) Algorithm() Algorithm {
	return None
}

type nopWriteCloser struct {
	io.Writer
}

func (nopWriteCloser) Close() error { return nil }

// CompressFile writes src to dst through c and syncs dst. dst is removed if
// anything fails.
func CompressFile(c Compressor, src, dst string) (err error) {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0644)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := out.Close(); err == nil {
			err = cerr
		}
		if err != nil {
			_ = os.Remove(dst)
		}
	}()

	w := c.NewWriter(out)
	if _, err = io.Copy(w, in); err != nil {
		return fmt.Errorf("%s compress failed: %w", c.Algorithm(), err)
	}
	if err = w.Close(); err != nil {
		return fmt.Errorf("%s compress failed: %w", c.Algorithm(), err)
	}
	return out.Sync()
}

// DecompressFile expands src into dst using the compressor implied by src's name
func DecompressFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0644)
	if err != nil {
		return err
	}
	defer out.Close()

	if _, err := io.Copy(out, ForFile(src).NewReader(in)); err != nil {
		return fmt.Errorf("decompress %s failed: %w", src, err)
	}
	return nil
}
