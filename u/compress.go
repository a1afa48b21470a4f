package u

import (
	"compress/gzip"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/andybalholm/brotli"
	"github.com/klauspost/compress/zstd"
)

// Compression is a compression format, picked based on file extension
type Compression int

const (
	CompressionNone Compression = iota
	CompressionGzip
	CompressionZstd
	CompressionBrotli
)

func (c Compression) String() string {
	switch c {
	case CompressionGzip:
		return "gzip"
	case CompressionZstd:
		return "zstd"
	case CompressionBrotli:
		return "brotli"
	}
	return "none"
}

// CompressionFromPath returns compression format based on file extension:
// .gz, .zst / .zstd, .br
func CompressionFromPath(path string) Compression {
	ext := strings.ToLower(filepath.Ext(path))
	switch ext {
	case ".gz":
		return CompressionGzip
	case ".zst", ".zstd":
		return CompressionZstd
	case ".br":
		return CompressionBrotli
	}
	return CompressionNone
}

type nopWriteCloser struct {
	io.Writer
}

func (nopWriteCloser) Close() error {
	return nil
}

func zstdNewWriter(dst io.Writer) (*zstd.Encoder, error) {
	// zstd.SpeedBestCompression is much slower and not much better
	return zstd.NewWriter(dst, zstd.WithEncoderLevel(zstd.SpeedBetterCompression))
}

// NewCompressWriter wraps w in a compressing writer. Close() flushes
// compressed data but doesn't close w
func NewCompressWriter(w io.Writer, c Compression) (io.WriteCloser, error) {
	switch c {
	case CompressionGzip:
		return gzip.NewWriterLevel(w, gzip.BestCompression)
	case CompressionZstd:
		return zstdNewWriter(w)
	case CompressionBrotli:
		return brotli.NewWriterLevel(w, brotli.DefaultCompression), nil
	}
	return nopWriteCloser{w}, nil
}

// implement io.ReadCloser over a closer wrapped with io.Reader.
// Close() closes decompressor (if needed) and the underlying file
type readerWrappedFile struct {
	f     io.Closer
	r     io.Reader
	close func() error
}

func (rc *readerWrappedFile) Close() error {
	var err error
	if rc.close != nil {
		err = rc.close()
	}
	if rc.f != nil {
		if err2 := rc.f.Close(); err == nil {
			err = err2
		}
	}
	return err
}

func (rc *readerWrappedFile) Read(p []byte) (int, error) {
	return rc.r.Read(p)
}

// NewDecompressReader wraps r in a decompressing reader.
// Close() releases decompressor resources but doesn't close r
func NewDecompressReader(r io.Reader, c Compression) (io.ReadCloser, error) {
	switch c {
	case CompressionGzip:
		return gzip.NewReader(r)
	case CompressionZstd:
		zr, err := zstd.NewReader(r)
		if err != nil {
			return nil, err
		}
		closeFn := func() error {
			zr.Close()
			return nil
		}
		return &readerWrappedFile{r: zr, close: closeFn}, nil
	case CompressionBrotli:
		return io.NopCloser(brotli.NewReader(r)), nil
	}
	return io.NopCloser(r), nil
}

// OpenFileMaybeCompressed opens a file that might be compressed with gzip
// or zstd or brotli, based on file extension
func OpenFileMaybeCompressed(path string) (io.ReadCloser, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	c := CompressionFromPath(path)
	if c == CompressionNone {
		return f, nil
	}
	r, err := NewDecompressReader(f, c)
	if err != nil {
		f.Close()
		return nil, err
	}
	return &readerWrappedFile{f: f, r: r, close: r.Close}, nil
}
