package compress

import (
	"bytes"
	"io"

	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
	"github.com/pkg/errors"
)

// Zstd is a Compressor using Zstandard.
type Zstd struct {
	enc *zstd.Encoder
}

// NewZstd produces a Zstd compressing at the given level
// (1 is fastest, 19 smallest; zero means the library default).
func NewZstd(level int) (*Zstd, error) {
	var opts []zstd.EOption
	if level > 0 {
		opts = append(opts, zstd.WithEncoderLevel(zstd.EncoderLevelFromZstd(level)))
	}
	enc, err := zstd.NewWriter(nil, opts...)
	if err != nil {
		return nil, errors.Wrap(err, "creating zstd encoder")
	}
	return &Zstd{enc: enc}, nil
}

func (z *Zstd) Compress(inp []byte) ([]byte, error) {
	return z.enc.EncodeAll(inp, nil), nil
}

func (z *Zstd) NewReader(r io.Reader) (io.ReadCloser, error) {
	dec, err := zstd.NewReader(r, zstd.WithDecoderConcurrency(1))
	if err != nil {
		return nil, err
	}
	return dec.IOReadCloser(), nil
}

// LZ4 is a Compressor using the LZ4 frame format.
// It is faster than Zstd but compresses less.
type LZ4 struct {
	// Level is 0 for the fastest compression, or 1 through 9.
	Level int
}

func (l LZ4) Compress(inp []byte) ([]byte, error) {
	var (
		buf   = new(bytes.Buffer)
		w     = lz4.NewWriter(buf)
		level = lz4.Fast
	)
	if l.Level >= 1 && l.Level <= 9 {
		level = lz4.CompressionLevel(1 << (8 + l.Level))
	}
	if err := w.Apply(lz4.CompressionLevelOption(level)); err != nil {
		return nil, err
	}
	if _, err := w.Write(inp); err != nil {
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (l LZ4) NewReader(r io.Reader) (io.ReadCloser, error) {
	return io.NopCloser(lz4.NewReader(r)), nil
}
