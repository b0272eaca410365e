// Package compression provides the compression codecs used for connector
// data files. Algorithms are selected explicitly or from a file extension,
// and every codec supports in-memory and streaming operation.
//
// # Basic Usage
//
//	comp, err := compression.NewCompressor(&compression.Config{
//	    Algorithm: compression.Zstd,
//	    Level:     compression.Default,
//	})
//	compressed, err := comp.Compress(data)
//
// # Files
//
//	f, _ := os.Open("line1.csv.gz")
//	r, err := compression.NewReader(compression.AlgorithmForPath(f.Name()), f)
//	defer r.Close()
package compression

import (
	"bytes"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/klauspost/compress/flate"
	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/s2"
	"github.com/klauspost/compress/snappy"
	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"

	"github.com/ajitpratap0/machconn/pkg/pool"
)

// Algorithm represents a compression algorithm.
type Algorithm string

const (
	// None represents no compression
	None Algorithm = "none"
	// Gzip represents gzip compression
	Gzip Algorithm = "gzip"
	// Snappy represents snappy framed compression
	Snappy Algorithm = "snappy"
	// LZ4 represents lz4 frame compression
	LZ4 Algorithm = "lz4"
	// Zstd represents zstandard compression
	Zstd Algorithm = "zstd"
	// S2 represents s2 compression (Snappy compatible)
	S2 Algorithm = "s2"
	// Deflate represents raw deflate compression
	Deflate Algorithm = "deflate"
)

// Level represents compression level, controlling the trade-off between
// compression speed and compression ratio.
type Level int

const (
	// Fastest prioritizes speed over compression ratio.
	Fastest Level = 1
	// Default balances speed and compression.
	Default Level = 5
	// Better improves compression at cost of speed.
	Better Level = 7
	// Best maximizes compression ratio.
	Best Level = 9
)

var extensions = map[string]Algorithm{
	".gz":      Gzip,
	".gzip":    Gzip,
	".zst":     Zstd,
	".zstd":    Zstd,
	".sz":      Snappy,
	".snappy":  Snappy,
	".s2":      S2,
	".lz4":     LZ4,
	".deflate": Deflate,
}

// AlgorithmForPath returns the algorithm implied by the extension of path,
// or None for uncompressed files
func AlgorithmForPath(path string) Algorithm {
	if alg, ok := extensions[strings.ToLower(filepath.Ext(path))]; ok {
		return alg
	}
	return None
}

// ParseAlgorithm parses an algorithm name; the empty string is None
func ParseAlgorithm(name string) (Algorithm, error) {
	alg := Algorithm(strings.ToLower(strings.TrimSpace(name)))
	switch alg {
	case "":
		return None, nil
	case None, Gzip, Snappy, LZ4, Zstd, S2, Deflate:
		return alg, nil
	}
	return None, fmt.Errorf("unsupported compression algorithm: %s", name)
}

// Compressor provides compression and decompression functionality.
// All implementations are safe for concurrent use.
type Compressor interface {
	// Compress compresses data and returns the compressed bytes.
	Compress(data []byte) ([]byte, error)
	// Decompress decompresses data and returns the original bytes.
	Decompress(data []byte) ([]byte, error)
	// CompressStream compresses from reader to writer.
	CompressStream(dst io.Writer, src io.Reader) error
	// DecompressStream decompresses from reader to writer.
	DecompressStream(dst io.Writer, src io.Reader) error
	// Algorithm returns the compression algorithm used.
	Algorithm() Algorithm
	// Level returns the compression level configured.
	Level() Level
}

// Config represents compressor configuration.
type Config struct {
	Algorithm Algorithm // Compression algorithm to use
	Level     Level     // Compression level
}

// DefaultConfig returns the default configuration: zstd at the default level
func DefaultConfig() *Config {
	return &Config{Algorithm: Zstd, Level: Default}
}

// NewCompressor creates a new compressor based on the provided configuration.
// If config is nil, default configuration is used.
func NewCompressor(config *Config) (Compressor, error) {
	if config == nil {
		config = DefaultConfig()
	}
	alg, err := ParseAlgorithm(string(config.Algorithm))
	if err != nil {
		return nil, err
	}
	level := config.Level
	if level == 0 {
		level = Default
	}
	if alg == Zstd {
		return newZstdCompressor(level), nil
	}
	return &streamCompressor{algorithm: alg, level: level}, nil
}

// NewReader returns a reader decompressing r with algorithm. Closing the
// returned reader does not close r.
func NewReader(algorithm Algorithm, r io.Reader) (io.ReadCloser, error) {
	switch algorithm {
	case None, "":
		return io.NopCloser(r), nil
	case Gzip:
		return gzip.NewReader(r)
	case Snappy:
		return io.NopCloser(snappy.NewReader(r)), nil
	case S2:
		return io.NopCloser(s2.NewReader(r)), nil
	case LZ4:
		return io.NopCloser(lz4.NewReader(r)), nil
	case Zstd:
		dec, err := zstd.NewReader(r)
		if err != nil {
			return nil, err
		}
		return dec.IOReadCloser(), nil
	case Deflate:
		return flate.NewReader(r), nil
	}
	return nil, fmt.Errorf("unsupported compression algorithm: %s", algorithm)
}

// NewWriter returns a writer compressing into w with algorithm. Close flushes
// the compressed stream but does not close w.
func NewWriter(algorithm Algorithm, w io.Writer, level Level) (io.WriteCloser, error) {
	switch algorithm {
	case None, "":
		return nopWriteCloser{w}, nil
	case Gzip:
		return gzip.NewWriterLevel(w, mapGzipLevel(level))
	case Snappy:
		return snappy.NewBufferedWriter(w), nil
	case S2:
		return s2.NewWriter(w), nil
	case LZ4:
		lw := lz4.NewWriter(w)
		if err := lw.Apply(lz4.CompressionLevelOption(mapLZ4Level(level))); err != nil {
			return nil, err
		}
		return lw, nil
	case Zstd:
		return zstd.NewWriter(w, zstd.WithEncoderLevel(mapZstdLevel(level)))
	case Deflate:
		return flate.NewWriter(w, mapDeflateLevel(level))
	}
	return nil, fmt.Errorf("unsupported compression algorithm: %s", algorithm)
}

type nopWriteCloser struct{ io.Writer }

func (nopWriteCloser) Close() error { return nil }

// streamCompressor implements every algorithm through NewReader/NewWriter
type streamCompressor struct {
	algorithm Algorithm
	level     Level
}

func (sc *streamCompressor) Algorithm() Algorithm { return sc.algorithm }
func (sc *streamCompressor) Level() Level         { return sc.level }

func (sc *streamCompressor) Compress(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	if err := sc.CompressStream(&buf, bytes.NewReader(data)); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (sc *streamCompressor) Decompress(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	if err := sc.DecompressStream(&buf, bytes.NewReader(data)); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (sc *streamCompressor) CompressStream(dst io.Writer, src io.Reader) error {
	w, err := NewWriter(sc.algorithm, dst, sc.level)
	if err != nil {
		return err
	}
	if _, err := io.Copy(w, src); err != nil {
		w.Close()
		return err
	}
	return w.Close()
}

func (sc *streamCompressor) DecompressStream(dst io.Writer, src io.Reader) error {
	r, err := NewReader(sc.algorithm, src)
	if err != nil {
		return err
	}
	defer r.Close()

	_, err = io.Copy(dst, r) //nolint:gosec // G110: inputs are operator supplied files
	return err
}

// Zstd compressor with pooled encoders and decoders for EncodeAll/DecodeAll
type zstdCompressor struct {
	streamCompressor
	encoders *pool.Pool[*zstd.Encoder]
	decoders *pool.Pool[*zstd.Decoder]
}

func newZstdCompressor(level Level) *zstdCompressor {
	zc := &zstdCompressor{streamCompressor: streamCompressor{algorithm: Zstd, level: level}}

	zc.encoders = pool.New(func() *zstd.Encoder {
		enc, _ := zstd.NewWriter(nil, zstd.WithEncoderLevel(mapZstdLevel(level)))
		return enc
	}, nil)
	zc.decoders = pool.New(func() *zstd.Decoder {
		dec, _ := zstd.NewReader(nil)
		return dec
	}, nil)
	return zc
}

func (zc *zstdCompressor) Compress(data []byte) ([]byte, error) {
	enc := zc.encoders.Get()
	defer zc.encoders.Put(enc)

	return enc.EncodeAll(data, nil), nil
}

func (zc *zstdCompressor) Decompress(data []byte) ([]byte, error) {
	dec := zc.decoders.Get()
	defer zc.decoders.Put(dec)

	return dec.DecodeAll(data, nil)
}

// Helper functions to map compression levels

func mapGzipLevel(level Level) int {
	switch level {
	case Fastest:
		return gzip.BestSpeed
	case Best:
		return gzip.BestCompression
	default:
		return gzip.DefaultCompression
	}
}

func mapLZ4Level(level Level) lz4.CompressionLevel {
	switch level {
	case Fastest:
		return lz4.Fast
	case Best:
		return lz4.Level9
	default:
		return lz4.Level5
	}
}

func mapZstdLevel(level Level) zstd.EncoderLevel {
	switch level {
	case Fastest:
		return zstd.SpeedFastest
	case Better:
		return zstd.SpeedBetterCompression
	case Best:
		return zstd.SpeedBestCompression
	default:
		return zstd.SpeedDefault
	}
}

func mapDeflateLevel(level Level) int {
	switch level {
	case Fastest:
		return flate.BestSpeed
	case Best:
		return flate.BestCompression
	default:
		return flate.DefaultCompression
	}
}
