package compression

import (
	"bytes"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var sample = []byte(strings.Repeat("2024-03-01T10:00:00Z;line1;spindle_speed=1200;temperature=41.5\n", 64))

var algorithms = []Algorithm{None, Gzip, Snappy, LZ4, Zstd, S2, Deflate}

func TestCompressorRoundTrip(t *testing.T) {
	for _, alg := range algorithms {
		for _, level := range []Level{Fastest, Default, Best} {
			comp, err := NewCompressor(&Config{Algorithm: alg, Level: level})
			require.NoError(t, err, alg)
			assert.Equal(t, alg, comp.Algorithm())
			assert.Equal(t, level, comp.Level())

			compressed, err := comp.Compress(sample)
			require.NoError(t, err, alg)
			if alg != None {
				assert.Less(t, len(compressed), len(sample), alg)
			}
			decompressed, err := comp.Decompress(compressed)
			require.NoError(t, err, alg)
			assert.Equal(t, sample, decompressed, alg)

			var streamed bytes.Buffer
			require.NoError(t, comp.CompressStream(&streamed, bytes.NewReader(sample)), alg)
			var restored bytes.Buffer
			require.NoError(t, comp.DecompressStream(&restored, &streamed), alg)
			assert.Equal(t, sample, restored.Bytes(), alg)
		}
	}
}

func TestReaderWriter(t *testing.T) {
	for _, alg := range algorithms {
		var buf bytes.Buffer
		w, err := NewWriter(alg, &buf, Default)
		require.NoError(t, err, alg)
		_, err = w.Write(sample)
		require.NoError(t, err, alg)
		require.NoError(t, w.Close(), alg)

		r, err := NewReader(alg, &buf)
		require.NoError(t, err, alg)
		got, err := io.ReadAll(r)
		require.NoError(t, err, alg)
		require.NoError(t, r.Close())
		assert.Equal(t, sample, got, alg)
	}
}

func TestAlgorithmForPath(t *testing.T) {
	tests := map[string]Algorithm{
		"/data/line1.csv":     None,
		"/data/line1.csv.gz":  Gzip,
		"/data/LINE1.TXT.GZ":  Gzip,
		"history.zst":         Zstd,
		"events.lz4":          LZ4,
		"events.sz":           Snappy,
		"events.s2":           S2,
		"raw.deflate":         Deflate,
		"no-extension":        None,
		"archive.tar.unknown": None,
	}
	for path, want := range tests {
		assert.Equal(t, want, AlgorithmForPath(path), path)
	}
}

func TestParseAlgorithm(t *testing.T) {
	alg, err := ParseAlgorithm("")
	require.NoError(t, err)
	assert.Equal(t, None, alg)

	alg, err = ParseAlgorithm(" ZSTD ")
	require.NoError(t, err)
	assert.Equal(t, Zstd, alg)

	_, err = ParseAlgorithm("brotli")
	assert.Error(t, err)

	_, err = NewCompressor(&Config{Algorithm: "brotli"})
	assert.Error(t, err)
	_, err = NewReader("brotli", bytes.NewReader(nil))
	assert.Error(t, err)
}

func TestDefaultConfig(t *testing.T) {
	comp, err := NewCompressor(nil)
	require.NoError(t, err)
	assert.Equal(t, Zstd, comp.Algorithm())
	assert.Equal(t, Default, comp.Level())
}
