package tuple

import (
	"fmt"

	"github.com/pierrec/lz4/v4"
)

// CompressionType selects the tuple-value compressor, chosen at database
// creation and stored in the DbRoot page (spec §4.10/§6).
type CompressionType byte

const (
	// CompressionNone disables compression entirely.
	CompressionNone CompressionType = 0
	// CompressionLZ4 enables LZ4 block compression for oversized values.
	CompressionLZ4 CompressionType = 1
)

// Compressor implements the compression half of the tuple pipeline's
// ValueCompressed/KeyValueCompressed path (spec §4.5/§9 — "compression
// is semantic, not block-level"). Compress prepends the original length
// so Decompress needs nothing but the compressed bytes, grounded on
// original_source/src/compressor.rs's lz4_flex::compress_prepend_size /
// decompress_size_prepended convention.
type Compressor interface {
	Compress(data []byte) ([]byte, error)
	Decompress(compressed []byte) ([]byte, error)
}

// NewCompressor returns the Compressor for a CompressionType. A nil
// Compressor (CompressionNone) means the tuple processor always takes
// the overflow path for oversized values rather than compressing.
func NewCompressor(t CompressionType) (Compressor, error) {
	switch t {
	case CompressionNone:
		return nil, nil
	case CompressionLZ4:
		return lz4Compressor{}, nil
	default:
		return nil, fmt.Errorf("digby: unsupported compression type %d", t)
	}
}

// lz4Compressor compresses individual byte slices as standalone LZ4
// blocks with a 4-byte LE original-length prefix, grounded on the
// pack's pierrec/lz4/v4 usage (see SPEC_FULL.md's domain stack table).
type lz4Compressor struct{}

func (lz4Compressor) Compress(data []byte) ([]byte, error) {
	var c lz4.Compressor
	dst := make([]byte, 4+lz4.CompressBlockBound(len(data)))
	n, err := c.CompressBlock(data, dst[4:])
	if err != nil {
		return nil, fmt.Errorf("digby: lz4 compress: %w", err)
	}
	if n == 0 {
		// Incompressible input: pierrec/lz4 reports n==0 rather than
		// expanding the block. The caller treats a compress attempt
		// that doesn't shrink the data as "use the overflow path
		// instead" (see Processor.Build).
		return nil, errIncompressible
	}
	putU32(dst[0:4], uint32(len(data)))
	return dst[:4+n], nil
}

func (lz4Compressor) Decompress(compressed []byte) ([]byte, error) {
	if len(compressed) < 4 {
		return nil, fmt.Errorf("digby: lz4 decompress: truncated input")
	}
	originalLen := getU32(compressed[0:4])
	dst := make([]byte, originalLen)
	n, err := lz4.UncompressBlock(compressed[4:], dst)
	if err != nil {
		return nil, fmt.Errorf("digby: lz4 decompress: %w", err)
	}
	return dst[:n], nil
}

var errIncompressible = fmt.Errorf("digby: data did not compress")
