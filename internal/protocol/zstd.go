package protocol

import (
	"fmt"

	"github.com/klauspost/compress/zstd"

	"firestige.xyz/buffwatch/internal/core"
)

// Decompressor undoes the compression of flagged frame bodies.
type Decompressor interface {
	Decompress(src []byte) ([]byte, error)
}

// maxDecodedSize bounds one decompressed body; frames themselves are under 1 MiB.
const maxDecodedSize = 64 << 20

// ZstdDecompressor decompresses zstd frames with one shared decoder.
// DecodeAll is safe for concurrent use.
type ZstdDecompressor struct {
	dec *zstd.Decoder
}

// NewZstdDecompressor creates a decompressor. Close releases its resources.
func NewZstdDecompressor() (*ZstdDecompressor, error) {
	dec, err := zstd.NewReader(nil,
		zstd.WithDecoderConcurrency(1),
		zstd.WithDecoderMaxMemory(maxDecodedSize),
	)
	if err != nil {
		return nil, fmt.Errorf("create zstd decoder: %w", err)
	}
	return &ZstdDecompressor{dec: dec}, nil
}

// Decompress returns the decompressed form of src. Malformed input yields an
// error wrapping core.ErrDecompress.
func (z *ZstdDecompressor) Decompress(src []byte) ([]byte, error) {
	out, err := z.dec.DecodeAll(src, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", core.ErrDecompress, err)
	}
	return out, nil
}

// Close releases the decoder.
func (z *ZstdDecompressor) Close() {
	z.dec.Close()
}
