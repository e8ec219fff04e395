package afpacket

import "fmt"

const (
	tpacketAlignment = 16
	tpacketHdrLen    = 52
	maxBlockSize     = 4 << 20
)

type ringSize struct {
	frameSize int
	blockSize int
	numBlocks int
}

// computeRing sizes a TPACKET_V3 ring of about bufferMB megabytes for
// frames of snapLen bytes.
//
// Frames are aligned to TPACKET_ALIGNMENT. Blocks are page aligned and hold
// a whole number of frames.
func computeRing(bufferMB, snapLen, pageSize int) (ringSize, error) {
	if bufferMB <= 0 {
		return ringSize{}, fmt.Errorf("buffer size must be positive, got %d MB", bufferMB)
	}
	if snapLen <= 0 {
		return ringSize{}, fmt.Errorf("snap_len must be positive, got %d", snapLen)
	}
	if pageSize <= 0 || pageSize%tpacketAlignment != 0 {
		return ringSize{}, fmt.Errorf("page size must be a positive multiple of %d, got %d", tpacketAlignment, pageSize)
	}

	frameSize := alignUp(tpacketHdrLen+snapLen, tpacketAlignment)

	blockSize := lcm(pageSize, frameSize)
	if blockSize > maxBlockSize {
		// Page-aligned frames keep any whole number of them page aligned.
		frameSize = alignUp(frameSize, pageSize)
		frames := maxBlockSize / frameSize
		if frames < 1 {
			frames = 1
		}
		blockSize = frames * frameSize
	}

	numBlocks := (bufferMB << 20) / blockSize
	if numBlocks < 1 {
		numBlocks = 1
	}
	return ringSize{frameSize: frameSize, blockSize: blockSize, numBlocks: numBlocks}, nil
}

func alignUp(n, align int) int {
	return (n + align - 1) / align * align
}

func gcd(a, b int) int {
	for b != 0 {
		a, b = b, a%b
	}
	return a
}

func lcm(a, b int) int {
	if a == 0 || b == 0 {
		return 0
	}
	return a / gcd(a, b) * b
}
