// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package protocol

import (
	"errors"
	"fmt"

	"github.com/pierrec/lz4/v4"
)

const (
	// TargetFrameSize is the largest uncompressed frame.
	TargetFrameSize = 64000

	// lz4WindowSize is the reach of an LZ4 match offset.
	lz4WindowSize = 64 * 1024

	// CompressedBound is the worst-case LZ4 block size for a
	// TargetFrameSize input (LZ4_COMPRESSBOUND).
	CompressedBound = TargetFrameSize + TargetFrameSize/255 + 16
)

// Compile-time relationships. Converting an out-of-range constant is a
// build error, so these lines stop compiling if TargetFrameSize is
// changed to a value the wire format cannot carry.
const (
	// The length prefix is a uint16.
	_ = uint16(CompressedBound)

	// Two consecutive frames must cover the LZ4 window.
	_ = uint(2*TargetFrameSize - lz4WindowSize)
)

// ErrFrameTooLarge reports a frame longer than the format allows.
var ErrFrameTooLarge = errors.New("protocol: frame exceeds size limit")

// CompressFrame compresses src, which must be at most TargetFrameSize
// bytes, into an LZ4 block. dst is reused when it has CompressedBound
// capacity. The result never exceeds CompressedBound bytes.
//
// An empty frame compresses to an empty block.
func CompressFrame(dst, src []byte) ([]byte, error) {
	if len(src) > TargetFrameSize {
		return nil, fmt.Errorf("%w: %d uncompressed bytes", ErrFrameTooLarge, len(src))
	}
	if len(src) == 0 {
		return dst[:0], nil
	}
	if cap(dst) < CompressedBound {
		dst = make([]byte, CompressedBound)
	}
	dst = dst[:CompressedBound]

	written, err := lz4.CompressBlock(src, dst, nil)
	if err != nil {
		return nil, fmt.Errorf("lz4 compress: %w", err)
	}
	// CompressBlock reports incompressible input as zero bytes written
	// instead of producing a block. The stream still needs one.
	if written == 0 {
		return appendLiteralBlock(dst[:0], src), nil
	}
	return dst[:written], nil
}

// appendLiteralBlock encodes src as a valid LZ4 block made of a single
// literal-only sequence: a token whose high nibble holds the literal
// length (15 meaning "extended"), the 255-run length extension, then
// the literals.
func appendLiteralBlock(dst, src []byte) []byte {
	length := len(src)
	if length < 15 {
		dst = append(dst, byte(length<<4))
	} else {
		dst = append(dst, 0xf0)
		remaining := length - 15
		for remaining >= 255 {
			dst = append(dst, 255)
			remaining -= 255
		}
		dst = append(dst, byte(remaining))
	}
	return append(dst, src...)
}

// FrameDecompressor reverses CompressFrame for a stream of frames. It
// decodes into a two-slot ring so the previous frame stays available
// as the LZ4 dictionary for the next one.
//
// A FrameDecompressor is not safe for concurrent use.
type FrameDecompressor struct {
	ring    [2][]byte
	current int
	history []byte
}

// NewFrameDecompressor returns a decompressor with an empty history.
func NewFrameDecompressor() *FrameDecompressor {
	return &FrameDecompressor{
		ring: [2][]byte{
			make([]byte, TargetFrameSize),
			make([]byte, TargetFrameSize),
		},
	}
}

// Decompress decodes one frame. The returned slice aliases internal
// storage and is overwritten two calls later.
func (decompressor *FrameDecompressor) Decompress(compressed []byte) ([]byte, error) {
	if len(compressed) > CompressedBound {
		return nil, fmt.Errorf("%w: %d compressed bytes", ErrFrameTooLarge, len(compressed))
	}
	if len(compressed) == 0 {
		return nil, nil
	}

	target := decompressor.ring[decompressor.current]
	var (
		length int
		err    error
	)
	if decompressor.history == nil {
		length, err = lz4.UncompressBlock(compressed, target)
	} else {
		length, err = lz4.UncompressBlockWithDict(compressed, target, decompressor.history)
	}
	if err != nil {
		return nil, fmt.Errorf("lz4 decompress: %w", err)
	}

	frame := target[:length]
	decompressor.history = frame
	decompressor.current ^= 1
	return frame, nil
}
