// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package protocol

import (
	"encoding/binary"
	"fmt"
	"io"

	"github.com/bureau-foundation/tracecap/lib/event"
)

// frameHeaderLength is the size of a frame's length prefix.
const frameHeaderLength = 2

// Encoder batches event items into frames and writes them compressed
// to an underlying writer. Items accumulate until the next one would
// push the frame past TargetFrameSize, at which point the frame is
// compressed and written. Flush forces out a partial frame.
//
// An Encoder is not safe for concurrent use.
type Encoder struct {
	writer io.Writer
	frame  []byte
	packet []byte

	frames           uint64
	uncompressedSize uint64
	compressedSize   uint64
}

// NewEncoder returns an Encoder writing frames to writer.
func NewEncoder(writer io.Writer) *Encoder {
	return &Encoder{
		writer: writer,
		frame:  make([]byte, 0, TargetFrameSize),
		packet: make([]byte, frameHeaderLength+CompressedBound),
	}
}

// Append serializes item into the current frame, first flushing the
// frame if the item would not fit.
func (encoder *Encoder) Append(item *event.Item) error {
	size := item.EncodedSize()
	if size == 0 {
		return fmt.Errorf("encode: %w: %s", event.ErrUnknownType, item.Type)
	}
	if len(encoder.frame)+size > TargetFrameSize {
		if err := encoder.Flush(); err != nil {
			return err
		}
	}
	encoder.frame = event.AppendItem(encoder.frame, item)
	return nil
}

// Flush compresses and writes the current frame. No-op when the frame
// is empty. The frame is discarded even when the write fails: a broken
// transport loses that frame rather than replaying it into the next
// session.
func (encoder *Encoder) Flush() error {
	if len(encoder.frame) == 0 {
		return nil
	}
	uncompressed := len(encoder.frame)
	compressed, err := CompressFrame(encoder.packet[frameHeaderLength:frameHeaderLength], encoder.frame)
	encoder.frame = encoder.frame[:0]
	if err != nil {
		return err
	}

	binary.LittleEndian.PutUint16(encoder.packet[:frameHeaderLength], uint16(len(compressed)))
	packet := encoder.packet[:frameHeaderLength+len(compressed)]
	if _, err := encoder.writer.Write(packet); err != nil {
		return fmt.Errorf("write frame: %w", err)
	}

	encoder.frames++
	encoder.uncompressedSize += uint64(uncompressed)
	encoder.compressedSize += uint64(len(compressed))
	return nil
}

// EncoderStats summarizes what an Encoder has written.
type EncoderStats struct {
	Frames           uint64
	UncompressedSize uint64
	CompressedSize   uint64
}

// Stats returns totals since the Encoder was created.
func (encoder *Encoder) Stats() EncoderStats {
	return EncoderStats{
		Frames:           encoder.frames,
		UncompressedSize: encoder.uncompressedSize,
		CompressedSize:   encoder.compressedSize,
	}
}
