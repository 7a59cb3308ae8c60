// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package protocol

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/bureau-foundation/tracecap/lib/event"
)

// Decoder reads the frame stream written by an Encoder and yields the
// items it carries, in order.
type Decoder struct {
	reader       io.Reader
	decompressor *FrameDecompressor
	compressed   []byte
	pending      []byte
}

// NewDecoder returns a Decoder reading frames from reader. The
// handshake, if any, must already have been consumed with ReadWelcome.
func NewDecoder(reader io.Reader) *Decoder {
	return &Decoder{
		reader:       reader,
		decompressor: NewFrameDecompressor(),
		compressed:   make([]byte, CompressedBound),
	}
}

// Next returns the next item. It returns io.EOF when the stream ends
// cleanly at a frame boundary and io.ErrUnexpectedEOF when it ends
// inside a frame.
func (decoder *Decoder) Next() (event.Item, error) {
	for len(decoder.pending) == 0 {
		if err := decoder.readFrame(); err != nil {
			return event.Item{}, err
		}
	}
	item, consumed, err := event.DecodeItem(decoder.pending)
	if err != nil {
		return event.Item{}, fmt.Errorf("decode item: %w", err)
	}
	decoder.pending = decoder.pending[consumed:]
	return item, nil
}

func (decoder *Decoder) readFrame() error {
	var header [frameHeaderLength]byte
	if _, err := io.ReadFull(decoder.reader, header[:]); err != nil {
		if errors.Is(err, io.EOF) {
			return io.EOF
		}
		return fmt.Errorf("read frame header: %w", err)
	}
	length := int(binary.LittleEndian.Uint16(header[:]))
	if length > CompressedBound {
		return fmt.Errorf("%w: header announces %d bytes", ErrFrameTooLarge, length)
	}
	payload := decoder.compressed[:length]
	if _, err := io.ReadFull(decoder.reader, payload); err != nil {
		if errors.Is(err, io.EOF) {
			err = io.ErrUnexpectedEOF
		}
		return fmt.Errorf("read frame payload: %w", err)
	}
	frame, err := decoder.decompressor.Decompress(payload)
	if err != nil {
		return err
	}
	decoder.pending = frame
	return nil
}
