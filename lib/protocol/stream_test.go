// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package protocol

import (
	"bytes"
	"encoding/binary"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/bureau-foundation/tracecap/lib/event"
)

// countingWriter records the size of every Write call.
type countingWriter struct {
	bytes.Buffer
	writes []int
}

func (writer *countingWriter) Write(data []byte) (int, error) {
	writer.writes = append(writer.writes, len(data))
	return writer.Buffer.Write(data)
}

func TestEncoderDecoderStream(t *testing.T) {
	var output countingWriter
	encoder := NewEncoder(&output)

	var sent []event.Item
	for i := range 10000 {
		item := event.Item{
			Type:   event.TypeLockObtain,
			ID:     uint64(i % 7),
			Thread: uint64(i % 3),
			Time:   int64(i * 10),
			Core:   uint32(i % 4),
		}
		if i%100 == 0 {
			item = event.Item{Type: event.TypeMessage, Thread: 1, Time: int64(i), Text: strings.Repeat("x", i%300)}
		}
		if err := encoder.Append(&item); err != nil {
			t.Fatalf("Append %d: %v", i, err)
		}
		sent = append(sent, item)
	}
	if err := encoder.Flush(); err != nil {
		t.Fatalf("Flush: %v", err)
	}

	stats := encoder.Stats()
	if stats.Frames < 2 {
		t.Fatalf("expected multiple frames, got %d", stats.Frames)
	}
	if uint64(len(output.writes)) != stats.Frames {
		t.Fatalf("%d writes for %d frames, want one write per frame", len(output.writes), stats.Frames)
	}
	if stats.CompressedSize+2*stats.Frames != uint64(output.Len()) {
		t.Fatalf("stats report %d compressed bytes in %d frames, stream has %d", stats.CompressedSize, stats.Frames, output.Len())
	}

	decoder := NewDecoder(bytes.NewReader(output.Bytes()))
	for i, want := range sent {
		got, err := decoder.Next()
		if err != nil {
			t.Fatalf("Next %d: %v", i, err)
		}
		if got != want {
			t.Fatalf("item %d = %+v, want %+v", i, got, want)
		}
	}
	if _, err := decoder.Next(); err != io.EOF {
		t.Fatalf("Next after stream = %v, want io.EOF", err)
	}
}

func TestEncoderFramesStayUnderTarget(t *testing.T) {
	var output bytes.Buffer
	encoder := NewEncoder(&output)
	item := event.Item{Type: event.TypeMessage, Text: strings.Repeat("m", event.MaxTextLength)}
	for range 100 {
		if err := encoder.Append(&item); err != nil {
			t.Fatalf("Append: %v", err)
		}
		if len(encoder.frame) > TargetFrameSize {
			t.Fatalf("buffered %d bytes, target is %d", len(encoder.frame), TargetFrameSize)
		}
	}
}

func TestEncoderFlushEmptyWritesNothing(t *testing.T) {
	var output bytes.Buffer
	encoder := NewEncoder(&output)
	if err := encoder.Flush(); err != nil {
		t.Fatalf("Flush: %v", err)
	}
	if output.Len() != 0 {
		t.Fatalf("empty flush wrote %d bytes", output.Len())
	}
}

func TestEncoderRejectsInvalidItem(t *testing.T) {
	encoder := NewEncoder(io.Discard)
	err := encoder.Append(&event.Item{})
	if !errors.Is(err, event.ErrUnknownType) {
		t.Fatalf("Append error = %v, want ErrUnknownType", err)
	}
}

func TestDecoderRejectsOversizedHeader(t *testing.T) {
	var stream []byte
	stream = binary.LittleEndian.AppendUint16(stream, CompressedBound+1)
	_, err := NewDecoder(bytes.NewReader(stream)).Next()
	if !errors.Is(err, ErrFrameTooLarge) {
		t.Fatalf("Next error = %v, want ErrFrameTooLarge", err)
	}
}

func TestDecoderTruncatedFrame(t *testing.T) {
	var stream []byte
	stream = binary.LittleEndian.AppendUint16(stream, 100)
	stream = append(stream, 1, 2, 3)
	_, err := NewDecoder(bytes.NewReader(stream)).Next()
	if !errors.Is(err, io.ErrUnexpectedEOF) {
		t.Fatalf("Next error = %v, want io.ErrUnexpectedEOF", err)
	}
}
