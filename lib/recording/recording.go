// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package recording stores capture streams on disk. A recording is the
// exact byte stream a collector would have received: the handshake
// followed by length-prefixed LZ4 frames. Paths ending in ".zst" are
// additionally wrapped in zstd, which compresses well across frames
// where LZ4's per-frame window cannot.
//
// Sessions written to a recording have no query channel, so they
// should be served with eager strings enabled.
package recording

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/klauspost/compress/zstd"
)

// Compressed reports whether path selects zstd compression.
func Compressed(path string) bool {
	return strings.EqualFold(filepath.Ext(path), ".zst")
}

// Writer is an open recording. Close must be called to flush buffered
// data; a recording that was not closed may be truncated.
type Writer struct {
	file     *os.File
	buffered *bufio.Writer
	encoder  *zstd.Encoder
	output   io.Writer
}

// Create creates or truncates the recording at path.
func Create(path string) (*Writer, error) {
	file, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("creating recording: %w", err)
	}
	writer := &Writer{file: file, buffered: bufio.NewWriter(file)}
	writer.output = writer.buffered
	if Compressed(path) {
		encoder, err := zstd.NewWriter(writer.buffered,
			zstd.WithEncoderLevel(zstd.SpeedDefault),
			zstd.WithEncoderConcurrency(1),
		)
		if err != nil {
			file.Close()
			return nil, fmt.Errorf("creating zstd encoder: %w", err)
		}
		writer.encoder = encoder
		writer.output = encoder
	}
	return writer, nil
}

// Write appends stream bytes to the recording.
func (writer *Writer) Write(data []byte) (int, error) {
	return writer.output.Write(data)
}

// Close flushes every layer and closes the file.
func (writer *Writer) Close() error {
	var errs []error
	if writer.encoder != nil {
		if err := writer.encoder.Close(); err != nil {
			errs = append(errs, fmt.Errorf("closing zstd encoder: %w", err))
		}
	}
	if err := writer.buffered.Flush(); err != nil {
		errs = append(errs, fmt.Errorf("flushing recording: %w", err))
	}
	if err := writer.file.Close(); err != nil {
		errs = append(errs, fmt.Errorf("closing recording: %w", err))
	}
	return errors.Join(errs...)
}

// Reader reads a recording back as a capture stream.
type Reader struct {
	file    *os.File
	decoder *zstd.Decoder
	input   io.Reader
}

// Open opens the recording at path.
func Open(path string) (*Reader, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening recording: %w", err)
	}
	reader := &Reader{file: file, input: bufio.NewReader(file)}
	if Compressed(path) {
		decoder, err := zstd.NewReader(reader.input, zstd.WithDecoderConcurrency(1))
		if err != nil {
			file.Close()
			return nil, fmt.Errorf("creating zstd decoder: %w", err)
		}
		reader.decoder = decoder
		reader.input = decoder
	}
	return reader, nil
}

// Read reads decompressed stream bytes.
func (reader *Reader) Read(data []byte) (int, error) {
	return reader.input.Read(data)
}

// Close releases the decoder and the file.
func (reader *Reader) Close() error {
	if reader.decoder != nil {
		reader.decoder.Close()
	}
	return reader.file.Close()
}
