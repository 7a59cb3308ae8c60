// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package protocol

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/bureau-foundation/tracecap/lib/codec"
)

// Magic opens every session.
const Magic = "TRACECAP"

// ProtocolVersion is bumped on incompatible changes to frames, items
// or queries.
const ProtocolVersion = 1

// CodecLZ4 names the frame codec in Welcome.Codec.
const CodecLZ4 = "lz4"

// maxWelcomeLength bounds the handshake a reader will accept.
const maxWelcomeLength = 64 * 1024

// ErrBadMagic is returned by ReadWelcome when the stream does not start
// with Magic.
var ErrBadMagic = errors.New("protocol: stream does not start with " + Magic)

// Welcome describes the instrumented process to the collector.
type Welcome struct {
	ProtocolVersion uint32 `cbor:"protocol_version"`

	// Program is the executable's base name.
	Program string `cbor:"program"`

	// ProgramDigest is the hex BLAKE3 digest of the executable, empty
	// when it could not be read.
	ProgramDigest string `cbor:"program_digest,omitempty"`

	PID int `cbor:"pid"`

	// StartUnixNano is the wall-clock time corresponding to tick zero.
	StartUnixNano int64 `cbor:"start_unix_nano"`

	// TickPeriodNanoseconds converts tick counts to durations.
	TickPeriodNanoseconds int64 `cbor:"tick_period_ns"`

	TargetFrameSize uint32 `cbor:"target_frame_size"`
	Codec           string `cbor:"codec"`

	// Build is the capture library's version string.
	Build string `cbor:"build,omitempty"`
}

// WriteWelcome writes the session handshake.
func WriteWelcome(writer io.Writer, welcome Welcome) error {
	payload, err := codec.Marshal(welcome)
	if err != nil {
		return fmt.Errorf("encode welcome: %w", err)
	}
	message := make([]byte, 0, len(Magic)+4+len(payload))
	message = append(message, Magic...)
	message = binary.LittleEndian.AppendUint32(message, uint32(len(payload)))
	message = append(message, payload...)
	if _, err := writer.Write(message); err != nil {
		return fmt.Errorf("write welcome: %w", err)
	}
	return nil
}

// ReadWelcome reads and validates the session handshake.
func ReadWelcome(reader io.Reader) (Welcome, error) {
	payload, err := ReadHandshake(reader)
	if err != nil {
		return Welcome{}, err
	}
	return DecodeWelcome(payload)
}

// ReadHandshake reads the handshake header and returns the raw CBOR
// payload of the Welcome without decoding it.
func ReadHandshake(reader io.Reader) ([]byte, error) {
	var header [len(Magic) + 4]byte
	if _, err := io.ReadFull(reader, header[:]); err != nil {
		return nil, fmt.Errorf("read welcome header: %w", err)
	}
	if string(header[:len(Magic)]) != Magic {
		return nil, ErrBadMagic
	}
	length := binary.LittleEndian.Uint32(header[len(Magic):])
	if length > maxWelcomeLength {
		return nil, fmt.Errorf("welcome length %d exceeds maximum %d", length, maxWelcomeLength)
	}
	payload := make([]byte, length)
	if _, err := io.ReadFull(reader, payload); err != nil {
		return nil, fmt.Errorf("read welcome payload: %w", err)
	}
	return payload, nil
}

// DecodeWelcome decodes a payload returned by ReadHandshake and checks
// its protocol version.
func DecodeWelcome(payload []byte) (Welcome, error) {
	var welcome Welcome
	if err := codec.Unmarshal(payload, &welcome); err != nil {
		return Welcome{}, fmt.Errorf("decode welcome: %w", err)
	}
	if welcome.ProtocolVersion != ProtocolVersion {
		return welcome, fmt.Errorf("unsupported protocol version %d (this build speaks %d)",
			welcome.ProtocolVersion, ProtocolVersion)
	}
	return welcome, nil
}
