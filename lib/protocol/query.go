// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package protocol

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

// Opcode selects what a collector query asks for. Values are protocol
// constants.
type Opcode uint8

const (
	// ResolveString asks for the text of an interned string ref.
	// Answered with a StringData item.
	ResolveString Opcode = iota

	// ResolveThreadName asks for the label of a goroutine handle.
	// Answered with a ThreadName item.
	ResolveThreadName

	// ResolveSourceLocation asks for the fields of a source location
	// ref. Answered with a SourceLocationData item whose strings are
	// refs for further ResolveString queries.
	ResolveSourceLocation

	opcodeCount
)

// String returns the opcode's name.
func (opcode Opcode) String() string {
	switch opcode {
	case ResolveString:
		return "resolve_string"
	case ResolveThreadName:
		return "resolve_thread_name"
	case ResolveSourceLocation:
		return "resolve_source_location"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(opcode))
	}
}

// QueryLength is the size of a query on the wire.
const QueryLength = 9

// ErrUnknownOpcode is returned by ReadQuery for an opcode this version
// does not understand. The query's bytes have been consumed, so the
// stream remains aligned and the caller may keep reading.
var ErrUnknownOpcode = errors.New("protocol: unknown query opcode")

// Query is one collector request.
type Query struct {
	Opcode  Opcode
	Operand uint64
}

// WriteQuery sends query to writer.
func WriteQuery(writer io.Writer, query Query) error {
	var buffer [QueryLength]byte
	buffer[0] = byte(query.Opcode)
	binary.LittleEndian.PutUint64(buffer[1:], query.Operand)
	if _, err := writer.Write(buffer[:]); err != nil {
		return fmt.Errorf("write query: %w", err)
	}
	return nil
}

// ReadQuery reads one query. It returns io.EOF when the stream ends
// between queries.
func ReadQuery(reader io.Reader) (Query, error) {
	var buffer [QueryLength]byte
	if _, err := io.ReadFull(reader, buffer[:]); err != nil {
		if errors.Is(err, io.EOF) {
			return Query{}, io.EOF
		}
		return Query{}, fmt.Errorf("read query: %w", err)
	}
	query := Query{
		Opcode:  Opcode(buffer[0]),
		Operand: binary.LittleEndian.Uint64(buffer[1:]),
	}
	if query.Opcode >= opcodeCount {
		return query, fmt.Errorf("%w: %d", ErrUnknownOpcode, buffer[0])
	}
	return query, nil
}
