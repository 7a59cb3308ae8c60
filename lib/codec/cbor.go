// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package codec

import (
	"github.com/fxamacker/cbor/v2"
)

// Decoding limits for handshake payloads. A corrupt peer must not be
// able to make the decoder allocate without bound.
const (
	maxArrayElements = 4096
	maxMapPairs      = 4096
	maxNestedLevels  = 16
)

var (
	// Core Deterministic Encoding (RFC 8949 §4.2): the same Welcome
	// always serializes to the same bytes.
	encMode = mustEncMode(cbor.CoreDetEncOptions())

	// Unknown fields are ignored so a newer capture library can add
	// handshake fields without breaking older collectors.
	decMode = mustDecMode(cbor.DecOptions{
		MaxArrayElements: maxArrayElements,
		MaxMapPairs:      maxMapPairs,
		MaxNestedLevels:  maxNestedLevels,
	})
)

func mustEncMode(options cbor.EncOptions) cbor.EncMode {
	mode, err := options.EncMode()
	if err != nil {
		panic("codec: CBOR encoder initialization failed: " + err.Error())
	}
	return mode
}

func mustDecMode(options cbor.DecOptions) cbor.DecMode {
	mode, err := options.DecMode()
	if err != nil {
		panic("codec: CBOR decoder initialization failed: " + err.Error())
	}
	return mode
}

// Marshal encodes v deterministically.
func Marshal(v any) ([]byte, error) {
	return encMode.Marshal(v)
}

// Unmarshal decodes data into v within the decoding limits.
func Unmarshal(data []byte, v any) error {
	return decMode.Unmarshal(data, v)
}

// Diagnose renders data in CBOR diagnostic notation (RFC 8949 §8).
// tracecap-inspect --handshake prints the raw Welcome this way.
func Diagnose(data []byte) (string, error) {
	return cbor.Diagnose(data)
}
