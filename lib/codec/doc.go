// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package codec provides the CBOR configuration shared by every
// structured message in tracecap.
//
// Event items travel in the fixed little-endian layout defined by
// package event because they are produced at high rates. Low-rate
// structured messages, currently the session handshake, use CBOR
// through this package so fields can be added without breaking older
// peers:
//
//	data, err := codec.Marshal(welcome)
//	err = codec.Unmarshal(data, &welcome)
//
// Types serialized only as CBOR use `cbor` struct tags.
package codec
