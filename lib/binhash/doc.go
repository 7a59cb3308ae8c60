// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package binhash identifies the program being profiled by the BLAKE3
// digest of its executable.
//
// The session handshake carries the digest so a collector can match a
// capture to the exact binary (and its symbols) that produced it, even
// when two builds share a name and version string.
//
//   - [HashFile] streams a file through BLAKE3 with constant memory
//   - [Executable] hashes the running binary once and caches the result
//   - [FormatDigest] / [ParseDigest] convert to and from lowercase hex
package binhash
