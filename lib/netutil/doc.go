// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package netutil classifies connection errors.
//
// A capture session ends whenever its collector goes away, and the
// error that surfaces depends on which side noticed first: EOF on the
// query reader, or EPIPE / ECONNRESET on the next frame write.
// IsExpectedCloseError lets callers log these at a lower level than
// genuine transport failures.
package netutil
