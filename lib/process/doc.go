// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package process holds the shared entrypoint helpers of the tracecap
// commands.
package process
