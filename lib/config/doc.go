// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package config provides configuration loading for the tracecap
// binaries.
//
// Configuration is loaded from a single file specified by either the
// TRACECAP_CONFIG environment variable (via [Load]) or a --config flag
// (via [LoadFile]). There are no fallbacks and no automatic file
// search. Files are YAML; a .json or .jsonc file may carry comments and
// trailing commas.
//
// The configuration file supports environment-specific sections
// (development, production) that override base values when
// [Config].Environment matches. Production defaults are stricter: the
// per-goroutine queue is bounded and logs are JSON.
//
// Variable expansion is performed on the recording path and listen
// address after loading: ${HOME}, ${PID}, ${TMPDIR}, and
// ${VAR:-default} patterns are expanded.
//
// This package depends on no other tracecap packages.
package config
