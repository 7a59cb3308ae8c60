// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package process

import (
	"fmt"
	"io"
	"os"
)

// Fatal writes "error: err" to stderr and exits with code 1. Commands
// call it from main() with the error returned by run(), before or
// after the structured logger exists.
func Fatal(err error) {
	report(os.Stderr, err)
	os.Exit(1)
}

func report(output io.Writer, err error) {
	fmt.Fprintf(output, "error: %v\n", err)
}
