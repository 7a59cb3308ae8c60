// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

//go:build !linux

package ticks

// currentCore reports core 0 on platforms without a cheap getcpu.
func currentCore() uint32 { return 0 }
