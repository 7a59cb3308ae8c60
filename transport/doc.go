// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package transport carries capture sessions between an instrumented
// process and a collector over TCP.
//
// The instrumented side owns a [TCPListener] and accepts one collector
// at a time; each accepted connection is one capture session, with
// frames flowing out and queries flowing back on the same socket. The
// collector side uses a [TCPDialer]. Neither type knows anything about
// the session protocol: they only establish and tear down the duplex
// byte channel.
package transport
