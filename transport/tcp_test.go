// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package transport

import (
	"context"
	"errors"
	"io"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/bureau-foundation/tracecap/lib/testutil"
)

func TestTCPListener_Address(t *testing.T) {
	listener, err := NewTCPListener("127.0.0.1:0")
	if err != nil {
		t.Fatalf("NewTCPListener() error: %v", err)
	}
	defer listener.Close()

	address := listener.Address()
	if !strings.Contains(address, ":") || strings.HasSuffix(address, ":0") {
		t.Errorf("Address() = %q, expected bound host:port", address)
	}
}

func TestTCPRoundTrip(t *testing.T) {
	listener, err := NewTCPListener("127.0.0.1:0")
	if err != nil {
		t.Fatalf("NewTCPListener() error: %v", err)
	}
	defer listener.Close()

	accepted := make(chan net.Conn, 1)
	go func() {
		conn, err := listener.Accept(context.Background())
		if err != nil {
			close(accepted)
			return
		}
		accepted <- conn
	}()

	dialer := &TCPDialer{Timeout: 5 * time.Second}
	client, err := dialer.DialContext(context.Background(), listener.Address())
	if err != nil {
		t.Fatalf("DialContext() error: %v", err)
	}
	defer client.Close()

	server := testutil.RequireReceive(t, accepted, 5*time.Second, "accepting connection")
	defer server.Close()

	// Both directions carry data: frames out, queries back.
	if _, err := server.Write([]byte("frame")); err != nil {
		t.Fatalf("server Write: %v", err)
	}
	buffer := make([]byte, 5)
	if _, err := io.ReadFull(client, buffer); err != nil || string(buffer) != "frame" {
		t.Fatalf("client read %q, %v", buffer, err)
	}
	if _, err := client.Write([]byte("query")); err != nil {
		t.Fatalf("client Write: %v", err)
	}
	if _, err := io.ReadFull(server, buffer); err != nil || string(buffer) != "query" {
		t.Fatalf("server read %q, %v", buffer, err)
	}
}

func TestTCPListener_AcceptHonorsContext(t *testing.T) {
	listener, err := NewTCPListener("127.0.0.1:0")
	if err != nil {
		t.Fatalf("NewTCPListener() error: %v", err)
	}
	defer listener.Close()

	ctx, cancel := context.WithCancel(context.Background())
	result := make(chan error, 1)
	go func() {
		_, err := listener.Accept(ctx)
		result <- err
	}()
	cancel()

	if err := testutil.RequireReceive(t, result, 5*time.Second, "Accept return"); !errors.Is(err, context.Canceled) {
		t.Fatalf("Accept() error = %v, want context.Canceled", err)
	}

	// The listener remains usable after a cancelled Accept.
	go func() {
		conn, err := (&TCPDialer{}).DialContext(context.Background(), listener.Address())
		if err == nil {
			conn.Close()
		}
	}()
	acceptCtx, acceptCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer acceptCancel()
	conn, err := listener.Accept(acceptCtx)
	if err != nil {
		t.Fatalf("Accept() after cancellation: %v", err)
	}
	conn.Close()
}

func TestTCPListener_CloseTwice(t *testing.T) {
	listener, err := NewTCPListener("127.0.0.1:0")
	if err != nil {
		t.Fatalf("NewTCPListener() error: %v", err)
	}
	if err := listener.Close(); err != nil {
		t.Fatalf("first Close() error: %v", err)
	}
	if err := listener.Close(); err != nil {
		t.Fatalf("second Close() error: %v", err)
	}
}
