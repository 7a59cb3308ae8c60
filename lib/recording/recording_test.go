// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package recording

import (
	"bytes"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/bureau-foundation/tracecap/lib/event"
	"github.com/bureau-foundation/tracecap/lib/protocol"
)

// writeStream records a handshake and count lock events.
func writeStream(t *testing.T, path string, count int) {
	t.Helper()
	writer, err := Create(path)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := protocol.WriteWelcome(writer, protocol.Welcome{
		ProtocolVersion: protocol.ProtocolVersion,
		Program:         "recording.test",
		TargetFrameSize: protocol.TargetFrameSize,
		Codec:           protocol.CodecLZ4,
	}); err != nil {
		t.Fatalf("WriteWelcome: %v", err)
	}
	encoder := protocol.NewEncoder(writer)
	for i := range count {
		item := event.Item{Type: event.TypeLockObtain, ID: uint64(i % 5), Thread: 1, Time: int64(i)}
		if err := encoder.Append(&item); err != nil {
			t.Fatalf("Append: %v", err)
		}
	}
	if err := encoder.Flush(); err != nil {
		t.Fatalf("Flush: %v", err)
	}
	if err := writer.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
}

func readStream(t *testing.T, path string) []event.Item {
	t.Helper()
	reader, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer reader.Close()

	welcome, err := protocol.ReadWelcome(reader)
	if err != nil {
		t.Fatalf("ReadWelcome: %v", err)
	}
	if welcome.Program != "recording.test" {
		t.Fatalf("welcome program = %q", welcome.Program)
	}
	decoder := protocol.NewDecoder(reader)
	var items []event.Item
	for {
		item, err := decoder.Next()
		if err == io.EOF {
			return items
		}
		if err != nil {
			t.Fatalf("Next: %v", err)
		}
		items = append(items, item)
	}
}

func TestRecordingRoundTrip(t *testing.T) {
	for _, name := range []string{"capture.trace", "capture.trace.zst"} {
		path := filepath.Join(t.TempDir(), name)
		writeStream(t, path, 20000)
		items := readStream(t, path)
		if len(items) != 20000 {
			t.Fatalf("%s: read %d items, want 20000", name, len(items))
		}
		for i, item := range items {
			if item.Time != int64(i) || item.ID != uint64(i%5) {
				t.Fatalf("%s: item %d = %+v", name, i, item)
			}
		}
	}
}

func TestCompressedRecordingIsZstd(t *testing.T) {
	directory := t.TempDir()
	plain := filepath.Join(directory, "capture.trace")
	compressed := filepath.Join(directory, "capture.trace.zst")
	writeStream(t, plain, 1000)
	writeStream(t, compressed, 1000)

	data, err := os.ReadFile(compressed)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	zstdMagic := []byte{0x28, 0xb5, 0x2f, 0xfd}
	if !bytes.HasPrefix(data, zstdMagic) {
		t.Fatalf("compressed recording starts with %x", data[:4])
	}
	raw, err := os.ReadFile(plain)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if !bytes.HasPrefix(raw, []byte(protocol.Magic)) {
		t.Fatal("plain recording does not start with the stream magic")
	}
}

func TestCompressed(t *testing.T) {
	tests := map[string]bool{
		"a.zst":       true,
		"a.ZST":       true,
		"a.trace":     false,
		"zst":         false,
		"dir.zst/run": false,
	}
	for path, want := range tests {
		if got := Compressed(path); got != want {
			t.Errorf("Compressed(%q) = %v, want %v", path, got, want)
		}
	}
}

func TestOpenMissing(t *testing.T) {
	if _, err := Open(filepath.Join(t.TempDir(), "absent.zst")); err == nil {
		t.Fatal("Open succeeded on a missing file")
	}
}
