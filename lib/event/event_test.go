// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package event

import (
	"errors"
	"strings"
	"testing"
	"unicode/utf8"
)

func TestStreamOfMixedItems(t *testing.T) {
	items := []Item{
		{Type: TypeLockAnnounce, ID: 0, Location: 17},
		{Type: TypeLockWait, ID: 0, Thread: 5, Time: 100, Core: 3},
		{Type: TypeLockObtain, ID: 0, Thread: 5, Time: 140, Core: 3},
		{Type: TypeLockMark, ID: 0, Thread: 5, Location: 18},
		{Type: TypeLockRelease, ID: 0, Thread: 5, Time: 190, Core: 1},
		{Type: TypeMessage, Thread: 5, Time: 200, Text: "checkpoint"},
		{Type: TypeStringData, ID: 17, Text: "store.go"},
		{Type: TypeThreadName, Thread: 5, Text: ""},
		{Type: TypeSourceLocationData, ID: 18, Name: 1, Function: 2, File: 3, Line: 42, Color: 0x00ff00},
	}

	var stream []byte
	for i := range items {
		before := len(stream)
		stream = AppendItem(stream, &items[i])
		if written := len(stream) - before; written != items[i].EncodedSize() {
			t.Fatalf("%s: wrote %d bytes, EncodedSize says %d", items[i].Type, written, items[i].EncodedSize())
		}
	}

	for i := range items {
		decoded, consumed, err := DecodeItem(stream)
		if err != nil {
			t.Fatalf("item %d: DecodeItem: %v", i, err)
		}
		if decoded != items[i] {
			t.Fatalf("item %d: decoded %+v, want %+v", i, decoded, items[i])
		}
		stream = stream[consumed:]
	}
	if len(stream) != 0 {
		t.Fatalf("%d trailing bytes", len(stream))
	}
}

func TestDecodeTruncated(t *testing.T) {
	item := Item{Type: TypeStringData, ID: 9, Text: "hello"}
	encoded := AppendItem(nil, &item)
	for length := 0; length < len(encoded); length++ {
		if _, _, err := DecodeItem(encoded[:length]); !errors.Is(err, ErrTruncated) {
			t.Fatalf("length %d: err = %v, want ErrTruncated", length, err)
		}
	}
}

func TestDecodeUnknownType(t *testing.T) {
	for _, tag := range []byte{byte(TypeInvalid), byte(typeCount), 0xff} {
		if _, _, err := DecodeItem([]byte{tag, 0, 0, 0}); !errors.Is(err, ErrUnknownType) {
			t.Errorf("tag %d: err = %v, want ErrUnknownType", tag, err)
		}
	}
}

func TestAppendInvalidWritesNothing(t *testing.T) {
	if out := AppendItem([]byte("x"), &Item{}); string(out) != "x" {
		t.Fatalf("AppendItem of zero item wrote %q", out)
	}
}

func TestTextTruncation(t *testing.T) {
	// A three-byte rune straddling the limit must not be split.
	text := strings.Repeat("a", MaxTextLength-1) + "€" + "tail"
	truncated := TruncateText(text)
	if len(truncated) != MaxTextLength-1 {
		t.Fatalf("truncated to %d bytes, want %d", len(truncated), MaxTextLength-1)
	}
	if !utf8.ValidString(truncated) {
		t.Fatal("truncation produced invalid UTF-8")
	}

	item := Item{Type: TypeMessage, Text: strings.Repeat("z", MaxTextLength*2)}
	encoded := AppendItem(nil, &item)
	if len(encoded) != MaxEncodedSize {
		t.Fatalf("maximal message encodes to %d bytes, MaxEncodedSize is %d", len(encoded), MaxEncodedSize)
	}
	decoded, _, err := DecodeItem(encoded)
	if err != nil {
		t.Fatalf("DecodeItem: %v", err)
	}
	if len(decoded.Text) != MaxTextLength {
		t.Fatalf("decoded text length %d", len(decoded.Text))
	}
}

func TestTypeString(t *testing.T) {
	if TypeLockObtain.String() != "lock_obtain" {
		t.Errorf("TypeLockObtain.String() = %q", TypeLockObtain.String())
	}
	if Type(200).String() != "unknown(200)" {
		t.Errorf("Type(200).String() = %q", Type(200).String())
	}
	if !TypeLockMark.IsLockEvent() || TypeLockAnnounce.IsLockEvent() {
		t.Error("IsLockEvent classification wrong")
	}
}
