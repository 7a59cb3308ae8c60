// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package event defines the records that flow through the capture
// queue and their serialized form inside a frame.
//
// An Item is a tagged variant: Type selects which fields are
// meaningful. Every Item occupies the same fixed-size queue slot
// regardless of variant. On the wire an item is its one-byte type tag
// followed by a body whose layout the tag determines; all integers are
// little-endian and variable text carries a uint16 length prefix.
//
//	LockAnnounce        id:u64 location:u64
//	LockWait            id:u64 thread:u64 time:i64 core:u32
//	LockObtain          id:u64 thread:u64 time:i64 core:u32
//	LockRelease         id:u64 thread:u64 time:i64 core:u32
//	LockMark            id:u64 thread:u64 location:u64
//	Message             thread:u64 time:i64 core:u32 length:u16 text
//	StringData          ref:u64 length:u16 text
//	ThreadName          thread:u64 length:u16 text
//	SourceLocationData  ref:u64 name:u64 function:u64 file:u64 line:u32 color:u32
package event

import (
	"encoding/binary"
	"errors"
	"fmt"
	"unicode/utf8"
)

// Type is the tag of an Item. Values are protocol constants.
type Type uint8

const (
	// TypeInvalid is the zero tag; an Item with it is never published.
	TypeInvalid Type = iota
	TypeLockAnnounce
	TypeLockWait
	TypeLockObtain
	TypeLockRelease
	TypeLockMark
	TypeMessage
	TypeStringData
	TypeThreadName
	TypeSourceLocationData

	typeCount
)

var typeNames = [typeCount]string{
	TypeInvalid:            "invalid",
	TypeLockAnnounce:       "lock_announce",
	TypeLockWait:           "lock_wait",
	TypeLockObtain:         "lock_obtain",
	TypeLockRelease:        "lock_release",
	TypeLockMark:           "lock_mark",
	TypeMessage:            "message",
	TypeStringData:         "string_data",
	TypeThreadName:         "thread_name",
	TypeSourceLocationData: "source_location_data",
}

// String returns the snake_case name of the tag.
func (tag Type) String() string {
	if tag < typeCount {
		return typeNames[tag]
	}
	return fmt.Sprintf("unknown(%d)", uint8(tag))
}

// IsLockEvent reports whether items of this type reference a lock that
// must have been announced first.
func (tag Type) IsLockEvent() bool {
	switch tag {
	case TypeLockWait, TypeLockObtain, TypeLockRelease, TypeLockMark:
		return true
	}
	return false
}

// MaxTextLength bounds the text carried by Message, StringData and
// ThreadName items. Longer text is truncated on a rune boundary.
const MaxTextLength = 4096

// MaxEncodedSize is the largest serialized size of any item.
const MaxEncodedSize = 1 + 8 + 8 + 4 + 2 + MaxTextLength

var (
	// ErrTruncated is returned by DecodeItem when the input ends in the
	// middle of an item.
	ErrTruncated = errors.New("event: truncated item")

	// ErrUnknownType is returned by DecodeItem for an unrecognized tag.
	ErrUnknownType = errors.New("event: unknown item type")
)

// Item is one queue slot. Field use per Type:
//
//	ID        lock id (lock events), answered ref (StringData, SourceLocationData)
//	Thread    goroutine handle (all but LockAnnounce, StringData, SourceLocationData)
//	Time      tick count (Wait, Obtain, Release, Message)
//	Core      core id of Time's reading
//	Location  source location ref (LockAnnounce, LockMark)
//	Text      Message, StringData, ThreadName
//	Name, Function, File, Line, Color   SourceLocationData
type Item struct {
	Type     Type
	Core     uint32
	ID       uint64
	Thread   uint64
	Time     int64
	Location uint64
	Text     string

	Name     uint64
	Function uint64
	File     uint64
	Line     uint32
	Color    uint32
}

// TruncateText cuts text to at most MaxTextLength bytes without
// splitting a UTF-8 sequence.
func TruncateText(text string) string {
	if len(text) <= MaxTextLength {
		return text
	}
	cut := MaxTextLength
	for cut > 0 && !utf8.RuneStart(text[cut]) {
		cut--
	}
	return text[:cut]
}

// EncodedSize returns the number of bytes AppendItem writes for item.
func (item *Item) EncodedSize() int {
	switch item.Type {
	case TypeLockAnnounce:
		return 1 + 16
	case TypeLockWait, TypeLockObtain, TypeLockRelease:
		return 1 + 28
	case TypeLockMark:
		return 1 + 24
	case TypeMessage:
		return 1 + 22 + len(TruncateText(item.Text))
	case TypeStringData, TypeThreadName:
		return 1 + 10 + len(TruncateText(item.Text))
	case TypeSourceLocationData:
		return 1 + 40
	default:
		return 0
	}
}

// AppendItem serializes item onto dst. Items with an unknown tag
// append nothing.
func AppendItem(dst []byte, item *Item) []byte {
	if item.EncodedSize() == 0 {
		return dst
	}
	dst = append(dst, byte(item.Type))
	le := binary.LittleEndian
	switch item.Type {
	case TypeLockAnnounce:
		dst = le.AppendUint64(dst, item.ID)
		dst = le.AppendUint64(dst, item.Location)
	case TypeLockWait, TypeLockObtain, TypeLockRelease:
		dst = le.AppendUint64(dst, item.ID)
		dst = le.AppendUint64(dst, item.Thread)
		dst = le.AppendUint64(dst, uint64(item.Time))
		dst = le.AppendUint32(dst, item.Core)
	case TypeLockMark:
		dst = le.AppendUint64(dst, item.ID)
		dst = le.AppendUint64(dst, item.Thread)
		dst = le.AppendUint64(dst, item.Location)
	case TypeMessage:
		dst = le.AppendUint64(dst, item.Thread)
		dst = le.AppendUint64(dst, uint64(item.Time))
		dst = le.AppendUint32(dst, item.Core)
		dst = appendText(dst, item.Text)
	case TypeStringData:
		dst = le.AppendUint64(dst, item.ID)
		dst = appendText(dst, item.Text)
	case TypeThreadName:
		dst = le.AppendUint64(dst, item.Thread)
		dst = appendText(dst, item.Text)
	case TypeSourceLocationData:
		dst = le.AppendUint64(dst, item.ID)
		dst = le.AppendUint64(dst, item.Name)
		dst = le.AppendUint64(dst, item.Function)
		dst = le.AppendUint64(dst, item.File)
		dst = le.AppendUint32(dst, item.Line)
		dst = le.AppendUint32(dst, item.Color)
	}
	return dst
}

func appendText(dst []byte, text string) []byte {
	text = TruncateText(text)
	dst = binary.LittleEndian.AppendUint16(dst, uint16(len(text)))
	return append(dst, text...)
}

// DecodeItem parses one item from the front of src and returns it with
// the number of bytes consumed.
func DecodeItem(src []byte) (Item, int, error) {
	if len(src) == 0 {
		return Item{}, 0, ErrTruncated
	}
	item := Item{Type: Type(src[0])}
	reader := bodyReader{data: src[1:]}
	le := binary.LittleEndian

	switch item.Type {
	case TypeLockAnnounce:
		item.ID = reader.uint64(le)
		item.Location = reader.uint64(le)
	case TypeLockWait, TypeLockObtain, TypeLockRelease:
		item.ID = reader.uint64(le)
		item.Thread = reader.uint64(le)
		item.Time = int64(reader.uint64(le))
		item.Core = reader.uint32(le)
	case TypeLockMark:
		item.ID = reader.uint64(le)
		item.Thread = reader.uint64(le)
		item.Location = reader.uint64(le)
	case TypeMessage:
		item.Thread = reader.uint64(le)
		item.Time = int64(reader.uint64(le))
		item.Core = reader.uint32(le)
		item.Text = reader.text(le)
	case TypeStringData:
		item.ID = reader.uint64(le)
		item.Text = reader.text(le)
	case TypeThreadName:
		item.Thread = reader.uint64(le)
		item.Text = reader.text(le)
	case TypeSourceLocationData:
		item.ID = reader.uint64(le)
		item.Name = reader.uint64(le)
		item.Function = reader.uint64(le)
		item.File = reader.uint64(le)
		item.Line = reader.uint32(le)
		item.Color = reader.uint32(le)
	default:
		return Item{}, 0, fmt.Errorf("%w: tag %d", ErrUnknownType, src[0])
	}
	if reader.short {
		return Item{}, 0, fmt.Errorf("%w: %s", ErrTruncated, item.Type)
	}
	return item, 1 + reader.offset, nil
}

// bodyReader reads fixed-width fields and latches short once the
// input runs out, so DecodeItem checks for truncation once.
type bodyReader struct {
	data   []byte
	offset int
	short  bool
}

func (reader *bodyReader) take(count int) []byte {
	if reader.short || len(reader.data)-reader.offset < count {
		reader.short = true
		return nil
	}
	field := reader.data[reader.offset : reader.offset+count]
	reader.offset += count
	return field
}

func (reader *bodyReader) uint64(order binary.ByteOrder) uint64 {
	if field := reader.take(8); field != nil {
		return order.Uint64(field)
	}
	return 0
}

func (reader *bodyReader) uint32(order binary.ByteOrder) uint32 {
	if field := reader.take(4); field != nil {
		return order.Uint32(field)
	}
	return 0
}

func (reader *bodyReader) text(order binary.ByteOrder) string {
	lengthField := reader.take(2)
	if lengthField == nil {
		return ""
	}
	if text := reader.take(int(order.Uint16(lengthField))); text != nil {
		return string(text)
	}
	return ""
}
