// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"bytes"
	"strings"
	"testing"

	"github.com/charmbracelet/x/ansi"

	"github.com/bureau-foundation/tracecap/lib/event"
	"github.com/bureau-foundation/tracecap/lib/protocol"
)

func sampleCollector(t *testing.T, name string) *collector {
	t.Helper()
	c := newCollector(nil, protocol.Welcome{TickPeriodNanoseconds: 1})
	items := []event.Item{
		{Type: event.TypeStringData, ID: 1, Text: name},
		{Type: event.TypeStringData, ID: 2, Text: "pool.go"},
		{Type: event.TypeSourceLocationData, ID: 5, Name: 1, File: 2, Line: 40},
		{Type: event.TypeThreadName, Thread: 3, Text: "worker 1"},
		{Type: event.TypeLockAnnounce, ID: 0, Location: 5},
		{Type: event.TypeLockWait, ID: 0, Thread: 3, Time: 100},
		{Type: event.TypeLockObtain, ID: 0, Thread: 3, Time: 250, Core: 2},
	}
	for i := range items {
		if err := c.observe(&items[i]); err != nil {
			t.Fatalf("observe: %v", err)
		}
	}
	return c
}

func TestRenderItemPlain(t *testing.T) {
	c := sampleCollector(t, "pool")
	styles := newPalette(&bytes.Buffer{}, false)

	obtain := event.Item{Type: event.TypeLockObtain, ID: 0, Thread: 3, Time: 250, Core: 2}
	if got, want := renderItem(c, styles, &obtain), "         250ns obtain   lock=0 worker 1 core=2"; got != want {
		t.Errorf("renderItem = %q, want %q", got, want)
	}
	resolution := event.Item{Type: event.TypeStringData, ID: 1, Text: "pool"}
	if got := renderItem(c, styles, &resolution); got != "" {
		t.Errorf("resolution rendered as %q", got)
	}
}

func TestRenderColorSurvivesPipe(t *testing.T) {
	c := sampleCollector(t, "pool")
	var output bytes.Buffer
	colored := newPalette(&output, true)
	plain := newPalette(&output, false)

	item := event.Item{Type: event.TypeLockAnnounce, ID: 0, Location: 5}
	line := renderItem(c, colored, &item)
	if !strings.Contains(line, "\x1b[") {
		t.Fatalf("colored line has no escape sequences: %q", line)
	}
	if got, want := ansi.Strip(line), renderItem(c, plain, &item); got != want {
		t.Errorf("stripped line = %q, want %q", got, want)
	}
}

func TestSummaryTruncatesLongSites(t *testing.T) {
	c := sampleCollector(t, strings.Repeat("connection pool ", 10))
	var output bytes.Buffer
	writeSummary(&output, c, newPalette(&output, false))

	text := output.String()
	if !strings.Contains(text, "…") {
		t.Errorf("long site not truncated:\n%s", text)
	}
	if !strings.Contains(text, "150ns") {
		t.Errorf("summary missing wait time:\n%s", text)
	}
	for _, line := range strings.Split(text, "\n") {
		if strings.HasPrefix(strings.TrimSpace(line), "0 ") && ansi.StringWidth(line) > 65+siteWidth {
			t.Errorf("lock row is %d cells wide", ansi.StringWidth(line))
		}
	}
}
