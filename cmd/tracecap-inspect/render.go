// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/x/ansi"
	"github.com/muesli/termenv"

	"github.com/bureau-foundation/tracecap/lib/event"
)

// palette holds the styles used for event lines. With color disabled
// every style renders its input unchanged.
type palette struct {
	time     lipgloss.Style
	kind     map[event.Type]lipgloss.Style
	thread   lipgloss.Style
	location lipgloss.Style
	header   lipgloss.Style
	dim      lipgloss.Style
}

// siteWidth caps the site column of the lock table, in cells.
const siteWidth = 60

// newPalette builds the styles for output. The renderer's profile is
// fixed rather than detected so that --color=always survives a pipe.
func newPalette(output io.Writer, color bool) palette {
	profile := termenv.Ascii
	if color {
		profile = termenv.ANSI256
	}
	renderer := lipgloss.NewRenderer(output, termenv.WithProfile(profile))
	renderer.SetColorProfile(profile)
	plain := renderer.NewStyle()
	if !color {
		return palette{
			time: plain, thread: plain, location: plain, header: plain, dim: plain,
			kind: map[event.Type]lipgloss.Style{},
		}
	}
	kind := func(code string) lipgloss.Style {
		return renderer.NewStyle().Foreground(lipgloss.Color(code)).Bold(true)
	}
	return palette{
		time:     renderer.NewStyle().Foreground(lipgloss.Color("8")),
		thread:   renderer.NewStyle().Foreground(lipgloss.Color("14")),
		location: renderer.NewStyle().Foreground(lipgloss.Color("13")),
		header:   renderer.NewStyle().Bold(true).Underline(true),
		dim:      renderer.NewStyle().Faint(true),
		kind: map[event.Type]lipgloss.Style{
			event.TypeLockAnnounce: kind("12"),
			event.TypeLockWait:     kind("11"),
			event.TypeLockObtain:   kind("10"),
			event.TypeLockRelease:  kind("2"),
			event.TypeLockMark:     kind("13"),
			event.TypeMessage:      kind("15"),
		},
	}
}

func (p palette) kindOf(itemType event.Type) lipgloss.Style {
	if style, ok := p.kind[itemType]; ok {
		return style
	}
	return p.dim
}

// renderItem formats one event as a single line. Resolution records
// return the empty string; they are folded into later lines instead.
func renderItem(c *collector, p palette, item *event.Item) string {
	kind := p.kindOf(item.Type).Render(fmt.Sprintf("%-8s", shortName(item.Type)))
	switch item.Type {
	case event.TypeLockAnnounce:
		return fmt.Sprintf("%s %s lock=%d %s", p.time.Render(fmt.Sprintf("%14s", "")), kind, item.ID,
			p.location.Render(c.locationName(item.Location)))
	case event.TypeLockWait, event.TypeLockObtain, event.TypeLockRelease:
		return fmt.Sprintf("%s %s lock=%d %s core=%d", p.time.Render(fmt.Sprintf("%14s", c.duration(item.Time))), kind,
			item.ID, p.thread.Render(c.threadName(item.Thread)), item.Core)
	case event.TypeLockMark:
		return fmt.Sprintf("%s %s lock=%d %s %s", p.time.Render(fmt.Sprintf("%14s", "")), kind, item.ID,
			p.thread.Render(c.threadName(item.Thread)), p.location.Render(c.locationName(item.Location)))
	case event.TypeMessage:
		return fmt.Sprintf("%s %s %s %q", p.time.Render(fmt.Sprintf("%14s", c.duration(item.Time))), kind,
			p.thread.Render(c.threadName(item.Thread)), item.Text)
	}
	return ""
}

func shortName(itemType event.Type) string {
	return strings.TrimPrefix(itemType.String(), "lock_")
}

// writeSummary prints event counts and per-lock contention.
func writeSummary(output io.Writer, c *collector, p palette) {
	fmt.Fprintln(output)
	fmt.Fprintln(output, p.header.Render("events"))
	for itemType := event.TypeLockAnnounce; itemType <= event.TypeSourceLocationData; itemType++ {
		if count := c.counts[itemType]; count > 0 {
			fmt.Fprintf(output, "  %-22s %d\n", itemType, count)
		}
	}

	fmt.Fprintln(output)
	fmt.Fprintln(output, p.header.Render("locks"))
	fmt.Fprintf(output, "  %6s %8s %8s %6s %14s %14s  %s\n", "id", "acquired", "trylock", "marks", "total wait", "max wait", "site")
	for _, id := range c.lockIDs() {
		stats := c.locks[id]
		site := ansi.Truncate(c.locationName(stats.location), siteWidth, "…")
		fmt.Fprintf(output, "  %6d %8d %8d %6d %14s %14s  %s\n", id, stats.acquisitions, stats.tryLocks, stats.marks,
			c.duration(stats.totalWait), c.duration(stats.maxWait), p.location.Render(site))
	}
}
