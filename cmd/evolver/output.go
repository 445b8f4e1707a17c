// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/lipgloss"
)

// =============================================================================
// Color Palette
// =============================================================================

var (
	colorTeal    = lipgloss.Color("#2CD7C7")
	colorTealDim = lipgloss.Color("#16858E")
	colorSlate   = lipgloss.Color("#2C4A54")
	colorError   = lipgloss.Color("#E74C3C")
)

// field is one labelled line of command output.
type field struct {
	Key   string
	Value string
}

// printer renders command results either as styled text or as JSON.
//
// Styles are bound to a renderer for the destination writer, so output to
// a pipe or a test buffer carries no escape codes.
type printer struct {
	w    io.Writer
	json bool

	title lipgloss.Style
	key   lipgloss.Style
	value lipgloss.Style
	ok    lipgloss.Style
	bad   lipgloss.Style
	box   lipgloss.Style
}

func newPrinter(w io.Writer, asJSON bool) *printer {
	r := lipgloss.NewRenderer(w)
	return &printer{
		w:     w,
		json:  asJSON,
		title: r.NewStyle().Bold(true).Foreground(colorTeal),
		key:   r.NewStyle().Foreground(colorSlate).Width(14),
		value: r.NewStyle(),
		ok:    r.NewStyle().Bold(true).Foreground(colorTeal),
		bad:   r.NewStyle().Bold(true).Foreground(colorError),
		box: r.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(colorTealDim).
			Padding(0, 1),
	}
}

// result prints a titled block of fields, or v as JSON when requested.
func (p *printer) result(title string, fields []field, v any) error {
	if p.json {
		enc := json.NewEncoder(p.w)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	}
	var b strings.Builder
	b.WriteString(p.title.Render(title))
	for _, f := range fields {
		b.WriteString("\n")
		b.WriteString(p.key.Render(f.Key))
		b.WriteString(p.value.Render(f.Value))
	}
	_, err := fmt.Fprintln(p.w, p.box.Render(b.String()))
	return err
}

// status prints a one-line verdict.
func (p *printer) status(ok bool, msg string) {
	if p.json {
		return
	}
	style, icon := p.ok, "✓"
	if !ok {
		style, icon = p.bad, "✗"
	}
	fmt.Fprintln(p.w, style.Render(icon+" "+msg))
}
