// cmd_display.go - Tabellen und Fortschrittsanzeige im Terminal
// Hauptfunktionen: renderPlain, shortPath, newProgress
package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/mattn/go-runewidth"
	"github.com/olekukonko/tablewriter"
	"golang.org/x/term"

	"github.com/animus/plateocr/telemetry"
)

// maxPathWidth - Pfade in Tabellen werden links gekuerzt
const maxPathWidth = 40

// renderPlain - Rendert eine Tabelle ohne Rahmen wie `ls`
func renderPlain(table *tablewriter.Table, data [][]string) {
	table.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	table.SetHeaderLine(false)
	table.SetBorder(false)
	table.SetNoWhiteSpace(true)
	table.SetTablePadding("    ")
	table.AppendBulk(data)
	table.Render()
}

// shortPath - Kuerzt lange Pfade und behaelt dabei den Dateinamen
func shortPath(path string) string {
	if runewidth.StringWidth(path) <= maxPathWidth {
		return path
	}

	base := filepath.Base(path)
	if runewidth.StringWidth(base) >= maxPathWidth-4 {
		return runewidth.Truncate(base, maxPathWidth, "...")
	}

	dir := filepath.Dir(path)
	keep := maxPathWidth - runewidth.StringWidth(base) - 4
	runes := []rune(dir)
	for runewidth.StringWidth(string(runes)) > keep {
		runes = runes[1:]
	}
	return "..." + string(runes) + string(filepath.Separator) + base
}

// progress - Zeigt Fortschrittsmeldungen als eine ueberschriebene Zeile an.
// Alle anderen Telemetrie-Aufrufe werden ignoriert.
type progress struct {
	mu   sync.Mutex
	w    io.Writer
	open bool
}

// newProgress - Nur fuer Terminals, sonst nil
func newProgress(w io.Writer) *progress {
	f, ok := w.(*os.File)
	if !ok || !term.IsTerminal(int(f.Fd())) {
		return nil
	}
	return &progress{w: w}
}

func (p *progress) Progress(step, total int, percent float64, message string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	width := 20
	filled := min(max(int(percent*float64(width)), 0), width)
	bar := strings.Repeat("=", filled) + strings.Repeat(" ", width-filled)
	fmt.Fprintf(p.w, "\r%-10s [%s] %d/%d %3.0f%%", message, bar, step, total, percent*100)
	p.open = true

	if step >= total {
		fmt.Fprintln(p.w)
		p.open = false
	}
}

func (p *progress) Status(string, string, telemetry.Fields)            {}
func (p *progress) Event(string, string, telemetry.Fields)             {}
func (p *progress) Metrics(int64, telemetry.Metrics, telemetry.Fields) {}
func (p *progress) Metric(int64, string, float64)                      {}

func (p *progress) Close(context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.open {
		fmt.Fprintln(p.w)
		p.open = false
	}
	return nil
}
