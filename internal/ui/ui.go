// Package ui renders command output as styled tables, JSON or YAML.
//
// Colour is used only when writing to a terminal and NO_COLOR is unset.
package ui

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/muesli/termenv"
	"golang.org/x/term"
	"gopkg.in/yaml.v3"

	"github.com/steveyegge/taskbridge/internal/opentasks"
)

// Format is an output format accepted by --format.
type Format string

const (
	FormatTable Format = "table"
	FormatJSON  Format = "json"
	FormatYAML  Format = "yaml"
)

// ParseFormat validates a --format value.
func ParseFormat(s string) (Format, error) {
	switch f := Format(strings.ToLower(s)); f {
	case FormatTable, FormatJSON, FormatYAML:
		return f, nil
	default:
		return "", fmt.Errorf("unknown format %q (want table, json or yaml)", s)
	}
}

// Printer writes command output to one destination.
type Printer struct {
	out      io.Writer
	renderer *lipgloss.Renderer

	header  lipgloss.Style
	cell    lipgloss.Style
	subtle  lipgloss.Style
	success lipgloss.Style
	warning lipgloss.Style
}

// NewPrinter creates a printer for out. Colour is enabled only when out is a
// terminal and NO_COLOR is not set.
func NewPrinter(out io.Writer) *Printer {
	r := lipgloss.NewRenderer(out)
	if !colorEnabled(out) {
		r.SetColorProfile(termenv.Ascii)
	}
	return &Printer{
		out:      out,
		renderer: r,
		header:   r.NewStyle().Bold(true).Foreground(lipgloss.Color("45")).Padding(0, 1),
		cell:     r.NewStyle().Padding(0, 1),
		subtle:   r.NewStyle().Foreground(lipgloss.Color("241")),
		success:  r.NewStyle().Foreground(lipgloss.Color("42")),
		warning:  r.NewStyle().Foreground(lipgloss.Color("214")),
	}
}

func colorEnabled(out io.Writer) bool {
	if _, ok := os.LookupEnv("NO_COLOR"); ok {
		return false
	}
	f, ok := out.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}

// Width returns the terminal width of out, or 0 when it is not a terminal.
func (p *Printer) Width() int {
	f, ok := p.out.(*os.File)
	if !ok {
		return 0
	}
	if w, _, err := term.GetSize(int(f.Fd())); err == nil {
		return w
	}
	return 0
}

// Success prints a success message.
func (p *Printer) Success(format string, args ...any) {
	fmt.Fprintln(p.out, p.success.Render(fmt.Sprintf(format, args...)))
}

// Warning prints a warning message.
func (p *Printer) Warning(format string, args ...any) {
	fmt.Fprintln(p.out, p.warning.Render("Warning: "+fmt.Sprintf(format, args...)))
}

// Info prints an unstyled line.
func (p *Printer) Info(format string, args ...any) {
	fmt.Fprintf(p.out, format+"\n", args...)
}

// Table prints rows under headers as a bordered table.
func (p *Printer) Table(headers []string, rows [][]string) {
	if len(rows) == 0 {
		fmt.Fprintln(p.out, p.subtle.Render("(none)"))
		return
	}
	t := table.New().
		Border(lipgloss.NormalBorder()).
		BorderStyle(p.subtle).
		Headers(headers...).
		Rows(rows...).
		StyleFunc(func(row, col int) lipgloss.Style {
			if row == table.HeaderRow {
				return p.header
			}
			return p.cell
		})
	if w := p.Width(); w > 0 {
		t = t.Width(w)
	}
	fmt.Fprintln(p.out, t.Render())
}

// Data prints v as JSON or YAML.
func (p *Printer) Data(format Format, v any) error {
	switch format {
	case FormatJSON:
		enc := json.NewEncoder(p.out)
		enc.SetIndent("", "  ")
		if err := enc.Encode(v); err != nil {
			return fmt.Errorf("failed to encode json: %w", err)
		}
	case FormatYAML:
		enc := yaml.NewEncoder(p.out)
		enc.SetIndent(2)
		if err := enc.Encode(v); err != nil {
			return fmt.Errorf("failed to encode yaml: %w", err)
		}
		if err := enc.Close(); err != nil {
			return fmt.Errorf("failed to encode yaml: %w", err)
		}
	default:
		return fmt.Errorf("format %q is not a data format", format)
	}
	return nil
}

// ListView is the serialised form of a task list.
type ListView struct {
	ID      int64   `json:"id" yaml:"id"`
	Account string  `json:"account" yaml:"account"`
	Name    string  `json:"name" yaml:"name"`
	Color   string  `json:"color" yaml:"color"`
	URL     string  `json:"url" yaml:"url"`
	CTag    *string `json:"ctag" yaml:"ctag"`
}

// EtagView is the serialised form of an etag pair.
type EtagView struct {
	SyncID string  `json:"sync_id" yaml:"sync_id"`
	ETag   *string `json:"etag" yaml:"etag"`
}

// TaskView is the serialised form of a task.
type TaskView struct {
	ID        int64      `json:"id" yaml:"id"`
	ListID    int64      `json:"list_id" yaml:"list_id"`
	UID       string     `json:"uid" yaml:"uid"`
	Title     string     `json:"title" yaml:"title"`
	Status    int        `json:"status" yaml:"status"`
	Priority  int        `json:"priority" yaml:"priority"`
	Due       *time.Time `json:"due,omitempty" yaml:"due,omitempty"`
	Tags      []string   `json:"tags" yaml:"tags"`
	Order     *int64     `json:"order,omitempty" yaml:"order,omitempty"`
	ParentUID string     `json:"parent_uid,omitempty" yaml:"parent_uid,omitempty"`
}

// Lists prints task lists in the given format.
func (p *Printer) Lists(format Format, lists []opentasks.List) error {
	views := make([]ListView, 0, len(lists))
	for _, l := range lists {
		views = append(views, ListView{
			ID: l.ID, Account: l.Account, Name: l.Name,
			Color: fmt.Sprintf("#%06x", uint32(l.Color)&0xffffff), URL: l.URL, CTag: l.CTag,
		})
	}
	if format != FormatTable {
		return p.Data(format, views)
	}

	rows := make([][]string, 0, len(views))
	for _, v := range views {
		rows = append(rows, []string{strconv.FormatInt(v.ID, 10), v.Name, v.Account, v.URL, orDash(v.CTag)})
	}
	p.Table([]string{"ID", "NAME", "ACCOUNT", "URL", "CTAG"}, rows)
	return nil
}

// Etags prints etag pairs in the given format.
func (p *Printer) Etags(format Format, etags []opentasks.Etag) error {
	views := make([]EtagView, 0, len(etags))
	for _, e := range etags {
		views = append(views, EtagView{SyncID: e.SyncID, ETag: e.ETag})
	}
	if format != FormatTable {
		return p.Data(format, views)
	}

	rows := make([][]string, 0, len(views))
	for _, v := range views {
		rows = append(rows, []string{v.SyncID, orDash(v.ETag)})
	}
	p.Table([]string{"SYNC ID", "ETAG"}, rows)
	return nil
}

// Tasks prints tasks in the given format.
func (p *Printer) Tasks(format Format, tasks []*opentasks.Task) error {
	views := make([]TaskView, 0, len(tasks))
	for _, t := range tasks {
		tags := t.Tags
		if tags == nil {
			tags = []string{}
		}
		views = append(views, TaskView{
			ID: t.ID, ListID: t.ListID, UID: t.UID, Title: t.Title,
			Status: t.Status, Priority: t.Priority, Due: t.Due,
			Tags: tags, Order: t.Order, ParentUID: t.ParentUID,
		})
	}
	if format != FormatTable {
		return p.Data(format, views)
	}

	rows := make([][]string, 0, len(views))
	for _, v := range views {
		due := "-"
		if v.Due != nil {
			due = v.Due.Local().Format("2006-01-02 15:04")
		}
		order := "-"
		if v.Order != nil {
			order = strconv.FormatInt(*v.Order, 10)
		}
		parent := v.ParentUID
		if parent == "" {
			parent = "-"
		}
		rows = append(rows, []string{
			strconv.FormatInt(v.ID, 10), v.UID, v.Title, due, strings.Join(v.Tags, ","), order, parent,
		})
	}
	p.Table([]string{"ID", "UID", "TITLE", "DUE", "TAGS", "ORDER", "PARENT"}, rows)
	return nil
}

func orDash(s *string) string {
	if s == nil {
		return "-"
	}
	return *s
}
