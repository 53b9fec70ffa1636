package output

import (
	"fmt"
	"io"
	"strings"

	"github.com/fatih/color"
	"github.com/olekukonko/tablewriter"
	"github.com/olekukonko/tablewriter/tw"
)

// Renderable is data that knows how to lay itself out as text and markdown.
type Renderable interface {
	RenderText(w io.Writer, colored bool) error
	RenderMarkdown(w io.Writer) error
	// RenderData returns the value handed to the JSON and TOON encoders.
	RenderData() any
}

// rawValue adapts a plain value to Renderable so the formatter has a single
// dispatch path. Text falls back to JSON, markdown to a fenced JSON block.
type rawValue struct{ v any }

func (r rawValue) RenderData() any { return r.v }

func (r rawValue) RenderText(w io.Writer, _ bool) error {
	return encodeJSON(w, r.v)
}

func (r rawValue) RenderMarkdown(w io.Writer) error {
	fmt.Fprintln(w, "```json")
	if err := encodeJSON(w, r.v); err != nil {
		return err
	}
	fmt.Fprintln(w, "```")
	return nil
}

// writeTitle prints a title with an underline of the same width.
func writeTitle(w io.Writer, title, underline string, c *color.Color) {
	if c != nil {
		c.Fprintln(w, title)
	} else {
		fmt.Fprintln(w, title)
	}
	fmt.Fprintln(w, strings.Repeat(underline, len(title)))
}

// mdRow writes one pipe-delimited markdown table row.
func mdRow(w io.Writer, cells []string) {
	fmt.Fprintf(w, "| %s |\n", strings.Join(cells, " | "))
}

// Table is a Renderable table with headers, rows, and an optional footer.
// Data, when set, is what gets serialized instead of the string cells.
type Table struct {
	Title   string     `json:"-"`
	Headers []string   `json:"-"`
	Rows    [][]string `json:"-"`
	Footer  []string   `json:"-"`
	Data    any        `json:"data,omitempty"`
}

// NewTable creates a table that wraps structured data for serialization.
func NewTable(title string, headers []string, rows [][]string, footer []string, data any) *Table {
	return &Table{
		Title:   title,
		Headers: headers,
		Rows:    rows,
		Footer:  footer,
		Data:    data,
	}
}

func (t *Table) RenderData() any {
	if t.Data != nil {
		return t.Data
	}
	rows := make([]map[string]string, 0, len(t.Rows))
	for _, row := range t.Rows {
		m := make(map[string]string, len(t.Headers))
		for i, cell := range row {
			if i >= len(t.Headers) {
				break
			}
			m[t.Headers[i]] = cell
		}
		rows = append(rows, m)
	}
	return rows
}

// plainTable configures a borderless left-aligned tablewriter.
func plainTable(w io.Writer) *tablewriter.Table {
	left := tw.CellConfig{Alignment: tw.CellAlignment{Global: tw.AlignLeft}}
	cfg := tablewriter.Config{Header: left, Row: left, Footer: left}
	cfg.Header.Formatting.AutoFormat = tw.On

	return tablewriter.NewTable(w,
		tablewriter.WithConfig(cfg),
		tablewriter.WithRendition(tw.Rendition{
			Borders:  tw.Border{Left: tw.Off, Right: tw.Off, Top: tw.Off, Bottom: tw.Off},
			Settings: tw.Settings{Separators: tw.Separators{BetweenColumns: tw.Off}},
		}),
	)
}

func (t *Table) RenderText(w io.Writer, colored bool) error {
	if t.Title != "" {
		var c *color.Color
		if colored {
			c = color.New(color.Bold)
		}
		writeTitle(w, t.Title, "=", c)
		fmt.Fprintln(w)
	}

	table := plainTable(w)
	table.Header(t.Headers)
	for _, row := range t.Rows {
		table.Append(row)
	}
	if len(t.Footer) > 0 {
		cells := make([]any, len(t.Footer))
		for i, cell := range t.Footer {
			cells[i] = cell
		}
		table.Footer(cells...)
	}
	table.Render()
	fmt.Fprintln(w)
	return nil
}

func (t *Table) RenderMarkdown(w io.Writer) error {
	if t.Title != "" {
		fmt.Fprintf(w, "## %s\n\n", t.Title)
	}

	mdRow(w, t.Headers)
	rule := make([]string, len(t.Headers))
	for i := range rule {
		rule[i] = "---"
	}
	mdRow(w, rule)
	for _, row := range t.Rows {
		mdRow(w, row)
	}
	if len(t.Footer) > 0 {
		mdRow(w, t.Footer)
	}

	fmt.Fprintln(w)
	return nil
}

// Section is a titled block of content with optional nested subsections.
type Section struct {
	Title    string    `json:"title,omitempty"`
	Content  string    `json:"content,omitempty"`
	Sections []Section `json:"sections,omitempty"`
	Data     any       `json:"data,omitempty"`
}

func (s *Section) RenderData() any {
	if s.Data != nil {
		return s.Data
	}
	return s
}

func (s *Section) RenderText(w io.Writer, colored bool) error {
	s.writeText(w, colored, 0)
	return nil
}

func (s *Section) writeText(w io.Writer, colored bool, depth int) {
	if s.Title != "" {
		underline := "="
		if depth > 0 {
			underline = "-"
		}
		var c *color.Color
		if colored {
			c = color.New(color.Bold)
		}
		writeTitle(w, s.Title, underline, c)
	}

	if s.Content != "" {
		fmt.Fprintln(w, s.Content)
	}

	for i := range s.Sections {
		fmt.Fprintln(w)
		s.Sections[i].writeText(w, colored, depth+1)
	}
}

func (s *Section) RenderMarkdown(w io.Writer) error {
	s.writeMarkdown(w, 2)
	return nil
}

func (s *Section) writeMarkdown(w io.Writer, level int) {
	if s.Title != "" {
		fmt.Fprintf(w, "%s %s\n\n", strings.Repeat("#", level), s.Title)
	}

	if s.Content != "" {
		fmt.Fprintln(w, s.Content)
		fmt.Fprintln(w)
	}

	for i := range s.Sections {
		s.Sections[i].writeMarkdown(w, level+1)
	}
}

// Report is a compound Renderable holding an ordered mix of sections and
// tables under one title.
type Report struct {
	Title    string       `json:"title,omitempty"`
	Sections []Renderable `json:"-"`
	Data     any          `json:"data,omitempty"`
}

func (r *Report) RenderData() any {
	if r.Data != nil {
		return r.Data
	}
	parts := make([]any, len(r.Sections))
	for i, s := range r.Sections {
		parts[i] = s.RenderData()
	}
	return map[string]any{
		"title":    r.Title,
		"sections": parts,
	}
}

func (r *Report) RenderText(w io.Writer, colored bool) error {
	if r.Title != "" {
		var c *color.Color
		if colored {
			c = color.New(color.Bold, color.FgCyan)
		}
		writeTitle(w, r.Title, "=", c)
		fmt.Fprintln(w)
	}

	for i, s := range r.Sections {
		if i > 0 {
			fmt.Fprintln(w)
		}
		if err := s.RenderText(w, colored); err != nil {
			return err
		}
	}
	return nil
}

func (r *Report) RenderMarkdown(w io.Writer) error {
	if r.Title != "" {
		fmt.Fprintf(w, "# %s\n\n", r.Title)
	}

	for _, s := range r.Sections {
		if err := s.RenderMarkdown(w); err != nil {
			return err
		}
	}
	return nil
}
