package output

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/fatih/color"
	toon "github.com/toon-format/toon-go"

	"github.com/driftline/vestige/pkg/models"
)

// Format names a report encoding.
type Format string

const (
	FormatText     Format = "text"
	FormatJSON     Format = "json"
	FormatMarkdown Format = "markdown"
	FormatTOON     Format = "toon"
)

var formatAliases = map[string]Format{
	"json":     FormatJSON,
	"markdown": FormatMarkdown,
	"md":       FormatMarkdown,
	"toon":     FormatTOON,
	"text":     FormatText,
}

// ParseFormat maps a user-supplied format name to a Format. Unknown names
// fall back to text.
func ParseFormat(s string) Format {
	if f, ok := formatAliases[strings.ToLower(s)]; ok {
		return f
	}
	return FormatText
}

// Formatter writes analysis output in one configured format, either to
// stdout or to a file.
type Formatter struct {
	format  Format
	writer  io.Writer
	file    *os.File
	colored bool
}

// NewFormatter builds a formatter for the given format. A non-empty output
// path redirects everything to that file and forces color off.
func NewFormatter(format Format, output string, colored bool) (*Formatter, error) {
	f := &Formatter{format: format, writer: os.Stdout, colored: colored}
	if output == "" {
		return f, nil
	}

	file, err := os.Create(output)
	if err != nil {
		return nil, err
	}
	f.writer = file
	f.file = file
	f.colored = false
	return f, nil
}

// Close releases the output file, if any.
func (f *Formatter) Close() error {
	if f.file == nil {
		return nil
	}
	return f.file.Close()
}

// Format returns the active output format.
func (f *Formatter) Format() Format {
	return f.format
}

// Colored reports whether color escapes are emitted.
func (f *Formatter) Colored() bool {
	return f.colored
}

// Writer exposes the destination for callers that write extra text around
// the formatted payload.
func (f *Formatter) Writer() io.Writer {
	return f.writer
}

// Output writes data in the configured format. Values implementing
// Renderable control their own text and markdown layout; everything else
// is serialized as JSON (fenced, under markdown).
func (f *Formatter) Output(data any) error {
	r, ok := data.(Renderable)
	if !ok {
		r = rawValue{data}
	}

	switch f.format {
	case FormatJSON:
		return encodeJSON(f.writer, r.RenderData())
	case FormatTOON:
		return encodeTOON(f.writer, r.RenderData())
	case FormatMarkdown:
		return r.RenderMarkdown(f.writer)
	default:
		return r.RenderText(f.writer, f.colored)
	}
}

func encodeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func encodeTOON(w io.Writer, v any) error {
	out, err := toon.Marshal(v, toon.WithIndent(2))
	if err != nil {
		return err
	}
	out = append(out, '\n')
	_, err = w.Write(out)
	return err
}

// message prints one status line. Colored output goes through fatih/color
// (and therefore its writer); plain output goes to the formatter's writer
// with the prefix spelled out.
func (f *Formatter) message(c *color.Color, prefix, format string, args ...any) {
	if !strings.HasSuffix(format, "\n") {
		format += "\n"
	}
	if f.colored {
		c.Printf(format, args...)
		return
	}
	fmt.Fprintf(f.writer, prefix+format, args...)
}

func (f *Formatter) Success(format string, args ...any) {
	f.message(color.New(color.FgGreen), "", format, args...)
}

func (f *Formatter) Warning(format string, args ...any) {
	f.message(color.New(color.FgYellow), "WARNING: ", format, args...)
}

func (f *Formatter) Error(format string, args ...any) {
	f.message(color.New(color.FgRed), "ERROR: ", format, args...)
}

func (f *Formatter) Info(format string, args ...any) {
	f.message(color.New(color.FgCyan), "", format, args...)
}

// ReasonColor colors a liveness justification for terminal output: evidence
// of real use renders green, framework suppression yellow. An empty reason
// means the symbol is dead and renders red.
func ReasonColor(reason models.JustificationReason, text string) string {
	switch reason {
	case models.ReasonDirectReference, models.ReasonStringReference:
		return color.GreenString(text)
	case models.ReasonProtocolMethod, models.ReasonLifecycleShape,
		models.ReasonEntryDecorator, models.ReasonDecoratorChain:
		return color.YellowString(text)
	default:
		return color.RedString(text)
	}
}

// PercentColor colors a dead-code percentage by how much of the codebase it
// condemns.
func PercentColor(pct float64, text string) string {
	switch {
	case pct >= 20:
		return color.RedString(text)
	case pct >= 5:
		return color.YellowString(text)
	default:
		return color.GreenString(text)
	}
}
