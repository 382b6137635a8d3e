package output

import (
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/glamour"
	"github.com/charmbracelet/lipgloss"
	"github.com/m-mizutani/goerr/v2"
)

const (
	placeholderTitle = "Ready to Refine"
	placeholderBody  = "Enter your idea, add optional screenshots, and the refined prompt streams here."
	cursorMark       = "▋"
	defaultLanguage  = "MARKDOWN"
)

var (
	colorBrand = lipgloss.Color("#60a5fa")
	colorMuted = lipgloss.Color("#64748b")
)

// Printer writes a View to a terminal
type Printer struct {
	w        io.Writer
	width    int
	markdown bool
	renderer *glamour.TermRenderer

	headerStyle      lipgloss.Style
	codeStyle        lipgloss.Style
	cursorStyle      lipgloss.Style
	placeholderStyle lipgloss.Style
}

type PrinterOption func(*Printer)

// WithMarkdown renders text segments as markdown with glamour
func WithMarkdown(enabled bool) PrinterOption {
	return func(p *Printer) {
		p.markdown = enabled
	}
}

// WithWidth sets the wrap width for markdown text
func WithWidth(width int) PrinterOption {
	return func(p *Printer) {
		p.width = width
	}
}

// NewPrinter creates a Printer writing to w
func NewPrinter(w io.Writer, opts ...PrinterOption) *Printer {
	p := &Printer{
		w:     w,
		width: 100,

		headerStyle: lipgloss.NewStyle().Foreground(colorBrand).Bold(true),
		codeStyle: lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(colorBrand).
			Padding(0, 1),
		cursorStyle:      lipgloss.NewStyle().Foreground(colorBrand),
		placeholderStyle: lipgloss.NewStyle().Foreground(colorMuted),
	}

	for _, opt := range opts {
		opt(p)
	}

	return p
}

// Print writes v. Code segments are boxed and numbered so they can be copied
// individually.
func (p *Printer) Print(v View) error {
	if v.Empty {
		_, err := fmt.Fprintf(p.w, "%s\n%s\n",
			p.placeholderStyle.Bold(true).Render(placeholderTitle),
			p.placeholderStyle.Render(placeholderBody),
		)
		return err
	}

	var b strings.Builder
	codeIndex := 0
	for _, s := range v.Segments {
		switch s.Kind {
		case SegmentCode:
			codeIndex++
			b.WriteString(p.renderCode(codeIndex, s))
			b.WriteString("\n")
		default:
			text, err := p.renderText(s.Body)
			if err != nil {
				return err
			}
			b.WriteString(text)
		}
	}

	if v.Cursor {
		b.WriteString(p.cursorStyle.Render(cursorMark))
	}

	if _, err := fmt.Fprintln(p.w, b.String()); err != nil {
		return goerr.Wrap(err, "failed to write view")
	}
	return nil
}

func (p *Printer) renderCode(index int, s Segment) string {
	language := strings.ToUpper(s.Language)
	if language == "" {
		language = defaultLanguage
	}

	header := p.headerStyle.Render(fmt.Sprintf("[%d] %s", index, language))
	body := p.codeStyle.Render(strings.TrimRight(s.Body, "\n"))
	return header + "\n" + body
}

func (p *Printer) renderText(text string) (string, error) {
	if !p.markdown {
		return text, nil
	}

	if p.renderer == nil {
		r, err := glamour.NewTermRenderer(
			glamour.WithAutoStyle(),
			glamour.WithWordWrap(p.width),
		)
		if err != nil {
			return "", goerr.Wrap(err, "failed to create markdown renderer")
		}
		p.renderer = r
	}

	rendered, err := p.renderer.Render(text)
	if err != nil {
		return "", goerr.Wrap(err, "failed to render markdown")
	}
	return rendered, nil
}
