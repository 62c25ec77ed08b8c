package report

import (
	"strings"
	"sync"

	"github.com/go-pdf/fpdf"
)

// Measurer wraps text to a width in millimetres.
type Measurer interface {
	Wrap(text string, st Style, width float64) []string
}

// fontMeasurer measures with the core Times metrics the renderer draws with.
type fontMeasurer struct {
	mu  sync.Mutex
	pdf *fpdf.Fpdf
	tr  func(string) string
}

// NewMeasurer returns a [Measurer] using the renderer's font metrics.
func NewMeasurer() Measurer {
	pdf := fpdf.New("P", "mm", "A4", "")
	return &fontMeasurer{pdf: pdf, tr: pdf.UnicodeTranslatorFromDescriptor("")}
}

// Wrap breaks text greedily at spaces. A word wider than width gets a line
// of its own.
func (m *fontMeasurer) Wrap(text string, st Style, width float64) []string {
	words := strings.Fields(text)
	if len(words) == 0 {
		return nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.pdf.SetFont(fontFamily, fontStyle(st), st.Size)

	var lines []string
	line := words[0]
	for _, w := range words[1:] {
		candidate := line + " " + w
		if m.pdf.GetStringWidth(m.tr(candidate)) > width {
			lines = append(lines, line)
			line = w
			continue
		}
		line = candidate
	}
	return append(lines, line)
}
