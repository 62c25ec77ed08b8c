// Package report lays out and renders the clinical angiogram report.
//
// Composition is split in two. [Compositor.Compose] turns a patient record
// snapshot into a [Document]: an ordered list of pages, each holding
// positioned blocks in millimetres. It tracks a running vertical cursor and
// starts a new page whenever the next block would cross the page budget.
// [Render] then draws a Document into a PDF. Layout decisions are made once,
// in Compose, so that page counts and block order are reproducible and
// testable without parsing PDF output.
//
// Finding images are resolved one at a time in finding order. An image that
// cannot be resolved is left out of the grid without reserving space; the
// finding still appears in the findings table.
package report

import (
	"time"

	"github.com/MrWong99/angioreview/internal/imagesource"
)

// Page geometry in millimetres (A4 portrait).
const (
	PageWidth  = 210.0
	PageHeight = 297.0
	Margin     = 20.0

	// PageBudget is the lowest y any block may reach.
	PageBudget = 270.0

	ImageWidth  = 80.0
	ImageHeight = 60.0

	// ImageRowAdvance is the vertical step between image grid rows, label
	// included.
	ImageRowAdvance = 75.0

	// imageLabelOffset places the artery label below its image.
	imageLabelOffset = 65.0

	// rightColumnX is the x of the right-hand image column.
	rightColumnX = Margin + ImageWidth + 10
)

// Kind identifies what a [Block] draws.
type Kind int

const (
	// KindText is a single line of text with its baseline at Y.
	KindText Kind = iota

	// KindRule is a horizontal line from X to X+W at Y.
	KindRule

	// KindRow is one table row; each cell is drawn at its own X.
	KindRow

	// KindImage is an image placed with its top-left corner at (X, Y).
	KindImage

	// KindBox is an outlined rectangle.
	KindBox
)

// Align is the horizontal alignment of a text block.
type Align int

const (
	AlignLeft Align = iota
	AlignCenter
)

// Style is the font of a text block. The report uses Times throughout.
type Style struct {
	Size float64
	Bold bool
}

// Cell is one column of a table row.
type Cell struct {
	X    float64
	Text string
}

// Block is one positioned element of a page.
type Block struct {
	Kind  Kind
	X, Y  float64
	W, H  float64
	Text  string
	Style Style
	Align Align

	// Cells holds the columns of a KindRow.
	Cells []Cell

	// Image holds the pixels of a KindImage.
	Image *imagesource.Image

	// FindingID links table rows and images back to their finding.
	FindingID string
}

// Page is one printed page.
type Page struct {
	Blocks []Block
}

// Document is a composed report. It is derived from one record snapshot and
// never mutated afterwards.
type Document struct {
	PatientID string
	Title     string
	Author    string
	Filename  string
	Date      time.Time
	Pages     []Page

	// SkippedImages lists findings whose image could not be resolved.
	SkippedImages []string
}

// Images returns the image blocks of every page in placement order.
func (d *Document) Images() []Block {
	var out []Block
	for _, p := range d.Pages {
		for _, b := range p.Blocks {
			if b.Kind == KindImage {
				out = append(out, b)
			}
		}
	}
	return out
}

// Rows returns the findings table rows, header excluded.
func (d *Document) Rows() []Block {
	var out []Block
	for _, p := range d.Pages {
		for _, b := range p.Blocks {
			if b.Kind == KindRow && b.FindingID != "" {
				out = append(out, b)
			}
		}
	}
	return out
}
