package report

import (
	"bytes"
	"context"
	"fmt"
	"io"

	"github.com/go-pdf/fpdf"

	"github.com/MrWong99/angioreview/internal/observe"
	"github.com/MrWong99/angioreview/pkg/types"
)

const fontFamily = "Times"

func fontStyle(st Style) string {
	if st.Bold {
		return "B"
	}
	return ""
}

// Render draws doc as a PDF into w. The output depends only on doc: the
// document date is used as creation and modification date, and catalog
// entries are sorted.
func Render(doc *Document, w io.Writer) error {
	pdf := fpdf.New("P", "mm", "A4", "")
	pdf.SetMargins(Margin, Margin, Margin)
	pdf.SetAutoPageBreak(false, 0)
	pdf.SetCatalogSort(true)
	pdf.SetCreationDate(doc.Date)
	pdf.SetModificationDate(doc.Date)
	pdf.SetTitle(doc.Title, true)
	pdf.SetAuthor(doc.Author, true)
	pdf.SetCreator("angioreview", true)
	tr := pdf.UnicodeTranslatorFromDescriptor("")

	for pi, page := range doc.Pages {
		pdf.AddPage()
		for bi, b := range page.Blocks {
			switch b.Kind {
			case KindText:
				pdf.SetFont(fontFamily, fontStyle(b.Style), b.Style.Size)
				text := tr(b.Text)
				x := b.X
				if b.Align == AlignCenter {
					x -= pdf.GetStringWidth(text) / 2
				}
				pdf.Text(x, b.Y, text)
			case KindRow:
				pdf.SetFont(fontFamily, fontStyle(b.Style), b.Style.Size)
				for _, cell := range b.Cells {
					pdf.Text(cell.X, b.Y, tr(cell.Text))
				}
			case KindRule:
				pdf.SetLineWidth(0.5)
				pdf.Line(b.X, b.Y, b.X+b.W, b.Y)
			case KindBox:
				pdf.SetLineWidth(0.3)
				pdf.Rect(b.X, b.Y, b.W, b.H, "D")
			case KindImage:
				if b.Image == nil {
					continue
				}
				name := fmt.Sprintf("p%d-b%d-%s", pi, bi, b.FindingID)
				opts := fpdf.ImageOptions{ImageType: "JPG"}
				pdf.RegisterImageOptionsReader(name, opts, bytes.NewReader(b.Image.Data))
				pdf.ImageOptions(name, b.X, b.Y, b.W, b.H, false, opts, 0, "")
			}
		}
		if pdf.Err() {
			return fmt.Errorf("report: render page %d: %w", pi+1, pdf.Error())
		}
	}

	if err := pdf.Output(w); err != nil {
		return fmt.Errorf("report: render: %w", err)
	}
	return nil
}

// Generate composes the report for rec and renders it into w.
func (c *Compositor) Generate(ctx context.Context, rec types.Patient, w io.Writer) (*Document, error) {
	doc, err := c.Compose(ctx, rec)
	if err != nil {
		return nil, err
	}
	if err := Render(doc, w); err != nil {
		return nil, err
	}
	c.metrics.ReportsGenerated.Add(ctx, 1)
	observe.Logger(ctx).Info("report generated",
		"patient_id", rec.ID, "pages", len(doc.Pages), "images_skipped", len(doc.SkippedImages))
	return doc, nil
}
