package report_test

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/jpeg"
	"slices"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/MrWong99/angioreview/internal/imagesource"
	"github.com/MrWong99/angioreview/internal/report"
	"github.com/MrWong99/angioreview/pkg/types"
)

var fixedDate = time.Date(2026, 3, 14, 9, 30, 0, 0, time.UTC)

func jpegImage(t *testing.T) imagesource.Image {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 8, 6))
	for i := range img.Pix {
		img.Pix[i] = 200
	}
	img.Set(1, 1, color.Black)
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, nil); err != nil {
		t.Fatalf("encode jpeg: %v", err)
	}
	return imagesource.Image{Data: buf.Bytes(), Width: 8, Height: 6}
}

// fakeResolver serves one image for every reference except those in fail.
type fakeResolver struct {
	img  imagesource.Image
	fail map[string]error

	mu   sync.Mutex
	refs []string
}

func (r *fakeResolver) Resolve(_ context.Context, ref string) (imagesource.Image, error) {
	r.mu.Lock()
	r.refs = append(r.refs, ref)
	r.mu.Unlock()
	if err, ok := r.fail[ref]; ok {
		return imagesource.Image{}, err
	}
	return r.img, nil
}

// charMeasurer wraps at a fixed width of 2mm per character.
type charMeasurer struct{}

func (charMeasurer) Wrap(text string, _ report.Style, width float64) []string {
	limit := int(width / 2)
	var lines []string
	line := ""
	for _, w := range strings.Fields(text) {
		switch {
		case line == "":
			line = w
		case len(line)+1+len(w) > limit:
			lines = append(lines, line)
			line = w
		default:
			line += " " + w
		}
	}
	if line != "" {
		lines = append(lines, line)
	}
	return lines
}

func record(n int) types.Patient {
	rec := types.Patient{
		ID:             "P-1001",
		Name:           "Ravi Kumar",
		Age:            58,
		Sex:            types.SexMale,
		ContrastVolume: "40ml",
	}
	arteries := []string{"LAD", "RCA", "LCX", "D1", "OM1", "PDA"}
	for i := range n {
		rec.Findings = append(rec.Findings, types.Finding{
			ID:                 fmt.Sprintf("f%d", i),
			ArteryName:         arteries[i%len(arteries)],
			BlockagePercentage: 30 + (i*17)%70,
			Confidence:         90,
			ImageURL:           fmt.Sprintf("https://pacs.example/img/%d.jpg", i),
		})
	}
	return rec
}

func newCompositor(t *testing.T, r imagesource.Resolver) *report.Compositor {
	t.Helper()
	return report.New(r,
		report.WithClock(func() time.Time { return fixedDate }),
		report.WithMeasurer(charMeasurer{}),
	)
}

func texts(doc *report.Document) []string {
	var out []string
	for _, p := range doc.Pages {
		for _, b := range p.Blocks {
			if b.Kind == report.KindText {
				out = append(out, b.Text)
			}
		}
	}
	return out
}

func TestCompose_SkipsUnresolvableImages(t *testing.T) {
	t.Parallel()

	rec := record(3)
	res := &fakeResolver{
		img:  jpegImage(t),
		fail: map[string]error{rec.Findings[1].ImageURL: errors.New("connection refused")},
	}
	doc, err := newCompositor(t, res).Compose(context.Background(), rec)
	if err != nil {
		t.Fatalf("Compose: %v", err)
	}

	if got := len(doc.Images()); got != 2 {
		t.Errorf("images = %d, want 2", got)
	}
	if got := len(doc.Rows()); got != 3 {
		t.Errorf("table rows = %d, want 3", got)
	}
	if !slices.Equal(doc.SkippedImages, []string{"f1"}) {
		t.Errorf("SkippedImages = %v, want [f1]", doc.SkippedImages)
	}

	// The second placed image takes the right column the skipped one would
	// have used.
	imgs := doc.Images()
	if imgs[0].FindingID != "f0" || imgs[1].FindingID != "f2" {
		t.Errorf("image order = %s,%s, want f0,f2", imgs[0].FindingID, imgs[1].FindingID)
	}
	if imgs[0].Y != imgs[1].Y || imgs[1].X <= imgs[0].X {
		t.Errorf("images not side by side: %+v / %+v", imgs[0], imgs[1])
	}
	if !slices.Equal(res.refs, []string{rec.Findings[0].ImageURL, rec.Findings[1].ImageURL, rec.Findings[2].ImageURL}) {
		t.Errorf("resolved refs = %v, want finding order", res.refs)
	}
}

func TestCompose_RespectsPageBudget(t *testing.T) {
	t.Parallel()

	doc, err := newCompositor(t, &fakeResolver{img: jpegImage(t)}).Compose(context.Background(), record(14))
	if err != nil {
		t.Fatalf("Compose: %v", err)
	}
	if len(doc.Pages) < 3 {
		t.Fatalf("pages = %d, want at least 3 for 14 images", len(doc.Pages))
	}

	checkPageBudget(t, doc)

	last := doc.Pages[len(doc.Pages)-1].Blocks
	if last[len(last)-1].Text != report.DefaultConfig().ReviewedBy {
		t.Errorf("last block = %q, want the reviewer signature", last[len(last)-1].Text)
	}
}

// Each extra finding shifts the image grid down one table row, so sweeping
// the count walks the first grid row across the bottom of the page.
func TestCompose_CaptionsStayWithinBudget(t *testing.T) {
	t.Parallel()

	comp := newCompositor(t, &fakeResolver{img: jpegImage(t)})
	for n := 1; n <= 30; n++ {
		doc, err := comp.Compose(context.Background(), record(n))
		if err != nil {
			t.Fatalf("Compose(%d findings): %v", n, err)
		}
		checkPageBudget(t, doc)
		if len(doc.Images()) != n {
			t.Errorf("%d findings: images = %d", n, len(doc.Images()))
		}
	}
}

// checkPageBudget fails for any empty page or any block reaching below
// PageBudget.
func checkPageBudget(t *testing.T, doc *report.Document) {
	t.Helper()
	for pi, p := range doc.Pages {
		if len(p.Blocks) == 0 {
			t.Errorf("page %d is empty", pi+1)
		}
		for _, b := range p.Blocks {
			if bottom := b.Y + b.H; bottom > report.PageBudget {
				t.Errorf("page %d: %v block %q ends at %.1f, beyond %.0f",
					pi+1, b.Kind, b.Text, bottom, report.PageBudget)
			}
		}
	}
}

func TestCompose_Deterministic(t *testing.T) {
	t.Parallel()

	c := newCompositor(t, &fakeResolver{img: jpegImage(t)})
	rec := record(5)

	a, err := c.Compose(context.Background(), rec)
	if err != nil {
		t.Fatalf("Compose: %v", err)
	}
	b, err := c.Compose(context.Background(), rec)
	if err != nil {
		t.Fatalf("Compose: %v", err)
	}
	if len(a.Pages) != len(b.Pages) {
		t.Fatalf("page counts differ: %d vs %d", len(a.Pages), len(b.Pages))
	}
	if !slices.Equal(texts(a), texts(b)) {
		t.Error("text blocks differ between compositions")
	}

	var bufA, bufB bytes.Buffer
	if err := report.Render(a, &bufA); err != nil {
		t.Fatalf("Render: %v", err)
	}
	if err := report.Render(b, &bufB); err != nil {
		t.Fatalf("Render: %v", err)
	}
	if !bytes.HasPrefix(bufA.Bytes(), []byte("%PDF-")) {
		t.Fatalf("output is not a PDF: %q", bufA.Bytes()[:min(16, bufA.Len())])
	}
	if !bytes.Equal(bufA.Bytes(), bufB.Bytes()) {
		t.Error("rendered PDFs differ for the same record and date")
	}
}

func TestCompose_ExcludedFindings(t *testing.T) {
	t.Parallel()

	rec := record(3)
	rec.Findings[0].ExcludedFromReport = true
	res := &fakeResolver{img: jpegImage(t)}
	doc, err := newCompositor(t, res).Compose(context.Background(), rec)
	if err != nil {
		t.Fatalf("Compose: %v", err)
	}
	for _, b := range append(doc.Rows(), doc.Images()...) {
		if b.FindingID == "f0" {
			t.Errorf("excluded finding placed: %+v", b)
		}
	}
	if len(res.refs) != 2 {
		t.Errorf("resolved %d images, want 2", len(res.refs))
	}

	for i := range rec.Findings {
		rec.Findings[i].ExcludedFromReport = true
	}
	doc, err = newCompositor(t, res).Compose(context.Background(), rec)
	if err != nil {
		t.Fatalf("Compose: %v", err)
	}
	if len(doc.Rows()) != 0 || len(doc.Images()) != 0 {
		t.Errorf("rows=%d images=%d, want none", len(doc.Rows()), len(doc.Images()))
	}
	if !slices.Contains(texts(doc), "No findings selected for this report.") {
		t.Error("empty table placeholder missing")
	}
}

func TestCompose_Texts(t *testing.T) {
	t.Parallel()

	rec := record(2)
	rec.Findings[0].BlockagePercentage = 85
	rec.Findings[1].BlockagePercentage = 70
	rec.Impression = "Double vessel disease"

	doc, err := newCompositor(t, nil).Compose(context.Background(), rec)
	if err != nil {
		t.Fatalf("Compose: %v", err)
	}
	got := texts(doc)
	for _, want := range []string{
		"ASTER PRIME HOSPITAL",
		"CORONARY ANGIOGRAM REPORT",
		"Patient Name: RAVI KUMAR",
		"Age/Sex: 58Y / M",
		"ID: P-1001",
		"Date: 14/03/2026",
		"Diagnosis: CAD",
		"Approach: Radial",
		"Contrast: Omni Paque (40ml)",
		"Hemodynamic Data: HR: 80 BPM, Normal LV",
		"IMPRESSION: Double vessel disease",
		"ADVICE: Medical Management",
	} {
		if !slices.Contains(got, want) {
			t.Errorf("missing text %q", want)
		}
	}
	if len(doc.Images()) != 0 {
		t.Errorf("images = %d without a resolver, want 0", len(doc.Images()))
	}

	rows := doc.Rows()
	if rows[0].Cells[1].Text != "85%" || rows[0].Cells[2].Text != "Significant Disease" {
		t.Errorf("row 0 = %+v", rows[0].Cells)
	}
	if rows[1].Cells[2].Text != "Normal" {
		t.Errorf("row 1 assessment = %q, want Normal at exactly 70%%", rows[1].Cells[2].Text)
	}
	if doc.Filename != "Ravi_Kumar_Report.pdf" {
		t.Errorf("Filename = %q", doc.Filename)
	}
}

func TestCompose_Cancelled(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := newCompositor(t, &fakeResolver{img: jpegImage(t)}).Compose(ctx, record(2))
	if !errors.Is(err, context.Canceled) {
		t.Errorf("err = %v, want context.Canceled", err)
	}
}

func TestAssessment(t *testing.T) {
	t.Parallel()

	tests := []struct {
		blockage int
		want     string
	}{
		{0, "Normal"},
		{50, "Normal"},
		{70, "Normal"},
		{71, "Significant Disease"},
		{100, "Significant Disease"},
	}
	for _, tc := range tests {
		if got := report.Assessment(tc.blockage); got != tc.want {
			t.Errorf("Assessment(%d) = %q, want %q", tc.blockage, got, tc.want)
		}
	}
}

func TestFilename(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		want string
	}{
		{"Ravi Kumar", "Ravi_Kumar_Report.pdf"},
		{"  Anita   Desai ", "Anita_Desai_Report.pdf"},
		{"O'Brien / Sean", "OBrien__Sean_Report.pdf"},
		{"../../etc", "etc_Report.pdf"},
		{"", "Patient_Report.pdf"},
		{"???", "Patient_Report.pdf"},
	}
	for _, tc := range tests {
		if got := report.Filename(tc.name); got != tc.want {
			t.Errorf("Filename(%q) = %q, want %q", tc.name, got, tc.want)
		}
	}
}
