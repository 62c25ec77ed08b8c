package report

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/MrWong99/angioreview/internal/imagesource"
	"github.com/MrWong99/angioreview/internal/observe"
	"github.com/MrWong99/angioreview/pkg/types"
)

// Config holds the fixed report texts and the fallbacks used for empty
// record fields.
type Config struct {
	Facility   string
	Title      string
	ReportedBy string
	ReviewedBy string

	DefaultOperator     string
	DefaultDiagnosis    string
	DefaultAccessSite   string
	DefaultHemodynamics string
	DefaultImpression   string
	DefaultAdvice       string
	ContrastAgent       string

	// DateFormat is a Go time layout for the report date.
	DateFormat string
}

// DefaultConfig returns the stock report configuration.
func DefaultConfig() Config {
	return Config{
		Facility:            "ASTER PRIME HOSPITAL",
		Title:               "CORONARY ANGIOGRAM REPORT",
		ReportedBy:          "Dr. SRAVAN PERAVALI",
		ReviewedBy:          "Dr. SAI RAVI SHANKER",
		DefaultOperator:     "Dr. SAI RAVI SHANKER",
		DefaultDiagnosis:    "CAD",
		DefaultAccessSite:   "Radial",
		DefaultHemodynamics: "HR: 80 BPM, Normal LV",
		DefaultImpression:   "Single Vessel Disease",
		DefaultAdvice:       "Medical Management",
		ContrastAgent:       "Omni Paque",
		DateFormat:          "02/01/2006",
	}
}

// withDefaults fills empty fields of c from DefaultConfig.
func (c Config) withDefaults() Config {
	d := DefaultConfig()
	for _, f := range []struct {
		dst *string
		def string
	}{
		{&c.Facility, d.Facility},
		{&c.Title, d.Title},
		{&c.ReportedBy, d.ReportedBy},
		{&c.ReviewedBy, d.ReviewedBy},
		{&c.DefaultOperator, d.DefaultOperator},
		{&c.DefaultDiagnosis, d.DefaultDiagnosis},
		{&c.DefaultAccessSite, d.DefaultAccessSite},
		{&c.DefaultHemodynamics, d.DefaultHemodynamics},
		{&c.DefaultImpression, d.DefaultImpression},
		{&c.DefaultAdvice, d.DefaultAdvice},
		{&c.ContrastAgent, d.ContrastAgent},
		{&c.DateFormat, d.DateFormat},
	} {
		if strings.TrimSpace(*f.dst) == "" {
			*f.dst = f.def
		}
	}
	return c
}

// Option is a functional option for configuring a [Compositor].
type Option func(*Compositor)

// WithConfig sets the report texts. Empty fields keep their defaults.
func WithConfig(cfg Config) Option {
	return func(c *Compositor) {
		c.cfg = cfg
	}
}

// WithClock sets the source of the report date. Default: time.Now.
func WithClock(now func() time.Time) Option {
	return func(c *Compositor) {
		c.now = now
	}
}

// WithMeasurer sets the text measurer used for line wrapping. Default: Times
// font metrics from the PDF renderer.
func WithMeasurer(m Measurer) Option {
	return func(c *Compositor) {
		c.measure = m
	}
}

// WithMetrics sets the metrics recorder. Default: [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(c *Compositor) {
		c.metrics = m
	}
}

// Compositor lays out reports. It is safe for concurrent use.
type Compositor struct {
	images  imagesource.Resolver
	cfg     Config
	now     func() time.Time
	measure Measurer
	metrics *observe.Metrics
}

// New returns a Compositor resolving finding images through images. A nil
// resolver produces reports without an image grid.
func New(images imagesource.Resolver, opts ...Option) *Compositor {
	c := &Compositor{
		images: images,
		cfg:    DefaultConfig(),
		now:    time.Now,
	}
	for _, o := range opts {
		o(c)
	}
	c.cfg = c.cfg.withDefaults()
	if c.measure == nil {
		c.measure = NewMeasurer()
	}
	if c.metrics == nil {
		c.metrics = observe.DefaultMetrics()
	}
	return c
}

// Config returns the effective report configuration.
func (c *Compositor) Config() Config { return c.cfg }

// Compose lays out the report for rec. Image failures are absorbed; Compose
// only fails when ctx is cancelled.
func (c *Compositor) Compose(ctx context.Context, rec types.Patient) (*Document, error) {
	ctx, span := observe.StartSpan(ctx, "report.compose",
		trace.WithAttributes(attribute.String("patient_id", rec.ID)))
	start := time.Now()
	defer func() { c.metrics.ComposeDuration.Record(ctx, time.Since(start).Seconds()) }()

	date := c.now()
	l := &layout{
		doc: &Document{
			PatientID: rec.ID,
			Title:     c.cfg.Title,
			Author:    c.cfg.Facility,
			Filename:  Filename(rec.Name),
			Date:      date,
			Pages:     []Page{{}},
		},
		y: Margin,
	}

	c.header(l)
	c.demographics(l, rec, date)
	c.procedure(l, rec)
	included := c.findingsTable(l, rec)
	if err := c.imageGrid(ctx, l, included); err != nil {
		observe.EndSpan(span, err)
		return nil, err
	}
	c.conclusion(l, rec)
	c.signatures(l)

	span.SetAttributes(
		attribute.Int("pages", len(l.doc.Pages)),
		attribute.Int("images_skipped", len(l.doc.SkippedImages)),
	)
	observe.EndSpan(span, nil)
	return l.doc, nil
}

// layout is the running state of one composition.
type layout struct {
	doc *Document
	y   float64
}

func (l *layout) page() *Page { return &l.doc.Pages[len(l.doc.Pages)-1] }

// reserve starts a new page when a block of height h no longer fits.
func (l *layout) reserve(h float64) {
	if l.y+h > PageBudget {
		l.doc.Pages = append(l.doc.Pages, Page{})
		l.y = Margin
	}
}

func (l *layout) add(b Block) { l.page().Blocks = append(l.page().Blocks, b) }

func (l *layout) text(x float64, s string, st Style) {
	l.add(Block{Kind: KindText, X: x, Y: l.y, Text: s, Style: st})
}

func (l *layout) rule(x1, x2, y float64) {
	l.add(Block{Kind: KindRule, X: x1, Y: y, W: x2 - x1})
}

// fullRule draws a margin-to-margin rule at the cursor and advances by gap.
func (l *layout) fullRule(gap float64) {
	l.reserve(gap)
	l.rule(Margin, PageWidth-Margin, l.y)
	l.y += gap
}

var (
	styleFacility = Style{Size: 18, Bold: true}
	styleTitle    = Style{Size: 14, Bold: true}
	styleLabel    = Style{Size: 11, Bold: true}
	styleBody     = Style{Size: 10}
	styleBodyBold = Style{Size: 10, Bold: true}
	styleCaption  = Style{Size: 8}
	styleSigLabel = Style{Size: 9, Bold: true}
)

func (c *Compositor) header(l *layout) {
	l.add(Block{Kind: KindText, X: PageWidth / 2, Y: l.y, Text: c.cfg.Facility, Style: styleFacility, Align: AlignCenter})
	l.y += 10
	l.fullRule(10)

	l.add(Block{Kind: KindText, X: PageWidth / 2, Y: l.y, Text: c.cfg.Title, Style: styleTitle, Align: AlignCenter})
	l.rule(PageWidth/2-40, PageWidth/2+40, l.y+1)
	l.y += 15
}

func (c *Compositor) demographics(l *layout, rec types.Patient, date time.Time) {
	right := PageWidth/2 + 10
	l.reserve(18)
	l.text(Margin, "Patient Name: "+strings.ToUpper(rec.Name), styleLabel)
	l.text(right, fmt.Sprintf("Age/Sex: %dY / %s", rec.Age, rec.Sex), styleLabel)
	l.y += 8
	l.text(Margin, "ID: "+rec.ID, Style{Size: 11})
	l.text(right, "Date: "+date.Format(c.cfg.DateFormat), Style{Size: 11})
	l.y += 10
	l.fullRule(10)
}

func (c *Compositor) procedure(l *layout, rec types.Patient) {
	lines := []string{
		"Diagnosis: " + or(rec.Diagnosis, c.cfg.DefaultDiagnosis),
		"Operator: " + or(rec.Operator, c.cfg.DefaultOperator),
		"Approach: " + or(rec.AccessSite, c.cfg.DefaultAccessSite),
		"Contrast: " + c.contrast(rec.ContrastVolume),
	}
	if rec.Indication != "" {
		lines = append(lines, "Indication: "+rec.Indication)
	}
	for _, s := range lines {
		c.paragraph(l, s, styleBody, 6)
	}
	l.y += 4
	l.fullRule(10)

	c.paragraph(l, "Hemodynamic Data: "+or(rec.HemodynamicData, c.cfg.DefaultHemodynamics), styleBodyBold, 6)
	l.y += 4
	l.fullRule(10)
}

func (c *Compositor) contrast(volume string) string {
	v := strings.TrimSpace(volume)
	if v == "" {
		return c.cfg.ContrastAgent
	}
	v = strings.TrimSpace(strings.TrimSuffix(strings.TrimSuffix(v, "ml"), "mL"))
	return fmt.Sprintf("%s (%sml)", c.cfg.ContrastAgent, v)
}

// Table column positions.
const (
	colArtery     = Margin
	colStenosis   = Margin + 70
	colAssessment = Margin + 110
	rowHeight     = 6.0
)

// Assessment is the findings table verdict for a blockage. It follows the
// same threshold as the Critical risk level.
func Assessment(blockage int) string {
	if types.IsSignificant(blockage) {
		return "Significant Disease"
	}
	return "Normal"
}

// findingsTable lays out one row per included finding and returns them.
func (c *Compositor) findingsTable(l *layout, rec types.Patient) []types.Finding {
	included := make([]types.Finding, 0, len(rec.Findings))
	for _, f := range rec.Findings {
		if !f.ExcludedFromReport {
			included = append(included, f)
		}
	}

	// Heading, column header and at least one row stay together.
	l.reserve(8 + 2*rowHeight)
	l.text(Margin, "FINDINGS:", styleLabel)
	l.y += 8
	l.add(Block{Kind: KindRow, Y: l.y, Style: styleBodyBold, Cells: []Cell{
		{X: colArtery, Text: "Artery"},
		{X: colStenosis, Text: "Stenosis"},
		{X: colAssessment, Text: "Assessment"},
	}})
	l.rule(Margin, PageWidth-Margin, l.y+1.5)
	l.y += rowHeight + 1

	for _, f := range included {
		l.reserve(rowHeight)
		l.add(Block{Kind: KindRow, Y: l.y, Style: styleBody, FindingID: f.ID, Cells: []Cell{
			{X: colArtery, Text: f.ArteryName},
			{X: colStenosis, Text: fmt.Sprintf("%d%%", f.BlockagePercentage)},
			{X: colAssessment, Text: Assessment(f.BlockagePercentage)},
		}})
		l.y += rowHeight
	}
	if len(included) == 0 {
		l.reserve(rowHeight)
		l.text(colArtery, "No findings selected for this report.", styleBody)
		l.y += rowHeight
	}
	l.y += 5
	return included
}

// imageGrid places the finding images two per row, resolving them one at a
// time in finding order.
func (c *Compositor) imageGrid(ctx context.Context, l *layout, included []types.Finding) error {
	if c.images == nil || len(included) == 0 {
		return nil
	}

	// The heading stays with the first row, caption included.
	l.reserve(10 + imageLabelOffset)
	l.text(Margin, "ANGIOGRAPHIC IMAGES:", styleLabel)
	l.y += 10

	x := Margin
	for _, f := range included {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("report: compose: %w", err)
		}
		img, err := c.images.Resolve(ctx, f.ImageURL)
		if err != nil {
			observe.Logger(ctx).Warn("report: image resolution failed, skipping",
				"finding_id", f.ID, "artery", f.ArteryName, "err", err)
			c.metrics.RecordImageSkipped(ctx, skipReason(ctx, err))
			l.doc.SkippedImages = append(l.doc.SkippedImages, f.ID)
			continue
		}

		if x == Margin && l.y+imageLabelOffset > PageBudget {
			l.doc.Pages = append(l.doc.Pages, Page{})
			l.y = Margin
			x = Margin
		}
		l.add(Block{Kind: KindImage, X: x, Y: l.y, W: ImageWidth, H: ImageHeight, Image: &img, FindingID: f.ID})
		l.add(Block{Kind: KindText, X: x, Y: l.y + imageLabelOffset, Text: f.ArteryName, Style: styleCaption, FindingID: f.ID})

		if x == Margin {
			x = rightColumnX
		} else {
			x = Margin
			l.y += ImageRowAdvance
		}
	}
	if x != Margin {
		l.y += ImageRowAdvance
	}
	return nil
}

func skipReason(ctx context.Context, err error) string {
	switch {
	case ctx.Err() != nil:
		return "cancelled"
	case errors.Is(err, imagesource.ErrEmptyReference):
		return "empty_reference"
	case errors.Is(err, imagesource.ErrTooLarge):
		return "too_large"
	case errors.Is(err, imagesource.ErrDecode):
		return "decode"
	case errors.Is(err, imagesource.ErrUnsupportedScheme):
		return "unsupported"
	}
	return "fetch"
}

func (c *Compositor) conclusion(l *layout, rec types.Patient) {
	l.y += 10
	c.paragraph(l, "IMPRESSION: "+or(rec.Impression, c.cfg.DefaultImpression), styleLabel, 8)
	c.paragraph(l, "ADVICE: "+or(rec.Advice, c.cfg.DefaultAdvice), styleLabel, 8)
	l.y += 12
}

// signatureHeight is the height of the signature boxes.
const signatureHeight = 40.0

func (c *Compositor) signatures(l *layout) {
	l.reserve(signatureHeight)
	w := (PageWidth - Margin*3) / 2
	left, right := Margin, PageWidth/2+5
	l.add(Block{Kind: KindBox, X: left, Y: l.y, W: w, H: signatureHeight})
	l.add(Block{Kind: KindBox, X: right, Y: l.y, W: w, H: signatureHeight})
	l.add(Block{Kind: KindText, X: left + 5, Y: l.y + 8, Text: "REPORTED BY", Style: styleSigLabel})
	l.add(Block{Kind: KindText, X: right + 5, Y: l.y + 8, Text: "REVIEWED BY", Style: styleSigLabel})
	l.add(Block{Kind: KindText, X: left + 5, Y: l.y + 30, Text: c.cfg.ReportedBy, Style: styleBody})
	l.add(Block{Kind: KindText, X: right + 5, Y: l.y + 30, Text: c.cfg.ReviewedBy, Style: styleBody})
	l.y += signatureHeight
}

// paragraph wraps s to the content width and lays out one text block per
// line, lineHeight apart. Embedded newlines start new lines.
func (c *Compositor) paragraph(l *layout, s string, st Style, lineHeight float64) {
	for _, para := range strings.Split(s, "\n") {
		lines := c.measure.Wrap(para, st, PageWidth-2*Margin)
		if len(lines) == 0 {
			lines = []string{""}
		}
		for _, line := range lines {
			l.reserve(lineHeight)
			if line != "" {
				l.text(Margin, line, st)
			}
			l.y += lineHeight
		}
	}
}

func or(v, def string) string {
	if strings.TrimSpace(v) == "" {
		return def
	}
	return v
}
