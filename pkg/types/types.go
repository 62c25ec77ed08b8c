// Package types defines the domain types shared across the angioreview packages.
//
// These types are the lingua franca between the finding store, the correction
// workflow, the speech and language providers, and the report compositor. Each
// package keeps its own internal types; cross-cutting data structures live here
// to avoid circular imports.
package types

import "time"

// RiskLevel is the clinical risk bucket of a single finding or a whole study.
type RiskLevel string

const (
	RiskLow      RiskLevel = "Low"
	RiskMedium   RiskLevel = "Medium"
	RiskCritical RiskLevel = "Critical"
)

// Valid reports whether r is one of the known risk levels.
func (r RiskLevel) Valid() bool {
	switch r {
	case RiskLow, RiskMedium, RiskCritical:
		return true
	}
	return false
}

// rank orders risk levels from lowest to highest.
func (r RiskLevel) rank() int {
	switch r {
	case RiskMedium:
		return 1
	case RiskCritical:
		return 2
	}
	return 0
}

const (
	// SignificantBlockage is the stenosis percentage above which a lesion is
	// reported as significant disease and flagged as high risk. The comparison
	// is strict: exactly 70% is moderate.
	SignificantBlockage = 70

	// ModerateBlockage is the lowest stenosis percentage classified as
	// moderate.
	ModerateBlockage = 50
)

// IsSignificant reports whether a blockage percentage counts as significant
// disease.
func IsSignificant(pct int) bool { return pct > SignificantBlockage }

// RiskForBlockage maps a stenosis percentage onto a risk level.
func RiskForBlockage(pct int) RiskLevel {
	switch {
	case pct > SignificantBlockage:
		return RiskCritical
	case pct >= ModerateBlockage:
		return RiskMedium
	default:
		return RiskLow
	}
}

// StudyStatus is the workflow state of an angiography study.
type StudyStatus string

const (
	StatusCompleted   StudyStatus = "Completed"
	StatusNeedsReview StudyStatus = "Needs Review"
	StatusDraft       StudyStatus = "Draft"
	StatusWaiting     StudyStatus = "Waiting"
)

// Valid reports whether s is one of the known study statuses.
func (s StudyStatus) Valid() bool {
	switch s {
	case StatusCompleted, StatusNeedsReview, StatusDraft, StatusWaiting:
		return true
	}
	return false
}

// Sex is the patient's recorded sex.
type Sex string

const (
	SexMale   Sex = "M"
	SexFemale Sex = "F"
	SexOther  Sex = "O"
)

// Finding is one detected vessel lesion within a study.
type Finding struct {
	// ID is stable for the lifetime of the finding and unique within its record.
	ID string `json:"id" yaml:"id"`

	// ArteryName is the vessel label, e.g. "LAD" or "Proximal RCA".
	ArteryName string `json:"arteryName" yaml:"artery_name"`

	// BlockagePercentage is the stenosis estimate in [0,100].
	BlockagePercentage int `json:"blockagePercentage" yaml:"blockage_percentage"`

	// Confidence is the detector's or clinician's confidence in [0,100].
	Confidence int `json:"confidence" yaml:"confidence"`

	// ImageURL references the angiography frame for this lesion. It may be an
	// http(s) URL, a data URI, or a path under the configured image root.
	ImageURL string `json:"imageUrl" yaml:"image_url"`

	// HeatmapURL optionally references the detector's attention overlay for
	// the same frame. Same addressing rules as ImageURL.
	HeatmapURL string `json:"heatmapUrl,omitempty" yaml:"heatmap_url,omitempty"`

	// Flagged marks the finding for clinical attention.
	Flagged bool `json:"flagged" yaml:"flagged"`

	// Notes is free-form text attached by the reviewer or the correction adapter.
	Notes string `json:"notes,omitempty" yaml:"notes,omitempty"`

	// ExcludedFromReport omits the finding from the findings table and the
	// image grid of the generated report.
	ExcludedFromReport bool `json:"excludedFromReport,omitempty" yaml:"excluded_from_report,omitempty"`
}

// Risk derives the finding's risk level from its blockage percentage.
func (f Finding) Risk() RiskLevel { return RiskForBlockage(f.BlockagePercentage) }

// FindingUpdate is a partial update to a Finding. Nil fields are left
// unchanged; the ID is never updatable.
type FindingUpdate struct {
	ArteryName         *string `json:"arteryName,omitempty"`
	BlockagePercentage *int    `json:"blockagePercentage,omitempty"`
	Confidence         *int    `json:"confidence,omitempty"`
	ImageURL           *string `json:"imageUrl,omitempty"`
	HeatmapURL         *string `json:"heatmapUrl,omitempty"`
	Flagged            *bool   `json:"flagged,omitempty"`
	Notes              *string `json:"notes,omitempty"`
	ExcludedFromReport *bool   `json:"excludedFromReport,omitempty"`
}

// IsZero reports whether u changes nothing.
func (u FindingUpdate) IsZero() bool {
	return u.ArteryName == nil && u.BlockagePercentage == nil && u.Confidence == nil &&
		u.ImageURL == nil && u.HeatmapURL == nil && u.Flagged == nil && u.Notes == nil && u.ExcludedFromReport == nil
}

// Apply returns f with the non-nil fields of u merged in. Percentages are
// clamped into [0,100].
func (u FindingUpdate) Apply(f Finding) Finding {
	if u.ArteryName != nil {
		f.ArteryName = *u.ArteryName
	}
	if u.BlockagePercentage != nil {
		f.BlockagePercentage = ClampPercent(*u.BlockagePercentage)
	}
	if u.Confidence != nil {
		f.Confidence = ClampPercent(*u.Confidence)
	}
	if u.ImageURL != nil {
		f.ImageURL = *u.ImageURL
	}
	if u.HeatmapURL != nil {
		f.HeatmapURL = *u.HeatmapURL
	}
	if u.Flagged != nil {
		f.Flagged = *u.Flagged
	}
	if u.Notes != nil {
		f.Notes = *u.Notes
	}
	if u.ExcludedFromReport != nil {
		f.ExcludedFromReport = *u.ExcludedFromReport
	}
	return f
}

// ClampPercent limits v to [0,100].
func ClampPercent(v int) int {
	return min(max(v, 0), 100)
}

// Ptr returns a pointer to v. Handy for building FindingUpdate literals.
func Ptr[T any](v T) *T { return &v }

// Patient is the record of one patient's angiography study. The record owns
// its Findings sequence exclusively.
type Patient struct {
	ID                  string      `json:"id" yaml:"id"`
	StudyID             string      `json:"studyId,omitempty" yaml:"study_id,omitempty"`
	Name                string      `json:"name" yaml:"name"`
	Age                 int         `json:"age" yaml:"age"`
	Sex                 Sex         `json:"sex" yaml:"sex"`
	LastAngiographyDate string      `json:"lastAngiographyDate" yaml:"last_angiography_date"`
	Status              StudyStatus `json:"status" yaml:"status"`
	ReportGenerated     bool        `json:"reportGenerated" yaml:"report_generated"`

	AccessSite      string `json:"accessSite,omitempty" yaml:"access_site,omitempty"`
	ContrastVolume  string `json:"contrastVolume,omitempty" yaml:"contrast_volume,omitempty"`
	Indication      string `json:"indication,omitempty" yaml:"indication,omitempty"`
	Diagnosis       string `json:"diagnosis,omitempty" yaml:"diagnosis,omitempty"`
	HemodynamicData string `json:"hemodynamicData,omitempty" yaml:"hemodynamic_data,omitempty"`
	Operator        string `json:"operator,omitempty" yaml:"operator,omitempty"`
	Impression      string `json:"impression,omitempty" yaml:"impression,omitempty"`
	Advice          string `json:"advice,omitempty" yaml:"advice,omitempty"`

	Findings []Finding `json:"findings" yaml:"findings"`
}

// Clone returns a deep copy of p.
func (p Patient) Clone() Patient {
	if p.Findings != nil {
		fs := make([]Finding, len(p.Findings))
		copy(fs, p.Findings)
		p.Findings = fs
	}
	return p
}

// RiskLevel returns the highest risk among the record's findings.
func (p Patient) RiskLevel() RiskLevel {
	level := RiskLow
	for _, f := range p.Findings {
		if r := f.Risk(); r.rank() > level.rank() {
			level = r
		}
	}
	return level
}

// Transcript represents a speech-to-text result from an STT provider.
// Both partial (interim) and final transcripts use this type.
type Transcript struct {
	// Text is the transcribed speech content.
	Text string

	// IsFinal indicates whether this is a final (authoritative) or partial
	// (interim) transcript.
	IsFinal bool

	// Confidence is the overall confidence score (0.0–1.0). May be zero if the
	// provider does not report confidence.
	Confidence float64

	// Timestamp marks when the utterance started, relative to session start.
	Timestamp time.Duration
}

// Message represents a single message in an LLM conversation.
type Message struct {
	// Role is one of "system", "user" or "assistant".
	Role string

	// Content is the text content of the message.
	Content string
}
