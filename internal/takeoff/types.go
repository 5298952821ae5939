// Package takeoff defines the canonical analysis payload produced for a page
// batch, the repairer that turns raw model output into that payload, and the
// merge that folds batch payloads into a job's final result.
package takeoff

import (
	"fmt"
	"strings"
	"time"
)

// Mode selects which analyses a job asks the model for.
type Mode string

const (
	ModeTakeoff Mode = "takeoff"
	ModeQuality Mode = "quality_analysis"
	ModeBoth    Mode = "both"
)

// DefaultMode is used when a job does not specify one.
const DefaultMode = ModeBoth

// ParseMode validates a mode string. Empty input yields DefaultMode.
func ParseMode(s string) (Mode, error) {
	switch Mode(strings.TrimSpace(strings.ToLower(s))) {
	case "":
		return DefaultMode, nil
	case ModeTakeoff:
		return ModeTakeoff, nil
	case ModeQuality, "quality":
		return ModeQuality, nil
	case ModeBoth:
		return ModeBoth, nil
	default:
		return "", fmt.Errorf("unknown analysis mode %q (want takeoff, quality_analysis or both)", s)
	}
}

// IncludesTakeoff reports whether the mode asks for line items.
func (m Mode) IncludesTakeoff() bool { return m == ModeTakeoff || m == ModeBoth }

// IncludesQuality reports whether the mode asks for a quality analysis.
func (m Mode) IncludesQuality() bool { return m == ModeQuality || m == ModeBoth }

// BoundingBox locates an item on a page in page-relative 0-1 coordinates.
type BoundingBox struct {
	Page   int     `json:"page"`
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// Item is one extracted takeoff line.
type Item struct {
	Name        string      `json:"name"`
	Description string      `json:"description"`
	Quantity    float64     `json:"quantity"`
	Unit        string      `json:"unit"`
	UnitCost    float64     `json:"unit_cost"`
	Location    string      `json:"location"`
	Category    string      `json:"category"`
	Subcategory string      `json:"subcategory"`
	CostCode    string      `json:"cost_code"`
	Notes       string      `json:"notes"`
	Dimensions  string      `json:"dimensions"`
	Confidence  float64     `json:"confidence"`
	BoundingBox BoundingBox `json:"bounding_box"`
}

// Risk is a single quality-analysis finding.
type Risk struct {
	Category       string `json:"category"`
	Description    string `json:"description"`
	Severity       string `json:"severity"`
	Location       string `json:"location"`
	Page           int    `json:"page"`
	Recommendation string `json:"recommendation"`
}

// QualityAnalysis summarizes plan quality issues for a batch or a job.
type QualityAnalysis struct {
	Summary           string   `json:"summary"`
	Risks             []Risk   `json:"risks"`
	MissingInfo       []string `json:"missing_info"`
	Assumptions       []string `json:"assumptions"`
	CodeReferences    []string `json:"code_references"`
	OverallConfidence float64  `json:"overall_confidence"`
}

// Result is the canonical payload for one batch.
type Result struct {
	Items           []Item          `json:"items"`
	QualityAnalysis QualityAnalysis `json:"quality_analysis"`
}

// PageRange is an inclusive 1-indexed page span.
type PageRange struct {
	Start int `json:"start"`
	End   int `json:"end"`
}

// Coverage reports how much of a job the final result was built from.
type Coverage struct {
	BatchesMerged int         `json:"batches_merged"`
	BatchesTotal  int         `json:"batches_total"`
	PagesMerged   int         `json:"pages_merged"`
	MissingPages  []PageRange `json:"missing_pages,omitempty"`
}

// Complete reports whether every batch contributed to the result.
func (c Coverage) Complete() bool {
	return c.BatchesTotal > 0 && c.BatchesMerged == c.BatchesTotal
}

// FinalResult is the merged payload persisted on a completed job.
type FinalResult struct {
	Items           []Item          `json:"items"`
	QualityAnalysis QualityAnalysis `json:"quality_analysis"`
	Coverage        Coverage        `json:"coverage"`
	MergedAt        time.Time       `json:"merged_at"`
}

// Empty returns a structurally valid payload with no findings.
func Empty() *Result {
	return &Result{
		Items: []Item{},
		QualityAnalysis: QualityAnalysis{
			Risks:          []Risk{},
			MissingInfo:    []string{},
			Assumptions:    []string{},
			CodeReferences: []string{},
		},
	}
}

// AssignDefaultPage sets the page of items and risks the model left
// unlocated. Models often omit the page when a batch holds a single sheet.
func (r *Result) AssignDefaultPage(page int) {
	for i := range r.Items {
		if r.Items[i].BoundingBox.Page <= 0 {
			r.Items[i].BoundingBox.Page = page
		}
	}
	for i := range r.QualityAnalysis.Risks {
		if r.QualityAnalysis.Risks[i].Page <= 0 {
			r.QualityAnalysis.Risks[i].Page = page
		}
	}
}

// ClampPages pins located items to [start, end]. Models sometimes number
// pages relative to the batch instead of the document.
func (r *Result) ClampPages(start, end int) {
	span := end - start + 1
	for i := range r.Items {
		p := r.Items[i].BoundingBox.Page
		if p >= start && p <= end {
			continue
		}
		if p >= 1 && p <= span {
			r.Items[i].BoundingBox.Page = start + p - 1
			continue
		}
		r.Items[i].BoundingBox.Page = start
	}
}
