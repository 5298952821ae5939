package takeoff

import (
	"math"
	"strings"
	"testing"
)

func item(name string, page int, y, confidence float64) Item {
	return Item{
		Name:        name,
		Quantity:    1,
		Unit:        "EA",
		Confidence:  confidence,
		BoundingBox: BoundingBox{Page: page, X: 0.1, Y: y, Width: 0.1, Height: 0.1},
	}
}

func TestMerge(t *testing.T) {
	t.Run("deduplicates by page, box and name", func(t *testing.T) {
		dup := item("Door D1", 5, 0.4, 0.9)
		first := &Result{Items: []Item{dup}}
		secondDup := dup
		secondDup.Description = "later copy"
		second := &Result{Items: []Item{secondDup, item("Door D2", 6, 0.1, 0.8)}}

		out := Merge([]Partial{
			{BatchIndex: 1, Pages: PageRange{6, 10}, Result: second},
			{BatchIndex: 0, Pages: PageRange{1, 5}, Result: first},
		})

		if len(out.Items) != 2 {
			t.Fatalf("len(Items) = %d, want 2", len(out.Items))
		}
		if out.Items[0].Description != "" {
			t.Errorf("expected the lower batch's copy to win, got %q", out.Items[0].Description)
		}
	})

	t.Run("different name on same box is kept", func(t *testing.T) {
		a := item("Window W1", 3, 0.5, 0.7)
		b := a
		b.Name = "Window W2"
		out := Merge([]Partial{{BatchIndex: 0, Pages: PageRange{1, 5}, Result: &Result{Items: []Item{a, b}}}})
		if len(out.Items) != 2 {
			t.Errorf("len(Items) = %d, want 2", len(out.Items))
		}
	})

	t.Run("orders by page then vertical position", func(t *testing.T) {
		late := &Result{Items: []Item{item("c", 7, 0.2, 0.5), item("b", 6, 0.9, 0.5)}}
		early := &Result{Items: []Item{item("a2", 2, 0.8, 0.5), item("a1", 2, 0.1, 0.5)}}

		out := Merge([]Partial{
			{BatchIndex: 1, Pages: PageRange{6, 10}, Result: late},
			{BatchIndex: 0, Pages: PageRange{1, 5}, Result: early},
		})

		var names []string
		for _, it := range out.Items {
			names = append(names, it.Name)
		}
		if got := strings.Join(names, ","); got != "a1,a2,b,c" {
			t.Errorf("order = %s, want a1,a2,b,c", got)
		}
	})

	t.Run("accumulates quality analysis", func(t *testing.T) {
		r1 := Empty()
		r1.QualityAnalysis.Risks = []Risk{{Description: "no fire rating"}}
		r1.QualityAnalysis.MissingInfo = []string{"door hardware", "finish schedule"}
		r1.QualityAnalysis.CodeReferences = []string{"IBC 2021"}
		r2 := Empty()
		r2.QualityAnalysis.Risks = []Risk{{Description: "no fire rating"}, {Description: "slab depth unclear"}}
		r2.QualityAnalysis.MissingInfo = []string{"finish schedule", "roof slope"}
		r2.QualityAnalysis.Assumptions = []string{"standard hollow metal frames"}
		r2.QualityAnalysis.CodeReferences = []string{"IBC 2021", "NFPA 80"}

		out := Merge([]Partial{
			{BatchIndex: 0, Pages: PageRange{1, 5}, Result: r1},
			{BatchIndex: 1, Pages: PageRange{6, 8}, Result: r2},
		})

		qa := out.QualityAnalysis
		if len(qa.Risks) != 3 {
			t.Errorf("len(Risks) = %d, want 3 (risks are concatenated)", len(qa.Risks))
		}
		if got := strings.Join(qa.MissingInfo, "|"); got != "door hardware|finish schedule|roof slope" {
			t.Errorf("MissingInfo = %s", got)
		}
		if got := strings.Join(qa.CodeReferences, "|"); got != "IBC 2021|NFPA 80" {
			t.Errorf("CodeReferences = %s", got)
		}
		if len(qa.Assumptions) != 1 {
			t.Errorf("Assumptions = %v", qa.Assumptions)
		}
		want := "Analyzed 8 pages: extracted 0 items, identified 3 risks and 3 missing-information notes."
		if qa.Summary != want {
			t.Errorf("Summary = %q, want %q", qa.Summary, want)
		}
		if out.Coverage.BatchesMerged != 2 || out.Coverage.PagesMerged != 8 {
			t.Errorf("Coverage = %+v", out.Coverage)
		}
	})

	t.Run("nil partial result contributes pages only", func(t *testing.T) {
		out := Merge([]Partial{{BatchIndex: 0, Pages: PageRange{1, 1}}})
		if len(out.Items) != 0 || out.QualityAnalysis.Summary == "" {
			t.Errorf("unexpected result %+v", out)
		}
		if !strings.Contains(out.QualityAnalysis.Summary, "1 page:") {
			t.Errorf("Summary = %q", out.QualityAnalysis.Summary)
		}
	})
}

func TestOverallConfidence(t *testing.T) {
	if got := OverallConfidence(nil); got != DefaultOverallConfidence {
		t.Errorf("empty = %v, want %v", got, DefaultOverallConfidence)
	}
	zeros := []Item{{Confidence: 0}, {Confidence: 0}}
	if got := OverallConfidence(zeros); got != DefaultOverallConfidence {
		t.Errorf("all unset = %v, want %v", got, DefaultOverallConfidence)
	}
	mixed := []Item{{Confidence: 0.9}, {Confidence: 0}, {Confidence: 0.6}}
	if got := OverallConfidence(mixed); math.Abs(got-0.75) > 1e-9 {
		t.Errorf("mixed = %v, want 0.75", got)
	}
}
