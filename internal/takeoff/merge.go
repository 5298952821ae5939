package takeoff

import (
	"fmt"
	"sort"
)

// DefaultOverallConfidence is reported when no item carries a confidence.
const DefaultOverallConfidence = 0.5

// Partial is one completed batch's payload and its place in the job.
type Partial struct {
	BatchIndex int
	Pages      PageRange
	Result     *Result
}

type itemKey struct {
	page                int
	x, y, width, height float64
	name                string
}

func keyOf(it Item) itemKey {
	b := it.BoundingBox
	return itemKey{page: b.Page, x: b.X, y: b.Y, width: b.Width, height: b.Height, name: it.Name}
}

// Merge folds batch payloads into one result. Partials are visited in batch
// order so the first occurrence of a duplicate item always wins. The merged
// items are ordered by page, then by vertical position on the page.
//
// Coverage.BatchesMerged and Coverage.PagesMerged are filled in; the caller
// owns the job-wide totals and MergedAt.
func Merge(partials []Partial) *FinalResult {
	ordered := make([]Partial, len(partials))
	copy(ordered, partials)
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].BatchIndex < ordered[j].BatchIndex
	})

	out := &FinalResult{
		Items: []Item{},
		QualityAnalysis: QualityAnalysis{
			Risks: []Risk{},
		},
	}

	seen := make(map[itemKey]struct{})
	missing := newOrderedSet()
	assumptions := newOrderedSet()
	codeRefs := newOrderedSet()
	pages := 0

	for _, p := range ordered {
		pages += p.Pages.End - p.Pages.Start + 1
		if p.Result == nil {
			continue
		}
		for _, it := range p.Result.Items {
			k := keyOf(it)
			if _, dup := seen[k]; dup {
				continue
			}
			seen[k] = struct{}{}
			out.Items = append(out.Items, it)
		}
		qa := p.Result.QualityAnalysis
		out.QualityAnalysis.Risks = append(out.QualityAnalysis.Risks, qa.Risks...)
		missing.add(qa.MissingInfo...)
		assumptions.add(qa.Assumptions...)
		codeRefs.add(qa.CodeReferences...)
	}

	sort.SliceStable(out.Items, func(i, j int) bool {
		a, b := out.Items[i].BoundingBox, out.Items[j].BoundingBox
		if a.Page != b.Page {
			return a.Page < b.Page
		}
		return a.Y < b.Y
	})

	out.QualityAnalysis.MissingInfo = missing.values
	out.QualityAnalysis.Assumptions = assumptions.values
	out.QualityAnalysis.CodeReferences = codeRefs.values
	out.QualityAnalysis.OverallConfidence = OverallConfidence(out.Items)
	out.QualityAnalysis.Summary = Summarize(pages, len(out.Items), len(out.QualityAnalysis.Risks), len(missing.values))

	out.Coverage.BatchesMerged = len(ordered)
	out.Coverage.PagesMerged = pages
	return out
}

// OverallConfidence is the mean confidence of items that report one.
func OverallConfidence(items []Item) float64 {
	var sum float64
	n := 0
	for _, it := range items {
		if it.Confidence > 0 {
			sum += it.Confidence
			n++
		}
	}
	if n == 0 {
		return DefaultOverallConfidence
	}
	return sum / float64(n)
}

// Summarize builds the one-line summary for a merged result.
func Summarize(pages, items, risks, missing int) string {
	return fmt.Sprintf("Analyzed %s: extracted %s, identified %s and %s.",
		plural(pages, "page", "pages"),
		plural(items, "item", "items"),
		plural(risks, "risk", "risks"),
		plural(missing, "missing-information note", "missing-information notes"),
	)
}

func plural(n int, one, many string) string {
	if n == 1 {
		return "1 " + one
	}
	return fmt.Sprintf("%d %s", n, many)
}

type orderedSet struct {
	seen   map[string]struct{}
	values []string
}

func newOrderedSet() *orderedSet {
	return &orderedSet{seen: make(map[string]struct{}), values: []string{}}
}

func (s *orderedSet) add(vals ...string) {
	for _, v := range vals {
		if v == "" {
			continue
		}
		if _, ok := s.seen[v]; ok {
			continue
		}
		s.seen[v] = struct{}{}
		s.values = append(s.values, v)
	}
}
