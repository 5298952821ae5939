package takeoff

import (
	"encoding/json"
	"math"
	"regexp"
	"strconv"
	"strings"
)

// Strategy names how a payload was recovered from raw model output.
type Strategy string

const (
	StrategyStrict    Strategy = "strict"
	StrategyFence     Strategy = "fence"
	StrategyBraces    Strategy = "braces"
	StrategyTruncated Strategy = "truncated"
	StrategyNone      Strategy = "none"
)

// maxTruncationCuts bounds how many comma positions are tried when closing
// a truncated document.
const maxTruncationCuts = 64

// RepairReport describes what Repair had to do.
type RepairReport struct {
	Strategy Strategy `json:"strategy"`
	Issues   []string `json:"issues,omitempty"`
}

// Recovered reports whether any JSON object was found in the output.
func (r RepairReport) Recovered() bool {
	return r.Strategy != StrategyNone
}

// Repair extracts the best-effort JSON object from raw model output and
// coerces it into the canonical Result shape. It never fails: output with no
// recoverable JSON yields an empty Result and StrategyNone.
func Repair(raw string) (*Result, RepairReport) {
	doc, strategy := extractObject(raw)
	report := RepairReport{Strategy: strategy}
	if doc == nil {
		return Empty(), report
	}
	report.Issues = validateDocument(doc)
	return coerce(doc), report
}

// extractObject tries strict parsing, then a markdown fence, then brace
// matching, then closing a truncated document.
func extractObject(raw string) (map[string]any, Strategy) {
	content := strings.TrimSpace(raw)
	if content == "" {
		return nil, StrategyNone
	}
	if doc, ok := decodeObject(content); ok {
		return doc, StrategyStrict
	}

	if fenced := fencedBlock(content); fenced != "" {
		if doc, ok := decodeObject(fenced); ok {
			return doc, StrategyFence
		}
		content = fenced
	}

	candidate, closed := matchBraces(content)
	if candidate == "" {
		return nil, StrategyNone
	}
	if closed {
		if doc, ok := decodeObject(candidate); ok {
			return doc, StrategyBraces
		}
	}
	if doc, ok := closeTruncated(candidate); ok {
		return doc, StrategyTruncated
	}
	return nil, StrategyNone
}

// decodeObject parses s as a JSON object. A bare array is treated as an
// item list.
func decodeObject(s string) (map[string]any, bool) {
	var v any
	if err := json.Unmarshal([]byte(s), &v); err != nil {
		return nil, false
	}
	switch t := v.(type) {
	case map[string]any:
		return t, true
	case []any:
		return map[string]any{"items": t}, true
	default:
		return nil, false
	}
}

var fencePattern = regexp.MustCompile("(?s)```[A-Za-z]*[ \t]*\r?\n?(.*?)(?:```|$)")

// fencedBlock returns the body of the first markdown code fence. An
// unterminated fence runs to the end of the content.
func fencedBlock(content string) string {
	m := fencePattern.FindStringSubmatch(content)
	if m == nil {
		return ""
	}
	return strings.TrimSpace(m[1])
}

// matchBraces returns the span from the first '{' (or the first '[' when
// there is no object) to its matching closer. closed is false when the input ends
// before the span closes.
func matchBraces(content string) (candidate string, closed bool) {
	start := strings.IndexByte(content, '{')
	if start < 0 {
		start = strings.IndexByte(content, '[')
	}
	if start < 0 {
		return "", false
	}

	depth := 0
	inString, escaped := false, false
	for i := start; i < len(content); i++ {
		c := content[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{', '[':
			depth++
		case '}', ']':
			depth--
			if depth == 0 {
				return content[start : i+1], true
			}
		}
	}
	return content[start:], false
}

// closeTruncated closes an unterminated document. It first completes the
// whole text, then backs off to earlier comma boundaries until a prefix
// decodes.
func closeTruncated(s string) (map[string]any, bool) {
	type cut struct {
		pos   int
		stack string
	}

	var (
		stack    []byte
		cuts     []cut
		inString bool
		escaped  bool
	)
	for i := 0; i < len(s); i++ {
		c := s[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{':
			stack = append(stack, '}')
		case '[':
			stack = append(stack, ']')
		case '}', ']':
			if len(stack) > 0 {
				stack = stack[:len(stack)-1]
			}
		case ',':
			cuts = append(cuts, cut{pos: i, stack: string(stack)})
		}
	}

	tail := s
	if inString {
		if escaped {
			tail = tail[:len(tail)-1]
		}
		tail += `"`
	}
	tail = strings.TrimRight(tail, " \t\r\n")
	switch {
	case strings.HasSuffix(tail, ","):
		tail = tail[:len(tail)-1]
	case strings.HasSuffix(tail, ":"):
		tail += "null"
	}
	if doc, ok := decodeObject(tail + closers(string(stack))); ok {
		return doc, true
	}

	for i, tried := len(cuts)-1, 0; i >= 0 && tried < maxTruncationCuts; i, tried = i-1, tried+1 {
		c := cuts[i]
		if doc, ok := decodeObject(s[:c.pos] + closers(c.stack)); ok {
			return doc, true
		}
	}
	return nil, false
}

func closers(stack string) string {
	b := make([]byte, len(stack))
	for i := range stack {
		b[len(stack)-1-i] = stack[i]
	}
	return string(b)
}

// coerce maps a loosely shaped document onto Result, filling defaults.
func coerce(doc map[string]any) *Result {
	res := Empty()

	if raw, ok := firstOf(doc, "items", "takeoff_items", "takeoff", "line_items"); ok {
		for _, elem := range asSlice(raw) {
			if m, ok := elem.(map[string]any); ok {
				res.Items = append(res.Items, coerceItem(m))
			}
		}
	}

	if raw, ok := firstOf(doc, "quality_analysis", "quality", "qualityAnalysis"); ok {
		if m, ok := raw.(map[string]any); ok {
			res.QualityAnalysis = coerceQuality(m)
		}
	} else if _, hasSummary := doc["summary"]; hasSummary {
		res.QualityAnalysis = coerceQuality(doc)
	} else if _, hasRisks := doc["risks"]; hasRisks {
		res.QualityAnalysis = coerceQuality(doc)
	}

	return res
}

func coerceItem(m map[string]any) Item {
	item := Item{
		Name:        str(m["name"]),
		Description: str(m["description"]),
		Quantity:    num(m["quantity"]),
		Unit:        str(m["unit"]),
		Location:    str(m["location"]),
		Category:    str(m["category"]),
		Subcategory: str(m["subcategory"]),
		Notes:       str(m["notes"]),
		Confidence:  unit(num(m["confidence"])),
	}
	if v, ok := firstOf(m, "unit_cost", "unitCost"); ok {
		item.UnitCost = num(v)
	}
	if v, ok := firstOf(m, "cost_code", "costCode"); ok {
		item.CostCode = str(v)
	}
	if v, ok := firstOf(m, "dimensions", "dimension"); ok {
		item.Dimensions = str(v)
	}
	if v, ok := firstOf(m, "bounding_box", "bbox", "boundingBox"); ok {
		if bm, ok := v.(map[string]any); ok {
			item.BoundingBox = coerceBox(bm)
		}
	}
	if item.BoundingBox.Page <= 0 {
		item.BoundingBox.Page = int(num(m["page"]))
	}
	return item
}

func coerceBox(m map[string]any) BoundingBox {
	box := BoundingBox{
		Page: int(num(m["page"])),
		X:    unitClamp(num(m["x"])),
		Y:    unitClamp(num(m["y"])),
	}
	if v, ok := firstOf(m, "width", "w"); ok {
		box.Width = unitClamp(num(v))
	}
	if v, ok := firstOf(m, "height", "h"); ok {
		box.Height = unitClamp(num(v))
	}
	return box
}

func coerceQuality(m map[string]any) QualityAnalysis {
	qa := QualityAnalysis{
		Summary:     str(m["summary"]),
		Risks:       []Risk{},
		Assumptions: strList(m["assumptions"]),
	}
	for _, elem := range asSlice(m["risks"]) {
		switch r := elem.(type) {
		case map[string]any:
			risk := Risk{
				Category:       str(r["category"]),
				Description:    str(r["description"]),
				Severity:       strings.ToLower(str(r["severity"])),
				Location:       str(r["location"]),
				Page:           int(num(r["page"])),
				Recommendation: str(r["recommendation"]),
			}
			if risk.Description == "" {
				risk.Description = str(r["issue"])
			}
			qa.Risks = append(qa.Risks, risk)
		case string:
			if s := strings.TrimSpace(r); s != "" {
				qa.Risks = append(qa.Risks, Risk{Description: s})
			}
		}
	}
	if v, ok := firstOf(m, "missing_info", "missing_information", "missingInfo"); ok {
		qa.MissingInfo = strList(v)
	} else {
		qa.MissingInfo = []string{}
	}
	if v, ok := firstOf(m, "code_references", "code_refs", "codeReferences"); ok {
		qa.CodeReferences = strList(v)
	} else {
		qa.CodeReferences = []string{}
	}
	if v, ok := firstOf(m, "overall_confidence", "confidence"); ok {
		qa.OverallConfidence = unit(num(v))
	}
	return qa
}

func firstOf(m map[string]any, keys ...string) (any, bool) {
	for _, k := range keys {
		if v, ok := m[k]; ok && v != nil {
			return v, true
		}
	}
	return nil, false
}

func asSlice(v any) []any {
	switch t := v.(type) {
	case []any:
		return t
	case map[string]any:
		return []any{t}
	default:
		return nil
	}
}

func str(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return strings.TrimSpace(t)
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(t)
	default:
		b, err := json.Marshal(t)
		if err != nil {
			return ""
		}
		return string(b)
	}
}

func strList(v any) []string {
	out := []string{}
	switch t := v.(type) {
	case []any:
		for _, elem := range t {
			if s := str(elem); s != "" {
				out = append(out, s)
			}
		}
	case string:
		if s := strings.TrimSpace(t); s != "" {
			out = append(out, s)
		}
	}
	return out
}

func num(v any) float64 {
	var f float64
	switch t := v.(type) {
	case float64:
		f = t
	case string:
		cleaned := strings.NewReplacer("$", "", ",", "", "%", "").Replace(strings.TrimSpace(t))
		parsed, err := strconv.ParseFloat(cleaned, 64)
		if err != nil {
			return 0
		}
		f = parsed
	default:
		return 0
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0
	}
	return f
}

// unit normalizes a confidence score. Percentages in (1, 100] are scaled.
func unit(f float64) float64 {
	if f > 1 && f <= 100 {
		f /= 100
	}
	return unitClamp(f)
}

func unitClamp(f float64) float64 {
	switch {
	case f < 0:
		return 0
	case f > 1:
		return 1
	default:
		return f
	}
}
