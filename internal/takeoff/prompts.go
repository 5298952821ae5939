package takeoff

import (
	"bytes"
	_ "embed"
	"fmt"
	"text/template"
	"unicode/utf8"
)

//go:embed system_takeoff.tmpl
var systemTakeoffPrompt string

//go:embed system_quality.tmpl
var systemQualityPrompt string

//go:embed system_both.tmpl
var systemBothPrompt string

//go:embed user.tmpl
var userTmpl string

var userTemplate = template.Must(template.New("user").Parse(userTmpl))

// MaxPageTextRunes caps the extracted text sent per page.
const MaxPageTextRunes = 6000

// PageText is the prompt view of one loaded page.
type PageText struct {
	Number int
	Text   string
}

// PromptInput carries what the user prompt summarizes for a batch.
type PromptInput struct {
	Mode       Mode
	PageStart  int
	PageEnd    int
	TotalPages int
	ImageCount int
	Pages      []PageText
}

// SystemPrompt returns the system prompt for a mode.
func SystemPrompt(mode Mode) string {
	switch mode {
	case ModeTakeoff:
		return systemTakeoffPrompt
	case ModeQuality:
		return systemQualityPrompt
	default:
		return systemBothPrompt
	}
}

// UserPrompt renders the batch summary prompt.
func UserPrompt(in PromptInput) (string, error) {
	pages := make([]PageText, len(in.Pages))
	for i, p := range in.Pages {
		pages[i] = PageText{Number: p.Number, Text: truncateRunes(p.Text, MaxPageTextRunes)}
	}
	in.Pages = pages

	var buf bytes.Buffer
	if err := userTemplate.Execute(&buf, in); err != nil {
		return "", fmt.Errorf("failed to render user prompt: %w", err)
	}
	return buf.String(), nil
}

func truncateRunes(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	r := []rune(s)
	return string(r[:n]) + "\n[truncated]"
}
