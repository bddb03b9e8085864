// Package findings turns free-text model output into structured security
// findings.
package findings

import (
	"fmt"
	"strings"
	"unicode/utf8"
)

// Severity ranks a finding.
type Severity string

const (
	SeverityHigh   Severity = "high"
	SeverityMedium Severity = "medium"
	SeverityLow    Severity = "low"
)

// Finding is one security issue reported by an analysis.
type Finding struct {
	ID          string   `json:"id"`
	Title       string   `json:"title"`
	Description string   `json:"description"`
	Severity    Severity `json:"severity"`
	Category    string   `json:"category"`
	Mitigations []string `json:"mitigations,omitempty"`
	Confidence  float64  `json:"confidence,omitempty"`
	CWEID       string   `json:"cweId,omitempty"`
}

// Result is what an analysis node produces: the findings plus the model's
// raw answer.
type Result struct {
	Findings        []Finding `json:"findings"`
	RawResponseText string    `json:"rawResponseText"`
}

// Extractor pulls findings out of a model response for an analysis kind
// ("stride", "stpa-sec").
type Extractor interface {
	Extract(text, kind string) []Finding
}

// ExtractorFunc adapts an ordinary function to Extractor.
type ExtractorFunc func(text, kind string) []Finding

func (f ExtractorFunc) Extract(text, kind string) []Finding { return f(text, kind) }

// SynthesizedLength is how much of the raw response a synthesized finding
// carries, in characters.
const SynthesizedLength = 500

// Extract returns the findings in text. A JSON payload (fenced or bare)
// wins; otherwise markdown items carrying severity, category or CWE
// markers are collected. It returns nil when nothing structured is found.
func Extract(text, kind string) []Finding {
	fs := fromJSON(text)
	if len(fs) == 0 {
		fs = fromMarkdown(text)
	}
	return normalize(fs, kind)
}

// Synthesize builds the single generic finding reported when a response
// holds no structured findings. Its description is the start of text.
func Synthesize(text, kind string) Finding {
	desc := strings.TrimSpace(text)
	if utf8.RuneCountInString(desc) > SynthesizedLength {
		desc = string([]rune(desc)[:SynthesizedLength])
	}
	if desc == "" {
		desc = "The model returned an empty response."
	}
	return Finding{
		ID:          idPrefix(kind) + "-1",
		Title:       kindLabel(kind) + " analysis summary",
		Description: desc,
		Severity:    SeverityMedium,
		Category:    "General",
		Confidence:  0.5,
	}
}

// ParseSeverity maps the many ways models spell severity onto the three
// levels. Unknown values are medium.
func ParseSeverity(s string) Severity {
	switch strings.ToLower(strings.Trim(strings.TrimSpace(s), "*_.")) {
	case "critical", "high", "severe":
		return SeverityHigh
	case "low", "info", "informational", "minimal", "minor":
		return SeverityLow
	default:
		return SeverityMedium
	}
}

// normalize fixes up extracted findings: empty ones are dropped, severity
// is folded onto the three levels, confidence is clamped to [0, 1] and
// missing ids are numbered.
func normalize(fs []Finding, kind string) []Finding {
	var out []Finding
	for _, f := range fs {
		f.Title = strings.TrimSpace(f.Title)
		f.Description = strings.TrimSpace(f.Description)
		if f.Title == "" && f.Description == "" {
			continue
		}
		if f.Title == "" {
			f.Title = firstLine(f.Description)
		}
		f.Severity = ParseSeverity(string(f.Severity))
		switch {
		case f.Confidence > 1 && f.Confidence <= 100:
			f.Confidence /= 100
		case f.Confidence > 100 || f.Confidence < 0:
			f.Confidence = 0
		}
		if f.CWEID != "" && !strings.HasPrefix(strings.ToUpper(f.CWEID), "CWE-") {
			f.CWEID = "CWE-" + f.CWEID
		}
		out = append(out, f)
	}
	prefix := idPrefix(kind)
	for i := range out {
		if out[i].ID == "" {
			out[i].ID = fmt.Sprintf("%s-%d", prefix, i+1)
		}
	}
	return out
}

func firstLine(s string) string {
	line, _, _ := strings.Cut(s, "\n")
	if utf8.RuneCountInString(line) > 80 {
		line = string([]rune(line)[:80])
	}
	return line
}

func idPrefix(kind string) string {
	switch kind {
	case "stride":
		return "STRIDE"
	case "stpa-sec":
		return "STPA"
	case "":
		return "F"
	default:
		return strings.ToUpper(kind)
	}
}

func kindLabel(kind string) string {
	switch kind {
	case "stride":
		return "STRIDE"
	case "stpa-sec":
		return "STPA-Sec"
	case "":
		return "Security"
	default:
		return strings.ToUpper(kind)
	}
}
