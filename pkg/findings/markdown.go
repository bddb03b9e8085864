package findings

import (
	"regexp"
	"strconv"
	"strings"
)

var (
	headerRe = regexp.MustCompile(`^\s*(?:#{2,6}\s+|\d+[.)]\s+|[-*]\s+\*\*)(.+?)\s*$`)
	fieldRe  = regexp.MustCompile(`(?i)^\s*(?:[-*]\s+)?\**(severity|risk|category|stride category|type|mitigations?|recommendations?|cwe|confidence|description)\**\s*:\s*\**\s*(.*?)\s*$`)
	bulletRe = regexp.MustCompile(`^\s*[-*]\s+(.+?)\s*$`)
	cweRe    = regexp.MustCompile(`(?i)\bCWE[-\s]?(\d+)\b`)
)

type mdItem struct {
	f             Finding
	marked        bool
	inMitigations bool
}

// fromMarkdown reads numbered, heading or bold-bullet items. An item is
// kept only if it carries a severity, category or CWE marker, so ordinary
// prose headings are not mistaken for findings.
func fromMarkdown(text string) []Finding {
	var (
		out []Finding
		cur *mdItem
	)
	flush := func() {
		if cur != nil && cur.marked {
			out = append(out, cur.f)
		}
		cur = nil
	}

	for _, line := range strings.Split(text, "\n") {
		if strings.TrimSpace(line) == "" {
			if cur != nil {
				cur.inMitigations = false
			}
			continue
		}
		if m := fieldRe.FindStringSubmatch(line); m != nil && cur != nil {
			cur.applyField(strings.ToLower(m[1]), m[2])
			continue
		}
		if cur != nil && cur.inMitigations {
			if m := bulletRe.FindStringSubmatch(line); m != nil {
				cur.f.Mitigations = append(cur.f.Mitigations, m[1])
				continue
			}
		}
		if m := headerRe.FindStringSubmatch(line); m != nil {
			flush()
			cur = &mdItem{f: Finding{Title: cleanTitle(m[1])}}
			cur.scanCWE(line)
			continue
		}
		if cur != nil {
			cur.scanCWE(line)
			if cur.f.Description != "" {
				cur.f.Description += "\n"
			}
			cur.f.Description += strings.TrimSpace(line)
		}
	}
	flush()
	return out
}

func (it *mdItem) applyField(name, value string) {
	it.inMitigations = false
	value = strings.Trim(value, "* ")
	switch name {
	case "severity", "risk":
		it.f.Severity = Severity(value)
		it.marked = true
	case "category", "stride category", "type":
		it.f.Category = value
		it.marked = true
	case "cwe":
		it.scanCWE("CWE-" + strings.TrimPrefix(strings.ToUpper(value), "CWE-"))
	case "confidence":
		v := strings.TrimSuffix(value, "%")
		if c, err := strconv.ParseFloat(v, 64); err == nil {
			it.f.Confidence = c
		}
	case "description":
		it.f.Description = value
	default: // mitigation(s), recommendation(s)
		if value == "" {
			it.inMitigations = true
			return
		}
		for _, m := range strings.Split(value, ";") {
			if m = strings.TrimSpace(m); m != "" {
				it.f.Mitigations = append(it.f.Mitigations, m)
			}
		}
	}
}

func (it *mdItem) scanCWE(line string) {
	if it.f.CWEID != "" {
		return
	}
	if m := cweRe.FindStringSubmatch(line); m != nil {
		it.f.CWEID = "CWE-" + m[1]
		it.marked = true
	}
}

func cleanTitle(s string) string {
	s = strings.ReplaceAll(s, "**", "")
	s = strings.TrimSpace(s)
	return strings.TrimSuffix(s, ":")
}
