package findings_test

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AISecurityAssurance/cortex-arema/pkg/findings"
)

func TestExtract_FencedJSON(t *testing.T) {
	text := "Here is the analysis.\n\n```json\n" + `{
  "findings": [
    {"id": "S-1", "title": "Session token replay", "description": "Tokens never expire.",
     "severity": "Critical", "category": "Spoofing", "mitigations": ["Expire tokens", "Bind to client"],
     "confidence": 0.9, "cweId": "CWE-294"},
    {"title": "Verbose errors", "description": "Stack traces leak.", "severity": "low",
     "category": "Information Disclosure", "mitigations": "Return generic errors", "cwe": 209}
  ]
}` + "\n```\nLet me know if you need more."

	fs := findings.Extract(text, "stride")
	require.Len(t, fs, 2)

	assert.Equal(t, findings.Finding{
		ID:          "S-1",
		Title:       "Session token replay",
		Description: "Tokens never expire.",
		Severity:    findings.SeverityHigh,
		Category:    "Spoofing",
		Mitigations: []string{"Expire tokens", "Bind to client"},
		Confidence:  0.9,
		CWEID:       "CWE-294",
	}, fs[0])

	assert.Equal(t, "STRIDE-2", fs[1].ID)
	assert.Equal(t, findings.SeverityLow, fs[1].Severity)
	assert.Equal(t, []string{"Return generic errors"}, fs[1].Mitigations)
	assert.Equal(t, "CWE-209", fs[1].CWEID)
}

func TestExtract_BareArrayAndAliases(t *testing.T) {
	text := `Result: [{"name": "Unauthenticated control command", "details": "Anyone can stop the pump.",
		"risk": "HIGH", "type": "Unsafe Control Action", "recommendations": ["Authenticate commands"],
		"confidence": "85"}]`

	fs := findings.Extract(text, "stpa-sec")
	require.Len(t, fs, 1)
	f := fs[0]
	assert.Equal(t, "STPA-1", f.ID)
	assert.Equal(t, "Unauthenticated control command", f.Title)
	assert.Equal(t, "Anyone can stop the pump.", f.Description)
	assert.Equal(t, findings.SeverityHigh, f.Severity)
	assert.Equal(t, "Unsafe Control Action", f.Category)
	assert.Equal(t, []string{"Authenticate commands"}, f.Mitigations)
	assert.InDelta(t, 0.85, f.Confidence, 1e-9)
}

func TestExtract_HazardsKey(t *testing.T) {
	fs := findings.Extract(`{"hazards":[{"hazard":"H-1 pump overrun","severity":"moderate"}]}`, "stpa-sec")
	require.Len(t, fs, 1)
	assert.Equal(t, "H-1 pump overrun", fs[0].Title)
	assert.Equal(t, findings.SeverityMedium, fs[0].Severity)
}

func TestExtract_JSONWithoutFindingsFallsBackToMarkdown(t *testing.T) {
	text := "```json\n{\"summary\": \"nothing structured\"}\n```\n\n" +
		"### 1. SQL injection in search\n" +
		"The search endpoint concatenates user input.\n" +
		"**Severity:** High\n" +
		"**Category:** Tampering\n" +
		"Maps to CWE-89.\n" +
		"Mitigations:\n" +
		"- Use parameterized queries\n" +
		"- Validate input\n"

	fs := findings.Extract(text, "stride")
	require.Len(t, fs, 1)
	f := fs[0]
	assert.Equal(t, "1. SQL injection in search", f.Title)
	assert.Equal(t, findings.SeverityHigh, f.Severity)
	assert.Equal(t, "Tampering", f.Category)
	assert.Equal(t, "CWE-89", f.CWEID)
	assert.Equal(t, []string{"Use parameterized queries", "Validate input"}, f.Mitigations)
	assert.Contains(t, f.Description, "concatenates user input")
}

func TestExtract_MarkdownNumberedItems(t *testing.T) {
	text := `Threats found:

1. **Credential stuffing**
   - Severity: medium
   - Mitigation: rate limit logins; enable MFA
2. **Audit log deletion**
   - Severity: low
   - Category: Repudiation

## Summary
Overall posture is fair.`

	fs := findings.Extract(text, "stride")
	require.Len(t, fs, 2)
	assert.Equal(t, "Credential stuffing", fs[0].Title)
	assert.Equal(t, []string{"rate limit logins", "enable MFA"}, fs[0].Mitigations)
	assert.Equal(t, "STRIDE-1", fs[0].ID)
	assert.Equal(t, "Audit log deletion", fs[1].Title)
	assert.Equal(t, "Repudiation", fs[1].Category)
	assert.Equal(t, findings.SeverityLow, fs[1].Severity)
}

func TestExtract_NothingStructured(t *testing.T) {
	for _, text := range []string{
		"",
		"The system looks reasonably secure overall.",
		"## Overview\nJust prose here.",
		`{"findings": []}`,
		`[{"title": "", "description": ""}]`,
	} {
		assert.Empty(t, findings.Extract(text, "stride"), "%q", text)
	}
}

func TestSynthesize(t *testing.T) {
	long := strings.Repeat("é", 600)
	f := findings.Synthesize("  "+long+"  ", "stride")
	assert.Equal(t, "STRIDE-1", f.ID)
	assert.Equal(t, "STRIDE analysis summary", f.Title)
	assert.Equal(t, findings.SeverityMedium, f.Severity)
	assert.Equal(t, findings.SynthesizedLength, len([]rune(f.Description)))

	f = findings.Synthesize("short answer", "stpa-sec")
	assert.Equal(t, "STPA-1", f.ID)
	assert.Equal(t, "STPA-Sec analysis summary", f.Title)
	assert.Equal(t, "short answer", f.Description)

	f = findings.Synthesize("   ", "")
	assert.NotEmpty(t, f.Description)
}

func TestParseSeverity(t *testing.T) {
	for in, want := range map[string]findings.Severity{
		"Critical":  findings.SeverityHigh,
		" HIGH ":    findings.SeverityHigh,
		"**high**":  findings.SeverityHigh,
		"Medium":    findings.SeverityMedium,
		"moderate":  findings.SeverityMedium,
		"":          findings.SeverityMedium,
		"info":      findings.SeverityLow,
		"Low.":      findings.SeverityLow,
		"whatever?": findings.SeverityMedium,
	} {
		assert.Equal(t, want, findings.ParseSeverity(in), in)
	}
}

func TestExtractorFunc(t *testing.T) {
	var e findings.Extractor = findings.ExtractorFunc(findings.Extract)
	assert.Len(t, e.Extract(`[{"title":"x","severity":"high"}]`, "stride"), 1)
}
