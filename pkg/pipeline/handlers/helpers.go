package handlers

import (
	"strings"

	"github.com/AISecurityAssurance/cortex-arema/pkg/pipeline"
)

// TextPayload is the result of an input-text node.
type TextPayload struct {
	SystemName        string `json:"systemName"`
	SystemDescription string `json:"systemDescription,omitempty"`
	AdditionalContext string `json:"additionalContext,omitempty"`
}

// DiagramPayload is the result of an input-diagram node: the file encoded
// as standard base64.
type DiagramPayload struct {
	FileName string `json:"fileName,omitempty"`
	MIMEType string `json:"mimeType"`
	Base64   string `json:"base64"`
}

// analysisName is the kind without its category, e.g. "stride".
func analysisName(kind pipeline.NodeKind) string {
	return strings.TrimPrefix(string(kind), "analysis-")
}

// appendPara joins non-empty paragraphs with a blank line.
func appendPara(dst, s string) string {
	s = strings.TrimSpace(s)
	switch {
	case s == "":
		return dst
	case dst == "":
		return s
	default:
		return dst + "\n\n" + s
	}
}
