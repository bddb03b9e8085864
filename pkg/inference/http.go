package inference

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/tidwall/gjson"

	"github.com/AISecurityAssurance/cortex-arema/pkg/llm"
)

// maxErrorBody caps how much of a failed response is read for its message.
const maxErrorBody = 1 << 16

// HTTPInvoker POSTs requests as JSON to a remote generate endpoint and
// reads "responseText" from the reply.
type HTTPInvoker struct {
	URL string
	// Client defaults to http.DefaultClient, which sets no timeout.
	Client *http.Client
	// Header is added to every request, e.g. an Authorization value.
	Header http.Header
}

func (h *HTTPInvoker) Invoke(ctx context.Context, req Request) (string, error) {
	if h.URL == "" {
		return "", fmt.Errorf("inference endpoint URL is not configured")
	}
	if req.Images == nil {
		req.Images = []string{}
	}
	body, err := json.Marshal(req)
	if err != nil {
		return "", fmt.Errorf("encode request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, h.URL, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json")
	for k, vs := range h.Header {
		for _, v := range vs {
			httpReq.Header.Add(k, v)
		}
	}

	client := h.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("inference request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return "", llm.StatusError(resp.StatusCode, errorMessage(resp, data), nil)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("read response: %w", err)
	}
	if !gjson.ValidBytes(data) {
		return "", fmt.Errorf("inference response is not JSON")
	}
	text := gjson.GetBytes(data, "responseText")
	if !text.Exists() {
		return "", fmt.Errorf("inference response has no responseText")
	}
	return text.String(), nil
}

// errorMessage picks the most specific human-readable message out of a
// failed response body.
func errorMessage(resp *http.Response, body []byte) string {
	if gjson.ValidBytes(body) {
		for _, path := range []string{"error.message", "error", "message", "detail"} {
			if r := gjson.GetBytes(body, path); r.Exists() && r.Type == gjson.String && r.String() != "" {
				return r.String()
			}
		}
	}
	if s := strings.TrimSpace(string(body)); s != "" {
		return s
	}
	return resp.Status
}
