package handlers

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/AISecurityAssurance/cortex-arema/pkg/pipeline"
)

var (
	// ErrNoFile is returned by an input-diagram node with no file attached.
	ErrNoFile = errors.New("no file uploaded")
	// ErrNoSystemName is returned by an input-text node without a system name.
	ErrNoSystemName = errors.New("system name is required")
)

// DiagramHandler encodes the node's diagram for transport. The bytes come
// from the node config, or from the file at the configured path.
type DiagramHandler struct {
	// ReadFile defaults to os.ReadFile.
	ReadFile func(name string) ([]byte, error)
}

func (h *DiagramHandler) Execute(_ context.Context, node pipeline.Node, _ pipeline.Inputs) (any, error) {
	cfg := node.Config.Diagram
	if cfg == nil || (len(cfg.Data) == 0 && cfg.Path == "") {
		return nil, ErrNoFile
	}

	data := cfg.Data
	if len(data) == 0 {
		read := h.ReadFile
		if read == nil {
			read = os.ReadFile
		}
		var err error
		if data, err = read(cfg.Path); err != nil {
			return nil, fmt.Errorf("read diagram %q: %w", cfg.Path, err)
		}
		if len(data) == 0 {
			return nil, ErrNoFile
		}
	}

	name := cfg.FileName
	if name == "" && cfg.Path != "" {
		name = filepath.Base(cfg.Path)
	}
	mt := cfg.MIMEType
	if mt == "" {
		mt = http.DetectContentType(data)
	}
	return DiagramPayload{
		FileName: name,
		MIMEType: mt,
		Base64:   base64.StdEncoding.EncodeToString(data),
	}, nil
}

// TextHandler returns the node's system description.
type TextHandler struct{}

func (h *TextHandler) Execute(_ context.Context, node pipeline.Node, _ pipeline.Inputs) (any, error) {
	cfg := node.Config.Text
	if cfg == nil || strings.TrimSpace(cfg.SystemName) == "" {
		return nil, ErrNoSystemName
	}
	return TextPayload{
		SystemName:        strings.TrimSpace(cfg.SystemName),
		SystemDescription: cfg.SystemDescription,
		AdditionalContext: cfg.AdditionalContext,
	}, nil
}

// OutputHandler passes its input through unchanged. With several inputs it
// returns their values as a list, in connection order.
type OutputHandler struct{}

func (h *OutputHandler) Execute(_ context.Context, _ pipeline.Node, inputs pipeline.Inputs) (any, error) {
	switch len(inputs) {
	case 0:
		return nil, nil
	case 1:
		return inputs[0].Value, nil
	default:
		return inputs.Values(), nil
	}
}
