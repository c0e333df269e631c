package mediagen

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"
)

// HTTPProvider calls one synthesis service over HTTP. The service answers a
// POST with the raw artifact bytes, which are written into outputDir.
type HTTPProvider struct {
	name      string
	baseURL   string
	apiKey    string
	outputDir string
	client    *http.Client
}

func NewHTTPProvider(name, baseURL, apiKey, outputDir string, timeout time.Duration) *HTTPProvider {
	if timeout <= 0 {
		timeout = 60 * time.Second
	}

	return &HTTPProvider{
		name:      name,
		baseURL:   strings.TrimSuffix(baseURL, "/"),
		apiKey:    apiKey,
		outputDir: outputDir,
		client:    &http.Client{Timeout: timeout},
	}
}

func (p *HTTPProvider) Name() string {
	return p.name
}

func (p *HTTPProvider) Generate(ctx context.Context, req Request) (*Artifact, error) {
	payload, err := json.Marshal(map[string]interface{}{
		"prompt": req.Prompt,
		"params": req.Params,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, "POST", p.baseURL+"/generate/"+string(req.Kind), bytes.NewBuffer(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if p.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+p.apiKey)
	}

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("failed to call provider %s: %w", p.name, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("provider %s returned status %d: %s", p.name, resp.StatusCode, string(body))
	}

	path, err := p.saveArtifact(req.Kind, resp.Body, resp.Header.Get("Content-Type"))
	if err != nil {
		return nil, err
	}

	return &Artifact{Kind: req.Kind, Path: path}, nil
}

func (p *HTTPProvider) saveArtifact(kind Kind, body io.Reader, contentType string) (string, error) {
	if err := os.MkdirAll(p.outputDir, 0750); err != nil {
		return "", fmt.Errorf("failed to create output dir: %w", err)
	}

	pattern := fmt.Sprintf("%s-*%s", kind, extensionFor(kind, contentType))
	out, err := os.CreateTemp(p.outputDir, pattern)
	if err != nil {
		return "", fmt.Errorf("failed to create artifact file: %w", err)
	}

	if _, err := io.Copy(out, body); err != nil {
		_ = out.Close()
		_ = os.Remove(out.Name())
		return "", fmt.Errorf("failed to write artifact: %w", err)
	}

	if err := out.Close(); err != nil {
		_ = os.Remove(out.Name())
		return "", fmt.Errorf("failed to close artifact: %w", err)
	}

	return out.Name(), nil
}

func extensionFor(kind Kind, contentType string) string {
	switch {
	case strings.Contains(contentType, "ogg"):
		return ".ogg"
	case strings.Contains(contentType, "mpeg"):
		return ".mp3"
	case strings.Contains(contentType, "png"):
		return ".png"
	case strings.Contains(contentType, "jpeg"):
		return ".jpg"
	}

	switch kind {
	case KindVoice:
		return ".ogg"
	default:
		return ".png"
	}
}
