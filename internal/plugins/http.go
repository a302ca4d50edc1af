package plugins

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/storyforge/weft/pkg/schema"
)

// HTTPConfig configures the built-in http plugin.
type HTTPConfig struct {
	MaxResponseBody int64
	DefaultTimeout  time.Duration
}

const (
	defaultMaxResponseBody = 10 * 1024 * 1024 // 10MB
	defaultHTTPTimeout     = 30 * time.Second
)

// HTTPPlugin exposes HTTP calls to workflow steps. Typical use: pushing a
// drafted chapter to an external publishing endpoint, or pulling reference
// material into the run context.
type HTTPPlugin struct {
	config HTTPConfig
}

// NewHTTPPlugin creates the built-in http plugin.
func NewHTTPPlugin(cfg HTTPConfig) *HTTPPlugin {
	if cfg.MaxResponseBody <= 0 {
		cfg.MaxResponseBody = defaultMaxResponseBody
	}
	if cfg.DefaultTimeout <= 0 {
		cfg.DefaultTimeout = defaultHTTPTimeout
	}
	return &HTTPPlugin{config: cfg}
}

func (p *HTTPPlugin) ID() string { return "http" }

func (p *HTTPPlugin) Actions() []Action {
	return []Action{&httpRequestAction{config: p.config}}
}

// --- request ---

type httpRequestAction struct {
	config HTTPConfig
}

func (a *httpRequestAction) Name() string { return "request" }

func (a *httpRequestAction) Description() string {
	return "Execute an HTTP request with control over method, headers, body and timeout."
}

func (a *httpRequestAction) Execute(ctx context.Context, config map[string]any) (map[string]any, error) {
	rawURL := stringParam(config, "url", "")
	if rawURL == "" {
		return nil, schema.NewError(schema.ErrCodeValidation, "http.request: missing required param 'url'")
	}
	u, err := url.ParseRequestURI(rawURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") {
		return nil, schema.NewErrorf(schema.ErrCodeValidation, "http.request: invalid url %q", rawURL)
	}

	method := strings.ToUpper(stringParam(config, "method", "GET"))

	timeout := a.config.DefaultTimeout
	if ts := stringParam(config, "timeout", ""); ts != "" {
		if d, err := time.ParseDuration(ts); err == nil {
			timeout = d
		}
	}

	var bodyReader io.Reader
	var contentType string
	if rawBody, ok := config["body"]; ok && rawBody != nil {
		b, err := json.Marshal(rawBody)
		if err != nil {
			return nil, schema.NewError(schema.ErrCodeExecution, "http.request: failed to marshal body as JSON").WithCause(err)
		}
		bodyReader = strings.NewReader(string(b))
		contentType = "application/json"
	}

	reqCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, method, rawURL, bodyReader)
	if err != nil {
		return nil, schema.NewError(schema.ErrCodeExecution, "http.request: failed to create request").WithCause(err)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	if hdrs, ok := config["headers"].(map[string]any); ok {
		for k, v := range hdrs {
			req.Header.Set(k, fmt.Sprintf("%v", v))
		}
	}

	start := time.Now()
	resp, err := http.DefaultClient.Do(req)
	durationMs := time.Since(start).Milliseconds()
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeExecution, "http.request: request failed: %v", err).WithCause(err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, a.config.MaxResponseBody))
	if err != nil {
		return nil, schema.NewError(schema.ErrCodeExecution, "http.request: failed to read response body").WithCause(err)
	}

	// JSON responses are decoded so output mappings can address their fields.
	var body any = string(raw)
	if strings.Contains(resp.Header.Get("Content-Type"), "application/json") {
		var decoded any
		if err := json.Unmarshal(raw, &decoded); err == nil {
			body = decoded
		}
	}

	headers := make(map[string]any, len(resp.Header))
	for k := range resp.Header {
		headers[k] = resp.Header.Get(k)
	}

	return map[string]any{
		"result": map[string]any{
			"status_code":  resp.StatusCode,
			"status":       resp.Status,
			"headers":      headers,
			"body":         body,
			"content_type": resp.Header.Get("Content-Type"),
			"duration_ms":  durationMs,
		},
	}, nil
}

// Param helpers shared by the built-in plugins.

func stringParam(m map[string]any, key, defaultVal string) string {
	v, ok := m[key]
	if !ok {
		return defaultVal
	}
	s, ok := v.(string)
	if !ok {
		return defaultVal
	}
	return s
}
