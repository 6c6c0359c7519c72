package provider

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// healthTimeout bounds a single health probe when ctx has no deadline.
const healthTimeout = 5 * time.Second

// httpHealthCheck probes a model-listing endpoint, which costs no tokens.
type httpHealthCheck struct {
	// url is the probed endpoint.
	url string
	// header is added to the request, e.g. Authorization.
	header http.Header
	// client is the HTTP client used for the probe.
	client *http.Client
}

// HealthCheck issues a GET and expects a 2xx status.
func (h *httpHealthCheck) HealthCheck(ctx context.Context) error {
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, healthTimeout)
		defer cancel()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, h.url, nil)
	if err != nil {
		return fmt.Errorf("provider: health check request: %w", err)
	}
	for k, vs := range h.header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	resp, err := h.client.Do(req)
	if err != nil {
		return fmt.Errorf("provider: health check: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("provider: health check: status %d", resp.StatusCode)
	}
	return nil
}

// HealthCheck returns a zero-token probe for the configured backend, or nil
// when the backend has no listing endpoint (Ark).
func (c *Config) HealthCheck() HealthCheckConfig {
	h := &httpHealthCheck{header: http.Header{}, client: &http.Client{}}
	switch c.Backend {
	case BackendOllama:
		h.url = strings.TrimRight(c.Ollama.Host, "/") + "/api/tags"
	case BackendOpenAI:
		base := c.OpenAI.BaseURL
		if base == "" {
			base = "https://api.openai.com/v1"
		}
		h.url = strings.TrimRight(base, "/") + "/models"
		h.header.Set("Authorization", "Bearer "+c.OpenAI.APIKey)
	case BackendAzure:
		h.url = strings.TrimRight(c.AzureOpenAI.Endpoint, "/") +
			"/openai/models?api-version=" + url.QueryEscape(c.AzureOpenAI.APIVersion)
		h.header.Set("api-key", c.AzureOpenAI.APIKey)
	case BackendGemini:
		h.url = "https://generativelanguage.googleapis.com/v1beta/models"
		h.header.Set("x-goog-api-key", c.Gemini.APIKey)
	default:
		return nil
	}
	return h
}
