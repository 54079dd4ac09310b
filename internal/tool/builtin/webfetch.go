package builtin

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/haasonsaas/agentrt/internal/tool"
	"github.com/haasonsaas/agentrt/pkg/models"
)

const (
	webFetchTimeout  = 15 * time.Second
	webFetchMaxBody  = 10 * 1024 * 1024
	webFetchMaxChars = 10000
)

// WebFetchTool fetches a URL and extracts readable text, adapted from the
// teacher's websearch content extractor. It is read-only and listed among
// the default safe tools, but still goes through the same SSRF guard the
// teacher applies before dialing an arbitrary attacker-supplied host.
type WebFetchTool struct {
	tool.BaseTool
	client *http.Client
}

// NewWebFetchTool constructs a WebFetchTool with a bounded-timeout client.
func NewWebFetchTool() *WebFetchTool {
	return &WebFetchTool{client: &http.Client{Timeout: webFetchTimeout}}
}

func (t *WebFetchTool) Name() string          { return "web-fetch" }
func (t *WebFetchTool) Description() string   { return "Fetch and extract readable text content from a URL." }
func (t *WebFetchTool) IsSafeConcurrent() bool { return true }
func (t *WebFetchTool) UsageGuidance() string {
	return "Use web-fetch to read the text content of a URL. Only http/https URLs resolving to public addresses are allowed."
}

func (t *WebFetchTool) Schema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"url": map[string]any{"type": "string", "description": "The http(s) URL to fetch."},
		},
		"required": []string{"url"},
	}
}

func (t *WebFetchTool) Execute(ctx context.Context, args json.RawMessage) (*models.ToolResult, error) {
	var input struct {
		URL string `json:"url"`
	}
	if err := json.Unmarshal(args, &input); err != nil {
		return &models.ToolResult{Success: false, Error: fmt.Sprintf("invalid arguments: %v", err), ErrorType: models.ErrValidation}, nil
	}

	if err := validateURLForSSRF(input.URL); err != nil {
		return &models.ToolResult{Success: false, Error: err.Error(), ErrorType: models.ErrSecurity}, nil
	}

	runCtx, cancel := context.WithTimeout(ctx, webFetchTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(runCtx, http.MethodGet, input.URL, nil)
	if err != nil {
		return &models.ToolResult{Success: false, Error: err.Error(), ErrorType: models.ErrValidation}, nil
	}
	req.Header.Set("User-Agent", "Mozilla/5.0 (compatible; agentrt/1.0)")

	resp, err := t.client.Do(req)
	if err != nil {
		if runCtx.Err() != nil {
			return &models.ToolResult{Success: false, Error: "request timed out", ErrorType: models.ErrTimeout}, nil
		}
		return &models.ToolResult{Success: false, Error: err.Error(), ErrorType: models.ErrExecution}, nil
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return &models.ToolResult{Success: false, Error: fmt.Sprintf("HTTP %d", resp.StatusCode), ErrorType: models.ErrExecution}, nil
	}

	contentType := resp.Header.Get("Content-Type")
	if !strings.Contains(contentType, "text/html") && !strings.Contains(contentType, "text/plain") {
		return &models.ToolResult{Success: false, Error: fmt.Sprintf("unsupported content type: %s", contentType), ErrorType: models.ErrValidation}, nil
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, webFetchMaxBody))
	if err != nil {
		return &models.ToolResult{Success: false, Error: err.Error(), ErrorType: models.ErrExecution}, nil
	}

	content := extractReadableText(string(body))
	if len(content) > webFetchMaxChars {
		content = content[:webFetchMaxChars] + "..."
	}

	return &models.ToolResult{Success: true, Content: content}, nil
}

var (
	tagStripRe  = regexp.MustCompile(`(?is)<(script|style|noscript|iframe|nav|header|footer|aside)[^>]*>.*?</\s*\1\s*>`)
	titleRe     = regexp.MustCompile(`(?is)<title[^>]*>(.*?)</title>`)
	anyTagRe    = regexp.MustCompile(`(?s)<[^>]*>`)
	whitespaceRe = regexp.MustCompile(`\s+`)
)

// extractReadableText implements a simplified version of the teacher's
// readability-like extraction: strip non-content tags, pull the title, then
// collapse remaining markup to plain text.
func extractReadableText(html string) string {
	stripped := tagStripRe.ReplaceAllString(html, "")

	var title string
	if m := titleRe.FindStringSubmatch(stripped); len(m) > 1 {
		title = cleanText(m[1])
	}

	text := cleanText(anyTagRe.ReplaceAllString(stripped, " "))

	var b strings.Builder
	if title != "" {
		b.WriteString("Title: ")
		b.WriteString(title)
		b.WriteString("\n\n")
	}
	b.WriteString(text)
	return b.String()
}

func cleanText(s string) string {
	return strings.TrimSpace(whitespaceRe.ReplaceAllString(s, " "))
}

// validateURLForSSRF rejects non-http(s) schemes, localhost, and any
// hostname that resolves to a private/reserved/loopback/metadata IP,
// mirroring the teacher's validateURLForSSRF.
func validateURLForSSRF(rawURL string) error {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("invalid URL: %w", err)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return fmt.Errorf("URL scheme must be http or https, got: %s", parsed.Scheme)
	}

	hostname := parsed.Hostname()
	if hostname == "" {
		return fmt.Errorf("URL must have a hostname")
	}
	lowerHost := strings.ToLower(hostname)
	if lowerHost == "localhost" || strings.HasSuffix(lowerHost, ".localhost") {
		return fmt.Errorf("localhost URLs are not allowed")
	}

	ips, err := net.LookupIP(hostname)
	if err != nil {
		return nil
	}
	for _, ip := range ips {
		if isPrivateOrReservedIP(ip) {
			return fmt.Errorf("URL resolves to a private or reserved IP address")
		}
	}
	return nil
}

func isPrivateOrReservedIP(ip net.IP) bool {
	if ip == nil {
		return false
	}
	if ip.IsLoopback() || ip.IsLinkLocalUnicast() || ip.IsLinkLocalMulticast() || ip.IsPrivate() || ip.IsUnspecified() || ip.IsMulticast() {
		return true
	}
	if metadataIP := net.ParseIP("169.254.169.254"); ip.Equal(metadataIP) {
		return true
	}
	return false
}
