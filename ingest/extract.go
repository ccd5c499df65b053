package ingest

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path/filepath"
	"strings"
	"time"

	readability "github.com/go-shiori/go-readability"
	"github.com/ledongthuc/pdf"
	"github.com/yuin/goldmark"
)

// maxFetchBytes caps how much of a remote page we read.
const maxFetchBytes = 1 << 20

// Fetcher downloads web pages and extracts readable text.
type Fetcher struct {
	client    *http.Client
	userAgent string
}

// NewFetcher creates a fetcher with a 15-second timeout.
func NewFetcher() *Fetcher {
	return &Fetcher{
		client:    &http.Client{Timeout: 15 * time.Second},
		userAgent: "Mozilla/5.0 (compatible; ParleyBot/1.0)",
	}
}

// Fetch downloads a URL and extracts readable text. Readability
// extraction first, HTML stripping as fallback.
func (f *Fetcher) Fetch(ctx context.Context, rawURL string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, "GET", rawURL, nil)
	if err != nil {
		return "", fmt.Errorf("invalid URL: %w", err)
	}
	req.Header.Set("User-Agent", f.userAgent)

	resp, err := f.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("fetch error: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return "", fmt.Errorf("HTTP %d from %s", resp.StatusCode, rawURL)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxFetchBytes))
	if err != nil {
		return "", fmt.Errorf("read error: %w", err)
	}

	html := string(body)
	parsedURL, _ := url.Parse(rawURL)
	article, err := readability.FromReader(strings.NewReader(html), parsedURL)
	if err == nil && article.TextContent != "" {
		return strings.TrimSpace(article.TextContent), nil
	}
	return StripHTML(html), nil
}

// ExtractFile converts an uploaded file to plain text based on its
// extension. Unknown extensions are treated as plain text.
func ExtractFile(filename string, content []byte) (string, error) {
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".pdf":
		return extractPDF(content)
	case ".md", ".markdown":
		return extractMarkdown(content)
	case ".html", ".htm":
		return StripHTML(string(content)), nil
	default:
		return string(content), nil
	}
}

func extractPDF(content []byte) (string, error) {
	reader, err := pdf.NewReader(bytes.NewReader(content), int64(len(content)))
	if err != nil {
		return "", fmt.Errorf("parse pdf: %w", err)
	}

	var sb strings.Builder
	for i := 1; i <= reader.NumPage(); i++ {
		page := reader.Page(i)
		if page.V.IsNull() {
			continue
		}
		text, err := page.GetPlainText(nil)
		if err != nil {
			continue
		}
		sb.WriteString(text)
		sb.WriteString("\n")
	}
	return sb.String(), nil
}

func extractMarkdown(content []byte) (string, error) {
	var buf bytes.Buffer
	if err := goldmark.Convert(content, &buf); err != nil {
		return "", fmt.Errorf("render markdown: %w", err)
	}
	return StripHTML(buf.String()), nil
}

// StripHTML removes tags, scripts, and styles, leaving plain text with
// collapsed whitespace.
func StripHTML(html string) string {
	html = cutBetween(html, "<script", "</script>")
	html = cutBetween(html, "<style", "</style>")

	var sb strings.Builder
	inTag := false
	for _, r := range html {
		switch {
		case r == '<':
			inTag = true
			sb.WriteRune(' ')
		case r == '>':
			inTag = false
		case !inTag:
			sb.WriteRune(r)
		}
	}

	text := strings.NewReplacer(
		"&nbsp;", " ",
		"&amp;", "&",
		"&lt;", "<",
		"&gt;", ">",
		"&quot;", `"`,
		"&#39;", "'",
	).Replace(sb.String())

	return strings.Join(strings.Fields(text), " ")
}

// cutBetween removes every region from an open marker through its close
// marker, case-insensitively on the open side.
func cutBetween(s, open, close string) string {
	lower := strings.ToLower(s)
	open = strings.ToLower(open)
	close = strings.ToLower(close)

	var sb strings.Builder
	for {
		start := strings.Index(lower, open)
		if start < 0 {
			sb.WriteString(s)
			return sb.String()
		}
		end := strings.Index(lower[start:], close)
		if end < 0 {
			sb.WriteString(s[:start])
			return sb.String()
		}
		sb.WriteString(s[:start])
		cut := start + end + len(close)
		s = s[cut:]
		lower = lower[cut:]
	}
}
