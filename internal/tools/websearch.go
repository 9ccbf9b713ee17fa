package tools

import (
	"context"
	"fmt"
	"html"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/devcrew/devcrew/internal/common/apperr"
	"github.com/devcrew/devcrew/internal/stream"
)

const (
	defaultSearchEndpoint = "https://html.duckduckgo.com/html/"
	maxSearchResults      = 5
)

// SearchResult is one web search hit.
type SearchResult struct {
	Title   string `json:"title"`
	URL     string `json:"url"`
	Snippet string `json:"snippet"`
}

// WebSearchTool queries the DuckDuckGo HTML endpoint and scrapes results.
type WebSearchTool struct {
	endpoint string
	client   *http.Client
}

// NewWebSearchTool builds the web_search tool.
func NewWebSearchTool() *WebSearchTool {
	return &WebSearchTool{
		endpoint: defaultSearchEndpoint,
		client:   &http.Client{Timeout: 15 * time.Second},
	}
}

// SetEndpoint overrides the search endpoint, for tests.
func (t *WebSearchTool) SetEndpoint(endpoint string) {
	t.endpoint = endpoint
}

func (t *WebSearchTool) Name() string { return "web_search" }

func (t *WebSearchTool) Description() string {
	return "Search the web (args: query, max_results 1-5)"
}

func (t *WebSearchTool) Run(ctx context.Context, _ *stream.Context, inv Invocation) (any, error) {
	query, err := stringArg(inv, "query", true)
	if err != nil {
		return nil, err
	}

	maxResults := 3
	switch raw := inv.Args["max_results"].(type) {
	case nil:
	case int:
		maxResults = raw
	case float64:
		maxResults = int(raw)
	default:
		return nil, apperr.New(apperr.KindToolExecution, `parameter "max_results" must be a number`)
	}
	if maxResults < 1 {
		maxResults = 1
	}
	if maxResults > maxSearchResults {
		maxResults = maxSearchResults
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		t.endpoint+"?q="+url.QueryEscape(query), nil)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindToolExecution, "failed to build search request", err)
	}
	req.Header.Set("User-Agent", "Mozilla/5.0 (compatible; devcrew/1.0)")

	resp, err := t.client.Do(req)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindToolExecution, "search request failed", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, apperr.New(apperr.KindToolExecution,
			fmt.Sprintf("search returned status %d", resp.StatusCode))
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 2<<20))
	if err != nil {
		return nil, apperr.Wrap(apperr.KindToolExecution, "failed to read search response", err)
	}

	results := parseSearchResults(string(body), maxResults)
	return results, nil
}

var (
	resultLinkRe    = regexp.MustCompile(`(?s)<a[^>]+class="[^"]*result__a[^"]*"[^>]+href="([^"]+)"[^>]*>(.*?)</a>`)
	resultSnippetRe = regexp.MustCompile(`(?s)<a[^>]+class="[^"]*result__snippet[^"]*"[^>]*>(.*?)</a>`)
	tagRe           = regexp.MustCompile(`<[^>]+>`)
)

// parseSearchResults scrapes result anchors and snippets from the HTML
// results page. Snippets are matched positionally.
func parseSearchResults(page string, limit int) []SearchResult {
	links := resultLinkRe.FindAllStringSubmatch(page, limit)
	snippets := resultSnippetRe.FindAllStringSubmatch(page, limit)

	results := make([]SearchResult, 0, len(links))
	for i, match := range links {
		result := SearchResult{
			Title: cleanHTML(match[2]),
			URL:   resolveRedirect(match[1]),
		}
		if i < len(snippets) {
			result.Snippet = cleanHTML(snippets[i][1])
		}
		results = append(results, result)
	}
	return results
}

func cleanHTML(s string) string {
	return strings.TrimSpace(html.UnescapeString(tagRe.ReplaceAllString(s, "")))
}

// resolveRedirect unwraps DuckDuckGo's /l/?uddg= redirect links.
func resolveRedirect(href string) string {
	u, err := url.Parse(href)
	if err != nil {
		return href
	}
	if target := u.Query().Get("uddg"); target != "" {
		return target
	}
	return href
}
