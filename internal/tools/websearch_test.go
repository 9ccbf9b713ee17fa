package tools

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const searchPage = `
<html><body>
<div class="result">
  <a rel="nofollow" class="result__a" href="//duckduckgo.com/l/?uddg=https%3A%2F%2Fgo.dev%2Fdoc%2F">The <b>Go</b> Documentation</a>
  <a class="result__snippet" href="#">Official <b>Go</b> docs &amp; tutorials.</a>
</div>
<div class="result">
  <a rel="nofollow" class="result__a" href="https://pkg.go.dev/net/http">net/http package</a>
  <a class="result__snippet" href="#">HTTP client and server implementations.</a>
</div>
<div class="result">
  <a rel="nofollow" class="result__a" href="https://example.com/three">Third result</a>
  <a class="result__snippet" href="#">Snippet three.</a>
</div>
</body></html>`

func TestWebSearchParsesResults(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "golang http server", r.URL.Query().Get("q"))
		w.Write([]byte(searchPage))
	}))
	defer srv.Close()

	tool := NewWebSearchTool()
	tool.SetEndpoint(srv.URL + "/html/")

	inv := baseInvocation()
	inv.Args = map[string]any{"query": "golang http server", "max_results": 2}
	out, err := tool.Run(context.Background(), nil, inv)
	require.NoError(t, err)

	results := out.([]SearchResult)
	require.Len(t, results, 2)
	assert.Equal(t, "The Go Documentation", results[0].Title)
	assert.Equal(t, "https://go.dev/doc/", results[0].URL)
	assert.Equal(t, "Official Go docs & tutorials.", results[0].Snippet)
	assert.Equal(t, "net/http package", results[1].Title)
	assert.Equal(t, "https://pkg.go.dev/net/http", results[1].URL)
}

func TestWebSearchClampsMaxResults(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(searchPage))
	}))
	defer srv.Close()

	tool := NewWebSearchTool()
	tool.SetEndpoint(srv.URL + "/html/")

	inv := baseInvocation()
	inv.Args = map[string]any{"query": "x", "max_results": 99}
	out, err := tool.Run(context.Background(), nil, inv)
	require.NoError(t, err)
	assert.Len(t, out.([]SearchResult), 3)

	inv.Args = map[string]any{"query": "x", "max_results": 0}
	out, err = tool.Run(context.Background(), nil, inv)
	require.NoError(t, err)
	assert.Len(t, out.([]SearchResult), 1)
}

func TestWebSearchRequiresQuery(t *testing.T) {
	tool := NewWebSearchTool()
	inv := baseInvocation()
	_, err := tool.Run(context.Background(), nil, inv)
	require.Error(t, err)
	assert.Contains(t, err.Error(), `missing parameter "query"`)
}

func TestWebSearchUpstreamError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	tool := NewWebSearchTool()
	tool.SetEndpoint(srv.URL + "/html/")

	inv := baseInvocation()
	inv.Args = map[string]any{"query": "x"}
	_, err := tool.Run(context.Background(), nil, inv)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 503")
}
