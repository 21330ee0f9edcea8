package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Lynrbe/aws-cloudops-agent/runtime/tools"
)

type staticTokens string

func (s staticTokens) Token(context.Context) (string, error) { return string(s), nil }

func TestNewValidatesOptions(t *testing.T) {
	_, err := New(Options{Tokens: staticTokens("t")})
	require.Error(t, err)

	_, err = New(Options{Endpoint: "https://gw.example.com/mcp"})
	require.Error(t, err)
}

func TestSearchInvokesBuiltinTool(t *testing.T) {
	var got rpcRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer jwt-token", r.Header.Get("Authorization"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		fmt.Fprint(w, `{"result":{"structuredContent":{"tools":[
			{"name":"bac-tool___ec2_read_operations","description":"List EC2 resources","inputSchema":{"type":"object"}},
			{"name":"bac-tool___s3_read_operations","description":"List S3 buckets","inputSchema":{"type":"object"}}
		]}}}`)
	}))
	defer srv.Close()

	c, err := New(Options{Endpoint: srv.URL, Tokens: staticTokens("jwt-token")})
	require.NoError(t, err)

	defs, err := c.Search(context.Background(), "ec2 instances")
	require.NoError(t, err)
	require.Len(t, defs, 2)
	assert.Equal(t, "bac-tool___ec2_read_operations", defs[0].Name)

	assert.Equal(t, "tools/call", got.Method)
	assert.Equal(t, searchToolName, got.Params.Name)
	assert.Equal(t, "ec2 instances", got.Params.Arguments["query"])
}

func TestSearchCapsResults(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var tools []map[string]any
		for i := 0; i < 25; i++ {
			tools = append(tools, map[string]any{"name": fmt.Sprintf("tool_%d", i), "description": "d"})
		}
		resp := map[string]any{"result": map[string]any{"structuredContent": map[string]any{"tools": tools}}}
		require.NoError(t, json.NewEncoder(w).Encode(resp))
	}))
	defer srv.Close()

	c, err := New(Options{Endpoint: srv.URL, Tokens: staticTokens("t")})
	require.NoError(t, err)

	defs, err := c.Search(context.Background(), "anything")
	require.NoError(t, err)
	assert.Len(t, defs, tools.MaxSearchResults)
	assert.Equal(t, "tool_0", defs[0].Name)
}

func TestSearchDropsInvalidSchemas(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"result":{"structuredContent":{"tools":[
			{"name":"good","description":"d","inputSchema":{"type":"object"}},
			{"name":"bad","description":"d","inputSchema":{"type":12}}
		]}}}`)
	}))
	defer srv.Close()

	c, err := New(Options{Endpoint: srv.URL, Tokens: staticTokens("t")})
	require.NoError(t, err)

	defs, err := c.Search(context.Background(), "q")
	require.NoError(t, err)
	require.Len(t, defs, 1)
	assert.Equal(t, "good", defs[0].Name)
}

func TestSearchEmptyResultIsNotError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"result":{"structuredContent":{"tools":[]}}}`)
	}))
	defer srv.Close()

	c, err := New(Options{Endpoint: srv.URL, Tokens: staticTokens("t")})
	require.NoError(t, err)

	defs, err := c.Search(context.Background(), "q")
	require.NoError(t, err)
	assert.Empty(t, defs)
}

func TestSearchSurfacesGatewayError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"error":{"code":-32000,"message":"search unavailable"}}`)
	}))
	defer srv.Close()

	c, err := New(Options{Endpoint: srv.URL, Tokens: staticTokens("t")})
	require.NoError(t, err)

	_, err = c.Search(context.Background(), "q")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "search unavailable")
}

func TestListToolsFollowsCursor(t *testing.T) {
	var calls []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req rpcRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		calls = append(calls, req.Params.Cursor)
		if req.Params.Cursor == "" {
			fmt.Fprint(w, `{"result":{"tools":[{"name":"a","description":"d"}],"nextCursor":"page-2"}}`)
			return
		}
		fmt.Fprint(w, `{"result":{"tools":[{"name":"b","description":"d"}]}}`)
	}))
	defer srv.Close()

	c, err := New(Options{Endpoint: srv.URL, Tokens: staticTokens("t")})
	require.NoError(t, err)

	defs, err := c.ListTools(context.Background())
	require.NoError(t, err)
	require.Len(t, defs, 2)
	assert.Equal(t, []string{"", "page-2"}, calls)
	assert.Equal(t, "b", defs[1].Name)
}
