package toolconn

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type echoInput struct {
	Text string `json:"text"`
}

// newConnectedConn wires an in-memory MCP server with an echo tool to an
// mcpConn through the SDK client session.
func newConnectedConn(t *testing.T) *mcpConn {
	t.Helper()

	server := mcp.NewServer(&mcp.Implementation{
		Name:    "test-tools",
		Version: "0.1.0",
	}, nil)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "echo",
		Description: "Echoes the input back",
	}, func(ctx context.Context, req *mcp.CallToolRequest, in echoInput) (*mcp.CallToolResult, any, error) {
		if in.Text == "boom" {
			return &mcp.CallToolResult{
				Content: []mcp.Content{&mcp.TextContent{Text: "echo refused"}},
				IsError: true,
			}, nil, nil
		}
		return &mcp.CallToolResult{
			Content: []mcp.Content{&mcp.TextContent{Text: in.Text}},
		}, nil, nil
	})

	ctx := context.Background()
	serverTransport, clientTransport := mcp.NewInMemoryTransports()

	serverSession, err := server.Connect(ctx, serverTransport, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = serverSession.Close() })

	client := mcp.NewClient(&mcp.Implementation{
		Name:    "test-client",
		Version: "0.1.0",
	}, nil)

	clientSession, err := client.Connect(ctx, clientTransport, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = clientSession.Close() })

	return &mcpConn{session: clientSession}
}

func TestMCPConnListTools(t *testing.T) {
	conn := newConnectedConn(t)

	tools, err := conn.ListTools(context.Background())
	require.NoError(t, err)
	require.Len(t, tools, 1)
	assert.Equal(t, "echo", tools[0].Name)
	assert.Equal(t, "Echoes the input back", tools[0].Description)
	assert.NotEmpty(t, tools[0].InputSchema)
}

func TestMCPConnCallTool(t *testing.T) {
	conn := newConnectedConn(t)
	ctx := context.Background()

	t.Run("returns text content", func(t *testing.T) {
		text, isError, err := conn.CallTool(ctx, "echo", map[string]any{"text": "hello"})
		require.NoError(t, err)
		assert.False(t, isError)
		assert.Equal(t, "hello", text)
	})

	t.Run("reports in-band tool errors", func(t *testing.T) {
		text, isError, err := conn.CallTool(ctx, "echo", map[string]any{"text": "boom"})
		require.NoError(t, err)
		assert.True(t, isError)
		assert.Equal(t, "echo refused", text)
	})

	t.Run("unknown tool is a protocol error", func(t *testing.T) {
		_, _, err := conn.CallTool(ctx, "missing", nil)
		assert.Error(t, err)
	})
}

func TestAuthTransport(t *testing.T) {
	var seen string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = r.Header.Get("Authorization")
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	client := &http.Client{
		Transport: &authTransport{
			credential: "Bearer tok-123",
			base:       http.DefaultTransport,
		},
	}

	resp, err := client.Get(srv.URL)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, "Bearer tok-123", seen)
}

func TestMCPDialerValidation(t *testing.T) {
	d := &MCPDialer{}
	_, err := d.Dial(context.Background(), "user-1", "Bearer tok")
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "endpoint")
}
