package toolconn

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
)

// MCPDialer dials an MCP server over streamable HTTP, passing the user's
// bearer credential as the Authorization header.
type MCPDialer struct {
	// Endpoint is the MCP server URL
	Endpoint string

	// Name identifies this client to the server
	Name string

	// ConnectTimeout bounds connection establishment
	ConnectTimeout time.Duration
}

// Dial implements Dialer
func (d *MCPDialer) Dial(ctx context.Context, userID, credential string) (Conn, error) {
	if d.Endpoint == "" {
		return nil, fmt.Errorf("MCP endpoint is not configured")
	}

	name := d.Name
	if name == "" {
		name = "taskchat"
	}

	client := mcp.NewClient(&mcp.Implementation{
		Name:    name,
		Version: "0.1.0",
	}, nil)

	transport := &mcp.StreamableClientTransport{
		Endpoint: d.Endpoint,
		HTTPClient: &http.Client{
			Transport: &authTransport{
				credential: credential,
				base:       http.DefaultTransport,
			},
		},
	}

	connectCtx := ctx
	if d.ConnectTimeout > 0 {
		var cancel context.CancelFunc
		connectCtx, cancel = context.WithTimeout(ctx, d.ConnectTimeout)
		defer cancel()
	}

	session, err := client.Connect(connectCtx, transport, nil)
	if err != nil {
		// Connect tears down its own transport on failure and returns no
		// session, so there is nothing left to release here.
		return nil, fmt.Errorf("MCP connect failed: %w", err)
	}

	return &mcpConn{session: session}, nil
}

// authTransport injects the Authorization header into every request
type authTransport struct {
	credential string
	base       http.RoundTripper
}

func (t *authTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	clone := req.Clone(req.Context())
	clone.Header.Set("Authorization", t.credential)
	return t.base.RoundTrip(clone)
}

// mcpConn adapts an MCP client session to the Conn interface
type mcpConn struct {
	session *mcp.ClientSession
}

func (c *mcpConn) ListTools(ctx context.Context) ([]Tool, error) {
	result, err := c.session.ListTools(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to list tools: %w", err)
	}

	tools := make([]Tool, 0, len(result.Tools))
	for _, t := range result.Tools {
		var schema json.RawMessage
		if t.InputSchema != nil {
			raw, err := json.Marshal(t.InputSchema)
			if err != nil {
				return nil, fmt.Errorf("failed to encode schema for tool %s: %w", t.Name, err)
			}
			schema = raw
		}
		tools = append(tools, Tool{
			Name:        t.Name,
			Description: t.Description,
			InputSchema: schema,
		})
	}
	return tools, nil
}

func (c *mcpConn) CallTool(ctx context.Context, name string, args map[string]any) (string, bool, error) {
	result, err := c.session.CallTool(ctx, &mcp.CallToolParams{
		Name:      name,
		Arguments: args,
	})
	if err != nil {
		return "", false, fmt.Errorf("tool call %s failed: %w", name, err)
	}

	var sb strings.Builder
	for _, content := range result.Content {
		if text, ok := content.(*mcp.TextContent); ok {
			sb.WriteString(text.Text)
		}
	}
	return sb.String(), result.IsError, nil
}

// Close implements the primary shutdown capability
func (c *mcpConn) Close() error {
	return c.session.Close()
}
