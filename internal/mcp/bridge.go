package mcp

import (
	"context"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	mcpclient "github.com/mark3labs/mcp-go/client"
	mcpgo "github.com/mark3labs/mcp-go/mcp"

	"github.com/nextlevelbuilder/beacon/internal/tools"
)

// bridgeTool exposes one remote MCP tool through the gateway's tools.Tool
// interface. The registered name is "{prefix}{original}" (prefix defaults
// to "{server}_") so two servers can ship a tool of the same name.
type bridgeTool struct {
	server     string
	registered string
	original   string
	desc       string
	schema     map[string]any
	client     *mcpclient.Client
	timeout    time.Duration
	connected  *atomic.Bool
}

func newBridgeTool(server string, mt mcpgo.Tool, client *mcpclient.Client, prefix string, timeoutSec int, connected *atomic.Bool) *bridgeTool {
	if prefix == "" {
		prefix = server + "_"
	}
	schema := map[string]any{"type": "object"}
	if mt.InputSchema.Type != "" {
		schema["type"] = mt.InputSchema.Type
	}
	if len(mt.InputSchema.Properties) > 0 {
		schema["properties"] = mt.InputSchema.Properties
	}
	if len(mt.InputSchema.Required) > 0 {
		schema["required"] = mt.InputSchema.Required
	}
	return &bridgeTool{
		server:     server,
		registered: prefix + mt.Name,
		original:   mt.Name,
		desc:       mt.Description,
		schema:     schema,
		client:     client,
		timeout:    time.Duration(timeoutSec) * time.Second,
		connected:  connected,
	}
}

func (t *bridgeTool) Name() string        { return t.registered }
func (t *bridgeTool) Description() string { return t.desc }

func (t *bridgeTool) Parameters() map[string]interface{} { return t.schema }

func (t *bridgeTool) Execute(ctx context.Context, args map[string]interface{}) *tools.Result {
	if !t.connected.Load() {
		return tools.ErrorResult(fmt.Sprintf("plugin server %q is not connected", t.server))
	}

	callCtx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()

	req := mcpgo.CallToolRequest{}
	req.Params.Name = t.original
	req.Params.Arguments = args

	res, err := t.client.CallTool(callCtx, req)
	if err != nil {
		return tools.ErrorResult(fmt.Sprintf("call %s: %v", t.original, err)).WithError(err)
	}

	text := flattenContent(res)
	if res.IsError {
		return tools.ErrorResult(text)
	}
	return tools.NewResult(text)
}

func flattenContent(res *mcpgo.CallToolResult) string {
	var parts []string
	for _, c := range res.Content {
		if tc, ok := mcpgo.AsTextContent(c); ok {
			parts = append(parts, tc.Text)
		}
	}
	if len(parts) == 0 {
		return "(no output)"
	}
	return strings.Join(parts, "\n")
}
