// Package permissions is a thin stand-in for the permissions MCP
// sub-service spec.md §1 lists as an external collaborator, specified
// only at its interface: a single tool, confirm_tool_call, that a real
// policy engine would wire a human or rule-based decision into. This
// package only exposes that interface over mark3labs/mcp-go; it carries
// no actual policy logic of its own.
package permissions

import (
	"context"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
)

// Decision is the caller-supplied policy for one confirm_tool_call
// request: given the tool name and its arguments, approve or deny it.
type Decision func(ctx context.Context, toolName string, arguments map[string]any) (approved bool, reason string)

// AlwaysApprove is the default policy when no operator policy is wired in.
func AlwaysApprove(context.Context, string, map[string]any) (bool, string) {
	return true, "no policy configured, default-approve"
}

// Server exposes confirm_tool_call over MCP.
type Server struct {
	mcp    *server.MCPServer
	decide Decision
}

// New builds a Server backed by decide (AlwaysApprove if nil).
func New(decide Decision) *Server {
	if decide == nil {
		decide = AlwaysApprove
	}
	s := &Server{decide: decide}

	s.mcp = server.NewMCPServer("ccproxy-permissions", "0.1.0")
	tool := mcp.NewTool("confirm_tool_call",
		mcp.WithDescription("Ask for approval before a pending tool call executes."),
		mcp.WithString("tool_name", mcp.Required(), mcp.Description("name of the tool about to run")),
		mcp.WithObject("arguments", mcp.Description("arguments the tool would be called with")),
	)
	s.mcp.AddTool(tool, s.handleConfirmToolCall)
	return s
}

func (s *Server) handleConfirmToolCall(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := req.GetArguments()

	toolName, _ := args["tool_name"].(string)
	if toolName == "" {
		return mcp.NewToolResultError("tool_name is required"), nil
	}
	toolArgs, _ := args["arguments"].(map[string]any)

	approved, reason := s.decide(ctx, toolName, toolArgs)
	if !approved {
		return mcp.NewToolResultText(fmt.Sprintf("denied: %s", reason)), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf("approved: %s", reason)), nil
}

// ServeStdio runs the server over stdio until stdin closes.
func (s *Server) ServeStdio() error {
	return server.ServeStdio(s.mcp)
}
