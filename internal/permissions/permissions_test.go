package permissions

import (
	"context"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"
)

func emptyCallToolRequest() mcp.CallToolRequest {
	return callToolRequestWith("", nil)
}

func callToolRequestWith(toolName string, args map[string]any) mcp.CallToolRequest {
	req := mcp.CallToolRequest{}
	arguments := map[string]any{}
	if toolName != "" {
		arguments["tool_name"] = toolName
	}
	if args != nil {
		arguments["arguments"] = args
	}
	req.Params.Arguments = arguments
	return req
}

func TestAlwaysApproveApproves(t *testing.T) {
	approved, reason := AlwaysApprove(context.Background(), "delete_file", map[string]any{"path": "/tmp/x"})
	if !approved {
		t.Fatal("expected AlwaysApprove to approve")
	}
	if reason == "" {
		t.Fatal("expected a non-empty reason")
	}
}

func TestHandleConfirmToolCallRequiresToolName(t *testing.T) {
	s := New(AlwaysApprove)
	result, err := s.handleConfirmToolCall(context.Background(), emptyCallToolRequest())
	if err != nil {
		t.Fatalf("handleConfirmToolCall: %v", err)
	}
	if !result.IsError {
		t.Fatal("expected an error result when tool_name is missing")
	}
}

func TestHandleConfirmToolCallHonoursDecision(t *testing.T) {
	denyAll := func(context.Context, string, map[string]any) (bool, string) {
		return false, "policy denies all"
	}
	s := New(denyAll)
	result, err := s.handleConfirmToolCall(context.Background(), callToolRequestWith("rm_rf", nil))
	if err != nil {
		t.Fatalf("handleConfirmToolCall: %v", err)
	}
	if result.IsError {
		t.Fatal("a denial is a successful tool call with a denied outcome, not a tool error")
	}
}
