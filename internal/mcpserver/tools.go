package mcpserver

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"go.uber.org/zap"

	"github.com/systempromptio/systemprompt-os/internal/common/logger"
	"github.com/systempromptio/systemprompt-os/internal/tools"
)

func registerTools(s *server.MCPServer, handler *tools.Handler, log *logger.Logger) {
	s.AddTool(
		mcp.NewTool(tools.ToolCreateTask,
			mcp.WithDescription("Create a new task and start a coding agent working on it."),
			mcp.WithString("instructions",
				mcp.Required(),
				mcp.Description("What the agent should do"),
			),
			mcp.WithString("working_directory",
				mcp.Description("Directory the agent operates in (optional)"),
			),
		),
		dispatch(handler, tools.ToolCreateTask, log),
	)

	s.AddTool(
		mcp.NewTool(tools.ToolUpdateTask,
			mcp.WithDescription("Send follow-up instructions to the agent working a task."),
			mcp.WithString("id",
				mcp.Required(),
				mcp.Description("The task ID"),
			),
			mcp.WithString("instructions",
				mcp.Required(),
				mcp.Description("The follow-up instructions"),
			),
		),
		dispatch(handler, tools.ToolUpdateTask, log),
	)

	s.AddTool(
		mcp.NewTool(tools.ToolEndTask,
			mcp.WithDescription("End a task, closing its agent session."),
			mcp.WithString("id",
				mcp.Required(),
				mcp.Description("The task ID"),
			),
		),
		dispatch(handler, tools.ToolEndTask, log),
	)

	s.AddTool(
		mcp.NewTool(tools.ToolReport,
			mcp.WithDescription("Report on one task (with logs) or summarize all tasks."),
			mcp.WithString("id",
				mcp.Description("The task ID (optional; omit for a summary of all tasks)"),
			),
		),
		dispatch(handler, tools.ToolReport, log),
	)

	s.AddTool(
		mcp.NewTool(tools.ToolCheckStatus,
			mcp.WithDescription("Check whether an agent backend (local CLI or host daemon) is reachable."),
		),
		dispatch(handler, tools.ToolCheckStatus, log),
	)

	s.AddTool(
		mcp.NewTool(tools.ToolCleanState,
			mcp.WithDescription("End all agent sessions and delete finished tasks."),
		),
		dispatch(handler, tools.ToolCleanState, log),
	)

	s.AddTool(
		mcp.NewTool(tools.ToolGetPrompt,
			mcp.WithDescription("Fetch a named prompt template, or list available prompts."),
			mcp.WithString("name",
				mcp.Description("The prompt name (optional)"),
			),
		),
		dispatch(handler, tools.ToolGetPrompt, log),
	)
}

// dispatch adapts one named tool to the shared envelope-based handler. The
// MCP session id is threaded through so task creation can record the
// session<->task linkage.
func dispatch(handler *tools.Handler, name string, log *logger.Logger) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		args := req.GetArguments()
		if args == nil {
			args = map[string]interface{}{}
		}
		if session := server.ClientSessionFromContext(ctx); session != nil {
			args["mcp_session_id"] = session.SessionID()
		}

		resp := handler.HandleToolCall(ctx, name, args)

		formatted, err := json.Marshal(resp)
		if err != nil {
			log.Error("failed to marshal tool response",
				zap.String("tool", name),
				zap.Error(err))
			return mcp.NewToolResultError(fmt.Sprintf("failed to format response: %v", err)), nil
		}
		if resp.Status == "error" {
			return mcp.NewToolResultError(string(formatted)), nil
		}
		return mcp.NewToolResultText(string(formatted)), nil
	}
}
