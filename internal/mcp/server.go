// Package mcp exposes the sync daemon as MCP tools.
package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"pipesync/internal/api"
	"pipesync/pkg/models"
)

// StateStore is the state container mutated by the tools.
type StateStore interface {
	Snapshot() models.Snapshot
	AddPipeline(p models.Pipeline) models.Pipeline
	AddStep(pipelineID string, step models.Step) (models.Step, error)
	SetStepStatus(pipelineID, stepID string, status models.StepStatus) error
	AddRoutine(r models.Routine) models.Routine
	SetRoutineDone(id string, done bool) error
}

type Server struct {
	mcpServer *server.MCPServer
	sync      api.Syncer
	store     StateStore
}

func NewServer(sync api.Syncer, store StateStore) *Server {
	s := &Server{
		mcpServer: server.NewMCPServer(
			"pipesync",
			api.Version,
			server.WithToolCapabilities(true),
		),
		sync:  sync,
		store: store,
	}

	s.registerTools()
	return s
}

func (s *Server) GetMCPServer() *server.MCPServer {
	return s.mcpServer
}

func (s *Server) registerTools() {
	s.mcpServer.AddTool(
		mcp.NewTool(
			"sync_status",
			mcp.WithDescription("Show the cloud sync status of the session"),
		),
		s.handleSyncStatus,
	)

	s.mcpServer.AddTool(
		mcp.NewTool(
			"sync_from_cloud",
			mcp.WithDescription("Replace local pipelines and routines with the cloud copy"),
		),
		s.handleSyncFromCloud,
	)

	s.mcpServer.AddTool(
		mcp.NewTool(
			"list_pipelines",
			mcp.WithDescription("List all pipelines with their steps"),
		),
		s.handleListPipelines,
	)

	s.mcpServer.AddTool(
		mcp.NewTool(
			"add_pipeline",
			mcp.WithDescription("Create a new pipeline"),
			mcp.WithString("title", mcp.Required(), mcp.Description("The pipeline title")),
			mcp.WithString("subtitle", mcp.Description("A short subtitle")),
			mcp.WithString("color", mcp.Description("Display color, e.g. #ff8800")),
		),
		s.handleAddPipeline,
	)

	s.mcpServer.AddTool(
		mcp.NewTool(
			"add_step",
			mcp.WithDescription("Append a step to a pipeline"),
			mcp.WithString("pipeline_id", mcp.Required(), mcp.Description("The ID of the pipeline")),
			mcp.WithString("title", mcp.Required(), mcp.Description("The step title")),
			mcp.WithString("description", mcp.Description("Optional details")),
		),
		s.handleAddStep,
	)

	s.mcpServer.AddTool(
		mcp.NewTool(
			"set_step_status",
			mcp.WithDescription("Change the status of a step"),
			mcp.WithString("pipeline_id", mcp.Required(), mcp.Description("The ID of the pipeline")),
			mcp.WithString("step_id", mcp.Required(), mcp.Description("The ID of the step")),
			mcp.WithString("status", mcp.Required(),
				mcp.Enum(string(models.StepStatusPending), string(models.StepStatusActive), string(models.StepStatusLocked), string(models.StepStatusDone)),
				mcp.Description("The new status")),
		),
		s.handleSetStepStatus,
	)

	s.mcpServer.AddTool(
		mcp.NewTool(
			"add_routine",
			mcp.WithDescription("Create a daily routine"),
			mcp.WithString("title", mcp.Required(), mcp.Description("The routine title")),
			mcp.WithString("time", mcp.Description("Time of day as HH:MM")),
			mcp.WithString("period", mcp.Enum(string(models.PeriodMorning), string(models.PeriodAfternoon)), mcp.Description("Part of the day")),
		),
		s.handleAddRoutine,
	)

	s.mcpServer.AddTool(
		mcp.NewTool(
			"set_routine_done",
			mcp.WithDescription("Mark a routine done or not done for today"),
			mcp.WithString("id", mcp.Required(), mcp.Description("The ID of the routine")),
			mcp.WithBoolean("done", mcp.Required(), mcp.Description("Whether the routine is done")),
		),
		s.handleSetRoutineDone,
	)
}

func (s *Server) handleSyncStatus(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return jsonResult(api.StatusResponse{Status: s.sync.Status(), Identity: s.sync.Identity()})
}

func (s *Server) handleSyncFromCloud(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	result := s.sync.SyncFromCloud(ctx)
	if !result.OK {
		return mcp.NewToolResultError(result.Message), nil
	}
	return mcp.NewToolResultText(result.Message), nil
}

func (s *Server) handleListPipelines(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return jsonResult(s.store.Snapshot().Pipelines)
}

func (s *Server) handleAddPipeline(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, ok := request.Params.Arguments.(map[string]interface{})
	if !ok {
		return mcp.NewToolResultError("Invalid arguments type"), nil
	}

	title, ok := args["title"].(string)
	if !ok || title == "" {
		return mcp.NewToolResultError("Missing required parameter: title"), nil
	}
	subtitle, _ := args["subtitle"].(string)
	color, _ := args["color"].(string)

	p := s.store.AddPipeline(models.Pipeline{Title: title, Subtitle: subtitle, Color: color})
	return jsonResult(p)
}

func (s *Server) handleAddStep(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, ok := request.Params.Arguments.(map[string]interface{})
	if !ok {
		return mcp.NewToolResultError("Invalid arguments type"), nil
	}

	pipelineID, ok := args["pipeline_id"].(string)
	if !ok || pipelineID == "" {
		return mcp.NewToolResultError("Missing required parameter: pipeline_id"), nil
	}
	title, ok := args["title"].(string)
	if !ok || title == "" {
		return mcp.NewToolResultError("Missing required parameter: title"), nil
	}
	description, _ := args["description"].(string)

	step, err := s.store.AddStep(pipelineID, models.Step{Title: title, Description: description})
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to add step: %v", err)), nil
	}
	return jsonResult(step)
}

func (s *Server) handleSetStepStatus(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, ok := request.Params.Arguments.(map[string]interface{})
	if !ok {
		return mcp.NewToolResultError("Invalid arguments type"), nil
	}

	pipelineID, _ := args["pipeline_id"].(string)
	stepID, _ := args["step_id"].(string)
	if pipelineID == "" || stepID == "" {
		return mcp.NewToolResultError("Missing required parameters: pipeline_id, step_id"), nil
	}
	raw, _ := args["status"].(string)
	status, err := models.ParseStepStatus(raw)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	if err := s.store.SetStepStatus(pipelineID, stepID, status); err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to set status: %v", err)), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf("Step %s is now %s", stepID, status)), nil
}

func (s *Server) handleAddRoutine(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, ok := request.Params.Arguments.(map[string]interface{})
	if !ok {
		return mcp.NewToolResultError("Invalid arguments type"), nil
	}

	title, ok := args["title"].(string)
	if !ok || title == "" {
		return mcp.NewToolResultError("Missing required parameter: title"), nil
	}
	at, _ := args["time"].(string)
	period := models.PeriodMorning
	if p, _ := args["period"].(string); p != "" {
		period = models.RoutinePeriod(p)
	}
	if period != models.PeriodMorning && period != models.PeriodAfternoon {
		return mcp.NewToolResultError(fmt.Sprintf("Unknown period %q", period)), nil
	}

	r := s.store.AddRoutine(models.Routine{Title: title, Time: at, Period: period})
	return jsonResult(r)
}

func (s *Server) handleSetRoutineDone(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, ok := request.Params.Arguments.(map[string]interface{})
	if !ok {
		return mcp.NewToolResultError("Invalid arguments type"), nil
	}

	id, ok := args["id"].(string)
	if !ok || id == "" {
		return mcp.NewToolResultError("Missing required parameter: id"), nil
	}
	done, ok := args["done"].(bool)
	if !ok {
		return mcp.NewToolResultError("Missing required parameter: done"), nil
	}

	if err := s.store.SetRoutineDone(id, done); err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to update routine: %v", err)), nil
	}
	return mcp.NewToolResultText("Routine updated"), nil
}

func jsonResult(v any) (*mcp.CallToolResult, error) {
	jsonBytes, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return mcp.NewToolResultText(string(jsonBytes)), nil
}

// Handler serves the MCP SSE transport under /mcp.
func Handler(mcpServer *server.MCPServer) http.Handler {
	// Use SSE server for /mcp/sse and /mcp/message endpoints
	sseServer := server.NewSSEServer(mcpServer, server.WithStaticBasePath("/mcp"))

	mux := http.NewServeMux()
	mux.HandleFunc("/mcp/sse", sseServer.ServeHTTP)
	mux.HandleFunc("/mcp/message", sseServer.ServeHTTP)
	return mux
}
