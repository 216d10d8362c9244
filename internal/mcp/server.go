package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/joescharf/bugflow/internal/classify"
	"github.com/joescharf/bugflow/internal/models"
	"github.com/joescharf/bugflow/internal/store"
	"github.com/joescharf/bugflow/internal/workflow"
)

// Server exposes the workflow engine as MCP tools.
type Server struct {
	engine     *workflow.Engine
	classifier classify.Classifier
	version    string
}

// NewServer creates the MCP server wrapper. A nil classifier falls back to
// keyword rules.
func NewServer(engine *workflow.Engine, classifier classify.Classifier, version string) *Server {
	if classifier == nil {
		classifier = classify.KeywordClassifier{}
	}
	if version == "" {
		version = "dev"
	}
	return &Server{engine: engine, classifier: classifier, version: version}
}

// MCPServer returns a configured mcp-go server with all tools registered.
func (s *Server) MCPServer() *server.MCPServer {
	srv := server.NewMCPServer("bugflow", s.version, server.WithToolCapabilities(true))

	srv.AddTool(s.listBugsTool())
	srv.AddTool(s.showBugTool())
	srv.AddTool(s.historyTool())
	srv.AddTool(s.reportBugTool())
	srv.AddTool(s.transitionTool())
	srv.AddTool(s.logHoursTool())
	srv.AddTool(s.requestReallocationTool())
	srv.AddTool(s.resolveReallocationTool())
	srv.AddTool(s.requestReopenTool())
	srv.AddTool(s.resolveReopenTool())
	srv.AddTool(s.alertsTool())
	srv.AddTool(s.toggleFavoriteTool())

	return srv
}

// ServeStdio starts the stdio transport, blocking until ctx is cancelled.
func (s *Server) ServeStdio(ctx context.Context) error {
	stdioServer := server.NewStdioServer(s.MCPServer())
	return stdioServer.Listen(ctx, os.Stdin, os.Stdout)
}

// ---------------------------------------------------------------------------
// Helpers
// ---------------------------------------------------------------------------

func actorOptions() []mcp.ToolOption {
	return []mcp.ToolOption{
		mcp.WithString("actor_email", mcp.Required(), mcp.Description("Email of the user on whose behalf the call is made")),
		mcp.WithString("actor_role", mcp.Required(), mcp.Description("Role of the acting user"),
			mcp.Enum("reporter", "developer", "tester", "teamlead", "admin")),
	}
}

func toolWith(name, desc string, opts ...mcp.ToolOption) mcp.Tool {
	all := append([]mcp.ToolOption{mcp.WithDescription(desc)}, opts...)
	return mcp.NewTool(name, all...)
}

func requireActor(request mcp.CallToolRequest) (models.ActingUser, *mcp.CallToolResult) {
	email, err := request.RequireString("actor_email")
	if err != nil || email == "" {
		return models.ActingUser{}, mcp.NewToolResultError("missing required parameter: actor_email")
	}
	role, ok := models.ParseRole(request.GetString("actor_role", ""))
	if !ok {
		return models.ActingUser{}, mcp.NewToolResultError("actor_role must be one of reporter, developer, tester, teamlead, admin")
	}
	return models.ActingUser{Email: email, Role: role}, nil
}

// optionalActor is used by read-only tools, which work without an identity.
func optionalActor(request mcp.CallToolRequest) models.ActingUser {
	role, _ := models.ParseRole(request.GetString("actor_role", ""))
	return models.ActingUser{Email: request.GetString("actor_email", ""), Role: role}
}

// errorResult renders an engine error with its kind so agents can branch on it.
func errorResult(err error) *mcp.CallToolResult {
	var we *workflow.Error
	if errors.As(err, &we) {
		return mcp.NewToolResultError(fmt.Sprintf("%s: %s", we.Kind, we.Error()))
	}
	return mcp.NewToolResultError(err.Error())
}

func jsonResult(v any) (*mcp.CallToolResult, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to marshal result: %v", err)), nil
	}
	return mcp.NewToolResultText(string(data)), nil
}

func bugResult(b *models.Bug, err error) (*mcp.CallToolResult, error) {
	if err != nil {
		return errorResult(err), nil
	}
	return jsonResult(b)
}

// ---------------------------------------------------------------------------
// Reads
// ---------------------------------------------------------------------------

// bug_list
func (s *Server) listBugsTool() (mcp.Tool, server.ToolHandlerFunc) {
	tool := toolWith("bug_list",
		"List bugs with live alert levels. The acting user's favorites are listed first.",
		mcp.WithString("status", mcp.Description("Filter by status, e.g. 'Open' or 'Fix In Progress'")),
		mcp.WithString("priority", mcp.Description("Filter by priority: Critical, High, Medium, Low")),
		mcp.WithString("team", mcp.Description("Filter by assigned team")),
		mcp.WithString("assignee", mcp.Description("Filter by developer or tester email")),
		mcp.WithBoolean("active", mcp.Description("Exclude Closed and Duplicate bugs")),
		mcp.WithBoolean("pending_requests", mcp.Description("Only bugs with a pending reallocation or reopen request")),
		mcp.WithString("actor_email", mcp.Description("Email of the viewing user, for favorites")),
	)
	return tool, s.handleListBugs
}

func (s *Server) handleListBugs(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	filter := store.BugListFilter{
		Team:            request.GetString("team", ""),
		Assignee:        request.GetString("assignee", ""),
		Active:          request.GetBool("active", false),
		PendingRequests: request.GetBool("pending_requests", false),
	}
	if v := request.GetString("status", ""); v != "" {
		st, ok := models.ParseStatus(v)
		if !ok {
			return mcp.NewToolResultError(fmt.Sprintf("unknown status: %s", v)), nil
		}
		filter.Status = st
	}
	if v := request.GetString("priority", ""); v != "" {
		p, ok := models.ParsePriority(v)
		if !ok {
			return mcp.NewToolResultError(fmt.Sprintf("unknown priority: %s", v)), nil
		}
		filter.Priority = p
	}

	views, err := s.engine.Board(ctx, filter, optionalActor(request))
	if err != nil {
		return errorResult(err), nil
	}
	if views == nil {
		views = []workflow.BugView{}
	}
	return jsonResult(views)
}

// bug_show
func (s *Server) showBugTool() (mcp.Tool, server.ToolHandlerFunc) {
	tool := toolWith("bug_show",
		"Show a bug with its requests and live alert levels.",
		mcp.WithString("bug_id", mcp.Required(), mcp.Description("Bug ID, e.g. BUG-12")),
		mcp.WithString("actor_email", mcp.Description("Email of the viewing user, for favorites")),
	)
	return tool, s.handleShowBug
}

func (s *Server) handleShowBug(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := request.RequireString("bug_id")
	if err != nil {
		return mcp.NewToolResultError("missing required parameter: bug_id"), nil
	}
	b, err := s.engine.Get(ctx, id)
	if err != nil {
		return errorResult(err), nil
	}
	v, err := s.engine.View(ctx, b, optionalActor(request))
	if err != nil {
		return errorResult(err), nil
	}
	return jsonResult(v)
}

// bug_history
func (s *Server) historyTool() (mcp.Tool, server.ToolHandlerFunc) {
	tool := toolWith("bug_history",
		"Return the audit trail of a bug, oldest first.",
		mcp.WithString("bug_id", mcp.Required(), mcp.Description("Bug ID")),
	)
	return tool, s.handleHistory
}

func (s *Server) handleHistory(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := request.RequireString("bug_id")
	if err != nil {
		return mcp.NewToolResultError("missing required parameter: bug_id"), nil
	}
	events, err := s.engine.History(ctx, id)
	if err != nil {
		return errorResult(err), nil
	}
	return jsonResult(events)
}

// bug_alerts
func (s *Server) alertsTool() (mcp.Tool, server.ToolHandlerFunc) {
	tool := toolWith("bug_alerts",
		"List live bugs that are currently alerting (unassigned or stale), highest level first.",
		mcp.WithString("actor_email", mcp.Description("Email of the viewing user, for favorites")),
	)
	return tool, s.handleAlerts
}

func (s *Server) handleAlerts(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	views, err := s.engine.Alerting(ctx, optionalActor(request))
	if err != nil {
		return errorResult(err), nil
	}
	if len(views) == 0 {
		return mcp.NewToolResultText("No bugs are alerting."), nil
	}
	return jsonResult(views)
}

// ---------------------------------------------------------------------------
// Mutations
// ---------------------------------------------------------------------------

// bug_report
func (s *Server) reportBugTool() (mcp.Tool, server.ToolHandlerFunc) {
	opts := []mcp.ToolOption{
		mcp.WithString("title", mcp.Required(), mcp.Description("Short summary of the bug")),
		mcp.WithString("description", mcp.Description("Steps to reproduce and impact")),
		mcp.WithString("application", mcp.Description("Affected application")),
		mcp.WithString("team", mcp.Description("Owning team, if known")),
		mcp.WithString("priority", mcp.Description("Critical, High, Medium or Low. Classified from the text when omitted.")),
	}
	tool := toolWith("bug_report", "Report a new bug. It starts in Open status.", append(opts, actorOptions()...)...)
	return tool, s.handleReportBug
}

func (s *Server) handleReportBug(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	actor, res := requireActor(request)
	if res != nil {
		return res, nil
	}
	title, err := request.RequireString("title")
	if err != nil {
		return mcp.NewToolResultError("missing required parameter: title"), nil
	}
	desc := request.GetString("description", "")

	var prio models.Priority
	if v := request.GetString("priority", ""); v != "" {
		p, ok := models.ParsePriority(v)
		if !ok {
			return mcp.NewToolResultError(fmt.Sprintf("unknown priority: %s", v)), nil
		}
		prio = p
	} else if prio, err = s.classifier.Classify(ctx, title, desc); err != nil {
		return errorResult(err), nil
	}

	return bugResult(s.engine.Report(ctx, workflow.NewBug{
		Title:       title,
		Description: desc,
		Application: request.GetString("application", ""),
		Team:        request.GetString("team", ""),
		Priority:    prio,
	}, actor))
}

// bug_transition
func (s *Server) transitionTool() (mcp.Tool, server.ToolHandlerFunc) {
	opts := []mcp.ToolOption{
		mcp.WithString("bug_id", mcp.Required(), mcp.Description("Bug ID")),
		mcp.WithString("status", mcp.Required(), mcp.Description("Target status; must be a successor of the current one")),
	}
	tool := toolWith("bug_transition", "Move a bug to the next status in its lifecycle.", append(opts, actorOptions()...)...)
	return tool, s.handleTransition
}

func (s *Server) handleTransition(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	actor, res := requireActor(request)
	if res != nil {
		return res, nil
	}
	id, err := request.RequireString("bug_id")
	if err != nil {
		return mcp.NewToolResultError("missing required parameter: bug_id"), nil
	}
	v, _ := request.RequireString("status")
	target, ok := models.ParseStatus(v)
	if !ok {
		return mcp.NewToolResultError(fmt.Sprintf("unknown status: %s", v)), nil
	}
	if err := workflow.CheckTransition(actor, target); err != nil {
		return errorResult(err), nil
	}
	return bugResult(s.engine.RequestTransition(ctx, id, target, actor))
}

// bug_log_hours
func (s *Server) logHoursTool() (mcp.Tool, server.ToolHandlerFunc) {
	opts := []mcp.ToolOption{
		mcp.WithString("bug_id", mcp.Required(), mcp.Description("Bug ID")),
		mcp.WithNumber("hours", mcp.Required(), mcp.Description("Total hours spent")),
		mcp.WithString("role", mcp.Description("developer or tester; defaults to the actor's role")),
	}
	tool := toolWith("bug_log_hours", "Record developer resolution or tester validation hours.", append(opts, actorOptions()...)...)
	return tool, s.handleLogHours
}

func (s *Server) handleLogHours(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	actor, res := requireActor(request)
	if res != nil {
		return res, nil
	}
	id, err := request.RequireString("bug_id")
	if err != nil {
		return mcp.NewToolResultError("missing required parameter: bug_id"), nil
	}
	hours, err := request.RequireFloat("hours")
	if err != nil {
		return mcp.NewToolResultError("missing required parameter: hours"), nil
	}
	role := actor.Role
	if v := request.GetString("role", ""); v != "" {
		r, ok := models.ParseRole(v)
		if !ok || !r.WorkRole() {
			return mcp.NewToolResultError("role must be developer or tester"), nil
		}
		role = r
	}
	if !workflow.MayLogHours(actor.Role, role) {
		return errorResult(workflow.Forbidden("hours", "role %q may not log %s hours", actor.Role, role)), nil
	}
	return bugResult(s.engine.LogHours(ctx, id, role, hours, actor))
}

// bug_request_reallocation
func (s *Server) requestReallocationTool() (mcp.Tool, server.ToolHandlerFunc) {
	opts := []mcp.ToolOption{
		mcp.WithString("bug_id", mcp.Required(), mcp.Description("Bug ID")),
		mcp.WithString("reason", mcp.Required(), mcp.Description("Why the bug should go to someone else (10-100 characters)")),
	}
	tool := toolWith("bug_request_reallocation",
		"Ask a team lead to hand the acting developer's or tester's slot on a bug to someone else.",
		append(opts, actorOptions()...)...)
	return tool, s.handleRequestReallocation
}

func (s *Server) handleRequestReallocation(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	actor, res := requireActor(request)
	if res != nil {
		return res, nil
	}
	id, err := request.RequireString("bug_id")
	if err != nil {
		return mcp.NewToolResultError("missing required parameter: bug_id"), nil
	}
	if !workflow.MayRequestReallocation(actor.Role) {
		return errorResult(workflow.Forbidden("request reallocation", "role %q cannot be reallocated", actor.Role)), nil
	}
	b, err := s.engine.RequestReallocation(ctx, id, actor.Role, actor.Email, request.GetString("reason", ""))
	if err != nil {
		return errorResult(err), nil
	}
	return createdResult(b, models.RequestKindReallocation, actor.Email)
}

// bug_resolve_reallocation
func (s *Server) resolveReallocationTool() (mcp.Tool, server.ToolHandlerFunc) {
	opts := []mcp.ToolOption{
		mcp.WithString("bug_id", mcp.Required(), mcp.Description("Bug ID")),
		mcp.WithString("request_id", mcp.Required(), mcp.Description("Reallocation request ID")),
		mcp.WithString("action", mcp.Required(), mcp.Description("Approved or Rejected"), mcp.Enum("Approved", "Rejected")),
		mcp.WithString("new_assignee", mcp.Description("Email of the new developer or tester; required when approving")),
	}
	tool := toolWith("bug_resolve_reallocation", "Approve or reject a pending reallocation request.", append(opts, actorOptions()...)...)
	return tool, s.handleResolveReallocation
}

func (s *Server) handleResolveReallocation(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	actor, res := requireActor(request)
	if res != nil {
		return res, nil
	}
	id, reqID, action, res := resolveArgs(request)
	if res != nil {
		return res, nil
	}
	if !workflow.MayResolve(actor.Role) {
		return errorResult(workflow.Forbidden("resolve reallocation", "role %q may not resolve requests", actor.Role)), nil
	}
	return bugResult(s.engine.ResolveReallocation(ctx, id, reqID, action, request.GetString("new_assignee", ""), actor))
}

// bug_request_reopen
func (s *Server) requestReopenTool() (mcp.Tool, server.ToolHandlerFunc) {
	opts := []mcp.ToolOption{
		mcp.WithString("bug_id", mcp.Required(), mcp.Description("Bug ID of a Closed bug")),
		mcp.WithString("reason", mcp.Required(), mcp.Description("Why the bug should be reopened (10-100 characters)")),
	}
	tool := toolWith("bug_request_reopen", "Ask a team lead to reopen a closed bug.", append(opts, actorOptions()...)...)
	return tool, s.handleRequestReopen
}

func (s *Server) handleRequestReopen(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	actor, res := requireActor(request)
	if res != nil {
		return res, nil
	}
	id, err := request.RequireString("bug_id")
	if err != nil {
		return mcp.NewToolResultError("missing required parameter: bug_id"), nil
	}
	if !workflow.MayRequestReopen(actor.Role) {
		return errorResult(workflow.Forbidden("request reopen", "role %q may not request a reopen", actor.Role)), nil
	}
	b, err := s.engine.RequestReopen(ctx, id, actor, request.GetString("reason", ""))
	if err != nil {
		return errorResult(err), nil
	}
	return createdResult(b, models.RequestKindReopen, actor.Email)
}

// bug_resolve_reopen
func (s *Server) resolveReopenTool() (mcp.Tool, server.ToolHandlerFunc) {
	opts := []mcp.ToolOption{
		mcp.WithString("bug_id", mcp.Required(), mcp.Description("Bug ID")),
		mcp.WithString("request_id", mcp.Required(), mcp.Description("Reopen request ID")),
		mcp.WithString("action", mcp.Required(), mcp.Description("Approved or Rejected"), mcp.Enum("Approved", "Rejected")),
	}
	tool := toolWith("bug_resolve_reopen",
		"Approve or reject a pending reopen request. Approval moves the bug back to Assigned (or Open if no developer).",
		append(opts, actorOptions()...)...)
	return tool, s.handleResolveReopen
}

func (s *Server) handleResolveReopen(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	actor, res := requireActor(request)
	if res != nil {
		return res, nil
	}
	id, reqID, action, res := resolveArgs(request)
	if res != nil {
		return res, nil
	}
	if !workflow.MayResolve(actor.Role) {
		return errorResult(workflow.Forbidden("resolve reopen", "role %q may not resolve requests", actor.Role)), nil
	}
	return bugResult(s.engine.ResolveReopen(ctx, id, reqID, action, actor))
}

func resolveArgs(request mcp.CallToolRequest) (bugID, requestID string, action models.RequestStatus, res *mcp.CallToolResult) {
	bugID, err := request.RequireString("bug_id")
	if err != nil {
		return "", "", "", mcp.NewToolResultError("missing required parameter: bug_id")
	}
	requestID, err = request.RequireString("request_id")
	if err != nil {
		return "", "", "", mcp.NewToolResultError("missing required parameter: request_id")
	}
	v := request.GetString("action", "")
	action, ok := models.ParseDecision(v)
	if !ok {
		return "", "", "", mcp.NewToolResultError(fmt.Sprintf("action must be Approved or Rejected, got %q", v))
	}
	return bugID, requestID, action, nil
}

func createdResult(b *models.Bug, kind models.RequestKind, requester string) (*mcp.CallToolResult, error) {
	out := struct {
		Bug       *models.Bug `json:"bug"`
		RequestID string      `json:"requestId"`
	}{Bug: b}
	if r, err := workflow.LatestRequest(b, kind, requester); err == nil {
		out.RequestID = r.ID
	}
	return jsonResult(out)
}

// bug_toggle_favorite
func (s *Server) toggleFavoriteTool() (mcp.Tool, server.ToolHandlerFunc) {
	tool := toolWith("bug_toggle_favorite",
		"Star or unstar a bug for the acting user. Starred bugs are listed first.",
		mcp.WithString("bug_id", mcp.Required(), mcp.Description("Bug ID")),
		mcp.WithString("actor_email", mcp.Required(), mcp.Description("Email of the user")),
	)
	return tool, s.handleToggleFavorite
}

func (s *Server) handleToggleFavorite(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := request.RequireString("bug_id")
	if err != nil {
		return mcp.NewToolResultError("missing required parameter: bug_id"), nil
	}
	email, err := request.RequireString("actor_email")
	if err != nil || email == "" {
		return mcp.NewToolResultError("missing required parameter: actor_email"), nil
	}
	on, err := s.engine.ToggleFavorite(ctx, id, models.ActingUser{Email: email})
	if err != nil {
		return errorResult(err), nil
	}
	if on {
		return mcp.NewToolResultText(fmt.Sprintf("Starred %s", id)), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf("Unstarred %s", id)), nil
}
