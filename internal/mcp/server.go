package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/joescharf/opsdesk/internal/blob"
	"github.com/joescharf/opsdesk/internal/delay"
	"github.com/joescharf/opsdesk/internal/distribute"
	"github.com/joescharf/opsdesk/internal/metrics"
	"github.com/joescharf/opsdesk/internal/models"
)

// Server exposes the delay classifier and the folder distributor as MCP tools.
type Server struct {
	thresholds *delay.Thresholds
	dist       *distribute.Distributor
	blobs      blob.Store
	metrics    *metrics.Metrics

	// SkipAssigned is the distribution default when a call does not say.
	SkipAssigned bool
}

// NewServer creates the MCP server wrapper. thresholds defaults to the
// built-in table when nil; blobs may be nil.
func NewServer(thresholds *delay.Thresholds, dist *distribute.Distributor, blobs blob.Store, m *metrics.Metrics) *Server {
	if thresholds == nil {
		thresholds = delay.DefaultThresholds()
	}
	if m == nil {
		m = metrics.New()
	}
	return &Server{
		thresholds: thresholds,
		dist:       dist,
		blobs:      blobs,
		metrics:    m,
	}
}

// MCPServer returns a configured mcp-go server with all tools registered.
func (s *Server) MCPServer() *server.MCPServer {
	srv := server.NewMCPServer("opsdesk", "1.0.0", server.WithToolCapabilities(true))

	srv.AddTool(s.classifyDelayTool())
	srv.AddTool(s.listThresholdsTool())
	srv.AddTool(s.listReviewersTool())
	srv.AddTool(s.registerReviewerTool())
	srv.AddTool(s.distributeTool())
	srv.AddTool(s.reviewQueueTool())
	srv.AddTool(s.recordDecisionTool())

	return srv
}

// ServeStdio starts the stdio transport, blocking until ctx is cancelled.
func (s *Server) ServeStdio(ctx context.Context) error {
	srv := s.MCPServer()
	stdioServer := server.NewStdioServer(srv)
	return stdioServer.Listen(ctx, os.Stdin, os.Stdout)
}

func jsonResult(v any) (*mcp.CallToolResult, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to marshal result: %v", err)), nil
	}
	return mcp.NewToolResultText(string(data)), nil
}

// ---------------------------------------------------------------------------
// Delay classifier
// ---------------------------------------------------------------------------

// opsdesk_classify_delay
func (s *Server) classifyDelayTool() (mcp.Tool, server.ToolHandlerFunc) {
	tool := mcp.NewTool("opsdesk_classify_delay",
		mcp.WithDescription("Classify one processing step. Returns whether it is delayed and its priority (Low, Medium, High) against the task's threshold."),
		mcp.WithString("task", mcp.Required(), mcp.Description("Task name, matched exactly against the threshold table")),
		mcp.WithString("delay_hours", mcp.Description("Elapsed hours in the task. Blank or non-numeric counts as absent")),
		mcp.WithNumber("threshold_hours", mcp.Description("Override the configured threshold for this call")),
	)
	return tool, s.handleClassifyDelay
}

type classifyOut struct {
	Task           string          `json:"task"`
	DelayHours     *float64        `json:"delay_hours"`
	ThresholdHours float64         `json:"threshold_hours"`
	IsDelayed      bool            `json:"is_delayed"`
	Priority       models.Priority `json:"priority"`
	Critical       bool            `json:"critical"`
}

func (s *Server) handleClassifyDelay(_ context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	task, err := request.RequireString("task")
	if err != nil {
		return mcp.NewToolResultError("missing required parameter: task"), nil
	}

	var hours *float64
	switch v := request.GetArguments()["delay_hours"].(type) {
	case float64:
		hours = &v
	case string:
		hours = delay.ParseHours(v)
	case int:
		f := float64(v)
		hours = &f
	}

	threshold := s.thresholds.Lookup(task)
	if override := request.GetFloat("threshold_hours", 0); override > 0 {
		threshold = override
	}

	c := delay.Classify(hours, threshold)
	row := models.TrackingRow{DelayHours: hours, ThresholdHours: threshold}
	return jsonResult(classifyOut{
		Task:           task,
		DelayHours:     hours,
		ThresholdHours: threshold,
		IsDelayed:      c.IsDelayed,
		Priority:       c.Priority,
		Critical:       row.Critical(),
	})
}

// opsdesk_list_thresholds
func (s *Server) listThresholdsTool() (mcp.Tool, server.ToolHandlerFunc) {
	tool := mcp.NewTool("opsdesk_list_thresholds",
		mcp.WithDescription("List the configured delay threshold (hours) for every known task. Tasks not listed use the 24 hour default."),
	)
	return tool, s.handleListThresholds
}

func (s *Server) handleListThresholds(_ context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return jsonResult(map[string]any{
		"default_hours": delay.DefaultThresholdHours,
		"thresholds":    s.thresholds.Snapshot(),
	})
}

// ---------------------------------------------------------------------------
// Folder distributor
// ---------------------------------------------------------------------------

// opsdesk_list_reviewers
func (s *Server) listReviewersTool() (mcp.Tool, server.ToolHandlerFunc) {
	tool := mcp.NewTool("opsdesk_list_reviewers",
		mcp.WithDescription("List registered reviewers with their tokens and item counts."),
	)
	return tool, s.handleListReviewers
}

type reviewerOut struct {
	Token    string  `json:"token"`
	Name     string  `json:"name"`
	Email    string  `json:"email,omitempty"`
	Assigned int     `json:"assigned"`
	Reviewed int     `json:"reviewed"`
	Progress float64 `json:"progress"`
}

func (s *Server) handleListReviewers(ctx context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	reviewers, err := s.dist.Reviewers(ctx)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to list reviewers: %v", err)), nil
	}

	out := make([]reviewerOut, 0, len(reviewers))
	for _, r := range reviewers {
		q, err := s.dist.Queue(ctx, r.Token)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("failed to load queue for %s: %v", r.Name, err)), nil
		}
		out = append(out, reviewerOut{
			Token:    r.Token,
			Name:     r.Name,
			Email:    r.Email,
			Assigned: len(q.Assigned),
			Reviewed: len(q.Reviewed),
			Progress: q.Progress,
		})
	}
	return jsonResult(out)
}

// opsdesk_register_reviewer
func (s *Server) registerReviewerTool() (mcp.Tool, server.ToolHandlerFunc) {
	tool := mcp.NewTool("opsdesk_register_reviewer",
		mcp.WithDescription("Register a reviewer and return their access token."),
		mcp.WithString("name", mcp.Required(), mcp.Description("Display name, unique among reviewers")),
		mcp.WithString("email", mcp.Description("Contact email")),
	)
	return tool, s.handleRegisterReviewer
}

func (s *Server) handleRegisterReviewer(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	name, err := request.RequireString("name")
	if err != nil {
		return mcp.NewToolResultError("missing required parameter: name"), nil
	}
	r, err := s.dist.RegisterReviewer(ctx, name, request.GetString("email", ""))
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to register reviewer: %v", err)), nil
	}
	return jsonResult(reviewerOut{Token: r.Token, Name: r.Name, Email: r.Email})
}

// opsdesk_distribute
func (s *Server) distributeTool() (mcp.Tool, server.ToolHandlerFunc) {
	tool := mcp.NewTool("opsdesk_distribute",
		mcp.WithDescription("Split work items across reviewers in order. Pass items explicitly, or a folder whose entries become the items."),
		mcp.WithArray("tokens", mcp.Required(), mcp.Description("Reviewer tokens, in distribution order"), mcp.Items(map[string]any{"type": "string"})),
		mcp.WithArray("items", mcp.Description("Item ids to distribute"), mcp.Items(map[string]any{"type": "string"})),
		mcp.WithString("folder", mcp.Description("Blob folder whose entries are distributed when items is empty")),
		mcp.WithBoolean("skip_assigned", mcp.Description("Leave out items that were already distributed")),
	)
	return tool, s.handleDistribute
}

func (s *Server) handleDistribute(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	tokens := request.GetStringSlice("tokens", nil)
	if len(tokens) == 0 {
		return mcp.NewToolResultError("missing required parameter: tokens"), nil
	}

	items := request.GetStringSlice("items", nil)
	if folder := strings.TrimSpace(request.GetString("folder", "")); len(items) == 0 && folder != "" {
		if s.blobs == nil {
			return mcp.NewToolResultError("no blob store configured"), nil
		}
		listed, err := s.blobs.List(ctx, folder)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("failed to list folder %s: %v", folder, err)), nil
		}
		items = listed
	}

	opts := distribute.Options{SkipAssigned: request.GetBool("skip_assigned", s.SkipAssigned)}
	run, err := s.dist.Distribute(ctx, items, tokens, opts)
	s.metrics.RecordDistribution(run, err)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("distribution failed: %v", err)), nil
	}
	return jsonResult(run)
}

// opsdesk_review_queue
func (s *Server) reviewQueueTool() (mcp.Tool, server.ToolHandlerFunc) {
	tool := mcp.NewTool("opsdesk_review_queue",
		mcp.WithDescription("Show a reviewer's queue: the current item, what is pending and overall progress."),
		mcp.WithString("token", mcp.Required(), mcp.Description("Reviewer token")),
	)
	return tool, s.handleReviewQueue
}

type queueOut struct {
	Reviewer string   `json:"reviewer"`
	Current  string   `json:"current"`
	Pending  []string `json:"pending"`
	Reviewed []string `json:"reviewed"`
	Progress float64  `json:"progress"`
	Status   string   `json:"status"`
	Recorded *bool    `json:"recorded,omitempty"`
}

func newQueueOut(q distribute.Queue) queueOut {
	return queueOut{
		Reviewer: q.Reviewer.Name,
		Current:  q.Current,
		Pending:  q.Pending,
		Reviewed: q.Reviewed,
		Progress: q.Progress,
		Status:   q.Status(),
	}
}

func (s *Server) handleReviewQueue(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	token, err := request.RequireString("token")
	if err != nil {
		return mcp.NewToolResultError("missing required parameter: token"), nil
	}
	q, err := s.dist.Queue(ctx, token)
	if err != nil {
		if errors.Is(err, distribute.ErrUnknownReviewer) {
			return mcp.NewToolResultError("unknown reviewer token"), nil
		}
		return mcp.NewToolResultError(fmt.Sprintf("failed to load queue: %v", err)), nil
	}
	return jsonResult(newQueueOut(q))
}

// opsdesk_record_decision
func (s *Server) recordDecisionTool() (mcp.Tool, server.ToolHandlerFunc) {
	tool := mcp.NewTool("opsdesk_record_decision",
		mcp.WithDescription("Record accept or reject for the reviewer's current item and advance the queue."),
		mcp.WithString("token", mcp.Required(), mcp.Description("Reviewer token")),
		mcp.WithString("decision", mcp.Required(), mcp.Description("accept or reject"), mcp.Enum("accept", "reject")),
	)
	return tool, s.handleRecordDecision
}

func (s *Server) handleRecordDecision(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	token, err := request.RequireString("token")
	if err != nil {
		return mcp.NewToolResultError("missing required parameter: token"), nil
	}
	raw, err := request.RequireString("decision")
	if err != nil {
		return mcp.NewToolResultError("missing required parameter: decision"), nil
	}

	decision := models.Decision(strings.ToLower(strings.TrimSpace(raw)))
	q, recorded, err := s.dist.Record(ctx, token, decision)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to record decision: %v", err)), nil
	}
	if recorded {
		s.metrics.RecordDecision(decision)
	}
	out := newQueueOut(q)
	out.Recorded = &recorded
	return jsonResult(out)
}
