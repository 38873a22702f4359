package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/aretw0/parley"
	"github.com/aretw0/parley/internal/logging"
	"github.com/aretw0/parley/pkg/domain"
)

// HistoryResponse is the structured result of the history tool.
type HistoryResponse struct {
	SessionID string         `json:"sessionId" jsonschema_description:"The session the history belongs to"`
	Hist      domain.History `json:"hist" jsonschema_description:"Turns from oldest to newest"`
}

// StartResponse is the structured result of the start_workflow tool.
type StartResponse struct {
	OK    bool   `json:"ok"`
	RunID string `json:"workflowRunId" jsonschema_description:"Identifier to poll with get_run"`
}

// Service defines what the MCP server needs from the chat backend.
type Service interface {
	Chat(ctx context.Context, sessionID, message string) (parley.ChatReply, error)
	History(ctx context.Context, sessionID string) (domain.History, error)
	StartWorkflow(ctx context.Context, sessionID, message string) (string, error)
	Run(ctx context.Context, runID string) (*domain.WorkflowRun, error)
}

// Server exposes the chat operations as MCP tools.
type Server struct {
	svc       Service
	mcpServer *server.MCPServer
	logger    *slog.Logger
}

// NewServer creates a new MCP Server instance.
func NewServer(svc Service, logger *slog.Logger) *Server {
	if logger == nil {
		logger = logging.NewNop()
	}
	s := &Server{
		svc:       svc,
		mcpServer: server.NewMCPServer("parley-mcp", strings.TrimSpace(parley.Version)),
		logger:    logger,
	}
	s.registerTools()
	return s
}

// MCPServer returns the underlying protocol server.
func (s *Server) MCPServer() *server.MCPServer {
	return s.mcpServer
}

// ServeStdio starts the server on Stdin/Stdout.
func (s *Server) ServeStdio() error {
	return server.ServeStdio(s.mcpServer)
}

// ServeSSE serves the SSE transport on addr until ctx is cancelled.
func (s *Server) ServeSSE(ctx context.Context, addr, baseURL string) error {
	sseServer := server.NewSSEServer(s.mcpServer, server.WithBaseURL(baseURL))

	mux := http.NewServeMux()
	mux.Handle("/sse", sseServer.SSEHandler())
	mux.Handle("/message", sseServer.MessageHandler())

	httpServer := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	serverErrors := make(chan error, 1)
	go func() {
		s.logger.Info("MCP Server listening (SSE)", "address", addr)
		serverErrors <- httpServer.ListenAndServe()
	}()

	select {
	case err := <-serverErrors:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("could not stop server gracefully: %w", err)
		}
		return nil
	}
}

func (s *Server) registerTools() {
	// TOOL: chat
	chatTool := mcp.NewTool("chat",
		mcp.WithDescription("Send a message to a session and get the assistant reply. The exchange is appended to the session history."),
		mcp.WithString("message", mcp.Description("User message (defaults to a greeting)")),
		mcp.WithString("session_id", mcp.Description("Session identifier (optional)")),
		mcp.WithOutputSchema[parley.ChatReply](),
	)
	s.mcpServer.AddTool(chatTool, mcp.NewStructuredToolHandler(s.handleChat))

	// TOOL: history
	historyTool := mcp.NewTool("history",
		mcp.WithDescription("Read the bounded conversation history of a session."),
		mcp.WithString("session_id", mcp.Description("Session identifier (optional)")),
		mcp.WithOutputSchema[HistoryResponse](),
	)
	s.mcpServer.AddTool(historyTool, mcp.NewStructuredToolHandler(s.handleHistory))

	// TOOL: start_workflow
	startTool := mcp.NewTool("start_workflow",
		mcp.WithDescription("Start a durable chat run. Returns immediately with a run id."),
		mcp.WithString("message", mcp.Description("User message (optional)")),
		mcp.WithString("session_id", mcp.Description("Session identifier (optional)")),
		mcp.WithOutputSchema[StartResponse](),
	)
	s.mcpServer.AddTool(startTool, mcp.NewStructuredToolHandler(s.handleStart))

	// TOOL: get_run
	s.mcpServer.AddTool(mcp.NewTool("get_run",
		mcp.WithDescription("Inspect a durable run: status, step records and result."),
		mcp.WithString("run_id", mcp.Required(), mcp.Description("Run identifier returned by start_workflow")),
	), s.handleGetRun)
}

func (s *Server) handleChat(ctx context.Context, request mcp.CallToolRequest, args map[string]interface{}) (parley.ChatReply, error) {
	sessionID, _ := args["session_id"].(string)
	message, _ := args["message"].(string)

	reply, err := s.svc.Chat(ctx, sessionID, message)
	if err != nil {
		s.logger.Warn("MCP chat failed", "session_id", sessionID, "err", err)
		return parley.ChatReply{}, fmt.Errorf("chat failed: %w", err)
	}
	return reply, nil
}

func (s *Server) handleHistory(ctx context.Context, request mcp.CallToolRequest, args map[string]interface{}) (HistoryResponse, error) {
	sessionID, _ := args["session_id"].(string)

	hist, err := s.svc.History(ctx, sessionID)
	if err != nil {
		return HistoryResponse{}, fmt.Errorf("history failed: %w", err)
	}
	if hist == nil {
		hist = domain.History{}
	}
	return HistoryResponse{SessionID: sessionID, Hist: hist}, nil
}

func (s *Server) handleStart(ctx context.Context, request mcp.CallToolRequest, args map[string]interface{}) (StartResponse, error) {
	sessionID, _ := args["session_id"].(string)
	message, _ := args["message"].(string)

	runID, err := s.svc.StartWorkflow(ctx, sessionID, message)
	if err != nil {
		return StartResponse{}, fmt.Errorf("start failed: %w", err)
	}
	return StartResponse{OK: true, RunID: runID}, nil
}

func (s *Server) handleGetRun(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	runID, err := request.RequireString("run_id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	run, err := s.svc.Run(ctx, runID)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("get run failed: %v", err)), nil
	}
	jsonBytes, _ := json.Marshal(run)
	return mcp.NewToolResultText(string(jsonBytes)), nil
}
