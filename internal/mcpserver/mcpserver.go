// Package mcpserver exposes the help desk pipeline as Model Context Protocol
// tools so assistants can triage IT requests directly.
//
// Four tools are registered:
//   - "classify_request" assigns a category and confidence.
//   - "retrieve_knowledge" returns the most similar knowledge chunks.
//   - "decide_escalation" applies the escalation rules to a classification.
//   - "evaluate" scores the pipeline on a labelled request set.
//
// The server can be mounted on the HTTP mux via [Server.Handler] or run on
// stdin/stdout via [Server.RunStdio].
package mcpserver

import (
	"context"
	"net/http"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/MrWong99/helpdesk/internal/observe"
	"github.com/MrWong99/helpdesk/internal/pipeline"
)

// Server wraps an MCP server bound to one pipeline.
type Server struct {
	pipe    *pipeline.Pipeline
	evalSet []pipeline.LabeledRequest
	mcp     *mcp.Server
}

// New creates a Server and registers all tools. evalSet is used by the
// evaluate tool when the caller supplies no requests.
func New(pipe *pipeline.Pipeline, version string, evalSet []pipeline.LabeledRequest) *Server {
	s := &Server{
		pipe:    pipe,
		evalSet: evalSet,
		mcp:     mcp.NewServer(&mcp.Implementation{Name: "helpdesk", Version: version}, nil),
	}
	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "classify_request",
		Description: "Classify an IT support request into a help desk category with a confidence score.",
	}, instrument("classify_request", s.classify))
	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "retrieve_knowledge",
		Description: "Find knowledge base passages relevant to an IT support request, best match first.",
	}, instrument("retrieve_knowledge", s.retrieve))
	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "decide_escalation",
		Description: "Decide whether a classified request must be handed to a human team, and which contact to use.",
	}, instrument("decide_escalation", s.decideEscalation))
	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "evaluate",
		Description: "Run labelled requests through the pipeline and report accuracy and escalation precision and recall.",
	}, instrument("evaluate", s.evaluate))
	return s
}

// Handler returns a streamable HTTP handler serving this server.
func (s *Server) Handler() http.Handler {
	return mcp.NewStreamableHTTPHandler(func(*http.Request) *mcp.Server { return s.mcp }, nil)
}

// RunStdio serves MCP on stdin/stdout until ctx is cancelled or the client
// disconnects.
func (s *Server) RunStdio(ctx context.Context) error {
	return s.mcp.Run(ctx, &mcp.StdioTransport{})
}

// Connect serves a single session over t. It is used by tests with in-memory
// transports.
func (s *Server) Connect(ctx context.Context, t mcp.Transport) (*mcp.ServerSession, error) {
	return s.mcp.Connect(ctx, t, nil)
}

// instrument records duration and outcome of every tool call.
func instrument[In, Out any](name string, h mcp.ToolHandlerFor[In, Out]) mcp.ToolHandlerFor[In, Out] {
	return func(ctx context.Context, req *mcp.CallToolRequest, in In) (*mcp.CallToolResult, Out, error) {
		start := time.Now()
		res, out, err := h(ctx, req, in)
		observe.DefaultMetrics().RecordToolCall(ctx, name, time.Since(start), err)
		if err != nil {
			observe.Logger(ctx).Warn("mcpserver: tool failed", "tool", name, "err", err)
		}
		return res, out, err
	}
}
