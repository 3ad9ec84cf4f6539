// Package mcp serves search, cache and provider tools to MCP clients over
// stdio using JSON-RPC 2.0.
package mcp

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"

	"go.uber.org/zap"

	"github.com/wayfare-ai/wayfare/pkg/quota"
	"github.com/wayfare-ai/wayfare/pkg/search"
	"github.com/wayfare-ai/wayfare/pkg/tracker"
)

const maxLineSize = 1 << 20

// Server is a line-delimited JSON-RPC server.
type Server struct {
	search   *search.Service
	tracker  tracker.Tracker
	enforcer *quota.Enforcer
	version  string
	logger   *zap.Logger
}

// Option configures a Server.
type Option func(*Server)

// WithTracker enables the wayfare_stats tool.
func WithTracker(t tracker.Tracker) Option {
	return func(s *Server) {
		s.tracker = t
	}
}

// WithEnforcer enables the wayfare_quota tool.
func WithEnforcer(e *quota.Enforcer) Option {
	return func(s *Server) {
		s.enforcer = e
	}
}

// WithVersion sets the version reported by initialize.
func WithVersion(v string) Option {
	return func(s *Server) {
		s.version = v
	}
}

// WithLogger sets the logger. Logs must not go to stdout.
func WithLogger(l *zap.Logger) Option {
	return func(s *Server) {
		s.logger = l
	}
}

// New creates a Server backed by svc.
func New(svc *search.Service, opts ...Option) *Server {
	s := &Server{search: svc, version: "dev", logger: zap.NewNop()}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Run reads one request per line from r and writes responses to w.
// It blocks until r is exhausted or ctx is cancelled.
func (s *Server) Run(ctx context.Context, r io.Reader, w io.Writer) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineSize)

	for scanner.Scan() {
		if err := ctx.Err(); err != nil {
			return err
		}

		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		var req Request
		if err := json.Unmarshal(line, &req); err != nil {
			s.write(w, errorResponse(nil, CodeParseError, "parse error"))
			continue
		}

		if resp := s.dispatch(ctx, &req); resp != nil {
			s.write(w, resp)
		}
	}
	return scanner.Err()
}

// dispatch answers one request. Notifications, which carry no id, are never answered.
func (s *Server) dispatch(ctx context.Context, req *Request) *Response {
	if len(req.ID) == 0 {
		s.logger.Debug("notification", zap.String("method", req.Method))
		return nil
	}
	switch req.Method {
	case "initialize":
		return resultResponse(req.ID, InitializeResult{
			ProtocolVersion: protocolVersion,
			ServerInfo:      ServerInfo{Name: "wayfare", Version: s.version},
			Capabilities:    map[string]any{"tools": map[string]any{}},
		})
	case "notifications/initialized":
		return nil
	case "tools/list":
		return resultResponse(req.ID, ToolsListResult{Tools: toolDefinitions()})
	case "tools/call":
		var params ToolCallParams
		if err := json.Unmarshal(req.Params, &params); err != nil {
			return errorResponse(req.ID, CodeInvalidParams, "invalid params")
		}
		t, ok := toolByName(params.Name)
		if !ok {
			return resultResponse(req.ID, errorResult(fmt.Sprintf("unknown tool: %s", params.Name)))
		}
		s.logger.Debug("tool call", zap.String("tool", params.Name))
		return resultResponse(req.ID, t.handle(ctx, s, params.Arguments))
	default:
		return errorResponse(req.ID, CodeMethodNotFound, fmt.Sprintf("unknown method: %s", req.Method))
	}
}

func (s *Server) write(w io.Writer, resp *Response) {
	data, err := json.Marshal(resp)
	if err != nil {
		s.logger.Error("marshal response", zap.Error(err))
		return
	}
	if _, err := w.Write(append(data, '\n')); err != nil {
		s.logger.Error("write response", zap.Error(err))
	}
}
