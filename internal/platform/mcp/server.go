package mcp

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/rs/zerolog"

	"github.com/medterm/medterm/internal/domain/terminology"
)

// Version is the MCP server version.
const Version = "1.0.0"

// Terminology is the part of terminology.Service the MCP server drives.
type Terminology interface {
	Search(ctx context.Context, req terminology.SearchRequest) (map[string][]terminology.ScoredConcept, error)
	GetConcept(ctx context.Context, ontology, code string) (*terminology.Concept, error)
	MapText(ctx context.Context, req terminology.MapRequest) ([]terminology.TextMapping, error)
	ValidateCodes(ctx context.Context, refs []terminology.CodeRef) []terminology.CodeValidation
	GetStatus() map[string]terminology.OntologyStatus
}

// Server is the MCP server for medterm.
type Server struct {
	svc    Terminology
	server *mcp.Server
	logger zerolog.Logger
}

// NewServer creates a server with every tool and resource registered.
func NewServer(svc Terminology, logger zerolog.Logger) (*Server, error) {
	if svc == nil {
		return nil, ErrMissingService
	}

	impl := &mcp.Implementation{
		Name:    "medterm",
		Version: Version,
	}

	s := &Server{
		svc:    svc,
		server: mcp.NewServer(impl, nil),
		logger: logger.With().Str("component", "mcp").Logger(),
	}

	s.registerTools()
	s.registerResources()

	return s, nil
}

// Run serves over stdio until ctx is cancelled or the client disconnects.
func (s *Server) Run(ctx context.Context) error {
	s.logger.Info().Msg("serving MCP over stdio")
	return s.server.Run(ctx, &mcp.StdioTransport{})
}

// Handler returns the streamable HTTP handler, for mounting under /mcp.
func (s *Server) Handler() http.Handler {
	return mcp.NewStreamableHTTPHandler(func(_ *http.Request) *mcp.Server {
		return s.server
	}, nil)
}

// RunHTTP serves streamable HTTP on addr until ctx is cancelled.
func (s *Server) RunHTTP(ctx context.Context, addr string) error {
	httpServer := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		httpServer.Shutdown(shutdownCtx) //nolint:errcheck
	}()

	s.logger.Info().Str("addr", addr).Msg("serving MCP over streamable HTTP")
	err := httpServer.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}
