package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/medterm/medterm/internal/domain/terminology"
)

const uriScheme = "medterm://"

// registerResources registers all resource handlers with the MCP server.
func (s *Server) registerResources() {
	s.server.AddResource(&mcp.Resource{
		URI:         uriScheme + "status",
		Name:        "status",
		Description: "Load status of every ontology",
		MIMEType:    "application/json",
	}, s.handleStatusResource)

	s.server.AddResourceTemplate(&mcp.ResourceTemplate{
		URITemplate: uriScheme + "concepts/{ontology}/{code}",
		Name:        "concept",
		Description: "A single concept with its hierarchy and ontology details",
		MIMEType:    "application/json",
	}, s.handleConceptResource)
}

func (s *Server) handleStatusResource(
	_ context.Context,
	req *mcp.ReadResourceRequest,
) (*mcp.ReadResourceResult, error) {
	status := s.svc.GetStatus()
	return jsonResource(req.Params.URI, StatusOutput{
		Status:     terminology.OverallStatus(status),
		Ontologies: status,
	})
}

func (s *Server) handleConceptResource(
	ctx context.Context,
	req *mcp.ReadResourceRequest,
) (*mcp.ReadResourceResult, error) {
	ontology, code := extractConceptRef(req.Params.URI)
	if ontology == "" || code == "" {
		return nil, mcp.ResourceNotFoundError(req.Params.URI)
	}

	concept, err := s.svc.GetConcept(ctx, ontology, code)
	if err != nil {
		return nil, fmt.Errorf("getting concept: %w", err)
	}
	if concept == nil {
		return nil, mcp.ResourceNotFoundError(req.Params.URI)
	}
	return jsonResource(req.Params.URI, concept)
}

func jsonResource(uri string, v any) (*mcp.ReadResourceResult, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshalling resource: %w", err)
	}
	return &mcp.ReadResourceResult{
		Contents: []*mcp.ResourceContents{{
			URI:      uri,
			MIMEType: "application/json",
			Text:     string(data),
		}},
	}, nil
}

// extractConceptRef splits medterm://concepts/{ontology}/{code}. Codes may
// not contain a slash; every ontology here uses plain codes.
func extractConceptRef(uri string) (ontology, code string) {
	const prefix = uriScheme + "concepts/"

	rest, ok := strings.CutPrefix(uri, prefix)
	if !ok {
		return "", ""
	}
	ontology, code, ok = strings.Cut(rest, "/")
	if !ok || strings.Contains(code, "/") {
		return "", ""
	}
	return ontology, code
}
