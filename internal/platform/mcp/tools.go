package mcp

import (
	"context"
	"fmt"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/medterm/medterm/internal/domain/terminology"
)

// maxBatchOperations bounds a single batch_process call.
const maxBatchOperations = 100

// SearchInput is the input schema for the search tool.
type SearchInput struct {
	Query         string   `json:"query" jsonschema:"the term to search for"`
	Ontologies    []string `json:"ontologies,omitempty" jsonschema:"ontologies to search (SNOMED, ICD10, RxNorm, LOINC); all when empty"`
	Limit         int      `json:"limit,omitempty" jsonschema:"maximum results per ontology (default 10)"`
	PreferredOnly bool     `json:"preferred_only,omitempty" jsonschema:"ignore synonym matches"`
}

// SearchOutput is the output schema for the search tool.
type SearchOutput struct {
	Query   string                                 `json:"query"`
	Results map[string][]terminology.ScoredConcept `json:"results"`
	Count   int                                    `json:"count"`
}

// ConceptInput names one concept.
type ConceptInput struct {
	Ontology string `json:"ontology" jsonschema:"the ontology holding the code"`
	Code     string `json:"code" jsonschema:"the concept code"`
}

// ConceptOutput is the output schema for get_concept.
type ConceptOutput struct {
	Found   bool                 `json:"found"`
	Concept *terminology.Concept `json:"concept,omitempty"`
}

// MapTextInput is the input schema for map_text.
type MapTextInput struct {
	Text       string   `json:"text" jsonschema:"free clinical text"`
	Ontologies []string `json:"ontologies,omitempty" jsonschema:"ontologies to map into; all when empty"`
	Context    string   `json:"context,omitempty" jsonschema:"clinical context such as diagnosis or medication"`
	Threshold  float64  `json:"threshold,omitempty" jsonschema:"minimum confidence between 0 and 1 (default 0.7)"`
}

// MapTextOutput is the output schema for map_text.
type MapTextOutput struct {
	Mappings []terminology.TextMapping `json:"mappings"`
}

// ValidateInput is the input schema for validate_codes.
type ValidateInput struct {
	Codes []terminology.CodeRef `json:"codes" jsonschema:"codes to validate"`
}

// ValidateOutput is the output schema for validate_codes.
type ValidateOutput struct {
	Results []terminology.CodeValidation `json:"results"`
	Valid   int                          `json:"valid"`
	Invalid int                          `json:"invalid"`
}

// StatusInput takes no arguments.
type StatusInput struct{}

// StatusOutput is the output schema for get_status.
type StatusOutput struct {
	Status     string                                `json:"status"`
	Ontologies map[string]terminology.OntologyStatus `json:"ontologies"`
}

// BatchOperation is one step of batch_process. Type selects which of the
// remaining fields apply.
type BatchOperation struct {
	Type       string   `json:"type" jsonschema:"one of search, get_concept or map_text"`
	Query      string   `json:"query,omitempty"`
	Ontologies []string `json:"ontologies,omitempty"`
	Limit      int      `json:"limit,omitempty"`
	Ontology   string   `json:"ontology,omitempty"`
	Code       string   `json:"code,omitempty"`
	Text       string   `json:"text,omitempty"`
}

// BatchInput is the input schema for batch_process.
type BatchInput struct {
	Operations []BatchOperation `json:"operations" jsonschema:"operations run in order"`
}

// BatchResult is the outcome of one operation. Exactly one of the result
// fields or Error is set.
type BatchResult struct {
	Index    int                                    `json:"index"`
	Type     string                                 `json:"type"`
	Search   map[string][]terminology.ScoredConcept `json:"search,omitempty"`
	Concept  *terminology.Concept                   `json:"concept,omitempty"`
	Mappings []terminology.TextMapping              `json:"mappings,omitempty"`
	Error    string                                 `json:"error,omitempty"`
}

// BatchOutput is the output schema for batch_process.
type BatchOutput struct {
	Results   []BatchResult `json:"results"`
	Succeeded int           `json:"succeeded"`
	Failed    int           `json:"failed"`
}

// registerTools registers all tool handlers with the MCP server.
func (s *Server) registerTools() {
	mcp.AddTool(s.server, &mcp.Tool{
		Name:        "search",
		Description: "Search medical terminologies by term or synonym",
	}, s.handleSearch)

	mcp.AddTool(s.server, &mcp.Tool{
		Name:        "get_concept",
		Description: "Look up a concept by ontology and exact code",
	}, s.handleGetConcept)

	mcp.AddTool(s.server, &mcp.Tool{
		Name:        "map_text",
		Description: "Find medical concepts mentioned in free clinical text",
	}, s.handleMapText)

	mcp.AddTool(s.server, &mcp.Tool{
		Name:        "validate_codes",
		Description: "Check that codes exist in their ontologies",
	}, s.handleValidateCodes)

	mcp.AddTool(s.server, &mcp.Tool{
		Name:        "batch_process",
		Description: "Run several search, get_concept and map_text operations in one call",
	}, s.handleBatch)

	mcp.AddTool(s.server, &mcp.Tool{
		Name:        "get_status",
		Description: "Report which ontologies are loaded",
	}, s.handleStatus)
}

func (s *Server) handleSearch(
	ctx context.Context,
	_ *mcp.CallToolRequest,
	input SearchInput,
) (*mcp.CallToolResult, SearchOutput, error) {
	results, err := s.svc.Search(ctx, terminology.SearchRequest{
		Query:         input.Query,
		Ontologies:    input.Ontologies,
		Limit:         input.Limit,
		PreferredOnly: input.PreferredOnly,
	})
	if err != nil {
		return nil, SearchOutput{}, err
	}

	count := 0
	for _, hits := range results {
		count += len(hits)
	}
	return nil, SearchOutput{Query: input.Query, Results: results, Count: count}, nil
}

func (s *Server) handleGetConcept(
	ctx context.Context,
	_ *mcp.CallToolRequest,
	input ConceptInput,
) (*mcp.CallToolResult, ConceptOutput, error) {
	concept, err := s.svc.GetConcept(ctx, input.Ontology, input.Code)
	if err != nil {
		return nil, ConceptOutput{}, err
	}
	return nil, ConceptOutput{Found: concept != nil, Concept: concept}, nil
}

func (s *Server) handleMapText(
	ctx context.Context,
	_ *mcp.CallToolRequest,
	input MapTextInput,
) (*mcp.CallToolResult, MapTextOutput, error) {
	mappings, err := s.svc.MapText(ctx, terminology.MapRequest{
		Text:       input.Text,
		Ontologies: input.Ontologies,
		Context:    input.Context,
		Threshold:  input.Threshold,
	})
	if err != nil {
		return nil, MapTextOutput{}, err
	}
	if mappings == nil {
		mappings = []terminology.TextMapping{}
	}
	return nil, MapTextOutput{Mappings: mappings}, nil
}

func (s *Server) handleValidateCodes(
	ctx context.Context,
	_ *mcp.CallToolRequest,
	input ValidateInput,
) (*mcp.CallToolResult, ValidateOutput, error) {
	if len(input.Codes) == 0 {
		return nil, ValidateOutput{}, fmt.Errorf("codes must not be empty")
	}

	out := ValidateOutput{Results: s.svc.ValidateCodes(ctx, input.Codes)}
	for _, r := range out.Results {
		if r.Valid {
			out.Valid++
		} else {
			out.Invalid++
		}
	}
	return nil, out, nil
}

func (s *Server) handleStatus(
	_ context.Context,
	_ *mcp.CallToolRequest,
	_ StatusInput,
) (*mcp.CallToolResult, StatusOutput, error) {
	status := s.svc.GetStatus()
	return nil, StatusOutput{Status: terminology.OverallStatus(status), Ontologies: status}, nil
}

// handleBatch runs each operation in order. A failing operation records its
// error and the batch continues.
func (s *Server) handleBatch(
	ctx context.Context,
	_ *mcp.CallToolRequest,
	input BatchInput,
) (*mcp.CallToolResult, BatchOutput, error) {
	if len(input.Operations) > maxBatchOperations {
		return nil, BatchOutput{}, fmt.Errorf("%w: %d > %d", ErrTooManyOperations, len(input.Operations), maxBatchOperations)
	}

	out := BatchOutput{Results: make([]BatchResult, 0, len(input.Operations))}
	for i, op := range input.Operations {
		if err := ctx.Err(); err != nil {
			return nil, BatchOutput{}, err
		}

		res := s.runOperation(ctx, op)
		res.Index = i
		if res.Error != "" {
			out.Failed++
		} else {
			out.Succeeded++
		}
		out.Results = append(out.Results, res)
	}

	s.logger.Debug().Int("operations", len(input.Operations)).Int("failed", out.Failed).Msg("batch processed")
	return nil, out, nil
}

func (s *Server) runOperation(ctx context.Context, op BatchOperation) BatchResult {
	res := BatchResult{Type: op.Type}
	switch op.Type {
	case "search":
		hits, err := s.svc.Search(ctx, terminology.SearchRequest{Query: op.Query, Ontologies: op.Ontologies, Limit: op.Limit})
		if err != nil {
			res.Error = err.Error()
			return res
		}
		res.Search = hits
	case "get_concept":
		concept, err := s.svc.GetConcept(ctx, op.Ontology, op.Code)
		switch {
		case err != nil:
			res.Error = err.Error()
		case concept == nil:
			res.Error = fmt.Sprintf("concept %s not found in %s", op.Code, op.Ontology)
		default:
			res.Concept = concept
		}
	case "map_text":
		mappings, err := s.svc.MapText(ctx, terminology.MapRequest{Text: op.Text, Ontologies: op.Ontologies})
		if err != nil {
			res.Error = err.Error()
			return res
		}
		res.Mappings = mappings
	default:
		res.Error = fmt.Sprintf("unknown operation type %q", op.Type)
	}
	return res
}
