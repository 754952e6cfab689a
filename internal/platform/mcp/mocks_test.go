package mcp

import (
	"context"
	"fmt"

	"github.com/medterm/medterm/internal/domain/terminology"
)

// mockTerminology implements Terminology for testing.
type mockTerminology struct {
	results    map[string][]terminology.ScoredConcept
	searchErr  error
	concepts   map[string]*terminology.Concept
	mappings   []terminology.TextMapping
	mapErr     error
	status     map[string]terminology.OntologyStatus
	lastSearch terminology.SearchRequest
	lastMap    terminology.MapRequest
}

func (m *mockTerminology) Search(_ context.Context, req terminology.SearchRequest) (map[string][]terminology.ScoredConcept, error) {
	m.lastSearch = req
	if m.searchErr != nil {
		return nil, m.searchErr
	}
	if m.results == nil {
		return map[string][]terminology.ScoredConcept{}, nil
	}
	return m.results, nil
}

func (m *mockTerminology) GetConcept(_ context.Context, ontology, code string) (*terminology.Concept, error) {
	if ontology != terminology.OntologyICD10 && ontology != terminology.OntologySNOMED {
		return nil, fmt.Errorf("%w: %q", terminology.ErrUnknownOntology, ontology)
	}
	return m.concepts[ontology+"|"+code], nil
}

func (m *mockTerminology) MapText(_ context.Context, req terminology.MapRequest) ([]terminology.TextMapping, error) {
	m.lastMap = req
	if m.mapErr != nil {
		return nil, m.mapErr
	}
	return m.mappings, nil
}

func (m *mockTerminology) ValidateCodes(_ context.Context, refs []terminology.CodeRef) []terminology.CodeValidation {
	out := make([]terminology.CodeValidation, len(refs))
	for i, ref := range refs {
		out[i] = terminology.CodeValidation{Ontology: ref.Ontology, Code: ref.Code}
		if c := m.concepts[ref.Ontology+"|"+ref.Code]; c != nil {
			out[i].Valid = true
			out[i].Term = c.PreferredTerm
		} else {
			out[i].Error = "code not found"
		}
	}
	return out
}

func (m *mockTerminology) GetStatus() map[string]terminology.OntologyStatus {
	return m.status
}

func newMock() *mockTerminology {
	return &mockTerminology{
		results: map[string][]terminology.ScoredConcept{
			terminology.OntologyICD10: {
				{Code: "E11", PreferredTerm: "Type 2 diabetes mellitus", Score: 1},
				{Code: "E11.9", PreferredTerm: "Type 2 diabetes mellitus without complications", Score: 0.9},
			},
			terminology.OntologySNOMED: {
				{Code: "44054006", PreferredTerm: "Diabetes mellitus type 2", Score: 0.9},
			},
		},
		concepts: map[string]*terminology.Concept{
			"ICD10|I10": {Ontology: terminology.OntologyICD10, Code: "I10", PreferredTerm: "Essential (primary) hypertension", Active: true},
		},
		mappings: []terminology.TextMapping{{
			TextSpan: "Hypertension",
			Start:    0,
			End:      12,
			Mappings: map[string]terminology.ConceptMatch{
				terminology.OntologyICD10: {Code: "I10", PreferredTerm: "Essential (primary) hypertension", Confidence: 0.85},
			},
		}},
		status: map[string]terminology.OntologyStatus{
			terminology.OntologyICD10:  {Loaded: true, ConceptCount: 3},
			terminology.OntologySNOMED: {Loaded: false, LoadError: "data not found"},
		},
	}
}
