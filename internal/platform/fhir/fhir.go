// Package fhir holds the small subset of FHIR R4 resources used by the
// terminology operations: Parameters, OperationOutcome and ValueSet
// expansions.
package fhir

import (
	"time"

	"github.com/google/uuid"
)

type Coding struct {
	System  string `json:"system,omitempty"`
	Code    string `json:"code,omitempty"`
	Display string `json:"display,omitempty"`
}

type CodeableConcept struct {
	Coding []Coding `json:"coding,omitempty"`
	Text   string   `json:"text,omitempty"`
}

// OperationOutcome represents a FHIR OperationOutcome for errors.
type OperationOutcome struct {
	ResourceType string                  `json:"resourceType"`
	Issue        []OperationOutcomeIssue `json:"issue"`
}

type OperationOutcomeIssue struct {
	Severity    string           `json:"severity"`
	Code        string           `json:"code"`
	Details     *CodeableConcept `json:"details,omitempty"`
	Diagnostics string           `json:"diagnostics,omitempty"`
}

func NewOperationOutcome(severity, code, diagnostics string) *OperationOutcome {
	return &OperationOutcome{
		ResourceType: "OperationOutcome",
		Issue: []OperationOutcomeIssue{
			{
				Severity:    severity,
				Code:        code,
				Diagnostics: diagnostics,
			},
		},
	}
}

func ErrorOutcome(diagnostics string) *OperationOutcome {
	return NewOperationOutcome("error", "processing", diagnostics)
}

func InvalidOutcome(diagnostics string) *OperationOutcome {
	return NewOperationOutcome("error", "invalid", diagnostics)
}

func NotFoundOutcome(system, code string) *OperationOutcome {
	return NewOperationOutcome("error", "not-found", "code "+code+" not found in "+system)
}

// Parameter is one entry of a Parameters resource. Only the value types the
// terminology operations produce are modelled.
type Parameter struct {
	Name         string      `json:"name"`
	ValueString  string      `json:"valueString,omitempty"`
	ValueCode    string      `json:"valueCode,omitempty"`
	ValueURI     string      `json:"valueUri,omitempty"`
	ValueBoolean *bool       `json:"valueBoolean,omitempty"`
	ValueCoding  *Coding     `json:"valueCoding,omitempty"`
	Part         []Parameter `json:"part,omitempty"`
}

// Parameters is the FHIR Parameters resource.
type Parameters struct {
	ResourceType string      `json:"resourceType"`
	Parameter    []Parameter `json:"parameter"`
}

func NewParameters() *Parameters {
	return &Parameters{ResourceType: "Parameters", Parameter: []Parameter{}}
}

func (p *Parameters) AddString(name, value string) *Parameters {
	if value != "" {
		p.Parameter = append(p.Parameter, Parameter{Name: name, ValueString: value})
	}
	return p
}

func (p *Parameters) AddCode(name, value string) *Parameters {
	if value != "" {
		p.Parameter = append(p.Parameter, Parameter{Name: name, ValueCode: value})
	}
	return p
}

func (p *Parameters) AddBool(name string, value bool) *Parameters {
	p.Parameter = append(p.Parameter, Parameter{Name: name, ValueBoolean: &value})
	return p
}

// AddProperty appends a $lookup "property" entry with a code value.
func (p *Parameters) AddProperty(code, value string) *Parameters {
	if value == "" {
		return p
	}
	p.Parameter = append(p.Parameter, Parameter{
		Name: "property",
		Part: []Parameter{
			{Name: "code", ValueCode: code},
			{Name: "value", ValueCode: value},
		},
	})
	return p
}

// AddDesignation appends a $lookup "designation" entry.
func (p *Parameters) AddDesignation(value string) *Parameters {
	p.Parameter = append(p.Parameter, Parameter{
		Name: "designation",
		Part: []Parameter{{Name: "value", ValueString: value}},
	})
	return p
}

// Get returns the first parameter with the given name.
func (p *Parameters) Get(name string) (Parameter, bool) {
	for _, param := range p.Parameter {
		if param.Name == name {
			return param, true
		}
	}
	return Parameter{}, false
}

// Value returns the primitive value of a parameter as a string.
func (pm Parameter) Value() string {
	switch {
	case pm.ValueCode != "":
		return pm.ValueCode
	case pm.ValueURI != "":
		return pm.ValueURI
	case pm.ValueCoding != nil:
		return pm.ValueCoding.Code
	}
	return pm.ValueString
}

// ValueSet is a ValueSet carrying only an expansion.
type ValueSet struct {
	ResourceType string     `json:"resourceType"`
	URL          string     `json:"url,omitempty"`
	Expansion    *Expansion `json:"expansion"`
}

type Expansion struct {
	Identifier string   `json:"identifier"`
	Timestamp  string   `json:"timestamp"`
	Total      int      `json:"total"`
	Offset     int      `json:"offset"`
	Contains   []Coding `json:"contains"`
}

// NewExpansion wraps contains in a ValueSet with a fresh expansion id.
func NewExpansion(url string, total, offset int, contains []Coding) *ValueSet {
	if contains == nil {
		contains = []Coding{}
	}
	return &ValueSet{
		ResourceType: "ValueSet",
		URL:          url,
		Expansion: &Expansion{
			Identifier: uuid.New().String(),
			Timestamp:  time.Now().UTC().Format(time.RFC3339),
			Total:      total,
			Offset:     offset,
			Contains:   contains,
		},
	}
}
