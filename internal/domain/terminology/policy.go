package terminology

import (
	"context"
	"fmt"
)

// Parser reads one ontology's raw distribution. Each ontology has exactly one
// implementation.
type Parser interface {
	// Ontology returns the ontology id the parser produces.
	Ontology() string
	// Parse reads the raw files under dir. A missing required file yields a
	// *DataNotFoundError; malformed records are skipped and counted.
	Parse(ctx context.Context, dir string) (*ParseResult, error)
	// Policy returns the indexing and serialization policy of the ontology.
	Policy() Policy
}

// ParseResult is the output of a Parser. Concepts carry their Parents links;
// derived hierarchy fields are filled by BuildHierarchy.
type ParseResult struct {
	Store        *Store
	Relations    map[string][]string
	Skipped      int
	SourceFormat string
	// Extras are parser-level sidecars (chapter names, groups) written
	// verbatim next to the chunks.
	Extras map[string]any
}

// Policy is the per-ontology behaviour shared by the loader, the index
// builder and the chunk writer.
type Policy struct {
	Tokenizer Tokenizer
	// IndexTerms returns the terms of a concept that feed the inverted index.
	// When nil, the preferred term and all synonyms are indexed.
	IndexTerms func(c *Concept) []string
	Hierarchy  HierarchyOptions
	// Groupings are the secondary indices available to Browse.
	Groupings map[string]KeyFunc
	// GroupingSidecars names the sidecar file holding a prebuilt grouping.
	// A processed load reads it instead of rebuilding the grouping.
	GroupingSidecars map[string]string

	// ChunkPrefix and Partition name the chunk file of a concept; ordinal is
	// its store position. PartitionKey is the manifest key of the counts.
	ChunkPrefix  string
	ChunkSize    int
	PartitionKey string
	Partition    func(c *Concept, ordinal int) string

	// Sidecars returns extra files to write next to the chunks.
	Sidecars func(s *Store) map[string]any
}

func (p Policy) indexTerms(c *Concept) []string {
	if p.IndexTerms != nil {
		return p.IndexTerms(c)
	}
	return append([]string{c.PreferredTerm}, c.Synonyms...)
}

func (p Policy) partitionOf(c *Concept, ordinal int) string {
	if p.Partition != nil {
		return p.Partition(c, ordinal)
	}
	size := p.ChunkSize
	if size <= 0 {
		size = DefaultChunkSize
	}
	return fmt.Sprintf("%04d", ordinal/size)
}

// DefaultChunkSize is the batch size of sequentially numbered chunks.
const DefaultChunkSize = 10000

// FirstN returns at most n leading elements of terms.
func FirstN(terms []string, n int) []string {
	if len(terms) > n {
		return terms[:n]
	}
	return terms
}
