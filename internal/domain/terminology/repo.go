package terminology

import "context"

// ConceptRepository persists loaded ontologies to an external database so
// other systems can join against them.
type ConceptRepository interface {
	CreateSchema(ctx context.Context) error
	// Publish replaces every stored concept of the ontology with the store's
	// contents and returns the number of rows written.
	Publish(ctx context.Context, ontology, generation string, s *Store) (int64, error)
	GetByCode(ctx context.Context, ontology, code string) (*Concept, error)
	Search(ctx context.Context, ontology, query string, limit int) ([]ConceptSummary, error)
	Counts(ctx context.Context) (map[string]int64, error)
}
