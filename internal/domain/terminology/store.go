package terminology

// Store is the per-ontology arena: concepts addressable by code with their
// insertion order retained. Insertion order is the tie-break order of search
// results and the key order of serialized chunks.
type Store struct {
	order    []string
	pos      map[string]int
	concepts map[string]*Concept
}

// NewStore creates an empty store.
func NewStore() *Store {
	return &Store{
		pos:      make(map[string]int),
		concepts: make(map[string]*Concept),
	}
}

// Put adds or replaces a concept. A replaced concept keeps its original
// position.
func (s *Store) Put(c *Concept) {
	if _, ok := s.concepts[c.Code]; !ok {
		s.pos[c.Code] = len(s.order)
		s.order = append(s.order, c.Code)
	}
	s.concepts[c.Code] = c
}

// Get returns the concept stored under code.
func (s *Store) Get(code string) (*Concept, bool) {
	c, ok := s.concepts[code]
	return c, ok
}

// Has reports whether code is present.
func (s *Store) Has(code string) bool {
	_, ok := s.concepts[code]
	return ok
}

// Len returns the number of concepts.
func (s *Store) Len() int { return len(s.order) }

// Codes returns the codes in insertion order. The slice must not be modified.
func (s *Store) Codes() []string { return s.order }

// Position returns the insertion ordinal of code, or -1.
func (s *Store) Position(code string) int {
	if p, ok := s.pos[code]; ok {
		return p
	}
	return -1
}

// Each calls fn for every concept in insertion order.
func (s *Store) Each(fn func(c *Concept)) {
	for _, code := range s.order {
		fn(s.concepts[code])
	}
}
