package terminology

import "sort"

// HierarchyOptions selects the derived fields an ontology materializes.
type HierarchyOptions struct {
	// Siblings fills Concept.Siblings with the other children of every parent.
	Siblings bool
	// SortChildren orders children by code instead of insertion order.
	SortChildren bool
}

// BuildHierarchy derives Children, Ancestors and optionally Siblings from the
// Parents links of every concept in the store. It must run after all concepts
// are loaded and may run any number of times with the same result. Parent
// references to codes absent from the store are ignored.
//
// The returned map is the parent → children relation.
func BuildHierarchy(s *Store, opts HierarchyOptions) map[string][]string {
	relations := make(map[string][]string)
	s.Each(func(c *Concept) {
		c.Children, c.Ancestors, c.Siblings = nil, nil, nil
	})
	s.Each(func(c *Concept) {
		for _, p := range c.Parents {
			if p == c.Code || !s.Has(p) {
				continue
			}
			relations[p] = append(relations[p], c.Code)
		}
	})

	for parent, children := range relations {
		if opts.SortChildren {
			sort.Strings(children)
		}
		pc, _ := s.Get(parent)
		pc.Children = append([]string(nil), children...)
	}

	s.Each(func(c *Concept) {
		c.Ancestors = ancestorsOf(s, c)
		if opts.Siblings {
			c.Siblings = siblingsOf(s, c, relations)
		}
	})
	return relations
}

// ancestorsOf walks parent links breadth first, nearest ancestors first. The
// visited set starts with the concept itself, so a cycle in the source data
// can neither loop forever nor list the concept as its own ancestor, and a
// node reachable through several paths appears once.
func ancestorsOf(s *Store, c *Concept) []string {
	visited := map[string]struct{}{c.Code: {}}
	var out []string
	queue := append([]string(nil), c.Parents...)
	for len(queue) > 0 {
		code := queue[0]
		queue = queue[1:]
		if _, seen := visited[code]; seen {
			continue
		}
		visited[code] = struct{}{}
		p, ok := s.Get(code)
		if !ok {
			continue
		}
		out = append(out, code)
		queue = append(queue, p.Parents...)
	}
	return out
}

func siblingsOf(s *Store, c *Concept, relations map[string][]string) []string {
	seen := map[string]struct{}{c.Code: {}}
	var out []string
	for _, p := range c.Parents {
		for _, sib := range relations[p] {
			if _, ok := seen[sib]; ok {
				continue
			}
			seen[sib] = struct{}{}
			out = append(out, sib)
		}
	}
	return out
}
