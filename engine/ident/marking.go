package ident

import "sort"

// Marking assigns identifiers to net elements (conditions and internal
// task places). Identifier location sets and element multisets are kept in
// sync as one atomic pair. An identifier occupies at most one slot per
// element.
type Marking struct {
	locations map[string][]*Identifier
}

func NewMarking() *Marking {
	return &Marking{locations: make(map[string][]*Identifier)}
}

// Add places the token into the element. Idempotent per (element, token).
func (m *Marking) Add(element string, id *Identifier) {
	if id.HasLocation(element) {
		return
	}
	id.addLocation(element)
	m.locations[element] = append(m.locations[element], id)
}

// Remove takes the token out of the element. Idempotent.
func (m *Marking) Remove(element string, id *Identifier) {
	if !id.HasLocation(element) {
		return
	}
	id.removeLocation(element)
	held := m.locations[element]
	for idx, other := range held {
		if other == id {
			m.locations[element] = append(held[:idx], held[idx+1:]...)
			break
		}
	}
	if len(m.locations[element]) == 0 {
		delete(m.locations, element)
	}
}

// RemoveAll purges every token of the case from the element.
func (m *Marking) RemoveAll(element, caseID string) {
	for _, id := range m.IdentifiersAt(element) {
		if id.CaseID() == caseID {
			m.Remove(element, id)
		}
	}
}

// Contains reports whether any token of the case sits in the element.
func (m *Marking) Contains(element, caseID string) bool {
	for _, id := range m.locations[element] {
		if id.CaseID() == caseID {
			return true
		}
	}
	return false
}

// Count returns the number of the case's tokens in the element.
func (m *Marking) Count(element, caseID string) int {
	n := 0
	for _, id := range m.locations[element] {
		if id.CaseID() == caseID {
			n++
		}
	}
	return n
}

// underScope reports whether the identifier is the scope root or one of
// its descendants. Paths encode ancestry, so a prefix test suffices.
func underScope(id *Identifier, scopePath string) bool {
	path := id.String()
	return path == scopePath || len(path) > len(scopePath) &&
		path[:len(scopePath)] == scopePath && path[len(scopePath)] == '.'
}

// ContainsUnder reports whether the element holds a token at or below the
// scope identifier.
func (m *Marking) ContainsUnder(element, scopePath string) bool {
	for _, id := range m.locations[element] {
		if underScope(id, scopePath) {
			return true
		}
	}
	return false
}

// CountUnder returns the number of tokens at or below the scope identifier.
func (m *Marking) CountUnder(element, scopePath string) int {
	n := 0
	for _, id := range m.locations[element] {
		if underScope(id, scopePath) {
			n++
		}
	}
	return n
}

// IdentifiersUnder returns the element's tokens at or below the scope
// identifier, in insertion order.
func (m *Marking) IdentifiersUnder(element, scopePath string) []*Identifier {
	out := make([]*Identifier, 0)
	for _, id := range m.locations[element] {
		if underScope(id, scopePath) {
			out = append(out, id)
		}
	}
	return out
}

// RemoveAllUnder purges the element of tokens at or below the scope
// identifier.
func (m *Marking) RemoveAllUnder(element, scopePath string) {
	for _, id := range m.IdentifiersUnder(element, scopePath) {
		m.Remove(element, id)
	}
}

// IdentifiersAt returns the element's tokens in insertion order.
func (m *Marking) IdentifiersAt(element string) []*Identifier {
	held := m.locations[element]
	out := make([]*Identifier, len(held))
	copy(out, held)
	return out
}

// Elements returns the sorted ids of elements currently holding tokens.
func (m *Marking) Elements() []string {
	out := make([]string, 0, len(m.locations))
	for element := range m.locations {
		out = append(out, element)
	}
	sort.Strings(out)
	return out
}

// Snapshot returns a read-only {element -> token count} view for the case.
func (m *Marking) Snapshot(caseID string) map[string]int {
	out := make(map[string]int)
	for element := range m.locations {
		if n := m.Count(element, caseID); n > 0 {
			out[element] = n
		}
	}
	return out
}

// Export renders the marking as {element -> identifier paths} for
// persistence. Paths are listed in insertion order.
func (m *Marking) Export() map[string][]string {
	out := make(map[string][]string, len(m.locations))
	for element, held := range m.locations {
		paths := make([]string, len(held))
		for i, id := range held {
			paths[i] = id.String()
		}
		out[element] = paths
	}
	return out
}

// Import rebuilds a marking under the given root identifier from a
// persisted export.
func Import(root *Identifier, exported map[string][]string) (*Marking, error) {
	m := NewMarking()
	elements := make([]string, 0, len(exported))
	for element := range exported {
		elements = append(elements, element)
	}
	sort.Strings(elements)
	for _, element := range elements {
		for _, path := range exported[element] {
			id, err := root.EnsurePath(path)
			if err != nil {
				return nil, err
			}
			m.Add(element, id)
		}
	}
	return m, nil
}
