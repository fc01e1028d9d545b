package ident

import (
	"fmt"
	"strconv"
	"strings"
)

// Identifier is a case-qualified token. The root identifier carries the
// case id; children are spawned for multi-instance task instances and for
// composite sub-net invocations. Paths encode creation order: the k-th
// child of K1 is K1.k.
type Identifier struct {
	path     string
	parent   *Identifier
	children []*Identifier

	// locations is the ordered set of net elements holding this token.
	locations []string
}

// NewRoot creates a root identifier for a case.
func NewRoot(caseID string) *Identifier {
	return &Identifier{path: caseID}
}

// NewChild spawns the next child identifier in creation order.
func (i *Identifier) NewChild() *Identifier {
	child := &Identifier{
		path:   fmt.Sprintf("%s.%d", i.path, len(i.children)+1),
		parent: i,
	}
	i.children = append(i.children, child)
	return child
}

func (i *Identifier) String() string { return i.path }

func (i *Identifier) Parent() *Identifier { return i.parent }

// Children returns child identifiers in stable creation order.
func (i *Identifier) Children() []*Identifier { return i.children }

// CaseID returns the root identifier's path.
func (i *Identifier) CaseID() string {
	root := i
	for root.parent != nil {
		root = root.parent
	}
	return root.path
}

// Locations returns the ordered set of elements holding this token.
func (i *Identifier) Locations() []string {
	out := make([]string, len(i.locations))
	copy(out, i.locations)
	return out
}

// HasLocation reports whether the token sits in the given element.
func (i *Identifier) HasLocation(element string) bool {
	for _, loc := range i.locations {
		if loc == element {
			return true
		}
	}
	return false
}

func (i *Identifier) addLocation(element string) {
	if i.HasLocation(element) {
		return
	}
	i.locations = append(i.locations, element)
}

func (i *Identifier) removeLocation(element string) {
	for idx, loc := range i.locations {
		if loc == element {
			i.locations = append(i.locations[:idx], i.locations[idx+1:]...)
			return
		}
	}
}

// Find resolves a descendant identifier by path, or nil.
func (i *Identifier) Find(path string) *Identifier {
	if i.path == path {
		return i
	}
	for _, child := range i.children {
		if path == child.path || strings.HasPrefix(path, child.path+".") {
			return child.Find(path)
		}
	}
	return nil
}

// EnsurePath resolves a descendant by path, creating intermediate children
// as needed so ordinals stay aligned with the encoded creation order. Used
// when rebuilding an identifier tree from persisted state.
func (i *Identifier) EnsurePath(path string) (*Identifier, error) {
	if path == i.path {
		return i, nil
	}
	if !strings.HasPrefix(path, i.path+".") {
		return nil, fmt.Errorf("path %s is not under %s", path, i.path)
	}
	rest := strings.TrimPrefix(path, i.path+".")
	node := i
	for _, seg := range strings.Split(rest, ".") {
		ordinal, err := strconv.Atoi(seg)
		if err != nil || ordinal < 1 {
			return nil, fmt.Errorf("path %s has invalid segment %q", path, seg)
		}
		for len(node.children) < ordinal {
			node.NewChild()
		}
		node = node.children[ordinal-1]
	}
	return node, nil
}
