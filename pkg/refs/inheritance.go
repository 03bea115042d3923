package refs

// InheritanceMap tracks class hierarchy relationships, both child-to-parent
// and parent-to-child, derived from base-class lists at extraction time.
type InheritanceMap struct {
	parents  map[string][]string
	children map[string][]string

	// (class, method) -> symbol ids of every implementation
	methodFamilies map[[2]string][]string
}

// NewInheritanceMap creates an empty inheritance map.
func NewInheritanceMap() *InheritanceMap {
	return &InheritanceMap{
		parents:        make(map[string][]string),
		children:       make(map[string][]string),
		methodFamilies: make(map[[2]string][]string),
	}
}

// AddClass registers a class and its base classes.
func (m *InheritanceMap) AddClass(class string, bases []string) {
	if len(bases) == 0 {
		return
	}
	m.parents[class] = append(m.parents[class], bases...)
	for _, base := range bases {
		m.children[base] = append(m.children[base], class)
	}
}

// AddMethod registers a method implementation under its class.
func (m *InheritanceMap) AddMethod(class, method, symbolID string) {
	key := [2]string{class, method}
	m.methodFamilies[key] = append(m.methodFamilies[key], symbolID)
}

// Parents returns the direct base classes of class.
func (m *InheritanceMap) Parents(class string) []string {
	return m.parents[class]
}

// HasAncestor reports whether any base name anywhere above class in the
// hierarchy satisfies match. The base names are passed to match exactly as
// written in the class definitions.
func (m *InheritanceMap) HasAncestor(class string, match func(base string) bool) bool {
	visited := make(map[string]bool)
	var climb func(c string) bool
	climb = func(c string) bool {
		if visited[c] {
			return false
		}
		visited[c] = true
		for _, base := range m.parents[c] {
			if match(base) {
				return true
			}
			if climb(base) {
				return true
			}
		}
		return false
	}
	return climb(class)
}

// DescendantImplementations returns the symbol ids of every override of
// method on classes at or below class in the hierarchy. Upward traversal is
// deliberately not applied: a call on a base resurrects overrides, never
// the other way around.
func (m *InheritanceMap) DescendantImplementations(class, method string) []string {
	var ids []string
	visited := make(map[string]bool)

	var descend func(c string)
	descend = func(c string) {
		if visited[c] {
			return
		}
		visited[c] = true
		ids = append(ids, m.methodFamilies[[2]string{c, method}]...)
		for _, child := range m.children[c] {
			descend(child)
		}
	}
	descend(class)
	return ids
}

// VariableTypeMap maps local variable names to inferred class names within
// one file, with a stack of isinstance-narrowed bindings that take
// precedence inside guarded branches.
type VariableTypeMap struct {
	types    map[string]string
	narrowed []narrowedBinding
}

type narrowedBinding struct {
	name     string
	typeName string
}

// NewVariableTypeMap creates an empty registry for one file walk.
func NewVariableTypeMap() *VariableTypeMap {
	return &VariableTypeMap{types: make(map[string]string)}
}

// Assign records v = C(...) style inference.
func (m *VariableTypeMap) Assign(name, typeName string) {
	m.types[name] = typeName
}

// TypeOf returns the effective type for a variable, narrowed bindings
// first.
func (m *VariableTypeMap) TypeOf(name string) string {
	for i := len(m.narrowed) - 1; i >= 0; i-- {
		if m.narrowed[i].name == name {
			return m.narrowed[i].typeName
		}
	}
	return m.types[name]
}

// PushNarrowed enters an isinstance-guarded branch.
func (m *VariableTypeMap) PushNarrowed(name, typeName string) {
	m.narrowed = append(m.narrowed, narrowedBinding{name: name, typeName: typeName})
}

// PopNarrowed leaves the guarded branch.
func (m *VariableTypeMap) PopNarrowed() {
	if len(m.narrowed) > 0 {
		m.narrowed = m.narrowed[:len(m.narrowed)-1]
	}
}
