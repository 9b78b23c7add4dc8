package zffi

import "strconv"

// DeclKind classifies a declaration.
type DeclKind uint8

const (
	DeclTypedef DeclKind = iota
	DeclRecord
	DeclEnum
	DeclVar
	DeclFunc
	DeclConst
)

var declKindNames = [...]string{"typedef", "record", "enum", "variable", "function", "constant"}

func (k DeclKind) String() string {
	if int(k) < len(declKindNames) {
		return declKindNames[k]
	}
	return "?"
}

// Decl is one named declaration. Records and enums are stored under their
// tag ("struct P", "union U", "enum E"); everything else under its name.
type Decl struct {
	Kind   DeclKind
	Name   string
	Type   *CType
	Value  Literal // constants
	Symbol string  // link name override for variables and functions
}

// overridable declarations are replaced on redeclaration.
func (d *Decl) overridable() bool {
	return d.Kind == DeclVar || d.Kind == DeclFunc
}

// LinkName returns the native symbol a variable or function resolves to.
func (d *Decl) LinkName() string {
	if d.Symbol != "" {
		return d.Symbol
	}
	return d.Name
}

// DeclStore is an ordered registry of declarations. A staging child
// collects declarations from one parse and is either committed into its
// parent or dropped. A root store may sit on a shared base store.
type DeclStore struct {
	parent *DeclStore
	base   *DeclStore
	order  []*Decl
	names  map[string]*Decl
	undo   []func()
	anon   *int
}

// NewDeclStore returns an empty root store layered on base, which may be nil.
func NewDeclStore(base *DeclStore) *DeclStore {
	return &DeclStore{base: base, names: make(map[string]*Decl), anon: new(int)}
}

// Stage returns a child store whose additions stay invisible to s until
// Commit.
func (s *DeclStore) Stage() *DeclStore {
	return &DeclStore{parent: s, names: make(map[string]*Decl), anon: s.anon}
}

// Lookup finds name in s, its ancestors, then the base store.
func (s *DeclStore) Lookup(name string) *Decl {
	for cur := s; cur != nil; cur = cur.parent {
		if d, ok := cur.names[name]; ok {
			return d
		}
		if cur.parent == nil && cur.base != nil {
			return cur.base.Lookup(name)
		}
	}
	return nil
}

// owns reports whether name was declared in s itself.
func (s *DeclStore) owns(name string) bool {
	_, ok := s.names[name]
	return ok
}

// Add installs d. For a non-overridable name already visible it returns
// the existing declaration and leaves the store unchanged.
func (s *DeclStore) Add(d *Decl) *Decl {
	if old := s.Lookup(d.Name); old != nil && !(old.overridable() && d.overridable()) {
		return old
	}
	if _, ok := s.names[d.Name]; ok {
		for i, o := range s.order {
			if o.Name == d.Name {
				s.order = append(s.order[:i], s.order[i+1:]...)
				break
			}
		}
	}
	s.names[d.Name] = d
	s.order = append(s.order, d)
	return nil
}

// onDrop registers an action that reverts an in-place change made to an
// object owned by an ancestor store.
func (s *DeclStore) onDrop(fn func()) {
	if s.parent != nil {
		s.undo = append(s.undo, fn)
	}
}

// Commit moves every staged declaration into the parent store.
func (s *DeclStore) Commit() error {
	if s.parent == nil {
		return typeError("commit on a store that is not staged")
	}
	p := s.parent
	for _, d := range s.order {
		if _, ok := p.names[d.Name]; ok {
			for i, o := range p.order {
				if o.Name == d.Name {
					p.order = append(p.order[:i], p.order[i+1:]...)
					break
				}
			}
		}
		p.names[d.Name] = d
		p.order = append(p.order, d)
	}
	p.undo = append(p.undo, s.undo...)
	s.order, s.names, s.undo = nil, make(map[string]*Decl), nil
	return nil
}

// Drop discards staged declarations and reverts in-place fills.
func (s *DeclStore) Drop() {
	for i := len(s.undo) - 1; i >= 0; i-- {
		s.undo[i]()
	}
	s.order, s.names, s.undo = nil, make(map[string]*Decl), nil
}

// Decls returns the declarations of s in declaration order.
func (s *DeclStore) Decls() []*Decl {
	out := make([]*Decl, len(s.order))
	copy(out, s.order)
	return out
}

// Len returns the number of declarations held by s itself.
func (s *DeclStore) Len() int { return len(s.order) }

// anonName generates a unique tag for an anonymous record or enum.
func (s *DeclStore) anonName() string {
	*s.anon++
	return anonPrefix + strconv.Itoa(*s.anon)
}
