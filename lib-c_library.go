package zffi

import (
	"runtime"
	"strings"

	"go.uber.org/zap"
)

// Library is a loaded shared object, or the default symbol namespace of
// the process. Indexing it by name resolves the declared symbol lazily.
type Library struct {
	st     *State
	name   string
	handle uintptr
	syms   *symCache
	closed bool
}

// Name returns the path the library was loaded from, or "" for C().
func (l *Library) Name() string { return l.name }

// Load opens a shared library. An empty path returns the default
// namespace. With global set, its symbols become visible to libraries
// loaded later.
func (st *State) Load(path string, global bool) (*Library, error) {
	if path == "" {
		return st.C()
	}
	var h uintptr
	var err error
	for _, p := range libraryNames(path) {
		if h, err = dlOpen(p, global); err == nil {
			path = p
			break
		}
	}
	if err != nil {
		return nil, err
	}
	l := &Library{st: st, name: path, handle: h, syms: newSymCache(16)}
	st.libs = append(st.libs, l)
	st.log().Debug("library loaded", zap.String("path", path), zap.Bool("global", global))
	return l, nil
}

// libraryNames expands a bare library name the way a host's ffi.load
// does: "z" tries "z", then "libz.so" (or ".dylib").
func libraryNames(path string) []string {
	out := []string{path}
	if strings.ContainsRune(path, '/') {
		return out
	}
	ext := ".so"
	if runtime.GOOS == "darwin" || runtime.GOOS == "ios" {
		ext = ".dylib"
	}
	if !strings.Contains(path, ".so") && !strings.HasSuffix(path, ".dylib") {
		if !strings.HasPrefix(path, "lib") {
			out = append(out, "lib"+path+ext)
		}
		out = append(out, path+ext)
	}
	return out
}

// C returns the default namespace: the process and its global libraries.
func (st *State) C() (*Library, error) {
	if st.cns != nil {
		return st.cns, nil
	}
	h, err := dlDefault()
	if err != nil {
		return nil, err
	}
	st.cns = &Library{st: st, handle: h, syms: newSymCache(64)}
	return st.cns, nil
}

// symbol resolves and caches the cdata of a declared function or variable.
func (l *Library) symbol(d *Decl) (*CData, error) {
	if cd, ok := l.syms.get(d.Name); ok && cd.typ == d.Type {
		return cd, nil
	}
	if l.closed {
		return nil, linkError(nil, "library '%s' is closed", l.name)
	}
	a, err := dlSym(l.handle, d.LinkName())
	if err != nil {
		return nil, err
	}
	cd := &CData{st: l.st, typ: d.Type, ptr: addrPtr(a)}
	if d.Kind == DeclVar {
		cd.size, _ = d.Type.SizeOf()
	}
	l.syms.set(d.Name, cd)
	l.st.debugf("resolved %s %s at 0x%x", d.Kind, d.LinkName(), a)
	return cd, nil
}

func (l *Library) lookup(name string) (*Decl, error) {
	d := l.st.store.Lookup(name)
	if d == nil {
		return nil, typeError("missing declaration for symbol '%s'", name)
	}
	return d, nil
}

// Index returns a constant's value, a function cdata, or the current value
// of a variable with Return rules.
func (l *Library) Index(name string) (any, error) {
	d, err := l.lookup(name)
	if err != nil {
		return nil, err
	}
	switch d.Kind {
	case DeclConst:
		return d.Value.Value(), nil
	case DeclFunc:
		return l.symbol(d)
	case DeclVar:
		cd, err := l.symbol(d)
		if err != nil {
			return nil, err
		}
		return l.st.toHost(d.Type, cd.ptr, cd)
	}
	return nil, typeError("'%s' is a %s, not a symbol", name, d.Kind)
}

// SetIndex assigns to a declared variable.
func (l *Library) SetIndex(name string, v any) error {
	d, err := l.lookup(name)
	if err != nil {
		return err
	}
	if d.Kind != DeclVar {
		return typeError("cannot assign to %s '%s'", d.Kind, name)
	}
	cd, err := l.symbol(d)
	if err != nil {
		return err
	}
	return cd.Set(v)
}

// Close unloads the library. Cdata resolved from it become invalid.
func (l *Library) Close() error {
	if l.closed || l.name == "" {
		return nil
	}
	l.closed = true
	l.syms.clear()
	return dlClose(l.handle)
}
