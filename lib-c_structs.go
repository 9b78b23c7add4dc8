package zffi

import "unsafe"

// initAggregate fills the array or record at p from initializers. The
// region is zeroed first so members without an initializer read as zero.
func (st *State) initAggregate(ct *CType, p unsafe.Pointer, nelem int, args []any, cx *convCtx) error {
	size, ok := ct.SizeOfN(nelem)
	if !ok {
		return typeError("cannot initialize incomplete type '%s'", ct)
	}
	if len(args) == 1 {
		if src, ok := args[0].(*CData); ok && src.typ.isAggregate() && src.ptr == p {
			return nil
		}
	}
	zero(p, size)

	switch {
	case len(args) == 0:
		return nil

	case len(args) > 1:
		return st.initElems(ct, p, nelem, args, cx)
	}

	switch v := args[0].(type) {
	case *CData:
		if v.typ.unqualified().IsSame(ct.unqualified(), true, false) ||
			(ct.IsVariable() && v.typ.isAggregate() && sameBase(v.typ, ct)) {
			n := size
			if v.size < n {
				n = v.size
			}
			copy(memBytes(p, n), memBytes(v.ptr, n))
			return nil
		}
	case []any:
		return st.initElems(ct, p, nelem, v, cx)
	case map[string]any:
		return st.initFields(ct, p, nelem, v, cx)
	case string:
		if ct.kind == KindArray && ct.elem.isCharLike() {
			n := ct.n
			if ct.IsVariable() {
				n = nelem
			}
			if len(v) > n {
				return typeError("string of length %d too long for '%s'", len(v), ct)
			}
			copy(memBytes(p, n), v)
			return nil
		}
	}

	// a single scalar: broadcast over an array, or the first record member
	if ct.kind == KindArray {
		es, _ := ct.elem.SizeOf()
		n := ct.n
		if ct.IsVariable() {
			n = nelem
		}
		for i := 0; i < n; i++ {
			if err := st.assign(ct.elem, unsafe.Add(p, i*es), args[0], cx); err != nil {
				return err
			}
		}
		return nil
	}
	fields := ct.rec.Fields()
	if len(fields) == 0 {
		return typeError("too many initializers for '%s'", ct)
	}
	return st.initMember(fields[0], p, nelem, args[0], cx)
}

// sameBase compares the variable-size shape of two aggregate types.
func sameBase(a, b *CType) bool {
	switch {
	case a.kind == KindArray && b.kind == KindArray:
		return a.elem.IsSame(b.elem, true, false)
	case a.kind == KindRecord && b.kind == KindRecord:
		return a.rec == b.rec
	}
	return false
}

// initElems assigns initializers in order: array elements, or record
// members in declaration order. A union takes a single initializer.
func (st *State) initElems(ct *CType, p unsafe.Pointer, nelem int, args []any, cx *convCtx) error {
	if ct.kind == KindArray {
		n := ct.n
		if ct.IsVariable() {
			n = nelem
		}
		if len(args) > n {
			return typeError("too many initializers for '%s'", ct)
		}
		es, _ := ct.elem.SizeOf()
		for i, v := range args {
			if err := st.assign(ct.elem, unsafe.Add(p, i*es), v, cx); err != nil {
				return err
			}
		}
		return nil
	}
	fields := ct.rec.Fields()
	if len(args) > len(fields) || (ct.rec.Union && len(args) > 1) {
		return typeError("too many initializers for '%s'", ct)
	}
	for i, v := range args {
		if err := st.initMember(fields[i], p, nelem, v, cx); err != nil {
			return err
		}
	}
	return nil
}

// initFields assigns record members by name.
func (st *State) initFields(ct *CType, p unsafe.Pointer, nelem int, m map[string]any, cx *convCtx) error {
	if ct.kind != KindRecord {
		return typeError("cannot initialize '%s' from a mapping", ct)
	}
	if ct.rec.Union && len(m) > 1 {
		return typeError("union '%s' takes one initializer, got %d", ct, len(m))
	}
	for name, v := range m {
		f, ok := ct.rec.Field(name)
		if !ok {
			return typeError("'%s' has no member named '%s'", ct, name)
		}
		if err := st.initMember(f, p, nelem, v, cx); err != nil {
			return err
		}
	}
	return nil
}

// initMember stores one initializer into a record member. The trailing
// variable member takes the instance element count.
func (st *State) initMember(f Field, base unsafe.Pointer, nelem int, v any, cx *convCtx) error {
	fp := unsafe.Add(base, f.Offset)
	if f.Type.IsVariable() {
		return st.initAggregate(f.Type, fp, nelem, []any{v}, cx)
	}
	return st.assign(f.Type, fp, v, cx)
}

//
// member and element access
//

// target resolves what a cdata addresses when indexed: the pointee of a
// pointer or reference, or the value itself.
func (cd *CData) target() (*CType, unsafe.Pointer, bool) {
	switch cd.typ.kind {
	case KindPointer, KindRef:
		return cd.typ.elem, addrPtr(loadAddr(cd.ptr)), true
	}
	return cd.typ, cd.ptr, false
}

// locate finds the type and address of a member or element of cd.
func (cd *CData) locate(key any) (*CType, unsafe.Pointer, error) {
	t, base, deref := cd.target()
	if name, ok := key.(string); ok {
		if t.kind != KindRecord {
			return nil, nil, typeError("'%s' has no member named '%s'", cd.typ, name)
		}
		if base == nil {
			return nil, nil, typeError("attempt to index a NULL pointer")
		}
		f, ok := t.rec.Field(name)
		if !ok {
			return nil, nil, errNoMember
		}
		return f.Type, unsafe.Add(base, f.Offset), nil
	}
	i, ok := hostInt(key)
	if !ok {
		return nil, nil, typeError("bad index of type '%s' for '%s'", hostTypeName(key), cd.typ)
	}
	elem := t
	switch {
	case cd.typ.kind == KindArray:
		elem, base = cd.typ.elem, cd.ptr
		n := cd.typ.Len()
		if cd.typ.IsVariable() {
			n = cd.nelem
		}
		if n >= 0 && (i < 0 || i >= int64(n)) {
			return nil, nil, typeError("index %d out of range for '%s'", i, cd.typ)
		}
	case cd.typ.kind == KindPointer:
	case deref && t.kind == KindArray:
		elem = t.elem
	default:
		return nil, nil, typeError("cannot index '%s'", cd.typ)
	}
	if base == nil {
		return nil, nil, typeError("attempt to index a NULL pointer")
	}
	es, ok := elem.SizeOf()
	if !ok {
		return nil, nil, typeError("cannot index pointer to incomplete type '%s'", elem)
	}
	return elem, unsafe.Add(base, int(i)*es), nil
}

var errNoMember = typeError("no such member")

// Index reads a record member by name or an array or pointer element by
// position. Aggregate results are views into cd.
func (cd *CData) Index(key any) (any, error) {
	t, p, err := cd.locate(key)
	if err == errNoMember {
		if mt := cd.meta(); mt != nil {
			if v, ok, err := mt.index(cd, key); ok || err != nil {
				return v, err
			}
		}
		return nil, typeError("'%s' has no member named '%v'", cd.typ, key)
	}
	if err != nil {
		return nil, err
	}
	return cd.st.toHost(t, p, cd)
}

// SetIndex writes a record member or an element with Construct rules.
func (cd *CData) SetIndex(key, v any) error {
	t, p, err := cd.locate(key)
	if err == errNoMember {
		if mt := cd.meta(); mt != nil {
			if ok, err := mt.newindex(cd, key, v); ok || err != nil {
				return err
			}
		}
		return typeError("'%s' has no member named '%v'", cd.typ, key)
	}
	if err != nil {
		return err
	}
	if t.qual&QualConst != 0 {
		return typeError("attempt to write to constant location of type '%s'", t)
	}
	return cd.st.assign(t, p, v, &convCtx{mode: modeConstruct, owner: cd})
}

// Set stores v into the value itself, or through a reference.
func (cd *CData) Set(v any) error {
	t, p := cd.typ, cd.ptr
	if t.kind == KindRef {
		t, p = t.elem, addrPtr(loadAddr(cd.ptr))
	}
	if t.qual&QualConst != 0 {
		return typeError("attempt to write to constant location of type '%s'", t)
	}
	if t.isAggregate() {
		return cd.st.initAggregate(t, p, cd.nelem, []any{v}, &convCtx{mode: modeConstruct, owner: cd})
	}
	return cd.st.assign(t, p, v, &convCtx{mode: modeConstruct, owner: cd})
}

// Len returns the element count of an array value.
func (cd *CData) Len() (int, error) {
	if mt := cd.meta(); mt != nil {
		if fn, ok := mt.fn("__len"); ok {
			v, err := fn(cd)
			if err != nil {
				return 0, err
			}
			n, ok := hostInt(v)
			if !ok {
				return 0, typeError("__len returned '%s'", hostTypeName(v))
			}
			return int(n), nil
		}
	}
	if cd.typ.kind != KindArray {
		return 0, typeError("attempt to get length of '%s'", cd.typ)
	}
	if cd.typ.IsVariable() {
		return cd.nelem, nil
	}
	return cd.typ.n, nil
}
