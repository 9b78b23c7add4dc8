package zffi

import "unsafe"

// recordLayout is the computed native layout of a complete record.
type recordLayout struct {
	fields   []Field
	size     int // fixed part, rounded to align
	align    int
	flex     bool // a trailing member is sized per instance
	flexOff  int
	flexElem *CType
	native   *NativeDesc
}

func alignUp(n, a int) int {
	if a <= 1 {
		return n
	}
	return (n + a - 1) / a * a
}

// layout computes field offsets on first use.
func (r *Record) layout() (*recordLayout, error) {
	if r.lay != nil {
		return r.lay, nil
	}
	if !r.complete || r.busy {
		return nil, typeError("incomplete type '%s'", r.tag())
	}
	r.busy = true
	defer func() { r.busy = false }()
	l := &recordLayout{align: 1, fields: make([]Field, len(r.fields))}
	copy(l.fields, r.fields)
	off, max := 0, 0
	for i := range l.fields {
		f := &l.fields[i]
		last := i == len(l.fields)-1
		if tail, ok := flexTail(f.Type); ok {
			if !last || r.Union {
				return nil, typeError("variable-size member '%s' must be the last member of a struct", f.Name)
			}
			fa, _ := f.Type.AlignOf()
			off = alignUp(off, fa)
			f.Offset = off
			l.flex = true
			l.flexOff = off + tail.off
			l.flexElem = tail.elem
			if fa > l.align {
				l.align = fa
			}
			continue
		}
		fs, ok := f.Type.SizeOf()
		if !ok {
			return nil, typeError("member '%s' of '%s' has incomplete type '%s'", f.Name, r.tag(), f.Type)
		}
		fa, _ := f.Type.AlignOf()
		if fa > l.align {
			l.align = fa
		}
		if r.Union {
			f.Offset = 0
			if fs > max {
				max = fs
			}
			continue
		}
		off = alignUp(off, fa)
		f.Offset = off
		off += fs
	}
	if r.Union {
		off = max
	}
	l.size = alignUp(off, l.align)
	r.lay = l
	return l, nil
}

type flexInfo struct {
	off  int
	elem *CType
}

// flexTail reports whether t ends in a per-instance sized array and where
// that array starts relative to t.
func flexTail(t *CType) (flexInfo, bool) {
	switch t.kind {
	case KindArray:
		if t.flags&(flagUnbounded|flagVLA) != 0 {
			return flexInfo{elem: t.elem}, true
		}
	case KindRecord:
		if l, err := t.rec.layout(); err == nil && l.flex {
			return flexInfo{off: l.flexOff, elem: l.flexElem}, true
		}
	}
	return flexInfo{}, false
}

// SizeOf reports the native size in bytes. ok is false for incomplete
// and variable-size types.
func (t *CType) SizeOf() (int, bool) {
	switch t.kind {
	case KindVoid, KindFunc:
		return 0, false
	case KindArray:
		if t.flags&(flagUnbounded|flagVLA) != 0 {
			return 0, false
		}
		es, ok := t.elem.SizeOf()
		if !ok {
			return 0, false
		}
		return es * t.n, true
	case KindRecord:
		l, err := t.rec.layout()
		if err != nil || l.flex {
			return 0, false
		}
		return l.size, true
	case KindEnum:
		if !t.enum.complete {
			return 0, false
		}
		s, _ := host.scalar(t.enum.kind())
		return s, true
	}
	s, _ := host.scalar(t.kind)
	return s, true
}

// SizeOfN reports the size of a variable-size type holding n trailing
// elements. Fixed-size types ignore n.
func (t *CType) SizeOfN(n int) (int, bool) {
	if n < 0 {
		return 0, false
	}
	switch t.kind {
	case KindArray:
		if t.flags&(flagUnbounded|flagVLA) != 0 {
			es, ok := t.elem.SizeOf()
			if !ok {
				return 0, false
			}
			return es * n, true
		}
	case KindRecord:
		l, err := t.rec.layout()
		if err != nil {
			return 0, false
		}
		if l.flex {
			es, ok := l.flexElem.SizeOf()
			if !ok {
				return 0, false
			}
			return alignUp(l.flexOff+es*n, l.align), true
		}
	}
	return t.SizeOf()
}

// AlignOf reports the native alignment in bytes.
func (t *CType) AlignOf() (int, bool) {
	switch t.kind {
	case KindVoid:
		return 1, false
	case KindArray:
		return t.elem.AlignOf()
	case KindRecord:
		l, err := t.rec.layout()
		if err != nil {
			return 1, false
		}
		return l.align, true
	case KindEnum:
		_, a := host.scalar(t.enum.kind())
		return a, t.enum.complete
	}
	_, a := host.scalar(t.kind)
	return a, true
}

// IsComplete reports whether storage for t can be materialized, given an
// element count for variable-size types.
func (t *CType) IsComplete() bool {
	switch t.kind {
	case KindVoid, KindFunc:
		return false
	case KindArray:
		return t.elem.IsComplete()
	case KindRecord:
		_, err := t.rec.layout()
		return err == nil
	case KindEnum:
		return t.enum.complete
	}
	return true
}

// PassableByValue reports whether values of t can be passed to and
// returned from native calls directly.
func (t *CType) PassableByValue() bool {
	switch t.kind {
	case KindArray, KindFunc:
		return false
	case KindVoid:
		return true
	case KindRecord:
		l, err := t.rec.layout()
		return err == nil && !l.flex && l.size > 0
	case KindEnum:
		return t.enum.complete
	}
	return true
}

//
// native descriptors
//

// NativeKind is the ABI-level class of a native descriptor.
type NativeKind uint8

const (
	NatVoid NativeKind = iota
	NatUInt8
	NatSInt8
	NatUInt16
	NatSInt16
	NatUInt32
	NatSInt32
	NatUInt64
	NatSInt64
	NatFloat
	NatDouble
	NatLongDouble
	NatPointer
	NatStruct
)

var natNames = [...]string{"void", "uint8", "sint8", "uint16", "sint16", "uint32", "sint32",
	"uint64", "sint64", "float", "double", "longdouble", "pointer", "struct"}

func (k NativeKind) String() string {
	if int(k) < len(natNames) {
		return natNames[k]
	}
	return "?"
}

// NativeDesc is an ABI-level descriptor of a value, in the shape libffi
// consumes: scalars, or a struct of flattened elements.
type NativeDesc struct {
	Kind  NativeKind
	Size  int
	Align int
	Elems []*NativeDesc
	ffi   unsafe.Pointer // libffi ffi_type built on first call
}

var natScalars [NatPointer + 1]*NativeDesc

func init() {
	sizes := [...]int{0, 1, 1, 2, 2, 4, 4, 8, 8, 4, 8, 0, 0}
	for k := NatVoid; k <= NatPointer; k++ {
		natScalars[k] = &NativeDesc{Kind: k, Size: sizes[k], Align: sizes[k]}
	}
	natScalars[NatVoid].Align = 1
	natScalars[NatUInt64].Align, natScalars[NatSInt64].Align = host.llAlign, host.llAlign
	natScalars[NatDouble].Align = host.llAlign
	natScalars[NatLongDouble].Size, natScalars[NatLongDouble].Align = host.ldSize, host.ldAlign
	natScalars[NatPointer].Size, natScalars[NatPointer].Align = host.ptrSize, host.ptrSize
}

// nativeKind maps a scalar kind onto its native class.
func nativeKind(k Kind) NativeKind {
	switch k {
	case KindVoid:
		return NatVoid
	case KindBool, KindUChar:
		return NatUInt8
	case KindSChar:
		return NatSInt8
	case KindChar:
		if host.charSigned {
			return NatSInt8
		}
		return NatUInt8
	case KindShort:
		return NatSInt16
	case KindUShort:
		return NatUInt16
	case KindInt:
		return NatSInt32
	case KindUInt:
		return NatUInt32
	case KindLong:
		if host.longSize == 8 {
			return NatSInt64
		}
		return NatSInt32
	case KindULong:
		if host.longSize == 8 {
			return NatUInt64
		}
		return NatUInt32
	case KindLongLong:
		return NatSInt64
	case KindULongLong:
		return NatUInt64
	case KindFloat:
		return NatFloat
	case KindDouble:
		return NatDouble
	case KindLongDouble:
		return NatLongDouble
	}
	return NatPointer
}

// NativeDesc returns the ABI descriptor for t. Arrays are described as a
// struct of their elements; callers decay array arguments first.
func (t *CType) NativeDesc() (*NativeDesc, error) {
	switch t.kind {
	case KindPointer, KindRef, KindFunc:
		return natScalars[NatPointer], nil
	case KindEnum:
		if !t.enum.complete {
			return nil, typeError("incomplete type '%s'", t)
		}
		return natScalars[nativeKind(t.enum.kind())], nil
	case KindArray:
		if t.flags&(flagUnbounded|flagVLA) != 0 {
			return nil, typeError("variable-size type '%s' has no fixed descriptor", t)
		}
		ed, err := t.elem.NativeDesc()
		if err != nil {
			return nil, err
		}
		size, _ := t.SizeOf()
		align, _ := t.AlignOf()
		d := &NativeDesc{Kind: NatStruct, Size: size, Align: align}
		d.Elems = appendElems(d.Elems, ed, t.n)
		return d, nil
	case KindRecord:
		return t.rec.nativeDesc()
	}
	return natScalars[nativeKind(t.kind)], nil
}

// appendElems adds n copies of d, flattening nested struct descriptors of
// arrays so libffi sees the element classes directly.
func appendElems(dst []*NativeDesc, d *NativeDesc, n int) []*NativeDesc {
	for i := 0; i < n; i++ {
		dst = append(dst, d)
	}
	return dst
}

func (r *Record) nativeDesc() (*NativeDesc, error) {
	l, err := r.layout()
	if err != nil {
		return nil, err
	}
	if l.native != nil {
		return l.native, nil
	}
	if l.flex {
		return nil, typeError("variable-size type '%s' has no fixed descriptor", r.tag())
	}
	d := &NativeDesc{Kind: NatStruct, Size: l.size, Align: l.align}
	if r.Union {
		d.Elems = unionElems(r, l)
	} else {
		for _, f := range l.fields {
			fd, err := f.Type.NativeDesc()
			if err != nil {
				return nil, err
			}
			if f.Type.kind == KindArray {
				d.Elems = append(d.Elems, fd.Elems...)
				continue
			}
			d.Elems = append(d.Elems, fd)
		}
	}
	l.native = d
	return d, nil
}

// unionElems describes a union either as N copies of the single scalar
// class every member resolves to, or as a run of the widest integer that
// divides the union's alignment followed by byte padding.
func unionElems(r *Record, l *recordLayout) []*NativeDesc {
	if base, ok := homogeneousBase(recordType(r)); ok {
		bd := natScalars[base]
		if bd.Size > 0 && l.size%bd.Size == 0 {
			return appendElems(nil, bd, l.size/bd.Size)
		}
	}
	unit := natScalars[NatUInt8]
	for _, k := range []NativeKind{NatUInt64, NatUInt32, NatUInt16} {
		if s := natScalars[k].Size; l.align%s == 0 {
			unit = natScalars[k]
			break
		}
	}
	elems := appendElems(nil, unit, l.size/unit.Size)
	return appendElems(elems, natScalars[NatUInt8], l.size%unit.Size)
}

// homogeneousBase finds the one scalar class that every leaf of t has.
func homogeneousBase(t *CType) (NativeKind, bool) {
	switch t.kind {
	case KindArray:
		return homogeneousBase(t.elem)
	case KindRecord:
		l, err := t.rec.layout()
		if err != nil || len(l.fields) == 0 {
			return 0, false
		}
		var base NativeKind
		for i, f := range l.fields {
			b, ok := homogeneousBase(f.Type)
			if !ok || (i > 0 && b != base) {
				return 0, false
			}
			base = b
		}
		return base, true
	case KindVoid, KindFunc:
		return 0, false
	case KindEnum:
		return nativeKind(t.enum.kind()), true
	case KindPointer, KindRef:
		return NatPointer, true
	}
	return nativeKind(t.kind), true
}
