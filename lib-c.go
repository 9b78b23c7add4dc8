package zffi

import (
	"fmt"
	"runtime"
	"strconv"
	"unsafe"
)

// HostFunc is a host runtime function value.
type HostFunc func(args ...any) (any, error)

// CData is a native value: memory tagged with a C type. Owned values were
// allocated by the bridge and release their memory when freed or
// collected; views alias memory owned elsewhere and keep its owner alive.
type CData struct {
	st    *State
	typ   *CType
	ptr   unsafe.Pointer // storage, or the code address of a function
	size  int
	nelem int // element count of a variable-size instance
	owned bool
	mem   any // backing store when memory is Go allocated
	keep  []any
	gcfn  HostFunc
	cb    *closureData
	vdesc *callDesc // scratch descriptor for variadic calls
	freed bool
	armed bool // finalizer set
}

// allocation is a native block owned by a CData, such as a string copy.
type allocation struct {
	p   unsafe.Pointer
	mem any
}

// convMode selects the conversion rules applied by assign.
type convMode uint8

const (
	modeConstruct convMode = iota // initializing or assigning native memory
	modePass                      // marshalling a call argument
	modeCast                      // explicit reinterpretation
)

// convCtx carries the mode of one conversion and where temporaries go:
// into the owner for constructed values, into temps for call arguments.
type convCtx struct {
	mode  convMode
	owner *CData
	temps []func()
	hold  []any
}

func (cx *convCtx) own(v any, release func()) {
	if cx.mode == modePass || cx.owner == nil {
		cx.hold = append(cx.hold, v)
		cx.temps = append(cx.temps, release)
		return
	}
	cx.owner.keep = append(cx.owner.keep, v)
}

// release frees the temporaries of a call.
func (cx *convCtx) release() {
	for i := len(cx.temps) - 1; i >= 0; i-- {
		cx.temps[i]()
	}
	cx.temps, cx.hold = nil, nil
}

//
// memory
//

func memBytes(p unsafe.Pointer, n int) []byte {
	if n <= 0 || p == nil {
		return nil
	}
	return unsafe.Slice((*byte)(p), n)
}

func loadUint(p unsafe.Pointer, size int) uint64 {
	switch size {
	case 1:
		return uint64(*(*uint8)(p))
	case 2:
		return uint64(*(*uint16)(p))
	case 4:
		return uint64(*(*uint32)(p))
	}
	return *(*uint64)(p)
}

func storeUint(p unsafe.Pointer, size int, v uint64) {
	switch size {
	case 1:
		*(*uint8)(p) = uint8(v)
	case 2:
		*(*uint16)(p) = uint16(v)
	case 4:
		*(*uint32)(p) = uint32(v)
	default:
		*(*uint64)(p) = v
	}
}

// Native pointer values are kept as integers on the Go side; they may be
// arbitrary numbers produced by a cast.
func loadAddr(p unsafe.Pointer) uintptr {
	return uintptr(loadUint(p, host.ptrSize))
}

func storeAddr(p unsafe.Pointer, a uintptr) {
	storeUint(p, host.ptrSize, uint64(a))
}

func addrPtr(a uintptr) unsafe.Pointer {
	return *(*unsafe.Pointer)(unsafe.Pointer(&a))
}

func zero(p unsafe.Pointer, n int) {
	b := memBytes(p, n)
	for i := range b {
		b[i] = 0
	}
}

// alloc returns a zero filled owned value of type ct.
func (st *State) alloc(ct *CType, nelem int) (*CData, error) {
	var size int
	var ok bool
	if ct.IsVariable() {
		size, ok = ct.SizeOfN(nelem)
	} else {
		size, ok = ct.SizeOf()
	}
	if !ok {
		return nil, typeError("cannot create cdata of incomplete type '%s'", ct)
	}
	p, mem := nativeAlloc(size)
	if p == nil {
		return nil, typeError("not enough memory for '%s'", ct)
	}
	cd := &CData{st: st, typ: ct, ptr: p, size: size, nelem: nelem, owned: true, mem: mem}
	cd.track()
	return cd, nil
}

// view returns a cdata aliasing memory at p that keeps owner alive.
func (st *State) view(ct *CType, p unsafe.Pointer, owner *CData) *CData {
	cd := &CData{st: st, typ: ct, ptr: p}
	if owner != nil {
		cd.keep = []any{owner}
		if ct.IsVariable() {
			cd.nelem = owner.nelem
		}
	}
	if ct.IsVariable() {
		cd.size, _ = ct.SizeOfN(cd.nelem)
	} else {
		cd.size, _ = ct.SizeOf()
	}
	return cd
}

// copyOf returns an owned copy of the value at p.
func (st *State) copyOf(ct *CType, p unsafe.Pointer) (*CData, error) {
	cd, err := st.alloc(ct, 0)
	if err != nil {
		return nil, err
	}
	copy(memBytes(cd.ptr, cd.size), memBytes(p, cd.size))
	return cd, nil
}

// cstring copies s into native memory owned by the conversion context.
func (st *State) cstring(s string, cx *convCtx) uintptr {
	p, mem := nativeAlloc(len(s) + 1)
	b := memBytes(p, len(s)+1)
	copy(b, s)
	b[len(s)] = 0
	cx.own(&allocation{p: p, mem: mem}, func() { nativeFree(p) })
	return uintptr(p)
}

//
// lifetime
//

// track arms the finalizer of values that own resources. The runtime
// allows one finalizer per object, so it is set at most once.
func (cd *CData) track() {
	if cd.armed || cd.freed {
		return
	}
	if cd.owned || cd.gcfn != nil || cd.cb != nil || cd.vdesc != nil {
		cd.armed = true
		runtime.SetFinalizer(cd, (*CData).finalize)
	}
}

func (cd *CData) finalize() {
	if cd.freed {
		return
	}
	cd.freed = true
	if cd.gcfn != nil {
		fn := cd.gcfn
		cd.gcfn = nil
		cd.st.protect("finalizer", func() error { _, err := fn(cd); return err })
	}
	if mt := cd.meta(); mt != nil && cd.owned {
		if fn, ok := mt.fn("__gc"); ok {
			cd.st.protect("__gc", func() error { _, err := fn(cd); return err })
		}
	}
	if cd.cb != nil {
		cd.cb.free()
		cd.cb = nil
	}
	if cd.vdesc != nil {
		cd.vdesc.release()
		cd.vdesc = nil
	}
	for _, k := range cd.keep {
		switch v := k.(type) {
		case *allocation:
			nativeFree(v.p)
		case *closureData:
			v.free()
		}
	}
	cd.keep = nil
	if cd.owned {
		nativeFree(cd.ptr)
		cd.ptr, cd.mem = nil, nil
	}
}

// Free releases cd now instead of at collection. Using cd afterwards is
// undefined.
func (cd *CData) Free() {
	runtime.SetFinalizer(cd, nil)
	cd.finalize()
}

// protect runs a host function that cannot report errors to its caller.
func (st *State) protect(what string, fn func() error) {
	defer func() {
		if r := recover(); r != nil {
			st.log().Sugar().Errorf("%s panicked: %v", what, r)
		}
	}()
	if err := fn(); err != nil {
		st.log().Sugar().Errorf("%s failed: %v", what, err)
	}
}

//
// accessors
//

// Type returns the C type of the value.
func (cd *CData) Type() *CType { return cd.typ }

// Size returns the number of bytes addressed by the value.
func (cd *CData) Size() int { return cd.size }

// addr is the address of the storage, or the code address of a function.
func (cd *CData) addr() uintptr { return uintptr(cd.ptr) }

// Addr returns the address of the value's storage.
func (cd *CData) Addr() uintptr { return cd.addr() }

// Pointer returns the stored address of a pointer value, or the address
// of the storage for any other type.
func (cd *CData) Pointer() uintptr {
	switch cd.typ.kind {
	case KindPointer:
		return loadAddr(cd.ptr)
	case KindRef:
		return loadAddr(cd.ptr)
	}
	return cd.addr()
}

// IsNull reports a NULL pointer value.
func (cd *CData) IsNull() bool {
	switch cd.typ.kind {
	case KindPointer:
		return loadAddr(cd.ptr) == 0
	case KindFunc:
		return cd.ptr == nil
	}
	return false
}

// Value converts the value to a host value. Scalars become host numbers,
// everything else returns cd itself.
func (cd *CData) Value() (any, error) {
	t := cd.typ
	p := cd.ptr
	if t.kind == KindRef {
		t, p = t.elem, addrPtr(loadAddr(cd.ptr))
	}
	if t == cd.typ && cd.owned && boxed(t) {
		return cd, nil
	}
	if t.IsArith() {
		return cd.st.toHost(t, p, cd)
	}
	return cd, nil
}

// boxed reports whether values of ct have no exact host representation
// and are handed out as cdata copies.
func boxed(ct *CType) bool {
	switch {
	case ct.IsInteger() && ct.kind != KindBool:
		size, _ := ct.SizeOf()
		return size == 8 && !ct.IsSigned()
	case ct.kind == KindLongDouble:
		return host.ldSize > 8
	}
	return false
}

// literal reads a scalar value, following a reference.
func (cd *CData) literal() (Literal, bool) {
	t, p := cd.typ, cd.ptr
	if t.kind == KindRef {
		t, p = t.elem, addrPtr(loadAddr(cd.ptr))
	}
	if !t.IsArith() || p == nil {
		return Literal{}, false
	}
	return readScalar(t, p), true
}

// bytesStart returns the first byte addressed by a pointer, array or
// aggregate value, and the number of bytes known to be addressable.
func (cd *CData) bytesStart() (unsafe.Pointer, int, error) {
	switch cd.typ.kind {
	case KindPointer:
		return addrPtr(loadAddr(cd.ptr)), -1, nil
	case KindRef:
		return addrPtr(loadAddr(cd.ptr)), -1, nil
	case KindArray, KindRecord:
		return cd.ptr, cd.size, nil
	}
	return nil, 0, typeError("cannot address bytes of '%s'", cd.typ)
}

// String renders the value like a host tostring: numbers for boxed
// integers, otherwise the type and address.
func (cd *CData) String() string {
	if mt := cd.meta(); mt != nil {
		if fn, ok := mt.fn("__tostring"); ok {
			if v, err := fn(cd); err == nil {
				if s, ok := v.(string); ok {
					return s
				}
			}
		}
	}
	if l, ok := cd.literal(); ok {
		switch {
		case l.IsFloat():
			return strconv.FormatFloat(l.Float64(), 'g', -1, 64)
		case !l.Kind.signed() && cd.size == 8:
			return strconv.FormatUint(l.Uint64(), 10) + "ULL"
		case cd.size == 8:
			return strconv.FormatInt(l.Int64(), 10) + "LL"
		}
		return l.String()
	}
	a := cd.addr()
	if cd.typ.kind == KindPointer {
		a = loadAddr(cd.ptr)
	}
	if cd.typ.kind == KindPointer && cd.typ.elem.kind == KindFunc && cd.cb != nil {
		return fmt.Sprintf("cdata<%s>: callback 0x%x", cd.typ, a)
	}
	return fmt.Sprintf("cdata<%s>: 0x%x", cd.typ, a)
}

//
// scalar access
//

// readScalar loads an arithmetic value.
func readScalar(t *CType, p unsafe.Pointer) Literal {
	k := t.kind
	if k == KindEnum {
		k = t.enum.kind()
	}
	switch k {
	case KindFloat:
		return floatLit(k, float64(*(*float32)(p)))
	case KindDouble:
		return floatLit(k, *(*float64)(p))
	case KindLongDouble:
		return floatLit(k, loadLongDouble(p))
	}
	size, _ := host.scalar(k)
	return intLit(k, loadUint(p, size))
}

// writeScalar stores l converted to t.
func writeScalar(t *CType, p unsafe.Pointer, l Literal) {
	k := t.kind
	if k == KindEnum {
		k = t.enum.kind()
	}
	v := l.convert(k)
	switch k {
	case KindFloat:
		*(*float32)(p) = float32(v.f)
		return
	case KindDouble:
		*(*float64)(p) = v.f
		return
	case KindLongDouble:
		storeLongDouble(p, v.f)
		return
	}
	size, _ := host.scalar(k)
	storeUint(p, size, v.bits)
}

//
// conversions into native memory
//

// construct initializes a freshly allocated value from New arguments.
func (st *State) construct(cd *CData, args []any) error {
	cx := &convCtx{mode: modeConstruct, owner: cd}
	if cd.typ.isAggregate() {
		return st.initAggregate(cd.typ, cd.ptr, cd.nelem, args, cx)
	}
	switch len(args) {
	case 0:
		return nil
	case 1:
		return st.assign(cd.typ, cd.ptr, args[0], cx)
	}
	return typeError("too many initializers for '%s'", cd.typ)
}

// assign converts the host value v to type ct and stores it at p.
func (st *State) assign(ct *CType, p unsafe.Pointer, v any, cx *convCtx) error {
	switch {
	case ct.IsArith():
		return st.assignArith(ct, p, v, cx)
	case ct.kind == KindPointer:
		return st.assignPointer(ct, p, v, cx)
	case ct.kind == KindRef:
		return st.assignRef(ct, p, v)
	case ct.isAggregate():
		if cd, ok := v.(*CData); ok && cd.typ.kind == KindRef {
			v = st.view(cd.typ.elem, addrPtr(loadAddr(cd.ptr)), cd)
		}
		return st.initAggregate(ct, p, 0, []any{v}, cx)
	}
	return typeError("cannot convert '%s' to '%s'", hostTypeName(v), ct)
}

func (st *State) assignArith(ct *CType, p unsafe.Pointer, v any, cx *convCtx) error {
	switch x := v.(type) {
	case *CData:
		if l, ok := x.literal(); ok {
			writeScalar(ct, p, l)
			return nil
		}
		if cx.mode == modeCast && ct.IsInteger() {
			switch x.typ.kind {
			case KindPointer, KindRef:
				writeScalar(ct, p, intLit(KindULongLong, uint64(loadAddr(x.ptr))))
				return nil
			case KindArray, KindFunc, KindRecord:
				writeScalar(ct, p, intLit(KindULongLong, uint64(x.addr())))
				return nil
			}
		}
	case string:
		if ct.kind == KindEnum {
			n, ok := ct.enum.Lookup(x)
			if !ok {
				return typeError("invalid value '%s' for '%s'", x, ct)
			}
			writeScalar(ct, p, intLit(KindLongLong, uint64(n)))
			return nil
		}
		if cx.mode == modeCast {
			break
		}
		if ct.isCharLike() && len(x) == 1 {
			writeScalar(ct, p, intLit(KindUChar, uint64(x[0])))
			return nil
		}
	case uintptr:
		writeScalar(ct, p, intLit(KindULongLong, uint64(x)))
		return nil
	default:
		if l, ok := hostLiteral(v); ok {
			writeScalar(ct, p, l)
			return nil
		}
	}
	return typeError("cannot convert '%s' to '%s'", hostTypeName(v), ct)
}

// ptrCompatible reports whether a pointer to src may be stored in a
// pointer to dst without a cast.
func ptrCompatible(dst, src *CType) bool {
	if dst.kind == KindVoid || src.kind == KindVoid {
		return true
	}
	if dst.IsSame(src, true, false) {
		return true
	}
	// char, signed char and unsigned char pointers interconvert
	return dst.isCharLike() && src.isCharLike()
}

func (st *State) assignPointer(ct *CType, p unsafe.Pointer, v any, cx *convCtx) error {
	cast := cx.mode == modeCast
	switch x := v.(type) {
	case nil:
		storeAddr(p, 0)
		return nil
	case *CData:
		src := x.typ
		var a uintptr
		var elem *CType
		switch src.kind {
		case KindPointer:
			a, elem = loadAddr(x.ptr), src.elem
		case KindRef:
			a, elem = loadAddr(x.ptr), src.elem
		case KindArray:
			a, elem = x.addr(), src.elem
		case KindFunc:
			a, elem = x.addr(), src
		case KindRecord:
			a, elem = x.addr(), src
		default:
			if l, ok := x.literal(); ok && cast && !l.IsFloat() {
				storeAddr(p, uintptr(l.Uint64()))
				return nil
			}
			return typeError("cannot convert '%s' to '%s'", src, ct)
		}
		if !cast && !ptrCompatible(ct.elem, elem) {
			return typeError("cannot convert '%s' to '%s'", src, ct)
		}
		storeAddr(p, a)
		if cx.mode == modeConstruct && cx.owner != nil && src.kind != KindPointer && src.kind != KindRef {
			cx.owner.keep = append(cx.owner.keep, x)
		}
		return nil
	case string:
		if cast || !(ct.elem.isCharLike() || ct.elem.kind == KindVoid) {
			break
		}
		storeAddr(p, st.cstring(x, cx))
		return nil
	case HostFunc:
		if ct.elem.kind != KindFunc {
			break
		}
		cb, err := st.newCallback(ct.elem.fn, x)
		if err != nil {
			return err
		}
		storeAddr(p, uintptr(cb.code))
		cx.own(cb, cb.free)
		return nil
	case uintptr:
		storeAddr(p, x)
		return nil
	default:
		if !cast {
			break
		}
		if l, ok := hostLiteral(v); ok && !l.IsFloat() {
			storeAddr(p, uintptr(l.Uint64()))
			return nil
		}
	}
	return typeError("cannot convert '%s' to '%s'", hostTypeName(v), ct)
}

// assignRef stores the address of a compatible cdata.
func (st *State) assignRef(ct *CType, p unsafe.Pointer, v any) error {
	x, ok := v.(*CData)
	if !ok {
		return typeError("cannot convert '%s' to '%s'", hostTypeName(v), ct)
	}
	src, a := x.typ, x.addr()
	if src.kind == KindRef {
		src, a = src.elem, loadAddr(x.ptr)
	}
	if !ct.elem.IsSame(src, true, true) {
		return typeError("cannot convert '%s' to '%s'", x.typ, ct)
	}
	storeAddr(p, a)
	return nil
}

//
// conversions out of native memory
//

// toHost converts the value of type ct at p to a host value. Aggregates
// become views when owner is given and copies otherwise.
func (st *State) toHost(ct *CType, p unsafe.Pointer, owner *CData) (any, error) {
	switch {
	case ct.kind == KindVoid:
		return nil, nil
	case ct.kind == KindBool:
		return *(*uint8)(p) != 0, nil
	case boxed(ct):
		return st.copyOf(ct.unqualified(), p)
	case ct.IsInteger():
		return readScalar(ct, p).Int64(), nil
	case ct.IsFloat():
		return readScalar(ct, p).Float64(), nil
	case ct.kind == KindPointer:
		cd, err := st.alloc(ct, 0)
		if err != nil {
			return nil, err
		}
		storeAddr(cd.ptr, loadAddr(p))
		return cd, nil
	case ct.kind == KindRef:
		a := loadAddr(p)
		if a == 0 {
			return nil, typeError("NULL reference of type '%s'", ct)
		}
		return st.view(ct.elem, addrPtr(a), nil), nil
	case ct.isAggregate():
		if owner != nil {
			return st.view(ct, p, owner), nil
		}
		return st.copyOf(ct, p)
	}
	return nil, typeError("cannot convert '%s' to a host value", ct)
}
