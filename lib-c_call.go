package zffi

import (
	"runtime"
	"strconv"
	"unsafe"
)

// callDesc is a call descriptor: the native shapes of a function's result
// and parameters and the prepared libffi cif. Non-variadic functions keep
// one in Function.desc; variadic calls keep one per cdata, sized to the
// argument count of the last call.
type callDesc struct {
	fn       *Function
	rtype    *CType
	ret      *NativeDesc
	args     []*NativeDesc
	params   []*CType // fixed parameters, then inferred extra arguments
	nfixed   int
	variadic bool
	abi      int
	cif      unsafe.Pointer
	atypes   unsafe.Pointer
}

func newCallDesc(fn *Function, extra []*CType) (*callDesc, error) {
	abi, ok := host.ffiABI(fn.Conv)
	if !ok {
		return nil, callSetupError("no native calling convention for '%s' on %s", fn.Conv, host.arch)
	}
	rt := fn.Result
	if rt == nil {
		rt = Scalar(KindVoid)
	}
	if !rt.PassableByValue() {
		return nil, callSetupError("cannot return '%s' by value", rt)
	}
	d := &callDesc{fn: fn, rtype: rt, nfixed: len(fn.Params), variadic: fn.Variadic, abi: abi}
	var err error
	if d.ret, err = rt.NativeDesc(); err != nil {
		return nil, &Error{Kind: CallSetupError, Cause: err, Detail: "bad return type"}
	}
	for _, p := range fn.Params {
		d.params = append(d.params, p.Type)
	}
	d.params = append(d.params, extra...)
	for i, t := range d.params {
		if !t.PassableByValue() {
			return nil, callSetupError("cannot pass '%s' by value as argument %d", t, i+1)
		}
		nd, err := t.NativeDesc()
		if err != nil {
			return nil, &Error{Kind: CallSetupError, Cause: err, Detail: "bad argument type"}
		}
		d.args = append(d.args, nd)
	}
	return d, nil
}

// sameExtra reports whether d was built for these extra argument types.
func (d *callDesc) sameExtra(extra []*CType) bool {
	if len(d.params)-d.nfixed != len(extra) {
		return false
	}
	for i, t := range extra {
		if !d.params[d.nfixed+i].IsSame(t, false, false) {
			return false
		}
	}
	return true
}

// funcDesc returns the shared descriptor of a non-variadic function.
func (st *State) funcDesc(fn *Function) (*callDesc, error) {
	if fn.desc != nil {
		return fn.desc, nil
	}
	d, err := newCallDesc(fn, nil)
	if err != nil {
		return nil, err
	}
	fn.desc = d
	st.debugf("call descriptor built: %d parameters", len(d.params))
	return d, nil
}

// varDesc returns the scratch descriptor of cd for a variadic call,
// rebuilding it when the extra argument types changed.
func (st *State) varDesc(cd *CData, fn *Function, extra []*CType) (*callDesc, error) {
	if cd.vdesc != nil && cd.vdesc.fn == fn && cd.vdesc.sameExtra(extra) {
		return cd.vdesc, nil
	}
	d, err := newCallDesc(fn, extra)
	if err != nil {
		return nil, err
	}
	if cd.vdesc != nil {
		cd.vdesc.release()
	}
	cd.vdesc = d
	cd.track()
	st.debugf("variadic descriptor built: %d fixed, %d extra", d.nfixed, len(extra))
	return d, nil
}

// varargType infers the C type an extra variadic argument is passed as.
func varargType(v any) (*CType, error) {
	switch x := v.(type) {
	case nil:
		return pointerTo(Scalar(KindVoid)), nil
	case bool, int, int8, int16, int32, uint8, uint16:
		return Scalar(KindInt), nil
	case uint32:
		return Scalar(KindUInt), nil
	case int64:
		return Scalar(KindLongLong), nil
	case uint, uint64, uintptr:
		return Scalar(KindULongLong), nil
	case float32, float64:
		return Scalar(KindDouble), nil
	case string:
		return pointerTo(Scalar(KindChar).withQual(QualConst)), nil
	case HostFunc:
		return nil, typeError("cannot pass a host function as a variadic argument")
	case *CData:
		t := x.typ
		switch t.kind {
		case KindRef:
			t = t.elem
		}
		switch {
		case t.kind == KindArray:
			return pointerTo(t.elem), nil
		case t.kind == KindRecord, t.kind == KindFunc:
			return pointerTo(t), nil
		case t.IsFloat():
			if t.kind == KindFloat {
				return Scalar(KindDouble), nil
			}
			return t.unqualified(), nil
		case t.IsInteger():
			if s, _ := t.SizeOf(); s < 4 {
				return Scalar(KindInt), nil
			}
			if t.kind == KindEnum {
				return Scalar(t.enum.kind()), nil
			}
			return t.unqualified(), nil
		}
		return t.unqualified(), nil
	}
	return nil, typeError("cannot pass '%s' as a variadic argument", hostTypeName(v))
}

// callFrame is one prepared call: argument slots, the argument pointer
// array and the return buffer live in one native block.
type callFrame struct {
	desc   *callDesc
	fnptr  uintptr
	block  unsafe.Pointer
	mem    any
	avalue unsafe.Pointer
	ret    unsafe.Pointer
	cx     *convCtx
}

func (f *callFrame) release() {
	f.cx.release()
	nativeFree(f.block)
	f.block, f.mem = nil, nil
}

// callTarget resolves the function type and code address of a callable.
func (cd *CData) callTarget() (*Function, uintptr, error) {
	switch {
	case cd.typ.kind == KindFunc:
		return cd.typ.fn, cd.addr(), nil
	case cd.typ.kind == KindPointer && cd.typ.elem.kind == KindFunc:
		return cd.typ.elem.fn, loadAddr(cd.ptr), nil
	}
	return nil, 0, typeError("'%s' is not callable", cd.typ)
}

// prepareCall marshals args for a call through cd with Pass rules.
func (st *State) prepareCall(cd *CData, args []any) (*callFrame, error) {
	fn, fnptr, err := cd.callTarget()
	if err != nil {
		return nil, err
	}
	if fnptr == 0 {
		return nil, typeError("attempt to call a NULL function pointer")
	}
	np := len(fn.Params)
	if len(args) < np || (!fn.Variadic && len(args) > np) {
		return nil, typeError("wrong number of arguments for '%s': expected %d, got %d", cd.typ, np, len(args))
	}

	var d *callDesc
	if fn.Variadic {
		extra := make([]*CType, 0, len(args)-np)
		for _, v := range args[np:] {
			t, err := varargType(v)
			if err != nil {
				return nil, err
			}
			extra = append(extra, t)
		}
		d, err = st.varDesc(cd, fn, extra)
	} else {
		d, err = st.funcDesc(fn)
	}
	if err != nil {
		return nil, err
	}

	// slot layout: arguments, return buffer, argument pointer array
	offs := make([]int, len(d.args))
	size := 0
	for i, a := range d.args {
		offs[i] = size
		n := a.Size
		if n < 8 {
			n = 8
		}
		size += alignUp(n, 16)
	}
	retOff := size
	rs := d.ret.Size
	if rs < minRetSize {
		rs = minRetSize
	}
	size += alignUp(rs, 16)
	avOff := size
	size += len(d.args) * host.ptrSize

	block, mem := nativeAlloc(size)
	if block == nil {
		return nil, callSetupError("not enough memory for call arguments")
	}
	f := &callFrame{
		desc: d, fnptr: fnptr, block: block, mem: mem,
		ret:    unsafe.Add(block, retOff),
		avalue: unsafe.Add(block, avOff),
		cx:     &convCtx{mode: modePass},
	}
	for i, t := range d.params {
		slot := unsafe.Add(block, offs[i])
		if err := st.assign(t, slot, args[i], f.cx); err != nil {
			f.release()
			return nil, atArg(err, i+1)
		}
		storeAddr(unsafe.Add(f.avalue, i*host.ptrSize), uintptr(slot))
	}
	return f, nil
}

func atArg(err error, n int) error {
	if e, ok := err.(*Error); ok {
		c := *e
		c.Detail = "bad argument #" + strconv.Itoa(n) + ": " + c.Detail
		return &c
	}
	return err
}

// invoke calls the native function behind cd.
func (st *State) invoke(cd *CData, args []any) (any, error) {
	f, err := st.prepareCall(cd, args)
	if err != nil {
		return nil, err
	}
	defer f.release()
	if err := f.desc.prepare(); err != nil {
		return nil, err
	}
	ffiCall(f.desc, f.fnptr, f.ret, f.avalue, &st.errno)
	runtime.KeepAlive(args)
	runtime.KeepAlive(f.mem)
	return st.readResult(f.desc.rtype, f.ret)
}

// readResult converts a call result with Return rules. Integral results
// narrower than ffi_arg arrive widened and are narrowed in place.
func (st *State) readResult(rt *CType, ret unsafe.Pointer) (any, error) {
	if rt.IsInteger() {
		if size, _ := rt.SizeOf(); size < host.ptrSize {
			storeUint(ret, size, loadUint(ret, host.ptrSize))
		}
	}
	return st.toHost(rt, ret, nil)
}

// Call calls a function value, or the __call metamethod of a record.
func (cd *CData) Call(args ...any) (any, error) {
	if mt := cd.meta(); mt != nil {
		if fn, ok := mt.fn("__call"); ok {
			return fn(append([]any{cd}, args...)...)
		}
	}
	return cd.st.invoke(cd, args)
}

//
// callbacks
//

// closureData is one native trampoline bound to a host function.
type closureData struct {
	st      *State
	fn      *Function
	desc    *callDesc
	host    HostFunc
	code    unsafe.Pointer // executable address handed to native code
	release func()
	held    *convCtx // memory backing the last result
	freed   bool
}

func (cb *closureData) free() {
	if cb.freed {
		return
	}
	cb.freed = true
	if cb.held != nil {
		cb.held.release()
		cb.held = nil
	}
	if cb.release != nil {
		cb.release()
	}
	cb.st.debugf("callback released")
}

// dispatch runs the host function for one native invocation: arguments
// are converted with Return rules and the result with Construct rules.
// Failures cannot unwind native frames, so they are logged and the result
// is zero.
func (cb *closureData) dispatch(ret unsafe.Pointer, args []unsafe.Pointer) {
	st := cb.st
	rt := cb.desc.rtype
	rsize, _ := rt.SizeOf()
	if rt.IsInteger() && rsize < host.ptrSize {
		zero(ret, host.ptrSize)
	} else {
		zero(ret, rsize)
	}

	hargs := make([]any, len(args))
	for i, a := range args {
		v, err := st.toHost(cb.desc.params[i], a, nil)
		if err != nil {
			st.log().Sugar().Errorf("callback argument %d: %v", i+1, err)
			return
		}
		hargs[i] = v
	}

	var res any
	var err error
	func() {
		defer func() {
			if r := recover(); r != nil {
				err = callSetupError("callback panicked: %v", r)
			}
		}()
		res, err = cb.host(hargs...)
	}()
	if err != nil {
		st.log().Sugar().Errorf("callback failed: %v", err)
		return
	}
	if rt.kind == KindVoid {
		return
	}

	if cb.held != nil {
		cb.held.release()
	}
	cx := &convCtx{mode: modeConstruct}
	cb.held = cx
	if rt.IsInteger() && rsize < host.ptrSize {
		var tmp [8]byte
		tp := unsafe.Pointer(&tmp[0])
		if err := st.assign(rt, tp, res, cx); err != nil {
			st.log().Sugar().Errorf("callback result: %v", err)
			return
		}
		l := readScalar(rt, tp)
		k := KindULongLong
		if rt.IsSigned() {
			k = KindLongLong
		}
		storeUint(ret, host.ptrSize, l.convert(k).bits)
		return
	}
	if err := st.assign(rt, ret, res, cx); err != nil {
		zero(ret, rsize)
		st.log().Sugar().Errorf("callback result: %v", err)
	}
}
