package zffi

import (
	"os"
	"strconv"
	"unsafe"

	"go.uber.org/zap"
)

// State is one runtime context: a declaration store, the loaded libraries
// and the last native errno. A State is not safe for concurrent use.
type State struct {
	store  *DeclStore
	logger *zap.Logger
	libs   []*Library
	cns    *Library
	errno  int
	null   *CData
}

// Option configures a State.
type Option func(*State)

// WithLogger sets the logger used for debug events and callback failures.
func WithLogger(l *zap.Logger) Option {
	return func(st *State) { st.logger = l }
}

// WithBase layers the new State's store on a shared store of builtin
// declarations. The base store is only read.
func WithBase(base *DeclStore) Option {
	return func(st *State) { st.store = NewDeclStore(base) }
}

// NewState returns an empty runtime context.
func NewState(opts ...Option) *State {
	st := &State{}
	for _, o := range opts {
		o(st)
	}
	if st.store == nil {
		st.store = NewDeclStore(nil)
	}
	return st
}

// Store returns the committed declaration store.
func (st *State) Store() *DeclStore { return st.store }

// Declare parses C declarations and installs them. When any part fails,
// nothing from this call is installed.
func (st *State) Declare(src string, params ...any) error {
	stage := st.store.Stage()
	p := newParser(src, stage, params)
	if err := p.parseDecls(); err != nil {
		stage.Drop()
		return err
	}
	n := stage.Len()
	if err := stage.Commit(); err != nil {
		return err
	}
	st.debugf("declared %d names", n)
	return nil
}

// DeclareFile reads declarations from a file.
func (st *State) DeclareFile(path string) error {
	b, err := os.ReadFile(path)
	if err != nil {
		return &Error{Kind: SyntaxError, Cause: err, Detail: "cannot read declarations from " + path}
	}
	return st.Declare(string(b))
}

// ParseType parses one abstract type name. Record and enum bodies written
// inside the type are installed like Declare would.
func (st *State) ParseType(src string, params ...any) (*CType, error) {
	stage := st.store.Stage()
	p := newParser(src, stage, params)
	ct, err := p.parseBareType()
	if err != nil {
		stage.Drop()
		return nil, err
	}
	if err := stage.Commit(); err != nil {
		return nil, err
	}
	return ct, nil
}

// TypeOf returns the type named by a string, the type of a cdata, or a
// type handle unchanged.
func (st *State) TypeOf(v any, params ...any) (*CType, error) {
	switch t := v.(type) {
	case *CType:
		return t, nil
	case *CData:
		return t.typ, nil
	case string:
		return st.ParseType(t, params...)
	}
	return nil, typeError("bad type argument '%s'", hostTypeName(v))
}

// New allocates a zero filled native value and initializes it from args.
// Variable-size types take their element count as the first argument.
func (st *State) New(t any, args ...any) (*CData, error) {
	ct, err := st.TypeOf(t)
	if err != nil {
		return nil, err
	}
	nelem := 0
	if ct.IsVariable() {
		if len(args) == 0 {
			return nil, typeError("size of variable-size type '%s' is required", ct)
		}
		n, ok := hostInt(args[0])
		if !ok || n < 0 {
			return nil, typeError("invalid element count for '%s'", ct)
		}
		nelem, args = int(n), args[1:]
	}
	if ct.kind == KindFunc {
		return nil, typeError("cannot create cdata of function type '%s'", ct)
	}
	cd, err := st.alloc(ct, nelem)
	if err != nil {
		return nil, err
	}
	if err := st.construct(cd, args); err != nil {
		cd.Free()
		return nil, err
	}
	return cd, nil
}

// Cast converts v to type t, permitting pointer and integer
// reinterpretation that normal conversion rejects.
func (st *State) Cast(t any, v any) (*CData, error) {
	ct, err := st.TypeOf(t)
	if err != nil {
		return nil, err
	}
	if ct.isAggregate() || ct.kind == KindFunc || ct.kind == KindVoid {
		return nil, typeError("invalid cast to '%s'", ct)
	}
	cd, err := st.alloc(ct, 0)
	if err != nil {
		return nil, err
	}
	cx := &convCtx{mode: modeCast, owner: cd}
	if err := st.assign(ct, cd.ptr, v, cx); err != nil {
		cd.Free()
		return nil, err
	}
	return cd, nil
}

// SizeOf reports the size of a type or value. ok is false when the size is
// unknown. Variable-size types take an element count.
func (st *State) SizeOf(v any, nelem ...int) (int, bool, error) {
	if cd, ok := v.(*CData); ok && cd.typ.IsVariable() {
		return cd.size, true, nil
	}
	ct, err := st.TypeOf(v)
	if err != nil {
		return 0, false, err
	}
	if len(nelem) > 0 {
		n, ok := ct.SizeOfN(nelem[0])
		return n, ok, nil
	}
	n, ok := ct.SizeOf()
	return n, ok, nil
}

// AlignOf reports the alignment of a type or value.
func (st *State) AlignOf(v any) (int, bool, error) {
	ct, err := st.TypeOf(v)
	if err != nil {
		return 0, false, err
	}
	n, ok := ct.AlignOf()
	return n, ok, nil
}

// OffsetOf reports the byte offset of a record member. ok is false for
// incomplete records and unknown members.
func (st *State) OffsetOf(t any, field string) (int, bool, error) {
	ct, err := st.TypeOf(t)
	if err != nil {
		return 0, false, err
	}
	if ct.kind != KindRecord {
		return 0, false, typeError("'%s' is not a struct or union", ct)
	}
	if !ct.rec.complete {
		return 0, false, nil
	}
	f, ok := ct.rec.Field(field)
	return f.Offset, ok, nil
}

// IsType reports whether v is a cdata of type t, ignoring top-level
// qualifiers.
func (st *State) IsType(t any, v any) (bool, error) {
	ct, err := st.TypeOf(t)
	if err != nil {
		return false, err
	}
	cd, ok := v.(*CData)
	if !ok {
		return false, nil
	}
	if ct.kind == KindRecord && cd.typ.kind == KindPointer && cd.typ.elem.kind == KindRecord {
		return cd.typ.elem.rec == ct.rec, nil
	}
	return ct.unqualified().IsSame(cd.typ.unqualified(), false, true), nil
}

// Metatype attaches operator and indexing behaviour to a record type.
// A record accepts a table once.
func (st *State) Metatype(t any, table map[string]any) (*CType, error) {
	ct, err := st.TypeOf(t)
	if err != nil {
		return nil, err
	}
	if ct.kind != KindRecord {
		return nil, typeError("metatype requires a struct or union, got '%s'", ct)
	}
	if ct.rec.meta != nil {
		return nil, typeError("cannot change a protected metatable of '%s'", ct)
	}
	mt, err := newMetatable(table)
	if err != nil {
		return nil, err
	}
	ct.rec.meta = mt
	return ct, nil
}

// GC sets or clears the finalizer run when cd is collected or freed. A
// later call replaces the previous function. When cd is collected rather
// than released with Free, fn runs on the runtime's finalizer goroutine
// and must not block.
func (st *State) GC(cd *CData, fn HostFunc) *CData {
	cd.gcfn = fn
	cd.track()
	return cd
}

// Callback creates a native function pointer of type t that calls fn.
func (st *State) Callback(t any, fn HostFunc) (*CData, error) {
	ct, err := st.TypeOf(t)
	if err != nil {
		return nil, err
	}
	if ct.kind == KindFunc {
		ct = pointerTo(ct)
	}
	if ct.kind != KindPointer || ct.elem.kind != KindFunc {
		return nil, typeError("callback requires a function pointer type, got '%s'", ct)
	}
	cd, err := st.alloc(ct, 0)
	if err != nil {
		return nil, err
	}
	cb, err := st.newCallback(ct.elem.fn, fn)
	if err != nil {
		cd.Free()
		return nil, err
	}
	cd.cb = cb
	storeAddr(cd.ptr, uintptr(cb.code))
	return cd, nil
}

// String reads a NUL-terminated string from a char pointer or array, or
// exactly n bytes from any pointer.
func (st *State) String(v any, n ...int) (string, error) {
	cd, ok := v.(*CData)
	if !ok {
		return "", typeError("bad argument to string: cdata expected, got '%s'", hostTypeName(v))
	}
	p, limit, err := cd.bytesStart()
	if err != nil {
		return "", err
	}
	if p == nil {
		return "", typeError("attempt to read a string from a NULL pointer")
	}
	if len(n) > 0 {
		if n[0] < 0 {
			return "", typeError("negative string length")
		}
		return string(memBytes(p, n[0])), nil
	}
	l := 0
	for limit < 0 || l < limit {
		if *(*byte)(unsafe.Add(p, l)) == 0 {
			break
		}
		l++
	}
	return string(memBytes(p, l)), nil
}

// Copy copies n bytes from src to dst. A string source without a length
// copies its bytes and a terminating NUL.
func (st *State) Copy(dst, src any, n ...int) error {
	d, ok := dst.(*CData)
	if !ok {
		return typeError("bad destination for copy")
	}
	dp, _, err := d.bytesStart()
	if err != nil {
		return err
	}
	switch s := src.(type) {
	case string:
		count := len(s) + 1
		if len(n) > 0 {
			count = n[0]
		}
		b := memBytes(dp, count)
		m := copy(b, s)
		if m < count {
			b[m] = 0
		}
		return nil
	case *CData:
		if len(n) == 0 {
			return typeError("copy from cdata requires a length")
		}
		sp, _, err := s.bytesStart()
		if err != nil {
			return err
		}
		copy(memBytes(dp, n[0]), memBytes(sp, n[0]))
		return nil
	}
	return typeError("bad source for copy: '%s'", hostTypeName(src))
}

// Fill sets n bytes of dst to c, zero by default.
func (st *State) Fill(dst any, n int, c ...int) error {
	d, ok := dst.(*CData)
	if !ok {
		return typeError("bad destination for fill")
	}
	p, _, err := d.bytesStart()
	if err != nil {
		return err
	}
	var v byte
	if len(c) > 0 {
		v = byte(c[0])
	}
	b := memBytes(p, n)
	for i := range b {
		b[i] = v
	}
	return nil
}

// AddressOf returns a pointer to the storage of cd.
func (st *State) AddressOf(cd *CData) (*CData, error) {
	t := cd.typ
	if t.kind == KindFunc {
		t = pointerTo(t)
		out, err := st.alloc(t, 0)
		if err != nil {
			return nil, err
		}
		storeAddr(out.ptr, uintptr(cd.ptr))
		return out, nil
	}
	if t.kind == KindRef {
		t = t.elem
	}
	out, err := st.alloc(pointerTo(t), 0)
	if err != nil {
		return nil, err
	}
	storeAddr(out.ptr, uintptr(cd.addr()))
	out.keep = append(out.keep, cd)
	return out, nil
}

// ToNumber converts a host number, numeric string or scalar cdata to a
// host number.
func (st *State) ToNumber(v any) (any, bool) {
	switch n := v.(type) {
	case string:
		if i, err := strconv.ParseInt(n, 0, 64); err == nil {
			return i, true
		}
		if f, err := strconv.ParseFloat(n, 64); err == nil {
			return f, true
		}
		return nil, false
	case *CData:
		l, ok := n.literal()
		if !ok {
			if n.typ.IsPointerLike() || n.typ.kind == KindArray {
				return int64(n.addr()), true
			}
			return nil, false
		}
		if l.IsFloat() {
			return l.Float64(), true
		}
		return l.Value(), true
	}
	if l, ok := hostLiteral(v); ok {
		return l.Value(), true
	}
	return nil, false
}

// Eval folds a constant expression against the current declarations.
func (st *State) Eval(expr string, params ...any) (any, error) {
	stage := st.store.Stage()
	v, err := st.evalStaged(stage, expr, params)
	if err != nil {
		stage.Drop()
		return nil, err
	}
	if err := stage.Commit(); err != nil {
		return nil, err
	}
	return v, nil
}

func (st *State) evalStaged(stage *DeclStore, expr string, params []any) (any, error) {
	p := newParser(expr, stage, params)
	e, err := p.parseExpr()
	if err != nil {
		return nil, err
	}
	t, err := p.next()
	if err != nil {
		return nil, err
	}
	if t.tag != tkEOF {
		return nil, p.errorf(t, "unexpected token after expression")
	}
	v, err := e.Eval()
	if err != nil {
		return nil, err
	}
	return v.Value(), nil
}

// Errno returns the errno left by the last native call and optionally
// sets the value the next call starts with.
func (st *State) Errno(set ...int) int {
	old := st.errno
	if len(set) > 0 {
		st.errno = set[0]
	}
	return old
}

// Nullptr returns a shared NULL void pointer.
func (st *State) Nullptr() *CData {
	if st.null == nil {
		st.null, _ = st.alloc(pointerTo(Scalar(KindVoid)), 0)
	}
	return st.null
}

// Close unloads every library opened through Load.
func (st *State) Close() error {
	var first error
	for _, l := range st.libs {
		if err := l.Close(); err != nil && first == nil {
			first = err
		}
	}
	st.libs = nil
	return first
}

// hostTypeName names the host category of a value for diagnostics.
func hostTypeName(v any) string {
	switch x := v.(type) {
	case nil:
		return "nil"
	case bool:
		return "boolean"
	case string:
		return "string"
	case []any:
		return "sequence"
	case map[string]any:
		return "mapping"
	case HostFunc:
		return "function"
	case *CData:
		return "cdata<" + x.typ.String() + ">"
	case *CType:
		return "ctype<" + x.String() + ">"
	}
	if _, ok := hostLiteral(v); ok {
		return "number"
	}
	return "userdata"
}

// hostInt extracts an integer from a host number.
func hostInt(v any) (int64, bool) {
	if cd, ok := v.(*CData); ok {
		l, ok := cd.literal()
		if !ok || l.IsFloat() {
			return 0, false
		}
		return l.Int64(), true
	}
	l, ok := hostLiteral(v)
	if !ok {
		return 0, false
	}
	if l.IsFloat() {
		f := l.Float64()
		if f != float64(int64(f)) {
			return 0, false
		}
		return int64(f), true
	}
	return l.Int64(), true
}
