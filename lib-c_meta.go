package zffi

import (
	"math"
	"sort"
)

var metaKeys = map[string]bool{
	"__index": true, "__newindex": true,
	"__add": true, "__sub": true, "__mul": true, "__div": true, "__mod": true, "__pow": true,
	"__unm": true, "__concat": true, "__len": true,
	"__eq": true, "__lt": true, "__le": true,
	"__call": true, "__tostring": true, "__gc": true,
	"__pairs": true, "__ipairs": true,
}

// metatable holds the operator overrides attached to a record type.
type metatable struct {
	ops map[string]any
}

func newMetatable(table map[string]any) (*metatable, error) {
	mt := &metatable{ops: make(map[string]any, len(table))}
	var keys []string
	for k := range table {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		if !metaKeys[k] {
			return nil, typeError("unknown metamethod '%s'", k)
		}
		switch v := table[k].(type) {
		case HostFunc:
			mt.ops[k] = v
		case func(...any) (any, error):
			mt.ops[k] = HostFunc(v)
		case map[string]any:
			if k != "__index" {
				return nil, typeError("metamethod '%s' must be a function", k)
			}
			mt.ops[k] = v
		default:
			return nil, typeError("metamethod '%s' must be a function, got '%s'", k, hostTypeName(v))
		}
	}
	return mt, nil
}

// fn returns a metamethod that is a function.
func (mt *metatable) fn(name string) (HostFunc, bool) {
	f, ok := mt.ops[name].(HostFunc)
	return f, ok
}

func (mt *metatable) index(cd *CData, key any) (any, bool, error) {
	switch h := mt.ops["__index"].(type) {
	case map[string]any:
		name, ok := key.(string)
		if !ok {
			return nil, false, nil
		}
		v, ok := h[name]
		return v, ok, nil
	case HostFunc:
		v, err := h(cd, key)
		return v, true, err
	}
	return nil, false, nil
}

func (mt *metatable) newindex(cd *CData, key, v any) (bool, error) {
	if h, ok := mt.fn("__newindex"); ok {
		_, err := h(cd, key, v)
		return true, err
	}
	return false, nil
}

// meta returns the metatable of a record value or of the record a pointer
// or reference addresses.
func (cd *CData) meta() *metatable {
	t := cd.typ
	if t.kind == KindPointer || t.kind == KindRef {
		t = t.elem
	}
	if t.kind == KindRecord {
		return t.rec.meta
	}
	return nil
}

func metaOf(v any) *metatable {
	if cd, ok := v.(*CData); ok {
		return cd.meta()
	}
	return nil
}

// binaryMeta looks up a metamethod on either operand, left first.
func binaryMeta(name string, a, b any) (HostFunc, bool) {
	for _, v := range []any{a, b} {
		if mt := metaOf(v); mt != nil {
			if fn, ok := mt.fn(name); ok {
				return fn, true
			}
		}
	}
	return nil, false
}

//
// arithmetic
//

var arithOps = map[string]struct {
	meta string
	tok  int
}{
	"+": {"__add", tkPlus},
	"-": {"__sub", tkMinus},
	"*": {"__mul", tkStar},
	"/": {"__div", tkSlash},
	"%": {"__mod", tkPercent},
	"^": {"__pow", 0},
}

// Arith applies a host arithmetic operator ("+ - * / % ^") to operands of
// which at least one is a cdata. Pointers support offset arithmetic and
// differences; integer cdata compute in 64 bits and return boxed 64-bit
// values.
func (st *State) Arith(op string, a, b any) (any, error) {
	o, ok := arithOps[op]
	if !ok {
		return nil, typeError("unknown arithmetic operator '%s'", op)
	}
	if fn, ok := binaryMeta(o.meta, a, b); ok {
		return fn(a, b)
	}
	if pa, ok := ptrOperand(a); ok && (op == "+" || op == "-") {
		if pb, ok := ptrOperand(b); ok {
			if op == "+" {
				return nil, typeError("attempt to add two pointers")
			}
			return st.ptrDiff(pa, pb)
		}
		n, ok := hostInt(b)
		if !ok {
			return nil, typeError("attempt to perform arithmetic on '%s' and '%s'", hostTypeName(a), hostTypeName(b))
		}
		if op == "-" {
			n = -n
		}
		return st.ptrAdd(pa, n)
	}
	if pb, ok := ptrOperand(b); ok && op == "+" {
		if n, ok := hostInt(a); ok {
			return st.ptrAdd(pb, n)
		}
	}

	x, okx := arithOperand(a)
	y, oky := arithOperand(b)
	if !okx || !oky {
		return nil, typeError("attempt to perform arithmetic on '%s' and '%s'", hostTypeName(a), hostTypeName(b))
	}
	if x.IsFloat() || y.IsFloat() {
		r, err := floatArith(op, x.Float64(), y.Float64())
		return r, err
	}
	k := KindLongLong
	if unsigned64(x.Kind) || unsigned64(y.Kind) {
		k = KindULongLong
	}
	x, y = x.convert(k), y.convert(k)
	var r Literal
	switch op {
	case "/", "%":
		if y.bits == 0 {
			return nil, typeError("attempt to divide by zero")
		}
		fallthrough
	case "+", "-", "*":
		var err error
		if r, err = binaryOp(o.tok, x, y); err != nil {
			return nil, err
		}
	case "^":
		r = intPow(x, y)
	}
	return st.box(k, r)
}

// box stores a 64-bit integer result in a new cdata.
func (st *State) box(k Kind, l Literal) (*CData, error) {
	cd, err := st.alloc(Scalar(k), 0)
	if err != nil {
		return nil, err
	}
	writeScalar(cd.typ, cd.ptr, l)
	return cd, nil
}

func unsigned64(k Kind) bool {
	size, _ := host.scalar(k)
	return k.integer() && !k.signed() && size == 8
}

func boxedUnsigned(v any) bool {
	cd, ok := v.(*CData)
	if !ok {
		return false
	}
	l, ok := cd.literal()
	return ok && !l.IsFloat() && !l.Kind.signed() && cd.size == 8
}

func intPow(x, y Literal) Literal {
	k := x.Kind
	if k.signed() && int64(y.bits) < 0 {
		switch int64(x.bits) {
		case 1:
			return intLit(k, 1)
		case -1:
			if y.bits&1 == 1 {
				return x
			}
			return intLit(k, 1)
		}
		return intLit(k, 0)
	}
	r, b, e := uint64(1), x.bits, y.bits
	for e > 0 {
		if e&1 == 1 {
			r *= b
		}
		b *= b
		e >>= 1
	}
	return intLit(k, r)
}

func floatArith(op string, x, y float64) (float64, error) {
	switch op {
	case "+":
		return x + y, nil
	case "-":
		return x - y, nil
	case "*":
		return x * y, nil
	case "/":
		return x / y, nil
	case "%":
		return x - math.Floor(x/y)*y, nil
	case "^":
		return math.Pow(x, y), nil
	}
	return 0, typeError("unknown arithmetic operator '%s'", op)
}

// arithOperand reads a host number or scalar cdata.
func arithOperand(v any) (Literal, bool) {
	if cd, ok := v.(*CData); ok {
		return cd.literal()
	}
	return hostLiteral(v)
}

// ptrOperand reports a pointer or array cdata.
func ptrOperand(v any) (*CData, bool) {
	cd, ok := v.(*CData)
	if !ok {
		return nil, false
	}
	switch cd.typ.kind {
	case KindPointer, KindArray:
		return cd, true
	}
	return nil, false
}

// pointee returns the element type and address of a pointer or array.
func pointee(cd *CData) (*CType, uintptr) {
	if cd.typ.kind == KindArray {
		return cd.typ.elem, cd.addr()
	}
	return cd.typ.elem, loadAddr(cd.ptr)
}

func (st *State) ptrAdd(cd *CData, n int64) (*CData, error) {
	elem, a := pointee(cd)
	es, ok := elem.SizeOf()
	if !ok {
		return nil, typeError("arithmetic on pointer to incomplete type '%s'", elem)
	}
	out, err := st.alloc(pointerTo(elem), 0)
	if err != nil {
		return nil, err
	}
	storeAddr(out.ptr, a+uintptr(n*int64(es)))
	if cd.typ.kind == KindArray {
		out.keep = append(out.keep, cd)
	}
	return out, nil
}

func (st *State) ptrDiff(a, b *CData) (int64, error) {
	ea, pa := pointee(a)
	eb, pb := pointee(b)
	if !ea.IsSame(eb, true, false) {
		return 0, typeError("cannot subtract '%s' and '%s'", a.typ, b.typ)
	}
	es, ok := ea.SizeOf()
	if !ok || es == 0 {
		return int64(pa - pb), nil
	}
	return int64(pa-pb) / int64(es), nil
}

// Unm negates a cdata number.
func (st *State) Unm(a any) (any, error) {
	if mt := metaOf(a); mt != nil {
		if fn, ok := mt.fn("__unm"); ok {
			return fn(a)
		}
	}
	x, ok := arithOperand(a)
	if !ok {
		return nil, typeError("attempt to perform arithmetic on '%s'", hostTypeName(a))
	}
	if x.IsFloat() {
		return -x.Float64(), nil
	}
	k := KindLongLong
	if boxedUnsigned(a) {
		k = KindULongLong
	}
	return st.box(k, intLit(k, -x.convert(k).bits))
}

// Concat applies a __concat metamethod.
func (st *State) Concat(a, b any) (any, error) {
	if fn, ok := binaryMeta("__concat", a, b); ok {
		return fn(a, b)
	}
	return nil, typeError("attempt to concatenate '%s' and '%s'", hostTypeName(a), hostTypeName(b))
}

//
// comparison
//

var compareOps = map[string]struct {
	meta string
	tok  int
}{
	"==": {"__eq", tkEQ},
	"<":  {"__lt", tkLT},
	"<=": {"__le", tkLE},
}

// Compare applies "==", "<" or "<=". Pointers compare by address and
// numbers by value; other cdata are equal only to themselves.
func (st *State) Compare(op string, a, b any) (bool, error) {
	o, ok := compareOps[op]
	if !ok {
		return false, typeError("unknown comparison operator '%s'", op)
	}
	if fn, ok := binaryMeta(o.meta, a, b); ok {
		v, err := fn(a, b)
		if err != nil {
			return false, err
		}
		r, _ := v.(bool)
		return r, nil
	}
	if x, ok := addrOperand(a); ok {
		y, ok := addrOperand(b)
		if !ok {
			if op == "==" {
				return false, nil
			}
			return false, typeError("attempt to compare '%s' with '%s'", hostTypeName(a), hostTypeName(b))
		}
		switch op {
		case "==":
			return x == y, nil
		case "<":
			return x < y, nil
		}
		return x <= y, nil
	}
	x, okx := arithOperand(a)
	y, oky := arithOperand(b)
	if !okx || !oky {
		if op == "==" {
			return a == b, nil
		}
		return false, typeError("attempt to compare '%s' with '%s'", hostTypeName(a), hostTypeName(b))
	}
	if !x.IsFloat() && !y.IsFloat() {
		k := KindLongLong
		if boxedUnsigned(a) || boxedUnsigned(b) {
			k = KindULongLong
		}
		x, y = x.convert(k), y.convert(k)
	}
	r, err := binaryOp(o.tok, x, y)
	if err != nil {
		return false, err
	}
	return r.truth(), nil
}

// addrOperand reads the address a pointer-like cdata compares by. nil
// compares as the NULL pointer.
func addrOperand(v any) (uintptr, bool) {
	if v == nil {
		return 0, true
	}
	cd, ok := v.(*CData)
	if !ok {
		return 0, false
	}
	switch cd.typ.kind {
	case KindPointer:
		return loadAddr(cd.ptr), true
	case KindArray, KindFunc:
		return cd.addr(), true
	}
	return 0, false
}

//
// iteration
//

// Pairs calls the __pairs or __ipairs metamethod of a record value.
func (cd *CData) Pairs(ordered bool) (any, error) {
	name := "__pairs"
	if ordered {
		name = "__ipairs"
	}
	if mt := cd.meta(); mt != nil {
		if fn, ok := mt.fn(name); ok {
			return fn(cd)
		}
	}
	return nil, typeError("attempt to iterate over '%s'", cd.typ)
}

// ToString returns the host string conversion of a value.
func (cd *CData) ToString() string { return cd.String() }

// fieldsOf lists member names in layout order, used by host iteration of
// records without a __pairs override.
func fieldsOf(t *CType) []string {
	if t.kind == KindPointer || t.kind == KindRef {
		t = t.elem
	}
	if t.kind != KindRecord {
		return nil
	}
	var out []string
	for _, f := range t.rec.Fields() {
		if f.Name != "" {
			out = append(out, f.Name)
			continue
		}
		out = append(out, fieldsOf(f.Type)...)
	}
	return out
}

// Fields lists the member names a record value can be indexed with.
func (cd *CData) Fields() []string { return fieldsOf(cd.typ) }
