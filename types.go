package zffi

import (
	"strconv"
	"strings"
)

// Kind is the tag of a CType.
type Kind uint8

const (
	KindVoid Kind = iota
	KindBool
	KindChar
	KindSChar
	KindUChar
	KindShort
	KindUShort
	KindInt
	KindUInt
	KindLong
	KindULong
	KindLongLong
	KindULongLong
	KindFloat
	KindDouble
	KindLongDouble
	KindPointer
	KindRef
	KindArray
	KindFunc
	KindRecord
	KindEnum
)

var kindNames = [...]string{
	"void", "bool", "char", "signed char", "unsigned char",
	"short", "unsigned short", "int", "unsigned int",
	"long", "unsigned long", "long long", "unsigned long long",
	"float", "double", "long double",
	"pointer", "reference", "array", "function", "record", "enum",
}

func (k Kind) String() string {
	if int(k) < len(kindNames) {
		return kindNames[k]
	}
	return "kind(" + strconv.Itoa(int(k)) + ")"
}

// Qual is a set of cv-qualifiers.
type Qual uint8

const (
	QualConst Qual = 1 << iota
	QualVolatile
)

func (q Qual) String() string {
	switch q {
	case QualConst:
		return "const"
	case QualVolatile:
		return "volatile"
	case QualConst | QualVolatile:
		return "const volatile"
	}
	return ""
}

type typeFlag uint8

const (
	flagUnbounded typeFlag = 1 << iota // T[]
	flagVLA                            // T[?]
)

// CallConv is a function calling convention.
type CallConv uint8

const (
	ConvDefault CallConv = iota
	ConvCdecl
	ConvStdcall
	ConvFastcall
	ConvThiscall
)

var convNames = [...]string{"", "__cdecl", "__stdcall", "__fastcall", "__thiscall"}

func (c CallConv) String() string {
	if int(c) < len(convNames) {
		return convNames[c]
	}
	return ""
}

// same treats the default convention and cdecl as one.
func (c CallConv) same(o CallConv) bool {
	norm := func(x CallConv) CallConv {
		if x == ConvCdecl {
			return ConvDefault
		}
		return x
	}
	return norm(c) == norm(o)
}

// CType is the canonical representation of a C type. Derived forms share
// their nested element, function and record values.
type CType struct {
	kind  Kind
	qual  Qual
	flags typeFlag
	n     int
	elem  *CType
	fn    *Function
	rec   *Record
	enum  *Enum
	ptr   *CType // cached unqualified pointer to this type
}

// Function describes a function signature. It is not modified after the
// parser builds it, apart from the engine's cached call descriptor.
type Function struct {
	Result   *CType
	Params   []Param
	Variadic bool
	Conv     CallConv
	desc     *callDesc
}

// Param is one function parameter. Name may be empty.
type Param struct {
	Name string
	Type *CType
}

// Field is one record member. Unnamed record members are transparent.
type Field struct {
	Name   string
	Type   *CType
	Offset int
}

// Record is a struct or union. It is opaque until its fields are set.
type Record struct {
	Name     string
	Union    bool
	fields   []Field
	complete bool
	busy     bool // layout in progress
	lay      *recordLayout
	meta     *metatable
}

// Enumerator is one named enum value.
type Enumerator struct {
	Name  string
	Value int64
}

// Enum is a C enumeration. It is opaque until its values are set.
type Enum struct {
	Name     string
	Values   []Enumerator
	base     Kind
	complete bool
}

var scalarTypes [KindLongDouble + 1]*CType

func init() {
	for k := KindVoid; k <= KindLongDouble; k++ {
		scalarTypes[k] = &CType{kind: k}
	}
}

// Scalar returns the shared unqualified type for a scalar kind.
func Scalar(k Kind) *CType {
	if k <= KindLongDouble {
		return scalarTypes[k]
	}
	return nil
}

func pointerTo(t *CType) *CType {
	if t.ptr == nil {
		t.ptr = &CType{kind: KindPointer, elem: t}
	}
	return t.ptr
}

func refTo(t *CType) *CType {
	return &CType{kind: KindRef, elem: t}
}

func arrayOf(t *CType, n int, flags typeFlag) *CType {
	return &CType{kind: KindArray, elem: t, n: n, flags: flags}
}

func funcType(fn *Function) *CType {
	return &CType{kind: KindFunc, fn: fn}
}

func recordType(r *Record) *CType {
	return &CType{kind: KindRecord, rec: r}
}

func enumType(e *Enum) *CType {
	return &CType{kind: KindEnum, enum: e}
}

// withQual returns t with q added.
func (t *CType) withQual(q Qual) *CType {
	if q == 0 || t.qual&q == q {
		return t
	}
	c := *t
	c.qual |= q
	c.ptr = nil
	return &c
}

// unqualified returns t without cv-qualifiers.
func (t *CType) unqualified() *CType {
	if t.qual == 0 {
		return t
	}
	if t.kind <= KindLongDouble {
		return scalarTypes[t.kind]
	}
	c := *t
	c.qual = 0
	c.ptr = nil
	return &c
}

func (t *CType) Kind() Kind { return t.kind }
func (t *CType) Qual() Qual { return t.qual }

// Elem returns the pointee, referee or element type.
func (t *CType) Elem() *CType { return t.elem }

// Len returns the array length, or -1 for unbounded and variable arrays.
func (t *CType) Len() int {
	if t.flags&(flagUnbounded|flagVLA) != 0 {
		return -1
	}
	return t.n
}

func (t *CType) Func() *Function { return t.fn }
func (t *CType) Record() *Record { return t.rec }
func (t *CType) Enum() *Enum     { return t.enum }

// IsVariable reports an array or record whose length is chosen per instance.
func (t *CType) IsVariable() bool {
	switch t.kind {
	case KindArray:
		return t.flags&(flagUnbounded|flagVLA) != 0
	case KindRecord:
		if l, err := t.rec.layout(); err == nil {
			return l.flex
		}
	}
	return false
}

func (t *CType) IsInteger() bool {
	return (t.kind >= KindBool && t.kind <= KindULongLong) || t.kind == KindEnum
}

func (t *CType) IsFloat() bool {
	return t.kind >= KindFloat && t.kind <= KindLongDouble
}

func (t *CType) IsArith() bool { return t.IsInteger() || t.IsFloat() }

// IsPointerLike reports pointer, function and reference types.
func (t *CType) IsPointerLike() bool {
	return t.kind == KindPointer || t.kind == KindFunc || t.kind == KindRef
}

func (t *CType) isAggregate() bool {
	return t.kind == KindRecord || t.kind == KindArray
}

func (t *CType) isCharLike() bool {
	return t.kind == KindChar || t.kind == KindSChar || t.kind == KindUChar
}

// IsSigned reports whether an integer type is signed.
func (t *CType) IsSigned() bool {
	if t.kind == KindEnum {
		return t.enum.kind().signed()
	}
	return t.kind.signed()
}

func (k Kind) signed() bool {
	switch k {
	case KindChar:
		return host.charSigned
	case KindSChar, KindShort, KindInt, KindLong, KindLongLong:
		return true
	}
	return false
}

func (k Kind) integer() bool { return k >= KindBool && k <= KindULongLong }
func (k Kind) float() bool   { return k >= KindFloat && k <= KindLongDouble }

func signedOf(k Kind) Kind {
	switch k {
	case KindUChar, KindChar:
		return KindSChar
	case KindUShort:
		return KindShort
	case KindUInt:
		return KindInt
	case KindULong:
		return KindLong
	case KindULongLong:
		return KindLongLong
	}
	return k
}

func unsignedOf(k Kind) Kind {
	switch k {
	case KindSChar, KindChar:
		return KindUChar
	case KindShort:
		return KindUShort
	case KindInt:
		return KindUInt
	case KindLong:
		return KindULong
	case KindLongLong:
		return KindULongLong
	}
	return k
}

// IsSame compares two types. ignoreCV drops cv-qualifiers at every level,
// ignoreRef strips a top-level reference. A function type and a pointer
// to that function type compare equal.
func (t *CType) IsSame(o *CType, ignoreCV, ignoreRef bool) bool {
	if t == o {
		return true
	}
	if t == nil || o == nil {
		return false
	}
	if ignoreRef {
		if t.kind == KindRef {
			t = t.elem
		}
		if o.kind == KindRef {
			o = o.elem
		}
	}
	if !ignoreCV && t.qual != o.qual {
		return false
	}
	if t.kind == KindFunc && o.kind == KindPointer && o.elem.kind == KindFunc {
		return sameFunc(t.fn, o.elem.fn, ignoreCV)
	}
	if o.kind == KindFunc && t.kind == KindPointer && t.elem.kind == KindFunc {
		return sameFunc(t.elem.fn, o.fn, ignoreCV)
	}
	if t.kind != o.kind {
		return false
	}
	switch t.kind {
	case KindPointer, KindRef:
		return t.elem.IsSame(o.elem, ignoreCV, false)
	case KindArray:
		return t.n == o.n && t.flags == o.flags && t.elem.IsSame(o.elem, ignoreCV, false)
	case KindFunc:
		return sameFunc(t.fn, o.fn, ignoreCV)
	case KindRecord:
		return t.rec == o.rec
	case KindEnum:
		return t.enum == o.enum
	}
	return true
}

func sameFunc(a, b *Function, ignoreCV bool) bool {
	if a == b {
		return true
	}
	if a.Variadic != b.Variadic || !a.Conv.same(b.Conv) || len(a.Params) != len(b.Params) {
		return false
	}
	if !a.Result.IsSame(b.Result, ignoreCV, false) {
		return false
	}
	for i := range a.Params {
		if !a.Params[i].Type.IsSame(b.Params[i].Type, true, false) {
			return false
		}
	}
	return true
}

// Fields returns the record's members with their computed offsets.
func (r *Record) Fields() []Field {
	if l, err := r.layout(); err == nil {
		return l.fields
	}
	return r.fields
}

// Complete reports whether the record body has been declared.
func (r *Record) Complete() bool { return r.complete }

func (r *Record) tag() string {
	if r.Union {
		return "union " + r.Name
	}
	return "struct " + r.Name
}

// Field finds a member by name, descending into transparent members.
// The returned offset is relative to the start of r.
func (r *Record) Field(name string) (Field, bool) {
	for _, f := range r.Fields() {
		if f.Name == name {
			return f, true
		}
		if f.Name == "" && f.Type.kind == KindRecord {
			if sub, ok := f.Type.rec.Field(name); ok {
				sub.Offset += f.Offset
				return sub, true
			}
		}
	}
	return Field{}, false
}

// setFields fills an opaque record exactly once.
func (r *Record) setFields(fields []Field) error {
	if r.complete {
		return typeError("attempt to redefine '%s'", r.tag())
	}
	r.fields = fields
	r.complete = true
	r.lay = nil
	if _, err := r.layout(); err != nil {
		r.fields, r.complete = nil, false
		return err
	}
	return nil
}

func (r *Record) reset() {
	r.fields, r.complete, r.lay = nil, false, nil
}

// Complete reports whether the enum body has been declared.
func (e *Enum) Complete() bool { return e.complete }

// Lookup returns the value of a named enumerator.
func (e *Enum) Lookup(name string) (int64, bool) {
	for _, v := range e.Values {
		if v.Name == name {
			return v.Value, true
		}
	}
	return 0, false
}

// Name returns the enumerator name for a value, or "".
func (e *Enum) nameOf(v int64) string {
	for _, ev := range e.Values {
		if ev.Value == v {
			return ev.Name
		}
	}
	return ""
}

func (e *Enum) reset() {
	e.Values, e.complete, e.base = nil, false, 0
}

func (e *Enum) kind() Kind {
	if e.base == 0 {
		return KindInt
	}
	return e.base
}

func (e *Enum) setValues(vals []Enumerator) error {
	if e.complete {
		return typeError("attempt to redefine 'enum %s'", e.Name)
	}
	e.Values = vals
	e.complete = true
	e.base = KindInt
	wide, negative := false, false
	var max int64
	for _, v := range vals {
		if v.Value < -0x80000000 || v.Value > 0x7fffffff {
			wide = true
		}
		if v.Value < 0 {
			negative = true
		}
		if v.Value > max {
			max = v.Value
		}
	}
	if wide {
		e.base = KindLongLong
		if !negative && max <= 0xffffffff {
			e.base = KindUInt
		}
	}
	return nil
}

//
// serialization
//

// String renders the type in C declaration syntax.
func (t *CType) String() string {
	return t.Declare("")
}

// Declare renders a declaration of name with this type.
func (t *CType) Declare(name string) string {
	inner := name
	wrapped := false // last step was a pointer or reference
	cur := t
	for {
		switch cur.kind {
		case KindPointer, KindRef:
			mark := "*"
			if cur.kind == KindRef {
				mark = "&"
			}
			if q := cur.qual.String(); q != "" {
				mark += q
				if inner != "" {
					mark += " "
				}
			}
			inner = mark + inner
			wrapped = true
			cur = cur.elem
			continue
		case KindArray:
			if wrapped {
				inner = "(" + inner + ")"
			}
			switch {
			case cur.flags&flagVLA != 0:
				inner += "[?]"
			case cur.flags&flagUnbounded != 0:
				inner += "[]"
			default:
				inner += "[" + strconv.Itoa(cur.n) + "]"
			}
			wrapped = false
			cur = cur.elem
			continue
		case KindFunc:
			conv := cur.fn.Conv.String()
			if wrapped {
				if conv != "" {
					inner = conv + " " + inner
				}
				inner = "(" + inner + ")"
			} else if conv != "" {
				inner = strings.TrimSpace(conv + " " + inner)
			}
			inner += "(" + cur.fn.paramString() + ")"
			wrapped = false
			cur = cur.fn.Result
			continue
		}
		base := cur.baseName()
		if q := cur.qual.String(); q != "" {
			base = q + " " + base
		}
		if inner == "" {
			return base
		}
		return base + " " + inner
	}
}

func (fn *Function) paramString() string {
	if len(fn.Params) == 0 {
		if fn.Variadic {
			return "..."
		}
		return "void"
	}
	parts := make([]string, 0, len(fn.Params)+1)
	for _, p := range fn.Params {
		parts = append(parts, p.Type.String())
	}
	if fn.Variadic {
		parts = append(parts, "...")
	}
	return strings.Join(parts, ", ")
}

func (t *CType) baseName() string {
	switch t.kind {
	case KindRecord:
		return t.rec.tag()
	case KindEnum:
		return "enum " + t.enum.Name
	}
	return t.kind.String()
}
