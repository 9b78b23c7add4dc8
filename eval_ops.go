package zffi

import (
	"math"
	"strconv"
)

// Literal is a typed constant. Integers keep their bits normalized to the
// width of Kind (sign extended for signed kinds); floats keep a float64.
type Literal struct {
	Kind Kind
	bits uint64
	f    float64
}

func intLit(k Kind, v uint64) Literal {
	return Literal{Kind: k, bits: normalize(v, k)}
}

func floatLit(k Kind, f float64) Literal {
	if k == KindFloat {
		f = float64(float32(f))
	}
	return Literal{Kind: k, f: f}
}

func boolInt(b bool) Literal {
	if b {
		return intLit(KindInt, 1)
	}
	return intLit(KindInt, 0)
}

// normalize truncates v to the width of k.
func normalize(v uint64, k Kind) uint64 {
	if k == KindBool {
		if v != 0 {
			return 1
		}
		return 0
	}
	size, _ := host.scalar(k)
	if size <= 0 || size >= 8 {
		return v
	}
	shift := uint(64 - size*8)
	if k.signed() {
		return uint64(int64(v<<shift) >> shift)
	}
	return v << shift >> shift
}

func (l Literal) IsFloat() bool { return l.Kind.float() }

// Int64 returns the value as a signed 64-bit integer.
func (l Literal) Int64() int64 {
	if l.IsFloat() {
		return int64(l.f)
	}
	return int64(l.bits)
}

// Uint64 returns the raw 64-bit pattern of an integer value.
func (l Literal) Uint64() uint64 {
	if l.IsFloat() {
		if l.f < 0 {
			return uint64(int64(l.f))
		}
		return uint64(l.f)
	}
	return l.bits
}

func (l Literal) Float64() float64 {
	if l.IsFloat() {
		return l.f
	}
	if l.Kind.signed() {
		return float64(int64(l.bits))
	}
	return float64(l.bits)
}

func (l Literal) truth() bool {
	if l.IsFloat() {
		return l.f != 0
	}
	return l.bits != 0
}

// Value returns the literal as a host number: int64, uint64 for unsigned
// values beyond the int64 range, or float64.
func (l Literal) Value() any {
	if l.IsFloat() {
		return l.f
	}
	if !l.Kind.signed() && l.bits > math.MaxInt64 {
		return l.bits
	}
	return int64(l.bits)
}

func (l Literal) String() string {
	if l.IsFloat() {
		return strconv.FormatFloat(l.f, 'g', -1, 64)
	}
	if l.Kind.signed() {
		return strconv.FormatInt(int64(l.bits), 10)
	}
	return strconv.FormatUint(l.bits, 10)
}

// convert performs a C conversion of l to kind k.
func (l Literal) convert(k Kind) Literal {
	if k == KindEnum {
		k = KindInt
	}
	switch {
	case k.float():
		return floatLit(k, l.Float64())
	case k == KindBool:
		return intLit(k, boolBits(l.truth()))
	case l.IsFloat():
		if k.signed() {
			return intLit(k, uint64(int64(l.f)))
		}
		return intLit(k, l.Uint64())
	}
	return intLit(k, l.bits)
}

func boolBits(b bool) uint64 {
	if b {
		return 1
	}
	return 0
}

// promote applies the integer promotions.
func promote(k Kind) Kind {
	switch k {
	case KindBool, KindChar, KindSChar, KindUChar, KindShort, KindUShort, KindEnum:
		return KindInt
	}
	return k
}

func intRank(k Kind) int {
	switch k {
	case KindInt, KindUInt:
		return 1
	case KindLong, KindULong:
		return 2
	case KindLongLong, KindULongLong:
		return 3
	}
	return 0
}

// arithKind returns the common type of the usual arithmetic conversions.
func arithKind(a, b Kind) Kind {
	for _, f := range []Kind{KindLongDouble, KindDouble, KindFloat} {
		if a == f || b == f {
			return f
		}
	}
	a, b = promote(a), promote(b)
	if a == b {
		return a
	}
	if a.signed() == b.signed() {
		if intRank(a) >= intRank(b) {
			return a
		}
		return b
	}
	u, s := a, b
	if a.signed() {
		u, s = b, a
	}
	if intRank(u) >= intRank(s) {
		return u
	}
	us, _ := host.scalar(u)
	ss, _ := host.scalar(s)
	if ss > us {
		return s
	}
	return unsignedOf(s)
}

func isRelational(op int) bool {
	switch op {
	case tkLT, tkGT, tkLE, tkGE, tkEQ, tkNE:
		return true
	}
	return false
}

// binaryOp folds one arithmetic, bitwise, shift or comparison operator.
// Integer division by zero is not trapped and panics like the native fault.
func binaryOp(op int, a, b Literal) (Literal, error) {
	if op == tkLShift || op == tkRShift {
		if a.IsFloat() || b.IsFloat() {
			return Literal{}, typeError("invalid operands to '%s'", tokName(op))
		}
		k := promote(a.Kind)
		v := a.convert(k)
		n := b.convert(promote(b.Kind)).Int64()
		if n < 0 {
			n = -n
			if op == tkLShift {
				op = tkRShift
			} else {
				op = tkLShift
			}
		}
		if op == tkLShift {
			return intLit(k, v.bits<<uint64(n)), nil
		}
		if k.signed() {
			return intLit(k, uint64(int64(v.bits)>>uint64(n))), nil
		}
		return intLit(k, v.bits>>uint64(n)), nil
	}

	k := arithKind(a.Kind, b.Kind)
	x, y := a.convert(k), b.convert(k)

	if k.float() {
		switch op {
		case tkPlus:
			return floatLit(k, x.f+y.f), nil
		case tkMinus:
			return floatLit(k, x.f-y.f), nil
		case tkStar:
			return floatLit(k, x.f*y.f), nil
		case tkSlash:
			return floatLit(k, x.f/y.f), nil
		case tkLT:
			return boolInt(x.f < y.f), nil
		case tkGT:
			return boolInt(x.f > y.f), nil
		case tkLE:
			return boolInt(x.f <= y.f), nil
		case tkGE:
			return boolInt(x.f >= y.f), nil
		case tkEQ:
			return boolInt(x.f == y.f), nil
		case tkNE:
			return boolInt(x.f != y.f), nil
		}
		return Literal{}, typeError("invalid operands to '%s' for type '%s'", tokName(op), k)
	}

	signed := k.signed()
	sx, sy := int64(x.bits), int64(y.bits)
	ux, uy := x.bits, y.bits
	switch op {
	case tkPlus:
		return intLit(k, ux+uy), nil
	case tkMinus:
		return intLit(k, ux-uy), nil
	case tkStar:
		return intLit(k, ux*uy), nil
	case tkSlash:
		if signed {
			return intLit(k, uint64(sx/sy)), nil
		}
		return intLit(k, ux/uy), nil
	case tkPercent:
		if signed {
			return intLit(k, uint64(sx%sy)), nil
		}
		return intLit(k, ux%uy), nil
	case tkAmp:
		return intLit(k, ux&uy), nil
	case tkPipe:
		return intLit(k, ux|uy), nil
	case tkCaret:
		return intLit(k, ux^uy), nil
	case tkEQ:
		return boolInt(ux == uy), nil
	case tkNE:
		return boolInt(ux != uy), nil
	}
	if signed {
		switch op {
		case tkLT:
			return boolInt(sx < sy), nil
		case tkGT:
			return boolInt(sx > sy), nil
		case tkLE:
			return boolInt(sx <= sy), nil
		case tkGE:
			return boolInt(sx >= sy), nil
		}
	} else {
		switch op {
		case tkLT:
			return boolInt(ux < uy), nil
		case tkGT:
			return boolInt(ux > uy), nil
		case tkLE:
			return boolInt(ux <= uy), nil
		case tkGE:
			return boolInt(ux >= uy), nil
		}
	}
	return Literal{}, typeError("unsupported operator '%s'", tokName(op))
}

// unaryOp folds + - ~ !.
func unaryOp(op int, a Literal) (Literal, error) {
	if op == tkBang {
		return boolInt(!a.truth()), nil
	}
	if a.IsFloat() {
		switch op {
		case tkPlus:
			return a, nil
		case tkMinus:
			return floatLit(a.Kind, -a.f), nil
		}
		return Literal{}, typeError("invalid operand to '%s'", tokName(op))
	}
	k := promote(a.Kind)
	v := a.convert(k)
	switch op {
	case tkPlus:
		return v, nil
	case tkMinus:
		return intLit(k, -v.bits), nil
	case tkTilde:
		return intLit(k, ^v.bits), nil
	}
	return Literal{}, typeError("unsupported operator '%s'", tokName(op))
}
