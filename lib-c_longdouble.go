package zffi

import (
	"encoding/binary"
	"math"
	"unsafe"
)

// long double formats by target
const (
	ldDouble   = iota // same as double
	ldX87             // 80-bit extended in the low ten bytes
	ldQuad            // IEEE binary128
	ldDoubleDD        // pair of doubles
)

func longDoubleFormat(p *platform) int {
	if p.ldSize == 8 {
		return ldDouble
	}
	switch p.arch {
	case "amd64", "386":
		return ldX87
	case "ppc64", "ppc64le":
		return ldDoubleDD
	}
	return ldQuad
}

var ldFormat = longDoubleFormat(host)

func hostOrder() binary.ByteOrder {
	if host.bigEndian {
		return binary.BigEndian
	}
	return binary.LittleEndian
}

// loadLongDouble reads a long double, rounding to float64.
func loadLongDouble(p unsafe.Pointer) float64 {
	switch ldFormat {
	case ldX87:
		return x87ToFloat(memBytes(p, 10))
	case ldQuad:
		return quadToFloat(memBytes(p, 16), hostOrder())
	case ldDoubleDD:
		b := memBytes(p, 16)
		o := hostOrder()
		return math.Float64frombits(o.Uint64(b)) + math.Float64frombits(o.Uint64(b[8:]))
	}
	return *(*float64)(p)
}

// storeLongDouble writes f as a long double.
func storeLongDouble(p unsafe.Pointer, f float64) {
	switch ldFormat {
	case ldX87:
		zero(p, host.ldSize)
		floatToX87(memBytes(p, 10), f)
	case ldQuad:
		floatToQuad(memBytes(p, 16), f, hostOrder())
	case ldDoubleDD:
		b := memBytes(p, 16)
		o := hostOrder()
		o.PutUint64(b, math.Float64bits(f))
		o.PutUint64(b[8:], 0)
	default:
		*(*float64)(p) = f
	}
}

// x87 extended: 64-bit mantissa with explicit integer bit, 15-bit
// exponent biased by 16383, sign in the top bit. Always little endian.
func x87ToFloat(b []byte) float64 {
	mant := binary.LittleEndian.Uint64(b)
	se := binary.LittleEndian.Uint16(b[8:])
	sign := se >> 15
	exp := int(se & 0x7fff)
	var f float64
	switch {
	case exp == 0 && mant == 0:
		f = 0
	case exp == 0x7fff:
		if mant<<1 == 0 {
			f = math.Inf(1)
		} else {
			f = math.NaN()
		}
	default:
		f = math.Ldexp(float64(mant), exp-16383-63)
	}
	if sign == 1 {
		f = -f
	}
	return f
}

func floatToX87(b []byte, f float64) {
	var sign uint16
	if math.Signbit(f) {
		sign = 0x8000
		f = -f
	}
	var mant uint64
	var exp int
	switch {
	case f == 0:
	case math.IsInf(f, 0):
		exp, mant = 0x7fff, 1<<63
	case math.IsNaN(f):
		exp, mant = 0x7fff, 3<<62
	default:
		fr, e := math.Frexp(f) // f = fr * 2^e, fr in [0.5, 1)
		mant = uint64(math.Ldexp(fr, 64))
		exp = e - 1 + 16383
	}
	binary.LittleEndian.PutUint64(b, mant)
	binary.LittleEndian.PutUint16(b[8:], sign|uint16(exp))
}

// binary128: 112-bit fraction, 15-bit exponent biased by 16383.
func quadToFloat(b []byte, o binary.ByteOrder) float64 {
	var hi, lo uint64
	if o == binary.LittleEndian {
		lo, hi = o.Uint64(b), o.Uint64(b[8:])
	} else {
		hi, lo = o.Uint64(b), o.Uint64(b[8:])
	}
	sign := hi >> 63
	exp := int(hi >> 48 & 0x7fff)
	frac := hi&(1<<48-1)<<4 | lo>>60 // top 52 bits of the fraction
	var f float64
	switch {
	case exp == 0 && frac == 0:
		f = 0
	case exp == 0x7fff:
		if frac == 0 {
			f = math.Inf(1)
		} else {
			f = math.NaN()
		}
	default:
		e := exp - 16383 + 1023
		switch {
		case e >= 0x7ff:
			f = math.Inf(1)
		case e <= 0:
			f = math.Ldexp(float64(frac|1<<52), exp-16383-52)
		default:
			f = math.Float64frombits(uint64(e)<<52 | frac)
		}
	}
	if sign == 1 {
		f = -f
	}
	return f
}

func floatToQuad(b []byte, f float64, o binary.ByteOrder) {
	bits := math.Float64bits(f)
	sign := bits >> 63
	exp := int(bits >> 52 & 0x7ff)
	frac := bits & (1<<52 - 1)
	var qexp uint64
	switch {
	case exp == 0 && frac == 0:
	case exp == 0x7ff:
		qexp = 0x7fff
	case exp == 0:
		// subnormal double: normalize into the wider exponent range
		shift := 0
		for frac&(1<<52) == 0 {
			frac <<= 1
			shift++
		}
		frac &= 1<<52 - 1
		qexp = uint64(1 - 1023 - shift + 16383)
	default:
		qexp = uint64(exp - 1023 + 16383)
	}
	hi := sign<<63 | qexp<<48 | frac>>4
	lo := frac << 60
	if o == binary.LittleEndian {
		o.PutUint64(b, lo)
		o.PutUint64(b[8:], hi)
	} else {
		o.PutUint64(b, hi)
		o.PutUint64(b[8:], lo)
	}
}
