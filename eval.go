package zffi

// exprOp is the node class of a constant expression.
type exprOp uint8

const (
	exLit exprOp = iota
	exUnary
	exBinary
	exLogical
	exTernary
	exCast
)

// Expr is a constant expression tree. Identifiers and sizeof operands are
// resolved while parsing, so leaves are always literals.
type Expr struct {
	op   exprOp
	tok  int
	lit  Literal
	to   Kind
	a    *Expr
	b    *Expr
	c    *Expr
	line int
}

func litExpr(l Literal) *Expr { return &Expr{op: exLit, lit: l} }

// kindOf computes the static type of e without evaluating it.
func (e *Expr) kindOf() Kind {
	switch e.op {
	case exLit:
		return e.lit.Kind
	case exCast:
		return e.to
	case exUnary:
		if e.tok == tkBang {
			return KindInt
		}
		k := e.a.kindOf()
		if k.float() {
			return k
		}
		return promote(k)
	case exLogical:
		return KindInt
	case exBinary:
		if isRelational(e.tok) {
			return KindInt
		}
		if e.tok == tkLShift || e.tok == tkRShift {
			return promote(e.a.kindOf())
		}
		return arithKind(e.a.kindOf(), e.b.kindOf())
	case exTernary:
		return arithKind(e.b.kindOf(), e.c.kindOf())
	}
	return KindInt
}

// Eval folds the tree to a typed literal. && || and ?: evaluate only the
// operands C would evaluate.
func (e *Expr) Eval() (Literal, error) {
	switch e.op {
	case exLit:
		return e.lit, nil
	case exCast:
		v, err := e.a.Eval()
		if err != nil {
			return Literal{}, err
		}
		return v.convert(e.to), nil
	case exUnary:
		v, err := e.a.Eval()
		if err != nil {
			return Literal{}, err
		}
		return unaryOp(e.tok, v)
	case exLogical:
		l, err := e.a.Eval()
		if err != nil {
			return Literal{}, err
		}
		if e.tok == tkLAnd && !l.truth() {
			return boolInt(false), nil
		}
		if e.tok == tkLOr && l.truth() {
			return boolInt(true), nil
		}
		r, err := e.b.Eval()
		if err != nil {
			return Literal{}, err
		}
		return boolInt(r.truth()), nil
	case exBinary:
		l, err := e.a.Eval()
		if err != nil {
			return Literal{}, err
		}
		r, err := e.b.Eval()
		if err != nil {
			return Literal{}, err
		}
		return binaryOp(e.tok, l, r)
	case exTernary:
		cond, err := e.a.Eval()
		if err != nil {
			return Literal{}, err
		}
		k := e.kindOf()
		branch := e.c
		if cond.truth() {
			branch = e.b
		}
		v, err := branch.Eval()
		if err != nil {
			return Literal{}, err
		}
		return v.convert(k), nil
	}
	return Literal{}, typeError("malformed expression")
}

//
// precedence climbing over the parser's token stream
//

var binaryPrec = map[int]int{
	tkLOr:     1,
	tkLAnd:    2,
	tkPipe:    3,
	tkCaret:   4,
	tkAmp:     5,
	tkEQ:      6,
	tkNE:      6,
	tkLT:      7,
	tkGT:      7,
	tkLE:      7,
	tkGE:      7,
	tkLShift:  8,
	tkRShift:  8,
	tkPlus:    9,
	tkMinus:   9,
	tkStar:    10,
	tkSlash:   10,
	tkPercent: 10,
}

// parseExpr parses a conditional expression.
func (p *parser) parseExpr() (*Expr, error) {
	cond, err := p.parseBinary(1)
	if err != nil {
		return nil, err
	}
	if !p.accept(tkQuery) {
		return cond, nil
	}
	a, err := p.parseExpr()
	if err != nil {
		return nil, err
	}
	if err := p.expect(tkColon); err != nil {
		return nil, err
	}
	b, err := p.parseExpr()
	if err != nil {
		return nil, err
	}
	return &Expr{op: exTernary, a: cond, b: a, c: b, line: p.line()}, nil
}

func (p *parser) parseBinary(minPrec int) (*Expr, error) {
	lhs, err := p.parseUnary()
	if err != nil {
		return nil, err
	}
	for {
		t, err := p.peek()
		if err != nil {
			return nil, err
		}
		prec, ok := binaryPrec[t.tag]
		if !ok || prec < minPrec {
			return lhs, nil
		}
		p.next()
		rhs, err := p.parseBinary(prec + 1)
		if err != nil {
			return nil, err
		}
		op := exBinary
		if t.tag == tkLAnd || t.tag == tkLOr {
			op = exLogical
		}
		lhs = &Expr{op: op, tok: t.tag, a: lhs, b: rhs, line: t.line}
	}
}

func (p *parser) parseUnary() (*Expr, error) {
	t, err := p.peek()
	if err != nil {
		return nil, err
	}
	switch t.tag {
	case tkPlus, tkMinus, tkTilde, tkBang:
		p.next()
		a, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		return &Expr{op: exUnary, tok: t.tag, a: a, line: t.line}, nil
	case kwSizeof, kwAlignof:
		p.next()
		return p.parseSizeof(t)
	case tkLParen:
		p.next()
		if p.startsType() {
			ct, err := p.parseTypeName()
			if err != nil {
				return nil, err
			}
			if err := p.expect(tkRParen); err != nil {
				return nil, err
			}
			if !ct.IsArith() {
				return nil, p.errorf(t, "cannot cast to '%s' in a constant expression", ct)
			}
			a, err := p.parseUnary()
			if err != nil {
				return nil, err
			}
			to := ct.kind
			if to == KindEnum {
				to = ct.enum.kind()
			}
			return &Expr{op: exCast, to: to, a: a, line: t.line}, nil
		}
		e, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		return e, p.expect(tkRParen)
	}
	return p.parsePrimary()
}

func (p *parser) parsePrimary() (*Expr, error) {
	t, err := p.next()
	if err != nil {
		return nil, err
	}
	switch t.tag {
	case tkInt, tkFloat, tkChar:
		return litExpr(t.lit), nil
	case tkDollar:
		v, err := p.param(t)
		if err != nil {
			return nil, err
		}
		l, ok := hostLiteral(v)
		if !ok {
			return nil, p.errorf(t, "parameter %d is not a number", p.nparam)
		}
		return litExpr(l), nil
	case tkIdent:
		d := p.store.Lookup(t.text)
		if d == nil || d.Kind != DeclConst {
			return nil, p.errorf(t, "undeclared identifier in constant expression")
		}
		return litExpr(d.Value), nil
	}
	return nil, p.errorf(t, "unexpected token in constant expression")
}

// parseSizeof handles sizeof and alignof over a type name or expression.
func (p *parser) parseSizeof(op token) (*Expr, error) {
	var ct *CType
	if p.accept(tkLParen) {
		if p.startsType() {
			var err error
			if ct, err = p.parseTypeName(); err != nil {
				return nil, err
			}
			if err := p.expect(tkRParen); err != nil {
				return nil, err
			}
		} else {
			e, err := p.parseExpr()
			if err != nil {
				return nil, err
			}
			if err := p.expect(tkRParen); err != nil {
				return nil, err
			}
			ct = Scalar(e.kindOf())
		}
	} else {
		e, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		ct = Scalar(e.kindOf())
	}
	var n int
	var ok bool
	if op.tag == kwSizeof {
		n, ok = ct.SizeOf()
	} else {
		n, ok = ct.AlignOf()
	}
	if !ok {
		return nil, p.errorf(op, "invalid application of '%s' to incomplete type '%s'", op.text, ct)
	}
	return litExpr(intLit(host.sizeKind(host.ptrSize, false), uint64(n))), nil
}

// hostLiteral converts a host number to a literal.
func hostLiteral(v any) (Literal, bool) {
	switch n := v.(type) {
	case int:
		return intLit(KindLongLong, uint64(n)), true
	case int8:
		return intLit(KindInt, uint64(n)), true
	case int16:
		return intLit(KindInt, uint64(n)), true
	case int32:
		return intLit(KindInt, uint64(n)), true
	case int64:
		return intLit(KindLongLong, uint64(n)), true
	case uint:
		return intLit(KindULongLong, uint64(n)), true
	case uint8:
		return intLit(KindInt, uint64(n)), true
	case uint16:
		return intLit(KindInt, uint64(n)), true
	case uint32:
		return intLit(KindUInt, uint64(n)), true
	case uint64:
		return intLit(KindULongLong, n), true
	case float32:
		return floatLit(KindFloat, float64(n)), true
	case float64:
		return floatLit(KindDouble, n), true
	case bool:
		return boolInt(n), true
	}
	return Literal{}, false
}
