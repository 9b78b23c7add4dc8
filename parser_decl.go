package zffi

// Declarators are resolved with a level list. Every parenthesis nesting
// level keeps the pointer and reference markers written at that level and
// the function or array suffixes that followed its name or closing paren.
// The type is built from the outermost level inward: at each level the
// pointers apply first, then the suffixes from right to left.

type declMode uint8

const (
	declNamed    declMode = iota // a name is required
	declAbstract                 // no name may appear
	declParam                    // a name is optional
)

type ptrMark struct {
	ref  bool
	qual Qual
}

type declSuffix struct {
	fn    *Function // function parameter list, or nil for an array
	n     int
	flags typeFlag
	line  int
}

type declLevel struct {
	ptrs     []ptrMark
	conv     CallConv
	suffixes []declSuffix
}

type declarator struct {
	name   string
	line   int
	asm    string
	levels []*declLevel
}

func (p *parser) parseDeclarator(mode declMode) (*declarator, error) {
	first, err := p.peek()
	if err != nil {
		return nil, err
	}
	d := &declarator{line: first.line, levels: []*declLevel{{}}}
	cur := 0

	// prefix: pointer markers, conventions and grouping parens
	for {
		if err := p.parsePointers(d.levels[cur]); err != nil {
			return nil, err
		}
		t, err := p.peek()
		if err != nil {
			return nil, err
		}
		if t.tag != tkLParen {
			break
		}
		p.next()
		if !p.groupingParen() {
			// a parameter list directly after the specifiers
			fn, err := p.parseParams(t)
			if err != nil {
				return nil, err
			}
			lv := d.levels[cur]
			lv.suffixes = append(lv.suffixes, declSuffix{fn: fn, line: t.line})
			break
		}
		if len(d.levels) >= maxDeclDepth {
			return nil, p.errorf(t, "declarator nesting too deep")
		}
		d.levels = append(d.levels, &declLevel{})
		cur++
	}

	t, err := p.peek()
	if err != nil {
		return nil, err
	}
	if t.tag == tkIdent && len(d.levels[cur].suffixes) == 0 {
		if mode == declAbstract {
			return nil, p.errorf(t, "unexpected identifier in type name")
		}
		p.next()
		d.name = t.text
		d.line = t.line
	} else if mode == declNamed {
		return nil, p.errorf(t, "identifier expected")
	}

	// suffixes and closing parens
	for {
		t, err := p.peek()
		if err != nil {
			return nil, err
		}
		lv := d.levels[cur]
		switch t.tag {
		case tkLParen:
			p.next()
			fn, err := p.parseParams(t)
			if err != nil {
				return nil, err
			}
			lv.suffixes = append(lv.suffixes, declSuffix{fn: fn, line: t.line})
			continue
		case tkLBracket:
			p.next()
			s, err := p.parseDimension(t)
			if err != nil {
				return nil, err
			}
			lv.suffixes = append(lv.suffixes, s)
			continue
		case tkRParen:
			if cur == 0 {
				return d, nil
			}
			p.next()
			cur--
			continue
		case kwAttribute:
			conv, err := p.parseAttribute()
			if err != nil {
				return nil, err
			}
			if conv == ConvDefault {
				continue
			}
			n := len(lv.suffixes)
			if n == 0 || lv.suffixes[n-1].fn == nil {
				return nil, p.errorf(t, "calling convention on a non-function")
			}
			fn := lv.suffixes[n-1].fn
			if fn.Conv != ConvDefault && !fn.Conv.same(conv) {
				return nil, p.errorf(t, "conflicting calling conventions")
			}
			fn.Conv = conv
			continue
		case kwAsm:
			if cur != 0 || d.name == "" {
				return nil, p.errorf(t, "symbol redirection requires a declared name")
			}
			if d.asm, err = p.parseAsm(); err != nil {
				return nil, err
			}
			continue
		}
		if cur != 0 {
			return nil, p.errorf(t, "')' expected")
		}
		return d, nil
	}
}

// parsePointers collects '*' and '&' markers with their qualifiers, and
// any calling convention written inside a parenthesized level.
func (p *parser) parsePointers(lv *declLevel) error {
	for {
		t, err := p.peek()
		if err != nil {
			return err
		}
		switch {
		case t.tag == tkStar || t.tag == tkAmp:
			p.next()
			m := ptrMark{ref: t.tag == tkAmp}
		quals:
			for {
				q, err := p.peek()
				if err != nil {
					return err
				}
				switch q.tag {
				case kwConst:
					m.qual |= QualConst
				case kwVolatile:
					m.qual |= QualVolatile
				case kwRestrict:
				case kwAttribute:
					conv, err := p.parseAttribute()
					if err != nil {
						return err
					}
					if conv != ConvDefault {
						return p.errorf(q, "calling convention on a non-function")
					}
					continue
				default:
					break quals
				}
				p.next()
			}
			lv.ptrs = append(lv.ptrs, m)
		case t.tag == kwAttribute:
			c, err := p.parseAttribute()
			if err != nil {
				return err
			}
			if c == ConvDefault {
				continue
			}
			if lv.conv != ConvDefault && !lv.conv.same(c) {
				return p.errorf(t, "conflicting calling conventions")
			}
			lv.conv = c
		case convKeywords[t.tag] != ConvDefault:
			p.next()
			c := convKeywords[t.tag]
			if lv.conv != ConvDefault && !lv.conv.same(c) {
				return p.errorf(t, "conflicting calling conventions")
			}
			lv.conv = c
		default:
			return nil
		}
	}
}

// groupingParen decides, after a '(' in prefix position, whether it opens
// a nested declarator level or a parameter list.
func (p *parser) groupingParen() bool {
	t, err := p.peek()
	if err != nil {
		return true
	}
	switch t.tag {
	case tkStar, tkAmp, tkLParen, tkLBracket, kwAttribute:
		return true
	case tkIdent:
		d := p.store.Lookup(t.text)
		return d == nil || d.Kind != DeclTypedef
	}
	return convKeywords[t.tag] != ConvDefault
}

// parseDimension reads an array suffix after '['.
func (p *parser) parseDimension(open token) (declSuffix, error) {
	s := declSuffix{line: open.line}
	if p.accept(tkRBracket) {
		s.flags = flagUnbounded
		return s, nil
	}
	if p.accept(tkQuery) {
		s.flags = flagVLA
		return s, p.expect(tkRBracket)
	}
	e, err := p.parseExpr()
	if err != nil {
		return s, err
	}
	v, err := e.Eval()
	if err != nil {
		return s, atLine(err, open.line)
	}
	if v.IsFloat() {
		return s, p.errorf(open, "size of array has non-integer type")
	}
	if (v.Kind.signed() && v.Int64() < 0) || v.Uint64() > 1<<40 {
		return s, p.errorf(open, "invalid array size %s", v)
	}
	s.n = int(v.Int64())
	return s, p.expect(tkRBracket)
}

// parseParams reads a parameter list after '('.
func (p *parser) parseParams(open token) (*Function, error) {
	if err := p.enter(open); err != nil {
		return nil, err
	}
	defer p.leave()
	fn := &Function{}
	if p.accept(tkRParen) {
		return fn, nil
	}
	for {
		if p.accept(tkEllipsis) {
			fn.Variadic = true
			return fn, p.expect(tkRParen)
		}
		spec, err := p.parseSpecifiers()
		if err != nil {
			return nil, err
		}
		if spec.storage != 0 && spec.storage != kwRegister {
			return nil, syntaxError(tokName(spec.storage), spec.line, "storage class on parameter")
		}
		d, err := p.parseDeclarator(declParam)
		if err != nil {
			return nil, err
		}
		ct, err := p.build(spec, d)
		if err != nil {
			return nil, err
		}
		if ct.kind == KindVoid {
			if len(fn.Params) == 0 && d.name == "" && p.accept(tkRParen) {
				return fn, nil
			}
			return nil, syntaxError("void", d.line, "parameter has type void")
		}
		switch ct.kind {
		case KindArray:
			ct = pointerTo(ct.elem).withQual(ct.qual)
		case KindFunc:
			ct = pointerTo(ct)
		}
		fn.Params = append(fn.Params, Param{Name: d.name, Type: ct})
		if p.accept(tkComma) {
			continue
		}
		return fn, p.expect(tkRParen)
	}
}

// build applies a declarator to the specifier base type.
func (p *parser) build(spec *declSpec, d *declarator) (*CType, error) {
	ct := spec.base
	specConv := spec.conv
	for _, lv := range d.levels {
		if lv.conv != ConvDefault {
			if ct.kind != KindFunc {
				return nil, syntaxError(lv.conv.String(), d.line, "calling convention on a non-function")
			}
			if err := mergeConv(ct.fn, lv.conv, d.line); err != nil {
				return nil, err
			}
		}
		for _, m := range lv.ptrs {
			if ct.kind == KindRef {
				return nil, syntaxError(d.name, d.line, "pointer or reference to a reference")
			}
			if m.ref {
				ct = refTo(ct).withQual(m.qual)
			} else {
				ct = pointerTo(ct).withQual(m.qual)
			}
		}
		for i := len(lv.suffixes) - 1; i >= 0; i-- {
			s := lv.suffixes[i]
			if s.fn != nil {
				if ct.kind == KindFunc || ct.kind == KindArray {
					return nil, syntaxError(d.name, s.line, "function cannot return '%s'", ct)
				}
				fn := s.fn
				fn.Result = ct
				if specConv != ConvDefault {
					if err := mergeConv(fn, specConv, s.line); err != nil {
						return nil, err
					}
					specConv = ConvDefault
				}
				ct = funcType(fn)
				continue
			}
			switch {
			case ct.kind == KindFunc:
				return nil, syntaxError(d.name, s.line, "array of functions")
			case ct.kind == KindVoid:
				return nil, syntaxError(d.name, s.line, "array of void")
			case ct.kind == KindArray && ct.flags&(flagUnbounded|flagVLA) != 0:
				return nil, syntaxError(d.name, s.line, "only the outermost array dimension may be unbounded")
			case ct.kind == KindRef:
				return nil, syntaxError(d.name, s.line, "array of references")
			}
			if _, ok := ct.SizeOf(); !ok {
				return nil, &Error{Kind: TypeError, Token: d.name, Line: s.line, Detail: "array has incomplete element type '" + ct.String() + "'"}
			}
			ct = arrayOf(ct, s.n, s.flags)
		}
	}
	if specConv != ConvDefault {
		return nil, syntaxError(specConv.String(), d.line, "calling convention on a non-function")
	}
	return ct, nil
}

func mergeConv(fn *Function, c CallConv, line int) error {
	if fn.Conv != ConvDefault && !fn.Conv.same(c) {
		return syntaxError(c.String(), line, "conflicting calling conventions")
	}
	if fn.Conv == ConvDefault {
		fn.Conv = c
	}
	return nil
}
