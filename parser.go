package zffi

import "strings"

// parser is a recursive descent parser for the accepted C subset. One
// parser value serves one Declare or ParseType call.
type parser struct {
	lx     *lexer
	store  *DeclStore
	params []any
	nparam int
	depth  int
	last   int
}

func newParser(src string, store *DeclStore, params []any) *parser {
	return &parser{lx: newLexer(src), store: store, params: params}
}

func (p *parser) peek() (token, error) {
	return p.lx.peek()
}

func (p *parser) next() (token, error) {
	t, err := p.lx.next()
	p.last = t.line
	return t, err
}

func (p *parser) line() int { return p.last }

// accept consumes the next token if it has the given tag.
func (p *parser) accept(tag int) bool {
	t, err := p.peek()
	if err != nil || t.tag != tag {
		return false
	}
	p.next()
	return true
}

func (p *parser) expect(tag int) error {
	t, err := p.next()
	if err != nil {
		return err
	}
	if t.tag != tag {
		return p.errorf(t, "'%s' expected", tokName(tag))
	}
	return nil
}

func (p *parser) errorf(t token, format string, args ...any) error {
	return syntaxError(t.String(), t.line, format, args...)
}

// param returns the next positional $ argument.
func (p *parser) param(t token) (any, error) {
	if p.nparam >= len(p.params) {
		return nil, p.errorf(t, "missing value for parameter %d", p.nparam+1)
	}
	v := p.params[p.nparam]
	p.nparam++
	return v, nil
}

func (p *parser) enter(t token) error {
	p.depth++
	if p.depth > maxDeclDepth {
		return p.errorf(t, "declaration nesting too deep")
	}
	return nil
}

func (p *parser) leave() { p.depth-- }

//
// entry points
//

// parseDecls parses declarations until end of input.
func (p *parser) parseDecls() error {
	for {
		t, err := p.peek()
		if err != nil {
			return err
		}
		switch t.tag {
		case tkEOF:
			return nil
		case tkSemi:
			p.next()
			continue
		}
		if err := p.parseDecl(); err != nil {
			return err
		}
	}
}

// parseBareType parses one abstract type and requires end of input.
func (p *parser) parseBareType() (*CType, error) {
	ct, err := p.parseTypeName()
	if err != nil {
		return nil, err
	}
	t, err := p.next()
	if err != nil {
		return nil, err
	}
	if t.tag != tkEOF {
		return nil, p.errorf(t, "unexpected token after type")
	}
	return ct, nil
}

// parseTypeName parses specifiers and an abstract declarator.
func (p *parser) parseTypeName() (*CType, error) {
	spec, err := p.parseSpecifiers()
	if err != nil {
		return nil, err
	}
	if spec.storage != 0 {
		return nil, syntaxError(tokName(spec.storage), spec.line, "storage class in type name")
	}
	d, err := p.parseDeclarator(declAbstract)
	if err != nil {
		return nil, err
	}
	return p.build(spec, d)
}

// parseDecl parses one declaration terminated by ';'.
func (p *parser) parseDecl() error {
	spec, err := p.parseSpecifiers()
	if err != nil {
		return err
	}
	if p.accept(tkSemi) {
		return nil
	}
	for {
		d, err := p.parseDeclarator(declNamed)
		if err != nil {
			return err
		}
		ct, err := p.build(spec, d)
		if err != nil {
			return err
		}
		var init *Expr
		if p.accept(tkAssign) {
			if init, err = p.parseExpr(); err != nil {
				return err
			}
		}
		if err := p.install(spec, d, ct, init); err != nil {
			return atLine(err, d.line)
		}
		if p.accept(tkComma) {
			continue
		}
		return p.expect(tkSemi)
	}
}

// install adds one declarator's declaration to the store.
func (p *parser) install(spec *declSpec, d *declarator, ct *CType, init *Expr) error {
	switch {
	case spec.storage == kwTypedef:
		if init != nil {
			return typeError("typedef '%s' is initialized", d.name)
		}
		if old := p.store.Add(&Decl{Kind: DeclTypedef, Name: d.name, Type: ct}); old != nil {
			if old.Kind != DeclTypedef || !old.Type.IsSame(ct, false, false) {
				return typeError("conflicting types for '%s'", d.name)
			}
		}
		return nil
	case init != nil:
		if ct.qual&QualConst == 0 || !ct.IsArith() {
			return typeError("initializer for '%s' requires a const arithmetic type", d.name)
		}
		v, err := init.Eval()
		if err != nil {
			return err
		}
		k := ct.kind
		if k == KindEnum {
			k = ct.enum.kind()
		}
		c := &Decl{Kind: DeclConst, Name: d.name, Type: ct, Value: v.convert(k)}
		if old := p.store.Add(c); old != nil {
			if old.Kind != DeclConst || old.Value != c.Value {
				return typeError("redeclaration of '%s'", d.name)
			}
		}
		return nil
	}
	kind := DeclVar
	if ct.kind == KindFunc {
		kind = DeclFunc
	} else if ct.kind == KindVoid {
		return typeError("variable '%s' declared void", d.name)
	}
	if old := p.store.Add(&Decl{Kind: kind, Name: d.name, Type: ct, Symbol: d.asm}); old != nil {
		return typeError("'%s' redeclared as a different kind of symbol", d.name)
	}
	return nil
}

//
// declaration specifiers
//

type declSpec struct {
	storage  int
	inline   bool
	qual     Qual
	conv     CallConv
	base     *CType
	counts   map[int]int
	line     int
	explicit bool // any type specifier seen
}

func (s *declSpec) setConv(c CallConv, t token, p *parser) error {
	if s.conv != ConvDefault && !s.conv.same(c) {
		return p.errorf(t, "conflicting calling conventions")
	}
	s.conv = c
	return nil
}

var convKeywords = map[int]CallConv{
	kwCdecl:    ConvCdecl,
	kwStdcall:  ConvStdcall,
	kwFastcall: ConvFastcall,
	kwThiscall: ConvThiscall,
}

func isBuiltinSpecifier(tag int) bool {
	switch tag {
	case kwVoid, kwBool, kwChar, kwShort, kwInt, kwLong, kwSigned, kwUnsigned, kwFloat, kwDouble:
		return true
	}
	return false
}

func isAliasKeyword(tag int) bool {
	return tag >= kwInt8 && tag <= kwTimeT
}

// aliasType resolves the fixed-width and platform alias keywords.
func aliasType(tag int) *CType {
	switch tag {
	case kwInt8:
		return Scalar(KindSChar)
	case kwUint8:
		return Scalar(KindUChar)
	case kwInt16:
		return Scalar(KindShort)
	case kwUint16, kwChar16T:
		return Scalar(KindUShort)
	case kwInt32:
		return Scalar(KindInt)
	case kwUint32, kwChar32T:
		return Scalar(KindUInt)
	case kwInt64:
		return Scalar(host.sizeKind(8, true))
	case kwUint64:
		return Scalar(host.sizeKind(8, false))
	case kwSizeT, kwUintptrT:
		return Scalar(host.sizeKind(host.ptrSize, false))
	case kwSsizeT, kwIntptrT, kwPtrdiffT:
		return Scalar(host.sizeKind(host.ptrSize, true))
	case kwWcharT:
		return Scalar(host.wchar)
	case kwVaList:
		return pointerTo(Scalar(KindVoid))
	case kwTimeT:
		if host.goos == "windows" {
			return Scalar(KindLongLong)
		}
		return Scalar(KindLong)
	}
	return nil
}

// startsType reports whether the next token can begin a type name.
func (p *parser) startsType() bool {
	t, err := p.peek()
	if err != nil {
		return false
	}
	switch t.tag {
	case kwConst, kwVolatile, kwRestrict, kwStruct, kwUnion, kwEnum, kwExtension:
		return true
	case tkDollar:
		if p.nparam < len(p.params) {
			_, ok := p.params[p.nparam].(*CType)
			return ok
		}
		return false
	case tkIdent:
		d := p.store.Lookup(t.text)
		return d != nil && d.Kind == DeclTypedef
	}
	return isBuiltinSpecifier(t.tag) || isAliasKeyword(t.tag)
}

func (p *parser) parseSpecifiers() (*declSpec, error) {
	spec := &declSpec{counts: make(map[int]int)}
	first, err := p.peek()
	if err != nil {
		return nil, err
	}
	spec.line = first.line
	for {
		t, err := p.peek()
		if err != nil {
			return nil, err
		}
		switch {
		case t.tag == kwTypedef || t.tag == kwExtern || t.tag == kwStatic || t.tag == kwAuto || t.tag == kwRegister:
			p.next()
			if spec.storage != 0 && spec.storage != t.tag {
				return nil, p.errorf(t, "multiple storage classes in declaration specifiers")
			}
			spec.storage = t.tag
		case t.tag == kwInline:
			p.next()
			spec.inline = true
		case t.tag == kwExtension:
			p.next()
		case t.tag == kwConst:
			p.next()
			spec.qual |= QualConst
		case t.tag == kwVolatile:
			p.next()
			spec.qual |= QualVolatile
		case t.tag == kwRestrict:
			p.next()
		case t.tag == kwAttribute:
			conv, err := p.parseAttribute()
			if err != nil {
				return nil, err
			}
			if conv != ConvDefault {
				if err := spec.setConv(conv, t, p); err != nil {
					return nil, err
				}
			}
		case convKeywords[t.tag] != ConvDefault:
			p.next()
			if err := spec.setConv(convKeywords[t.tag], t, p); err != nil {
				return nil, err
			}
		case isBuiltinSpecifier(t.tag):
			p.next()
			if spec.base != nil {
				return nil, p.errorf(t, "two or more data types in declaration specifiers")
			}
			spec.counts[t.tag]++
			spec.explicit = true
		case isAliasKeyword(t.tag):
			p.next()
			if err := spec.setBase(aliasType(t.tag), t, p); err != nil {
				return nil, err
			}
		case t.tag == kwStruct || t.tag == kwUnion:
			p.next()
			ct, err := p.parseRecord(t)
			if err != nil {
				return nil, err
			}
			if err := spec.setBase(ct, t, p); err != nil {
				return nil, err
			}
		case t.tag == kwEnum:
			p.next()
			ct, err := p.parseEnum(t)
			if err != nil {
				return nil, err
			}
			if err := spec.setBase(ct, t, p); err != nil {
				return nil, err
			}
		case t.tag == tkDollar:
			p.next()
			v, err := p.param(t)
			if err != nil {
				return nil, err
			}
			ct, ok := v.(*CType)
			if !ok {
				return nil, p.errorf(t, "parameter %d is not a type", p.nparam)
			}
			if err := spec.setBase(ct, t, p); err != nil {
				return nil, err
			}
		case t.tag == tkIdent && !spec.explicit:
			d := p.store.Lookup(t.text)
			if d == nil || d.Kind != DeclTypedef {
				return p.finishSpec(spec, t)
			}
			p.next()
			spec.base = d.Type
			spec.explicit = true
		default:
			return p.finishSpec(spec, t)
		}
	}
}

func (s *declSpec) setBase(ct *CType, t token, p *parser) error {
	if s.explicit {
		return p.errorf(t, "two or more data types in declaration specifiers")
	}
	s.base = ct
	s.explicit = true
	return nil
}

// finishSpec resolves the builtin keyword combination into a base type.
func (p *parser) finishSpec(spec *declSpec, at token) (*declSpec, error) {
	if !spec.explicit {
		return nil, p.errorf(at, "type specifier expected")
	}
	if spec.base == nil {
		k, ok := builtinKind(spec.counts)
		if !ok {
			return nil, syntaxError(at.String(), spec.line, "invalid combination of type specifiers")
		}
		spec.base = Scalar(k)
	}
	spec.base = spec.base.withQual(spec.qual)
	return spec, nil
}

func builtinKind(c map[int]int) (Kind, bool) {
	signed, unsigned := c[kwSigned], c[kwUnsigned]
	long, short := c[kwLong], c[kwShort]
	for tag, n := range c {
		if n > 1 && !(tag == kwLong && n == 2) {
			return 0, false
		}
	}
	if signed > 0 && unsigned > 0 {
		return 0, false
	}
	sign := func(s, u Kind) (Kind, bool) {
		if unsigned > 0 {
			return u, true
		}
		return s, true
	}
	others := func(allowed ...int) bool {
		for tag := range c {
			ok := false
			for _, a := range allowed {
				if tag == a {
					ok = true
				}
			}
			if !ok {
				return false
			}
		}
		return true
	}
	switch {
	case c[kwVoid] > 0:
		return KindVoid, others(kwVoid)
	case c[kwBool] > 0:
		return KindBool, others(kwBool)
	case c[kwFloat] > 0:
		return KindFloat, others(kwFloat)
	case c[kwDouble] > 0:
		if long == 1 {
			return KindLongDouble, others(kwDouble, kwLong)
		}
		return KindDouble, others(kwDouble)
	case c[kwChar] > 0:
		if !others(kwChar, kwSigned, kwUnsigned) {
			return 0, false
		}
		if signed > 0 {
			return KindSChar, true
		}
		if unsigned > 0 {
			return KindUChar, true
		}
		return KindChar, true
	case short > 0:
		if !others(kwShort, kwInt, kwSigned, kwUnsigned) {
			return 0, false
		}
		return sign(KindShort, KindUShort)
	case long == 2:
		if !others(kwLong, kwInt, kwSigned, kwUnsigned) {
			return 0, false
		}
		return sign(KindLongLong, KindULongLong)
	case long == 1:
		if !others(kwLong, kwInt, kwSigned, kwUnsigned) {
			return 0, false
		}
		return sign(KindLong, KindULong)
	}
	if !others(kwInt, kwSigned, kwUnsigned) {
		return 0, false
	}
	return sign(KindInt, KindUInt)
}

// parseAttribute reads __attribute__((...)) and returns any calling
// convention it names. Layout-changing attributes are rejected.
func (p *parser) parseAttribute() (CallConv, error) {
	at, _ := p.next()
	if err := p.expect(tkLParen); err != nil {
		return 0, err
	}
	if err := p.expect(tkLParen); err != nil {
		return 0, err
	}
	conv := ConvDefault
	for {
		t, err := p.next()
		if err != nil {
			return 0, err
		}
		if t.tag == tkRParen {
			break
		}
		if t.tag == tkComma {
			continue
		}
		if t.tag != tkIdent && !t.isKeyword() {
			return 0, p.errorf(t, "attribute name expected")
		}
		name := strings.TrimSuffix(strings.TrimPrefix(t.text, "__"), "__")
		if p.accept(tkLParen) {
			if err := p.skipBalanced(); err != nil {
				return 0, err
			}
		}
		var c CallConv
		switch name {
		case "cdecl":
			c = ConvCdecl
		case "stdcall":
			c = ConvStdcall
		case "fastcall":
			c = ConvFastcall
		case "thiscall":
			c = ConvThiscall
		default:
			if !ignoredAttributes[name] {
				return 0, p.errorf(t, "unsupported attribute '%s'", name)
			}
			continue
		}
		if conv != ConvDefault && !conv.same(c) {
			return 0, p.errorf(t, "conflicting calling conventions")
		}
		conv = c
	}
	if err := p.expect(tkRParen); err != nil {
		return 0, atLine(err, at.line)
	}
	return conv, nil
}

// skipBalanced consumes tokens up to the ')' matching an already consumed '('.
func (p *parser) skipBalanced() error {
	depth := 1
	for depth > 0 {
		t, err := p.next()
		if err != nil {
			return err
		}
		switch t.tag {
		case tkLParen:
			depth++
		case tkRParen:
			depth--
		case tkEOF:
			return p.errorf(t, "')' expected")
		}
	}
	return nil
}

// parseAsm reads __asm__("symbol").
func (p *parser) parseAsm() (string, error) {
	p.next()
	if err := p.expect(tkLParen); err != nil {
		return "", err
	}
	t, err := p.next()
	if err != nil {
		return "", err
	}
	if t.tag != tkString {
		return "", p.errorf(t, "string literal expected")
	}
	return t.str, p.expect(tkRParen)
}

//
// records and enums
//

func (p *parser) parseRecord(kw token) (*CType, error) {
	union := kw.tag == kwUnion
	for {
		t, err := p.peek()
		if err != nil {
			return nil, err
		}
		if t.tag != kwAttribute {
			break
		}
		if _, err := p.parseAttribute(); err != nil {
			return nil, err
		}
	}
	name := ""
	t, err := p.peek()
	if err != nil {
		return nil, err
	}
	if t.tag == tkIdent {
		p.next()
		name = t.text
	}
	open := p.accept(tkLBrace)
	if name == "" {
		if !open {
			return nil, p.errorf(t, "'%s' requires a tag or a body", kw.text)
		}
		name = p.store.anonName()
	}
	key := (&Record{Name: name, Union: union}).tag()
	var ct *CType
	if d := p.store.Lookup(key); d != nil {
		ct = d.Type
	} else {
		ct = recordType(&Record{Name: name, Union: union})
		p.store.Add(&Decl{Kind: DeclRecord, Name: key, Type: ct})
	}
	rec := ct.rec
	if !open {
		return ct, nil
	}
	if rec.complete {
		return nil, &Error{Kind: TypeError, Token: name, Line: t.line, Detail: "attempt to redefine '" + key + "'"}
	}
	if err := p.enter(t); err != nil {
		return nil, err
	}
	defer p.leave()
	fields, err := p.parseFields(rec)
	if err != nil {
		return nil, err
	}
	if err := rec.setFields(fields); err != nil {
		return nil, atLine(err, t.line)
	}
	if !p.store.owns(key) {
		p.store.onDrop(rec.reset)
	}
	for {
		t, err := p.peek()
		if err != nil {
			return nil, err
		}
		if t.tag != kwAttribute {
			return ct, nil
		}
		if _, err := p.parseAttribute(); err != nil {
			return nil, err
		}
	}
}

// parseFields reads member declarations up to the closing brace.
func (p *parser) parseFields(rec *Record) ([]Field, error) {
	var fields []Field
	seen := map[string]bool{}
	for !p.accept(tkRBrace) {
		if p.accept(tkSemi) {
			continue
		}
		spec, err := p.parseSpecifiers()
		if err != nil {
			return nil, err
		}
		if spec.storage != 0 {
			return nil, syntaxError(tokName(spec.storage), spec.line, "storage class on member of '%s'", rec.tag())
		}
		if p.accept(tkSemi) {
			if spec.base.kind != KindRecord {
				return nil, syntaxError(spec.base.String(), spec.line, "declaration does not declare anything")
			}
			if !spec.base.rec.complete {
				return nil, &Error{Kind: TypeError, Token: spec.base.String(), Line: spec.line, Detail: "member of '" + rec.tag() + "' has incomplete type '" + spec.base.String() + "'"}
			}
			fields = append(fields, Field{Type: spec.base})
			continue
		}
		for {
			d, err := p.parseDeclarator(declNamed)
			if err != nil {
				return nil, err
			}
			if t, _ := p.peek(); t.tag == tkColon {
				return nil, p.errorf(t, "bit fields are not supported")
			}
			ct, err := p.build(spec, d)
			if err != nil {
				return nil, err
			}
			if ct.kind == KindFunc {
				return nil, syntaxError(d.name, d.line, "member '%s' declared as a function", d.name)
			}
			if ct.kind == KindRecord && !ct.rec.complete {
				return nil, &Error{Kind: TypeError, Token: d.name, Line: d.line, Detail: "member '" + d.name + "' of '" + rec.tag() + "' has incomplete type '" + ct.String() + "'"}
			}
			if seen[d.name] {
				return nil, &Error{Kind: TypeError, Token: d.name, Line: d.line, Detail: "duplicate member '" + d.name + "'"}
			}
			seen[d.name] = true
			fields = append(fields, Field{Name: d.name, Type: ct})
			if p.accept(tkComma) {
				continue
			}
			if err := p.expect(tkSemi); err != nil {
				return nil, err
			}
			break
		}
	}
	return fields, nil
}

func (p *parser) parseEnum(kw token) (*CType, error) {
	name := ""
	t, err := p.peek()
	if err != nil {
		return nil, err
	}
	if t.tag == tkIdent {
		p.next()
		name = t.text
	}
	open := p.accept(tkLBrace)
	if name == "" {
		if !open {
			return nil, p.errorf(t, "'enum' requires a tag or a body")
		}
		name = p.store.anonName()
	}
	key := "enum " + name
	var ct *CType
	if d := p.store.Lookup(key); d != nil {
		ct = d.Type
	} else {
		ct = enumType(&Enum{Name: name})
		p.store.Add(&Decl{Kind: DeclEnum, Name: key, Type: ct})
	}
	if !open {
		return ct, nil
	}
	e := ct.enum
	if e.complete {
		return nil, &Error{Kind: TypeError, Token: name, Line: t.line, Detail: "attempt to redefine '" + key + "'"}
	}
	var vals []Enumerator
	var next int64
	for !p.accept(tkRBrace) {
		id, err := p.next()
		if err != nil {
			return nil, err
		}
		if id.tag != tkIdent {
			return nil, p.errorf(id, "enumerator name expected")
		}
		if p.accept(tkAssign) {
			ex, err := p.parseExpr()
			if err != nil {
				return nil, err
			}
			v, err := ex.Eval()
			if err != nil {
				return nil, atLine(err, id.line)
			}
			if v.IsFloat() {
				return nil, p.errorf(id, "enumerator value for '%s' is not an integer constant", id.text)
			}
			next = v.Int64()
		}
		vals = append(vals, Enumerator{Name: id.text, Value: next})
		lk := KindInt
		if next < -0x80000000 || next > 0x7fffffff {
			lk = KindLongLong
		}
		c := &Decl{Kind: DeclConst, Name: id.text, Type: ct, Value: intLit(lk, uint64(next))}
		if old := p.store.Add(c); old != nil {
			return nil, &Error{Kind: TypeError, Token: id.text, Line: id.line, Detail: "redeclaration of '" + id.text + "'"}
		}
		next++
		if !p.accept(tkComma) {
			if err := p.expect(tkRBrace); err != nil {
				return nil, err
			}
			break
		}
	}
	if err := e.setValues(vals); err != nil {
		return nil, atLine(err, t.line)
	}
	if !p.store.owns(key) {
		p.store.onDrop(e.reset)
	}
	return ct, nil
}
