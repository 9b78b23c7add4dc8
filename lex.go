package zffi

import (
	"math"
	"math/bits"
	"strconv"
	"strings"
)

const identStart = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz_"
const identRest = identStart + "0123456789"

// token is one lexical item. text holds the spelling of identifiers,
// keywords and punctuation, str the decoded bytes of a string literal.
type token struct {
	tag  int
	text string
	str  string
	lit  Literal
	line int
}

func (t token) isKeyword() bool { return t.tag >= kwTypedef && t.tag < tkLast }

func (t token) String() string {
	switch t.tag {
	case tkIdent:
		return t.text
	case tkEOF:
		return "<eof>"
	case tkString:
		return strconv.Quote(t.str)
	case tkInt, tkFloat, tkChar:
		return t.text
	}
	if t.text != "" {
		return t.text
	}
	return tokName(t.tag)
}

// lexer produces tokens on demand with one token of lookahead.
type lexer struct {
	src    string
	pos    int
	line   int
	ahead  token
	peeked bool
	aheadE error
}

func newLexer(src string) *lexer {
	return &lexer{src: src, line: 1}
}

// next consumes and returns the next token.
func (lx *lexer) next() (token, error) {
	if lx.peeked {
		lx.peeked = false
		return lx.ahead, lx.aheadE
	}
	return lx.scan()
}

// peek returns the next token without consuming it.
func (lx *lexer) peek() (token, error) {
	if !lx.peeked {
		lx.ahead, lx.aheadE = lx.scan()
		lx.peeked = true
	}
	return lx.ahead, lx.aheadE
}

// skipSpace skips whitespace and comments.
func (lx *lexer) skipSpace() error {
	for lx.pos < len(lx.src) {
		c := lx.src[lx.pos]
		switch {
		case c == '\n':
			lx.line++
			lx.pos++
		case c == ' ' || c == '\t' || c == '\r' || c == '\f' || c == '\v':
			lx.pos++
		case c == '/' && lx.pos+1 < len(lx.src) && lx.src[lx.pos+1] == '/':
			for lx.pos < len(lx.src) && lx.src[lx.pos] != '\n' {
				lx.pos++
			}
		case c == '/' && lx.pos+1 < len(lx.src) && lx.src[lx.pos+1] == '*':
			end := strings.Index(lx.src[lx.pos+2:], "*/")
			if end < 0 {
				return syntaxError("/*", lx.line, "unterminated comment")
			}
			body := lx.src[lx.pos : lx.pos+2+end+2]
			lx.line += strings.Count(body, "\n")
			lx.pos += len(body)
		case c == '#':
			// stray preprocessor lines are skipped whole
			for lx.pos < len(lx.src) && lx.src[lx.pos] != '\n' {
				lx.pos++
			}
		default:
			return nil
		}
	}
	return nil
}

func (lx *lexer) scan() (token, error) {
	if err := lx.skipSpace(); err != nil {
		return token{tag: tkError, line: lx.line}, err
	}
	if lx.pos >= len(lx.src) {
		return token{tag: tkEOF, line: lx.line}, nil
	}
	c := lx.src[lx.pos]
	switch {
	case strings.IndexByte(identStart, c) >= 0:
		start := lx.pos
		for lx.pos < len(lx.src) && strings.IndexByte(identRest, lx.src[lx.pos]) >= 0 {
			lx.pos++
		}
		word := lx.src[start:lx.pos]
		if tag, ok := keywords[word]; ok {
			return token{tag: tag, text: word, line: lx.line}, nil
		}
		return token{tag: tkIdent, text: word, line: lx.line}, nil
	case c >= '0' && c <= '9', c == '.' && lx.pos+1 < len(lx.src) && isDigit(lx.src[lx.pos+1]):
		return lx.scanNumber()
	case c == '\'':
		return lx.scanChar()
	case c == '"':
		return lx.scanStrings()
	}
	for _, p := range punctuators {
		if strings.HasPrefix(lx.src[lx.pos:], p.text) {
			lx.pos += len(p.text)
			return token{tag: p.tag, text: p.text, line: lx.line}, nil
		}
	}
	return token{tag: tkError, line: lx.line}, syntaxError(string(c), lx.line, "unexpected character")
}

func isDigit(c byte) bool { return c >= '0' && c <= '9' }

func isHexDigit(c byte) bool {
	return isDigit(c) || (c >= 'a' && c <= 'f') || (c >= 'A' && c <= 'F')
}

// scanNumber reads an integer or floating literal including its suffix.
func (lx *lexer) scanNumber() (token, error) {
	start := lx.pos
	src := lx.src
	base := 10
	isFloat := false

	if src[lx.pos] == '0' && lx.pos+1 < len(src) && (src[lx.pos+1] == 'x' || src[lx.pos+1] == 'X') {
		base = 16
		lx.pos += 2
		for lx.pos < len(src) && isHexDigit(src[lx.pos]) {
			lx.pos++
		}
		if lx.pos < len(src) && (src[lx.pos] == '.' || src[lx.pos] == 'p' || src[lx.pos] == 'P') {
			isFloat = true
			if src[lx.pos] == '.' {
				lx.pos++
				for lx.pos < len(src) && isHexDigit(src[lx.pos]) {
					lx.pos++
				}
			}
			if lx.pos < len(src) && (src[lx.pos] == 'p' || src[lx.pos] == 'P') {
				lx.pos++
				lx.scanExponentDigits()
			} else {
				return lx.numError(start, "hexadecimal floating constant requires an exponent")
			}
		}
	} else if src[lx.pos] == '0' && lx.pos+1 < len(src) && (src[lx.pos+1] == 'b' || src[lx.pos+1] == 'B') {
		base = 2
		lx.pos += 2
		for lx.pos < len(src) && (src[lx.pos] == '0' || src[lx.pos] == '1') {
			lx.pos++
		}
	} else {
		for lx.pos < len(src) && isDigit(src[lx.pos]) {
			lx.pos++
		}
		if lx.pos < len(src) && src[lx.pos] == '.' {
			isFloat = true
			lx.pos++
			for lx.pos < len(src) && isDigit(src[lx.pos]) {
				lx.pos++
			}
		}
		if lx.pos < len(src) && (src[lx.pos] == 'e' || src[lx.pos] == 'E') {
			isFloat = true
			lx.pos++
			lx.scanExponentDigits()
		}
		if !isFloat && src[start] == '0' && lx.pos-start > 1 {
			base = 8
		}
	}

	body := src[start:lx.pos]
	sufStart := lx.pos
	for lx.pos < len(src) && strings.IndexByte(identRest, src[lx.pos]) >= 0 {
		lx.pos++
	}
	suffix := src[sufStart:lx.pos]
	text := src[start:lx.pos]

	if isFloat {
		kind := KindDouble
		switch strings.ToLower(suffix) {
		case "":
		case "f":
			kind = KindFloat
		case "l":
			kind = KindLongDouble
		default:
			return lx.numError(start, "invalid suffix on floating constant")
		}
		f, err := strconv.ParseFloat(body, 64)
		if err != nil && !isRangeErr(err) {
			return lx.numError(start, "malformed floating constant")
		}
		if kind == KindFloat {
			f = float64(float32(f))
		}
		return token{tag: tkFloat, text: text, lit: floatLit(kind, f), line: lx.line}, nil
	}

	digits := body
	switch base {
	case 16, 2:
		digits = body[2:]
	case 8:
		digits = body[1:]
	}
	if digits == "" {
		if base == 8 {
			digits = "0"
		} else {
			return lx.numError(start, "missing digits in integer constant")
		}
	}
	v, err := strconv.ParseUint(digits, base, 64)
	if err != nil {
		if isRangeErr(err) {
			return lx.numError(start, "integer constant is too large")
		}
		return lx.numError(start, "malformed integer constant")
	}
	unsigned, longs, ok := parseIntSuffix(suffix)
	if !ok {
		return lx.numError(start, "invalid suffix on integer constant")
	}
	return token{tag: tkInt, text: text, lit: intLit(literalKind(v, base == 10, unsigned, longs), v), line: lx.line}, nil
}

func (lx *lexer) scanExponentDigits() {
	if lx.pos < len(lx.src) && (lx.src[lx.pos] == '+' || lx.src[lx.pos] == '-') {
		lx.pos++
	}
	for lx.pos < len(lx.src) && isDigit(lx.src[lx.pos]) {
		lx.pos++
	}
}

func (lx *lexer) numError(start int, msg string) (token, error) {
	for lx.pos < len(lx.src) && strings.IndexByte(identRest+".", lx.src[lx.pos]) >= 0 {
		lx.pos++
	}
	return token{tag: tkError, line: lx.line}, syntaxError(lx.src[start:lx.pos], lx.line, msg)
}

func isRangeErr(err error) bool {
	ne, ok := err.(*strconv.NumError)
	return ok && ne.Err == strconv.ErrRange
}

// parseIntSuffix accepts u, l and ll in any case and order, with ll
// spelled in a single case.
func parseIntSuffix(s string) (unsigned bool, longs int, ok bool) {
	for len(s) > 0 {
		switch {
		case s[0] == 'u' || s[0] == 'U':
			if unsigned {
				return false, 0, false
			}
			unsigned = true
			s = s[1:]
		case strings.HasPrefix(s, "ll") || strings.HasPrefix(s, "LL"):
			if longs != 0 {
				return false, 0, false
			}
			longs = 2
			s = s[2:]
		case s[0] == 'l' || s[0] == 'L':
			if longs != 0 {
				return false, 0, false
			}
			longs = 1
			s = s[1:]
		default:
			return false, 0, false
		}
	}
	return unsigned, longs, true
}

// literalKind picks the first type of the C integer constant table that
// can represent v. Decimal constants without a u suffix only try the
// signed types; when none fits they fall back to unsigned long long.
func literalKind(v uint64, decimal, unsigned bool, longs int) Kind {
	var cands []Kind
	switch {
	case unsigned && longs == 0:
		cands = []Kind{KindUInt, KindULong, KindULongLong}
	case unsigned && longs == 1:
		cands = []Kind{KindULong, KindULongLong}
	case unsigned:
		cands = []Kind{KindULongLong}
	case decimal && longs == 0:
		cands = []Kind{KindInt, KindLong, KindLongLong}
	case decimal && longs == 1:
		cands = []Kind{KindLong, KindLongLong}
	case decimal:
		cands = []Kind{KindLongLong}
	case longs == 0:
		cands = []Kind{KindInt, KindUInt, KindLong, KindULong, KindLongLong, KindULongLong}
	case longs == 1:
		cands = []Kind{KindLong, KindULong, KindLongLong, KindULongLong}
	default:
		cands = []Kind{KindLongLong, KindULongLong}
	}
	for _, k := range cands {
		if fitsKind(v, k) {
			return k
		}
	}
	return KindULongLong
}

// fitsKind reports whether the non-negative value v is representable in k.
func fitsKind(v uint64, k Kind) bool {
	size, _ := host.scalar(k)
	width := size * 8
	if k.signed() {
		width--
	}
	return bits.Len64(v) <= width
}

var namedEscapes = map[byte]byte{
	'n': '\n', 't': '\t', 'r': '\r', 'a': '\a', 'b': '\b', 'f': '\f', 'v': '\v',
	'\\': '\\', '\'': '\'', '"': '"', '?': '?',
}

// scanEscape decodes one escape sequence after the backslash.
func (lx *lexer) scanEscape() (byte, error) {
	if lx.pos >= len(lx.src) {
		return 0, syntaxError("\\", lx.line, "unterminated escape sequence")
	}
	c := lx.src[lx.pos]
	if b, ok := namedEscapes[c]; ok {
		lx.pos++
		return b, nil
	}
	switch {
	case c >= '0' && c <= '7':
		v := 0
		for i := 0; i < 3 && lx.pos < len(lx.src) && lx.src[lx.pos] >= '0' && lx.src[lx.pos] <= '7'; i++ {
			v = v*8 + int(lx.src[lx.pos]-'0')
			lx.pos++
		}
		if v > math.MaxUint8 {
			return 0, syntaxError("\\"+strconv.FormatInt(int64(v), 8), lx.line, "octal escape sequence out of range")
		}
		return byte(v), nil
	case c == 'x':
		lx.pos++
		start := lx.pos
		v := 0
		for lx.pos < len(lx.src) && isHexDigit(lx.src[lx.pos]) {
			d, _ := strconv.ParseUint(lx.src[lx.pos:lx.pos+1], 16, 8)
			v = v*16 + int(d)
			lx.pos++
			if v > math.MaxUint8 {
				return 0, syntaxError("\\x"+lx.src[start:lx.pos], lx.line, "hex escape sequence out of range")
			}
		}
		if lx.pos == start {
			return 0, syntaxError("\\x", lx.line, "\\x used with no following hex digits")
		}
		return byte(v), nil
	}
	return 0, syntaxError("\\"+string(c), lx.line, "unknown escape sequence")
}

// scanChar reads a character constant. Its type is int and its value the
// char value converted to int.
func (lx *lexer) scanChar() (token, error) {
	start := lx.pos
	lx.pos++
	var vals []byte
	for {
		if lx.pos >= len(lx.src) || lx.src[lx.pos] == '\n' {
			return token{tag: tkError, line: lx.line}, syntaxError(lx.src[start:lx.pos], lx.line, "unterminated character constant")
		}
		c := lx.src[lx.pos]
		if c == '\'' {
			lx.pos++
			break
		}
		if c == '\\' {
			lx.pos++
			b, err := lx.scanEscape()
			if err != nil {
				return token{tag: tkError, line: lx.line}, err
			}
			vals = append(vals, b)
			continue
		}
		vals = append(vals, c)
		lx.pos++
	}
	text := lx.src[start:lx.pos]
	switch len(vals) {
	case 0:
		return token{tag: tkError, line: lx.line}, syntaxError(text, lx.line, "empty character constant")
	case 1:
	default:
		return token{tag: tkError, line: lx.line}, syntaxError(text, lx.line, "multi-character character constant")
	}
	v := uint64(vals[0])
	if host.charSigned && v > 127 {
		v = uint64(int64(int8(vals[0])))
	}
	return token{tag: tkChar, text: text, lit: intLit(KindInt, v), line: lx.line}, nil
}

// scanStrings reads a string literal and any literals adjacent to it.
func (lx *lexer) scanStrings() (token, error) {
	line := lx.line
	var b strings.Builder
	for {
		if err := lx.scanString(&b); err != nil {
			return token{tag: tkError, line: lx.line}, err
		}
		save, saveLine := lx.pos, lx.line
		if err := lx.skipSpace(); err != nil {
			return token{tag: tkError, line: lx.line}, err
		}
		if lx.pos < len(lx.src) && lx.src[lx.pos] == '"' {
			continue
		}
		lx.pos, lx.line = save, saveLine
		break
	}
	s := b.String()
	return token{tag: tkString, text: strconv.Quote(s), str: s, line: line}, nil
}

func (lx *lexer) scanString(b *strings.Builder) error {
	start := lx.pos
	lx.pos++
	for {
		if lx.pos >= len(lx.src) || lx.src[lx.pos] == '\n' {
			return syntaxError(lx.src[start:lx.pos], lx.line, "unterminated string literal")
		}
		c := lx.src[lx.pos]
		if c == '"' {
			lx.pos++
			return nil
		}
		if c == '\\' {
			lx.pos++
			e, err := lx.scanEscape()
			if err != nil {
				return err
			}
			b.WriteByte(e)
			continue
		}
		b.WriteByte(c)
		lx.pos++
	}
}
