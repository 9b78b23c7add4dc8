package zffi

import (
	"errors"
	"testing"
)

func scanAll(t *testing.T, src string) []token {
	t.Helper()
	lx := newLexer(src)
	var out []token
	for {
		tk, err := lx.next()
		if err != nil {
			t.Fatalf("scan %q: %v", src, err)
		}
		if tk.tag == tkEOF {
			return out
		}
		out = append(out, tk)
	}
}

func Test_lexerTags(t *testing.T) {
	tests := []struct {
		name string
		src  string
		want []int
	}{
		{"declaration", "int *p;", []int{kwInt, tkStar, tkIdent, tkSemi}},
		{"ellipsis", "(...)", []int{tkLParen, tkEllipsis, tkRParen}},
		{"comments", "/* a\nb */ x // y\n z", []int{tkIdent, tkIdent}},
		{"preprocessor", "#define X 1\nint", []int{kwInt}},
		{"shifts", "a<<b>=c>>d", []int{tkIdent, tkLShift, tkIdent, tkGE, tkIdent, tkRShift, tkIdent}},
		{"string", `"ab" "cd"`, []int{tkString}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := scanAll(t, tt.src)
			if len(got) != len(tt.want) {
				t.Fatalf("scan %q: got %d tokens, want %d", tt.src, len(got), len(tt.want))
			}
			for i := range got {
				if got[i].tag != tt.want[i] {
					t.Errorf("token %d of %q = %s, want %s", i, tt.src, tokName(got[i].tag), tokName(tt.want[i]))
				}
			}
		})
	}
}

func Test_lexerNumbers(t *testing.T) {
	tests := []struct {
		src  string
		kind Kind
		want any
	}{
		{"42", KindInt, int64(42)},
		{"0x10", KindInt, int64(16)},
		{"010", KindInt, int64(8)},
		{"0b101", KindInt, int64(5)},
		{"7u", KindUInt, int64(7)},
		{"5ll", KindLongLong, int64(5)},
		{"1ULL", KindULongLong, int64(1)},
		{"0xffffffff", KindUInt, int64(0xffffffff)},
		{"2147483648", KindLongLong, int64(2147483648)},
		{"1.5", KindDouble, 1.5},
		{"2.5f", KindFloat, 2.5},
		{"0x1p4", KindDouble, 16.0},
		{"'A'", KindInt, int64(65)},
		{"'\\n'", KindInt, int64(10)},
		{"'\\x41'", KindInt, int64(65)},
	}
	for _, tt := range tests {
		t.Run(tt.src, func(t *testing.T) {
			if tt.src == "2147483648" && host.longSize == 8 {
				tt.kind = KindLong
			}
			got := scanAll(t, tt.src)
			if len(got) != 1 {
				t.Fatalf("scan %q: got %d tokens", tt.src, len(got))
			}
			if got[0].lit.Kind != tt.kind {
				t.Errorf("kind of %q = %s, want %s", tt.src, got[0].lit.Kind, tt.kind)
			}
			if v := got[0].lit.Value(); v != tt.want {
				t.Errorf("value of %q = %v (%T), want %v", tt.src, v, v, tt.want)
			}
		})
	}
}

func Test_lexerStringEscapes(t *testing.T) {
	got := scanAll(t, `"a\tb\101" "\x43"`)
	if len(got) != 1 || got[0].str != "a\tbAC" {
		t.Fatalf("string = %q, want %q", got[0].str, "a\tbAC")
	}
}

func Test_lexerErrors(t *testing.T) {
	for _, src := range []string{
		"0x", "1.5q", "12abc", "'ab'", "''", `"open`, "/* open", "@", "'\\400'", "99999999999999999999999",
	} {
		t.Run(src, func(t *testing.T) {
			lx := newLexer(src)
			var err error
			for err == nil {
				var tk token
				tk, err = lx.next()
				if err == nil && tk.tag == tkEOF {
					t.Fatalf("scan %q: expected an error", src)
				}
			}
			if !errors.Is(err, ErrSyntax) {
				t.Errorf("scan %q: error %v is not a syntax error", src, err)
			}
		})
	}
}

func Test_lexerLines(t *testing.T) {
	got := scanAll(t, "a\n/* x\n y */ b\n\"s\"")
	want := []int{1, 3, 4}
	for i, tk := range got {
		if tk.line != want[i] {
			t.Errorf("token %d on line %d, want %d", i, tk.line, want[i])
		}
	}
}
