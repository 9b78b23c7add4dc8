package zffi

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
)

func newTestState(t *testing.T, decls string) *State {
	t.Helper()
	st := NewState()
	if decls != "" {
		if err := st.Declare(decls); err != nil {
			t.Fatalf("Declare() error = %v", err)
		}
	}
	return st
}

func mustNew(t *testing.T, st *State, typ any, args ...any) *CData {
	t.Helper()
	cd, err := st.New(typ, args...)
	if err != nil {
		t.Fatalf("New(%v) error = %v", typ, err)
	}
	return cd
}

func mustIndex(t *testing.T, cd *CData, key any) any {
	t.Helper()
	v, err := cd.Index(key)
	if err != nil {
		t.Fatalf("Index(%v) error = %v", key, err)
	}
	return v
}

func TestState_NewStruct(t *testing.T) {
	st := newTestState(t, "struct P { int x, y; };")
	tests := []struct {
		name string
		args []any
		x, y int64
	}{
		{"zero", nil, 0, 0},
		{"mapping", []any{map[string]any{"x": 1, "y": 2}}, 1, 2},
		{"sequence", []any{[]any{3, 4}}, 3, 4},
		{"positional", []any{5, 6}, 5, 6},
		{"first member", []any{7}, 7, 0},
		{"partial mapping", []any{map[string]any{"y": 9}}, 0, 9},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := mustNew(t, st, "struct P", tt.args...)
			if got := mustIndex(t, p, "x"); got != tt.x {
				t.Errorf("x = %v, want %d", got, tt.x)
			}
			if got := mustIndex(t, p, "y"); got != tt.y {
				t.Errorf("y = %v, want %d", got, tt.y)
			}
		})
	}
	if n, ok, err := st.SizeOf("struct P"); err != nil || !ok || n != 8 {
		t.Errorf("SizeOf(struct P) = %d, %v, %v, want 8", n, ok, err)
	}
}

func TestState_NewCopy(t *testing.T) {
	st := newTestState(t, "struct P { int x, y; };")
	a := mustNew(t, st, "struct P", 1, 2)
	b := mustNew(t, st, "struct P", a)
	if err := a.SetIndex("x", 10); err != nil {
		t.Fatal(err)
	}
	if got := mustIndex(t, b, "x"); got != int64(1) {
		t.Errorf("copy shares storage: b.x = %v", got)
	}
}

func TestState_NewErrors(t *testing.T) {
	st := newTestState(t, "struct P { int x, y; }; union U { int i; float f; }; struct O;")
	ints := mustNew(t, st, "int[1]")
	tests := []struct {
		name string
		typ  string
		args []any
	}{
		{"unknown member", "struct P", []any{map[string]any{"z": 1}}},
		{"too many", "struct P", []any{1, 2, 3}},
		{"union two keys", "union U", []any{map[string]any{"i": 1, "f": 2.0}}},
		{"union two values", "union U", []any{1, 2}},
		{"opaque", "struct O", nil},
		{"function", "int(int)", nil},
		{"string to int", "int", []any{"abc"}},
		{"int to pointer", "int *", []any{5}},
		{"string too long", "char[3]", []any{"toolong"}},
		{"array overflow", "int[2]", []any{1, 2, 3}},
		{"vla without count", "int[?]", nil},
		{"scalar too many", "int", []any{1, 2}},
		{"pointer mismatch", "double *", []any{ints}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := st.New(tt.typ, tt.args...); !errors.Is(err, ErrType) {
				t.Errorf("New(%s, %v) error = %v, want a type error", tt.typ, tt.args, err)
			}
		})
	}
}

func TestState_NewUnion(t *testing.T) {
	st := newTestState(t, "union UI { int i; float f; };")
	u := mustNew(t, st, "union UI", map[string]any{"f": 1.0})
	if got := mustIndex(t, u, "f"); got != 1.0 {
		t.Errorf("f = %v, want 1", got)
	}
	if got := mustIndex(t, u, "i"); got != int64(0x3f800000) {
		t.Errorf("i = %#x, want 0x3f800000", got)
	}
}

func TestState_Arrays(t *testing.T) {
	st := NewState()
	a := mustNew(t, st, "int[4]", 7)
	for i := 0; i < 4; i++ {
		if got := mustIndex(t, a, i); got != int64(7) {
			t.Errorf("a[%d] = %v, want 7", i, got)
		}
	}
	if _, err := a.Index(4); !errors.Is(err, ErrType) {
		t.Errorf("a[4] error = %v, want out of range", err)
	}
	if _, err := a.Index(-1); !errors.Is(err, ErrType) {
		t.Errorf("a[-1] error = %v, want out of range", err)
	}
	if n, _ := a.Len(); n != 4 {
		t.Errorf("Len() = %d, want 4", n)
	}

	v := mustNew(t, st, "int[?]", 3, []any{1, 2, 3})
	if v.Size() != 12 {
		t.Errorf("Size() = %d, want 12", v.Size())
	}
	if n, _ := v.Len(); n != 3 {
		t.Errorf("Len() = %d, want 3", n)
	}
	if n, ok, _ := st.SizeOf(v); !ok || n != 12 {
		t.Errorf("SizeOf(vla) = %d, want 12", n)
	}
	if got := mustIndex(t, v, 2); got != int64(3) {
		t.Errorf("v[2] = %v, want 3", got)
	}

	m := mustNew(t, st, "int[2][3]", []any{[]any{1, 2, 3}, []any{4, 5, 6}})
	row, ok := mustIndex(t, m, 1).(*CData)
	if !ok {
		t.Fatal("m[1] is not a cdata view")
	}
	if got := mustIndex(t, row, 2); got != int64(6) {
		t.Errorf("m[1][2] = %v, want 6", got)
	}
	if err := row.SetIndex(0, 40); err != nil {
		t.Fatal(err)
	}
	row2 := mustIndex(t, m, 1).(*CData)
	if got := mustIndex(t, row2, 0); got != int64(40) {
		t.Errorf("write through view lost: m[1][0] = %v", got)
	}
}

func TestState_Flexible(t *testing.T) {
	st := newTestState(t, "struct V { int n; int data[]; };")
	v := mustNew(t, st, "struct V", 3, map[string]any{"n": 3, "data": []any{7, 8, 9}})
	if v.Size() != 16 {
		t.Errorf("Size() = %d, want 16", v.Size())
	}
	data, ok := mustIndex(t, v, "data").(*CData)
	if !ok {
		t.Fatal("data is not a cdata view")
	}
	if n, _ := data.Len(); n != 3 {
		t.Errorf("len(data) = %d, want 3", n)
	}
	if got := mustIndex(t, data, 2); got != int64(9) {
		t.Errorf("data[2] = %v, want 9", got)
	}
	if _, err := data.Index(3); err == nil {
		t.Error("data[3] succeeded, want out of range")
	}
	if n, ok, _ := st.SizeOf("struct V", 2); !ok || n != 12 {
		t.Errorf("SizeOf(struct V, 2) = %d, %v, want 12", n, ok)
	}
}

func TestState_Cast(t *testing.T) {
	st := NewState()
	tests := []struct {
		typ  string
		v    any
		want any
	}{
		{"unsigned char", 300, int64(44)},
		{"uint8_t", -1, int64(255)},
		{"int8_t", 200, int64(-56)},
		{"int", 2.9, int64(2)},
		{"int", -1.5, int64(-1)},
		{"double", 3, 3.0},
		{"float", 0.1, float64(float32(0.1))},
		{"bool", 5, true},
		{"short", 0x12345, int64(0x2345)},
	}
	for _, tt := range tests {
		t.Run(tt.typ, func(t *testing.T) {
			cd, err := st.Cast(tt.typ, tt.v)
			if err != nil {
				t.Fatalf("Cast(%s, %v) error = %v", tt.typ, tt.v, err)
			}
			got, err := cd.Value()
			if err != nil {
				t.Fatal(err)
			}
			if got != tt.want {
				t.Errorf("Cast(%s, %v) = %v (%T), want %v", tt.typ, tt.v, got, got, tt.want)
			}
		})
	}
}

func TestState_CastPointers(t *testing.T) {
	st := NewState()
	p, err := st.Cast("int *", 0x1000)
	if err != nil {
		t.Fatal(err)
	}
	if p.Pointer() != 0x1000 {
		t.Errorf("Pointer() = %#x, want 0x1000", p.Pointer())
	}
	q, err := st.Cast("char *", p)
	if err != nil {
		t.Fatalf("pointer to pointer cast: %v", err)
	}
	if q.Pointer() != 0x1000 {
		t.Errorf("char* Pointer() = %#x", q.Pointer())
	}
	arr := mustNew(t, st, "int[2]")
	n, err := st.Cast("intptr_t", arr)
	if err != nil {
		t.Fatal(err)
	}
	if v, _ := n.Value(); v != int64(arr.Addr()) {
		t.Errorf("Cast(intptr_t, arr) = %v, want %#x", v, arr.Addr())
	}
	if _, err := st.Cast("struct { int a; }", 1); !errors.Is(err, ErrType) {
		t.Errorf("aggregate cast error = %v", err)
	}
	null, err := st.Cast("void *", nil)
	if err != nil || !null.IsNull() {
		t.Errorf("Cast(void *, nil) = %v, %v", null, err)
	}
	if !st.Nullptr().IsNull() {
		t.Error("Nullptr() is not NULL")
	}
}

func TestState_Enums(t *testing.T) {
	st := newTestState(t, "enum Color { RED, GREEN = 5, BLUE };")
	c := mustNew(t, st, "enum Color", "GREEN")
	if v, _ := c.Value(); v != int64(5) {
		t.Errorf("GREEN = %v, want 5", v)
	}
	if err := c.Set("BLUE"); err != nil {
		t.Fatal(err)
	}
	if v, _ := c.Value(); v != int64(6) {
		t.Errorf("BLUE = %v, want 6", v)
	}
	if _, err := st.New("enum Color", "PURPLE"); !errors.Is(err, ErrType) {
		t.Errorf("unknown enumerator error = %v", err)
	}
}

func TestState_Boxed(t *testing.T) {
	st := NewState()
	u := mustNew(t, st, "uint64_t", 5)
	v, _ := u.Value()
	box, ok := v.(*CData)
	if !ok {
		t.Fatalf("uint64_t value = %T, want a boxed cdata", v)
	}
	if box.String() != "5ULL" {
		t.Errorf("boxed String() = %q, want 5ULL", box.String())
	}
	s := mustNew(t, st, "int64_t", -3)
	if s.String() != "-3LL" {
		t.Errorf("String() = %q, want -3LL", s.String())
	}
	if v, _ := s.Value(); v != int64(-3) {
		t.Errorf("int64_t value = %v, want -3", v)
	}
	i := mustNew(t, st, "int", 12)
	if i.String() != "12" {
		t.Errorf("String() = %q, want 12", i.String())
	}
	ld := mustNew(t, st, "long double", 2.5)
	if n, ok := st.ToNumber(ld); !ok || n != 2.5 {
		t.Errorf("ToNumber(long double) = %v, %v", n, ok)
	}
}

func TestCData_ValueBoxedIdentity(t *testing.T) {
	st := newTestState(t, "struct U { uint64_t a; };")
	tests := []struct {
		name string
		typ  string
		init any
		same bool
	}{
		{"uint64", "uint64_t", 5, true},
		{"const uint64", "const unsigned long long", 6, true},
		{"long double", "long double", 2.5, host.ldSize > 8},
		{"int64", "int64_t", 7, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cd := mustNew(t, st, tt.typ, tt.init)
			v1, err := cd.Value()
			if err != nil {
				t.Fatal(err)
			}
			v2, _ := cd.Value()
			if got := v1 == any(cd) && v2 == any(cd); got != tt.same {
				t.Errorf("Value() returns the cdata itself = %v, want %v", got, tt.same)
			}
		})
	}

	s := mustNew(t, st, "struct U", uint64(9))
	a1, _ := s.Index("a")
	a2, _ := s.Index("a")
	b1, ok := a1.(*CData)
	if !ok {
		t.Fatalf("uint64_t member = %T, want a boxed cdata", a1)
	}
	if a1 == a2 || b1 == s {
		t.Error("member read did not return a fresh copy")
	}
	if b1.String() != "9ULL" {
		t.Errorf("member String() = %q, want 9ULL", b1.String())
	}
}

func TestState_Pointers(t *testing.T) {
	st := newTestState(t, "struct P { int x, y; };")
	s := mustNew(t, st, "struct P", 1, 2)
	sp := mustNew(t, st, "struct P *", s)
	if got := mustIndex(t, sp, "y"); got != int64(2) {
		t.Errorf("sp->y = %v, want 2", got)
	}
	if err := sp.SetIndex("x", 11); err != nil {
		t.Fatal(err)
	}
	if got := mustIndex(t, s, "x"); got != int64(11) {
		t.Errorf("write through pointer lost: s.x = %v", got)
	}
	if got := mustIndex(t, sp, 0).(*CData); got.Type().Kind() != KindRecord {
		t.Errorf("sp[0] type = %s", got.Type())
	}

	null := mustNew(t, st, "struct P *")
	if _, err := null.Index("x"); err == nil {
		t.Error("indexing a NULL pointer succeeded")
	}

	x := mustNew(t, st, "int", 4)
	px, err := st.AddressOf(x)
	if err != nil {
		t.Fatal(err)
	}
	if err := px.SetIndex(0, 9); err != nil {
		t.Fatal(err)
	}
	if v, _ := x.Value(); v != int64(9) {
		t.Errorf("x = %v after write through &x, want 9", v)
	}

	r := mustNew(t, st, "int &", x)
	if v, _ := r.Value(); v != int64(9) {
		t.Errorf("ref value = %v, want 9", v)
	}
	if err := r.Set(21); err != nil {
		t.Fatal(err)
	}
	if v, _ := x.Value(); v != int64(21) {
		t.Errorf("x = %v after write through reference, want 21", v)
	}

	ci := mustNew(t, st, "const int[2]", 1)
	if err := ci.SetIndex(0, 3); !errors.Is(err, ErrType) {
		t.Errorf("write to const element error = %v", err)
	}
}

func TestState_Views(t *testing.T) {
	st := newTestState(t, "struct P { int x, y; }; struct L { struct P a; int b; };")
	l := mustNew(t, st, "struct L", map[string]any{"a": map[string]any{"x": 1}, "b": 3})
	a, ok := mustIndex(t, l, "a").(*CData)
	if !ok {
		t.Fatal("l.a is not a cdata view")
	}
	if err := a.SetIndex("y", 5); err != nil {
		t.Fatal(err)
	}
	again := mustIndex(t, l, "a").(*CData)
	if got := mustIndex(t, again, "y"); got != int64(5) {
		t.Errorf("l.a.y = %v, want 5", got)
	}
	if got := mustIndex(t, l, "b"); got != int64(3) {
		t.Errorf("l.b = %v, want 3", got)
	}
	if err := l.SetIndex("a", []any{8, 9}); err != nil {
		t.Fatal(err)
	}
	if got := mustIndex(t, again, "x"); got != int64(8) {
		t.Errorf("l.a.x = %v after aggregate store, want 8", got)
	}
	if _, err := l.Index("missing"); !errors.Is(err, ErrType) {
		t.Errorf("missing member error = %v", err)
	}
	if got := l.Fields(); len(got) != 2 || got[0] != "a" || got[1] != "b" {
		t.Errorf("Fields() = %v", got)
	}
}

func TestState_StringCopyFill(t *testing.T) {
	st := NewState()
	buf := mustNew(t, st, "char[16]")
	if err := st.Copy(buf, "abc"); err != nil {
		t.Fatal(err)
	}
	if s, _ := st.String(buf); s != "abc" {
		t.Errorf("String() = %q, want abc", s)
	}
	if err := st.Fill(buf, 2, 'z'); err != nil {
		t.Fatal(err)
	}
	if s, _ := st.String(buf); s != "zzc" {
		t.Errorf("String() after Fill = %q, want zzc", s)
	}
	if s, _ := st.String(buf, 5); s != "zzc\x00\x00" {
		t.Errorf("String(buf, 5) = %q", s)
	}

	src := mustNew(t, st, "char[4]", "xyz")
	if err := st.Copy(buf, src, 4); err != nil {
		t.Fatal(err)
	}
	if s, _ := st.String(buf); s != "xyz" {
		t.Errorf("String() after cdata Copy = %q, want xyz", s)
	}
	if err := st.Copy(buf, src); err == nil {
		t.Error("Copy from cdata without a length succeeded")
	}

	hello := mustNew(t, st, "char[8]", "hello")
	if s, _ := st.String(hello); s != "hello" {
		t.Errorf("String(char[8]) = %q, want hello", s)
	}
	exact := mustNew(t, st, "char[5]", "hello")
	if s, _ := st.String(exact); s != "hello" {
		t.Errorf("String(char[5]) = %q, want hello", s)
	}

	cp := mustNew(t, st, "const char *", "text")
	if s, _ := st.String(cp); s != "text" {
		t.Errorf("String(const char *) = %q, want text", s)
	}
	if _, err := st.String(st.Nullptr()); err == nil {
		t.Error("String(NULL) succeeded")
	}
	if _, err := st.String("plain"); err == nil {
		t.Error("String of a host string succeeded")
	}
}

func TestState_TypeQueries(t *testing.T) {
	st := newTestState(t, "struct P { int x, y; }; struct O;")
	s := mustNew(t, st, "struct P")
	sp := mustNew(t, st, "struct P *", s)
	tests := []struct {
		typ  string
		v    any
		want bool
	}{
		{"struct P", s, true},
		{"struct P", sp, true},
		{"const struct P", s, true},
		{"int", s, false},
		{"struct P", 1, false},
	}
	for _, tt := range tests {
		if got, err := st.IsType(tt.typ, tt.v); err != nil || got != tt.want {
			t.Errorf("IsType(%s, %v) = %v, %v, want %v", tt.typ, tt.v, got, err, tt.want)
		}
	}
	if n, ok, _ := st.AlignOf("struct P"); !ok || n != 4 {
		t.Errorf("AlignOf(struct P) = %d, %v", n, ok)
	}
	if _, ok, _ := st.SizeOf("struct O"); ok {
		t.Error("SizeOf(struct O) known")
	}
	if _, _, err := st.OffsetOf("int", "x"); !errors.Is(err, ErrType) {
		t.Errorf("OffsetOf(int) error = %v", err)
	}
	ct, err := st.TypeOf(s)
	if err != nil || ct.String() != "struct P" {
		t.Errorf("TypeOf(s) = %v, %v", ct, err)
	}
	if _, err := st.TypeOf(3); !errors.Is(err, ErrType) {
		t.Errorf("TypeOf(3) error = %v", err)
	}
}

func TestState_ToNumber(t *testing.T) {
	st := NewState()
	tests := []struct {
		v    any
		want any
		ok   bool
	}{
		{"0x10", int64(16), true},
		{"2.5", 2.5, true},
		{"nope", nil, false},
		{7, int64(7), true},
		{mustNew(t, st, "double", 1.25), 1.25, true},
		{mustNew(t, st, "short", -4), int64(-4), true},
		{true, int64(1), true},
	}
	for _, tt := range tests {
		got, ok := st.ToNumber(tt.v)
		if ok != tt.ok || got != tt.want {
			t.Errorf("ToNumber(%v) = %v, %v, want %v, %v", tt.v, got, ok, tt.want, tt.ok)
		}
	}
}

func TestState_Metatype(t *testing.T) {
	st := newTestState(t, "struct V2 { double x, y; }; struct Plain { int a; };")
	var gcCalls atomic.Int32
	var target atomic.Pointer[CData]
	ct, err := st.Metatype("struct V2", map[string]any{
		"__add": HostFunc(func(args ...any) (any, error) {
			a, b := args[0].(*CData), args[1].(*CData)
			ax, _ := a.Index("x")
			bx, _ := b.Index("x")
			return st.New("struct V2", ax.(float64)+bx.(float64), 0)
		}),
		"__index": map[string]any{"kind": "vector"},
		"__len": HostFunc(func(args ...any) (any, error) {
			return 2, nil
		}),
		"__tostring": HostFunc(func(args ...any) (any, error) {
			return "V2", nil
		}),
		"__eq": HostFunc(func(args ...any) (any, error) {
			return true, nil
		}),
		"__gc": HostFunc(func(args ...any) (any, error) {
			if args[0] == any(target.Load()) {
				gcCalls.Add(1)
			}
			return nil, nil
		}),
	})
	if err != nil {
		t.Fatalf("Metatype() error = %v", err)
	}
	if ct.Kind() != KindRecord {
		t.Fatalf("Metatype() returned %s", ct)
	}
	if _, err := st.Metatype("struct V2", map[string]any{}); !errors.Is(err, ErrType) {
		t.Errorf("second Metatype() error = %v", err)
	}
	if _, err := st.Metatype("int", map[string]any{}); !errors.Is(err, ErrType) {
		t.Errorf("Metatype(int) error = %v", err)
	}
	if _, err := st.Metatype("struct Plain", map[string]any{"__bogus": HostFunc(nil)}); !errors.Is(err, ErrType) {
		t.Errorf("unknown metamethod error = %v", err)
	}

	a := mustNew(t, st, "struct V2", 1.5, 2.0)
	target.Store(a)
	b := mustNew(t, st, "struct V2", 2.5, 1.0)
	sum, err := st.Arith("+", a, b)
	if err != nil {
		t.Fatalf("Arith(+) error = %v", err)
	}
	if got := mustIndex(t, sum.(*CData), "x"); got != 4.0 {
		t.Errorf("sum.x = %v, want 4", got)
	}
	if got := mustIndex(t, a, "kind"); got != "vector" {
		t.Errorf("a.kind = %v, want vector", got)
	}
	if n, _ := a.Len(); n != 2 {
		t.Errorf("Len() = %d, want 2", n)
	}
	if a.String() != "V2" {
		t.Errorf("String() = %q, want V2", a.String())
	}
	if eq, _ := st.Compare("==", a, b); !eq {
		t.Error("__eq not used")
	}
	if _, err := a.Pairs(false); err == nil {
		t.Error("Pairs() without __pairs succeeded")
	}
	a.Free()
	if n := gcCalls.Load(); n != 1 {
		t.Errorf("__gc called %d times, want 1", n)
	}
	a.Free()
	if gcCalls.Load() != 1 {
		t.Errorf("__gc called again on a second Free")
	}
}

func TestState_GC(t *testing.T) {
	st := NewState()
	var calls int
	cd := mustNew(t, st, "int", 1)
	st.GC(cd, func(args ...any) (any, error) {
		if args[0] != cd {
			t.Error("finalizer got another value")
		}
		calls++
		return nil, nil
	})
	cd.Free()
	if calls != 1 {
		t.Errorf("finalizer ran %d times, want 1", calls)
	}

	cleared := mustNew(t, st, "int", 1)
	st.GC(cleared, func(args ...any) (any, error) {
		calls++
		return nil, nil
	})
	st.GC(cleared, nil)
	cleared.Free()
	if calls != 1 {
		t.Error("cleared finalizer ran")
	}

	panicky := mustNew(t, st, "int", 1)
	st.GC(panicky, func(args ...any) (any, error) { panic("boom") })
	panicky.Free()
}

func TestState_GC_replace(t *testing.T) {
	st := NewState()
	var got []string
	mark := func(name string) HostFunc {
		return func(args ...any) (any, error) {
			got = append(got, name)
			return nil, nil
		}
	}
	tests := []struct {
		name  string
		typ   string
		set   []HostFunc
		want  []string
		armed bool
	}{
		{"owned once", "int", []HostFunc{mark("a")}, []string{"a"}, true},
		{"owned replaced", "int[2]", []HostFunc{mark("a"), mark("b")}, []string{"b"}, true},
		{"owned set twice", "double", []HostFunc{mark("a"), mark("a")}, []string{"a"}, true},
		{"owned cleared", "int", []HostFunc{mark("a"), nil}, nil, true},
		{"view", "", []HostFunc{mark("v"), mark("w")}, []string{"w"}, true},
		{"view cleared", "", []HostFunc{nil}, nil, false},
	}
	backing := mustNew(t, st, "int", 3)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got = nil
			var cd *CData
			if tt.typ == "" {
				cd = st.view(backing.typ, backing.ptr, backing)
			} else {
				cd = mustNew(t, st, tt.typ)
			}
			for _, fn := range tt.set {
				if r := st.GC(cd, fn); r != cd {
					t.Fatal("GC() returned another value")
				}
			}
			if cd.armed != tt.armed {
				t.Errorf("armed = %v, want %v", cd.armed, tt.armed)
			}
			cd.Free()
			cd.Free()
			if strings.Join(got, ",") != strings.Join(tt.want, ",") {
				t.Errorf("finalizers ran %v, want %v", got, tt.want)
			}
		})
	}
	if v, err := backing.Value(); err != nil || v != int64(3) {
		t.Errorf("backing value after view Free() = %v, %v", v, err)
	}
}

func TestState_DeclareFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "decls.h")
	if err := os.WriteFile(path, []byte("typedef struct { int a; } T;\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	st := NewState()
	if err := st.DeclareFile(path); err != nil {
		t.Fatalf("DeclareFile() error = %v", err)
	}
	if st.Store().Lookup("T") == nil {
		t.Error("T not declared")
	}
	if err := st.DeclareFile(filepath.Join(dir, "missing.h")); err == nil {
		t.Error("DeclareFile(missing) succeeded")
	}
}

func TestState_WithBase(t *testing.T) {
	base := NewState()
	if err := base.Declare("typedef unsigned short word;"); err != nil {
		t.Fatal(err)
	}
	a := NewState(WithBase(base.Store()))
	b := NewState(WithBase(base.Store()))
	if err := a.Declare("typedef word pair[2];"); err != nil {
		t.Fatalf("Declare on a layered store: %v", err)
	}
	if n, ok, _ := a.SizeOf("pair"); !ok || n != 4 {
		t.Errorf("SizeOf(pair) = %d, %v", n, ok)
	}
	if b.Store().Lookup("pair") != nil {
		t.Error("declaration leaked between layered states")
	}
	if base.Store().Lookup("pair") != nil {
		t.Error("declaration leaked into the base store")
	}
}
