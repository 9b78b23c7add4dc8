package zffi

import (
	"errors"
	"testing"
)

func Test_platformScalars(t *testing.T) {
	type sa struct{ size, align int }
	tests := []struct {
		arch, os string
		want     map[Kind]sa
	}{
		{"amd64", "linux", map[Kind]sa{
			KindChar: {1, 1}, KindShort: {2, 2}, KindInt: {4, 4}, KindLong: {8, 8},
			KindLongLong: {8, 8}, KindDouble: {8, 8}, KindLongDouble: {16, 16}, KindPointer: {8, 8},
		}},
		{"amd64", "windows", map[Kind]sa{
			KindLong: {4, 4}, KindLongDouble: {8, 8}, KindPointer: {8, 8},
		}},
		{"386", "linux", map[Kind]sa{
			KindLong: {4, 4}, KindLongLong: {8, 4}, KindDouble: {8, 4}, KindLongDouble: {12, 4}, KindPointer: {4, 4},
		}},
		{"arm", "linux", map[Kind]sa{
			KindLong: {4, 4}, KindLongLong: {8, 8}, KindLongDouble: {8, 8}, KindPointer: {4, 4},
		}},
		{"arm64", "darwin", map[Kind]sa{
			KindLong: {8, 8}, KindLongDouble: {8, 8},
		}},
		{"arm64", "linux", map[Kind]sa{
			KindLongDouble: {16, 16},
		}},
	}
	for _, tt := range tests {
		t.Run(tt.arch+"/"+tt.os, func(t *testing.T) {
			p := platformFor(tt.arch, tt.os)
			for k, want := range tt.want {
				size, align := p.scalar(k)
				if size != want.size || align != want.align {
					t.Errorf("%s: size/align = %d/%d, want %d/%d", k, size, align, want.size, want.align)
				}
			}
		})
	}
}

func Test_platformChar(t *testing.T) {
	tests := []struct {
		arch, os string
		signed   bool
	}{
		{"amd64", "linux", true},
		{"arm64", "linux", false},
		{"arm64", "darwin", true},
		{"arm", "linux", false},
		{"ppc64le", "linux", false},
	}
	for _, tt := range tests {
		if got := platformFor(tt.arch, tt.os).charSigned; got != tt.signed {
			t.Errorf("%s/%s char signed = %v, want %v", tt.arch, tt.os, got, tt.signed)
		}
	}
}

func declType(t *testing.T, st *State, decl, name string) *CType {
	t.Helper()
	if decl != "" {
		if err := st.Declare(decl); err != nil {
			t.Fatalf("Declare(%q) error = %v", decl, err)
		}
	}
	ct, err := st.ParseType(name)
	if err != nil {
		t.Fatalf("ParseType(%q) error = %v", name, err)
	}
	return ct
}

func TestRecord_layout(t *testing.T) {
	tests := []struct {
		name    string
		decl    string
		typ     string
		size    int
		align   int
		offsets map[string]int
	}{
		{"padding", "struct A { char c; int i; };", "struct A", 8, 4, map[string]int{"c": 0, "i": 4}},
		{"tail", "struct B { int i; char c; };", "struct B", 8, 4, map[string]int{"c": 4}},
		{"shorts", "struct C { char a; short b; char c; };", "struct C", 6, 2, map[string]int{"b": 2, "c": 4}},
		{"nested", "struct D { char c; struct { short s; char t; } in; int z; };", "struct D", 12, 4,
			map[string]int{"in": 2, "z": 8}},
		{"transparent", "struct E { int a; union { int b; float f; }; };", "struct E", 8, 4,
			map[string]int{"b": 4, "f": 4}},
		{"union", "union U { int i; char c[5]; };", "union U", 8, 4, map[string]int{"i": 0, "c": 0}},
		{"array member", "struct F { char tag; int v[3]; };", "struct F", 16, 4, map[string]int{"v": 4}},
		{"empty", "struct G { };", "struct G", 0, 1, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			st := NewState()
			ct := declType(t, st, tt.decl, tt.typ)
			if n, ok := ct.SizeOf(); !ok || n != tt.size {
				t.Errorf("sizeof(%s) = %d, %v, want %d", tt.typ, n, ok, tt.size)
			}
			if n, _ := ct.AlignOf(); n != tt.align {
				t.Errorf("alignof(%s) = %d, want %d", tt.typ, n, tt.align)
			}
			for f, want := range tt.offsets {
				if got, ok, err := st.OffsetOf(ct, f); err != nil || !ok || got != want {
					t.Errorf("offsetof(%s, %s) = %d, %v, %v, want %d", tt.typ, f, got, ok, err, want)
				}
			}
		})
	}
}

func TestRecord_flexible(t *testing.T) {
	st := NewState()
	ct := declType(t, st, "struct V { int n; int data[]; };", "struct V")
	if !ct.IsVariable() {
		t.Fatal("struct V is not variable-size")
	}
	if _, ok := ct.SizeOf(); ok {
		t.Error("sizeof(struct V) known without an element count")
	}
	if n, ok := ct.SizeOfN(3); !ok || n != 16 {
		t.Errorf("sizeof(struct V, 3) = %d, %v, want 16", n, ok)
	}
	if n, _, _ := st.OffsetOf(ct, "data"); n != 4 {
		t.Errorf("offsetof(struct V, data) = %d, want 4", n)
	}
	if ct.PassableByValue() {
		t.Error("variable-size struct passable by value")
	}
	vla := declType(t, st, "", "short[?]")
	if n, ok := vla.SizeOfN(5); !ok || n != 10 {
		t.Errorf("sizeof(short[?], 5) = %d, %v, want 10", n, ok)
	}
}

func TestRecord_incomplete(t *testing.T) {
	st := NewState()
	ct := declType(t, st, "struct H;", "struct H")
	if _, ok := ct.SizeOf(); ok {
		t.Error("opaque struct has a size")
	}
	if ct.IsComplete() || ct.PassableByValue() {
		t.Error("opaque struct reported complete")
	}
	if _, ok, err := st.OffsetOf(ct, "x"); ok || err != nil {
		t.Errorf("offsetof on opaque struct = %v, %v", ok, err)
	}
	if _, err := ct.NativeDesc(); err == nil {
		t.Error("opaque struct has a native descriptor")
	}
}

func TestRecord_selfReference(t *testing.T) {
	st := NewState()
	ct := declType(t, st, "struct N { int v; struct N *next; };", "struct N")
	ps := host.ptrSize
	if n, ok := ct.SizeOf(); !ok || n != alignUp(4, ps)+ps {
		t.Errorf("sizeof(struct N) = %d, %v, want %d", n, ok, alignUp(4, ps)+ps)
	}
	f, ok := ct.Record().Field("next")
	if !ok || f.Offset != alignUp(4, ps) {
		t.Errorf("offsetof(struct N, next) = %d, want %d", f.Offset, alignUp(4, ps))
	}
	if f.Type.Elem() != ct {
		t.Error("next does not point back to struct N")
	}

	tests := []struct {
		name   string
		fields func(self *CType) []Field
	}{
		{"by value", func(self *CType) []Field {
			return []Field{{Name: "a", Type: Scalar(KindInt)}, {Name: "s", Type: self}}
		}},
		{"only member", func(self *CType) []Field {
			return []Field{{Name: "s", Type: self}}
		}},
		{"transparent", func(self *CType) []Field {
			return []Field{{Type: self}}
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := &Record{Name: "S"}
			self := recordType(r)
			if err := r.setFields(tt.fields(self)); !errors.Is(err, ErrType) {
				t.Fatalf("setFields() error = %v, want a type error", err)
			}
			if r.Complete() || self.IsComplete() {
				t.Error("record complete after a failed definition")
			}
			if err := r.setFields([]Field{{Name: "p", Type: pointerTo(self)}}); err != nil {
				t.Fatalf("redefining with a pointer member: %v", err)
			}
			if n, ok := self.SizeOf(); !ok || n != host.ptrSize {
				t.Errorf("sizeof = %d, %v, want %d", n, ok, host.ptrSize)
			}
		})
	}
}

func kindsOf(d *NativeDesc) []NativeKind {
	out := make([]NativeKind, len(d.Elems))
	for i, e := range d.Elems {
		out[i] = e.Kind
	}
	return out
}

func TestNativeDesc_unions(t *testing.T) {
	tests := []struct {
		name string
		decl string
		typ  string
		want []NativeKind
	}{
		{"floats", "union F2 { float f; float g[2]; };", "union F2", []NativeKind{NatFloat, NatFloat}},
		{"doubles", "union D1 { double a; double b; };", "union D1", []NativeKind{NatDouble}},
		{"mixed words", "union M { int i; float f; };", "union M", []NativeKind{NatUInt32}},
		{"odd bytes", "union O { unsigned char c[3]; };", "union O", []NativeKind{NatUInt8, NatUInt8, NatUInt8}},
		{"shorts with pad", "union S { short s; char c[3]; };", "union S", []NativeKind{NatUInt16, NatUInt16}},
		{"nested float struct", "union N { struct { float x, y; } p; float v[2]; };", "union N", []NativeKind{NatFloat, NatFloat}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			st := NewState()
			ct := declType(t, st, tt.decl, tt.typ)
			d, err := ct.NativeDesc()
			if err != nil {
				t.Fatalf("NativeDesc(%s) error = %v", tt.typ, err)
			}
			got := kindsOf(d)
			if len(got) != len(tt.want) {
				t.Fatalf("NativeDesc(%s) elems = %v, want %v", tt.typ, got, tt.want)
			}
			for i := range got {
				if got[i] != tt.want[i] {
					t.Errorf("NativeDesc(%s) elems = %v, want %v", tt.typ, got, tt.want)
					break
				}
			}
			total := 0
			for _, e := range d.Elems {
				total += e.Size
			}
			if size, _ := ct.SizeOf(); total != size {
				t.Errorf("NativeDesc(%s) covers %d bytes, want %d", tt.typ, total, size)
			}
		})
	}
}

func TestNativeDesc_structFlattensArrays(t *testing.T) {
	st := NewState()
	ct := declType(t, st, "struct Q { int a[2]; short s; };", "struct Q")
	d, err := ct.NativeDesc()
	if err != nil {
		t.Fatal(err)
	}
	want := []NativeKind{NatSInt32, NatSInt32, NatSInt16}
	got := kindsOf(d)
	if len(got) != len(want) || got[0] != want[0] || got[2] != want[2] {
		t.Errorf("NativeDesc(struct Q) elems = %v, want %v", got, want)
	}
	if d.Size != 12 || d.Align != 4 {
		t.Errorf("NativeDesc(struct Q) size/align = %d/%d, want 12/4", d.Size, d.Align)
	}
}

func TestEnum_base(t *testing.T) {
	st := NewState()
	tests := []struct {
		decl string
		typ  string
		base Kind
		size int
	}{
		{"enum E1 { A1, B1 };", "enum E1", KindInt, 4},
		{"enum E2 { A2 = 0xffffffff };", "enum E2", KindUInt, 4},
		{"enum E3 { A3 = -1, B3 = 0x100000000 };", "enum E3", KindLongLong, 8},
	}
	for _, tt := range tests {
		ct := declType(t, st, tt.decl, tt.typ)
		if k := ct.Enum().kind(); k != tt.base {
			t.Errorf("%s base = %s, want %s", tt.typ, k, tt.base)
		}
		if n, _ := ct.SizeOf(); n != tt.size {
			t.Errorf("sizeof(%s) = %d, want %d", tt.typ, n, tt.size)
		}
	}
	if v, ok := st.Store().Lookup("enum E1").Type.Enum().Lookup("B1"); !ok || v != 1 {
		t.Errorf("E1.B1 = %d, %v", v, ok)
	}
}

func TestCType_IsSame(t *testing.T) {
	st := NewState()
	a := declType(t, st, "", "const int *")
	b := declType(t, st, "", "int *")
	if a.IsSame(b, false, false) {
		t.Error("const int * same as int * without ignoring qualifiers")
	}
	if !a.IsSame(b, true, false) {
		t.Error("const int * differs from int * ignoring qualifiers")
	}
	fn := declType(t, st, "", "int (int)")
	fp := declType(t, st, "", "int (*)(int)")
	if !fn.IsSame(fp, false, false) {
		t.Error("function type differs from pointer to it")
	}
	ref := declType(t, st, "", "int &")
	if !ref.IsSame(Scalar(KindInt), false, true) {
		t.Error("int & differs from int ignoring references")
	}
}
