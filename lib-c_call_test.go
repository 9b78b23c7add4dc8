package zffi

import (
	"errors"
	"strings"
	"testing"
	"unsafe"
)

func Test_varargType(t *testing.T) {
	st := NewState()
	if err := st.Declare("struct R { int a; }; enum Small { S1 };"); err != nil {
		t.Fatal(err)
	}
	tests := []struct {
		name string
		v    any
		want string
	}{
		{"nil", nil, "void *"},
		{"int", 1, "int"},
		{"bool", true, "int"},
		{"uint32", uint32(1), "unsigned int"},
		{"int64", int64(1), "long long"},
		{"uint64", uint64(1), "unsigned long long"},
		{"float32", float32(1), "double"},
		{"float64", 1.5, "double"},
		{"string", "s", "const char *"},
		{"short cdata", mustNew(t, st, "short", 1), "int"},
		{"float cdata", mustNew(t, st, "float", 1), "double"},
		{"array cdata", mustNew(t, st, "char[4]"), "char *"},
		{"record cdata", mustNew(t, st, "struct R"), "struct R *"},
		{"enum cdata", mustNew(t, st, "enum Small"), "int"},
		{"long long cdata", mustNew(t, st, "long long", 1), "long long"},
		{"const int cdata", mustNew(t, st, "const int", 1), "int"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ct, err := varargType(tt.v)
			if err != nil {
				t.Fatalf("varargType(%v) error = %v", tt.v, err)
			}
			if got := ct.String(); got != tt.want {
				t.Errorf("varargType(%v) = %s, want %s", tt.v, got, tt.want)
			}
		})
	}
	for _, v := range []any{HostFunc(nil), map[string]any{}, struct{}{}} {
		if _, err := varargType(v); !errors.Is(err, ErrType) {
			t.Errorf("varargType(%T) error = %v, want a type error", v, err)
		}
	}
}

func callable(t *testing.T, st *State, typ string, addr int) *CData {
	t.Helper()
	if _, ok := host.ffiABI(ConvDefault); !ok {
		t.Skipf("no call abi on %s", host.arch)
	}
	cd, err := st.Cast(typ, addr)
	if err != nil {
		t.Fatalf("Cast(%s) error = %v", typ, err)
	}
	return cd
}

func TestPrepareCall_variadic(t *testing.T) {
	st := NewState()
	fp := callable(t, st, "int (*)(const char *, ...)", 1)

	f, err := st.prepareCall(fp, []any{"fmt"})
	if err != nil {
		t.Fatalf("prepareCall() error = %v", err)
	}
	f.release()
	first := fp.vdesc
	if first == nil || first.nfixed != 1 || len(first.params) != 1 {
		t.Fatalf("descriptor without extras = %+v", first)
	}

	f, err = st.prepareCall(fp, []any{"fmt", 1, 2.5, "s"})
	if err != nil {
		t.Fatalf("prepareCall() error = %v", err)
	}
	d := fp.vdesc
	if len(d.params) != d.nfixed+3 || len(d.args) != 4 {
		t.Errorf("descriptor has %d params, %d native args, want 4", len(d.params), len(d.args))
	}
	if got := d.params[2].String(); got != "double" {
		t.Errorf("extra #2 passed as %s, want double", got)
	}
	if f.desc != d {
		t.Error("frame does not use the scratch descriptor")
	}
	f.release()

	f, err = st.prepareCall(fp, []any{"other", 7, 0.5, "t"})
	if err != nil {
		t.Fatal(err)
	}
	f.release()
	if fp.vdesc != d {
		t.Error("descriptor rebuilt for the same extra argument types")
	}

	f, err = st.prepareCall(fp, []any{"fmt", int64(1)})
	if err != nil {
		t.Fatal(err)
	}
	f.release()
	if fp.vdesc == d {
		t.Error("descriptor reused for different extra argument types")
	}
	fp.Free()
}

func TestPrepareCall_variadicView(t *testing.T) {
	st := NewState()
	fp := callable(t, st, "int (*)(const char *, ...)", 1)
	nf := st.view(fp.typ, fp.ptr, fp)
	if nf.owned {
		t.Fatal("view owns its memory")
	}

	var prev *callDesc
	for i, extra := range []any{1, 2.5, "s", int64(3)} {
		f, err := st.prepareCall(nf, []any{"fmt", extra})
		if err != nil {
			t.Fatalf("call #%d: prepareCall() error = %v", i, err)
		}
		f.release()
		if nf.vdesc == nil || nf.vdesc == prev {
			t.Fatalf("call #%d: descriptor not rebuilt for %T", i, extra)
		}
		if !nf.armed {
			t.Fatalf("call #%d: finalizer not armed", i)
		}
		prev = nf.vdesc
	}
	nf.Free()
	if nf.vdesc != nil {
		t.Error("Free() kept the scratch descriptor")
	}
	fp.Free()
}

func TestPrepareCall_errors(t *testing.T) {
	st := NewState()
	if err := st.Declare("struct O;"); err != nil {
		t.Fatal(err)
	}
	fp := callable(t, st, "int (*)(int, double)", 1)
	tests := []struct {
		name string
		args []any
		kind error
		text string
	}{
		{"too few", []any{1}, ErrType, "expected 2, got 1"},
		{"too many", []any{1, 2.0, 3}, ErrType, "expected 2, got 3"},
		{"bad argument", []any{1, "x"}, ErrType, "bad argument #2"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := st.prepareCall(fp, tt.args)
			if !errors.Is(err, tt.kind) {
				t.Fatalf("prepareCall(%v) error = %v", tt.args, err)
			}
			if !strings.Contains(err.Error(), tt.text) {
				t.Errorf("error %q does not mention %q", err, tt.text)
			}
		})
	}

	null := callable(t, st, "void (*)(void)", 0)
	if _, err := st.prepareCall(null, nil); err == nil || !strings.Contains(err.Error(), "NULL") {
		t.Errorf("NULL call error = %v", err)
	}
	notfn := mustNew(t, st, "int", 1)
	if _, err := st.prepareCall(notfn, nil); !errors.Is(err, ErrType) {
		t.Errorf("calling an int: %v", err)
	}
	opaque := callable(t, st, "void (*)(struct O)", 1)
	if _, err := st.prepareCall(opaque, []any{nil}); !errors.Is(err, ErrCallSetup) {
		t.Errorf("opaque by value error = %v, want a call setup error", err)
	}
	vret := callable(t, st, "struct O (*)(void)", 1)
	if _, err := st.prepareCall(vret, nil); !errors.Is(err, ErrCallSetup) {
		t.Errorf("opaque result error = %v, want a call setup error", err)
	}
}

func TestPrepareCall_argumentSlots(t *testing.T) {
	st := NewState()
	if err := st.Declare("struct P { int x, y; };"); err != nil {
		t.Fatal(err)
	}
	fp := callable(t, st, "void (*)(struct P, short, const char *)", 1)
	f, err := st.prepareCall(fp, []any{map[string]any{"y": 5}, 300, "abc"})
	if err != nil {
		t.Fatal(err)
	}
	defer f.release()
	slot := func(i int) *CData {
		return st.view(f.desc.params[i], addrPtr(loadAddr(unsafe.Add(f.avalue, i*host.ptrSize))), nil)
	}
	if got, _ := slot(0).Index("y"); got != int64(5) {
		t.Errorf("struct argument y = %v, want 5", got)
	}
	if got, _ := slot(1).Value(); got != int64(300) {
		t.Errorf("short argument = %v, want 300", got)
	}
	if s, _ := st.String(slot(2)); s != "abc" {
		t.Errorf("string argument = %q, want abc", s)
	}
}

func Test_readResult(t *testing.T) {
	st := NewState()
	buf := mustNew(t, st, "char[16]")
	storeUint(buf.ptr, host.ptrSize, 0xffffff85)
	v, err := st.readResult(Scalar(KindSChar), buf.ptr)
	if err != nil {
		t.Fatal(err)
	}
	if v != int64(-123) {
		t.Errorf("narrowed result = %v, want -123", v)
	}
	if v, _ := st.readResult(Scalar(KindVoid), buf.ptr); v != nil {
		t.Errorf("void result = %v", v)
	}
	if v, _ := st.readResult(Scalar(KindBool), buf.ptr); v != true {
		t.Errorf("bool result = %v", v)
	}
}
