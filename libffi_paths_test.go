package zffi

import (
	"os"
	"path/filepath"
	"testing"
)

func Test_libffiVersion(t *testing.T) {
	tests := []struct {
		name string
		want string
		ok   bool
	}{
		{"libffi.so.8", "8.0.0", true},
		{"libffi.so.8.1.2", "8.1.2", true},
		{"libffi.so.6.0", "6.0.0", true},
		{"libffi.8.dylib", "8.0.0", true},
		{"libffi.so", "", false},
		{"libffi.so.bogus", "", false},
		{"libz.so.1", "", false},
	}
	for _, tt := range tests {
		v, ok := libffiVersion(tt.name)
		if ok != tt.ok {
			t.Errorf("libffiVersion(%s) ok = %v, want %v", tt.name, ok, tt.ok)
			continue
		}
		if ok && v.String() != tt.want {
			t.Errorf("libffiVersion(%s) = %s, want %s", tt.name, v, tt.want)
		}
	}
}

func Test_discoverLibffi(t *testing.T) {
	a, b := t.TempDir(), t.TempDir()
	touch := func(dir, name string) string {
		p := filepath.Join(dir, name)
		if err := os.WriteFile(p, nil, 0o644); err != nil {
			t.Fatal(err)
		}
		return p
	}
	v6 := touch(a, "libffi.so.6")
	v8 := touch(b, "libffi.so.8.1.0")
	v7 := touch(a, "libffi.so.7.1")
	touch(a, "libffi.so.junk")
	touch(b, "libz.so.1")

	got := discoverLibffi([]string{a, b, a})
	want := []string{v8, v7, v6}
	if len(got) != len(want) {
		t.Fatalf("discoverLibffi() = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("discoverLibffi()[%d] = %s, want %s", i, got[i], want[i])
		}
	}
}

func Test_libffiCandidates(t *testing.T) {
	t.Setenv("ZFFI_LIBFFI", "/opt/ffi/libffi.so")
	c := libffiCandidates()
	if len(c) == 0 || c[0] != "/opt/ffi/libffi.so" {
		t.Fatalf("override not tried first: %v", c)
	}
	if c[len(c)-1] != libffiNames[len(libffiNames)-1] {
		t.Errorf("bare names not tried last: %v", c)
	}
}
