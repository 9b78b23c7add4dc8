package main

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"go.uber.org/zap"

	"zffi"
)

func testReports(t *testing.T, types ...string) []typeReport {
	t.Helper()
	st := zffi.NewState()
	if err := st.Declare("struct P { char c; int n; }; struct O;"); err != nil {
		t.Fatal(err)
	}
	reps, err := buildReports(st, types)
	if err != nil {
		t.Fatalf("buildReports() error = %v", err)
	}
	return reps
}

func Test_buildReports(t *testing.T) {
	reps := testReports(t, "struct P", "struct O", "int[3]")
	p := reps[0]
	if p.Kind != "record" {
		t.Errorf("struct P kind = %q, want record", p.Kind)
	}
	if p.Size == nil || *p.Size != 8 || *p.Align != 4 {
		t.Errorf("struct P size/align = %v/%v", p.Size, p.Align)
	}
	if len(p.Fields) != 2 || p.Fields[1].Name != "n" || p.Fields[1].Offset != 4 {
		t.Errorf("struct P fields = %+v", p.Fields)
	}
	if p.Native != "struct{sint8,sint32}" && p.Native != "struct{uint8,sint32}" {
		t.Errorf("struct P native = %s", p.Native)
	}
	if o := reps[1]; o.Size != nil || o.Fields != nil || o.Native != "" {
		t.Errorf("opaque report = %+v", o)
	}
	if a := reps[2]; a.Size == nil || *a.Size != 12 {
		t.Errorf("int[3] report = %+v", a)
	}

	st := zffi.NewState()
	if _, err := buildReports(st, []string{"struct"}); err == nil {
		t.Error("buildReports(struct) succeeded")
	}
}

func Test_writeText(t *testing.T) {
	var b bytes.Buffer
	writeText(&b, testReports(t, "struct P", "struct O"))
	out := b.String()
	for _, want := range []string{"struct P: size 8 align 4", "     4  n", "struct O: size ? align ?"} {
		if !strings.Contains(out, want) {
			t.Errorf("text report missing %q:\n%s", want, out)
		}
	}
}

func Test_writeJSON(t *testing.T) {
	var b bytes.Buffer
	if err := writeJSON(&b, testReports(t, "struct P")); err != nil {
		t.Fatal(err)
	}
	var got []map[string]any
	if err := json.Unmarshal(b.Bytes(), &got); err != nil {
		t.Fatalf("invalid JSON: %v\n%s", err, b.String())
	}
	if len(got) != 1 || got[0]["type"] != "struct P" || got[0]["size"] != 8.0 {
		t.Errorf("JSON report = %v", got)
	}
}

func Test_queryReports(t *testing.T) {
	reps := testReports(t, "struct P", "int")
	tests := []struct {
		query string
		want  string
	}{
		{".[0].fields[].name", "\"c\"\n\"n\"\n"},
		{"map(.size) | add", "12\n"},
		{"[.[] | select(.fields == null) | .type]", "[\"int\"]\n"},
	}
	for _, tt := range tests {
		var b bytes.Buffer
		if err := queryReports(&b, reps, tt.query); err != nil {
			t.Fatalf("queryReports(%q) error = %v", tt.query, err)
		}
		if b.String() != tt.want {
			t.Errorf("queryReports(%q) = %q, want %q", tt.query, b.String(), tt.want)
		}
	}
	if err := queryReports(&bytes.Buffer{}, reps, ".[ "); err == nil {
		t.Error("bad query accepted")
	}
	if err := queryReports(&bytes.Buffer{}, reps, ".[0] | error(\"boom\")"); err == nil {
		t.Error("query error not reported")
	}
}

func Test_writeSVG(t *testing.T) {
	path := filepath.Join(t.TempDir(), "layout.svg")
	if err := writeSVGFile(path, testReports(t, "struct P", "struct O")); err != nil {
		t.Fatal(err)
	}
	b, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	svg := string(b)
	if !strings.Contains(svg, "<svg") || !strings.Contains(svg, "</svg>") {
		t.Fatalf("not an svg document:\n%s", svg)
	}
	if strings.Count(svg, "<rect") != 3 {
		t.Errorf("want one outline and two member boxes, got %d rects", strings.Count(svg, "<rect"))
	}
}

func Test_callArg(t *testing.T) {
	tests := []struct {
		in   string
		want any
	}{
		{"42", int64(42)},
		{"0x10", int64(16)},
		{"-1", int64(-1)},
		{"2.5", 2.5},
		{"hello", "hello"},
	}
	for _, tt := range tests {
		if got := callArg(tt.in); got != tt.want {
			t.Errorf("callArg(%q) = %v (%T), want %v", tt.in, got, got, tt.want)
		}
	}
}

func Test_run(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "decls.h")
	if err := os.WriteFile(file, []byte("typedef struct { short a; short b; } pair;\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	o := options{file: file, types: typeList{"pair"}, abi: true}
	var b bytes.Buffer
	if err := run(o, zap.NewNop(), &b); err != nil {
		t.Fatalf("run() error = %v", err)
	}
	out := b.String()
	if !strings.Contains(out, "size 4 align 2") || !strings.Contains(out, "pointer:") {
		t.Errorf("run() output:\n%s", out)
	}

	o = options{decls: "int 3;"}
	if err := run(o, zap.NewNop(), &b); err == nil {
		t.Error("run() accepted a bad declaration")
	}
}

func Test_typeList(t *testing.T) {
	var l typeList
	_ = l.Set("int")
	_ = l.Set("struct P")
	if l.String() != "int,struct P" {
		t.Errorf("String() = %q", l.String())
	}
}
