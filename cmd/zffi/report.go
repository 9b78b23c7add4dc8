package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	svg "github.com/ajstarks/svgo"
	"github.com/itchyny/gojq"

	"zffi"
)

type fieldReport struct {
	Name   string `json:"name"`
	Type   string `json:"type"`
	Offset int    `json:"offset"`
	Size   int    `json:"size"`
	Align  int    `json:"align"`
}

// typeReport is the layout of one type. Size and Align are nil when
// unknown.
type typeReport struct {
	Type   string        `json:"type"`
	Kind   string        `json:"kind"`
	Size   *int          `json:"size"`
	Align  *int          `json:"align"`
	Native string        `json:"native,omitempty"`
	Fields []fieldReport `json:"fields,omitempty"`
}

func intPtr(n int, ok bool) *int {
	if !ok {
		return nil
	}
	return &n
}

func buildReports(st *zffi.State, names []string) ([]typeReport, error) {
	var out []typeReport
	for _, n := range names {
		ct, err := st.ParseType(n)
		if err != nil {
			return nil, err
		}
		r := typeReport{
			Type:  ct.String(),
			Kind:  ct.Kind().String(),
			Size:  intPtr(ct.SizeOf()),
			Align: intPtr(ct.AlignOf()),
		}
		if d, err := ct.NativeDesc(); err == nil {
			r.Native = nativeString(d)
		}
		if ct.Kind() == zffi.KindRecord && ct.Record().Complete() {
			for _, f := range ct.Record().Fields() {
				fs, _ := f.Type.SizeOf()
				fa, _ := f.Type.AlignOf()
				r.Fields = append(r.Fields, fieldReport{
					Name: f.Name, Type: f.Type.String(), Offset: f.Offset, Size: fs, Align: fa,
				})
			}
		}
		out = append(out, r)
	}
	return out, nil
}

// nativeString renders a descriptor as "struct{sint32,double}".
func nativeString(d *zffi.NativeDesc) string {
	if d.Kind != zffi.NatStruct {
		return d.Kind.String()
	}
	s := "struct{"
	for i, e := range d.Elems {
		if i > 0 {
			s += ","
		}
		s += nativeString(e)
	}
	return s + "}"
}

func sizeText(p *int) string {
	if p == nil {
		return "?"
	}
	return fmt.Sprint(*p)
}

func writeText(w io.Writer, reps []typeReport) {
	for _, r := range reps {
		fmt.Fprintf(w, "%s: size %s align %s", r.Type, sizeText(r.Size), sizeText(r.Align))
		if r.Native != "" {
			fmt.Fprintf(w, " native %s", r.Native)
		}
		fmt.Fprintln(w)
		for _, f := range r.Fields {
			fmt.Fprintf(w, "  %4d  %-12s %s (%d)\n", f.Offset, f.Name, f.Type, f.Size)
		}
	}
}

func writeJSON(w io.Writer, reps []typeReport) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(reps)
}

// queryReports runs a jq filter over the JSON form of the reports.
func queryReports(w io.Writer, reps []typeReport, query string) error {
	q, err := gojq.Parse(query)
	if err != nil {
		return fmt.Errorf("invalid jq query: %w", err)
	}
	b, err := json.Marshal(reps)
	if err != nil {
		return err
	}
	var input []any
	if err := json.Unmarshal(b, &input); err != nil {
		return err
	}
	iter := q.Run(input)
	for {
		v, ok := iter.Next()
		if !ok {
			break
		}
		if err, ok := v.(error); ok {
			return err
		}
		out, err := json.Marshal(v)
		if err != nil {
			return err
		}
		fmt.Fprintln(w, string(out))
	}
	return nil
}

const (
	svgScale  = 12 // pixels per byte
	svgRow    = 28
	svgMargin = 10
	svgLabel  = 180
)

var fieldColours = []string{"#8dd3c7", "#ffffb3", "#bebada", "#fb8072", "#80b1d3", "#fdb462"}

// writeSVG draws one row per type with a box per member placed at its
// byte offset; padding shows as the gaps.
func writeSVG(w io.Writer, reps []typeReport) {
	width := 0
	for _, r := range reps {
		if r.Size != nil && *r.Size > width {
			width = *r.Size
		}
	}
	if width == 0 {
		width = 8
	}
	cw := svgLabel + width*svgScale + 2*svgMargin
	ch := len(reps)*(svgRow+svgMargin) + svgMargin
	canvas := svg.New(w)
	canvas.Start(cw, ch)
	for i, r := range reps {
		y := svgMargin + i*(svgRow+svgMargin)
		canvas.Text(svgMargin, y+svgRow/2+4, r.Type, "font-family:monospace;font-size:11px")
		x0 := svgMargin + svgLabel
		if r.Size != nil {
			canvas.Rect(x0, y, *r.Size*svgScale, svgRow, "fill:none;stroke:#999")
		}
		for j, f := range r.Fields {
			style := "fill:" + fieldColours[j%len(fieldColours)] + ";stroke:#333"
			canvas.Rect(x0+f.Offset*svgScale, y, max(f.Size, 1)*svgScale, svgRow, style)
			canvas.Text(x0+f.Offset*svgScale+2, y+svgRow/2+4, f.Name, "font-family:monospace;font-size:9px")
		}
	}
	canvas.End()
}

func writeSVGFile(path string, reps []typeReport) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	writeSVG(f, reps)
	return f.Close()
}
