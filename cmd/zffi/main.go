package main

import (
	"flag"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"zffi"
)

// Version is set at link time.
var Version = "dev"

// typeList collects repeated -t flags.
type typeList []string

func (t *typeList) String() string { return strings.Join(*t, ",") }

func (t *typeList) Set(s string) error {
	*t = append(*t, s)
	return nil
}

type options struct {
	file    string
	decls   string
	types   typeList
	json    bool
	query   string
	svgOut  string
	watch   bool
	abi     bool
	lib     string
	call    string
	args    []string
	debug   bool
	version bool
}

func main() {
	var o options

	flag.StringVar(&o.file, "f", "", "declaration file")
	flag.StringVar(&o.decls, "e", "", "declaration string")
	flag.Var(&o.types, "t", "type to report (repeatable)")
	flag.BoolVar(&o.json, "j", false, "report as JSON")
	flag.StringVar(&o.query, "q", "", "jq filter applied to the JSON report")
	flag.StringVar(&o.svgOut, "svg", "", "write a layout diagram to this SVG file")
	flag.BoolVar(&o.watch, "w", false, "watch the declaration file and report on change")
	flag.BoolVar(&o.abi, "abi", false, "print platform ABI information")
	flag.StringVar(&o.lib, "l", "", "library for -call (default: the process namespace)")
	flag.StringVar(&o.call, "call", "", "declared function to call with the remaining arguments")
	flag.BoolVar(&o.debug, "d", false, "debug logging")
	flag.BoolVar(&o.version, "v", false, "display the version")

	flag.Parse()
	o.args = flag.Args()

	if o.version {
		fmt.Println("zffi", Version)
		return
	}

	logger := zap.NewNop()
	if o.debug {
		var err error
		if logger, err = zap.NewDevelopment(); err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
	}
	defer logger.Sync()

	if err := run(o, logger, os.Stdout); err != nil {
		fmt.Fprintln(os.Stderr, "zffi:", err)
		os.Exit(1)
	}
	if o.watch {
		if o.file == "" {
			fmt.Fprintln(os.Stderr, "zffi: -w requires -f")
			os.Exit(2)
		}
		if err := watch(o, logger, os.Stdout); err != nil {
			fmt.Fprintln(os.Stderr, "zffi:", err)
			os.Exit(1)
		}
	}
}

// run declares the inputs in a fresh state and produces every requested
// output once.
func run(o options, logger *zap.Logger, w io.Writer) error {
	st := zffi.NewState(zffi.WithLogger(logger))
	defer st.Close()

	if o.file != "" {
		if err := st.DeclareFile(o.file); err != nil {
			return err
		}
	}
	if o.decls != "" {
		if err := st.Declare(o.decls); err != nil {
			return err
		}
	}

	if o.abi {
		printABI(w)
	}

	if len(o.types) > 0 {
		reps, err := buildReports(st, o.types)
		if err != nil {
			return err
		}
		switch {
		case o.query != "":
			if err := queryReports(w, reps, o.query); err != nil {
				return err
			}
		case o.json:
			if err := writeJSON(w, reps); err != nil {
				return err
			}
		default:
			writeText(w, reps)
		}
		if o.svgOut != "" {
			if err := writeSVGFile(o.svgOut, reps); err != nil {
				return err
			}
		}
	}

	if o.call != "" {
		return callFunc(st, o, w)
	}
	return nil
}

func printABI(w io.Writer) {
	fmt.Fprintf(w, "arch:    %s\n", zffi.Arch())
	fmt.Fprintf(w, "os:      %s (%s)\n", zffi.OS(), zffi.KernelRelease())
	fmt.Fprintf(w, "pointer: %d bytes\n", zffi.PointerSize())
	fmt.Fprintf(w, "flags:   %s\n", strings.Join(zffi.ABIFlags(), " "))
	if p, err := zffi.LibffiPath(); err == nil {
		fmt.Fprintf(w, "libffi:  %s\n", p)
	} else {
		fmt.Fprintf(w, "libffi:  unavailable\n")
	}
}

// callArg turns a command line word into a host value: integers, floats,
// or the string itself.
func callArg(s string) any {
	if i, err := strconv.ParseInt(s, 0, 64); err == nil {
		return i
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return f
	}
	return s
}

func callFunc(st *zffi.State, o options, w io.Writer) error {
	lib, err := st.Load(o.lib, false)
	if err != nil {
		return err
	}
	v, err := lib.Index(o.call)
	if err != nil {
		return err
	}
	fn, ok := v.(*zffi.CData)
	if !ok {
		return fmt.Errorf("'%s' is not a function", o.call)
	}
	args := make([]any, len(o.args))
	for i, a := range o.args {
		args[i] = callArg(a)
	}
	res, err := fn.Call(args...)
	if err != nil {
		return err
	}
	if res != nil {
		fmt.Fprintln(w, res)
	}
	if n := st.Errno(); n != 0 {
		fmt.Fprintf(w, "errno: %d (%s)\n", n, zffi.ErrnoText(n))
	}
	return nil
}
