package zffi

import "sort"

// LibHelp documents one builtin for a host's help system.
type LibHelp struct {
	In     string
	Out    string
	Action string
}

var slhelp = map[string]LibHelp{
	"cdef":      {"string", "nil", "Parses C declarations and installs them."},
	"new":       {"type[,count][,init...]", "cdata", "Allocates a zero filled native value and initializes it."},
	"cast":      {"type,value", "cdata", "Converts a value, permitting pointer and integer reinterpretation."},
	"typeof":    {"string|cdata", "ctype", "Returns the C type named by a string or held by a cdata."},
	"sizeof":    {"type[,count]", "number|nil", "Returns the size in bytes, or nil when it is unknown."},
	"alignof":   {"type", "number|nil", "Returns the alignment in bytes."},
	"offsetof":  {"type,field", "number|nil", "Returns the byte offset of a struct or union member."},
	"istype":    {"type,value", "bool", "Reports whether a value is a cdata of the given type."},
	"metatype":  {"type,map", "ctype", "Attaches operator overrides to a struct or union type, once."},
	"gc":        {"cdata,function|nil", "cdata", "Sets or clears the finalizer of a cdata."},
	"load":      {"string[,bool]", "library", "Loads a shared library, globally when the flag is set."},
	"string":    {"cdata[,count]", "string", "Reads a NUL terminated string, or count bytes."},
	"copy":      {"cdata,cdata|string[,count]", "nil", "Copies bytes between native buffers."},
	"fill":      {"cdata,count[,byte]", "nil", "Fills count bytes with a value, zero by default."},
	"addressof": {"cdata", "cdata", "Returns a pointer to the storage of a cdata."},
	"tonumber":  {"value", "number|nil", "Converts a scalar cdata or numeric string to a number."},
	"eval":      {"string", "number", "Folds a C constant expression."},
	"errno":     {"[number]", "number", "Returns the errno of the last native call and optionally sets it."},
	"abi":       {"string", "bool", "Reports a platform ABI flag."},
	"callback":  {"type,function", "cdata", "Wraps a host function as a native function pointer."},
	"free":      {"cdata", "nil", "Releases a cdata immediately."},
}

var categories = map[string][]string{
	"declarations": {"cdef", "typeof", "eval"},
	"values":       {"new", "cast", "istype", "tonumber", "addressof", "free", "gc", "metatype"},
	"layout":       {"sizeof", "alignof", "offsetof", "abi"},
	"memory":       {"string", "copy", "fill"},
	"native":       {"load", "callback", "errno"},
}

// Help returns the help entry of a builtin.
func Help(name string) (LibHelp, bool) {
	h, ok := slhelp[name]
	return h, ok
}

// Categories returns builtin names grouped by category, each sorted.
func Categories() map[string][]string {
	out := make(map[string][]string, len(categories))
	for k, v := range categories {
		names := append([]string(nil), v...)
		sort.Strings(names)
		out[k] = names
	}
	return out
}

// sizeResult maps an unknown size to nil.
func sizeResult(n int, ok bool, err error) (any, error) {
	if err != nil || !ok {
		return nil, err
	}
	return int64(n), nil
}

func asHostFunc(v any) (HostFunc, bool) {
	switch f := v.(type) {
	case HostFunc:
		return f, true
	case func(...any) (any, error):
		return HostFunc(f), true
	}
	return nil, false
}

func intArg(v any) int {
	n, _ := hostInt(v)
	return int(n)
}

// Builtins returns the host binding table of st: one function per
// builtin, with arguments validated before use.
func (st *State) Builtins() map[string]HostFunc {
	lib := make(map[string]HostFunc, len(slhelp))

	lib["cdef"] = func(args ...any) (any, error) {
		if ok, err := expect_args("cdef", args, 1, "1", "string"); !ok {
			return nil, err
		}
		return nil, st.Declare(args[0].(string))
	}

	lib["new"] = func(args ...any) (any, error) {
		if len(args) == 0 {
			return nil, typeError("invalid arguments in new: type expected")
		}
		if ok, err := expect_args("new", args[:1], 1, "1", "type"); !ok {
			return nil, err
		}
		return st.New(args[0], args[1:]...)
	}

	lib["cast"] = func(args ...any) (any, error) {
		if ok, err := expect_args("cast", args, 1, "2", "type", "any"); !ok {
			return nil, err
		}
		return st.Cast(args[0], args[1])
	}

	lib["typeof"] = func(args ...any) (any, error) {
		if len(args) == 0 {
			return nil, typeError("invalid arguments in typeof: type expected")
		}
		if ok, err := expect_args("typeof", args[:1], 1, "1", "type"); !ok {
			return nil, err
		}
		return st.TypeOf(args[0], args[1:]...)
	}

	lib["sizeof"] = func(args ...any) (any, error) {
		if ok, err := expect_args("sizeof", args, 2, "1", "type", "2", "type", "number"); !ok {
			return nil, err
		}
		if len(args) == 2 {
			return sizeResult(st.SizeOf(args[0], intArg(args[1])))
		}
		return sizeResult(st.SizeOf(args[0]))
	}

	lib["alignof"] = func(args ...any) (any, error) {
		if ok, err := expect_args("alignof", args, 1, "1", "type"); !ok {
			return nil, err
		}
		return sizeResult(st.AlignOf(args[0]))
	}

	lib["offsetof"] = func(args ...any) (any, error) {
		if ok, err := expect_args("offsetof", args, 1, "2", "type", "string"); !ok {
			return nil, err
		}
		return sizeResult(st.OffsetOf(args[0], args[1].(string)))
	}

	lib["istype"] = func(args ...any) (any, error) {
		if ok, err := expect_args("istype", args, 1, "2", "type", "any"); !ok {
			return nil, err
		}
		return st.IsType(args[0], args[1])
	}

	lib["metatype"] = func(args ...any) (any, error) {
		if ok, err := expect_args("metatype", args, 1, "2", "type", "map"); !ok {
			return nil, err
		}
		return st.Metatype(args[0], args[1].(map[string]any))
	}

	lib["gc"] = func(args ...any) (any, error) {
		if ok, err := expect_args("gc", args, 1, "2", "cdata", "function|nil"); !ok {
			return nil, err
		}
		fn, _ := asHostFunc(args[1])
		return st.GC(args[0].(*CData), fn), nil
	}

	lib["load"] = func(args ...any) (any, error) {
		if ok, err := expect_args("load", args, 2, "1", "string", "2", "string", "bool"); !ok {
			return nil, err
		}
		global := len(args) == 2 && args[1].(bool)
		return st.Load(args[0].(string), global)
	}

	lib["string"] = func(args ...any) (any, error) {
		if ok, err := expect_args("string", args, 2, "1", "cdata", "2", "cdata", "number"); !ok {
			return nil, err
		}
		if len(args) == 2 {
			return st.String(args[0], intArg(args[1]))
		}
		return st.String(args[0])
	}

	lib["copy"] = func(args ...any) (any, error) {
		if ok, err := expect_args("copy", args, 2, "2", "cdata", "cdata|string", "3", "cdata", "cdata|string", "number"); !ok {
			return nil, err
		}
		if len(args) == 3 {
			return nil, st.Copy(args[0], args[1], intArg(args[2]))
		}
		return nil, st.Copy(args[0], args[1])
	}

	lib["fill"] = func(args ...any) (any, error) {
		if ok, err := expect_args("fill", args, 2, "2", "cdata", "number", "3", "cdata", "number", "number"); !ok {
			return nil, err
		}
		if len(args) == 3 {
			return nil, st.Fill(args[0], intArg(args[1]), intArg(args[2]))
		}
		return nil, st.Fill(args[0], intArg(args[1]))
	}

	lib["addressof"] = func(args ...any) (any, error) {
		if ok, err := expect_args("addressof", args, 1, "1", "cdata"); !ok {
			return nil, err
		}
		return st.AddressOf(args[0].(*CData))
	}

	lib["tonumber"] = func(args ...any) (any, error) {
		if ok, err := expect_args("tonumber", args, 1, "1", "any"); !ok {
			return nil, err
		}
		v, _ := st.ToNumber(args[0])
		return v, nil
	}

	lib["eval"] = func(args ...any) (any, error) {
		if len(args) == 0 {
			return nil, typeError("invalid arguments in eval: string expected")
		}
		if ok, err := expect_args("eval", args[:1], 1, "1", "string"); !ok {
			return nil, err
		}
		return st.Eval(args[0].(string), args[1:]...)
	}

	lib["errno"] = func(args ...any) (any, error) {
		if ok, err := expect_args("errno", args, 2, "0", "1", "number"); !ok {
			return nil, err
		}
		if len(args) == 1 {
			return int64(st.Errno(intArg(args[0]))), nil
		}
		return int64(st.Errno()), nil
	}

	lib["abi"] = func(args ...any) (any, error) {
		if ok, err := expect_args("abi", args, 1, "1", "string"); !ok {
			return nil, err
		}
		return ABI(args[0].(string)), nil
	}

	lib["callback"] = func(args ...any) (any, error) {
		if ok, err := expect_args("callback", args, 1, "2", "type", "function"); !ok {
			return nil, err
		}
		fn, _ := asHostFunc(args[1])
		return st.Callback(args[0], fn)
	}

	lib["free"] = func(args ...any) (any, error) {
		if ok, err := expect_args("free", args, 1, "1", "cdata"); !ok {
			return nil, err
		}
		args[0].(*CData).Free()
		return nil, nil
	}

	return lib
}
