package zffi

import (
	"reflect"
	"strconv"
	"strings"
)

// argKind names the host category of an argument as builtin signatures
// spell it.
func argKind(v any) string {
	switch v.(type) {
	case nil:
		return "nil"
	case string:
		return "string"
	case bool:
		return "bool"
	case *CData:
		return "cdata"
	case *CType:
		return "ctype"
	case *Library:
		return "library"
	case map[string]any:
		return "map"
	case []any:
		return "list"
	case HostFunc, func(...any) (any, error):
		return "function"
	}
	if _, ok := hostLiteral(v); ok {
		return "number"
	}
	return reflect.TypeOf(v).String()
}

// argMatches reports whether v satisfies one type in a signature. A type
// may list alternatives separated by '|'.
func argMatches(v any, want string) bool {
	k := argKind(v)
	for _, w := range strings.Split(want, "|") {
		switch {
		case w == "any", w == k:
			return true
		case w == "type" && (k == "string" || k == "ctype" || k == "cdata"):
			return true
		}
	}
	return false
}

/* expect_args()
 *  validates builtin arguments against one or more signature variants.
 *  types holds, per variant, the argument count followed by that many
 *  type names.
 */
func expect_args(name string, args []any, variants int, types ...string) (bool, error) {

	next := 0
	var tryNext bool
	var typeErrs strings.Builder

	for v := 0; v < variants; v++ {

		nc, err := strconv.Atoi(types[next])
		if err != nil {
			return false, typeError("internal error in %s signature", name)
		}
		if len(args) != nc {
			next += nc + 1
			tryNext = true
			continue
		}

		next++
		tryNext = false
		for n := 0; n < nc; n++ {
			if !argMatches(args[n], types[next+n]) {
				typeErrs.WriteString("\nargument " + strconv.Itoa(n+1) + " - " + types[next+n] +
					" expected (got " + argKind(args[n]) + ")")
				tryNext = true
				break
			}
		}
		next += nc
		if !tryNext {
			break
		}
	}

	if tryNext {
		return false, typeError("invalid arguments in %s%s", name, typeErrs.String())
	}
	return true, nil
}
