package zffi

//
// CONSTANTS
//

const anonPrefix = "__anon_" // generated tag names for anonymous records and enums
const maxDeclDepth = 64      // nesting limit for records, parameter lists and declarator levels

// minRetSize is the smallest return buffer handed to libffi; small
// integral results are written as a full ffi_arg.
const minRetSize = 16

// token tags
const (
	tkError int = iota
	tkEOF
	tkIdent
	tkInt
	tkFloat
	tkChar
	tkString

	tkLParen
	tkRParen
	tkLBrace
	tkRBrace
	tkLBracket
	tkRBracket
	tkSemi
	tkComma
	tkColon
	tkQuery
	tkDot
	tkEllipsis
	tkArrow
	tkAssign
	tkPlus
	tkMinus
	tkStar
	tkSlash
	tkPercent
	tkAmp
	tkPipe
	tkCaret
	tkTilde
	tkBang
	tkLT
	tkGT
	tkLE
	tkGE
	tkEQ
	tkNE
	tkLAnd
	tkLOr
	tkLShift
	tkRShift
	tkDollar

	kwTypedef
	kwExtern
	kwStatic
	kwInline
	kwAuto
	kwRegister
	kwConst
	kwVolatile
	kwRestrict
	kwVoid
	kwBool
	kwChar
	kwShort
	kwInt
	kwLong
	kwSigned
	kwUnsigned
	kwFloat
	kwDouble
	kwStruct
	kwUnion
	kwEnum
	kwSizeof
	kwAlignof
	kwAttribute
	kwAsm
	kwExtension
	kwCdecl
	kwStdcall
	kwFastcall
	kwThiscall

	kwInt8
	kwInt16
	kwInt32
	kwInt64
	kwUint8
	kwUint16
	kwUint32
	kwUint64
	kwSizeT
	kwSsizeT
	kwIntptrT
	kwUintptrT
	kwPtrdiffT
	kwWcharT
	kwChar16T
	kwChar32T
	kwVaList
	kwTimeT

	tkLast
)

var tokNames = [...]string{"ERROR", "EOF", "IDENTIFIER",
	"INT_LITERAL", "FLOAT_LITERAL", "CHAR_LITERAL", "STRING_LITERAL",
	"(", ")", "{", "}", "[", "]", ";", ",", ":", "?", ".", "...", "->",
	"=", "+", "-", "*", "/", "%", "&", "|", "^", "~", "!",
	"<", ">", "<=", ">=", "==", "!=", "&&", "||", "<<", ">>", "$",
	"typedef", "extern", "static", "inline", "auto", "register",
	"const", "volatile", "restrict", "void", "bool", "char", "short", "int", "long",
	"signed", "unsigned", "float", "double", "struct", "union", "enum",
	"sizeof", "alignof", "__attribute__", "__asm__", "__extension__",
	"__cdecl", "__stdcall", "__fastcall", "__thiscall",
	"int8_t", "int16_t", "int32_t", "int64_t", "uint8_t", "uint16_t", "uint32_t", "uint64_t",
	"size_t", "ssize_t", "intptr_t", "uintptr_t", "ptrdiff_t", "wchar_t", "char16_t", "char32_t",
	"va_list", "time_t",
	"LAST",
}

// keywords maps every accepted spelling, including compiler extension
// aliases, onto its token tag.
var keywords = map[string]int{
	"typedef":           kwTypedef,
	"extern":            kwExtern,
	"static":            kwStatic,
	"inline":            kwInline,
	"__inline":          kwInline,
	"__inline__":        kwInline,
	"auto":              kwAuto,
	"register":          kwRegister,
	"const":             kwConst,
	"__const":           kwConst,
	"__const__":         kwConst,
	"volatile":          kwVolatile,
	"__volatile":        kwVolatile,
	"__volatile__":      kwVolatile,
	"restrict":          kwRestrict,
	"__restrict":        kwRestrict,
	"__restrict__":      kwRestrict,
	"void":              kwVoid,
	"bool":              kwBool,
	"_Bool":             kwBool,
	"char":              kwChar,
	"short":             kwShort,
	"int":               kwInt,
	"long":              kwLong,
	"signed":            kwSigned,
	"__signed":          kwSigned,
	"__signed__":        kwSigned,
	"unsigned":          kwUnsigned,
	"float":             kwFloat,
	"double":            kwDouble,
	"struct":            kwStruct,
	"union":             kwUnion,
	"enum":              kwEnum,
	"sizeof":            kwSizeof,
	"alignof":           kwAlignof,
	"_Alignof":          kwAlignof,
	"__alignof":         kwAlignof,
	"__alignof__":       kwAlignof,
	"__attribute__":     kwAttribute,
	"__attribute":       kwAttribute,
	"__asm__":           kwAsm,
	"__asm":             kwAsm,
	"asm":               kwAsm,
	"__extension__":     kwExtension,
	"__cdecl":           kwCdecl,
	"__stdcall":         kwStdcall,
	"__fastcall":        kwFastcall,
	"__thiscall":        kwThiscall,
	"int8_t":            kwInt8,
	"int16_t":           kwInt16,
	"int32_t":           kwInt32,
	"int64_t":           kwInt64,
	"uint8_t":           kwUint8,
	"uint16_t":          kwUint16,
	"uint32_t":          kwUint32,
	"uint64_t":          kwUint64,
	"size_t":            kwSizeT,
	"ssize_t":           kwSsizeT,
	"intptr_t":          kwIntptrT,
	"uintptr_t":         kwUintptrT,
	"ptrdiff_t":         kwPtrdiffT,
	"wchar_t":           kwWcharT,
	"char16_t":          kwChar16T,
	"char32_t":          kwChar32T,
	"va_list":           kwVaList,
	"__builtin_va_list": kwVaList,
	"__gnuc_va_list":    kwVaList,
	"time_t":            kwTimeT,
}

// punctuators, longest first within each leading byte.
var punctuators = []struct {
	text string
	tag  int
}{
	{"...", tkEllipsis},
	{"->", tkArrow},
	{"<<", tkLShift},
	{">>", tkRShift},
	{"<=", tkLE},
	{">=", tkGE},
	{"==", tkEQ},
	{"!=", tkNE},
	{"&&", tkLAnd},
	{"||", tkLOr},
	{"(", tkLParen},
	{")", tkRParen},
	{"{", tkLBrace},
	{"}", tkRBrace},
	{"[", tkLBracket},
	{"]", tkRBracket},
	{";", tkSemi},
	{",", tkComma},
	{":", tkColon},
	{"?", tkQuery},
	{".", tkDot},
	{"=", tkAssign},
	{"+", tkPlus},
	{"-", tkMinus},
	{"*", tkStar},
	{"/", tkSlash},
	{"%", tkPercent},
	{"&", tkAmp},
	{"|", tkPipe},
	{"^", tkCaret},
	{"~", tkTilde},
	{"!", tkBang},
	{"<", tkLT},
	{">", tkGT},
	{"$", tkDollar},
}

// attributes that carry no layout or calling meaning and are skipped.
var ignoredAttributes = map[string]bool{
	"deprecated":         true,
	"visibility":         true,
	"noreturn":           true,
	"nonnull":            true,
	"pure":               true,
	"const":              true,
	"malloc":             true,
	"warn_unused_result": true,
	"nothrow":            true,
	"leaf":               true,
	"format":             true,
	"unused":             true,
	"used":               true,
	"cold":               true,
	"hot":                true,
	"returns_nonnull":    true,
	"sentinel":           true,
	"access":             true,
	"alloc_size":         true,
	"may_alias":          true,
}

func tokName(tag int) string {
	if tag >= 0 && tag < len(tokNames) {
		return tokNames[tag]
	}
	return "?"
}
