package zffi

import (
	"runtime"
	"sort"

	"golang.org/x/sys/cpu"
)

// platform holds the data model of one target: scalar widths, aggregate
// alignment quirks and the libffi ABI numbers used for calls.
type platform struct {
	arch       string
	goos       string
	ptrSize    int
	longSize   int
	llAlign    int // alignment of long long and double inside aggregates
	ldSize     int
	ldAlign    int
	charSigned bool
	bigEndian  bool
	hardFloat  bool
	wchar      Kind
}

var host = hostPlatform()

func hostPlatform() *platform {
	p := platformFor(runtime.GOARCH, runtime.GOOS)
	p.bigEndian = cpu.IsBigEndian
	if p.arch == "arm" {
		p.hardFloat = cpu.ARM.HasVFP && p.goos == "linux"
	}
	return p
}

// platformFor returns the data model for a GOARCH/GOOS pair.
func platformFor(goarch, goos string) *platform {
	p := &platform{
		arch: goarch, goos: goos,
		ptrSize: 8, longSize: 8, llAlign: 8,
		ldSize: 16, ldAlign: 16,
		charSigned: true, hardFloat: true,
		wchar: KindInt,
	}
	switch goarch {
	case "386":
		p.ptrSize, p.longSize, p.llAlign = 4, 4, 4
		p.ldSize, p.ldAlign = 12, 4
		if goos == "windows" {
			p.llAlign = 8
			p.ldSize, p.ldAlign = 8, 8
		}
	case "arm":
		p.ptrSize, p.longSize = 4, 4
		p.ldSize, p.ldAlign = 8, 8
		p.charSigned = false
		p.wchar = KindUInt
		p.hardFloat = goos == "linux"
	case "arm64":
		p.charSigned = goos == "darwin" || goos == "ios" || goos == "windows"
		p.wchar = KindUInt
		if goos == "darwin" || goos == "ios" || goos == "windows" {
			p.ldSize, p.ldAlign = 8, 8
		}
	case "riscv64":
		p.charSigned = false
	case "ppc64", "ppc64le":
		p.charSigned = false
		p.bigEndian = goarch == "ppc64"
	case "s390x":
		p.charSigned = false
		p.ldAlign = 8
		p.bigEndian = true
	case "mips64", "mips64le":
		p.bigEndian = goarch == "mips64"
	case "mips", "mipsle":
		p.ptrSize, p.longSize = 4, 4
		p.ldSize, p.ldAlign = 8, 8
		p.bigEndian = goarch == "mips"
	case "wasm":
		p.ptrSize, p.longSize = 4, 4
	}
	if goos == "windows" {
		p.longSize = 4
		p.wchar = KindUShort
		p.ldSize, p.ldAlign = 8, 8
	}
	return p
}

// scalar reports the size and alignment of a scalar kind.
func (p *platform) scalar(k Kind) (size, align int) {
	switch k {
	case KindVoid:
		return 0, 1
	case KindBool, KindChar, KindSChar, KindUChar:
		return 1, 1
	case KindShort, KindUShort:
		return 2, 2
	case KindInt, KindUInt, KindFloat, KindEnum:
		return 4, 4
	case KindLong, KindULong:
		if p.longSize == 8 {
			return 8, p.llAlign
		}
		return 4, 4
	case KindLongLong, KindULongLong, KindDouble:
		return 8, p.llAlign
	case KindLongDouble:
		return p.ldSize, p.ldAlign
	case KindPointer, KindRef, KindFunc:
		return p.ptrSize, p.ptrSize
	}
	return 0, 0
}

// sizeKind returns the unsigned or signed integer kind of the given byte width.
func (p *platform) sizeKind(bytes int, signed bool) Kind {
	var k Kind
	switch bytes {
	case 1:
		k = KindUChar
	case 2:
		k = KindUShort
	case 4:
		k = KindUInt
	default:
		k = KindULongLong
		if p.longSize == 8 {
			k = KindULong
		}
	}
	if signed {
		k = signedOf(k)
	}
	return k
}

// libffi ABI numbers. Values follow each target's ffitarget.h.
const (
	ffiSysV     = 1
	ffiUnix64   = 2
	ffiVFP      = 2
	ffiThiscall = 3
	ffiFastcall = 4
	ffiStdcall  = 5
)

// ffiABI maps a calling convention onto the libffi ABI number for this
// target. Conventions only differ on 32-bit x86; elsewhere they are ignored.
func (p *platform) ffiABI(conv CallConv) (int, bool) {
	switch p.arch {
	case "amd64":
		return ffiUnix64, p.goos != "windows"
	case "386":
		switch conv {
		case ConvStdcall:
			return ffiStdcall, true
		case ConvFastcall:
			return ffiFastcall, true
		case ConvThiscall:
			return ffiThiscall, true
		}
		return ffiSysV, true
	case "arm":
		if p.hardFloat {
			return ffiVFP, true
		}
		return ffiSysV, true
	case "arm64", "riscv64", "s390x":
		return ffiSysV, true
	}
	return 0, false
}

// abiFlags lists the capability flags answered by ABI.
func (p *platform) abiFlags() map[string]bool {
	f := map[string]bool{
		"32bit":  p.ptrSize == 4,
		"64bit":  p.ptrSize == 8,
		"le":     !p.bigEndian,
		"be":     p.bigEndian,
		"fpu":    p.arch != "arm" || p.hardFloat || (p == host && cpu.ARM.HasVFP),
		"hardfp": p.arch == "arm" && p.hardFloat,
		"softfp": p.arch == "arm" && !p.hardFloat,
		"eabi":   p.arch == "arm",
		"win":    p.goos == "windows",
		"elfv2":  p.arch == "ppc64le",
	}
	if p.arch == "386" {
		f["cdecl"] = true
		f["stdcall"] = true
		f["fastcall"] = true
		f["thiscall"] = true
	}
	return f
}

func (p *platform) archName() string {
	switch p.arch {
	case "amd64":
		return "x64"
	case "386":
		return "x86"
	case "ppc64", "ppc64le":
		return "ppc64"
	}
	return p.arch
}

func (p *platform) osName() string {
	switch p.goos {
	case "linux", "android":
		return "Linux"
	case "darwin", "ios":
		return "OSX"
	case "windows":
		return "Windows"
	case "freebsd", "openbsd", "netbsd", "dragonfly":
		return "BSD"
	case "solaris", "illumos", "aix":
		return "POSIX"
	}
	return "Other"
}

// ABI reports whether a named platform flag holds for this process.
func ABI(flag string) bool {
	return host.abiFlags()[flag]
}

// ABIFlags returns the names of all flags that hold, sorted.
func ABIFlags() []string {
	var out []string
	for k, v := range host.abiFlags() {
		if v {
			out = append(out, k)
		}
	}
	sort.Strings(out)
	return out
}

// Arch returns the target architecture name ("x64", "x86", "arm64", ...).
func Arch() string { return host.archName() }

// OS returns the target operating system family.
func OS() string { return host.osName() }

// PointerSize returns the native pointer width in bytes.
func PointerSize() int { return host.ptrSize }

// BigEndian reports the native byte order.
func BigEndian() bool { return host.bigEndian }
