//go:build windows || noffi || !cgo

package zffi

import "unsafe"

// FFIAvailable reports whether this build can call native code.
const FFIAvailable = false

func errNoFFI() error {
	return linkError(nil, "native libraries are not available in this build")
}

func dlOpen(path string, global bool) (uintptr, error) { return 0, errNoFFI() }
func dlDefault() (uintptr, error)                    { return 0, errNoFFI() }
func dlSym(h uintptr, name string) (uintptr, error)  { return 0, errNoFFI() }
func dlClose(h uintptr) error                        { return nil }

// LibffiPath reports the libffi shared object in use.
func LibffiPath() (string, error) { return "", errNoFFI() }

func (d *callDesc) prepare() error {
	return callSetupError("native calls are not available in this build")
}

func (d *callDesc) release() {}

func ffiCall(d *callDesc, fn uintptr, ret, avalue unsafe.Pointer, errno *int) {}

func (st *State) newCallback(fn *Function, host HostFunc) (*closureData, error) {
	return nil, callSetupError("callbacks are not available in this build")
}

// nativeAlloc returns zeroed Go memory aligned to 8 bytes. The second
// result keeps the memory reachable and must be retained by the caller.
func nativeAlloc(n int) (unsafe.Pointer, any) {
	words := (n + 15) / 8
	if words < 2 {
		words = 2
	}
	buf := make([]uint64, words)
	return unsafe.Pointer(&buf[0]), buf
}

func nativeFree(p unsafe.Pointer) {}
