//go:build !windows && !noffi && cgo

package zffi

/*
#cgo linux LDFLAGS: -ldl
#include <dlfcn.h>
#include <stdint.h>
#include <stdlib.h>

static uintptr_t zffi_dlopen(const char *path, int global) {
    return (uintptr_t)dlopen(path, RTLD_LAZY | (global ? RTLD_GLOBAL : RTLD_LOCAL));
}

static uintptr_t zffi_dlsym(uintptr_t h, const char *name) {
    dlerror();
    return (uintptr_t)dlsym((void*)h, name);
}

static int zffi_dlclose(uintptr_t h) {
    return dlclose((void*)h);
}
*/
import "C"

import (
	"errors"
	"unsafe"
)

// FFIAvailable reports whether this build can call native code.
const FFIAvailable = true

func dlErr() error {
	if s := C.dlerror(); s != nil {
		return errors.New(C.GoString(s))
	}
	return nil
}

func dlOpen(path string, global bool) (uintptr, error) {
	cs := C.CString(path)
	defer C.free(unsafe.Pointer(cs))
	g := C.int(0)
	if global {
		g = 1
	}
	h := C.zffi_dlopen(cs, g)
	if h == 0 {
		return 0, linkError(dlErr(), "cannot load library '%s'", path)
	}
	return uintptr(h), nil
}

func dlDefault() (uintptr, error) {
	h := C.zffi_dlopen(nil, 1)
	if h == 0 {
		return 0, linkError(dlErr(), "cannot open the default namespace")
	}
	return uintptr(h), nil
}

func dlSym(h uintptr, name string) (uintptr, error) {
	cs := C.CString(name)
	defer C.free(unsafe.Pointer(cs))
	a := C.zffi_dlsym(C.uintptr_t(h), cs)
	if a == 0 {
		return 0, linkError(dlErr(), "missing native symbol '%s'", name)
	}
	return uintptr(a), nil
}

func dlClose(h uintptr) error {
	if C.zffi_dlclose(C.uintptr_t(h)) != 0 {
		return linkError(dlErr(), "cannot unload library")
	}
	return nil
}

// nativeAlloc returns zeroed C memory; the second result is always nil.
func nativeAlloc(n int) (unsafe.Pointer, any) {
	if n < 1 {
		n = 1
	}
	return C.calloc(1, C.size_t(n)), nil
}

func nativeFree(p unsafe.Pointer) {
	if p != nil {
		C.free(p)
	}
}
