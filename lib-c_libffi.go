//go:build !windows && !noffi && cgo

package zffi

/*
#cgo linux LDFLAGS: -ldl
#include <dlfcn.h>
#include <errno.h>
#include <stdint.h>
#include <stdlib.h>

// libffi is opened at run time, so its structures are mirrored here.
typedef struct zffi_type_s {
    size_t size;
    unsigned short alignment;
    unsigned short type;
    struct zffi_type_s **elements;
} zffi_type;

#define ZFFI_TYPE_STRUCT  13
#define ZFFI_CIF_SIZE     128
#define ZFFI_CLOSURE_SIZE 128

typedef int (*zffi_prep_cif_t)(void*, int, unsigned int, void*, void**);
typedef int (*zffi_prep_cif_var_t)(void*, int, unsigned int, unsigned int, void*, void**);
typedef void (*zffi_call_t)(void*, void*, void*, void**);
typedef void* (*zffi_closure_alloc_t)(size_t, void**);
typedef void (*zffi_closure_free_t)(void*);
typedef int (*zffi_prep_closure_t)(void*, void*, void (*)(void*, void*, void**, void*), void*, void*);

extern void zffiClosureHandler(void*, void*, void**, void*);

static void *zffi_lib;
static zffi_prep_cif_t zffi_prep_cif_p;
static zffi_prep_cif_var_t zffi_prep_cif_var_p;
static zffi_call_t zffi_call_p;
static zffi_closure_alloc_t zffi_closure_alloc_p;
static zffi_closure_free_t zffi_closure_free_p;
static zffi_prep_closure_t zffi_prep_closure_p;

// indexed like NativeKind
#define ZFFI_NSCALAR 13
static void *zffi_scalars[ZFFI_NSCALAR];
static const char *zffi_scalar_names[ZFFI_NSCALAR] = {
    "ffi_type_void", "ffi_type_uint8", "ffi_type_sint8", "ffi_type_uint16",
    "ffi_type_sint16", "ffi_type_uint32", "ffi_type_sint32", "ffi_type_uint64",
    "ffi_type_sint64", "ffi_type_float", "ffi_type_double", "ffi_type_longdouble",
    "ffi_type_pointer",
};

static int zffi_load(const char *path) {
    void *h = dlopen(path, RTLD_NOW | RTLD_LOCAL);
    if (h == NULL) {
        return 0;
    }
    zffi_prep_cif_p = (zffi_prep_cif_t)dlsym(h, "ffi_prep_cif");
    zffi_prep_cif_var_p = (zffi_prep_cif_var_t)dlsym(h, "ffi_prep_cif_var");
    zffi_call_p = (zffi_call_t)dlsym(h, "ffi_call");
    zffi_closure_alloc_p = (zffi_closure_alloc_t)dlsym(h, "ffi_closure_alloc");
    zffi_closure_free_p = (zffi_closure_free_t)dlsym(h, "ffi_closure_free");
    zffi_prep_closure_p = (zffi_prep_closure_t)dlsym(h, "ffi_prep_closure_loc");
    for (int i = 0; i < ZFFI_NSCALAR; i++) {
        zffi_scalars[i] = dlsym(h, zffi_scalar_names[i]);
    }
    if (zffi_scalars[11] == NULL) {
        zffi_scalars[11] = zffi_scalars[10];
    }
    if (zffi_prep_cif_p == NULL || zffi_call_p == NULL ||
        zffi_scalars[0] == NULL || zffi_scalars[12] == NULL) {
        dlclose(h);
        return 0;
    }
    zffi_lib = h;
    return 1;
}

static int zffi_has_closures(void) {
    return zffi_closure_alloc_p != NULL && zffi_prep_closure_p != NULL;
}

static void *zffi_scalar(int k) {
    if (k < 0 || k >= ZFFI_NSCALAR) {
        return NULL;
    }
    return zffi_scalars[k];
}

static void *zffi_struct_type(size_t nelems) {
    zffi_type *t = calloc(1, sizeof(zffi_type));
    if (t == NULL) {
        return NULL;
    }
    t->type = ZFFI_TYPE_STRUCT;
    t->elements = calloc(nelems + 1, sizeof(zffi_type*));
    if (t->elements == NULL) {
        free(t);
        return NULL;
    }
    return t;
}

static void zffi_set_elem(void *st, size_t i, void *elem) {
    ((zffi_type*)st)->elements[i] = elem;
}

static int zffi_prep(void *cif, int abi, unsigned int nfixed, unsigned int ntotal,
                     int variadic, void *rtype, void **atypes) {
    if (variadic && zffi_prep_cif_var_p != NULL) {
        return zffi_prep_cif_var_p(cif, abi, nfixed, ntotal, rtype, atypes);
    }
    return zffi_prep_cif_p(cif, abi, ntotal, rtype, atypes);
}

static void zffi_call(void *cif, uintptr_t fn, void *ret, void **avalue, int *err) {
    errno = *err;
    zffi_call_p(cif, (void*)fn, ret, avalue);
    *err = errno;
}

static void *zffi_closure_new(void *cif, void *ud, void **code) {
    void *c = zffi_closure_alloc_p(ZFFI_CLOSURE_SIZE, code);
    if (c == NULL) {
        return NULL;
    }
    if (zffi_prep_closure_p(c, cif, zffiClosureHandler, ud, *code) != 0) {
        zffi_closure_free_p(c);
        return NULL;
    }
    return c;
}

static void zffi_closure_release(void *c) {
    if (c != NULL && zffi_closure_free_p != NULL) {
        zffi_closure_free_p(c);
    }
}
*/
import "C"

import (
	"sync"
	"unsafe"

	"go.uber.org/zap"
)

var libffi struct {
	once sync.Once
	path string
	err  error
	mu   sync.Mutex // guards struct type construction
}

// ffiLoad opens libffi on first use.
func ffiLoad() error {
	libffi.once.Do(func() {
		cands := libffiCandidates()
		for _, p := range cands {
			cs := C.CString(p)
			ok := C.zffi_load(cs)
			C.free(unsafe.Pointer(cs))
			if ok == 1 {
				libffi.path = p
				Logger().Debug("libffi loaded", zap.String("path", p))
				return
			}
		}
		libffi.err = linkError(nil, "cannot load libffi (tried %d candidates, set ZFFI_LIBFFI)", len(cands))
	})
	return libffi.err
}

// LibffiPath reports the libffi shared object in use, loading it if needed.
func LibffiPath() (string, error) {
	if err := ffiLoad(); err != nil {
		return "", err
	}
	return libffi.path, nil
}

// ffiTypeOf returns the libffi ffi_type for a descriptor. Struct types are
// built once and live as long as the descriptor.
func ffiTypeOf(d *NativeDesc) unsafe.Pointer {
	if d.Kind != NatStruct {
		return C.zffi_scalar(C.int(d.Kind))
	}
	libffi.mu.Lock()
	defer libffi.mu.Unlock()
	return ffiStructType(d)
}

func ffiStructType(d *NativeDesc) unsafe.Pointer {
	if d.ffi != nil {
		return d.ffi
	}
	t := C.zffi_struct_type(C.size_t(len(d.Elems)))
	if t == nil {
		return nil
	}
	for i, e := range d.Elems {
		var et unsafe.Pointer
		if e.Kind == NatStruct {
			et = ffiStructType(e)
		} else {
			et = C.zffi_scalar(C.int(e.Kind))
		}
		C.zffi_set_elem(t, C.size_t(i), et)
	}
	d.ffi = t
	return t
}

// prepare builds the libffi cif of d on first use.
func (d *callDesc) prepare() error {
	if d.cif != nil {
		return nil
	}
	if err := ffiLoad(); err != nil {
		return err
	}
	n := len(d.args)
	atypes := C.calloc(C.size_t(n+1), C.size_t(unsafe.Sizeof(uintptr(0))))
	for i, a := range d.args {
		t := ffiTypeOf(a)
		if t == nil {
			C.free(atypes)
			return callSetupError("no libffi type for argument %d", i+1)
		}
		*(*unsafe.Pointer)(unsafe.Add(atypes, i*int(unsafe.Sizeof(uintptr(0))))) = t
	}
	rt := ffiTypeOf(d.ret)
	if rt == nil {
		C.free(atypes)
		return callSetupError("no libffi type for the return value")
	}
	cif := C.calloc(1, C.ZFFI_CIF_SIZE)
	variadic := C.int(0)
	if d.variadic {
		variadic = 1
	}
	status := C.zffi_prep(cif, C.int(d.abi), C.uint(d.nfixed), C.uint(n), variadic, rt, (*unsafe.Pointer)(atypes))
	if status != 0 {
		C.free(cif)
		C.free(atypes)
		return callSetupError("ffi_prep_cif failed with status %d", int(status))
	}
	d.cif, d.atypes = cif, atypes
	return nil
}

// release frees the cif of a scratch descriptor.
func (d *callDesc) release() {
	if d.cif != nil {
		C.free(d.cif)
		C.free(d.atypes)
		d.cif, d.atypes = nil, nil
	}
}

// ffiCall performs the call; errno is seeded from and saved to *errno.
func ffiCall(d *callDesc, fn uintptr, ret, avalue unsafe.Pointer, errno *int) {
	e := C.int(*errno)
	C.zffi_call(d.cif, C.uintptr_t(fn), ret, (*unsafe.Pointer)(avalue), &e)
	*errno = int(e)
}

// newClosure allocates a libffi closure for a prepared descriptor. ud is
// handed back to the closure handler on every invocation.
func newClosure(d *callDesc, ud unsafe.Pointer) (code unsafe.Pointer, release func(), err error) {
	if err := d.prepare(); err != nil {
		return nil, nil, err
	}
	if C.zffi_has_closures() == 0 {
		return nil, nil, callSetupError("libffi closure API not available")
	}
	var c unsafe.Pointer
	cl := C.zffi_closure_new(d.cif, ud, &c)
	if cl == nil {
		return nil, nil, callSetupError("cannot allocate a libffi closure")
	}
	return c, func() { C.zffi_closure_release(cl) }, nil
}
