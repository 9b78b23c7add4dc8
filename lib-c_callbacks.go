//go:build !windows && !noffi && cgo

package zffi

/*
#include <stdint.h>
*/
import "C"

import (
	"runtime/cgo"
	"unsafe"
)

// zffiClosureHandler is the single entry point of every closure. ud holds
// the cgo.Handle of the closure's closureData.
//
//export zffiClosureHandler
func zffiClosureHandler(cif, ret unsafe.Pointer, args *unsafe.Pointer, ud unsafe.Pointer) {
	h := cgo.Handle(*(*uintptr)(ud))
	cb, ok := h.Value().(*closureData)
	if !ok || cb.freed {
		return
	}
	n := len(cb.desc.params)
	var av []unsafe.Pointer
	if n > 0 {
		av = unsafe.Slice(args, n)
	}
	cb.dispatch(ret, av)
}

// newCallback binds a host function to a fresh closure with the signature
// of fn.
func (st *State) newCallback(fn *Function, host HostFunc) (*closureData, error) {
	if fn.Variadic {
		return nil, callSetupError("cannot create a callback for a variadic function")
	}
	d, err := st.funcDesc(fn)
	if err != nil {
		return nil, err
	}
	cb := &closureData{st: st, fn: fn, desc: d, host: host}
	h := cgo.NewHandle(cb)
	cell, _ := nativeAlloc(int(unsafe.Sizeof(uintptr(0))))
	*(*uintptr)(cell) = uintptr(h)

	code, release, err := newClosure(d, cell)
	if err != nil {
		h.Delete()
		nativeFree(cell)
		return nil, err
	}
	cb.code = code
	cb.release = func() {
		release()
		h.Delete()
		nativeFree(cell)
	}
	st.debugf("callback created for %d parameters", len(d.params))
	return cb, nil
}
