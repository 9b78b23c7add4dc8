package zffi

import (
	. "github.com/puzpuzpuz/xsync"
)

// symCache maps symbol names to resolved cdata for one library. Reads
// dominate and may come from callbacks running on foreign threads.
type symCache struct {
	RBMutex
	syms map[string]*CData
}

func newSymCache(sz int) *symCache {
	return &symCache{syms: make(map[string]*CData, sz)}
}

func (u *symCache) get(k string) (cd *CData, ok bool) {
	tk := u.RLock()
	cd, ok = u.syms[k]
	u.RUnlock(tk)
	return
}

func (u *symCache) set(k string, cd *CData) {
	u.Lock()
	u.syms[k] = cd
	u.Unlock()
}

func (u *symCache) delete(k string) bool {
	u.Lock()
	_, ok := u.syms[k]
	if ok {
		delete(u.syms, k)
	}
	u.Unlock()
	return ok
}

func (u *symCache) len() int {
	tk := u.RLock()
	n := len(u.syms)
	u.RUnlock(tk)
	return n
}

// clear forgets every cached symbol.
func (u *symCache) clear() {
	u.Lock()
	u.syms = make(map[string]*CData)
	u.Unlock()
}
