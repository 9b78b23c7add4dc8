package zffi

import (
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/Masterminds/semver/v3"
)

// libffiDirs are searched for versioned libffi shared objects.
var libffiDirs = []string{
	"/usr/lib/x86_64-linux-gnu",
	"/usr/lib/aarch64-linux-gnu",
	"/usr/lib/arm-linux-gnueabihf",
	"/usr/lib/riscv64-linux-gnu",
	"/usr/lib/powerpc64le-linux-gnu",
	"/usr/lib/s390x-linux-gnu",
	"/usr/lib64",
	"/usr/lib",
	"/lib64",
	"/lib",
	"/usr/local/lib",
	"/usr/pkg/lib",
	"/opt/homebrew/opt/libffi/lib",
	"/usr/local/opt/libffi/lib",
}

// libffiNames are handed to the dynamic loader as is, after any
// discovered files.
var libffiNames = []string{
	"libffi.so.8", "libffi.so.7", "libffi.so.6", "libffi.so",
	"libffi.8.dylib", "libffi.dylib",
}

// libffiCandidates lists the paths to try when loading libffi: the
// ZFFI_LIBFFI override, then discovered versioned files newest first,
// then bare names for the loader's own search.
func libffiCandidates() []string {
	var out []string
	if p := os.Getenv("ZFFI_LIBFFI"); p != "" {
		out = append(out, p)
	}
	out = append(out, discoverLibffi(libffiDirs)...)
	return append(out, libffiNames...)
}

type versionedPath struct {
	path string
	ver  *semver.Version
}

// discoverLibffi globs dirs for libffi.so.N[.M[.P]] and libffi.N.dylib and
// orders the hits by version, newest first.
func discoverLibffi(dirs []string) []string {
	var found []versionedPath
	seen := map[string]bool{}
	for _, dir := range dirs {
		for _, pat := range []string{"libffi.so.*", "libffi.*.dylib"} {
			matches, _ := filepath.Glob(filepath.Join(dir, pat))
			for _, m := range matches {
				v, ok := libffiVersion(filepath.Base(m))
				if !ok || seen[m] {
					continue
				}
				seen[m] = true
				found = append(found, versionedPath{path: m, ver: v})
			}
		}
	}
	sort.SliceStable(found, func(i, j int) bool {
		return found[i].ver.GreaterThan(found[j].ver)
	})
	out := make([]string, len(found))
	for i, f := range found {
		out[i] = f.path
	}
	return out
}

// libffiVersion extracts the version from a shared object file name.
func libffiVersion(name string) (*semver.Version, bool) {
	var s string
	switch {
	case strings.HasPrefix(name, "libffi.so."):
		s = strings.TrimPrefix(name, "libffi.so.")
	case strings.HasPrefix(name, "libffi.") && strings.HasSuffix(name, ".dylib"):
		s = strings.TrimSuffix(strings.TrimPrefix(name, "libffi."), ".dylib")
	default:
		return nil, false
	}
	v, err := semver.NewVersion(s)
	if err != nil {
		return nil, false
	}
	return v, true
}
