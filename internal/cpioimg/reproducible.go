package cpioimg

import (
	"os"
	"path/filepath"
	"strconv"
	"syscall"
)

// sourceDateEpoch returns the value of SOURCE_DATE_EPOCH when it is set
// and parses as a non-negative integer, for clamping manifest mtimes and
// coercing compressors into reproducible mode (spec.md §4.C, §4.H).
func sourceDateEpoch() (int64, bool) {
	v, ok := os.LookupEnv("SOURCE_DATE_EPOCH")
	if !ok {
		return 0, false
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil || n < 0 {
		return 0, false
	}
	return n, true
}

// clampToSourceDateEpoch caps mtime at SOURCE_DATE_EPOCH when that
// environment variable is set and valid, leaving mtime untouched
// otherwise.
func clampToSourceDateEpoch(mtime int64) int64 {
	if epoch, ok := sourceDateEpoch(); ok && mtime > epoch {
		return epoch
	}
	return mtime
}

// isReproducible reports whether the writer should coerce external
// compressors into single-threaded, deterministic-output mode.
func isReproducible() bool {
	_, ok := sourceDateEpoch()
	return ok
}

func statUID(location, baseDir string) (uint32, bool) {
	st, ok := lstatSys(location, baseDir)
	if !ok {
		return 0, false
	}
	return st.Uid, true
}

func statGID(location, baseDir string) (uint32, bool) {
	st, ok := lstatSys(location, baseDir)
	if !ok {
		return 0, false
	}
	return st.Gid, true
}

func lstatSys(location, baseDir string) (*syscall.Stat_t, bool) {
	path := location
	if !filepath.IsAbs(path) {
		path = filepath.Join(baseDir, path)
	}
	fi, err := os.Lstat(path)
	if err != nil {
		return nil, false
	}
	st, ok := fi.Sys().(*syscall.Stat_t)
	if !ok {
		return nil, false
	}
	return st, true
}
