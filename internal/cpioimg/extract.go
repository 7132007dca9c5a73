package cpioimg

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/schollz/progressbar/v3"
	"golang.org/x/sys/unix"
)

// ExtractOptions configures Extractor, mirroring the shared CLI options of
// spec.md §6.
type ExtractOptions struct {
	Dir                   string // -C: change into this directory first
	Subdir                string // -s/--subdir: NAME template, suffixed with the archive index
	Force                 bool   // --force: unlink existing non-directories first
	PreservePermissions   bool   // -p/--preserve-permissions
	Verbose               bool   // -v: show a progress bar
	Debug                 bool
}

type hardlinkKey struct {
	ino      uint64
	devmajor uint32
	devminor uint32
}

type deferredDir struct {
	path  string
	mtime int64
}

// Extractor materializes entries on disk, applying spec.md §4.G's
// hardlink coalescing, device/symlink dispatch, and path-traversal
// defense.
type Extractor struct {
	opts       ExtractOptions
	hardlinks  map[hardlinkKey]string
	dirMtimes  []deferredDir
	privileged bool
	curArchive int
	bar        *progressbar.ProgressBar
}

// NewExtractor creates an Extractor for the given options.
func NewExtractor(opts ExtractOptions) *Extractor {
	return &Extractor{
		opts:       opts,
		hardlinks:  make(map[hardlinkKey]string),
		privileged: os.Geteuid() == 0,
		curArchive: -1,
	}
}

// Run extracts every entry produced by r, switching output subdirectory
// whenever the archive index changes and replaying deferred directory
// mtimes at each such boundary and at the end.
func (ex *Extractor) Run(r *Reader) error {
	if ex.opts.Dir != "" {
		if err := os.MkdirAll(ex.opts.Dir, 0755); err != nil {
			return err
		}
		if err := os.Chdir(ex.opts.Dir); err != nil {
			return err
		}
	}
	if ex.opts.Verbose {
		ex.bar = progressbar.Default(-1, "extracting")
		defer ex.bar.Close()
	}

	for {
		e, err := r.Next()
		if err == io.EOF {
			ex.flushDirMtimes()
			return nil
		}
		if err != nil {
			return err
		}

		if r.ArchiveIndex() != ex.curArchive {
			ex.flushDirMtimes()
			ex.hardlinks = make(map[hardlinkKey]string)
			ex.curArchive = r.ArchiveIndex()
		}

		if err := ex.extractOne(e); err != nil {
			return err
		}
		if ex.bar != nil {
			_ = ex.bar.Add(1)
		}
	}
}

func (ex *Extractor) archiveRoot() string {
	if ex.opts.Subdir == "" {
		return ""
	}
	return fmt.Sprintf("%s%d", ex.opts.Subdir, ex.curArchive)
}

func (ex *Extractor) extractOne(e *Entry) error {
	rel, err := normalizePath(e.Name)
	if err != nil {
		return err
	}
	if rel == "." || rel == "" {
		return nil
	}
	if root := ex.archiveRoot(); root != "" {
		rel = filepath.Join(root, rel)
		if err := os.MkdirAll(root, 0755); err != nil {
			return err
		}
	}

	if err := ex.checkParentsSafe(e.Name, rel); err != nil {
		return err
	}

	if e.Nlink > 1 && !e.IsDir() {
		key := hardlinkKey{e.Ino, e.Devmajor, e.Devminor}
		if first, ok := ex.hardlinks[key]; ok && e.Filesize == 0 {
			if ex.opts.Force {
				_ = os.Remove(rel)
			}
			return os.Link(first, rel)
		}
		ex.hardlinks[key] = rel
	}

	switch {
	case e.IsDir():
		return ex.makeDir(e, rel)
	case e.IsSymlink():
		return ex.makeSymlink(e, rel)
	case e.IsDevice():
		return ex.makeDevice(e, rel)
	case e.IsFifoOrSocket():
		return ex.makeFifoOrSocket(e, rel)
	case e.IsRegular():
		return ex.makeRegular(e, rel)
	default:
		return &UnsupportedEntryTypeError{Mode: e.Mode}
	}
}

func (ex *Extractor) makeDir(e *Entry, rel string) error {
	if err := os.Mkdir(rel, 0700); err != nil && !os.IsExist(err) {
		return err
	}
	if err := ex.applyOwnerAndMode(e, rel); err != nil {
		return err
	}
	ex.dirMtimes = append(ex.dirMtimes, deferredDir{path: rel, mtime: e.Mtime})
	return nil
}

func (ex *Extractor) makeRegular(e *Entry, rel string) error {
	if err := ex.removeIfForced(rel); err != nil {
		return err
	}
	flags := os.O_WRONLY | os.O_CREATE | os.O_EXCL | os.O_TRUNC | syscall.O_NOFOLLOW
	f, err := os.OpenFile(rel, flags, 0600)
	if err != nil {
		if os.IsExist(err) {
			return &AlreadyExistsError{Name: e.Name}
		}
		return err
	}
	n, err := io.Copy(f, e.Payload)
	closeErr := f.Close()
	if err != nil {
		return err
	}
	if closeErr != nil {
		return closeErr
	}
	if uint64(n) != e.Filesize {
		return &SizeMismatchError{Location: e.Name, Declared: e.Filesize, Actual: uint64(n)}
	}
	if err := ex.applyOwnerAndMode(e, rel); err != nil {
		return err
	}
	return ex.applyMtime(rel, e.Mtime, false)
}

func (ex *Extractor) makeSymlink(e *Entry, rel string) error {
	target, err := io.ReadAll(e.Payload)
	if err != nil {
		return err
	}
	if err := ex.removeIfForced(rel); err != nil {
		return err
	}
	if err := os.Symlink(string(target), rel); err != nil {
		if os.IsExist(err) {
			return &AlreadyExistsError{Name: e.Name}
		}
		return err
	}
	if ex.privileged {
		if err := unix.Lchown(rel, int(e.UID), int(e.GID)); err != nil {
			return err
		}
	}
	return ex.applyMtime(rel, e.Mtime, true)
}

func (ex *Extractor) makeDevice(e *Entry, rel string) error {
	if err := ex.removeIfForced(rel); err != nil {
		return err
	}
	dev := unix.Mkdev(e.Rdevmajor, e.Rdevminor)
	if err := unix.Mknod(rel, e.Mode, int(dev)); err != nil {
		if err == unix.EPERM || err == unix.EACCES {
			return &PermissionDeniedError{Name: e.Name}
		}
		if err == unix.EEXIST {
			return &AlreadyExistsError{Name: e.Name}
		}
		return err
	}
	if err := ex.applyOwnerAndMode(e, rel); err != nil {
		return err
	}
	return ex.applyMtime(rel, e.Mtime, false)
}

func (ex *Extractor) makeFifoOrSocket(e *Entry, rel string) error {
	if err := ex.removeIfForced(rel); err != nil {
		return err
	}
	if err := unix.Mkfifo(rel, e.Mode&07777); err != nil {
		if err == unix.EEXIST {
			return &AlreadyExistsError{Name: e.Name}
		}
		return err
	}
	if err := ex.applyOwnerAndMode(e, rel); err != nil {
		return err
	}
	return ex.applyMtime(rel, e.Mtime, false)
}

func (ex *Extractor) removeIfForced(rel string) error {
	if !ex.opts.Force {
		return nil
	}
	fi, err := os.Lstat(rel)
	if err != nil {
		return nil
	}
	if fi.IsDir() {
		return nil
	}
	return os.Remove(rel)
}

func (ex *Extractor) applyOwnerAndMode(e *Entry, rel string) error {
	if ex.opts.PreservePermissions || ex.privileged {
		if err := os.Chmod(rel, os.FileMode(e.Mode&07777)); err != nil {
			return err
		}
	}
	if ex.privileged {
		if err := unix.Lchown(rel, int(e.UID), int(e.GID)); err != nil {
			return err
		}
	}
	return nil
}

func (ex *Extractor) applyMtime(rel string, mtime int64, noFollow bool) error {
	ts := []unix.Timespec{
		{Sec: mtime, Nsec: 0},
		{Sec: mtime, Nsec: 0},
	}
	var flags int
	if noFollow {
		flags = unix.AT_SYMLINK_NOFOLLOW
	}
	return unix.UtimesNanoAt(unix.AT_FDCWD, rel, ts, flags)
}

// flushDirMtimes replays buffered directory mtimes in reverse creation
// order, so the deepest (most recently created) directories have their
// mtime restored first and top-level parents last, per spec.md §4.G.
func (ex *Extractor) flushDirMtimes() {
	for i := len(ex.dirMtimes) - 1; i >= 0; i-- {
		d := ex.dirMtimes[i]
		_ = ex.applyMtime(d.path, d.mtime, false)
	}
	ex.dirMtimes = ex.dirMtimes[:0]
}

// normalizePath implements spec.md §4.G's path policy: strip a leading
// slash, reject embedded NUL and any ".." component after normalization.
func normalizePath(name string) (string, error) {
	if strings.IndexByte(name, 0) >= 0 {
		return "", &PathTraversalError{Name: name}
	}
	trimmed := strings.TrimLeft(name, "/")
	if trimmed == "" {
		return ".", nil
	}
	for _, part := range strings.Split(trimmed, "/") {
		if part == ".." {
			return "", &PathTraversalError{Name: name}
		}
	}
	return trimmed, nil
}

// checkParentsSafe rejects a path whose extraction would require
// following an existing symlink for an intermediate component (spec.md
// §4.G's S3 scenario): the extractor must never create a child through a
// symlinked ancestor.
func (ex *Extractor) checkParentsSafe(origName, rel string) error {
	dir := filepath.Dir(rel)
	if dir == "." {
		return nil
	}
	cur := ""
	for _, part := range strings.Split(dir, "/") {
		if cur == "" {
			cur = part
		} else {
			cur = cur + "/" + part
		}
		fi, err := os.Lstat(cur)
		if err != nil {
			continue
		}
		if fi.Mode()&os.ModeSymlink != 0 || !fi.IsDir() {
			return &PathTraversalError{Name: origName}
		}
	}
	return nil
}
