package cpioimg

import (
	"fmt"
	"io"
	"strings"
	"time"
)

// ListMode selects the output format of Lister.Print, per spec.md §4.F.
type ListMode int

const (
	ListPlain ListMode = iota
	ListVerbose
	ListDebug
)

// Lister formats entries in plain, verbose (ls-like), or debug form.
type Lister struct {
	w    io.Writer
	mode ListMode
	now  time.Time
	ids  *idCache
}

// NewLister creates a Lister writing formatted entries to w. now is the
// reference time used to decide between the two mtime formats; callers
// normally pass time.Now().
func NewLister(w io.Writer, mode ListMode, now time.Time) *Lister {
	return &Lister{w: w, mode: mode, now: now, ids: globalIDCache}
}

// Print writes one line for e in the Lister's configured mode.
func (l *Lister) Print(e *Entry) error {
	switch l.mode {
	case ListVerbose, ListDebug:
		return l.printVerbose(e)
	default:
		_, err := fmt.Fprintln(l.w, e.Name)
		return err
	}
}

func (l *Lister) printVerbose(e *Entry) error {
	var b strings.Builder
	if l.mode == ListDebug {
		fmt.Fprintf(&b, "%d ", e.Ino)
	}
	b.WriteString(modeString(e.Mode))
	fmt.Fprintf(&b, " %3d %-8s %-8s ", e.Nlink, l.ids.userName(e.UID), l.ids.groupName(e.GID))
	if e.IsDevice() {
		fmt.Fprintf(&b, "%3d, %3d", e.Rdevmajor, e.Rdevminor)
	} else {
		fmt.Fprintf(&b, "%8d", e.Filesize)
	}
	b.WriteByte(' ')
	b.WriteString(formatMtime(e.Mtime, l.now))
	b.WriteByte(' ')
	b.WriteString(e.Name)
	if e.IsSymlink() {
		target, err := io.ReadAll(e.Payload)
		if err != nil {
			return err
		}
		fmt.Fprintf(&b, " -> %s", target)
	}
	_, err := fmt.Fprintln(l.w, b.String())
	return err
}

// modeString renders the 10-character ls-style mode string for mode,
// which carries both the S_IFMT type bits and the permission bits as they
// appear on the wire.
func modeString(mode uint32) string {
	var typeChar byte
	switch mode & ModeFmt {
	case ModeDir:
		typeChar = 'd'
	case ModeSymlink:
		typeChar = 'l'
	case ModeBlock:
		typeChar = 'b'
	case ModeChar:
		typeChar = 'c'
	case ModeFifo:
		typeChar = 'p'
	case ModeSocket:
		typeChar = 's'
	default:
		typeChar = '-'
	}

	perm := [9]byte{'-', '-', '-', '-', '-', '-', '-', '-', '-'}
	bits := []struct {
		mask uint32
		pos  int
		c    byte
	}{
		{0400, 0, 'r'}, {0200, 1, 'w'}, {0100, 2, 'x'},
		{0040, 3, 'r'}, {0020, 4, 'w'}, {0010, 5, 'x'},
		{0004, 6, 'r'}, {0002, 7, 'w'}, {0001, 8, 'x'},
	}
	for _, b := range bits {
		if mode&b.mask != 0 {
			perm[b.pos] = b.c
		}
	}
	if mode&04000 != 0 {
		if perm[2] == 'x' {
			perm[2] = 's'
		} else {
			perm[2] = 'S'
		}
	}
	if mode&02000 != 0 {
		if perm[5] == 'x' {
			perm[5] = 's'
		} else {
			perm[5] = 'S'
		}
	}
	if mode&01000 != 0 {
		if perm[8] == 'x' {
			perm[8] = 't'
		} else {
			perm[8] = 'T'
		}
	}

	return string(typeChar) + string(perm[:])
}

// formatMtime renders mtime the way `ls -l` does: a time-of-day when
// within six months of now, otherwise the year, per spec.md §4.F.
func formatMtime(mtime int64, now time.Time) string {
	t := time.Unix(mtime, 0).UTC()
	cutoff := now.AddDate(0, -6, 0)
	if t.After(cutoff) && !t.After(now) {
		return t.Format("Jan _2 15:04")
	}
	return t.Format("Jan _2  2006")
}
