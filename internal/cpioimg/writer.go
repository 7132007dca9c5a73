package cpioimg

import (
	"bufio"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// WriteImage emits the concatenated, optionally compressed cpio image
// described by segments to outPath, per spec.md §4.I. Within a segment
// entries are written in manifest order, never sorted; across segments
// only the final one may be compressed (ParseManifest rejects a manifest
// in which a compressed segment is followed by another; WriteImage itself
// does not check).
// The output file's permission mode is the bitwise AND of every source
// file's mode (capped at 0600 if any source is not world-readable) so the
// image never leaks permission information.
func WriteImage(outPath string, segments []ManifestSegment, baseDir string) error {
	mode := outputMode(segments, baseDir)

	f, err := os.OpenFile(outPath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, mode)
	if err != nil {
		return err
	}
	defer f.Close()

	return WriteImageTo(f, segments, baseDir)
}

// WriteImageTo emits the same image as WriteImage but to an arbitrary
// writer (e.g. stdout for "3cpio --create" with no ARCHIVE argument,
// spec.md §6), bypassing the permission-mode computation that only
// applies to a created regular file.
func WriteImageTo(w io.Writer, segments []ManifestSegment, baseDir string) error {
	bufw := bufio.NewWriterSize(w, 64*1024)
	for _, seg := range segments {
		if seg.Kind == KindCpio {
			if err := writeCpioSegment(bufw, seg, baseDir); err != nil {
				return err
			}
			continue
		}
		if err := writeCompressedSegment(bufw, seg, baseDir); err != nil {
			return err
		}
	}
	return bufw.Flush()
}

// outputMode computes the bitwise AND of every source file's mode,
// capped at 0600 if any source is not world-readable, so the created
// image never leaks permission information from its inputs.
func outputMode(segments []ManifestSegment, baseDir string) os.FileMode {
	mode := os.FileMode(0666)
	seen := false
	for _, seg := range segments {
		for _, e := range seg.Entries {
			if e.Location == "" {
				continue
			}
			path := e.Location
			if !filepath.IsAbs(path) {
				path = filepath.Join(baseDir, path)
			}
			fi, err := os.Lstat(path)
			if err != nil {
				continue
			}
			mode &= fi.Mode().Perm()
			seen = true
		}
	}
	if !seen {
		return 0644
	}
	if mode&0004 == 0 && mode > 0600 {
		mode = 0600
	}
	return mode
}

func writeCompressedSegment(bufw *bufio.Writer, seg ManifestSegment, baseDir string) error {
	pr, pw := io.Pipe()
	errCh := make(chan error, 1)
	go func() {
		err := writeCpioSegment(pw, seg, baseDir)
		errCh <- pw.CloseWithError(err)
	}()

	proc, err := startCompressor(seg.Kind, seg.Level, isReproducible(), pr)
	if err != nil {
		_ = pr.CloseWithError(err)
		<-errCh
		return err
	}
	if _, err := io.Copy(bufw, proc); err != nil {
		return err
	}
	return <-errCh
}

// writeCpioSegment encodes one segment's entries as a newc cpio archive
// (including trailer and 512-byte end padding) into w.
func writeCpioSegment(w io.Writer, seg ManifestSegment, baseDir string) error {
	bw, ok := w.(*bufio.Writer)
	if !ok {
		bw = bufio.NewWriterSize(w, 64*1024)
	}

	var written int64
	var nextIno uint32 = 1

	writeEntry := func(h *rawHeader, name string, data io.Reader, dataLen uint64) error {
		if err := encodeHeader(bw, h); err != nil {
			return err
		}
		written += headerSize
		if err := writeNamePadded(bw, name); err != nil {
			return err
		}
		written = align4(written + int64(len(name)) + 1)
		if data != nil {
			n, err := io.Copy(bw, data)
			written += n
			if err != nil {
				return err
			}
			if uint64(n) != dataLen {
				return &SizeMismatchError{Location: name, Declared: dataLen, Actual: uint64(n)}
			}
		}
		return writeZeroPad(bw, written)
	}

	for _, e := range seg.Entries {
		ino := nextIno
		nextIno++

		nlink := uint32(1)
		if e.Type == "dir" {
			nlink = 2
		}

		absLoc := resolvePath(e.Location, baseDir)

		h := &rawHeader{
			Ino: ino, Mode: e.Mode, UID: e.UID, GID: e.GID, Nlink: nlink,
			Mtime:     uint32(e.Mtime),
			Rdevmajor: e.Rdevmajor, Rdevminor: e.Rdevminor,
			Namesize: uint32(len(e.Name) + 1),
		}

		switch e.Type {
		case "reg":
			h.Filesize = uint32(e.Filesize)
			f, err := os.Open(absLoc)
			if err != nil {
				return err
			}
			err = writeEntry(h, e.Name, f, e.Filesize)
			f.Close()
			if err != nil {
				return err
			}
		case "symlink":
			h.Filesize = uint32(e.Filesize)
			if err := writeEntry(h, e.Name, strings.NewReader(e.Target), e.Filesize); err != nil {
				return err
			}
		default:
			if err := writeEntry(h, e.Name, nil, 0); err != nil {
				return err
			}
		}
	}

	trailer := &rawHeader{Nlink: 1, Namesize: uint32(len(TrailerName) + 1)}
	if err := writeEntry(trailer, TrailerName, nil, 0); err != nil {
		return err
	}

	pad := roundUp(written, blockSize) - written
	for i := int64(0); i < pad; i++ {
		if err := bw.WriteByte(0); err != nil {
			return err
		}
	}
	written += pad

	return bw.Flush()
}

func resolvePath(location, baseDir string) string {
	if location == "" {
		return ""
	}
	if filepath.IsAbs(location) {
		return location
	}
	return filepath.Join(baseDir, location)
}
