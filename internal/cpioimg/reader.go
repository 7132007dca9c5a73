package cpioimg

import (
	"bufio"
	"io"
	"os"
)

// Reader produces a lazy sequence of Entry values from an entire
// initramfs image, transparently switching the underlying byte source
// across segments (spec.md §4.E): it reads directly from the outer
// stream for cpio segments, and transparently decompresses the final
// segment through an external process when a compression magic is
// found, recursing into the decompressed byte stream exactly like the
// outer one (a compressed segment may itself contain a concatenation of
// cpios).
type Reader struct {
	cur          io.Reader // current raw source: the caller's input, or a *process
	curProc      *process  // non-nil when cur is a decompressor's stdout
	br           *bufio.Reader
	posInArchive int64 // bytes consumed within the current cpio archive
	archiveIndex int   // increments each time a new cpio archive begins, across all nesting

	payload  *payloadReader // current entry's lazy view, nil once drained
	finished bool
}

// NewReader creates a Reader over the given seekable-or-streaming input,
// which must begin at the start of an initramfs image.
func NewReader(r io.Reader) *Reader {
	return &Reader{
		cur:          r,
		br:           bufio.NewReaderSize(r, 32*1024),
		archiveIndex: -1,
	}
}

// ArchiveIndex returns the index (starting at 0) of the cpio archive the
// most recently returned Entry belongs to. It increments once per
// concatenated cpio, including archives nested inside a decompressed
// segment, per spec.md §4.G's "each concatenated cpio's contents extract
// into NAMEi" wording.
func (r *Reader) ArchiveIndex() int { return r.archiveIndex }

// Next returns the next Entry, or (nil, io.EOF) once the image is fully
// consumed. The previous Entry's Payload need not have been drained by
// the caller; Next drains it automatically.
func (r *Reader) Next() (*Entry, error) {
	if err := r.drainCurrent(); err != nil {
		return nil, err
	}
	if r.finished {
		return nil, io.EOF
	}

	for {
		if r.posInArchive == 0 {
			// we are at an archive boundary: sniff before assuming cpio
			peek, _ := r.br.Peek(9)
			if len(peek) == 0 {
				r.finished = true
				return nil, io.EOF
			}
			kind, matched := SniffMagic(peek)
			if !matched {
				if isAllZero(peek) && r.restIsZero() {
					r.finished = true
					return nil, io.EOF
				}
				return nil, &GarbageAfterArchiveError{}
			}
			if kind != KindCpio {
				if err := r.enterCompressedSegment(kind); err != nil {
					return nil, err
				}
				continue
			}
			r.archiveIndex++
		}

		h, err := decodeHeader(r.br, r.posInArchive)
		if err != nil {
			return nil, err
		}
		r.posInArchive += headerSize

		name, err := decodeName(r.br, h, r.posInArchive)
		if err != nil {
			return nil, err
		}
		r.posInArchive = align4(r.posInArchive + int64(h.Namesize))

		if name == TrailerName {
			if err := r.afterTrailer(); err != nil {
				return nil, err
			}
			if r.finished {
				return nil, io.EOF
			}
			continue
		}

		entry := &Entry{
			Name:      name,
			Ino:       uint64(h.Ino),
			Mode:      h.Mode,
			UID:       h.UID,
			GID:       h.GID,
			Nlink:     h.Nlink,
			Mtime:     int64(h.Mtime),
			Filesize:  uint64(h.Filesize),
			Devmajor:  h.Devmajor,
			Devminor:  h.Devminor,
			Rdevmajor: h.Rdevmajor,
			Rdevminor: h.Rdevminor,
			Checksum:  h.Check,
			HasCheck:  h.Crc,
		}

		dataStart := r.posInArchive
		pad := uint64(align4(int64(entry.Filesize)) - int64(entry.Filesize))
		pr := &payloadReader{
			br:        r.br,
			remaining: entry.Filesize,
			pad:       pad,
			crc:       h.Crc,
			declared:  h.Check,
			name:      name,
			offset:    dataStart,
		}
		entry.Payload = pr
		r.payload = pr
		r.posInArchive = align4(r.posInArchive + int64(entry.Filesize))

		return entry, nil
	}
}

// drainCurrent discards any unread bytes of the previously-yielded
// entry's payload (which also triggers checksum verification) and the
// alignment padding that follows it.
func (r *Reader) drainCurrent() error {
	if r.payload == nil {
		return nil
	}
	_, err := io.Copy(io.Discard, r.payload)
	r.payload = nil
	return err
}

// afterTrailer handles the end of one cpio archive: it skips padding to
// the next 512-byte boundary (measured from the start of this archive)
// and peeks for a continuation, without consuming the peeked bytes.
func (r *Reader) afterTrailer() error {
	target := roundUp(r.posInArchive, blockSize)
	if pad := target - r.posInArchive; pad > 0 {
		n, err := io.CopyN(io.Discard, r.br, pad)
		r.posInArchive += n
		if err != nil {
			if err == io.EOF || err == io.ErrUnexpectedEOF {
				r.finished = true
				return nil
			}
			return err
		}
	}
	r.posInArchive = 0
	return nil
}

// restIsZero reports whether everything remaining on the current reader
// is NUL padding, consuming it in the process.
func (r *Reader) restIsZero() bool {
	buf := make([]byte, 4096)
	for {
		n, err := r.br.Read(buf)
		if n > 0 && !isAllZero(buf[:n]) {
			return false
		}
		if err != nil {
			return true
		}
	}
}

// enterCompressedSegment spawns the external decompressor for kind,
// feeding it whatever remains unread on the current source, and switches
// the reader to consume the decompressed output. Per spec.md §5, when
// the current source is a seekable file, it is rewound past the bytes
// buffered ahead and its file descriptor is handed to the child directly
// instead of through a pipe.
func (r *Reader) enterCompressedSegment(kind CompressionKind) error {
	stdin := r.stdinForRemainder()
	proc, err := startDecompressor(kind, stdin)
	if err != nil {
		return err
	}
	if r.curProc != nil {
		_ = r.curProc.Close()
	}
	r.cur = proc
	r.curProc = proc
	r.br = bufio.NewReaderSize(proc, 32*1024)
	r.posInArchive = 0
	return nil
}

func (r *Reader) stdinForRemainder() io.Reader {
	if f, ok := r.cur.(*os.File); ok {
		if r.br.Buffered() == 0 {
			return f
		}
		// the boundary sniff always leaves lookahead in br; step the file
		// back so the child starts at the compressed segment's first byte
		if _, err := f.Seek(-int64(r.br.Buffered()), io.SeekCurrent); err == nil {
			return f
		}
	}
	return r.br
}

// Close releases any child process and file descriptors held by the
// reader. It is safe to call multiple times.
func (r *Reader) Close() error {
	if r.curProc != nil {
		err := r.curProc.Close()
		r.curProc = nil
		return err
	}
	return nil
}

// payloadReader is the lazy, checksum-tracking view over one entry's
// data bytes exposed as Entry.Payload.
type payloadReader struct {
	br        *bufio.Reader
	remaining uint64
	pad       uint64 // alignment bytes following the data, still to discard
	sum       uint32
	crc       bool
	declared  uint32
	name      string
	offset    int64
	done      bool
}

func (p *payloadReader) Read(b []byte) (int, error) {
	if p.remaining == 0 {
		return 0, p.finish()
	}
	if uint64(len(b)) > p.remaining {
		b = b[:p.remaining]
	}
	n, err := p.br.Read(b)
	for _, c := range b[:n] {
		p.sum += uint32(c)
	}
	p.remaining -= uint64(n)
	if p.remaining == 0 {
		if ferr := p.finish(); ferr != nil && ferr != io.EOF {
			return n, ferr
		}
	}
	if err != nil && err != io.EOF {
		return n, err
	}
	if p.remaining == 0 {
		return n, io.EOF
	}
	return n, err
}

// finish runs once all data bytes have been read: it discards the 4-byte
// alignment padding that follows the data (mirroring skipCpioArchive's
// same discard in segment.go) before checking the checksum, so the
// underlying reader is always left positioned at the next header
// regardless of outcome.
func (p *payloadReader) finish() error {
	if p.done {
		return io.EOF
	}
	p.done = true
	if p.pad > 0 {
		if _, err := io.CopyN(io.Discard, p.br, int64(p.pad)); err != nil {
			return err
		}
	}
	if p.crc && p.sum != p.declared {
		return &ChecksumMismatchError{Offset: p.offset, Name: p.name, Declared: p.declared, Actual: p.sum}
	}
	return io.EOF
}
