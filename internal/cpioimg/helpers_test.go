package cpioimg

import "bytes"

// fixtureEntry is the minimal description needed to hand-encode one cpio
// record for tests, independent of Writer/ManifestEntry.
type fixtureEntry struct {
	name     string
	mode     uint32
	ino      uint32
	nlink    uint32
	filesize uint32
	rdevmaj  uint32
	rdevmin  uint32
	mtime    uint32
	data     []byte
	crc      bool
}

// buildCpio hand-encodes a minimal newc/crc cpio archive (entries plus
// trailer plus 512-byte end padding) for use as a test fixture, mirroring
// the on-wire layout spec.md §4.A describes.
func buildCpio(entries []fixtureEntry) []byte {
	var buf bytes.Buffer
	var written int64

	write := func(e fixtureEntry, isTrailer bool) {
		check := uint32(0)
		if e.crc {
			for _, b := range e.data {
				check += uint32(b)
			}
		}
		h := &rawHeader{
			Crc: e.crc, Ino: e.ino, Mode: e.mode, Nlink: e.nlink,
			Filesize:  uint32(len(e.data)),
			Rdevmajor: e.rdevmaj, Rdevminor: e.rdevmin,
			Mtime:    e.mtime,
			Namesize: uint32(len(e.name) + 1),
			Check:    check,
		}
		encodeHeader(&buf, h)
		written += headerSize
		buf.WriteString(e.name)
		buf.WriteByte(0)
		written += int64(len(e.name)) + 1
		for ; written%4 != 0; written++ {
			buf.WriteByte(0)
		}
		buf.Write(e.data)
		written += int64(len(e.data))
		for ; written%4 != 0; written++ {
			buf.WriteByte(0)
		}
	}

	for _, e := range entries {
		write(e, false)
	}
	write(fixtureEntry{name: TrailerName, nlink: 1}, true)

	for ; written%blockSize != 0; written++ {
		buf.WriteByte(0)
	}
	return buf.Bytes()
}
