package cpioimg

import "bytes"

// magicTable lists the magic byte sequences used to identify compressed
// segments, per spec.md §4.B. lzma's legacy header has no fixed magic;
// it is recognized by a "loose match" on its first three bytes as the
// spec directs, and is checked last so it cannot shadow the others.
var magicTable = []struct {
	kind  CompressionKind
	magic []byte
}{
	{KindGzip, []byte{0x1F, 0x8B}},
	{KindBzip2, []byte{0x42, 0x5A, 0x68}},
	{KindXZ, []byte{0xFD, 0x37, 0x7A, 0x58, 0x5A, 0x00}},
	{KindZstd, []byte{0x28, 0xB5, 0x2F, 0xFD}},
	{KindLZ4, []byte{0x04, 0x22, 0x4D, 0x18}},
	{KindLZOP, []byte{0x89, 0x4C, 0x5A, 0x4F, 0x00, 0x0D, 0x0A, 0x1A, 0x0A}},
}

// lzmaMagic is the legacy LZMA alone-format header: a properties byte in
// [0, 0xE0) followed by a 4-byte dictionary size; bdrung/3cpio and other
// sniffers loosely match on the first three bytes actually observed in
// practice ("5D 00 00").
var lzmaMagic = []byte{0x5D, 0x00, 0x00}

// SniffMagic classifies the format starting at a segment boundary given
// at least 6 bytes of lookahead (fewer is accepted but may fail to match
// longer magics). It returns (kind, true) on a match, or (KindCpio,
// false) if peek looks like neither a known compression magic nor cpio
// magic.
func SniffMagic(peek []byte) (CompressionKind, bool) {
	if len(peek) >= 6 && (bytes.Equal(peek[:6], []byte(magicNewc)) || bytes.Equal(peek[:6], []byte(magicCrc))) {
		return KindCpio, true
	}
	for _, entry := range magicTable {
		if len(peek) >= len(entry.magic) && bytes.Equal(peek[:len(entry.magic)], entry.magic) {
			return entry.kind, true
		}
	}
	if len(peek) >= len(lzmaMagic) && bytes.Equal(peek[:len(lzmaMagic)], lzmaMagic) {
		return KindLZMA, true
	}
	return KindCpio, false
}

// isAllZero reports whether every byte in buf is zero, used to
// distinguish NUL padding between segments from unrecognized garbage.
func isAllZero(buf []byte) bool {
	for _, b := range buf {
		if b != 0 {
			return false
		}
	}
	return true
}
