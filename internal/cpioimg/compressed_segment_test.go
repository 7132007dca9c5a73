package cpioimg

import (
	"bytes"
	"io"
	"testing"

	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
	"github.com/ulikunitz/xz"
)

// compressWithZstd/XZ/LZ4 build real compressed fixtures in-process so
// tests don't depend on a compressor binary being installed, mirroring how
// ZaparooProject-go-gameid's chd codecs build compressed fixtures via the
// same libraries rather than shelling out. Decompression, per spec.md's
// Non-goals, is still always done by the production code via an external
// process (requireBinary skips when that binary is absent).

func compressWithZstd(t *testing.T, data []byte) []byte {
	t.Helper()
	var buf bytes.Buffer
	w, err := zstd.NewWriter(&buf)
	if err != nil {
		t.Fatalf("zstd.NewWriter: %v", err)
	}
	if _, err := w.Write(data); err != nil {
		t.Fatalf("zstd Write: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("zstd Close: %v", err)
	}
	return buf.Bytes()
}

func compressWithXZ(t *testing.T, data []byte) []byte {
	t.Helper()
	var buf bytes.Buffer
	w, err := xz.NewWriter(&buf)
	if err != nil {
		t.Fatalf("xz.NewWriter: %v", err)
	}
	if _, err := w.Write(data); err != nil {
		t.Fatalf("xz Write: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("xz Close: %v", err)
	}
	return buf.Bytes()
}

func compressWithLZ4(t *testing.T, data []byte) []byte {
	t.Helper()
	var buf bytes.Buffer
	w := lz4.NewWriter(&buf)
	if _, err := w.Write(data); err != nil {
		t.Fatalf("lz4 Write: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("lz4 Close: %v", err)
	}
	return buf.Bytes()
}

func TestSniffRealCompressedFixtures(t *testing.T) {
	inner := buildCpio([]fixtureEntry{
		{name: "usr/bin/sh", mode: ModeRegular | 0755, ino: 1, nlink: 1, data: []byte("#!/bin/sh\n")},
	})

	cases := []struct {
		name string
		kind CompressionKind
		data []byte
	}{
		{"zstd", KindZstd, compressWithZstd(t, inner)},
		{"xz", KindXZ, compressWithXZ(t, inner)},
		{"lz4", KindLZ4, compressWithLZ4(t, inner)},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			peek := c.data
			if len(peek) > 9 {
				peek = peek[:9]
			}
			kind, ok := SniffMagic(peek)
			if !ok || kind != c.kind {
				t.Fatalf("SniffMagic = (%v, %v), want (%v, true)", kind, ok, c.kind)
			}
		})
	}
}

// TestReaderDecompressesRealZstdSegment exercises the full read path
// (scanner -> external decompressor -> entry iterator) against a real
// zstd-compressed cpio built with klauspost/compress, gated on the zstd
// binary actually being installed since decompression always shells out.
func TestReaderDecompressesRealZstdSegment(t *testing.T) {
	requireBinary(t, "zstd")

	inner := buildCpio([]fixtureEntry{
		{name: "usr/bin/sh", mode: ModeRegular | 0755, ino: 1, nlink: 1, data: []byte("#!/bin/sh\n")},
	})
	compressed := compressWithZstd(t, inner)

	r := NewReader(bytes.NewReader(compressed))
	defer r.Close()
	e, err := r.Next()
	if err != nil {
		t.Fatalf("Next: %v", err)
	}
	if e.Name != "usr/bin/sh" {
		t.Fatalf("name = %q, want usr/bin/sh", e.Name)
	}
	data, err := io.ReadAll(e.Payload)
	if err != nil {
		t.Fatalf("ReadAll: %v", err)
	}
	if string(data) != "#!/bin/sh\n" {
		t.Fatalf("data = %q", data)
	}
	if _, err := r.Next(); err != io.EOF {
		t.Fatalf("expected io.EOF after single entry, got %v", err)
	}
}
