package cpioimg

import (
	"bytes"
	"io"
	"os"
	"path/filepath"
	"testing"
)

func writeFixtureFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	return path
}

// TestWriteImageRoundTrip implements spec.md §8 property 1 (modulo ino
// renumbering, which the writer always performs on encode): writing a
// manifest and reading it back yields the same names and file data.
func TestWriteImageRoundTrip(t *testing.T) {
	dir := t.TempDir()
	fpath := writeFixtureFile(t, dir, "file.txt", "content\n")

	segs := []ManifestSegment{{
		Kind: KindCpio,
		Entries: []ManifestEntry{
			{Name: ".", Type: "dir", Mode: ModeDir | 0755, Mtime: 1577836800},
			{Name: "path", Type: "dir", Mode: ModeDir | 0755, Mtime: 1577836800},
			{Location: fpath, Name: "path/file", Type: "reg", Mode: ModeRegular | 0644, Mtime: 1577836800, Filesize: 8},
		},
	}}

	var out bytes.Buffer
	if err := WriteImageTo(&out, segs, dir); err != nil {
		t.Fatalf("WriteImageTo: %v", err)
	}

	r := NewReader(bytes.NewReader(out.Bytes()))
	defer r.Close()

	var names []string
	var lastData []byte
	for {
		e, err := r.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			t.Fatalf("Next: %v", err)
		}
		names = append(names, e.Name)
		if e.IsRegular() {
			data, err := io.ReadAll(e.Payload)
			if err != nil {
				t.Fatalf("ReadAll: %v", err)
			}
			lastData = data
		}
	}
	want := []string{".", "path", "path/file"}
	if len(names) != len(want) {
		t.Fatalf("names = %v, want %v", names, want)
	}
	for i := range want {
		if names[i] != want[i] {
			t.Fatalf("names = %v, want %v", names, want)
		}
	}
	if string(lastData) != "content\n" {
		t.Fatalf("data = %q, want %q", lastData, "content\n")
	}
}

// TestWriteImageDeterministic implements spec.md §8 property 6: identical
// already-resolved manifest input produces byte-identical output across
// runs.
func TestWriteImageDeterministic(t *testing.T) {
	dir := t.TempDir()
	fpath := writeFixtureFile(t, dir, "a", "hello")

	segs := []ManifestSegment{{
		Kind: KindCpio,
		Entries: []ManifestEntry{
			{Location: fpath, Name: "a", Type: "reg", Mode: ModeRegular | 0644, Mtime: 1500000000, Filesize: 5},
		},
	}}

	var out1, out2 bytes.Buffer
	if err := WriteImageTo(&out1, segs, dir); err != nil {
		t.Fatalf("WriteImageTo: %v", err)
	}
	if err := WriteImageTo(&out2, segs, dir); err != nil {
		t.Fatalf("WriteImageTo: %v", err)
	}
	if !bytes.Equal(out1.Bytes(), out2.Bytes()) {
		t.Fatal("two runs with identical input produced different bytes")
	}
}

func TestWriteImageSizeMismatch(t *testing.T) {
	dir := t.TempDir()
	fpath := writeFixtureFile(t, dir, "a", "short")

	segs := []ManifestSegment{{
		Kind: KindCpio,
		Entries: []ManifestEntry{
			{Location: fpath, Name: "a", Type: "reg", Mode: ModeRegular | 0644, Filesize: 9999},
		},
	}}

	var out bytes.Buffer
	err := WriteImageTo(&out, segs, dir)
	if _, ok := err.(*SizeMismatchError); !ok {
		t.Fatalf("expected *SizeMismatchError, got %T: %v", err, err)
	}
}

func TestWriteImageNeverSorts(t *testing.T) {
	dir := t.TempDir()
	segs := []ManifestSegment{{
		Kind: KindCpio,
		Entries: []ManifestEntry{
			{Name: "zzz", Type: "dir", Mode: ModeDir | 0755},
			{Name: "aaa", Type: "dir", Mode: ModeDir | 0755},
		},
	}}
	var out bytes.Buffer
	if err := WriteImageTo(&out, segs, dir); err != nil {
		t.Fatalf("WriteImageTo: %v", err)
	}
	r := NewReader(bytes.NewReader(out.Bytes()))
	defer r.Close()
	e1, err := r.Next()
	if err != nil {
		t.Fatalf("Next: %v", err)
	}
	if e1.Name != "zzz" {
		t.Fatalf("first entry = %q, want zzz (manifest order preserved)", e1.Name)
	}
}

func TestWriteImageTrailerAnd512Padding(t *testing.T) {
	dir := t.TempDir()
	segs := []ManifestSegment{{
		Kind:    KindCpio,
		Entries: []ManifestEntry{{Name: "a", Type: "dir", Mode: ModeDir | 0755}},
	}}
	var out bytes.Buffer
	if err := WriteImageTo(&out, segs, dir); err != nil {
		t.Fatalf("WriteImageTo: %v", err)
	}
	if out.Len()%blockSize != 0 {
		t.Fatalf("output length %d is not a multiple of %d", out.Len(), blockSize)
	}
}
