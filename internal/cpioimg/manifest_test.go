package cpioimg

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestParseManifestDirectiveNoCompressor(t *testing.T) {
	src := "#cpio\n" +
		"-\tfoo\tdir\t0755\t0\t0\t1577836800\n"
	segs, err := ParseManifest(strings.NewReader(src), t.TempDir())
	if err != nil {
		t.Fatalf("ParseManifest: %v", err)
	}
	if len(segs) != 1 {
		t.Fatalf("expected 1 segment, got %d", len(segs))
	}
	if segs[0].Kind != KindCpio {
		t.Errorf("kind = %v, want cpio (no compression)", segs[0].Kind)
	}
	if len(segs[0].Entries) != 1 || segs[0].Entries[0].Name != "foo" {
		t.Fatalf("entries = %+v", segs[0].Entries)
	}
}

func TestParseManifestDirectiveWithCompressorAndLevel(t *testing.T) {
	src := "#cpio: zstd-19\n" +
		"-\tfoo\tdir\t0755\t0\t0\t1577836800\n"
	segs, err := ParseManifest(strings.NewReader(src), t.TempDir())
	if err != nil {
		t.Fatalf("ParseManifest: %v", err)
	}
	if segs[0].Kind != KindZstd {
		t.Fatalf("kind = %v, want zstd", segs[0].Kind)
	}
	if segs[0].Level == nil || *segs[0].Level != 19 {
		t.Fatalf("level = %v, want 19", segs[0].Level)
	}
}

func TestParseManifestResolvesFromFilesystem(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "data.txt")
	if err := os.WriteFile(path, []byte("hello"), 0644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	src := "#cpio\n" + path + "\t-\t-\t-\t-\t-\t-\n"
	segs, err := ParseManifest(strings.NewReader(src), dir)
	if err != nil {
		t.Fatalf("ParseManifest: %v", err)
	}
	if len(segs[0].Entries) != 1 {
		t.Fatalf("entries = %+v", segs[0].Entries)
	}
	e := segs[0].Entries[0]
	if e.Type != "reg" {
		t.Errorf("type = %q, want reg", e.Type)
	}
	if e.Filesize != 5 {
		t.Errorf("filesize = %d, want 5", e.Filesize)
	}
	wantName := strings.TrimPrefix(path, "/")
	if e.Name != wantName {
		t.Errorf("name = %q, want %q", e.Name, wantName)
	}
}

func TestParseManifestMissingTypeFails(t *testing.T) {
	src := "#cpio\n" + "-\tfoo\t-\t0644\t0\t0\t0\n"
	_, err := ParseManifest(strings.NewReader(src), t.TempDir())
	if err == nil {
		t.Fatal("expected ManifestMissingTypeError, got nil")
	}
	if _, ok := err.(*ManifestMissingTypeError); !ok {
		t.Fatalf("expected *ManifestMissingTypeError, got %T: %v", err, err)
	}
}

func TestParseManifestSourceDateEpochClamp(t *testing.T) {
	t.Setenv("SOURCE_DATE_EPOCH", "1500000000")
	src := "#cpio\n" + "-\tfoo\tdir\t0755\t0\t0\t1577836800\n"
	segs, err := ParseManifest(strings.NewReader(src), t.TempDir())
	if err != nil {
		t.Fatalf("ParseManifest: %v", err)
	}
	if segs[0].Entries[0].Mtime != 1500000000 {
		t.Fatalf("mtime = %d, want clamped to 1500000000", segs[0].Entries[0].Mtime)
	}
}

func TestParseManifestSymlinkTargetFromReadlink(t *testing.T) {
	dir := t.TempDir()
	link := filepath.Join(dir, "lnk")
	if err := os.Symlink("/usr/bin/sh", link); err != nil {
		t.Fatalf("Symlink: %v", err)
	}
	src := "#cpio\n" + link + "\tbin/sh-link\tsymlink\t0777\t0\t0\t0\t-\n"
	segs, err := ParseManifest(strings.NewReader(src), dir)
	if err != nil {
		t.Fatalf("ParseManifest: %v", err)
	}
	e := segs[0].Entries[0]
	if e.Target != "/usr/bin/sh" {
		t.Errorf("target = %q, want /usr/bin/sh", e.Target)
	}
	if e.Filesize != uint64(len("/usr/bin/sh")) {
		t.Errorf("filesize = %d", e.Filesize)
	}
}

func TestParseManifestComment(t *testing.T) {
	src := "#cpio\n# just a comment\n\n-\tfoo\tdir\t0755\t0\t0\t0\n"
	segs, err := ParseManifest(strings.NewReader(src), t.TempDir())
	if err != nil {
		t.Fatalf("ParseManifest: %v", err)
	}
	if len(segs[0].Entries) != 1 {
		t.Fatalf("entries = %+v", segs[0].Entries)
	}
}
