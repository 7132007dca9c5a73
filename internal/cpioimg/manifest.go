package cpioimg

import (
	"bufio"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// ManifestEntry is one parsed, fully-resolved entry line ready for the
// Writer, per spec.md §4.H.
type ManifestEntry struct {
	Location  string // empty when "-" (no filesystem source)
	Name      string
	Type      string // reg, dir, symlink, fifo, sock, char, block, link
	Mode      uint32
	UID       uint32
	GID       uint32
	Mtime     int64
	Filesize  uint64 // reg only
	Rdevmajor uint32 // char/block only: the device number being created
	Rdevminor uint32
	Target    string // symlink only
	LinkTo    string // link only: path of the entry this hard-links to
}

// ManifestSegment is one `#cpio[: compressor[-level]]` section and its
// entries, in manifest order.
type ManifestSegment struct {
	Kind    CompressionKind
	Level   *int
	Entries []ManifestEntry
}

// ParseManifest parses the full tab-separated manifest grammar of
// spec.md §4.H, resolving elided fields from the filesystem relative to
// baseDir (the directory manifest-relative locations are interpreted
// against; typically the manifest file's own directory).
func ParseManifest(r io.Reader, baseDir string) ([]ManifestSegment, error) {
	var segments []ManifestSegment
	var collector ErrorCollector

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := scanner.Text()
		trimmed := strings.TrimSpace(line)

		if trimmed == "" {
			continue
		}
		if strings.HasPrefix(trimmed, "#cpio") {
			seg, err := parseDirective(trimmed, lineNo)
			if err != nil {
				collector.Add(err)
				continue
			}
			segments = append(segments, ManifestSegment{Kind: seg.Kind, Level: seg.Level})
			continue
		}
		if strings.HasPrefix(trimmed, "#") {
			continue
		}
		if len(segments) == 0 {
			collector.Addf("manifest line %d: entry precedes any #cpio directive", lineNo)
			continue
		}

		entry, err := parseEntryLine(line, lineNo, baseDir)
		if err != nil {
			collector.Add(err)
			continue
		}
		last := &segments[len(segments)-1]
		last.Entries = append(last.Entries, *entry)
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	for i := 0; i < len(segments)-1; i++ {
		if segments[i].Kind != KindCpio {
			collector.Addf("manifest: %s-compressed segment %d is not the last segment", segments[i].Kind, i+1)
		}
	}
	if collector.Any() {
		return nil, collector.Errors[0]
	}
	return segments, nil
}

func parseDirective(line string, lineNo int) (ManifestSegment, error) {
	rest := strings.TrimPrefix(line, "#cpio")
	rest = strings.TrimSpace(rest)
	if rest == "" {
		return ManifestSegment{Kind: KindCpio}, nil
	}
	if !strings.HasPrefix(rest, ":") {
		return ManifestSegment{}, &ManifestSyntaxError{Line: lineNo, Reason: "expected ':' after #cpio"}
	}
	rest = strings.TrimSpace(strings.TrimPrefix(rest, ":"))

	name := rest
	levelStr := ""
	if idx := strings.LastIndex(rest, "-"); idx > 0 {
		name = rest[:idx]
		levelStr = rest[idx+1:]
	}
	kind, ok := compressorNameToKind(name)
	if !ok {
		return ManifestSegment{}, &ManifestSyntaxError{Line: lineNo, Reason: "unknown compressor " + name}
	}
	var level *int
	if levelStr != "" {
		n, err := strconv.Atoi(levelStr)
		if err != nil {
			return ManifestSegment{}, &ManifestSyntaxError{Line: lineNo, Reason: "invalid compression level"}
		}
		level = &n
	}
	return ManifestSegment{Kind: kind, Level: level}, nil
}

func compressorNameToKind(name string) (CompressionKind, bool) {
	switch name {
	case "gzip":
		return KindGzip, true
	case "bzip2":
		return KindBzip2, true
	case "xz":
		return KindXZ, true
	case "lzma":
		return KindLZMA, true
	case "zstd":
		return KindZstd, true
	case "lzop":
		return KindLZOP, true
	case "lz4":
		return KindLZ4, true
	default:
		return 0, false
	}
}

func isUnspecified(field string) bool {
	return field == "" || field == "-"
}

// parseEntryLine parses one tab-separated entry line and resolves
// elided fields via lstat/readlink of location, per spec.md §4.H.
func parseEntryLine(line string, lineNo int, baseDir string) (*ManifestEntry, error) {
	fields := strings.Split(line, "\t")
	for len(fields) < 7 {
		fields = append(fields, "-")
	}
	locationField, nameField, typeField, modeField, uidField, gidField, mtimeField := fields[0], fields[1], fields[2], fields[3], fields[4], fields[5], fields[6]
	extra := fields[7:]

	var location string
	if !isUnspecified(locationField) {
		location = locationField
	}

	var fi os.FileInfo
	var lstatErr error
	statLocation := func() (os.FileInfo, error) {
		if fi != nil || lstatErr != nil {
			return fi, lstatErr
		}
		path := location
		if !filepath.IsAbs(path) {
			path = filepath.Join(baseDir, path)
		}
		fi, lstatErr = os.Lstat(path)
		return fi, lstatErr
	}

	e := &ManifestEntry{Location: location}

	typ := typeField
	if isUnspecified(typ) {
		if location == "" {
			return nil, &ManifestMissingTypeError{Line: lineNo}
		}
		info, err := statLocation()
		if err != nil {
			return nil, &ManifestSyntaxError{Line: lineNo, Reason: "cannot stat " + location}
		}
		typ = typeFromFileMode(info.Mode())
	}
	e.Type = typ

	name := nameField
	if isUnspecified(name) {
		if location == "" {
			return nil, &ManifestSyntaxError{Line: lineNo, Reason: "cannot derive name: no location"}
		}
		name = deriveNameFromLocation(location, baseDir)
	}
	e.Name = name

	mode := e.defaultModeForType()
	if !isUnspecified(modeField) {
		v, err := strconv.ParseUint(modeField, 8, 32)
		if err != nil {
			return nil, &ManifestSyntaxError{Line: lineNo, Reason: "invalid mode " + modeField}
		}
		mode = uint32(v)
	} else if location != "" {
		info, err := statLocation()
		if err == nil {
			mode = uint32(info.Mode().Perm())
		}
	}
	e.Mode = mode | typeToModeFmt(typ)

	if !isUnspecified(uidField) {
		v, err := strconv.ParseUint(uidField, 10, 32)
		if err != nil {
			return nil, &ManifestSyntaxError{Line: lineNo, Reason: "invalid uid"}
		}
		e.UID = uint32(v)
	} else if location != "" {
		if sysUID, ok := statUID(location, baseDir); ok {
			e.UID = sysUID
		}
	}

	if !isUnspecified(gidField) {
		v, err := strconv.ParseUint(gidField, 10, 32)
		if err != nil {
			return nil, &ManifestSyntaxError{Line: lineNo, Reason: "invalid gid"}
		}
		e.GID = uint32(v)
	} else if location != "" {
		if sysGID, ok := statGID(location, baseDir); ok {
			e.GID = sysGID
		}
	}

	if !isUnspecified(mtimeField) {
		v, err := strconv.ParseInt(mtimeField, 10, 64)
		if err != nil {
			return nil, &ManifestSyntaxError{Line: lineNo, Reason: "invalid mtime"}
		}
		e.Mtime = v
	} else if location != "" {
		info, err := statLocation()
		if err == nil {
			e.Mtime = info.ModTime().Unix()
		}
	}
	e.Mtime = clampToSourceDateEpoch(e.Mtime)

	switch typ {
	case "reg":
		if len(extra) > 0 && !isUnspecified(extra[0]) {
			v, err := strconv.ParseUint(extra[0], 10, 64)
			if err != nil {
				return nil, &ManifestSyntaxError{Line: lineNo, Reason: "invalid filesize"}
			}
			e.Filesize = v
		} else if location != "" {
			info, err := statLocation()
			if err == nil {
				e.Filesize = uint64(info.Size())
			}
		}
	case "char", "block":
		if len(extra) >= 2 {
			maj, err1 := strconv.ParseUint(extra[0], 10, 32)
			min, err2 := strconv.ParseUint(extra[1], 10, 32)
			if err1 != nil || err2 != nil {
				return nil, &ManifestSyntaxError{Line: lineNo, Reason: "invalid device major/minor"}
			}
			e.Rdevmajor = uint32(maj)
			e.Rdevminor = uint32(min)
		}
	case "symlink":
		target := ""
		if len(extra) > 0 {
			target = extra[0]
		}
		if isUnspecified(target) {
			if location == "" {
				return nil, &ManifestSyntaxError{Line: lineNo, Reason: "symlink requires target or location"}
			}
			path := location
			if !filepath.IsAbs(path) {
				path = filepath.Join(baseDir, path)
			}
			t, err := os.Readlink(path)
			if err != nil {
				return nil, &ManifestSyntaxError{Line: lineNo, Reason: "cannot readlink " + location}
			}
			target = t
		}
		e.Target = target
		e.Filesize = uint64(len(target))
	case "link":
		// Recorded for informational completeness; the writer assigns a
		// fresh synthetic ino per entry regardless of type, so link
		// entries are emitted as independent zero-size records rather
		// than true hardlinks.
		if len(extra) > 0 {
			e.LinkTo = extra[0]
		}
	}

	return e, nil
}

func (e *ManifestEntry) defaultModeForType() uint32 {
	switch e.Type {
	case "dir":
		return 0755
	default:
		return 0644
	}
}

func typeFromFileMode(m os.FileMode) string {
	switch {
	case m&os.ModeSymlink != 0:
		return "symlink"
	case m.IsDir():
		return "dir"
	case m&os.ModeNamedPipe != 0:
		return "fifo"
	case m&os.ModeSocket != 0:
		return "sock"
	case m&os.ModeDevice != 0 && m&os.ModeCharDevice != 0:
		return "char"
	case m&os.ModeDevice != 0:
		return "block"
	default:
		return "reg"
	}
}

func typeToModeFmt(typ string) uint32 {
	switch typ {
	case "dir":
		return ModeDir
	case "symlink":
		return ModeSymlink
	case "fifo":
		return ModeFifo
	case "sock":
		return ModeSocket
	case "char":
		return ModeChar
	case "block":
		return ModeBlock
	default:
		return ModeRegular
	}
}

// deriveNameFromLocation strips a leading slash and any directory prefix
// equal to the current working directory, per spec.md §4.H.
func deriveNameFromLocation(location, baseDir string) string {
	name := strings.TrimPrefix(location, "/")
	if cwd, err := os.Getwd(); err == nil {
		cwd = strings.TrimPrefix(cwd, "/") + "/"
		name = strings.TrimPrefix(name, cwd)
	}
	return name
}
