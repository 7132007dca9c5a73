package cpioimg

import (
	"bytes"
	"fmt"
	"io"
	"os/exec"
	"strconv"

	"github.com/sirupsen/logrus"
)

// compressorSpec describes how to invoke the external program responsible
// for one CompressionKind, grounded on holo-build's debian/generator.go
// buildDataTar (exec.Command + captured stdout) and rpm/payload.go (the
// "xz --format=lzma" invocation for the lzma kind), generalized here into
// a table covering all seven compression kinds instead of one hardcoded
// call.
type compressorSpec struct {
	program        string
	decompressArgs []string
	compressArgs   func(level *int, reproducible bool) []string
}

var compressorTable = map[CompressionKind]compressorSpec{
	KindGzip: {
		program:        "gzip",
		decompressArgs: []string{"-cd"},
		compressArgs: func(level *int, reproducible bool) []string {
			args := []string{"-c"}
			if reproducible {
				args = append(args, "-n")
			}
			return append(args, levelArg(level)...)
		},
	},
	KindBzip2: {
		program:        "bzip2",
		decompressArgs: []string{"-cd"},
		compressArgs: func(level *int, reproducible bool) []string {
			return append([]string{"-c"}, levelArg(level)...)
		},
	},
	KindXZ: {
		program:        "xz",
		decompressArgs: []string{"-cd"},
		compressArgs: func(level *int, reproducible bool) []string {
			args := []string{"-c"}
			if reproducible {
				args = append(args, "--threads=1")
			}
			return append(args, levelArg(level)...)
		},
	},
	KindLZMA: {
		program:        "xz",
		decompressArgs: []string{"--format=lzma", "-cd"},
		compressArgs: func(level *int, reproducible bool) []string {
			args := []string{"--format=lzma", "-c"}
			if reproducible {
				args = append(args, "--threads=1")
			}
			return append(args, levelArg(level)...)
		},
	},
	KindZstd: {
		program:        "zstd",
		decompressArgs: []string{"-cd"},
		compressArgs: func(level *int, reproducible bool) []string {
			args := []string{"-c"}
			if reproducible {
				args = append(args, "--threads=1")
			}
			return append(args, levelArg(level)...)
		},
	},
	KindLZOP: {
		program:        "lzop",
		decompressArgs: []string{"-cd"},
		compressArgs: func(level *int, reproducible bool) []string {
			return append([]string{"-c"}, levelArg(level)...)
		},
	},
	KindLZ4: {
		program:        "lz4",
		decompressArgs: []string{"-cd"},
		compressArgs: func(level *int, reproducible bool) []string {
			return append([]string{"-c"}, levelArg(level)...)
		},
	},
}

func levelArg(level *int) []string {
	if level == nil {
		return nil
	}
	return []string{"-" + strconv.Itoa(*level)}
}

// maxStderrTail bounds how much of a failed compressor's stderr is kept
// for CompressorFailedError.
const maxStderrTail = 4096

type tailBuffer struct {
	buf bytes.Buffer
}

func (t *tailBuffer) Write(p []byte) (int, error) {
	t.buf.Write(p)
	if t.buf.Len() > maxStderrTail {
		excess := t.buf.Len() - maxStderrTail
		b := t.buf.Bytes()
		t.buf.Reset()
		t.buf.Write(b[excess:])
	}
	return len(p), nil
}

func (t *tailBuffer) String() string {
	return t.buf.String()
}

// process wraps an external (de)compressor child process whose stdout is
// read incrementally by the caller. Reader holds one as its current
// source (cur/curProc) while a compressed segment is being read.
type process struct {
	cmd     *exec.Cmd
	stdout  io.ReadCloser
	stderr  *tailBuffer
	kind    CompressionKind
	pumpErr chan error // non-nil only for the compress direction
	waited  bool
	waitErr error
}

// startDecompressor spawns the external decompressor for kind, feeding it
// stdin and returning a process whose Read yields decompressed bytes.
//
// Per spec.md §5, when stdin is a real file the kernel reads it directly
// as the child's stdin (no pipe, no pump goroutine needed); this is what
// passing an *os.File as cmd.Stdin achieves.
func startDecompressor(kind CompressionKind, stdin io.Reader) (*process, error) {
	spec, ok := compressorTable[kind]
	if !ok {
		return nil, fmt.Errorf("no decompressor registered for %s", kind)
	}
	if _, err := exec.LookPath(spec.program); err != nil {
		return nil, &CompressorMissingError{Program: spec.program}
	}

	cmd := exec.Command(spec.program, spec.decompressArgs...)
	cmd.Stdin = stdin
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, err
	}
	stderr := &tailBuffer{}
	cmd.Stderr = stderr

	logrus.Debugf("cpioimg: starting decompressor %s %v", spec.program, spec.decompressArgs)
	if err := cmd.Start(); err != nil {
		return nil, err
	}
	return &process{cmd: cmd, stdout: stdout, stderr: stderr, kind: kind}, nil
}

// startCompressor spawns the external compressor for kind. Both
// directions must progress to avoid a pipe-buffer deadlock (spec.md §5),
// so startCompressor itself starts a pump goroutine that copies src into
// the child's stdin; the caller only needs to drain the compressed stream
// through the returned process's Read.
func startCompressor(kind CompressionKind, level *int, reproducible bool, src io.Reader) (*process, error) {
	spec, ok := compressorTable[kind]
	if !ok {
		return nil, fmt.Errorf("no compressor registered for %s", kind)
	}
	if _, err := exec.LookPath(spec.program); err != nil {
		return nil, &CompressorMissingError{Program: spec.program}
	}

	args := spec.compressArgs(level, reproducible)
	cmd := exec.Command(spec.program, args...)

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, err
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, err
	}
	stderr := &tailBuffer{}
	cmd.Stderr = stderr

	logrus.Debugf("cpioimg: starting compressor %s %v", spec.program, args)
	if err := cmd.Start(); err != nil {
		return nil, err
	}

	pumpErr := make(chan error, 1)
	go func() {
		_, err := io.Copy(stdin, src)
		closeErr := stdin.Close()
		if err == nil {
			err = closeErr
		}
		pumpErr <- err
	}()

	return &process{cmd: cmd, stdout: stdout, stderr: stderr, kind: kind, pumpErr: pumpErr}, nil
}

// Read implements io.Reader, yielding (de)compressed bytes from the
// child's stdout. On EOF it transparently waits for the child and the
// pump goroutine (if any) and, instead of io.EOF, returns
// CompressorFailedError if the child exited non-zero, or the pump's
// wrapped write error if copying into the child's stdin failed.
func (p *process) Read(b []byte) (int, error) {
	n, err := p.stdout.Read(b)
	if err == io.EOF {
		if finishErr := p.finish(); finishErr != nil {
			return n, finishErr
		}
	}
	return n, err
}

func (p *process) finish() error {
	if p.waited {
		return p.waitErr
	}
	p.waited = true

	var pumpErr error
	if p.pumpErr != nil {
		pumpErr = <-p.pumpErr
	}

	waitErr := p.cmd.Wait()
	if waitErr != nil {
		status := -1
		if exitErr, ok := waitErr.(*exec.ExitError); ok {
			status = exitErr.ExitCode()
		}
		p.waitErr = &CompressorFailedError{Kind: p.kind, Status: status, StderrTail: p.stderr.String()}
		return p.waitErr
	}
	if pumpErr != nil {
		p.waitErr = fmt.Errorf("writing to %s: %w", p.kind, pumpErr)
		return p.waitErr
	}
	return nil
}

// Close aborts the process if it has not naturally finished: it closes
// the stdout pipe (causing the child to see EPIPE on further writes),
// kills the process, and reaps it with a bounded wait so no child is
// left behind on any exit path (spec.md §5).
func (p *process) Close() error {
	_ = p.stdout.Close()
	if !p.waited {
		if p.cmd.Process != nil {
			_ = p.cmd.Process.Kill()
		}
		if p.pumpErr != nil {
			<-p.pumpErr
		}
		_ = p.cmd.Wait()
		p.waited = true
	}
	return nil
}
