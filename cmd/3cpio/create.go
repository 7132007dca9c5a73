package main

import (
	"bufio"
	"os"

	"github.com/bdrung/3cpio/internal/cpioimg"
)

// runCreate reads a manifest on stdin and writes the resulting image to
// archive, or to stdout when archive is empty, per spec.md §6.
func runCreate(archive string) error {
	segments, err := cpioimg.ParseManifest(bufio.NewReader(os.Stdin), ".")
	if err != nil {
		return err
	}

	if archive == "" {
		return cpioimg.WriteImageTo(os.Stdout, segments, ".")
	}
	return cpioimg.WriteImage(archive, segments, ".")
}
