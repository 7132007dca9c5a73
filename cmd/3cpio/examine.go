package main

import (
	"fmt"

	"github.com/bdrung/3cpio/internal/cpioimg"
)

// runExamine prints one TAB-separated "offset kind" line per segment, per
// spec.md §6's "Wire behaviors for --examine".
func runExamine(file string) error {
	f, err := openInput(file)
	if err != nil {
		return err
	}
	defer f.Close()

	segments, err := cpioimg.ScanAll(f)
	if err != nil {
		return err
	}
	for _, seg := range segments {
		fmt.Printf("%d\t%s\n", seg.Offset, seg.Kind)
	}
	return nil
}
