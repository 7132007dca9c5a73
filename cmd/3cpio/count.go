package main

import (
	"fmt"

	"github.com/bdrung/3cpio/internal/cpioimg"
)

func runCount(file string) error {
	f, err := openInput(file)
	if err != nil {
		return err
	}
	defer f.Close()

	segments, err := cpioimg.ScanAll(f)
	if err != nil {
		return err
	}
	fmt.Println(len(segments))
	return nil
}
