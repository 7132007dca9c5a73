package main

import (
	"io"
	"os"
	"time"

	"github.com/bdrung/3cpio/internal/cpioimg"
)

func runList(file string) error {
	f, err := openInput(file)
	if err != nil {
		return err
	}
	defer f.Close()

	mode := cpioimg.ListPlain
	switch {
	case opts.debug:
		mode = cpioimg.ListDebug
	case opts.verbose:
		mode = cpioimg.ListVerbose
	}

	r := cpioimg.NewReader(f)
	defer r.Close()
	lister := cpioimg.NewLister(os.Stdout, mode, time.Now())

	for {
		e, err := r.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
		if err := lister.Print(e); err != nil {
			return err
		}
	}
}
