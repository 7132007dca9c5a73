package main

import (
	"github.com/bdrung/3cpio/internal/cpioimg"
)

func runExtract(file string) error {
	f, err := openInput(file)
	if err != nil {
		return err
	}
	defer f.Close()

	r := cpioimg.NewReader(f)
	defer r.Close()

	ex := cpioimg.NewExtractor(cpioimg.ExtractOptions{
		Dir:                 opts.dir,
		Subdir:              opts.subdir,
		Force:               opts.force,
		PreservePermissions: opts.preserve,
		Verbose:             opts.verbose,
		Debug:               opts.debug,
	})
	return ex.Run(r)
}
