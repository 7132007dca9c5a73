// Command 3cpio inspects, extracts, and creates Linux initramfs images:
// concatenations of one or more newc/crc cpio archives, any suffix of
// which may be compressed by an external compressor.
package main

import (
	"fmt"
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

// version is overridden at build time via -ldflags, mirroring the
// teacher's build-time version variables (Azure-AKSFlexNode's
// commands.go Version/GitCommit/BuildTime).
var version = "dev"

var opts struct {
	count   bool
	examine bool
	list    bool
	extract bool
	create  bool

	dir      string
	subdir   string
	force    bool
	preserve bool
	verbose  bool
	debug    bool
}

func newRootCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "3cpio [flags] [FILE|ARCHIVE]",
		Short:   "Inspect, extract, and create Linux initramfs cpio images",
		Version: version,
		Args:    cobra.MaximumNArgs(1),
		RunE:    run,
		SilenceUsage: true,
	}

	cmd.Flags().BoolVar(&opts.count, "count", false, "Print decimal count of archives")
	cmd.Flags().BoolVarP(&opts.examine, "examine", "e", false, "Print per-segment offset and compression kind")
	cmd.Flags().BoolVarP(&opts.list, "list", "t", false, "List contained files")
	cmd.Flags().BoolVarP(&opts.extract, "extract", "x", false, "Extract contained files to disk")
	cmd.Flags().BoolVarP(&opts.create, "create", "c", false, "Read a manifest on stdin and write an archive")

	cmd.Flags().StringVarP(&opts.dir, "directory", "C", "", "Change to DIR before extracting")
	cmd.Flags().StringVarP(&opts.subdir, "subdir", "s", "", "Extract each concatenated archive into NAMEi")
	cmd.Flags().BoolVar(&opts.force, "force", false, "Overwrite existing files during extraction")
	cmd.Flags().BoolVarP(&opts.preserve, "preserve-permissions", "p", false, "Restore exact file permissions")
	cmd.Flags().BoolVarP(&opts.verbose, "verbose", "v", false, "Verbose listing/progress output")
	cmd.Flags().BoolVar(&opts.debug, "debug", false, "Print additional inode/debug information")

	return cmd
}

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "3cpio: %s\n", err.Error())
		os.Exit(1)
	}
}

func run(cmd *cobra.Command, args []string) error {
	if opts.debug {
		logrus.SetLevel(logrus.DebugLevel)
	}

	modes := 0
	for _, b := range []bool{opts.count, opts.examine, opts.list, opts.extract, opts.create} {
		if b {
			modes++
		}
	}
	if modes == 0 {
		return fmt.Errorf("no mode selected; one of --count, -e, -t, -x, -c is required")
	}
	if modes > 1 {
		return fmt.Errorf("only one of --count, -e, -t, -x, -c may be given")
	}

	var file string
	if len(args) > 0 {
		file = args[0]
	}

	switch {
	case opts.count:
		return runCount(file)
	case opts.examine:
		return runExamine(file)
	case opts.list:
		return runList(file)
	case opts.extract:
		return runExtract(file)
	case opts.create:
		return runCreate(file)
	}
	return nil
}

func openInput(file string) (*os.File, error) {
	if file == "" || file == "-" {
		return os.Stdin, nil
	}
	return os.Open(file)
}
