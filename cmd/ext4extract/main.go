package main

import (
	"errors"
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/hexedit/ext4extract/ext4"
	"github.com/hexedit/ext4extract/extract"
)

// usageError marks errors that should exit with code 2, like a bad flag or
// missing argument, as opposed to I/O and parse failures which exit 1.
type usageError struct{ err error }

func (e *usageError) Error() string { return e.err.Error() }
func (e *usageError) Unwrap() error { return e.err }

var (
	flagVerbose         bool
	flagDirectory       string
	flagSymlinkTable    string
	flagMetadataTable   string
	flagSaveSymlinks    bool
	flagTextSymlinks    bool
	flagEmptySymlinks   bool
	flagSkipSymlinks    bool
	flagAbsoluteExtents bool
)

func newRootCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ext4extract [flags] filename",
		Short: "Extract directories, files and symlinks from an ext4 image",
		Args: func(cmd *cobra.Command, args []string) error {
			if err := cobra.ExactArgs(1)(cmd, args); err != nil {
				return &usageError{err}
			}
			return nil
		},
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE:          run,
	}

	f := cmd.Flags()
	f.BoolVarP(&flagVerbose, "verbose", "v", false, "verbose output")
	f.StringVarP(&flagDirectory, "directory", "D", ".", "set output directory")
	f.StringVarP(&flagSymlinkTable, "dump-symlink-table", "S", "", "generate symlink table")
	f.StringVarP(&flagMetadataTable, "dump-metadata", "M", "", "generate inode metadata table")
	f.BoolVar(&flagSaveSymlinks, "save-symlinks", false, "save symlinks as is (default)")
	f.BoolVar(&flagTextSymlinks, "text-symlinks", false, "save symlinks as text file")
	f.BoolVar(&flagEmptySymlinks, "empty-symlinks", false, "save symlinks as empty file")
	f.BoolVar(&flagSkipSymlinks, "skip-symlinks", false, "do not save symlinks")
	f.BoolVar(&flagAbsoluteExtents, "absolute-extents", false, "resolve extent addresses as absolute filesystem blocks")

	cmd.SetFlagErrorFunc(func(_ *cobra.Command, err error) error {
		return &usageError{err}
	})
	return cmd
}

func symlinkMode() (extract.SymlinkMode, error) {
	set := 0
	mode := extract.SaveSymlinks
	for _, m := range []struct {
		flag bool
		mode extract.SymlinkMode
	}{
		{flagSaveSymlinks, extract.SaveSymlinks},
		{flagTextSymlinks, extract.TextSymlinks},
		{flagEmptySymlinks, extract.EmptySymlinks},
		{flagSkipSymlinks, extract.SkipSymlinks},
	} {
		if m.flag {
			set++
			mode = m.mode
		}
	}
	if set > 1 {
		return 0, &usageError{errors.New("symlink mode flags are mutually exclusive")}
	}
	return mode, nil
}

func run(cmd *cobra.Command, args []string) error {
	if flagVerbose {
		logrus.SetLevel(logrus.DebugLevel)
	}
	mode, err := symlinkMode()
	if err != nil {
		return err
	}

	var opts []ext4.Option
	if flagAbsoluteExtents {
		opts = append(opts, ext4.WithAbsoluteExtents())
	}
	fs, err := ext4.Open(args[0], opts...)
	if err != nil {
		return err
	}
	defer fs.Close()
	logrus.Debug(fs.String())

	eopts := extract.Options{
		Symlinks: mode,
		Logger:   logrus.StandardLogger(),
	}
	if flagVerbose {
		eopts.Progress = cmd.OutOrStdout()
	}
	if flagSymlinkTable != "" {
		f, err := os.Create(flagSymlinkTable)
		if err != nil {
			return err
		}
		defer f.Close()
		eopts.SymlinkTable = f
	}
	if flagMetadataTable != "" {
		f, err := os.Create(flagMetadataTable)
		if err != nil {
			return err
		}
		defer f.Close()
		eopts.MetadataTable = f
	}

	return extract.New(fs, eopts).Extract(flagDirectory)
}

func main() {
	cmd := newRootCommand()
	if err := cmd.Execute(); err != nil {
		logrus.Error(err)
		var uerr *usageError
		if errors.As(err, &uerr) {
			os.Exit(2)
		}
		os.Exit(1)
	}
}
