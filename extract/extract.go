// Package extract materializes the tree of an ext4 image into a host
// directory and feeds the optional sidecar sinks.
package extract

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/sirupsen/logrus"
	"golang.org/x/xerrors"

	"github.com/hexedit/ext4extract/ext4"
)

// SymlinkMode selects how symlinks are materialized on the host.
type SymlinkMode int

const (
	// SaveSymlinks writes a native symlink, atomically via a temp name.
	SaveSymlinks SymlinkMode = iota
	// TextSymlinks writes a regular file containing the target.
	TextSymlinks
	// EmptySymlinks writes an empty regular file.
	EmptySymlinks
	// SkipSymlinks does not materialize symlinks at all.
	SkipSymlinks
)

// Options configures an Extractor. Nil sinks are disabled.
type Options struct {
	Symlinks SymlinkMode

	// Progress receives one line per extracted path when non-nil.
	Progress io.Writer

	// SymlinkTable receives `path="..." target="..."` lines.
	SymlinkTable io.Writer

	// MetadataTable receives one metadata line per entry.
	MetadataTable io.Writer

	Logger logrus.FieldLogger
}

// Extractor drives the tree copy from a FileSystem's root. It serializes
// all facade calls; it is not safe for concurrent use.
type Extractor struct {
	fs   *ext4.FileSystem
	opts Options
}

func New(fs *ext4.FileSystem, opts Options) *Extractor {
	if opts.Logger == nil {
		opts.Logger = logrus.StandardLogger()
	}
	return &Extractor{fs: fs, opts: opts}
}

// Extract materializes the whole image under dir. Re-running over an
// existing output directory overwrites files in place.
func (e *Extractor) Extract(dir string) error {
	entries, err := e.fs.Root()
	if err != nil {
		return xerrors.Errorf("failed to read root directory: %w", err)
	}
	return e.extractDir(entries, dir, "")
}

// extractDir writes one directory level. path is the host path, rpath the
// virtual path inside the image, rooted at "/".
func (e *Extractor) extractDir(entries []ext4.DirEntry, path, rpath string) error {
	if err := os.Mkdir(path, 0o755); err != nil && !os.IsExist(err) {
		return xerrors.Errorf("failed to create directory %s: %w", path, err)
	}

	for _, de := range entries {
		if de.Name == "." || de.Name == ".." {
			continue
		}
		// Tombstone records name no inode and materialize nothing.
		if de.Inode == 0 {
			continue
		}
		vpath := rpath + "/" + de.Name
		if e.opts.MetadataTable != nil {
			if err := e.writeMeta(de, vpath); err != nil {
				return err
			}
		}
		switch de.Kind {
		case ext4.KindRegular:
			if err := e.extractFile(de, filepath.Join(path, de.Name)); err != nil {
				return err
			}
			e.progress(vpath)
		case ext4.KindDirectory:
			sub, err := e.fs.ReadDir(int64(de.Inode))
			if err != nil {
				return xerrors.Errorf("failed to read directory %s: %w", vpath, err)
			}
			if err := e.extractDir(sub, filepath.Join(path, de.Name), vpath); err != nil {
				return err
			}
		case ext4.KindSymlink:
			written, err := e.extractSymlink(de, filepath.Join(path, de.Name), vpath)
			if err != nil {
				return err
			}
			if written {
				e.progress(vpath)
			}
		default:
			e.opts.Logger.Debugf("not materializing %s (%s)", vpath, de.Kind)
		}
	}
	return nil
}

func (e *Extractor) extractFile(de ext4.DirEntry, path string) error {
	data, atime, mtime, err := e.fs.ReadFile(int64(de.Inode))
	if err != nil {
		return xerrors.Errorf("failed to read file inode %d: %w", de.Inode, err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return xerrors.Errorf("failed to write %s: %w", path, err)
	}
	if err := os.Chtimes(path, atime, mtime); err != nil {
		return xerrors.Errorf("failed to set times on %s: %w", path, err)
	}
	return nil
}

// extractSymlink handles the configured symlink mode and reports whether a
// host entry was written. The symlink table sink, when set, records the
// link regardless of mode.
func (e *Extractor) extractSymlink(de ext4.DirEntry, path, vpath string) (bool, error) {
	target, err := e.fs.ReadLink(int64(de.Inode))
	if err != nil {
		return false, xerrors.Errorf("failed to read symlink inode %d: %w", de.Inode, err)
	}
	if e.opts.SymlinkTable != nil {
		if _, err := fmt.Fprintf(e.opts.SymlinkTable, "path=\"%s\" target=\"%s\"\n", vpath, target); err != nil {
			return false, xerrors.Errorf("failed to write symlink table: %w", err)
		}
	}

	switch e.opts.Symlinks {
	case SkipSymlinks:
		return false, nil
	case TextSymlinks:
		if err := os.WriteFile(path, []byte(target), 0o644); err != nil {
			return false, xerrors.Errorf("failed to write %s: %w", path, err)
		}
	case EmptySymlinks:
		if err := os.WriteFile(path, nil, 0o644); err != nil {
			return false, xerrors.Errorf("failed to write %s: %w", path, err)
		}
	default:
		// Symlink then rename so an existing link is replaced, not
		// followed.
		tmp := path + ".tmp"
		if err := os.Symlink(target, tmp); err != nil {
			return false, xerrors.Errorf("failed to create symlink %s: %w", tmp, err)
		}
		if err := os.Rename(tmp, path); err != nil {
			os.Remove(tmp)
			return false, xerrors.Errorf("failed to rename symlink into %s: %w", path, err)
		}
	}
	return true, nil
}

func (e *Extractor) writeMeta(de ext4.DirEntry, vpath string) error {
	meta, err := e.fs.ReadMeta(int64(de.Inode))
	if err != nil {
		return xerrors.Errorf("failed to read metadata of inode %d: %w", de.Inode, err)
	}
	if _, err := io.WriteString(e.opts.MetadataTable, metadataLine(vpath, meta)+"\n"); err != nil {
		return xerrors.Errorf("failed to write metadata table: %w", err)
	}
	return nil
}

func (e *Extractor) progress(vpath string) {
	if e.opts.Progress != nil {
		fmt.Fprintln(e.opts.Progress, vpath)
	}
}
