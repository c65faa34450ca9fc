package ext4

import "golang.org/x/xerrors"

var (
	// ErrBadMagic is returned when the superblock magic is not 0xEF53.
	ErrBadMagic = xerrors.New("bad superblock magic")

	// ErrBadExtentMagic is returned when an extent node header magic is not 0xF30A.
	ErrBadExtentMagic = xerrors.New("bad extent magic")

	// ErrInodeOutOfRange is returned for inode numbers outside [1, InodeCount].
	ErrInodeOutOfRange = xerrors.New("inode number out of range")

	// ErrUnsupported is returned for on-disk features outside the read path,
	// such as legacy block-mapped inodes.
	ErrUnsupported = xerrors.New("unsupported feature")

	// ErrDecode is returned on a structural under-run while parsing a
	// directory record or extent entry.
	ErrDecode = xerrors.New("corrupt structure")
)
