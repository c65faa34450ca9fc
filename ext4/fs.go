package ext4

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/xerrors"
)

const (
	SuperblockMagic = 0xEF53
	ExtentMagic     = 0xF30A

	GroupZeroPadding = 0x400
	SuperblockSize   = 0x400

	// RootInode is the root directory's inode number.
	RootInode = 2

	groupDescriptorStride = 64
	groupDescriptorSize   = 32
	inodeRecordSize       = 128
	inodeCacheSize        = 512
)

// FileSystem is a read-only view over an ext4 image. Every access is an
// offset-addressed read through the backing io.ReaderAt, so the parser holds
// no seek cursor; the only state carried between calls is the inode cache.
type FileSystem struct {
	r      io.ReaderAt
	closer io.Closer

	sb    Superblock
	cache Cache[string, Inode]

	absoluteExtents bool
}

// Option configures a FileSystem.
type Option func(*FileSystem)

// WithAbsoluteExtents resolves extent physical block addresses as absolute
// filesystem blocks, the way ext4 defines them. The default resolves them
// relative to the inode's own block group, matching extractors that assume a
// file's extents never leave its group; images written that way need the
// default to round-trip.
func WithAbsoluteExtents() Option {
	return func(ext4 *FileSystem) { ext4.absoluteExtents = true }
}

// WithCache replaces the default LRU inode cache. Pass a nopCache-style
// implementation to disable caching.
func WithCache(c Cache[string, Inode]) Option {
	return func(ext4 *FileSystem) { ext4.cache = c }
}

// New reads and validates the superblock from r and returns a FileSystem
// over it.
func New(r io.ReaderAt, opts ...Option) (*FileSystem, error) {
	buf, err := readAt(r, GroupZeroPadding, SuperblockSize)
	if err != nil {
		return nil, xerrors.Errorf("failed to read super block: %w", err)
	}
	sb, err := parseSuperblock(buf)
	if err != nil {
		return nil, xerrors.Errorf("failed to parse super block: %w", err)
	}

	ext4 := &FileSystem{r: r, sb: sb}
	for _, opt := range opts {
		opt(ext4)
	}
	if ext4.cache == nil {
		c, err := lru.New[string, Inode](inodeCacheSize)
		if err != nil {
			return nil, xerrors.Errorf("failed to create inode cache: %w", err)
		}
		ext4.cache = c
	}
	return ext4, nil
}

// Open opens the image or block device at name. The returned FileSystem
// owns the file and releases it on Close.
func Open(name string, opts ...Option) (*FileSystem, error) {
	f, err := os.Open(name)
	if err != nil {
		return nil, xerrors.Errorf("failed to open image: %w", err)
	}
	ext4, err := New(f, opts...)
	if err != nil {
		f.Close()
		return nil, err
	}
	ext4.closer = f
	return ext4, nil
}

func (ext4 *FileSystem) Close() error {
	if ext4.closer == nil {
		return nil
	}
	return ext4.closer.Close()
}

// Superblock returns the parsed superblock.
func (ext4 *FileSystem) Superblock() Superblock {
	return ext4.sb
}

func (ext4 *FileSystem) String() string {
	mounted := ext4.sb.LastMountedAt()
	if mounted == "" {
		mounted = "not mounted"
	}
	return fmt.Sprintf("Volume name: %s, last mounted at: %s", ext4.sb.VolumeLabel(), mounted)
}

// Root lists the root directory, inode 2.
func (ext4 *FileSystem) Root() ([]DirEntry, error) {
	return ext4.ReadDir(RootInode)
}

// ReadDir parses the directory held by inode ino into its records, in
// on-disk order. "." and ".." and tombstone records are included.
func (ext4 *FileSystem) ReadDir(ino int64) ([]DirEntry, error) {
	inode, bg, err := ext4.readInode(ino)
	if err != nil {
		return nil, err
	}
	blob, err := ext4.readData(inode, bg)
	if err != nil {
		return nil, xerrors.Errorf("failed to read directory inode %d: %w", ino, err)
	}
	entries, err := parseDirectory(blob, ext4.sb.FeatureIncompatFiletype(), ext4.kindOf)
	if err != nil {
		return nil, xerrors.Errorf("failed to parse directory inode %d: %w", ino, err)
	}
	return entries, nil
}

func (ext4 *FileSystem) kindOf(ino uint32) (Kind, error) {
	inode, _, err := ext4.readInode(int64(ino))
	if err != nil {
		return KindUnknown, err
	}
	return inode.Kind(), nil
}

// ReadFile returns the contents of inode ino truncated to the inode's size,
// plus its access and modification times.
func (ext4 *FileSystem) ReadFile(ino int64) ([]byte, time.Time, time.Time, error) {
	inode, bg, err := ext4.readInode(ino)
	if err != nil {
		return nil, time.Time{}, time.Time{}, err
	}
	data, err := ext4.readData(inode, bg)
	if err != nil {
		return nil, time.Time{}, time.Time{}, xerrors.Errorf("failed to read file inode %d: %w", ino, err)
	}
	if int64(len(data)) > int64(inode.SizeLo) {
		data = data[:inode.SizeLo]
	}
	return data, time.Unix(int64(inode.Atime), 0), time.Unix(int64(inode.Mtime), 0), nil
}

// ReadLink returns the target of the symlink held by inode ino. Targets of
// 60 bytes or less live inline in the inode; longer ones go through the
// extent tree.
func (ext4 *FileSystem) ReadLink(ino int64) (string, error) {
	inode, bg, err := ext4.readInode(ino)
	if err != nil {
		return "", err
	}
	data, err := ext4.readData(inode, bg)
	if err != nil {
		return "", xerrors.Errorf("failed to read symlink inode %d: %w", ino, err)
	}
	if int64(len(data)) > int64(inode.SizeLo) {
		data = data[:inode.SizeLo]
	}
	return strings.ToValidUTF8(string(data), "�"), nil
}

// ReadMeta projects inode ino into a Metadata record.
func (ext4 *FileSystem) ReadMeta(ino int64) (Metadata, error) {
	inode, _, err := ext4.readInode(ino)
	if err != nil {
		return Metadata{}, err
	}
	return Metadata{
		Inode: uint32(ino),
		Kind:  inode.Kind(),
		Size:  inode.SizeLo,
		Ctime: inode.Ctime,
		Mtime: inode.Mtime,
		UID:   inode.UID,
		GID:   inode.GID,
		Mode:  inode.Mode,
		Xattr: map[string][]byte{},
	}, nil
}

func (ext4 *FileSystem) readGroupDescriptor(bg int64) (GroupDescriptor, error) {
	offset := (int64(ext4.sb.FirstDataBlock)+1)*ext4.sb.GetBlockSize() + bg*groupDescriptorStride
	buf, err := ext4.readAt(offset, groupDescriptorSize)
	if err != nil {
		return GroupDescriptor{}, xerrors.Errorf("failed to read group descriptor %d: %w", bg, err)
	}
	var gd GroupDescriptor
	if err := binary.Read(bytes.NewReader(buf), binary.LittleEndian, &gd); err != nil {
		return GroupDescriptor{}, xerrors.Errorf("failed to parse group descriptor %d: %w", bg, err)
	}
	return gd, nil
}

// readInode resolves an inode number to its 128-byte record and the block
// group it lives in. Larger InodeSize strides are honored; the extra bytes
// past the legacy record are skipped.
func (ext4 *FileSystem) readInode(ino int64) (Inode, int64, error) {
	if ino < 1 || ino > int64(ext4.sb.InodeCount) {
		return Inode{}, 0, xerrors.Errorf("inode %d: %w", ino, ErrInodeOutOfRange)
	}
	bg := (ino - 1) / int64(ext4.sb.InodePerGroup)
	if inode, ok := ext4.cache.Get(inodeCacheKey(ino)); ok {
		return inode, bg, nil
	}
	index := (ino - 1) % int64(ext4.sb.InodePerGroup)

	gd, err := ext4.readGroupDescriptor(bg)
	if err != nil {
		return Inode{}, 0, err
	}
	offset := bg*int64(ext4.sb.BlockPerGroup)*ext4.sb.GetBlockSize() +
		gd.GetInodeTableLoc()*ext4.sb.GetBlockSize() +
		index*int64(ext4.sb.InodeSize)
	buf, err := ext4.readAt(offset, inodeRecordSize)
	if err != nil {
		return Inode{}, 0, xerrors.Errorf("failed to read inode %d: %w", ino, err)
	}
	var inode Inode
	if err := binary.Read(bytes.NewReader(buf), binary.LittleEndian, &inode); err != nil {
		return Inode{}, 0, xerrors.Errorf("failed to parse inode %d: %w", ino, err)
	}
	ext4.cache.Add(inodeCacheKey(ino), inode)
	return inode, bg, nil
}

// readData yields the concatenated data bytes of an inode, dispatching on
// the inode state: empty, inline in the direct-block area, or extent-mapped.
// Legacy block-mapped inodes are rejected.
func (ext4 *FileSystem) readData(inode Inode, bg int64) ([]byte, error) {
	switch {
	case inode.SizeLo == 0:
		return nil, nil
	case inode.HasInlineData() || (inode.IsSymlink() && inode.SizeLo <= 60):
		data := make([]byte, len(inode.Block))
		copy(data, inode.Block[:])
		return data, nil
	case inode.UsesExtents():
		extents, err := ext4.extents(inode.Block[:], bg, nil)
		if err != nil {
			return nil, xerrors.Errorf("failed to get extents: %w", err)
		}
		sort.Slice(extents, func(i, j int) bool {
			return extents[i].Block < extents[j].Block
		})
		var data []byte
		for _, e := range extents {
			buf, err := ext4.readAt(
				ext4.blockOffset(bg, int64(e.StartHi), int64(e.StartLo)),
				int64(e.Len)*ext4.sb.GetBlockSize(),
			)
			if err != nil {
				return nil, xerrors.Errorf("failed to read extent at logical block %d: %w", e.Block, err)
			}
			data = append(data, buf...)
		}
		return data, nil
	}
	return nil, xerrors.Errorf("mapped inodes: %w", ErrUnsupported)
}

// extents walks one extent tree node and accumulates its leaf entries.
// Internal nodes point at child nodes of one whole block each.
func (ext4 *FileSystem) extents(node []byte, bg int64, extents []Extent) ([]Extent, error) {
	r := bytes.NewReader(node)
	var header ExtentHeader
	if err := binary.Read(r, binary.LittleEndian, &header); err != nil {
		return nil, xerrors.Errorf("failed to parse extent header: %w", ErrDecode)
	}
	if header.Magic != ExtentMagic {
		return nil, xerrors.Errorf("extent node magic %#x: %w", header.Magic, ErrBadExtentMagic)
	}

	if header.Depth == 0 {
		for entry := uint16(0); entry < header.Entries; entry++ {
			var extent Extent
			if err := binary.Read(r, binary.LittleEndian, &extent); err != nil {
				return nil, xerrors.Errorf("failed to parse leaf extent: %w", ErrDecode)
			}
			extents = append(extents, extent)
		}
		return extents, nil
	}
	for entry := uint16(0); entry < header.Entries; entry++ {
		var index ExtentIndex
		if err := binary.Read(r, binary.LittleEndian, &index); err != nil {
			return nil, xerrors.Errorf("failed to parse extent index: %w", ErrDecode)
		}
		child, err := ext4.readAt(
			ext4.blockOffset(bg, int64(index.LeafHi), int64(index.LeafLo)),
			ext4.sb.GetBlockSize(),
		)
		if err != nil {
			return nil, xerrors.Errorf("failed to read extent node at logical block %d: %w", index.Block, err)
		}
		extents, err = ext4.extents(child, bg, extents)
		if err != nil {
			return nil, err
		}
	}
	return extents, nil
}

// blockOffset resolves an extent tree physical block address to a byte
// offset, group-relative by default (see WithAbsoluteExtents).
func (ext4 *FileSystem) blockOffset(bg, hi, lo int64) int64 {
	if ext4.absoluteExtents {
		return (hi<<32 | lo) * ext4.sb.GetBlockSize()
	}
	return (bg*int64(ext4.sb.BlockPerGroup) + lo) * ext4.sb.GetBlockSize()
}

func (ext4 *FileSystem) readAt(offset, n int64) ([]byte, error) {
	return readAt(ext4.r, offset, n)
}

// readAt reads exactly n bytes. A short read, including EOF inside a
// structured read, is a hard error carrying the attempted offset.
func readAt(r io.ReaderAt, offset, n int64) ([]byte, error) {
	buf := make([]byte, n)
	if _, err := r.ReadAt(buf, offset); err != nil {
		return nil, xerrors.Errorf("failed to read %d bytes at offset %d: %w", n, offset, err)
	}
	return buf, nil
}
