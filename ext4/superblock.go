package ext4

import (
	"bytes"
	"encoding/binary"

	"golang.org/x/xerrors"
)

// Superblock is ref https://ext4.wiki.kernel.org/index.php/Ext4_Disk_Layout
// Only the fields up to AlgorithmUsageBitmap are interpreted; the rest of the
// 1024-byte record is carried as padding.
type Superblock struct {
	InodeCount           uint32
	BlockCountLo         uint32
	RBlockCountLo        uint32
	FreeBlockCountLo     uint32
	FreeInodeCount       uint32
	FirstDataBlock       uint32
	LogBlockSize         uint32
	LogClusterSize       uint32
	BlockPerGroup        uint32
	ClusterPerGroup      uint32
	InodePerGroup        uint32
	Mtime                uint32
	Wtime                uint32
	MntCount             uint16
	MaxMntCount          uint16
	Magic                uint16
	State                uint16
	Errors               uint16
	MinorRevLevel        uint16
	Lastcheck            uint32
	Checkinterval        uint32
	CreatorOs            uint32
	RevLevel             uint32
	DefResuid            uint16
	DefResgid            uint16
	FirstIno             uint32
	InodeSize            uint16
	BlockGroupNr         uint16
	FeatureCompat        uint32
	FeatureIncompat      uint32
	FeatureRoCompat      uint32
	UUID                 [16]byte
	VolumeName           [16]byte
	LastMounted          [64]byte
	AlgorithmUsageBitmap uint32
	Reserved             [820]byte
}

const (
	FEATURE_INCOMPAT_FILETYPE = 0x2
	FEATURE_INCOMPAT_64BIT    = 0x80
)

func parseSuperblock(b []byte) (Superblock, error) {
	var sb Superblock
	if err := binary.Read(bytes.NewReader(b), binary.LittleEndian, &sb); err != nil {
		return Superblock{}, xerrors.Errorf("failed to binary read super block: %w", err)
	}
	if sb.Magic != SuperblockMagic {
		return Superblock{}, xerrors.Errorf("superblock magic %#x: %w", sb.Magic, ErrBadMagic)
	}
	return sb, nil
}

func (sb *Superblock) FeatureIncompatFiletype() bool {
	return (sb.FeatureIncompat & FEATURE_INCOMPAT_FILETYPE) != 0
}

func (sb *Superblock) FeatureInCompat64bit() bool {
	return (sb.FeatureIncompat & FEATURE_INCOMPAT_64BIT) != 0
}

// GetBlockSize is block size in bytes, always a power of two >= 1024.
func (sb Superblock) GetBlockSize() int64 {
	return int64(1024 << uint(sb.LogBlockSize))
}

// VolumeLabel is the NUL-padded volume name.
func (sb *Superblock) VolumeLabel() string {
	return cstring(sb.VolumeName[:])
}

// LastMountedAt is the NUL-padded last mount point, empty if never mounted.
func (sb *Superblock) LastMountedAt() string {
	return cstring(sb.LastMounted[:])
}

func cstring(b []byte) string {
	if i := bytes.IndexByte(b, 0); i >= 0 {
		b = b[:i]
	}
	return string(b)
}
