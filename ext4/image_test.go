package ext4

import "encoding/binary"

// testImage assembles a synthetic single-group ext4 image in memory. Block
// group 0 keeps group-relative and absolute block addresses equal, so the
// fixtures exercise both addressing modes the same way.
type testImage struct {
	buf             []byte
	blockSize       int
	inodeSize       int
	inodesPerGroup  int
	blocksPerGroup  int
	firstDataBlock  int
	inodeTableBlock int
}

func newTestImage(blockSize int, featureIncompat uint32) *testImage {
	ti := &testImage{
		buf:             make([]byte, 1<<20),
		blockSize:       blockSize,
		inodeSize:       128,
		inodesPerGroup:  32,
		blocksPerGroup:  8192,
		inodeTableBlock: 5,
	}
	if blockSize == 1024 {
		ti.firstDataBlock = 1
	}

	logBlockSize := uint32(0)
	for 1024<<logBlockSize != blockSize {
		logBlockSize++
	}

	sb := ti.buf[1024:]
	binary.LittleEndian.PutUint32(sb[0:], uint32(ti.inodesPerGroup))
	binary.LittleEndian.PutUint32(sb[4:], uint32(len(ti.buf)/blockSize))
	binary.LittleEndian.PutUint32(sb[20:], uint32(ti.firstDataBlock))
	binary.LittleEndian.PutUint32(sb[24:], logBlockSize)
	binary.LittleEndian.PutUint32(sb[32:], uint32(ti.blocksPerGroup))
	binary.LittleEndian.PutUint32(sb[40:], uint32(ti.inodesPerGroup))
	binary.LittleEndian.PutUint16(sb[56:], SuperblockMagic)
	binary.LittleEndian.PutUint16(sb[88:], uint16(ti.inodeSize))
	binary.LittleEndian.PutUint32(sb[96:], featureIncompat)
	copy(sb[120:], "testvol")

	gdt := (ti.firstDataBlock + 1) * blockSize
	binary.LittleEndian.PutUint32(ti.buf[gdt+8:], uint32(ti.inodeTableBlock))
	return ti
}

func (ti *testImage) inode(ino int) []byte {
	off := ti.inodeTableBlock*ti.blockSize + (ino-1)*ti.inodeSize
	return ti.buf[off : off+ti.inodeSize]
}

func (ti *testImage) putInode(ino int, mode uint16, size uint32, flags uint32) []byte {
	rec := ti.inode(ino)
	binary.LittleEndian.PutUint16(rec[0:], mode)
	binary.LittleEndian.PutUint32(rec[4:], size)
	binary.LittleEndian.PutUint32(rec[32:], flags)
	return rec
}

func (ti *testImage) setTimes(ino int, atime, ctime, mtime uint32) {
	rec := ti.inode(ino)
	binary.LittleEndian.PutUint32(rec[8:], atime)
	binary.LittleEndian.PutUint32(rec[12:], ctime)
	binary.LittleEndian.PutUint32(rec[16:], mtime)
}

func (ti *testImage) setOwner(ino int, uid, gid uint16) {
	rec := ti.inode(ino)
	binary.LittleEndian.PutUint16(rec[2:], uid)
	binary.LittleEndian.PutUint16(rec[24:], gid)
}

func (ti *testImage) block(n int) []byte {
	return ti.buf[n*ti.blockSize : (n+1)*ti.blockSize]
}

// run is one contiguous extent: count blocks at physical, mapped at logical.
type run struct {
	logical  uint32
	count    uint16
	physical uint32
}

func putExtentHeader(dst []byte, entries, depth uint16) {
	binary.LittleEndian.PutUint16(dst[0:], ExtentMagic)
	binary.LittleEndian.PutUint16(dst[2:], entries)
	binary.LittleEndian.PutUint16(dst[4:], 4)
	binary.LittleEndian.PutUint16(dst[6:], depth)
}

func putLeafEntry(dst []byte, r run) {
	binary.LittleEndian.PutUint32(dst[0:], r.logical)
	binary.LittleEndian.PutUint16(dst[4:], r.count)
	binary.LittleEndian.PutUint32(dst[8:], r.physical)
}

func putIndexEntry(dst []byte, logical, childBlock uint32) {
	binary.LittleEndian.PutUint32(dst[0:], logical)
	binary.LittleEndian.PutUint32(dst[4:], childBlock)
}

// extentRoot writes a depth-0 extent tree into the inode's i_block area.
func (ti *testImage) extentRoot(ino int, runs ...run) {
	iblock := ti.inode(ino)[40:100]
	putExtentHeader(iblock, uint16(len(runs)), 0)
	for i, r := range runs {
		putLeafEntry(iblock[12+i*12:], r)
	}
}

// indexRoot writes a depth-1 extent tree root pointing at child node blocks.
func (ti *testImage) indexRoot(ino int, children ...uint32) {
	iblock := ti.inode(ino)[40:100]
	putExtentHeader(iblock, uint16(len(children)), 1)
	for i, c := range children {
		putIndexEntry(iblock[12+i*12:], 0, c)
	}
}

type testDirent struct {
	ino   uint32
	name  string
	ftype uint8
}

// fillDirBlock lays records over b, padding rec_len to 4 bytes and stretching
// the final record to the end of the block.
func (ti *testImage) fillDirBlock(b []byte, filetype bool, entries []testDirent) {
	off := 0
	for i, e := range entries {
		recLen := (8 + len(e.name) + 3) &^ 3
		if i == len(entries)-1 {
			recLen = len(b) - off
		}
		binary.LittleEndian.PutUint32(b[off:], e.ino)
		binary.LittleEndian.PutUint16(b[off+4:], uint16(recLen))
		if filetype {
			b[off+6] = uint8(len(e.name))
			b[off+7] = e.ftype
		} else {
			binary.LittleEndian.PutUint16(b[off+6:], uint16(len(e.name)))
		}
		copy(b[off+8:], e.name)
		off += recLen
	}
}

const (
	testModeDir     = 0x41ED // drwxr-xr-x
	testModeFile    = 0x81A4 // -rw-r--r--
	testModeSymlink = 0xA1FF // lrwxrwxrwx
)

// newHelloImage is the minimal fixture: one regular file /hello containing
// "hello\n" with mtime 1700000000. Root directory data in block 10, file
// data in block 11.
func newHelloImage(filetype bool) *testImage {
	var incompat uint32
	if filetype {
		incompat = FEATURE_INCOMPAT_FILETYPE
	}
	ti := newTestImage(1024, incompat)

	ti.putInode(2, testModeDir, uint32(ti.blockSize), EXTENTS_FL)
	ti.extentRoot(2, run{0, 1, 10})
	ti.fillDirBlock(ti.block(10), filetype, []testDirent{
		{2, ".", uint8(KindDirectory)},
		{2, "..", uint8(KindDirectory)},
		{12, "hello", uint8(KindRegular)},
	})

	ti.putInode(12, testModeFile, 6, EXTENTS_FL)
	ti.setTimes(12, 1700000100, 1700000000, 1700000000)
	ti.extentRoot(12, run{0, 1, 11})
	copy(ti.block(11), "hello\n")
	return ti
}
