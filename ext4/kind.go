package ext4

// Kind is a directory entry file kind. The numeric values match the on-disk
// file_type byte of FILETYPE directory records.
type Kind uint8

const (
	KindUnknown Kind = iota
	KindRegular
	KindDirectory
	KindCharDev
	KindBlockDev
	KindFIFO
	KindSocket
	KindSymlink
)

var kindNames = [...]string{
	"Unknown",
	"Regular file",
	"Directory",
	"Character device file",
	"Block device file",
	"FIFO",
	"Socket",
	"Symbolic link",
}

func (k Kind) String() string {
	if int(k) < len(kindNames) {
		return kindNames[k]
	}
	return "Unknown"
}

// KindFromMode maps an inode mode's upper nibble to a Kind. Used for classic
// directory records, which do not embed the kind.
func KindFromMode(mode uint16) Kind {
	switch mode & 0xF000 {
	case 0x1000:
		return KindFIFO
	case 0x2000:
		return KindCharDev
	case 0x4000:
		return KindDirectory
	case 0x6000:
		return KindBlockDev
	case 0x8000:
		return KindRegular
	case 0xA000:
		return KindSymlink
	case 0xC000:
		return KindSocket
	}
	return KindUnknown
}
