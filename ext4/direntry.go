package ext4

import (
	"bytes"
	"strings"

	"github.com/lunixbochs/struc"
	"golang.org/x/xerrors"
)

// DirEntry is one parsed directory record. Records with Inode == 0 are
// tombstones; the parser yields them so callers see the on-disk stream
// faithfully, and callers skip them.
type DirEntry struct {
	Inode uint32
	Name  string
	Kind  Kind
}

// directoryEntry is the classic record layout, used when the FILETYPE
// feature is off. The entry kind is not on disk and must be derived from the
// target inode's mode.
type directoryEntry struct {
	Inode   uint32 `struc:"uint32,little"`
	RecLen  uint16 `struc:"uint16,little"`
	NameLen uint16 `struc:"uint16,little,sizeof=Name"`
	Name    string `struc:"[]byte"`
}

// directoryEntryV2 is the FILETYPE record layout with the kind embedded.
type directoryEntryV2 struct {
	Inode    uint32 `struc:"uint32,little"`
	RecLen   uint16 `struc:"uint16,little"`
	NameLen  uint8  `struc:"uint8,sizeof=Name"`
	FileType uint8  `struc:"uint8"`
	Name     string `struc:"[]byte"`
}

// parseDirectory walks the variable-length records of a directory data blob.
// RecLen advances record to record; the final record's RecLen extends to the
// end of the blob. kindOf resolves an inode number to its kind on the
// classic path.
func parseDirectory(blob []byte, filetype bool, kindOf func(ino uint32) (Kind, error)) ([]DirEntry, error) {
	var entries []DirEntry
	offset := 0
	for offset < len(blob) {
		var (
			ino     uint32
			recLen  uint16
			nameLen int
			kind    Kind
			name    string
		)
		r := bytes.NewReader(blob[offset:])
		if filetype {
			var rec directoryEntryV2
			if err := struc.Unpack(r, &rec); err != nil {
				return nil, xerrors.Errorf("directory record at offset %d: %w", offset, ErrDecode)
			}
			ino, recLen, nameLen, name = rec.Inode, rec.RecLen, int(rec.NameLen), rec.Name
			kind = Kind(rec.FileType)
		} else {
			var rec directoryEntry
			if err := struc.Unpack(r, &rec); err != nil {
				return nil, xerrors.Errorf("directory record at offset %d: %w", offset, ErrDecode)
			}
			ino, recLen, nameLen, name = rec.Inode, rec.RecLen, int(rec.NameLen), rec.Name
			if ino != 0 {
				k, err := kindOf(ino)
				if err != nil {
					return nil, xerrors.Errorf("failed to derive kind of inode %d: %w", ino, err)
				}
				kind = k
			}
		}
		// rec_len can never undercut the record itself, padded to 4 bytes.
		if int(recLen) < (8+nameLen+3)&^3 || offset+int(recLen) > len(blob) {
			return nil, xerrors.Errorf("directory record length %d at offset %d: %w", recLen, offset, ErrDecode)
		}
		entries = append(entries, DirEntry{
			Inode: ino,
			Name:  strings.ToValidUTF8(name, "�"),
			Kind:  kind,
		})
		offset += int(recLen)
	}
	return entries, nil
}
