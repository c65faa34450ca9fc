package ext4

// Metadata is a projection of one inode for sidecar export. Xattr values are
// opaque bytes; a nil value marks an attribute present without a value.
// Parsing xattr blocks is out of scope, so the mapping is empty for now.
type Metadata struct {
	Inode uint32
	Kind  Kind
	Size  uint32
	Ctime uint32
	Mtime uint32
	UID   uint16
	GID   uint16
	Mode  uint16
	Xattr map[string][]byte
}
