package extract

import (
	"fmt"
	"sort"
	"strings"

	"github.com/hexedit/ext4extract/ext4"
)

// metadataLine renders one metadata table record. Attribute order is fixed
// so the table diffs cleanly between runs.
func metadataLine(vpath string, m ext4.Metadata) string {
	var b strings.Builder
	fmt.Fprintf(&b,
		"path=\"%s\" inode=\"%d\" type=\"%d\" size=\"%d\" ctime=\"%d\" mtime=\"%d\" uid=\"%d\" gid=\"%d\" mode=\"%d\"",
		vpath, m.Inode, m.Kind, m.Size, m.Ctime, m.Mtime, m.UID, m.GID, m.Mode)

	keys := make([]string, 0, len(m.Xattr))
	for k := range m.Xattr {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		v := m.Xattr[k]
		if v == nil {
			b.WriteByte(' ')
			b.WriteString(k)
			continue
		}
		fmt.Fprintf(&b, " %s=\"%s\"", k, escapeASCII(v))
	}
	return b.String()
}

// escapeASCII renders opaque xattr bytes as printable ASCII, backslash
// escaping everything else.
func escapeASCII(v []byte) string {
	var b strings.Builder
	for _, c := range v {
		switch {
		case c == '\\':
			b.WriteString(`\\`)
		case c == '"':
			b.WriteString(`\"`)
		case c == '\n':
			b.WriteString(`\n`)
		case c == '\r':
			b.WriteString(`\r`)
		case c == '\t':
			b.WriteString(`\t`)
		case c >= 0x20 && c < 0x7f:
			b.WriteByte(c)
		default:
			fmt.Fprintf(&b, `\x%02x`, c)
		}
	}
	return b.String()
}
