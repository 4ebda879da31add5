package collab

import (
	"unicode/utf16"

	"notesync/internal/pkg/ident"
)

// Color is a CSS hex color shown next to a collaborator's presence and cursor.
type Color string

// palette is shared by every instance. Changing it or the hash changes the color
// every client shows for a user, so both are part of the wire contract.
var palette = [...]Color{
	"#FF6B6B", "#4ECDC4", "#45B7D1", "#96CEB4", "#FFEAA7",
	"#DDA0DD", "#98D8C8", "#F7DC6F", "#BB8FCE", "#85C1E9",
}

// ColorFor maps a user id to a palette color.
//
// The hash runs over the UTF-16 code units of the id with 32-bit wrapping on the
// shift, h = c + (int32(h) << 5) - h, then |h| mod len(palette). This is the
// arithmetic of the legacy service (JavaScript number semantics), so a user keeps
// the same color while legacy and current instances serve the same document.
func ColorFor(id ident.ID) Color {
	var h int64

	for _, c := range utf16.Encode([]rune(id.String())) {
		shifted := int64(int32(uint32(int32(h)) << 5))
		h = int64(c) + shifted - h
	}

	if h < 0 {
		h = -h
	}

	return palette[h%int64(len(palette))]
}
