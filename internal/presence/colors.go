package presence

import "hash/fnv"

// cursorPalette is the fixed set of peer cursor colors. Assignment is a pure
// function of the peer ID so every client renders the same peer in the same
// color, independent of join order.
var cursorPalette = []string{
	"#e06c75", // red
	"#61afef", // blue
	"#98c379", // green
	"#c678dd", // purple
	"#d19a66", // orange
	"#56b6c2", // teal
	"#e5c07b", // yellow
	"#be5046", // dark red
}

// ColorFor returns the deterministic cursor color for a peer.
func ColorFor(userID string) string {
	h := fnv.New32a()
	_, _ = h.Write([]byte(userID))
	return cursorPalette[h.Sum32()%uint32(len(cursorPalette))]
}
