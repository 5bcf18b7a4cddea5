package track

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// NewTrackingID mints a globally-unique opaque tracking identifier. UUIDv4
// gives 122 bits of crypto-strong randomness, so collisions are negligible
// over any single user's lifetime volume.
func NewTrackingID() string {
	return uuid.NewString()
}

// InjectMarker appends a zero-visible-footprint pixel reference carrying the
// tracking id to an HTML body. The reference is placed immediately before the
// last closing </body> when one is present, otherwise appended at the end.
//
// Each call adds one marker with a fresh cache-busting token; callers must
// inject exactly once per outgoing email or opens will be inflated.
func (c *Client) InjectMarker(html, trackingID string) string {
	marker := fmt.Sprintf(
		`<img src="%s/t/%s.png?cb=%s" width="1" height="1" style="display:none;border:0;" alt="">`,
		c.baseURL, trackingID, uuid.NewString(),
	)

	if idx := lastClosingBodyIndex(html); idx >= 0 {
		return html[:idx] + marker + html[idx:]
	}
	return html + marker
}

// lastClosingBodyIndex returns the byte offset of the last case-insensitive
// </body> tag, or -1. The scan compares fixed-width windows of the original
// string; a lowercasing pass would shift byte offsets for multibyte runes
// whose case variants differ in encoded length.
func lastClosingBodyIndex(html string) int {
	const tag = "</body>"
	for i := len(html) - len(tag); i >= 0; i-- {
		if strings.EqualFold(html[i:i+len(tag)], tag) {
			return i
		}
	}
	return -1
}
