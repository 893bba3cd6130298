package notify

import "strconv"

// DefaultBadgeThreshold is the largest total shown verbatim on the badge.
const DefaultBadgeThreshold = 10

// Badge is the derived unread indicator.
type Badge struct {
	Total   int    `json:"total"`
	Display string `json:"display"`
}

// FormatBadge renders an unread total for display. Totals above threshold
// collapse to "<threshold>+". A negative threshold disables the cap.
func FormatBadge(total, threshold int) string {
	if threshold >= 0 && total > threshold {
		return strconv.Itoa(threshold) + "+"
	}
	return strconv.Itoa(total)
}
