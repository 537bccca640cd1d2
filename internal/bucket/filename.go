package bucket

import "time"

// timeLayout is the on-disk bucket filename timestamp format: a bare
// UTC "basic format" instant, e.g. 20260101000000Z (§6.1's example
// filenames).
const timeLayout = "20060102150405Z"

// formatUTC renders a millisecond UTC timestamp using timeLayout.
func formatUTC(ms int64) string {
	return time.UnixMilli(ms).UTC().Format(timeLayout)
}
