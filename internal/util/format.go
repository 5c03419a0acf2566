package util //nolint:revive // package name util hosts shared formatting helpers used across mail notices and CLI output

import "time"

// FormatProcessingDuration renders a duration for human-facing output.
// Zero and negative durations read as unknown ("—"); everything else is
// truncated to milliseconds so mail bodies do not carry nanosecond noise.
func FormatProcessingDuration(d time.Duration) string {
	switch {
	case d <= 0:
		return "—"
	case d < time.Millisecond:
		return d.String()
	default:
		return d.Truncate(time.Millisecond).String()
	}
}
