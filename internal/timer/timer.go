// Package timer projects a quiz timer deadline onto a countdown.
package timer

import "fmt"

// SecondsRemaining is the whole seconds left until timerEnd, floored and never negative.
// Both arguments are epoch milliseconds.
func SecondsRemaining(timerEnd, now int64) int {
	if timerEnd <= now {
		return 0
	}
	return int((timerEnd - now) / 1000)
}

// Format renders seconds as MM:SS. Minutes are not capped at 59.
func Format(seconds int) string {
	if seconds < 0 {
		seconds = 0
	}
	return fmt.Sprintf("%02d:%02d", seconds/60, seconds%60)
}

// Deadline is the timerEnd for a question started at now with the given duration.
func Deadline(now int64, timerSeconds int) int64 {
	return now + int64(timerSeconds)*1000
}
