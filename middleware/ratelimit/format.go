package ratelimit

import (
	"strconv"
	"time"
)

func formatInt(v int) string { return strconv.Itoa(v) }

func formatInt64(v int64) string { return strconv.FormatInt(v, 10) }

func formatSeconds(d time.Duration) string {
	return strconv.FormatInt(wholeSeconds(d), 10)
}

// wholeSeconds rounds d up to seconds; any positive d is at least 1.
func wholeSeconds(d time.Duration) int64 {
	if d <= 0 {
		return 0
	}
	return int64((d + time.Second - 1) / time.Second)
}
