package confirm

import "time"

// Clock supplies wall time in milliseconds since the Unix epoch.
type Clock interface {
	NowMs() int64
}

// SystemClock reads the real wall clock.
type SystemClock struct{}

// NowMs returns the current time in milliseconds.
func (SystemClock) NowMs() int64 {
	return time.Now().UnixMilli()
}
