package utils

import "time"

// FromUnix converts processor timestamps (seconds) to UTC. Zero stays the
// zero time so unset fields are omitted rather than rendered as 1970.
func FromUnix(sec int64) time.Time {
	if sec == 0 {
		return time.Time{}
	}
	return time.Unix(sec, 0).UTC()
}
