package workflow

import (
	"strconv"
	"time"
)

// NewEpisodeNumber is the type prefix followed by the last six characters
// of the millisecond Unix timestamp. Leading zeros in the suffix are kept.
// Two episodes of the same type registered in the same millisecond collide;
// the store rejects the second.
func NewEpisodeNumber(t EncounterType, now time.Time) string {
	ms := strconv.FormatInt(now.UnixMilli(), 10)
	if len(ms) > 6 {
		ms = ms[len(ms)-6:]
	}
	return t.Prefix() + ms
}
