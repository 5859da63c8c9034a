package channelstore

import (
	"hash/fnv"
	"sync"
)

// latchCount is the number of stripes; a power of two keeps the modulo a
// mask. Two channels sharing a stripe serialize needlessly but stay
// correct; distinct stripes proceed in parallel.
const latchCount = 256

// channelLatches serializes all writers of a channel within this process.
// The persistent backends have no server-side scripting, so the atomic
// load-guard-overwrite of ApplyPayment is realized by making every mutation
// of a channel go through its latch: per channel there is exactly one
// writer at a time, which is the same guarantee a server-side script gives.
type channelLatches struct {
	latches [latchCount]sync.Mutex
}

func (l *channelLatches) forChannel(channelID string) *sync.Mutex {
	h := fnv.New32a()
	h.Write([]byte(channelID))
	return &l.latches[h.Sum32()&(latchCount-1)]
}
