package engine

import (
	"hash/fnv"
	"strconv"
	"time"
)

// DefaultSeedBucket is the width of the time bucket mixed into the seed.
const DefaultSeedBucket = time.Minute

// Seed derives the random seed for one account at one instant. Instants
// within the same bucket share a seed, so re-running an unchanged account
// in the same bucket reproduces its decision.
func Seed(accountID string, now time.Time, bucket time.Duration) uint64 {
	if bucket <= 0 {
		bucket = DefaultSeedBucket
	}
	n, b := now.UnixNano(), int64(bucket)
	slot := n / b
	if n%b < 0 {
		slot--
	}

	h := fnv.New64a()
	h.Write([]byte(accountID))
	h.Write([]byte{'|'})
	h.Write(strconv.AppendInt(nil, slot, 10))
	return h.Sum64()
}
