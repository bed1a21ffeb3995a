package document

import (
	"encoding/binary"
	"sync"

	"github.com/cespare/xxhash/v2"
	"github.com/syntrixbase/docstore/internal/core/storage/types"
	"github.com/zeebo/blake3"
)

// PartitionFor maps a routing value onto one of shards partitions.
func PartitionFor(routing string, shards int) int {
	if shards <= 1 {
		return 0
	}
	sum := blake3.Sum256([]byte(routing))
	return int(binary.BigEndian.Uint64(sum[:8]) % uint64(shards))
}

const lockStripes = 256

// keyLocks serializes check-and-advance per location. Distinct keys that
// share a stripe wait on each other briefly; correctness only needs same-key exclusion.
type keyLocks struct {
	stripes [lockStripes]sync.Mutex
}

func newKeyLocks() *keyLocks {
	return &keyLocks{}
}

func stripeOf(loc types.Location) int {
	return int(xxhash.Sum64String(loc.String()) % lockStripes)
}

func (l *keyLocks) lock(loc types.Location) func() {
	m := &l.stripes[stripeOf(loc)]
	m.Lock()
	return m.Unlock
}
