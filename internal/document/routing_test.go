package document

import (
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/syntrixbase/docstore/internal/core/storage/types"
)

func TestPartitionFor(t *testing.T) {
	assert.Equal(t, 0, PartitionFor("anything", 1))
	assert.Equal(t, 0, PartitionFor("anything", 0))

	p := PartitionFor("user-1", 8)
	assert.GreaterOrEqual(t, p, 0)
	assert.Less(t, p, 8)
	assert.Equal(t, p, PartitionFor("user-1", 8))
}

func TestStripeOf(t *testing.T) {
	loc := types.Location{Collection: "test", Partition: 2, ID: "1"}
	assert.Equal(t, stripeOf(loc), stripeOf(types.Location{Collection: "test", Partition: 2, ID: "1"}))

	seen := make(map[int]bool)
	for i := 0; i < 1000; i++ {
		s := stripeOf(types.Location{Collection: "test", ID: strconv.Itoa(i)})
		assert.GreaterOrEqual(t, s, 0)
		assert.Less(t, s, lockStripes)
		seen[s] = true
	}
	assert.Greater(t, len(seen), lockStripes/2)
}

func TestKeyLocks_SameKeyExcludes(t *testing.T) {
	locks := newKeyLocks()
	loc := types.Location{Collection: "test", ID: "1"}

	unlock := locks.lock(loc)
	acquired := make(chan struct{})
	go func() {
		release := locks.lock(loc)
		close(acquired)
		release()
	}()

	select {
	case <-acquired:
		t.Fatal("second lock on the same key did not wait")
	case <-time.After(50 * time.Millisecond):
	}
	unlock()
	select {
	case <-acquired:
	case <-time.After(time.Second):
		t.Fatal("second lock was not released")
	}
}
