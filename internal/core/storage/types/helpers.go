package types

import (
	"encoding/hex"
	"strconv"

	"github.com/zeebo/blake3"
)

// StorageID derives the physical id of a location.
// Format: hex(blake3(collection/partition/id))[:32]
func StorageID(loc Location) string {
	hash := blake3.Sum256([]byte(loc.Collection + "/" + strconv.Itoa(loc.Partition) + "/" + loc.ID))
	return hex.EncodeToString(hash[:16])
}
