package pebble

import (
	"fmt"

	"github.com/syntrixbase/docstore/internal/core/storage/types"
)

// Key prefixes.
const (
	prefixDoc        = "doc/" // doc/{collection}/{partition:08d}/{id} -> StoredDoc
	prefixCollection = "col/" // col/{collection} -> CollectionMeta
)

func docKey(loc types.Location) []byte {
	return []byte(fmt.Sprintf("%s%s/%08d/%s", prefixDoc, loc.Collection, loc.Partition, loc.ID))
}

func collectionPrefix(collection string) []byte {
	return []byte(prefixDoc + collection + "/")
}

func partitionPrefix(collection string, partition int) []byte {
	return []byte(fmt.Sprintf("%s%s/%08d/", prefixDoc, collection, partition))
}

func collectionMetaKey(name string) []byte {
	return []byte(prefixCollection + name)
}

// prefixEnd returns the smallest key greater than every key with prefix.
func prefixEnd(prefix []byte) []byte {
	end := append([]byte(nil), prefix...)
	for i := len(end) - 1; i >= 0; i-- {
		end[i]++
		if end[i] != 0 {
			return end[:i+1]
		}
	}
	return nil
}

// successor returns the smallest key strictly greater than key.
func successor(key []byte) []byte {
	return append(append([]byte(nil), key...), 0)
}
