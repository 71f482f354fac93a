package event

import (
	"hash/fnv"
	"strconv"
)

// TagPrefix prefixes every projection tag.
const TagPrefix = "carts-"

// DefaultTagCount is the number of projection tags when none is configured.
const DefaultTagCount = 4

// Tag returns the projection tag for a cart. All records of one cart share a
// tag, so a single consumer per tag sees each cart's records in seq order.
// Changing count after records exist reassigns carts to other tags.
func Tag(cartID string, count int) string {
	if count <= 1 {
		return TagPrefix + "0"
	}
	h := fnv.New32a()
	h.Write([]byte(cartID))
	return TagPrefix + strconv.Itoa(int(h.Sum32()%uint32(count)))
}

// Tags lists every tag for count partitions.
func Tags(count int) []string {
	if count <= 1 {
		return []string{TagPrefix + "0"}
	}
	tags := make([]string, count)
	for i := range count {
		tags[i] = TagPrefix + strconv.Itoa(i)
	}
	return tags
}
