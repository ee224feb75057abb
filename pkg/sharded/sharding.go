package sharded

import "github.com/cespare/xxhash/v2"

// DefaultShards is the shard count used by callers that have no reason to tune it.
const DefaultShards = 64

// getShardIndex calculates the shard index for a given key.
// numShards must be a power of 2 for the bitwise AND optimization to work correctly.
func getShardIndex(key string, numShards int) int {
	return int(xxhash.Sum64String(key) & uint64(numShards-1))
}

func isPowerOfTwo(n int) bool {
	return n > 0 && (n&(n-1)) == 0
}
