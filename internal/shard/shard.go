// Package shard provides hash bucketing for distributing partition keys.
package shard

import (
	"fmt"
	"hash/fnv"
)

// MaxShards is the largest supported bucket count (two hex digits).
const MaxShards = 256

// Clamp bounds numShards to [1, MaxShards].
func Clamp(numShards int) int {
	if numShards < 1 {
		return 1
	}
	if numShards > MaxShards {
		return MaxShards
	}
	return numShards
}

// Bucket returns the two-digit hex bucket for value.
// With numShards=1, every value goes to bucket "00".
// With numShards>1, values are distributed across buckets by FNV-1a hash.
func Bucket(value string, numShards int) string {
	numShards = Clamp(numShards)
	if numShards == 1 {
		return "00"
	}
	h := fnv.New32a()
	h.Write([]byte(value))
	return fmt.Sprintf("%02x", h.Sum32()%uint32(numShards))
}

// Buckets lists every bucket name for numShards, in order.
func Buckets(numShards int) []string {
	numShards = Clamp(numShards)
	out := make([]string, numShards)
	for i := range out {
		out[i] = fmt.Sprintf("%02x", i)
	}
	return out
}
