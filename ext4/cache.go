package ext4

import "fmt"

var _ Cache[string, Inode] = &nopCache[string, Inode]{}

// Cache is pluggable storage for decoded inode records. Classic directories
// derive each entry's kind from the target inode, one inode read per record;
// the cache keeps that from hitting the image every time.
type Cache[K comparable, V any] interface {
	// Add cache data
	Add(key K, value V) bool

	// Get returns key's value from the cache
	Get(key K) (value V, ok bool)
}

// nopCache disables caching; every lookup misses.
type nopCache[K comparable, V any] struct{}

func (c *nopCache[K, V]) Add(_ K, _ V) bool { return false }

func (c *nopCache[K, V]) Get(_ K) (v V, ok bool) {
	return
}

func inodeCacheKey(n int64) string {
	return fmt.Sprintf("ext4:%d", n)
}
