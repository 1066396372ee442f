package cache

import "time"

// Cache defines the port interface for robots.txt result caching.
// This interface follows the port-adapter pattern, allowing different
// cache implementations to be swapped without changing the fetcher logic.
//
// The cache uses simple key-value storage (strings only) to ensure
// flexibility and avoid tight coupling to specific data structures.
// Implementations are responsible for serialization/deserialization.
type Cache interface {
	// Get retrieves a value from the cache by key.
	// Returns the cached value and true if found and not expired, or
	// empty string and false if not found or expired.
	// This method is read-only except for lazily evicting an expired entry.
	Get(key string) (string, bool)

	// Put stores a key-value pair in the cache with no expiry.
	// If the key already exists, the value is overwritten.
	// The cache lives only for the duration of the crawling session (no persistence).
	Put(key string, value string)

	// PutTTL stores a key-value pair that expires after ttl elapses.
	// A non-positive ttl behaves like Put (no expiry).
	PutTTL(key string, value string, ttl time.Duration)
}
