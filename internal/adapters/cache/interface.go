package cache

type hitResult[T any] struct {
	data    T
	valid   bool
	claimed bool
}

// Cache with single-flight semantics: the first caller to miss a key claims it
// and is expected to either set or delete it. Others wait until it is valid.
type Cache[T any] interface {
	getOrClaim(key string) hitResult[T]
	set(key string, data T)
	delete(key string)
	wait()
}
