package imagecache

import "fmt"

// ptrString derives a shard-hashing key from a target's identity.
// Targets are expected to be pointer-like from the caller's point of
// view; %p renders any pointer, channel, map, slice, or func value as
// a stable address string.
func ptrString(target any) string {
	return fmt.Sprintf("%p", target)
}
