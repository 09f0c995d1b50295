package imagecache

import (
	"crypto/md5"
	"encoding/hex"
	"net/url"
	"strings"
)

// KeyFilter transforms a URL into a cache key. When nil, KeyForURL
// returns the URL's canonical string form.
type KeyFilter func(u *url.URL) string

// KeyForURL derives the cache key for u: the filter's output when a
// filter is configured, otherwise the URL's canonical string form.
func KeyForURL(u *url.URL, filter KeyFilter) string {
	if u == nil {
		return ""
	}
	if filter != nil {
		return filter(u)
	}
	return u.String()
}

// FilenameForKey derives the on-disk filename for key: a 32-character
// lowercase hex MD5 digest of key's UTF-8 bytes, followed verbatim by
// the extension of key's last path segment (including the leading dot)
// when one is present and non-empty.
//
// MD5 is used because it is the fixed, mandated digest for this
// filename format, not because it is an ambient hashing choice this
// module is free to swap; no library in this module's dependency set
// improves on crypto/md5 here.
func FilenameForKey(key string) string {
	sum := md5.Sum([]byte(key))
	digest := hex.EncodeToString(sum[:])
	ext := extensionOf(key)
	return digest + ext
}

// extensionOf returns the extension (including the leading dot) of the
// last path segment of key, treating key as a URL-like string, after
// dropping any query or fragment from that segment. It returns "" when
// the segment has no dot or ends with one; a segment that starts with
// its only dot (".png") yields the whole segment.
func extensionOf(key string) string {
	segment := key
	if idx := strings.LastIndexByte(key, '/'); idx >= 0 {
		segment = key[idx+1:]
	}
	// Strip any query/fragment that may have survived key derivation
	// when no KeyFilter stripped them (KeyForURL by default uses the
	// canonical URL string, which may carry ?query or #fragment).
	if idx := strings.IndexAny(segment, "?#"); idx >= 0 {
		segment = segment[:idx]
	}

	dot := strings.LastIndexByte(segment, '.')
	if dot < 0 || dot == len(segment)-1 {
		return ""
	}
	return segment[dot:]
}
