// Package pathcodec translates between S3 object keys and backing store paths.
// All functions are pure: no I/O and no failure modes other than validation.
package pathcodec

import (
	"errors"
	"strings"
)

// MaxSegmentLength is the backing store's limit on a single path component.
const MaxSegmentLength = 255

// Validation errors returned by Sanitize. Callers map these onto the
// corresponding S3 error codes (InvalidKey, KeyTooLong).
var (
	ErrInvalid = errors.New("pathcodec: key is not representable as a store path")
	ErrTooLong = errors.New("pathcodec: key exceeds maximum path length")
)

// Sanitize validates an S3 object key and returns the form used to build the
// backing store path. The leading slash, if any, is trimmed. maxLen bounds the
// sanitized key's length; callers derive it from the configured maximum path
// length minus the root and bucket portions so the whole-path invariant holds.
//
// Rejected with ErrInvalid: empty keys, embedded NUL bytes, empty segments
// (consecutive or trailing slashes), "." or ".." segments, and segments
// longer than MaxSegmentLength. A trailing slash in particular must fail:
// every slash is a directory boundary, so "a/" has no store path of its own
// and would otherwise alias onto "a".
// Rejected with ErrTooLong: keys longer than maxLen.
func Sanitize(key string, maxLen int) (string, error) {
	key = strings.TrimPrefix(key, "/")
	if key == "" {
		return "", ErrInvalid
	}
	if strings.IndexByte(key, 0) >= 0 {
		return "", ErrInvalid
	}
	for _, seg := range strings.Split(key, "/") {
		if seg == "" || seg == "." || seg == ".." {
			return "", ErrInvalid
		}
		if len(seg) > MaxSegmentLength {
			return "", ErrInvalid
		}
	}
	if len(key) > maxLen {
		return "", ErrTooLong
	}
	return key, nil
}

// JoinObject builds the full backing store path for an object: the root
// directory, the bucket, and the sanitized key joined with single slashes.
// No normalization is performed; Sanitize has already rejected "." and "..".
func JoinObject(root, bucket, key string) string {
	return strings.TrimSuffix(root, "/") + "/" + bucket + "/" + key
}

// JoinBucket builds the backing store path for a bucket directory.
func JoinBucket(root, bucket string) string {
	return strings.TrimSuffix(root, "/") + "/" + bucket
}

// SplitPrefix partitions a listing prefix into the deepest ancestor
// subdirectory and the remaining search prefix. The listing walk starts at the
// subdirectory and filters entries against the search prefix only.
//
//	SplitPrefix("")      = ("", "")
//	SplitPrefix("abc")   = ("", "abc")
//	SplitPrefix("a/b/c") = ("a/b", "c")
//	SplitPrefix("a/b/")  = ("a/b", "")
//
// Concatenating subdir, "/" (when subdir is non-empty), and searchPrefix
// reproduces the original prefix.
func SplitPrefix(prefix string) (subdir, searchPrefix string) {
	if prefix == "" {
		return "", ""
	}
	p := strings.LastIndexByte(prefix, '/')
	if p < 0 {
		return "", prefix
	}
	return prefix[:p], prefix[p+1:]
}

// Relativize converts a listing entry back into an S3 key relative to the
// bucket directory. bucketPath is the bucket's full store path; parentPath is
// the store directory containing the entry, at or below bucketPath. Matching
// on the full bucket path keeps entries in directories that repeat the bucket
// name from resolving to the wrong key.
func Relativize(bucketPath, parentPath, name string) string {
	below := strings.Trim(strings.TrimPrefix(parentPath, strings.TrimSuffix(bucketPath, "/")), "/")
	if below == "" {
		return name
	}
	return below + "/" + name
}
