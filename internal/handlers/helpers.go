// Package handlers provides shared helper utilities for S3 operation handlers.
package handlers

import (
	"net/http"
	"net/url"
	"regexp"
	"strings"

	s3err "github.com/mantabridge/mantabridge/internal/errors"
	"github.com/mantabridge/mantabridge/internal/manta"
	"github.com/mantabridge/mantabridge/internal/metacodec"
	"github.com/mantabridge/mantabridge/internal/pathcodec"
	"github.com/mantabridge/mantabridge/internal/xmlutil"
)

// bucketNameRegex validates bucket names per S3 naming rules:
// - 3-63 characters
// - Lowercase letters, numbers, hyphens, and periods only
// - Must begin and end with a letter or number
var bucketNameRegex = regexp.MustCompile(`^[a-z0-9][a-z0-9.\-]{1,61}[a-z0-9]$`)

// ipAddressRegex detects IP address-formatted bucket names.
var ipAddressRegex = regexp.MustCompile(`^\d{1,3}\.\d{1,3}\.\d{1,3}\.\d{1,3}$`)

// validateBucketName checks whether the given name is a valid S3 bucket name.
// Returns an error message string if invalid, or empty string if valid.
func validateBucketName(name string) string {
	if len(name) < 3 || len(name) > 63 {
		return "Bucket name must be between 3 and 63 characters long"
	}

	if !bucketNameRegex.MatchString(name) {
		return "Bucket name can only contain lowercase letters, numbers, hyphens, and periods"
	}

	// Cannot be formatted as an IP address.
	if ipAddressRegex.MatchString(name) {
		return "Bucket name must not be formatted as an IP address"
	}

	// Cannot have consecutive periods.
	if strings.Contains(name, "..") {
		return "Bucket name must not contain consecutive periods"
	}

	return ""
}

// extractBucketName extracts the bucket name from the URL path.
func extractBucketName(r *http.Request) string {
	path := strings.TrimPrefix(r.URL.Path, "/")
	if idx := strings.IndexByte(path, '/'); idx >= 0 {
		return path[:idx]
	}
	return path
}

// extractObjectKey extracts the object key from the URL path: everything
// after the bucket segment.
func extractObjectKey(r *http.Request) string {
	path := strings.TrimPrefix(r.URL.Path, "/")
	if idx := strings.IndexByte(path, '/'); idx >= 0 {
		return path[idx+1:]
	}
	return ""
}

// parseCopySource parses an x-amz-copy-source header value of the form
// "/bucket/key" or "bucket/key" (optionally URL-encoded) into its parts.
func parseCopySource(header string) (bucket, key string, ok bool) {
	src := header
	if decoded, err := url.QueryUnescape(src); err == nil {
		src = decoded
	}
	src = strings.TrimPrefix(src, "/")
	idx := strings.IndexByte(src, '/')
	if idx <= 0 || idx == len(src)-1 {
		return "", "", false
	}
	return src[:idx], src[idx+1:], true
}

// storeError maps a backing store failure onto an S3 error. notFound names
// the error used for 404s, which differs by operation (NoSuchBucket for
// bucket paths, NoSuchKey for object paths).
func storeError(err error, notFound *s3err.S3Error) *s3err.S3Error {
	switch {
	case manta.IsNotFound(err):
		return notFound
	case manta.IsForbidden(err):
		return s3err.ErrAllAccessDisabled
	case manta.StatusCode(err) == 400:
		return s3err.ErrInvalidArgument
	default:
		return s3err.ErrInternalError
	}
}

// listingError maps a directory listing failure: 404 mid-stream means the
// directory vanished or was never visible, which surfaces as access denied.
func listingError(err error) *s3err.S3Error {
	if manta.IsNotFound(err) {
		return s3err.ErrAllAccessDisabled
	}
	return s3err.ErrInternalError
}

// keyError maps a sanitize failure onto the corresponding S3 error.
func keyError(err error) *s3err.S3Error {
	if err == pathcodec.ErrTooLong {
		return s3err.ErrKeyTooLong
	}
	return s3err.ErrInvalidKey
}

// quotedETag converts a store base64 MD5 into the quoted hex ETag form, or
// returns "" when the MD5 is absent or malformed.
func quotedETag(md5b64 string) string {
	if md5b64 == "" {
		return ""
	}
	etag, err := metacodec.MD5Base64ToETag(md5b64)
	if err != nil {
		return ""
	}
	return `"` + etag + `"`
}

// entryStorageClass is the storage class reported for listing entries, which
// carry no durability information of their own.
func entryStorageClass(durability metacodec.DurabilityMap) string {
	return durability.StorageClass(durability.Default)
}

// storeOwner builds the Owner element reported for every object: the bridge
// operates as a single store account.
func storeOwner(user string) *xmlutil.Owner {
	return &xmlutil.Owner{ID: user, DisplayName: user}
}
