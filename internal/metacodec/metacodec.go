// Package metacodec maps between the S3 and backing store header namespaces:
// x-amz-meta-* user metadata to m-* headers, base64 Content-MD5 to hex ETags,
// and storage classes to integer durability levels. All functions are pure.
package metacodec

import (
	"encoding/base64"
	"encoding/hex"
	"net/http"
	"strconv"
	"strings"
)

// Backing store header names.
const (
	// DurabilityRequestHeader carries the requested copy count on uploads.
	DurabilityRequestHeader = "x-durability-level"

	// DurabilityResponseHeader carries the stored copy count on responses.
	DurabilityResponseHeader = "durability-level"

	// storeMetaPrefix is the backing store's user metadata header prefix.
	storeMetaPrefix = "m-"

	// s3MetaPrefix is the S3 user metadata header prefix.
	s3MetaPrefix = "x-amz-meta-"
)

// DefaultStorageClass is reported when a durability level has no mapping.
const DefaultStorageClass = "STANDARD"

// DurabilityMap holds the two immutable lookup tables between S3 storage
// class strings and backing store durability levels. Both directions are
// provided at configuration time; unknown classes fall back to Default and
// unknown durabilities report as STANDARD.
type DurabilityMap struct {
	toDurability map[string]int
	toClass      map[int]string
	// Default is the durability used when a request names no storage class
	// or an unmapped one.
	Default int
}

// NewDurabilityMap builds a DurabilityMap from the configured tables. The
// durability-to-class table is keyed by the string form of the level, as it
// appears in configuration.
func NewDurabilityMap(classToDurability map[string]int, durabilityToClass map[string]string, defaultDurability int) DurabilityMap {
	m := DurabilityMap{
		toDurability: make(map[string]int, len(classToDurability)),
		toClass:      make(map[int]string, len(durabilityToClass)),
		Default:      defaultDurability,
	}
	for class, level := range classToDurability {
		m.toDurability[class] = level
	}
	for levelStr, class := range durabilityToClass {
		if level, err := strconv.Atoi(levelStr); err == nil {
			m.toClass[level] = class
		}
	}
	return m
}

// Durability resolves an S3 storage class to a durability level, falling back
// to the configured default for empty or unknown classes.
func (m DurabilityMap) Durability(storageClass string) int {
	if level, ok := m.toDurability[storageClass]; ok {
		return level
	}
	return m.Default
}

// StorageClass resolves a durability level to an S3 storage class, reporting
// STANDARD when the level is unmapped.
func (m DurabilityMap) StorageClass(durability int) string {
	if class, ok := m.toClass[durability]; ok {
		return class
	}
	return DefaultStorageClass
}

// RequestHeaders projects S3 request headers into backing store upload
// headers: x-amz-meta-X becomes m-X with the key's case preserved, and
// x-amz-storage-class resolves to x-durability-level through the map.
func RequestHeaders(h http.Header, durability DurabilityMap) map[string]string {
	out := make(map[string]string)
	for key, values := range h {
		if len(values) == 0 {
			continue
		}
		lower := strings.ToLower(key)
		if strings.HasPrefix(lower, s3MetaPrefix) && len(key) > len(s3MetaPrefix) {
			out[storeMetaPrefix+key[len(s3MetaPrefix):]] = values[0]
		}
	}
	out[DurabilityRequestHeader] = strconv.Itoa(durability.Durability(h.Get("x-amz-storage-class")))
	return out
}

// ResponseHeaders projects backing store headers into S3 response headers:
// m-X becomes x-amz-meta-X, durability-level becomes x-amz-storage-class,
// content-length and content-type propagate, and ETag derives from the
// store's base64 content-md5.
func ResponseHeaders(bs map[string]string, durability DurabilityMap) http.Header {
	out := make(http.Header)
	for key, value := range bs {
		lower := strings.ToLower(key)
		switch {
		case strings.HasPrefix(lower, storeMetaPrefix) && len(key) > len(storeMetaPrefix):
			out.Set(s3MetaPrefix+key[len(storeMetaPrefix):], value)
		case lower == DurabilityResponseHeader:
			if level, err := strconv.Atoi(value); err == nil {
				out.Set("x-amz-storage-class", durability.StorageClass(level))
			}
		case lower == "content-length":
			out.Set("Content-Length", value)
		case lower == "content-type":
			out.Set("Content-Type", value)
		case lower == "content-md5":
			if etag, err := MD5Base64ToETag(value); err == nil {
				out.Set("ETag", `"`+etag+`"`)
			}
		}
	}
	return out
}

// MD5Base64ToETag converts the store's base64-encoded MD5 into the hex form
// S3 clients expect in ETags. Decoding the hex and re-encoding base64
// reproduces the input exactly.
func MD5Base64ToETag(s string) (string, error) {
	raw, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return "", err
	}
	return hex.EncodeToString(raw), nil
}

// ETagToMD5Base64 is the inverse of MD5Base64ToETag.
func ETagToMD5Base64(etag string) (string, error) {
	raw, err := hex.DecodeString(strings.Trim(etag, `"`))
	if err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(raw), nil
}
