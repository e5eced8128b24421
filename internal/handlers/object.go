package handlers

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	s3err "github.com/mantabridge/mantabridge/internal/errors"
	"github.com/mantabridge/mantabridge/internal/manta"
	"github.com/mantabridge/mantabridge/internal/metacodec"
	"github.com/mantabridge/mantabridge/internal/pathcodec"
	"github.com/mantabridge/mantabridge/internal/xmlutil"
)

// defaultMaxKeys is the listing page size when the client supplies none.
const defaultMaxKeys = 1000

// ObjectHandler contains handlers for S3 object-level operations. Each object
// maps to a store path <root>/<bucket>/<key>, with the key's slashes becoming
// real directories.
type ObjectHandler struct {
	store         manta.Client
	render        *xmlutil.Renderer
	root          string
	durability    metacodec.DurabilityMap
	maxPathLength int
}

// NewObjectHandler creates a new ObjectHandler with the given dependencies.
func NewObjectHandler(store manta.Client, render *xmlutil.Renderer, root string, durability metacodec.DurabilityMap, maxPathLength int) *ObjectHandler {
	return &ObjectHandler{
		store:         store,
		render:        render,
		root:          root,
		durability:    durability,
		maxPathLength: maxPathLength,
	}
}

// keyBudget is the longest sanitized key that keeps the full store path
// within the configured limit: root + "/" + bucket + "/" + key.
func (h *ObjectHandler) keyBudget(bucket string) int {
	return h.maxPathLength - len(h.root) - len(bucket) - 2
}

// ensureParent checks the object's parent directory and creates the chain
// below the bucket when absent. The bucket itself must already exist.
func (h *ObjectHandler) ensureParent(ctx context.Context, bucket, objPath string) *s3err.S3Error {
	bucketPath := pathcodec.JoinBucket(h.root, bucket)
	parent := objPath[:strings.LastIndexByte(objPath, '/')]

	_, err := h.store.Info(ctx, parent)
	if err == nil {
		return nil
	}
	if !manta.IsNotFound(err) {
		return storeError(err, s3err.ErrNoSuchBucket)
	}
	if parent == bucketPath {
		return s3err.ErrNoSuchBucket
	}
	if _, err := h.store.Info(ctx, bucketPath); err != nil {
		return storeError(err, s3err.ErrNoSuchBucket)
	}
	if err := h.store.MkdirP(ctx, parent); err != nil {
		return storeError(err, s3err.ErrNoSuchBucket)
	}
	return nil
}

// PutObject handles PUT /{bucket}/{key} without a copy-source header. The
// request body streams straight into the store upload; backpressure
// propagates from the store to the client.
func (h *ObjectHandler) PutObject(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	bucket := extractBucketName(r)
	key := extractObjectKey(r)

	// A metadata directive implies a copy, which needs a source.
	if r.Header.Get("x-amz-metadata-directive") != "" {
		h.render.RenderError(w, r, s3err.ErrInvalidArgument)
		return
	}

	san, err := pathcodec.Sanitize(key, h.keyBudget(bucket))
	if err != nil {
		h.render.RenderError(w, r, keyError(err))
		return
	}
	objPath := pathcodec.JoinObject(h.root, bucket, san)

	if s3e := h.ensureParent(ctx, bucket, objPath); s3e != nil {
		h.render.RenderError(w, r, s3e)
		return
	}

	opts := manta.PutOptions{
		ContentType:   r.Header.Get("Content-Type"),
		ContentLength: r.ContentLength,
		ContentMD5:    r.Header.Get("Content-MD5"),
		Headers:       metacodec.RequestHeaders(r.Header, h.durability),
	}
	info, err := h.store.Put(ctx, objPath, r.Body, opts)
	if err != nil {
		slog.Error("PutObject store error", "bucket", bucket, "key", san, "error", err)
		h.render.RenderError(w, r, storeError(err, s3err.ErrNoSuchBucket))
		return
	}

	if etag := quotedETag(info.ContentMD5); etag != "" {
		w.Header().Set("ETag", etag)
	}
	w.WriteHeader(http.StatusOK)
}

// GetObject handles GET /{bucket}/{key}, piping the store body to the
// response. Headers are flushed before the first body byte.
func (h *ObjectHandler) GetObject(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	bucket := extractBucketName(r)
	key := extractObjectKey(r)

	if _, err := h.store.Info(ctx, pathcodec.JoinBucket(h.root, bucket)); err != nil {
		h.render.RenderError(w, r, storeError(err, s3err.ErrNoSuchBucket))
		return
	}

	san, err := pathcodec.Sanitize(key, h.keyBudget(bucket))
	if err != nil {
		// An unrepresentable key cannot name a stored object.
		w.WriteHeader(http.StatusNotFound)
		return
	}

	body, info, err := h.store.Get(ctx, pathcodec.JoinObject(h.root, bucket, san))
	if err != nil {
		if manta.IsNotFound(err) {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		h.render.RenderError(w, r, storeError(err, s3err.ErrNoSuchKey))
		return
	}
	defer body.Close()

	// Directories are not retrievable as objects.
	if info.ContentType == manta.DirectoryContentType {
		w.WriteHeader(http.StatusNotFound)
		return
	}

	copyResponseHeaders(w, info, h.durability)
	w.WriteHeader(http.StatusOK)
	if _, err := io.Copy(w, body); err != nil {
		// The status line is already on the wire; the connection is torn
		// down by the server when the handler returns.
		slog.Debug("GetObject stream aborted", "bucket", bucket, "key", san, "error", err)
	}
}

// HeadObject handles HEAD /{bucket}/{key}. Same header projection as GET,
// no body either way.
func (h *ObjectHandler) HeadObject(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	bucket := extractBucketName(r)
	key := extractObjectKey(r)

	if _, err := h.store.Info(ctx, pathcodec.JoinBucket(h.root, bucket)); err != nil {
		w.WriteHeader(statusForHead(err))
		return
	}

	san, err := pathcodec.Sanitize(key, h.keyBudget(bucket))
	if err != nil {
		w.WriteHeader(http.StatusNotFound)
		return
	}

	info, err := h.store.Info(ctx, pathcodec.JoinObject(h.root, bucket, san))
	if err != nil {
		w.WriteHeader(statusForHead(err))
		return
	}
	if info.ContentType == manta.DirectoryContentType {
		w.WriteHeader(http.StatusNotFound)
		return
	}

	copyResponseHeaders(w, info, h.durability)
	w.WriteHeader(http.StatusOK)
}

// DeleteObject handles DELETE /{bucket}/{key}.
func (h *ObjectHandler) DeleteObject(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	bucket := extractBucketName(r)
	key := extractObjectKey(r)

	san, err := pathcodec.Sanitize(key, h.keyBudget(bucket))
	if err != nil {
		h.render.RenderError(w, r, s3err.ErrNoSuchKey)
		return
	}

	if err := h.store.Unlink(ctx, pathcodec.JoinObject(h.root, bucket, san)); err != nil {
		h.render.RenderError(w, r, storeError(err, s3err.ErrNoSuchKey))
		return
	}

	w.Header().Set("x-amz-delete-marker", "false")
	w.WriteHeader(http.StatusNoContent)
}

// CopyObject handles PUT /{bucket}/{key} with an x-amz-copy-source header.
// The store's snaplink primitive makes the copy O(1) regardless of object
// size. A missing source is terminal: 404 with no writes.
func (h *ObjectHandler) CopyObject(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	dstBucket := extractBucketName(r)
	dstKey := extractObjectKey(r)

	srcBucket, srcKey, ok := parseCopySource(r.Header.Get("x-amz-copy-source"))
	if !ok {
		h.render.RenderError(w, r, s3err.ErrInvalidArgument)
		return
	}

	dstSan, err := pathcodec.Sanitize(dstKey, h.keyBudget(dstBucket))
	if err != nil {
		h.render.RenderError(w, r, keyError(err))
		return
	}
	srcSan, err := pathcodec.Sanitize(srcKey, h.keyBudget(srcBucket))
	if err != nil {
		h.render.RenderError(w, r, s3err.ErrNoSuchKey)
		return
	}

	srcPath := pathcodec.JoinObject(h.root, srcBucket, srcSan)
	srcInfo, err := h.store.Info(ctx, srcPath)
	if err != nil {
		h.render.RenderError(w, r, storeError(err, s3err.ErrNoSuchKey))
		return
	}
	if srcInfo.ContentType == manta.DirectoryContentType {
		h.render.RenderError(w, r, s3err.ErrNoSuchKey)
		return
	}

	dstPath := pathcodec.JoinObject(h.root, dstBucket, dstSan)
	if s3e := h.ensureParent(ctx, dstBucket, dstPath); s3e != nil {
		h.render.RenderError(w, r, s3e)
		return
	}

	if err := h.store.Ln(ctx, srcPath, dstPath); err != nil {
		slog.Error("CopyObject store error", "src", srcPath, "dst", dstPath, "error", err)
		h.render.RenderError(w, r, storeError(err, s3err.ErrNoSuchKey))
		return
	}

	h.render.Render(w, &xmlutil.CopyObjectResult{
		Xmlns:        h.render.Xmlns,
		LastModified: xmlutil.FormatTimeS3(srcInfo.LastModified),
		ETag:         quotedETag(srcInfo.ContentMD5),
	})
}

// ListObjects handles GET /{bucket} with optional prefix, delimiter,
// max-keys, and marker query parameters. The listing walks the deepest
// ancestor directory named by the prefix and filters the remaining tail.
func (h *ObjectHandler) ListObjects(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	bucket := extractBucketName(r)
	q := r.URL.Query()
	prefix := q.Get("prefix")

	maxKeys := defaultMaxKeys
	clientMax := false
	if raw := q.Get("max-keys"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			h.render.RenderError(w, r, s3err.ErrInvalidArgument)
			return
		}
		maxKeys = n
		clientMax = true
	}

	result := &xmlutil.ListBucketResult{
		Xmlns:     h.render.Xmlns,
		Name:      bucket,
		Prefix:    prefix,
		Marker:    q.Get("marker"),
		MaxKeys:   maxKeys,
		Delimiter: q.Get("delimiter"),
	}

	// Two consecutive slashes cannot name a store path; nothing can match.
	if strings.Contains(prefix, "//") {
		h.render.Render(w, result)
		return
	}

	subdir, searchPrefix := pathcodec.SplitPrefix(prefix)
	bucketPath := pathcodec.JoinBucket(h.root, bucket)
	listPath := bucketPath
	if subdir != "" {
		listPath += "/" + subdir
	}

	listing, err := h.store.Ls(ctx, listPath)
	if err != nil {
		h.render.RenderError(w, r, listingError(err))
		return
	}

	objectCount := 0
	truncated := false
	for entry := range listing.Entries() {
		if searchPrefix != "" && !strings.HasPrefix(entry.Name, searchPrefix) {
			continue
		}
		objectCount++
		if clientMax && objectCount > maxKeys {
			truncated = true
			listing.Close()
			for range listing.Entries() {
			}
			break
		}
		relKey := pathcodec.Relativize(bucketPath, entry.Parent, entry.Name)
		if entry.Type == manta.EntryDirectory {
			result.CommonPrefixes = append(result.CommonPrefixes, xmlutil.CommonPrefix{Prefix: relKey + "/"})
			continue
		}
		result.Contents = append(result.Contents, xmlutil.Object{
			Key:          relKey,
			LastModified: xmlutil.FormatTimeS3(entry.MTime),
			ETag:         "",
			Size:         entry.Size,
			StorageClass: entryStorageClass(h.durability),
			Owner:        storeOwner(h.store.User()),
		})
	}
	if !truncated {
		if err := listing.Err(); err != nil {
			slog.Error("ListObjects stream error", "bucket", bucket, "error", err)
			h.render.RenderError(w, r, listingError(err))
			return
		}
	}

	result.IsTruncated = truncated
	if !clientMax {
		// Unbounded listing: report how much was actually returned, and
		// flag truncation only when the store said the directory holds
		// more than the stream delivered.
		result.MaxKeys = defaultMaxKeys
		if objectCount > result.MaxKeys {
			result.MaxKeys = objectCount
		}
		result.IsTruncated = searchPrefix == "" && listing.ResultSetSize() > objectCount
	}

	h.render.Render(w, result)
}

// GetObjectAcl handles GET /{bucket}/{key}?acl with a constant policy
// granting FULL_CONTROL to the store account. Exists for SDK compatibility.
func (h *ObjectHandler) GetObjectAcl(w http.ResponseWriter, r *http.Request) {
	h.render.Render(w, h.render.OwnerFullControlPolicy(h.store.User()))
}

// PutObjectAcl handles PUT /{bucket}/{key}?acl as a no-op 200.
func (h *ObjectHandler) PutObjectAcl(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
}

// copyResponseHeaders projects store object headers onto the response.
func copyResponseHeaders(w http.ResponseWriter, info *manta.ObjectInfo, durability metacodec.DurabilityMap) {
	for key, values := range metacodec.ResponseHeaders(info.Headers, durability) {
		for _, v := range values {
			w.Header().Set(key, v)
		}
	}
	if !info.LastModified.IsZero() {
		w.Header().Set("Last-Modified", xmlutil.FormatTimeHTTP(info.LastModified))
	}
}
