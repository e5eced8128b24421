// Package handlers implements HTTP request handlers for the S3-compatible API.
package handlers

import (
	"log/slog"
	"net/http"

	s3err "github.com/mantabridge/mantabridge/internal/errors"
	"github.com/mantabridge/mantabridge/internal/manta"
	"github.com/mantabridge/mantabridge/internal/pathcodec"
	"github.com/mantabridge/mantabridge/internal/xmlutil"
)

// BucketHandler contains handlers for S3 bucket-level operations. Buckets are
// the immediate child directories of the configured store root.
type BucketHandler struct {
	store  manta.Client
	render *xmlutil.Renderer
	root   string
}

// NewBucketHandler creates a new BucketHandler with the given dependencies.
func NewBucketHandler(store manta.Client, render *xmlutil.Renderer, root string) *BucketHandler {
	return &BucketHandler{
		store:  store,
		render: render,
		root:   root,
	}
}

// ListBuckets handles GET / by streaming the root directory's children. The
// whole stream is consumed before responding; store-level pagination is
// invisible here.
func (h *BucketHandler) ListBuckets(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	listing, err := h.store.Ls(ctx, h.root)
	if err != nil {
		// A missing root means no bucket was ever created.
		if manta.IsNotFound(err) {
			h.render.Render(w, &xmlutil.ListAllMyBucketsResult{
				Xmlns: h.render.Xmlns,
				Owner: xmlutil.Owner{ID: h.store.User(), DisplayName: h.store.User()},
			})
			return
		}
		slog.Error("ListBuckets store error", "error", err)
		h.render.RenderError(w, r, storeError(err, s3err.ErrInternalError))
		return
	}

	var buckets []xmlutil.Bucket
	for entry := range listing.Entries() {
		if entry.Type != manta.EntryDirectory {
			continue
		}
		buckets = append(buckets, xmlutil.Bucket{
			Name:         entry.Name,
			CreationDate: xmlutil.FormatTimeS3(entry.MTime),
		})
	}
	if err := listing.Err(); err != nil {
		slog.Error("ListBuckets stream error", "error", err)
		h.render.RenderError(w, r, listingError(err))
		return
	}

	h.render.Render(w, &xmlutil.ListAllMyBucketsResult{
		Xmlns:   h.render.Xmlns,
		Owner:   xmlutil.Owner{ID: h.store.User(), DisplayName: h.store.User()},
		Buckets: buckets,
	})
}

// CreateBucket handles PUT /{bucket}. Directory creation is idempotent, so a
// repeated create of an owned bucket succeeds with 200.
func (h *BucketHandler) CreateBucket(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	bucket := extractBucketName(r)

	if msg := validateBucketName(bucket); msg != "" {
		slog.Debug("CreateBucket invalid name", "bucket", bucket, "reason", msg)
		h.render.RenderError(w, r, s3err.ErrInvalidBucketName)
		return
	}

	// MkdirP covers the first create on a fresh store, where the root
	// directory itself does not exist yet.
	if err := h.store.MkdirP(ctx, pathcodec.JoinBucket(h.root, bucket)); err != nil {
		if manta.StatusCode(err) == 409 {
			h.render.RenderError(w, r, s3err.ErrBucketAlreadyExists)
			return
		}
		slog.Error("CreateBucket store error", "bucket", bucket, "error", err)
		h.render.RenderError(w, r, storeError(err, s3err.ErrInternalError))
		return
	}

	w.Header().Set("Location", "/"+bucket)
	w.WriteHeader(http.StatusOK)
}

// HeadBucket handles HEAD /{bucket}. Responses carry no body either way.
func (h *BucketHandler) HeadBucket(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	bucket := extractBucketName(r)

	info, err := h.store.Info(ctx, pathcodec.JoinBucket(h.root, bucket))
	if err != nil || info.ContentType != manta.DirectoryContentType {
		w.WriteHeader(statusForHead(err))
		return
	}
	w.WriteHeader(http.StatusOK)
}

// statusForHead maps a store error onto a bare status code for HEAD replies.
func statusForHead(err error) int {
	switch {
	case err == nil:
		// Path exists but is not what the caller asked for.
		return http.StatusNotFound
	case manta.IsNotFound(err):
		return http.StatusNotFound
	case manta.IsForbidden(err):
		return http.StatusForbidden
	default:
		return http.StatusInternalServerError
	}
}

// DeleteBucket handles DELETE /{bucket}. A bounded listing probe rejects
// non-empty buckets before the rmdir.
func (h *BucketHandler) DeleteBucket(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	bucket := extractBucketName(r)
	path := pathcodec.JoinBucket(h.root, bucket)

	listing, err := h.store.Ls(ctx, path)
	if err != nil {
		h.render.RenderError(w, r, storeError(err, s3err.ErrNoSuchBucket))
		return
	}
	_, nonEmpty := <-listing.Entries()
	listing.Close()
	for range listing.Entries() {
	}
	if err := listing.Err(); err != nil {
		slog.Error("DeleteBucket probe error", "bucket", bucket, "error", err)
		h.render.RenderError(w, r, listingError(err))
		return
	}
	if nonEmpty {
		h.render.RenderError(w, r, s3err.ErrBucketNotEmpty)
		return
	}

	if err := h.store.Unlink(ctx, path); err != nil {
		// A concurrent upload can land between the probe and the rmdir.
		if manta.StatusCode(err) == 400 {
			h.render.RenderError(w, r, s3err.ErrBucketNotEmpty)
			return
		}
		slog.Error("DeleteBucket store error", "bucket", bucket, "error", err)
		h.render.RenderError(w, r, storeError(err, s3err.ErrNoSuchBucket))
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ListMultipartUploads handles GET /{bucket}?uploads. The bridge does not
// support multipart uploads, so the listing is always empty. SDKs probe this
// endpoint during cleanup.
func (h *BucketHandler) ListMultipartUploads(w http.ResponseWriter, r *http.Request) {
	h.render.Render(w, &xmlutil.ListMultipartUploadsResult{
		Xmlns:       h.render.Xmlns,
		Bucket:      extractBucketName(r),
		MaxUploads:  1000,
		IsTruncated: false,
	})
}
