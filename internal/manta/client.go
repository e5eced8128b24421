// Package manta defines the client interface for the hierarchical backing
// store behind the bridge, plus two implementations: an HTTP client speaking
// the store's REST API and an in-memory store used by tests and local
// development.
package manta

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"
)

// DirectoryContentType is the content type the store reports for directories.
// Objects are never served with this type; handlers treat a GET that returns
// it as not-found.
const DirectoryContentType = "application/x-json-stream; type=directory"

// ObjectInfo describes a store node as reported by HEAD, GET, and PUT.
type ObjectInfo struct {
	// ContentType is the stored content type; DirectoryContentType for
	// directories.
	ContentType string
	// ContentMD5 is the store-computed MD5, base64-encoded. Empty for
	// directories.
	ContentMD5 string
	// ContentLength is the object size in bytes.
	ContentLength int64
	// Durability is the stored copy count.
	Durability int
	// LastModified is the node's modification time.
	LastModified time.Time
	// Headers is the full response header bag with lowercased keys,
	// including any m-* user metadata.
	Headers map[string]string
}

// PutOptions carries the upload headers for a Put call.
type PutOptions struct {
	ContentType   string
	ContentLength int64
	// ContentMD5 is the client-supplied base64 MD5, forwarded for
	// server-side verification. May be empty.
	ContentMD5 string
	// Headers holds additional store headers: m-* user metadata and
	// x-durability-level.
	Headers map[string]string
}

// EntryType discriminates directory listing entries.
type EntryType string

// Listing entry types as reported by the store's directory stream.
const (
	EntryObject    EntryType = "object"
	EntryDirectory EntryType = "directory"
)

// Entry is a single directory listing record.
type Entry struct {
	Type EntryType
	// Name is the entry's name within its parent directory.
	Name string
	// Parent is the store path of the directory containing the entry.
	Parent string
	// Size is the object size in bytes; zero for directories.
	Size int64
	// MTime is the entry's modification time.
	MTime time.Time
}

// Client is the backing store contract consumed by the translation engine.
// Implementations must be safe for concurrent use; every method may fail with
// a *StoreError carrying an HTTP-style status code, of which 404 and 403 are
// significant to callers.
type Client interface {
	// Info returns metadata for the node at path without a body (HEAD).
	Info(ctx context.Context, path string) (*ObjectInfo, error)

	// Mkdir creates a single directory. Creating an existing directory is
	// not an error.
	Mkdir(ctx context.Context, path string) error

	// MkdirP creates a directory and all missing ancestors.
	MkdirP(ctx context.Context, path string) error

	// Put streams body into the object at path. The body is consumed
	// directly; implementations must not buffer it in full. Returns the
	// stored object's info, including the store-computed MD5.
	Put(ctx context.Context, path string, body io.Reader, opts PutOptions) (*ObjectInfo, error)

	// Get opens the object at path for reading. The caller must close the
	// returned stream.
	Get(ctx context.Context, path string) (io.ReadCloser, *ObjectInfo, error)

	// Unlink removes the object or empty directory at path.
	Unlink(ctx context.Context, path string) error

	// Ln creates a snaplink at dst referencing the object at src.
	Ln(ctx context.Context, src, dst string) error

	// Ls opens a streamed listing of the directory at path. The stream
	// consumes store-level pagination transparently.
	Ls(ctx context.Context, path string) (*Listing, error)

	// User returns the store account name the client operates as.
	User() string
}

// StoreError is an error reported by the backing store, carrying the
// HTTP-style status code and the store's error code string.
type StoreError struct {
	StatusCode int
	Code       string
	Message    string
}

// Error implements the error interface.
func (e *StoreError) Error() string {
	return fmt.Sprintf("manta: %s (%d): %s", e.Code, e.StatusCode, e.Message)
}

// IsNotFound reports whether err is a store 404.
func IsNotFound(err error) bool {
	var se *StoreError
	return errors.As(err, &se) && se.StatusCode == 404
}

// IsForbidden reports whether err is a store 403.
func IsForbidden(err error) bool {
	var se *StoreError
	return errors.As(err, &se) && se.StatusCode == 403
}

// StatusCode returns the store status code carried by err, or 0 if err is not
// a StoreError.
func StatusCode(err error) int {
	var se *StoreError
	if errors.As(err, &se) {
		return se.StatusCode
	}
	return 0
}

// Listing is a streamed directory listing. Entries are received from
// Entries() until the channel closes; Err() then reports any mid-stream
// failure. Close detaches the consumer early: the producer drains and stops.
type Listing struct {
	entries chan Entry
	done    chan struct{}

	closeOnce sync.Once

	mu            sync.Mutex
	err           error
	resultSetSize int
}

// newListing creates a Listing with a small producer buffer.
func newListing() *Listing {
	return &Listing{
		entries: make(chan Entry, 64),
		done:    make(chan struct{}),
	}
}

// Entries returns the entry channel. It is closed when the stream ends,
// fails, or the consumer calls Close.
func (l *Listing) Entries() <-chan Entry {
	return l.entries
}

// Close detaches the consumer. Pending and future entries are discarded by
// the producer. Safe to call multiple times and concurrently with receives.
func (l *Listing) Close() {
	l.closeOnce.Do(func() { close(l.done) })
}

// Err returns the stream error, if any. Valid after the entry channel closes.
func (l *Listing) Err() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.err
}

// ResultSetSize returns the store-reported total number of entries in the
// directory, which may exceed the number of entries actually streamed.
func (l *Listing) ResultSetSize() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.resultSetSize
}

// emit sends one entry to the consumer. Returns false if the consumer has
// detached; the producer should stop.
func (l *Listing) emit(e Entry) bool {
	select {
	case <-l.done:
		return false
	case l.entries <- e:
		return true
	}
}

// fail records a stream error and closes the entry channel.
func (l *Listing) fail(err error) {
	l.mu.Lock()
	l.err = err
	l.mu.Unlock()
	close(l.entries)
}

// finish closes the entry channel after a successful stream.
func (l *Listing) finish() {
	close(l.entries)
}

// setResultSetSize records the store-reported total entry count.
func (l *Listing) setResultSetSize(n int) {
	l.mu.Lock()
	l.resultSetSize = n
	l.mu.Unlock()
}
