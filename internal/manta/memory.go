package manta

import (
	"bytes"
	"context"
	"crypto/md5"
	"encoding/base64"
	"io"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"
)

// memNode is a single node in the in-memory store tree: either a directory
// with children or an object with data.
type memNode struct {
	dir      bool
	children map[string]*memNode

	data        []byte
	contentType string
	md5b64      string
	durability  int
	meta        map[string]string

	mtime time.Time
}

// MemoryStore implements Client against an in-memory directory tree. It is
// used by handler tests and by the "memory" backend for local development.
type MemoryStore struct {
	mu   sync.RWMutex
	root *memNode
	user string
}

// NewMemoryStore creates an empty in-memory store operating as user.
func NewMemoryStore(user string) *MemoryStore {
	return &MemoryStore{
		root: &memNode{dir: true, children: make(map[string]*memNode), mtime: time.Now().UTC()},
		user: user,
	}
}

// User returns the configured account name.
func (s *MemoryStore) User() string {
	return s.user
}

// splitPath breaks a store path into its non-empty segments.
func splitPath(path string) []string {
	var segs []string
	for _, seg := range strings.Split(path, "/") {
		if seg != "" {
			segs = append(segs, seg)
		}
	}
	return segs
}

// lookup walks the tree to the node at path. Caller must hold s.mu.
func (s *MemoryStore) lookup(path string) *memNode {
	node := s.root
	for _, seg := range splitPath(path) {
		if !node.dir {
			return nil
		}
		child, ok := node.children[seg]
		if !ok {
			return nil
		}
		node = child
	}
	return node
}

// lookupParent walks to the parent directory of path. Caller must hold s.mu.
func (s *MemoryStore) lookupParent(path string) (*memNode, string) {
	segs := splitPath(path)
	if len(segs) == 0 {
		return nil, ""
	}
	node := s.root
	for _, seg := range segs[:len(segs)-1] {
		if !node.dir {
			return nil, ""
		}
		child, ok := node.children[seg]
		if !ok {
			return nil, ""
		}
		node = child
	}
	if !node.dir {
		return nil, ""
	}
	return node, segs[len(segs)-1]
}

// info builds an ObjectInfo snapshot for a node. Caller must hold s.mu.
func (n *memNode) info() *ObjectInfo {
	headers := make(map[string]string)
	oi := &ObjectInfo{
		LastModified: n.mtime,
		Headers:      headers,
	}
	headers["last-modified"] = n.mtime.UTC().Format(time.RFC1123)
	if n.dir {
		oi.ContentType = DirectoryContentType
		headers["content-type"] = DirectoryContentType
		return oi
	}
	oi.ContentType = n.contentType
	oi.ContentMD5 = n.md5b64
	oi.ContentLength = int64(len(n.data))
	oi.Durability = n.durability
	headers["content-type"] = n.contentType
	headers["content-length"] = strconv.Itoa(len(n.data))
	headers["content-md5"] = n.md5b64
	headers["durability-level"] = strconv.Itoa(n.durability)
	for k, v := range n.meta {
		headers[strings.ToLower(k)] = v
	}
	return oi
}

func notFound(msg string) *StoreError {
	return &StoreError{StatusCode: 404, Code: "ResourceNotFound", Message: msg}
}

// Info implements Client.
func (s *MemoryStore) Info(ctx context.Context, path string) (*ObjectInfo, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	node := s.lookup(path)
	if node == nil {
		return nil, notFound(path)
	}
	return node.info(), nil
}

// Mkdir implements Client. Creating an existing directory is a no-op; the
// parent must already exist.
func (s *MemoryStore) Mkdir(ctx context.Context, path string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	parent, name := s.lookupParent(path)
	if parent == nil {
		return &StoreError{StatusCode: 404, Code: "DirectoryDoesNotExist", Message: path}
	}
	if existing, ok := parent.children[name]; ok {
		if existing.dir {
			return nil
		}
		return &StoreError{StatusCode: 400, Code: "ParentNotDirectory", Message: path}
	}
	parent.children[name] = &memNode{dir: true, children: make(map[string]*memNode), mtime: time.Now().UTC()}
	return nil
}

// MkdirP implements Client, creating all missing ancestors.
func (s *MemoryStore) MkdirP(ctx context.Context, path string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	node := s.root
	for _, seg := range splitPath(path) {
		child, ok := node.children[seg]
		if !ok {
			child = &memNode{dir: true, children: make(map[string]*memNode), mtime: time.Now().UTC()}
			node.children[seg] = child
		}
		if !child.dir {
			return &StoreError{StatusCode: 400, Code: "ParentNotDirectory", Message: path}
		}
		node = child
	}
	return nil
}

// Put implements Client. The in-memory store buffers the body; the HTTP
// client is the streaming implementation.
func (s *MemoryStore) Put(ctx context.Context, path string, body io.Reader, opts PutOptions) (*ObjectInfo, error) {
	data, err := io.ReadAll(body)
	if err != nil {
		return nil, err
	}

	sum := md5.Sum(data)
	md5b64 := base64.StdEncoding.EncodeToString(sum[:])
	if opts.ContentMD5 != "" && opts.ContentMD5 != md5b64 {
		return nil, &StoreError{StatusCode: 400, Code: "ContentMD5Mismatch", Message: path}
	}

	contentType := opts.ContentType
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	durability := 2
	meta := make(map[string]string)
	for k, v := range opts.Headers {
		lower := strings.ToLower(k)
		if lower == "x-durability-level" {
			if level, convErr := strconv.Atoi(v); convErr == nil {
				durability = level
			}
			continue
		}
		if strings.HasPrefix(lower, "m-") {
			meta[k] = v
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	parent, name := s.lookupParent(path)
	if parent == nil {
		return nil, &StoreError{StatusCode: 404, Code: "DirectoryDoesNotExist", Message: path}
	}
	node := &memNode{
		data:        data,
		contentType: contentType,
		md5b64:      md5b64,
		durability:  durability,
		meta:        meta,
		mtime:       time.Now().UTC(),
	}
	parent.children[name] = node
	return node.info(), nil
}

// Get implements Client. Directories are returned with their sentinel content
// type and an empty body.
func (s *MemoryStore) Get(ctx context.Context, path string) (io.ReadCloser, *ObjectInfo, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	node := s.lookup(path)
	if node == nil {
		return nil, nil, notFound(path)
	}
	if node.dir {
		return io.NopCloser(bytes.NewReader(nil)), node.info(), nil
	}

	// Copy so callers cannot mutate the stored slice.
	dataCopy := make([]byte, len(node.data))
	copy(dataCopy, node.data)
	return io.NopCloser(bytes.NewReader(dataCopy)), node.info(), nil
}

// Unlink implements Client. Directories must be empty.
func (s *MemoryStore) Unlink(ctx context.Context, path string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	parent, name := s.lookupParent(path)
	if parent == nil {
		return notFound(path)
	}
	node, ok := parent.children[name]
	if !ok {
		return notFound(path)
	}
	if node.dir && len(node.children) > 0 {
		return &StoreError{StatusCode: 400, Code: "DirectoryNotEmpty", Message: path}
	}
	delete(parent.children, name)
	return nil
}

// Ln implements Client, creating a snaplink: the destination shares the
// source's bytes and metadata but gets a fresh modification time.
func (s *MemoryStore) Ln(ctx context.Context, src, dst string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	srcNode := s.lookup(src)
	if srcNode == nil || srcNode.dir {
		return notFound(src)
	}
	parent, name := s.lookupParent(dst)
	if parent == nil {
		return &StoreError{StatusCode: 404, Code: "DirectoryDoesNotExist", Message: dst}
	}

	meta := make(map[string]string, len(srcNode.meta))
	for k, v := range srcNode.meta {
		meta[k] = v
	}
	parent.children[name] = &memNode{
		data:        srcNode.data,
		contentType: srcNode.contentType,
		md5b64:      srcNode.md5b64,
		durability:  srcNode.durability,
		meta:        meta,
		mtime:       time.Now().UTC(),
	}
	return nil
}

// Ls implements Client, streaming the directory's children in name order.
func (s *MemoryStore) Ls(ctx context.Context, path string) (*Listing, error) {
	s.mu.RLock()
	node := s.lookup(path)
	if node == nil || !node.dir {
		s.mu.RUnlock()
		return nil, notFound(path)
	}

	// Snapshot the children so the stream is stable under concurrent writes.
	type childSnap struct {
		name  string
		dir   bool
		size  int64
		mtime time.Time
	}
	snaps := make([]childSnap, 0, len(node.children))
	for name, child := range node.children {
		snaps = append(snaps, childSnap{name: name, dir: child.dir, size: int64(len(child.data)), mtime: child.mtime})
	}
	s.mu.RUnlock()

	sort.Slice(snaps, func(i, j int) bool { return snaps[i].name < snaps[j].name })

	parent := "/" + strings.Join(splitPath(path), "/")
	listing := newListing()
	listing.setResultSetSize(len(snaps))

	go func() {
		for _, c := range snaps {
			entry := Entry{
				Type:   EntryObject,
				Name:   c.name,
				Parent: parent,
				Size:   c.size,
				MTime:  c.mtime,
			}
			if c.dir {
				entry.Type = EntryDirectory
				entry.Size = 0
			}
			if !listing.emit(entry) {
				break
			}
		}
		listing.finish()
	}()

	return listing, nil
}

// Ensure MemoryStore implements Client at compile time.
var _ Client = (*MemoryStore)(nil)
