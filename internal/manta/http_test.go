package manta

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
)

func genTestKeyPEM(t *testing.T) []byte {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("generating key: %v", err)
	}
	return pem.EncodeToMemory(&pem.Block{
		Type:  "RSA PRIVATE KEY",
		Bytes: x509.MarshalPKCS1PrivateKey(key),
	})
}

func newTestClient(t *testing.T, handler http.Handler) *HTTPClient {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	c, err := NewHTTPClient(srv.URL, "acct", "", nil)
	if err != nil {
		t.Fatalf("NewHTTPClient: %v", err)
	}
	return c
}

func TestHTTPInfoParsesHeaders(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodHead {
			t.Errorf("method = %s", r.Method)
		}
		if r.URL.Path != "/acct/stor/s3/b1/obj" {
			t.Errorf("path = %s", r.URL.Path)
		}
		w.Header().Set("Content-Type", "text/plain")
		w.Header().Set("Content-MD5", "XUFAKrxLKna5cZ2REBfFkg==")
		w.Header().Set("Content-Length", "5")
		w.Header().Set("Durability-Level", "3")
		w.Header().Set("m-author", "alice")
		w.WriteHeader(http.StatusOK)
	}))

	info, err := c.Info(context.Background(), "/acct/stor/s3/b1/obj")
	if err != nil {
		t.Fatalf("Info: %v", err)
	}
	if info.ContentType != "text/plain" || info.ContentMD5 != "XUFAKrxLKna5cZ2REBfFkg==" {
		t.Errorf("info = %+v", info)
	}
	if info.ContentLength != 5 || info.Durability != 3 {
		t.Errorf("info = %+v", info)
	}
	if info.Headers["m-author"] != "alice" {
		t.Errorf("headers = %v", info.Headers)
	}
}

func TestHTTPErrorDecoding(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusNotFound)
		io.WriteString(w, `{"code":"ResourceNotFound","message":"no such object"}`)
	}))

	_, err := c.Info(context.Background(), "/acct/stor/s3/missing")
	if !IsNotFound(err) {
		t.Fatalf("err = %v, want 404", err)
	}
	se, ok := err.(*StoreError)
	if !ok || se.Code != "ResourceNotFound" || se.Message != "no such object" {
		t.Errorf("StoreError = %+v", err)
	}
}

func TestHTTPPutStreamsBody(t *testing.T) {
	var gotBody string
	var gotDurability string
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		data, _ := io.ReadAll(r.Body)
		gotBody = string(data)
		gotDurability = r.Header.Get("x-durability-level")
		w.Header().Set("Computed-MD5", "XUFAKrxLKna5cZ2REBfFkg==")
		w.WriteHeader(http.StatusNoContent)
	}))

	info, err := c.Put(context.Background(), "/acct/stor/s3/b1/obj", strings.NewReader("hello"), PutOptions{
		ContentType:   "text/plain",
		ContentLength: 5,
		Headers:       map[string]string{"x-durability-level": "2", "m-author": "alice"},
	})
	if err != nil {
		t.Fatalf("Put: %v", err)
	}
	if gotBody != "hello" {
		t.Errorf("body = %q", gotBody)
	}
	if gotDurability != "2" {
		t.Errorf("x-durability-level = %q", gotDurability)
	}
	if info.ContentMD5 != "XUFAKrxLKna5cZ2REBfFkg==" {
		t.Errorf("ContentMD5 = %q", info.ContentMD5)
	}
}

func TestHTTPMkdirPSkipsAccountRoot(t *testing.T) {
	var puts []string
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPut {
			puts = append(puts, r.URL.Path)
		}
		w.WriteHeader(http.StatusNoContent)
	}))

	if err := c.MkdirP(context.Background(), "/acct/stor/s3/b1"); err != nil {
		t.Fatalf("MkdirP: %v", err)
	}
	want := []string{"/acct/stor", "/acct/stor/s3", "/acct/stor/s3/b1"}
	if len(puts) != len(want) {
		t.Fatalf("puts = %v", puts)
	}
	for i := range want {
		if puts[i] != want[i] {
			t.Errorf("puts[%d] = %q, want %q", i, puts[i], want[i])
		}
	}
}

func TestHTTPLnSetsLinkHeaders(t *testing.T) {
	var contentType, location string
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		contentType = r.Header.Get("Content-Type")
		location = r.Header.Get("Location")
		w.WriteHeader(http.StatusNoContent)
	}))

	if err := c.Ln(context.Background(), "/acct/stor/s3/b1/src", "/acct/stor/s3/b1/dst"); err != nil {
		t.Fatalf("Ln: %v", err)
	}
	if contentType != "application/json; type=link" {
		t.Errorf("Content-Type = %q", contentType)
	}
	if location != "/acct/stor/s3/b1/src" {
		t.Errorf("Location = %q", location)
	}
}

func TestHTTPLsPaginates(t *testing.T) {
	// First page is full (directoryLimit entries), forcing a marker request;
	// the second page repeats the marker entry and adds one more.
	total := directoryLimit + 1
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		marker := r.URL.Query().Get("marker")
		w.Header().Set("Result-Set-Size", strconv.Itoa(total))
		w.Header().Set("Content-Type", "application/x-json-stream; type=directory")

		start := 0
		if marker != "" {
			var n int
			fmt.Sscanf(marker, "obj%06d", &n)
			start = n // marker entry re-sent first
		}
		count := 0
		for i := start; i < total && count < directoryLimit; i++ {
			fmt.Fprintf(w, `{"name":"obj%06d","type":"object","mtime":"2024-01-01T00:00:00Z","size":1}`+"\n", i)
			count++
		}
	}))

	listing, err := c.Ls(context.Background(), "/acct/stor/s3/b1")
	if err != nil {
		t.Fatalf("Ls: %v", err)
	}

	var names []string
	for e := range listing.Entries() {
		names = append(names, e.Name)
		if e.Parent != "/acct/stor/s3/b1" {
			t.Fatalf("Parent = %q", e.Parent)
		}
	}
	if err := listing.Err(); err != nil {
		t.Fatalf("stream error: %v", err)
	}

	if len(names) != total {
		t.Fatalf("len(names) = %d, want %d", len(names), total)
	}
	// No duplicates from the repeated marker entry.
	seen := make(map[string]bool, len(names))
	for _, n := range names {
		if seen[n] {
			t.Fatalf("duplicate entry %q", n)
		}
		seen[n] = true
	}
	if listing.ResultSetSize() != total {
		t.Errorf("ResultSetSize = %d, want %d", listing.ResultSetSize(), total)
	}
}

func TestHTTPLsEarlyClose(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Result-Set-Size", "3")
		for i := 0; i < 3; i++ {
			fmt.Fprintf(w, `{"name":"e%d","type":"object","mtime":"2024-01-01T00:00:00Z","size":1}`+"\n", i)
		}
	}))

	listing, err := c.Ls(context.Background(), "/acct/stor/s3/b1")
	if err != nil {
		t.Fatalf("Ls: %v", err)
	}
	<-listing.Entries()
	listing.Close()
	for range listing.Entries() {
	}
}

func TestHTTPSigning(t *testing.T) {
	var auth, date string
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auth = r.Header.Get("Authorization")
		date = r.Header.Get("Date")
		w.WriteHeader(http.StatusNoContent)
	})
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	c, err := NewHTTPClient(srv.URL, "acct", "/acct/keys/ab:cd", genTestKeyPEM(t))
	if err != nil {
		t.Fatalf("NewHTTPClient: %v", err)
	}
	if err := c.Unlink(context.Background(), "/acct/stor/s3/b1/obj"); err != nil {
		t.Fatalf("Unlink: %v", err)
	}

	if date == "" {
		t.Error("Date header missing")
	}
	if !strings.HasPrefix(auth, `Signature keyId="/acct/keys/ab:cd",algorithm="rsa-sha256",signature="`) {
		t.Errorf("Authorization = %q", auth)
	}
}
