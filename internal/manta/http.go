package manta

import (
	"bufio"
	"context"
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"golang.org/x/crypto/ssh"

	"github.com/mantabridge/mantabridge/internal/metrics"
)

// directoryLimit is the page size requested from the store's directory
// listings. The Ls stream pages through larger directories transparently.
const directoryLimit = 1024

// linkContentType is the content type that creates a snaplink on PUT.
const linkContentType = "application/json; type=link"

// HTTPClient implements Client against the store's REST API. A single
// HTTPClient is shared by all request handlers; the embedded http.Client
// pools connections and is safe for concurrent use.
type HTTPClient struct {
	baseURL string
	user    string
	keyID   string
	signKey *rsa.PrivateKey
	httpc   *http.Client
}

// NewHTTPClient creates a store client for the given endpoint and account.
// keyID is the fingerprint path of the signing key (e.g.
// "/account/keys/aa:bb:..."); privateKeyPEM is the corresponding RSA key in
// PEM form. An empty key disables request signing, for stores fronted by
// other auth.
func NewHTTPClient(endpoint, user, keyID string, privateKeyPEM []byte) (*HTTPClient, error) {
	c := &HTTPClient{
		baseURL: strings.TrimSuffix(endpoint, "/"),
		user:    user,
		keyID:   keyID,
		httpc: &http.Client{
			// No overall timeout: uploads and downloads stream for as long
			// as the transfer takes. Cancellation comes from the request
			// context.
			Transport: &http.Transport{
				MaxIdleConnsPerHost: 16,
				IdleConnTimeout:     90 * time.Second,
			},
		},
	}

	if len(privateKeyPEM) > 0 {
		raw, err := ssh.ParseRawPrivateKey(privateKeyPEM)
		if err != nil {
			return nil, fmt.Errorf("parsing signing key: %w", err)
		}
		rsaKey, ok := raw.(*rsa.PrivateKey)
		if !ok {
			return nil, fmt.Errorf("signing key must be RSA, got %T", raw)
		}
		c.signKey = rsaKey
	}

	return c, nil
}

// User returns the store account name.
func (c *HTTPClient) User() string {
	return c.user
}

// encodePath escapes each path segment while preserving the separators.
func encodePath(path string) string {
	segs := strings.Split(path, "/")
	for i, seg := range segs {
		segs[i] = url.PathEscape(seg)
	}
	return strings.Join(segs, "/")
}

// newRequest builds a signed request for the given store path.
func (c *HTTPClient) newRequest(ctx context.Context, method, path string, query url.Values, body io.Reader) (*http.Request, error) {
	u := c.baseURL + encodePath(path)
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, method, u, body)
	if err != nil {
		return nil, err
	}

	date := time.Now().UTC().Format(http.TimeFormat)
	req.Header.Set("Date", date)
	if c.signKey != nil {
		sig, err := c.signDate(date)
		if err != nil {
			return nil, fmt.Errorf("signing request: %w", err)
		}
		req.Header.Set("Authorization", fmt.Sprintf(
			`Signature keyId=%q,algorithm="rsa-sha256",signature=%q`, c.keyID, sig))
	}
	return req, nil
}

// do executes req and records the call in the store metrics.
func (c *HTTPClient) do(req *http.Request, verb string) (*http.Response, error) {
	start := time.Now()
	resp, err := c.httpc.Do(req)
	status := "error"
	if err == nil {
		status = strconv.Itoa(resp.StatusCode)
	}
	metrics.StoreCallsTotal.WithLabelValues(verb, status).Inc()
	metrics.StoreCallDuration.WithLabelValues(verb).Observe(time.Since(start).Seconds())
	return resp, err
}

// signDate signs the date header value per the HTTP-Signature scheme.
func (c *HTTPClient) signDate(date string) (string, error) {
	digest := sha256.Sum256([]byte("date: " + date))
	sig, err := rsa.SignPKCS1v15(rand.Reader, c.signKey, crypto.SHA256, digest[:])
	if err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(sig), nil
}

// checkResponse converts a non-2xx response into a *StoreError, consuming
// and closing the body.
func checkResponse(resp *http.Response) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	defer resp.Body.Close()

	se := &StoreError{StatusCode: resp.StatusCode, Code: "InternalError"}
	var payload struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	}
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if json.Unmarshal(body, &payload) == nil && payload.Code != "" {
		se.Code = payload.Code
		se.Message = payload.Message
	} else {
		se.Message = strings.TrimSpace(string(body))
	}
	return se
}

// parseInfo builds an ObjectInfo from response headers.
func parseInfo(h http.Header) *ObjectInfo {
	oi := &ObjectInfo{
		ContentType: h.Get("Content-Type"),
		ContentMD5:  h.Get("Content-MD5"),
		Headers:     make(map[string]string, len(h)),
	}
	// PUT responses report the server-side MD5 in Computed-MD5.
	if oi.ContentMD5 == "" {
		oi.ContentMD5 = h.Get("Computed-MD5")
	}
	if cl := h.Get("Content-Length"); cl != "" {
		if n, err := strconv.ParseInt(cl, 10, 64); err == nil {
			oi.ContentLength = n
		}
	}
	if dl := h.Get("Durability-Level"); dl != "" {
		if n, err := strconv.Atoi(dl); err == nil {
			oi.Durability = n
		}
	}
	if lm := h.Get("Last-Modified"); lm != "" {
		if t, err := http.ParseTime(lm); err == nil {
			oi.LastModified = t
		}
	}
	for key, values := range h {
		if len(values) > 0 {
			oi.Headers[strings.ToLower(key)] = values[0]
		}
	}
	if oi.ContentMD5 != "" {
		oi.Headers["content-md5"] = oi.ContentMD5
	}
	return oi
}

// Info implements Client via HEAD.
func (c *HTTPClient) Info(ctx context.Context, path string) (*ObjectInfo, error) {
	req, err := c.newRequest(ctx, http.MethodHead, path, nil, nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.do(req, "info")
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if err := checkResponse(resp); err != nil {
		return nil, err
	}
	return parseInfo(resp.Header), nil
}

// Mkdir implements Client. The store treats directory PUT as idempotent.
func (c *HTTPClient) Mkdir(ctx context.Context, path string) error {
	req, err := c.newRequest(ctx, http.MethodPut, path, nil, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", DirectoryContentType)
	resp, err := c.do(req, "mkdir")
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	return checkResponse(resp)
}

// MkdirP implements Client by creating each ancestor in turn.
func (c *HTTPClient) MkdirP(ctx context.Context, path string) error {
	segs := strings.Split(strings.Trim(path, "/"), "/")
	// The first two segments are the account root (e.g. /account/stor),
	// which always exists and cannot be created.
	for i := 2; i <= len(segs); i++ {
		if err := c.Mkdir(ctx, "/"+strings.Join(segs[:i], "/")); err != nil {
			return err
		}
	}
	return nil
}

// Put implements Client, streaming body straight onto the wire. Backpressure
// propagates end-to-end: if the store stalls, reads from body pause.
func (c *HTTPClient) Put(ctx context.Context, path string, body io.Reader, opts PutOptions) (*ObjectInfo, error) {
	req, err := c.newRequest(ctx, http.MethodPut, path, nil, body)
	if err != nil {
		return nil, err
	}
	if opts.ContentType != "" {
		req.Header.Set("Content-Type", opts.ContentType)
	}
	if opts.ContentLength >= 0 {
		req.ContentLength = opts.ContentLength
	}
	if opts.ContentMD5 != "" {
		req.Header.Set("Content-MD5", opts.ContentMD5)
	}
	for k, v := range opts.Headers {
		req.Header.Set(k, v)
	}

	resp, err := c.do(req, "put")
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if err := checkResponse(resp); err != nil {
		return nil, err
	}
	return parseInfo(resp.Header), nil
}

// Get implements Client. The returned stream is the response body; closing
// it releases the connection.
func (c *HTTPClient) Get(ctx context.Context, path string) (io.ReadCloser, *ObjectInfo, error) {
	req, err := c.newRequest(ctx, http.MethodGet, path, nil, nil)
	if err != nil {
		return nil, nil, err
	}
	resp, err := c.do(req, "get")
	if err != nil {
		return nil, nil, err
	}
	if err := checkResponse(resp); err != nil {
		return nil, nil, err
	}
	return resp.Body, parseInfo(resp.Header), nil
}

// Unlink implements Client via DELETE.
func (c *HTTPClient) Unlink(ctx context.Context, path string) error {
	req, err := c.newRequest(ctx, http.MethodDelete, path, nil, nil)
	if err != nil {
		return err
	}
	resp, err := c.do(req, "unlink")
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	return checkResponse(resp)
}

// Ln implements Client using the store's snaplink primitive: a PUT to the
// destination with the link content type and the source in Location.
func (c *HTTPClient) Ln(ctx context.Context, src, dst string) error {
	req, err := c.newRequest(ctx, http.MethodPut, dst, nil, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", linkContentType)
	req.Header.Set("Location", encodePath(src))
	resp, err := c.do(req, "ln")
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	return checkResponse(resp)
}

// lsEntry is the wire form of one directory listing record.
type lsEntry struct {
	Name  string    `json:"name"`
	Type  string    `json:"type"`
	MTime time.Time `json:"mtime"`
	Size  int64     `json:"size"`
}

// Ls implements Client. The store pages directory listings; the stream
// issues marker-based follow-up requests until the directory is exhausted,
// so consumers see one uninterrupted stream.
func (c *HTTPClient) Ls(ctx context.Context, path string) (*Listing, error) {
	parent := "/" + strings.Trim(path, "/")
	listing := newListing()

	// Open the first page synchronously so callers get immediate 404s.
	resp, err := c.lsPage(ctx, path, "")
	if err != nil {
		return nil, err
	}
	if rss := resp.Header.Get("Result-Set-Size"); rss != "" {
		if n, convErr := strconv.Atoi(rss); convErr == nil {
			listing.setResultSetSize(n)
		}
	}

	go func() {
		marker := ""
		page := resp
		for {
			last, count, detached, err := c.streamPage(listing, page, parent, marker)
			page.Body.Close()
			if err != nil {
				listing.fail(err)
				return
			}
			if detached {
				listing.finish()
				return
			}
			if count < directoryLimit {
				listing.finish()
				return
			}
			marker = last
			next, err := c.lsPage(ctx, path, marker)
			if err != nil {
				listing.fail(err)
				return
			}
			page = next
		}
	}()

	return listing, nil
}

// lsPage issues one directory GET, optionally resuming from marker.
func (c *HTTPClient) lsPage(ctx context.Context, path, marker string) (*http.Response, error) {
	query := url.Values{}
	query.Set("limit", strconv.Itoa(directoryLimit))
	if marker != "" {
		query.Set("marker", marker)
	}
	req, err := c.newRequest(ctx, http.MethodGet, path, query, nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.do(req, "ls")
	if err != nil {
		return nil, err
	}
	if err := checkResponse(resp); err != nil {
		return nil, err
	}
	return resp, nil
}

// streamPage decodes one page of newline-delimited JSON entries into the
// listing. The marker entry repeats at the head of each follow-up page and
// is skipped. Returns the last entry name, the page's entry count, and
// whether the consumer detached mid-page.
func (c *HTTPClient) streamPage(listing *Listing, resp *http.Response, parent, marker string) (last string, count int, detached bool, err error) {
	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64<<10), 1<<20)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		var e lsEntry
		if err := json.Unmarshal([]byte(line), &e); err != nil {
			return last, count, false, &StoreError{StatusCode: 500, Code: "InvalidListing", Message: err.Error()}
		}
		count++
		last = e.Name
		if marker != "" && e.Name == marker {
			continue
		}
		entry := Entry{
			Type:   EntryObject,
			Name:   e.Name,
			Parent: parent,
			Size:   e.Size,
			MTime:  e.MTime,
		}
		if e.Type == "directory" {
			entry.Type = EntryDirectory
		}
		if !listing.emit(entry) {
			// Consumer detached: drain the rest of the page and stop.
			io.Copy(io.Discard, resp.Body)
			return last, count, true, nil
		}
	}
	if err := scanner.Err(); err != nil {
		return last, count, false, err
	}
	return last, count, false, nil
}

// Ensure HTTPClient implements Client at compile time.
var _ Client = (*HTTPClient)(nil)
