package metacodec

import (
	"net/http"
	"testing"
)

func testDurabilityMap() DurabilityMap {
	return NewDurabilityMap(
		map[string]int{"STANDARD": 2, "REDUCED_REDUNDANCY": 1},
		map[string]string{"2": "STANDARD", "1": "REDUCED_REDUNDANCY"},
		2,
	)
}

func TestDurabilityLookup(t *testing.T) {
	m := testDurabilityMap()

	if got := m.Durability("STANDARD"); got != 2 {
		t.Errorf("Durability(STANDARD) = %d, want 2", got)
	}
	if got := m.Durability("REDUCED_REDUNDANCY"); got != 1 {
		t.Errorf("Durability(REDUCED_REDUNDANCY) = %d, want 1", got)
	}
	// Unknown class falls back to the default.
	if got := m.Durability("GLACIER"); got != 2 {
		t.Errorf("Durability(GLACIER) = %d, want default 2", got)
	}
	if got := m.Durability(""); got != 2 {
		t.Errorf("Durability(\"\") = %d, want default 2", got)
	}

	if got := m.StorageClass(1); got != "REDUCED_REDUNDANCY" {
		t.Errorf("StorageClass(1) = %q", got)
	}
	// Unknown durability reports STANDARD.
	if got := m.StorageClass(7); got != "STANDARD" {
		t.Errorf("StorageClass(7) = %q, want STANDARD", got)
	}
}

func TestRequestHeaders(t *testing.T) {
	h := make(http.Header)
	h.Set("x-amz-meta-Author", "alice")
	h.Set("x-amz-meta-rev", "42")
	h.Set("x-amz-storage-class", "REDUCED_REDUNDANCY")
	h.Set("Content-Type", "text/plain")

	bs := RequestHeaders(h, testDurabilityMap())

	// Go canonicalizes incoming keys; the suffix case is preserved as received.
	if got := bs["m-Author"]; got != "alice" {
		t.Errorf("m-Author = %q, want alice (have %v)", got, bs)
	}
	if got := bs["m-Rev"]; got != "42" {
		t.Errorf("m-Rev = %q, want 42 (have %v)", got, bs)
	}
	if got := bs[DurabilityRequestHeader]; got != "1" {
		t.Errorf("%s = %q, want 1", DurabilityRequestHeader, got)
	}
	if _, ok := bs["m-"]; ok {
		t.Error("bare x-amz-meta- header must not produce an m- entry")
	}
}

func TestRequestHeadersDefaultDurability(t *testing.T) {
	bs := RequestHeaders(make(http.Header), testDurabilityMap())
	if got := bs[DurabilityRequestHeader]; got != "2" {
		t.Errorf("%s = %q, want default 2", DurabilityRequestHeader, got)
	}
}

func TestResponseHeaders(t *testing.T) {
	bs := map[string]string{
		"m-author":         "alice",
		"durability-level": "1",
		"content-length":   "5",
		"content-type":     "text/plain",
		"content-md5":      "XUFAKrxLKna5cZ2REBfFkg==",
	}

	h := ResponseHeaders(bs, testDurabilityMap())

	if got := h.Get("x-amz-meta-author"); got != "alice" {
		t.Errorf("x-amz-meta-author = %q", got)
	}
	if got := h.Get("x-amz-storage-class"); got != "REDUCED_REDUNDANCY" {
		t.Errorf("x-amz-storage-class = %q", got)
	}
	if got := h.Get("Content-Length"); got != "5" {
		t.Errorf("Content-Length = %q", got)
	}
	if got := h.Get("Content-Type"); got != "text/plain" {
		t.Errorf("Content-Type = %q", got)
	}
	// MD5 of "hello".
	if got := h.Get("ETag"); got != `"5d41402abc4b2a76b9719d911017c592"` {
		t.Errorf("ETag = %q", got)
	}
}

func TestMD5Base64ToETag(t *testing.T) {
	etag, err := MD5Base64ToETag("XUFAKrxLKna5cZ2REBfFkg==")
	if err != nil {
		t.Fatalf("MD5Base64ToETag error: %v", err)
	}
	if etag != "5d41402abc4b2a76b9719d911017c592" {
		t.Errorf("etag = %q", etag)
	}

	if _, err := MD5Base64ToETag("not base64!!!"); err == nil {
		t.Error("expected error for invalid base64")
	}
}

// Round-trip law: hex-decode then base64-encode reproduces the input.
func TestMD5RoundTrip(t *testing.T) {
	inputs := []string{
		"XUFAKrxLKna5cZ2REBfFkg==",
		"1B2M2Y8AsgTpgAmY7PhCfg==",
	}
	for _, in := range inputs {
		etag, err := MD5Base64ToETag(in)
		if err != nil {
			t.Fatalf("MD5Base64ToETag(%q) error: %v", in, err)
		}
		back, err := ETagToMD5Base64(etag)
		if err != nil {
			t.Fatalf("ETagToMD5Base64(%q) error: %v", etag, err)
		}
		if back != in {
			t.Errorf("round trip of %q produced %q", in, back)
		}
	}
}
