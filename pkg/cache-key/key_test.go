package cachekey

import (
	"net/http"
	"strings"
	"testing"
)

func TestRequestFromKey(t *testing.T) {
	keygen := NewKeyer("pwa-cache-v1")
	r, _ := http.NewRequest("GET", "/page?x=1", nil)
	key := keygen.GetKey(r)
	req, err := keygen.GetRequestFromKey(key)
	if err != nil {
		t.Fatalf("%s: %s", key, err)
	}
	if url := req.URL.String(); url != "/page?x=1" {
		t.Fatalf("Created request url for key %s is %s", key, url)
	}
}

func TestAbsoluteURLKeepsHostInKey(t *testing.T) {
	keygen := NewKeyer("pwa-cache-v1")
	foreign, _ := http.NewRequest("GET", "http://cdn.example.net/font.woff2", nil)
	local, _ := http.NewRequest("GET", "/font.woff2", nil)
	if keygen.GetKey(foreign) == keygen.GetKey(local) {
		t.Fatalf("Same-path resources on different hosts collide: %s", keygen.GetKey(foreign))
	}
	if !strings.Contains(keygen.GetKey(foreign), "cdn.example.net") {
		t.Fatalf("Foreign host missing from key %s", keygen.GetKey(foreign))
	}
}

func TestGenerationPrefixIncludesGeneration(t *testing.T) {
	generation := "pwa-cache-v1"
	keygen := NewKeyer(generation)
	if !strings.Contains(keygen.GenerationPrefix, generation) {
		t.Fatalf("GenerationPrefix is %s", keygen.GenerationPrefix)
	}
}

func TestRequestFromForeignKeyFails(t *testing.T) {
	keygen := NewKeyer("pwa-cache-v1")
	if _, err := keygen.GetRequestFromKey("pwa-cache-v0:GET:/page"); err == nil {
		t.Fatal("Expected error for key from another generation")
	}
}
