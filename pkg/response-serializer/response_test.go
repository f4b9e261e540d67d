package serializer

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestRoundTripKeepsStatusAndBody(t *testing.T) {
	rec := httptest.NewRecorder()
	rec.Header().Set("Content-Type", "text/plain")
	rec.WriteHeader(http.StatusTeapot)
	rec.Write([]byte("short and stout"))
	stored := StoredResponse{
		Response: rec.Result(),
		StoredAt: time.Unix(1700000000, 0),
	}

	bts, err := StoredResponseToBytes(stored)
	if err != nil {
		t.Fatal(err)
	}
	got, err := BytesToStoredResponse(bts)
	if err != nil {
		t.Fatal(err)
	}

	if got.Response.StatusCode != http.StatusTeapot {
		t.Fatalf("Status is %d", got.Response.StatusCode)
	}
	if body, _ := io.ReadAll(got.Response.Body); string(body) != "short and stout" {
		t.Fatalf("Body is %s", body)
	}
	if !got.StoredAt.Equal(stored.StoredAt) {
		t.Fatalf("StoredAt is %s", got.StoredAt)
	}
	if got.Response.Header.Get("Ogate-Stored-Time") != "" {
		t.Fatal("Internal header leaked to restored response")
	}
}

func TestOriginalBodyReadableAfterSerialization(t *testing.T) {
	rec := httptest.NewRecorder()
	rec.Write([]byte("still here"))
	res := rec.Result()

	if _, err := StoredResponseToBytes(StoredResponse{Response: res, StoredAt: time.Now()}); err != nil {
		t.Fatal(err)
	}
	if body, _ := io.ReadAll(res.Body); string(body) != "still here" {
		t.Fatalf("Body after serialization is %s", body)
	}
}
