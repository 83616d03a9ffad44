package storage

import (
	"context"
	"encoding/base64"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestUpload_ShapeAndPublicURL(t *testing.T) {
	var gotPath, gotAuth, gotUpsert, gotType string
	var gotBody []byte
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotAuth = r.Header.Get("Authorization")
		gotUpsert = r.Header.Get("x-upsert")
		gotType = r.Header.Get("Content-Type")
		gotBody, _ = io.ReadAll(r.Body)
		w.Write([]byte(`{"Key":"avatars/u1.jpg"}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "service-key")
	url, err := c.Upload(context.Background(), "avatars", "u1.jpg", "image/jpeg", []byte{0xFF, 0xD8})
	if err != nil {
		t.Fatalf("upload: %v", err)
	}

	if gotPath != "/storage/v1/object/avatars/u1.jpg" {
		t.Fatalf("unexpected path %q", gotPath)
	}
	if gotAuth != "Bearer service-key" || gotUpsert != "true" || gotType != "image/jpeg" {
		t.Fatalf("unexpected headers auth=%q upsert=%q type=%q", gotAuth, gotUpsert, gotType)
	}
	if len(gotBody) != 2 {
		t.Fatalf("unexpected body length %d", len(gotBody))
	}
	want := srv.URL + "/storage/v1/object/public/avatars/u1.jpg"
	if url != want {
		t.Fatalf("public url: got %q want %q", url, want)
	}
}

func TestUploadBase64_StripsDataURLPrefix(t *testing.T) {
	var gotBody []byte
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotBody, _ = io.ReadAll(r.Body)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "k")
	raw := []byte("jpeg-bytes")
	b64 := "data:image/jpeg;base64," + base64.StdEncoding.EncodeToString(raw)
	if _, err := c.UploadBase64(context.Background(), "avatars", "a.jpg", "image/jpeg", b64); err != nil {
		t.Fatalf("upload: %v", err)
	}
	if string(gotBody) != "jpeg-bytes" {
		t.Fatalf("unexpected decoded body %q", gotBody)
	}
}

func TestUploadBase64_BadPayload(t *testing.T) {
	c := NewClient("http://127.0.0.1:1", "k")
	if _, err := c.UploadBase64(context.Background(), "avatars", "a.jpg", "image/jpeg", "%%%"); err == nil {
		t.Fatalf("expected decode error")
	}
}

func TestUpload_ErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"message":"bucket not found"}`, http.StatusNotFound)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "k")
	if _, err := c.Upload(context.Background(), "nope", "a.jpg", "image/jpeg", nil); err == nil {
		t.Fatalf("expected error")
	}
}
