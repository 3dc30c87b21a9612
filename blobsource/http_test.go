package blobsource

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestHTTPBlobSourceFetchesFileToDestDir(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("hello chunk"))
	}))
	defer srv.Close()

	s := NewHTTPBlobSource(2 * time.Second)
	destDir := t.TempDir()
	result, reason := s.Fetch(context.Background(), "a.bin", srv.URL, destDir)
	if result != Ok {
		t.Fatalf("expected Ok, got %v (%s)", result, reason)
	}
	data, err := os.ReadFile(filepath.Join(destDir, "a.bin"))
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != "hello chunk" {
		t.Fatalf("unexpected contents: %q", data)
	}
}

func TestHTTPBlobSourceReportsNon200AsFailed(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	s := NewHTTPBlobSource(2 * time.Second)
	destDir := t.TempDir()
	result, _ := s.Fetch(context.Background(), "a.bin", srv.URL, destDir)
	if result != Failed {
		t.Fatalf("expected Failed, got %v", result)
	}
	if _, err := os.Stat(filepath.Join(destDir, "a.bin")); !os.IsNotExist(err) {
		t.Fatal("no file should be left behind on a failed fetch")
	}
}

func TestHTTPBlobSourceHonorsCancellation(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("partial"))
		w.(http.Flusher).Flush()
		<-release
	}))
	defer srv.Close()
	defer close(release)

	s := NewHTTPBlobSource(2 * time.Second)
	destDir := t.TempDir()
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(50 * time.Millisecond)
		cancel()
	}()
	result, _ := s.Fetch(ctx, "a.bin", srv.URL, destDir)
	if result != Cancelled {
		t.Fatalf("expected Cancelled, got %v", result)
	}
	if _, err := os.Stat(filepath.Join(destDir, "a.bin")); !os.IsNotExist(err) {
		t.Fatal("a cancelled fetch must not leave a partial file visible under destDir")
	}
}
