package transport

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"
)

func TestFetchSendsUserAgentAndHeaders(t *testing.T) {
	t.Parallel()

	var gotAgent, gotAccept string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAgent = r.Header.Get("User-Agent")
		gotAccept = r.Header.Get("Accept")
		_, _ = w.Write([]byte("payload"))
	}))
	defer server.Close()

	c := NewClient(server.Client(), 5*time.Second, 0, "pipeline-test/1.0")

	status, body, err := c.Fetch(context.Background(), server.URL, map[string]string{"Accept": "application/json"})
	if err != nil {
		t.Fatalf("Fetch error: %v", err)
	}
	if status != http.StatusOK {
		t.Fatalf("unexpected status: %d", status)
	}
	if string(body) != "payload" {
		t.Fatalf("unexpected body: %q", body)
	}
	if gotAgent != "pipeline-test/1.0" {
		t.Fatalf("user agent not sent: %q", gotAgent)
	}
	if gotAccept != "application/json" {
		t.Fatalf("extra header not sent: %q", gotAccept)
	}
}

func TestFetchPerHostInterval(t *testing.T) {
	t.Parallel()

	var hits atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
	}))
	defer server.Close()

	interval := 50 * time.Millisecond
	c := NewClient(server.Client(), 5*time.Second, interval, "")

	start := time.Now()
	for i := 0; i < 3; i++ {
		if _, _, err := c.Fetch(context.Background(), server.URL, nil); err != nil {
			t.Fatalf("Fetch %d error: %v", i, err)
		}
	}
	elapsed := time.Since(start)

	if hits.Load() != 3 {
		t.Fatalf("expected 3 requests, got %d", hits.Load())
	}
	// Burst of 1 means requests 2 and 3 each wait one interval.
	if elapsed < 2*interval {
		t.Fatalf("per-host interval not enforced: elapsed %v", elapsed)
	}
}

func TestFetchCanceledContext(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	defer server.Close()

	c := NewClient(server.Client(), 5*time.Second, time.Hour, "")

	// First request consumes the burst token.
	if _, _, err := c.Fetch(context.Background(), server.URL, nil); err != nil {
		t.Fatalf("first Fetch error: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, _, err := c.Fetch(ctx, server.URL, nil); err == nil {
		t.Fatal("expected error waiting on canceled context")
	}
}
