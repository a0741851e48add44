package crawler

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestHTTPClientSendsIdentityHeaders(t *testing.T) {
	var got http.Header
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = r.Header.Clone()
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("<html></html>"))
	}))
	defer server.Close()

	client := NewHTTPClient("PerformaBot/1.0 (+https://example.com)", "https://www.covers.com/", 5*time.Second)
	defer client.Close()

	resp, err := client.Get(context.Background(), server.URL)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Errorf("Expected status 200, got %d", resp.StatusCode)
	}

	checks := map[string]string{
		"User-Agent":                "PerformaBot/1.0 (+https://example.com)",
		"Accept":                    "text/html,application/xhtml+xml,application/xml;q=0.9,image/avif,image/webp,*/*;q=0.8",
		"Accept-Language":           "en-US,en;q=0.5",
		"Referer":                   "https://www.covers.com/",
		"Dnt":                       "1",
		"Upgrade-Insecure-Requests": "1",
	}
	for name, want := range checks {
		if v := got.Get(name); v != want {
			t.Errorf("Header %s = %q, want %q", name, v, want)
		}
	}
}

func TestHTTPClientReadsBodyAndMetrics(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		_, _ = w.Write([]byte("<html><body>roster</body></html>"))
	}))
	defer server.Close()

	client := NewHTTPClient("TestBot/1.0", "", 5*time.Second)
	defer client.Close()

	resp, err := client.Get(context.Background(), server.URL)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}

	if string(resp.Body) != "<html><body>roster</body></html>" {
		t.Errorf("Unexpected body: %q", resp.Body)
	}
	if resp.ContentType != "text/html; charset=utf-8" {
		t.Errorf("Unexpected content type: %q", resp.ContentType)
	}
	if resp.Metrics.DownloadTime <= 0 {
		t.Errorf("Expected positive download time, got %v", resp.Metrics.DownloadTime)
	}
}

func TestHTTPClientFollowsRedirects(t *testing.T) {
	var target *httptest.Server
	target = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/old" {
			http.Redirect(w, r, "/new", http.StatusMovedPermanently)
			return
		}
		_, _ = w.Write([]byte("landed"))
	}))
	defer target.Close()

	client := NewHTTPClient("TestBot/1.0", "", 5*time.Second)
	defer client.Close()

	resp, err := client.Get(context.Background(), target.URL+"/old")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if resp.FinalURL != target.URL+"/new" {
		t.Errorf("FinalURL = %s, want %s", resp.FinalURL, target.URL+"/new")
	}
	if string(resp.Body) != "landed" {
		t.Errorf("Unexpected body after redirect: %q", resp.Body)
	}
}

func TestHTTPClientHonorsContextCancellation(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(2 * time.Second)
	}))
	defer server.Close()

	client := NewHTTPClient("TestBot/1.0", "", 5*time.Second)
	defer client.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	if _, err := client.Get(ctx, server.URL); err == nil {
		t.Errorf("Expected error from canceled context")
	}
}
