package fetch

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/hupe1980/applyforge/core"
)

var _ core.LinkResolver = (*HTTPResolver)(nil)

// newLoopbackResolver opts out of the private-address guard so tests can
// reach httptest servers on 127.0.0.1.
func newLoopbackResolver(extra ...func(o *Options)) *HTTPResolver {
	fns := append([]func(o *Options){func(o *Options) {
		o.AllowPrivateHosts = true
	}}, extra...)
	return NewHTTPResolver(fns...)
}

func TestFetchSuccess(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("User-Agent"); got != "applyforge/1.0" {
			t.Errorf("unexpected user agent %q", got)
		}
		fmt.Fprint(w, "<html><body>Platform Engineer at Acme</body></html>")
	}))
	defer srv.Close()

	resolver := newLoopbackResolver()
	data, err := resolver.Fetch(context.Background(), srv.URL)
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if !strings.Contains(string(data), "Platform Engineer") {
		t.Fatalf("unexpected body: %q", string(data))
	}
}

func TestFetchErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "gone", http.StatusNotFound)
	}))
	defer srv.Close()

	resolver := newLoopbackResolver()
	_, err := resolver.Fetch(context.Background(), srv.URL)

	var fetchErr *core.FetchError
	if !errors.As(err, &fetchErr) {
		t.Fatalf("expected FetchError, got %v", err)
	}
	if fetchErr.URL != srv.URL {
		t.Fatalf("error must carry the url, got %q", fetchErr.URL)
	}
}

func TestFetchRedirectCap(t *testing.T) {
	var srv *httptest.Server
	srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, srv.URL+r.URL.Path+"x", http.StatusFound)
	}))
	defer srv.Close()

	resolver := newLoopbackResolver(func(o *Options) {
		o.MaxRedirects = 3
	})

	_, err := resolver.Fetch(context.Background(), srv.URL)
	var fetchErr *core.FetchError
	if !errors.As(err, &fetchErr) {
		t.Fatalf("expected FetchError for redirect loop, got %v", err)
	}
}

func TestFetchSizeCap(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, strings.Repeat("x", 4096))
	}))
	defer srv.Close()

	resolver := newLoopbackResolver(func(o *Options) {
		o.MaxBodyBytes = 1024
	})

	_, err := resolver.Fetch(context.Background(), srv.URL)
	var fetchErr *core.FetchError
	if !errors.As(err, &fetchErr) {
		t.Fatalf("expected FetchError for oversized body, got %v", err)
	}
}

func TestFetchSchemeAllowList(t *testing.T) {
	resolver := NewHTTPResolver()

	for _, raw := range []string{"ftp://example.com/file", "file:///etc/passwd", "::bogus::"} {
		_, err := resolver.Fetch(context.Background(), raw)
		var fetchErr *core.FetchError
		if !errors.As(err, &fetchErr) {
			t.Fatalf("url %q: expected FetchError, got %v", raw, err)
		}
	}
}

func TestFetchPrivateAddressGuard(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("guarded resolver must not reach a loopback server")
	}))
	defer srv.Close()

	resolver := NewHTTPResolver()
	_, err := resolver.Fetch(context.Background(), srv.URL)

	var fetchErr *core.FetchError
	if !errors.As(err, &fetchErr) {
		t.Fatalf("expected FetchError for loopback target, got %v", err)
	}
	if !strings.Contains(err.Error(), "private address") {
		t.Fatalf("error should name the refused address, got %v", err)
	}
}

func TestBlockedIP(t *testing.T) {
	tests := []struct {
		addr    string
		blocked bool
	}{
		{"127.0.0.1", true},
		{"10.1.2.3", true},
		{"172.16.0.1", true},
		{"192.168.1.1", true},
		{"169.254.169.254", true},
		{"0.0.0.0", true},
		{"::1", true},
		{"fe80::1", true},
		{"8.8.8.8", false},
		{"93.184.216.34", false},
		{"2606:2800:220:1:248:1893:25c8:1946", false},
	}

	for _, tt := range tests {
		ip := net.ParseIP(tt.addr)
		if ip == nil {
			t.Fatalf("bad test address %q", tt.addr)
		}
		if got := blockedIP(ip); got != tt.blocked {
			t.Errorf("blockedIP(%s) = %v, want %v", tt.addr, got, tt.blocked)
		}
	}
}
