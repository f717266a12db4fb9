// Package fetch implements the core.LinkResolver contract over HTTP. The
// resolver is deliberately conservative: bounded timeout, capped redirects,
// capped response size, an http(s)-only scheme allow-list and a guard
// against dialing private or loopback addresses, since the URLs it follows
// come straight from user input.
package fetch

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"syscall"
	"time"

	"github.com/hupe1980/applyforge/core"
	"github.com/hupe1980/applyforge/logging"
)

// Options configures the HTTP resolver.
type Options struct {
	// Timeout bounds one fetch including redirects.
	Timeout time.Duration

	// MaxRedirects caps the redirect chain length.
	MaxRedirects int

	// MaxBodyBytes caps the response size read into memory.
	MaxBodyBytes int64

	// UserAgent is sent with every request.
	UserAgent string

	// AllowPrivateHosts disables the private-address guard. The guard
	// checks the address actually dialed, after DNS resolution, and
	// refuses loopback, RFC 1918, link-local and unspecified targets.
	AllowPrivateHosts bool

	// HTTPClient overrides the built client (tests).
	HTTPClient *http.Client

	// Logger receives per-fetch diagnostics; defaults to NoOpLogger.
	Logger logging.Logger
}

// HTTPResolver fetches job posting pages. All failures are wrapped in
// *core.FetchError so a run can classify them as upstream failures that
// abort before any session mutation.
type HTTPResolver struct {
	client    *http.Client
	maxBody   int64
	userAgent string
	logger    logging.Logger
}

// NewHTTPResolver creates a resolver with bounded network behavior.
func NewHTTPResolver(optFns ...func(o *Options)) *HTTPResolver {
	opts := Options{
		Timeout:      15 * time.Second,
		MaxRedirects: 5,
		MaxBodyBytes: 2 << 20, // 2 MiB
		UserAgent:    "applyforge/1.0",
		Logger:       logging.NoOpLogger{},
	}

	for _, fn := range optFns {
		fn(&opts)
	}

	client := opts.HTTPClient
	if client == nil {
		// Respects HTTP_PROXY, HTTPS_PROXY and NO_PROXY.
		transport := http.DefaultTransport.(*http.Transport).Clone()
		if !opts.AllowPrivateHosts {
			transport.DialContext = guardedDialContext()
		}
		client = &http.Client{
			Timeout:   opts.Timeout,
			Transport: transport,
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				if len(via) >= opts.MaxRedirects {
					return fmt.Errorf("stopped after %d redirects", opts.MaxRedirects)
				}
				return nil
			},
		}
	}

	return &HTTPResolver{
		client:    client,
		maxBody:   opts.MaxBodyBytes,
		userAgent: opts.UserAgent,
		logger:    opts.Logger,
	}
}

// Fetch implements core.LinkResolver.
func (r *HTTPResolver) Fetch(ctx context.Context, rawURL string) ([]byte, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, &core.FetchError{URL: rawURL, Err: fmt.Errorf("parse url: %w", err)}
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, &core.FetchError{URL: rawURL, Err: fmt.Errorf("unsupported scheme %q", u.Scheme)}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, &core.FetchError{URL: rawURL, Err: err}
	}
	req.Header.Set("User-Agent", r.userAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml,text/plain;q=0.9,*/*;q=0.8")

	start := time.Now()
	resp, err := r.client.Do(req)
	if err != nil {
		return nil, &core.FetchError{URL: rawURL, Err: err}
	}
	defer resp.Body.Close() //nolint:errcheck

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &core.FetchError{URL: rawURL, Err: fmt.Errorf("unexpected status %s", resp.Status)}
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, r.maxBody+1))
	if err != nil {
		return nil, &core.FetchError{URL: rawURL, Err: fmt.Errorf("read body: %w", err)}
	}
	if int64(len(data)) > r.maxBody {
		return nil, &core.FetchError{URL: rawURL, Err: fmt.Errorf("response exceeds %d bytes", r.maxBody)}
	}

	r.logger.Debug("fetched %s: %d bytes in %s", rawURL, len(data), time.Since(start))

	return data, nil
}

// guardedDialContext returns a dial function that refuses private targets.
// The check runs in the dialer's Control hook, so it sees the concrete
// address after DNS resolution and a rebinding hostname cannot slip past.
func guardedDialContext() func(ctx context.Context, network, addr string) (net.Conn, error) {
	dialer := &net.Dialer{
		Timeout:   10 * time.Second,
		KeepAlive: 30 * time.Second,
		Control: func(network, address string, _ syscall.RawConn) error {
			host, _, err := net.SplitHostPort(address)
			if err != nil {
				return err
			}
			ip := net.ParseIP(host)
			if ip == nil {
				return fmt.Errorf("refusing to dial unresolved host %q", host)
			}
			if blockedIP(ip) {
				return fmt.Errorf("refusing to dial private address %s", ip)
			}
			return nil
		},
	}
	return dialer.DialContext
}

func blockedIP(ip net.IP) bool {
	return ip.IsLoopback() ||
		ip.IsPrivate() ||
		ip.IsLinkLocalUnicast() ||
		ip.IsLinkLocalMulticast() ||
		ip.IsUnspecified()
}
