package feed

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"
)

// FetchResult is a fetched page, or a 304 with no body.
type FetchResult struct {
	Body        []byte
	ContentType string
	ETag        string
	NotModified bool
}

// Fetcher downloads public https pages. It resolves hosts itself and refuses
// to connect to private addresses, so DNS rebinding cannot reach internal hosts.
type Fetcher struct {
	client    *http.Client
	userAgent string
	maxBytes  int64
	validate  func(string) error
}

// NewFetcher creates a fetcher with an SSRF-safe transport.
func NewFetcher(timeout time.Duration, userAgent string, maxBytes int64) *Fetcher {
	dialer := &net.Dialer{Timeout: 10 * time.Second, KeepAlive: 30 * time.Second}

	dial := func(ctx context.Context, network, addr string) (net.Conn, error) {
		host, port, err := net.SplitHostPort(addr)
		if err != nil {
			return nil, fmt.Errorf("invalid address: %w", err)
		}
		ips, err := net.DefaultResolver.LookupIPAddr(ctx, host)
		if err != nil {
			return nil, fmt.Errorf("resolve %s: %w", host, err)
		}
		for _, ip := range ips {
			if IsPrivateIP(ip.IP) {
				return nil, fmt.Errorf("%w: %s resolves to private address %s", ErrBlockedURL, host, ip.IP)
			}
		}

		var lastErr error
		for _, ip := range ips {
			conn, err := dialer.DialContext(ctx, network, net.JoinHostPort(ip.IP.String(), port))
			if err == nil {
				return conn, nil
			}
			lastErr = err
		}
		return nil, fmt.Errorf("connect %s: %w", host, lastErr)
	}

	client := &http.Client{
		Timeout: timeout,
		Transport: &http.Transport{
			DialContext:           dial,
			TLSHandshakeTimeout:   10 * time.Second,
			ResponseHeaderTimeout: timeout,
			MaxIdleConns:          10,
			IdleConnTimeout:       90 * time.Second,
		},
	}
	f := newFetcher(client, userAgent, maxBytes, ValidateURL)
	client.CheckRedirect = f.checkRedirect
	return f
}

func newFetcher(client *http.Client, userAgent string, maxBytes int64, validate func(string) error) *Fetcher {
	if maxBytes <= 0 {
		maxBytes = 2 << 20
	}
	return &Fetcher{client: client, userAgent: userAgent, maxBytes: maxBytes, validate: validate}
}

func (f *Fetcher) checkRedirect(req *http.Request, via []*http.Request) error {
	if len(via) >= 5 {
		return fmt.Errorf("too many redirects")
	}
	if err := f.validate(req.URL.String()); err != nil {
		return fmt.Errorf("redirect refused: %w", err)
	}
	return nil
}

// Fetch GETs pageURL. A non-empty etag makes the request conditional.
func (f *Fetcher) Fetch(ctx context.Context, pageURL, etag string) (*FetchResult, error) {
	if err := f.validate(pageURL); err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("User-Agent", f.userAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml;q=0.9,*/*;q=0.5")
	if etag != "" {
		req.Header.Set("If-None-Match", etag)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", pageURL, err)
	}
	defer resp.Body.Close()

	result := &FetchResult{
		ContentType: resp.Header.Get("Content-Type"),
		ETag:        resp.Header.Get("ETag"),
	}
	switch resp.StatusCode {
	case http.StatusNotModified:
		result.NotModified = true
		if result.ETag == "" {
			result.ETag = etag
		}
		return result, nil
	case http.StatusOK:
	default:
		return nil, fmt.Errorf("fetch %s: HTTP %d", pageURL, resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, f.maxBytes+1))
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", pageURL, err)
	}
	if int64(len(body)) > f.maxBytes {
		return nil, fmt.Errorf("fetch %s: page exceeds %d bytes", pageURL, f.maxBytes)
	}
	result.Body = body
	return result, nil
}
