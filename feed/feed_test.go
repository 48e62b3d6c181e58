package feed

import (
	"context"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const articleHTML = `<!DOCTYPE html>
<html><head><title>Tea Ceremony Notes</title></head>
<body>
<nav><a href="/">Home</a> <a href="/about">About</a></nav>
<article>
<h1>Tea Ceremony Notes</h1>
<p>The Japanese tea ceremony is a choreographed ritual of preparing and serving matcha.
It emphasises harmony, respect, purity and tranquility, and every movement is deliberate.</p>
<p>Hosts spend years learning how to fold the silk cloth, whisk the tea and turn the bowl
so that its most beautiful side faces the guest. Guests in turn follow their own etiquette.</p>
<p>Modern tea rooms keep many of these customs while welcoming visitors from abroad who are
curious about the practice and want to experience a quiet afternoon away from the city.</p>
</article>
<footer>Copyright</footer>
</body></html>`

func TestValidateURL(t *testing.T) {
	tests := []struct {
		url     string
		wantErr bool
	}{
		{"https://example.com/topics", false},
		{"https://93.184.216.34/", false},
		{"http://example.com", true},
		{"ftp://example.com", true},
		{"https://localhost/x", true},
		{"https://api.localhost", true},
		{"https://printer.local", true},
		{"https://svc.internal", true},
		{"https://127.0.0.1", true},
		{"https://10.1.2.3", true},
		{"https://192.168.0.10", true},
		{"https://[::1]/", true},
		{"https://", true},
		{"://bad", true},
	}
	for _, tt := range tests {
		t.Run(tt.url, func(t *testing.T) {
			err := ValidateURL(tt.url)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrBlockedURL)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestIsPrivateIP(t *testing.T) {
	private := []string{"10.0.0.1", "172.16.5.4", "192.168.1.1", "127.0.0.1", "169.254.1.1",
		"100.64.0.1", "0.0.0.0", "::1", "fd00::1", "fe80::1", "::ffff:192.168.1.1", "::"}
	public := []string{"8.8.8.8", "1.1.1.1", "172.32.0.1", "2606:4700:4700::1111"}

	for _, s := range private {
		assert.True(t, IsPrivateIP(net.ParseIP(s)), s)
	}
	for _, s := range public {
		assert.False(t, IsPrivateIP(net.ParseIP(s)), s)
	}
	assert.True(t, IsPrivateIP(nil))
}

func allowAll(string) error { return nil }

func TestFetcher_Fetch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "semthink-test", r.Header.Get("User-Agent"))
		switch r.URL.Path {
		case "/page":
			if r.Header.Get("If-None-Match") == `"v1"` {
				w.WriteHeader(http.StatusNotModified)
				return
			}
			w.Header().Set("ETag", `"v1"`)
			w.Header().Set("Content-Type", "text/html")
			_, _ = w.Write([]byte(articleHTML))
		case "/big":
			_, _ = w.Write([]byte(strings.Repeat("x", 100)))
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	f := newFetcher(srv.Client(), "semthink-test", 64<<10, allowAll)
	ctx := context.Background()

	res, err := f.Fetch(ctx, srv.URL+"/page", "")
	require.NoError(t, err)
	assert.Equal(t, `"v1"`, res.ETag)
	assert.Contains(t, string(res.Body), "Tea Ceremony")

	res, err = f.Fetch(ctx, srv.URL+"/page", `"v1"`)
	require.NoError(t, err)
	assert.True(t, res.NotModified)
	assert.Empty(t, res.Body)

	_, err = f.Fetch(ctx, srv.URL+"/missing", "")
	assert.ErrorContains(t, err, "HTTP 404")

	small := newFetcher(srv.Client(), "semthink-test", 10, allowAll)
	_, err = small.Fetch(ctx, srv.URL+"/big", "")
	assert.ErrorContains(t, err, "exceeds")
}

func TestNewFetcher_RejectsLocal(t *testing.T) {
	f := NewFetcher(time.Second, "semthink-test", 0)
	_, err := f.Fetch(context.Background(), "http://127.0.0.1:1/", "")
	assert.ErrorIs(t, err, ErrBlockedURL)
}

func TestDigester(t *testing.T) {
	d := NewDigester(0)
	digest, err := d.Digest("https://example.com/tea", []byte(articleHTML))
	require.NoError(t, err)
	assert.Equal(t, "Tea Ceremony Notes", digest.Title)
	assert.Contains(t, digest.Markdown, "choreographed ritual")

	_, err = d.Digest("https://example.com/empty", []byte("<html><body></body></html>"))
	assert.Error(t, err)
}

func TestDigester_FallsBackToDocumentTitle(t *testing.T) {
	d := NewDigester(0)
	digest, err := d.Digest("https://example.com/x", []byte(`<html><head><title>Short</title></head><body><p>hello</p></body></html>`))
	require.NoError(t, err)
	assert.Equal(t, "Short", digest.Title)
	assert.Contains(t, digest.Markdown, "hello")
}

func TestTruncateRunes(t *testing.T) {
	assert.Equal(t, "short", truncateRunes("short", 10))
	assert.Equal(t, "anything", truncateRunes("anything", 0))

	got := truncateRunes("茶道是一种仪式。茶道是一种仪式。", 5)
	assert.Equal(t, "茶道是一种…", got)
	assert.True(t, utf8.ValidString(got))

	para := strings.Repeat("a", 40) + "\n\n" + strings.Repeat("b", 40)
	assert.Equal(t, strings.Repeat("a", 40)+"…", truncateRunes(para, 45))
}

func TestLibrary_Refresh(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		if r.URL.Path == "/broken" {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		if r.Header.Get("If-None-Match") == `"v1"` {
			w.WriteHeader(http.StatusNotModified)
			return
		}
		w.Header().Set("ETag", `"v1"`)
		_, _ = w.Write([]byte(articleHTML))
	}))
	defer srv.Close()

	lib := NewLibrary(newFetcher(srv.Client(), "semthink-test", 0, allowAll), NewDigester(200), time.Hour, nil)
	now := time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)
	lib.now = func() time.Time { return now }

	good, broken := srv.URL+"/tea", srv.URL+"/broken"
	urls := []string{broken, good}

	err := lib.Refresh(context.Background(), urls)
	assert.ErrorContains(t, err, "HTTP 500")
	digests := lib.Digests(urls)
	require.Len(t, digests, 1)
	assert.Equal(t, good, digests[0].URL)
	assert.LessOrEqual(t, utf8.RuneCountInString(digests[0].Markdown), 201)
	assert.Equal(t, now, digests[0].FetchedAt)
	assert.EqualValues(t, 2, hits.Load())

	// Within the interval nothing is refetched, including the failed URL.
	require.NoError(t, lib.Refresh(context.Background(), urls))
	assert.EqualValues(t, 2, hits.Load())

	// After the interval the good URL revalidates with its ETag and keeps the digest.
	now = now.Add(2 * time.Hour)
	err = lib.Refresh(context.Background(), []string{good})
	require.NoError(t, err)
	assert.EqualValues(t, 3, hits.Load())
	require.Len(t, lib.Digests([]string{good}), 1)
}
