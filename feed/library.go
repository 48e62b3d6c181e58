package feed

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"
)

// Library caches digests for a set of topic URLs and refetches each one at
// most once per refresh interval.
type Library struct {
	fetcher  *Fetcher
	digester *Digester
	refresh  time.Duration
	logger   *slog.Logger
	now      func() time.Time

	mu      sync.RWMutex
	entries map[string]*libraryEntry
}

type libraryEntry struct {
	digest    *Digest
	etag      string
	checkedAt time.Time
}

// NewLibrary creates a library.
func NewLibrary(fetcher *Fetcher, digester *Digester, refresh time.Duration, logger *slog.Logger) *Library {
	if logger == nil {
		logger = slog.Default()
	}
	return &Library{
		fetcher:  fetcher,
		digester: digester,
		refresh:  refresh,
		logger:   logger,
		now:      time.Now,
		entries:  make(map[string]*libraryEntry),
	}
}

// Refresh fetches every URL whose cached digest is older than the refresh
// interval. Failures keep the previous digest and are returned joined.
func (l *Library) Refresh(ctx context.Context, urls []string) error {
	var errs []error
	for _, u := range urls {
		if err := ctx.Err(); err != nil {
			return err
		}

		l.mu.RLock()
		e := l.entries[u]
		l.mu.RUnlock()

		now := l.now()
		if e != nil && now.Sub(e.checkedAt) < l.refresh {
			continue
		}

		etag := ""
		if e != nil && e.digest != nil {
			etag = e.etag
		}

		res, err := l.fetcher.Fetch(ctx, u, etag)
		if err != nil {
			l.logger.Warn("Topic feed fetch failed", "url", u, "error", err)
			errs = append(errs, err)
			l.touch(u, now)
			continue
		}

		if res.NotModified {
			l.touch(u, now)
			continue
		}

		digest, err := l.digester.Digest(u, res.Body)
		if err != nil {
			l.logger.Warn("Topic feed digest failed", "url", u, "error", err)
			errs = append(errs, err)
			l.touch(u, now)
			continue
		}
		digest.FetchedAt = now

		l.mu.Lock()
		l.entries[u] = &libraryEntry{digest: digest, etag: res.ETag, checkedAt: now}
		l.mu.Unlock()

		l.logger.Debug("Topic feed refreshed", "url", u, "title", digest.Title, "chars", len(digest.Markdown))
	}
	return errors.Join(errs...)
}

// touch marks u as checked so a failing URL is not retried every tick.
func (l *Library) touch(u string, at time.Time) {
	l.mu.Lock()
	defer l.mu.Unlock()
	e, ok := l.entries[u]
	if !ok {
		e = &libraryEntry{}
		l.entries[u] = e
	}
	e.checkedAt = at
}

// Digests returns the cached digests for urls in the given order.
func (l *Library) Digests(urls []string) []Digest {
	l.mu.RLock()
	defer l.mu.RUnlock()

	out := make([]Digest, 0, len(urls))
	for _, u := range urls {
		if e, ok := l.entries[u]; ok && e.digest != nil {
			out = append(out, *e.digest)
		}
	}
	return out
}
