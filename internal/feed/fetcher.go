// Package feed pulls podcast episodes from the RSS feed into the store.
package feed

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/mmcdole/gofeed"

	"github.com/MimeLyc/binky/internal/persistence"
)

// Fetcher returns the remote episode records in feed order.
type Fetcher interface {
	Fetch(ctx context.Context) ([]persistence.EpisodeMetadata, error)
}

const defaultFetchTimeout = 60 * time.Second

// HTTPFetcher downloads and parses an RSS feed over HTTP.
type HTTPFetcher struct {
	mu     sync.RWMutex
	url    string
	since  time.Time
	client *http.Client
}

func NewHTTPFetcher(url string, since time.Time) *HTTPFetcher {
	return &HTTPFetcher{
		url:    url,
		since:  since,
		client: &http.Client{Timeout: defaultFetchTimeout},
	}
}

// SetURL switches the feed for subsequent fetches.
func (f *HTTPFetcher) SetURL(url string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.url = url
}

func (f *HTTPFetcher) URL() string {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.url
}

func (f *HTTPFetcher) Fetch(ctx context.Context) ([]persistence.EpisodeMetadata, error) {
	url := f.URL()
	parser := gofeed.NewParser()
	parser.Client = f.client
	parser.UserAgent = "binky/1.0"

	parsed, err := parser.ParseURLWithContext(url, ctx)
	if err != nil {
		return nil, fmt.Errorf("fetch feed %s: %w", url, err)
	}
	return itemsToMetadata(parsed.Items, f.since), nil
}

// ParseFeed parses an RSS document that is already in memory.
func ParseFeed(r io.Reader, since time.Time) ([]persistence.EpisodeMetadata, error) {
	parsed, err := gofeed.NewParser().Parse(r)
	if err != nil {
		return nil, fmt.Errorf("parse feed: %w", err)
	}
	return itemsToMetadata(parsed.Items, since), nil
}

func itemsToMetadata(items []*gofeed.Item, since time.Time) []persistence.EpisodeMetadata {
	records := make([]persistence.EpisodeMetadata, 0, len(items))
	for _, item := range items {
		meta, ok := itemToMetadata(item, since)
		if !ok {
			continue
		}
		records = append(records, meta)
	}
	return records
}

// itemToMetadata maps one feed item. Items without a title are dropped, as
// are items published before since. Items without a parseable date are kept.
func itemToMetadata(item *gofeed.Item, since time.Time) (persistence.EpisodeMetadata, bool) {
	if item == nil {
		return persistence.EpisodeMetadata{}, false
	}
	title := strings.TrimSpace(item.Title)
	if title == "" {
		return persistence.EpisodeMetadata{}, false
	}

	meta := persistence.EpisodeMetadata{
		Title:       title,
		Description: strings.TrimSpace(item.Description),
	}
	if item.PublishedParsed != nil {
		published := item.PublishedParsed.UTC()
		if !since.IsZero() && published.Before(since) {
			return persistence.EpisodeMetadata{}, false
		}
		meta.PublishDate = published.Format(time.DateOnly)
	}
	for _, enc := range item.Enclosures {
		if enc != nil && enc.URL != "" {
			meta.AudioURL = enc.URL
			break
		}
	}
	if it := item.ITunesExt; it != nil {
		meta.DurationMinutes = ParseDurationMinutes(it.Duration)
		if n, err := strconv.Atoi(strings.TrimSpace(it.Episode)); err == nil {
			meta.EpisodeNumber = &n
		}
		if meta.Description == "" {
			meta.Description = strings.TrimSpace(it.Summary)
		}
	}
	return meta, true
}

// ParseDurationMinutes converts an itunes:duration value ("HH:MM:SS",
// "MM:SS" or plain seconds) into minutes. Anything else yields nil.
func ParseDurationMinutes(raw string) *float64 {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ":")
	nums := make([]float64, len(parts))
	for i, p := range parts {
		v, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
		if err != nil {
			return nil
		}
		nums[i] = v
	}

	var minutes float64
	switch len(nums) {
	case 3:
		minutes = nums[0]*60 + nums[1] + nums[2]/60
	case 2:
		minutes = nums[0] + nums[1]/60
	case 1:
		minutes = nums[0] / 60
	default:
		return nil
	}
	return &minutes
}
